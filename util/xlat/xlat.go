// Package xlat holds small translation tables shared by the punch-card and
// tape utilities. util/card references xlat.ParityTable (the standard
// odd-parity bit for each 6-bit BCD value a card column or tape frame
// carries) but the retrieved source tree never shipped this package
// alongside it; reconstructed here from the parity convention every caller
// site assumes (an OR'd-in 0o100 bit that makes the total bit count odd).
package xlat

// ParityTable maps each 6-bit value (0..63) to 0o100 if that value's bit
// count is even (so OR-ing the table entry in yields odd parity) or 0 if
// the value already has odd parity on its own.
var ParityTable = buildParityTable()

func buildParityTable() [64]byte {
	var t [64]byte
	for v := 0; v < 64; v++ {
		bits := 0
		for b := v; b != 0; b >>= 1 {
			bits += b & 1
		}
		if bits%2 == 0 {
			t[v] = 0o100
		}
	}
	return t
}

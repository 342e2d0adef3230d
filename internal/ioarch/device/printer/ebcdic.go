package printer

import "golang.org/x/text/encoding/charmap"

// ebcdicToASCII is built once from golang.org/x/text's EBCDIC code page
// (037) instead of hand-rolling a 256-entry table the way the teacher's
// model1403 does; code points that do not decode to printable ASCII map
// to '.'.
var ebcdicToASCII = buildEBCDICTable()

func buildEBCDICTable() [256]byte {
	var table [256]byte
	dec := charmap.CodePage037.NewDecoder()
	for i := 0; i < 256; i++ {
		out, err := dec.Bytes([]byte{byte(i)})
		if err != nil || len(out) == 0 {
			table[i] = '.'
			continue
		}
		r := out[0]
		if r < 0x20 || r > 0x7e {
			r = '.'
		}
		table[i] = r
	}
	return table
}

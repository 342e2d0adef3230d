// Endian conversion for the compressed-CKD format, grounded on
// cckddasd.c's cckd_swapend family (and swapgen.c's generated per-struct
// swap routines): a compressed image can be opened on a host whose byte
// order disagrees with the one it was written on, detected from the
// OptBigEndian bit in Header.Options, and the header/directory fields are
// byte-swapped in place before use. Reimplemented here as value-returning
// functions over this port's Header/L2Entry types instead of mutating the
// C structs byte-by-byte through a field-offset table.
package ckd

func swap16(v uint16) uint16 {
	return v<<8 | v>>8
}

func swap32(v uint32) uint32 {
	return (v&0x000000ff)<<24 | (v&0x0000ff00)<<8 | (v&0x00ff0000)>>8 | (v&0xff000000)>>24
}

func swap64(v uint64) uint64 {
	lo := swap32(uint32(v))
	hi := swap32(uint32(v >> 32))
	return uint64(lo)<<32 | uint64(hi)
}

// SwapHeaderEndian reverses the byte order of every multi-byte numeric
// field in h. Applying it twice reproduces the original header
// byte-for-byte — spec §4.9's testable "convert twice, byte-identical"
// property — since every swap* helper is its own inverse.
func SwapHeaderEndian(h Header) Header {
	h.NumGroups = int(swap32(uint32(h.NumGroups)))
	h.TrackSize = int(swap32(uint32(h.TrackSize)))
	h.CylCount = int(swap32(uint32(h.CylCount)))
	h.HeadsPerCyl = int(swap32(uint32(h.HeadsPerCyl)))
	h.FreeTotal = swap64(h.FreeTotal)
	h.FreeLargest = swap64(h.FreeLargest)
	h.FreeCount = swap32(h.FreeCount)
	h.FreeImbed = swap32(h.FreeImbed)
	return h
}

// SwapL2EntryEndian mirrors SwapHeaderEndian for one directory entry.
func SwapL2EntryEndian(e L2Entry) L2Entry {
	e.Offset = swap64(e.Offset)
	e.Len = swap32(e.Len)
	e.Uncomp = swap32(e.Uncomp)
	return e
}

package ckd

import "testing"

func TestSwapHeaderEndianTwiceIsIdentity(t *testing.T) {
	h := Header{
		NumGroups:   7,
		TrackSize:   19069,
		Compression: CompressBzip2,
		CylCount:    3339,
		HeadsPerCyl: 15,
		FreeTotal:   123456789,
		FreeLargest: 65536,
		FreeCount:   42,
		FreeImbed:   7,
	}
	once := SwapHeaderEndian(h)
	if once == h {
		t.Fatalf("SwapHeaderEndian left the header unchanged")
	}
	twice := SwapHeaderEndian(once)
	if twice != h {
		t.Fatalf("SwapHeaderEndian applied twice = %+v, want %+v", twice, h)
	}
}

func TestSwapL2EntryEndianTwiceIsIdentity(t *testing.T) {
	e := L2Entry{Offset: 0x0102030405060708, Len: 0xaabbccdd, Uncomp: 0x11223344, Compress: 1}
	twice := SwapL2EntryEndian(SwapL2EntryEndian(e))
	if twice != e {
		t.Fatalf("SwapL2EntryEndian applied twice = %+v, want %+v", twice, e)
	}
}

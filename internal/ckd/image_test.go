package ckd

import (
	"bytes"
	"testing"
)

// memStore is an in-memory BackingStore for exercising Image without a real
// file; it grows on WriteAt past its current length, like a sparse file.
type memStore struct {
	buf []byte
}

func (m *memStore) ReadAt(p []byte, off int64) (int, error) {
	if int(off)+len(p) > len(m.buf) {
		grown := make([]byte, int(off)+len(p))
		copy(grown, m.buf)
		m.buf = grown
	}
	return copy(p, m.buf[off:int(off)+len(p)]), nil
}

func (m *memStore) WriteAt(p []byte, off int64) (int, error) {
	need := int(off) + len(p)
	if need > len(m.buf) {
		grown := make([]byte, need)
		copy(grown, m.buf)
		m.buf = grown
	}
	return copy(m.buf[off:], p), nil
}

func (m *memStore) Truncate(size int64) error {
	if int(size) < len(m.buf) {
		m.buf = m.buf[:size]
	}
	return nil
}

func TestImageWriteReadTrackRoundTrip(t *testing.T) {
	store := &memStore{}
	h := Header{NumGroups: 4, TrackSize: 512, Compression: CompressNone, CylCount: 10, HeadsPerCyl: 4}
	l1 := make([]uint64, h.NumGroups)
	img, _ := Open(h, store, l1, 0, 8)

	payload := bytes.Repeat([]byte{0x42}, 512)
	img.WriteTrack(5, payload)
	if err := img.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	got, err := img.ReadTrack(5)
	if err != nil {
		t.Fatalf("ReadTrack: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Fatalf("ReadTrack returned %d bytes, want payload match", len(got))
	}
}

func TestImageUnwrittenTrackReadsZero(t *testing.T) {
	store := &memStore{}
	h := Header{NumGroups: 4, TrackSize: 256, Compression: CompressNone}
	img, _ := Open(h, store, make([]uint64, h.NumGroups), 0, 4)

	got, err := img.ReadTrack(3)
	if err != nil {
		t.Fatalf("ReadTrack: %v", err)
	}
	if len(got) != 256 {
		t.Fatalf("len = %d, want 256", len(got))
	}
	for _, b := range got {
		if b != 0 {
			t.Fatalf("unwritten track not zero-filled")
		}
	}
}

func TestImageRewriteGrowthReclaimsOldExtent(t *testing.T) {
	store := &memStore{}
	h := Header{NumGroups: 1, TrackSize: 4096, Compression: CompressNone}
	img, _ := Open(h, store, make([]uint64, h.NumGroups), 0, 4)

	small := bytes.Repeat([]byte{1}, 100)
	img.WriteTrack(10, small)
	if err := img.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	large := bytes.Repeat([]byte{2}, 1500)
	img.WriteTrack(10, large)
	if err := img.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	got, err := img.ReadTrack(10)
	if err != nil {
		t.Fatalf("ReadTrack: %v", err)
	}
	if !bytes.Equal(got, large) {
		t.Fatalf("ReadTrack after growth did not return the rewritten payload")
	}
}

func TestOpenRunsChkdskWhenOpenedBitAlreadySet(t *testing.T) {
	store := &memStore{}
	h := Header{NumGroups: 2, TrackSize: 256, Compression: CompressNone, Options: OptOpened}
	img, problems := Open(h, store, make([]uint64, h.NumGroups), 0, 4)
	if img == nil {
		t.Fatalf("Open returned nil image")
	}
	// An empty, never-written directory is internally consistent, so an
	// unclean-shutdown reopen should run chkdsk without reporting anything.
	if len(problems) != 0 {
		t.Fatalf("Open reported %d problems on a clean empty directory, want 0", len(problems))
	}
	if img.Header.Options&OptOpened == 0 {
		t.Fatalf("Open did not leave the OPENED bit set while the image stays open")
	}
}

func TestCloseClearsOpenedBit(t *testing.T) {
	store := &memStore{}
	h := Header{NumGroups: 1, TrackSize: 256, Compression: CompressNone}
	img, _ := Open(h, store, make([]uint64, h.NumGroups), 0, 4)

	if err := img.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	var hdrBytes [HeaderSize]byte
	if _, err := store.ReadAt(hdrBytes[:], 0); err != nil {
		t.Fatalf("ReadAt header: %v", err)
	}
	got := DecodeHeader(hdrBytes)
	if got.Options&OptOpened != 0 {
		t.Fatalf("Close left the OPENED bit set")
	}
}

func TestHeaderEncodeDecodeRoundTrip(t *testing.T) {
	h := Header{NumGroups: 7, TrackSize: 19069, Compression: CompressBzip2, CylCount: 3339, HeadsPerCyl: 15}
	buf := EncodeHeader(h)
	got := DecodeHeader(buf)
	if got != h {
		t.Fatalf("DecodeHeader = %+v, want %+v", got, h)
	}
}

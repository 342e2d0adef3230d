// Package ckd implements C9: the compressed-CKD disk-image engine backing
// internal/ioarch/device/ckddasd. Not present in the teacher at all (its
// DASD support is entirely absent); grounded on original_source/cckddasd.c
// for the two-level L1/L2 directory idiom (a level-1 table of per-cylinder-
// group offsets into a level-2 table of per-track {offset, length} entries)
// and on the qcow2 Go ports in other_examples/ for how to express that same
// two-level indirection idiomatically in Go (a flat []uint64 L1 plus
// lazily-read L2Table values, instead of C's malloc'd pointer array).
package ckd

import "encoding/binary"

// L2Entry is one track's directory entry: where its compressed image lives
// in the backing file, its compressed length, and its uncompressed length
// (needed to size the inflate buffer without probing the track itself).
// Grounded on cckddasd.c's CCKD_L2ENT fields (pos/len/size).
type L2Entry struct {
	Offset   uint64
	Len      uint32
	Uncomp   uint32
	Compress uint8 // 0=none, 1=zlib, 2=bzip2
}

const l2TableSize = 256 // tracks per cylinder group, matching cckddasd.c's 256-entry L2 table

// L2Table is one cylinder group's directory of track entries.
type L2Table [l2TableSize]L2Entry

// Directory is the full two-level index: L1 holds, per cylinder group, the
// backing-file byte offset of that group's L2Table (0 means "not yet
// allocated", mirrored from cckddasd.c's l1[l1x] == 0 sentinel).
type Directory struct {
	L1 []uint64

	// l2cache holds already-read L2Tables keyed by cylinder-group index,
	// the directory-level half of the cache spec §4.8 describes; the
	// track-data half lives in cache.go.
	l2cache map[int]*L2Table
}

func NewDirectory(numGroups int) *Directory {
	return &Directory{
		L1:      make([]uint64, numGroups),
		l2cache: make(map[int]*L2Table),
	}
}

// TrackLocation resolves a track number to its cylinder-group/slot pair.
func TrackLocation(track int) (group, slot int) {
	return track / l2TableSize, track % l2TableSize
}

// l2EntrySize is the on-disk width of one encoded L2Entry.
const l2EntrySize = 17

// EncodeL2Entry/DecodeL2Entry serialize one directory entry in the file's
// on-disk big-endian layout (spec §4.8's "cross-platform on-disk format"
// requirement; the teacher's C struct was host-endian only).
func EncodeL2Entry(e L2Entry) [l2EntrySize]byte {
	var buf [l2EntrySize]byte
	binary.BigEndian.PutUint64(buf[0:8], e.Offset)
	binary.BigEndian.PutUint32(buf[8:12], e.Len)
	binary.BigEndian.PutUint32(buf[12:16], e.Uncomp)
	buf[16] = e.Compress
	return buf
}

func DecodeL2Entry(buf [l2EntrySize]byte) L2Entry {
	var e L2Entry
	e.Offset = binary.BigEndian.Uint64(buf[0:8])
	e.Len = binary.BigEndian.Uint32(buf[8:12])
	e.Uncomp = binary.BigEndian.Uint32(buf[12:16])
	e.Compress = buf[16]
	return e
}

// Track-image record format: the count-key-data layout every CKD track
// buffer follows once it leaves the compressed engine, independent of
// whether the backing image itself is compressed. Grounded on
// original_source/ckddasd.c's CKDDASD_RECHDR/CKDDASD_TRKHDR comments (the
// 8-byte count field cchh+r+klen+dlen, followed by key then data, repeated
// until an all-0xFF count field marks end of track).
package ckd

import "encoding/binary"

const recHdrSize = 8

// EndOfTrack is the sentinel count-field value terminating a track's record
// list.
var EndOfTrack = [recHdrSize]byte{0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff}

// Record is one CKD record's header fields plus its key/data payload.
type Record struct {
	Cyl, Head uint16
	RecNum    uint8
	Key       []byte
	Data      []byte
}

// ParseTrack decodes a decompressed track buffer into its ordered records,
// stopping at the end-of-track marker or a malformed header.
func ParseTrack(buf []byte) []Record {
	var recs []Record
	off := 0
	for off+recHdrSize <= len(buf) {
		var hdr [recHdrSize]byte
		copy(hdr[:], buf[off:off+recHdrSize])
		if hdr == EndOfTrack {
			break
		}
		cyl := binary.BigEndian.Uint16(hdr[0:2])
		head := binary.BigEndian.Uint16(hdr[2:4])
		recNum := hdr[4]
		klen := int(hdr[5])
		dlen := int(binary.BigEndian.Uint16(hdr[6:8]))
		off += recHdrSize

		if off+klen+dlen > len(buf) {
			break
		}
		key := append([]byte(nil), buf[off:off+klen]...)
		off += klen
		data := append([]byte(nil), buf[off:off+dlen]...)
		off += dlen

		recs = append(recs, Record{Cyl: cyl, Head: head, RecNum: recNum, Key: key, Data: data})
	}
	return recs
}

// BuildTrack encodes an ordered record list back into a track buffer sized
// to trackSize, padding the remainder with the end-of-track marker.
func BuildTrack(recs []Record, trackSize int) []byte {
	buf := make([]byte, 0, trackSize)
	for _, r := range recs {
		var hdr [recHdrSize]byte
		binary.BigEndian.PutUint16(hdr[0:2], r.Cyl)
		binary.BigEndian.PutUint16(hdr[2:4], r.Head)
		hdr[4] = r.RecNum
		hdr[5] = uint8(len(r.Key))
		binary.BigEndian.PutUint16(hdr[6:8], uint16(len(r.Data)))
		buf = append(buf, hdr[:]...)
		buf = append(buf, r.Key...)
		buf = append(buf, r.Data...)
	}
	for len(buf) < trackSize {
		buf = append(buf, EndOfTrack[:]...)
	}
	return buf[:trackSize]
}

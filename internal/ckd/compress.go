// Track (de)compression. Grounded on cckddasd.c's CCKD_COMPRESS_NONE/ZLIB/
// BZIP2 tag byte in every track image; zlib comes from the standard
// library (the format the teacher's own wider ecosystem assumes is always
// available) while bzip2 encoding uses github.com/dsnet/compress/bzip2,
// since compress/bzip2 in the standard library is decode-only and a real
// compressed-CKD writer needs to produce bzip2 tracks too.
package ckd

import (
	"bytes"
	"compress/zlib"
	"fmt"
	"io"

	"github.com/dsnet/compress/bzip2"
)

const (
	CompressNone  uint8 = 0
	CompressZlib  uint8 = 1
	CompressBzip2 uint8 = 2
)

// CompressTrack compresses raw track data with the given method, returning
// the encoded bytes to write at the track's L2Entry.Offset.
func CompressTrack(method uint8, raw []byte) ([]byte, error) {
	switch method {
	case CompressNone:
		return raw, nil
	case CompressZlib:
		var buf bytes.Buffer
		w := zlib.NewWriter(&buf)
		if _, err := w.Write(raw); err != nil {
			return nil, err
		}
		if err := w.Close(); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	case CompressBzip2:
		var buf bytes.Buffer
		w, err := bzip2.NewWriter(&buf, &bzip2.WriterConfig{Level: 6})
		if err != nil {
			return nil, err
		}
		if _, err := w.Write(raw); err != nil {
			return nil, err
		}
		if err := w.Close(); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	default:
		return nil, fmt.Errorf("ckd: unknown compression method %d", method)
	}
}

// DecompressTrack inflates a stored track image back to its raw form,
// uncompLen byte.
func DecompressTrack(method uint8, data []byte, uncompLen int) ([]byte, error) {
	switch method {
	case CompressNone:
		return data, nil
	case CompressZlib:
		r, err := zlib.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, err
		}
		defer r.Close()
		out := make([]byte, uncompLen)
		if _, err := io.ReadFull(r, out); err != nil && err != io.ErrUnexpectedEOF {
			return nil, err
		}
		return out, nil
	case CompressBzip2:
		r, err := bzip2.NewReader(bytes.NewReader(data), nil)
		if err != nil {
			return nil, err
		}
		defer r.Close()
		out := make([]byte, uncompLen)
		if _, err := io.ReadFull(r, out); err != nil && err != io.ErrUnexpectedEOF {
			return nil, err
		}
		return out, nil
	default:
		return nil, fmt.Errorf("ckd: unknown compression method %d", method)
	}
}

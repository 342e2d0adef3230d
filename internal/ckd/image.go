// Image is the compressed-CKD engine's top-level handle: one open backing
// file plus its directory, free-space allocator, and track cache. Grounded
// on cckddasd.c's overall device-open sequence (read device header, read
// L1 table, defer L2 tables until first touched) and on the qcow2 Go
// ports' single top-level "driver" type that owns the analogous pieces.
package ckd

import (
	"fmt"
	"time"
)

// Header is the compressed-CKD file header (spec §4.8/§4.9), a reduced
// form of cckddasd.c's CCKD_DEVHDR carrying the fields spec §3/§6 actually
// require a reader persist: the OPENED/endian/no-fudge option bits, the
// free-space accounting quartet (free_total/free_largest/free_count/
// free_imbed), and compress_parm, on top of the original layout/cache
// fields this port already had.
type Header struct {
	NumGroups   int
	TrackSize   int
	Compression uint8
	CylCount    int
	HeadsPerCyl int

	Options      uint8
	FreeTotal    uint64
	FreeLargest  uint64
	FreeCount    uint32
	FreeImbed    uint32
	CompressParm uint8
}

// Option bits stored in Header.Options, mirroring CCKD_OPENED/
// CCKD_BIGEND/CCKD_NOFUDGE in cckddasd.c.
const (
	OptOpened   uint8 = 0x01 // set while the file is open; a set bit found at Open means an unclean shutdown
	OptBigEndian uint8 = 0x02
	OptNoFudge  uint8 = 0x04
)

const headerSize = 48

// HeaderSize is the on-disk width of Header, exported so callers that lay
// out the rest of the file (L1 table, first L2 table, first track) after
// the header know where it ends without duplicating the constant.
const HeaderSize = headerSize

func EncodeHeader(h Header) [headerSize]byte {
	var buf [headerSize]byte
	putU32(buf[0:4], uint32(h.NumGroups))
	putU32(buf[4:8], uint32(h.TrackSize))
	buf[8] = h.Compression
	putU32(buf[9:13], uint32(h.CylCount))
	putU32(buf[13:17], uint32(h.HeadsPerCyl))
	buf[17] = h.Options
	putU64(buf[18:26], h.FreeTotal)
	putU64(buf[26:34], h.FreeLargest)
	putU32(buf[34:38], h.FreeCount)
	putU32(buf[38:42], h.FreeImbed)
	buf[42] = h.CompressParm
	return buf
}

func DecodeHeader(buf [headerSize]byte) Header {
	return Header{
		NumGroups:    int(getU32(buf[0:4])),
		TrackSize:    int(getU32(buf[4:8])),
		Compression:  buf[8],
		CylCount:     int(getU32(buf[9:13])),
		HeadsPerCyl:  int(getU32(buf[13:17])),
		Options:      buf[17],
		FreeTotal:    getU64(buf[18:26]),
		FreeLargest:  getU64(buf[26:34]),
		FreeCount:    getU32(buf[34:38]),
		FreeImbed:    getU32(buf[38:42]),
		CompressParm: buf[42],
	}
}

func putU64(b []byte, v uint64) {
	for i := 0; i < 8; i++ {
		b[i] = byte(v >> uint(56-8*i))
	}
}

func getU64(b []byte) uint64 {
	var v uint64
	for i := 0; i < 8; i++ {
		v = v<<8 | uint64(b[i])
	}
	return v
}

func putU32(b []byte, v uint32) {
	b[0] = byte(v >> 24)
	b[1] = byte(v >> 16)
	b[2] = byte(v >> 8)
	b[3] = byte(v)
}

func getU32(b []byte) uint32 {
	return uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
}

// Image ties the directory, free-space map, cache, and GC together behind
// a track-number-addressed API (internal/ioarch/device/ckddasd talks to
// this, never to the sub-packages directly).
type Image struct {
	Header Header
	Store  BackingStore

	dir  *Directory
	free *FreeSpace
	gc   *GC
	cache *Cache

	fileSize int64

	gcStop chan struct{}
	gcDone chan struct{}
}

// Open constructs an Image over an already-positioned BackingStore holding
// header, L1 table, and any existing L2 tables/tracks — the caller
// (cmd/s370e's openCKDImage) owns actually opening the OS file and reading
// the header/L1 bytes into Header/l1Raw before calling Open. If h's OPENED
// bit is already set, the file was not closed cleanly last time (spec
// §4.9's chkdsk-on-open trigger); Open runs chkdsk itself and returns
// whatever Problems it finds for the caller to log, rather than silently
// trusting a directory an unclean shutdown may have left inconsistent.
func Open(h Header, store BackingStore, l1 []uint64, fileSize int64, cacheTracks int) (*Image, []Problem) {
	wasDirty := h.Options&OptOpened != 0
	h.Options |= OptOpened

	img := &Image{
		Header:   h,
		Store:    store,
		dir:      &Directory{L1: l1, l2cache: make(map[int]*L2Table)},
		free:     NewFreeSpace(uint64(fileSize)),
		fileSize: fileSize,
	}
	img.gc = NewGC(img.dir, img.free, store)
	img.cache = NewCache(cacheTracks, img.loadTrack, img.flushTrack)
	img.persistHeader()

	if !wasDirty {
		return img, nil
	}
	if err := img.loadAllGroups(); err != nil {
		return img, nil
	}
	return img, Check(img.dir, img.fileSize)
}

// ReadTrack returns a track's decompressed image, either from cache or by
// reading and inflating it from the backing file.
func (img *Image) ReadTrack(track int) ([]byte, error) {
	return img.cache.Get(track)
}

// WriteTrack stores a new track image in cache; it reaches the backing
// file on the next Flush (or cache eviction), matching spec §4.8's
// deferred-write model.
func (img *Image) WriteTrack(track int, data []byte) {
	img.cache.Put(track, data)
}

// Flush drains the deferred-write queue.
func (img *Image) Flush() error { return img.cache.Flush() }

func (img *Image) loadTrack(track int) ([]byte, error) {
	group, slot := TrackLocation(track)
	l2, err := img.loadL2(group)
	if err != nil {
		return nil, err
	}
	entry := l2[slot]
	if entry.Len == 0 {
		return make([]byte, img.Header.TrackSize), nil // never-written track reads as zeros
	}
	raw := make([]byte, entry.Len)
	if _, err := img.Store.ReadAt(raw, int64(entry.Offset)); err != nil {
		return nil, err
	}
	return DecompressTrack(entry.Compress, raw, int(entry.Uncomp))
}

func (img *Image) flushTrack(track int, data []byte) error {
	group, slot := TrackLocation(track)
	l2, err := img.loadL2(group)
	if err != nil {
		return err
	}

	compressed, err := CompressTrack(img.Header.Compression, data)
	if err != nil {
		return err
	}

	old := l2[slot]
	if old.Len > 0 {
		img.free.Add(old.Offset, uint64(old.Len))
	}

	if img.dir.L1[group] == 0 {
		img.dir.L1[group] = img.free.Alloc(uint64(l2TableSize * l2EntrySize))
	}
	offset := img.free.Alloc(uint64(len(compressed)))
	if _, err := img.Store.WriteAt(compressed, int64(offset)); err != nil {
		return err
	}

	l2[slot] = L2Entry{
		Offset:   offset,
		Len:      uint32(len(compressed)),
		Uncomp:   uint32(len(data)),
		Compress: img.Header.Compression,
	}
	img.dir.l2cache[group] = l2
	return img.writeL2(group, l2)
}

func (img *Image) loadL2(group int) (*L2Table, error) {
	if l2, ok := img.dir.l2cache[group]; ok {
		return l2, nil
	}
	if group >= len(img.dir.L1) {
		return nil, fmt.Errorf("ckd: cylinder group %d out of range", group)
	}
	offset := img.dir.L1[group]
	l2 := &L2Table{}
	if offset != 0 {
		buf := make([]byte, l2TableSize*l2EntrySize)
		if _, err := img.Store.ReadAt(buf, int64(offset)); err != nil {
			return nil, err
		}
		for i := 0; i < l2TableSize; i++ {
			var entryBuf [l2EntrySize]byte
			copy(entryBuf[:], buf[i*l2EntrySize:(i+1)*l2EntrySize])
			l2[i] = DecodeL2Entry(entryBuf)
		}
	}
	img.dir.l2cache[group] = l2
	return l2, nil
}

func (img *Image) writeL2(group int, l2 *L2Table) error {
	offset := img.dir.L1[group]
	if offset == 0 {
		offset = img.free.Alloc(uint64(l2TableSize * l2EntrySize))
		img.dir.L1[group] = offset
	}
	buf := make([]byte, l2TableSize*l2EntrySize)
	for i, e := range l2 {
		entryBuf := EncodeL2Entry(e)
		copy(buf[i*l2EntrySize:(i+1)*l2EntrySize], entryBuf[:])
	}
	_, err := img.Store.WriteAt(buf, int64(offset))
	return err
}

// GC exposes the image's garbage collector; the console's gc command runs
// its pass through Compact rather than through this accessor.
func (img *Image) GC() *GC { return img.gc }

// loadAllGroups ensures every cylinder group's L2 table is cached, the
// prerequisite both Check and the background collector need to see the
// whole directory instead of only whatever normal I/O has already touched.
func (img *Image) loadAllGroups() error {
	for group := range img.dir.L1 {
		if _, err := img.loadL2(group); err != nil {
			return err
		}
	}
	return nil
}

// Check runs chkdsk over every cylinder group, loading each group's L2
// table first so Check can see live data instead of only what's already
// cached.
func (img *Image) Check() ([]Problem, error) {
	if err := img.loadAllGroups(); err != nil {
		return nil, err
	}
	return Check(img.dir, img.fileSize), nil
}

// persistHeader writes the live header (including the free-space
// accounting fields syncFreeStats just refreshed) back to the start of the
// backing file. Best-effort: a write failure here does not fail whatever
// operation triggered it, matching cckd_gcol's own "log and keep going"
// treatment of header I/O.
func (img *Image) persistHeader() error {
	buf := EncodeHeader(img.Header)
	_, err := img.Store.WriteAt(buf[:], 0)
	return err
}

// syncFreeStats refreshes the header's free-space accounting fields from
// the live allocator, the bookkeeping spec §8's free-space invariants
// require stay in sync with FreeSpace's own view.
func (img *Image) syncFreeStats() {
	img.Header.FreeTotal = img.free.Total()
	img.Header.FreeLargest = img.free.Largest()
	img.Header.FreeCount = uint32(img.free.Count())
}

// StartGC launches the background garbage-collection goroutine spec §4.9
// requires: one per open image, re-selecting combine or percolate every
// pass from the current heat class and trimming trailing free space
// first, mirroring cckd_gcol's dedicated GC thread. Safe to call at most
// once between StopGC calls.
func (img *Image) StartGC() {
	img.gcStop = make(chan struct{})
	img.gcDone = make(chan struct{})
	go img.gcLoop()
}

// StopGC ends the background goroutine started by StartGC, blocking until
// it has exited. A no-op if GC was never started.
func (img *Image) StopGC() {
	if img.gcStop == nil {
		return
	}
	close(img.gcStop)
	<-img.gcDone
	img.gcStop = nil
}

func (img *Image) gcLoop() {
	defer close(img.gcDone)
	for {
		img.Compact()
		class := ClassFor(img.free.Total(), uint64(img.fileSize))
		select {
		case <-img.gcStop:
			return
		case <-time.After(DefaultTable[class].Interval):
		}
	}
}

// Compact runs one collection pass: trim first (cckd_gc_combine's own
// "while free_imbed*2 > free_total, trim" precondition, simplified here to
// an unconditional trim-then-reassess since this port tracks free_imbed
// only for header persistence, not as a combine gate), then whichever
// algorithm the current heat class selects. The background loop calls this
// on its own schedule; an operator can also trigger one pass directly
// (internal/console's "gc" command), matching cckd_gcol's own manual-kick
// entry point for a forced collection.
func (img *Image) Compact() {
	if err := img.gc.Trim(img.fileSize); err == nil {
		img.fileSize = int64(img.free.End())
	}
	if err := img.loadAllGroups(); err != nil {
		return
	}

	class := ClassFor(img.free.Total(), uint64(img.fileSize))
	policy := DefaultTable[class]
	switch policy.Algorithm {
	case AlgCombine:
		img.gc.Combine(policy.Iterations)
	default:
		for i := 0; i < policy.Iterations; i++ {
			ok, err := img.gc.PercolateNext()
			if err != nil || !ok {
				break
			}
		}
	}

	img.syncFreeStats()
	img.Header.FreeImbed = 0
	img.persistHeader()
}

// Close stops any background GC, flushes pending writes, clears the
// OPENED bit, and persists the final header — the clean-shutdown
// counterpart to Open's dirty-bit check.
func (img *Image) Close() error {
	img.StopGC()
	if err := img.Flush(); err != nil {
		return err
	}
	img.syncFreeStats()
	img.Header.Options &^= OptOpened
	return img.persistHeader()
}

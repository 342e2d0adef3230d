// Free-space allocator for the compressed-CKD backing file, grounded on
// cckddasd.c's cckd_get_space/cckd_rel_space free-chain walk, reimplemented
// over a github.com/google/btree ordered index (by offset) instead of the
// C code's intrusive linked list threaded through the free blocks
// themselves — the file is accessed through ReadAt/WriteAt in Go, not
// pointer-addressable, so the index has to live in a side structure.
package ckd

import "github.com/google/btree"

// freeExtent is one free region in the backing file: [Offset, Offset+Size).
type freeExtent struct {
	Offset uint64
	Size   uint64
}

func (a freeExtent) Less(than btree.Item) bool {
	return a.Offset < than.(freeExtent).Offset
}

// FreeSpace tracks free extents in the backing file ordered by offset, so
// adjacent-extent coalescing (spec §4.8 "combine") is a pair of neighbor
// lookups instead of a full scan.
type FreeSpace struct {
	tree *btree.BTree
	end  uint64 // current end-of-file; new allocations beyond every free extent grow here
}

func NewFreeSpace(fileSize uint64) *FreeSpace {
	return &FreeSpace{tree: btree.New(32), end: fileSize}
}

// Add records a newly-freed extent and coalesces it with any abutting
// neighbor, mirroring cckd_rel_space's merge-with-adjacent-free-block step.
func (f *FreeSpace) Add(offset, size uint64) {
	merged := freeExtent{Offset: offset, Size: size}

	// Merge with a free extent ending exactly at merged.Offset.
	f.tree.DescendLessOrEqual(freeExtent{Offset: merged.Offset}, func(item btree.Item) bool {
		e := item.(freeExtent)
		if e.Offset+e.Size == merged.Offset {
			f.tree.Delete(e)
			merged.Offset = e.Offset
			merged.Size += e.Size
		}
		return false
	})

	// Merge with a free extent starting exactly at merged end.
	if next, ok := f.tree.Get(freeExtent{Offset: merged.Offset + merged.Size}).(freeExtent); ok {
		f.tree.Delete(next)
		merged.Size += next.Size
	}

	if merged.Offset+merged.Size >= f.end {
		f.end = merged.Offset
		return
	}
	f.tree.ReplaceOrInsert(merged)
}

// Alloc finds (first-fit) a free extent of at least size bytes, splitting
// off any remainder; if none fits, it grows the file by returning an
// offset at the current end, matching cckd_get_space's "extend file" path.
func (f *FreeSpace) Alloc(size uint64) uint64 {
	var found *freeExtent
	f.tree.Ascend(func(item btree.Item) bool {
		e := item.(freeExtent)
		if e.Size >= size {
			found = &e
			return false
		}
		return true
	})
	if found == nil {
		offset := f.end
		f.end += size
		return offset
	}
	f.tree.Delete(*found)
	if remaining := found.Size - size; remaining > 0 {
		f.tree.ReplaceOrInsert(freeExtent{Offset: found.Offset + size, Size: remaining})
	}
	return found.Offset
}

// End reports the current logical end-of-file.
func (f *FreeSpace) End() uint64 { return f.end }

// First returns the free extent with the smallest offset, the neighbor
// Combine's free-chain scan starts from (cckd_gc_combine walks the free
// chain from cdevhdr.free, which is kept in ascending-offset order).
func (f *FreeSpace) First() (offset, size uint64, ok bool) {
	var found *freeExtent
	f.tree.Ascend(func(item btree.Item) bool {
		e := item.(freeExtent)
		found = &e
		return false
	})
	if found == nil {
		return 0, 0, false
	}
	return found.Offset, found.Size, true
}

// Total sums every free extent's size, the free_total header field spec
// §4.9's heat-class decision and free-space-accounting invariants need.
func (f *FreeSpace) Total() uint64 {
	var total uint64
	f.tree.Ascend(func(item btree.Item) bool {
		total += item.(freeExtent).Size
		return true
	})
	return total
}

// Largest reports the biggest single free extent (free_largest).
func (f *FreeSpace) Largest() uint64 {
	var largest uint64
	f.tree.Ascend(func(item btree.Item) bool {
		if s := item.(freeExtent).Size; s > largest {
			largest = s
		}
		return true
	})
	return largest
}

// Count reports the number of distinct free extents (free_count).
func (f *FreeSpace) Count() int { return f.tree.Len() }

// chkdsk validates a compressed-CKD directory against its backing file's
// actual size: every allocated L2 entry must land inside the file and not
// overlap another entry. Grounded on cckddasd.c's cckd_chkdsk pass (invoked
// at open time when the "OPENED" bit in the compressed device header is
// still set from an unclean shutdown).
package ckd

import (
	"fmt"
	"sort"
)

// Problem is one inconsistency chkdsk found.
type Problem struct {
	Group, Slot int
	Reason      string
}

// Check walks every allocated directory entry, verifying it fits within
// fileSize and that no two entries overlap.
func Check(dir *Directory, fileSize int64) []Problem {
	var problems []Problem

	type span struct {
		start, end int64
		group, slot int
	}
	var spans []span

	for group, l2offset := range dir.L1 {
		if l2offset == 0 {
			continue
		}
		l2, ok := dir.l2cache[group]
		if !ok {
			continue // not loaded; nothing to check without a reader, caller loads first
		}
		for slot, e := range l2 {
			if e.Len == 0 {
				continue
			}
			start := int64(e.Offset)
			end := start + int64(e.Len)
			if start < 0 || end > fileSize {
				problems = append(problems, Problem{
					Group: group, Slot: slot,
					Reason: fmt.Sprintf("track extent [%d,%d) exceeds file size %d", start, end, fileSize),
				})
				continue
			}
			spans = append(spans, span{start: start, end: end, group: group, slot: slot})
		}
	}

	sort.Slice(spans, func(i, j int) bool { return spans[i].start < spans[j].start })
	for i := 1; i < len(spans); i++ {
		if spans[i].start < spans[i-1].end {
			problems = append(problems, Problem{
				Group: spans[i].group, Slot: spans[i].slot,
				Reason: fmt.Sprintf("overlaps track at group %d slot %d", spans[i-1].group, spans[i-1].slot),
			})
		}
	}

	return problems
}

package exam

import "sort"

// Sequence puts blocks into reading order and assigns OrderIndex as the
// 0-based position in the result. Ordering is page ascending, then top
// coordinate ascending; ties keep their extraction order. The input slice
// is not modified.
func Sequence(blocks []ContentBlock) []ContentBlock {
	out := make([]ContentBlock, len(blocks))
	copy(out, blocks)

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].PageNumber != out[j].PageNumber {
			return out[i].PageNumber < out[j].PageNumber
		}
		return out[i].BBox.Top() < out[j].BBox.Top()
	})

	for i := range out {
		out[i].OrderIndex = i
	}
	return out
}

// EnsureOrdered checks that OrderIndex is strictly increasing. If it is not,
// it returns a copy stably re-sorted by OrderIndex and corrected = true.
// Indices are never rewritten: they identify fragments.
func EnsureOrdered(blocks []ContentBlock) (ordered []ContentBlock, corrected bool) {
	for i := 1; i < len(blocks); i++ {
		if blocks[i].OrderIndex <= blocks[i-1].OrderIndex {
			corrected = true
			break
		}
	}
	if !corrected {
		return blocks, false
	}

	out := make([]ContentBlock, len(blocks))
	copy(out, blocks)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].OrderIndex < out[j].OrderIndex
	})
	return out, true
}

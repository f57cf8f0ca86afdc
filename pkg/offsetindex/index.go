// Package offsetindex maps a global ancillary position to the data file
// that owns it.
//
// The index stores one cumulative end offset per file, in file order. File f
// owns the half-open range [End(f-1), End(f)). Files that own nothing have an
// end equal to their predecessor's and are never returned by Lookup.
package offsetindex

import (
	"errors"
	"fmt"
	"sort"
)

// ErrOutOfRange is returned for positions outside every file.
var ErrOutOfRange = errors.New("position outside offset index")

// Index is an ordered sequence of cumulative per-file end offsets.
type Index struct {
	ends []int64
}

// FromCounts builds an index from per-file counts in file order.
func FromCounts(counts []int) (*Index, error) {
	ends := make([]int64, len(counts))
	var total int64
	for i, c := range counts {
		if c < 0 {
			return nil, fmt.Errorf("file %d has negative count %d", i, c)
		}
		total += int64(c)
		ends[i] = total
	}
	return &Index{ends: ends}, nil
}

// FromEnds builds an index from cumulative end offsets. The ends must be
// monotonically non-decreasing.
func FromEnds(ends []int64) (*Index, error) {
	for i := 1; i < len(ends); i++ {
		if ends[i] < ends[i-1] {
			return nil, fmt.Errorf("end offset %d of file %d is below %d of file %d",
				ends[i], i, ends[i-1], i-1)
		}
	}
	if len(ends) > 0 && ends[0] < 0 {
		return nil, fmt.Errorf("negative end offset %d", ends[0])
	}
	cp := make([]int64, len(ends))
	copy(cp, ends)
	return &Index{ends: cp}, nil
}

// Single returns the index of a one-file collection holding n positions.
func Single(n int) *Index {
	return &Index{ends: []int64{int64(n)}}
}

// Lookup returns the first file whose cumulative end exceeds pos.
func (ix *Index) Lookup(pos int64) (int, error) {
	if pos < 0 || len(ix.ends) == 0 || pos >= ix.ends[len(ix.ends)-1] {
		return 0, fmt.Errorf("%w: %d", ErrOutOfRange, pos)
	}
	return sort.Search(len(ix.ends), func(i int) bool {
		return ix.ends[i] > pos
	}), nil
}

// Len returns the number of files.
func (ix *Index) Len() int {
	return len(ix.ends)
}

// Total returns the number of positions covered.
func (ix *Index) Total() int64 {
	if len(ix.ends) == 0 {
		return 0
	}
	return ix.ends[len(ix.ends)-1]
}

// Start returns the first position owned by file f.
func (ix *Index) Start(f int) int64 {
	if f == 0 {
		return 0
	}
	return ix.ends[f-1]
}

// End returns the cumulative end offset of file f.
func (ix *Index) End(f int) int64 {
	return ix.ends[f]
}

// Count returns the number of positions owned by file f.
func (ix *Index) Count(f int) int64 {
	return ix.End(f) - ix.Start(f)
}

// Ends returns a copy of the cumulative end offsets.
func (ix *Index) Ends() []int64 {
	out := make([]int64, len(ix.ends))
	copy(out, ix.ends)
	return out
}

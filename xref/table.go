package xref

import (
	"sort"

	"github.com/bits-and-blooms/bitset"
)

// Table is the merged view of every cross-reference section of a file,
// newest section winning for each object number.
type Table struct {
	entries  map[uint32]Entry
	sections []int64
	trailer  Trailer
	repaired bool
}

func newTable() *Table { return &Table{entries: make(map[uint32]Entry)} }

// Lookup returns the entry for num, free entries included.
func (t *Table) Lookup(num uint32) (Entry, bool) {
	e, ok := t.entries[num]
	return e, ok
}

// Objects lists the in-use and compressed object numbers in ascending order.
func (t *Table) Objects() []uint32 {
	out := make([]uint32, 0, len(t.entries))
	for num, e := range t.entries {
		if e.Kind != Free {
			out = append(out, num)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Entries returns every entry sorted by object number.
func (t *Table) Entries() []Entry {
	out := make([]Entry, 0, len(t.entries))
	for _, e := range t.entries {
		out = append(out, e)
	}
	return SortEntries(out)
}

// Live returns the set of object numbers that resolve to an object.
func (t *Table) Live() *bitset.BitSet {
	live := bitset.New(uint(t.Size()))
	for num, e := range t.entries {
		if e.Kind != Free {
			live.Set(uint(num))
		}
	}
	return live
}

// Sections lists section offsets, newest first.
func (t *Table) Sections() []int64 { return append([]int64(nil), t.sections...) }

func (t *Table) Trailer() Trailer { return t.trailer }

// Repaired reports whether the table was rebuilt by scanning the file.
func (t *Table) Repaired() bool { return t.repaired }

// Size is the larger of the trailer /Size and one past the highest entry.
func (t *Table) Size() uint32 {
	size := t.trailer.Size
	for num := range t.entries {
		if num+1 > size {
			size = num + 1
		}
	}
	return size
}

// merge adds entries that no newer section has defined.
func (t *Table) merge(section map[uint32]Entry) {
	for num, e := range section {
		if _, seen := t.entries[num]; !seen {
			t.entries[num] = e
		}
	}
}

// NewTable builds a table from explicit entries, mostly for tests and for
// documents created in memory.
func NewTable(entries []Entry, trailer Trailer) *Table {
	t := newTable()
	for _, e := range entries {
		t.entries[e.Num] = e
	}
	t.trailer = trailer
	return t
}

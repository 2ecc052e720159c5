package xref

import (
	"fmt"
	"sort"
)

// Kind is the state of a cross-reference entry.
type Kind uint8

const (
	Free Kind = iota
	InUse
	Compressed
)

func (k Kind) String() string {
	switch k {
	case Free:
		return "free"
	case InUse:
		return "in-use"
	case Compressed:
		return "compressed"
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// MaxGeneration is the generation of entry 0 and of retired numbers.
const MaxGeneration = 65535

// Entry locates one object number. Offset is used by InUse entries,
// Container and Index by Compressed entries and NextFree by Free entries.
type Entry struct {
	Num       uint32
	Gen       uint16
	Kind      Kind
	Offset    int64
	Container uint32
	Index     uint32
	NextFree  uint32
}

func InUseEntry(num uint32, gen uint16, offset int64) Entry {
	return Entry{Num: num, Gen: gen, Kind: InUse, Offset: offset}
}

func CompressedEntry(num, container, index uint32) Entry {
	return Entry{Num: num, Kind: Compressed, Container: container, Index: index}
}

func FreeEntry(num uint32, gen uint16) Entry {
	return Entry{Num: num, Gen: gen, Kind: Free}
}

// Subsection is a run of entries with consecutive object numbers.
type Subsection struct {
	Start   uint32
	Entries []Entry
}

// Subsections sorts entries and splits them into maximal contiguous runs.
// Two entries for the same object number are an error.
func Subsections(entries []Entry) ([]Subsection, error) {
	sorted := SortEntries(entries)
	var out []Subsection
	for i, e := range sorted {
		if i > 0 && sorted[i-1].Num == e.Num {
			return nil, fmt.Errorf("xref: duplicate entry for object %d", e.Num)
		}
		if n := len(out); n > 0 {
			last := &out[n-1]
			if last.Start+uint32(len(last.Entries)) == e.Num {
				last.Entries = append(last.Entries, e)
				continue
			}
		}
		out = append(out, Subsection{Start: e.Num, Entries: []Entry{e}})
	}
	return out, nil
}

// SortEntries returns a copy of entries in ascending object number order.
func SortEntries(entries []Entry) []Entry {
	sorted := append([]Entry(nil), entries...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Num < sorted[j].Num })
	return sorted
}

// LinkFreeList returns entries sorted with the free ones chained in
// ascending order from object 0, the last pointing back to 0. Entry 0 is
// added when missing.
func LinkFreeList(entries []Entry) []Entry {
	sorted := SortEntries(entries)
	if len(sorted) == 0 || sorted[0].Num != 0 {
		sorted = append([]Entry{FreeEntry(0, MaxGeneration)}, sorted...)
	}
	prev := -1
	for i := range sorted {
		if sorted[i].Kind != Free {
			continue
		}
		if prev >= 0 {
			sorted[prev].NextFree = sorted[i].Num
		}
		prev = i
	}
	if prev >= 0 {
		sorted[prev].NextFree = 0
	}
	return sorted
}

// Size is one more than the largest object number among entries.
func Size(entries []Entry) uint32 {
	var size uint32
	for _, e := range entries {
		if e.Num+1 > size {
			size = e.Num + 1
		}
	}
	return size
}

package xref

import "github.com/bits-and-blooms/bitset"

// FreeEntries returns a free entry for every number below size that is not
// in live, object 0 included, linked into a list. gen supplies the
// generation to record for a retired number; a nil gen records 0.
func FreeEntries(live *bitset.BitSet, size uint32, gen func(num uint32) uint16) []Entry {
	out := []Entry{FreeEntry(0, MaxGeneration)}
	for i := uint(1); i < uint(size); i++ {
		if live.Test(i) {
			continue
		}
		var g uint16
		if gen != nil {
			g = gen(uint32(i))
		}
		out = append(out, FreeEntry(uint32(i), g))
	}
	return LinkFreeList(out)
}

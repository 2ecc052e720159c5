package xref

import (
	"bytes"
	"testing"

	"github.com/bits-and-blooms/bitset"
	"github.com/google/go-cmp/cmp"

	"github.com/wudi/pdfstore/ir/raw"
)

func TestSubsectionsContiguousAscending(t *testing.T) {
	entries := []Entry{
		InUseEntry(7, 0, 700),
		InUseEntry(3, 0, 300),
		FreeEntry(0, MaxGeneration),
		InUseEntry(8, 0, 800),
		InUseEntry(4, 1, 400),
		InUseEntry(12, 0, 1200),
	}
	subs, err := Subsections(entries)
	if err != nil {
		t.Fatalf("subsections: %v", err)
	}
	var got [][2]uint32
	for _, s := range subs {
		got = append(got, [2]uint32{s.Start, uint32(len(s.Entries))})
	}
	want := [][2]uint32{{0, 1}, {3, 2}, {7, 2}, {12, 1}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("subsections (-want +got):\n%s", diff)
	}

	if _, err := Subsections([]Entry{InUseEntry(2, 0, 1), InUseEntry(2, 1, 2)}); err == nil {
		t.Fatalf("expected duplicate error")
	}
}

func TestEncodeTableRecords(t *testing.T) {
	entries := LinkFreeList([]Entry{
		InUseEntry(1, 0, 15),
		InUseEntry(2, 0, 74),
		FreeEntry(3, 1),
		InUseEntry(5, 0, 1234567),
	})
	var buf bytes.Buffer
	if err := EncodeTable(&buf, entries); err != nil {
		t.Fatalf("encode: %v", err)
	}
	want := "xref\n" +
		"0 4\n" +
		"0000000003 65535 f\r\n" +
		"0000000015 00000 n\r\n" +
		"0000000074 00000 n\r\n" +
		"0000000000 00001 f\r\n" +
		"5 1\n" +
		"0001234567 00000 n\r\n"
	if diff := cmp.Diff(want, buf.String()); diff != "" {
		t.Fatalf("table (-want +got):\n%s", diff)
	}
	for _, line := range bytes.SplitAfter(buf.Bytes(), []byte("\n")) {
		if bytes.HasSuffix(line, []byte("\r\n")) && len(line) != RecordLen {
			t.Fatalf("record %q is %d bytes", line, len(line))
		}
	}
}

func TestEncodeTableRejectsCompressed(t *testing.T) {
	err := EncodeTable(&bytes.Buffer{}, []Entry{CompressedEntry(4, 3, 0)})
	if err == nil {
		t.Fatalf("expected error for compressed entry")
	}
}

func TestEncodeStreamRoundTrip(t *testing.T) {
	entries := LinkFreeList([]Entry{
		InUseEntry(1, 0, 15),
		InUseEntry(2, 0, 70000),
		CompressedEntry(4, 3, 0),
		CompressedEntry(5, 3, 1),
		InUseEntry(9, 2, 80),
	})
	index, widths, rows, err := EncodeStream(entries)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	// entry 0 carries generation 65535, so the third field needs two bytes
	if widths != [3]int{1, 3, 2} {
		t.Fatalf("unexpected widths %v", widths)
	}
	if got := len(rows); got != len(entries)*6 {
		t.Fatalf("rows length %d", got)
	}
	var idx []int64
	for _, it := range index.Items {
		idx = append(idx, it.(raw.NumberObj).Int())
	}
	if diff := cmp.Diff([]int64{0, 3, 4, 2, 9, 1}, idx); diff != "" {
		t.Fatalf("index (-want +got):\n%s", diff)
	}

	d := StreamDict(index, widths, Size(entries))
	decoded, err := decodeStreamRows(d, rows)
	if err != nil {
		t.Fatalf("decode rows: %v", err)
	}
	for _, e := range entries {
		got, ok := decoded[e.Num]
		if !ok {
			t.Fatalf("object %d missing", e.Num)
		}
		if diff := cmp.Diff(e, got); diff != "" {
			t.Fatalf("object %d (-want +got):\n%s", e.Num, diff)
		}
	}
}

func TestLinkFreeList(t *testing.T) {
	got := LinkFreeList([]Entry{FreeEntry(6, 2), InUseEntry(1, 0, 10), FreeEntry(3, 1)})
	want := []Entry{
		{Num: 0, Gen: MaxGeneration, Kind: Free, NextFree: 3},
		{Num: 1, Kind: InUse, Offset: 10},
		{Num: 3, Gen: 1, Kind: Free, NextFree: 6},
		{Num: 6, Gen: 2, Kind: Free, NextFree: 0},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("free list (-want +got):\n%s", diff)
	}
}

func TestTableLive(t *testing.T) {
	table := NewTable([]Entry{
		FreeEntry(0, MaxGeneration),
		InUseEntry(1, 0, 9),
		FreeEntry(2, 1),
		CompressedEntry(3, 1, 0),
	}, Trailer{Size: 6})
	live := table.Live()
	if live.Len() < 6 {
		t.Fatalf("set sized %d, want at least the trailer /Size", live.Len())
	}
	var got []uint
	for i, ok := live.NextSet(0); ok; i, ok = live.NextSet(i + 1) {
		got = append(got, i)
	}
	if diff := cmp.Diff([]uint{1, 3}, got); diff != "" {
		t.Fatalf("live (-want +got):\n%s", diff)
	}
}

func TestFreeEntries(t *testing.T) {
	live := bitset.New(4)
	live.Set(1).Set(3)
	got := FreeEntries(live, 6, func(num uint32) uint16 { return uint16(num) })
	want := []Entry{
		{Num: 0, Gen: MaxGeneration, Kind: Free, NextFree: 2},
		{Num: 2, Gen: 2, Kind: Free, NextFree: 4},
		{Num: 4, Gen: 4, Kind: Free, NextFree: 5},
		{Num: 5, Gen: 5, Kind: Free, NextFree: 0},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("free entries (-want +got):\n%s", diff)
	}
}

func TestSize(t *testing.T) {
	if got := Size([]Entry{InUseEntry(4, 0, 1), FreeEntry(0, MaxGeneration)}); got != 5 {
		t.Fatalf("size %d", got)
	}
}

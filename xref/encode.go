package xref

import (
	"bufio"
	"fmt"
	"io"

	"github.com/wudi/pdfstore/ir/raw"
)

// RecordLen is the size of one classic table record including its EOL.
const RecordLen = 20

// EncodeTable writes a classic cross-reference section: the xref keyword,
// a "start count" header per subsection and one fixed-width record per
// entry. Compressed entries cannot be expressed and are rejected.
func EncodeTable(w io.Writer, entries []Entry) error {
	subs, err := Subsections(entries)
	if err != nil {
		return err
	}
	bw := bufio.NewWriter(w)
	if _, err := bw.WriteString("xref\n"); err != nil {
		return err
	}
	for _, sub := range subs {
		fmt.Fprintf(bw, "%d %d\n", sub.Start, len(sub.Entries))
		for _, e := range sub.Entries {
			switch e.Kind {
			case InUse:
				fmt.Fprintf(bw, "%010d %05d n\r\n", e.Offset, e.Gen)
			case Free:
				fmt.Fprintf(bw, "%010d %05d f\r\n", e.NextFree, e.Gen)
			default:
				return fmt.Errorf("xref: object %d is compressed and needs an xref stream", e.Num)
			}
		}
	}
	return bw.Flush()
}

// EncodeStream packs entries into cross-reference stream rows. It returns
// the /Index array, the /W widths and the unfiltered row data. Widths are
// the smallest that hold every value, with at least one byte per field.
func EncodeStream(entries []Entry) (*raw.ArrayObj, [3]int, []byte, error) {
	subs, err := Subsections(entries)
	if err != nil {
		return nil, [3]int{}, nil, err
	}
	var max2, max3 uint64
	for _, e := range entries {
		f2, f3 := streamFields(e)
		if f2 > max2 {
			max2 = f2
		}
		if f3 > max3 {
			max3 = f3
		}
	}
	widths := [3]int{1, byteWidth(max2), byteWidth(max3)}
	rowLen := widths[0] + widths[1] + widths[2]

	index := raw.NewArray()
	rows := make([]byte, 0, len(entries)*rowLen)
	for _, sub := range subs {
		index.Append(raw.NumberInt(int64(sub.Start)))
		index.Append(raw.NumberInt(int64(len(sub.Entries))))
		for _, e := range sub.Entries {
			f2, f3 := streamFields(e)
			rows = append(rows, byte(streamType(e.Kind)))
			rows = appendBigEndian(rows, f2, widths[1])
			rows = appendBigEndian(rows, f3, widths[2])
		}
	}
	return index, widths, rows, nil
}

// StreamDict returns the cross-reference keys of an xref stream
// dictionary. Trailer keys and filters are added by the caller.
func StreamDict(index *raw.ArrayObj, widths [3]int, size uint32) *raw.DictObj {
	d := raw.Dict()
	d.Set("Type", raw.NameLiteral("XRef"))
	d.Set("Size", raw.NumberInt(int64(size)))
	d.Set("Index", index)
	d.Set("W", raw.NewArray(
		raw.NumberInt(int64(widths[0])),
		raw.NumberInt(int64(widths[1])),
		raw.NumberInt(int64(widths[2])),
	))
	return d
}

func streamType(k Kind) int {
	switch k {
	case InUse:
		return 1
	case Compressed:
		return 2
	}
	return 0
}

func streamFields(e Entry) (uint64, uint64) {
	switch e.Kind {
	case InUse:
		return uint64(e.Offset), uint64(e.Gen)
	case Compressed:
		return uint64(e.Container), uint64(e.Index)
	}
	return uint64(e.NextFree), uint64(e.Gen)
}

func byteWidth(v uint64) int {
	n := 1
	for v > 0xff {
		v >>= 8
		n++
	}
	return n
}

func appendBigEndian(buf []byte, v uint64, width int) []byte {
	for i := width - 1; i >= 0; i-- {
		buf = append(buf, byte(v>>(8*uint(i))))
	}
	return buf
}

// readBigEndian decodes a field of width bytes; a zero width yields def.
func readBigEndian(b []byte, def uint64) uint64 {
	if len(b) == 0 {
		return def
	}
	var v uint64
	for _, c := range b {
		v = v<<8 | uint64(c)
	}
	return v
}

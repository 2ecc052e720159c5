// Package pdftest assembles small PDF files for tests.
package pdftest

import (
	"bytes"
	"fmt"
	"sort"

	"github.com/wudi/pdfstore/filters"
	"github.com/wudi/pdfstore/ir/raw"
	"github.com/wudi/pdfstore/xref"
)

// Objects maps object numbers to the text between "obj" and "endobj".
type Objects map[uint32]string

func (o Objects) sorted() []uint32 {
	nums := make([]uint32, 0, len(o))
	for n := range o {
		nums = append(nums, n)
	}
	sort.Slice(nums, func(i, j int) bool { return nums[i] < nums[j] })
	return nums
}

func (o Objects) size() uint32 {
	var top uint32
	for n := range o {
		if n > top {
			top = n
		}
	}
	return top + 1
}

// Classic writes a file with a classic cross-reference table.
func Classic(version string, objs Objects, trailer string) []byte {
	buf := &bytes.Buffer{}
	fmt.Fprintf(buf, "%%PDF-%s\n%%\xe2\xe3\xcf\xd3\n", version)
	entries := []xref.Entry{xref.FreeEntry(0, 65535)}
	for _, n := range objs.sorted() {
		entries = append(entries, xref.InUseEntry(n, 0, int64(buf.Len())))
		fmt.Fprintf(buf, "%d 0 obj\n%s\nendobj\n", n, objs[n])
	}
	entries = xref.LinkFreeList(fillFree(entries, objs.size()))
	start := buf.Len()
	if err := xref.EncodeTable(buf, entries); err != nil {
		panic(err)
	}
	fmt.Fprintf(buf, "trailer\n<< /Size %d %s >>\nstartxref\n%d\n%%%%EOF\n", objs.size(), trailer, start)
	return buf.Bytes()
}

// Append adds an incremental update with a classic table chained to the
// last startxref of base.
func Append(base []byte, objs Objects, trailer string) []byte {
	prev, err := xref.FindStartXRef(bytes.NewReader(base), int64(len(base)))
	if err != nil {
		panic(err)
	}
	buf := bytes.NewBuffer(append([]byte(nil), base...))
	var entries []xref.Entry
	for _, n := range objs.sorted() {
		entries = append(entries, xref.InUseEntry(n, 0, int64(buf.Len())))
		fmt.Fprintf(buf, "%d 0 obj\n%s\nendobj\n", n, objs[n])
	}
	start := buf.Len()
	if err := xref.EncodeTable(buf, entries); err != nil {
		panic(err)
	}
	fmt.Fprintf(buf, "trailer\n<< %s /Prev %d >>\nstartxref\n%d\n%%%%EOF\n", trailer, prev, start)
	return buf.Bytes()
}

// Compressed writes a file whose objects listed in packed live in an
// object stream and whose cross-reference data is an xref stream.
func Compressed(version string, objs Objects, packed []uint32, trailer string) []byte {
	inStream := make(map[uint32]bool)
	for _, n := range packed {
		inStream[n] = true
	}
	size := objs.size()
	stmNum, xrefNum := size, size+1
	size += 2

	var header, body bytes.Buffer
	var entries []xref.Entry
	for i, n := range packed {
		fmt.Fprintf(&header, "%d %d ", n, body.Len())
		body.WriteString(objs[n])
		body.WriteByte('\n')
		entries = append(entries, xref.CompressedEntry(n, stmNum, uint32(i)))
	}
	stm, err := filters.EncodeFlate(append(header.Bytes(), body.Bytes()...), 6)
	if err != nil {
		panic(err)
	}

	buf := &bytes.Buffer{}
	fmt.Fprintf(buf, "%%PDF-%s\n%%\xe2\xe3\xcf\xd3\n", version)
	for _, n := range objs.sorted() {
		if inStream[n] {
			continue
		}
		entries = append(entries, xref.InUseEntry(n, 0, int64(buf.Len())))
		fmt.Fprintf(buf, "%d 0 obj\n%s\nendobj\n", n, objs[n])
	}
	entries = append(entries, xref.InUseEntry(stmNum, 0, int64(buf.Len())))
	fmt.Fprintf(buf, "%d 0 obj\n<< /Type /ObjStm /N %d /First %d /Filter /FlateDecode /Length %d >>\nstream\n",
		stmNum, len(packed), header.Len(), len(stm))
	buf.Write(stm)
	buf.WriteString("\nendstream\nendobj\n")

	start := buf.Len()
	entries = append(entries, xref.InUseEntry(xrefNum, 0, int64(start)))
	entries = xref.LinkFreeList(fillFree(append(entries, xref.FreeEntry(0, 65535)), size))
	index, widths, rows, err := xref.EncodeStream(entries)
	if err != nil {
		panic(err)
	}
	data, err := filters.EncodeFlate(rows, 6)
	if err != nil {
		panic(err)
	}
	fmt.Fprintf(buf, "%d 0 obj\n<< /Type /XRef /Size %d /Index [", xrefNum, size)
	for i, it := range index.Items {
		if i > 0 {
			buf.WriteByte(' ')
		}
		fmt.Fprintf(buf, "%d", it.(raw.NumberObj).Int())
	}
	fmt.Fprintf(buf, "] /W [%d %d %d] %s /Filter /FlateDecode /Length %d >>\nstream\n",
		widths[0], widths[1], widths[2], trailer, len(data))
	buf.Write(data)
	fmt.Fprintf(buf, "\nendstream\nendobj\nstartxref\n%d\n%%%%EOF\n", start)
	return buf.Bytes()
}

// fillFree adds free entries for numbers below size that have no entry.
func fillFree(entries []xref.Entry, size uint32) []xref.Entry {
	have := make(map[uint32]bool, len(entries))
	for _, e := range entries {
		have[e.Num] = true
	}
	for n := uint32(1); n < size; n++ {
		if !have[n] {
			entries = append(entries, xref.FreeEntry(n, 0))
		}
	}
	return entries
}

// Sample is a two-page document. Page 3 carries a text annotation (5)
// with a pop-up (6); page 4 keeps its annotations in an indirect array (9).
func Sample() Objects {
	content := "BT /F1 12 Tf 72 720 Td (Hello) Tj ET"
	return Objects{
		1:  "<< /Type /Catalog /Pages 2 0 R >>",
		2:  "<< /Type /Pages /Kids [3 0 R 4 0 R] /Count 2 >>",
		3:  "<< /Type /Page /Parent 2 0 R /MediaBox [0 0 612 792] /Resources << /Font << /F1 7 0 R >> >> /Contents 8 0 R /Annots [5 0 R 6 0 R] >>",
		4:  "<< /Type /Page /Parent 2 0 R /MediaBox [0 0 612 792] /Annots 9 0 R >>",
		5:  "<< /Type /Annot /Subtype /Text /Rect [10 10 30 30] /Contents (first note) /Popup 6 0 R /P 3 0 R >>",
		6:  "<< /Type /Annot /Subtype /Popup /Rect [30 30 130 90] /Parent 5 0 R >>",
		7:  "<< /Type /Font /Subtype /Type1 /BaseFont /Helvetica >>",
		8:  fmt.Sprintf("<< /Length %d >>\nstream\n%s\nendstream", len(content), content),
		9:  "[10 0 R]",
		10: "<< /Type /Annot /Subtype /Square /Rect [50 50 90 90] /Contents (square) /P 4 0 R >>",
		11: "<< /Producer (pdftest) >>",
	}
}

// SampleTrailer is the trailer body matching Sample.
const SampleTrailer = "/Root 1 0 R /Info 11 0 R /ID [<00112233445566778899aabbccddeeff> <00112233445566778899aabbccddeeff>]"

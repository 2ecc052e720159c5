package xref

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/tdewolff/parse/v2/strconv"

	"github.com/wudi/pdfstore/filters"
	"github.com/wudi/pdfstore/ir/raw"
	"github.com/wudi/pdfstore/observability"
	"github.com/wudi/pdfstore/recovery"
	"github.com/wudi/pdfstore/scanner"
)

const (
	defaultMaxXRefDepth = 64
	startXRefWindow     = 4096
)

type ResolverConfig struct {
	MaxXRefDepth int
	Recovery     recovery.Strategy
	Logger       observability.Logger
	// Pipeline decodes xref and object streams. Nil uses the default filters.
	Pipeline *filters.Pipeline
}

// Resolver locates and merges the cross-reference sections of a PDF.
type Resolver struct {
	cfg      ResolverConfig
	log      observability.Logger
	pipeline *filters.Pipeline
}

func NewResolver(cfg ResolverConfig) *Resolver {
	if cfg.MaxXRefDepth <= 0 {
		cfg.MaxXRefDepth = defaultMaxXRefDepth
	}
	p := cfg.Pipeline
	if p == nil {
		p = filters.DefaultPipeline(filters.Limits{})
	}
	return &Resolver{cfg: cfg, log: observability.OrNop(cfg.Logger), pipeline: p}
}

// Resolve follows startxref and the /Prev chain and returns the merged
// table. Structural problems fail the load unless the recovery strategy
// lets it continue, in which case earlier complete updates are tried
// newest first and then the whole file is scanned for objects.
func (r *Resolver) Resolve(ctx context.Context, src io.ReaderAt, size int64) (*Table, error) {
	start, err := FindStartXRef(src, size)
	if err == nil {
		var t *Table
		if t, err = r.load(ctx, src, size, start); err == nil {
			return t, nil
		}
	}
	var se *StructuralError
	if !errors.As(err, &se) {
		return nil, err
	}
	loc := recovery.Location{ByteOffset: se.Offset, Component: "xref"}
	if !recovery.Decide(ctx, r.cfg.Recovery, err, loc).Continues() {
		return nil, err
	}
	r.log.Warn("xref unusable, recovering", observability.Error("error", err))

	markers, ferr := findAll(src, size, []byte("startxref"))
	if ferr != nil {
		return nil, ferr
	}
	for i := len(markers) - 1; i >= 0; i-- {
		off, ok := readStartXRef(src, size, markers[i])
		if !ok || off == start {
			continue
		}
		if t, lerr := r.load(ctx, src, size, off); lerr == nil {
			r.log.Warn("using earlier complete update", observability.Int64("startxref", off))
			return t, nil
		}
	}
	t, rerr := r.repair(ctx, src, size)
	if rerr != nil {
		return nil, fmt.Errorf("%w (repair: %v)", err, rerr)
	}
	r.log.Warn("xref rebuilt by scanning", observability.Int("objects", len(t.entries)))
	return t, nil
}

// FindStartXRef returns the offset named by the last startxref keyword near
// the end of the file.
func FindStartXRef(src io.ReaderAt, size int64) (int64, error) {
	from := size - startXRefWindow
	if from < 0 {
		from = 0
	}
	tail := make([]byte, size-from)
	if _, err := src.ReadAt(tail, from); err != nil && err != io.EOF {
		return 0, err
	}
	idx := bytes.LastIndex(tail, []byte("startxref"))
	if idx < 0 {
		return 0, structural(MissingXref, size, "startxref not found")
	}
	off, ok := readStartXRef(src, size, from+int64(idx))
	if !ok {
		return 0, structural(MissingXref, from+int64(idx), "invalid startxref value")
	}
	return off, nil
}

func readStartXRef(src io.ReaderAt, size, at int64) (int64, bool) {
	buf := make([]byte, 40)
	n, _ := src.ReadAt(buf, at+int64(len("startxref")))
	b := bytes.TrimLeft(buf[:n], " \t\r\n\f\x00")
	v, m := strconv.ParseUint(b)
	if m == 0 || int64(v) <= 0 || int64(v) >= size {
		return 0, false
	}
	return int64(v), true
}

type section struct {
	entries map[uint32]Entry
	trailer *raw.DictObj
	prev    int64
	stream  bool
}

func (r *Resolver) load(ctx context.Context, src io.ReaderAt, size, start int64) (*Table, error) {
	t := newTable()
	visited := make(map[int64]bool)
	off := start
	for depth := 0; ; depth++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if depth >= r.cfg.MaxXRefDepth {
			return nil, structural(PartialXref, off, "xref chain longer than %d sections", r.cfg.MaxXRefDepth)
		}
		if visited[off] {
			r.log.Warn("xref /Prev loop", observability.Int64("offset", off))
			break
		}
		visited[off] = true
		if off <= 0 || off >= size {
			return nil, structural(PartialXref, off, "xref offset outside file")
		}
		sec, err := r.readSection(ctx, src, size, off)
		if err != nil {
			return nil, err
		}
		if depth == 0 {
			tr, err := ParseTrailer(sec.trailer)
			if err != nil {
				return nil, &StructuralError{Kind: PartialXref, Offset: off, Err: err}
			}
			tr.IsCompressedXref = sec.stream
			tr.XRefOffset = start
			t.trailer = tr
		}
		t.merge(sec.entries)
		t.sections = append(t.sections, off)
		if sec.prev == 0 {
			break
		}
		off = sec.prev
	}
	return t, nil
}

func (r *Resolver) readSection(ctx context.Context, src io.ReaderAt, size, off int64) (*section, error) {
	head := make([]byte, 32)
	n, _ := src.ReadAt(head, off)
	trimmed := bytes.TrimLeft(head[:n], " \t\r\n\f\x00")
	switch {
	case bytes.HasPrefix(trimmed, []byte("xref")):
		return r.readTable(ctx, src, size, off+int64(n-len(trimmed)))
	case len(trimmed) > 0 && trimmed[0] >= '0' && trimmed[0] <= '9':
		return r.readStream(ctx, src, off)
	}
	return nil, structural(MissingXref, off, "no xref section at offset")
}

// lineReader yields lines terminated by CR, LF or CRLF and tracks the
// absolute offset of each.
type lineReader struct {
	br  *bufio.Reader
	pos int64
}

func (l *lineReader) next() ([]byte, int64, error) {
	start := l.pos
	var line []byte
	for {
		c, err := l.br.ReadByte()
		if err != nil {
			if err == io.EOF && len(line) > 0 {
				return line, start, nil
			}
			return nil, start, err
		}
		l.pos++
		switch c {
		case '\n':
			return line, start, nil
		case '\r':
			if b, err := l.br.Peek(1); err == nil && b[0] == '\n' {
				_, _ = l.br.ReadByte()
				l.pos++
			}
			return line, start, nil
		}
		line = append(line, c)
	}
}

func (l *lineReader) nextNonEmpty() ([]byte, int64, error) {
	for {
		line, pos, err := l.next()
		if err != nil {
			return nil, pos, err
		}
		if t := bytes.TrimSpace(line); len(t) > 0 {
			return t, pos + int64(bytes.Index(line, t)), nil
		}
	}
}

func (r *Resolver) readTable(ctx context.Context, src io.ReaderAt, size, off int64) (*section, error) {
	lr := &lineReader{br: bufio.NewReader(io.NewSectionReader(src, off, size-off)), pos: off}
	line, pos, err := lr.nextNonEmpty()
	if err != nil || !bytes.HasPrefix(line, []byte("xref")) {
		return nil, structural(MissingXref, off, "xref keyword not found")
	}
	sec := &section{entries: make(map[uint32]Entry)}
	// producers occasionally put the first header on the xref line
	pending := bytes.TrimSpace(line[len("xref"):])
	pendingPos := pos + int64(len(line)-len(pending))
	var trailerPos int64 = -1
	for trailerPos < 0 {
		if len(pending) > 0 {
			line, pos, pending = pending, pendingPos, nil
		} else if line, pos, err = lr.nextNonEmpty(); err != nil {
			return nil, structural(PartialXref, lr.pos, "xref section ends before trailer")
		}
		if bytes.HasPrefix(line, []byte("trailer")) {
			trailerPos = pos + int64(len("trailer"))
			break
		}
		first, n := strconv.ParseUint(line)
		if n == 0 {
			return nil, structural(PartialXref, pos, "invalid subsection header %q", line)
		}
		count, m := strconv.ParseUint(bytes.TrimLeft(line[n:], " \t"))
		if m == 0 {
			return nil, structural(PartialXref, pos, "invalid subsection header %q", line)
		}
		for i := uint64(0); i < count; i++ {
			entryLine, epos, err := lr.nextNonEmpty()
			if err != nil {
				return nil, structural(PartialXref, lr.pos, "xref subsection truncated")
			}
			e, err := parseRecord(entryLine)
			if err != nil {
				return nil, &StructuralError{Kind: PartialXref, Offset: epos, Err: err}
			}
			num := uint32(first + i)
			// a table starting at 1 whose first record is the list head
			// really starts at 0
			if i == 0 && first == 1 && e.Kind == Free && e.Gen == MaxGeneration && e.NextFree == 0 {
				first = 0
				num = 0
			}
			e.Num = num
			sec.entries[num] = e
		}
	}

	s := scanner.New(src, scanner.Config{Recovery: r.cfg.Recovery})
	if err := s.SeekTo(trailerPos); err != nil {
		return nil, err
	}
	obj, err := scanner.ParseObject(scanner.NewTokenReader(s), r.cfg.Recovery, recovery.Location{ByteOffset: trailerPos, Component: "trailer"})
	if err != nil {
		return nil, structural(PartialXref, trailerPos, "trailer: %v", err)
	}
	dict, ok := obj.(*raw.DictObj)
	if !ok {
		return nil, structural(PartialXref, trailerPos, "trailer is not a dictionary")
	}
	sec.trailer = dict
	if prev, ok := dict.GetInt("Prev"); ok && prev > 0 {
		sec.prev = prev
	}
	if stm, ok := dict.GetInt("XRefStm"); ok && stm > 0 && stm < size {
		hybrid, err := r.readStream(ctx, src, stm)
		if err != nil {
			return nil, err
		}
		for num, e := range hybrid.entries {
			if cur, ok := sec.entries[num]; !ok || cur.Kind == Free {
				sec.entries[num] = e
			}
		}
	}
	return sec, nil
}

func parseRecord(line []byte) (Entry, error) {
	fields := bytes.Fields(line)
	if len(fields) < 3 || len(fields[2]) == 0 {
		return Entry{}, fmt.Errorf("invalid xref record %q", line)
	}
	v, n := strconv.ParseUint(fields[0])
	if n != len(fields[0]) {
		return Entry{}, fmt.Errorf("invalid xref offset %q", fields[0])
	}
	gen, m := strconv.ParseUint(fields[1])
	if m != len(fields[1]) || gen > MaxGeneration {
		return Entry{}, fmt.Errorf("invalid xref generation %q", fields[1])
	}
	switch fields[2][0] {
	case 'n':
		return InUseEntry(0, uint16(gen), int64(v)), nil
	case 'f':
		e := FreeEntry(0, uint16(gen))
		e.NextFree = uint32(v)
		return e, nil
	}
	return Entry{}, fmt.Errorf("invalid xref record type %q", fields[2])
}

func (r *Resolver) readStream(ctx context.Context, src io.ReaderAt, off int64) (*section, error) {
	s := scanner.New(src, scanner.Config{Recovery: r.cfg.Recovery})
	if err := s.SeekTo(off); err != nil {
		return nil, err
	}
	tr := scanner.NewTokenReader(s)
	dict, data, err := readIndirectStream(tr, r.cfg.Recovery, off)
	if err != nil {
		return nil, err
	}
	if typ, _ := dict.GetName("Type"); typ != "XRef" {
		return nil, structural(MissingXref, off, "object at xref offset is not an xref stream")
	}
	decoded, err := r.pipeline.DecodeStream(ctx, raw.NewStream(dict, data))
	if err != nil {
		return nil, &StructuralError{Kind: BadEncoding, Offset: off, Err: err}
	}
	entries, err := decodeStreamRows(dict, decoded)
	if err != nil {
		return nil, &StructuralError{Kind: BadEncoding, Offset: off, Err: err}
	}
	sec := &section{entries: entries, trailer: dict, stream: true}
	if prev, ok := dict.GetInt("Prev"); ok && prev > 0 {
		sec.prev = prev
	}
	return sec, nil
}

// readIndirectStream reads "N G obj << ... >> stream ... endstream" at the
// reader position. Only a direct /Length is honoured.
func readIndirectStream(tr *scanner.TokenReader, rec recovery.Strategy, off int64) (*raw.DictObj, []byte, error) {
	for i := 0; i < 2; i++ {
		tok, err := tr.Next()
		if err != nil || tok.Type != scanner.TokenNumber || !tok.IsInt {
			return nil, nil, structural(MissingXref, off, "expected object header")
		}
	}
	if err := tr.ExpectKeyword("obj"); err != nil {
		return nil, nil, &StructuralError{Kind: MissingXref, Offset: off, Err: err}
	}
	obj, err := scanner.ParseObject(tr, rec, recovery.Location{ByteOffset: off, Component: "xref"})
	if err != nil {
		return nil, nil, &StructuralError{Kind: BadEncoding, Offset: off, Err: err}
	}
	dict, ok := obj.(*raw.DictObj)
	if !ok {
		return nil, nil, structural(BadEncoding, off, "stream object without dictionary")
	}
	if l, ok := dict.GetInt("Length"); ok && l >= 0 {
		tr.SetStreamLengthHint(l)
	}
	tok, err := tr.Next()
	if err != nil || tok.Type != scanner.TokenStream {
		return nil, nil, structural(BadEncoding, off, "stream keyword missing")
	}
	return dict, tok.Bytes, nil
}

func decodeStreamRows(dict *raw.DictObj, data []byte) (map[uint32]Entry, error) {
	wArr, ok := dict.GetArray("W")
	if !ok || wArr.Len() != 3 {
		return nil, errors.New("xref stream /W must hold three widths")
	}
	var w [3]int
	for i, item := range wArr.Items {
		n, ok := item.(raw.NumberObj)
		if !ok || n.Int() < 0 || n.Int() > 8 {
			return nil, fmt.Errorf("invalid /W entry %v", item)
		}
		w[i] = int(n.Int())
	}
	rowLen := w[0] + w[1] + w[2]
	if rowLen == 0 {
		return nil, errors.New("xref stream rows have zero width")
	}

	var index []int64
	if idx, ok := dict.GetArray("Index"); ok {
		for _, item := range idx.Items {
			n, ok := item.(raw.NumberObj)
			if !ok || n.Int() < 0 {
				return nil, fmt.Errorf("invalid /Index entry %v", item)
			}
			index = append(index, n.Int())
		}
	} else {
		size, _ := dict.GetInt("Size")
		index = []int64{0, size}
	}
	if len(index)%2 != 0 {
		return nil, errors.New("/Index must hold start and count pairs")
	}

	entries := make(map[uint32]Entry)
	pos := 0
	for i := 0; i < len(index); i += 2 {
		first, count := index[i], index[i+1]
		for j := int64(0); j < count; j++ {
			if pos+rowLen > len(data) {
				return nil, fmt.Errorf("xref stream truncated at object %d", first+j)
			}
			row := data[pos : pos+rowLen]
			pos += rowLen
			typ := readBigEndian(row[:w[0]], 1)
			f2 := readBigEndian(row[w[0]:w[0]+w[1]], 0)
			f3 := readBigEndian(row[w[0]+w[1]:], 0)
			num := uint32(first + j)
			switch typ {
			case 0:
				e := FreeEntry(num, uint16(f3))
				e.NextFree = uint32(f2)
				entries[num] = e
			case 1:
				entries[num] = InUseEntry(num, uint16(f3), int64(f2))
			case 2:
				entries[num] = CompressedEntry(num, uint32(f2), uint32(f3))
			}
			// other types are reserved and read as null references
		}
	}
	return entries, nil
}

// findAll returns the offsets of every occurrence of needle in src.
func findAll(src io.ReaderAt, size int64, needle []byte) ([]int64, error) {
	const chunk = 64 * 1024
	var out []int64
	overlap := int64(len(needle) - 1)
	buf := make([]byte, chunk+overlap)
	for base := int64(0); base < size; base += chunk {
		end := min(base+chunk+overlap, size)
		b := buf[:end-base]
		if _, err := src.ReadAt(b, base); err != nil && err != io.EOF {
			return nil, err
		}
		for i := 0; ; {
			j := bytes.Index(b[i:], needle)
			if j < 0 {
				break
			}
			if at := base + int64(i+j); at < base+chunk {
				out = append(out, at)
			}
			i += j + 1
		}
	}
	return out, nil
}

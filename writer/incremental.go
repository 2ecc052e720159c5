package writer

import (
	"context"

	"github.com/wudi/pdfstore/ir/raw"
	"github.com/wudi/pdfstore/ledger"
	"github.com/wudi/pdfstore/observability"
	"github.com/wudi/pdfstore/xref"
)

type incrementalStrategy struct{ e *emitter }

// NewIncrementalStrategy appends the pending changes after the existing
// bytes, which it never touches, and chains the new section with /Prev.
func NewIncrementalStrategy(cfg Config, interceptors ...Interceptor) Strategy {
	return &incrementalStrategy{e: newEmitter(cfg, interceptors)}
}

func (i *incrementalStrategy) Mode() WriteMode { return IncrementUpdate }

func (i *incrementalStrategy) Write(ctx context.Context, doc Document, w *PositionWriter) (Result, error) {
	led := doc.Ledger()
	if led.IsNoChange() {
		return Result{}, nil
	}
	if table := doc.Table(); table != nil && table.Repaired() {
		return Result{}, ErrRepairedSource
	}
	s := i.e.begin(doc, w)
	t := doc.Trailer()

	if missingEOL(doc, w.Offset()) {
		if err := s.write([]byte("\n")); err != nil {
			return Result{}, err
		}
	}

	changes := led.Sorted()
	var entries []xref.Entry
	freed := false
	for _, c := range changes {
		switch c.Kind {
		case ledger.Added, ledger.Modified:
			off, err := s.writeObject(ctx, c.Ref, c.Object, true)
			if err != nil {
				return Result{}, err
			}
			entries = append(entries, xref.InUseEntry(c.Ref.Num, c.Ref.Gen, off))
		case ledger.Deleted:
			entries = append(entries, xref.FreeEntry(c.Ref.Num, nextGeneration(c.Ref.Gen)))
			freed = true
		}
	}
	if freed {
		entries = xref.LinkFreeList(entries)
	}

	var stream *raw.ObjectRef
	if t.IsCompressedXref {
		ref := s.allocate()
		stream = &ref
	}
	size := max(s.next, t.Size)

	id := s.fileID(size)
	off, err := s.writeXRef(entries, buildTrailer(size, t, t.XRefOffset, id), stream)
	if err != nil {
		return Result{}, err
	}
	i.e.log.Debug("incremental update written",
		observability.Int("changes", len(changes)),
		observability.Int64("prev", t.XRefOffset),
		observability.Int64("xref", off))
	return Result{Size: size, XRefOffset: off, ID: id, Objects: len(changes)}, nil
}

// missingEOL reports whether the original file ends without a line break,
// in which case the first appended object would run into "%%EOF". Only the
// loaded source can be checked; output of an earlier save always ends in
// a newline.
func missingEOL(doc Document, at int64) bool {
	src := doc.Source()
	if src == nil || at == 0 || at != src.Len() {
		return false
	}
	var b [1]byte
	if _, err := src.ReadAt(b[:], at-1); err != nil {
		return false
	}
	return b[0] != '\n' && b[0] != '\r'
}

package writer

import (
	"context"
	"fmt"

	"github.com/bits-and-blooms/bitset"

	"github.com/wudi/pdfstore/ir/raw"
	"github.com/wudi/pdfstore/ledger"
	"github.com/wudi/pdfstore/observability"
	"github.com/wudi/pdfstore/security"
	"github.com/wudi/pdfstore/xref"
)

// binaryMarker follows the header so transfer tools treat the file as binary.
const binaryMarker = "%\xE2\xE3\xCF\xD3\n"

type fullStrategy struct{ e *emitter }

// NewFullStrategy rewrites the whole document: every live object once,
// one cross-reference section and no /Prev.
func NewFullStrategy(cfg Config, interceptors ...Interceptor) Strategy {
	return &fullStrategy{e: newEmitter(cfg, interceptors)}
}

func (f *fullStrategy) Mode() WriteMode { return FullUpdate }

func (f *fullStrategy) Write(ctx context.Context, doc Document, w *PositionWriter) (Result, error) {
	s := f.e.begin(doc, w)
	t := doc.Trailer()

	version, err := maxVersion(doc.Version(), f.e.cfg.Version)
	if err != nil {
		f.e.log.Warn("unparsable version ignored",
			observability.String("version", version),
			observability.Error("error", err))
	}
	if err := s.write([]byte("%PDF-" + version + "\n" + binaryMarker)); err != nil {
		return Result{}, err
	}

	live := doc.LiveObjects()
	pack := f.e.cfg.ObjectStreams && t.IsCompressedXref
	var entries []xref.Entry
	var packed []raw.PObject
	for _, ref := range live {
		obj, err := f.load(ctx, s, ref)
		if err != nil {
			return Result{}, err
		}
		if pack && packable(ref, obj, s) {
			packed = append(packed, raw.PObject{Ref: ref, Object: obj})
			continue
		}
		_, edited := doc.Change(ref.Num)
		off, err := s.writeObject(ctx, ref, obj, edited)
		if err != nil {
			return Result{}, err
		}
		entries = append(entries, xref.InUseEntry(ref.Num, ref.Gen, off))
	}

	for start := 0; start < len(packed); start += objStmCapacity {
		members := packed[start:min(start+objStmCapacity, len(packed))]
		container := s.allocate()
		st, err := buildObjStm(members, f.e.level())
		if err != nil {
			return Result{}, err
		}
		off, err := s.writeObject(ctx, container, st, false)
		if err != nil {
			return Result{}, err
		}
		entries = append(entries, xref.InUseEntry(container.Num, container.Gen, off))
		for i, m := range members {
			entries = append(entries, xref.CompressedEntry(m.Ref.Num, container.Num, uint32(i)))
		}
	}

	var stream *raw.ObjectRef
	if t.IsCompressedXref {
		ref := s.allocate()
		stream = &ref
	}
	size := s.next
	used := bitset.New(uint(size))
	for _, e := range entries {
		used.Set(uint(e.Num))
	}
	if stream != nil {
		used.Set(uint(stream.Num))
	}
	entries = append(entries, xref.FreeEntries(used, size, freeGeneration(doc))...)

	id := s.fileID(size)
	off, err := s.writeXRef(entries, buildTrailer(size, t, 0, id), stream)
	if err != nil {
		return Result{}, err
	}
	f.e.log.Debug("full rewrite written",
		observability.Int("objects", len(live)),
		observability.Int("packed", len(packed)),
		observability.Int64("xref", off))
	return Result{Size: size, XRefOffset: off, ID: id, Objects: len(live)}, nil
}

// load reads a live object. An object the source cannot produce is
// written as null so a damaged file can still be rewritten; security
// failures and cancellation stop the save.
func (f *fullStrategy) load(ctx context.Context, s *save, ref raw.ObjectRef) (raw.Object, error) {
	obj, err := s.doc.Object(ctx, ref)
	if err == nil {
		return obj, nil
	}
	if ctx.Err() != nil || security.IsSecurityError(err) {
		return nil, fmt.Errorf("load %v: %w", ref, err)
	}
	f.e.log.Warn("object unreadable, writing null",
		observability.String("ref", ref.String()),
		observability.Error("error", err))
	return raw.NullObj{}, nil
}

// packable reports whether obj may live inside an object stream. Streams,
// objects with a non-zero generation and the encryption dictionary may not.
func packable(ref raw.ObjectRef, obj raw.Object, s *save) bool {
	if ref.Gen != 0 || s.isEncryptDict(ref) {
		return false
	}
	_, isStream := obj.(*raw.StreamObj)
	return !isStream
}

// freeGeneration picks the generation recorded for a number that is free
// in the rewritten file. Numbers retired by this or an earlier edit, and
// original objects that are dropped, move to the next generation so stale
// references never match a future reuse.
func freeGeneration(doc Document) func(uint32) uint16 {
	table := doc.Table()
	return func(num uint32) uint16 {
		if c, ok := doc.Change(num); ok && c.Kind == ledger.Deleted {
			return nextGeneration(c.Ref.Gen)
		}
		if table == nil {
			return 0
		}
		if e, ok := table.Lookup(num); ok {
			if e.Kind == xref.Free {
				return e.Gen
			}
			return nextGeneration(e.Gen)
		}
		return 0
	}
}

// maxVersion compares "major.minor" strings numerically. When either
// side cannot be parsed the loaded version a is kept and the error says
// which string was rejected.
func maxVersion(a, b string) (string, error) {
	if b == "" {
		if a == "" {
			return "1.7", nil
		}
		return a, nil
	}
	bmaj, bmin, berr := parseVersion(b)
	if a == "" {
		if berr != nil {
			return "1.7", berr
		}
		return b, nil
	}
	amaj, amin, aerr := parseVersion(a)
	if aerr != nil {
		return a, aerr
	}
	if berr != nil {
		return a, berr
	}
	if bmaj > amaj || (bmaj == amaj && bmin > amin) {
		return b, nil
	}
	return a, nil
}

func parseVersion(v string) (major, minor int, err error) {
	if _, err := fmt.Sscanf(v, "%d.%d", &major, &minor); err != nil {
		return 0, 0, fmt.Errorf("version %q: %w", v, err)
	}
	return major, minor, nil
}

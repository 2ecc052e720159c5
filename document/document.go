// Package document holds a loaded PDF and records edits to it in a ledger.
//
// Reads go through the ledger first and fall back to the original file.
// Objects returned by Object are shared with the cache; edit a Clone.
package document

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/wudi/pdfstore/filters"
	"github.com/wudi/pdfstore/ir/raw"
	"github.com/wudi/pdfstore/ledger"
	"github.com/wudi/pdfstore/observability"
	"github.com/wudi/pdfstore/parser"
	"github.com/wudi/pdfstore/recovery"
	"github.com/wudi/pdfstore/security"
	"github.com/wudi/pdfstore/source"
	"github.com/wudi/pdfstore/xref"
)

var (
	ErrUnknownObject = errors.New("object does not exist")
	ErrNoPage        = errors.New("page does not exist")
	ErrNotAnnotation = errors.New("annotation not on page")
)

type Config struct {
	Password string
	Security security.Factory
	Limits   security.Limits
	Recovery recovery.Strategy
	Logger   observability.Logger
	Tracer   observability.Tracer
}

type Document struct {
	src     *source.Source
	table   *xref.Table
	trailer xref.Trailer
	loader  *parser.Loader
	sec     security.Handler
	version string
	ledger  *ledger.Ledger
	fonts   *FontCache
	log     observability.Logger

	containers map[uint32]struct{}
	// saved holds changes already written by a save. The original source
	// does not contain them, so reads keep seeing them here.
	saved map[uint32]ledger.Change
	saves int

	// initMu serializes saves against page materialization.
	initMu sync.Mutex
}

// Load opens the document held by src. On error nothing is returned and
// src stays owned by the caller.
func Load(ctx context.Context, src *source.Source, cfg Config) (doc *Document, err error) {
	tracer := cfg.Tracer
	if tracer == nil {
		tracer = observability.NopTracer()
	}
	ctx, span := tracer.StartSpan(ctx, observability.SpanLoad)
	defer func() {
		if err != nil {
			span.SetError(err)
		}
		span.Finish()
	}()

	log := observability.OrNop(cfg.Logger)
	res, err := parser.Open(ctx, src, src.Len(), parser.Config{
		Password: cfg.Password,
		Security: cfg.Security,
		Limits:   cfg.Limits,
		Recovery: cfg.Recovery,
		Logger:   log,
	})
	if err != nil {
		return nil, err
	}
	doc = &Document{
		src:        src,
		table:      res.Table,
		trailer:    res.Trailer,
		loader:     res.Loader,
		sec:        res.Security,
		version:    res.Version,
		ledger:     ledger.New(res.Table.Size()),
		fonts:      NewFontCache(),
		log:        log,
		containers: containers(res.Table),
		saved:      make(map[uint32]ledger.Change),
	}
	if v := doc.catalogVersion(ctx); v > doc.version {
		doc.version = v
	}
	span.SetTag(observability.TagObjectCount, len(res.Table.Objects()))
	span.SetTag(observability.TagXRefOffset, res.Trailer.XRefOffset)
	return doc, nil
}

// containers collects object streams and xref streams. They describe the
// file layout and are never carried over by a full rewrite.
func containers(t *xref.Table) map[uint32]struct{} {
	out := make(map[uint32]struct{})
	sections := make(map[int64]struct{})
	for _, off := range t.Sections() {
		sections[off] = struct{}{}
	}
	for _, e := range t.Entries() {
		switch e.Kind {
		case xref.Compressed:
			out[e.Container] = struct{}{}
		case xref.InUse:
			if _, ok := sections[e.Offset]; ok {
				out[e.Num] = struct{}{}
			}
		}
	}
	return out
}

func (d *Document) catalogVersion(ctx context.Context) string {
	cat, err := d.Catalog(ctx)
	if err != nil {
		return ""
	}
	v, _ := cat.GetName("Version")
	return v
}

func (d *Document) Trailer() xref.Trailer      { return d.trailer }
func (d *Document) Table() *xref.Table         { return d.table }
func (d *Document) Version() string            { return d.version }
func (d *Document) Ledger() *ledger.Ledger     { return d.ledger }
func (d *Document) Security() security.Handler { return d.sec }
func (d *Document) Source() *source.Source     { return d.src }
func (d *Document) Fonts() *FontCache          { return d.fonts }
func (d *Document) Logger() observability.Logger {
	return d.log
}

// OriginalLength is the byte length of the file as loaded.
func (d *Document) OriginalLength() int64 { return d.src.Len() }

// Pipeline is the filter pipeline streams are decoded with.
func (d *Document) Pipeline() *filters.Pipeline { return d.loader.Pipeline() }

// Committed moves the document past a successful save that declared
// size objects and put its cross-reference section at xrefOffset. The
// ledger is cleared; the next incremental update chains to xrefOffset and
// is only valid appended to the output of this save.
func (d *Document) Committed(size uint32, xrefOffset int64, id [2][]byte, full bool) {
	for _, c := range d.ledger.Sorted() {
		d.saved[c.Ref.Num] = c
	}
	d.ledger.Commit(size)
	d.trailer.Size = size
	d.trailer.Prev = d.trailer.XRefOffset
	if full {
		d.trailer.Prev = 0
	}
	d.trailer.XRefOffset = xrefOffset
	d.trailer.ID = id
	d.trailer.HasID = id[0] != nil
	d.saves++
}

// Saved reports whether a save has been committed. From then on the
// trailer describes the saved output, not the loaded source.
func (d *Document) Saved() bool { return d.saves > 0 }

// Change returns the pending or already saved change for num.
func (d *Document) Change(num uint32) (ledger.Change, bool) {
	if c, ok := d.ledger.Get(num); ok {
		return c, true
	}
	c, ok := d.saved[num]
	return c, ok
}

// BeginSave blocks until no page materialization is running and holds
// it off until the returned function is called.
func (d *Document) BeginSave() (end func()) {
	d.initMu.Lock()
	return d.initMu.Unlock
}

// Object returns the current value of ref, taking edits into account.
func (d *Document) Object(ctx context.Context, ref raw.ObjectRef) (raw.Object, error) {
	if c, ok := d.Change(ref.Num); ok {
		if c.Kind == ledger.Deleted || c.Ref.Gen != ref.Gen {
			return nil, fmt.Errorf("%v: %w", ref, ErrUnknownObject)
		}
		return c.Object, nil
	}
	obj, err := d.loader.Load(ctx, ref)
	if errors.Is(err, parser.ErrObjectNotFound) {
		return nil, fmt.Errorf("%v: %w", ref, ErrUnknownObject)
	}
	return obj, err
}

// Resolve follows references through the ledger. Dangling references
// resolve to null.
func (d *Document) Resolve(ctx context.Context, obj raw.Object) (raw.Object, error) {
	for depth := 0; depth < 64; depth++ {
		r, ok := obj.(raw.RefObj)
		if !ok {
			return obj, nil
		}
		next, err := d.Object(ctx, r.R)
		if errors.Is(err, ErrUnknownObject) {
			return raw.NullObj{}, nil
		}
		if err != nil {
			return nil, err
		}
		obj = next
	}
	return nil, errors.New("reference chain too deep")
}

func (d *Document) resolveDict(ctx context.Context, obj raw.Object) (*raw.DictObj, error) {
	v, err := d.Resolve(ctx, obj)
	if err != nil {
		return nil, err
	}
	switch t := v.(type) {
	case *raw.DictObj:
		return t, nil
	case *raw.StreamObj:
		return t.Dict, nil
	}
	return nil, nil
}

// Catalog returns the document catalog.
func (d *Document) Catalog(ctx context.Context) (*raw.DictObj, error) {
	obj, err := d.Object(ctx, d.trailer.Root)
	if err != nil {
		return nil, fmt.Errorf("catalog: %w", err)
	}
	cat, ok := obj.(*raw.DictObj)
	if !ok {
		return nil, fmt.Errorf("catalog %v is %s", d.trailer.Root, obj.Type())
	}
	return cat, nil
}

// Generation returns the current generation of num.
func (d *Document) Generation(num uint32) uint16 {
	if c, ok := d.Change(num); ok {
		return c.Ref.Gen
	}
	if e, ok := d.table.Lookup(num); ok {
		return e.Gen
	}
	return 0
}

// IsContainer reports whether num is an object stream or xref stream of
// the original file.
func (d *Document) IsContainer(num uint32) bool {
	_, ok := d.containers[num]
	return ok
}

// LiveObjects lists every object a full rewrite must write, in ascending
// order: originals that are not deleted or containers, plus additions.
func (d *Document) LiveObjects() []raw.ObjectRef {
	seen := make(map[uint32]raw.ObjectRef)
	for _, num := range d.table.Objects() {
		if num == 0 || d.IsContainer(num) {
			continue
		}
		e, _ := d.table.Lookup(num)
		seen[num] = raw.ObjectRef{Num: num, Gen: e.Gen}
	}
	apply := func(c ledger.Change) {
		if c.Kind == ledger.Deleted {
			delete(seen, c.Ref.Num)
			return
		}
		seen[c.Ref.Num] = c.Ref
	}
	for _, c := range d.saved {
		apply(c)
	}
	for _, c := range d.ledger.Sorted() {
		apply(c)
	}
	out := make([]raw.ObjectRef, 0, len(seen))
	for _, r := range seen {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Less(out[j]) })
	return out
}

// AddObject stores obj under a newly allocated number.
func (d *Document) AddObject(obj raw.Object) (raw.ObjectRef, error) {
	ref := d.ledger.Allocate()
	if err := d.ledger.RecordAdded(ref, obj); err != nil {
		return raw.ObjectRef{}, err
	}
	return ref, nil
}

// UpdateObject replaces the value of an existing object.
func (d *Document) UpdateObject(ctx context.Context, ref raw.ObjectRef, obj raw.Object) error {
	if _, err := d.Object(ctx, ref); err != nil {
		return err
	}
	return d.ledger.RecordModified(ref, obj)
}

// DeleteObject removes ref. References to it elsewhere become dangling.
func (d *Document) DeleteObject(ctx context.Context, ref raw.ObjectRef) error {
	if _, err := d.Object(ctx, ref); err != nil {
		return err
	}
	return d.ledger.RecordDeleted(ref)
}

// DecodeStream returns the decoded data of stream ref. A decode failure
// only affects this stream.
func (d *Document) DecodeStream(ctx context.Context, ref raw.ObjectRef) ([]byte, error) {
	obj, err := d.Object(ctx, ref)
	if err != nil {
		return nil, err
	}
	st, ok := obj.(*raw.StreamObj)
	if !ok {
		return nil, fmt.Errorf("%v is %s, not a stream", ref, obj.Type())
	}
	return d.Pipeline().DecodeStream(ctx, st)
}

// Close releases the source.
func (d *Document) Close() error { return d.src.Close() }

// Package parser opens a PDF: it resolves the cross-reference data,
// selects the security handler and validates the structure before any
// object is handed out.
package parser

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/bits-and-blooms/bitset"

	"github.com/wudi/pdfstore/filters"
	"github.com/wudi/pdfstore/ir/raw"
	"github.com/wudi/pdfstore/observability"
	"github.com/wudi/pdfstore/recovery"
	"github.com/wudi/pdfstore/security"
	"github.com/wudi/pdfstore/xref"
)

// Config controls opening a document.
type Config struct {
	Password string
	// Security builds the handler for encrypted documents. Without it,
	// encrypted documents fail to open with security.ErrEncrypted.
	Security security.Factory
	Limits   security.Limits
	Recovery recovery.Strategy
	Logger   observability.Logger
	Cache    Cache
	// SkipValidation leaves structural checks to the first access.
	SkipValidation bool
}

// Result is an opened document before any page-level interpretation.
type Result struct {
	Table    *xref.Table
	Trailer  xref.Trailer
	Loader   *Loader
	Security security.Handler
	Version  string
}

// Open resolves src and returns a loader for its objects. Structural
// problems come back as *xref.StructuralError and credential problems as
// *security.Error; in both cases nothing is returned.
func Open(ctx context.Context, src io.ReaderAt, size int64, cfg Config) (*Result, error) {
	limits := cfg.Limits.WithDefaults()
	log := observability.OrNop(cfg.Logger)
	pipeline := filters.DefaultPipeline(filters.Limits{
		MaxDecompressedSize: limits.MaxDecompressedSize,
		MaxDecodeTime:       limits.MaxDecodeTime,
	})
	resolver := xref.NewResolver(xref.ResolverConfig{
		MaxXRefDepth: limits.MaxXRefDepth,
		Recovery:     cfg.Recovery,
		Logger:       log,
		Pipeline:     pipeline,
	})
	table, err := resolver.Resolve(ctx, src, size)
	if err != nil {
		return nil, fmt.Errorf("resolve xref: %w", err)
	}
	trailer := table.Trailer()

	builder := NewLoaderBuilder(src, size, table).
		WithLimits(limits).
		WithRecovery(cfg.Recovery).
		WithLogger(log).
		WithPipeline(pipeline).
		WithEncryptRef(trailer.Encrypt)

	handler, err := selectSecurity(ctx, builder, trailer, cfg)
	if err != nil {
		return nil, err
	}
	loader, err := builder.WithSecurity(handler).WithCache(cfg.Cache).Build()
	if err != nil {
		return nil, err
	}
	if !cfg.SkipValidation {
		if err := loader.Validate(ctx); err != nil {
			return nil, err
		}
	}
	log.Debug("document opened",
		observability.Int("objects", len(table.Objects())),
		observability.Int("sections", len(table.Sections())),
		observability.Bool("compressed_xref", trailer.IsCompressedXref),
		observability.Bool("repaired", table.Repaired()))
	return &Result{
		Table:    table,
		Trailer:  trailer,
		Loader:   loader,
		Security: handler,
		Version:  HeaderVersion(src),
	}, nil
}

// selectSecurity reads the encryption dictionary with a plain loader and
// authenticates before anything else is materialized.
func selectSecurity(ctx context.Context, b *LoaderBuilder, tr xref.Trailer, cfg Config) (security.Handler, error) {
	if !tr.Encrypted() {
		return security.NoopHandler(), nil
	}
	if cfg.Security == nil {
		return nil, &security.Error{Op: "open", Err: security.ErrEncrypted}
	}
	dict := tr.EncryptDict
	if dict == nil {
		plain, err := b.Build()
		if err != nil {
			return nil, err
		}
		obj, err := plain.Load(ctx, *tr.Encrypt)
		if err != nil {
			return nil, &security.Error{Op: "load encryption dictionary", Err: err}
		}
		d, ok := obj.(*raw.DictObj)
		if !ok {
			return nil, &security.Error{Op: "load encryption dictionary", Err: fmt.Errorf("%v is not a dictionary", *tr.Encrypt)}
		}
		dict = d
	}
	h, err := cfg.Security(dict, tr.ID[0])
	if err != nil {
		return nil, &security.Error{Op: "select handler", Err: err}
	}
	if err := h.Authenticate(cfg.Password); err != nil {
		if !errors.Is(err, security.ErrBadCredentials) {
			err = fmt.Errorf("%w: %v", security.ErrBadCredentials, err)
		}
		return nil, &security.Error{Op: "authenticate", Err: err}
	}
	return h, nil
}

// Validate checks that every in-use entry points at a matching object
// header inside the file and that every referenced object stream decodes.
func (l *Loader) Validate(ctx context.Context) error {
	live := l.table.Live()
	containers := bitset.New(live.Len())
	for _, num := range l.table.Objects() {
		if err := ctx.Err(); err != nil {
			return err
		}
		e, _ := l.table.Lookup(num)
		switch e.Kind {
		case xref.InUse:
			if err := l.tolerate(ctx, l.checkHeader(num, e)); err != nil {
				return err
			}
		case xref.Compressed:
			containers.Set(uint(e.Container))
		}
	}
	for c, ok := containers.NextSet(0); ok; c, ok = containers.NextSet(c + 1) {
		n := uint32(c)
		var reason string
		if !live.Test(c) {
			reason = "object stream container is free or missing"
		} else if e, _ := l.table.Lookup(n); e.Kind != xref.InUse {
			reason = "object stream container is itself compressed"
		}
		if reason != "" {
			err := &xref.StructuralError{Kind: xref.BadEncoding, Object: n, Err: errors.New(reason)}
			if err := l.tolerate(ctx, err); err != nil {
				return err
			}
			continue
		}
		if _, err := l.objectStream(ctx, n, 0); err != nil {
			var se *xref.StructuralError
			if !errors.As(err, &se) {
				err = &xref.StructuralError{Kind: xref.BadEncoding, Object: n, Err: err}
			}
			if err := l.tolerate(ctx, err); err != nil {
				return err
			}
		}
	}
	return nil
}

// tolerate lets the recovery strategy accept a structural problem. A
// tolerated problem is logged and surfaces again if the object is loaded.
func (l *Loader) tolerate(ctx context.Context, err error) error {
	if err == nil {
		return nil
	}
	var se *xref.StructuralError
	if !errors.As(err, &se) {
		return err
	}
	loc := recovery.Location{ByteOffset: se.Offset, ObjectNum: se.Object, Component: "parser:validate"}
	if !recovery.Decide(ctx, l.recovery, err, loc).Continues() {
		return err
	}
	l.log.Warn("structural problem tolerated", observability.String("kind", se.Kind.String()),
		observability.Int64("object", int64(se.Object)), observability.Error("error", se.Err))
	return nil
}

func (l *Loader) checkHeader(num uint32, e xref.Entry) error {
	if e.Offset < 0 || (l.size > 0 && e.Offset >= l.size) {
		return &xref.StructuralError{Kind: xref.BadObjectOffset, Offset: e.Offset, Object: num,
			Err: fmt.Errorf("offset outside the file of %d bytes", l.size)}
	}
	buf := make([]byte, 32)
	n, err := l.src.ReadAt(buf, e.Offset)
	if err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	want := fmt.Sprintf("%d %d obj", num, e.Gen)
	fields := bytes.Fields(buf[:n])
	if len(fields) < 3 || fmt.Sprintf("%s %s %s", fields[0], fields[1], headerKeyword(fields[2])) != want {
		return &xref.StructuralError{Kind: xref.BadObjectOffset, Offset: e.Offset, Object: num,
			Err: fmt.Errorf("expected %q", want)}
	}
	return nil
}

// headerKeyword trims what may follow "obj" without whitespace.
func headerKeyword(b []byte) []byte {
	if bytes.HasPrefix(b, []byte("obj")) {
		return b[:3]
	}
	return b
}

// HeaderVersion returns the version in the %PDF-x.y header, or "" when
// the header is missing.
func HeaderVersion(r io.ReaderAt) string {
	buf := make([]byte, 1024)
	n, err := r.ReadAt(buf, 0)
	if err != nil && !errors.Is(err, io.EOF) {
		return ""
	}
	i := bytes.Index(buf[:n], []byte("%PDF-"))
	if i < 0 {
		return ""
	}
	v := buf[i+5 : n]
	end := 0
	for end < len(v) && (v[end] == '.' || (v[end] >= '0' && v[end] <= '9')) {
		end++
	}
	return string(v[:end])
}

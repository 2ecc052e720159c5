package writer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/wudi/pdfstore/observability"
)

// DispatcherBuilder assembles a Dispatcher from the strategies a caller
// wants to allow.
type DispatcherBuilder struct {
	cfg          Config
	interceptors []Interceptor
	full         bool
	incremental  bool
	custom       []Strategy
}

func NewDispatcherBuilder(cfg Config) *DispatcherBuilder {
	return &DispatcherBuilder{cfg: cfg}
}

func (b *DispatcherBuilder) WithFull() *DispatcherBuilder {
	b.full = true
	return b
}

func (b *DispatcherBuilder) WithIncremental() *DispatcherBuilder {
	b.incremental = true
	return b
}

// WithStrategy registers s for its mode, replacing a built-in strategy.
func (b *DispatcherBuilder) WithStrategy(s Strategy) *DispatcherBuilder {
	b.custom = append(b.custom, s)
	return b
}

func (b *DispatcherBuilder) WithInterceptor(i Interceptor) *DispatcherBuilder {
	b.interceptors = append(b.interceptors, i)
	return b
}

func (b *DispatcherBuilder) Build() *Dispatcher {
	d := &Dispatcher{
		cfg:        b.cfg,
		log:        observability.OrNop(b.cfg.Logger),
		tracer:     b.cfg.Tracer,
		strategies: make(map[WriteMode]Strategy),
	}
	if d.tracer == nil {
		d.tracer = observability.NopTracer()
	}
	if b.full {
		d.strategies[FullUpdate] = NewFullStrategy(b.cfg, b.interceptors...)
	}
	if b.incremental {
		d.strategies[IncrementUpdate] = NewIncrementalStrategy(b.cfg, b.interceptors...)
	}
	for _, s := range b.custom {
		d.strategies[s.Mode()] = s
	}
	return d
}

// Dispatcher routes a save to the strategy registered for its mode.
type Dispatcher struct {
	cfg        Config
	log        observability.Logger
	tracer     observability.Tracer
	strategies map[WriteMode]Strategy
}

// NewDispatcher returns a dispatcher with both built-in strategies.
func NewDispatcher(cfg Config) *Dispatcher {
	return NewDispatcherBuilder(cfg).WithFull().WithIncremental().Build()
}

// Save writes doc to sink and returns the number of bytes handed to it.
//
// For IncrementUpdate, sink must already hold the originalLength bytes of
// the file being updated; offsets in the new section count from there.
// An empty ledger writes nothing. On success the ledger is committed; on
// failure it is left as it was and the output must be discarded.
func (d *Dispatcher) Save(ctx context.Context, mode WriteMode, doc Document, sink io.Writer, originalLength int64) (n int64, err error) {
	strategy, ok := d.strategies[mode]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrUnsupportedMode, mode)
	}
	if doc == nil || sink == nil {
		return 0, errors.New("write: nil document or sink")
	}
	ctx, span := d.tracer.StartSpan(ctx, observability.SpanWrite)
	defer span.Finish()
	span.SetTag(observability.TagMode, mode.String())

	end := doc.BeginSave()
	defer end()

	if mode == IncrementUpdate && doc.Ledger().IsNoChange() {
		d.log.Debug("no changes to append")
		span.SetTag(observability.TagBytesWritten, int64(0))
		return 0, nil
	}

	var base int64
	if mode == IncrementUpdate {
		base = originalLength
	}
	out := sink
	var stage *bytes.Buffer
	if mode == IncrementUpdate && d.cfg.StageIncremental {
		stage = new(bytes.Buffer)
		out = stage
	}
	w := NewPositionWriter(out, base)
	res, err := strategy.Write(ctx, doc, w)
	n = w.Written()
	if stage != nil {
		n = 0
		if err == nil {
			var wn int
			wn, err = sink.Write(stage.Bytes())
			n = int64(wn)
			if err != nil {
				err = &IOError{Op: "flush", Err: err}
			}
		}
	}
	if err != nil {
		span.SetError(err)
		d.log.Error("save failed",
			observability.String("mode", mode.String()),
			observability.Int64("written", n),
			observability.Error("error", err))
		return n, err
	}

	doc.Committed(res.Size, res.XRefOffset, res.ID, mode == FullUpdate)
	span.SetTag(observability.TagBytesWritten, n)
	span.SetTag(observability.TagObjectCount, res.Objects)
	span.SetTag(observability.TagXRefOffset, res.XRefOffset)
	d.log.Info("document saved",
		observability.String("mode", mode.String()),
		observability.Int64("bytes", n),
		observability.Int("objects", res.Objects),
		observability.Int64("xref", res.XRefOffset))
	return n, nil
}

package filters

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/wudi/pdfstore/ir/raw"
)

// Decoder builds a pull-model reader for one filter. Reading returns
// decoded bytes chunk by chunk and io.EOF once the data is exhausted.
type Decoder interface {
	Name() string
	NewReader(r io.Reader, fc FilterContext) (io.Reader, error)
}

// Limits bound a single stream decode.
type Limits struct {
	MaxDecompressedSize int64
	MaxDecodeTime       time.Duration
}

var ErrSizeLimit = errors.New("decompressed size exceeds limit")

// DecodeError reports a failure decoding one stream. It never affects
// other objects of the document.
type DecodeError struct {
	Filter string
	Err    error
}

func (e *DecodeError) Error() string { return fmt.Sprintf("%s: %v", e.Filter, e.Err) }
func (e *DecodeError) Unwrap() error { return e.Err }

// UnsupportedError is returned for filters this package cannot decode,
// such as image codecs. The raw bytes stay usable as they are.
type UnsupportedError struct{ Filter string }

func (e *UnsupportedError) Error() string { return "unsupported filter: " + e.Filter }

// Registry maps filter names to decoders.
type Registry struct{ decoders map[string]Decoder }

func (r *Registry) Register(d Decoder) {
	if r.decoders == nil {
		r.decoders = make(map[string]Decoder)
	}
	r.decoders[d.Name()] = d
}

// Get looks a decoder up by its full name or inline-image abbreviation.
func (r *Registry) Get(name string) (Decoder, bool) {
	if full, ok := abbreviations[name]; ok {
		name = full
	}
	d, ok := r.decoders[name]
	return d, ok
}

var abbreviations = map[string]string{
	"Fl":  "FlateDecode",
	"LZW": "LZWDecode",
	"A85": "ASCII85Decode",
	"AHx": "ASCIIHexDecode",
	"RL":  "RunLengthDecode",
}

type flateDecoder struct{}

func (flateDecoder) Name() string { return "FlateDecode" }
func (flateDecoder) NewReader(r io.Reader, _ FilterContext) (io.Reader, error) {
	return NewFlateReader(r)
}
func NewFlateDecoder() Decoder { return flateDecoder{} }

type lzwDecoder struct{}

func (lzwDecoder) Name() string { return "LZWDecode" }
func (lzwDecoder) NewReader(r io.Reader, fc FilterContext) (io.Reader, error) {
	return NewLZWReader(r, fc.EarlyChange), nil
}
func NewLZWDecoder() Decoder { return lzwDecoder{} }

type ascii85Decoder struct{}

func (ascii85Decoder) Name() string { return "ASCII85Decode" }
func (ascii85Decoder) NewReader(r io.Reader, _ FilterContext) (io.Reader, error) {
	return NewASCII85Reader(r), nil
}
func NewASCII85Decoder() Decoder { return ascii85Decoder{} }

type asciiHexDecoder struct{}

func (asciiHexDecoder) Name() string { return "ASCIIHexDecode" }
func (asciiHexDecoder) NewReader(r io.Reader, _ FilterContext) (io.Reader, error) {
	return NewASCIIHexReader(r), nil
}
func NewASCIIHexDecoder() Decoder { return asciiHexDecoder{} }

type runLengthDecoder struct{}

func (runLengthDecoder) Name() string { return "RunLengthDecode" }
func (runLengthDecoder) NewReader(r io.Reader, _ FilterContext) (io.Reader, error) {
	return NewRunLengthReader(r), nil
}
func NewRunLengthDecoder() Decoder { return runLengthDecoder{} }

// Pipeline chains decoders in /Filter order. Every stage is followed by
// predictor reconstruction driven by that stage's FilterContext.
type Pipeline struct {
	registry Registry
	limits   Limits
}

// NewPipeline constructs a pipeline with provided decoders and limits.
func NewPipeline(decoders []Decoder, limits Limits) *Pipeline {
	p := &Pipeline{limits: limits}
	for _, d := range decoders {
		p.registry.Register(d)
	}
	return p
}

// DefaultPipeline knows every general-purpose filter.
func DefaultPipeline(limits Limits) *Pipeline {
	return NewPipeline([]Decoder{
		NewFlateDecoder(),
		NewLZWDecoder(),
		NewASCII85Decoder(),
		NewASCIIHexDecoder(),
		NewRunLengthDecoder(),
	}, limits)
}

// NewReader stacks one reader per filter over r. parms[i] belongs to
// names[i] and may be nil.
func (p *Pipeline) NewReader(r io.Reader, names []string, parms []*raw.DictObj, imageWidth int) (io.Reader, error) {
	for i, name := range names {
		if name == "Crypt" {
			// handled by the security layer before decoding
			continue
		}
		dec, ok := p.registry.Get(name)
		if !ok {
			return nil, &UnsupportedError{Filter: name}
		}
		var parm *raw.DictObj
		if i < len(parms) {
			parm = parms[i]
		}
		fc := ContextFromParms(parm, imageWidth)
		base, err := dec.NewReader(r, fc)
		if err != nil {
			return nil, &DecodeError{Filter: name, Err: err}
		}
		r, err = NewPredictorReader(base, fc)
		if err != nil {
			return nil, &DecodeError{Filter: name, Err: err}
		}
		r = &stageReader{r: r, name: name}
	}
	return r, nil
}

// Decode runs data through the named filters under the pipeline limits.
func (p *Pipeline) Decode(ctx context.Context, data []byte, names []string, parms []*raw.DictObj) ([]byte, error) {
	return p.decode(ctx, data, names, parms, 0)
}

// DecodeStream decodes a stream according to its /Filter and /DecodeParms.
func (p *Pipeline) DecodeStream(ctx context.Context, s *raw.StreamObj) ([]byte, error) {
	names, parms := ExtractFilters(s.Dict)
	return p.decode(ctx, s.Data, names, parms, ImageWidth(s.Dict))
}

func (p *Pipeline) decode(ctx context.Context, data []byte, names []string, parms []*raw.DictObj, width int) ([]byte, error) {
	if len(names) == 0 {
		return data, nil
	}
	if p.limits.MaxDecodeTime > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.limits.MaxDecodeTime)
		defer cancel()
	}
	r, err := p.NewReader(bytes.NewReader(data), names, parms, width)
	if err != nil {
		return nil, err
	}
	r = &ctxReader{ctx: ctx, r: r}
	if limit := p.limits.MaxDecompressedSize; limit > 0 {
		r = io.LimitReader(r, limit+1)
	}
	out, err := io.ReadAll(r)
	if err != nil {
		var de *DecodeError
		if errors.As(err, &de) {
			return out, err
		}
		return out, &DecodeError{Filter: names[len(names)-1], Err: err}
	}
	if limit := p.limits.MaxDecompressedSize; limit > 0 && int64(len(out)) > limit {
		return nil, &DecodeError{Filter: names[len(names)-1], Err: ErrSizeLimit}
	}
	return out, nil
}

// stageReader attributes read errors to the filter that produced them.
type stageReader struct {
	r    io.Reader
	name string
}

func (s *stageReader) Read(p []byte) (int, error) {
	n, err := s.r.Read(p)
	if err != nil && err != io.EOF {
		var de *DecodeError
		if !errors.As(err, &de) {
			err = &DecodeError{Filter: s.name, Err: err}
		}
	}
	return n, err
}

type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}

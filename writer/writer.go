// Package writer persists a loaded document, either as a full rewrite or
// as an incremental update appended after the original bytes.
package writer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/wudi/pdfstore/ir/raw"
	"github.com/wudi/pdfstore/ledger"
	"github.com/wudi/pdfstore/observability"
	"github.com/wudi/pdfstore/security"
	"github.com/wudi/pdfstore/source"
	"github.com/wudi/pdfstore/xref"
)

// WriteMode selects the persistence strategy.
type WriteMode int

const (
	FullUpdate WriteMode = iota
	IncrementUpdate
)

func (m WriteMode) String() string {
	switch m {
	case FullUpdate:
		return "full"
	case IncrementUpdate:
		return "incremental"
	}
	return fmt.Sprintf("mode(%d)", int(m))
}

// ParseWriteMode accepts the names String returns.
func ParseWriteMode(s string) (WriteMode, error) {
	switch s {
	case "full":
		return FullUpdate, nil
	case "incremental", "increment":
		return IncrementUpdate, nil
	}
	return 0, fmt.Errorf("unknown write mode %q", s)
}

type ContentFilter int

const (
	FilterNone ContentFilter = iota
	FilterFlate
	FilterLZW
	FilterASCIIHex
	FilterASCII85
	FilterRunLength
)

func (f ContentFilter) String() string {
	switch f {
	case FilterNone:
		return "none"
	case FilterFlate:
		return "flate"
	case FilterLZW:
		return "lzw"
	case FilterASCIIHex:
		return "asciihex"
	case FilterASCII85:
		return "ascii85"
	case FilterRunLength:
		return "runlength"
	}
	return fmt.Sprintf("filter(%d)", int(f))
}

// ParseContentFilter accepts the names String returns.
func ParseContentFilter(s string) (ContentFilter, error) {
	for f := FilterNone; f <= FilterRunLength; f++ {
		if f.String() == s {
			return f, nil
		}
	}
	return FilterNone, fmt.Errorf("unknown content filter %q", s)
}

type Config struct {
	// Version is the lowest header version a full rewrite declares.
	Version       string
	Deterministic bool
	// ObjectStreams packs objects into object streams on a full rewrite
	// of a document that already uses xref streams.
	ObjectStreams bool
	// StageIncremental buffers an incremental update and hands it to the
	// sink in one Write, so a failure never leaves a partial section.
	StageIncremental bool
	// ContentFilter encodes edited streams that carry no filter.
	ContentFilter    ContentFilter
	CompressionLevel int
	Logger           observability.Logger
	Tracer           observability.Tracer
	Now              func() time.Time
}

var (
	ErrUnsupportedMode = errors.New("write mode not supported by this dispatcher")
	// ErrRepairedSource is returned when appending to a file whose
	// cross-reference data had to be rebuilt; its /Prev chain is unusable.
	ErrRepairedSource = errors.New("incremental update of a repaired file; use a full rewrite")
)

// IOError wraps a failure of the output sink.
type IOError struct {
	Op  string
	Err error
}

func (e *IOError) Error() string { return fmt.Sprintf("write: %s: %v", e.Op, e.Err) }
func (e *IOError) Unwrap() error { return e.Err }

// Document is what the writers need from a loaded document.
type Document interface {
	Trailer() xref.Trailer
	Table() *xref.Table
	Version() string
	Ledger() *ledger.Ledger
	Security() security.Handler
	Source() *source.Source
	Object(ctx context.Context, ref raw.ObjectRef) (raw.Object, error)
	Change(num uint32) (ledger.Change, bool)
	LiveObjects() []raw.ObjectRef
	BeginSave() (end func())
	Committed(size uint32, xrefOffset int64, id [2][]byte, full bool)
}

// Interceptor observes every object a save writes.
type Interceptor interface {
	BeforeWrite(ctx context.Context, ref raw.ObjectRef, obj raw.Object) error
	AfterWrite(ctx context.Context, ref raw.ObjectRef, obj raw.Object, bytesWritten int64) error
}

// Result describes a finished save.
type Result struct {
	Size       uint32
	XRefOffset int64
	ID         [2][]byte
	Objects    int
}

// Strategy writes one kind of save to w, whose offsets are absolute in
// the final file.
type Strategy interface {
	Mode() WriteMode
	Write(ctx context.Context, doc Document, w *PositionWriter) (Result, error)
}

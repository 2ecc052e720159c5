package xref

import "fmt"

// ErrorKind classifies a structural defect found while loading.
type ErrorKind int

const (
	BadEncoding ErrorKind = iota + 1
	MissingXref
	PartialXref
	BadObjectOffset
)

func (k ErrorKind) String() string {
	switch k {
	case BadEncoding:
		return "bad encoding"
	case MissingXref:
		return "missing xref"
	case PartialXref:
		return "partial xref"
	case BadObjectOffset:
		return "bad object offset"
	default:
		return "unknown"
	}
}

// StructuralError reports malformed cross-reference or object-stream data.
// A load that fails with it must be discarded.
type StructuralError struct {
	Kind   ErrorKind
	Offset int64
	Object uint32
	Err    error
}

func (e *StructuralError) Error() string {
	msg := fmt.Sprintf("pdf structure: %s at offset %d", e.Kind, e.Offset)
	if e.Object != 0 {
		msg += fmt.Sprintf(" (object %d)", e.Object)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *StructuralError) Unwrap() error { return e.Err }

func structural(kind ErrorKind, off int64, format string, args ...any) *StructuralError {
	return &StructuralError{Kind: kind, Offset: off, Err: fmt.Errorf(format, args...)}
}

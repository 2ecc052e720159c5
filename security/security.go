package security

import (
	"errors"
	"fmt"

	"github.com/wudi/pdfstore/ir/raw"
)

// DataClass identifies the kind of payload being encrypted or decrypted.
type DataClass int

const (
	DataClassStream DataClass = iota
	DataClassString
	DataClassMetadataStream
)

// Handler is the security collaborator. From this module's point of view it
// is an opaque byte transform keyed by the owning object's reference.
type Handler interface {
	IsEncrypted() bool
	Authenticate(password string) error
	Decrypt(ref raw.ObjectRef, data []byte, class DataClass) ([]byte, error)
	Encrypt(ref raw.ObjectRef, data []byte, class DataClass) ([]byte, error)
	EncryptMetadata() bool
}

// Factory builds a Handler for a document's /Encrypt dictionary.
// fileID is the first element of the trailer /ID, or nil.
type Factory func(encrypt *raw.DictObj, fileID []byte) (Handler, error)

var (
	// ErrEncrypted is returned when a document is encrypted and no handler
	// factory was configured to open it.
	ErrEncrypted = errors.New("document is encrypted")
	// ErrBadCredentials is returned by handlers when authentication fails.
	ErrBadCredentials = errors.New("incorrect or missing credentials")
)

// Error marks failures of the security layer so callers can tell them
// apart from structural problems.
type Error struct {
	Op  string
	Err error
}

func (e *Error) Error() string { return fmt.Sprintf("security: %s: %v", e.Op, e.Err) }
func (e *Error) Unwrap() error { return e.Err }

// IsSecurityError reports whether err carries a security failure.
func IsSecurityError(err error) bool {
	var se *Error
	return errors.As(err, &se)
}

type noopHandler struct{}

// NoopHandler returns a handler for unencrypted documents.
func NoopHandler() Handler { return noopHandler{} }

func (noopHandler) IsEncrypted() bool         { return false }
func (noopHandler) Authenticate(string) error { return nil }
func (noopHandler) EncryptMetadata() bool     { return false }
func (noopHandler) Decrypt(_ raw.ObjectRef, data []byte, _ DataClass) ([]byte, error) {
	return data, nil
}
func (noopHandler) Encrypt(_ raw.ObjectRef, data []byte, _ DataClass) ([]byte, error) {
	return data, nil
}

// IsMetadataStream reports whether dict describes an XMP metadata stream.
func IsMetadataStream(dict *raw.DictObj) bool {
	t, ok := dict.GetName("Type")
	return ok && t == "Metadata"
}

// ClassFor picks the data class for a stream owned by dict.
func ClassFor(dict *raw.DictObj) DataClass {
	if IsMetadataStream(dict) {
		return DataClassMetadataStream
	}
	return DataClassStream
}

// SkipsStream reports whether a stream must be left untransformed: xref
// streams are never encrypted, and metadata may be exempt.
func SkipsStream(h Handler, dict *raw.DictObj) bool {
	if h == nil || !h.IsEncrypted() {
		return true
	}
	if t, ok := dict.GetName("Type"); ok && t == "XRef" {
		return true
	}
	if IsMetadataStream(dict) && !h.EncryptMetadata() {
		return true
	}
	if names, ok := dict.Get("Filter"); ok {
		if n, ok := names.(raw.NameObj); ok && n.Val == "Crypt" {
			if parms, ok := dict.GetDict("DecodeParms"); ok {
				if name, ok := parms.GetName("Name"); ok && name == "Identity" {
					return true
				}
			}
		}
	}
	return false
}

// Package ledger records the objects added, modified and deleted since a
// document was loaded. It is the source of truth for what a save writes.
//
// A Ledger is not safe for concurrent use; edits and saves must be
// serialized by the caller.
package ledger

import (
	"errors"
	"fmt"
	"sort"

	"github.com/wudi/pdfstore/ir/raw"
)

// Kind is the kind of a recorded change.
type Kind int

const (
	Added Kind = iota + 1
	Modified
	Deleted
)

func (k Kind) String() string {
	switch k {
	case Added:
		return "added"
	case Modified:
		return "modified"
	case Deleted:
		return "deleted"
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

var (
	ErrReservedObject = errors.New("object 0 is reserved")
	ErrNilObject      = errors.New("change needs an object")
)

// Change is one entry of the ledger. Deleted changes carry no object; Ref
// keeps the generation the object had so writers can retire it.
type Change struct {
	Kind   Kind
	Ref    raw.ObjectRef
	Object raw.Object
}

// PObject returns the payload of an Added or Modified change.
func (c Change) PObject() (raw.PObject, bool) {
	if c.Kind == Deleted || c.Object == nil {
		return raw.PObject{}, false
	}
	return raw.PObject{Ref: c.Ref, Object: c.Object}, true
}

// Ledger maps object numbers to their latest change and allocates new
// object numbers. Numbers handed out are never handed out again, even if
// the object is deleted in the same session.
type Ledger struct {
	changes map[uint32]Change
	next    uint32
}

// New returns an empty ledger whose allocator starts at size, the trailer
// /Size of the loaded document.
func New(size uint32) *Ledger {
	if size < 1 {
		size = 1
	}
	return &Ledger{changes: make(map[uint32]Change), next: size}
}

// RecordAdded records a newly created object.
func (l *Ledger) RecordAdded(ref raw.ObjectRef, obj raw.Object) error {
	return l.record(Change{Kind: Added, Ref: ref, Object: obj})
}

// RecordModified records a new value for an existing object. Modifying an
// object added in this session keeps it Added.
func (l *Ledger) RecordModified(ref raw.ObjectRef, obj raw.Object) error {
	kind := Modified
	if prev, ok := l.changes[ref.Num]; ok && prev.Kind == Added {
		kind = Added
	}
	return l.record(Change{Kind: kind, Ref: ref, Object: obj})
}

// RecordDeleted records a tombstone for ref.
func (l *Ledger) RecordDeleted(ref raw.ObjectRef) error {
	if ref.Num == 0 {
		return ErrReservedObject
	}
	l.changes[ref.Num] = Change{Kind: Deleted, Ref: ref}
	l.observe(ref.Num)
	return nil
}

func (l *Ledger) record(c Change) error {
	if c.Ref.Num == 0 {
		return ErrReservedObject
	}
	if c.Object == nil {
		return ErrNilObject
	}
	// last write wins; one change per object number
	l.changes[c.Ref.Num] = c
	l.observe(c.Ref.Num)
	return nil
}

func (l *Ledger) observe(num uint32) {
	if num >= l.next {
		l.next = num + 1
	}
}

// Allocate reserves a fresh object number with generation 0.
func (l *Ledger) Allocate() raw.ObjectRef {
	ref := raw.ObjectRef{Num: l.next}
	l.next++
	return ref
}

// NextNumber returns the number Allocate would hand out next. It is also
// the /Size a save must declare.
func (l *Ledger) NextNumber() uint32 { return l.next }

// IsNoChange reports whether nothing was recorded since the last commit.
func (l *Ledger) IsNoChange() bool { return len(l.changes) == 0 }

func (l *Ledger) Len() int { return len(l.changes) }

// Get returns the latest change recorded for num.
func (l *Ledger) Get(num uint32) (Change, bool) {
	c, ok := l.changes[num]
	return c, ok
}

// Sorted returns the changes in strictly increasing object number order.
func (l *Ledger) Sorted() []Change {
	out := make([]Change, 0, len(l.changes))
	for _, c := range l.changes {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Ref.Num < out[j].Ref.Num })
	return out
}

// Commit clears the ledger after a successful save and makes sure the
// allocator never goes below size. A failed save must not call it.
func (l *Ledger) Commit(size uint32) {
	clear(l.changes)
	if size > l.next {
		l.next = size
	}
}

package ledger

import (
	"errors"
	"math/rand"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/wudi/pdfstore/ir/raw"
)

func TestSortedStrictlyIncreasingWithoutDuplicates(t *testing.T) {
	l := New(50)
	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 500; i++ {
		ref := raw.ObjectRef{Num: uint32(rng.Intn(40) + 1)}
		switch rng.Intn(3) {
		case 0:
			_ = l.RecordAdded(ref, raw.NumberInt(int64(i)))
		case 1:
			_ = l.RecordModified(ref, raw.NumberInt(int64(i)))
		default:
			_ = l.RecordDeleted(ref)
		}
	}
	sorted := l.Sorted()
	if len(sorted) != l.Len() {
		t.Fatalf("sorted has %d changes, ledger %d", len(sorted), l.Len())
	}
	for i := 1; i < len(sorted); i++ {
		if sorted[i-1].Ref.Num >= sorted[i].Ref.Num {
			t.Fatalf("not strictly increasing at %d: %d then %d", i, sorted[i-1].Ref.Num, sorted[i].Ref.Num)
		}
	}
}

func TestLastWriteWins(t *testing.T) {
	l := New(10)
	ref := raw.ObjectRef{Num: 3}
	if err := l.RecordModified(ref, raw.NumberInt(1)); err != nil {
		t.Fatalf("record: %v", err)
	}
	if err := l.RecordModified(ref, raw.NumberInt(2)); err != nil {
		t.Fatalf("record: %v", err)
	}
	got := l.Sorted()
	want := []Change{{Kind: Modified, Ref: ref, Object: raw.NumberInt(2)}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("changes (-want +got):\n%s", diff)
	}

	if err := l.RecordDeleted(ref); err != nil {
		t.Fatalf("delete: %v", err)
	}
	c, _ := l.Get(3)
	if c.Kind != Deleted || c.Object != nil {
		t.Fatalf("expected tombstone, got %+v", c)
	}
	if _, ok := c.PObject(); ok {
		t.Fatalf("tombstone must not carry a payload")
	}
}

func TestModifyingAddedObjectStaysAdded(t *testing.T) {
	l := New(5)
	ref := l.Allocate()
	_ = l.RecordAdded(ref, raw.Dict())
	_ = l.RecordModified(ref, raw.NumberInt(9))
	c, _ := l.Get(ref.Num)
	if c.Kind != Added {
		t.Fatalf("expected added, got %v", c.Kind)
	}
	if p, ok := c.PObject(); !ok || p.Object != raw.NumberInt(9) {
		t.Fatalf("unexpected payload %+v", p)
	}
}

func TestAllocatorNeverReuses(t *testing.T) {
	l := New(4)
	if l.NextNumber() != 4 {
		t.Fatalf("allocator should start at size, got %d", l.NextNumber())
	}
	a := l.Allocate()
	_ = l.RecordAdded(a, raw.Dict())
	_ = l.RecordDeleted(a)
	b := l.Allocate()
	if a.Num == b.Num {
		t.Fatalf("number %d reused", a.Num)
	}
	if a != (raw.ObjectRef{Num: 4}) || b != (raw.ObjectRef{Num: 5}) {
		t.Fatalf("unexpected refs %v %v", a, b)
	}

	// recording beyond the allocator moves it
	_ = l.RecordModified(raw.ObjectRef{Num: 20}, raw.NullObj{})
	if got := l.Allocate().Num; got != 21 {
		t.Fatalf("expected 21, got %d", got)
	}
}

func TestCommit(t *testing.T) {
	l := New(3)
	if !l.IsNoChange() {
		t.Fatalf("fresh ledger must be empty")
	}
	_ = l.RecordAdded(l.Allocate(), raw.Dict())
	if l.IsNoChange() {
		t.Fatalf("ledger should report changes")
	}
	l.Commit(10)
	if !l.IsNoChange() || l.Len() != 0 {
		t.Fatalf("commit should clear")
	}
	if l.NextNumber() != 10 {
		t.Fatalf("commit should raise the allocator floor, got %d", l.NextNumber())
	}
	l.Commit(2)
	if l.NextNumber() != 10 {
		t.Fatalf("commit must never lower the allocator")
	}
}

func TestRejectsInvalidChanges(t *testing.T) {
	l := New(1)
	if err := l.RecordAdded(raw.ObjectRef{}, raw.Dict()); !errors.Is(err, ErrReservedObject) {
		t.Fatalf("expected reserved error, got %v", err)
	}
	if err := l.RecordDeleted(raw.ObjectRef{}); !errors.Is(err, ErrReservedObject) {
		t.Fatalf("expected reserved error, got %v", err)
	}
	if err := l.RecordModified(raw.ObjectRef{Num: 1}, nil); !errors.Is(err, ErrNilObject) {
		t.Fatalf("expected nil object error, got %v", err)
	}
	if !l.IsNoChange() {
		t.Fatalf("rejected changes must not be recorded")
	}
}

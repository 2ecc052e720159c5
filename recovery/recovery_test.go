package recovery

import (
	"context"
	"errors"
	"testing"
)

func TestStrictStrategyFails(t *testing.T) {
	s := NewStrictStrategy()
	if got := s.OnError(context.Background(), errors.New("boom"), Location{}); got != ActionFail {
		t.Fatalf("strict action = %v", got)
	}
}

func TestLenientStrategyRecords(t *testing.T) {
	s := NewLenientStrategy()
	act := s.OnError(context.Background(), errors.New("broken xref"), Location{Component: "xref", ByteOffset: 42})
	if !act.Continues() {
		t.Fatalf("lenient strategy should continue, got %v", act)
	}
	errs := s.Recorded()
	if len(errs) != 1 {
		t.Fatalf("expected 1 recorded error, got %d", len(errs))
	}
	if errs[0].Error() != "[xref] offset 42: broken xref" {
		t.Fatalf("unexpected message %q", errs[0])
	}
}

func TestDecideNilStrategy(t *testing.T) {
	if got := Decide(context.Background(), nil, errors.New("x"), Location{}); got != ActionFail {
		t.Fatalf("nil strategy should fail, got %v", got)
	}
}

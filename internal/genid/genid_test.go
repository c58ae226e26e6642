package genid

import (
	"context"
	"testing"
)

func TestContextRoundTrip(t *testing.T) {
	ctx := NewContext(context.Background(), 7)
	got, ok := FromContext(ctx)
	if !ok || got != 7 {
		t.Fatalf("expected 7 from context, got %d ok=%v", got, ok)
	}
	if _, ok := FromContext(context.Background()); ok {
		t.Fatalf("unexpected generation in empty context")
	}
}

func TestSourceNextMonotonic(t *testing.T) {
	var s Source
	var prev uint64
	for i := 0; i < 5; i++ {
		next := s.Next()
		if next <= prev {
			t.Fatalf("expected strictly increasing generations, got %d after %d", next, prev)
		}
		prev = next
	}
}

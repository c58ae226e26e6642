// Package genid carries a monotonic generation number through a
// context.Context. Grounded on internal/reqid/reqid.go's context-key
// pattern, changed from a random per-request id to an atomically
// incremented generation counter: the dependency index (C7, spec.md §4.7)
// uses generations, not unique ids, to detect and break reexecution loops
// (an operation must never reexecute itself from within its own
// generation).
package genid

import (
	"context"
	"sync/atomic"
)

type key struct{}

// Source issues strictly increasing generation numbers.
type Source struct {
	counter atomic.Uint64
}

// Next allocates the next generation number, starting at 1.
func (s *Source) Next() uint64 {
	return s.counter.Add(1)
}

// NewContext returns a copy of parent carrying generation gen.
func NewContext(parent context.Context, gen uint64) context.Context {
	return context.WithValue(parent, key{}, gen)
}

// FromContext extracts the generation stored in ctx, if any.
func FromContext(ctx context.Context) (uint64, bool) {
	v := ctx.Value(key{})
	gen, ok := v.(uint64)
	return gen, ok
}

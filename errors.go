package graphcache

import "fmt"

// CacheOutcome tags how much of an emitted result came from the store
// (spec.md §7, §8).
type CacheOutcome string

const (
	OutcomeHit     CacheOutcome = "hit"
	OutcomeMiss    CacheOutcome = "miss"
	OutcomePartial CacheOutcome = "partial"
)

// InvariantViolation is reported via the logger, never returned to a
// caller, when the store sees a record/link conflict or a missing typename
// where one was required to resolve an abstract type (spec.md §7.1).
type InvariantViolation struct {
	Kind      string // "record-link-conflict" | "missing-typename"
	EntityKey string
	FieldKey  string
}

func (e *InvariantViolation) Error() string {
	return fmt.Sprintf("graphcache: invariant violation (%s) at %s.%s", e.Kind, e.EntityKey, e.FieldKey)
}

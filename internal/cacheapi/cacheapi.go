// Package cacheapi declares the interface user callbacks (resolvers,
// updaters, optimistic responses) use to read from and write to the cache
// from inside their own logic (spec.md §6 CacheAPI). It is intentionally a
// leaf package: it has no dependency on the store/read/write traversal
// packages that implement it, so those packages can depend on cacheapi for
// callback types without an import cycle. The concrete implementation lives
// in the root graphcache package, which does own those dependencies.
package cacheapi

import "github.com/graphcache/graphcache/internal/language"

// Outcome classifies how much of a read was satisfied from the store
// (spec.md §4.5/§7.1).
type Outcome int

const (
	Hit Outcome = iota
	Partial
	Miss
)

func (o Outcome) String() string {
	switch o {
	case Hit:
		return "hit"
	case Partial:
		return "partial"
	default:
		return "miss"
	}
}

// ResolveInfo is passed to every user callback so it knows which field
// invocation it is running for (spec.md §6.1).
type ResolveInfo struct {
	ParentKey string
	Typename  string
	FieldName string
	FieldKey  string
	Args      map[string]any
}

// API is the handle user callbacks receive. Every write it performs is
// queued into whichever write transaction is currently open (spec.md §5.1);
// calling a write method outside of a resolver/updater/optimistic callback
// is a programmer error the implementation is free to panic on.
type API interface {
	// ReadFragment reads selectionSet against entityKey, typed as typename.
	ReadFragment(typename, entityKey string, selectionSet language.SelectionSet, variables map[string]any) (data map[string]any, outcome Outcome)
	// ReadQuery reads a previously registered operation's selection against
	// its cached root.
	ReadQuery(operationKey string) (data map[string]any, outcome Outcome)
	// WriteFragment decomposes data into the store as if it were the result
	// of querying selectionSet against entityKey.
	WriteFragment(typename, entityKey string, selectionSet language.SelectionSet, data map[string]any)
	// UpdateQuery rewrites a previously cached operation's root result.
	UpdateQuery(operationKey string, fn func(current map[string]any) map[string]any)
	// Invalidate removes entityOrKey's cached fields. When fieldName is ""
	// every field is removed; when args is nil every argument variant of
	// fieldName is removed; otherwise only the exact variant (SPEC_FULL.md
	// §9.2).
	Invalidate(entityKey, fieldName string, args map[string]any)
	// InspectFields returns every FieldKey ever recorded for entityKey
	// (SPEC_FULL.md §9.2).
	InspectFields(entityKey string) []string
	// KeyOfEntity derives the EntityKey obj would be stored under.
	KeyOfEntity(typename string, obj map[string]any) (string, bool)
	// Resolve looks up a single field's current cached value without
	// walking a full selection.
	Resolve(typename, entityKey, fieldName string, args map[string]any) (value any, ok bool)
}

// ResolverFunc backs a client-defined field resolver (spec.md §6.1). When one
// is registered for a field, the read traversal calls it instead of reading
// the store and uses its return value as the field's value; that value is
// not written to the store.
type ResolverFunc func(parent map[string]any, args map[string]any, c API, info ResolveInfo) any

// UpdateFunc runs after a mutation/subscription result is written, letting
// the caller fold it into other cached queries (spec.md §6.1, §4.4).
type UpdateFunc func(result any, args map[string]any, c API, info ResolveInfo)

// OptimisticFunc computes a mutation's optimistic response before the real
// result is known (spec.md §4.6).
type OptimisticFunc func(args map[string]any, c API, info ResolveInfo) map[string]any

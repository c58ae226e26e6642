// Package depindex implements the dependency index and reexecution trigger
// (C7, spec.md §4.7): it remembers which operations read which
// (EntityKey, FieldKey) pairs and which typenames, so a write can compute
// the set of other live operations that need to reread the store. Loop
// protection rides on internal/genid: an operation reexecuted at generation
// g never triggers another reexecution at a generation <= g.
package depindex

import "sync"

// Index tracks operation dependencies and drives reexecution.
type Index struct {
	mu sync.Mutex

	byField    map[string]map[string]map[string]bool // entityKey -> fieldKey -> operationKey
	byTypename map[string]map[string]bool             // typename -> operationKey

	lastGeneration map[string]uint64 // operationKey -> generation it was last (re)executed at
}

func New() *Index {
	return &Index{
		byField:        make(map[string]map[string]map[string]bool),
		byTypename:     make(map[string]map[string]bool),
		lastGeneration: make(map[string]uint64),
	}
}

// Record replaces operationKey's dependency set with deps/typenames,
// discarding whatever it depended on before (an operation's dependencies
// are exactly what its most recent read touched, spec.md §4.7).
func (idx *Index) Record(operationKey string, deps map[string]map[string]bool, typenames map[string]bool, generation uint64) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	idx.forget(operationKey)

	for entityKey, fields := range deps {
		for fieldKey := range fields {
			byField := idx.byField[entityKey]
			if byField == nil {
				byField = make(map[string]map[string]bool)
				idx.byField[entityKey] = byField
			}
			ops := byField[fieldKey]
			if ops == nil {
				ops = make(map[string]bool)
				byField[fieldKey] = ops
			}
			ops[operationKey] = true
		}
	}
	for typename := range typenames {
		ops := idx.byTypename[typename]
		if ops == nil {
			ops = make(map[string]bool)
			idx.byTypename[typename] = ops
		}
		ops[operationKey] = true
	}
	idx.lastGeneration[operationKey] = generation
}

// Forget removes operationKey from the index entirely (spec.md "Teardown").
func (idx *Index) Forget(operationKey string) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.forget(operationKey)
	delete(idx.lastGeneration, operationKey)
}

func (idx *Index) forget(operationKey string) {
	for entityKey, byField := range idx.byField {
		for fieldKey, ops := range byField {
			delete(ops, operationKey)
			if len(ops) == 0 {
				delete(byField, fieldKey)
			}
		}
		if len(byField) == 0 {
			delete(idx.byField, entityKey)
		}
	}
	for typename, ops := range idx.byTypename {
		delete(ops, operationKey)
		if len(ops) == 0 {
			delete(idx.byTypename, typename)
		}
	}
}

// Triggered returns every operation key that depends on at least one
// touched (EntityKey, FieldKey) pair or one invalidated typename, excluding
// operations already executed at generation >= currentGeneration (loop
// protection, spec.md §4.7 "no operation reexecutes itself within the same
// write's generation").
func (idx *Index) Triggered(touched map[string]map[string]bool, invalidatedTypes map[string]bool, currentGeneration uint64) []string {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	seen := make(map[string]bool)
	var result []string
	add := func(operationKey string) {
		if seen[operationKey] {
			return
		}
		if idx.lastGeneration[operationKey] >= currentGeneration {
			return
		}
		seen[operationKey] = true
		result = append(result, operationKey)
	}

	for entityKey, fields := range touched {
		byField := idx.byField[entityKey]
		for fieldKey := range fields {
			for operationKey := range byField[fieldKey] {
				add(operationKey)
			}
		}
	}
	for typename := range invalidatedTypes {
		for operationKey := range idx.byTypename[typename] {
			add(operationKey)
		}
	}
	return result
}

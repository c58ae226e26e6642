// Package store implements the normalized, layered record/link store (C2):
// spec.md §3 (data model) and §4.2 (Store operations). It is single-writer
// (spec.md §5.1): exactly one write transaction may be open at a time,
// enforced with a writing flag so a nested Write call panics instead of
// corrupting a layer's maps.
package store

import (
	"sync"
)

// Null is the sentinel Link target for an explicit null link (spec.md §3).
const Null = nullTarget("null")

type nullTarget string

// LayerKind classifies a layer (spec.md §3 "LayerKind").
type LayerKind int

const (
	KindBase LayerKind = iota
	KindOptimistic
	KindCommutative
)

// Layer is a named overlay of records and links (spec.md §3 "Layer").
type Layer struct {
	Name string
	Kind LayerKind

	// MutationKey is set for KindOptimistic layers.
	MutationKey string
	// OperationKey/Order are set for KindCommutative layers.
	OperationKey string
	Order        int64

	records map[string]map[string]any   // entityKey -> fieldKey -> value (nil means explicit null)
	links   map[string]map[string]*Link // entityKey -> fieldKey -> link
}

// LinkKind distinguishes the three Link shapes (spec.md §3 "Link").
type LinkKind int

const (
	LinkSingle LinkKind = iota
	LinkList
	LinkNull
)

// Link is a reference stored under (EntityKey, FieldKey) (spec.md §3).
type Link struct {
	Kind LinkKind
	// Single holds the target entity key when Kind == LinkSingle.
	Single string
	// List holds target entity keys when Kind == LinkList; a "" entry
	// represents a null item in the list.
	List []string
}

func newLayer(name string, kind LayerKind) *Layer {
	return &Layer{
		Name:    name,
		Kind:    kind,
		records: make(map[string]map[string]any),
		links:   make(map[string]map[string]*Link),
	}
}

// Store holds the ordered layer stack and the dependency-touched bookkeeping
// for the transaction currently open, if any.
type Store struct {
	mu sync.Mutex

	base   *Layer
	layers []*Layer // ordered top-to-bottom, base excluded; see Layers()

	// knownFields tracks every FieldKey ever written for an EntityKey, across
	// all layers, so invalidateEntity/gc/inspectFields don't need to scan.
	knownFields map[string]map[string]bool

	// generation bumps every time any field of an entity is written or
	// invalidated. The read traversal (C5) uses it to decide whether a
	// previously built result subtree for that entity can be reused as-is
	// (spec.md §4.5 reference-reuse) instead of rebuilt.
	generation map[string]uint64

	writing bool // single-writer assertion
}

// New creates a Store with only the base layer.
func New() *Store {
	return &Store{
		base:        newLayer("base", KindBase),
		knownFields: make(map[string]map[string]bool),
		generation:  make(map[string]uint64),
	}
}

// Generation returns the current write generation of entityKey. Two reads
// observing the same generation for every entity a subtree depends on are
// guaranteed to see the same data for that subtree.
func (s *Store) Generation(entityKey string) uint64 {
	return s.generation[entityKey]
}

// Layers returns the current read order, top to bottom, base last (spec.md
// §4.6 "[optimistic*, commutative*(desc order), base]").
func (s *Store) Layers() []*Layer {
	ordered := make([]*Layer, 0, len(s.layers)+1)
	ordered = append(ordered, s.layers...)
	ordered = append(ordered, s.base)
	return ordered
}

func (s *Store) trackField(entityKey, fieldKey string) {
	fields := s.knownFields[entityKey]
	if fields == nil {
		fields = make(map[string]bool)
		s.knownFields[entityKey] = fields
	}
	fields[fieldKey] = true
	s.generation[entityKey]++
}

// KnownFields returns every FieldKey ever recorded for entityKey, across all
// layers (backs CacheAPI.inspectFields, SPEC_FULL.md §9.2).
func (s *Store) KnownFields(entityKey string) []string {
	fields := s.knownFields[entityKey]
	out := make([]string, 0, len(fields))
	for f := range fields {
		out = append(out, f)
	}
	return out
}

// NewLayer allocates an unattached layer; the layer controller (C6) decides
// where it sits in the stack before calling AddLayer.
func NewLayer(name string, kind LayerKind) *Layer { return newLayer(name, kind) }

// AddLayer inserts layer at position pos in the non-base stack (0 is the
// topmost, read first). The layer controller (internal/layering) owns
// choosing pos so optimistic layers stay above commutative ones and
// commutative layers stay ordered by arrival (spec.md §4.6).
func (s *Store) AddLayer(layer *Layer, pos int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if pos < 0 || pos > len(s.layers) {
		pos = len(s.layers)
	}
	s.layers = append(s.layers, nil)
	copy(s.layers[pos+1:], s.layers[pos:])
	s.layers[pos] = layer
}

// RemoveLayer discards layer by name without merging it into base (used to
// roll back a failed or superseded optimistic layer, spec.md §4.6). It
// returns every (EntityKey, FieldKey) the layer held, bumping those
// entities' generations, since whatever was visible through it (an
// optimistic value) has just reverted to whatever lies beneath — callers
// feed the result to the dependency index so dependents reread and observe
// the reverted value (spec.md §7.1 "Mutation failures... discarded").
func (s *Store) RemoveLayer(name string) map[string]map[string]bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, l := range s.layers {
		if l.Name == name {
			s.layers = append(s.layers[:i], s.layers[i+1:]...)
			return s.touchedOf(l)
		}
	}
	return nil
}

// CommitLayer merges layer's records and links into base, in place, and
// removes it from the stack. Squashing into base is what makes a resolved
// commutative or mutation-confirmed optimistic layer's effects permanent
// (spec.md §4.6). It returns every (EntityKey, FieldKey) merged, bumping
// those entities' generations so reference-reuse (§4.5) and the dependency
// index (§4.7) both see the change.
func (s *Store) CommitLayer(name string) map[string]map[string]bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx := -1
	var layer *Layer
	for i, l := range s.layers {
		if l.Name == name {
			idx, layer = i, l
			break
		}
	}
	if layer == nil {
		return nil
	}
	for entityKey, fields := range layer.records {
		dst := s.base.records[entityKey]
		if dst == nil {
			dst = make(map[string]any)
			s.base.records[entityKey] = dst
		}
		for fieldKey, v := range fields {
			dst[fieldKey] = v
		}
	}
	for entityKey, links := range layer.links {
		dst := s.base.links[entityKey]
		if dst == nil {
			dst = make(map[string]*Link)
			s.base.links[entityKey] = dst
		}
		for fieldKey, v := range links {
			dst[fieldKey] = v
		}
	}
	touched := s.touchedOf(layer)
	s.layers = append(s.layers[:idx], s.layers[idx+1:]...)
	return touched
}

// touchedOf returns every (EntityKey, FieldKey) layer holds and bumps each
// entity's generation once. Callers hold s.mu.
func (s *Store) touchedOf(layer *Layer) map[string]map[string]bool {
	touched := make(map[string]map[string]bool)
	bump := func(entityKey, fieldKey string) {
		fields := touched[entityKey]
		if fields == nil {
			fields = make(map[string]bool)
			touched[entityKey] = fields
		}
		fields[fieldKey] = true
	}
	for entityKey, fields := range layer.records {
		for fieldKey := range fields {
			bump(entityKey, fieldKey)
		}
	}
	for entityKey, links := range layer.links {
		for fieldKey := range links {
			bump(entityKey, fieldKey)
		}
	}
	for entityKey := range touched {
		s.generation[entityKey]++
	}
	return touched
}

// Layer looks up a non-base layer by name.
func (s *Store) Layer(name string) *Layer {
	for _, l := range s.layers {
		if l.Name == name {
			return l
		}
	}
	return nil
}

// LayerHasAnyEntity reports whether layer (by name) holds any field at all
// for one of entityKeys, used to decide whether a query overlaps an
// in-flight optimistic mutation (spec.md §4.8 "overlapping mutation
// optimistic layer").
func (s *Store) LayerHasAnyEntity(name string, entityKeys map[string]bool) bool {
	l := s.Layer(name)
	if l == nil {
		return false
	}
	for entityKey := range entityKeys {
		if _, ok := l.records[entityKey]; ok {
			return true
		}
		if _, ok := l.links[entityKey]; ok {
			return true
		}
	}
	return false
}

// ReadRecord reads (entityKey, fieldKey) through the full layer stack,
// top to bottom. ok is false when no layer has written under the key at all
// ("undefined", spec.md §3); value is nil both for "undefined" and for an
// explicit null record, distinguished by ok.
func (s *Store) ReadRecord(entityKey, fieldKey string) (value any, ok bool) {
	return s.readRecordThrough(s.Layers(), entityKey, fieldKey)
}

// ReadLink mirrors ReadRecord for links.
func (s *Store) ReadLink(entityKey, fieldKey string) (link *Link, ok bool) {
	return s.readLinkThrough(s.Layers(), entityKey, fieldKey)
}

func (s *Store) readRecordThrough(layers []*Layer, entityKey, fieldKey string) (any, bool) {
	for _, l := range layers {
		if fields, ok := l.records[entityKey]; ok {
			if v, ok := fields[fieldKey]; ok {
				return v, true
			}
		}
		if links, ok := l.links[entityKey]; ok {
			if _, ok := links[fieldKey]; ok {
				// A link shadows any lower-layer record under the same key.
				return nil, false
			}
		}
	}
	return nil, false
}

func (s *Store) readLinkThrough(layers []*Layer, entityKey, fieldKey string) (*Link, bool) {
	for _, l := range layers {
		if links, ok := l.links[entityKey]; ok {
			if link, ok := links[fieldKey]; ok {
				return link, true
			}
		}
		if fields, ok := l.records[entityKey]; ok {
			if _, ok := fields[fieldKey]; ok {
				return nil, false
			}
		}
	}
	return nil, false
}

// InvalidateEntity removes every known field of entityKey from every layer
// (spec.md §4.2 "invalidateEntity"), returning the FieldKeys it removed so
// the caller can feed them to the dependency index.
func (s *Store) InvalidateEntity(entityKey string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	fields := s.knownFields[entityKey]
	removed := make([]string, 0, len(fields))
	for fieldKey := range fields {
		removed = append(removed, fieldKey)
		s.deleteFieldLocked(entityKey, fieldKey)
	}
	delete(s.knownFields, entityKey)
	return removed
}

// InvalidateField removes every recorded FieldKey whose field name matches
// fieldName, regardless of arguments (SPEC_FULL.md §9.2 granular
// invalidation).
func (s *Store) InvalidateField(entityKey, fieldName string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var removed []string
	for fieldKey := range s.knownFields[entityKey] {
		if fieldKeyName(fieldKey) == fieldName {
			removed = append(removed, fieldKey)
		}
	}
	for _, fieldKey := range removed {
		s.deleteFieldLocked(entityKey, fieldKey)
	}
	return removed
}

// InvalidateFieldWithArgs removes exactly the single FieldKey identified by
// fieldName+args's canonical form, leaving other argument variants of the
// same field intact (SPEC_FULL.md §9.2).
func (s *Store) InvalidateFieldWithArgs(entityKey, fieldKey string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.knownFields[entityKey][fieldKey] {
		return false
	}
	s.deleteFieldLocked(entityKey, fieldKey)
	return true
}

func (s *Store) deleteFieldLocked(entityKey, fieldKey string) {
	for _, l := range s.Layers() {
		if fields, ok := l.records[entityKey]; ok {
			delete(fields, fieldKey)
		}
		if links, ok := l.links[entityKey]; ok {
			delete(links, fieldKey)
		}
	}
	if fields := s.knownFields[entityKey]; fields != nil {
		delete(fields, fieldKey)
		if len(fields) == 0 {
			delete(s.knownFields, entityKey)
		}
	}
	s.generation[entityKey]++
}

// fieldKeyName strips a FieldKey's canonicalized argument suffix, recovering
// the bare field name ("posts(first:10)" -> "posts").
func fieldKeyName(fieldKey string) string {
	if i := indexByte(fieldKey, '('); i >= 0 {
		return fieldKey[:i]
	}
	return fieldKey
}

func indexByte(s string, b byte) int {
	for i := 0; i < len(s); i++ {
		if s[i] == b {
			return i
		}
	}
	return -1
}

// GC removes any entity record that is unreachable from either root object
// (Query/Mutation/Subscription) by following links, across the merged view
// of all layers. It is conservative: an entity referenced only from an
// optimistic layer that is later discarded stays alive until GC runs again.
func (s *Store) GC(roots ...string) (removed []string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	reachable := make(map[string]bool)
	queue := append([]string{}, roots...)
	for len(queue) > 0 {
		key := queue[0]
		queue = queue[1:]
		if reachable[key] {
			continue
		}
		reachable[key] = true
		for _, l := range s.Layers() {
			for fieldKey, link := range l.links[key] {
				_ = fieldKey
				switch link.Kind {
				case LinkSingle:
					if link.Single != "" && !reachable[link.Single] {
						queue = append(queue, link.Single)
					}
				case LinkList:
					for _, target := range link.List {
						if target != "" && !reachable[target] {
							queue = append(queue, target)
						}
					}
				}
			}
		}
	}

	for entityKey := range s.knownFields {
		if reachable[entityKey] {
			continue
		}
		removed = append(removed, entityKey)
		for _, l := range s.Layers() {
			delete(l.records, entityKey)
			delete(l.links, entityKey)
		}
		delete(s.knownFields, entityKey)
		s.generation[entityKey]++
	}
	return removed
}

package store

// Txn is the single open write handle passed to the function given to
// Store.Write. It writes directly into one target layer and accumulates the
// set of (EntityKey, FieldKey) pairs touched, for the dependency index (C7)
// to use as its reexecution trigger set (spec.md §4.7).
type Txn struct {
	store   *Store
	layer   *Layer
	touched map[string]map[string]bool // entityKey -> fieldKey -> true
}

func (t *Txn) markTouched(entityKey, fieldKey string) {
	fields := t.touched[entityKey]
	if fields == nil {
		fields = make(map[string]bool)
		t.touched[entityKey] = fields
	}
	fields[fieldKey] = true
	t.store.trackField(entityKey, fieldKey)
}

// WriteRecord stores a scalar/leaf value under (entityKey, fieldKey). A nil
// value represents an explicit null (spec.md §3 "Record").
func (t *Txn) WriteRecord(entityKey, fieldKey string, value any) {
	fields := t.layer.records[entityKey]
	if fields == nil {
		fields = make(map[string]any)
		t.layer.records[entityKey] = fields
	}
	fields[fieldKey] = value
	t.markTouched(entityKey, fieldKey)
}

// WriteLink stores a reference under (entityKey, fieldKey) (spec.md §3
// "Link").
func (t *Txn) WriteLink(entityKey, fieldKey string, link *Link) {
	links := t.layer.links[entityKey]
	if links == nil {
		links = make(map[string]*Link)
		t.layer.links[entityKey] = links
	}
	links[fieldKey] = link
	t.markTouched(entityKey, fieldKey)
}

// ReadRecord reads through the full layer stack, top to bottom, returning
// the first layer that has written anything (record or link) under the key,
// consistent with Store.ReadRecord outside a transaction.
func (t *Txn) ReadRecord(entityKey, fieldKey string) (value any, ok bool) {
	return t.store.readRecordThrough(t.layersAbove(), entityKey, fieldKey)
}

// ReadLink mirrors ReadRecord for links.
func (t *Txn) ReadLink(entityKey, fieldKey string) (link *Link, ok bool) {
	return t.store.readLinkThrough(t.layersAbove(), entityKey, fieldKey)
}

// layersAbove returns the stack as it stands with t.layer included at its
// position, so a write earlier in the same transaction is visible to a
// later read in the same transaction.
func (t *Txn) layersAbove() []*Layer {
	return t.store.Layers()
}

// Write opens a write transaction against layer (or the base layer when
// layer is nil), runs fn, and returns the set of (EntityKey, FieldKey) pairs
// it touched. Write panics if a transaction is already open — the cache
// never issues concurrent writes (spec.md §5.1); a panic here means a bug in
// the caller, not a runtime condition to recover from.
func (s *Store) Write(layer *Layer, fn func(*Txn)) map[string]map[string]bool {
	s.mu.Lock()
	if s.writing {
		s.mu.Unlock()
		panic("store: nested Write call")
	}
	s.writing = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.writing = false
		s.mu.Unlock()
	}()

	target := layer
	if target == nil {
		target = s.base
	}
	txn := &Txn{store: s, layer: target, touched: make(map[string]map[string]bool)}
	fn(txn)
	return txn.touched
}

package graphcache

import (
	"context"
	"errors"
	"reflect"
	"strings"

	"github.com/graphcache/graphcache/internal/cacheapi"
	"github.com/graphcache/graphcache/internal/events"
	"github.com/graphcache/graphcache/internal/eventbus"
	"github.com/graphcache/graphcache/internal/language"
	"github.com/graphcache/graphcache/internal/readtrav"
	"github.com/graphcache/graphcache/internal/schema"
	"github.com/graphcache/graphcache/internal/store"
	"github.com/graphcache/graphcache/internal/writetrav"
)

// Operation begins servicing op (spec.md §4.8 "On operation(op)"). The
// returned channel receives every Result the cache emits for op until
// Teardown closes it.
func (c *Cache) Operation(op Operation) <-chan Result {
	c.mu.Lock()
	defer c.mu.Unlock()

	ch := make(chan Result, 8)

	doc, err := language.ParseQuery(op.Query)
	if err != nil {
		ch <- Result{Operation: op.Key, Error: err}
		close(ch)
		return ch
	}
	opDef, ok := selectionOf(doc, op.OperationName)
	if !ok {
		ch <- Result{Operation: op.Key, Error: errors.New("graphcache: document has no operations")}
		close(ch)
		return ch
	}

	kind := op.Kind
	if kind == "" {
		switch opDef.Operation {
		case language.Mutation:
			kind = KindMutation
		case language.Subscription:
			kind = KindSubscription
		default:
			kind = KindQuery
		}
	}
	policy := op.RequestPolicy
	if policy == "" {
		policy = CacheFirst
	}
	rootTypename, rootKey := rootFor(kind)

	c.nextSeq++
	st := &opState{
		key:          op.Key,
		kind:         kind,
		policy:       policy,
		doc:          doc,
		rootTypename: rootTypename,
		rootKey:      rootKey,
		selectionSet: opDef.SelectionSet,
		variables:    op.Variables,
		ch:           ch,
		issueSeq:     c.nextSeq,
	}
	c.ops[op.Key] = st
	c.issueOrder = append(c.issueOrder, op.Key)

	emitStart(c, st)

	switch kind {
	case KindQuery:
		c.handleQuery(st)
	case KindMutation:
		c.handleMutation(st)
	case KindSubscription:
		ch <- Result{Operation: op.Key, Forward: true}
	}
	return ch
}

// Result folds an incoming network/subscription result back into the store
// (spec.md §4.8 "On result(res)").
func (c *Cache) Result(res IncomingResult) {
	c.mu.Lock()
	defer c.mu.Unlock()

	st, ok := c.ops[res.Operation]
	if !ok {
		return
	}
	switch st.kind {
	case KindMutation:
		c.commitMutationResult(st, res)
	case KindSubscription:
		c.commitSubscriptionResult(st, res)
	default:
		c.commitQueryResult(st, res)
	}
}

// Teardown drops op's tracking and, if it owns a layer, collapses that
// layer into base (spec.md §5 "Cancellation").
func (c *Cache) Teardown(key OperationKey) {
	c.mu.Lock()
	defer c.mu.Unlock()

	st, ok := c.ops[key]
	if !ok {
		return
	}
	if st.subscriptionLayer != "" {
		c.layers.ResolveSubscription(st.subscriptionLayer)
	}
	if st.commutativeLayer != "" {
		c.layers.ResolveCommutative(st.commutativeLayer)
	}
	// A pending optimistic mutation is not cancellable mid-flight (spec.md
	// §5): its layer stays until Result(res) commits or discards it.

	c.deps.Forget(string(key))
	delete(c.ops, key)
	for i, k := range c.issueOrder {
		if k == key {
			c.issueOrder = append(c.issueOrder[:i], c.issueOrder[i+1:]...)
			break
		}
	}
	close(st.ch)
}

func (c *Cache) handleQuery(st *opState) {
	api := &mediatedAPI{c: c}
	res := c.reader.Read(st.doc, st.rootTypename, st.rootKey, st.selectionSet, st.variables, api)
	st.lastData = res.Data
	c.deps.Record(string(st.key), res.Deps, typenamesFromDeps(res.Deps), c.curGen)

	policy := st.policy
	if policy != CacheOnly && c.optimisticOverlap(res.Deps) {
		policy = CacheFirst
	}

	hit := res.Outcome == cacheapi.Hit
	outcome := cacheOutcomeOf(res.Outcome)

	switch policy {
	case CacheOnly:
		if outcome == OutcomePartial {
			outcome = OutcomeMiss
		}
		st.ch <- Result{Operation: st.key, Data: res.Data, CacheOutcome: outcome}
	case CacheFirst:
		if hit {
			st.ch <- Result{Operation: st.key, Data: res.Data, CacheOutcome: outcome}
			return
		}
		st.ch <- Result{Operation: st.key, Data: res.Data, CacheOutcome: outcome, Stale: true, Forward: true}
	case CacheAndNetwork:
		st.ch <- Result{Operation: st.key, Data: res.Data, CacheOutcome: outcome, Stale: !hit}
		st.ch <- Result{Operation: st.key, Forward: true}
	case NetworkOnly:
		st.ch <- Result{Operation: st.key, Forward: true}
	}
}

func (c *Cache) handleMutation(st *opState) {
	api := &mediatedAPI{c: c}
	objectType := c.lookupType(st.rootTypename)
	nodes := c.analyzer.CollectFields(st.doc, objectType, st.selectionSet, st.variables)

	synthetic := make(map[string]any)
	haveOptimistic := false
	for _, node := range nodes {
		if node.Name == "__typename" {
			continue
		}
		fn, ok := c.optimistic[node.Name]
		if !ok {
			continue
		}
		haveOptimistic = true
		info := cacheapi.ResolveInfo{ParentKey: st.rootKey, Typename: st.rootTypename, FieldName: node.Name, Args: node.Args}
		synthetic[node.ResponseName] = fn(node.Args, api, info)
	}
	if !haveOptimistic {
		st.ch <- Result{Operation: st.key, Forward: true}
		return
	}

	layer := c.layers.BeginOptimistic(string(st.key))
	st.optimisticLayer = layer.Name

	var inv writetrav.Invalidated
	touched := c.store.Write(layer, func(txn *store.Txn) {
		inv = c.writer.Write(txn, st.doc, st.rootTypename, st.rootKey, st.selectionSet, synthetic, st.variables, api)
	})

	gen := c.beginWrite()
	c.reexecute(st.key, touched, typenameSet(inv), gen)
	st.ch <- Result{Operation: st.key, Forward: true}
}

func (c *Cache) commitMutationResult(st *opState, res IncomingResult) {
	api := &mediatedAPI{c: c}

	var rolledBack map[string]map[string]bool
	if st.optimisticLayer != "" {
		rolledBack = c.layers.DiscardOptimistic(st.optimisticLayer)
		c.publishLayerResolved(st.optimisticLayer, "optimistic", false)
		st.optimisticLayer = ""
	}

	if res.Error != nil {
		if len(rolledBack) > 0 {
			gen := c.beginWrite()
			c.reexecute(st.key, rolledBack, nil, gen)
		}
		st.ch <- Result{Operation: st.key, Error: res.Error}
		return
	}

	var inv writetrav.Invalidated
	touched := c.store.Write(nil, func(txn *store.Txn) {
		inv = c.writer.Write(txn, st.doc, st.rootTypename, st.rootKey, st.selectionSet, res.Data, st.variables, api)
	})
	// Fold the optimistic rollback and the real write into one reexecution
	// pass so a dependent sees the real value directly, never an
	// intermediate bounce back to the pre-mutation value (spec.md §4.8
	// "Optimistic mutation lifecycle").
	touched = mergeTouchedMaps(rolledBack, touched)
	invTypes := typenameSet(inv)
	eventbus.Publish(c.bus, context.Background(), events.WriteCommit{
		OperationKey:     string(st.key),
		TouchedEntities:  len(touched),
		InvalidatedTypes: keysOf(invTypes),
	})
	gen := c.beginWrite()
	c.reexecute(st.key, touched, invTypes, gen)

	final := c.reader.Read(st.doc, st.rootTypename, st.rootKey, st.selectionSet, st.variables, api)
	st.lastData = final.Data
	c.deps.Record(string(st.key), final.Deps, typenamesFromDeps(final.Deps), c.curGen)
	st.ch <- Result{Operation: st.key, Data: final.Data, HasNext: res.HasNext}
}

func (c *Cache) commitSubscriptionResult(st *opState, res IncomingResult) {
	api := &mediatedAPI{c: c}
	if res.Error != nil {
		st.ch <- Result{Operation: st.key, Error: res.Error}
		return
	}
	if st.subscriptionLayer == "" {
		layer := c.layers.BeginSubscription(string(st.key))
		st.subscriptionLayer = layer.Name
	}
	layer := c.store.Layer(st.subscriptionLayer)

	var inv writetrav.Invalidated
	touched := c.store.Write(layer, func(txn *store.Txn) {
		inv = c.writer.Write(txn, st.doc, st.rootTypename, st.rootKey, st.selectionSet, res.Data, st.variables, api)
	})
	gen := c.beginWrite()
	c.reexecute(st.key, touched, typenameSet(inv), gen)

	final := c.reader.Read(st.doc, st.rootTypename, st.rootKey, st.selectionSet, st.variables, api)
	st.lastData = final.Data
	c.deps.Record(string(st.key), final.Deps, typenamesFromDeps(final.Deps), c.curGen)
	st.ch <- Result{Operation: st.key, Data: final.Data, HasNext: res.HasNext}
}

func (c *Cache) commitQueryResult(st *opState, res IncomingResult) {
	api := &mediatedAPI{c: c}
	st.resolved = true

	layer := c.layers.BeginCommutative(string(st.key))
	st.commutativeLayer = layer.Name

	var inv writetrav.Invalidated
	c.store.Write(layer, func(txn *store.Txn) {
		inv = c.writer.Write(txn, st.doc, st.rootTypename, st.rootKey, st.selectionSet, res.Data, st.variables, api)
	})
	_ = inv

	committed := c.commitReadyCommutativeLayers()
	if len(committed) > 0 {
		gen := c.beginWrite()
		c.reexecute(st.key, committed, nil, gen)
	}

	final := c.reader.Read(st.doc, st.rootTypename, st.rootKey, st.selectionSet, st.variables, api)
	st.lastData = final.Data
	c.deps.Record(string(st.key), final.Deps, typenamesFromDeps(final.Deps), c.curGen)
	st.ch <- Result{Operation: st.key, Data: final.Data, HasNext: res.HasNext}
}

// commitReadyCommutativeLayers walks issued query/subscription operations
// in issue order and squashes a maximal prefix whose operations have all
// resolved, so base always reflects results in issue order regardless of
// arrival order (spec.md §4.6 "Commutativity rule").
func (c *Cache) commitReadyCommutativeLayers() map[string]map[string]bool {
	var merged map[string]map[string]bool
	for _, key := range c.issueOrder {
		st, ok := c.ops[key]
		if !ok || st.kind == KindMutation {
			continue
		}
		if st.commutativeLayer == "" {
			// Not yet resolved at all; stop — later operations must not
			// commit ahead of an earlier one still pending.
			if !st.resolved {
				break
			}
			continue
		}
		if !st.resolved {
			break
		}
		touched := c.layers.ResolveCommutative(st.commutativeLayer)
		st.commutativeLayer = ""
		merged = mergeTouchedMaps(merged, touched)
	}
	return merged
}

func mergeTouchedMaps(dst, src map[string]map[string]bool) map[string]map[string]bool {
	if len(src) == 0 {
		return dst
	}
	if dst == nil {
		dst = make(map[string]map[string]bool)
	}
	for entityKey, fields := range src {
		existing := dst[entityKey]
		if existing == nil {
			existing = make(map[string]bool)
			dst[entityKey] = existing
		}
		for fieldKey := range fields {
			existing[fieldKey] = true
		}
	}
	return dst
}

// reexecute implements spec.md §4.7 steps 2-3: recompute every triggered
// operation's read, and only emit when the output actually changed.
func (c *Cache) reexecute(origin OperationKey, touched map[string]map[string]bool, invalidatedTypes map[string]bool, gen uint64) {
	triggered := c.deps.Triggered(touched, invalidatedTypes, gen)
	api := &mediatedAPI{c: c}
	for _, opKey := range triggered {
		if OperationKey(opKey) == origin {
			continue
		}
		st, ok := c.ops[OperationKey(opKey)]
		if !ok {
			continue
		}
		res := c.reader.Read(st.doc, st.rootTypename, st.rootKey, st.selectionSet, st.variables, api)
		c.deps.Record(opKey, res.Deps, typenamesFromDeps(res.Deps), gen)
		if sameData(st.lastData, res.Data) {
			continue // property 3/4: unchanged output must not reexecute downstream.
		}
		st.lastData = res.Data
		outcome := cacheOutcomeOf(res.Outcome)
		eventbus.Publish(c.bus, context.Background(), events.Reexecute{
			TriggeringOperationKey: string(origin),
			ReexecutedOperationKey: opKey,
			Generation:             gen,
		})
		st.ch <- Result{
			Operation:    st.key,
			Data:         res.Data,
			CacheOutcome: outcome,
			Stale:        res.Outcome != cacheapi.Hit,
		}
	}
}

func (c *Cache) beginWrite() uint64 {
	c.curGen = c.currentGeneration()
	return c.curGen
}

// afterWrite folds a one-off write made outside the Operation/Result cycle
// (a resolver calling WriteFragment/UpdateQuery/Invalidate through the
// mediated API while it has no open transaction) back into reexecution, the
// same way commitQueryResult/commitMutationResult do for their own writes.
func (c *Cache) afterWrite(originKey string, touched map[string]map[string]bool, invalidatedTypes map[string]bool) {
	if len(touched) == 0 {
		return
	}
	gen := c.beginWrite()
	c.reexecute(OperationKey(originKey), touched, invalidatedTypes, gen)
}

func (c *Cache) lookupType(typename string) *schema.Type {
	if c.schema == nil {
		return nil
	}
	return c.schema.Types[typename]
}

func (c *Cache) optimisticOverlap(deps readtrav.Deps) bool {
	if len(deps) == 0 {
		return false
	}
	entityKeys := make(map[string]bool, len(deps))
	for entityKey := range deps {
		entityKeys[entityKey] = true
	}
	for _, st := range c.ops {
		if st.kind == KindMutation && st.optimisticLayer != "" {
			if c.store.LayerHasAnyEntity(st.optimisticLayer, entityKeys) {
				return true
			}
		}
	}
	return false
}

func (c *Cache) publishLayerResolved(name, kind string, committed bool) {
	eventbus.Publish(c.bus, context.Background(), events.LayerResolved{LayerName: name, LayerKind: kind, Committed: committed})
}

func cacheOutcomeOf(o cacheapi.Outcome) CacheOutcome {
	switch o {
	case cacheapi.Hit:
		return OutcomeHit
	case cacheapi.Partial:
		return OutcomePartial
	default:
		return OutcomeMiss
	}
}

func typenamesFromDeps(deps readtrav.Deps) map[string]bool {
	if len(deps) == 0 {
		return nil
	}
	out := make(map[string]bool, len(deps))
	for entityKey := range deps {
		if i := strings.IndexByte(entityKey, ':'); i >= 0 {
			out[entityKey[:i]] = true
		}
	}
	return out
}

func typenameSet(inv writetrav.Invalidated) map[string]bool {
	if len(inv) == 0 {
		return nil
	}
	out := make(map[string]bool, len(inv))
	for typename := range inv {
		out[typename] = true
	}
	return out
}

func keysOf(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}

// sameData reports whether a and b are the same map by identity (both nil,
// or pointing at the same underlying map header) — spec.md §4.5/§8
// reference-reuse and §8 property 3/4 ride on this, not deep equality: an
// unchanged subtree is reused by reference by the read traversal, so
// identity is exactly the signal a write changed anything observable.
func sameData(a, b map[string]any) bool {
	if a == nil && b == nil {
		return true
	}
	if a == nil || b == nil {
		return false
	}
	return reflect.ValueOf(a).Pointer() == reflect.ValueOf(b).Pointer()
}

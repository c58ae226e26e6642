// Package layering implements the layer controller (C6, spec.md §4.6): it
// owns where each optimistic, commutative, and subscription layer sits in
// the store's read order, and when a layer commits into base or is
// discarded. internal/store only knows how to read/write/merge a stack at
// positions it is told; layering decides those positions.
package layering

import (
	"strconv"
	"sync"

	"github.com/graphcache/graphcache/internal/store"
)

// Controller sequences layer lifecycles against one Store.
//
// Read order, top to bottom (spec.md §4.6):
//
//	[optimistic layers, newest first]
//	[subscription layers, newest first]
//	[commutative layers, by descending arrival order]
//	base
//
// A subscription layer reads above commutative/query layers so a live
// subscription value wins ties, but it only commits into base once every
// optimistic layer that existed when it was created has resolved (§9 open
// question, see DESIGN.md).
type Controller struct {
	mu    sync.Mutex
	store *store.Store

	optimisticOrder   []string // layer names, newest first
	subscriptionOrder []string
	commutativeOrder  []string

	// pendingAt records, for each subscription layer name, which optimistic
	// layer names were still open when it was created.
	pendingAt map[string][]string

	seq int64
}

func New(s *store.Store) *Controller {
	return &Controller{store: s, pendingAt: make(map[string][]string)}
}

func (c *Controller) nextName(prefix string) string {
	c.seq++
	return prefix + ":" + strconv.FormatInt(c.seq, 10)
}

// BeginOptimistic opens a new optimistic layer for mutationKey and returns
// its name. The caller writes the mutation's optimistic response into it via
// Store.Write(layer, ...).
func (c *Controller) BeginOptimistic(mutationKey string) *store.Layer {
	c.mu.Lock()
	defer c.mu.Unlock()

	name := c.nextName("opt")
	layer := store.NewLayer(name, store.KindOptimistic)
	layer.MutationKey = mutationKey
	c.store.AddLayer(layer, 0)
	c.optimisticOrder = append([]string{name}, c.optimisticOrder...)
	return layer
}

// ResolveOptimistic commits the optimistic layer into base (the mutation
// succeeded and its real result has already overwritten the layer's
// contents via a fresh write, or the caller accepts the optimistic value as
// final) and releases any subscription layers that were only waiting on it.
// It returns every (EntityKey, FieldKey) that changed, including any
// cascaded subscription-layer commits, so the caller can feed the
// dependency index (spec.md §4.7).
func (c *Controller) ResolveOptimistic(name string) map[string]map[string]bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	touched := c.store.CommitLayer(name)
	c.removeFromOrder(&c.optimisticOrder, name)
	touched = mergeTouched(touched, c.releasePendingLocked(name))
	return touched
}

// DiscardOptimistic drops the optimistic layer without merging it into base
// (the mutation failed, spec.md §4.6 "optimistic rollback").
func (c *Controller) DiscardOptimistic(name string) map[string]map[string]bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	touched := c.store.RemoveLayer(name)
	c.removeFromOrder(&c.optimisticOrder, name)
	touched = mergeTouched(touched, c.releasePendingLocked(name))
	return touched
}

// BeginCommutative opens a new commutative layer for a query/read operation,
// inserted below all current optimistic and subscription layers but above
// any existing commutative layer (newest commutative layer reads first
// among peers, spec.md §4.6).
func (c *Controller) BeginCommutative(operationKey string) *store.Layer {
	c.mu.Lock()
	defer c.mu.Unlock()

	name := c.nextName("cmt")
	layer := store.NewLayer(name, store.KindCommutative)
	layer.OperationKey = operationKey
	layer.Order = c.seq
	pos := len(c.optimisticOrder) + len(c.subscriptionOrder)
	c.store.AddLayer(layer, pos)
	c.commutativeOrder = append([]string{name}, c.commutativeOrder...)
	return layer
}

// ResolveCommutative squashes a commutative layer into base once its
// operation's result is known (spec.md §4.6 "squash-on-resolve").
func (c *Controller) ResolveCommutative(name string) map[string]map[string]bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	touched := c.store.CommitLayer(name)
	c.removeFromOrder(&c.commutativeOrder, name)
	return touched
}

// BeginSubscription opens a layer for a live subscription's latest pushed
// value, inserted above every commutative layer but below the current
// optimistic layers, and records which optimistic layers are still open so
// a later commit can wait on them.
func (c *Controller) BeginSubscription(operationKey string) *store.Layer {
	c.mu.Lock()
	defer c.mu.Unlock()

	name := c.nextName("sub")
	layer := store.NewLayer(name, store.KindCommutative)
	layer.OperationKey = operationKey
	c.store.AddLayer(layer, len(c.optimisticOrder))
	c.subscriptionOrder = append([]string{name}, c.subscriptionOrder...)
	c.pendingAt[name] = append([]string{}, c.optimisticOrder...)
	return layer
}

// ResolveSubscription commits a subscription layer into base if no
// optimistic layer it was waiting on is still open; otherwise the commit is
// deferred and happens automatically as those optimistic layers resolve or
// are discarded.
func (c *Controller) ResolveSubscription(name string) map[string]map[string]bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.pendingAt[name]) > 0 {
		return nil
	}
	touched := c.store.CommitLayer(name)
	c.removeFromOrder(&c.subscriptionOrder, name)
	delete(c.pendingAt, name)
	return touched
}

func (c *Controller) releasePendingLocked(optimisticName string) map[string]map[string]bool {
	var touched map[string]map[string]bool
	for subName, waiting := range c.pendingAt {
		remaining := waiting[:0:0]
		for _, w := range waiting {
			if w != optimisticName {
				remaining = append(remaining, w)
			}
		}
		c.pendingAt[subName] = remaining
		if len(remaining) == 0 {
			touched = mergeTouched(touched, c.store.CommitLayer(subName))
			c.removeFromOrder(&c.subscriptionOrder, subName)
			delete(c.pendingAt, subName)
		}
	}
	return touched
}

// mergeTouched folds src into dst in place (dst may be nil on entry; the
// merged map is returned so callers can write back into their own
// variable).
func mergeTouched(dst, src map[string]map[string]bool) map[string]map[string]bool {
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

func (c *Controller) removeFromOrder(order *[]string, name string) {
	for i, n := range *order {
		if n == name {
			*order = append((*order)[:i], (*order)[i+1:]...)
			return
		}
	}
}

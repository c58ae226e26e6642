package graphcache

import (
	"github.com/graphcache/graphcache/internal/cacheapi"
	"github.com/graphcache/graphcache/internal/keying"
	"github.com/graphcache/graphcache/internal/language"
	"github.com/graphcache/graphcache/internal/store"
)

// mediatedAPI is the concrete CacheAPI handed to resolvers, updaters, and
// optimistic functions (spec.md §6 "Cache API exposed to user functions").
// When txn is non-nil the call is running inside an already-open write
// transaction (an updater or optimistic function) and every write goes
// straight into it, since Store.Write is non-reentrant (SPEC_FULL.md
// §5.1); when txn is nil (a resolver running during a read) a write opens
// its own short-lived transaction against base.
type mediatedAPI struct {
	c   *Cache
	txn *store.Txn
}

var _ cacheapi.API = (*mediatedAPI)(nil)

func (a *mediatedAPI) ReadFragment(typename, entityKey string, selectionSet language.SelectionSet, variables map[string]any) (map[string]any, cacheapi.Outcome) {
	res := a.c.reader.Read(nil, typename, entityKey, selectionSet, variables, a)
	return res.Data, res.Outcome
}

func (a *mediatedAPI) ReadQuery(operationKey string) (map[string]any, cacheapi.Outcome) {
	// Callbacks only run inside Cache methods that already hold a.c.mu.
	st, ok := a.c.ops[OperationKey(operationKey)]
	if !ok {
		return nil, cacheapi.Miss
	}
	res := a.c.reader.Read(st.doc, st.rootTypename, st.rootKey, st.selectionSet, st.variables, a)
	return res.Data, res.Outcome
}

func (a *mediatedAPI) WriteFragment(typename, entityKey string, selectionSet language.SelectionSet, data map[string]any) {
	a.write(func(txn *store.Txn) {
		a.c.writer.Write(txn, nil, typename, entityKey, selectionSet, data, nil, a)
	})
}

func (a *mediatedAPI) UpdateQuery(operationKey string, fn func(current map[string]any) map[string]any) {
	// Callbacks only run inside Cache methods that already hold a.c.mu.
	st, ok := a.c.ops[OperationKey(operationKey)]
	if !ok {
		return
	}
	current, _ := a.ReadQuery(operationKey)
	next := fn(current)
	if next == nil {
		return
	}
	a.write(func(txn *store.Txn) {
		a.c.writer.Write(txn, st.doc, st.rootTypename, st.rootKey, st.selectionSet, next, st.variables, a)
	})
}

func (a *mediatedAPI) Invalidate(entityKey, fieldName string, args map[string]any) {
	a.write(func(txn *store.Txn) {
		switch {
		case fieldName == "":
			a.c.store.InvalidateEntity(entityKey)
		case args == nil:
			a.c.store.InvalidateField(entityKey, fieldName)
		default:
			fieldKey := keying.FieldKey(fieldName, args, nil)
			a.c.store.InvalidateFieldWithArgs(entityKey, fieldKey)
		}
		_ = txn
	})
}

func (a *mediatedAPI) InspectFields(entityKey string) []string {
	return a.c.store.KnownFields(entityKey)
}

func (a *mediatedAPI) KeyOfEntity(typename string, obj map[string]any) (string, bool) {
	return a.c.keygen.EntityKey(typename, obj)
}

func (a *mediatedAPI) Resolve(typename, entityKey, fieldName string, args map[string]any) (any, bool) {
	fieldKey := keying.FieldKey(fieldName, args, nil)
	if value, ok := a.c.store.ReadRecord(entityKey, fieldKey); ok {
		return value, true
	}
	if link, ok := a.c.store.ReadLink(entityKey, fieldKey); ok {
		switch link.Kind {
		case store.LinkSingle:
			return link.Single, true
		case store.LinkList:
			return link.List, true
		case store.LinkNull:
			return nil, true
		}
	}
	return nil, false
}

// write runs fn against the open transaction if one exists, else opens a
// fresh one-off transaction against base and triggers reexecution for
// whatever it touched — user code calling into the mediated API outside of
// an updater/optimistic callback (e.g. a resolver) still needs its writes
// to propagate (spec.md §6 "writeFragment"/"updateQuery" are usable from
// any user function, not only updaters).
func (a *mediatedAPI) write(fn func(txn *store.Txn)) {
	if a.txn != nil {
		fn(a.txn)
		return
	}
	touched := a.c.store.Write(nil, fn)
	a.c.afterWrite("", touched, nil)
}

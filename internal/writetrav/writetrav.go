// Package writetrav implements the write traversal (C4, spec.md §4.4): it
// decomposes a GraphQL result (an operation response, a mutation payload, a
// subscription push) into normalized records and links inside one store
// transaction, invoking any registered updaters and tracking which
// typenames it touched. Grounded on the same recursive shape as
// internal/readtrav/internal/executor's completeValue family, inverted:
// instead of producing a Go value from a resolver, it consumes a Go value
// and produces store writes.
package writetrav

import (
	"fmt"

	"github.com/graphcache/graphcache/internal/cacheapi"
	"github.com/graphcache/graphcache/internal/document"
	"github.com/graphcache/graphcache/internal/keying"
	"github.com/graphcache/graphcache/internal/language"
	"github.com/graphcache/graphcache/internal/schema"
	"github.com/graphcache/graphcache/internal/store"
)

// Traversal decomposes results into a store.Txn.
type Traversal struct {
	KeyGen   keying.KeyGen
	Schema   *schema.Schema
	Analyzer *document.Analyzer
	Updaters map[string]cacheapi.UpdateFunc // "Typename.fieldName"
	Logger   func(severity, message string)
}

func New(kg keying.KeyGen, sc *schema.Schema, an *document.Analyzer, updaters map[string]cacheapi.UpdateFunc, logger func(string, string)) *Traversal {
	return &Traversal{KeyGen: kg, Schema: sc, Analyzer: an, Updaters: updaters, Logger: logger}
}

func (t *Traversal) lookupType(typename string) *schema.Type {
	if t.Schema == nil {
		return nil
	}
	return t.Schema.Types[typename]
}

// Invalidated accumulates the typenames a Write touched, for the dependency
// index's typename-keyed reexecution trigger (spec.md §4.7).
type Invalidated map[string]bool

func (inv Invalidated) add(typename string) {
	if typename != "" {
		inv[typename] = true
	}
}

// Write decomposes data (a response shaped as GraphQL would return it, keyed
// by response name) into txn, rooted at (typename, entityKey). Updater
// callbacks registered for a written field run after that field's value is
// stored, isolated with recover so one misbehaving updater can't corrupt the
// rest of the write (spec.md §7 "isolated", SPEC_FULL.md §2.1 error
// handling).
func (t *Traversal) Write(
	txn *store.Txn,
	doc *language.QueryDocument,
	typename, entityKey string,
	selectionSet language.SelectionSet,
	data map[string]any,
	variables map[string]any,
	api cacheapi.API,
) Invalidated {
	inv := make(Invalidated)
	t.writeObject(txn, doc, t.lookupType(typename), typename, entityKey, selectionSet, data, variables, api, inv)
	return inv
}

func (t *Traversal) writeObject(
	txn *store.Txn,
	doc *language.QueryDocument,
	objectType *schema.Type,
	typename, entityKey string,
	selectionSet language.SelectionSet,
	data map[string]any,
	variables map[string]any,
	api cacheapi.API,
	inv Invalidated,
) {
	if data == nil {
		return
	}
	inv.add(typename)

	nodes := t.Analyzer.CollectFields(doc, objectType, selectionSet, variables)
	for _, node := range nodes {
		if node.Name == "__typename" {
			continue
		}
		value, present := data[node.ResponseName]
		if !present {
			continue
		}

		fieldDef := document.LookupField(objectType, node.Name)
		defaults := document.ArgDefaults(fieldDef)
		fieldKey := keying.FieldKey(node.Name, node.Args, defaults)

		t.writeField(txn, doc, fieldDef, node, typename, entityKey, fieldKey, value, variables, api, inv)
		t.runUpdater(typename, node.Name, value, node.Args, entityKey, fieldKey, api)
	}
}

func (t *Traversal) writeField(
	txn *store.Txn,
	doc *language.QueryDocument,
	fieldDef *schema.Field,
	node *document.FieldNode,
	parentTypename, entityKey, fieldKey string,
	value any,
	variables map[string]any,
	api cacheapi.API,
	inv Invalidated,
) {
	namedType := ""
	isList, isObjectLike := false, false
	if fieldDef != nil {
		namedType = schema.GetNamedType(fieldDef.Type)
		isList = schema.IsList(fieldDef.Type)
		if tdef := t.lookupType(namedType); tdef != nil {
			isObjectLike = tdef.Kind == schema.TypeKindObject || tdef.Kind == schema.TypeKindInterface || tdef.Kind == schema.TypeKindUnion
		}
	} else {
		// No schema: infer shape from the value itself so the cache still
		// normalizes nested objects without an introspection descriptor.
		switch v := value.(type) {
		case map[string]any:
			isObjectLike = true
		case []any:
			isList = true
			if len(v) > 0 {
				if _, ok := v[0].(map[string]any); ok {
					isObjectLike = true
				}
			}
		}
	}

	if !isObjectLike {
		txn.WriteRecord(entityKey, fieldKey, value)
		return
	}

	if isList {
		txn.WriteLink(entityKey, fieldKey, t.writeLinkedList(txn, doc, namedType, entityKey, fieldKey, node, value, variables, api, inv))
		return
	}

	txn.WriteLink(entityKey, fieldKey, t.writeLinkedSingle(txn, doc, namedType, entityKey, fieldKey, node, value, variables, api, inv))
}

// writeLinkedSingle writes obj as either a genuine entity (when KeyGen finds
// a stable id) or an embedded object addressed by parentKey+fieldKey when it
// doesn't (spec.md §3 "Embedded object", §4.4 step 2).
func (t *Traversal) writeLinkedSingle(
	txn *store.Txn,
	doc *language.QueryDocument,
	namedType string,
	parentKey, fieldKey string,
	node *document.FieldNode,
	value any,
	variables map[string]any,
	api cacheapi.API,
	inv Invalidated,
) *store.Link {
	if value == nil {
		return &store.Link{Kind: store.LinkNull}
	}
	obj, ok := value.(map[string]any)
	if !ok {
		return &store.Link{Kind: store.LinkNull}
	}

	targetType := t.resolveConcreteType(namedType, obj)
	targetKey, hasKey := t.KeyGen.EntityKey(targetType, obj)
	if !hasKey {
		targetKey = keying.EmbeddedKey(parentKey, fieldKey)
		t.log("debug", "embedding object under parent selection: type=%s key=%s", targetType, targetKey)
	}
	t.writeObject(txn, doc, t.lookupType(targetType), targetType, targetKey, node.SubSelection(), obj, variables, api, inv)
	return &store.Link{Kind: store.LinkSingle, Single: targetKey}
}

func (t *Traversal) writeLinkedList(
	txn *store.Txn,
	doc *language.QueryDocument,
	namedType string,
	parentKey, fieldKey string,
	node *document.FieldNode,
	value any,
	variables map[string]any,
	api cacheapi.API,
	inv Invalidated,
) *store.Link {
	items, ok := value.([]any)
	if !ok {
		return &store.Link{Kind: store.LinkNull}
	}
	targets := make([]string, len(items))
	for i, item := range items {
		if item == nil {
			targets[i] = ""
			continue
		}
		obj, ok := item.(map[string]any)
		if !ok {
			targets[i] = ""
			continue
		}
		targetType := t.resolveConcreteType(namedType, obj)
		targetKey, hasKey := t.KeyGen.EntityKey(targetType, obj)
		if !hasKey {
			targetKey = keying.EmbeddedKey(parentKey, fmt.Sprintf("%s.%d", fieldKey, i))
		}
		t.writeObject(txn, doc, t.lookupType(targetType), targetType, targetKey, node.SubSelection(), obj, variables, api, inv)
		targets[i] = targetKey
	}
	return &store.Link{Kind: store.LinkList, List: targets}
}

// resolveConcreteType returns obj's __typename if the result carries one
// (the common shape for interfaces/unions), falling back to the statically
// declared named type.
func (t *Traversal) resolveConcreteType(namedType string, obj map[string]any) string {
	if tn, ok := obj["__typename"].(string); ok && tn != "" {
		return tn
	}
	return namedType
}

func (t *Traversal) runUpdater(typename, fieldName string, value any, args map[string]any, entityKey, fieldKey string, api cacheapi.API) {
	updater, ok := t.Updaters[typename+"."+fieldName]
	if !ok {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			t.log("error", "updater panic: type=%s field=%s recovered=%v", typename, fieldName, r)
		}
	}()
	info := cacheapi.ResolveInfo{ParentKey: entityKey, Typename: typename, FieldName: fieldName, FieldKey: fieldKey, Args: args}
	updater(value, args, api, info)
}

func (t *Traversal) log(severity, format string, args ...any) {
	if t.Logger != nil {
		t.Logger(severity, fmt.Sprintf(format, args...))
	}
}

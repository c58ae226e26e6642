// Package keying derives entity keys and field keys from typed objects and
// field invocations (spec.md §3 EntityKey/FieldKey, §4.1 KeyGen).
package keying

import (
	"encoding/json"
	"sort"
	"strconv"
	"strings"
)

// Func is a user-supplied keying function for one typename. Returning ""
// forces the object to be embedded (spec.md §3 "explicit empty").
type Func func(obj map[string]any) string

// KeyGen derives entity and field keys. The zero value is usable; Keys may
// be nil.
type KeyGen struct {
	// Keys maps typename to a user keying function, overriding the default
	// id/_id lookup.
	Keys map[string]Func
}

// well-known sentinels for root operation objects (spec.md §3).
const (
	RootQuery        = "Query"
	RootMutation     = "Mutation"
	RootSubscription = "Subscription"
)

// EntityKey derives the entity key for obj of the given typename. ok is
// false when the object is embedded (no stable key).
func (g KeyGen) EntityKey(typename string, obj map[string]any) (key string, ok bool) {
	if typename == "" {
		return "", false
	}
	if fn := g.Keys[typename]; fn != nil {
		id := fn(obj)
		if id == "" {
			return "", false
		}
		return typename + ":" + id, true
	}
	if id, ok := scalarID(obj["id"]); ok {
		return typename + ":" + id, true
	}
	if id, ok := scalarID(obj["_id"]); ok {
		return typename + ":" + id, true
	}
	return "", false
}

// EmbeddedKey synthesizes a key for an embedded object from its parent key
// and the field path leading to it (spec.md §3 "Embedded object").
func EmbeddedKey(parentKey, fieldKey string) string {
	return parentKey + "." + fieldKey
}

func scalarID(v any) (string, bool) {
	switch id := v.(type) {
	case string:
		if id == "" {
			return "", false
		}
		return id, true
	case float64:
		return strconv.FormatFloat(id, 'g', -1, 64), true
	case int:
		return strconv.Itoa(id), true
	case int64:
		return strconv.FormatInt(id, 10), true
	}
	return "", false
}

// FieldKey derives the canonical field key for fieldName invoked with args,
// omitting any argument whose value equals its declared default
// (defaults, when known, in defaults — nil means "no known defaults").
//
// Canonicalization sorts object keys and formats numbers deterministically
// so that the same logical arguments always produce the same key string
// (spec.md §4.1), following the same coerce-then-canonicalize shape as the
// teacher's argument-value pipeline (internal/executor/values.go), adapted
// from "coerce for execution" to "canonicalize for a store key".
func FieldKey(fieldName string, args map[string]any, defaults map[string]any) string {
	if len(args) == 0 {
		return fieldName
	}

	pruned := make(map[string]any, len(args))
	for k, v := range args {
		if defaults != nil {
			if dv, ok := defaults[k]; ok && canonicalEqual(v, dv) {
				continue
			}
		}
		pruned[k] = v
	}
	if len(pruned) == 0 {
		return fieldName
	}

	return fieldName + "(" + canonicalize(pruned) + ")"
}

// canonicalize renders v as deterministic JSON: object keys sorted, numbers
// formatted via strconv so repeated runs never disagree on e.g. "1" vs "1.0".
func canonicalize(v any) string {
	var b strings.Builder
	writeCanonical(&b, v)
	return b.String()
}

func writeCanonical(b *strings.Builder, v any) {
	switch val := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		b.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				b.WriteByte(',')
			}
			writeCanonical(b, k)
			b.WriteByte(':')
			writeCanonical(b, val[k])
		}
		b.WriteByte('}')
	case []any:
		b.WriteByte('[')
		for i, item := range val {
			if i > 0 {
				b.WriteByte(',')
			}
			writeCanonical(b, item)
		}
		b.WriteByte(']')
	case string:
		buf, _ := json.Marshal(val)
		b.Write(buf)
	case float64:
		b.WriteString(strconv.FormatFloat(val, 'g', -1, 64))
	case int:
		b.WriteString(strconv.Itoa(val))
	case int64:
		b.WriteString(strconv.FormatInt(val, 10))
	case bool:
		b.WriteString(strconv.FormatBool(val))
	case nil:
		b.WriteString("null")
	default:
		buf, _ := json.Marshal(val)
		b.Write(buf)
	}
}

func canonicalEqual(a, b any) bool {
	return canonicalize(a) == canonicalize(b)
}

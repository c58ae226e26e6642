package graphcache_test

import (
	"encoding/json"
	"testing"

	"github.com/graphcache/graphcache"
	"github.com/stretchr/testify/require"
)

func buildIntrospectionSchema(t *testing.T) []byte {
	t.Helper()
	doc := map[string]any{
		"__schema": map[string]any{
			"queryType": map[string]any{"name": "Query"},
			"types": []map[string]any{
				{"kind": "OBJECT", "name": "Query", "fields": []map[string]any{
					{"name": "todos", "type": map[string]any{"kind": "LIST", "ofType": map[string]any{"kind": "OBJECT", "name": "Todo"}}},
				}},
				{"kind": "OBJECT", "name": "Todo", "fields": []map[string]any{
					{"name": "id", "type": map[string]any{"kind": "SCALAR", "name": "ID"}},
					{"name": "text", "type": map[string]any{"kind": "SCALAR", "name": "String"}},
					{"name": "completed", "type": map[string]any{"kind": "SCALAR", "name": "Boolean"}},
					{"name": "author", "type": map[string]any{"kind": "OBJECT", "name": "Author"}},
				}},
				{"kind": "OBJECT", "name": "Author", "fields": []map[string]any{
					{"name": "id", "type": map[string]any{"kind": "SCALAR", "name": "ID"}},
				}},
			},
		},
	}
	b, err := json.Marshal(doc)
	require.NoError(t, err)
	return b
}

func drain(ch <-chan graphcache.Result) []graphcache.Result {
	var out []graphcache.Result
	for {
		select {
		case r, ok := <-ch:
			if !ok {
				return out
			}
			out = append(out, r)
		default:
			return out
		}
	}
}

func author(id, name string) map[string]any {
	return map[string]any{"id": id, "__typename": "Author", "name": name}
}

// S1 Basic hit: writing a result then reading it again with a fresh
// operation hits the store.
func TestBasicHit(t *testing.T) {
	c := graphcache.New(graphcache.Options{})

	op1 := c.Operation(graphcache.Operation{Key: "op1", Query: `{ author { id name } }`})
	first := drain(op1)
	require.Len(t, first, 1)
	require.True(t, first[0].Forward)

	c.Result(graphcache.IncomingResult{Operation: "op1", Data: map[string]any{"author": author("123", "A")}})
	committed := drain(op1)
	require.Len(t, committed, 1)
	require.Equal(t, "A", committed[0].Data["author"].(map[string]any)["name"])

	op2 := c.Operation(graphcache.Operation{Key: "op2", Query: `{ author { id name } }`})
	second := drain(op2)
	require.Len(t, second, 1)
	require.Equal(t, graphcache.OutcomeHit, second[0].CacheOutcome)
	require.False(t, second[0].Forward)
	require.Equal(t, "A", second[0].Data["author"].(map[string]any)["name"])
}

// S2 Cache-only miss: an empty store answers a cache-only query once, with
// data:null and zero forwards.
func TestCacheOnlyMiss(t *testing.T) {
	c := graphcache.New(graphcache.Options{})

	op := c.Operation(graphcache.Operation{
		Key:           "op1",
		Query:         `{ ghost { id name } }`,
		RequestPolicy: graphcache.CacheOnly,
	})
	results := drain(op)
	require.Len(t, results, 1)
	require.Equal(t, graphcache.OutcomeMiss, results[0].CacheOutcome)
	require.False(t, results[0].Forward)
	require.Nil(t, results[0].Data["ghost"])
}

// S3 Related update: a write reached through a different root field
// reexecutes a query depending on the same entity exactly once.
func TestRelatedUpdateReexecutes(t *testing.T) {
	c := graphcache.New(graphcache.Options{})

	opAuthor := c.Operation(graphcache.Operation{Key: "opAuthor", Query: `{ author { id name } }`})
	drain(opAuthor)
	c.Result(graphcache.IncomingResult{Operation: "opAuthor", Data: map[string]any{"author": author("123", "X")}})
	drain(opAuthor)

	opAuthors := c.Operation(graphcache.Operation{Key: "opAuthors", Query: `{ authors { id name } }`})
	drain(opAuthors)
	c.Result(graphcache.IncomingResult{
		Operation: "opAuthors",
		Data:      map[string]any{"authors": []any{author("123", "Y")}},
	})
	drain(opAuthors)

	reexecs := drain(opAuthor)
	require.Len(t, reexecs, 1, "opAuthor should reexecute exactly once")
	require.Equal(t, "Y", reexecs[0].Data["author"].(map[string]any)["name"])
}

// S4 Optimistic replace: a pending optimistic mutation's value is observed
// immediately, then replaced by the real result with exactly one forward.
func TestOptimisticReplace(t *testing.T) {
	var forwards int
	c := graphcache.New(graphcache.Options{
		Optimistic: map[string]graphcache.OptimisticFunc{
			"updateAuthor": func(args map[string]any, api graphcache.CacheAPI, info graphcache.ResolveInfo) map[string]any {
				return author("123", "OFFLINE")
			},
		},
	})

	opAuthor := c.Operation(graphcache.Operation{Key: "opAuthor", Query: `{ author { id name } }`})
	drain(opAuthor)
	c.Result(graphcache.IncomingResult{Operation: "opAuthor", Data: map[string]any{"author": author("123", "A")}})
	drain(opAuthor)

	mut := c.Operation(graphcache.Operation{
		Key:   "mut1",
		Kind:  graphcache.KindMutation,
		Query: `mutation { updateAuthor(id: "123") { id name } }`,
	})
	mutResults := drain(mut)
	require.Len(t, mutResults, 1)
	require.True(t, mutResults[0].Forward)
	forwards++

	optimisticSeen := drain(opAuthor)
	require.Len(t, optimisticSeen, 1)
	require.Equal(t, "OFFLINE", optimisticSeen[0].Data["author"].(map[string]any)["name"])

	c.Result(graphcache.IncomingResult{
		Operation: "mut1",
		Data:      map[string]any{"updateAuthor": author("123", "ONLINE")},
	})
	drain(mut)

	final := drain(opAuthor)
	require.Len(t, final, 1)
	require.Equal(t, "ONLINE", final[0].Data["author"].(map[string]any)["name"])
	require.Equal(t, 1, forwards, "exactly one network forward for the mutation")
}

// S5 Optimistic error rollback: after the real mutation errors, a dependent
// query observes the pre-mutation value.
func TestOptimisticErrorRollback(t *testing.T) {
	c := graphcache.New(graphcache.Options{
		Optimistic: map[string]graphcache.OptimisticFunc{
			"updateAuthor": func(args map[string]any, api graphcache.CacheAPI, info graphcache.ResolveInfo) map[string]any {
				return author("123", "OFFLINE")
			},
		},
	})

	opAuthor := c.Operation(graphcache.Operation{Key: "opAuthor", Query: `{ author { id name } }`})
	drain(opAuthor)
	c.Result(graphcache.IncomingResult{Operation: "opAuthor", Data: map[string]any{"author": author("123", "A")}})
	drain(opAuthor)

	mut := c.Operation(graphcache.Operation{
		Key:   "mut1",
		Kind:  graphcache.KindMutation,
		Query: `mutation { updateAuthor(id: "123") { id name } }`,
	})
	drain(mut)
	drain(opAuthor) // optimistic "OFFLINE" emission

	c.Result(graphcache.IncomingResult{Operation: "mut1", Error: errAny("upstream rejected mutation")})
	mutFinal := drain(mut)
	require.Len(t, mutFinal, 1)
	require.Error(t, mutFinal[0].Error)

	reverted := drain(opAuthor)
	require.Len(t, reverted, 1)
	require.Equal(t, "A", reverted[0].Data["author"].(map[string]any)["name"])
}

// S6 Commutative out-of-order arrival: three queries issued in order
// 1, 2, 3 but resolved 2, 1, 3 must never leave the store showing a lower
// issue-order value than one it has already shown.
func TestCommutativeOutOfOrderArrival(t *testing.T) {
	c := graphcache.New(graphcache.Options{})
	item := func(index float64) map[string]any {
		return map[string]any{"item": map[string]any{"id": "x", "__typename": "Item", "index": index}}
	}

	q1 := c.Operation(graphcache.Operation{Key: "q1", Query: `{ item { id index } }`})
	drain(q1)
	q2 := c.Operation(graphcache.Operation{Key: "q2", Query: `{ item { id index } }`})
	drain(q2)
	q3 := c.Operation(graphcache.Operation{Key: "q3", Query: `{ item { id index } }`})
	drain(q3)

	var seen []float64
	collect := func(results []graphcache.Result) {
		for _, r := range results {
			if r.Data == nil {
				continue
			}
			if item, ok := r.Data["item"].(map[string]any); ok {
				seen = append(seen, item["index"].(float64))
			}
		}
	}

	c.Result(graphcache.IncomingResult{Operation: "q2", Data: item(2)})
	collect(drain(q1))
	collect(drain(q2))
	collect(drain(q3))

	c.Result(graphcache.IncomingResult{Operation: "q1", Data: item(1)})
	collect(drain(q1))
	collect(drain(q2))
	collect(drain(q3))

	c.Result(graphcache.IncomingResult{Operation: "q3", Data: item(3)})
	collect(drain(q1))
	collect(drain(q2))
	collect(drain(q3))

	for _, v := range seen {
		require.NotEqual(t, float64(1), v, "must never observe key 1's payload once key 2 has been integrated")
	}

	final := c.Operation(graphcache.Operation{Key: "check", Query: `{ item { id index } }`, RequestPolicy: graphcache.CacheOnly})
	checkResults := drain(final)
	require.Len(t, checkResults, 1)
	require.Equal(t, float64(3), checkResults[0].Data["item"].(map[string]any)["index"])
}

// S7 Partial with schema: a superset query over data written by a narrower
// one is emitted once as stale/partial, with the missing fields null.
func TestPartialWithSchema(t *testing.T) {
	schemaJSON := buildIntrospectionSchema(t)
	c := graphcache.New(graphcache.Options{Schema: schemaJSON})

	initial := c.Operation(graphcache.Operation{Key: "initial", Query: `{ todos { id text } }`})
	drain(initial)
	c.Result(graphcache.IncomingResult{
		Operation: "initial",
		Data: map[string]any{"todos": []any{
			map[string]any{"id": "1", "__typename": "Todo", "text": "write tests"},
		}},
	})
	drain(initial)

	superset := c.Operation(graphcache.Operation{Key: "superset", Query: `{ todos { id text completed author { id } } }`})
	results := drain(superset)
	require.Len(t, results, 1)
	require.True(t, results[0].Stale)
	require.Equal(t, graphcache.OutcomePartial, results[0].CacheOutcome)
	todo := results[0].Data["todos"].([]any)[0].(map[string]any)
	require.Nil(t, todo["completed"])

	c.Result(graphcache.IncomingResult{
		Operation: "superset",
		Data: map[string]any{"todos": []any{
			map[string]any{"id": "1", "__typename": "Todo", "text": "write tests", "completed": false, "author": nil},
		}},
	})
	reexecs := drain(initial)
	require.LessOrEqual(t, len(reexecs), 1, "reexecution count capped at one per property 7")
}

// S8 Loop blocked: a write that does not touch a query's dependencies must
// never cause that query to reexecute.
func TestLoopBlockedOnUntouchedWrite(t *testing.T) {
	c := graphcache.New(graphcache.Options{})

	opAuthor := c.Operation(graphcache.Operation{Key: "opAuthor", Query: `{ author { id name } }`})
	drain(opAuthor)
	c.Result(graphcache.IncomingResult{Operation: "opAuthor", Data: map[string]any{"author": author("123", "A")}})
	drain(opAuthor)

	opOther := c.Operation(graphcache.Operation{Key: "opOther", Query: `{ widget { id label } }`})
	drain(opOther)
	c.Result(graphcache.IncomingResult{
		Operation: "opOther",
		Data:      map[string]any{"widget": map[string]any{"id": "w1", "__typename": "Widget", "label": "L"}},
	})
	drain(opOther)

	require.Empty(t, drain(opAuthor), "a write to an unrelated entity must never reexecute a query that never depended on it")
}

func TestTeardownStopsEmissionsAndClosesChannel(t *testing.T) {
	c := graphcache.New(graphcache.Options{})

	op := c.Operation(graphcache.Operation{Key: "op1", Query: `{ author { id name } }`})
	drain(op)
	c.Result(graphcache.IncomingResult{Operation: "op1", Data: map[string]any{"author": author("123", "A")}})
	drain(op)

	c.Teardown("op1")
	_, ok := <-op
	require.False(t, ok, "channel must be closed after teardown")

	other := c.Operation(graphcache.Operation{Key: "op2", Query: `{ author { id name } }`})
	drain(other)
	c.Result(graphcache.IncomingResult{Operation: "op2", Data: map[string]any{"author": author("123", "B")}})
	drain(other)
}

type simpleError string

func (e simpleError) Error() string { return string(e) }

func errAny(msg string) error { return simpleError(msg) }

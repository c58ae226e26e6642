package writetrav

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/graphcache/graphcache/internal/cacheapi"
	"github.com/graphcache/graphcache/internal/document"
	"github.com/graphcache/graphcache/internal/keying"
	"github.com/graphcache/graphcache/internal/language"
	"github.com/graphcache/graphcache/internal/store"
)

func mustParse(t *testing.T, src string) *language.QueryDocument {
	t.Helper()
	doc, err := language.ParseQuery(src)
	require.NoError(t, err)
	return doc
}

func TestWriteNormalizesNestedObject(t *testing.T) {
	s := store.New()
	doc := mustParse(t, `query { viewer { id name } }`)
	op := doc.Operations[0]

	tr := New(keying.KeyGen{}, nil, document.New(), nil, nil)
	s.Write(nil, func(txn *store.Txn) {
		tr.Write(txn, doc, "Query", keying.RootQuery, op.SelectionSet,
			map[string]any{"viewer": map[string]any{"__typename": "User", "id": "1", "name": "Ada"}},
			nil, nil)
	})

	link, ok := s.ReadLink(keying.RootQuery, "viewer")
	require.True(t, ok)
	require.Equal(t, "User:1", link.Single)

	name, ok := s.ReadRecord("User:1", "name")
	require.True(t, ok)
	require.Equal(t, "Ada", name)
}

func TestWriteNormalizesList(t *testing.T) {
	s := store.New()
	doc := mustParse(t, `query { posts { id title } }`)
	op := doc.Operations[0]

	tr := New(keying.KeyGen{}, nil, document.New(), nil, nil)
	s.Write(nil, func(txn *store.Txn) {
		tr.Write(txn, doc, "Query", keying.RootQuery, op.SelectionSet,
			map[string]any{"posts": []any{
				map[string]any{"__typename": "Post", "id": "1", "title": "A"},
				map[string]any{"__typename": "Post", "id": "2", "title": "B"},
			}},
			nil, nil)
	})

	link, ok := s.ReadLink(keying.RootQuery, "posts")
	require.True(t, ok)
	require.Equal(t, []string{"Post:1", "Post:2"}, link.List)
}

func TestWriteInvokesUpdater(t *testing.T) {
	s := store.New()
	doc := mustParse(t, `mutation { createPost { id title } }`)
	op := doc.Operations[0]

	var sawArgs map[string]any
	updaters := map[string]cacheapi.UpdateFunc{
		"Mutation.createPost": func(result any, args map[string]any, c cacheapi.API, info cacheapi.ResolveInfo) {
			sawArgs = args
		},
	}

	tr := New(keying.KeyGen{}, nil, document.New(), updaters, nil)
	s.Write(nil, func(txn *store.Txn) {
		tr.Write(txn, doc, "Mutation", keying.RootMutation, op.SelectionSet,
			map[string]any{"createPost": map[string]any{"__typename": "Post", "id": "1", "title": "A"}},
			nil, nil)
	})

	require.NotNil(t, sawArgs)
}

func TestWriteRecoversFromUpdaterPanic(t *testing.T) {
	s := store.New()
	doc := mustParse(t, `mutation { createPost { id } }`)
	op := doc.Operations[0]

	updaters := map[string]cacheapi.UpdateFunc{
		"Mutation.createPost": func(result any, args map[string]any, c cacheapi.API, info cacheapi.ResolveInfo) {
			panic("boom")
		},
	}

	tr := New(keying.KeyGen{}, nil, document.New(), updaters, nil)
	require.NotPanics(t, func() {
		s.Write(nil, func(txn *store.Txn) {
			tr.Write(txn, doc, "Mutation", keying.RootMutation, op.SelectionSet,
				map[string]any{"createPost": map[string]any{"__typename": "Post", "id": "1"}},
				nil, nil)
		})
	})
}

package document

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/graphcache/graphcache/internal/language"
	"github.com/graphcache/graphcache/internal/schema"
)

func mustParse(t *testing.T, src string) *language.QueryDocument {
	t.Helper()
	doc, err := language.ParseQuery(src)
	require.NoError(t, err)
	return doc
}

func TestCollectFieldsGroupsByResponseName(t *testing.T) {
	doc := mustParse(t, `query { user { name friends { name } aka: name } }`)
	op := doc.Operations[0]
	root := op.SelectionSet[0].(*language.Field)

	a := New()
	nodes := a.CollectFields(doc, &schema.Type{Name: "User"}, root.SelectionSet, nil)

	require.Len(t, nodes, 2)
	require.Equal(t, "name", nodes[0].ResponseName)
	require.Equal(t, "friends", nodes[1].ResponseName)
}

func TestCollectFieldsInlinesFragmentSpread(t *testing.T) {
	doc := mustParse(t, `
		query { user { ...Basic } }
		fragment Basic on User { name email }
	`)
	op := doc.Operations[0]
	root := op.SelectionSet[0].(*language.Field)

	a := New()
	nodes := a.CollectFields(doc, &schema.Type{Name: "User"}, root.SelectionSet, nil)

	require.Len(t, nodes, 2)
	require.Equal(t, "name", nodes[0].ResponseName)
	require.Equal(t, "email", nodes[1].ResponseName)
}

func TestCollectFieldsHonorsSkipDirective(t *testing.T) {
	doc := mustParse(t, `query($skip: Boolean!) { user { name email @skip(if: $skip) } }`)
	op := doc.Operations[0]
	root := op.SelectionSet[0].(*language.Field)

	a := New()
	nodes := a.CollectFields(doc, &schema.Type{Name: "User"}, root.SelectionSet, map[string]any{"skip": true})
	require.Len(t, nodes, 1)
	require.Equal(t, "name", nodes[0].ResponseName)

	nodes = a.CollectFields(doc, &schema.Type{Name: "User"}, root.SelectionSet, map[string]any{"skip": false})
	require.Len(t, nodes, 2)
}

func TestCollectFieldsMarksDeferredFragment(t *testing.T) {
	doc := mustParse(t, `query { user { name ... @defer(label: "slow") { bio } } }`)
	op := doc.Operations[0]
	root := op.SelectionSet[0].(*language.Field)

	a := New()
	nodes := a.CollectFields(doc, &schema.Type{Name: "User"}, root.SelectionSet, nil)

	require.Len(t, nodes, 2)
	require.False(t, nodes[0].Defer)
	require.True(t, nodes[1].Defer)
	require.Equal(t, "slow", nodes[1].DeferLabel)
}

func TestCollectFieldsResolvesArgumentsWithVariables(t *testing.T) {
	doc := mustParse(t, `query($n: Int!) { posts(first: $n) { name } }`)
	op := doc.Operations[0]

	a := New()
	nodes := a.CollectFields(doc, &schema.Type{Name: "Query"}, op.SelectionSet, map[string]any{"n": 10})

	require.Len(t, nodes, 1)
	require.Equal(t, 10, nodes[0].Args["first"])
}

func TestVersionIsStablePerDocument(t *testing.T) {
	docA := mustParse(t, `query { user { name } }`)
	docB := mustParse(t, `query { user { name } }`)

	a := New()
	require.Equal(t, a.Version(docA), a.Version(docA))
	require.NotEqual(t, a.Version(docA), a.Version(docB))
}

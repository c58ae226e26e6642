package store

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestWriteAndReadRecord(t *testing.T) {
	s := New()
	s.Write(nil, func(txn *Txn) {
		txn.WriteRecord("User:1", "name", "Ada")
	})

	v, ok := s.ReadRecord("User:1", "name")
	require.True(t, ok)
	require.Equal(t, "Ada", v)

	_, ok = s.ReadRecord("User:1", "email")
	require.False(t, ok)
}

func TestWriteLinkShadowsLowerRecord(t *testing.T) {
	s := New()
	s.Write(nil, func(txn *Txn) {
		txn.WriteRecord("User:1", "avatar", "placeholder.png")
	})

	optimistic := NewLayer("opt:1", KindOptimistic)
	s.AddLayer(optimistic, 0)
	s.Write(optimistic, func(txn *Txn) {
		txn.WriteLink("User:1", "avatar", &Link{Kind: LinkSingle, Single: "Image:1"})
	})

	link, ok := s.ReadLink("User:1", "avatar")
	require.True(t, ok)
	require.Equal(t, "Image:1", link.Single)

	_, ok = s.ReadRecord("User:1", "avatar")
	require.False(t, ok)
}

func TestLayerOrderingTopToBottom(t *testing.T) {
	s := New()
	s.Write(nil, func(txn *Txn) { txn.WriteRecord("User:1", "name", "base") })

	commutative := NewLayer("op:1", KindCommutative)
	s.AddLayer(commutative, 0)
	s.Write(commutative, func(txn *Txn) { txn.WriteRecord("User:1", "name", "commutative") })

	optimistic := NewLayer("mut:1", KindOptimistic)
	s.AddLayer(optimistic, 0)
	s.Write(optimistic, func(txn *Txn) { txn.WriteRecord("User:1", "name", "optimistic") })

	v, ok := s.ReadRecord("User:1", "name")
	require.True(t, ok)
	require.Equal(t, "optimistic", v)

	s.RemoveLayer("mut:1")
	v, ok = s.ReadRecord("User:1", "name")
	require.True(t, ok)
	require.Equal(t, "commutative", v)
}

func TestCommitLayerMergesIntoBase(t *testing.T) {
	s := New()
	layer := NewLayer("op:1", KindCommutative)
	s.AddLayer(layer, 0)
	s.Write(layer, func(txn *Txn) { txn.WriteRecord("User:1", "name", "Grace") })

	s.CommitLayer("op:1")
	require.Nil(t, s.Layer("op:1"))

	v, ok := s.ReadRecord("User:1", "name")
	require.True(t, ok)
	require.Equal(t, "Grace", v)
}

func TestInvalidateEntityRemovesAllFields(t *testing.T) {
	s := New()
	s.Write(nil, func(txn *Txn) {
		txn.WriteRecord("User:1", "name", "Ada")
		txn.WriteRecord("User:1", "age", 36)
	})

	removed := s.InvalidateEntity("User:1")
	require.ElementsMatch(t, []string{"name", "age"}, removed)

	_, ok := s.ReadRecord("User:1", "name")
	require.False(t, ok)
}

func TestInvalidateFieldIgnoresArgs(t *testing.T) {
	s := New()
	s.Write(nil, func(txn *Txn) {
		txn.WriteRecord("Query", `posts(first:10)`, []any{"Post:1"})
		txn.WriteRecord("Query", `posts(first:20)`, []any{"Post:1", "Post:2"})
		txn.WriteRecord("Query", "viewer", "User:1")
	})

	removed := s.InvalidateField("Query", "posts")
	require.ElementsMatch(t, []string{"posts(first:10)", "posts(first:20)"}, removed)

	_, ok := s.ReadRecord("Query", "viewer")
	require.True(t, ok)
}

func TestGCRemovesUnreachableEntities(t *testing.T) {
	s := New()
	s.Write(nil, func(txn *Txn) {
		txn.WriteLink("Query", "viewer", &Link{Kind: LinkSingle, Single: "User:1"})
		txn.WriteRecord("User:1", "name", "Ada")
		txn.WriteRecord("User:2", "name", "Orphan")
	})

	removed := s.GC("Query")
	require.Equal(t, []string{"User:2"}, removed)

	_, ok := s.ReadRecord("User:1", "name")
	require.True(t, ok)
	_, ok = s.ReadRecord("User:2", "name")
	require.False(t, ok)
}

func TestKnownFieldsTracksAcrossLayers(t *testing.T) {
	s := New()
	s.Write(nil, func(txn *Txn) {
		txn.WriteRecord("User:1", "name", "Ada")
	})

	fields := s.KnownFields("User:1")
	require.ElementsMatch(t, []string{"name"}, fields)
}

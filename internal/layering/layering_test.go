package layering

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/graphcache/graphcache/internal/store"
)

func TestOptimisticLayerReadsAboveBase(t *testing.T) {
	s := store.New()
	s.Write(nil, func(txn *store.Txn) { txn.WriteRecord("User:1", "name", "base") })

	ctrl := New(s)
	layer := ctrl.BeginOptimistic("mut:1")
	s.Write(layer, func(txn *store.Txn) { txn.WriteRecord("User:1", "name", "optimistic") })

	v, ok := s.ReadRecord("User:1", "name")
	require.True(t, ok)
	require.Equal(t, "optimistic", v)

	ctrl.ResolveOptimistic(layer.Name)
	v, ok = s.ReadRecord("User:1", "name")
	require.True(t, ok)
	require.Equal(t, "optimistic", v)
	require.Nil(t, s.Layer(layer.Name))
}

func TestDiscardOptimisticRollsBack(t *testing.T) {
	s := store.New()
	s.Write(nil, func(txn *store.Txn) { txn.WriteRecord("User:1", "name", "base") })

	ctrl := New(s)
	layer := ctrl.BeginOptimistic("mut:1")
	s.Write(layer, func(txn *store.Txn) { txn.WriteRecord("User:1", "name", "optimistic") })

	ctrl.DiscardOptimistic(layer.Name)
	v, ok := s.ReadRecord("User:1", "name")
	require.True(t, ok)
	require.Equal(t, "base", v)
}

func TestSubscriptionCommitDefersToOpenOptimisticLayer(t *testing.T) {
	s := store.New()
	ctrl := New(s)

	optLayer := ctrl.BeginOptimistic("mut:1")
	subLayer := ctrl.BeginSubscription("sub-op:1")
	s.Write(subLayer, func(txn *store.Txn) { txn.WriteRecord("User:1", "status", "online") })

	ctrl.ResolveSubscription(subLayer.Name)
	require.NotNil(t, s.Layer(subLayer.Name), "subscription layer should stay open behind the in-flight mutation")

	ctrl.ResolveOptimistic(optLayer.Name)
	require.Nil(t, s.Layer(subLayer.Name), "subscription layer should commit once the mutation resolves")

	v, ok := s.ReadRecord("User:1", "status")
	require.True(t, ok)
	require.Equal(t, "online", v)
}

func TestSubscriptionReadsAboveCommutativeLayer(t *testing.T) {
	s := store.New()
	ctrl := New(s)

	cmtLayer := ctrl.BeginCommutative("query:1")
	s.Write(cmtLayer, func(txn *store.Txn) { txn.WriteRecord("User:1", "status", "stale") })

	subLayer := ctrl.BeginSubscription("sub-op:1")
	s.Write(subLayer, func(txn *store.Txn) { txn.WriteRecord("User:1", "status", "fresh") })

	v, ok := s.ReadRecord("User:1", "status")
	require.True(t, ok)
	require.Equal(t, "fresh", v)
}

func TestCommutativeResolveSquashesIntoBase(t *testing.T) {
	s := store.New()
	ctrl := New(s)

	layer := ctrl.BeginCommutative("query:1")
	s.Write(layer, func(txn *store.Txn) { txn.WriteRecord("User:1", "name", "Ada") })

	ctrl.ResolveCommutative(layer.Name)
	require.Nil(t, s.Layer(layer.Name))

	v, ok := s.ReadRecord("User:1", "name")
	require.True(t, ok)
	require.Equal(t, "Ada", v)
}

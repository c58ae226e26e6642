package depindex

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTriggeredByFieldDependency(t *testing.T) {
	idx := New()
	idx.Record("op:1", map[string]map[string]bool{"User:1": {"name": true}}, nil, 1)

	triggered := idx.Triggered(map[string]map[string]bool{"User:1": {"name": true}}, nil, 2)
	require.Equal(t, []string{"op:1"}, triggered)
}

func TestTriggeredByTypename(t *testing.T) {
	idx := New()
	idx.Record("op:1", nil, map[string]bool{"Post": true}, 1)

	triggered := idx.Triggered(nil, map[string]bool{"Post": true}, 2)
	require.Equal(t, []string{"op:1"}, triggered)
}

func TestTriggeredExcludesSameOrNewerGeneration(t *testing.T) {
	idx := New()
	idx.Record("op:1", map[string]map[string]bool{"User:1": {"name": true}}, nil, 5)

	triggered := idx.Triggered(map[string]map[string]bool{"User:1": {"name": true}}, nil, 5)
	require.Empty(t, triggered, "an operation last run at generation 5 must not retrigger at generation 5")

	triggered = idx.Triggered(map[string]map[string]bool{"User:1": {"name": true}}, nil, 6)
	require.Equal(t, []string{"op:1"}, triggered)
}

func TestRecordReplacesPreviousDependencies(t *testing.T) {
	idx := New()
	idx.Record("op:1", map[string]map[string]bool{"User:1": {"name": true}}, nil, 1)
	idx.Record("op:1", map[string]map[string]bool{"User:2": {"name": true}}, nil, 2)

	require.Empty(t, idx.Triggered(map[string]map[string]bool{"User:1": {"name": true}}, nil, 3))
	require.Equal(t, []string{"op:1"}, idx.Triggered(map[string]map[string]bool{"User:2": {"name": true}}, nil, 3))
}

func TestForgetRemovesOperation(t *testing.T) {
	idx := New()
	idx.Record("op:1", map[string]map[string]bool{"User:1": {"name": true}}, nil, 1)
	idx.Forget("op:1")

	require.Empty(t, idx.Triggered(map[string]map[string]bool{"User:1": {"name": true}}, nil, 2))
}

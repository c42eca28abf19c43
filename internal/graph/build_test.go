package graph

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/driftlab/lineage/pkg/types"
)

// snap builds a snapshot where each node's payload carries the given checksum.
// An empty checksum string means the payload has no checksum block.
func snap(nodes map[string]string, parents map[string][]string) *types.Snapshot {
	s := &types.Snapshot{
		Nodes:     make(map[string]*types.ResourceData),
		ParentMap: parents,
	}
	for key, sum := range nodes {
		data := &types.ResourceData{
			UniqueID:     key,
			Name:         key,
			ResourceType: "model",
			PackageName:  "analytics",
		}
		if sum != "" {
			data.Checksum = &types.Checksum{Name: "sha256", Checksum: sum}
		}
		s.Nodes[key] = data
	}
	return s
}

func TestBuild_IdenticalSnapshots(t *testing.T) {
	parents := map[string][]string{"b": {"a"}, "c": {"b"}}
	base := snap(map[string]string{"a": "1", "b": "2", "c": "3"}, parents)
	current := snap(map[string]string{"a": "1", "b": "2", "c": "3"}, parents)

	g := Build(base, current, nil)

	require.Len(t, g.Nodes, 3)
	for _, node := range g.Nodes {
		assert.Equal(t, types.FromBoth, node.From)
		assert.Empty(t, node.ChangeStatus)
	}
	assert.Empty(t, g.ModifiedSet)

	require.Len(t, g.Edges, 2)
	for _, edge := range g.Edges {
		assert.Equal(t, types.FromBoth, edge.From)
		assert.Empty(t, edge.ChangeStatus)
	}
}

func TestBuild_AddedAndRemoved(t *testing.T) {
	base := snap(map[string]string{"a": "1", "gone": "9"}, nil)
	current := snap(map[string]string{"a": "1", "new": "5"}, nil)

	g := Build(base, current, nil)

	require.Contains(t, g.Nodes, "gone")
	require.Contains(t, g.Nodes, "new")

	assert.Equal(t, types.FromBase, g.Nodes["gone"].From)
	assert.Equal(t, types.ChangeStatusRemoved, g.Nodes["gone"].ChangeStatus)

	assert.Equal(t, types.FromCurrent, g.Nodes["new"].From)
	assert.Equal(t, types.ChangeStatusAdded, g.Nodes["new"].ChangeStatus)

	assert.ElementsMatch(t, []string{"gone", "new"}, g.ModifiedSet)
	assert.Empty(t, g.Nodes["a"].ChangeStatus)
}

func TestBuild_ChecksumModification(t *testing.T) {
	t.Run("differing checksums mark modified", func(t *testing.T) {
		g := Build(
			snap(map[string]string{"a": "1"}, nil),
			snap(map[string]string{"a": "2"}, nil),
			nil,
		)
		assert.Equal(t, types.ChangeStatusModified, g.Nodes["a"].ChangeStatus)
		assert.Equal(t, []string{"a"}, g.ModifiedSet)
	})

	t.Run("equal checksums leave status unset", func(t *testing.T) {
		g := Build(
			snap(map[string]string{"a": "1"}, nil),
			snap(map[string]string{"a": "1"}, nil),
			nil,
		)
		assert.Empty(t, g.Nodes["a"].ChangeStatus)
		assert.Empty(t, g.ModifiedSet)
	})

	t.Run("missing checksum on either side is not a change", func(t *testing.T) {
		g := Build(
			snap(map[string]string{"a": ""}, nil),
			snap(map[string]string{"a": "1"}, nil),
			nil,
		)
		assert.Empty(t, g.Nodes["a"].ChangeStatus)
		assert.Empty(t, g.ModifiedSet)
	})

	t.Run("null payload is not a change", func(t *testing.T) {
		base := snap(map[string]string{"a": "1"}, nil)
		current := &types.Snapshot{Nodes: map[string]*types.ResourceData{"a": nil}}
		g := Build(base, current, nil)
		assert.Equal(t, types.FromBoth, g.Nodes["a"].From)
		assert.Empty(t, g.Nodes["a"].ChangeStatus)
	})
}

func TestBuild_DanglingEdgesDropped(t *testing.T) {
	base := snap(map[string]string{"a": "1"}, map[string][]string{
		"a":       {"missing_parent"},
		"missing": {"a"},
	})
	current := snap(map[string]string{"a": "1"}, map[string][]string{
		"a": {"also_missing"},
	})

	var g *types.Graph
	require.NotPanics(t, func() { g = Build(base, current, nil) })

	assert.Empty(t, g.Edges)
	assert.Empty(t, g.Nodes["a"].Parents)
	assert.Empty(t, g.Nodes["a"].Children)
}

func TestBuild_DiffPrecedence(t *testing.T) {
	// Checksums are equal, so the derived status would be unset; the diff
	// record must win anyway.
	diff := map[string]types.NodeDiff{
		"a": {
			ChangeStatus: types.ChangeStatusModified,
			Change: &types.ChangeDetail{
				Category: "schema",
				Columns:  map[string]string{"amount": "type_changed"},
			},
		},
	}
	g := Build(
		snap(map[string]string{"a": "1", "gone": "9"}, nil),
		snap(map[string]string{"a": "1"}, nil),
		diff,
	)

	assert.Equal(t, types.ChangeStatusModified, g.Nodes["a"].ChangeStatus)
	require.NotNil(t, g.Nodes["a"].Change)
	assert.Equal(t, "schema", g.Nodes["a"].Change.Category)

	// Nodes without a diff record still get the derived status.
	assert.Equal(t, types.ChangeStatusRemoved, g.Nodes["gone"].ChangeStatus)
	assert.ElementsMatch(t, []string{"a", "gone"}, g.ModifiedSet)
}

func TestBuild_DiffOverridesDerivedRemoved(t *testing.T) {
	diff := map[string]types.NodeDiff{
		"gone": {ChangeStatus: types.ChangeStatusModified},
	}
	g := Build(snap(map[string]string{"gone": "9"}, nil), snap(nil, nil), diff)

	assert.Equal(t, types.ChangeStatusModified, g.Nodes["gone"].ChangeStatus)
	assert.Equal(t, []string{"gone"}, g.ModifiedSet)
}

func TestBuild_EdgeProvenance(t *testing.T) {
	base := snap(map[string]string{"a": "1", "b": "2", "c": "3"}, map[string][]string{
		"b": {"a"}, // kept in both
		"c": {"a"}, // removed in current
	})
	current := snap(map[string]string{"a": "1", "b": "2", "c": "3"}, map[string][]string{
		"b": {"a"},
		"c": {"b"}, // new in current
	})

	g := Build(base, current, nil)
	require.Len(t, g.Edges, 3)

	kept := g.Edges[EdgeID("a", "b")]
	require.NotNil(t, kept)
	assert.Equal(t, types.FromBoth, kept.From)
	assert.Empty(t, kept.ChangeStatus)

	removed := g.Edges[EdgeID("a", "c")]
	require.NotNil(t, removed)
	assert.Equal(t, types.FromBase, removed.From)
	assert.Equal(t, types.ChangeStatusRemoved, removed.ChangeStatus)

	added := g.Edges[EdgeID("b", "c")]
	require.NotNil(t, added)
	assert.Equal(t, types.FromCurrent, added.From)
	assert.Equal(t, types.ChangeStatusAdded, added.ChangeStatus)

	// Edges are registered symmetrically in both endpoints.
	assert.Same(t, kept, g.Nodes["b"].Parents["a"])
	assert.Same(t, kept, g.Nodes["a"].Children["b"])
}

func TestBuild_CurrentAttributesWin(t *testing.T) {
	base := &types.Snapshot{Nodes: map[string]*types.ResourceData{
		"a": {Name: "old_name", ResourceType: "seed", PackageName: "legacy"},
	}}
	current := &types.Snapshot{Nodes: map[string]*types.ResourceData{
		"a": {Name: "new_name", ResourceType: "model", PackageName: "analytics"},
	}}

	g := Build(base, current, nil)

	assert.Equal(t, "new_name", g.Nodes["a"].Name)
	assert.Equal(t, "model", g.Nodes["a"].ResourceType)
	assert.Equal(t, "analytics", g.Nodes["a"].PackageName)
}

func TestBuild_ModifiedSetFollowsKeyOrder(t *testing.T) {
	base := snap(map[string]string{"z": "1", "a": "1", "m": "1"}, nil)
	current := snap(map[string]string{"z": "2", "a": "2", "m": "2"}, nil)

	g := Build(base, current, nil)

	assert.Equal(t, g.Keys, g.ModifiedSet)
	assert.Equal(t, []string{"a", "m", "z"}, g.Keys)
}

func TestBuild_SnapshotMetadata(t *testing.T) {
	base := snap(nil, nil)
	base.ManifestMetadata = map[string]any{"dbt_version": "1.7.0"}
	current := snap(nil, nil)
	current.CatalogMetadata = map[string]any{"generated_at": "2026-01-01"}

	g := Build(base, current, nil)

	require.NotNil(t, g.Base)
	require.NotNil(t, g.Current)
	assert.Equal(t, "1.7.0", g.Base.ManifestMetadata["dbt_version"])
	assert.Equal(t, "2026-01-01", g.Current.CatalogMetadata["generated_at"])
}

func TestBuild_NilSnapshots(t *testing.T) {
	g := Build(nil, nil, nil)
	assert.Empty(t, g.Nodes)
	assert.Empty(t, g.Edges)
	assert.Empty(t, g.ModifiedSet)
}

// Package graph builds and queries the unified lineage graph.
package graph

import (
	"sort"

	"github.com/driftlab/lineage/pkg/types"
)

// Build merges the base and current snapshots into one unified graph, tags
// every node and edge with its provenance and change status, and computes the
// modified set. diff is an optional overlay of precomputed change records
// that take precedence over any derived status.
//
// Snapshot maps carry no ordering, so construction iterates keys in sorted
// order; the graph's Keys slice records the resulting insertion order and
// ModifiedSet follows it.
func Build(base, current *types.Snapshot, diff map[string]types.NodeDiff) *types.Graph {
	g := &types.Graph{
		Nodes:       make(map[string]*types.Node),
		Edges:       make(map[string]*types.Edge),
		Keys:        make([]string, 0),
		ModifiedSet: make([]string, 0),
	}

	if base != nil {
		g.Base = &types.SnapshotMeta{
			ManifestMetadata: base.ManifestMetadata,
			CatalogMetadata:  base.CatalogMetadata,
		}
		for _, key := range sortedKeys(base.Nodes) {
			node := ensureNode(g, key)
			node.From = types.FromBase
			node.Base = base.Nodes[key]
			applyPayload(node, base.Nodes[key])
		}
	}

	if current != nil {
		g.Current = &types.SnapshotMeta{
			ManifestMetadata: current.ManifestMetadata,
			CatalogMetadata:  current.CatalogMetadata,
		}
		for _, key := range sortedKeys(current.Nodes) {
			node, exists := g.Nodes[key]
			if exists {
				node.From = types.FromBoth
			} else {
				node = ensureNode(g, key)
				node.From = types.FromCurrent
			}
			node.Current = current.Nodes[key]
			// Current values win over base for shared keys.
			applyPayload(node, current.Nodes[key])
		}
	}

	if base != nil {
		registerEdges(g, base.ParentMap, types.FromBase)
	}
	if current != nil {
		registerEdges(g, current.ParentMap, types.FromCurrent)
	}

	for _, key := range g.Keys {
		node := g.Nodes[key]
		if record, ok := diff[key]; ok {
			node.ChangeStatus = record.ChangeStatus
			node.Change = record.Change
			g.ModifiedSet = append(g.ModifiedSet, key)
			continue
		}
		switch node.From {
		case types.FromBase:
			node.ChangeStatus = types.ChangeStatusRemoved
			g.ModifiedSet = append(g.ModifiedSet, key)
		case types.FromCurrent:
			node.ChangeStatus = types.ChangeStatusAdded
			g.ModifiedSet = append(g.ModifiedSet, key)
		default:
			// Present in both: only a checksum mismatch counts as a
			// modification. Missing checksums on either side are not
			// treated as a change.
			baseSum := checksumOf(node.Base)
			currentSum := checksumOf(node.Current)
			if baseSum != "" && currentSum != "" && baseSum != currentSum {
				node.ChangeStatus = types.ChangeStatusModified
				g.ModifiedSet = append(g.ModifiedSet, key)
			}
		}
	}

	for _, edge := range g.Edges {
		switch edge.From {
		case types.FromBase:
			edge.ChangeStatus = types.ChangeStatusRemoved
		case types.FromCurrent:
			edge.ChangeStatus = types.ChangeStatusAdded
		}
	}

	return g
}

// EdgeID returns the composite edge key for a parent -> child dependency.
func EdgeID(parentKey, childKey string) string {
	return parentKey + "_" + childKey
}

func ensureNode(g *types.Graph, key string) *types.Node {
	if node, ok := g.Nodes[key]; ok {
		return node
	}
	node := &types.Node{
		Key:      key,
		Parents:  make(map[string]*types.Edge),
		Children: make(map[string]*types.Edge),
	}
	g.Nodes[key] = node
	g.Keys = append(g.Keys, key)
	return node
}

func applyPayload(node *types.Node, payload *types.ResourceData) {
	if payload == nil {
		return
	}
	node.Name = payload.Name
	node.ResourceType = payload.ResourceType
	node.PackageName = payload.PackageName
}

// registerEdges creates or upgrades edges for every (child, parents) pair.
// Pairs referencing a key absent from the unified node set are dropped.
// Registration in both endpoints' maps is idempotent.
func registerEdges(g *types.Graph, parentMap map[string][]string, from types.From) {
	for _, childKey := range sortedKeys(parentMap) {
		child, ok := g.Nodes[childKey]
		if !ok {
			continue
		}
		for _, parentKey := range parentMap[childKey] {
			parent, ok := g.Nodes[parentKey]
			if !ok {
				continue
			}
			id := EdgeID(parentKey, childKey)
			edge, ok := g.Edges[id]
			if !ok {
				edge = &types.Edge{
					ID:        id,
					ParentKey: parentKey,
					ChildKey:  childKey,
					From:      from,
				}
				g.Edges[id] = edge
			} else if edge.From != from {
				edge.From = types.FromBoth
			}
			child.Parents[parentKey] = edge
			parent.Children[childKey] = edge
		}
	}
}

func checksumOf(payload *types.ResourceData) string {
	if payload == nil || payload.Checksum == nil {
		return ""
	}
	return payload.Checksum.Checksum
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

package graph

import "github.com/driftlab/lineage/pkg/types"

// MaxTraversalDegree is the effectively unbounded depth used when a caller
// wants the full reachability closure.
const MaxTraversalDegree = 1000

// NeighborClosure returns the set of keys reachable from any seed within
// maxDegree hops, seeds included. neighbors supplies the adjacency for a key.
//
// The traversal memoizes, per key, the largest remaining-degree budget it has
// already been explored with; a key is descended into again only when the
// current budget strictly exceeds that record. This keeps diamond-shaped
// graphs linear while still allowing re-exploration with a larger budget.
func NeighborClosure(seeds []string, neighbors func(key string) []string, maxDegree int) map[string]struct{} {
	result := make(map[string]struct{})
	visited := make(map[string]int)

	var walk func(key string, remaining int)
	walk = func(key string, remaining int) {
		if prev, ok := visited[key]; ok && prev >= remaining {
			return
		}
		visited[key] = remaining
		if remaining > 0 {
			for _, next := range neighbors(key) {
				walk(next, remaining-1)
			}
		}
		result[key] = struct{}{}
	}

	for _, seed := range seeds {
		walk(seed, maxDegree)
	}
	return result
}

// SelectUpstream returns the keys reachable from seeds along parent edges
// within maxDegree hops. Seeds absent from the graph contribute themselves
// but no neighbors.
func SelectUpstream(g *types.Graph, keys []string, maxDegree int) map[string]struct{} {
	return NeighborClosure(keys, adjacency(g, true), maxDegree)
}

// SelectDownstream mirrors SelectUpstream along child edges.
func SelectDownstream(g *types.Graph, keys []string, maxDegree int) map[string]struct{} {
	return NeighborClosure(keys, adjacency(g, false), maxDegree)
}

func adjacency(g *types.Graph, upstream bool) func(key string) []string {
	return func(key string) []string {
		node, ok := g.Nodes[key]
		if !ok {
			return nil
		}
		edges := node.Children
		if upstream {
			edges = node.Parents
		}
		out := make([]string, 0, len(edges))
		for neighbor := range edges {
			out = append(out, neighbor)
		}
		return out
	}
}

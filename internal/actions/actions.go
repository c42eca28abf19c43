// Package actions defines the batch operations executable over lineage nodes
// and the parameter builders for their remote runs.
package actions

import (
	"fmt"

	"github.com/driftlab/lineage/internal/runner"
	"github.com/driftlab/lineage/pkg/types"
)

// Known action types understood by the job API.
const (
	TypeRowCount  = "row_count"
	TypeValueDiff = "value_diff"
)

// ErrUnknownType is returned for action types outside the catalog.
var ErrUnknownType = fmt.Errorf("unknown action type")

// Definition describes one executable action type.
type Definition struct {
	Type string
	Mode types.BatchMode
}

// Catalog lists the built-in actions.
var Catalog = map[string]Definition{
	TypeRowCount:  {Type: TypeRowCount, Mode: types.BatchModeMultiNodes},
	TypeValueDiff: {Type: TypeValueDiff, Mode: types.BatchModePerNode},
}

// Lookup resolves an action type from the catalog.
func Lookup(actionType string) (Definition, error) {
	def, ok := Catalog[actionType]
	if !ok {
		return Definition{}, fmt.Errorf("%w: %q", ErrUnknownType, actionType)
	}
	return def, nil
}

// rowCountable lists the resource types a row count can run against.
var rowCountable = map[string]bool{
	"model":    true,
	"seed":     true,
	"snapshot": true,
}

// RowCountSkip is the default eligibility rule for row counts.
func RowCountSkip(node *types.Node) string {
	if rowCountable[node.ResourceType] {
		return ""
	}
	return fmt.Sprintf("resource type %q does not support row count", node.ResourceType)
}

// RowCountParams builds the single multi-nodes submission for a row count.
func RowCountParams(nodes []*types.Node) map[string]any {
	names := make([]string, 0, len(nodes))
	for _, node := range nodes {
		name := node.Name
		if name == "" {
			name = node.Key
		}
		names = append(names, name)
	}
	return map[string]any{"node_names": names}
}

// ValueDiffParams returns the per-node parameter builder for a value diff.
// primaryKeys maps node key to the column used for row matching; nodes
// without one are skipped.
func ValueDiffParams(primaryKeys map[string]string) runner.PerNodeParams {
	return func(node *types.Node) (map[string]any, string) {
		if node.ResourceType != "model" {
			return nil, fmt.Sprintf("resource type %q does not support value diff", node.ResourceType)
		}
		pk := primaryKeys[node.Key]
		if pk == "" {
			return nil, "no primary key configured"
		}
		name := node.Name
		if name == "" {
			name = node.Key
		}
		return map[string]any{"model": name, "primary_key": pk}, ""
	}
}

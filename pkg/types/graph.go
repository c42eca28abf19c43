// Package types provides shared types for the lineage service.
package types

// From indicates which snapshot(s) contributed a node or edge.
type From string

const (
	FromBase    From = "base"
	FromCurrent From = "current"
	FromBoth    From = "both"
)

// ChangeStatus classifies how a node or edge differs between the base and
// current snapshots. The zero value means no change was detected.
type ChangeStatus string

const (
	ChangeStatusAdded    ChangeStatus = "added"
	ChangeStatusRemoved  ChangeStatus = "removed"
	ChangeStatusModified ChangeStatus = "modified"
)

// Checksum identifies the content of one version of a resource.
type Checksum struct {
	Name     string `json:"name,omitempty"`
	Checksum string `json:"checksum"`
}

// ResourceData is the per-environment payload of a node. Payloads are opaque
// beyond the fields below; a nil payload means the snapshot listed the key
// without data.
type ResourceData struct {
	UniqueID     string    `json:"unique_id,omitempty"`
	Name         string    `json:"name,omitempty"`
	ResourceType string    `json:"resource_type,omitempty"`
	PackageName  string    `json:"package_name,omitempty"`
	Checksum     *Checksum `json:"checksum,omitempty"`
}

// ChangeDetail describes what changed in a modified node.
type ChangeDetail struct {
	Category string            `json:"category,omitempty"`
	Columns  map[string]string `json:"columns,omitempty"`
}

// NodeDiff is a precomputed change record for one node. When present it
// overrides any change status derived from provenance or checksums.
type NodeDiff struct {
	ChangeStatus ChangeStatus  `json:"change_status"`
	Change       *ChangeDetail `json:"change,omitempty"`
}

// Node is a vertex of the unified lineage graph. Nodes are created during
// graph construction and read-only afterwards.
type Node struct {
	Key          string        `json:"key"`
	Name         string        `json:"name,omitempty"`
	ResourceType string        `json:"resource_type,omitempty"`
	PackageName  string        `json:"package_name,omitempty"`
	From         From          `json:"from"`
	Base         *ResourceData `json:"base,omitempty"`
	Current      *ResourceData `json:"current,omitempty"`
	ChangeStatus ChangeStatus  `json:"change_status,omitempty"`
	Change       *ChangeDetail `json:"change,omitempty"`

	// Parents and Children map the neighbor's key to the connecting edge.
	// Maintained symmetrically: registering an edge always updates both
	// the child's Parents and the parent's Children.
	Parents  map[string]*Edge `json:"parents"`
	Children map[string]*Edge `json:"children"`
}

// Edge is a parent -> child dependency arc. Its ID is the composite key
// "<parentKey>_<childKey>".
type Edge struct {
	ID           string       `json:"id"`
	ParentKey    string       `json:"parent_key"`
	ChildKey     string       `json:"child_key"`
	From         From         `json:"from"`
	ChangeStatus ChangeStatus `json:"change_status,omitempty"`
}

// SnapshotMeta carries the snapshot-level metadata blocks of one environment.
type SnapshotMeta struct {
	ManifestMetadata map[string]any `json:"manifest_metadata,omitempty"`
	CatalogMetadata  map[string]any `json:"catalog_metadata,omitempty"`
}

// Graph is the unified lineage graph produced by merging a base and a current
// snapshot. It is immutable after construction and safe for concurrent reads.
type Graph struct {
	ID    string           `json:"id,omitempty"`
	Nodes map[string]*Node `json:"nodes"`
	Edges map[string]*Edge `json:"edges"`

	// Keys holds the node keys in construction (insertion) order. Go maps
	// do not preserve order, so ordered iteration goes through this slice.
	Keys []string `json:"keys"`

	// ModifiedSet lists the keys of nodes with a non-empty change status,
	// in construction order.
	ModifiedSet []string `json:"modified_set"`

	Base    *SnapshotMeta `json:"base,omitempty"`
	Current *SnapshotMeta `json:"current,omitempty"`
}

// Snapshot is the dependency graph of one environment as consumed by the
// graph builder. Node payloads may be null.
type Snapshot struct {
	Nodes            map[string]*ResourceData `json:"nodes"`
	ParentMap        map[string][]string      `json:"parent_map"`
	ManifestMetadata map[string]any           `json:"manifest_metadata,omitempty"`
	CatalogMetadata  map[string]any           `json:"catalog_metadata,omitempty"`
}

// Package snapshot loads and validates lineage snapshots and diff overlays.
package snapshot

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/driftlab/lineage/pkg/types"
)

// Input bundles the raw inputs of one graph build.
type Input struct {
	Base    *types.Snapshot           `json:"base"`
	Current *types.Snapshot           `json:"current"`
	Diff    map[string]types.NodeDiff `json:"diff,omitempty"`
}

// Decode parses a single snapshot document.
func Decode(data []byte) (*types.Snapshot, error) {
	var snap types.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	return &snap, nil
}

// DecodeDiff parses a diff overlay document.
func DecodeDiff(data []byte) (map[string]types.NodeDiff, error) {
	var diff map[string]types.NodeDiff
	if err := json.Unmarshal(data, &diff); err != nil {
		return nil, fmt.Errorf("decode diff: %w", err)
	}
	return diff, nil
}

// LoadFile reads and parses a snapshot document from disk.
func LoadFile(path string) (*types.Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read snapshot %s: %w", path, err)
	}
	return Decode(data)
}

// LoadDiffFile reads and parses a diff overlay from disk.
func LoadDiffFile(path string) (map[string]types.NodeDiff, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read diff %s: %w", path, err)
	}
	return DecodeDiff(data)
}

// LoadInput assembles the inputs of one graph build from local files.
// Empty paths leave the corresponding input nil.
func LoadInput(basePath, currentPath, diffPath string) (*Input, error) {
	in := &Input{}
	var err error
	if basePath != "" {
		if in.Base, err = LoadFile(basePath); err != nil {
			return nil, err
		}
	}
	if currentPath != "" {
		if in.Current, err = LoadFile(currentPath); err != nil {
			return nil, err
		}
	}
	if diffPath != "" {
		if in.Diff, err = LoadDiffFile(diffPath); err != nil {
			return nil, err
		}
	}
	return in, nil
}

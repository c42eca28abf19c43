package snapshot

import (
	"os"
	"path/filepath"
	"testing"
)

const validSnapshotJSON = `{
  "nodes": {
    "model.app.orders": {
      "unique_id": "model.app.orders",
      "name": "orders",
      "resource_type": "model",
      "package_name": "app",
      "checksum": {"name": "sha256", "checksum": "abc123"}
    },
    "source.app.raw_orders": null
  },
  "parent_map": {
    "model.app.orders": ["source.app.raw_orders"]
  },
  "manifest_metadata": {"generated_at": "2026-08-01T00:00:00Z"}
}`

func TestDecode(t *testing.T) {
	snap, err := Decode([]byte(validSnapshotJSON))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if len(snap.Nodes) != 2 {
		t.Fatalf("nodes = %d, want 2", len(snap.Nodes))
	}
	orders := snap.Nodes["model.app.orders"]
	if orders == nil || orders.Checksum == nil || orders.Checksum.Checksum != "abc123" {
		t.Errorf("orders = %+v", orders)
	}
	if snap.Nodes["source.app.raw_orders"] != nil {
		t.Error("null payload should decode to nil")
	}
	if parents := snap.ParentMap["model.app.orders"]; len(parents) != 1 {
		t.Errorf("parents = %v", parents)
	}
}

func TestDecode_Invalid(t *testing.T) {
	if _, err := Decode([]byte(`{`)); err == nil {
		t.Error("expected decode error")
	}
}

func TestDecodeDiff(t *testing.T) {
	diff, err := DecodeDiff([]byte(`{
		"model.app.orders": {"change_status": "modified", "change": {"category": "schema", "columns": {"amount": "type_changed"}}},
		"model.app.items": {"change_status": "added"}
	}`))
	if err != nil {
		t.Fatalf("DecodeDiff: %v", err)
	}
	if len(diff) != 2 {
		t.Fatalf("diff entries = %d", len(diff))
	}
	orders := diff["model.app.orders"]
	if orders.ChangeStatus != "modified" || orders.Change == nil || orders.Change.Category != "schema" {
		t.Errorf("orders diff = %+v", orders)
	}
}

func TestLoadInput(t *testing.T) {
	dir := t.TempDir()
	basePath := filepath.Join(dir, "base.json")
	diffPath := filepath.Join(dir, "diff.json")
	if err := os.WriteFile(basePath, []byte(validSnapshotJSON), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(diffPath, []byte(`{"model.app.orders": {"change_status": "modified"}}`), 0o644); err != nil {
		t.Fatal(err)
	}

	in, err := LoadInput(basePath, basePath, diffPath)
	if err != nil {
		t.Fatalf("LoadInput: %v", err)
	}
	if in.Base == nil || len(in.Base.Nodes) != 2 {
		t.Errorf("base = %+v", in.Base)
	}
	if in.Current == nil || len(in.Current.Nodes) != 2 {
		t.Errorf("current = %+v", in.Current)
	}
	if in.Diff["model.app.orders"].ChangeStatus != "modified" {
		t.Errorf("diff = %+v", in.Diff)
	}
}

func TestLoadInput_OptionalPaths(t *testing.T) {
	in, err := LoadInput("", "", "")
	if err != nil {
		t.Fatalf("LoadInput: %v", err)
	}
	if in.Base != nil || in.Current != nil || in.Diff != nil {
		t.Errorf("empty paths should leave inputs nil: %+v", in)
	}

	if _, err := LoadInput(filepath.Join(t.TempDir(), "missing.json"), "", ""); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestValidator_Snapshot(t *testing.T) {
	v, err := NewValidator()
	if err != nil {
		t.Fatalf("NewValidator: %v", err)
	}

	res := v.ValidateSnapshotJSON([]byte(validSnapshotJSON))
	if !res.Valid {
		t.Fatalf("valid snapshot rejected: %+v", res.Errors)
	}

	res = v.ValidateSnapshotJSON([]byte(`{"parent_map": {}}`))
	if res.Valid {
		t.Error("snapshot without nodes should be rejected")
	}

	res = v.ValidateSnapshotJSON([]byte(`not json`))
	if res.Valid || len(res.Errors) == 0 {
		t.Error("invalid JSON should be rejected with an error")
	}
}

func TestValidator_Diff(t *testing.T) {
	v, err := NewValidator()
	if err != nil {
		t.Fatalf("NewValidator: %v", err)
	}

	res := v.ValidateDiffJSON([]byte(`{"model.app.orders": {"change_status": "modified"}}`))
	if !res.Valid {
		t.Fatalf("valid diff rejected: %+v", res.Errors)
	}

	res = v.ValidateDiffJSON([]byte(`{"model.app.orders": {"change_status": "renamed"}}`))
	if res.Valid {
		t.Error("unknown change_status should be rejected")
	}
}

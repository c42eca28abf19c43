package snapshot

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Validator validates snapshot and diff overlay documents.
type Validator struct {
	snapshotSchema *jsonschema.Schema
	diffSchema     *jsonschema.Schema
}

// ValidationError represents a validation failure.
type ValidationError struct {
	Path    string `json:"path"`
	Message string `json:"message"`
}

// ValidationResult holds the result of a validation.
type ValidationResult struct {
	Valid  bool              `json:"valid"`
	Errors []ValidationError `json:"errors,omitempty"`
}

// NewValidator creates a validator with embedded schemas.
func NewValidator() (*Validator, error) {
	compiler := jsonschema.NewCompiler()
	compiler.Draft = jsonschema.Draft2020

	if err := compiler.AddResource("snapshot.json", strings.NewReader(snapshotSchemaJSON)); err != nil {
		return nil, fmt.Errorf("add snapshot schema: %w", err)
	}
	if err := compiler.AddResource("diff.json", strings.NewReader(diffSchemaJSON)); err != nil {
		return nil, fmt.Errorf("add diff schema: %w", err)
	}

	snapshotSchema, err := compiler.Compile("snapshot.json")
	if err != nil {
		return nil, fmt.Errorf("compile snapshot schema: %w", err)
	}

	diffSchema, err := compiler.Compile("diff.json")
	if err != nil {
		return nil, fmt.Errorf("compile diff schema: %w", err)
	}

	return &Validator{
		snapshotSchema: snapshotSchema,
		diffSchema:     diffSchema,
	}, nil
}

// ValidateSnapshot validates a decoded snapshot document.
func (v *Validator) ValidateSnapshot(doc map[string]interface{}) *ValidationResult {
	return v.validate(v.snapshotSchema, doc)
}

// ValidateDiff validates a decoded diff overlay.
func (v *Validator) ValidateDiff(doc map[string]interface{}) *ValidationResult {
	return v.validate(v.diffSchema, doc)
}

// ValidateSnapshotJSON validates a JSON-encoded snapshot document.
func (v *Validator) ValidateSnapshotJSON(data []byte) *ValidationResult {
	var doc map[string]interface{}
	if err := json.Unmarshal(data, &doc); err != nil {
		return &ValidationResult{
			Valid: false,
			Errors: []ValidationError{
				{Path: "$", Message: fmt.Sprintf("invalid JSON: %v", err)},
			},
		}
	}
	return v.ValidateSnapshot(doc)
}

// ValidateDiffJSON validates a JSON-encoded diff overlay.
func (v *Validator) ValidateDiffJSON(data []byte) *ValidationResult {
	var doc map[string]interface{}
	if err := json.Unmarshal(data, &doc); err != nil {
		return &ValidationResult{
			Valid: false,
			Errors: []ValidationError{
				{Path: "$", Message: fmt.Sprintf("invalid JSON: %v", err)},
			},
		}
	}
	return v.ValidateDiff(doc)
}

// validate runs schema validation and converts errors.
func (v *Validator) validate(schema *jsonschema.Schema, data interface{}) *ValidationResult {
	err := schema.Validate(data)
	if err == nil {
		return &ValidationResult{Valid: true}
	}

	result := &ValidationResult{Valid: false}

	if verr, ok := err.(*jsonschema.ValidationError); ok {
		result.Errors = extractErrors(verr)
	} else {
		result.Errors = []ValidationError{
			{Path: "$", Message: err.Error()},
		}
	}

	return result
}

// extractErrors recursively extracts validation errors.
func extractErrors(verr *jsonschema.ValidationError) []ValidationError {
	var errors []ValidationError

	if verr.Message != "" {
		errors = append(errors, ValidationError{
			Path:    verr.InstanceLocation,
			Message: verr.Message,
		})
	}

	for _, cause := range verr.Causes {
		errors = append(errors, extractErrors(cause)...)
	}

	return errors
}

// Embedded JSON schemas

const snapshotSchemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "$id": "snapshot.json",
  "title": "Lineage Snapshot",
  "description": "One environment's resource inventory and parent map",
  "type": "object",
  "required": ["nodes"],
  "properties": {
    "nodes": {
      "type": "object",
      "additionalProperties": {
        "type": ["object", "null"],
        "properties": {
          "unique_id": {"type": "string"},
          "name": {"type": "string"},
          "resource_type": {"type": "string"},
          "package_name": {"type": "string"},
          "checksum": {
            "type": "object",
            "properties": {
              "name": {"type": "string"},
              "checksum": {"type": "string"}
            }
          }
        }
      },
      "description": "Resources keyed by unique identifier"
    },
    "parent_map": {
      "type": "object",
      "additionalProperties": {
        "type": "array",
        "items": {"type": "string"}
      },
      "description": "Child key to parent keys"
    },
    "manifest_metadata": {
      "type": ["object", "null"],
      "properties": {
        "generated_at": {"type": "string"},
        "invocation_id": {"type": "string"},
        "env": {"type": "object"}
      },
      "description": "Provenance of the manifest artifact"
    },
    "catalog_metadata": {
      "type": ["object", "null"],
      "properties": {
        "generated_at": {"type": "string"},
        "invocation_id": {"type": "string"},
        "env": {"type": "object"}
      },
      "description": "Provenance of the catalog artifact"
    }
  }
}`

const diffSchemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "$id": "diff.json",
  "title": "Diff Overlay",
  "description": "Precomputed change annotations keyed by node",
  "type": "object",
  "additionalProperties": {
    "type": "object",
    "properties": {
      "change_status": {
        "type": "string",
        "enum": ["added", "removed", "modified"]
      },
      "change": {
        "type": ["object", "null"],
        "properties": {
          "category": {"type": "string"},
          "columns": {
            "type": "object",
            "additionalProperties": {"type": "string"}
          }
        }
      }
    }
  }
}`

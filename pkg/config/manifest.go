package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/xeipuuv/gojsonschema"
)

// manifestSchema describes the optional JSON run manifest used by the
// sparsedb-assemble CLI to drive a local multi-rank simulation: how many
// ranks to simulate, and how many threads each rank contributes.
const manifestSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["ranks"],
  "properties": {
    "ranks": {
      "type": "array",
      "minItems": 1,
      "items": {
        "type": "object",
        "required": ["threads"],
        "properties": {
          "threads": {
            "type": "array",
            "minItems": 1,
            "items": {
              "type": "object",
              "required": ["contexts"],
              "properties": {
                "contexts": {
                  "type": "integer",
                  "minimum": 0
                },
                "timepoints": {
                  "type": "integer",
                  "minimum": 0
                }
              }
            }
          }
        }
      }
    }
  }
}`

// ErrManifestInvalid reports a run manifest that failed JSON Schema validation.
var ErrManifestInvalid = errors.New("run manifest failed schema validation")

// RunManifest describes a local multi-rank simulation: one entry per
// simulated rank, each with one entry per simulated thread.
type RunManifest struct {
	Ranks []RankSpec `json:"ranks"`
}

// RankSpec describes the threads a single simulated rank contributes.
type RankSpec struct {
	Threads []ThreadSpec `json:"threads"`
}

// ThreadSpec describes how many distinct contexts and timepoints a
// simulated thread should generate.
type ThreadSpec struct {
	Contexts   int `json:"contexts"`
	Timepoints int `json:"timepoints"`
}

// LoadRunManifest reads and schema-validates a run-manifest JSON file.
func LoadRunManifest(path string) (*RunManifest, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read run manifest: %w", err)
	}

	if err := validateManifest(raw); err != nil {
		return nil, err
	}

	var manifest RunManifest

	if err := json.Unmarshal(raw, &manifest); err != nil {
		return nil, fmt.Errorf("unmarshal run manifest: %w", err)
	}

	return &manifest, nil
}

func validateManifest(raw []byte) error {
	schemaLoader := gojsonschema.NewStringLoader(manifestSchema)
	docLoader := gojsonschema.NewBytesLoader(raw)

	result, err := gojsonschema.Validate(schemaLoader, docLoader)
	if err != nil {
		return fmt.Errorf("validate run manifest: %w", err)
	}

	if !result.Valid() {
		msgs := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			msgs = append(msgs, e.String())
		}

		return fmt.Errorf("%w: %v", ErrManifestInvalid, msgs)
	}

	return nil
}

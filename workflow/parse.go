package workflow

import (
	"fmt"
	"os"
	"strings"

	"github.com/xeipuuv/gojsonschema"
	"gopkg.in/yaml.v3"
)

// definitionSchema is the structural schema for raw definition documents.
// It catches shape problems (wrong types, missing required keys) before
// ValidateForConversion applies the conversion semantics.
const definitionSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "title": "WorkflowDefinition",
  "type": "object",
  "required": ["name", "states"],
  "properties": {
    "name": {"type": "string"},
    "description": {"type": "string"},
    "metadata": {"type": "object", "additionalProperties": {"type": "string"}},
    "states": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["id", "type"],
        "properties": {
          "id": {"type": "string", "minLength": 1},
          "type": {"enum": ["start", "agent", "parallel", "human_gate", "escalation", "terminal"]},
          "executor": {"type": "string"},
          "executors": {"type": "array", "items": {"type": "string"}},
          "next": {"type": "string"},
          "conditions": {
            "type": "array",
            "items": {
              "type": "object",
              "required": ["expression", "next"],
              "properties": {
                "expression": {"type": "string"},
                "next": {"type": "string"}
              }
            }
          },
          "trigger": {
            "type": "object",
            "required": ["kind"],
            "properties": {
              "kind": {"type": "string"},
              "config": {"type": "object", "additionalProperties": {"type": "string"}}
            }
          }
        }
      }
    }
  }
}`

// ParseDefinition unmarshals a definition document. YAML and JSON are both
// accepted; JSON is parsed through the YAML decoder, of which it is a
// subset.
func ParseDefinition(data []byte) (Definition, error) {
	var def Definition
	if err := yaml.Unmarshal(data, &def); err != nil {
		return Definition{}, fmt.Errorf("parsing workflow definition: %w", err)
	}
	return def, nil
}

// ParseDefinitionFile reads and parses a definition document from disk.
func ParseDefinitionFile(path string) (Definition, error) {
	data, err := os.ReadFile(path) // #nosec G304 - path is supplied by the caller
	if err != nil {
		return Definition{}, fmt.Errorf("reading workflow definition %s: %w", path, err)
	}
	def, err := ParseDefinition(data)
	if err != nil {
		return Definition{}, fmt.Errorf("parsing workflow definition %s: %w", path, err)
	}
	return def, nil
}

// ValidateDocument checks a raw definition document against the structural
// schema. It reports shape problems only; conversion semantics are checked
// separately by ValidateForConversion.
func ValidateDocument(data []byte) error {
	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("parsing workflow document: %w", err)
	}

	schemaLoader := gojsonschema.NewStringLoader(definitionSchema)
	documentLoader := gojsonschema.NewGoLoader(doc)

	result, err := gojsonschema.Validate(schemaLoader, documentLoader)
	if err != nil {
		return fmt.Errorf("validating workflow document: %w", err)
	}
	if result.Valid() {
		return nil
	}

	msgs := make([]string, 0, len(result.Errors()))
	for _, e := range result.Errors() {
		msgs = append(msgs, fmt.Sprintf("%s: %s", e.Field(), e.Description()))
	}
	return fmt.Errorf("workflow document is not valid: %s", strings.Join(msgs, "; "))
}

package apiserver

import (
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

const runSchemaSrc = `{
	"$schema": "https://json-schema.org/draft/2020-12/schema",
	"type": "object",
	"required": ["cost", "memory", "wasm"],
	"properties": {
		"cost": {"type": "integer", "minimum": 0},
		"memory": {"type": "integer", "minimum": 1},
		"input": {"type": "string"},
		"wasm": {"type": "string"}
	}
}`

const judgeSchemaSrc = `{
	"$schema": "https://json-schema.org/draft/2020-12/schema",
	"type": "object",
	"required": ["wasm", "specs"],
	"properties": {
		"wasm": {"type": "string"},
		"specs": {
			"type": "array",
			"items": {
				"type": "object",
				"required": ["judger", "expected_hash", "cost_limit", "memory_limit_mb"],
				"properties": {
					"judger": {"type": "string"},
					"input": {"type": "string"},
					"input_url": {"type": "string"},
					"expected_hash": {"type": "string", "pattern": "^[0-9a-fA-F]{64}$"},
					"cost_limit": {"type": "integer", "minimum": 0},
					"memory_limit_mb": {"type": "integer", "minimum": 1}
				}
			}
		}
	}
}`

// compileSchema compiles an inline JSON Schema document identified by name.
func compileSchema(name, src string) (*jsonschema.Schema, error) {
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	url := fmt.Sprintf("https://wark.dev/schemas/%s.schema.json", name)
	if err := c.AddResource(url, strings.NewReader(src)); err != nil {
		return nil, fmt.Errorf("apiserver: load %s schema: %w", name, err)
	}
	return c.Compile(url)
}

// schemas bundles the compiled request schemas for both endpoints.
type schemas struct {
	run   *jsonschema.Schema
	judge *jsonschema.Schema
}

func newSchemas() (*schemas, error) {
	run, err := compileSchema("run", runSchemaSrc)
	if err != nil {
		return nil, err
	}
	judge, err := compileSchema("judge", judgeSchemaSrc)
	if err != nil {
		return nil, err
	}
	return &schemas{run: run, judge: judge}, nil
}

package plugin

import (
	"bytes"
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

const manifestSchemaURL = "lineside://plugin-manifest.json"

const manifestSchemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "properties": {
    "id":          {"type": "string"},
    "name":        {"type": "string"},
    "version":     {"type": "string"},
    "description": {"type": ["string", "null"]},
    "assembly":    {"type": "string"},
    "entryType":   {"type": "string"},
    "routeBase":   {"type": ["string", "null"]}
  }
}`

// manifestKeys maps lower-cased keys to their canonical spelling.
var manifestKeys = map[string]string{
	"id":          "id",
	"name":        "name",
	"version":     "version",
	"description": "description",
	"assembly":    "assembly",
	"entrytype":   "entryType",
	"routebase":   "routeBase",
}

var compileManifestSchema = sync.OnceValues(func() (*jsonschema.Schema, error) {
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(manifestSchemaJSON))
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal manifest schema: %w", err)
	}

	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(manifestSchemaURL, doc); err != nil {
		return nil, fmt.Errorf("failed to add manifest schema: %w", err)
	}
	return compiler.Compile(manifestSchemaURL)
})

func validateManifestSchema(data []byte) error {
	schema, err := compileManifestSchema()
	if err != nil {
		return err
	}

	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("malformed manifest: %w", err)
	}

	obj, ok := doc.(map[string]any)
	if !ok {
		return fmt.Errorf("malformed manifest: expected a JSON object")
	}

	if err := schema.Validate(canonicalizeKeys(obj)); err != nil {
		return fmt.Errorf("manifest schema violation: %w", err)
	}
	return nil
}

func canonicalizeKeys(obj map[string]any) map[string]any {
	out := make(map[string]any, len(obj))
	for k, v := range obj {
		if canonical, ok := manifestKeys[strings.ToLower(k)]; ok {
			out[canonical] = v
			continue
		}
		out[k] = v
	}
	return out
}

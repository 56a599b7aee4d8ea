package llm

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

var schemaCache sync.Map // name -> *jsonschema.Schema

func validateResponse(schema *Schema, raw json.RawMessage) error {
	if schema == nil {
		return nil
	}
	var parsed any
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return &ErrInvalidResponse{Content: raw, Err: fmt.Errorf("invalid JSON: %w", err)}
	}
	compiled, err := compiledSchema(schema)
	if err != nil {
		return &ErrInvalidResponse{Content: raw, Err: fmt.Errorf("compile schema %q: %w", schema.Name, err)}
	}
	if err := compiled.Validate(parsed); err != nil {
		return &ErrInvalidResponse{Content: raw, Err: fmt.Errorf("schema validation failed: %w", err)}
	}
	return nil
}

func compiledSchema(schema *Schema) (*jsonschema.Schema, error) {
	if cached, ok := schemaCache.Load(schema.Name); ok {
		return cached.(*jsonschema.Schema), nil
	}
	defBytes, err := json.Marshal(schema.Definition)
	if err != nil {
		return nil, fmt.Errorf("marshal schema definition: %w", err)
	}
	defParsed, err := jsonschema.UnmarshalJSON(bytes.NewReader(defBytes))
	if err != nil {
		return nil, fmt.Errorf("parse schema definition: %w", err)
	}
	c := jsonschema.NewCompiler()
	url := fmt.Sprintf("schema://%s.json", schema.Name)
	if err := c.AddResource(url, defParsed); err != nil {
		return nil, fmt.Errorf("add resource: %w", err)
	}
	compiled, err := c.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("compile: %w", err)
	}
	schemaCache.Store(schema.Name, compiled)
	return compiled, nil
}

// extractJSON trims markdown fences and prose around the first JSON object,
// for providers without native structured output.
func extractJSON(text string) json.RawMessage {
	s := strings.TrimSpace(text)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	s = strings.TrimSpace(s)
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start >= 0 && end > start {
		s = s[start : end+1]
	}
	return json.RawMessage(s)
}

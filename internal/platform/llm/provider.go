// Package llm is the structured-output content generation capability. A
// Provider takes a prompt plus an optional JSON Schema and returns JSON that
// has been validated against that schema.
package llm

import (
	"context"
	"encoding/json"
)

type Provider interface {
	// Generate returns validated JSON when req.Schema is set, else raw text.
	Generate(ctx context.Context, req Request) (*Response, error)
	ModelID() string
}

type Request struct {
	System      string
	Messages    []Message
	Schema      *Schema
	MaxTokens   int
	Temperature float64
}

type Message struct {
	Role    Role
	Content string
}

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Schema names a JSON Schema. Name doubles as the OpenAI schema name and
// the compiled-schema cache key, so it must be unique per definition.
type Schema struct {
	Name        string
	Description string
	Definition  map[string]any
}

type Response struct {
	Content    json.RawMessage
	Usage      Usage
	Model      string
	StopReason string
}

type Usage struct {
	InputTokens  int
	OutputTokens int
	TotalTokens  int
}

// UserPrompt is the common single-turn request shape.
func UserPrompt(system, user string, schema *Schema, temperature float64) Request {
	return Request{
		System:      system,
		Messages:    []Message{{Role: RoleUser, Content: user}},
		Schema:      schema,
		MaxTokens:   1024,
		Temperature: temperature,
	}
}

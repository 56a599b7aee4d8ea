package llm

import (
	"context"
	"encoding/json"
	"sync"
)

type MockResponse struct {
	Content json.RawMessage
	Usage   Usage
	Err     error
}

// MockProvider returns canned responses in FIFO order and records calls.
// Canned content is validated against the request schema like a real
// provider's output. An empty queue answers ErrProviderUnavailable.
type MockProvider struct {
	mu        sync.Mutex
	responses []MockResponse
	Calls     []Request
}

func NewMockProvider(responses ...MockResponse) *MockProvider {
	return &MockProvider{responses: responses}
}

func (m *MockProvider) Generate(_ context.Context, req Request) (*Response, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.Calls = append(m.Calls, req)
	if len(m.responses) == 0 {
		return nil, &ErrProviderUnavailable{}
	}
	resp := m.responses[0]
	m.responses = m.responses[1:]
	if resp.Err != nil {
		return nil, resp.Err
	}
	if err := validateResponse(req.Schema, resp.Content); err != nil {
		return nil, err
	}
	return &Response{
		Content:    resp.Content,
		Usage:      resp.Usage,
		Model:      "mock",
		StopReason: "end",
	}, nil
}

func (m *MockProvider) ModelID() string { return "mock" }

func (m *MockProvider) AddResponse(resp MockResponse) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses = append(m.responses, resp)
}

// AddJSON queues v marshaled as the next response.
func (m *MockProvider) AddJSON(v any) {
	b, err := json.Marshal(v)
	m.AddResponse(MockResponse{Content: b, Err: err})
}

func (m *MockProvider) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Calls)
}

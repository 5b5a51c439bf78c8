package ai

import (
	"context"

	"github.com/autonomic-run/agentruntime/core"
)

// MockClient implements core.AIClient with a canned response, for tests and
// for explainer.provider=mock deployments that want a narrative without an
// API key.
type MockClient struct {
	Response string
}

// NewMockClient returns a MockClient. An empty response falls back to a
// generic placeholder narrative.
func NewMockClient(response string) *MockClient {
	if response == "" {
		response = "Decision recorded; no narrative model configured."
	}
	return &MockClient{Response: response}
}

func (m *MockClient) GenerateResponse(ctx context.Context, prompt string, options *core.AIOptions) (*core.AIResponse, error) {
	return &core.AIResponse{
		Content: m.Response,
		Model:   "mock",
	}, nil
}

// Package ai provides an optional LLM-backed client implementing
// core.AIClient, used by the explain phase to turn a decision into a
// natural-language narrative when a provider is configured.
package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/autonomic-run/agentruntime/core"
)

// Config controls how the HTTP client talks to an OpenAI-compatible chat
// completions endpoint.
type Config struct {
	APIKey     string
	BaseURL    string
	Model      string
	Timeout    time.Duration
	HTTPClient *http.Client
}

// Client is a minimal OpenAI-compatible chat completions client.
type Client struct {
	apiKey  string
	baseURL string
	model   string
	http    *http.Client
}

// NewClient builds a Client from Config, filling in OpenAI's default base
// URL and a 30s timeout when left unset.
func NewClient(cfg Config) *Client {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}
	model := cfg.Model
	if model == "" {
		model = "gpt-4o-mini"
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout == 0 {
			timeout = 30 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	return &Client{apiKey: cfg.APIKey, baseURL: baseURL, model: model, http: httpClient}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float32       `json:"temperature,omitempty"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Model string `json:"model"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

// GenerateResponse implements core.AIClient.
func (c *Client) GenerateResponse(ctx context.Context, prompt string, options *core.AIOptions) (*core.AIResponse, error) {
	model := c.model
	var temperature float32 = 0.3
	maxTokens := 300
	messages := []chatMessage{{Role: "user", Content: prompt}}

	if options != nil {
		if options.Model != "" {
			model = options.Model
		}
		if options.Temperature != 0 {
			temperature = options.Temperature
		}
		if options.MaxTokens != 0 {
			maxTokens = options.MaxTokens
		}
		if options.SystemPrompt != "" {
			messages = append([]chatMessage{{Role: "system", Content: options.SystemPrompt}}, messages...)
		}
	}

	body, err := json.Marshal(chatRequest{Model: model, Messages: messages, Temperature: temperature, MaxTokens: maxTokens})
	if err != nil {
		return nil, core.NewFrameworkError("ai.GenerateResponse", core.KindValidation, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, core.NewFrameworkError("ai.GenerateResponse", core.KindTransport, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, core.NewFrameworkError("ai.GenerateResponse", core.KindTransport, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, core.NewFrameworkError("ai.GenerateResponse", core.KindTransport, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, core.NewFrameworkError("ai.GenerateResponse", core.KindTransport,
			fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(respBody)))
	}

	var parsed chatResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, core.NewFrameworkError("ai.GenerateResponse", core.KindTransport, err)
	}
	if len(parsed.Choices) == 0 {
		return nil, core.NewFrameworkError("ai.GenerateResponse", core.KindTransport, fmt.Errorf("no choices returned"))
	}

	return &core.AIResponse{
		Content: parsed.Choices[0].Message.Content,
		Model:   parsed.Model,
		Usage: core.TokenUsage{
			PromptTokens:     parsed.Usage.PromptTokens,
			CompletionTokens: parsed.Usage.CompletionTokens,
			TotalTokens:      parsed.Usage.TotalTokens,
		},
	}, nil
}

// Package explain turns a completed cycle's structured outcome into a
// human-readable conclusion string for the explain phase.
package explain

import (
	"context"
	"fmt"

	"github.com/autonomic-run/agentruntime/core"
)

// CycleSummary is the structured shape the explain phase hands to an
// Explainer: enough of a cycle's outcome to narrate it without needing
// the full decision/orchestration objects.
type CycleSummary struct {
	LoopCount      int
	ActionName     string
	ActionExecuted bool
	Refused        bool
	RefusalReason  string
	Source         string
	AppName        string
}

// Explainer produces a one-sentence conclusion from a cycle's outcome.
type Explainer interface {
	Explain(ctx context.Context, summary CycleSummary) (string, error)
}

// TemplateExplainer is the zero-dependency default, reproducing the
// reference implementation's templated conclusion strings.
type TemplateExplainer struct{}

// NewTemplateExplainer constructs the deterministic fallback explainer.
func NewTemplateExplainer() *TemplateExplainer {
	return &TemplateExplainer{}
}

func (t *TemplateExplainer) Explain(ctx context.Context, summary CycleSummary) (string, error) {
	return template(summary), nil
}

func template(s CycleSummary) string {
	switch {
	case s.Refused:
		reason := s.RefusalReason
		if reason == "" {
			reason = "safety gate"
		}
		return fmt.Sprintf("action %s refused: %s", s.ActionName, reason)
	case s.ActionExecuted && s.ActionName == "noop":
		return fmt.Sprintf("executed action %s, system stable", s.ActionName)
	case s.ActionExecuted:
		return fmt.Sprintf("executed action %s, system stable", s.ActionName)
	default:
		return fmt.Sprintf("observed cycle %d, no action taken", s.LoopCount)
	}
}

// LLMExplainer wraps a core.AIClient to produce a richer one-sentence
// conclusion, falling back to the template explainer on any AI-client
// error since the explain phase must never fail the cycle because of it.
type LLMExplainer struct {
	client   core.AIClient
	fallback *TemplateExplainer
	logger   core.Logger
}

// NewLLMExplainer constructs an LLMExplainer. client must not be nil.
func NewLLMExplainer(client core.AIClient, logger core.Logger) *LLMExplainer {
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	return &LLMExplainer{client: client, fallback: NewTemplateExplainer(), logger: logger}
}

func (e *LLMExplainer) Explain(ctx context.Context, summary CycleSummary) (string, error) {
	response, err := e.client.GenerateResponse(ctx, prompt(summary), &core.AIOptions{
		SystemPrompt: "You narrate one completed control-loop cycle of an autonomous operations agent in a single plain sentence. Be concise and factual.",
		Temperature:  0.2,
		MaxTokens:    80,
	})
	if err != nil {
		e.logger.Warn("llm explainer failed, falling back to template", map[string]interface{}{"error": err.Error()})
		fallback, _ := e.fallback.Explain(ctx, summary)
		return fallback, nil
	}
	if response.Content == "" {
		fallback, _ := e.fallback.Explain(ctx, summary)
		return fallback, nil
	}
	return response.Content, nil
}

func prompt(s CycleSummary) string {
	return fmt.Sprintf(
		"Cycle %d for app %q: action=%q executed=%v refused=%v reason=%q source=%q. Summarize the outcome in one sentence.",
		s.LoopCount, s.AppName, s.ActionName, s.ActionExecuted, s.Refused, s.RefusalReason, s.Source,
	)
}

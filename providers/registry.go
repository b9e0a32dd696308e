// Package providers routes a session's model identifier to the provider
// family that serves it. Selection is keyed purely on the identifier's
// prefix; the namespace prefix is stripped before the wire call.
package providers

import (
	"context"
	"fmt"
	"strings"

	"github.com/raymondclowe/aitgbot/llm"
	"github.com/raymondclowe/aitgbot/providers/anthropic"
	"github.com/raymondclowe/aitgbot/providers/groq"
	"github.com/raymondclowe/aitgbot/providers/openai"
	"github.com/raymondclowe/aitgbot/providers/openrouter"
)

const (
	openRouterPrefix = "openrouter:"
	groqPrefix       = "groq:"
)

type Keys struct {
	OpenAI     string
	Anthropic  string
	Groq       string
	OpenRouter string
}

// Registry owns one client per provider family and dispatches requests by
// model id.
type Registry struct {
	OpenAI     llm.Client
	Anthropic  llm.Client
	Groq       llm.Client
	OpenRouter *openrouter.Client
}

func NewRegistry(keys Keys) *Registry {
	return &Registry{
		OpenAI:     openai.New("", keys.OpenAI),
		Anthropic:  anthropic.New("", keys.Anthropic),
		Groq:       groq.New("", keys.Groq),
		OpenRouter: openrouter.New("", keys.OpenRouter),
	}
}

// Resolve returns the client for a model id and the id that goes on the
// wire (namespace prefix removed).
func (r *Registry) Resolve(model string) (llm.Client, string, error) {
	m := strings.TrimSpace(model)
	lower := strings.ToLower(m)
	switch {
	case strings.HasPrefix(lower, openRouterPrefix):
		return r.OpenRouter, m[len(openRouterPrefix):], nil
	case strings.HasPrefix(lower, groqPrefix):
		return r.Groq, m[len(groqPrefix):], nil
	case strings.HasPrefix(lower, "gpt") || strings.HasPrefix(lower, "o1") || strings.HasPrefix(lower, "o3"):
		return r.OpenAI, m, nil
	// "claud" catches both claude-* ids and the legacy /claud3* command spelling.
	case strings.HasPrefix(lower, "claud"):
		return r.Anthropic, m, nil
	default:
		return nil, "", fmt.Errorf("%w: no provider for model %q", llm.ErrModelUnavailable, model)
	}
}

// Chat dispatches one request to the provider selected by req.Model.
func (r *Registry) Chat(ctx context.Context, req llm.Request) (llm.Response, error) {
	client, wireModel, err := r.Resolve(req.Model)
	if err != nil {
		return llm.Response{}, err
	}
	req.Model = wireModel
	return client.Chat(ctx, req)
}

// SupportsImageOutput reports whether a model can return images. Only
// OpenRouter publishes output-modality metadata; other families are treated
// as text-only.
func (r *Registry) SupportsImageOutput(ctx context.Context, model string) bool {
	lower := strings.ToLower(strings.TrimSpace(model))
	if !strings.HasPrefix(lower, openRouterPrefix) {
		return false
	}
	return r.OpenRouter.SupportsImageOutput(ctx, strings.TrimSpace(model)[len(openRouterPrefix):])
}

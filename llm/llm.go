package llm

import (
	"context"
	"errors"
	"time"
)

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Turn is one conversation entry. Images are base64-encoded JPEG payloads,
// matching what the Telegram transport hands us.
type Turn struct {
	Role   string   `json:"role"`
	Text   string   `json:"text"`
	Images []string `json:"images,omitempty"`
}

type Usage struct {
	InputTokens  int
	OutputTokens int
	TotalTokens  int
}

type Request struct {
	Model     string
	History   []Turn
	MaxTokens int

	// Output shaping hints, honored only by providers that support them.
	Modalities  string
	AspectRatio string
	ImageSize   string
}

type Response struct {
	Text      string
	Images    []string
	Reasoning string
	Raw       map[string]any
	Usage     Usage
	Duration  time.Duration
}

type Client interface {
	Chat(ctx context.Context, req Request) (Response, error)
}

// Provider error taxonomy. Clients wrap HTTP outcomes into one of these so
// callers can decide what to tell the user without parsing provider text.
var (
	ErrRateLimited       = errors.New("rate limited")
	ErrUnauthorized      = errors.New("unauthorized")
	ErrModelUnavailable  = errors.New("model unavailable")
	ErrTimeout           = errors.New("request timed out")
	ErrMalformedResponse = errors.New("malformed provider response")
)

// CloneHistory returns a deep-enough copy for handing to foreign code:
// the slice and each turn's image slice are fresh.
func CloneHistory(h []Turn) []Turn {
	if h == nil {
		return nil
	}
	out := make([]Turn, len(h))
	for i, t := range h {
		out[i] = t
		if len(t.Images) > 0 {
			out[i].Images = append([]string(nil), t.Images...)
		}
	}
	return out
}

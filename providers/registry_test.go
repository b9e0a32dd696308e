package providers

import (
	"errors"
	"testing"

	"github.com/raymondclowe/aitgbot/llm"
)

func TestResolvePrefixRouting(t *testing.T) {
	r := NewRegistry(Keys{})
	cases := []struct {
		model     string
		want      llm.Client
		wireModel string
	}{
		{"gpt-4-turbo", r.OpenAI, "gpt-4-turbo"},
		{"gpt-3.5-turbo", r.OpenAI, "gpt-3.5-turbo"},
		{"o1-preview", r.OpenAI, "o1-preview"},
		{"claude-3-opus-20240229", r.Anthropic, "claude-3-opus-20240229"},
		{"groq:llama-3.3-70b-versatile", r.Groq, "llama-3.3-70b-versatile"},
		{"openrouter:google/gemini-2.0-flash", r.OpenRouter, "google/gemini-2.0-flash"},
		{"OpenRouter:google/gemini-2.0-flash", r.OpenRouter, "google/gemini-2.0-flash"},
	}
	for _, tc := range cases {
		client, wireModel, err := r.Resolve(tc.model)
		if err != nil {
			t.Fatalf("%s: %v", tc.model, err)
		}
		if client != tc.want {
			t.Fatalf("%s: wrong client", tc.model)
		}
		if wireModel != tc.wireModel {
			t.Fatalf("%s: wire model = %q, want %q", tc.model, wireModel, tc.wireModel)
		}
	}
}

func TestResolveUnknownModel(t *testing.T) {
	r := NewRegistry(Keys{})
	_, _, err := r.Resolve("mistral-large")
	if !errors.Is(err, llm.ErrModelUnavailable) {
		t.Fatalf("got %v, want ErrModelUnavailable", err)
	}
}

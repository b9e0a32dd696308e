package openrouter

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/raymondclowe/aitgbot/llm"
)

func TestChatImageResponseAndReasoning(t *testing.T) {
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(raw, &gotBody)
		_, _ = w.Write([]byte(`{
			"choices":[{"message":{
				"content":"",
				"reasoning":"A circle.",
				"images":[{"type":"image_url","image_url":{"url":"data:image/jpeg;base64,aW1n"}}]
			}}],
			"usage":{"prompt_tokens":3,"completion_tokens":7,"total_tokens":10}
		}`))
	}))
	defer srv.Close()

	c := New(srv.URL, "or-test")
	resp, err := c.Chat(context.Background(), llm.Request{
		Model:       "google/gemini-2.0-flash",
		History:     []llm.Turn{{Role: llm.RoleUser, Text: "draw a circle"}},
		Modalities:  "text+image",
		AspectRatio: "16:9",
		ImageSize:   "HD",
	})
	if err != nil {
		t.Fatalf("chat: %v", err)
	}
	if len(resp.Images) != 1 || resp.Images[0] != "aW1n" {
		t.Fatalf("images = %v", resp.Images)
	}
	if resp.Reasoning != "A circle." {
		t.Fatalf("reasoning = %q", resp.Reasoning)
	}
	if resp.Text != "" {
		t.Fatalf("text = %q", resp.Text)
	}

	mods, _ := gotBody["modalities"].([]any)
	if len(mods) != 2 || mods[0] != "text" || mods[1] != "image" {
		t.Fatalf("modalities = %v", mods)
	}
	ic, _ := gotBody["image_config"].(map[string]any)
	if ic["aspect_ratio"] != "16:9" || ic["image_size"] != "HD" {
		t.Fatalf("image_config = %v", ic)
	}
}

func TestModalitiesParam(t *testing.T) {
	if got := modalitiesParam("auto"); got != nil {
		t.Fatalf("auto = %v", got)
	}
	if got := modalitiesParam(""); got != nil {
		t.Fatalf("empty = %v", got)
	}
	if got := modalitiesParam("image"); len(got) != 1 || got[0] != "image" {
		t.Fatalf("image = %v", got)
	}
	if got := modalitiesParam("TEXT"); len(got) != 1 || got[0] != "text" {
		t.Fatalf("TEXT = %v", got)
	}
}

func TestModelsCatalogAndHelpers(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		_, _ = w.Write([]byte(`{"data":[
			{"id":"google/gemini-2.0-flash","name":"Gemini Flash",
			 "architecture":{"input_modalities":["text","image"],"output_modalities":["text","image"]}},
			{"id":"anthropic/claude-3-opus","name":"Claude Opus",
			 "architecture":{"input_modalities":["text","image"],"output_modalities":["text"]}}
		]}`))
	}))
	defer srv.Close()

	c := New(srv.URL, "or-test")
	ctx := context.Background()

	ids, cat, err := c.Models(ctx)
	if err != nil {
		t.Fatalf("models: %v", err)
	}
	if len(ids) != 2 || len(cat) != 2 {
		t.Fatalf("ids=%v cat=%v", ids, cat)
	}

	// Second call is served from cache.
	if _, _, err := c.Models(ctx); err != nil {
		t.Fatalf("cached models: %v", err)
	}
	if calls != 1 {
		t.Fatalf("catalog fetched %d times, want 1", calls)
	}

	if !c.SupportsImageOutput(ctx, "google/gemini-2.0-flash") {
		t.Fatal("gemini should support image output")
	}
	if c.SupportsImageOutput(ctx, "anthropic/claude-3-opus") {
		t.Fatal("claude should not support image output")
	}

	if ok, _ := c.HasModel(ctx, "google/gemini-2.0-flash"); !ok {
		t.Fatal("known model not found")
	}
	if ok, _ := c.HasModel(ctx, "nope/never"); ok {
		t.Fatal("unknown model reported as present")
	}

	msg, err := c.CatalogMessage(ctx)
	if err != nil {
		t.Fatalf("catalog message: %v", err)
	}
	for _, want := range []string{"google/gemini-2.0-flash", "Gemini Flash", "openrouter.ai/rankings"} {
		if !strings.Contains(msg, want) {
			t.Fatalf("catalog message missing %q:\n%s", want, msg)
		}
	}
}

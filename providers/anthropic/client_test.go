package anthropic

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/raymondclowe/aitgbot/llm"
)

func TestChatSystemPromptOutOfBand(t *testing.T) {
	var gotBody map[string]any
	var gotKey, gotVersion string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.Header.Get("x-api-key")
		gotVersion = r.Header.Get("anthropic-version")
		raw, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(raw, &gotBody)
		_, _ = w.Write([]byte(`{
			"content":[{"type":"text","text":"hello"}],
			"usage":{"input_tokens":8,"output_tokens":2}
		}`))
	}))
	defer srv.Close()

	c := New(srv.URL, "ak-test")
	resp, err := c.Chat(context.Background(), llm.Request{
		Model: "claude-3-haiku-20240307",
		History: []llm.Turn{
			{Role: llm.RoleSystem, Text: "be brief"},
			{Role: llm.RoleUser, Text: "hi"},
		},
	})
	if err != nil {
		t.Fatalf("chat: %v", err)
	}
	if resp.Text != "hello" {
		t.Fatalf("text = %q", resp.Text)
	}
	if resp.Usage.TotalTokens != 10 {
		t.Fatalf("usage = %+v", resp.Usage)
	}
	if gotKey != "ak-test" || gotVersion != "2023-06-01" {
		t.Fatalf("headers: key=%q version=%q", gotKey, gotVersion)
	}

	if gotBody["system"] != "be brief" {
		t.Fatalf("system = %v", gotBody["system"])
	}
	msgs, _ := gotBody["messages"].([]any)
	if len(msgs) != 1 {
		t.Fatalf("messages = %v (system turn must not appear)", msgs)
	}
	// Default max_tokens applies when the request does not set one.
	if gotBody["max_tokens"] != float64(3000) {
		t.Fatalf("max_tokens = %v", gotBody["max_tokens"])
	}
}

func TestChatImageBlock(t *testing.T) {
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(raw, &gotBody)
		_, _ = w.Write([]byte(`{"content":[{"type":"text","text":"a cat"}],"usage":{"input_tokens":1,"output_tokens":1}}`))
	}))
	defer srv.Close()

	c := New(srv.URL, "ak-test")
	_, err := c.Chat(context.Background(), llm.Request{
		Model: "claude-3-opus-20240229",
		History: []llm.Turn{
			{Role: llm.RoleUser, Text: "what is this", Images: []string{"Zm9v"}},
		},
	})
	if err != nil {
		t.Fatalf("chat: %v", err)
	}

	msgs, _ := gotBody["messages"].([]any)
	user, _ := msgs[0].(map[string]any)
	blocks, _ := user["content"].([]any)
	if len(blocks) != 2 {
		t.Fatalf("content blocks = %v", blocks)
	}
	img, _ := blocks[1].(map[string]any)
	if img["type"] != "image" {
		t.Fatalf("block = %v", img)
	}
	src, _ := img["source"].(map[string]any)
	if src["type"] != "base64" || src["media_type"] != "image/jpeg" || src["data"] != "Zm9v" {
		t.Fatalf("source = %v", src)
	}
}

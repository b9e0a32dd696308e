package pipeline

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/raymondclowe/aitgbot/llm"
	"github.com/raymondclowe/aitgbot/plugin"
	"github.com/raymondclowe/aitgbot/session"
)

type fakeDispatcher struct {
	resp         llm.Response
	err          error
	imageOutput  bool
	lastRequest  llm.Request
	requestCount int
}

func (f *fakeDispatcher) Chat(ctx context.Context, req llm.Request) (llm.Response, error) {
	f.lastRequest = req
	f.requestCount++
	if f.err != nil {
		return llm.Response{}, f.err
	}
	return f.resp, nil
}

func (f *fakeDispatcher) SupportsImageOutput(ctx context.Context, model string) bool {
	return f.imageOutput
}

func newTestPipeline(d *fakeDispatcher, kioskMode bool) (*Pipeline, *session.Store) {
	store := session.NewStore(session.Options{
		DefaultModel: "gpt-4-turbo",
		MaxRounds:    4,
		Kiosk:        kioskMode,
		OnCreate: func(sess *session.Session) {
			sess.ReplaceSystemPrompt("You are a helpful assistant.")
		},
	})
	return &Pipeline{
		Store:             store,
		Dispatch:          d,
		ReasoningFallback: true,
	}, store
}

func TestExchangeCommitsBothTurns(t *testing.T) {
	d := &fakeDispatcher{resp: llm.Response{Text: "hi there", Usage: llm.Usage{TotalTokens: 42}}}
	p, store := newTestPipeline(d, false)

	res, err := p.Run(context.Background(), 1, "hello", nil)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.Text != "hi there" {
		t.Fatalf("text = %q", res.Text)
	}
	if res.TokensUsed != 42 {
		t.Fatalf("tokens = %d", res.TokensUsed)
	}

	store.Do(1, func(sess *session.Session) {
		if got := sess.NonSystemLen(); got != 2 {
			t.Fatalf("history turns = %d, want 2", got)
		}
		if sess.History[1].Role != llm.RoleUser || sess.History[1].Text != "hello" {
			t.Fatalf("user turn = %+v", sess.History[1])
		}
		if sess.History[2].Role != llm.RoleAssistant || sess.History[2].Text != "hi there" {
			t.Fatalf("assistant turn = %+v", sess.History[2])
		}
	})

	// The provider saw the system turn too.
	if len(d.lastRequest.History) != 2 || d.lastRequest.History[0].Role != llm.RoleSystem {
		t.Fatalf("request history = %+v", d.lastRequest.History)
	}
}

func TestProviderFailureRollsBackUserTurn(t *testing.T) {
	d := &fakeDispatcher{err: llm.ErrRateLimited}
	p, store := newTestPipeline(d, false)

	_, err := p.Run(context.Background(), 1, "hello", nil)
	if !errors.Is(err, llm.ErrRateLimited) {
		t.Fatalf("got %v, want ErrRateLimited", err)
	}

	store.Do(1, func(sess *session.Session) {
		if got := sess.NonSystemLen(); got != 0 {
			t.Fatalf("history turns = %d after failure, want 0", got)
		}
	})

	// Retry works and leaves exactly one pair.
	d.err = nil
	d.resp = llm.Response{Text: "ok"}
	if _, err := p.Run(context.Background(), 1, "hello", nil); err != nil {
		t.Fatalf("retry: %v", err)
	}
	store.Do(1, func(sess *session.Session) {
		if got := sess.NonSystemLen(); got != 2 {
			t.Fatalf("history turns = %d after retry, want 2", got)
		}
	})
}

func TestKioskEnforcementUsesReasoning(t *testing.T) {
	d := &fakeDispatcher{
		imageOutput: true,
		resp:        llm.Response{Text: "", Images: []string{"imgdata"}, Reasoning: "A circle."},
	}
	p, _ := newTestPipeline(d, true)

	res, err := p.Run(context.Background(), 1, "draw a circle", nil)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.Text != "A circle." {
		t.Fatalf("text = %q, want reasoning fallback", res.Text)
	}
	if len(res.Images) != 1 {
		t.Fatalf("images = %v", res.Images)
	}
}

func TestKioskEnforcementPlaceholder(t *testing.T) {
	d := &fakeDispatcher{
		imageOutput: true,
		resp:        llm.Response{Text: "", Images: []string{"imgdata"}, Reasoning: ""},
	}
	p, _ := newTestPipeline(d, true)

	res, err := p.Run(context.Background(), 1, "draw a circle", nil)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if !strings.Contains(res.Text, "without text description") {
		t.Fatalf("text = %q, want placeholder", res.Text)
	}
}

func TestKioskAugmentsPayloadNotHistory(t *testing.T) {
	d := &fakeDispatcher{imageOutput: true, resp: llm.Response{Text: "here you go", Images: []string{"img"}}}
	p, store := newTestPipeline(d, true)

	if _, err := p.Run(context.Background(), 1, "draw a cat", nil); err != nil {
		t.Fatalf("run: %v", err)
	}

	last := d.lastRequest.History[len(d.lastRequest.History)-1]
	if !strings.Contains(last.Text, "text explanation") {
		t.Fatalf("payload not augmented: %q", last.Text)
	}
	store.Do(1, func(sess *session.Session) {
		if sess.History[1].Text != "draw a cat" {
			t.Fatalf("history polluted by augmentation: %q", sess.History[1].Text)
		}
	})
}

func TestNonKioskSkipsEnforcement(t *testing.T) {
	d := &fakeDispatcher{
		imageOutput: true,
		resp:        llm.Response{Text: "", Images: []string{"img"}, Reasoning: "A circle."},
	}
	p, _ := newTestPipeline(d, false)

	res, err := p.Run(context.Background(), 1, "draw a circle", nil)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.Text != "" {
		t.Fatalf("text = %q, want untouched empty text", res.Text)
	}
}

const orderingPlugin = `
package main

func PreUserText(text string, ctx map[string]any) string       { return text + "|1" }
func PostUserText(text string, ctx map[string]any) string      { return text + "|2" }
func PreAssistantText(text string, ctx map[string]any) string  { return text + "|3" }
func PostAssistantText(text string, ctx map[string]any) string { return text + "|4" }

func PreUserImages(images []string, text string, ctx map[string]any) []string       { return images }
func PostUserImages(images []string, text string, ctx map[string]any) []string      { return images }
func PreAssistantImages(images []string, text string, ctx map[string]any) []string  { return images }
func PostAssistantImages(images []string, text string, ctx map[string]any) []string { return images }

func OnSessionStart(ctx map[string]any) {}

func OnMessageComplete(ctx map[string]any) {
	meta := ctx["metadata"].(map[string]any)
	n, _ := meta["completed"].(int)
	meta["completed"] = n + 1
}
`

func TestHookOrderingAndHistoryAudit(t *testing.T) {
	host, err := plugin.LoadFromSource(plugin.DefaultConfig(), nil, orderingPlugin)
	if err != nil {
		t.Fatalf("load plugin: %v", err)
	}
	d := &fakeDispatcher{resp: llm.Response{Text: "reply"}}
	p, store := newTestPipeline(d, false)
	p.Plugins = host

	res, err := p.Run(context.Background(), 1, "hello", nil)
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	// Outbound payload carries post_user_text output; history keeps the
	// committed pre_user_text form.
	last := d.lastRequest.History[len(d.lastRequest.History)-1]
	if last.Text != "hello|1|2" {
		t.Fatalf("payload = %q, want hello|1|2", last.Text)
	}
	store.Do(1, func(sess *session.Session) {
		if sess.History[1].Text != "hello|1" {
			t.Fatalf("committed user turn = %q, want hello|1", sess.History[1].Text)
		}
		if sess.History[2].Text != "reply|3|4" {
			t.Fatalf("committed assistant turn = %q, want reply|3|4", sess.History[2].Text)
		}
	})
	if res.Text != "reply|3|4" {
		t.Fatalf("delivered text = %q", res.Text)
	}
	if n, _ := host.Metadata(1)["completed"].(int); n != 1 {
		t.Fatalf("on_message_complete fired %d times", n)
	}
}

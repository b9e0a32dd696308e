package botloop

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/raymondclowe/aitgbot/pipeline"
	"github.com/raymondclowe/aitgbot/plugin"
	"github.com/raymondclowe/aitgbot/profile"
	"github.com/raymondclowe/aitgbot/providers"
	"github.com/raymondclowe/aitgbot/providers/openrouter"
	"github.com/raymondclowe/aitgbot/session"
)

func TestSplitCommand(t *testing.T) {
	cases := []struct {
		in        string
		cmd, args string
	}{
		{"/help", "/help", ""},
		{"/maxrounds 6", "/maxrounds", "6"},
		{"/openrouter google/gemini-2.0-flash", "/openrouter", "google/gemini-2.0-flash"},
		{"hello world", "", ""},
		{"  /clear  ", "/clear", ""},
	}
	for _, tc := range cases {
		cmd, args := splitCommand(tc.in)
		if cmd != tc.cmd || args != tc.args {
			t.Fatalf("split(%q) = %q %q, want %q %q", tc.in, cmd, args, tc.cmd, tc.args)
		}
	}
}

func TestNormalizeCommand(t *testing.T) {
	if got := normalizeCommand("/HELP@MyBot", "mybot"); got != "/help" {
		t.Fatalf("got %q", got)
	}
	if got := normalizeCommand("/status", "mybot"); got != "/status" {
		t.Fatalf("got %q", got)
	}
}

func newTestLoop(t *testing.T, kioskMode bool) *Loop {
	t.Helper()
	reg := providers.NewRegistry(providers.Keys{})
	reg.OpenRouter.SetCatalogForTest([]openrouter.ModelInfo{
		{ID: "google/gemini-2.0-flash", Name: "Gemini Flash", ImageOutput: true},
	})

	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "tutor.profile"), []byte("gpt-4o\nHi, I am your tutor!\nYou are a patient tutor."), 0o600); err != nil {
		t.Fatal(err)
	}

	plugins, err := plugin.NewHost(plugin.Config{Enabled: false}, nil)
	if err != nil {
		t.Fatal(err)
	}

	store := session.NewStore(session.Options{
		DefaultModel: "gpt-4-turbo",
		MaxRounds:    4,
		Kiosk:        kioskMode,
	})

	return New(Options{
		Store:    store,
		Pipe:     &pipeline.Pipeline{Store: store},
		Plugins:  plugins,
		Registry: reg,
		Profiles: profile.NewLoader(dir, "gpt-4-turbo", "You are a helpful assistant."),
	})
}

func TestModelCommands(t *testing.T) {
	l := newTestLoop(t, false)
	ctx := context.Background()

	reply := l.handleCommand(ctx, 1, "/gpt3", "", "bot")
	if !strings.Contains(reply, "gpt-3.5-turbo") {
		t.Fatalf("gpt3 reply = %q", reply)
	}
	if v := l.viewSession(1); v.Model != "gpt-3.5-turbo" {
		t.Fatalf("model = %q", v.Model)
	}

	l.handleCommand(ctx, 1, "/claud3haiku", "", "bot")
	if v := l.viewSession(1); v.Model != "claude-3-haiku-20240307" {
		t.Fatalf("model = %q", v.Model)
	}

	l.handleCommand(ctx, 1, "/groq", "llama-3.3-70b-versatile", "bot")
	if v := l.viewSession(1); v.Model != "groq:llama-3.3-70b-versatile" {
		t.Fatalf("model = %q", v.Model)
	}
}

func TestOpenRouterCommandValidatesCatalog(t *testing.T) {
	l := newTestLoop(t, false)
	ctx := context.Background()

	reply := l.handleCommand(ctx, 1, "/openrouter", "nope/never", "bot")
	if !strings.Contains(reply, "not found") {
		t.Fatalf("reply = %q", reply)
	}
	if v := l.viewSession(1); v.Model != "gpt-4-turbo" {
		t.Fatalf("model changed on invalid id: %q", v.Model)
	}

	reply = l.handleCommand(ctx, 1, "/openrouter", "google/gemini-2.0-flash", "bot")
	if !strings.Contains(reply, "openrouter:google/gemini-2.0-flash") {
		t.Fatalf("reply = %q", reply)
	}
	if v := l.viewSession(1); v.Model != "openrouter:google/gemini-2.0-flash" {
		t.Fatalf("model = %q", v.Model)
	}

	if reply := l.handleCommand(ctx, 1, "/openrouter", "", "bot"); !strings.Contains(reply, "specify a model") {
		t.Fatalf("reply = %q", reply)
	}
}

func TestMaxRoundsCommand(t *testing.T) {
	l := newTestLoop(t, false)
	ctx := context.Background()

	if reply := l.handleCommand(ctx, 1, "/maxrounds", "", "bot"); !strings.Contains(reply, "currently set to 4") {
		t.Fatalf("reply = %q", reply)
	}
	l.handleCommand(ctx, 1, "/maxrounds", "7", "bot")
	if v := l.viewSession(1); v.MaxRounds != 7 {
		t.Fatalf("max rounds = %d", v.MaxRounds)
	}
	// Garbage resets to the default.
	l.handleCommand(ctx, 1, "/maxrounds", "banana", "bot")
	if v := l.viewSession(1); v.MaxRounds != session.DefaultMaxRounds {
		t.Fatalf("max rounds = %d", v.MaxRounds)
	}
}

func TestFormatCommand(t *testing.T) {
	l := newTestLoop(t, false)
	ctx := context.Background()

	reply := l.handleCommand(ctx, 1, "/format", "text+image 16:9 hd", "bot")
	if !strings.Contains(reply, "modalities=text+image") {
		t.Fatalf("reply = %q", reply)
	}
	v := l.viewSession(1)
	if v.Format.Modalities != "text+image" || v.Format.AspectRatio != "16:9" || v.Format.ImageSize != "HD" {
		t.Fatalf("format = %+v", v.Format)
	}

	if reply := l.handleCommand(ctx, 1, "/format", "hologram", "bot"); !strings.Contains(reply, "Invalid modality") {
		t.Fatalf("reply = %q", reply)
	}
	if reply := l.handleCommand(ctx, 1, "/format", "image 2:1", "bot"); !strings.Contains(reply, "Invalid aspect ratio") {
		t.Fatalf("reply = %q", reply)
	}
	if reply := l.handleCommand(ctx, 1, "/format", "image 1:1 8K", "bot"); !strings.Contains(reply, "Invalid size") {
		t.Fatalf("reply = %q", reply)
	}
	// Failed validation leaves the previous preferences alone.
	if v := l.viewSession(1); v.Format.AspectRatio != "16:9" {
		t.Fatalf("format mutated by invalid input: %+v", v.Format)
	}
}

func TestClearAndStatus(t *testing.T) {
	l := newTestLoop(t, false)
	ctx := context.Background()

	if reply := l.handleCommand(ctx, 1, "/clear", "", "bot"); reply != "Context cleared" {
		t.Fatalf("reply = %q", reply)
	}
	status := l.handleCommand(ctx, 1, "/status", "", "bot")
	for _, want := range []string{"Model: gpt-4-turbo", "Max rounds: 4", "Conversation length: 0"} {
		if !strings.Contains(status, want) {
			t.Fatalf("status missing %q:\n%s", want, status)
		}
	}
}

func TestProfileCommands(t *testing.T) {
	l := newTestLoop(t, false)
	ctx := context.Background()

	if reply := l.handleCommand(ctx, 1, "/profiles", "", "bot"); !strings.Contains(reply, "tutor") {
		t.Fatalf("reply = %q", reply)
	}

	reply := l.handleCommand(ctx, 1, "/profile", "tutor", "bot")
	if reply != "Hi, I am your tutor!" {
		t.Fatalf("greeting = %q", reply)
	}
	if v := l.viewSession(1); v.Model != "gpt-4o" || v.Profile != "tutor" {
		t.Fatalf("session = %+v", v)
	}

	l.handleCommand(ctx, 1, "/profile", "off", "bot")
	if v := l.viewSession(1); v.Model != "gpt-4-turbo" || v.Profile != "" {
		t.Fatalf("after off: %+v", v)
	}

	if reply := l.handleCommand(ctx, 1, "/profile", "missing", "bot"); !strings.Contains(reply, "could not load") {
		t.Fatalf("reply = %q", reply)
	}
}

func TestKioskRestrictsCommands(t *testing.T) {
	l := newTestLoop(t, true)
	ctx := context.Background()

	for _, cmd := range []string{"/gpt4", "/maxrounds", "/openrouter", "/listopenroutermodels", "/profile"} {
		reply := l.handleCommand(ctx, 1, cmd, "x", "bot")
		if !strings.Contains(reply, "not available in kiosk mode") {
			t.Fatalf("%s: reply = %q", cmd, reply)
		}
	}
	if v := l.viewSession(1); v.Model != "gpt-4-turbo" {
		t.Fatalf("kiosk model changed: %q", v.Model)
	}

	// The allow-list still works.
	if reply := l.handleCommand(ctx, 1, "/clear", "", "bot"); reply != "Context cleared" {
		t.Fatalf("clear in kiosk: %q", reply)
	}
	if reply := l.handleCommand(ctx, 1, "/status", "", "bot"); !strings.Contains(reply, "Kiosk mode: on") {
		t.Fatalf("status in kiosk: %q", reply)
	}
	help := l.handleCommand(ctx, 1, "/help", "", "bot")
	if strings.Contains(help, "/gpt4") || strings.Contains(help, "/profile ") {
		t.Fatalf("kiosk help leaks locked commands:\n%s", help)
	}
}

func TestUnknownCommand(t *testing.T) {
	l := newTestLoop(t, false)
	if reply := l.handleCommand(context.Background(), 1, "/frobnicate", "", "bot"); !strings.Contains(reply, "Unknown command") {
		t.Fatalf("reply = %q", reply)
	}
}

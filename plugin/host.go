package plugin

import (
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/traefik/yaegi/interp"
	"github.com/traefik/yaegi/stdlib"
)

// loaded is the resolved hook table of an interpreted plugin.
type loaded struct {
	name       string
	textHooks  map[string]TextHookFunc
	imageHooks map[string]ImageHookFunc
	notify     map[string]NotifyHookFunc
	commands   map[string]Command
}

// Host loads and invokes the plugin. A nil or absent plugin makes every
// hook a pass-through; callers never touch hook functions directly.
type Host struct {
	cfg    Config
	logger *slog.Logger
	plug   *loaded
	health *health

	// Per-session private metadata, opaque to everything but the plugin.
	metaMu sync.Mutex
	meta   map[int64]map[string]any
}

// NewHost interprets the plugin file if it exists. A missing file is not an
// error: the pipeline runs with zero hooks. A present but malformed plugin
// (bad Go, or a missing required hook) fails here, not at first use.
func NewHost(cfg Config, logger *slog.Logger) (*Host, error) {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultConfig().Timeout
	}
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = DefaultConfig().MaxFailures
	}
	if logger == nil {
		logger = slog.Default()
	}
	h := &Host{
		cfg:    cfg,
		logger: logger,
		health: &health{maxFailures: cfg.MaxFailures},
		meta:   make(map[int64]map[string]any),
	}
	if !cfg.Enabled {
		return h, nil
	}
	src, err := os.ReadFile(cfg.File)
	if err != nil {
		if os.IsNotExist(err) {
			logger.Info("plugin_absent", "file", cfg.File)
			return h, nil
		}
		return nil, err
	}
	plug, err := load(cfg.File, string(src))
	if err != nil {
		return nil, err
	}
	h.plug = plug
	names := make([]string, 0, len(plug.commands))
	for name := range plug.commands {
		names = append(names, "/"+name)
	}
	sort.Strings(names)
	logger.Info("plugin_loaded", "file", cfg.File, "commands", strings.Join(names, " "))
	return h, nil
}

// Symbol names the interpreter must resolve, with the hook each one backs.
var requiredTextHooks = map[string]string{
	HookPreUserText:       "main.PreUserText",
	HookPostUserText:      "main.PostUserText",
	HookPreAssistantText:  "main.PreAssistantText",
	HookPostAssistantText: "main.PostAssistantText",
}

var requiredImageHooks = map[string]string{
	HookPreUserImages:       "main.PreUserImages",
	HookPostUserImages:      "main.PostUserImages",
	HookPreAssistantImages:  "main.PreAssistantImages",
	HookPostAssistantImages: "main.PostAssistantImages",
}

var requiredNotifyHooks = map[string]string{
	HookOnSessionStart:    "main.OnSessionStart",
	HookOnMessageComplete: "main.OnMessageComplete",
}

func load(name, src string) (*loaded, error) {
	i := interp.New(interp.Options{})
	if err := i.Use(stdlib.Symbols); err != nil {
		return nil, fmt.Errorf("plugin stdlib: %w", err)
	}
	if !strings.Contains(src, "package ") {
		src = "package main\n\n" + src
	}
	if _, err := i.Eval(src); err != nil {
		return nil, fmt.Errorf("plugin %s: %w", name, err)
	}

	plug := &loaded{
		name:       name,
		textHooks:  make(map[string]TextHookFunc, len(requiredTextHooks)),
		imageHooks: make(map[string]ImageHookFunc, len(requiredImageHooks)),
		notify:     make(map[string]NotifyHookFunc, len(requiredNotifyHooks)),
		commands:   make(map[string]Command),
	}
	for hook, sym := range requiredTextHooks {
		v, err := i.Eval(sym)
		if err != nil {
			return nil, fmt.Errorf("plugin %s: missing required hook %s (%s): %w", name, hook, sym, err)
		}
		fn, ok := v.Interface().(TextHookFunc)
		if !ok {
			return nil, fmt.Errorf("plugin %s: hook %s has wrong signature, want func(string, map[string]any) string", name, hook)
		}
		plug.textHooks[hook] = fn
	}
	for hook, sym := range requiredImageHooks {
		v, err := i.Eval(sym)
		if err != nil {
			return nil, fmt.Errorf("plugin %s: missing required hook %s (%s): %w", name, hook, sym, err)
		}
		fn, ok := v.Interface().(ImageHookFunc)
		if !ok {
			return nil, fmt.Errorf("plugin %s: hook %s has wrong signature, want func([]string, string, map[string]any) []string", name, hook)
		}
		plug.imageHooks[hook] = fn
	}
	for hook, sym := range requiredNotifyHooks {
		v, err := i.Eval(sym)
		if err != nil {
			return nil, fmt.Errorf("plugin %s: missing required hook %s (%s): %w", name, hook, sym, err)
		}
		fn, ok := v.Interface().(NotifyHookFunc)
		if !ok {
			return nil, fmt.Errorf("plugin %s: hook %s has wrong signature, want func(map[string]any)", name, hook)
		}
		plug.notify[hook] = fn
	}

	// GetCommands is optional.
	if v, err := i.Eval("main.GetCommands"); err == nil {
		getCommands, ok := v.Interface().(func() map[string]map[string]any)
		if !ok {
			return nil, fmt.Errorf("plugin %s: GetCommands has wrong signature, want func() map[string]map[string]any", name)
		}
		for cmdName, info := range getCommands() {
			cmdName = strings.TrimPrefix(strings.TrimSpace(cmdName), "/")
			if cmdName == "" {
				continue
			}
			handler, ok := info["handler"].(CommandFunc)
			if !ok {
				return nil, fmt.Errorf("plugin %s: command /%s handler has wrong signature, want func(string, map[string]any) string", name, cmdName)
			}
			desc, _ := info["description"].(string)
			kioskOK := true
			if v, present := info["available_in_kiosk"]; present {
				kioskOK, _ = v.(bool)
			}
			plug.commands[cmdName] = Command{
				Name:           cmdName,
				Description:    desc,
				KioskAvailable: kioskOK,
				Handler:        handler,
			}
		}
	}
	return plug, nil
}

// LoadFromSource builds a host from in-memory plugin source. Tests and the
// load path share the same resolution rules.
func LoadFromSource(cfg Config, logger *slog.Logger, src string) (*Host, error) {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultConfig().Timeout
	}
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = DefaultConfig().MaxFailures
	}
	if logger == nil {
		logger = slog.Default()
	}
	plug, err := load("inline", src)
	if err != nil {
		return nil, err
	}
	return &Host{
		cfg:    cfg,
		logger: logger,
		plug:   plug,
		health: &health{maxFailures: cfg.MaxFailures},
		meta:   make(map[int64]map[string]any),
	}, nil
}

// Loaded reports whether a plugin module is present (healthy or not).
func (h *Host) Loaded() bool { return h != nil && h.plug != nil }

// Health returns the plugin's observability state.
func (h *Host) Health() Health {
	if h == nil || h.plug == nil {
		return Health{}
	}
	return h.health.snapshot()
}

// Metadata returns the plugin's private per-session bag, creating it on
// first use.
func (h *Host) Metadata(chatID int64) map[string]any {
	h.metaMu.Lock()
	defer h.metaMu.Unlock()
	m, ok := h.meta[chatID]
	if !ok {
		m = make(map[string]any)
		h.meta[chatID] = m
	}
	return m
}

// Context carries the read-mostly view handed to every hook.
type Context struct {
	ChatID  int64
	Model   string
	Kiosk   bool
	History []map[string]any
	Ask     AskFunc
}

func (h *Host) buildContext(hc Context) map[string]any {
	ctx := map[string]any{
		"chat_id":    hc.ChatID,
		"model":      hc.Model,
		"kiosk_mode": hc.Kiosk,
		"history":    hc.History,
		"metadata":   h.Metadata(hc.ChatID),
	}
	if hc.Ask != nil {
		ctx["ask"] = hc.Ask
	}
	return ctx
}

// invoke runs call with the timeout and failure contract. On timeout the
// goroutine is abandoned, not preempted; the pipeline just stops waiting.
func (h *Host) invoke(hook string, call func()) bool {
	if h == nil || h.plug == nil || !h.health.healthy() {
		return false
	}
	done := make(chan any, 1)
	go func() {
		defer func() {
			done <- recover()
		}()
		call()
	}()

	timer := time.NewTimer(h.cfg.Timeout)
	defer timer.Stop()
	select {
	case recovered := <-done:
		if recovered != nil {
			h.fail(hook, fmt.Sprintf("panic: %v", recovered))
			return false
		}
		if h.cfg.Debug {
			h.logger.Debug("plugin_hook_ok", "hook", hook)
		}
		return true
	case <-timer.C:
		h.fail(hook, "timeout")
		return false
	}
}

func (h *Host) fail(hook, reason string) {
	msg := fmt.Sprintf("%s: %s", hook, reason)
	tripped := h.health.recordFailure(msg)
	h.logger.Warn("plugin_hook_error", "hook", hook, "reason", reason)
	if tripped {
		h.logger.Warn("plugin_disabled", "file", h.plug.name, "failures", h.Health().FailureCount)
	}
}

// TextHook transforms text through the named hook. On any failure the input
// passes through unchanged.
func (h *Host) TextHook(hook, text string, hc Context) string {
	if h == nil || h.plug == nil {
		return text
	}
	fn := h.plug.textHooks[hook]
	if fn == nil {
		return text
	}
	ctxMap := h.buildContext(hc)
	out := text
	if h.invoke(hook, func() { out = fn(text, ctxMap) }) {
		return out
	}
	return text
}

// ImageHook transforms an image list through the named hook; text is the
// already-transformed companion text. Failures pass the input through; a
// hook that returns nil strips the images.
func (h *Host) ImageHook(hook string, images []string, text string, hc Context) []string {
	if h == nil || h.plug == nil {
		return images
	}
	fn := h.plug.imageHooks[hook]
	if fn == nil {
		return images
	}
	ctxMap := h.buildContext(hc)
	out := images
	if h.invoke(hook, func() { out = fn(append([]string(nil), images...), text, ctxMap) }) {
		return out
	}
	return images
}

// Notify fires on_session_start / on_message_complete. Return values and
// failures are irrelevant to delivery.
func (h *Host) Notify(hook string, hc Context) {
	if h == nil || h.plug == nil {
		return
	}
	fn := h.plug.notify[hook]
	if fn == nil {
		return
	}
	ctxMap := h.buildContext(hc)
	h.invoke(hook, func() { fn(ctxMap) })
}

// Commands lists plugin-declared slash commands, optionally filtered to the
// kiosk-available subset, sorted by name.
func (h *Host) Commands(kioskOnly bool) []Command {
	if h == nil || h.plug == nil {
		return nil
	}
	out := make([]Command, 0, len(h.plug.commands))
	for _, cmd := range h.plug.commands {
		if kioskOnly && !cmd.KioskAvailable {
			continue
		}
		out = append(out, cmd)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// HandleCommand routes a slash command to the plugin. handled is false when
// the command is unknown, the plugin is disabled, or kiosk mode excludes it.
func (h *Host) HandleCommand(name, args string, kiosk bool, hc Context) (reply string, handled bool) {
	if h == nil || h.plug == nil || !h.health.healthy() {
		return "", false
	}
	cmd, ok := h.plug.commands[strings.TrimPrefix(name, "/")]
	if !ok {
		return "", false
	}
	if kiosk && !cmd.KioskAvailable {
		h.logger.Warn("plugin_command_kiosk_blocked", "command", cmd.Name)
		return "", false
	}
	ctxMap := h.buildContext(hc)
	if h.invoke("command_"+cmd.Name, func() { reply = cmd.Handler(args, ctxMap) }) {
		return reply, true
	}
	return "", true
}

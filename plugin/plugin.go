// Package plugin hosts at most one foreign extension module: a Go source
// file interpreted at runtime. The host owns the isolation contract: every
// hook invocation is timeout-bounded and failure-counted, and a plugin that
// keeps failing is disabled for the rest of the process.
package plugin

import (
	"sync"
	"time"
)

// The ten pipeline hooks. Text hooks are string -> string, image hooks are
// ([]string, text) -> []string; the two notification hooks return nothing.
const (
	HookPreUserText         = "pre_user_text"
	HookPostUserText        = "post_user_text"
	HookPreUserImages       = "pre_user_images"
	HookPostUserImages      = "post_user_images"
	HookPreAssistantText    = "pre_assistant_text"
	HookPostAssistantText   = "post_assistant_text"
	HookPreAssistantImages  = "pre_assistant_images"
	HookPostAssistantImages = "post_assistant_images"
	HookOnSessionStart      = "on_session_start"
	HookOnMessageComplete   = "on_message_complete"
)

type (
	TextHookFunc   = func(text string, ctx map[string]any) string
	ImageHookFunc  = func(images []string, text string, ctx map[string]any) []string
	NotifyHookFunc = func(ctx map[string]any)
	CommandFunc    = func(args string, ctx map[string]any) string
)

// Command is a plugin-declared slash command. KioskAvailable gates it when
// the session runs in kiosk mode.
type Command struct {
	Name           string
	Description    string
	KioskAvailable bool
	Handler        CommandFunc
}

// AskFunc is the AI-helper handle exposed to hook code. It shares the
// invoking hook's timeout budget; nested calls do not get a fresh one.
type AskFunc = func(prompt string) string

type Config struct {
	Enabled     bool
	File        string
	Timeout     time.Duration
	MaxFailures int
	Debug       bool
}

func DefaultConfig() Config {
	return Config{
		Enabled:     true,
		File:        "kiosk-custom.go",
		Timeout:     5 * time.Second,
		MaxFailures: 3,
	}
}

// health is the circuit breaker. Once failures reaches the maximum the
// plugin stays disabled for the process lifetime.
type health struct {
	mu          sync.Mutex
	failures    int
	maxFailures int
	disabled    bool
	lastError   string
}

// recordFailure returns true when this failure tripped the breaker.
func (h *health) recordFailure(errMsg string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.failures++
	h.lastError = errMsg
	if !h.disabled && h.maxFailures > 0 && h.failures >= h.maxFailures {
		h.disabled = true
		return true
	}
	return false
}

func (h *health) healthy() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return !h.disabled
}

// Health is the observability snapshot of the loaded plugin.
type Health struct {
	Enabled      bool
	FailureCount int
	LastError    string
}

func (h *health) snapshot() Health {
	h.mu.Lock()
	defer h.mu.Unlock()
	return Health{
		Enabled:      !h.disabled,
		FailureCount: h.failures,
		LastError:    h.lastError,
	}
}

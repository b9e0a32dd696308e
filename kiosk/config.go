// Package kiosk implements the restricted operating mode: a locked model
// and system prompt, a reduced command surface, and the response enforcer
// that keeps image replies from arriving without text.
package kiosk

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/raymondclowe/aitgbot/plugin"
)

// Duration reads Go duration strings ("5s", "2m") and bare numbers, which
// are taken as seconds.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	s := strings.TrimSpace(node.Value)
	if s == "" {
		return nil
	}
	if secs, err := strconv.ParseFloat(s, 64); err == nil {
		*d = Duration(time.Duration(secs * float64(time.Second)))
		return nil
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config is read once at process start; it is not hot-reloaded.
type Config struct {
	Enabled           bool     `yaml:"enabled"`
	Model             string   `yaml:"model"`
	PromptFile        string   `yaml:"prompt_file"`
	InactivityTimeout Duration `yaml:"inactivity_timeout"`

	// ReasoningFallback controls whether the enforcer may lift text from a
	// provider's reasoning field before falling back to the placeholder.
	ReasoningFallback *bool `yaml:"reasoning_fallback"`

	Plugin struct {
		Enabled     bool     `yaml:"enabled"`
		File        string   `yaml:"file"`
		Timeout     Duration `yaml:"timeout"`
		MaxFailures int      `yaml:"max_failures"`
	} `yaml:"plugin"`

	// SystemPrompt is loaded from PromptFile.
	SystemPrompt string `yaml:"-"`
}

// LoadConfig reads the kiosk YAML file. A missing file means kiosk mode is
// off, which is the common case.
func LoadConfig(path string) (Config, error) {
	var cfg Config
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, err
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return cfg, fmt.Errorf("kiosk config %s: %w", path, err)
	}
	if !cfg.Enabled {
		return cfg, nil
	}
	if strings.TrimSpace(cfg.Model) == "" {
		return cfg, fmt.Errorf("kiosk config %s: model is required when enabled", path)
	}
	if cfg.PromptFile != "" {
		prompt, err := os.ReadFile(cfg.PromptFile)
		if err != nil {
			return cfg, fmt.Errorf("kiosk prompt file: %w", err)
		}
		cfg.SystemPrompt = strings.TrimSpace(string(prompt))
	}
	return cfg, nil
}

// UseReasoningFallback resolves the policy; the default is on.
func (c Config) UseReasoningFallback() bool {
	if c.ReasoningFallback == nil {
		return true
	}
	return *c.ReasoningFallback
}

// PluginConfig maps the kiosk plugin block onto the plugin host's config.
func (c Config) PluginConfig() plugin.Config {
	pc := plugin.DefaultConfig()
	pc.Enabled = c.Plugin.Enabled
	if c.Plugin.File != "" {
		pc.File = c.Plugin.File
	}
	if c.Plugin.Timeout > 0 {
		pc.Timeout = c.Plugin.Timeout.Std()
	}
	if c.Plugin.MaxFailures > 0 {
		pc.MaxFailures = c.Plugin.MaxFailures
	}
	return pc
}

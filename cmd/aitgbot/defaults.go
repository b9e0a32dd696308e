package main

import (
	"time"

	"github.com/spf13/viper"
)

func initViperDefaults() {
	// Telegram
	viper.SetDefault("telegram.bot_token", "")
	viper.SetDefault("telegram.base_url", "https://api.telegram.org")
	viper.SetDefault("telegram.allowed_chat_ids", []string{})
	viper.SetDefault("telegram.poll_timeout", 30*time.Second)
	viper.SetDefault("telegram.task_timeout", 5*time.Minute)
	viper.SetDefault("telegram.max_concurrency", 4)
	viper.SetDefault("telegram.download_max_bytes", int64(20*1024*1024))

	// Providers
	viper.SetDefault("llm.openai_api_key", "")
	viper.SetDefault("llm.anthropic_api_key", "")
	viper.SetDefault("llm.groq_api_key", "")
	viper.SetDefault("llm.openrouter_api_key", "")
	viper.SetDefault("llm.default_model", "gpt-4-turbo")
	viper.SetDefault("llm.max_tokens", 3000)

	// Sessions
	viper.SetDefault("session.max_rounds", 4)
	viper.SetDefault("session.system_prompt", "You are a helpful assistant.")

	// Profiles
	viper.SetDefault("profiles.dir", "profiles")

	// Kiosk
	viper.SetDefault("kiosk.config_file", "kiosk.yaml")

	// Plugin (overridden by the kiosk config when kiosk mode is on)
	viper.SetDefault("plugin.enabled", false)
	viper.SetDefault("plugin.file", "kiosk-custom.go")
	viper.SetDefault("plugin.timeout", 5*time.Second)
	viper.SetDefault("plugin.max_failures", 3)
	viper.SetDefault("plugin.ask_model", "gpt-4o-mini")

	// LaTeX rendering
	viper.SetDefault("latex.enabled", true)
	viper.SetDefault("latex.endpoint", "")
}

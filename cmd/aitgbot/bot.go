package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/raymondclowe/aitgbot/internal/botloop"
	"github.com/raymondclowe/aitgbot/internal/logutil"
	"github.com/raymondclowe/aitgbot/internal/telegram"
	"github.com/raymondclowe/aitgbot/kiosk"
	"github.com/raymondclowe/aitgbot/latex"
	"github.com/raymondclowe/aitgbot/llm"
	"github.com/raymondclowe/aitgbot/pipeline"
	"github.com/raymondclowe/aitgbot/plugin"
	"github.com/raymondclowe/aitgbot/profile"
	"github.com/raymondclowe/aitgbot/providers"
	"github.com/raymondclowe/aitgbot/session"
)

func newBotCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "bot",
		Short: "Run the Telegram bot (long polling)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBot()
		},
	}

	cmd.Flags().String("telegram-bot-token", "", "Telegram bot token.")
	_ = viper.BindPFlag("telegram.bot_token", cmd.Flags().Lookup("telegram-bot-token"))
	cmd.Flags().StringSlice("allowed-chat-id", nil, "Allowed chat ids (repeatable; empty allows all).")
	_ = viper.BindPFlag("telegram.allowed_chat_ids", cmd.Flags().Lookup("allowed-chat-id"))
	cmd.Flags().String("kiosk-config", "", "Kiosk config file path.")
	_ = viper.BindPFlag("kiosk.config_file", cmd.Flags().Lookup("kiosk-config"))

	return cmd
}

func runBot() error {
	logger, err := logutil.LoggerFromViper()
	if err != nil {
		return err
	}

	token := strings.TrimSpace(viper.GetString("telegram.bot_token"))
	if token == "" {
		return fmt.Errorf("missing telegram.bot_token (set via --telegram-bot-token or AITGBOT_TELEGRAM_BOT_TOKEN)")
	}

	kioskCfg, err := kiosk.LoadConfig(viper.GetString("kiosk.config_file"))
	if err != nil {
		return fmt.Errorf("load kiosk config: %w", err)
	}

	plugCfg := plugin.Config{
		Enabled:     viper.GetBool("plugin.enabled"),
		File:        viper.GetString("plugin.file"),
		Timeout:     viper.GetDuration("plugin.timeout"),
		MaxFailures: viper.GetInt("plugin.max_failures"),
		Debug:       viper.GetBool("debug"),
	}
	if kioskCfg.Enabled {
		plugCfg = kioskCfg.PluginConfig()
		plugCfg.Debug = viper.GetBool("debug")
	}
	plugins, err := plugin.NewHost(plugCfg, logger)
	if err != nil {
		return fmt.Errorf("load plugin: %w", err)
	}

	registry := providers.NewRegistry(providers.Keys{
		OpenAI:     viper.GetString("llm.openai_api_key"),
		Anthropic:  viper.GetString("llm.anthropic_api_key"),
		Groq:       viper.GetString("llm.groq_api_key"),
		OpenRouter: viper.GetString("llm.openrouter_api_key"),
	})

	defaultModel := viper.GetString("llm.default_model")
	systemPrompt := viper.GetString("session.system_prompt")
	if kioskCfg.Enabled {
		if kioskCfg.Model != "" {
			defaultModel = kioskCfg.Model
		}
		if kioskCfg.SystemPrompt != "" {
			systemPrompt = kioskCfg.SystemPrompt
		}
		systemPrompt = kiosk.AugmentSystemPrompt(systemPrompt)
	}

	profiles := profile.NewLoader(viper.GetString("profiles.dir"), defaultModel, systemPrompt)

	store := session.NewStore(session.Options{
		DefaultModel: defaultModel,
		MaxRounds:    viper.GetInt("session.max_rounds"),
		Kiosk:        kioskCfg.Enabled,
		OnCreate: func(sess *session.Session) {
			sess.ReplaceSystemPrompt(systemPrompt)
			plugins.Notify(plugin.HookOnSessionStart, plugin.Context{
				ChatID: sess.ChatID,
				Model:  sess.Model,
				Kiosk:  sess.Kiosk,
			})
		},
	})

	askModel := viper.GetString("plugin.ask_model")
	ask := func(prompt string) string {
		resp, err := registry.Chat(context.Background(), llm.Request{
			Model:   askModel,
			History: []llm.Turn{{Role: llm.RoleUser, Text: prompt}},
		})
		if err != nil {
			logger.Warn("plugin_ask_error", "model", askModel, "error", err.Error())
			return ""
		}
		return resp.Text
	}

	pipe := &pipeline.Pipeline{
		Store:             store,
		Plugins:           plugins,
		Dispatch:          registry,
		Logger:            logger,
		Ask:               ask,
		MaxTokens:         viper.GetInt("llm.max_tokens"),
		ReasoningFallback: kioskCfg.UseReasoningFallback(),
	}

	api := telegram.NewAPI(nil, viper.GetString("telegram.base_url"), token)

	var renderer *latex.Renderer
	if viper.GetBool("latex.enabled") {
		renderer = latex.NewRenderer(viper.GetString("latex.endpoint"))
	}

	loop := botloop.New(botloop.Options{
		API:              api,
		Store:            store,
		Pipe:             pipe,
		Plugins:          plugins,
		Registry:         registry,
		Profiles:         profiles,
		Latex:            renderer,
		Logger:           logger,
		Kiosk:            kioskCfg,
		AllowedChatIDs:   allowedChatIDs(),
		PollTimeout:      viper.GetDuration("telegram.poll_timeout"),
		TaskTimeout:      viper.GetDuration("telegram.task_timeout"),
		MaxConcurrency:   viper.GetInt("telegram.max_concurrency"),
		DownloadMaxBytes: viper.GetInt64("telegram.download_max_bytes"),
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return loop.Run(ctx)
}

func allowedChatIDs() []int64 {
	raw := viper.GetStringSlice("telegram.allowed_chat_ids")
	out := make([]int64, 0, len(raw))
	for _, s := range raw {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		id, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			continue
		}
		out = append(out, id)
	}
	return out
}

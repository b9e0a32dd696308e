// Package pipeline orders the ten plugin hooks around one user→assistant
// exchange and owns the transactional history update.
package pipeline

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/raymondclowe/aitgbot/kiosk"
	"github.com/raymondclowe/aitgbot/llm"
	"github.com/raymondclowe/aitgbot/plugin"
	"github.com/raymondclowe/aitgbot/session"
)

// Dispatcher is the provider side of the exchange. providers.Registry
// implements it; tests substitute their own.
type Dispatcher interface {
	Chat(ctx context.Context, req llm.Request) (llm.Response, error)
	SupportsImageOutput(ctx context.Context, model string) bool
}

type Pipeline struct {
	Store    *session.Store
	Plugins  *plugin.Host
	Dispatch Dispatcher
	Logger   *slog.Logger

	// Ask backs the AI-helper handle hooks receive; it shares the hook's
	// timeout budget.
	Ask plugin.AskFunc

	MaxTokens         int
	ReasoningFallback bool
}

type Result struct {
	Text       string
	Images     []string
	TokensUsed int
}

func (p *Pipeline) logger() *slog.Logger {
	if p.Logger != nil {
		return p.Logger
	}
	return slog.Default()
}

// Run executes one exchange for a chat. The session stays locked for the
// whole exchange, so same-chat messages are strictly serialized.
func (p *Pipeline) Run(ctx context.Context, chatID int64, text string, images []string) (Result, error) {
	exchangeID := uuid.NewString()
	logger := p.logger().With("chat_id", chatID, "exchange_id", exchangeID)
	start := time.Now()

	var out Result
	var runErr error
	p.Store.Do(chatID, func(sess *session.Session) {
		out, runErr = p.run(ctx, logger, sess, text, images)
	})
	if runErr != nil {
		logger.Warn("exchange_error", "error", runErr.Error())
		return Result{}, runErr
	}
	logger.Info("exchange_done",
		"duration", time.Since(start).String(),
		"text_len", len(out.Text),
		"images", len(out.Images),
	)
	return out, nil
}

func (p *Pipeline) run(ctx context.Context, logger *slog.Logger, sess *session.Session, text string, images []string) (Result, error) {
	hc := p.hookContext(sess)

	// Inbound transforms run before the turn is committed; the history
	// audit reflects their output, not later payload adjustments.
	text = p.Plugins.TextHook(plugin.HookPreUserText, text, hc)
	images = p.Plugins.ImageHook(plugin.HookPreUserImages, images, text, hc)

	sess.Append(llm.Turn{Role: llm.RoleUser, Text: text, Images: images})
	hc = p.hookContext(sess)

	// Last chance to adjust the outgoing payload; history keeps the
	// committed form.
	outText := p.Plugins.TextHook(plugin.HookPostUserText, text, hc)
	outImages := p.Plugins.ImageHook(plugin.HookPostUserImages, images, outText, hc)

	imageCapable := false
	if sess.Kiosk {
		imageCapable = p.Dispatch.SupportsImageOutput(ctx, sess.Model)
		if imageCapable && kiosk.IsImageRequest(text) {
			outText = kiosk.AugmentUserText(outText)
		}
	}

	history := llm.CloneHistory(sess.History)
	last := len(history) - 1
	history[last].Text = outText
	history[last].Images = outImages

	resp, err := p.Dispatch.Chat(ctx, llm.Request{
		Model:       sess.Model,
		History:     history,
		MaxTokens:   p.MaxTokens,
		Modalities:  sess.Format.Modalities,
		AspectRatio: sess.Format.AspectRatio,
		ImageSize:   sess.Format.ImageSize,
	})
	if err != nil {
		// No dangling user turn: the failed exchange leaves no trace, so
		// retry is simply sending the message again.
		sess.DropLast()
		return Result{}, err
	}

	replyText := p.Plugins.TextHook(plugin.HookPreAssistantText, resp.Text, hc)
	replyImages := p.Plugins.ImageHook(plugin.HookPreAssistantImages, resp.Images, replyText, hc)

	if sess.Kiosk && imageCapable {
		enforced := kiosk.EnforceText(replyText, replyImages, resp.Reasoning, p.ReasoningFallback)
		if enforced != replyText {
			logger.Debug("kiosk_text_enforced", "from_reasoning", enforced != kiosk.Placeholder)
			replyText = enforced
		}
	}

	replyText = p.Plugins.TextHook(plugin.HookPostAssistantText, replyText, hc)
	replyImages = p.Plugins.ImageHook(plugin.HookPostAssistantImages, replyImages, replyText, hc)

	sess.Append(llm.Turn{Role: llm.RoleAssistant, Text: replyText, Images: replyImages})
	sess.TokensUsed += resp.Usage.TotalTokens

	// Fire-and-forget: the reply is already decided, a failure here only
	// feeds the plugin's failure counter.
	p.Plugins.Notify(plugin.HookOnMessageComplete, p.hookContext(sess))

	return Result{
		Text:       replyText,
		Images:     replyImages,
		TokensUsed: sess.TokensUsed,
	}, nil
}

// hookContext snapshots the session for foreign hook code: the history is
// copied, never a live reference.
func (p *Pipeline) hookContext(sess *session.Session) plugin.Context {
	history := make([]map[string]any, 0, len(sess.History))
	for _, t := range sess.History {
		entry := map[string]any{
			"role": t.Role,
			"text": t.Text,
		}
		if len(t.Images) > 0 {
			entry["images"] = append([]string(nil), t.Images...)
		}
		history = append(history, entry)
	}
	return plugin.Context{
		ChatID:  sess.ChatID,
		Model:   sess.Model,
		Kiosk:   sess.Kiosk,
		History: history,
		Ask:     p.Ask,
	}
}

// Package botloop runs the Telegram long-poll loop: commands are answered
// inline, chat messages are enqueued to per-chat workers that drive the
// message pipeline and deliver the reply.
package botloop

import (
	"context"
	"encoding/base64"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/raymondclowe/aitgbot/internal/telegram"
	"github.com/raymondclowe/aitgbot/internal/worker"
	"github.com/raymondclowe/aitgbot/kiosk"
	"github.com/raymondclowe/aitgbot/latex"
	"github.com/raymondclowe/aitgbot/pipeline"
	"github.com/raymondclowe/aitgbot/plugin"
	"github.com/raymondclowe/aitgbot/profile"
	"github.com/raymondclowe/aitgbot/providers"
	"github.com/raymondclowe/aitgbot/session"
)

const (
	defaultPollTimeout = 30 * time.Second
	defaultTaskTimeout = 5 * time.Minute
	maxPhotoSide       = 2048
)

type Options struct {
	API      *telegram.API
	Store    *session.Store
	Pipe     *pipeline.Pipeline
	Plugins  *plugin.Host
	Registry *providers.Registry
	Profiles *profile.Loader
	Latex    *latex.Renderer
	Logger   *slog.Logger
	Kiosk    kiosk.Config

	// AllowedChatIDs restricts who may talk to the bot; empty allows all.
	AllowedChatIDs []int64

	PollTimeout      time.Duration
	TaskTimeout      time.Duration
	MaxConcurrency   int
	DownloadMaxBytes int64
}

type job struct {
	MessageID   int64
	Text        string
	PhotoFileID string

	// Command is set for slash commands; they share the chat's queue so a
	// command sent mid-exchange is answered right after it, and the poll
	// loop never waits on a session lock.
	Command string
	Args    string
}

type Loop struct {
	opts        Options
	logger      *slog.Logger
	allowed     map[int64]bool
	botUsername string
}

func New(opts Options) *Loop {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.PollTimeout <= 0 {
		opts.PollTimeout = defaultPollTimeout
	}
	if opts.TaskTimeout <= 0 {
		opts.TaskTimeout = defaultTaskTimeout
	}
	allowed := make(map[int64]bool)
	for _, id := range opts.AllowedChatIDs {
		if id != 0 {
			allowed[id] = true
		}
	}
	return &Loop{opts: opts, logger: opts.Logger, allowed: allowed}
}

func (l *Loop) authorized(chatID int64) bool {
	return len(l.allowed) == 0 || l.allowed[chatID]
}

func (l *Loop) Run(ctx context.Context) error {
	api := l.opts.API

	var me *telegram.User
	for {
		var err error
		me, err = api.GetMe(ctx)
		if err == nil {
			break
		}
		if errors.Is(err, context.Canceled) || ctx.Err() != nil {
			l.logger.Info("telegram_stop", "reason", "context_canceled")
			return nil
		}
		l.logger.Warn("telegram_get_me_error", "error", err.Error())
		select {
		case <-ctx.Done():
			l.logger.Info("telegram_stop", "reason", "context_canceled")
			return nil
		case <-time.After(2 * time.Second):
		}
	}

	l.botUsername = me.Username
	pool := worker.NewPool(worker.PoolOptions[job]{
		Ctx:           ctx,
		MaxConcurrent: l.opts.MaxConcurrency,
		Handle:        l.handle,
	})

	l.logger.Info("telegram_start",
		"bot_username", me.Username,
		"bot_id", me.ID,
		"poll_timeout", l.opts.PollTimeout.String(),
		"task_timeout", l.opts.TaskTimeout.String(),
		"max_concurrency", l.opts.MaxConcurrency,
		"kiosk_enabled", l.opts.Kiosk.Enabled,
		"plugin_loaded", l.opts.Plugins.Loaded(),
	)

	var offset int64
	for {
		updates, nextOffset, err := api.GetUpdates(ctx, offset, l.opts.PollTimeout)
		if err != nil {
			if errors.Is(err, context.Canceled) || ctx.Err() != nil {
				l.logger.Info("telegram_stop", "reason", "context_canceled")
				return nil
			}
			if telegram.IsPollTimeout(err) {
				l.logger.Debug("telegram_get_updates_timeout", "error", err.Error())
			} else {
				l.logger.Warn("telegram_get_updates_error", "error", err.Error())
			}
			time.Sleep(1 * time.Second)
			continue
		}
		offset = nextOffset

		for _, u := range updates {
			l.dispatch(ctx, pool, u.Message)
		}
	}
}

// dispatch routes one incoming message to its chat's worker queue. It never
// touches the session store: a chat whose exchange is mid-flight must not
// stall polling for every other chat.
func (l *Loop) dispatch(ctx context.Context, pool *worker.Pool[job], msg *telegram.Message) {
	if msg == nil || msg.Chat == nil {
		return
	}
	if msg.From != nil && msg.From.IsBot {
		return
	}
	chatID := msg.Chat.ID
	if !l.authorized(chatID) {
		l.logger.Warn("telegram_unauthorized_chat", "chat_id", chatID)
		_ = l.opts.API.SendMessage(ctx, chatID, "unauthorized, please contact the bot administrator")
		return
	}

	text := strings.TrimSpace(msg.Text)
	caption := strings.TrimSpace(msg.Caption)
	if text == "" {
		text = caption
	} else if caption != "" {
		text = text + " \n\n " + caption
	}

	photoFileID := ""
	if len(msg.Photo) > 0 {
		if p, ok := telegram.LargestUsablePhoto(msg.Photo, maxPhotoSide); ok {
			photoFileID = p.FileID
		}
	}

	j := job{MessageID: msg.MessageID, Text: text, PhotoFileID: photoFileID}
	if photoFileID == "" {
		if text == "" {
			return
		}
		if cmd, args := splitCommand(text); cmd != "" {
			j = job{MessageID: msg.MessageID, Command: cmd, Args: args}
		}
	}

	l.logger.Info("telegram_task_enqueued", "chat_id", chatID, "message_id", msg.MessageID, "text_len", len(text), "has_photo", photoFileID != "", "is_command", j.Command != "")
	if err := pool.Enqueue(ctx, chatID, j); err != nil {
		l.logger.Warn("telegram_enqueue_error", "chat_id", chatID, "error", err.Error())
	}
}

// expireIfIdle clears the conversation when the kiosk inactivity window has
// elapsed since the chat's previous message. Model and profile survive, same
// as /clear.
func (l *Loop) expireIfIdle(chatID int64) {
	timeout := l.opts.Kiosk.InactivityTimeout.Std()
	if timeout <= 0 {
		return
	}
	l.opts.Store.Do(chatID, func(sess *session.Session) {
		if sess.TouchExpired(time.Now(), timeout) {
			sess.Clear()
			l.logger.Info("session_expired", "chat_id", chatID, "timeout", timeout.String())
		}
	})
}

func (l *Loop) handle(ctx context.Context, chatID int64, j job) {
	l.expireIfIdle(chatID)

	if j.Command != "" {
		reply := l.handleCommand(ctx, chatID, j.Command, j.Args, l.botUsername)
		if reply == "" {
			return
		}
		if err := l.opts.API.SendMessage(ctx, chatID, reply); err != nil {
			l.logger.Warn("telegram_send_error", "chat_id", chatID, "error", err.Error())
		}
		return
	}

	stopTyping := l.startTyping(ctx, chatID)
	defer stopTyping()

	runCtx, cancel := context.WithTimeout(ctx, l.opts.TaskTimeout)
	defer cancel()

	var images []string
	if j.PhotoFileID != "" {
		b64, err := l.downloadPhoto(runCtx, j.PhotoFileID)
		if err != nil {
			l.logger.Warn("telegram_photo_download_error", "chat_id", chatID, "error", err.Error())
		} else {
			images = append(images, b64)
		}
	}

	result, err := l.opts.Pipe.Run(runCtx, chatID, j.Text, images)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		l.logger.Warn("telegram_task_error", "chat_id", chatID, "message_id", j.MessageID, "error", err.Error())
		_ = l.opts.API.SendMessage(ctx, chatID, "error: "+err.Error())
		return
	}
	l.deliver(ctx, chatID, result)
}

func (l *Loop) downloadPhoto(ctx context.Context, fileID string) (string, error) {
	info, err := l.opts.API.GetFile(ctx, fileID)
	if err != nil {
		return "", err
	}
	raw, err := l.opts.API.DownloadFile(ctx, info.FilePath, l.opts.DownloadMaxBytes)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}

// deliver sends a pipeline result: model images first (the text rides as
// the first photo's caption when it fits), then standalone text, then any
// LaTeX blocks rendered to images.
func (l *Loop) deliver(ctx context.Context, chatID int64, result pipeline.Result) {
	api := l.opts.API
	text := strings.TrimSpace(result.Text)

	if len(result.Images) > 0 {
		caption := ""
		if len(text) <= 1024 {
			caption = text
			text = ""
		}
		for i, b64 := range result.Images {
			raw, err := base64.StdEncoding.DecodeString(b64)
			if err != nil {
				l.logger.Warn("telegram_image_decode_error", "chat_id", chatID, "error", err.Error())
				continue
			}
			c := ""
			if i == 0 {
				c = caption
			}
			if err := api.SendPhoto(ctx, chatID, raw, c); err != nil {
				l.logger.Warn("telegram_send_photo_error", "chat_id", chatID, "error", err.Error())
			}
		}
	}

	if text != "" {
		if err := api.SendMessage(ctx, chatID, text); err != nil {
			l.logger.Warn("telegram_send_error", "chat_id", chatID, "error", err.Error())
		}
	}

	if l.opts.Latex != nil && result.Text != "" {
		for _, png := range l.opts.Latex.RenderAll(ctx, result.Text) {
			if err := api.SendPhoto(ctx, chatID, png, ""); err != nil {
				l.logger.Warn("telegram_send_photo_error", "chat_id", chatID, "error", err.Error())
			}
		}
	}
}

func (l *Loop) startTyping(ctx context.Context, chatID int64) func() {
	tctx, cancel := context.WithCancel(ctx)
	go func() {
		_ = l.opts.API.SendChatAction(tctx, chatID, "typing")
		ticker := time.NewTicker(4 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-tctx.Done():
				return
			case <-ticker.C:
				_ = l.opts.API.SendChatAction(tctx, chatID, "typing")
			}
		}
	}()
	return cancel
}

package botloop

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/raymondclowe/aitgbot/plugin"
	"github.com/raymondclowe/aitgbot/profile"
	"github.com/raymondclowe/aitgbot/session"
)

const (
	modelGPT3        = "gpt-3.5-turbo"
	modelGPT4        = "gpt-4-turbo"
	modelClaudeOpus  = "claude-3-opus-20240229"
	modelClaudeHaiku = "claude-3-haiku-20240307"
)

// kioskCommands is the allow-list for kiosk sessions. Plugin commands
// marked kiosk-available extend it.
var kioskCommands = map[string]bool{
	"/start":  true,
	"/help":   true,
	"/clear":  true,
	"/status": true,
	"/format": true,
}

var validModalities = map[string]bool{"auto": true, "text": true, "image": true, "text+image": true}
var validRatios = map[string]bool{"1:1": true, "16:9": true, "9:16": true, "4:3": true, "3:4": true}
var validSizes = map[string]bool{"SD": true, "HD": true, "4K": true}

// splitCommand returns the slash command and its arguments, or "" when the
// text is not a command. A "/cmd@botname" suffix is kept for the caller to
// strip.
func splitCommand(text string) (cmd, args string) {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "/") {
		return "", ""
	}
	if i := strings.IndexAny(text, " \n\t"); i > 0 {
		return text[:i], strings.TrimSpace(text[i+1:])
	}
	return text, ""
}

func normalizeCommand(cmd, botUsername string) string {
	cmd = strings.ToLower(strings.TrimSpace(cmd))
	if botUsername != "" {
		cmd = strings.TrimSuffix(cmd, "@"+strings.ToLower(botUsername))
	}
	return cmd
}

type sessionView struct {
	Model      string
	Profile    string
	MaxRounds  int
	Turns      int
	TokensUsed int
	Format     session.FormatPrefs
	Kiosk      bool
}

func (l *Loop) viewSession(chatID int64) sessionView {
	var v sessionView
	l.opts.Store.Do(chatID, func(sess *session.Session) {
		v = sessionView{
			Model:      sess.Model,
			Profile:    sess.Profile,
			MaxRounds:  sess.MaxRounds,
			Turns:      sess.NonSystemLen(),
			TokensUsed: sess.TokensUsed,
			Format:     sess.Format,
			Kiosk:      sess.Kiosk,
		}
	})
	return v
}

func (l *Loop) handleCommand(ctx context.Context, chatID int64, rawCmd, args, botUsername string) string {
	cmd := normalizeCommand(rawCmd, botUsername)
	view := l.viewSession(chatID)

	if view.Kiosk && !kioskCommands[cmd] {
		if reply, handled := l.pluginCommand(chatID, cmd, args, view); handled {
			return reply
		}
		return "This command is not available in kiosk mode."
	}

	switch cmd {
	case "/start":
		return l.helpText(view)
	case "/help":
		return l.helpText(view)
	case "/clear":
		l.opts.Store.Do(chatID, func(sess *session.Session) { sess.Clear() })
		return "Context cleared"
	case "/status":
		return l.statusText(view)
	case "/maxrounds":
		return l.setMaxRounds(chatID, args, view)
	case "/gpt3":
		return l.setModel(chatID, modelGPT3)
	case "/gpt4":
		return l.setModel(chatID, modelGPT4)
	case "/claud3opus":
		return l.setModel(chatID, modelClaudeOpus)
	case "/claud3haiku":
		return l.setModel(chatID, modelClaudeHaiku)
	case "/groq":
		if args == "" {
			return "Please specify a model name after the command"
		}
		return l.setModel(chatID, "groq:"+args)
	case "/openrouter":
		if args == "" {
			return "Please specify a model name after the command"
		}
		id := strings.Fields(args)[0]
		ok, err := l.opts.Registry.OpenRouter.HasModel(ctx, id)
		if err != nil {
			return "error: could not fetch the model list: " + err.Error()
		}
		if !ok {
			return fmt.Sprintf("Model name %s not found in list of models", id)
		}
		return l.setModel(chatID, "openrouter:"+id)
	case "/listopenroutermodels":
		msg, err := l.opts.Registry.OpenRouter.CatalogMessage(ctx)
		if err != nil {
			return "error: could not fetch the model list: " + err.Error()
		}
		return msg
	case "/format":
		return l.setFormat(chatID, args, view)
	case "/profiles":
		return l.listProfiles()
	case "/profile":
		return l.switchProfile(chatID, args)
	}

	if reply, handled := l.pluginCommand(chatID, cmd, args, view); handled {
		return reply
	}
	return "Unknown command. Use /help to list available commands."
}

func (l *Loop) pluginCommand(chatID int64, cmd, args string, view sessionView) (string, bool) {
	hc := plugin.Context{
		ChatID: chatID,
		Model:  view.Model,
		Kiosk:  view.Kiosk,
		Ask:    l.opts.Pipe.Ask,
	}
	return l.opts.Plugins.HandleCommand(cmd, args, view.Kiosk, hc)
}

func (l *Loop) helpText(view sessionView) string {
	var b strings.Builder
	b.WriteString("Commands:\n")
	b.WriteString("/help - this help message\n")
	b.WriteString("/clear - clear the context\n")
	b.WriteString("/status - get the chatbot status, current model, current max rounds, current conversation length\n")
	b.WriteString("/format [modality [ratio [size]]] - set the response format preferences\n")
	if !view.Kiosk {
		b.WriteString("/maxrounds <n> - set the max rounds of conversation\n")
		b.WriteString("/gpt3 - set the model to " + modelGPT3 + "\n")
		b.WriteString("/gpt4 - set the model to " + modelGPT4 + "\n")
		b.WriteString("/claud3opus - set the model to Claud 3 Opus\n")
		b.WriteString("/claud3haiku - set the model to Claud 3 Haiku\n")
		b.WriteString("/groq <model id> - set the model to a Groq-hosted model\n")
		b.WriteString("/listopenroutermodels - list all openrouter models\n")
		b.WriteString("/openrouter <model id> - set the model to the model with the given id\n")
		b.WriteString("/profiles - list available profiles\n")
		b.WriteString("/profile <name>|off - switch to a persona profile\n")
	}
	for _, c := range l.opts.Plugins.Commands(view.Kiosk) {
		desc := c.Description
		if desc == "" {
			desc = "plugin command"
		}
		b.WriteString("/" + strings.TrimPrefix(c.Name, "/") + " - " + desc + "\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

func (l *Loop) statusText(view sessionView) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Model: %s\n", view.Model)
	if view.Profile != "" {
		fmt.Fprintf(&b, "Profile: %s\n", view.Profile)
	}
	fmt.Fprintf(&b, "Max rounds: %d\n", view.MaxRounds)
	fmt.Fprintf(&b, "Conversation length: %d\n", view.Turns)
	fmt.Fprintf(&b, "Tokens used: %d\n", view.TokensUsed)
	fmt.Fprintf(&b, "Format: modalities=%s ratio=%s size=%s\n", view.Format.Modalities, view.Format.AspectRatio, view.Format.ImageSize)
	if view.Kiosk {
		b.WriteString("Kiosk mode: on\n")
	}
	if l.opts.Plugins.Loaded() {
		h := l.opts.Plugins.Health()
		state := "healthy"
		if !h.Enabled {
			state = "disabled"
		}
		fmt.Fprintf(&b, "Plugin: %s (failures: %d)\n", state, h.FailureCount)
	}
	return strings.TrimRight(b.String(), "\n")
}

func (l *Loop) setMaxRounds(chatID int64, args string, view sessionView) string {
	if args == "" {
		return fmt.Sprintf("Max rounds is currently set to %d", view.MaxRounds)
	}
	n, err := strconv.Atoi(strings.Fields(args)[0])
	if err != nil || n < 1 {
		n = session.DefaultMaxRounds
	}
	l.opts.Store.Do(chatID, func(sess *session.Session) { sess.MaxRounds = n })
	return fmt.Sprintf("Max rounds set to %d", n)
}

func (l *Loop) setModel(chatID int64, model string) string {
	l.opts.Store.Do(chatID, func(sess *session.Session) { sess.Model = model })
	return "Model has been changed to " + model
}

func (l *Loop) setFormat(chatID int64, args string, view sessionView) string {
	if args == "" {
		return fmt.Sprintf("Format: modalities=%s ratio=%s size=%s\nUsage: /format [modality [ratio [size]]]\nModalities: auto, text, image, text+image\nRatios: 1:1, 16:9, 9:16, 4:3, 3:4\nSizes: SD, HD, 4K",
			view.Format.Modalities, view.Format.AspectRatio, view.Format.ImageSize)
	}
	fields := strings.Fields(args)
	prefs := view.Format

	modality := strings.ToLower(fields[0])
	if !validModalities[modality] {
		return fmt.Sprintf("Invalid modality %q. Valid: auto, text, image, text+image", fields[0])
	}
	prefs.Modalities = modality

	if len(fields) > 1 {
		if !validRatios[fields[1]] {
			return fmt.Sprintf("Invalid aspect ratio %q. Valid: 1:1, 16:9, 9:16, 4:3, 3:4", fields[1])
		}
		prefs.AspectRatio = fields[1]
	}
	if len(fields) > 2 {
		size := strings.ToUpper(fields[2])
		if !validSizes[size] {
			return fmt.Sprintf("Invalid size %q. Valid: SD, HD, 4K", fields[2])
		}
		prefs.ImageSize = size
	}

	l.opts.Store.Do(chatID, func(sess *session.Session) { sess.Format = prefs })
	return fmt.Sprintf("Format set: modalities=%s ratio=%s size=%s", prefs.Modalities, prefs.AspectRatio, prefs.ImageSize)
}

func (l *Loop) listProfiles() string {
	names, err := l.opts.Profiles.List()
	if err != nil {
		return "error: could not list profiles: " + err.Error()
	}
	if len(names) == 0 {
		return "No profiles available"
	}
	sort.Strings(names)
	return "Available profiles:\n" + strings.Join(names, "\n")
}

func (l *Loop) switchProfile(chatID int64, args string) string {
	name := strings.TrimSpace(args)
	if name == "" {
		return "Usage: /profile <name> or /profile off"
	}
	if strings.EqualFold(name, "off") {
		l.opts.Store.Do(chatID, func(sess *session.Session) {
			l.opts.Profiles.Deactivate(sess)
		})
		return "Profile deactivated"
	}
	p, err := l.opts.Profiles.Load(name)
	if err != nil {
		return "error: could not load profile " + name + ": " + err.Error()
	}
	var greeting string
	l.opts.Store.Do(chatID, func(sess *session.Session) {
		greeting = profile.Activate(sess, p)
	})
	if greeting == "" {
		greeting = "Profile " + name + " activated"
	}
	return greeting
}

// Package session holds per-chat conversation state. Everything lives in
// memory for the process lifetime; that is deliberate, not an oversight.
package session

import (
	"sync"
	"time"

	"github.com/raymondclowe/aitgbot/llm"
)

const DefaultMaxRounds = 4

type FormatPrefs struct {
	Modalities  string
	AspectRatio string
	ImageSize   string
}

// Session is the mutable state for one chat. All access goes through
// Store.Do, which serializes mutation per chat id.
type Session struct {
	ChatID     int64
	History    []llm.Turn
	Model      string
	Profile    string
	MaxRounds  int
	TokensUsed int
	Format     FormatPrefs
	Kiosk      bool

	// Meta is owned by the plugin host; nothing else reads or writes it.
	Meta map[string]any

	LastActive time.Time

	mu sync.Mutex
}

type Options struct {
	DefaultModel string
	MaxRounds    int
	Kiosk        bool

	// OnCreate runs inside the new session's lock, before the creating
	// caller's function.
	OnCreate func(*Session)
}

type Store struct {
	mu       sync.Mutex
	sessions map[int64]*Session
	opts     Options
}

func NewStore(opts Options) *Store {
	if opts.MaxRounds <= 0 {
		opts.MaxRounds = DefaultMaxRounds
	}
	return &Store{
		sessions: make(map[int64]*Session),
		opts:     opts,
	}
}

// Do runs fn with exclusive access to the chat's session, creating it on
// first use. Different chats proceed concurrently; calls for the same chat
// queue in arrival order.
func (s *Store) Do(chatID int64, fn func(*Session)) {
	s.mu.Lock()
	sess, ok := s.sessions[chatID]
	if !ok {
		sess = &Session{
			ChatID:    chatID,
			Model:     s.opts.DefaultModel,
			MaxRounds: s.opts.MaxRounds,
			Kiosk:     s.opts.Kiosk,
			Format:    FormatPrefs{Modalities: "auto"},
			Meta:      make(map[string]any),
		}
		s.sessions[chatID] = sess
	}
	s.mu.Unlock()

	sess.mu.Lock()
	defer sess.mu.Unlock()
	if !ok && s.opts.OnCreate != nil {
		s.opts.OnCreate(sess)
	}
	fn(sess)
}

// Append adds a turn and trims: at most 2*MaxRounds non-system turns are
// kept, oldest rounds evicted first. The system turn at index 0 is pinned.
func (sess *Session) Append(turn llm.Turn) {
	sess.History = append(sess.History, turn)
	sess.trim()
}

func (sess *Session) trim() {
	maxTurns := sess.MaxRounds * 2
	if maxTurns <= 0 {
		return
	}
	sysIdx := -1
	if len(sess.History) > 0 && sess.History[0].Role == llm.RoleSystem {
		sysIdx = 0
	}
	nonSystem := len(sess.History)
	if sysIdx == 0 {
		nonSystem--
	}
	excess := nonSystem - maxTurns
	if excess <= 0 {
		return
	}
	// Evict whole user/assistant rounds; the surviving history always
	// opens with a user turn, which Anthropic requires.
	if excess%2 == 1 {
		excess++
	}
	if sysIdx == 0 {
		sess.History = append(sess.History[:1], sess.History[1+excess:]...)
	} else {
		sess.History = sess.History[excess:]
	}
}

// DropLast removes the most recent turn. The pipeline uses it to roll back
// the user turn when the provider call fails, so history never holds an
// unpaired turn.
func (sess *Session) DropLast() {
	if n := len(sess.History); n > 0 {
		sess.History = sess.History[:n-1]
	}
}

// Clear wipes all turns except the pinned system turn. Model and profile
// selection survive a clear.
func (sess *Session) Clear() {
	if len(sess.History) > 0 && sess.History[0].Role == llm.RoleSystem {
		sess.History = sess.History[:1]
		return
	}
	sess.History = nil
}

// ReplaceSystemPrompt replaces or inserts the pinned system turn. An empty
// text removes it.
func (sess *Session) ReplaceSystemPrompt(text string) {
	hasSystem := len(sess.History) > 0 && sess.History[0].Role == llm.RoleSystem
	switch {
	case text == "" && hasSystem:
		sess.History = sess.History[1:]
	case text == "":
	case hasSystem:
		sess.History[0].Text = text
	default:
		sess.History = append([]llm.Turn{{Role: llm.RoleSystem, Text: text}}, sess.History...)
	}
}

// SystemPrompt returns the pinned system turn's text, if any.
func (sess *Session) SystemPrompt() (string, bool) {
	if len(sess.History) > 0 && sess.History[0].Role == llm.RoleSystem {
		return sess.History[0].Text, true
	}
	return "", false
}

// TouchExpired records activity at now and reports whether the gap since
// the previous activity exceeded timeout. A zero timeout never expires.
func (sess *Session) TouchExpired(now time.Time, timeout time.Duration) bool {
	last := sess.LastActive
	sess.LastActive = now
	if timeout <= 0 || last.IsZero() {
		return false
	}
	return now.Sub(last) > timeout
}

// NonSystemLen counts turns excluding the pinned system turn.
func (sess *Session) NonSystemLen() int {
	n := len(sess.History)
	if n > 0 && sess.History[0].Role == llm.RoleSystem {
		n--
	}
	return n
}

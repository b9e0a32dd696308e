// Package profile loads persona definitions: plain-text files where line 1
// is the model id, line 2 the greeting, and the remaining lines the system
// prompt.
package profile

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/raymondclowe/aitgbot/session"
)

const fileExt = ".profile"

var (
	ErrNotFound  = errors.New("profile not found")
	ErrMalformed = errors.New("profile malformed")
)

type Profile struct {
	Name         string
	Model        string
	Greeting     string
	SystemPrompt string
}

type Loader struct {
	Dir string

	// Defaults restored by Deactivate.
	DefaultModel        string
	DefaultSystemPrompt string
}

func NewLoader(dir, defaultModel, defaultSystemPrompt string) *Loader {
	return &Loader{
		Dir:                 dir,
		DefaultModel:        defaultModel,
		DefaultSystemPrompt: defaultSystemPrompt,
	}
}

// Load reads and validates one persona definition by name.
func (l *Loader) Load(name string) (*Profile, error) {
	name = strings.TrimSpace(name)
	if name == "" || name != filepath.Base(name) {
		return nil, fmt.Errorf("%w: %q", ErrNotFound, name)
	}
	raw, err := os.ReadFile(filepath.Join(l.Dir, name+fileExt))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %q", ErrNotFound, name)
		}
		return nil, err
	}
	return Parse(name, string(raw))
}

// Parse validates the positional line format. Fewer than 3 non-empty lines
// is a malformed profile.
func Parse(name, raw string) (*Profile, error) {
	lines := strings.Split(strings.ReplaceAll(raw, "\r\n", "\n"), "\n")
	nonEmpty := make([]string, 0, len(lines))
	for _, ln := range lines {
		if strings.TrimSpace(ln) != "" {
			nonEmpty = append(nonEmpty, ln)
		}
	}
	if len(nonEmpty) < 3 {
		return nil, fmt.Errorf("%w: %q needs at least 3 non-empty lines (model, greeting, prompt), got %d", ErrMalformed, name, len(nonEmpty))
	}
	return &Profile{
		Name:         name,
		Model:        strings.TrimSpace(nonEmpty[0]),
		Greeting:     strings.TrimSpace(nonEmpty[1]),
		SystemPrompt: strings.TrimSpace(strings.Join(nonEmpty[2:], "\n")),
	}, nil
}

// List rescans the profile directory. The catalog is assumed small, so no
// caching; results are sorted for determinism.
func (l *Loader) List() ([]string, error) {
	entries, err := os.ReadDir(l.Dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), fileExt) {
			continue
		}
		names = append(names, strings.TrimSuffix(e.Name(), fileExt))
	}
	sort.Strings(names)
	return names, nil
}

// Activate applies the persona to a session: the system prompt replaces the
// pinned turn, non-system history is wiped, and the profile's model becomes
// active. Returns the greeting for the caller to deliver.
func Activate(sess *session.Session, p *Profile) string {
	sess.ReplaceSystemPrompt(p.SystemPrompt)
	sess.Clear()
	sess.Model = p.Model
	sess.Profile = p.Name
	return p.Greeting
}

// Deactivate clears the active persona and restores defaults.
func (l *Loader) Deactivate(sess *session.Session) {
	sess.Profile = ""
	sess.Model = l.DefaultModel
	sess.ReplaceSystemPrompt(l.DefaultSystemPrompt)
	sess.Clear()
}

// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/jeranaias/nebot/internal/util"
)

// =============================================================================
// SETTINGS
// =============================================================================

// DefaultSystemPrompt is the persona used when settings carry none.
const DefaultSystemPrompt = "You are Nebot, the embedded chat assistant inside the Nebula browser. " +
	"Be friendly, confident, and a bit playful. Prefer clear, descriptive answers with brief reasoning " +
	"when helpful, and include short examples when it aids understanding. Keep responses concise by " +
	"default; expand only if asked. Stay safe and do not claim capabilities you lack."

// Typing speed bounds in characters per second.
const (
	DefaultTypingSpeed = 40
	MinTypingSpeed     = 1
	MaxTypingSpeed     = 1000
)

// SettingsFile is the settings file name inside the data directory.
const SettingsFile = "settings.json"

// Settings are the user-editable chat settings.
type Settings struct {
	OllamaBaseURL string `json:"ollamaBaseUrl"`
	Model         string `json:"model"`
	SystemPrompt  string `json:"systemPrompt"`
	TypingEnabled bool   `json:"typingEnabled"`
	TypingSpeed   int    `json:"typingSpeed"`
}

// SettingsPatch is a partial update. Nil fields are left unchanged.
type SettingsPatch struct {
	OllamaBaseURL *string `json:"ollamaBaseUrl,omitempty"`
	Model         *string `json:"model,omitempty"`
	SystemPrompt  *string `json:"systemPrompt,omitempty"`
	TypingEnabled *bool   `json:"typingEnabled,omitempty"`
	TypingSpeed   *int    `json:"typingSpeed,omitempty"`
}

// DefaultSettings returns the defaults for the given model.
func DefaultSettings(model string) Settings {
	return Settings{
		OllamaBaseURL: DefaultOllamaURL,
		Model:         model,
		SystemPrompt:  DefaultSystemPrompt,
		TypingEnabled: true,
		TypingSpeed:   DefaultTypingSpeed,
	}
}

// apply merges p into s.
func (s Settings) apply(p SettingsPatch) Settings {
	if p.OllamaBaseURL != nil {
		s.OllamaBaseURL = *p.OllamaBaseURL
	}
	if p.Model != nil {
		s.Model = *p.Model
	}
	if p.SystemPrompt != nil {
		s.SystemPrompt = *p.SystemPrompt
	}
	if p.TypingEnabled != nil {
		s.TypingEnabled = *p.TypingEnabled
	}
	if p.TypingSpeed != nil {
		s.TypingSpeed = *p.TypingSpeed
	}
	return s
}

// normalize fills blanks from defaults and clamps the typing speed.
func (s Settings) normalize(defaults Settings) Settings {
	s.OllamaBaseURL = strings.TrimRight(strings.TrimSpace(s.OllamaBaseURL), "/")
	if s.OllamaBaseURL == "" {
		s.OllamaBaseURL = defaults.OllamaBaseURL
	}
	if strings.TrimSpace(s.SystemPrompt) == "" {
		s.SystemPrompt = defaults.SystemPrompt
	}
	switch {
	case s.TypingSpeed == 0:
		s.TypingSpeed = defaults.TypingSpeed
	case s.TypingSpeed < MinTypingSpeed:
		s.TypingSpeed = MinTypingSpeed
	case s.TypingSpeed > MaxTypingSpeed:
		s.TypingSpeed = MaxTypingSpeed
	}
	s.Model = defaults.Model
	return s
}

// =============================================================================
// SETTINGS STORE
// =============================================================================

// SettingsStore persists Settings as JSON. The model is always forced to
// the configured one, whatever the file says.
type SettingsStore struct {
	path     string
	defaults Settings
	logger   zerolog.Logger

	mu      sync.RWMutex
	current Settings
	loaded  bool
}

// NewSettingsStore returns a store for <dataDir>/settings.json. A blank
// model or URL in defaults falls back to the built-in one.
func NewSettingsStore(dataDir string, defaults Settings, logger zerolog.Logger) *SettingsStore {
	if defaults.Model == "" {
		defaults.Model = DefaultModel
	}
	if defaults.OllamaBaseURL == "" {
		defaults.OllamaBaseURL = DefaultOllamaURL
	}
	return &SettingsStore{
		path:     filepath.Join(dataDir, SettingsFile),
		defaults: defaults,
		logger:   logger.With().Str("component", "settings").Logger(),
	}
}

// Path returns the settings file path.
func (s *SettingsStore) Path() string {
	return s.path
}

// Load reads the settings file, writing the defaults when it is missing.
// An unreadable file yields the defaults.
func (s *SettingsStore) Load() (Settings, error) {
	settings, err := s.read()
	if err != nil {
		return Settings{}, err
	}
	s.mu.Lock()
	s.current = settings
	s.loaded = true
	s.mu.Unlock()
	return settings, nil
}

func (s *SettingsStore) read() (Settings, error) {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		if err := util.WriteJSONAtomic(s.path, s.defaults, 0o600); err != nil {
			return Settings{}, errors.Wrap(err, "write default settings")
		}
		return s.defaults, nil
	}
	if err != nil {
		return Settings{}, errors.Wrap(err, "read settings")
	}

	settings := s.defaults
	if err := json.Unmarshal(data, &settings); err != nil {
		s.logger.Warn().Err(err).Str("path", s.path).Msg("settings file is not valid JSON, using defaults")
		return s.defaults, nil
	}
	return settings.normalize(s.defaults), nil
}

// Get returns the cached settings, loading them on first use.
func (s *SettingsStore) Get() Settings {
	s.mu.RLock()
	if s.loaded {
		defer s.mu.RUnlock()
		return s.current
	}
	s.mu.RUnlock()

	settings, err := s.Load()
	if err != nil {
		s.logger.Warn().Err(err).Msg("load settings")
		return s.defaults
	}
	return settings
}

// SystemPrompt returns the current system prompt.
func (s *SettingsStore) SystemPrompt() string {
	return s.Get().SystemPrompt
}

// Save merges patch into the current settings and writes them atomically.
func (s *SettingsStore) Save(patch SettingsPatch) (Settings, error) {
	current := s.Get()

	s.mu.Lock()
	defer s.mu.Unlock()

	next := current.apply(patch).normalize(s.defaults)
	if err := util.WriteJSONAtomic(s.path, next, 0o600); err != nil {
		return Settings{}, errors.Wrap(err, "save settings")
	}
	s.current = next
	s.loaded = true
	return next, nil
}

// =============================================================================
// WATCH
// =============================================================================

const watchDebounce = 100 * time.Millisecond

// Watch reloads the settings whenever the file changes on disk and calls
// onChange with the result. It blocks until ctx ends.
func (s *SettingsStore) Watch(ctx context.Context, onChange func(Settings)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return errors.Wrap(err, "create settings watcher")
	}
	defer watcher.Close()

	// The directory is watched because atomic saves replace the file.
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.Wrap(err, "create settings directory")
	}
	if err := watcher.Add(dir); err != nil {
		return errors.Wrapf(err, "watch %s", dir)
	}

	name := filepath.Base(s.path)
	var debounce *time.Timer
	var fire <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			if debounce != nil {
				debounce.Stop()
			}
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Base(event.Name) != name {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			if debounce == nil {
				debounce = time.NewTimer(watchDebounce)
			} else {
				if !debounce.Stop() {
					select {
					case <-debounce.C:
					default:
					}
				}
				debounce.Reset(watchDebounce)
			}
			fire = debounce.C

		case <-fire:
			fire = nil
			settings, err := s.Load()
			if err != nil {
				s.logger.Warn().Err(err).Msg("reload settings")
				continue
			}
			s.logger.Debug().Msg("settings reloaded")
			if onChange != nil {
				onChange(settings)
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			s.logger.Debug().Err(err).Msg("settings watcher error")
		}
	}
}

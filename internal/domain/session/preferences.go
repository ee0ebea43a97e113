package session

import (
	"context"
	"errors"
	"strings"

	"github.com/example/artisanhub/internal/storage"
)

// MaxSearchHistory bounds Preferences.SearchHistory
const MaxSearchHistory = 20

// Preferences is the session-scoped bag of search history and UI settings
type Preferences struct {
	SearchHistory []string          `json:"searchHistory"`
	UI            map[string]string `json:"ui"`
}

func newPreferences() Preferences {
	return Preferences{SearchHistory: []string{}, UI: map[string]string{}}
}

func (p *Preferences) Validate() error {
	if len(p.SearchHistory) > MaxSearchHistory {
		return errors.New("search history exceeds limit")
	}
	return nil
}

func (p Preferences) clone() Preferences {
	out := Preferences{
		SearchHistory: append([]string{}, p.SearchHistory...),
		UI:            make(map[string]string, len(p.UI)),
	}
	for k, v := range p.UI {
		out.UI[k] = v
	}
	return out
}

// Preferences returns a copy of the current preferences
func (s *Store) Preferences() Preferences {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.prefs.clone()
}

// RecordSearch moves term to the front of the search history
func (s *Store) RecordSearch(ctx context.Context, term string) error {
	term = strings.TrimSpace(term)
	if term == "" {
		return nil
	}

	s.mu.Lock()
	history := []string{term}
	for _, t := range s.prefs.SearchHistory {
		if !strings.EqualFold(t, term) {
			history = append(history, t)
		}
	}
	if len(history) > MaxSearchHistory {
		history = history[:MaxSearchHistory]
	}
	s.prefs.SearchHistory = history
	prefs := s.prefs.clone()
	s.mu.Unlock()

	return storage.SetJSON(ctx, s.longLived, storage.KeyPreferences, prefs)
}

// SetPreference stores a UI setting. An empty value deletes it.
func (s *Store) SetPreference(ctx context.Context, key, value string) error {
	s.mu.Lock()
	if value == "" {
		delete(s.prefs.UI, key)
	} else {
		s.prefs.UI[key] = value
	}
	prefs := s.prefs.clone()
	s.mu.Unlock()

	return storage.SetJSON(ctx, s.longLived, storage.KeyPreferences, prefs)
}

func (s *Store) readPreferences(ctx context.Context) Preferences {
	prefs := newPreferences()
	ok, err := storage.GetJSON(ctx, s.longLived, storage.KeyPreferences, &prefs)
	if errors.Is(err, storage.ErrCorrupt) {
		s.logger.Warn().Err(err).Msg("stored preferences are corrupt, resetting")
		if err := s.longLived.Remove(ctx, storage.KeyPreferences); err != nil {
			s.logger.Warn().Err(err).Msg("failed to clear preferences")
		}
		return newPreferences()
	}
	if err != nil {
		s.logger.Warn().Err(err).Msg("failed to read preferences")
		return newPreferences()
	}
	if !ok {
		return newPreferences()
	}
	if prefs.UI == nil {
		prefs.UI = map[string]string{}
	}
	if prefs.SearchHistory == nil {
		prefs.SearchHistory = []string{}
	}
	return prefs
}

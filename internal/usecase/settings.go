package usecase

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/rs/zerolog"

	"talkpaste/internal/domain"
	"talkpaste/internal/ports"
)

// loadFallbackProvider replaces an empty or unrecognised provider read from
// the store. First launch and reset use domain.DefaultSettings instead.
const loadFallbackProvider = domain.ProviderGroq

// SettingsSynchronizer caches the backend's settings, dictionary and history.
// Local state changes only after the backend confirms a write.
type SettingsSynchronizer struct {
	settings   ports.SettingsStore
	dictionary ports.DictionaryStore
	history    ports.HistoryStore
	logger     zerolog.Logger

	// writeMu serializes mutations so merge-then-persist is atomic.
	writeMu sync.Mutex

	mu      sync.RWMutex
	current domain.Settings
	entries []domain.DictionaryEntry
	past    []domain.HistoryEntry
	loading bool
}

func NewSettingsSynchronizer(
	settings ports.SettingsStore,
	dictionary ports.DictionaryStore,
	history ports.HistoryStore,
	logger zerolog.Logger,
) *SettingsSynchronizer {
	return &SettingsSynchronizer{
		settings:   settings,
		dictionary: dictionary,
		history:    history,
		logger:     logger.With().Str("component", "settings").Logger(),
		current:    domain.DefaultSettings(),
	}
}

// LoadSettings refreshes settings from the store. On failure the previous
// local values are kept. Loads are serialized with writes so a slow read
// never overwrites a newer save.
func (s *SettingsSynchronizer) LoadSettings(ctx context.Context) domain.Settings {
	s.setLoading(true)
	defer s.setLoading(false)

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	remote, err := s.settings.GetSettings(ctx)
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to load settings")
		return s.Settings()
	}

	if remote.Shortcut == "" {
		remote.Shortcut = domain.DefaultShortcut
	}
	if !remote.TranscriptionProvider.Valid() {
		if remote.TranscriptionProvider != "" {
			s.logger.Warn().Str("provider", string(remote.TranscriptionProvider)).Msg("unknown transcription provider in store")
		}
		remote.TranscriptionProvider = loadFallbackProvider
	}

	s.mu.Lock()
	s.current = remote
	s.mu.Unlock()
	return remote
}

// SaveSettings merges patch onto the full local settings and persists the
// complete document. Local state is untouched when the store rejects it.
func (s *SettingsSynchronizer) SaveSettings(ctx context.Context, patch domain.SettingsPatch) (domain.Settings, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if p := patch.TranscriptionProvider; p != nil && !p.Valid() {
		return domain.Settings{}, fmt.Errorf("unknown transcription provider %q", *p)
	}
	next := patch.Apply(s.Settings())
	if err := s.settings.SetSettings(ctx, next); err != nil {
		s.logger.Error().Err(err).Msg("failed to save settings")
		return domain.Settings{}, err
	}

	s.mu.Lock()
	s.current = next
	s.mu.Unlock()
	return next, nil
}

// ResetSettings resets the store and then the local copy to defaults.
func (s *SettingsSynchronizer) ResetSettings(ctx context.Context) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if err := s.settings.ResetSettings(ctx); err != nil {
		s.logger.Error().Err(err).Msg("failed to reset settings")
		return err
	}

	s.mu.Lock()
	s.current = domain.DefaultSettings()
	s.mu.Unlock()
	return nil
}

// LoadDictionary refreshes the dictionary; a failed read yields an empty list.
func (s *SettingsSynchronizer) LoadDictionary(ctx context.Context) []domain.DictionaryEntry {
	entries, err := s.dictionary.GetDictionary(ctx)
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to load dictionary")
		entries = nil
	}

	s.mu.Lock()
	s.entries = slices.Clone(entries)
	s.mu.Unlock()
	return s.Dictionary()
}

// DeleteEntry removes the entry keyed by original once the store confirms.
func (s *SettingsSynchronizer) DeleteEntry(ctx context.Context, original string) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if err := s.dictionary.DeleteDictionaryEntry(ctx, original); err != nil {
		s.logger.Error().Err(err).Str("original", original).Msg("failed to delete dictionary entry")
		return err
	}

	s.mu.Lock()
	s.entries = slices.DeleteFunc(s.entries, func(e domain.DictionaryEntry) bool {
		return e.Original == original
	})
	s.mu.Unlock()
	return nil
}

// ClearDictionary empties the dictionary once the store confirms.
func (s *SettingsSynchronizer) ClearDictionary(ctx context.Context) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if err := s.dictionary.ClearDictionary(ctx); err != nil {
		s.logger.Error().Err(err).Msg("failed to clear dictionary")
		return err
	}

	s.mu.Lock()
	s.entries = nil
	s.mu.Unlock()
	return nil
}

// LoadHistory refreshes history, newest first; a failed read yields an
// empty list.
func (s *SettingsSynchronizer) LoadHistory(ctx context.Context) []domain.HistoryEntry {
	entries, err := s.history.GetHistory(ctx)
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to load history")
		entries = nil
	}

	entries = slices.Clone(entries)
	slices.SortStableFunc(entries, func(a, b domain.HistoryEntry) int {
		switch {
		case a.Timestamp > b.Timestamp:
			return -1
		case a.Timestamp < b.Timestamp:
			return 1
		default:
			return 0
		}
	})

	s.mu.Lock()
	s.past = entries
	s.mu.Unlock()
	return s.History()
}

// ClearHistory empties history once the store confirms.
func (s *SettingsSynchronizer) ClearHistory(ctx context.Context) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if err := s.history.ClearHistory(ctx); err != nil {
		s.logger.Error().Err(err).Msg("failed to clear history")
		return err
	}

	s.mu.Lock()
	s.past = nil
	s.mu.Unlock()
	return nil
}

func (s *SettingsSynchronizer) Settings() domain.Settings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

func (s *SettingsSynchronizer) Dictionary() []domain.DictionaryEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return cloneOrEmpty(s.entries)
}

func (s *SettingsSynchronizer) History() []domain.HistoryEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return cloneOrEmpty(s.past)
}

// Loading reports whether a settings load is in flight.
func (s *SettingsSynchronizer) Loading() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.loading
}

func (s *SettingsSynchronizer) setLoading(loading bool) {
	s.mu.Lock()
	s.loading = loading
	s.mu.Unlock()
}

// cloneOrEmpty never returns nil so the UI always renders a list.
func cloneOrEmpty[T any](in []T) []T {
	out := make([]T, len(in))
	copy(out, in)
	return out
}

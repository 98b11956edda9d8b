package usecase

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"talkpaste/internal/domain"
)

func TestSettingsSynchronizerSaveMergesFullDocument(t *testing.T) {
	t.Parallel()

	store := &fakeStore{settings: domain.Settings{
		AIPolishEnabled:       true,
		Shortcut:              "Alt+Space",
		TranscriptionProvider: domain.ProviderGroq,
	}}
	synchronizer := newTestSynchronizer(store)
	synchronizer.LoadSettings(context.Background())

	shortcut := "Ctrl+Shift+D"
	got, err := synchronizer.SaveSettings(context.Background(), domain.SettingsPatch{Shortcut: &shortcut})
	if err != nil {
		t.Fatalf("save failed: %v", err)
	}

	want := domain.Settings{
		AIPolishEnabled:       true,
		Shortcut:              "Ctrl+Shift+D",
		TranscriptionProvider: domain.ProviderGroq,
	}
	if got != want {
		t.Fatalf("unexpected result: %+v", got)
	}
	if written := store.lastWritten(); written != want {
		t.Fatalf("store must receive the complete document, got %+v", written)
	}
	if synchronizer.Settings() != want {
		t.Fatalf("local settings not updated: %+v", synchronizer.Settings())
	}
}

func TestSettingsSynchronizerSaveFailureKeepsLocalState(t *testing.T) {
	t.Parallel()

	store := &fakeStore{settings: domain.DefaultSettings()}
	synchronizer := newTestSynchronizer(store)
	synchronizer.LoadSettings(context.Background())
	store.fail("set_settings", errors.New("disk full"))

	enabled := false
	if _, err := synchronizer.SaveSettings(context.Background(), domain.SettingsPatch{AIPolishEnabled: &enabled}); err == nil {
		t.Fatalf("expected save error")
	}
	if !synchronizer.Settings().AIPolishEnabled {
		t.Fatalf("local state must be unchanged after a failed save")
	}
}

func TestSettingsSynchronizerRejectsUnknownProvider(t *testing.T) {
	t.Parallel()

	store := &fakeStore{settings: domain.DefaultSettings()}
	synchronizer := newTestSynchronizer(store)

	provider := domain.TranscriptionProvider("whisper-local")
	if _, err := synchronizer.SaveSettings(context.Background(), domain.SettingsPatch{TranscriptionProvider: &provider}); err == nil {
		t.Fatalf("expected validation error")
	}
	if store.writes != 0 {
		t.Fatalf("invalid patch must not reach the store")
	}
}

func TestSettingsSynchronizerLoadFailureKeepsPrevious(t *testing.T) {
	t.Parallel()

	store := &fakeStore{settings: domain.Settings{Shortcut: "Ctrl+Space", TranscriptionProvider: domain.ProviderOpenAI}}
	synchronizer := newTestSynchronizer(store)
	synchronizer.LoadSettings(context.Background())

	store.fail("get_settings", errors.New("backend unavailable"))
	got := synchronizer.LoadSettings(context.Background())
	if got.Shortcut != "Ctrl+Space" || got.TranscriptionProvider != domain.ProviderOpenAI {
		t.Fatalf("expected previous settings, got %+v", got)
	}
	if synchronizer.Loading() {
		t.Fatalf("loading flag must clear after a failed load")
	}
}

func TestSettingsSynchronizerLoadFillsMissingFields(t *testing.T) {
	t.Parallel()

	store := &fakeStore{settings: domain.Settings{AIPolishEnabled: false}}
	synchronizer := newTestSynchronizer(store)

	got := synchronizer.LoadSettings(context.Background())
	if got.Shortcut != domain.DefaultShortcut || got.TranscriptionProvider != domain.ProviderGroq {
		t.Fatalf("expected fallbacks for empty fields, got %+v", got)
	}
	if got.AIPolishEnabled {
		t.Fatalf("explicit false must be kept")
	}
}

func TestSettingsSynchronizerLoadReplacesUnknownProvider(t *testing.T) {
	t.Parallel()

	store := &fakeStore{settings: domain.Settings{Shortcut: "F8", TranscriptionProvider: "whisper-local"}}
	synchronizer := newTestSynchronizer(store)

	got := synchronizer.LoadSettings(context.Background())
	if got.TranscriptionProvider != domain.ProviderGroq || got.Shortcut != "F8" {
		t.Fatalf("expected unknown provider replaced, got %+v", got)
	}
}

func TestSettingsSynchronizerSlowLoadDoesNotOverwriteSave(t *testing.T) {
	t.Parallel()

	store := &fakeStore{
		settings: domain.Settings{Shortcut: "F9", TranscriptionProvider: domain.ProviderOpenAI},
		getGate:  make(chan struct{}),
	}
	synchronizer := newTestSynchronizer(store)

	loaded := make(chan struct{})
	go func() {
		defer close(loaded)
		synchronizer.LoadSettings(context.Background())
	}()
	eventually(t, synchronizer.Loading)

	shortcut := "F10"
	saved := make(chan error, 1)
	go func() {
		_, err := synchronizer.SaveSettings(context.Background(), domain.SettingsPatch{Shortcut: &shortcut})
		saved <- err
	}()
	time.Sleep(20 * time.Millisecond)
	close(store.getGate)
	<-loaded
	if err := <-saved; err != nil {
		t.Fatalf("save failed: %v", err)
	}

	if got := synchronizer.Settings(); got.Shortcut != "F10" || got.TranscriptionProvider != domain.ProviderOpenAI {
		t.Fatalf("expected saved settings to win, got %+v", got)
	}
	if store.lastWritten().Shortcut != "F10" {
		t.Fatalf("unexpected stored settings: %+v", store.lastWritten())
	}
}

func TestSettingsSynchronizerLoadingFlag(t *testing.T) {
	t.Parallel()

	store := &fakeStore{settings: domain.DefaultSettings(), getGate: make(chan struct{})}
	synchronizer := newTestSynchronizer(store)

	done := make(chan struct{})
	go func() {
		defer close(done)
		synchronizer.LoadSettings(context.Background())
	}()

	eventually(t, synchronizer.Loading)
	close(store.getGate)
	<-done
	if synchronizer.Loading() {
		t.Fatalf("loading flag must clear after load")
	}
}

func TestSettingsSynchronizerReset(t *testing.T) {
	t.Parallel()

	store := &fakeStore{settings: domain.Settings{Shortcut: "F9", TranscriptionProvider: domain.ProviderGroq}}
	synchronizer := newTestSynchronizer(store)
	synchronizer.LoadSettings(context.Background())

	if err := synchronizer.ResetSettings(context.Background()); err != nil {
		t.Fatalf("reset failed: %v", err)
	}
	if synchronizer.Settings() != domain.DefaultSettings() {
		t.Fatalf("expected defaults, got %+v", synchronizer.Settings())
	}

	synchronizer.LoadSettings(context.Background())
	store.fail("reset_settings", errors.New("locked"))
	shortcut := "F10"
	if _, err := synchronizer.SaveSettings(context.Background(), domain.SettingsPatch{Shortcut: &shortcut}); err != nil {
		t.Fatalf("save failed: %v", err)
	}
	if err := synchronizer.ResetSettings(context.Background()); err == nil {
		t.Fatalf("expected reset error")
	}
	if synchronizer.Settings().Shortcut != "F10" {
		t.Fatalf("failed reset must keep local settings")
	}
}

func TestSettingsSynchronizerDictionary(t *testing.T) {
	t.Parallel()

	store := &fakeStore{dictionary: []domain.DictionaryEntry{
		{Original: "kubernetes", Correction: "Kubernetes", CreatedAt: 1},
		{Original: "postgres", Correction: "PostgreSQL", CreatedAt: 2},
	}}
	synchronizer := newTestSynchronizer(store)

	if got := synchronizer.LoadDictionary(context.Background()); len(got) != 2 {
		t.Fatalf("expected two entries, got %d", len(got))
	}

	if err := synchronizer.DeleteEntry(context.Background(), "kubernetes"); err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	entries := synchronizer.Dictionary()
	if len(entries) != 1 || entries[0].Original != "postgres" {
		t.Fatalf("expected only postgres to remain, got %+v", entries)
	}

	store.fail("delete_dictionary_entry", errors.New("not found"))
	if err := synchronizer.DeleteEntry(context.Background(), "postgres"); err == nil {
		t.Fatalf("expected delete error")
	}
	if len(synchronizer.Dictionary()) != 1 {
		t.Fatalf("failed delete must keep the entry")
	}

	if err := synchronizer.ClearDictionary(context.Background()); err != nil {
		t.Fatalf("clear failed: %v", err)
	}
	if got := synchronizer.Dictionary(); got == nil || len(got) != 0 {
		t.Fatalf("expected empty non-nil dictionary, got %#v", got)
	}
}

func TestSettingsSynchronizerListLoadFailureYieldsEmpty(t *testing.T) {
	t.Parallel()

	store := &fakeStore{
		dictionary: []domain.DictionaryEntry{{Original: "a", Correction: "b"}},
		history:    []domain.HistoryEntry{{Text: "hello", Timestamp: 10}},
	}
	synchronizer := newTestSynchronizer(store)
	synchronizer.LoadDictionary(context.Background())
	synchronizer.LoadHistory(context.Background())

	store.fail("get_dictionary", errors.New("corrupt"))
	store.fail("get_history", errors.New("corrupt"))

	if got := synchronizer.LoadDictionary(context.Background()); got == nil || len(got) != 0 {
		t.Fatalf("expected empty dictionary, got %#v", got)
	}
	if got := synchronizer.LoadHistory(context.Background()); got == nil || len(got) != 0 {
		t.Fatalf("expected empty history, got %#v", got)
	}
}

func TestSettingsSynchronizerHistoryNewestFirst(t *testing.T) {
	t.Parallel()

	raw := "uh hello world"
	store := &fakeStore{history: []domain.HistoryEntry{
		{Text: "first", Timestamp: 100},
		{Text: "third", Timestamp: 300, RawText: &raw},
		{Text: "second", Timestamp: 200},
	}}
	synchronizer := newTestSynchronizer(store)

	got := synchronizer.LoadHistory(context.Background())
	want := []string{"third", "second", "first"}
	if len(got) != len(want) {
		t.Fatalf("expected %d entries, got %d", len(want), len(got))
	}
	for i, text := range want {
		if got[i].Text != text {
			t.Fatalf("entry %d: got %q, want %q", i, got[i].Text, text)
		}
	}
	if got[0].RawText == nil || *got[0].RawText != raw {
		t.Fatalf("raw text must be preserved")
	}

	if err := synchronizer.ClearHistory(context.Background()); err != nil {
		t.Fatalf("clear failed: %v", err)
	}
	if len(synchronizer.History()) != 0 {
		t.Fatalf("expected empty history after clear")
	}
}

func TestSettingsSynchronizerClearHistoryFailure(t *testing.T) {
	t.Parallel()

	store := &fakeStore{history: []domain.HistoryEntry{{Text: "keep", Timestamp: 1}}}
	synchronizer := newTestSynchronizer(store)
	synchronizer.LoadHistory(context.Background())
	store.fail("clear_history", errors.New("readonly"))

	if err := synchronizer.ClearHistory(context.Background()); err == nil {
		t.Fatalf("expected clear error")
	}
	if len(synchronizer.History()) != 1 {
		t.Fatalf("failed clear must keep history")
	}
}

func TestSettingsSynchronizerClearDictionaryFailure(t *testing.T) {
	t.Parallel()

	store := &fakeStore{dictionary: []domain.DictionaryEntry{{Original: "kube", Correction: "Kube"}}}
	synchronizer := newTestSynchronizer(store)
	synchronizer.LoadDictionary(context.Background())
	store.fail("clear_dictionary", errors.New("readonly"))

	if err := synchronizer.ClearDictionary(context.Background()); err == nil {
		t.Fatalf("expected clear error")
	}
	if got := synchronizer.Dictionary(); len(got) != 1 || got[0].Original != "kube" {
		t.Fatalf("failed clear must keep dictionary, got %+v", got)
	}
}

func newTestSynchronizer(store *fakeStore) *SettingsSynchronizer {
	return NewSettingsSynchronizer(store, store, store, zerolog.Nop())
}

type fakeStore struct {
	mu         sync.Mutex
	settings   domain.Settings
	written    domain.Settings
	writes     int
	dictionary []domain.DictionaryEntry
	history    []domain.HistoryEntry
	errs       map[string]error
	getGate    chan struct{}
}

func (f *fakeStore) fail(op string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.errs == nil {
		f.errs = map[string]error{}
	}
	f.errs[op] = err
}

func (f *fakeStore) errFor(op string) error {
	if f.errs == nil {
		return nil
	}
	return f.errs[op]
}

func (f *fakeStore) lastWritten() domain.Settings {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.written
}

// GetSettings reads the document before waiting on getGate, like a reply
// that is slow to arrive.
func (f *fakeStore) GetSettings(_ context.Context) (domain.Settings, error) {
	f.mu.Lock()
	settings := f.settings
	err := f.errFor("get_settings")
	f.mu.Unlock()

	if f.getGate != nil {
		<-f.getGate
	}
	if err != nil {
		return domain.Settings{}, err
	}
	return settings, nil
}

func (f *fakeStore) SetSettings(_ context.Context, settings domain.Settings) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.errFor("set_settings"); err != nil {
		return err
	}
	f.writes++
	f.written = settings
	f.settings = settings
	return nil
}

func (f *fakeStore) ResetSettings(_ context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.errFor("reset_settings"); err != nil {
		return err
	}
	f.settings = domain.DefaultSettings()
	return nil
}

func (f *fakeStore) GetDictionary(_ context.Context) ([]domain.DictionaryEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.errFor("get_dictionary"); err != nil {
		return nil, err
	}
	return append([]domain.DictionaryEntry(nil), f.dictionary...), nil
}

func (f *fakeStore) DeleteDictionaryEntry(_ context.Context, original string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.errFor("delete_dictionary_entry"); err != nil {
		return err
	}
	kept := f.dictionary[:0]
	for _, entry := range f.dictionary {
		if entry.Original != original {
			kept = append(kept, entry)
		}
	}
	f.dictionary = kept
	return nil
}

func (f *fakeStore) ClearDictionary(_ context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.errFor("clear_dictionary"); err != nil {
		return err
	}
	f.dictionary = nil
	return nil
}

func (f *fakeStore) GetHistory(_ context.Context) ([]domain.HistoryEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.errFor("get_history"); err != nil {
		return nil, err
	}
	return append([]domain.HistoryEntry(nil), f.history...), nil
}

func (f *fakeStore) ClearHistory(_ context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.errFor("clear_history"); err != nil {
		return err
	}
	f.history = nil
	return nil
}

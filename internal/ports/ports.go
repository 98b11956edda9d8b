package ports

import (
	"context"

	"talkpaste/internal/domain"
)

// RecordingEvents delivers backend recording state changes in emission order.
// Cancelling ctx stops delivery without closing the channel; the channel is
// closed only when the transport ends, so consumers select on ctx as well.
type RecordingEvents interface {
	SubscribeRecordingState(ctx context.Context) (<-chan domain.RecordingState, error)
}

// ProgressEvents delivers transcription pipeline progress in emission order,
// with the same channel lifetime as RecordingEvents.
type ProgressEvents interface {
	SubscribeProgress(ctx context.Context) (<-chan domain.TranscriptionProgress, error)
}

// Recorder engages the microphone hardware.
type Recorder interface {
	Start(ctx context.Context) error
	// Stop ends capture and returns the location of the recorded audio.
	Stop(ctx context.Context) (string, error)
}

// Pipeline submits finished audio for transcription, polish and paste.
type Pipeline interface {
	ProcessAudio(ctx context.Context, location string) (string, error)
}

// BackendControl realigns the backend state machine after a discarded session.
type BackendControl interface {
	ResetToIdle(ctx context.Context) error
}

// SettingsStore persists the full settings document.
type SettingsStore interface {
	GetSettings(ctx context.Context) (domain.Settings, error)
	SetSettings(ctx context.Context, settings domain.Settings) error
	ResetSettings(ctx context.Context) error
}

// DictionaryStore persists learned corrections keyed by original text.
type DictionaryStore interface {
	GetDictionary(ctx context.Context) ([]domain.DictionaryEntry, error)
	DeleteDictionaryEntry(ctx context.Context, original string) error
	ClearDictionary(ctx context.Context) error
}

// HistoryStore persists past transcriptions.
type HistoryStore interface {
	GetHistory(ctx context.Context) ([]domain.HistoryEntry, error)
	ClearHistory(ctx context.Context) error
}

// UpdateService resolves, installs and activates application releases.
type UpdateService interface {
	// Check returns nil when no newer release exists.
	Check(ctx context.Context) (*domain.UpdateDescriptor, error)
	// DownloadAndInstall reports progress on events and must not send after returning.
	DownloadAndInstall(ctx context.Context, release domain.UpdateDescriptor, events chan<- domain.DownloadEvent) error
	Relaunch() error
}

// EventSink emits derived state to the UI.
type EventSink interface {
	RecordingStateChanged(status domain.RecordingStatus)
	RecordingCompleted(result domain.RecordingResult)
	ProgressChanged(status domain.ProgressStatus)
	UpdateChanged(state domain.UpdateState)
	SessionError(code domain.ErrorCode, detail string)
}

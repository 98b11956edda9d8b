package domain

import "time"

// RecordingState mirrors the backend's push-to-talk lifecycle.
type RecordingState string

const (
	RecordingStateIdle       RecordingState = "Idle"
	RecordingStateRecording  RecordingState = "Recording"
	RecordingStateProcessing RecordingState = "Processing"
)

// Valid reports whether the state is one the backend emits.
func (s RecordingState) Valid() bool {
	switch s {
	case RecordingStateIdle, RecordingStateRecording, RecordingStateProcessing:
		return true
	default:
		return false
	}
}

// RecordingStatus summarizes the local view of the recording lifecycle.
type RecordingStatus struct {
	State     RecordingState `json:"state"`
	Recording bool           `json:"recording"`
	Session   uint64         `json:"session"`
	StartedAt time.Time      `json:"startedAt,omitempty"`
}

// RecordingResult is emitted once per session handed to the pipeline.
type RecordingResult struct {
	Session  uint64        `json:"session"`
	Location string        `json:"location"`
	Duration time.Duration `json:"duration"`
}

// TranscriptionStage is the pipeline's self-reported progress marker.
type TranscriptionStage string

const (
	StageIdle         TranscriptionStage = "idle"
	StageTranscribing TranscriptionStage = "transcribing"
	StagePolishing    TranscriptionStage = "polishing"
	StagePasting      TranscriptionStage = "pasting"
	StageComplete     TranscriptionStage = "complete"
	StageError        TranscriptionStage = "error"
)

// IsTerminal reports whether the stage ends a pipeline run.
func (s TranscriptionStage) IsTerminal() bool {
	return s == StageComplete || s == StageError
}

// TranscriptionProgress is the payload of one progress notification.
type TranscriptionProgress struct {
	Stage   TranscriptionStage `json:"stage"`
	Message string             `json:"message"`
}

// ProgressStatus is the derived view exposed to the UI.
type ProgressStatus struct {
	Stage      TranscriptionStage `json:"stage"`
	Message    string             `json:"message"`
	Processing bool               `json:"processing"`
}

// UpdateStatus models the self-update lifecycle.
type UpdateStatus string

const (
	UpdateStatusIdle        UpdateStatus = "idle"
	UpdateStatusChecking    UpdateStatus = "checking"
	UpdateStatusAvailable   UpdateStatus = "available"
	UpdateStatusDownloading UpdateStatus = "downloading"
	UpdateStatusReady       UpdateStatus = "ready"
	UpdateStatusError       UpdateStatus = "error"
)

// UpdateInfo is the user-facing description of an available release.
type UpdateInfo struct {
	Version string `json:"version"`
	Body    string `json:"body,omitempty"`
}

// UpdateDescriptor is a resolved release ready to be downloaded.
type UpdateDescriptor struct {
	Version     string
	Notes       string
	AssetURL    string
	ChecksumURL string
}

// Info returns the user-facing part of the descriptor.
func (d UpdateDescriptor) Info() UpdateInfo {
	return UpdateInfo{Version: d.Version, Body: d.Notes}
}

// DownloadEventKind classifies download stream events.
type DownloadEventKind string

const (
	DownloadStarted  DownloadEventKind = "started"
	DownloadProgress DownloadEventKind = "progress"
	DownloadFinished DownloadEventKind = "finished"
)

// DownloadEvent is one item of the update download stream.
type DownloadEvent struct {
	Kind          DownloadEventKind
	ContentLength int64
	ChunkLength   int64
}

// UpdateState is the snapshot of the update controller.
type UpdateState struct {
	Status   UpdateStatus `json:"status"`
	Info     *UpdateInfo  `json:"info,omitempty"`
	Progress float64      `json:"progress"`
	Error    string       `json:"error,omitempty"`
}

// TranscriptionProvider selects the backend's speech-to-text service.
type TranscriptionProvider string

const (
	ProviderGladia TranscriptionProvider = "gladia"
	ProviderGroq   TranscriptionProvider = "groq"
	ProviderOpenAI TranscriptionProvider = "openai"
)

// Valid reports whether the provider is known.
func (p TranscriptionProvider) Valid() bool {
	switch p {
	case ProviderGladia, ProviderGroq, ProviderOpenAI:
		return true
	default:
		return false
	}
}

const DefaultShortcut = "Alt+Space"

// Settings is the full settings document exchanged with the backend store.
type Settings struct {
	AIPolishEnabled       bool                  `json:"ai_polish_enabled"`
	Shortcut              string                `json:"shortcut"`
	TranscriptionProvider TranscriptionProvider `json:"transcription_provider"`
}

// DefaultSettings returns the values applied on first launch and after reset.
func DefaultSettings() Settings {
	return Settings{
		AIPolishEnabled:       true,
		Shortcut:              DefaultShortcut,
		TranscriptionProvider: ProviderGladia,
	}
}

// SettingsPatch is a partial settings update; nil fields keep their value.
type SettingsPatch struct {
	AIPolishEnabled       *bool                  `json:"ai_polish_enabled,omitempty"`
	Shortcut              *string                `json:"shortcut,omitempty"`
	TranscriptionProvider *TranscriptionProvider `json:"transcription_provider,omitempty"`
}

// Apply merges the patch onto a complete settings document.
func (p SettingsPatch) Apply(base Settings) Settings {
	out := base
	if p.AIPolishEnabled != nil {
		out.AIPolishEnabled = *p.AIPolishEnabled
	}
	if p.Shortcut != nil {
		out.Shortcut = *p.Shortcut
	}
	if p.TranscriptionProvider != nil {
		out.TranscriptionProvider = *p.TranscriptionProvider
	}
	return out
}

// DictionaryEntry maps a misheard word to the user's correction.
type DictionaryEntry struct {
	Original   string `json:"original"`
	Correction string `json:"correction"`
	CreatedAt  int64  `json:"created_at"`
}

// HistoryEntry is one past transcription.
type HistoryEntry struct {
	Text      string  `json:"text"`
	Timestamp int64   `json:"timestamp"`
	RawText   *string `json:"raw_text,omitempty"`
}

// ErrorCode identifies errors surfaced to the UI.
type ErrorCode string

const (
	ErrorCodeStartup     ErrorCode = "startup"
	ErrorCodeDeviceStart ErrorCode = "device_start"
	ErrorCodeDeviceStop  ErrorCode = "device_stop"
	ErrorCodePipeline    ErrorCode = "pipeline"
	ErrorCodeStore       ErrorCode = "store"
	ErrorCodeUpdate      ErrorCode = "update"
)

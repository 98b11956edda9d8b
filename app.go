package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/wailsapp/wails/v2/pkg/runtime"

	"talkpaste/internal/bootstrap"
	"talkpaste/internal/domain"
	"talkpaste/internal/usecase"
)

const (
	eventRecording         = "talkpaste:recording"
	eventRecordingComplete = "talkpaste:recording-complete"
	eventProgress          = "talkpaste:progress"
	eventUpdate            = "talkpaste:update"
	eventError             = "talkpaste:error"
)

type emitFunc func(ctx context.Context, name string, data ...interface{})

// App is the Wails application root.
type App struct {
	ctx  context.Context
	emit emitFunc

	services *bootstrap.Services
	bootErr  error
}

func NewApp() *App {
	return &App{emit: runtime.EventsEmit}
}

func (a *App) startup(ctx context.Context) {
	a.ctx = ctx

	services, err := bootstrap.Build(ctx, a, bootstrap.Options{})
	if err != nil {
		a.bootErr = err
		a.SessionError(domain.ErrorCodeStartup, err.Error())
		return
	}
	a.services = services
	services.Start(ctx)

	go func() {
		services.Settings.LoadSettings(ctx)
		services.Updates.CheckForUpdates(ctx)
	}()
}

func (a *App) shutdown(_ context.Context) {
	if a.services == nil {
		return
	}
	if err := a.services.Close(); err != nil {
		a.services.Logger.Warn().Err(err).Msg("shutdown")
	}
}

// GetRecordingStatus returns the local view of the backend recording state.
func (a *App) GetRecordingStatus() domain.RecordingStatus {
	if a.services == nil {
		return domain.RecordingStatus{State: domain.RecordingStateIdle}
	}
	return a.services.Recording.Status()
}

// GetProgress returns the current transcription stage.
func (a *App) GetProgress() domain.ProgressStatus {
	if a.services == nil {
		return domain.ProgressStatus{Stage: domain.StageIdle}
	}
	return a.services.Progress.Status()
}

func (a *App) GetSettings() domain.Settings {
	if a.services == nil {
		return domain.DefaultSettings()
	}
	return a.services.Settings.Settings()
}

func (a *App) IsLoadingSettings() bool {
	return a.services != nil && a.services.Settings.Loading()
}

func (a *App) LoadSettings() (domain.Settings, error) {
	if err := a.requireReady(); err != nil {
		return domain.Settings{}, err
	}
	return a.services.Settings.LoadSettings(a.ctx), nil
}

func (a *App) SaveSettings(patch domain.SettingsPatch) (domain.Settings, error) {
	if err := a.requireReady(); err != nil {
		return domain.Settings{}, err
	}
	settings, err := a.services.Settings.SaveSettings(a.ctx, patch)
	if err != nil {
		a.SessionError(domain.ErrorCodeStore, err.Error())
		return domain.Settings{}, err
	}
	return settings, nil
}

func (a *App) ResetSettings() error {
	if err := a.requireReady(); err != nil {
		return err
	}
	if err := a.services.Settings.ResetSettings(a.ctx); err != nil {
		a.SessionError(domain.ErrorCodeStore, err.Error())
		return err
	}
	return nil
}

func (a *App) LoadDictionary() ([]domain.DictionaryEntry, error) {
	if err := a.requireReady(); err != nil {
		return []domain.DictionaryEntry{}, err
	}
	return a.services.Settings.LoadDictionary(a.ctx), nil
}

func (a *App) DeleteDictionaryEntry(original string) error {
	if err := a.requireReady(); err != nil {
		return err
	}
	if err := a.services.Settings.DeleteEntry(a.ctx, original); err != nil {
		a.SessionError(domain.ErrorCodeStore, err.Error())
		return err
	}
	return nil
}

func (a *App) ClearDictionary() error {
	if err := a.requireReady(); err != nil {
		return err
	}
	if err := a.services.Settings.ClearDictionary(a.ctx); err != nil {
		a.SessionError(domain.ErrorCodeStore, err.Error())
		return err
	}
	return nil
}

func (a *App) LoadHistory() ([]domain.HistoryEntry, error) {
	if err := a.requireReady(); err != nil {
		return []domain.HistoryEntry{}, err
	}
	return a.services.Settings.LoadHistory(a.ctx), nil
}

func (a *App) ClearHistory() error {
	if err := a.requireReady(); err != nil {
		return err
	}
	if err := a.services.Settings.ClearHistory(a.ctx); err != nil {
		a.SessionError(domain.ErrorCodeStore, err.Error())
		return err
	}
	return nil
}

func (a *App) GetUpdateState() domain.UpdateState {
	if a.services == nil {
		return domain.UpdateState{Status: domain.UpdateStatusIdle}
	}
	return a.services.Updates.State()
}

// CheckForUpdates reports whether a newer release is available.
func (a *App) CheckForUpdates() bool {
	if a.requireReady() != nil {
		return false
	}
	return a.services.Updates.CheckForUpdates(a.ctx)
}

func (a *App) DownloadAndInstall() error {
	if err := a.requireReady(); err != nil {
		return err
	}
	err := a.services.Updates.DownloadAndInstall(a.ctx)
	if errors.Is(err, usecase.ErrDownloadInProgress) {
		return nil
	}
	if err != nil {
		a.SessionError(domain.ErrorCodeUpdate, err.Error())
		return err
	}
	return nil
}

func (a *App) RestartApp() error {
	if err := a.requireReady(); err != nil {
		return err
	}
	if err := a.services.Updates.RestartApp(); err != nil {
		a.SessionError(domain.ErrorCodeUpdate, err.Error())
		return err
	}
	return nil
}

// GetRuntimeInfo returns non-sensitive config for the UI.
func (a *App) GetRuntimeInfo() map[string]string {
	if a.bootErr != nil {
		return map[string]string{"error": a.bootErr.Error()}
	}
	if a.services == nil {
		return map[string]string{}
	}

	cfg := a.services.Config
	return map[string]string{
		"backend":          cfg.Backend.URL,
		"version":          cfg.Update.CurrentVersion,
		"recordingsDir":    cfg.Audio.RecordingsDir,
		"audioInput":       cfg.Audio.InputDevice,
		"audioInputFormat": cfg.Audio.InputFormat,
		"configFile":       cfg.Path,
	}
}

func (a *App) requireReady() error {
	if a.bootErr != nil {
		return a.bootErr
	}
	if a.services == nil {
		return fmt.Errorf("application is not initialized")
	}
	return nil
}

// RecordingStateChanged emits the local recording view to the frontend.
func (a *App) RecordingStateChanged(status domain.RecordingStatus) {
	a.send(eventRecording, status)
}

// RecordingCompleted emits the saved recording for a finished session.
func (a *App) RecordingCompleted(result domain.RecordingResult) {
	a.send(eventRecordingComplete, map[string]any{
		"session":    result.Session,
		"location":   result.Location,
		"durationMs": result.Duration.Milliseconds(),
	})
}

func (a *App) ProgressChanged(status domain.ProgressStatus) {
	a.send(eventProgress, status)
}

func (a *App) UpdateChanged(state domain.UpdateState) {
	a.send(eventUpdate, state)
}

// SessionError emits errors to the UI.
func (a *App) SessionError(code domain.ErrorCode, detail string) {
	a.send(eventError, map[string]string{
		"code":    string(code),
		"message": errorMessage(code, detail),
		"detail":  detail,
	})
}

func (a *App) send(name string, payload any) {
	if a.ctx == nil || a.emit == nil {
		return
	}
	a.emit(a.ctx, name, payload)
}

func errorMessage(code domain.ErrorCode, detail string) string {
	switch code {
	case domain.ErrorCodeStartup:
		return "Startup failed"
	case domain.ErrorCodeDeviceStart:
		return "Microphone could not start"
	case domain.ErrorCodeDeviceStop:
		return "Microphone could not stop"
	case domain.ErrorCodePipeline:
		return "Transcription request failed"
	case domain.ErrorCodeStore:
		return "Saving changes failed"
	case domain.ErrorCodeUpdate:
		return "Update failed"
	default:
		if detail == "" {
			return "Unknown error"
		}
		return detail
	}
}

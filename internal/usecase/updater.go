package usecase

import (
	"context"
	"errors"
	"math"
	"sync"

	"github.com/rs/zerolog"

	"talkpaste/internal/domain"
	"talkpaste/internal/ports"
)

// ErrDownloadInProgress is returned when an install is requested while one
// is already running.
var ErrDownloadInProgress = errors.New("update download already in progress")

// UpdateController drives check, download+install and restart.
type UpdateController struct {
	service ports.UpdateService
	events  ports.EventSink
	logger  zerolog.Logger

	emitMu sync.Mutex
	mu     sync.Mutex
	state domain.UpdateState
}

func NewUpdateController(service ports.UpdateService, events ports.EventSink, logger zerolog.Logger) *UpdateController {
	return &UpdateController{
		service: service,
		events:  events,
		logger:  logger.With().Str("component", "updater").Logger(),
		state:   domain.UpdateState{Status: domain.UpdateStatusIdle},
	}
}

// CheckForUpdates reports whether a newer release is available. It is a
// no-op while a download runs, and its outcome is dropped if a download
// started while the check was in flight.
func (u *UpdateController) CheckForUpdates(ctx context.Context) bool {
	started := u.transition(notDownloading, func(s *domain.UpdateState) {
		s.Status = domain.UpdateStatusChecking
		s.Error = ""
	})
	if !started {
		u.logger.Debug().Msg("download in progress, skipping check")
		return false
	}

	release, err := u.service.Check(ctx)
	if err != nil {
		u.logger.Error().Err(err).Msg("update check failed")
		u.transition(checking, failWith(err))
		return false
	}
	if release == nil {
		u.transition(checking, func(s *domain.UpdateState) { s.Status = domain.UpdateStatusIdle })
		return false
	}

	info := release.Info()
	u.logger.Info().Str("version", info.Version).Msg("update available")
	u.transition(checking, func(s *domain.UpdateState) {
		s.Info = &info
		s.Status = domain.UpdateStatusAvailable
	})
	return true
}

// DownloadAndInstall re-resolves the latest release and installs it.
func (u *UpdateController) DownloadAndInstall(ctx context.Context) error {
	started := u.transition(notDownloading, func(s *domain.UpdateState) {
		s.Status = domain.UpdateStatusDownloading
		s.Progress = 0
		s.Error = ""
	})
	if !started {
		return ErrDownloadInProgress
	}

	release, err := u.service.Check(ctx)
	if err != nil {
		u.logger.Error().Err(err).Msg("update check before download failed")
		u.fail(err)
		return err
	}
	if release == nil {
		u.update(func(s *domain.UpdateState) { s.Status = domain.UpdateStatusIdle })
		return nil
	}

	info := release.Info()
	u.update(func(s *domain.UpdateState) { s.Info = &info })

	events := make(chan domain.DownloadEvent, 16)
	folded := make(chan struct{})
	go func() {
		defer close(folded)
		var fold downloadProgress
		for event := range events {
			fold = fold.apply(event)
			percent := fold.percent
			u.update(func(s *domain.UpdateState) { s.Progress = percent })
		}
	}()

	err = u.service.DownloadAndInstall(ctx, *release, events)
	close(events)
	<-folded

	if err != nil {
		u.logger.Error().Err(err).Str("version", info.Version).Msg("update download failed")
		u.fail(err)
		return err
	}

	u.logger.Info().Str("version", info.Version).Msg("update installed")
	u.update(func(s *domain.UpdateState) { s.Status = domain.UpdateStatusReady })
	return nil
}

// RestartApp asks the update service to relaunch the process.
func (u *UpdateController) RestartApp() error {
	u.logger.Info().Msg("relaunching")
	return u.service.Relaunch()
}

// State returns a snapshot of the update lifecycle.
func (u *UpdateController) State() domain.UpdateState {
	u.mu.Lock()
	defer u.mu.Unlock()
	return copyUpdateState(u.state)
}

func (u *UpdateController) fail(err error) {
	u.update(failWith(err))
}

func (u *UpdateController) update(mutate func(*domain.UpdateState)) {
	u.transition(func(domain.UpdateStatus) bool { return true }, mutate)
}

// transition applies mutate only if allowed accepts the current status, and
// reports whether it did. The check, the change and the emit happen in one
// ordered step.
func (u *UpdateController) transition(allowed func(domain.UpdateStatus) bool, mutate func(*domain.UpdateState)) bool {
	u.emitMu.Lock()
	defer u.emitMu.Unlock()

	u.mu.Lock()
	if !allowed(u.state.Status) {
		u.mu.Unlock()
		return false
	}
	mutate(&u.state)
	snapshot := copyUpdateState(u.state)
	u.mu.Unlock()

	u.events.UpdateChanged(snapshot)
	return true
}

func notDownloading(status domain.UpdateStatus) bool {
	return status != domain.UpdateStatusDownloading
}

func checking(status domain.UpdateStatus) bool {
	return status == domain.UpdateStatusChecking
}

func failWith(err error) func(*domain.UpdateState) {
	return func(s *domain.UpdateState) {
		s.Status = domain.UpdateStatusError
		s.Error = err.Error()
	}
}

func copyUpdateState(state domain.UpdateState) domain.UpdateState {
	if state.Info != nil {
		info := *state.Info
		state.Info = &info
	}
	return state
}

// downloadProgress folds download events into a percentage that never
// decreases and stays below 100 until the finished event.
type downloadProgress struct {
	total      int64
	downloaded int64
	percent    float64
}

const (
	progressCeiling = 99
	// Without a content length each megabyte counts as ten percent.
	unknownSizeStep = 1_000_000
)

func (p downloadProgress) apply(event domain.DownloadEvent) downloadProgress {
	switch event.Kind {
	case domain.DownloadStarted:
		p.total = event.ContentLength
	case domain.DownloadProgress:
		p.downloaded += event.ChunkLength
		var estimate float64
		if p.total > 0 {
			estimate = float64(p.downloaded) / float64(p.total) * 100
		} else {
			estimate = p.percent + float64(event.ChunkLength)/unknownSizeStep*10
		}
		estimate = math.Min(estimate, progressCeiling)
		p.percent = math.Max(p.percent, estimate)
	case domain.DownloadFinished:
		p.percent = 100
	}
	return p
}

package usecase

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"talkpaste/internal/domain"
	"talkpaste/internal/ports"
)

// DefaultProgressReset is how long a terminal stage stays visible.
const DefaultProgressReset = 500 * time.Millisecond

// ScheduleFunc runs fn after d and returns a function that cancels it.
type ScheduleFunc func(d time.Duration, fn func()) (cancel func() bool)

func afterFunc(d time.Duration, fn func()) func() bool {
	return time.AfterFunc(d, fn).Stop
}

// ProgressConfig controls the observer's auto-reset.
type ProgressConfig struct {
	ResetDelay time.Duration
	Schedule   ScheduleFunc
}

// ProgressObserver tracks the transcription pipeline stage and returns to
// idle shortly after the pipeline finishes.
type ProgressObserver struct {
	events ports.EventSink
	logger zerolog.Logger
	cfg    ProgressConfig

	// emitMu keeps the order of ProgressChanged calls equal to the order of
	// the state changes they report.
	emitMu sync.Mutex

	mu          sync.Mutex
	stage       domain.TranscriptionStage
	message     string
	cancelReset func() bool
	generation  uint64
}

func NewProgressObserver(events ports.EventSink, logger zerolog.Logger, cfg ProgressConfig) *ProgressObserver {
	if cfg.ResetDelay <= 0 {
		cfg.ResetDelay = DefaultProgressReset
	}
	if cfg.Schedule == nil {
		cfg.Schedule = afterFunc
	}
	return &ProgressObserver{
		events: events,
		logger: logger.With().Str("component", "progress").Logger(),
		cfg:    cfg,
		stage:  domain.StageIdle,
	}
}

// Run subscribes to pipeline progress and handles notifications in order.
func (o *ProgressObserver) Run(ctx context.Context, source ports.ProgressEvents) error {
	updates, err := source.SubscribeProgress(ctx)
	if err != nil {
		return fmt.Errorf("subscribe progress: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case progress, ok := <-updates:
			if !ok {
				return nil
			}
			o.Handle(progress)
		}
	}
}

// Handle adopts a new stage. Any pending reset is cancelled first so a fast
// follow-up session is never reset mid-flight.
func (o *ProgressObserver) Handle(progress domain.TranscriptionProgress) {
	o.emitMu.Lock()
	defer o.emitMu.Unlock()

	o.mu.Lock()
	o.cancelPendingLocked()
	o.stage = progress.Stage
	o.message = progress.Message
	if progress.Stage.IsTerminal() {
		generation := o.generation
		o.cancelReset = o.cfg.Schedule(o.cfg.ResetDelay, func() {
			o.reset(generation)
		})
	}
	status := o.statusLocked()
	o.mu.Unlock()

	o.logger.Debug().Str("stage", string(progress.Stage)).Str("message", progress.Message).Msg("transcription progress")
	o.events.ProgressChanged(status)
}

// Status returns the current stage and derived busy flag.
func (o *ProgressObserver) Status() domain.ProgressStatus {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.statusLocked()
}

// IsProcessing reports whether the pipeline is anywhere but idle.
func (o *ProgressObserver) IsProcessing() bool {
	return o.Status().Processing
}

// Close cancels a pending reset.
func (o *ProgressObserver) Close() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.cancelPendingLocked()
}

func (o *ProgressObserver) reset(generation uint64) {
	o.emitMu.Lock()
	defer o.emitMu.Unlock()

	o.mu.Lock()
	if generation != o.generation {
		o.mu.Unlock()
		return
	}
	o.cancelReset = nil
	o.stage = domain.StageIdle
	o.message = ""
	status := o.statusLocked()
	o.mu.Unlock()

	o.events.ProgressChanged(status)
}

// cancelPendingLocked invalidates the scheduled reset even if its timer has
// already fired and is waiting on the lock.
func (o *ProgressObserver) cancelPendingLocked() {
	o.generation++
	if o.cancelReset != nil {
		o.cancelReset()
		o.cancelReset = nil
	}
}

func (o *ProgressObserver) statusLocked() domain.ProgressStatus {
	return domain.ProgressStatus{
		Stage:      o.stage,
		Message:    o.message,
		Processing: o.stage != domain.StageIdle,
	}
}

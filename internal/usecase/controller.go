package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"talkpaste/internal/domain"
	"talkpaste/internal/ports"
)

// DefaultMinRecording is the shortest session treated as intentional.
const DefaultMinRecording = 300 * time.Millisecond

// DefaultStopTimeout bounds device stops and resets, which run detached from
// the notification loop's context.
const DefaultStopTimeout = 5 * time.Second

var ErrControllerClosed = errors.New("recording controller is closed")

// RecordingConfig controls how backend notifications drive the recorder.
type RecordingConfig struct {
	// MinDuration is the floor below which a session is discarded.
	MinDuration time.Duration
	// IgnoreIdleStop makes only Processing notifications stop the device.
	IgnoreIdleStop bool
	// StopTimeout bounds each device stop and compensating reset.
	StopTimeout time.Duration
	Now         func() time.Time
}

// RecordingController mirrors backend recording state onto the local
// recorder and hands finished audio to the pipeline once per session.
type RecordingController struct {
	recorder   ports.Recorder
	backend    ports.BackendControl
	events     ports.EventSink
	dispatcher pipelineDispatcher
	logger     zerolog.Logger
	cfg        RecordingConfig

	// emitMu orders RecordingStateChanged calls like the changes they report.
	emitMu sync.Mutex

	mu           sync.Mutex
	backendState domain.RecordingState
	recording    bool
	sessionStart time.Time
	session      uint64
	failedStart  uint64

	queueMu    sync.Mutex
	closed     bool
	jobs       chan deviceJob
	deviceDone chan struct{}
	dispatches sync.WaitGroup
}

func NewRecordingController(
	recorder ports.Recorder,
	pipeline ports.Pipeline,
	backend ports.BackendControl,
	events ports.EventSink,
	logger zerolog.Logger,
	cfg RecordingConfig,
) *RecordingController {
	if cfg.MinDuration <= 0 {
		cfg.MinDuration = DefaultMinRecording
	}
	if cfg.StopTimeout <= 0 {
		cfg.StopTimeout = DefaultStopTimeout
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	logger = logger.With().Str("component", "recording").Logger()
	c := &RecordingController{
		recorder:     recorder,
		backend:      backend,
		events:       events,
		logger:       logger,
		cfg:          cfg,
		backendState: domain.RecordingStateIdle,
		jobs:         make(chan deviceJob, 32),
		deviceDone:   make(chan struct{}),
	}
	c.dispatcher = newPipelineDispatcher(pipeline, logger, &c.dispatches)

	go c.runDevice()
	return c
}

// Run subscribes to backend recording state and handles notifications in
// order until ctx is cancelled or the subscription ends.
func (c *RecordingController) Run(ctx context.Context, source ports.RecordingEvents) error {
	states, err := source.SubscribeRecordingState(ctx)
	if err != nil {
		return fmt.Errorf("subscribe recording state: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case state, ok := <-states:
			if !ok {
				return nil
			}
			c.HandleState(ctx, state)
		}
	}
}

// HandleState reacts to one backend notification. Local flags are updated
// before any device call is queued, so duplicates arriving while a call is
// in flight are rejected immediately.
func (c *RecordingController) HandleState(ctx context.Context, state domain.RecordingState) {
	if !state.Valid() {
		c.logger.Warn().Str("state", string(state)).Msg("ignoring unknown recording state")
		return
	}

	c.queueMu.Lock()
	defer c.queueMu.Unlock()
	if c.closed {
		c.logger.Debug().Str("state", string(state)).Msg("controller closed, dropping notification")
		return
	}

	c.emitMu.Lock()
	c.mu.Lock()
	c.backendState = state
	var job *deviceJob
	switch {
	case state == domain.RecordingStateRecording && !c.recording:
		c.session++
		c.recording = true
		c.sessionStart = c.cfg.Now()
		job = &deviceJob{ctx: ctx, op: deviceOpStart, session: c.session}
	case c.recording && c.stopsRecording(state):
		duration := c.cfg.Now().Sub(c.sessionStart)
		c.recording = false
		c.sessionStart = time.Time{}
		job = &deviceJob{ctx: ctx, op: deviceOpStop, session: c.session, duration: duration}
	}
	status := c.statusLocked()
	c.mu.Unlock()

	c.events.RecordingStateChanged(status)
	c.emitMu.Unlock()
	if job != nil {
		c.jobs <- *job
	}
}

// Status returns a snapshot of the local recording view.
func (c *RecordingController) Status() domain.RecordingStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.statusLocked()
}

// Close stops accepting notifications, stops the device if a session is
// still open, and waits for queued device calls and in-flight pipeline
// submissions.
func (c *RecordingController) Close() error {
	c.queueMu.Lock()
	if c.closed {
		c.queueMu.Unlock()
		return ErrControllerClosed
	}
	c.closed = true

	c.mu.Lock()
	if c.recording {
		job := deviceJob{
			ctx:      context.Background(),
			op:       deviceOpStop,
			session:  c.session,
			duration: c.cfg.Now().Sub(c.sessionStart),
			teardown: true,
		}
		c.recording = false
		c.sessionStart = time.Time{}
		c.mu.Unlock()
		c.jobs <- job
	} else {
		c.mu.Unlock()
	}
	close(c.jobs)
	c.queueMu.Unlock()

	<-c.deviceDone
	c.dispatches.Wait()
	return nil
}

func (c *RecordingController) stopsRecording(state domain.RecordingState) bool {
	switch state {
	case domain.RecordingStateProcessing:
		return true
	case domain.RecordingStateIdle:
		return !c.cfg.IgnoreIdleStop
	default:
		return false
	}
}

func (c *RecordingController) statusLocked() domain.RecordingStatus {
	return domain.RecordingStatus{
		State:     c.backendState,
		Recording: c.recording,
		Session:   c.session,
		StartedAt: c.sessionStart,
	}
}

func (c *RecordingController) runDevice() {
	defer close(c.deviceDone)

	for job := range c.jobs {
		switch job.op {
		case deviceOpStart:
			c.startDevice(job)
		case deviceOpStop:
			c.stopDevice(job)
		}
	}
}

func (c *RecordingController) startDevice(job deviceJob) {
	log := c.logger.With().Uint64("session", job.session).Logger()

	err := c.recorder.Start(job.ctx)
	if err == nil {
		log.Info().Msg("microphone recording started")
		return
	}

	c.emitMu.Lock()
	defer c.emitMu.Unlock()

	c.mu.Lock()
	c.failedStart = job.session
	if c.session == job.session && c.recording {
		c.recording = false
		c.sessionStart = time.Time{}
	}
	status := c.statusLocked()
	c.mu.Unlock()

	log.Error().Err(err).Msg("failed to start recording")
	c.events.RecordingStateChanged(status)
	c.events.SessionError(domain.ErrorCodeDeviceStart, err.Error())
}

func (c *RecordingController) stopDevice(job deviceJob) {
	log := c.logger.With().Uint64("session", job.session).Dur("duration", job.duration).Logger()

	c.mu.Lock()
	startFailed := c.failedStart == job.session
	c.mu.Unlock()

	// A cancelled notification loop must not cut the recording short.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(job.ctx), c.cfg.StopTimeout)
	defer cancel()

	if job.teardown {
		if startFailed {
			return
		}
		location, err := c.recorder.Stop(ctx)
		if err != nil {
			log.Warn().Err(err).Msg("failed to stop recording at shutdown")
			return
		}
		log.Info().Str("location", location).Msg("recording stopped at shutdown")
		return
	}

	if startFailed {
		log.Warn().Msg("device never started for session, realigning backend")
		c.resetBackend(ctx, log)
		return
	}

	if job.duration < c.cfg.MinDuration {
		log.Info().Msg("recording too short, discarding")
		if _, err := c.recorder.Stop(ctx); err != nil {
			log.Debug().Err(err).Msg("ignoring stop error for discarded recording")
		}
		c.resetBackend(ctx, log)
		return
	}

	location, err := c.recorder.Stop(ctx)
	if err != nil {
		log.Error().Err(err).Msg("failed to stop recording")
		c.events.SessionError(domain.ErrorCodeDeviceStop, err.Error())
		return
	}

	result := domain.RecordingResult{Session: job.session, Location: location, Duration: job.duration}
	log.Info().Str("location", location).Msg("recording saved")
	c.events.RecordingCompleted(result)
	c.dispatcher.Dispatch(job.ctx, result)
}

func (c *RecordingController) resetBackend(ctx context.Context, log zerolog.Logger) {
	if err := c.backend.ResetToIdle(ctx); err != nil {
		log.Warn().Err(err).Msg("compensating reset to idle failed")
	}
}

package audio

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"talkpaste/internal/domain"
)

var (
	ErrAlreadyRecording = errors.New("recording already in progress")
	ErrNotRecording     = errors.New("no recording in progress")
)

const (
	defaultStartupGrace = 250 * time.Millisecond
	defaultStopGrace    = 1200 * time.Millisecond
)

// Config controls the ffmpeg invocation and where recordings are written.
type Config struct {
	Command     string
	InputFormat string
	InputDevice string
	SampleRate  int
	Channels    int
	Dir         string

	StartupGrace time.Duration
	StopGrace    time.Duration
	Now          func() time.Time
}

// FFMPEGRecorder records the microphone to a WAV file per session using an
// ffmpeg subprocess. It implements ports.Recorder.
type FFMPEGRecorder struct {
	cfg Config

	mu     sync.Mutex
	active *ffmpegSession
}

func NewFFMPEGRecorder(cfg Config) *FFMPEGRecorder {
	if cfg.Command == "" {
		cfg.Command = "ffmpeg"
	}
	if cfg.InputFormat == "" {
		cfg.InputFormat = "pulse"
	}
	if cfg.InputDevice == "" {
		cfg.InputDevice = "default"
	}
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = 16000
	}
	if cfg.Channels <= 0 {
		cfg.Channels = 1
	}
	if cfg.Dir == "" {
		cfg.Dir = os.TempDir()
	}
	if cfg.StartupGrace <= 0 {
		cfg.StartupGrace = defaultStartupGrace
	}
	if cfg.StopGrace <= 0 {
		cfg.StopGrace = defaultStopGrace
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &FFMPEGRecorder{cfg: cfg}
}

// Start begins writing a new recording file. The subprocess outlives ctx;
// ctx only bounds the startup wait.
func (r *FFMPEGRecorder) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.active != nil {
		return &domain.DeviceError{Op: "start", Err: ErrAlreadyRecording}
	}
	if err := os.MkdirAll(r.cfg.Dir, 0o755); err != nil {
		return &domain.DeviceError{Op: "start", Err: fmt.Errorf("create recordings dir: %w", err)}
	}

	path := filepath.Join(r.cfg.Dir, RecordingName(r.cfg.Now()))
	args := []string{
		"-nostdin",
		"-hide_banner",
		"-loglevel", "warning",
		"-f", r.cfg.InputFormat,
		"-i", r.cfg.InputDevice,
		"-ac", strconv.Itoa(r.cfg.Channels),
		"-ar", strconv.Itoa(r.cfg.SampleRate),
		"-y",
		path,
	}

	cmd := exec.Command(r.cfg.Command, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		return &domain.DeviceError{Op: "start", Err: fmt.Errorf("failed to start ffmpeg: %w", err)}
	}

	waitErr := make(chan error, 1)
	go func() {
		waitErr <- cmd.Wait()
		close(waitErr)
	}()

	select {
	case err := <-waitErr:
		if err != nil {
			return &domain.DeviceError{Op: "start", Err: fmt.Errorf("ffmpeg exited before recording started: %w: %s", err, trimSpace(stderr.String()))}
		}
		return &domain.DeviceError{Op: "start", Err: errors.New("ffmpeg exited before recording started")}
	case <-ctx.Done():
		_ = cmd.Process.Kill()
		<-waitErr
		return &domain.DeviceError{Op: "start", Err: ctx.Err()}
	case <-time.After(r.cfg.StartupGrace):
	}

	r.active = &ffmpegSession{
		path:    path,
		stderr:  &stderr,
		process: cmd.Process,
		waitErr: waitErr,
	}
	return nil
}

// Stop finalizes the current recording and returns its path.
func (r *FFMPEGRecorder) Stop(ctx context.Context) (string, error) {
	r.mu.Lock()
	session := r.active
	r.active = nil
	r.mu.Unlock()

	if session == nil {
		return "", &domain.DeviceError{Op: "stop", Err: ErrNotRecording}
	}
	if err := session.stop(ctx, r.cfg.StopGrace); err != nil {
		return "", &domain.DeviceError{Op: "stop", Err: err}
	}
	if _, err := os.Stat(session.path); err != nil {
		return "", &domain.DeviceError{Op: "stop", Err: fmt.Errorf("recording not written: %w", err)}
	}
	return session.path, nil
}

// Recording reports whether a subprocess is active.
func (r *FFMPEGRecorder) Recording() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.active != nil
}

// RecordingName is the file name used for a recording started at t.
func RecordingName(t time.Time) string {
	return "recording_" + t.Format("20060102_150405") + ".wav"
}

type ffmpegSession struct {
	path   string
	stderr *bytes.Buffer

	process *os.Process
	waitErr <-chan error
}

// stop asks ffmpeg to finish the file with an interrupt and kills it if it
// has not exited within grace or ctx is done.
func (s *ffmpegSession) stop(ctx context.Context, grace time.Duration) error {
	_ = s.process.Signal(os.Interrupt)

	var stopErr error
	select {
	case err, ok := <-s.waitErr:
		if ok {
			stopErr = normalizeStopErr(err)
		}
	case <-ctx.Done():
		_ = s.process.Kill()
		<-s.waitErr
		return ctx.Err()
	case <-time.After(grace):
		_ = s.process.Kill()
		err, ok := <-s.waitErr
		if ok {
			stopErr = normalizeStopErr(err)
		}
	}

	if stopErr != nil && s.stderr.Len() > 0 {
		stopErr = fmt.Errorf("%w: %s", stopErr, trimSpace(s.stderr.String()))
	}
	return stopErr
}

func normalizeStopErr(err error) error {
	if err == nil {
		return nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return nil
	}
	return err
}

func trimSpace(input string) string {
	if input == "" {
		return input
	}
	return string(bytes.TrimSpace([]byte(input)))
}

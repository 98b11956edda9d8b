package bootstrap

import (
	"context"
	"errors"
	"io"
	"sync"

	"github.com/rs/zerolog"

	"talkpaste/internal/audio"
	"talkpaste/internal/backend"
	"talkpaste/internal/config"
	"talkpaste/internal/logging"
	"talkpaste/internal/ports"
	"talkpaste/internal/update"
	"talkpaste/internal/usecase"
)

// Services is the assembled runtime graph.
type Services struct {
	Config    config.Config
	Logger    zerolog.Logger
	Backend   *backend.Client
	Recording *usecase.RecordingController
	Progress  *usecase.ProgressObserver
	Updates   *usecase.UpdateController
	Settings  *usecase.SettingsSynchronizer

	logCloser io.Closer
	loops     sync.WaitGroup
	cancel    context.CancelFunc
	closeOnce sync.Once
}

// Options adjusts Build for callers other than the desktop shell.
type Options struct {
	// ConfigPath overrides the default config file location.
	ConfigPath string
	// Logger replaces the file logger built from configuration.
	Logger *zerolog.Logger
}

// Build loads configuration, connects to the backend and wires every
// component around eventSink.
func Build(ctx context.Context, eventSink ports.EventSink, opts Options) (*Services, error) {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return nil, err
	}

	var (
		logger    zerolog.Logger
		logCloser io.Closer
	)
	if opts.Logger != nil {
		logger = *opts.Logger
	} else {
		logger, logCloser, err = logging.Configure(cfg.Logging)
		if err != nil {
			return nil, err
		}
	}

	client, err := backend.Dial(ctx, backend.Config{
		URL:         cfg.Backend.URL,
		DialTimeout: cfg.Backend.DialTimeout(),
		Logger:      logger,
	})
	if err != nil {
		if logCloser != nil {
			_ = logCloser.Close()
		}
		return nil, err
	}

	recorder := audio.NewFFMPEGRecorder(audio.Config{
		Command:     cfg.Audio.RecorderCommand,
		InputFormat: cfg.Audio.InputFormat,
		InputDevice: cfg.Audio.InputDevice,
		SampleRate:  cfg.Audio.SampleRate,
		Channels:    cfg.Audio.Channels,
		Dir:         cfg.Audio.RecordingsDir,
	})

	updates := update.NewService(update.Config{
		Repo:           cfg.Update.Repo,
		CurrentVersion: cfg.Update.CurrentVersion,
		AssetName:      cfg.Update.AssetName,
		APIBaseURL:     cfg.Update.APIBaseURL,
		Logger:         logger,
	})

	services := &Services{
		Config:  cfg,
		Logger:  logger,
		Backend: client,
		Recording: usecase.NewRecordingController(recorder, client, client, eventSink, logger, usecase.RecordingConfig{
			MinDuration:    cfg.Session.MinDuration(),
			IgnoreIdleStop: cfg.Session.IgnoreIdleStop,
		}),
		Progress: usecase.NewProgressObserver(eventSink, logger, usecase.ProgressConfig{
			ResetDelay: cfg.Session.ProgressReset(),
		}),
		Updates:   usecase.NewUpdateController(updates, eventSink, logger),
		Settings:  usecase.NewSettingsSynchronizer(client, client, client, logger),
		logCloser: logCloser,
	}

	logger.Info().
		Str("backend", cfg.Backend.URL).
		Str("config", cfg.Path).
		Str("version", cfg.Update.CurrentVersion).
		Msg("services built")
	return services, nil
}

// Start subscribes the recording controller and progress observer to the
// backend. Both loops stop on Close or when the connection drops.
func (s *Services) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)

	s.loops.Add(2)
	go func() {
		defer s.loops.Done()
		if err := s.Recording.Run(ctx, s.Backend); err != nil && !errors.Is(err, context.Canceled) {
			s.Logger.Error().Err(err).Msg("recording loop stopped")
		}
	}()
	go func() {
		defer s.loops.Done()
		if err := s.Progress.Run(ctx, s.Backend); err != nil && !errors.Is(err, context.Canceled) {
			s.Logger.Error().Err(err).Msg("progress loop stopped")
		}
	}()
}

// Close stops the loops, drains queued device work and disconnects.
func (s *Services) Close() error {
	var err error
	s.closeOnce.Do(func() {
		if s.cancel != nil {
			s.cancel()
		}
		s.loops.Wait()

		if closeErr := s.Recording.Close(); closeErr != nil {
			err = errors.Join(err, closeErr)
		}
		s.Progress.Close()
		if closeErr := s.Backend.Close(); closeErr != nil {
			err = errors.Join(err, closeErr)
		}
		s.Logger.Info().Msg("services closed")
		if s.logCloser != nil {
			err = errors.Join(err, s.logCloser.Close())
		}
	})
	return err
}

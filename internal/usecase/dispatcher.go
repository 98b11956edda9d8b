package usecase

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog"

	"talkpaste/internal/domain"
	"talkpaste/internal/ports"
)

// pipelineDispatcher hands finished recordings to the pipeline without
// waiting for the outcome. Results are only logged.
type pipelineDispatcher struct {
	pipeline ports.Pipeline
	logger   zerolog.Logger
	inflight *sync.WaitGroup
}

func newPipelineDispatcher(pipeline ports.Pipeline, logger zerolog.Logger, inflight *sync.WaitGroup) pipelineDispatcher {
	return pipelineDispatcher{pipeline: pipeline, logger: logger, inflight: inflight}
}

func (d pipelineDispatcher) Dispatch(ctx context.Context, result domain.RecordingResult) {
	d.inflight.Add(1)
	go func() {
		defer d.inflight.Done()

		log := d.logger.With().Uint64("session", result.Session).Str("location", result.Location).Logger()
		log.Info().Msg("starting transcription pipeline")

		text, err := d.pipeline.ProcessAudio(ctx, result.Location)
		if err != nil {
			var pipelineErr *domain.PipelineError
			if !errors.As(err, &pipelineErr) {
				err = &domain.PipelineError{Location: result.Location, Err: err}
			}
			log.Error().Err(err).Msg("transcription pipeline failed")
			return
		}
		log.Info().Int("chars", len(text)).Msg("transcription pipeline complete")
	}()
}

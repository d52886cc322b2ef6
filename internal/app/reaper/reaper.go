// Package reaper retries workflow terminations that failed during room
// eviction. Local state is already gone when a handle lands here, so a
// handle that keeps failing is logged and forgotten.
package reaper

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/MusicRoom/internal/domain"
	"github.com/dkeye/MusicRoom/internal/metrics"
	"github.com/dkeye/MusicRoom/internal/workflow"
)

// Terminator is the slice of workflow.Bridge the reaper needs.
type Terminator interface {
	Terminate(ctx context.Context, h domain.WorkflowHandle) error
}

type Config struct {
	InitialInterval time.Duration
	MaxElapsed      time.Duration
	QueueSize       int
}

type Reaper struct {
	bridge Terminator
	cfg    Config
	queue  chan domain.WorkflowHandle
}

func New(bridge Terminator, cfg Config) *Reaper {
	if cfg.InitialInterval <= 0 {
		cfg.InitialInterval = 500 * time.Millisecond
	}
	if cfg.MaxElapsed <= 0 {
		cfg.MaxElapsed = 5 * time.Minute
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	return &Reaper{
		bridge: bridge,
		cfg:    cfg,
		queue:  make(chan domain.WorkflowHandle, cfg.QueueSize),
	}
}

// Enqueue schedules a terminate retry. It never blocks; when the queue is full
// the handle is dropped and the workflow is left as a zombie.
func (r *Reaper) Enqueue(h domain.WorkflowHandle) bool {
	select {
	case r.queue <- h:
		return true
	default:
		metrics.TerminateRetriesTotal.WithLabelValues("dropped").Inc()
		log.Error().Str("module", "reaper").Str("workflow", h.WorkflowID).Msg("retry queue full, workflow left running")
		return false
	}
}

// Run drains the queue until ctx is done.
func (r *Reaper) Run(ctx context.Context) error {
	log.Info().Str("module", "reaper").Msg("reaper running")
	for {
		select {
		case <-ctx.Done():
			log.Info().Str("module", "reaper").Int("pending", len(r.queue)).Msg("reaper stopped")
			return nil
		case h := <-r.queue:
			r.reap(ctx, h)
		}
	}
}

func (r *Reaper) reap(ctx context.Context, h domain.WorkflowHandle) {
	logger := log.With().Str("module", "reaper").Str("workflow", h.WorkflowID).Logger()

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = r.cfg.InitialInterval
	b.MaxElapsedTime = r.cfg.MaxElapsed

	op := func() error {
		err := r.bridge.Terminate(ctx, h)
		if errors.Is(err, workflow.ErrEngineRejected) {
			return backoff.Permanent(err)
		}
		return err
	}
	notify := func(err error, next time.Duration) {
		logger.Warn().Err(err).Dur("next", next).Msg("terminate retry failed")
	}

	err := backoff.RetryNotify(op, backoff.WithContext(b, ctx), notify)
	switch {
	case err == nil:
		metrics.TerminateRetriesTotal.WithLabelValues("ok").Inc()
		logger.Info().Msg("workflow terminated out-of-band")
	case errors.Is(err, workflow.ErrEngineRejected):
		// Engine no longer knows the workflow; nothing left to stop.
		metrics.TerminateRetriesTotal.WithLabelValues("rejected").Inc()
		logger.Info().Err(err).Msg("terminate rejected, giving up")
	default:
		metrics.TerminateRetriesTotal.WithLabelValues("failed").Inc()
		logger.Error().Err(err).Msg("terminate retries exhausted, workflow left running")
	}
}

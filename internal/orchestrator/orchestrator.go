// Package orchestrator drives one background-removal request from a staged
// input through the engine to the delivered output, and schedules cleanup of
// both files.
//
// A job moves through staging, invoking, validating, delivering and
// cleaning_up before it is done. Any step may abort it. Each job belongs to
// the request that created it and is never shared.
package orchestrator

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"bgremover/internal/domain"
	"bgremover/internal/engine"
	"bgremover/internal/fetch"
	"bgremover/internal/storage"
)

const (
	// DefaultMaxUploadBytes is the upload cap when none is configured.
	DefaultMaxUploadBytes int64 = 10 << 20

	recordTimeout = 5 * time.Second
)

// Options tunes an Orchestrator. A zero CleanupDelay releases files as soon
// as delivery ends; a zero MaxUploadBytes selects DefaultMaxUploadBytes.
type Options struct {
	CleanupDelay   time.Duration
	MaxUploadBytes int64
}

// Orchestrator coordinates the namespace, the engine and the ledger.
type Orchestrator struct {
	ns           *storage.Namespace
	runner       engine.Runner
	fetcher      fetch.Fetcher
	recorder     domain.JobRecorder
	cleanupDelay time.Duration
	maxUpload    int64
	logger       zerolog.Logger
}

// New wires an Orchestrator. recorder may be nil.
func New(ns *storage.Namespace, runner engine.Runner, fetcher fetch.Fetcher, recorder domain.JobRecorder, opts Options, logger zerolog.Logger) *Orchestrator {
	if opts.CleanupDelay < 0 {
		opts.CleanupDelay = 0
	}
	if opts.MaxUploadBytes <= 0 {
		opts.MaxUploadBytes = DefaultMaxUploadBytes
	}
	return &Orchestrator{
		ns:           ns,
		runner:       runner,
		fetcher:      fetcher,
		recorder:     recorder,
		cleanupDelay: opts.CleanupDelay,
		maxUpload:    opts.MaxUploadBytes,
		logger:       logger.With().Str("component", "orchestrator").Logger(),
	}
}

// MaxUploadBytes reports the configured upload cap.
func (o *Orchestrator) MaxUploadBytes() int64 { return o.maxUpload }

// Process runs the engine for a staged job and checks that it produced an
// output file. On any failure the job's files are released immediately and
// the returned error carries the reason.
func (o *Orchestrator) Process(ctx context.Context, job *domain.ProcessingJob) error {
	log := o.jobLogger(job)

	job.Transition(domain.JobStateInvoking)
	log.Debug().Str("input", job.InputPath).Str("output", job.OutputPath).Msg("invoking engine")
	outcome := o.runner.Run(ctx, job.InputPath, job.OutputPath)
	if !outcome.Succeeded() {
		err := outcome.Err()
		log.Warn().
			Str("kind", string(outcome.Kind)).
			Int("exit_code", outcome.ExitCode).
			Dur("duration", outcome.Duration).
			Err(err).
			Msg("engine run failed")
		o.ns.Release(job.Paths()...)
		o.abort(ctx, job, err)
		return err
	}
	log.Info().Dur("duration", outcome.Duration).Msg("engine run succeeded")

	job.Transition(domain.JobStateValidating)
	if !o.ns.Exists(job.OutputPath) {
		err := domain.NewError(domain.ErrOutputMissing, "Output file was not created")
		log.Warn().Str("output", job.OutputPath).Msg("engine reported success without output")
		o.ns.Release(job.Paths()...)
		o.abort(ctx, job, err)
		return err
	}
	return nil
}

func (o *Orchestrator) newJob(origin domain.Origin, requestID string) *domain.ProcessingJob {
	return &domain.ProcessingJob{
		ID:        uuid.NewString(),
		RequestID: requestID,
		Origin:    origin,
		State:     domain.JobStateStaging,
		CreatedAt: time.Now().UTC(),
	}
}

func (o *Orchestrator) abort(ctx context.Context, job *domain.ProcessingJob, err error) {
	job.Abort(err)
	o.record(ctx, job)
}

// record stores the job's terminal state. Ledger failures are logged only.
func (o *Orchestrator) record(ctx context.Context, job *domain.ProcessingJob) {
	if o.recorder == nil {
		return
	}
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), recordTimeout)
	defer cancel()
	if err := o.recorder.Record(rctx, job); err != nil {
		o.jobLogger(job).Warn().Err(err).Msg("could not record job")
	}
}

func (o *Orchestrator) jobLogger(job *domain.ProcessingJob) *zerolog.Logger {
	l := o.logger.With().
		Str("job_id", job.ID).
		Str("request_id", job.RequestID).
		Str("origin", string(job.Origin)).
		Logger()
	return &l
}

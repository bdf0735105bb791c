package repo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"bgremover/internal/domain"
	"bgremover/internal/infra"
	"bgremover/internal/sqlinline"
)

const defaultListLimit = 20

// JobLedgerPG records terminal processing job states in PostgreSQL.
type JobLedgerPG struct {
	sql infra.SQLExecutor
}

// NewJobLedger creates a ledger backed by the given executor.
func NewJobLedger(sql infra.SQLExecutor) *JobLedgerPG {
	return &JobLedgerPG{sql: sql}
}

// EnsureSchema creates the ledger table if it does not exist.
func (r *JobLedgerPG) EnsureSchema(ctx context.Context) error {
	for _, q := range []string{sqlinline.QEnsureProcessingJobsTable, sqlinline.QEnsureProcessingJobsIndex} {
		if _, err := r.sql.Exec(ctx, q); err != nil {
			return fmt.Errorf("ensure ledger schema: %w", err)
		}
	}
	return nil
}

// Record upserts the job's current state.
func (r *JobLedgerPG) Record(ctx context.Context, job *domain.ProcessingJob) error {
	if job == nil || job.ID == "" {
		return errors.New("record job: id is required")
	}
	_, err := r.sql.Exec(ctx, sqlinline.QUpsertProcessingJob,
		job.ID,
		job.RequestID,
		string(job.Origin),
		job.OriginalName,
		job.SourceURL,
		string(job.State),
		job.Error,
		job.CreatedAt,
		nullableTime(job.FinishedAt),
	)
	if err != nil {
		return fmt.Errorf("record job %s: %w", job.ID, err)
	}
	return nil
}

// ListRecent returns the newest jobs, optionally filtered by state.
func (r *JobLedgerPG) ListRecent(ctx context.Context, limit int, state domain.JobState) ([]domain.ProcessingJob, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	rows, err := r.sql.Query(ctx, sqlinline.QListProcessingJobs, limit, string(state))
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []domain.ProcessingJob
	for rows.Next() {
		var (
			job    domain.ProcessingJob
			origin string
			st     string
		)
		if err := rows.Scan(&job.ID, &job.RequestID, &origin, &job.OriginalName, &job.SourceURL, &st, &job.Error, &job.CreatedAt, &job.FinishedAt); err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		job.Origin = domain.Origin(origin)
		job.State = domain.JobState(st)
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

// NopLedger discards records. It is used when no database is configured.
type NopLedger struct{}

func (NopLedger) Record(context.Context, *domain.ProcessingJob) error { return nil }

var (
	_ domain.JobRecorder = (*JobLedgerPG)(nil)
	_ domain.JobLister   = (*JobLedgerPG)(nil)
	_ domain.JobRecorder = NopLedger{}
)

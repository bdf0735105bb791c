package domain

import "context"

// JobRecorder persists the terminal state of processing jobs.
type JobRecorder interface {
	Record(ctx context.Context, job *ProcessingJob) error
}

// JobLister reads back recorded jobs, newest first.
type JobLister interface {
	ListRecent(ctx context.Context, limit int, state JobState) ([]ProcessingJob, error)
}

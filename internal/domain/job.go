package domain

import "time"

// Origin tags where a job's input image came from.
type Origin string

const (
	OriginUpload Origin = "upload"
	OriginURL    Origin = "url"
)

// JobState enumerates the per-request orchestration states.
type JobState string

const (
	JobStateStaging    JobState = "staging"
	JobStateInvoking   JobState = "invoking"
	JobStateValidating JobState = "validating"
	JobStateDelivering JobState = "delivering"
	JobStateCleaningUp JobState = "cleaning_up"
	JobStateDone       JobState = "done"
	JobStateAborted    JobState = "aborted"
)

// Terminal reports whether no further transition is expected.
func (s JobState) Terminal() bool {
	return s == JobStateDone || s == JobStateAborted
}

// ProcessingJob is the unit of work for one request. It is owned by a single
// request handler and never shared.
type ProcessingJob struct {
	ID           string
	RequestID    string
	Origin       Origin
	OriginalName string
	SourceURL    string
	InputPath    string
	OutputPath   string
	State        JobState
	Error        string
	CreatedAt    time.Time
	FinishedAt   time.Time
}

// Transition moves the job to the next state.
func (j *ProcessingJob) Transition(state JobState) {
	j.State = state
	if state.Terminal() {
		j.FinishedAt = time.Now().UTC()
	}
}

// Abort marks the job as aborted with the given cause.
func (j *ProcessingJob) Abort(err error) {
	if err != nil {
		j.Error = err.Error()
	}
	j.Transition(JobStateAborted)
}

// Paths returns the job's staged files.
func (j *ProcessingJob) Paths() []string {
	paths := make([]string, 0, 2)
	if j.InputPath != "" {
		paths = append(paths, j.InputPath)
	}
	if j.OutputPath != "" {
		paths = append(paths, j.OutputPath)
	}
	return paths
}

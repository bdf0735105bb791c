package engine

import (
	"strings"
	"time"

	"bgremover/internal/domain"
)

// SuccessMarker must appear in the engine's stdout for a run to count as successful.
const SuccessMarker = "SUCCESS"

// Kind classifies an engine run.
type Kind string

const (
	KindSuccess      Kind = "success"
	KindFailure      Kind = "failure"
	KindSpawnFailure Kind = "spawn_failure"
)

// Outcome is the result of one engine invocation.
type Outcome struct {
	Kind     Kind
	Reason   string
	ExitCode int
	Stdout   string
	Stderr   string
	Duration time.Duration
}

// Succeeded reports whether the run counts as a success.
func (o Outcome) Succeeded() bool { return o.Kind == KindSuccess }

// Err converts a non-successful outcome into a tagged domain error.
func (o Outcome) Err() error {
	switch o.Kind {
	case KindSuccess:
		return nil
	case KindSpawnFailure:
		return domain.NewError(domain.ErrEngineSpawn, "Failed to start engine process: "+o.Reason)
	default:
		return domain.NewError(domain.ErrEngineRun, "Engine failed: "+o.Reason)
	}
}

// Classify applies the success rule to a finished run: exit code 0 and stdout
// containing SuccessMarker. Any other combination is a Failure whose reason is
// the captured stderr, or stdout when stderr is empty.
func Classify(exitCode int, stdout, stderr string) Outcome {
	out := Outcome{ExitCode: exitCode, Stdout: stdout, Stderr: stderr}
	if exitCode == 0 && strings.Contains(stdout, SuccessMarker) {
		out.Kind = KindSuccess
		return out
	}
	out.Kind = KindFailure
	out.Reason = stderr
	if out.Reason == "" {
		out.Reason = stdout
	}
	return out
}

func spawnFailure(reason string) Outcome {
	return Outcome{Kind: KindSpawnFailure, Reason: reason, ExitCode: -1}
}

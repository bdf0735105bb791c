package engine

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// waitDelay bounds how long Wait keeps reading output after the process is
// killed on timeout, in case a grandchild still holds the pipes.
const waitDelay = 5 * time.Second

// Config describes how to launch the engine.
type Config struct {
	// Command is the executable, looked up in PATH when not absolute.
	Command string
	// Args are placed before the input and output paths.
	Args []string
	// Timeout kills a run that takes longer. Zero disables it.
	Timeout time.Duration
	// MaxConcurrent caps simultaneous runs. Zero means unbounded.
	MaxConcurrent int
}

// Runner is the contract the orchestrator depends on.
type Runner interface {
	Run(ctx context.Context, inputPath, outputPath string) Outcome
}

// Invoker launches the configured engine, one child process per Run.
type Invoker struct {
	cfg    Config
	slots  chan struct{}
	logger zerolog.Logger
}

// New validates cfg and returns an Invoker.
func New(cfg Config, logger zerolog.Logger) (*Invoker, error) {
	cfg.Command = strings.TrimSpace(cfg.Command)
	if cfg.Command == "" {
		return nil, errors.New("engine: command is required")
	}
	if cfg.MaxConcurrent < 0 {
		return nil, fmt.Errorf("engine: invalid concurrency %d", cfg.MaxConcurrent)
	}
	inv := &Invoker{
		cfg:    cfg,
		logger: logger.With().Str("component", "engine").Logger(),
	}
	if cfg.MaxConcurrent > 0 {
		inv.slots = make(chan struct{}, cfg.MaxConcurrent)
	}
	return inv, nil
}

// Available reports whether the engine command resolves to an executable.
func (i *Invoker) Available() error {
	if _, err := exec.LookPath(i.cfg.Command); err != nil {
		return fmt.Errorf("engine binary %q not found: %w", i.cfg.Command, err)
	}
	return nil
}

// CommandLine renders the invocation for logs.
func (i *Invoker) CommandLine(inputPath, outputPath string) string {
	parts := append([]string{i.cfg.Command}, i.cfg.Args...)
	parts = append(parts, inputPath, outputPath)
	return strings.Join(parts, " ")
}

// InFlight returns how many runs currently hold a concurrency slot.
func (i *Invoker) InFlight() int {
	if i.slots == nil {
		return 0
	}
	return len(i.slots)
}

// Run executes the engine once for the given paths and waits for it to exit.
//
// Waiting for a concurrency slot honours ctx. Once the process has been
// started it is not tied to ctx cancellation: a caller that goes away does
// not kill a running engine, only the configured timeout does.
func (i *Invoker) Run(ctx context.Context, inputPath, outputPath string) Outcome {
	if err := i.acquire(ctx); err != nil {
		return spawnFailure("waiting for an engine slot: " + err.Error())
	}
	defer i.release()

	runCtx := context.WithoutCancel(ctx)
	if i.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(runCtx, i.cfg.Timeout)
		defer cancel()
	}

	args := make([]string, 0, len(i.cfg.Args)+2)
	args = append(args, i.cfg.Args...)
	args = append(args, inputPath, outputPath)

	cmd := exec.CommandContext(runCtx, i.cfg.Command, args...) //nolint:gosec
	cmd.WaitDelay = waitDelay
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	started := time.Now()
	if err := cmd.Start(); err != nil {
		out := spawnFailure(err.Error())
		i.logger.Error().Err(err).Str("command", i.cfg.Command).Msg("engine could not be started")
		return out
	}
	waitErr := cmd.Wait()
	elapsed := time.Since(started)

	out := Classify(exitCode(cmd, waitErr), stdout.String(), stderr.String())
	out.Duration = elapsed
	if out.Kind == KindFailure {
		switch {
		case errors.Is(runCtx.Err(), context.DeadlineExceeded):
			detail := fmt.Sprintf("timed out after %s", i.cfg.Timeout)
			if out.Reason != "" {
				detail += ": " + out.Reason
			}
			out.Reason = detail
		case out.Reason == "" && waitErr != nil:
			out.Reason = waitErr.Error()
		}
	}

	event := i.logger.Debug()
	if !out.Succeeded() {
		event = i.logger.Warn()
	}
	event.Str("kind", string(out.Kind)).
		Int("exit_code", out.ExitCode).
		Dur("duration", elapsed).
		Str("input", inputPath).
		Msg("engine finished")
	return out
}

func (i *Invoker) acquire(ctx context.Context) error {
	if i.slots == nil {
		return nil
	}
	select {
	case i.slots <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (i *Invoker) release() {
	if i.slots == nil {
		return
	}
	<-i.slots
}

func exitCode(cmd *exec.Cmd, waitErr error) int {
	if cmd.ProcessState != nil {
		return cmd.ProcessState.ExitCode()
	}
	var exitErr *exec.ExitError
	if errors.As(waitErr, &exitErr) {
		return exitErr.ExitCode()
	}
	if waitErr != nil {
		return -1
	}
	return 0
}

var _ Runner = (*Invoker)(nil)

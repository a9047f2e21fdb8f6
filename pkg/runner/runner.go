// Package runner executes host commands on behalf of the lifecycle adapters
// and the health probe.
package runner

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

// Result is the captured output of a finished command.
type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
	Duration time.Duration
}

// Runner runs a command with arguments and captures its output.
//
// A command that runs but exits non-zero returns both the Result and an
// *ExitError. Failures to launch the command return a nil Result.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) (*Result, error)

	// LookPath reports an error when the named tool is not available.
	LookPath(ctx context.Context, name string) error
}

// ExitError reports a command that ran and exited with a non-zero status.
type ExitError struct {
	Command  string
	ExitCode int
	Stderr   string
}

// Error implements the error interface.
func (e *ExitError) Error() string {
	if e.Stderr != "" {
		return fmt.Sprintf("%s exited with code %d: %s", e.Command, e.ExitCode, e.Stderr)
	}
	return fmt.Sprintf("%s exited with code %d", e.Command, e.ExitCode)
}

// ExitCode returns the exit status carried by err, or -1 if err is not an
// *ExitError.
func ExitCode(err error) int {
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode
	}
	return -1
}

// CommandLine renders name and args as a single display string.
func CommandLine(name string, args ...string) string {
	if len(args) == 0 {
		return name
	}
	return name + " " + strings.Join(args, " ")
}

// Local runs commands on this host with os/exec.
type Local struct {
	logger zerolog.Logger
}

// NewLocal creates a runner for the local host.
func NewLocal(logger zerolog.Logger) *Local {
	return &Local{
		logger: logger.With().Str("component", "runner").Logger(),
	}
}

// Run executes name with args and waits for it to finish.
func (l *Local) Run(ctx context.Context, name string, args ...string) (*Result, error) {
	cmdline := CommandLine(name, args...)

	cmd := exec.CommandContext(ctx, name, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()

	result := &Result{
		Stdout:   strings.TrimSpace(stdout.String()),
		Stderr:   strings.TrimSpace(stderr.String()),
		Duration: time.Since(start),
	}

	l.logger.Debug().
		Str("command", cmdline).
		Dur("duration", result.Duration).
		Err(err).
		Msg("command completed")

	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			result.ExitCode = exitErr.ExitCode()
			return result, &ExitError{
				Command:  cmdline,
				ExitCode: result.ExitCode,
				Stderr:   result.Stderr,
			}
		}
		return nil, fmt.Errorf("failed to execute %s: %w", cmdline, err)
	}

	return result, nil
}

// LookPath checks that name resolves to an executable in PATH.
func (l *Local) LookPath(_ context.Context, name string) error {
	if _, err := exec.LookPath(name); err != nil {
		return fmt.Errorf("required tool %q not found: %w", name, err)
	}
	return nil
}

package commands

import (
	"errors"
	"fmt"

	"github.com/ftschopp/pve-scripts/pkg/engine"
)

// Process exit codes.
const (
	ExitOK      = 0
	ExitFailure = 1
	ExitPartial = 2
)

// ExitError carries the process exit code for a command error.
type ExitError struct {
	Code int
	Err  error
}

func (e *ExitError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("exit status %d", e.Code)
	}
	return e.Err.Error()
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

// ExitCode maps a command error to a process exit code.
func ExitCode(err error) int {
	if err == nil {
		return ExitOK
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return ExitFailure
}

// abort reports a failed precondition. No adapter has been called.
func abort(code engine.ErrorCode, message string, err error) error {
	return &ExitError{
		Code: ExitFailure,
		Err:  engine.NewFatalError(code, message, err),
	}
}

// statusError converts a run status into the command result.
func statusError(outcome *engine.Outcome, runErr error) error {
	switch outcome.Status {
	case engine.RunStatusSuccess:
		return nil
	case engine.RunStatusPartialSuccess:
		s := outcome.Summary()
		return &ExitError{
			Code: ExitPartial,
			Err:  fmt.Errorf("%s completed with %d failed and %d skipped resources", outcome.Operation, s.Failed, s.Skipped),
		}
	default:
		if runErr == nil {
			runErr = fmt.Errorf("%s failed", outcome.Operation)
		}
		return &ExitError{Code: ExitFailure, Err: runErr}
	}
}

package runner

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
)

func TestLocalRunCapturesOutput(t *testing.T) {
	r := NewLocal(zerolog.Nop())

	result, err := r.Run(context.Background(), "sh", "-c", "echo hello; echo oops >&2")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Stdout != "hello" {
		t.Errorf("expected stdout 'hello', got %q", result.Stdout)
	}
	if result.Stderr != "oops" {
		t.Errorf("expected stderr 'oops', got %q", result.Stderr)
	}
	if result.ExitCode != 0 {
		t.Errorf("expected exit code 0, got %d", result.ExitCode)
	}
}

func TestLocalRunNonZeroExit(t *testing.T) {
	r := NewLocal(zerolog.Nop())

	result, err := r.Run(context.Background(), "sh", "-c", "echo failed >&2; exit 3")
	if err == nil {
		t.Fatal("expected error for non-zero exit")
	}

	var exitErr *ExitError
	if !errors.As(err, &exitErr) {
		t.Fatalf("expected *ExitError, got %T", err)
	}
	if exitErr.ExitCode != 3 {
		t.Errorf("expected exit code 3, got %d", exitErr.ExitCode)
	}
	if ExitCode(err) != 3 {
		t.Errorf("ExitCode helper returned %d", ExitCode(err))
	}
	if result == nil || result.Stderr != "failed" {
		t.Errorf("expected result with stderr 'failed', got %+v", result)
	}
}

func TestLocalRunMissingBinary(t *testing.T) {
	r := NewLocal(zerolog.Nop())

	result, err := r.Run(context.Background(), "pvestack-no-such-binary")
	if err == nil {
		t.Fatal("expected error for missing binary")
	}
	if result != nil {
		t.Errorf("expected nil result, got %+v", result)
	}
	if ExitCode(err) != -1 {
		t.Errorf("expected -1 exit code for launch failure, got %d", ExitCode(err))
	}
}

func TestLocalLookPath(t *testing.T) {
	r := NewLocal(zerolog.Nop())

	if err := r.LookPath(context.Background(), "sh"); err != nil {
		t.Errorf("expected sh to be found: %v", err)
	}
	if err := r.LookPath(context.Background(), "pvestack-no-such-binary"); err == nil {
		t.Error("expected error for missing tool")
	}
}

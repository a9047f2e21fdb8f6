package ssh

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/crypto/ssh"

	"github.com/ftschopp/pve-scripts/pkg/runner"
)

// signalGrace is how long a cancelled command gets between SIGTERM and
// SIGKILL.
const signalGrace = 100 * time.Millisecond

// Runner executes commands on the node behind a Client. It implements
// runner.Runner.
type Runner struct {
	client *Client
	logger zerolog.Logger
}

var _ runner.Runner = (*Runner)(nil)

// NewRunner creates a remote runner over client.
func NewRunner(client *Client, logger zerolog.Logger) *Runner {
	return &Runner{
		client: client,
		logger: logger.With().Str("component", "runner").Str("host", client.config.Host).Logger(),
	}
}

// Run executes name with args on the node. Arguments are shell-quoted so
// the remote shell sees them unchanged.
func (r *Runner) Run(ctx context.Context, name string, args ...string) (*runner.Result, error) {
	cmdline := runner.CommandLine(name, args...)
	remote := ShellJoin(append([]string{name}, args...)...)
	if r.client.config.UseSudo {
		remote = "sudo -n " + remote
	}

	session, err := r.client.session()
	if err != nil {
		return nil, fmt.Errorf("failed to execute %s: %w", cmdline, err)
	}
	defer session.Close()

	var stdout, stderr bytes.Buffer
	session.Stdout = &stdout
	session.Stderr = &stderr

	start := time.Now()
	done := make(chan error, 1)
	go func() {
		done <- session.Run(remote)
	}()

	var execErr error
	select {
	case <-ctx.Done():
		// The session goroutine still owns the buffers; they are not read
		// on this path.
		interrupt(session, done)
		r.logger.Debug().
			Str("command", cmdline).
			Dur("duration", time.Since(start)).
			Err(ctx.Err()).
			Msg("command cancelled")
		return nil, fmt.Errorf("failed to execute %s: %w", cmdline, &TransportError{
			Op:  "exec",
			Err: ctx.Err(),
		})
	case execErr = <-done:
	}

	result := &runner.Result{
		Stdout:   strings.TrimSpace(stdout.String()),
		Stderr:   strings.TrimSpace(stderr.String()),
		Duration: time.Since(start),
	}

	r.logger.Debug().
		Str("command", cmdline).
		Dur("duration", result.Duration).
		Err(execErr).
		Msg("command completed")

	if execErr != nil {
		var exitErr *ssh.ExitError
		if errors.As(execErr, &exitErr) {
			result.ExitCode = exitErr.ExitStatus()
			return result, &runner.ExitError{
				Command:  cmdline,
				ExitCode: result.ExitCode,
				Stderr:   result.Stderr,
			}
		}
		return nil, fmt.Errorf("failed to execute %s: %w", cmdline, &TransportError{
			Op:          "exec",
			Err:         execErr,
			IsTemporary: true,
		})
	}

	return result, nil
}

// interrupt stops a running command: SIGTERM, then SIGKILL and a closed
// session after signalGrace. It waits a bounded time for the session to
// finish.
func interrupt(session *ssh.Session, done <-chan error) {
	_ = session.Signal(ssh.SIGTERM)
	select {
	case <-done:
		return
	case <-time.After(signalGrace):
	}

	_ = session.Signal(ssh.SIGKILL)
	_ = session.Close()
	select {
	case <-done:
	case <-time.After(signalGrace):
	}
}

// LookPath checks that name resolves on the node with "command -v".
func (r *Runner) LookPath(ctx context.Context, name string) error {
	if _, err := r.Run(ctx, "sh", "-c", "command -v "+ShellQuote(name)); err != nil {
		return fmt.Errorf("required tool %q not found on %s: %w", name, r.client.config.Host, err)
	}
	return nil
}

var shellSafe = regexp.MustCompile(`^[A-Za-z0-9_@%+=:,./-]+$`)

// ShellQuote quotes s for a POSIX shell. Words made only of safe characters
// are returned as is.
func ShellQuote(s string) string {
	if s == "" {
		return "''"
	}
	if shellSafe.MatchString(s) {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

// ShellJoin quotes and joins words into one command line.
func ShellJoin(words ...string) string {
	quoted := make([]string, len(words))
	for i, w := range words {
		quoted[i] = ShellQuote(w)
	}
	return strings.Join(quoted, " ")
}

package adapters

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/ftschopp/pve-scripts/pkg/runner"
)

// shutdownGrace is added to the guest shutdown timeout before the command
// itself is cancelled.
const shutdownGrace = 10 * time.Second

// Guest is a Proxmox guest controlled with qm (VMs) or pct (containers).
// Both tools share the status/start/shutdown/stop subcommands.
type Guest struct {
	kind   Kind
	tool   string
	vmid   int
	runner runner.Runner
	logger zerolog.Logger
}

// NewVM returns a Lifecycle for the QEMU VM with the given id.
func NewVM(r runner.Runner, vmid int, logger zerolog.Logger) *Guest {
	return newGuest(KindVM, "qm", r, vmid, logger)
}

// NewContainer returns a Lifecycle for the LXC container with the given id.
func NewContainer(r runner.Runner, vmid int, logger zerolog.Logger) *Guest {
	return newGuest(KindContainer, "pct", r, vmid, logger)
}

func newGuest(kind Kind, tool string, r runner.Runner, vmid int, logger zerolog.Logger) *Guest {
	return &Guest{
		kind:   kind,
		tool:   tool,
		vmid:   vmid,
		runner: r,
		logger: logger.With().
			Str("component", "adapter").
			Str("kind", string(kind)).
			Int("vmid", vmid).
			Logger(),
	}
}

// Kind implements Lifecycle.
func (g *Guest) Kind() Kind { return g.kind }

// ID implements Lifecycle.
func (g *Guest) ID() string { return strconv.Itoa(g.vmid) }

// Status runs "<tool> status <id>" and parses "status: <state>".
func (g *Guest) Status(ctx context.Context) (State, error) {
	res, err := g.runner.Run(ctx, g.tool, "status", g.ID())
	if err != nil {
		var exitErr *runner.ExitError
		if errors.As(err, &exitErr) && isMissingGuest(exitErr.Stderr) {
			return StateNotFound, nil
		}
		return StateUnknown, fmt.Errorf("%s status %d: %w", g.tool, g.vmid, err)
	}
	return parseStatus(res.Stdout), nil
}

// Start implements Lifecycle.
func (g *Guest) Start(ctx context.Context) error {
	g.logger.Info().Msg("starting guest")
	if _, err := g.runner.Run(ctx, g.tool, "start", g.ID()); err != nil {
		return fmt.Errorf("%s start %d: %w", g.tool, g.vmid, err)
	}
	return nil
}

// Stop runs "<tool> shutdown <id> --timeout <s>".
func (g *Guest) Stop(ctx context.Context, timeout time.Duration) error {
	secs := int(math.Ceil(timeout.Seconds()))
	if secs < 1 {
		secs = 1
	}

	ctx, cancel := context.WithTimeout(ctx, timeout+shutdownGrace)
	defer cancel()

	g.logger.Info().Int("timeout_seconds", secs).Msg("shutting down guest")
	if _, err := g.runner.Run(ctx, g.tool, "shutdown", g.ID(), "--timeout", strconv.Itoa(secs)); err != nil {
		return fmt.Errorf("%s shutdown %d: %w", g.tool, g.vmid, err)
	}
	return nil
}

// ForceStop runs "<tool> stop <id>".
func (g *Guest) ForceStop(ctx context.Context) error {
	g.logger.Warn().Msg("force stopping guest")
	if _, err := g.runner.Run(ctx, g.tool, "stop", g.ID()); err != nil {
		return fmt.Errorf("%s stop %d: %w", g.tool, g.vmid, err)
	}
	return nil
}

func parseStatus(out string) State {
	for _, line := range strings.Split(out, "\n") {
		key, value, ok := strings.Cut(line, ":")
		if !ok || strings.TrimSpace(key) != "status" {
			continue
		}
		switch strings.TrimSpace(value) {
		case "running":
			return StateRunning
		case "stopped":
			return StateStopped
		default:
			return StateUnknown
		}
	}
	return StateUnknown
}

func isMissingGuest(stderr string) bool {
	s := strings.ToLower(stderr)
	return strings.Contains(s, "does not exist") || strings.Contains(s, "no such")
}

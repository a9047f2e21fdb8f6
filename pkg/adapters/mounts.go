package adapters

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/ftschopp/pve-scripts/pkg/runner"
)

// HostMounts implements Mounter with mountpoint, mkdir, mount and umount.
type HostMounts struct {
	runner runner.Runner
	logger zerolog.Logger
}

// NewHostMounts creates a Mounter that runs commands through r.
func NewHostMounts(r runner.Runner, logger zerolog.Logger) *HostMounts {
	return &HostMounts{
		runner: r,
		logger: logger.With().Str("component", "adapter").Str("kind", string(KindMount)).Logger(),
	}
}

// mountpointNotMounted is the exit status of mountpoint for a directory
// that is not a mount point, or a path that does not exist.
const mountpointNotMounted = 1

// IsMounted reports whether target is an active mount point. Any exit
// status other than mountpointNotMounted is an error.
func (m *HostMounts) IsMounted(ctx context.Context, target string) (bool, error) {
	_, err := m.runner.Run(ctx, "mountpoint", "-q", target)
	if err == nil {
		return true, nil
	}
	var exitErr *runner.ExitError
	if errors.As(err, &exitErr) && exitErr.ExitCode == mountpointNotMounted && ctx.Err() == nil {
		return false, nil
	}
	return false, fmt.Errorf("failed to check mount point %s: %w", target, err)
}

// EnsureTarget creates the mount directory if needed.
func (m *HostMounts) EnsureTarget(ctx context.Context, target string) error {
	if _, err := m.runner.Run(ctx, "mkdir", "-p", target); err != nil {
		return fmt.Errorf("failed to create mount target %s: %w", target, err)
	}
	return nil
}

// Mount implements Mounter.
func (m *HostMounts) Mount(ctx context.Context, kind, source, target, options string) error {
	args := []string{"-t", kind}
	if options != "" {
		args = append(args, "-o", options)
	}
	args = append(args, source, target)

	m.logger.Info().Str("source", source).Str("target", target).Str("type", kind).Msg("mounting share")
	if _, err := m.runner.Run(ctx, "mount", args...); err != nil {
		return fmt.Errorf("failed to mount %s on %s: %w", source, target, err)
	}
	return nil
}

// Unmount unmounts target, retrying with -f when a plain umount fails.
func (m *HostMounts) Unmount(ctx context.Context, target string) error {
	m.logger.Info().Str("target", target).Msg("unmounting share")
	_, err := m.runner.Run(ctx, "umount", target)
	if err == nil {
		return nil
	}

	m.logger.Warn().Err(err).Str("target", target).Msg("umount failed, retrying with force")
	if _, forceErr := m.runner.Run(ctx, "umount", "-f", target); forceErr != nil {
		return fmt.Errorf("failed to unmount %s: %w", target, errors.Join(err, forceErr))
	}
	return nil
}

package adapters

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/ftschopp/pve-scripts/pkg/plan"
	"github.com/ftschopp/pve-scripts/pkg/runner"
)

// Proxmox builds adapters that drive a Proxmox VE host through qm, pct and
// the mount utilities. The runner decides whether commands execute locally
// or over SSH.
type Proxmox struct {
	runner runner.Runner
	logger zerolog.Logger
	mounts *HostMounts
}

// NewProxmox creates an adapter factory on top of r.
func NewProxmox(r runner.Runner, logger zerolog.Logger) *Proxmox {
	return &Proxmox{
		runner: r,
		logger: logger,
		mounts: NewHostMounts(r, logger),
	}
}

// VM returns the Lifecycle for the managed VM.
func (p *Proxmox) VM(vm plan.ManagedVM) Lifecycle {
	return NewVM(p.runner, vm.ID, p.logger)
}

// Container returns the Lifecycle for a container.
func (p *Proxmox) Container(ct plan.ContainerSpec) Lifecycle {
	return NewContainer(p.runner, ct.ID, p.logger)
}

// Mounts returns the host mount manager.
func (p *Proxmox) Mounts() Mounter {
	return p.mounts
}

// CheckTools verifies that every tool in RequiredTools can be found by the
// runner.
func (p *Proxmox) CheckTools(ctx context.Context) error {
	var missing []error
	for _, tool := range RequiredTools {
		if err := p.runner.LookPath(ctx, tool); err != nil {
			missing = append(missing, fmt.Errorf("required tool %s not found: %w", tool, err))
		}
	}
	return errors.Join(missing...)
}

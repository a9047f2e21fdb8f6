package commands

import (
	"github.com/spf13/cobra"

	"github.com/ftschopp/pve-scripts/pkg/engine"
	"github.com/ftschopp/pve-scripts/pkg/output"
)

func newStartCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the VM, mount shares and start containers",
		Long: `Start brings the plan up in order:

  1. the storage VM, waiting until it reports running and, if configured,
     until its health check passes
  2. every mount, in declared order
  3. every container, in declared order, skipping those whose mount is
     not available

A VM failure aborts the run. Mount and container failures are isolated.
Exit status is 0 on success, 2 when some resources failed or were skipped
and 1 when the run failed.`,
		Example: `  # Start with the default plan
  pvestack start

  # Start a stack on another node with a CUE plan
  pvestack start --host root@pve2 --plan ./stack.cue -o json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()

			p, proxmox, r, err := a.prepare(ctx)
			if err != nil {
				return err
			}
			if err := a.checkPolicies(ctx, p, string(engine.OperationStart)); err != nil {
				return err
			}

			store := a.runStore(ctx)
			eng, err := a.newEngine(p, proxmox, r, store)
			if err != nil {
				return err
			}

			outcome, runErr := eng.Start(ctx)
			a.record(ctx, store, outcome)
			if err := a.report(outcome); err != nil {
				return err
			}
			if isCancelled(ctx, runErr) {
				return errorf("start interrupted: %w", runErr)
			}
			return statusError(outcome, runErr)
		},
	}
}

func newStopCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "stop",
		Short: "Stop containers, unmount shares and shut down the VM",
		Long: `Stop takes the plan down in reverse: containers, then mounts (unless the
plan's shutdown policy keeps them), then the VM. Each guest gets a graceful
shutdown first and is stopped hard if that fails. Stop always visits every
resource.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()

			p, proxmox, r, err := a.prepare(ctx)
			if err != nil {
				return err
			}

			store := a.runStore(ctx)
			eng, err := a.newEngine(p, proxmox, r, store)
			if err != nil {
				return err
			}

			outcome, runErr := eng.Stop(ctx)
			a.record(ctx, store, outcome)
			if err := a.report(outcome); err != nil {
				return err
			}
			return statusError(outcome, runErr)
		},
	}
}

func newRestartCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "restart",
		Short: "Stop and then start the whole stack",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()

			p, proxmox, r, err := a.prepare(ctx)
			if err != nil {
				return err
			}
			if err := a.checkPolicies(ctx, p, string(engine.OperationStart)); err != nil {
				return err
			}

			store := a.runStore(ctx)
			eng, err := a.newEngine(p, proxmox, r, store)
			if err != nil {
				return err
			}

			stopped, started, runErr := eng.Restart(ctx)
			a.record(ctx, store, stopped)
			a.record(ctx, store, started)

			if stopped != nil {
				if err := a.report(stopped); err != nil {
					return err
				}
			}
			if started == nil {
				return statusError(stopped, runErr)
			}
			if err := a.report(started); err != nil {
				return err
			}

			if err := statusError(started, runErr); err != nil {
				return err
			}
			// A clean start after a partial stop is still partial.
			return statusError(stopped, nil)
		},
	}
}

func newStatusCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the state of every planned resource",
		Long: `Status queries the VM, mounts and containers without changing anything.
Query failures are shown per resource.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()

			p, proxmox, r, err := a.prepare(ctx)
			if err != nil {
				return err
			}

			eng, err := a.newEngine(p, proxmox, r, nil)
			if err != nil {
				return err
			}

			return a.printer.Print(output.StatusView{Report: eng.Status(ctx)})
		},
	}
}

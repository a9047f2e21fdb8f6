package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/ftschopp/pve-scripts/pkg/settings"
)

// Execute runs the root command
func Execute(ctx context.Context, version, commit, buildDate string) error {
	return execute(ctx, os.Args[1:], os.Stdout, version, commit, buildDate)
}

func execute(ctx context.Context, args []string, stdout io.Writer, version, commit, buildDate string) error {
	a := &app{version: version, stdout: stdout}
	rootCmd := newRootCommand(a, version, commit, buildDate)
	rootCmd.SetArgs(args)
	rootCmd.SetOut(stdout)

	err := rootCmd.ExecuteContext(ctx)
	if closeErr := a.close(ctx); closeErr != nil {
		a.logger.Warn().Err(closeErr).Msg("cleanup failed")
	}
	return err
}

func newRootCommand(a *app, version, commit, buildDate string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "pvestack",
		Short: "pvestack - ordered startup and shutdown for a Proxmox storage stack",
		Long: `pvestack brings up a storage VM, the network shares it exports and the
containers that use them, in that order, and takes them down in reverse.

A plan document (YAML or CUE) declares:
  - the storage VM and an optional health check that gates the shares
  - NFS and CIFS mounts on the host
  - LXC containers, optionally tied to a mount

Settings are read from /etc/pvestack/pvestack.yaml, PVESTACK_* environment
variables and flags, in increasing precedence.`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.setup(cmd)
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&a.settingsPath, "config", "c", "", "settings file (default "+settings.DefaultPath+")")
	flags.StringP("plan", "p", settings.DefaultPlanPath, "plan document (.yaml, .yml or .cue)")
	flags.StringP("output", "o", "table", "output format: table, json or yaml")
	flags.String("host", "", "run commands on a remote node over SSH ([user@]host[:port])")
	flags.String("ssh-key", "", "private key for --host")
	flags.Bool("ssh-sudo", false, "prefix remote commands with sudo -n")
	flags.Bool("skip-root-check", false, "do not require root in local mode")
	flags.String("db", settings.DefaultHistoryPath, "run history database")
	flags.Bool("record", true, "record runs in the history database")
	flags.String("policy-dir", "", "directory of additional .rego policies")
	flags.Bool("enforce-policies", false, "refuse to start when an error policy is violated")
	flags.String("log-level", "info", "log level: trace, debug, info, warn, error")
	flags.String("log-format", "console", "log format: console or json")
	flags.String("metrics-file", "", "write Prometheus metrics here after each run (node_exporter textfile)")
	flags.String("trace-exporter", "none", "trace exporter: none, stdout or otlp")
	flags.String("trace-endpoint", "", "OTLP gRPC endpoint for --trace-exporter=otlp")

	rootCmd.AddCommand(newStartCommand(a))
	rootCmd.AddCommand(newStopCommand(a))
	rootCmd.AddCommand(newRestartCommand(a))
	rootCmd.AddCommand(newStatusCommand(a))
	rootCmd.AddCommand(newValidateCommand(a))
	rootCmd.AddCommand(newHistoryCommand(a))

	return rootCmd
}

// isCancelled reports whether err came from the interrupt handler.
func isCancelled(ctx context.Context, err error) bool {
	return ctx.Err() != nil && errors.Is(err, context.Canceled)
}

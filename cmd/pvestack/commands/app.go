package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/ftschopp/pve-scripts/pkg/adapters"
	"github.com/ftschopp/pve-scripts/pkg/engine"
	"github.com/ftschopp/pve-scripts/pkg/output"
	"github.com/ftschopp/pve-scripts/pkg/plan"
	"github.com/ftschopp/pve-scripts/pkg/policy"
	"github.com/ftschopp/pve-scripts/pkg/probe"
	"github.com/ftschopp/pve-scripts/pkg/runner"
	"github.com/ftschopp/pve-scripts/pkg/settings"
	"github.com/ftschopp/pve-scripts/pkg/stores"
	"github.com/ftschopp/pve-scripts/pkg/telemetry"
	"github.com/ftschopp/pve-scripts/pkg/transports/ssh"
)

// geteuid is replaced in tests.
var geteuid = os.Geteuid

// app is the state shared by every command for one invocation.
type app struct {
	version      string
	settingsPath string
	stdout       io.Writer

	settings  *settings.Settings
	telemetry *telemetry.Telemetry
	logger    zerolog.Logger
	printer   *output.Printer

	closers []func() error
}

// setup loads settings and telemetry. It runs before every command.
func (a *app) setup(cmd *cobra.Command) error {
	s, err := settings.Load(a.settingsPath, cmd.Flags())
	if err != nil {
		return abort(engine.CodeConfigInvalid, "failed to load settings", err)
	}
	a.settings = s

	tel, err := telemetry.NewTelemetry(s.Telemetry(a.version))
	if err != nil {
		return abort(engine.CodeConfigInvalid, "failed to initialize telemetry", err)
	}
	a.telemetry = tel
	a.logger = tel.Logger.Component("cli")

	format, err := output.ParseFormat(s.Output)
	if err != nil {
		return abort(engine.CodeConfigInvalid, "invalid output format", err)
	}
	a.printer = output.NewPrinter(a.stdout, format, format == output.FormatTable && isTerminal(a.stdout))

	return nil
}

// close releases everything opened during the command, newest first.
func (a *app) close(ctx context.Context) error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil

	if a.telemetry != nil {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := a.telemetry.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (a *app) onClose(fn func() error) {
	a.closers = append(a.closers, fn)
}

// loadPlan reads and validates the configured plan document.
func (a *app) loadPlan() (*plan.Plan, error) {
	p, err := plan.NewLoader(a.telemetry.Logger.Logger).Load(a.settings.Plan)
	switch {
	case err == nil:
		return p, nil
	case errors.Is(err, plan.ErrConfigMissing):
		return nil, abort(engine.CodeConfigMissing, "plan file not found", err)
	default:
		return nil, abort(engine.CodeConfigInvalid, "plan is invalid", err)
	}
}

// connect returns the runner for the configured target: the local host, or
// a node reached over SSH.
func (a *app) connect(ctx context.Context) (runner.Runner, error) {
	if !a.settings.Remote() {
		return runner.NewLocal(a.telemetry.Logger.Logger), nil
	}

	cfg, err := ssh.ParseTarget(a.settings.Host)
	if err != nil {
		return nil, abort(engine.CodeConfigInvalid, "invalid ssh host", err)
	}
	sshSettings := a.settings.SSH
	cfg.AuthMethod = ssh.AuthMethod(sshSettings.Auth)
	cfg.PrivateKeyPath = sshSettings.KeyPath
	cfg.Password = sshSettings.Password
	if sshSettings.KnownHosts != "" {
		cfg.KnownHostsPath = sshSettings.KnownHosts
	}
	cfg.StrictHostKeyChecking = !sshSettings.InsecureHost
	cfg.UseSudo = sshSettings.Sudo
	cfg.ConnectionTimeout = sshSettings.ConnectTimeout

	client, err := ssh.NewClient(cfg, a.telemetry.Logger.Logger)
	if err != nil {
		return nil, abort(engine.CodeConfigInvalid, "invalid ssh settings", err)
	}
	err = client.Connect(ctx)
	var transportErr *ssh.TransportError
	if errors.As(err, &transportErr) && transportErr.Temporary() && ctx.Err() == nil {
		a.logger.Warn().Err(err).Str("host", cfg.Address()).Msg("ssh connect failed, retrying once")
		err = client.Connect(ctx)
	}
	if err != nil {
		return nil, abort(engine.CodeAdapterCommandFailed, "failed to connect to "+cfg.Address(), err)
	}
	a.onClose(client.Close)

	return ssh.NewRunner(client, a.telemetry.Logger.Logger), nil
}

// prepare checks every precondition of a lifecycle command and returns the
// plan and adapter factory. Nothing is started or stopped here.
func (a *app) prepare(ctx context.Context) (*plan.Plan, *adapters.Proxmox, runner.Runner, error) {
	if !a.settings.Remote() && !a.settings.SkipRootCheck && geteuid() != 0 {
		return nil, nil, nil, abort(engine.CodeConfigInvalid, "pvestack must run as root", nil)
	}

	p, err := a.loadPlan()
	if err != nil {
		return nil, nil, nil, err
	}

	r, err := a.connect(ctx)
	if err != nil {
		return nil, nil, nil, err
	}

	proxmox := adapters.NewProxmox(r, a.telemetry.Logger.Component("adapters"))
	if err := proxmox.CheckTools(ctx); err != nil {
		return nil, nil, nil, abort(engine.CodeConfigMissing, "control tooling is missing", err)
	}

	return p, proxmox, r, nil
}

// runStore opens the history store for a lifecycle run. It returns nil
// when history is disabled or cannot be opened; a history failure never
// blocks a run.
func (a *app) runStore(ctx context.Context) *stores.SQLiteStore {
	store, err := a.openStore(ctx)
	if err != nil {
		a.logger.Warn().Err(err).Msg("run history disabled for this run")
		return nil
	}
	return store
}

// newEngine wires an engine with telemetry. store may be nil.
func (a *app) newEngine(p *plan.Plan, proxmox *adapters.Proxmox, r runner.Runner, store *stores.SQLiteStore) (*engine.Engine, error) {
	events := a.telemetry.Events
	if store != nil {
		events.Subscribe(store, nil)
	}

	prober := probe.New(r,
		probe.WithTimeout(a.settings.Engine.ProbeTimeout),
		probe.WithLogger(a.telemetry.Logger.Logger),
	)

	eng, err := engine.New(p, proxmox, prober,
		engine.WithLogger(a.telemetry.Logger.Logger),
		engine.WithEventSink(events),
		engine.WithRecorder(a.telemetry.Metrics),
		engine.WithTracer(a.telemetry.Tracer.Tracer()),
		engine.WithPollInterval(a.settings.Engine.PollInterval),
	)
	if err != nil {
		return nil, abort(engine.CodeConfigInvalid, "failed to create engine", err)
	}
	return eng, nil
}

// openStore opens the history database, or returns nil when history is
// disabled.
func (a *app) openStore(ctx context.Context) (*stores.SQLiteStore, error) {
	if !a.settings.History.Enabled {
		return nil, nil
	}
	store, err := stores.Open(ctx, stores.Config{
		Path:   a.settings.History.Path,
		Logger: a.telemetry.Logger.Component("history"),
	})
	if err != nil {
		return nil, err
	}
	a.onClose(store.Close)
	return store, nil
}

// policyEngine builds the policy engine with site policies loaded.
func (a *app) policyEngine(ctx context.Context) (*policy.Engine, error) {
	pe, err := policy.NewEngine(a.telemetry.Logger.Logger)
	if err != nil {
		return nil, err
	}
	if dir := a.settings.Policies.Dir; dir != "" {
		if err := pe.LoadPolicies(ctx, dir); err != nil {
			return nil, err
		}
	}
	for _, name := range a.settings.Policies.Disabled {
		if err := pe.DisablePolicy(name); err != nil {
			a.logger.Warn().Err(err).Str("policy", name).Msg("cannot disable policy")
		}
	}
	return pe, nil
}

// checkPolicies evaluates policies before a start. Violations are logged;
// error violations abort only when enforcement is on.
func (a *app) checkPolicies(ctx context.Context, p *plan.Plan, operation string) error {
	if !a.settings.Policies.Enabled {
		return nil
	}

	pe, err := a.policyEngine(ctx)
	if err != nil {
		return abort(engine.CodeConfigInvalid, "failed to load policies", err)
	}
	result, err := pe.Evaluate(ctx, p, operation)
	if err != nil {
		return abort(engine.CodeConfigInvalid, "policy evaluation failed", err)
	}

	for _, v := range result.Violations {
		ev := a.logger.Warn()
		if v.Severity == policy.SeverityInfo {
			ev = a.logger.Info()
		}
		ev.Str("policy", v.Policy).Str("resource", v.Resource).Str("severity", string(v.Severity)).Msg(v.Message)
	}
	for _, w := range result.Warnings {
		a.logger.Warn().Msg(w)
	}

	if !result.Allowed && a.settings.Policies.Enforce {
		return abort(engine.CodePolicyDenied, "plan violates enforced policies", nil)
	}
	return nil
}

// record saves an outcome to the history store and prunes old runs.
func (a *app) record(ctx context.Context, store *stores.SQLiteStore, outcome *engine.Outcome) {
	if store == nil || outcome == nil {
		return
	}
	// Persist even when the run itself was cancelled.
	ctx = context.WithoutCancel(ctx)

	if err := store.SaveOutcome(ctx, a.settings.Plan, outcome); err != nil {
		a.logger.Warn().Err(err).Str("run_id", outcome.RunID).Msg("failed to record run")
		return
	}

	if retention := a.settings.History.Retention; retention > 0 {
		n, err := store.DeleteRunsBefore(ctx, time.Now().Add(-retention))
		if err != nil {
			a.logger.Warn().Err(err).Msg("failed to prune run history")
		} else if n > 0 {
			a.logger.Debug().Int64("runs", n).Msg("pruned run history")
		}
	}
}

// report prints an outcome and its one-line summary.
func (a *app) report(outcome *engine.Outcome) error {
	if err := a.printer.Print(output.OutcomeView{Outcome: outcome}); err != nil {
		return err
	}
	if a.printer.Structured() {
		return nil
	}

	line := output.SummaryLine(outcome)
	switch outcome.Status {
	case engine.RunStatusSuccess:
		a.printer.Success(line)
	case engine.RunStatusPartialSuccess:
		a.printer.Warning(line)
	default:
		a.printer.Error(line)
		if outcome.Error != "" {
			a.printer.Error(outcome.Error)
		}
	}
	return nil
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	info, err := f.Stat()
	if err != nil {
		return false
	}
	return info.Mode()&os.ModeCharDevice != 0
}

// Ensure the history store can observe runs.
var _ engine.EventSink = (*stores.SQLiteStore)(nil)

func errorf(format string, args ...any) error {
	return &ExitError{Code: ExitFailure, Err: fmt.Errorf(format, args...)}
}

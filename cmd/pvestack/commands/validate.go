package commands

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ftschopp/pve-scripts/pkg/engine"
	"github.com/ftschopp/pve-scripts/pkg/output"
	"github.com/ftschopp/pve-scripts/pkg/plan"
	"github.com/ftschopp/pve-scripts/pkg/policy"
)

// validation is the structured form of a validate run.
type validation struct {
	Valid  bool           `json:"valid"`
	Error  string         `json:"error,omitempty"`
	Plan   *plan.Plan     `json:"plan,omitempty"`
	Policy *policy.Result `json:"policy,omitempty"`
}

func newValidateCommand(a *app) *cobra.Command {
	var watch bool

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Check the plan and evaluate policies without touching resources",
		Long: `Validate loads the plan, reports what it would manage and evaluates the
plan policies against it. Nothing is started, stopped or queried, so it
runs without root and without the Proxmox tools.

With --watch the plan is validated again every time the file changes.`,
		Example: `  pvestack validate --plan ./stack.yaml
  pvestack validate --watch`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()

			if !watch {
				p, err := a.loadPlan()
				if err != nil {
					a.printValidation(&validation{Error: err.Error()})
					return err
				}
				return a.validate(ctx, p)
			}

			loader := plan.NewLoader(a.telemetry.Logger.Logger)
			err := loader.Watch(ctx, a.settings.Plan, func(p *plan.Plan, err error) {
				if err != nil {
					a.printValidation(&validation{Error: err.Error()})
					return
				}
				if err := a.validate(ctx, p); err != nil {
					a.logger.Warn().Err(err).Msg("plan failed validation")
				}
			})
			if err != nil {
				return errorf("watch failed: %w", err)
			}
			return nil
		},
	}

	cmd.Flags().BoolVarP(&watch, "watch", "w", false, "re-validate whenever the plan file changes")
	return cmd
}

// validate evaluates policies against a loaded plan and prints the result.
func (a *app) validate(ctx context.Context, p *plan.Plan) error {
	v := &validation{Valid: true, Plan: p}

	if a.settings.Policies.Enabled {
		pe, err := a.policyEngine(ctx)
		if err != nil {
			return abort(engine.CodeConfigInvalid, "failed to load policies", err)
		}
		result, err := pe.Evaluate(ctx, p, string(engine.OperationStart))
		if err != nil {
			return abort(engine.CodeConfigInvalid, "policy evaluation failed", err)
		}
		v.Policy = result
		v.Valid = result.Allowed
	}

	if err := a.printValidation(v); err != nil {
		return err
	}
	if !v.Valid {
		return abort(engine.CodePolicyDenied, "plan violates policies", nil)
	}
	return nil
}

func (a *app) printValidation(v *validation) error {
	if a.printer.Structured() {
		return a.printer.Print(v)
	}

	if v.Error != "" {
		a.printer.Error("plan is invalid: " + v.Error)
		return nil
	}

	if err := output.SimpleTable(a.stdout, planSummary(v.Plan)); err != nil {
		return err
	}

	if v.Policy != nil {
		if len(v.Policy.Violations) > 0 {
			a.printer.Println()
			if err := a.printer.Print(output.PolicyView{Result: v.Policy}); err != nil {
				return err
			}
		}
		for _, w := range v.Policy.Warnings {
			a.printer.Warning(w)
		}
	}

	if v.Valid {
		a.printer.Success(fmt.Sprintf("plan %s is valid: %d resources", v.Plan.Source, v.Plan.ResourceCount()))
	} else {
		a.printer.Error(fmt.Sprintf("plan %s violates policies", v.Plan.Source))
	}
	return nil
}

func planSummary(p *plan.Plan) [][2]string {
	pairs := [][2]string{{"Plan", p.Source}}

	if p.VM != nil {
		vm := fmt.Sprintf("%d (%s), start timeout %s", p.VM.ID, p.VM.DisplayName(), p.VM.StartTimeout)
		if hc := p.VM.HealthCheck; hc != nil {
			vm += fmt.Sprintf(", %s check on %s", hc.Kind, hc.Host)
		}
		pairs = append(pairs, [2]string{"VM", vm})
	} else {
		pairs = append(pairs, [2]string{"VM", "none"})
	}

	for _, m := range p.Mounts {
		pairs = append(pairs, [2]string{"Mount", fmt.Sprintf("%s %s -> %s", m.Kind, m.Source, m.Target)})
	}

	for _, c := range p.Containers {
		ct := strconv.Itoa(c.ID) + " (" + c.Name + ")"
		if c.DependsOnMount != "" {
			ct += ", needs " + c.DependsOnMount
		}
		pairs = append(pairs, [2]string{"Container", ct})
	}

	shutdown := []string{
		"containers " + p.Shutdown.ContainerTimeout.String(),
		"vm " + p.Shutdown.VMTimeout.String(),
	}
	if !p.Shutdown.UnmountShares {
		shutdown = append(shutdown, "shares stay mounted")
	}
	pairs = append(pairs, [2]string{"Shutdown", strings.Join(shutdown, ", ")})

	return pairs
}

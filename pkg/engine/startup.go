package engine

import (
	"context"
	"fmt"
	"strconv"

	"github.com/ftschopp/pve-scripts/pkg/adapters"
	"github.com/ftschopp/pve-scripts/pkg/plan"
	"github.com/ftschopp/pve-scripts/pkg/poll"
)

// Start brings the plan up: the VM and its readiness gate, then mounts in
// declared order, then containers in declared order.
//
// A VM failure is fatal: it is returned as the error, the outcome is
// Failed and later phases are not attempted. Mount and container failures
// are recorded per resource and downgrade the outcome to PartialSuccess.
// The returned outcome is never nil.
func (e *Engine) Start(ctx context.Context) (*Outcome, error) {
	ctx, r := e.newRun(ctx, OperationStart)

	vmCount := 0
	if e.plan.VM != nil {
		vmCount = 1
	}
	if err := r.phase(ctx, PhaseVM, vmCount, r.startVM); err != nil {
		return r.finish(ctx, RunStatusFailed, err), err
	}

	mounter := e.factory.Mounts()
	_ = r.phase(ctx, PhaseMounts, len(e.plan.Mounts), func(ctx context.Context) error {
		r.startMounts(ctx, mounter)
		return nil
	})
	_ = r.phase(ctx, PhaseContainers, len(e.plan.Containers), func(ctx context.Context) error {
		r.startContainers(ctx, mounter)
		return nil
	})

	status := RunStatusSuccess
	if r.has(ResultFailed, ResultSkipped) {
		status = RunStatusPartialSuccess
	}
	return r.finish(ctx, status, nil), nil
}

func (r *run) startVM(ctx context.Context) error {
	spec := *r.engine.plan.VM
	vm := r.engine.factory.VM(spec)
	res := r.begin(ResourceRef{Kind: adapters.KindVM, ID: strconv.Itoa(spec.ID), Name: spec.DisplayName()}, PhaseVM)

	fatal := func(err *EngineError) error {
		r.fail(ctx, res, err)
		return err
	}

	state, err := vm.Status(ctx)
	if err != nil {
		return fatal(NewFatalError(CodeAdapterCommandFailed, "failed to query vm status", err).WithOperation("status"))
	}

	switch state {
	case adapters.StateNotFound:
		return fatal(NewFatalError(CodeResourceNotFound, fmt.Sprintf("vm %d does not exist", spec.ID), nil).WithOperation("status"))

	case adapters.StateRunning:
		res.Result = ResultAlreadyRunning

	default:
		if err := vm.Start(ctx); err != nil {
			return fatal(NewFatalError(CodeAdapterCommandFailed, "failed to start vm", err).WithOperation("start"))
		}

		desc := fmt.Sprintf("vm %d running", spec.ID)
		result, err := r.engine.poller.WaitFor(ctx, desc, spec.StartTimeout, r.engine.interval, func(ctx context.Context) bool {
			st, err := vm.Status(ctx)
			if err != nil {
				r.logger.Debug().Err(err).Msg("vm status check failed while waiting")
				return false
			}
			return st == adapters.StateRunning
		})
		if result != poll.Ready {
			return fatal(NewFatalError(CodeReadinessTimeout, "vm did not report running", err).
				WithOperation("wait_running").
				WithDetail("timeout", spec.StartTimeout.String()))
		}
		res.Result = ResultStarted
	}

	if hc := spec.HealthCheck; hc != nil {
		target := hc.Target()
		r.logger.Info().Str("target", target.String()).Dur("timeout", hc.Timeout).Msg("waiting for vm health check")

		result, err := r.engine.poller.WaitFor(ctx, "vm health check "+target.String(), hc.Timeout, hc.Interval, func(ctx context.Context) bool {
			return r.engine.prober.Check(ctx, target)
		})
		if result != poll.Ready {
			return fatal(NewFatalError(CodeReadinessTimeout, "vm health check did not pass", err).
				WithOperation("health_check").
				WithDetail("target", target.String()).
				WithDetail("timeout", hc.Timeout.String()))
		}
	}

	r.record(ctx, res)
	return nil
}

func (r *run) startMounts(ctx context.Context, mounter adapters.Mounter) {
	for _, m := range r.engine.plan.Mounts {
		res := r.begin(ResourceRef{Kind: adapters.KindMount, ID: m.Target, Name: m.Source}, PhaseMounts)

		mounted, err := mounter.IsMounted(ctx, m.Target)
		if err != nil {
			r.fail(ctx, res, NewResourceError(CodeMountFailed, "failed to check mount state", err).WithOperation("is_mounted"))
			continue
		}
		if mounted {
			res.Result = ResultAlreadyRunning
			r.record(ctx, res)
			continue
		}

		if err := mounter.EnsureTarget(ctx, m.Target); err != nil {
			r.fail(ctx, res, NewResourceError(CodeMountFailed, "failed to prepare mount target", err).WithOperation("ensure_target"))
			continue
		}
		if err := mounter.Mount(ctx, m.Kind, m.Source, m.Target, m.EffectiveOptions()); err != nil {
			r.fail(ctx, res, NewResourceError(CodeMountFailed, "mount failed", err).WithOperation("mount"))
			continue
		}

		res.Result = ResultStarted
		r.record(ctx, res)
	}
}

func (r *run) startContainers(ctx context.Context, mounter adapters.Mounter) {
	for _, spec := range r.engine.plan.Containers {
		res := r.begin(ResourceRef{Kind: adapters.KindContainer, ID: strconv.Itoa(spec.ID), Name: spec.Name}, PhaseContainers)

		if spec.DependsOnMount != "" {
			if met, why := r.dependencyMet(ctx, mounter, spec.DependsOnMount); !met {
				res.Result = ResultSkipped
				res.Reason = ReasonUnmetDependency
				res.Code = CodeDependencyUnmet
				res.Error = why
				r.record(ctx, res)
				continue
			}
		}

		ct := r.engine.factory.Container(spec)
		state, err := ct.Status(ctx)
		if err != nil {
			r.fail(ctx, res, NewResourceError(CodeAdapterCommandFailed, "failed to query container status", err).WithOperation("status"))
			continue
		}

		switch state {
		case adapters.StateNotFound:
			r.fail(ctx, res, NewResourceError(CodeResourceNotFound, fmt.Sprintf("container %d does not exist", spec.ID), nil).WithOperation("status"))
			continue

		case adapters.StateRunning:
			res.Result = ResultAlreadyRunning

		default:
			if err := ct.Start(ctx); err != nil {
				r.fail(ctx, res, NewResourceError(CodeAdapterCommandFailed, "failed to start container", err).WithOperation("start"))
				continue
			}
			res.Result = ResultStarted

			if spec.Wait > 0 {
				r.logger.Info().Str("resource", res.ResourceRef.String()).Dur("wait", spec.Wait).Msg("waiting after container start")
				if err := r.engine.sleep(ctx, spec.Wait); err != nil {
					r.logger.Warn().Err(err).Str("resource", res.ResourceRef.String()).Msg("post-start wait interrupted")
				}
			}
		}

		r.record(ctx, res)
	}
}

// dependencyMet reports whether the mount at target is declared and
// currently mounted. A dependency is looked up by normalized path only.
func (r *run) dependencyMet(ctx context.Context, mounter adapters.Mounter, target string) (bool, string) {
	m, ok := r.engine.plan.MountByTarget(target)
	if !ok {
		return false, fmt.Sprintf("mount %s is not declared in the plan", plan.NormalizeTarget(target))
	}

	mounted, err := mounter.IsMounted(ctx, m.Target)
	if err != nil {
		return false, fmt.Sprintf("failed to check mount %s: %v", m.Target, err)
	}
	if !mounted {
		return false, fmt.Sprintf("mount %s is not mounted", m.Target)
	}
	return true, ""
}

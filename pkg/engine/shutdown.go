package engine

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/ftschopp/pve-scripts/pkg/adapters"
)

// Stop tears the plan down: containers in reverse order, then mounts in
// reverse order when the shutdown policy allows, then the VM.
//
// Every resource is attempted regardless of earlier failures, so Stop is
// safe after a partial or failed Start. The error is always nil; failures
// are recorded in the outcome, which is PartialSuccess if any occurred.
func (e *Engine) Stop(ctx context.Context) (*Outcome, error) {
	ctx, r := e.newRun(ctx, OperationStop)

	_ = r.phase(ctx, PhaseContainers, len(e.plan.Containers), func(ctx context.Context) error {
		for i := len(e.plan.Containers) - 1; i >= 0; i-- {
			spec := e.plan.Containers[i]
			ref := ResourceRef{Kind: adapters.KindContainer, ID: strconv.Itoa(spec.ID), Name: spec.Name}
			r.stopGuest(ctx, e.factory.Container(spec), ref, PhaseContainers, e.plan.Shutdown.ContainerTimeout)
		}
		return nil
	})

	mounter := e.factory.Mounts()
	_ = r.phase(ctx, PhaseMounts, len(e.plan.Mounts), func(ctx context.Context) error {
		r.stopMounts(ctx, mounter)
		return nil
	})

	vmCount := 0
	if e.plan.VM != nil {
		vmCount = 1
	}
	_ = r.phase(ctx, PhaseVM, vmCount, func(ctx context.Context) error {
		spec := *e.plan.VM
		ref := ResourceRef{Kind: adapters.KindVM, ID: strconv.Itoa(spec.ID), Name: spec.DisplayName()}
		r.stopGuest(ctx, e.factory.VM(spec), ref, PhaseVM, e.plan.Shutdown.VMTimeout)
		return nil
	})

	status := RunStatusSuccess
	if r.has(ResultFailed) {
		status = RunStatusPartialSuccess
	}
	return r.finish(ctx, status, nil), nil
}

// stopGuest stops a guest gracefully and falls back to a forced stop when
// the graceful attempt fails or times out.
func (r *run) stopGuest(ctx context.Context, guest adapters.Lifecycle, ref ResourceRef, phase Phase, timeout time.Duration) {
	res := r.begin(ref, phase)

	state, err := guest.Status(ctx)
	switch {
	case err != nil:
		r.logger.Warn().Err(err).Str("resource", ref.String()).Msg("status unknown, attempting stop")
	case state == adapters.StateStopped || state == adapters.StateNotFound:
		res.Result = ResultAlreadyStopped
		r.record(ctx, res)
		return
	}

	if err := guest.Stop(ctx, timeout); err != nil {
		r.logger.Warn().Err(err).Str("resource", ref.String()).Dur("timeout", timeout).Msg("graceful stop failed, forcing")

		if forceErr := guest.ForceStop(ctx); forceErr != nil {
			r.fail(ctx, res, NewResourceError(CodeAdapterCommandFailed, "failed to stop", errors.Join(err, forceErr)).WithOperation("force_stop"))
			return
		}
		res.Reason = ReasonForced
	}

	res.Result = ResultStopped
	r.record(ctx, res)
}

func (r *run) stopMounts(ctx context.Context, mounter adapters.Mounter) {
	mounts := r.engine.plan.Mounts
	for i := len(mounts) - 1; i >= 0; i-- {
		m := mounts[i]
		res := r.begin(ResourceRef{Kind: adapters.KindMount, ID: m.Target, Name: m.Source}, PhaseMounts)

		if !r.engine.plan.Shutdown.UnmountShares {
			res.Result = ResultSkipped
			res.Reason = ReasonUnmountDisabled
			r.record(ctx, res)
			continue
		}

		mounted, err := mounter.IsMounted(ctx, m.Target)
		if err != nil {
			r.logger.Warn().Err(err).Str("target", m.Target).Msg("mount state unknown, attempting unmount")
		} else if !mounted {
			res.Result = ResultAlreadyStopped
			r.record(ctx, res)
			continue
		}

		if err := mounter.Unmount(ctx, m.Target); err != nil {
			r.fail(ctx, res, NewResourceError(CodeUnmountFailed, "unmount failed", err).WithOperation("unmount"))
			continue
		}

		res.Result = ResultStopped
		r.record(ctx, res)
	}
}

package engine

import (
	"context"
	"strconv"

	"github.com/ftschopp/pve-scripts/pkg/adapters"
)

// Status reports the observed state of every planned resource. It issues
// read-only queries and records adapter errors per entry.
func (e *Engine) Status(ctx context.Context) *StatusReport {
	report := &StatusReport{
		Mounts:     make([]MountStatus, 0, len(e.plan.Mounts)),
		Containers: make([]GuestStatus, 0, len(e.plan.Containers)),
		CheckedAt:  e.clock.Now(),
	}

	if vm := e.plan.VM; vm != nil {
		ref := ResourceRef{Kind: adapters.KindVM, ID: strconv.Itoa(vm.ID), Name: vm.DisplayName()}
		st := e.guestStatus(ctx, e.factory.VM(*vm), ref)
		report.VM = &st
	}

	mounter := e.factory.Mounts()
	for _, m := range e.plan.Mounts {
		ms := MountStatus{
			ResourceRef: ResourceRef{Kind: adapters.KindMount, ID: m.Target, Name: m.Source},
			Type:        m.Kind,
			Source:      m.Source,
		}
		mounted, err := mounter.IsMounted(ctx, m.Target)
		if err != nil {
			ms.Error = err.Error()
		}
		ms.Mounted = mounted
		e.recorder.RecordState(adapters.KindMount, m.Target, mounted)
		report.Mounts = append(report.Mounts, ms)
	}

	for _, c := range e.plan.Containers {
		ref := ResourceRef{Kind: adapters.KindContainer, ID: strconv.Itoa(c.ID), Name: c.Name}
		report.Containers = append(report.Containers, e.guestStatus(ctx, e.factory.Container(c), ref))
	}

	return report
}

func (e *Engine) guestStatus(ctx context.Context, guest adapters.Lifecycle, ref ResourceRef) GuestStatus {
	gs := GuestStatus{ResourceRef: ref}

	state, err := guest.Status(ctx)
	if err != nil {
		gs.State = adapters.StateUnknown
		gs.Error = err.Error()
		e.logger.Debug().Err(err).Str("resource", ref.String()).Msg("status query failed")
	} else {
		gs.State = state
	}

	e.recorder.RecordState(ref.Kind, ref.ID, gs.State == adapters.StateRunning)
	return gs
}

package engine

import (
	"context"
	"time"

	"github.com/ftschopp/pve-scripts/pkg/adapters"
	"github.com/ftschopp/pve-scripts/pkg/plan"
	"github.com/ftschopp/pve-scripts/pkg/probe"
)

// AdapterFactory builds the adapters for the resources in a plan.
type AdapterFactory interface {
	VM(vm plan.ManagedVM) adapters.Lifecycle
	Container(ct plan.ContainerSpec) adapters.Lifecycle
	Mounts() adapters.Mounter
}

// HealthChecker performs one bounded readiness check.
type HealthChecker interface {
	Check(ctx context.Context, target probe.Target) bool
}

// Recorder receives run metrics.
type Recorder interface {
	RecordRun(operation Operation, status RunStatus, duration time.Duration)
	RecordResource(kind adapters.Kind, operation Operation, result ResultKind, duration time.Duration)
	RecordState(kind adapters.Kind, id string, up bool)
}

type nopRecorder struct{}

func (nopRecorder) RecordRun(Operation, RunStatus, time.Duration) {}
func (nopRecorder) RecordResource(adapters.Kind, Operation, ResultKind, time.Duration) {}
func (nopRecorder) RecordState(adapters.Kind, string, bool) {}

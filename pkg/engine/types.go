package engine

import (
	"fmt"
	"time"

	"github.com/ftschopp/pve-scripts/pkg/adapters"
)

// Operation is the kind of run the engine performed.
type Operation string

const (
	OperationStart Operation = "start"
	OperationStop  Operation = "stop"
)

// Phase is one ordered stage of a run.
type Phase string

const (
	PhaseVM         Phase = "vm"
	PhaseMounts     Phase = "mounts"
	PhaseContainers Phase = "containers"
)

// ResultKind is the per-resource outcome.
type ResultKind string

const (
	ResultStarted        ResultKind = "started"
	ResultAlreadyRunning ResultKind = "already_running"
	ResultStopped        ResultKind = "stopped"
	ResultAlreadyStopped ResultKind = "already_stopped"
	ResultSkipped        ResultKind = "skipped"
	ResultFailed         ResultKind = "failed"
)

// Skip reasons.
const (
	ReasonUnmetDependency = "unmet-dependency"
	ReasonUnmountDisabled = "unmount-disabled"
	ReasonForced          = "forced"
)

// RunStatus is the aggregate status of a run.
type RunStatus string

const (
	RunStatusSuccess        RunStatus = "success"
	RunStatusPartialSuccess RunStatus = "partial_success"
	RunStatusFailed         RunStatus = "failed"
)

// ResourceRef identifies a resource within a plan.
type ResourceRef struct {
	// Kind is the resource kind.
	Kind adapters.Kind `json:"kind"`

	// ID is the Proxmox VMID for guests and the target path for mounts.
	ID string `json:"id"`

	// Name is the display name.
	Name string `json:"name,omitempty"`
}

// String renders the reference as "<kind> <id>".
func (r ResourceRef) String() string {
	return fmt.Sprintf("%s %s", r.Kind, r.ID)
}

// ResourceResult records what happened to one resource during a run.
type ResourceResult struct {
	ResourceRef

	// Phase is the phase the resource belongs to.
	Phase Phase `json:"phase"`

	// Result is the outcome for this resource.
	Result ResultKind `json:"result"`

	// Reason qualifies Skipped results and forced stops.
	Reason string `json:"reason,omitempty"`

	// Code classifies a failure.
	Code ErrorCode `json:"code,omitempty"`

	// Err is the failure cause, if any.
	Err error `json:"-"`

	// Error is Err rendered for serialization.
	Error string `json:"error,omitempty"`

	// StartedAt is when the engine began working on the resource.
	StartedAt time.Time `json:"started_at"`

	// Duration is how long the resource took, including waits.
	Duration time.Duration `json:"duration"`
}

// PhaseTiming records how long a phase took.
type PhaseTiming struct {
	Phase     Phase         `json:"phase"`
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration"`
}

// Summary counts resource results by kind.
type Summary struct {
	Total          int `json:"total"`
	Started        int `json:"started"`
	AlreadyRunning int `json:"already_running"`
	Stopped        int `json:"stopped"`
	AlreadyStopped int `json:"already_stopped"`
	Skipped        int `json:"skipped"`
	Failed         int `json:"failed"`
}

// Outcome is the run-scoped result accumulator returned to the caller. The
// engine never reads it back.
type Outcome struct {
	// RunID is the unique identifier for this run.
	RunID string `json:"run_id"`

	// Operation is start or stop.
	Operation Operation `json:"operation"`

	// Status is the aggregate run status.
	Status RunStatus `json:"status"`

	// StartedAt is when the run started.
	StartedAt time.Time `json:"started_at"`

	// CompletedAt is when the run completed.
	CompletedAt time.Time `json:"completed_at"`

	// Duration is the total run duration.
	Duration time.Duration `json:"duration"`

	// Resources lists results in the order resources were processed.
	Resources []ResourceResult `json:"resources"`

	// Phases lists the time spent in each phase.
	Phases []PhaseTiming `json:"phases"`

	// Err is the fatal error that aborted the run, if any.
	Err error `json:"-"`

	// Error is Err rendered for serialization.
	Error string `json:"error,omitempty"`
}

// Summary counts the resource results.
func (o *Outcome) Summary() Summary {
	s := Summary{Total: len(o.Resources)}
	for _, r := range o.Resources {
		switch r.Result {
		case ResultStarted:
			s.Started++
		case ResultAlreadyRunning:
			s.AlreadyRunning++
		case ResultStopped:
			s.Stopped++
		case ResultAlreadyStopped:
			s.AlreadyStopped++
		case ResultSkipped:
			s.Skipped++
		case ResultFailed:
			s.Failed++
		}
	}
	return s
}

// Result returns the recorded result for a resource.
func (o *Outcome) Result(kind adapters.Kind, id string) (ResourceResult, bool) {
	for _, r := range o.Resources {
		if r.Kind == kind && r.ID == id {
			return r, true
		}
	}
	return ResourceResult{}, false
}

// GuestStatus is the observed state of a VM or container.
type GuestStatus struct {
	ResourceRef
	State adapters.State `json:"state"`
	Error string         `json:"error,omitempty"`
}

// MountStatus is the observed state of a mount.
type MountStatus struct {
	ResourceRef
	Type    string `json:"type"`
	Source  string `json:"source"`
	Mounted bool   `json:"mounted"`
	Error   string `json:"error,omitempty"`
}

// StatusReport is a best-effort snapshot of every planned resource.
type StatusReport struct {
	VM         *GuestStatus  `json:"vm,omitempty"`
	Mounts     []MountStatus `json:"mounts"`
	Containers []GuestStatus `json:"containers"`
	CheckedAt  time.Time     `json:"checked_at"`
}

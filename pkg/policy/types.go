package policy

import (
	"math"
	"time"

	"github.com/ftschopp/pve-scripts/pkg/plan"
)

// Severity represents the severity level of a policy violation.
type Severity string

const (
	// SeverityInfo is informational only.
	SeverityInfo Severity = "info"

	// SeverityWarning is reported but does not block a run.
	SeverityWarning Severity = "warning"

	// SeverityError blocks a run when policies are enforced.
	SeverityError Severity = "error"
)

// Blocking reports whether violations of this severity deny the plan.
func (s Severity) Blocking() bool {
	return s == SeverityError
}

// Policy is a Rego module whose deny set is evaluated against a plan.
type Policy struct {
	// Name uniquely identifies the policy.
	Name string `json:"name"`

	// Description is shown by the validate command.
	Description string `json:"description"`

	// Rego is the policy source.
	Rego string `json:"rego"`

	// Severity applies to violations that do not carry their own.
	Severity Severity `json:"severity"`

	// Enabled indicates whether the policy is evaluated.
	Enabled bool `json:"enabled"`

	// Source is the file the policy was loaded from, empty for built-ins.
	Source string `json:"source,omitempty"`
}

// Violation is one entry of a policy's deny set.
type Violation struct {
	Policy   string   `json:"policy"`
	Resource string   `json:"resource,omitempty"`
	Message  string   `json:"message"`
	Severity Severity `json:"severity"`
}

// Result is the outcome of evaluating every enabled policy against a plan.
type Result struct {
	// Allowed is false when any violation is blocking.
	Allowed bool `json:"allowed"`

	Violations []Violation `json:"violations,omitempty"`

	// Warnings lists policies that failed to evaluate.
	Warnings []string `json:"warnings,omitempty"`

	EvaluatedPolicies []string      `json:"evaluated_policies"`
	EvaluatedAt       time.Time     `json:"evaluated_at"`
	Duration          time.Duration `json:"duration"`
}

// Input is the document policies see as `input`. Durations are whole
// seconds, matching the plan file.
type Input struct {
	Plan    PlanInput `json:"plan"`
	Context Context   `json:"context"`
}

// Context describes why the plan is being evaluated.
type Context struct {
	Operation string    `json:"operation"`
	Timestamp time.Time `json:"timestamp"`
}

// PlanInput is the policy view of a plan.
type PlanInput struct {
	VM         *VMInput         `json:"vm,omitempty"`
	Mounts     []MountInput     `json:"mounts"`
	Containers []ContainerInput `json:"containers"`
	Shutdown   ShutdownInput    `json:"shutdown"`
}

type VMInput struct {
	ID           int               `json:"id"`
	Name         string            `json:"name"`
	StartTimeout int               `json:"start_timeout"`
	HealthCheck  *HealthCheckInput `json:"health_check,omitempty"`
}

type HealthCheckInput struct {
	Type     string `json:"type"`
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Scheme   string `json:"scheme"`
	Timeout  int    `json:"timeout"`
	Interval int    `json:"interval"`
}

type MountInput struct {
	Type        string `json:"type"`
	Source      string `json:"source"`
	Target      string `json:"target"`
	Options     string `json:"options"`
	Credentials string `json:"credentials"`
}

type ContainerInput struct {
	ID             int    `json:"id"`
	Name           string `json:"name"`
	Wait           int    `json:"wait"`
	DependsOnMount string `json:"depends_on_mount"`
}

type ShutdownInput struct {
	ContainerTimeout int  `json:"container_timeout"`
	VMTimeout        int  `json:"vm_timeout"`
	UnmountShares    bool `json:"unmount_shares"`
}

// NewInput builds the policy input for p.
func NewInput(p *plan.Plan, operation string) *Input {
	in := &Input{
		Plan: PlanInput{
			Mounts:     make([]MountInput, 0, len(p.Mounts)),
			Containers: make([]ContainerInput, 0, len(p.Containers)),
			Shutdown: ShutdownInput{
				ContainerTimeout: secs(p.Shutdown.ContainerTimeout),
				VMTimeout:        secs(p.Shutdown.VMTimeout),
				UnmountShares:    p.Shutdown.UnmountShares,
			},
		},
		Context: Context{
			Operation: operation,
			Timestamp: time.Now().UTC(),
		},
	}

	if p.VM != nil {
		vm := &VMInput{
			ID:           p.VM.ID,
			Name:         p.VM.DisplayName(),
			StartTimeout: secs(p.VM.StartTimeout),
		}
		if hc := p.VM.HealthCheck; hc != nil {
			vm.HealthCheck = &HealthCheckInput{
				Type:     string(hc.Kind),
				Host:     hc.Host,
				Port:     hc.Port,
				Scheme:   hc.Scheme,
				Timeout:  secs(hc.Timeout),
				Interval: secs(hc.Interval),
			}
		}
		in.Plan.VM = vm
	}

	for _, m := range p.Mounts {
		in.Plan.Mounts = append(in.Plan.Mounts, MountInput{
			Type:        m.Kind,
			Source:      m.Source,
			Target:      m.Target,
			Options:     m.EffectiveOptions(),
			Credentials: m.Credentials,
		})
	}

	for _, c := range p.Containers {
		in.Plan.Containers = append(in.Plan.Containers, ContainerInput{
			ID:             c.ID,
			Name:           c.Name,
			Wait:           secs(c.Wait),
			DependsOnMount: c.DependsOnMount,
		})
	}

	return in
}

func secs(d time.Duration) int {
	return int(math.Round(d.Seconds()))
}

package plan

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/ftschopp/pve-scripts/pkg/probe"
)

// Defaults applied by the loader when a document omits a field.
const (
	DefaultStartTimeout     = 60 * time.Second
	DefaultHealthTimeout    = 300 * time.Second
	DefaultHealthInterval   = 5 * time.Second
	DefaultContainerTimeout = 30 * time.Second
	DefaultVMTimeout        = 120 * time.Second
	DefaultHealthScheme     = "http"
	DefaultHealthPath       = "/"
	DefaultNFSOptions       = "rw,soft,intr"
	DefaultCIFSOptions      = "rw,vers=3.0"
	MountKindNFS            = "nfs"
	MountKindCIFS           = "cifs"
	containerNameFormat     = "ct-%d"
)

// Plan is the validated set of resources the engine operates on. It is not
// modified once a run begins.
type Plan struct {
	VM         *ManagedVM      `json:"vm,omitempty" yaml:"vm,omitempty"`
	Mounts     []MountSpec     `json:"mounts" yaml:"mounts"`
	Containers []ContainerSpec `json:"containers" yaml:"containers"`
	Shutdown   ShutdownPolicy  `json:"shutdown" yaml:"shutdown"`

	// Source is the file the plan was loaded from.
	Source string `json:"source,omitempty" yaml:"source,omitempty"`
}

// ManagedVM is the storage VM that gates every other resource.
type ManagedVM struct {
	ID           int           `json:"id" yaml:"id"`
	Name         string        `json:"name,omitempty" yaml:"name,omitempty"`
	StartTimeout time.Duration `json:"start_timeout" yaml:"start_timeout"`
	HealthCheck  *HealthCheck  `json:"health_check,omitempty" yaml:"health_check,omitempty"`
}

// DisplayName returns Name, or "vm-<id>" when unset.
func (vm ManagedVM) DisplayName() string {
	if vm.Name != "" {
		return vm.Name
	}
	return fmt.Sprintf("vm-%d", vm.ID)
}

// HealthCheck describes how VM readiness is confirmed after it reports
// running.
type HealthCheck struct {
	Kind     probe.Kind    `json:"type" yaml:"type"`
	Host     string        `json:"host" yaml:"host"`
	Port     int           `json:"port,omitempty" yaml:"port,omitempty"`
	Scheme   string        `json:"scheme,omitempty" yaml:"scheme,omitempty"`
	Path     string        `json:"path,omitempty" yaml:"path,omitempty"`
	Timeout  time.Duration `json:"timeout" yaml:"timeout"`
	Interval time.Duration `json:"interval" yaml:"interval"`
}

// Target converts the check into a probe target.
func (h HealthCheck) Target() probe.Target {
	return probe.Target{
		Kind:   h.Kind,
		Host:   h.Host,
		Port:   h.Port,
		Scheme: h.Scheme,
		Path:   h.Path,
	}
}

// MountSpec is one network share mounted on the host.
type MountSpec struct {
	Kind        string `json:"type" yaml:"type"`
	Source      string `json:"source" yaml:"source"`
	Target      string `json:"target" yaml:"target"`
	Options     string `json:"options,omitempty" yaml:"options,omitempty"`
	Credentials string `json:"credentials,omitempty" yaml:"credentials,omitempty"`
}

// EffectiveOptions returns the mount options passed to mount -o: the
// configured options or the protocol default, followed by the credentials
// reference when one is set.
func (m MountSpec) EffectiveOptions() string {
	opts := m.Options
	if opts == "" {
		switch m.Kind {
		case MountKindNFS:
			opts = DefaultNFSOptions
		case MountKindCIFS:
			opts = DefaultCIFSOptions
		}
	}
	if m.Credentials != "" {
		if opts != "" {
			opts += ","
		}
		opts += "credentials=" + m.Credentials
	}
	return opts
}

// ContainerSpec is one LXC container.
type ContainerSpec struct {
	ID             int           `json:"id" yaml:"id"`
	Name           string        `json:"name" yaml:"name"`
	Wait           time.Duration `json:"wait" yaml:"wait"`
	DependsOnMount string        `json:"depends_on_mount,omitempty" yaml:"depends_on_mount,omitempty"`
}

// ShutdownPolicy controls the stop sequence.
type ShutdownPolicy struct {
	ContainerTimeout time.Duration `json:"container_timeout" yaml:"container_timeout"`
	VMTimeout        time.Duration `json:"vm_timeout" yaml:"vm_timeout"`
	UnmountShares    bool          `json:"unmount_shares" yaml:"unmount_shares"`
}

// DefaultShutdownPolicy returns the policy used when a document has no
// shutdown section.
func DefaultShutdownPolicy() ShutdownPolicy {
	return ShutdownPolicy{
		ContainerTimeout: DefaultContainerTimeout,
		VMTimeout:        DefaultVMTimeout,
		UnmountShares:    true,
	}
}

// DefaultContainerName is the name given to a container declared without one.
func DefaultContainerName(id int) string {
	return fmt.Sprintf(containerNameFormat, id)
}

// NormalizeTarget cleans a mount path so dependency lookups compare equal.
func NormalizeTarget(target string) string {
	if target == "" {
		return ""
	}
	return filepath.Clean(target)
}

// MountByTarget finds the mount declared for target.
func (p *Plan) MountByTarget(target string) (MountSpec, bool) {
	target = NormalizeTarget(target)
	for _, m := range p.Mounts {
		if m.Target == target {
			return m, true
		}
	}
	return MountSpec{}, false
}

// ResourceCount returns the number of resources the plan manages.
func (p *Plan) ResourceCount() int {
	n := len(p.Mounts) + len(p.Containers)
	if p.VM != nil {
		n++
	}
	return n
}

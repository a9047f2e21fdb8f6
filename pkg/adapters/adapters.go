// Package adapters drives Proxmox guests and host mounts through a
// command runner.
package adapters

import (
	"context"
	"time"
)

// Kind identifies the type of a managed resource.
type Kind string

const (
	KindVM        Kind = "vm"
	KindContainer Kind = "container"
	KindMount     Kind = "mount"
)

// State is the observed state of a guest.
type State string

const (
	StateRunning  State = "running"
	StateStopped  State = "stopped"
	StateNotFound State = "not_found"
	StateUnknown  State = "unknown"
)

// Lifecycle controls a single guest.
type Lifecycle interface {
	Kind() Kind
	ID() string

	// Status reports the current state. A guest that does not exist is
	// reported as StateNotFound with a nil error.
	Status(ctx context.Context) (State, error)

	Start(ctx context.Context) error

	// Stop asks the guest to shut down and waits up to timeout.
	Stop(ctx context.Context, timeout time.Duration) error

	// ForceStop stops the guest immediately.
	ForceStop(ctx context.Context) error
}

// Mounter manages network file-system mounts on the host.
type Mounter interface {
	IsMounted(ctx context.Context, target string) (bool, error)
	EnsureTarget(ctx context.Context, target string) error
	Mount(ctx context.Context, kind, source, target, options string) error
	Unmount(ctx context.Context, target string) error
}

// RequiredTools lists the host binaries the Proxmox adapters need.
var RequiredTools = []string{"qm", "pct", "mount"}

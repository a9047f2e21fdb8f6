// Package engine orders the start and stop of a storage VM, the network
// shares it exports and the containers that use those shares.
//
// # Overview
//
// The engine consumes a validated plan.Plan and a set of lifecycle adapters
// and runs one resource at a time:
//
//  1. VM - start if needed, wait for it to report running, then wait for
//     the optional health check
//  2. Mounts - mount each share in declared order
//  3. Containers - start each container in declared order once its mount
//     dependency, if any, is mounted
//
// Stop runs the mirror image: containers in reverse order, mounts in
// reverse order (when the shutdown policy allows), then the VM, each guest
// with a graceful stop followed by a forced stop on failure.
//
// # Failure isolation
//
// The VM phase is a gate. If the VM is missing, fails to start, or does not
// become ready before its deadline, Start returns a fatal *EngineError and
// no mount or container is attempted. Every other failure is recorded
// against its resource and the run continues:
//
//   - a failed mount is Failed{MOUNT_FAILED}
//   - a container whose mount is not mounted is Skipped{unmet-dependency}
//     and its adapter is never called
//   - a failed container start is Failed{ADAPTER_COMMAND_FAILED}
//
// Start reports Success, PartialSuccess when any resource Failed or was
// Skipped, or Failed when the VM gate failed. Stop never aborts early and
// reports Success or PartialSuccess.
//
// # Idempotency
//
// Resources already in the desired state are reported as AlreadyRunning or
// AlreadyStopped and no state-changing command is issued, so Start and Stop
// can be repeated safely.
//
// # Outcomes and events
//
// Each call returns a fresh Outcome that accumulates per-resource results
// and phase timings. Progress is published to an EventSink, metrics go to
// a Recorder and each run and phase is traced with OpenTelemetry. The
// engine never reads any of these back.
//
// # Time
//
// Polling and post-start waits use an injected k8s.io/utils/clock so tests
// can drive time with a fake clock.
package engine

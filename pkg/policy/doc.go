// Package policy evaluates Rego policies against a loaded plan.
//
// # Overview
//
// Each policy is a Rego module that defines a `deny` set in its own package.
// Entries are either strings or objects with message, resource and optional
// severity keys. Policies see the plan as `input.plan`, with durations in
// whole seconds, and the triggering command as `input.context.operation`.
//
// # Built-in policies
//
//   - vm-health-check: mounts depend on a VM without a health check
//   - cifs-credentials: CIFS mounts without a credentials reference
//   - mount-target: targets that shadow system directories (error) or lie
//     outside /mnt and /media (info)
//   - container-wait: post-start waits over five minutes
//   - shutdown-timeout: a VM timeout shorter than the container timeout
//
// Additional policies are loaded from a directory of .rego files:
//
//	# Containers must have a name.
//	# severity: error
//	package site.naming
//
//	import rego.v1
//
//	deny contains msg if {
//		some c in input.plan.containers
//		startswith(c.name, "ct-")
//		msg := sprintf("container %d has no name", [c.id])
//	}
//
// Only error violations make a Result disallowed; callers decide whether a
// disallowed plan blocks a run.
package policy

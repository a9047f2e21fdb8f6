package policy

// BuiltinPolicies returns the policies compiled into every engine.
func BuiltinPolicies() []Policy {
	return []Policy{
		healthCheckPolicy(),
		cifsCredentialsPolicy(),
		mountTargetPolicy(),
		containerWaitPolicy(),
		shutdownTimeoutPolicy(),
	}
}

// healthCheckPolicy warns when mounts rely on a VM whose readiness is only
// judged by the hypervisor reporting it running.
func healthCheckPolicy() Policy {
	return Policy{
		Name:        "vm-health-check",
		Description: "Mounts should be gated on a VM health check, not only on the VM running",
		Severity:    SeverityWarning,
		Enabled:     true,
		Rego: `package pvestack.policies.health

import rego.v1

deny contains violation if {
	vm := input.plan.vm
	not vm.health_check
	count(input.plan.mounts) > 0
	violation := {
		"message": sprintf("vm %d has no health check; shares may be mounted before the storage service is up", [vm.id]),
		"resource": sprintf("vm/%d", [vm.id]),
	}
}
`,
	}
}

func cifsCredentialsPolicy() Policy {
	return Policy{
		Name:        "cifs-credentials",
		Description: "CIFS mounts should reference a credentials file",
		Severity:    SeverityWarning,
		Enabled:     true,
		Rego: `package pvestack.policies.cifs

import rego.v1

deny contains violation if {
	some m in input.plan.mounts
	m.type == "cifs"
	m.credentials == ""
	not contains(m.options, "username=")
	not contains(m.options, "guest")
	violation := {
		"message": sprintf("cifs mount %s has no credentials reference", [m.target]),
		"resource": sprintf("mount/%s", [m.target]),
	}
}
`,
	}
}

// mountTargetPolicy blocks mounts over system directories and notes targets
// outside the usual mount roots.
func mountTargetPolicy() Policy {
	return Policy{
		Name:        "mount-target",
		Description: "Mount targets must not shadow system directories",
		Severity:    SeverityError,
		Enabled:     true,
		Rego: `package pvestack.policies.mounttarget

import rego.v1

reserved := {"/", "/bin", "/boot", "/dev", "/etc", "/lib", "/proc", "/root", "/sbin", "/sys", "/usr", "/var", "/var/lib/vz"}

deny contains violation if {
	some m in input.plan.mounts
	reserved[m.target]
	violation := {
		"message": sprintf("mount target %s would shadow a system directory", [m.target]),
		"resource": sprintf("mount/%s", [m.target]),
		"severity": "error",
	}
}

deny contains violation if {
	some m in input.plan.mounts
	not reserved[m.target]
	not startswith(m.target, "/mnt/")
	not startswith(m.target, "/media/")
	violation := {
		"message": sprintf("mount target %s is outside /mnt and /media", [m.target]),
		"resource": sprintf("mount/%s", [m.target]),
		"severity": "info",
	}
}
`,
	}
}

func containerWaitPolicy() Policy {
	return Policy{
		Name:        "container-wait",
		Description: "Post-start waits longer than five minutes stall the whole startup",
		Severity:    SeverityWarning,
		Enabled:     true,
		Rego: `package pvestack.policies.wait

import rego.v1

deny contains violation if {
	some c in input.plan.containers
	c.wait > 300
	violation := {
		"message": sprintf("container %s waits %ds after start", [c.name, c.wait]),
		"resource": sprintf("container/%d", [c.id]),
	}
}
`,
	}
}

func shutdownTimeoutPolicy() Policy {
	return Policy{
		Name:        "shutdown-timeout",
		Description: "The VM shutdown timeout should cover the container shutdown timeout",
		Severity:    SeverityWarning,
		Enabled:     true,
		Rego: `package pvestack.policies.shutdown

import rego.v1

deny contains violation if {
	input.plan.vm
	input.plan.shutdown.vm_timeout < input.plan.shutdown.container_timeout
	violation := {
		"message": sprintf("vm_timeout %ds is shorter than container_timeout %ds", [input.plan.shutdown.vm_timeout, input.plan.shutdown.container_timeout]),
		"resource": sprintf("vm/%d", [input.plan.vm.id]),
	}
}
`,
	}
}

package plan

import (
	"fmt"
	"path/filepath"
)

// crossCheck applies the rules that span several resources. It returns
// every problem found rather than stopping at the first.
func crossCheck(d *document) []string {
	var problems []string

	if d.VM == nil && len(d.Mounts) == 0 && len(d.Containers) == 0 {
		return []string{"plan declares no resources"}
	}

	if d.VM != nil && d.VM.HealthCheck != nil {
		hc := d.VM.HealthCheck
		if hc.Type == "tcp" && hc.Port == 0 {
			problems = append(problems, "vm.health_check: tcp check requires a port")
		}
	}

	targets := make(map[string]int, len(d.Mounts))
	for i, m := range d.Mounts {
		if !filepath.IsAbs(m.Target) {
			problems = append(problems, fmt.Sprintf("mounts[%d]: target %q must be an absolute path", i, m.Target))
			continue
		}
		target := NormalizeTarget(m.Target)
		if prev, ok := targets[target]; ok {
			problems = append(problems, fmt.Sprintf("mounts[%d]: target %s already used by mounts[%d]", i, target, prev))
			continue
		}
		targets[target] = i
	}

	ids := make(map[int]int, len(d.Containers))
	for i, c := range d.Containers {
		if d.VM != nil && c.ID == d.VM.ID {
			problems = append(problems, fmt.Sprintf("containers[%d]: id %d is already used by the vm", i, c.ID))
		}
		if prev, ok := ids[c.ID]; ok {
			problems = append(problems, fmt.Sprintf("containers[%d]: duplicate id %d (see containers[%d])", i, c.ID, prev))
		} else {
			ids[c.ID] = i
		}
		if c.DependsOnMount != "" {
			if _, ok := targets[NormalizeTarget(c.DependsOnMount)]; !ok {
				problems = append(problems, fmt.Sprintf("containers[%d]: depends_on_mount %s is not a declared mount target", i, c.DependsOnMount))
			}
		}
	}

	return problems
}

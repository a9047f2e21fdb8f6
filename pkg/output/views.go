package output

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/ftschopp/pve-scripts/pkg/engine"
	"github.com/ftschopp/pve-scripts/pkg/policy"
	"github.com/ftschopp/pve-scripts/pkg/stores"
)

const timeLayout = "2006-01-02 15:04:05"

// StatusView renders an engine status report.
type StatusView struct {
	Report *engine.StatusReport
}

// Headers implements TableRenderer.
func (v StatusView) Headers() []string {
	return []string{"Kind", "ID", "Name", "State", "Detail"}
}

// Rows implements TableRenderer.
func (v StatusView) Rows() [][]string {
	if v.Report == nil {
		return nil
	}
	var rows [][]string
	if vm := v.Report.VM; vm != nil {
		rows = append(rows, []string{string(vm.Kind), vm.ID, vm.Name, string(vm.State), vm.Error})
	}
	for _, m := range v.Report.Mounts {
		state := "unmounted"
		if m.Mounted {
			state = "mounted"
		}
		detail := m.Type + " " + m.Source
		if m.Error != "" {
			detail = m.Error
		}
		rows = append(rows, []string{string(m.Kind), m.ID, m.Name, state, detail})
	}
	for _, c := range v.Report.Containers {
		rows = append(rows, []string{string(c.Kind), c.ID, c.Name, string(c.State), c.Error})
	}
	return rows
}

// MarshalJSON encodes the underlying report.
func (v StatusView) MarshalJSON() ([]byte, error) {
	return json.Marshal(v.Report)
}

// OutcomeView renders the per-resource results of a run.
type OutcomeView struct {
	Outcome *engine.Outcome
}

// Headers implements TableRenderer.
func (v OutcomeView) Headers() []string {
	return []string{"Phase", "Kind", "ID", "Name", "Result", "Duration", "Detail"}
}

// Rows implements TableRenderer.
func (v OutcomeView) Rows() [][]string {
	if v.Outcome == nil {
		return nil
	}
	rows := make([][]string, 0, len(v.Outcome.Resources))
	for _, r := range v.Outcome.Resources {
		rows = append(rows, []string{
			string(r.Phase),
			string(r.Kind),
			r.ID,
			r.Name,
			string(r.Result),
			formatDuration(r.Duration),
			resultDetail(r.Reason, string(r.Code), r.Error),
		})
	}
	return rows
}

// MarshalJSON encodes the underlying outcome.
func (v OutcomeView) MarshalJSON() ([]byte, error) {
	return json.Marshal(v.Outcome)
}

// SummaryLine describes an outcome in one line, e.g.
// "start partial_success in 42s: 2 started, 1 failed, 1 skipped".
func SummaryLine(o *engine.Outcome) string {
	s := o.Summary()
	var parts []string
	add := func(n int, label string) {
		if n > 0 {
			parts = append(parts, fmt.Sprintf("%d %s", n, label))
		}
	}
	add(s.Started, "started")
	add(s.AlreadyRunning, "already running")
	add(s.Stopped, "stopped")
	add(s.AlreadyStopped, "already stopped")
	add(s.Failed, "failed")
	add(s.Skipped, "skipped")
	if len(parts) == 0 {
		parts = append(parts, "no resources")
	}
	return fmt.Sprintf("%s %s in %s: %s", o.Operation, o.Status, formatDuration(o.Duration), strings.Join(parts, ", "))
}

// RunsView renders a list of recorded runs.
type RunsView []*stores.Run

// Headers implements TableRenderer.
func (v RunsView) Headers() []string {
	return []string{"Run ID", "Operation", "Status", "Started", "Duration", "Plan"}
}

// Rows implements TableRenderer.
func (v RunsView) Rows() [][]string {
	rows := make([][]string, 0, len(v))
	for _, r := range v {
		rows = append(rows, []string{
			r.ID,
			r.Operation,
			r.Status,
			r.StartedAt.Local().Format(timeLayout),
			formatDuration(time.Duration(r.DurationMs) * time.Millisecond),
			r.PlanPath,
		})
	}
	return rows
}

// ResultsView renders the stored resource results of one run.
type ResultsView []*stores.ResourceResult

// Headers implements TableRenderer.
func (v ResultsView) Headers() []string {
	return []string{"Phase", "Kind", "ID", "Name", "Result", "Duration", "Detail"}
}

// Rows implements TableRenderer.
func (v ResultsView) Rows() [][]string {
	rows := make([][]string, 0, len(v))
	for _, r := range v {
		errMsg := ""
		if r.Error != nil {
			errMsg = *r.Error
		}
		rows = append(rows, []string{
			r.Phase,
			r.Kind,
			r.ResourceID,
			r.Name,
			r.Result,
			formatDuration(time.Duration(r.DurationMs) * time.Millisecond),
			resultDetail(r.Reason, r.Code, errMsg),
		})
	}
	return rows
}

// EventsView renders a run's event timeline.
type EventsView []*stores.Event

// Headers implements TableRenderer.
func (v EventsView) Headers() []string {
	return []string{"Time", "Level", "Type", "Message"}
}

// Rows implements TableRenderer.
func (v EventsView) Rows() [][]string {
	rows := make([][]string, 0, len(v))
	for _, e := range v {
		rows = append(rows, []string{
			e.Timestamp.Local().Format(timeLayout),
			e.Level,
			e.Type,
			e.Message,
		})
	}
	return rows
}

// PolicyView renders policy violations.
type PolicyView struct {
	Result *policy.Result
}

// Headers implements TableRenderer.
func (v PolicyView) Headers() []string {
	return []string{"Severity", "Policy", "Resource", "Message"}
}

// Rows implements TableRenderer.
func (v PolicyView) Rows() [][]string {
	if v.Result == nil {
		return nil
	}
	rows := make([][]string, 0, len(v.Result.Violations))
	for _, viol := range v.Result.Violations {
		rows = append(rows, []string{string(viol.Severity), viol.Policy, viol.Resource, viol.Message})
	}
	return rows
}

// MarshalJSON encodes the underlying result.
func (v PolicyView) MarshalJSON() ([]byte, error) {
	return json.Marshal(v.Result)
}

func resultDetail(reason, code, errMsg string) string {
	var parts []string
	if reason != "" {
		parts = append(parts, reason)
	}
	if errMsg != "" {
		parts = append(parts, errMsg)
	} else if code != "" {
		parts = append(parts, code)
	}
	return strings.Join(parts, ": ")
}

func formatDuration(d time.Duration) string {
	switch {
	case d <= 0:
		return "-"
	case d < time.Second:
		return d.Round(time.Millisecond).String()
	default:
		return d.Round(100 * time.Millisecond).String()
	}
}

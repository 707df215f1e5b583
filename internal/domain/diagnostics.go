package domain

import "time"

// DiagnosticStatus is the outcome of one environment check.
type DiagnosticStatus string

const (
	DiagnosticStatusPass DiagnosticStatus = "pass"
	DiagnosticStatusFail DiagnosticStatus = "fail"
)

// Diagnostic item ids. Clients pass them back to request a fix.
const (
	DiagnosticFFmpeg        = "tool_ffmpeg"
	DiagnosticOutputDir     = "output_dir"
	DiagnosticDataDir       = "data_dir"
	DiagnosticMemoryBudget  = "memory_budget"
	DiagnosticArtifactStore = "artifact_store"
)

// DiagnosticItem is one check. Fixable items can be repaired in place
// without user input.
type DiagnosticItem struct {
	ID      string           `json:"id"`
	Name    string           `json:"name"`
	Status  DiagnosticStatus `json:"status"`
	Message string           `json:"message"`
	Hint    string           `json:"hint,omitempty"`
	Fixable bool             `json:"fixable,omitempty"`
}

// DiagnosticReport is the result of one checker run.
type DiagnosticReport struct {
	GeneratedAt time.Time        `json:"generatedAt"`
	HasFailures bool             `json:"hasFailures"`
	Items       []DiagnosticItem `json:"items"`
}

// NewDiagnosticReport stamps items with the time and failure flag.
func NewDiagnosticReport(at time.Time, items []DiagnosticItem) DiagnosticReport {
	report := DiagnosticReport{GeneratedAt: at, Items: items}
	report.HasFailures = len(report.Failed()) > 0
	return report
}

// Failed returns the failing items in check order.
func (r DiagnosticReport) Failed() []DiagnosticItem {
	var out []DiagnosticItem
	for _, item := range r.Items {
		if item.Status == DiagnosticStatusFail {
			out = append(out, item)
		}
	}
	return out
}

// Item looks up a check by id.
func (r DiagnosticReport) Item(id string) (DiagnosticItem, bool) {
	for _, item := range r.Items {
		if item.ID == id {
			return item, true
		}
	}
	return DiagnosticItem{}, false
}

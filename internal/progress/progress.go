// Package progress derives read-only status snapshots from run state. It
// never mutates runs; estimation is advisory and carries no guarantee.
package progress

import (
	"time"

	"reva/internal/analysis"
)

// Snapshot is a point-in-time view of a run suitable for status polling.
type Snapshot struct {
	RunID           string             `json:"runId"`
	ProjectRef      string             `json:"projectRef"`
	Status          analysis.RunStatus `json:"status"`
	CurrentStage    analysis.Stage     `json:"currentStage"`
	ProgressPercent int                `json:"progressPercent"`
	// ETASeconds is -1 when no estimate is possible (progress still zero
	// or the run has not started).
	ETASeconds int64            `json:"etaSeconds"`
	ElapsedMs  int64            `json:"elapsedMs"`
	Metrics    analysis.Metrics `json:"metrics"`
	Error      string           `json:"error,omitempty"`
	Summary    string           `json:"summary,omitempty"`
}

// Snap builds a snapshot of the given run at time now.
func Snap(run *analysis.AnalysisRun, now time.Time) Snapshot {
	s := Snapshot{
		RunID:           run.ID,
		ProjectRef:      run.ProjectRef,
		Status:          run.Status,
		CurrentStage:    run.CurrentStage,
		ProgressPercent: run.Progress,
		ETASeconds:      -1,
		Metrics:         run.Metrics,
		Error:           run.Error,
		Summary:         run.Summary,
	}

	if run.StartedAt == nil {
		return s
	}
	end := now
	if run.CompletedAt != nil {
		end = *run.CompletedAt
	}
	elapsed := end.Sub(*run.StartedAt)
	if elapsed < 0 {
		elapsed = 0
	}
	s.ElapsedMs = elapsed.Milliseconds()

	if run.IsTerminal() {
		s.ETASeconds = 0
		return s
	}
	if run.Progress > 0 {
		// Linear projection from elapsed time and completed fraction.
		total := time.Duration(int64(elapsed) * 100 / int64(run.Progress))
		s.ETASeconds = int64((total - elapsed).Seconds())
		if s.ETASeconds < 0 {
			s.ETASeconds = 0
		}
	}
	return s
}

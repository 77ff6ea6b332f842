package analysis

import (
	"time"

	"github.com/google/uuid"
)

// RunStatus represents the current state of an analysis run.
type RunStatus string

const (
	RunPending    RunStatus = "pending"
	RunProcessing RunStatus = "processing"
	RunCompleted  RunStatus = "completed"
	RunFailed     RunStatus = "failed"
	RunCancelled  RunStatus = "cancelled"
)

// Stage is one phase of the fixed analysis sequence.
type Stage string

const (
	StageInitializing  Stage = "initializing"
	StageSyntax        Stage = "syntax_analysis"
	StageTypeChecking  Stage = "type_checking"
	StageSecurityScan  Stage = "security_scan"
	StagePerformance   Stage = "performance_analysis"
	StageCodeQuality   Stage = "code_quality"
	StageFixGeneration Stage = "fix_generation"
	StageFinalizing    Stage = "finalizing"
)

// StageSequence returns the fixed, global stage order.
func StageSequence() []Stage {
	return []Stage{
		StageInitializing,
		StageSyntax,
		StageTypeChecking,
		StageSecurityScan,
		StagePerformance,
		StageCodeQuality,
		StageFixGeneration,
		StageFinalizing,
	}
}

// StageCategoryFor maps an analysis stage to the category of findings it
// produces. Initializing, FixGeneration and Finalizing have no category.
func StageCategoryFor(stage Stage) (StageCategory, bool) {
	switch stage {
	case StageSyntax:
		return CategorySyntax, true
	case StageTypeChecking:
		return CategoryType, true
	case StageSecurityScan:
		return CategorySecurity, true
	case StagePerformance:
		return CategoryPerformance, true
	case StageCodeQuality:
		return CategoryStyle, true
	default:
		return "", false
	}
}

// Metrics holds the derived counters for a run.
type Metrics struct {
	TotalFiles         int   `json:"totalFiles"`
	FilesProcessed     int   `json:"filesProcessed"`
	ErrorCount         int   `json:"errorCount"`
	FixedFileCount     int   `json:"fixedFileCount"`
	QualityScore       int   `json:"qualityScore"`
	OrphanedFixCount   int   `json:"orphanedFixCount,omitempty"`
	AnalysisDurationMs int64 `json:"analysisDurationMs"`
}

// AnalysisRun is the unit of orchestration state.
type AnalysisRun struct {
	ID           string     `json:"id"`
	ProjectRef   string     `json:"projectRef"`
	Status       RunStatus  `json:"status"`
	CurrentStage Stage      `json:"currentStage"`
	StageIndex   int        `json:"stageIndex"`
	Progress     int        `json:"progressPercent"` // 0-100, monotonically non-decreasing
	CreatedAt    time.Time  `json:"createdAt"`
	StartedAt    *time.Time `json:"startedAt,omitempty"`
	CompletedAt  *time.Time `json:"completedAt,omitempty"`
	Error        string     `json:"error,omitempty"`
	Summary      string     `json:"summary,omitempty"`
	Metrics      Metrics    `json:"metrics"`
}

// NewRun creates a pending run for a project.
func NewRun(projectRef string, totalFiles int) *AnalysisRun {
	return &AnalysisRun{
		ID:           uuid.New().String(),
		ProjectRef:   projectRef,
		Status:       RunPending,
		CurrentStage: StageInitializing,
		CreatedAt:    time.Now().UTC(),
		Metrics:      Metrics{TotalFiles: totalFiles},
	}
}

// IsTerminal returns true if the run is in a terminal state.
func (r *AnalysisRun) IsTerminal() bool {
	return r.Status == RunCompleted || r.Status == RunFailed || r.Status == RunCancelled
}

// CanCancel returns true if the run can still be cancelled.
func (r *AnalysisRun) CanCancel() bool {
	return r.Status == RunPending || r.Status == RunProcessing
}

// MarkStarted transitions the run to processing.
func (r *AnalysisRun) MarkStarted() {
	now := time.Now().UTC()
	r.Status = RunProcessing
	r.StartedAt = &now
}

// MarkCompleted transitions the run to completed. Per-file stage errors do
// not prevent completion; they are reflected in the metrics instead.
func (r *AnalysisRun) MarkCompleted(metrics Metrics, summary string) {
	now := time.Now().UTC()
	r.Status = RunCompleted
	r.CompletedAt = &now
	r.Metrics = metrics
	r.Summary = summary
	r.SetProgress(100)
	if r.StartedAt != nil {
		r.Metrics.AnalysisDurationMs = now.Sub(*r.StartedAt).Milliseconds()
	}
}

// MarkFailed transitions the run to failed. Reserved for structural pipeline
// failures, not analysis content failures.
func (r *AnalysisRun) MarkFailed(err error) {
	now := time.Now().UTC()
	r.Status = RunFailed
	r.CompletedAt = &now
	if err != nil {
		r.Error = err.Error()
	}
}

// MarkCancelled transitions the run to cancelled.
func (r *AnalysisRun) MarkCancelled() {
	now := time.Now().UTC()
	r.Status = RunCancelled
	r.CompletedAt = &now
}

// AdvanceStage records that a stage has completed and moves to the next one,
// recomputing progress as completedStages/totalStages.
func (r *AnalysisRun) AdvanceStage(next Stage, completedStages int) {
	r.CurrentStage = next
	r.StageIndex = completedStages
	total := len(StageSequence())
	r.SetProgress(completedStages * 100 / total)
}

// SetProgress updates progress, clamped to 0-100 and never decreasing.
func (r *AnalysisRun) SetProgress(progress int) {
	if progress > 100 {
		progress = 100
	}
	if progress > r.Progress {
		r.Progress = progress
	}
}

// Duration returns how long the run took (or has been running).
func (r *AnalysisRun) Duration() time.Duration {
	if r.StartedAt == nil {
		return 0
	}
	end := time.Now().UTC()
	if r.CompletedAt != nil {
		end = *r.CompletedAt
	}
	return end.Sub(*r.StartedAt)
}

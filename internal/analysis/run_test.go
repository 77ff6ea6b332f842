package analysis

import (
	"errors"
	"testing"
)

func TestNewRun(t *testing.T) {
	run := NewRun("proj-1", 3)
	if run.ID == "" {
		t.Error("run ID should not be empty")
	}
	if run.Status != RunPending {
		t.Errorf("Status = %v, want %v", run.Status, RunPending)
	}
	if run.CurrentStage != StageInitializing {
		t.Errorf("CurrentStage = %v, want %v", run.CurrentStage, StageInitializing)
	}
	if run.Metrics.TotalFiles != 3 {
		t.Errorf("TotalFiles = %d, want 3", run.Metrics.TotalFiles)
	}
	if run.Progress != 0 {
		t.Errorf("Progress = %d, want 0", run.Progress)
	}
}

func TestRunTransitions(t *testing.T) {
	t.Run("completed", func(t *testing.T) {
		run := NewRun("p", 2)
		run.MarkStarted()
		if run.Status != RunProcessing || run.StartedAt == nil {
			t.Fatalf("MarkStarted: status=%v startedAt=%v", run.Status, run.StartedAt)
		}
		run.MarkCompleted(Metrics{TotalFiles: 2, FilesProcessed: 2, ErrorCount: 1, QualityScore: 90}, "ok")
		if run.Status != RunCompleted {
			t.Errorf("Status = %v, want %v", run.Status, RunCompleted)
		}
		if run.Progress != 100 {
			t.Errorf("Progress = %d, want 100", run.Progress)
		}
		if run.CompletedAt == nil {
			t.Error("CompletedAt should be set")
		}
		if run.Metrics.AnalysisDurationMs < 0 {
			t.Errorf("AnalysisDurationMs = %d", run.Metrics.AnalysisDurationMs)
		}
	})

	t.Run("failed", func(t *testing.T) {
		run := NewRun("p", 1)
		run.MarkStarted()
		run.MarkFailed(errors.New("store unreachable"))
		if run.Status != RunFailed {
			t.Errorf("Status = %v, want %v", run.Status, RunFailed)
		}
		if run.Error != "store unreachable" {
			t.Errorf("Error = %q", run.Error)
		}
	})

	t.Run("cancelled", func(t *testing.T) {
		run := NewRun("p", 1)
		run.MarkStarted()
		run.MarkCancelled()
		if run.Status != RunCancelled {
			t.Errorf("Status = %v, want %v", run.Status, RunCancelled)
		}
	})
}

func TestRunTerminalAndCancellable(t *testing.T) {
	tests := []struct {
		status    RunStatus
		terminal  bool
		canCancel bool
	}{
		{RunPending, false, true},
		{RunProcessing, false, true},
		{RunCompleted, true, false},
		{RunFailed, true, false},
		{RunCancelled, true, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			run := &AnalysisRun{Status: tt.status}
			if got := run.IsTerminal(); got != tt.terminal {
				t.Errorf("IsTerminal() = %v, want %v", got, tt.terminal)
			}
			if got := run.CanCancel(); got != tt.canCancel {
				t.Errorf("CanCancel() = %v, want %v", got, tt.canCancel)
			}
		})
	}
}

func TestProgressMonotonic(t *testing.T) {
	run := NewRun("p", 1)
	run.SetProgress(40)
	run.SetProgress(25) // must not regress
	if run.Progress != 40 {
		t.Errorf("Progress = %d, want 40", run.Progress)
	}
	run.SetProgress(250)
	if run.Progress != 100 {
		t.Errorf("Progress = %d, want clamped to 100", run.Progress)
	}
}

func TestAdvanceStageProgress(t *testing.T) {
	run := NewRun("p", 1)
	run.MarkStarted()

	seq := StageSequence()
	last := 0
	for i := 1; i < len(seq); i++ {
		run.AdvanceStage(seq[i], i)
		if run.Progress < last {
			t.Fatalf("progress regressed at stage %s: %d < %d", seq[i], run.Progress, last)
		}
		last = run.Progress
	}
	if run.CurrentStage != StageFinalizing {
		t.Errorf("CurrentStage = %v, want %v", run.CurrentStage, StageFinalizing)
	}
}

func TestStageCategoryFor(t *testing.T) {
	tests := []struct {
		stage    Stage
		category StageCategory
		ok       bool
	}{
		{StageSyntax, CategorySyntax, true},
		{StageTypeChecking, CategoryType, true},
		{StageSecurityScan, CategorySecurity, true},
		{StagePerformance, CategoryPerformance, true},
		{StageCodeQuality, CategoryStyle, true},
		{StageInitializing, "", false},
		{StageFixGeneration, "", false},
		{StageFinalizing, "", false},
	}

	for _, tt := range tests {
		t.Run(string(tt.stage), func(t *testing.T) {
			cat, ok := StageCategoryFor(tt.stage)
			if ok != tt.ok || cat != tt.category {
				t.Errorf("StageCategoryFor(%s) = (%v, %v), want (%v, %v)", tt.stage, cat, ok, tt.category, tt.ok)
			}
		})
	}
}

func TestNormalizeSeverity(t *testing.T) {
	if got := NormalizeSeverity("critical"); got != SeverityCritical {
		t.Errorf("NormalizeSeverity(critical) = %v", got)
	}
	if got := NormalizeSeverity("catastrophic"); got != SeverityInfo {
		t.Errorf("unknown severity should normalize to info, got %v", got)
	}
}

func TestSeverityRank(t *testing.T) {
	order := []Severity{SeverityInfo, SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical}
	for i := 1; i < len(order); i++ {
		if SeverityRank(order[i]) <= SeverityRank(order[i-1]) {
			t.Errorf("rank(%s) should exceed rank(%s)", order[i], order[i-1])
		}
	}
}

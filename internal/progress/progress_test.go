package progress

import (
	"errors"
	"testing"
	"time"

	"reva/internal/analysis"
)

func TestSnapNotStarted(t *testing.T) {
	run := analysis.NewRun("proj", 2)

	s := Snap(run, time.Now())
	if s.Status != analysis.RunPending {
		t.Errorf("Status = %v", s.Status)
	}
	if s.ETASeconds != -1 {
		t.Errorf("ETASeconds = %d, want -1 before start", s.ETASeconds)
	}
	if s.ElapsedMs != 0 {
		t.Errorf("ElapsedMs = %d, want 0", s.ElapsedMs)
	}
}

func TestSnapZeroProgressHasNoEstimate(t *testing.T) {
	run := analysis.NewRun("proj", 2)
	run.MarkStarted()

	s := Snap(run, run.StartedAt.Add(10*time.Second))
	if s.ETASeconds != -1 {
		t.Errorf("ETASeconds = %d, want -1 at zero progress", s.ETASeconds)
	}
	if s.ElapsedMs != 10000 {
		t.Errorf("ElapsedMs = %d, want 10000", s.ElapsedMs)
	}
}

func TestSnapLinearEstimate(t *testing.T) {
	run := analysis.NewRun("proj", 2)
	run.MarkStarted()
	run.SetProgress(25)

	// 30s for 25% projects to 120s total, 90s remaining.
	s := Snap(run, run.StartedAt.Add(30*time.Second))
	if s.ETASeconds != 90 {
		t.Errorf("ETASeconds = %d, want 90", s.ETASeconds)
	}
}

func TestSnapTerminalRun(t *testing.T) {
	run := analysis.NewRun("proj", 2)
	run.MarkStarted()
	run.MarkCompleted(analysis.Metrics{TotalFiles: 2, FilesProcessed: 2, QualityScore: 100}, "clean")

	s := Snap(run, time.Now().Add(time.Hour))
	if s.ETASeconds != 0 {
		t.Errorf("ETASeconds = %d, want 0 for terminal run", s.ETASeconds)
	}
	if s.ProgressPercent != 100 {
		t.Errorf("ProgressPercent = %d, want 100", s.ProgressPercent)
	}
	if s.Summary != "clean" {
		t.Errorf("Summary = %q", s.Summary)
	}
	// Elapsed is frozen at completion, not the polling time.
	if s.ElapsedMs > 5000 {
		t.Errorf("ElapsedMs = %d, should stop at completion", s.ElapsedMs)
	}
}

func TestSnapFailedRunCarriesError(t *testing.T) {
	run := analysis.NewRun("proj", 1)
	run.MarkStarted()
	run.MarkFailed(errors.New("checkpoint write failed"))

	s := Snap(run, time.Now())
	if s.Status != analysis.RunFailed {
		t.Errorf("Status = %v", s.Status)
	}
	if s.Error != "checkpoint write failed" {
		t.Errorf("Error = %q", s.Error)
	}
}

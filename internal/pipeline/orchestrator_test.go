package pipeline

import (
	"context"
	"sync"
	"testing"
	"time"

	"reva/internal/aicache"
	"reva/internal/aiclient"
	"reva/internal/analysis"
	reverrors "reva/internal/errors"
	"reva/internal/logging"
	"reva/internal/progress"
	"reva/internal/ratelimit"
	"reva/internal/store"
)

func newHarness(t *testing.T, backend aiclient.Backend, cfg Config) (*Orchestrator, *store.Store) {
	t.Helper()
	logger := logging.NewLogger(logging.Config{Level: logging.ErrorLevel})

	cache, err := aicache.New(aicache.Options{TTL: time.Minute})
	if err != nil {
		t.Fatalf("aicache.New() error = %v", err)
	}
	t.Cleanup(cache.Close)

	limiter := ratelimit.New(10000, time.Minute)
	client := aiclient.New(backend, cache, limiter, logger, aiclient.Config{
		MaxRetries:  1,
		CallTimeout: 5 * time.Second,
	})

	st, err := store.Open(t.TempDir(), logger)
	if err != nil {
		t.Fatalf("store.Open() error = %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	orch := New(client, st, logger, cfg)
	t.Cleanup(func() { _ = orch.Stop(5 * time.Second) })
	return orch, st
}

func threeFiles() []analysis.SourceFile {
	return []analysis.SourceFile{
		{Path: "a.go", Language: "go", Content: "package a\nvar password = \"hunter2\"\n"},
		{Path: "b.go", Language: "go", Content: "package b\n"},
		{Path: "c.go", Language: "go", Content: "package c\n"},
	}
}

func runToCompletion(t *testing.T, orch *Orchestrator, files []analysis.SourceFile) progress.Snapshot {
	t.Helper()
	run, err := orch.StartRun("proj-1", files)
	if err != nil {
		t.Fatalf("StartRun() error = %v", err)
	}
	orch.Wait(run.ID)

	snap, err := orch.Status(run.ID)
	if err != nil {
		t.Fatalf("Status() error = %v", err)
	}
	return snap
}

// One critical finding on file A, files B and C clean. The canonical
// three-file walkthrough.
func criticalOnA() *aiclient.MockBackend {
	return &aiclient.MockBackend{
		InvokeFunc: func(ctx context.Context, req aiclient.Request) (string, error) {
			if req.Category == analysis.CategorySyntax && req.FilePath == "a.go" {
				return `[{"severity":"critical","message":"hardcoded credential","line":2,"suggestion":"read from the environment"}]`, nil
			}
			if req.Category == analysis.CategoryFix {
				return `{"fixes":[{"errorId":"","description":"read credential from env","complexity":"low","risk":"low"}],"fixedContent":"package a\nvar password = os.Getenv(\"PASSWORD\")\n"}`, nil
			}
			return "[]", nil
		},
	}
}

func TestThreeFileRun(t *testing.T) {
	backend := criticalOnA()
	orch, st := newHarness(t, backend, Config{Workers: 2})

	snap := runToCompletion(t, orch, threeFiles())

	if snap.Status != analysis.RunCompleted {
		t.Fatalf("Status = %v, want completed (error: %s)", snap.Status, snap.Error)
	}
	if snap.ProgressPercent != 100 {
		t.Errorf("ProgressPercent = %d, want 100", snap.ProgressPercent)
	}
	m := snap.Metrics
	if m.ErrorCount != 1 {
		t.Errorf("ErrorCount = %d, want 1", m.ErrorCount)
	}
	if m.QualityScore != 90 {
		t.Errorf("QualityScore = %d, want 90", m.QualityScore)
	}
	if m.FixedFileCount != 1 {
		t.Errorf("FixedFileCount = %d, want 1", m.FixedFileCount)
	}
	if m.TotalFiles != 3 || m.FilesProcessed != 3 {
		t.Errorf("files = %d/%d, want 3/3", m.FilesProcessed, m.TotalFiles)
	}

	findings, err := st.GetFindings(snap.RunID)
	if err != nil {
		t.Fatalf("GetFindings() error = %v", err)
	}
	if len(findings) != 1 || findings[0].File != "a.go" || findings[0].Severity != analysis.SeverityCritical {
		t.Errorf("findings = %+v", findings)
	}

	files, err := st.GetFixedFiles(snap.RunID)
	if err != nil {
		t.Fatalf("GetFixedFiles() error = %v", err)
	}
	if len(files) != 1 || files[0].File != "a.go" {
		t.Errorf("fixed files = %+v", files)
	}
	if files[0].OriginalContent == files[0].FixedContent {
		t.Error("fixed content should differ from original")
	}
}

// Clean files must never be sent to fix generation.
func TestFixStageSkipsCleanFiles(t *testing.T) {
	var mu sync.Mutex
	var fixCalls []string

	backend := &aiclient.MockBackend{
		InvokeFunc: func(ctx context.Context, req aiclient.Request) (string, error) {
			if req.Category == analysis.CategoryFix {
				mu.Lock()
				fixCalls = append(fixCalls, req.FilePath)
				mu.Unlock()
				return `{"fixes":[],"fixedContent":""}`, nil
			}
			if req.Category == analysis.CategorySyntax && req.FilePath == "a.go" {
				return `[{"severity":"low","message":"shadowed variable","line":1}]`, nil
			}
			return "[]", nil
		},
	}
	orch, _ := newHarness(t, backend, Config{Workers: 2})

	snap := runToCompletion(t, orch, threeFiles())
	if snap.Status != analysis.RunCompleted {
		t.Fatalf("Status = %v", snap.Status)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(fixCalls) != 1 || fixCalls[0] != "a.go" {
		t.Errorf("fix calls = %v, want only a.go", fixCalls)
	}
}

// A file whose every backend call fails is isolated as stage_error findings;
// the run still completes and the other files are unaffected.
func TestFailingFileIsIsolated(t *testing.T) {
	backend := &aiclient.MockBackend{
		InvokeFunc: func(ctx context.Context, req aiclient.Request) (string, error) {
			if req.FilePath == "b.go" {
				return "", reverrors.New(reverrors.Timeout, "backend call timed out", nil)
			}
			if req.Category == analysis.CategoryFix {
				return `{"fixes":[],"fixedContent":""}`, nil
			}
			return "[]", nil
		},
	}
	orch, st := newHarness(t, backend, Config{Workers: 2})

	snap := runToCompletion(t, orch, threeFiles())
	if snap.Status != analysis.RunCompleted {
		t.Fatalf("Status = %v, want completed despite per-file failures", snap.Status)
	}

	findings, err := st.GetFindings(snap.RunID)
	if err != nil {
		t.Fatalf("GetFindings() error = %v", err)
	}
	if len(findings) != 5 {
		t.Fatalf("len(findings) = %d, want one stage_error per analysis stage", len(findings))
	}
	for _, f := range findings {
		if f.File != "b.go" || f.Category != analysis.CategoryStageError {
			t.Errorf("finding = %+v, want stage_error on b.go", f)
		}
	}
	// Stage errors are informational and do not dent the quality score.
	if snap.Metrics.QualityScore != 100 {
		t.Errorf("QualityScore = %d, want 100", snap.Metrics.QualityScore)
	}
	if snap.Metrics.FixedFileCount != 0 {
		t.Errorf("FixedFileCount = %d, want 0", snap.Metrics.FixedFileCount)
	}
}

// Stages run strictly in order: every call of one category completes before
// the next category begins, regardless of worker interleaving.
func TestStageOrdering(t *testing.T) {
	var mu sync.Mutex
	var sequence []analysis.StageCategory

	backend := &aiclient.MockBackend{
		InvokeFunc: func(ctx context.Context, req aiclient.Request) (string, error) {
			mu.Lock()
			sequence = append(sequence, req.Category)
			mu.Unlock()
			// Force one finding per file so fix generation also runs.
			if req.Category == analysis.CategoryFix {
				return `{"fixes":[],"fixedContent":""}`, nil
			}
			return `[{"severity":"info","message":"note","line":1}]`, nil
		},
	}
	orch, _ := newHarness(t, backend, Config{Workers: 3})

	snap := runToCompletion(t, orch, threeFiles())
	if snap.Status != analysis.RunCompleted {
		t.Fatalf("Status = %v", snap.Status)
	}

	want := []analysis.StageCategory{
		analysis.CategorySyntax, analysis.CategoryType, analysis.CategorySecurity,
		analysis.CategoryPerformance, analysis.CategoryStyle, analysis.CategoryFix,
	}
	mu.Lock()
	defer mu.Unlock()
	if len(sequence) != len(want)*3 {
		t.Fatalf("len(sequence) = %d, want %d", len(sequence), len(want)*3)
	}
	for i, category := range sequence {
		if category != want[i/3] {
			t.Fatalf("call %d has category %v, want %v: stage boundary leaked", i, category, want[i/3])
		}
	}
}

// Identical content replayed through the cache completes without any new
// backend calls and yields identical results.
func TestRepeatRunServedFromCache(t *testing.T) {
	backend := criticalOnA()
	orch, _ := newHarness(t, backend, Config{Workers: 2})

	first := runToCompletion(t, orch, threeFiles())
	if first.Status != analysis.RunCompleted {
		t.Fatalf("first run Status = %v", first.Status)
	}
	callsAfterFirst := backend.CallCount()

	second := runToCompletion(t, orch, threeFiles())
	if second.Status != analysis.RunCompleted {
		t.Fatalf("second run Status = %v", second.Status)
	}
	if backend.CallCount() != callsAfterFirst {
		t.Errorf("backend calls grew from %d to %d, want full cache replay", callsAfterFirst, backend.CallCount())
	}
	if second.Metrics != first.Metrics {
		// AnalysisDurationMs differs between runs; compare the derived counters.
		if second.Metrics.ErrorCount != first.Metrics.ErrorCount ||
			second.Metrics.QualityScore != first.Metrics.QualityScore ||
			second.Metrics.FixedFileCount != first.Metrics.FixedFileCount {
			t.Errorf("metrics diverged: %+v vs %+v", first.Metrics, second.Metrics)
		}
	}
}

func TestSingleRunPerProject(t *testing.T) {
	release := make(chan struct{})
	backend := &aiclient.MockBackend{
		InvokeFunc: func(ctx context.Context, req aiclient.Request) (string, error) {
			select {
			case <-release:
				return "[]", nil
			case <-ctx.Done():
				return "", ctx.Err()
			}
		},
	}
	orch, _ := newHarness(t, backend, Config{Workers: 1})

	run, err := orch.StartRun("proj-1", threeFiles())
	if err != nil {
		t.Fatalf("StartRun() error = %v", err)
	}

	_, err = orch.StartRun("proj-1", threeFiles())
	if !reverrors.HasCode(err, reverrors.RunConflict) {
		t.Errorf("second StartRun error = %v, want RUN_CONFLICT", err)
	}

	// A different project is admitted independently.
	other, err := orch.StartRun("proj-2", threeFiles())
	if err != nil {
		t.Fatalf("StartRun(proj-2) error = %v", err)
	}

	close(release)
	orch.Wait(run.ID)
	orch.Wait(other.ID)

	// Once the first run is terminal the project is free again.
	again, err := orch.StartRun("proj-1", threeFiles())
	if err != nil {
		t.Fatalf("StartRun() after completion error = %v", err)
	}
	orch.Wait(again.ID)
}

func TestCancellation(t *testing.T) {
	started := make(chan struct{})
	var once sync.Once
	backend := &aiclient.MockBackend{
		InvokeFunc: func(ctx context.Context, req aiclient.Request) (string, error) {
			once.Do(func() { close(started) })
			<-ctx.Done()
			return "", ctx.Err()
		},
	}
	orch, _ := newHarness(t, backend, Config{Workers: 1})

	run, err := orch.StartRun("proj-1", threeFiles())
	if err != nil {
		t.Fatalf("StartRun() error = %v", err)
	}
	<-started

	if err := orch.Cancel(run.ID); err != nil {
		t.Fatalf("Cancel() error = %v", err)
	}
	orch.Wait(run.ID)

	snap, err := orch.Status(run.ID)
	if err != nil {
		t.Fatalf("Status() error = %v", err)
	}
	if snap.Status != analysis.RunCancelled {
		t.Errorf("Status = %v, want cancelled", snap.Status)
	}

	// Terminal runs cannot be cancelled again.
	err = orch.Cancel(run.ID)
	if !reverrors.HasCode(err, reverrors.RunNotCancellable) {
		t.Errorf("Cancel() of terminal run = %v, want RUN_NOT_CANCELLABLE", err)
	}
}

func TestStartRunValidation(t *testing.T) {
	orch, _ := newHarness(t, &aiclient.MockBackend{}, Config{Workers: 1})

	if _, err := orch.StartRun("proj-1", nil); !reverrors.HasCode(err, reverrors.InvalidRequest) {
		t.Errorf("empty file set error = %v, want INVALID_REQUEST", err)
	}
	if _, err := orch.StartRun("", threeFiles()); !reverrors.HasCode(err, reverrors.InvalidRequest) {
		t.Errorf("empty project error = %v, want INVALID_REQUEST", err)
	}
}

func TestStatusNotFound(t *testing.T) {
	orch, _ := newHarness(t, &aiclient.MockBackend{}, Config{Workers: 1})

	_, err := orch.Status("no-such-run")
	if !reverrors.HasCode(err, reverrors.RunNotFound) {
		t.Errorf("Status() error = %v, want RUN_NOT_FOUND", err)
	}
	if err := orch.Cancel("no-such-run"); !reverrors.HasCode(err, reverrors.RunNotFound) {
		t.Errorf("Cancel() error = %v, want RUN_NOT_FOUND", err)
	}
}

// Runs left processing by a dead process are failed on startup, and the
// project becomes admissible again.
func TestRecoverInterruptedRuns(t *testing.T) {
	orch, st := newHarness(t, criticalOnA(), Config{Workers: 1})

	orphan := analysis.NewRun("proj-1", 2)
	orphan.MarkStarted()
	if err := st.CreateRun(orphan); err != nil {
		t.Fatalf("CreateRun() error = %v", err)
	}

	// Without recovery the store-level admission check blocks the project.
	if _, err := orch.StartRun("proj-1", threeFiles()); !reverrors.HasCode(err, reverrors.RunConflict) {
		t.Fatalf("StartRun() error = %v, want RUN_CONFLICT before recovery", err)
	}

	if err := orch.Recover(); err != nil {
		t.Fatalf("Recover() error = %v", err)
	}

	snap, err := orch.Status(orphan.ID)
	if err != nil {
		t.Fatalf("Status() error = %v", err)
	}
	if snap.Status != analysis.RunFailed {
		t.Errorf("Status = %v, want failed", snap.Status)
	}

	run, err := orch.StartRun("proj-1", threeFiles())
	if err != nil {
		t.Fatalf("StartRun() after recovery error = %v", err)
	}
	orch.Wait(run.ID)
}

// Progress only moves forward while a run executes.
func TestProgressMonotonic(t *testing.T) {
	backend := &aiclient.MockBackend{
		InvokeFunc: func(ctx context.Context, req aiclient.Request) (string, error) {
			time.Sleep(5 * time.Millisecond)
			if req.Category == analysis.CategoryFix {
				return `{"fixes":[],"fixedContent":""}`, nil
			}
			return "[]", nil
		},
	}
	orch, _ := newHarness(t, backend, Config{Workers: 1})

	run, err := orch.StartRun("proj-1", threeFiles())
	if err != nil {
		t.Fatalf("StartRun() error = %v", err)
	}

	last := -1
	deadline := time.After(30 * time.Second)
	for {
		snap, err := orch.Status(run.ID)
		if err != nil {
			t.Fatalf("Status() error = %v", err)
		}
		if snap.ProgressPercent < last {
			t.Fatalf("progress moved backwards: %d -> %d", last, snap.ProgressPercent)
		}
		last = snap.ProgressPercent
		if snap.Status == analysis.RunCompleted {
			break
		}
		select {
		case <-deadline:
			t.Fatal("run did not complete in time")
		case <-time.After(2 * time.Millisecond):
		}
	}
	if last != 100 {
		t.Errorf("final progress = %d, want 100", last)
	}
}

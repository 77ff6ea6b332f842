// Package pipeline drives analysis runs through the fixed stage sequence,
// fanning file work out to a bounded worker pool and checkpointing run state
// after every stage transition.
package pipeline

import (
	"context"
	"fmt"
	"sync"
	"time"

	"reva/internal/aggregate"
	"reva/internal/aiclient"
	"reva/internal/analysis"
	reverrors "reva/internal/errors"
	"reva/internal/logging"
	"reva/internal/progress"
	"reva/internal/store"
)

// Config tunes the orchestrator.
type Config struct {
	Workers int // per-stage worker pool size
	// GenerateSummary asks the backend for a prose summary at finalize time.
	// When off (or when the call fails) a deterministic local summary is used.
	GenerateSummary bool
}

// DefaultConfig returns the default orchestrator configuration.
func DefaultConfig() Config {
	return Config{Workers: 4}
}

// Orchestrator owns run admission, execution, cancellation, and status.
type Orchestrator struct {
	client *aiclient.Client
	store  *store.Store
	logger *logging.Logger
	cfg    Config

	mu        sync.Mutex
	cancel    map[string]context.CancelFunc // runID -> cancel
	done      map[string]chan struct{}      // runID -> closed when execution ends
	byProject map[string]string             // projectRef -> active runID

	wg sync.WaitGroup
}

// New creates an orchestrator.
func New(client *aiclient.Client, st *store.Store, logger *logging.Logger, cfg Config) *Orchestrator {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	return &Orchestrator{
		client:    client,
		store:     st,
		logger:    logger.WithComponent("pipeline"),
		cfg:       cfg,
		cancel:    make(map[string]context.CancelFunc),
		done:      make(map[string]chan struct{}),
		byProject: make(map[string]string),
	}
}

// Recover fails any run left processing by a dead process. Call once at
// startup, before admitting new runs.
func (o *Orchestrator) Recover() error {
	n, err := o.store.MarkInterrupted()
	if err != nil {
		return reverrors.New(reverrors.PersistenceFailed, "failed to recover interrupted runs", err)
	}
	if n > 0 {
		o.logger.Warn("Marked interrupted runs as failed", map[string]interface{}{
			"count": n,
		})
	}
	return nil
}

// StartRun admits and launches a run for the given project files. At most one
// run per project may be pending or processing at a time.
func (o *Orchestrator) StartRun(projectRef string, files []analysis.SourceFile) (*analysis.AnalysisRun, error) {
	if projectRef == "" {
		return nil, reverrors.New(reverrors.InvalidRequest, "projectRef is required", nil)
	}
	if len(files) == 0 {
		return nil, reverrors.New(reverrors.InvalidRequest, "file set is empty", nil)
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	if runID, ok := o.byProject[projectRef]; ok {
		return nil, reverrors.New(reverrors.RunConflict,
			fmt.Sprintf("project already has an active run: %s", runID), nil)
	}
	// Also check the store: an earlier process may have left an admitted run.
	if active, err := o.store.ActiveRunForProject(projectRef); err != nil {
		return nil, reverrors.New(reverrors.PersistenceFailed, "failed to check active runs", err)
	} else if active != nil {
		return nil, reverrors.New(reverrors.RunConflict,
			fmt.Sprintf("project already has an active run: %s", active.ID), nil)
	}

	run := analysis.NewRun(projectRef, len(files))
	if err := o.store.CreateRun(run); err != nil {
		return nil, reverrors.New(reverrors.PersistenceFailed, "failed to persist run", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	o.cancel[run.ID] = cancel
	o.done[run.ID] = make(chan struct{})
	o.byProject[projectRef] = run.ID

	o.logger.Info("Run admitted", map[string]interface{}{
		"runId":   run.ID,
		"project": projectRef,
		"files":   len(files),
	})

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		o.execute(ctx, run, files)
		o.release(run)
	}()

	// Return a snapshot so the caller cannot race the executing goroutine.
	snapshot := *run
	return &snapshot, nil
}

func (o *Orchestrator) release(run *analysis.AnalysisRun) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if cancel, ok := o.cancel[run.ID]; ok {
		cancel()
	}
	delete(o.cancel, run.ID)
	delete(o.byProject, run.ProjectRef)
	if done, ok := o.done[run.ID]; ok {
		close(done)
		delete(o.done, run.ID)
	}
}

// Wait blocks until the run's execution goroutine finishes. Runs unknown to
// this process return immediately.
func (o *Orchestrator) Wait(runID string) {
	o.mu.Lock()
	done, ok := o.done[runID]
	o.mu.Unlock()
	if ok {
		<-done
	}
}

// Cancel requests cooperative cancellation of a run. The run stops at the
// next file boundary; partial results are preserved.
func (o *Orchestrator) Cancel(runID string) error {
	run, err := o.store.GetRun(runID)
	if err != nil {
		return reverrors.New(reverrors.PersistenceFailed, "failed to load run", err)
	}
	if run == nil {
		return reverrors.New(reverrors.RunNotFound, fmt.Sprintf("run not found: %s", runID), nil)
	}
	if !run.CanCancel() {
		return reverrors.New(reverrors.RunNotCancellable,
			fmt.Sprintf("run is already %s", run.Status), nil)
	}

	o.mu.Lock()
	cancel, active := o.cancel[runID]
	o.mu.Unlock()

	if active {
		cancel()
		return nil
	}

	// Not executing in this process (admitted by a dead one); finalize directly.
	run.MarkCancelled()
	if err := o.store.UpdateRun(run); err != nil {
		return reverrors.New(reverrors.PersistenceFailed, "failed to persist cancellation", err)
	}
	return nil
}

// Status returns a point-in-time snapshot of a run from the store.
func (o *Orchestrator) Status(runID string) (progress.Snapshot, error) {
	run, err := o.store.GetRun(runID)
	if err != nil {
		return progress.Snapshot{}, reverrors.New(reverrors.PersistenceFailed, "failed to load run", err)
	}
	if run == nil {
		return progress.Snapshot{}, reverrors.New(reverrors.RunNotFound, fmt.Sprintf("run not found: %s", runID), nil)
	}
	return progress.Snap(run, time.Now().UTC()), nil
}

// Stop cancels all active runs and waits for their goroutines to drain.
func (o *Orchestrator) Stop(timeout time.Duration) error {
	o.mu.Lock()
	for runID, cancel := range o.cancel {
		o.logger.Debug("Cancelling active run for shutdown", map[string]interface{}{
			"runId": runID,
		})
		cancel()
	}
	o.mu.Unlock()

	drained := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(drained)
	}()

	select {
	case <-drained:
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("pipeline shutdown timed out after %v", timeout)
	}
}

// execute drives one run through the stage sequence. Per-file failures are
// isolated as stage_error findings; only structural failures (checkpoint
// writes) fail the run.
func (o *Orchestrator) execute(ctx context.Context, run *analysis.AnalysisRun, files []analysis.SourceFile) {
	run.MarkStarted()
	if !o.checkpoint(run, nil) {
		return
	}

	agg := aggregate.New()
	// A file counts as processed once every analysis stage has handled it.
	processed := make([]bool, len(files))
	for i := range processed {
		processed[i] = true
	}

	stages := analysis.StageSequence()
	completedStages := 1 // Initializing is done once files are admitted.

	for _, stage := range stages[1:] {
		if ctx.Err() != nil {
			o.finalizeCancelled(run, agg, files, processed)
			return
		}

		run.AdvanceStage(stage, completedStages)
		if !o.checkpointResults(run, agg) {
			return
		}

		switch {
		case stage == analysis.StageFixGeneration:
			o.runFixStage(ctx, files, agg)
		case stage == analysis.StageFinalizing:
			o.finalize(ctx, run, agg, files, processed)
			return
		default:
			category, ok := analysis.StageCategoryFor(stage)
			if !ok {
				continue
			}
			handled := o.runAnalysisStage(ctx, stage, category, files, agg)
			for i := range processed {
				processed[i] = processed[i] && handled[i]
			}
		}
		completedStages++
	}
}

// runAnalysisStage analyzes every file under one category with a bounded
// worker pool. Results are recorded in stable file order regardless of
// worker interleaving. The returned slice marks which files were handled
// (cancellation can leave a tail unhandled).
func (o *Orchestrator) runAnalysisStage(ctx context.Context, stage analysis.Stage, category analysis.StageCategory, files []analysis.SourceFile, agg *aggregate.Aggregator) []bool {
	results := make([][]analysis.Finding, len(files))
	handled := make([]bool, len(files))

	fileCh := make(chan int)
	var wg sync.WaitGroup
	for w := 0; w < o.cfg.Workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for idx := range fileCh {
				if ctx.Err() != nil {
					continue
				}
				file := files[idx]
				res, err := o.client.Analyze(ctx, file, category)
				if err != nil {
					if ctx.Err() != nil {
						continue
					}
					// Isolate the failure to this file; the run continues.
					o.logger.Warn("Stage failed for file", map[string]interface{}{
						"stage": stage,
						"file":  file.Path,
						"error": err.Error(),
					})
					results[idx] = []analysis.Finding{analysis.NewFinding(
						file.Path, analysis.CategoryStageError, analysis.SeverityInfo,
						fmt.Sprintf("%s failed: %v", stage, err), 0, "")}
					handled[idx] = true
					continue
				}
				results[idx] = res.Findings
				handled[idx] = true
			}
		}()
	}

feed:
	for idx := range files {
		select {
		case fileCh <- idx:
		case <-ctx.Done():
			break feed
		}
	}
	close(fileCh)
	wg.Wait()

	for idx := range results {
		agg.RecordErrors(results[idx])
	}
	return handled
}

// runFixStage generates fixes only for files that accumulated real findings.
// Clean files are never sent to the backend.
func (o *Orchestrator) runFixStage(ctx context.Context, files []analysis.SourceFile, agg *aggregate.Aggregator) {
	type fixOutcome struct {
		result aiclient.FixResult
		failed *analysis.Finding
	}

	var candidates []int
	for idx, file := range files {
		if len(agg.ErrorsForFile(file.Path)) > 0 {
			candidates = append(candidates, idx)
		}
	}
	if len(candidates) == 0 {
		return
	}

	outcomes := make([]*fixOutcome, len(files))
	fileCh := make(chan int)
	var wg sync.WaitGroup
	for w := 0; w < o.cfg.Workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for idx := range fileCh {
				if ctx.Err() != nil {
					continue
				}
				file := files[idx]
				res, err := o.client.GenerateFixes(ctx, file, agg.ErrorsForFile(file.Path))
				if err != nil {
					if ctx.Err() != nil {
						continue
					}
					o.logger.Warn("Fix generation failed for file", map[string]interface{}{
						"file":  file.Path,
						"error": err.Error(),
					})
					f := analysis.NewFinding(file.Path, analysis.CategoryStageError, analysis.SeverityInfo,
						fmt.Sprintf("%s failed: %v", analysis.StageFixGeneration, err), 0, "")
					outcomes[idx] = &fixOutcome{failed: &f}
					continue
				}
				outcomes[idx] = &fixOutcome{result: res}
			}
		}()
	}

feed:
	for _, idx := range candidates {
		select {
		case fileCh <- idx:
		case <-ctx.Done():
			break feed
		}
	}
	close(fileCh)
	wg.Wait()

	for idx, outcome := range outcomes {
		if outcome == nil {
			continue
		}
		if outcome.failed != nil {
			agg.RecordErrors([]analysis.Finding{*outcome.failed})
			continue
		}
		res := outcome.result
		agg.RecordFixes(res.Fixes)
		if res.FixedContent != "" && res.FixedContent != files[idx].Content {
			fixIDs := make([]string, 0, len(res.Fixes))
			for _, fix := range res.Fixes {
				fixIDs = append(fixIDs, fix.ID)
			}
			agg.RecordFixedFile(analysis.FixedFile{
				File:            files[idx].Path,
				OriginalContent: files[idx].Content,
				FixedContent:    res.FixedContent,
				ChangeCount:     res.ChangeCount,
				AppliedFixIDs:   fixIDs,
			})
		}
	}
}

func (o *Orchestrator) finalize(ctx context.Context, run *analysis.AnalysisRun, agg *aggregate.Aggregator, files []analysis.SourceFile, processed []bool) {
	metrics := agg.Summary(len(files), countTrue(processed))
	summary := o.buildSummary(ctx, metrics, agg)

	if orphans := agg.OrphanedFixes(); len(orphans) > 0 {
		o.logger.Warn("Fixes reference unknown findings", map[string]interface{}{
			"runId": run.ID,
			"count": len(orphans),
		})
	}

	run.MarkCompleted(metrics, summary)
	if !o.checkpointResults(run, agg) {
		return
	}
	o.logger.Info("Run completed", map[string]interface{}{
		"runId":        run.ID,
		"errorCount":   metrics.ErrorCount,
		"qualityScore": metrics.QualityScore,
		"fixedFiles":   metrics.FixedFileCount,
		"duration":     run.Duration().String(),
	})
}

func (o *Orchestrator) finalizeCancelled(run *analysis.AnalysisRun, agg *aggregate.Aggregator, files []analysis.SourceFile, processed []bool) {
	run.Metrics = agg.Summary(len(files), countTrue(processed))
	run.MarkCancelled()
	o.checkpointResults(run, agg)
	o.logger.Info("Run cancelled", map[string]interface{}{
		"runId": run.ID,
		"stage": run.CurrentStage,
	})
}

// buildSummary prefers a backend-written summary when enabled, falling back
// to a deterministic local one. The summary is advisory; its failure never
// affects run state.
func (o *Orchestrator) buildSummary(ctx context.Context, metrics analysis.Metrics, agg *aggregate.Aggregator) string {
	if o.cfg.GenerateSummary && ctx.Err() == nil {
		summary, err := o.client.Summarize(ctx, metrics, agg.TopFindings(5))
		if err == nil && summary != "" {
			return summary
		}
		if err != nil {
			o.logger.Warn("Summary generation failed, using local summary", map[string]interface{}{
				"error": err.Error(),
			})
		}
	}
	return fmt.Sprintf("Analyzed %d of %d files: %d findings, %d files fixed, quality score %d.",
		metrics.FilesProcessed, metrics.TotalFiles, metrics.ErrorCount, metrics.FixedFileCount, metrics.QualityScore)
}

// checkpoint persists run state. A failed write is structural: the run is
// marked failed and execution stops.
func (o *Orchestrator) checkpoint(run *analysis.AnalysisRun, agg *aggregate.Aggregator) bool {
	var err error
	if agg != nil {
		err = o.store.SaveResults(run.ID, agg.Errors(), agg.Fixes(), agg.FixedFiles())
	}
	if err == nil {
		err = o.store.UpdateRun(run)
	}
	if err == nil {
		return true
	}

	o.logger.Error("Checkpoint failed", map[string]interface{}{
		"runId": run.ID,
		"stage": run.CurrentStage,
		"error": err.Error(),
	})
	if !run.IsTerminal() {
		run.MarkFailed(reverrors.New(reverrors.PersistenceFailed, "checkpoint write failed", err))
		if saveErr := o.store.UpdateRun(run); saveErr != nil {
			o.logger.Error("Failed to persist run failure", map[string]interface{}{
				"runId": run.ID,
				"error": saveErr.Error(),
			})
		}
	}
	return false
}

func (o *Orchestrator) checkpointResults(run *analysis.AnalysisRun, agg *aggregate.Aggregator) bool {
	return o.checkpoint(run, agg)
}

func countTrue(flags []bool) int {
	n := 0
	for _, b := range flags {
		if b {
			n++
		}
	}
	return n
}

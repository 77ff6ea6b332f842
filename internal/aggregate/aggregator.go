// Package aggregate accumulates errors, fixes, and fixed files across files
// and stages into one coherent result. Purely additive: stages append, never
// revise or delete prior findings.
package aggregate

import (
	"sort"
	"sync"

	"reva/internal/analysis"
)

// Aggregator is safe for concurrent use by pipeline workers. Records are
// kept in insertion order so output is deterministic when callers feed
// results in a stable order.
type Aggregator struct {
	mu         sync.Mutex
	findings   []analysis.Finding
	fixes      []analysis.Fix
	fixedFiles []analysis.FixedFile
	seen       map[string]bool // finding IDs, a hash of (file, category, line, message)
}

// New creates an empty aggregator for one run.
func New() *Aggregator {
	return &Aggregator{seen: map[string]bool{}}
}

// RecordErrors appends findings for a file, de-duplicating by the
// (file, line, category, message) composite key so a retried stage cannot
// double-report. Returns how many findings were actually added.
func (a *Aggregator) RecordErrors(findings []analysis.Finding) int {
	a.mu.Lock()
	defer a.mu.Unlock()

	added := 0
	for _, f := range findings {
		if a.seen[f.ID] {
			continue
		}
		a.seen[f.ID] = true
		a.findings = append(a.findings, f)
		added++
	}
	return added
}

// RecordFixes appends proposed fixes for a file.
func (a *Aggregator) RecordFixes(fixes []analysis.Fix) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.fixes = append(a.fixes, fixes...)
}

// RecordFixedFile appends the corrected content for one file.
func (a *Aggregator) RecordFixedFile(ff analysis.FixedFile) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.fixedFiles = append(a.fixedFiles, ff)
}

// Errors returns all recorded findings in insertion order.
func (a *Aggregator) Errors() []analysis.Finding {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]analysis.Finding, len(a.findings))
	copy(out, a.findings)
	return out
}

// ErrorsForFile returns the findings recorded for one file, excluding
// stage-error markers (those describe pipeline failures, not fixable code).
func (a *Aggregator) ErrorsForFile(file string) []analysis.Finding {
	a.mu.Lock()
	defer a.mu.Unlock()

	var out []analysis.Finding
	for _, f := range a.findings {
		if f.File == file && f.Category != analysis.CategoryStageError {
			out = append(out, f)
		}
	}
	return out
}

// Fixes returns all recorded fixes in insertion order.
func (a *Aggregator) Fixes() []analysis.Fix {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]analysis.Fix, len(a.fixes))
	copy(out, a.fixes)
	return out
}

// FixedFiles returns all recorded fixed files in insertion order.
func (a *Aggregator) FixedFiles() []analysis.FixedFile {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]analysis.FixedFile, len(a.fixedFiles))
	copy(out, a.fixedFiles)
	return out
}

// TopFindings returns up to n findings ordered by severity, most severe
// first. Ties keep insertion order.
func (a *Aggregator) TopFindings(n int) []analysis.Finding {
	all := a.Errors()
	sort.SliceStable(all, func(i, j int) bool {
		return analysis.SeverityRank(all[i].Severity) > analysis.SeverityRank(all[j].Severity)
	})
	if n > 0 && len(all) > n {
		all = all[:n]
	}
	return all
}

// OrphanedFixes returns fixes whose ErrorID references no recorded finding.
// The weak reference is tolerated by design; orphans are flagged at finalize
// time rather than dropped.
func (a *Aggregator) OrphanedFixes() []analysis.Fix {
	a.mu.Lock()
	defer a.mu.Unlock()

	var orphans []analysis.Fix
	for _, fix := range a.fixes {
		if fix.ErrorID != "" && !a.seen[fix.ErrorID] {
			orphans = append(orphans, fix)
		}
	}
	return orphans
}

// Summary derives the run metrics from everything recorded so far.
func (a *Aggregator) Summary(totalFiles, filesProcessed int) analysis.Metrics {
	a.mu.Lock()
	defer a.mu.Unlock()

	critical, high := 0, 0
	for _, f := range a.findings {
		switch f.Severity {
		case analysis.SeverityCritical:
			critical++
		case analysis.SeverityHigh:
			high++
		}
	}

	score := 100 - 10*critical - 5*high
	if score < 0 {
		score = 0
	}

	orphans := 0
	for _, fix := range a.fixes {
		if fix.ErrorID != "" && !a.seen[fix.ErrorID] {
			orphans++
		}
	}

	return analysis.Metrics{
		TotalFiles:       totalFiles,
		FilesProcessed:   filesProcessed,
		ErrorCount:       len(a.findings),
		FixedFileCount:   len(a.fixedFiles),
		QualityScore:     score,
		OrphanedFixCount: orphans,
	}
}

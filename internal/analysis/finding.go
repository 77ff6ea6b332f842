// Package analysis defines the core data model for analysis runs:
// source files, findings, fixes, and run state.
package analysis

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/google/uuid"
)

// SourceFile is one file of a submitted project. Immutable once submitted.
type SourceFile struct {
	Path      string `json:"path"`
	Language  string `json:"language"`
	Content   string `json:"content"`
	SizeBytes int    `json:"sizeBytes"`
}

// StageCategory classifies what kind of issue a finding reports.
type StageCategory string

const (
	CategorySyntax      StageCategory = "syntax"
	CategoryType        StageCategory = "type"
	CategoryLogic       StageCategory = "logic"
	CategorySecurity    StageCategory = "security"
	CategoryPerformance StageCategory = "performance"
	CategoryStyle       StageCategory = "style"
	// CategoryFix is used for fingerprinting and prompting the fix stage;
	// findings themselves never carry it.
	CategoryFix StageCategory = "fix"
	// CategoryStageError marks a per-file analysis failure captured as a
	// finding instead of aborting the run.
	CategoryStageError StageCategory = "stage_error"
)

// Severity represents how serious a finding is.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
	SeverityInfo     Severity = "info"
)

// SeverityRank returns a numeric rank for sorting (higher = more severe).
func SeverityRank(s Severity) int {
	switch s {
	case SeverityCritical:
		return 5
	case SeverityHigh:
		return 4
	case SeverityMedium:
		return 3
	case SeverityLow:
		return 2
	case SeverityInfo:
		return 1
	default:
		return 0
	}
}

// NormalizeSeverity maps arbitrary backend output to a known severity.
// Unknown values degrade to info rather than being dropped.
func NormalizeSeverity(s string) Severity {
	switch Severity(s) {
	case SeverityCritical, SeverityHigh, SeverityMedium, SeverityLow, SeverityInfo:
		return Severity(s)
	default:
		return SeverityInfo
	}
}

// Finding is a single reported error discovered during a stage.
// Never mutated after creation.
type Finding struct {
	ID         string        `json:"id"`
	File       string        `json:"file"`
	Category   StageCategory `json:"category"`
	Severity   Severity      `json:"severity"`
	Message    string        `json:"message"`
	Line       int           `json:"line"`
	Suggestion string        `json:"suggestion,omitempty"`
}

// NewFinding creates a finding. The ID is a stable hash of the identifying
// fields so re-parsing an identical backend response yields identical
// findings.
func NewFinding(file string, category StageCategory, severity Severity, message string, line int, suggestion string) Finding {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s:%s:%d:%s", file, category, line, message)))
	return Finding{
		ID:         hex.EncodeToString(sum[:8]),
		File:       file,
		Category:   category,
		Severity:   severity,
		Message:    message,
		Line:       line,
		Suggestion: suggestion,
	}
}

// Fix is a proposed remediation for a finding. ErrorID is a weak reference:
// it names a Finding by id but does not own it, and nothing enforces that
// the referenced finding exists.
type Fix struct {
	ID          string `json:"id"`
	ErrorID     string `json:"errorId,omitempty"`
	File        string `json:"file"`
	Description string `json:"description"`
	Complexity  string `json:"complexity,omitempty"`
	Risk        string `json:"risk,omitempty"`
	Applied     bool   `json:"applied"`
}

// NewFix creates a fix with a fresh ID.
func NewFix(errorID, file, description, complexity, risk string, applied bool) Fix {
	return Fix{
		ID:          uuid.New().String(),
		ErrorID:     errorID,
		File:        file,
		Description: description,
		Complexity:  complexity,
		Risk:        risk,
		Applied:     applied,
	}
}

// FixedFile holds the corrected content for one file that received at least
// one fix. Original content is preserved alongside, never replaced.
type FixedFile struct {
	File            string   `json:"file"`
	OriginalContent string   `json:"originalContent"`
	FixedContent    string   `json:"fixedContent"`
	ChangeCount     int      `json:"changeCount"`
	AppliedFixIDs   []string `json:"appliedFixIds,omitempty"`
}

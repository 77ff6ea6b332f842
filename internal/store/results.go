package store

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"reva/internal/analysis"
)

// SaveResults replaces the stored findings, fixes, and fixed files for a run
// in one transaction. Called at stage checkpoints, so it must be idempotent
// for repeated saves of a growing result set.
func (s *Store) SaveResults(runID string, findings []analysis.Finding, fixes []analysis.Fix, fixedFiles []analysis.FixedFile) error {
	tx, err := s.conn.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for i, f := range findings {
		if _, err := tx.Exec(`
			INSERT OR REPLACE INTO findings (run_id, id, file, category, severity, message, line, suggestion, seq)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, runID, f.ID, f.File, f.Category, f.Severity, f.Message, f.Line, nullString(f.Suggestion), i); err != nil {
			return fmt.Errorf("failed to save finding: %w", err)
		}
	}

	for i, fix := range fixes {
		if _, err := tx.Exec(`
			INSERT OR REPLACE INTO fixes (run_id, id, error_id, file, description, complexity, risk, applied, seq)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, runID, fix.ID, nullString(fix.ErrorID), fix.File, fix.Description, nullString(fix.Complexity), nullString(fix.Risk), boolToInt(fix.Applied), i); err != nil {
			return fmt.Errorf("failed to save fix: %w", err)
		}
	}

	for _, ff := range fixedFiles {
		appliedIDs, err := json.Marshal(ff.AppliedFixIDs)
		if err != nil {
			return fmt.Errorf("failed to encode applied fix ids: %w", err)
		}
		if _, err := tx.Exec(`
			INSERT OR REPLACE INTO fixed_files (run_id, file, original_content, fixed_content, change_count, applied_fix_ids)
			VALUES (?, ?, ?, ?, ?, ?)
		`, runID, ff.File, ff.OriginalContent, ff.FixedContent, ff.ChangeCount, string(appliedIDs)); err != nil {
			return fmt.Errorf("failed to save fixed file: %w", err)
		}
	}

	return tx.Commit()
}

// GetFindings returns the findings for a run in the order they were recorded.
func (s *Store) GetFindings(runID string) ([]analysis.Finding, error) {
	rows, err := s.conn.Query(`
		SELECT id, file, category, severity, message, line, suggestion
		FROM findings WHERE run_id = ? ORDER BY seq
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query findings: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var findings []analysis.Finding
	for rows.Next() {
		var f analysis.Finding
		var suggestion sql.NullString
		if err := rows.Scan(&f.ID, &f.File, &f.Category, &f.Severity, &f.Message, &f.Line, &suggestion); err != nil {
			return nil, fmt.Errorf("failed to scan finding: %w", err)
		}
		f.Suggestion = suggestion.String
		findings = append(findings, f)
	}
	return findings, rows.Err()
}

// GetFixes returns the fixes for a run in the order they were recorded.
func (s *Store) GetFixes(runID string) ([]analysis.Fix, error) {
	rows, err := s.conn.Query(`
		SELECT id, error_id, file, description, complexity, risk, applied
		FROM fixes WHERE run_id = ? ORDER BY seq
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query fixes: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var fixes []analysis.Fix
	for rows.Next() {
		var fix analysis.Fix
		var errorID, complexity, risk sql.NullString
		var applied int
		if err := rows.Scan(&fix.ID, &errorID, &fix.File, &fix.Description, &complexity, &risk, &applied); err != nil {
			return nil, fmt.Errorf("failed to scan fix: %w", err)
		}
		fix.ErrorID = errorID.String
		fix.Complexity = complexity.String
		fix.Risk = risk.String
		fix.Applied = applied != 0
		fixes = append(fixes, fix)
	}
	return fixes, rows.Err()
}

// GetFixedFiles returns the fixed files for a run.
func (s *Store) GetFixedFiles(runID string) ([]analysis.FixedFile, error) {
	rows, err := s.conn.Query(`
		SELECT file, original_content, fixed_content, change_count, applied_fix_ids
		FROM fixed_files WHERE run_id = ? ORDER BY file
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query fixed files: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var files []analysis.FixedFile
	for rows.Next() {
		var ff analysis.FixedFile
		var appliedIDs sql.NullString
		if err := rows.Scan(&ff.File, &ff.OriginalContent, &ff.FixedContent, &ff.ChangeCount, &appliedIDs); err != nil {
			return nil, fmt.Errorf("failed to scan fixed file: %w", err)
		}
		if appliedIDs.Valid && appliedIDs.String != "" {
			_ = json.Unmarshal([]byte(appliedIDs.String), &ff.AppliedFixIDs)
		}
		files = append(files, ff)
	}
	return files, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

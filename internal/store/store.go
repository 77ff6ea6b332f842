// Package store persists analysis runs and their results in SQLite so a
// restarted process can report last-known state. The orchestrator checkpoints
// through this package after every stage transition.
package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver

	"reva/internal/analysis"
	"reva/internal/logging"
)

// Store provides persistence for runs in a SQLite database.
type Store struct {
	conn   *sql.DB
	logger *logging.Logger
	dbPath string
}

// Open opens or creates the runs database at <dataDir>/runs.db.
func Open(dataDir string, logger *logging.Logger) (*Store, error) {
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	dbPath := filepath.Join(dataDir, "runs.db")
	dbExists := fileExists(dbPath)

	conn, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open runs database: %w", err)
	}

	// Set pragmas for performance
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
		"PRAGMA cache_size=-16000", // 16MB cache
	}
	for _, pragma := range pragmas {
		if _, err := conn.Exec(pragma); err != nil {
			_ = conn.Close()
			return nil, fmt.Errorf("failed to set pragma: %w", err)
		}
	}

	s := &Store{
		conn:   conn,
		logger: logger.WithComponent("store"),
		dbPath: dbPath,
	}

	if !dbExists {
		s.logger.Info("Creating runs database", map[string]interface{}{
			"path": dbPath,
		})
	}
	if err := s.initializeSchema(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return s, nil
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func (s *Store) initializeSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS runs (
			id TEXT PRIMARY KEY,
			project_ref TEXT NOT NULL,
			status TEXT NOT NULL DEFAULT 'pending',
			current_stage TEXT NOT NULL,
			stage_index INTEGER DEFAULT 0,
			progress INTEGER DEFAULT 0,
			created_at TEXT NOT NULL,
			started_at TEXT,
			completed_at TEXT,
			error TEXT,
			summary TEXT,
			metrics TEXT
		);
		CREATE INDEX IF NOT EXISTS idx_runs_project ON runs(project_ref);
		CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status);
		CREATE INDEX IF NOT EXISTS idx_runs_created_at ON runs(created_at DESC);

		CREATE TABLE IF NOT EXISTS findings (
			run_id TEXT NOT NULL,
			id TEXT NOT NULL,
			file TEXT NOT NULL,
			category TEXT NOT NULL,
			severity TEXT NOT NULL,
			message TEXT NOT NULL,
			line INTEGER DEFAULT 0,
			suggestion TEXT,
			seq INTEGER NOT NULL,
			PRIMARY KEY (run_id, id)
		);

		CREATE TABLE IF NOT EXISTS fixes (
			run_id TEXT NOT NULL,
			id TEXT NOT NULL,
			error_id TEXT,
			file TEXT NOT NULL,
			description TEXT,
			complexity TEXT,
			risk TEXT,
			applied INTEGER DEFAULT 0,
			seq INTEGER NOT NULL,
			PRIMARY KEY (run_id, id)
		);

		CREATE TABLE IF NOT EXISTS fixed_files (
			run_id TEXT NOT NULL,
			file TEXT NOT NULL,
			original_content TEXT NOT NULL,
			fixed_content TEXT NOT NULL,
			change_count INTEGER DEFAULT 0,
			applied_fix_ids TEXT,
			PRIMARY KEY (run_id, file)
		);

		CREATE TABLE IF NOT EXISTS schema_version (
			version INTEGER PRIMARY KEY
		);
		INSERT OR REPLACE INTO schema_version (version) VALUES (1);
	`
	_, err := s.conn.Exec(schema)
	return err
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.conn != nil {
		return s.conn.Close()
	}
	return nil
}

// CreateRun inserts a new run.
func (s *Store) CreateRun(run *analysis.AnalysisRun) error {
	metrics, err := json.Marshal(run.Metrics)
	if err != nil {
		return fmt.Errorf("failed to encode metrics: %w", err)
	}

	_, err = s.conn.Exec(`
		INSERT INTO runs (id, project_ref, status, current_stage, stage_index, progress,
			created_at, started_at, completed_at, error, summary, metrics)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		run.ID,
		run.ProjectRef,
		run.Status,
		run.CurrentStage,
		run.StageIndex,
		run.Progress,
		run.CreatedAt.Format(time.RFC3339),
		nullTime(run.StartedAt),
		nullTime(run.CompletedAt),
		nullString(run.Error),
		nullString(run.Summary),
		string(metrics),
	)
	if err != nil {
		return fmt.Errorf("failed to create run: %w", err)
	}

	s.logger.Debug("Created run", map[string]interface{}{
		"runId":   run.ID,
		"project": run.ProjectRef,
	})
	return nil
}

// UpdateRun persists the current state of an existing run.
func (s *Store) UpdateRun(run *analysis.AnalysisRun) error {
	metrics, err := json.Marshal(run.Metrics)
	if err != nil {
		return fmt.Errorf("failed to encode metrics: %w", err)
	}

	result, err := s.conn.Exec(`
		UPDATE runs SET
			status = ?,
			current_stage = ?,
			stage_index = ?,
			progress = ?,
			started_at = ?,
			completed_at = ?,
			error = ?,
			summary = ?,
			metrics = ?
		WHERE id = ?
	`,
		run.Status,
		run.CurrentStage,
		run.StageIndex,
		run.Progress,
		nullTime(run.StartedAt),
		nullTime(run.CompletedAt),
		nullString(run.Error),
		nullString(run.Summary),
		string(metrics),
		run.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update run: %w", err)
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return fmt.Errorf("run not found: %s", run.ID)
	}
	return nil
}

// GetRun retrieves a run by ID. Returns (nil, nil) when absent.
func (s *Store) GetRun(id string) (*analysis.AnalysisRun, error) {
	row := s.conn.QueryRow(`
		SELECT id, project_ref, status, current_stage, stage_index, progress,
			created_at, started_at, completed_at, error, summary, metrics
		FROM runs WHERE id = ?
	`, id)
	return scanRun(row.Scan)
}

// ActiveRunForProject returns the run currently pending or processing for a
// project, if any. Backs the single-concurrent-run-per-project admission
// check.
func (s *Store) ActiveRunForProject(projectRef string) (*analysis.AnalysisRun, error) {
	row := s.conn.QueryRow(`
		SELECT id, project_ref, status, current_stage, stage_index, progress,
			created_at, started_at, completed_at, error, summary, metrics
		FROM runs
		WHERE project_ref = ? AND status IN ('pending', 'processing')
		ORDER BY created_at DESC
		LIMIT 1
	`, projectRef)
	return scanRun(row.Scan)
}

// ListOptions filters ListRuns.
type ListOptions struct {
	Status     []analysis.RunStatus
	ProjectRef string
	Limit      int
	Offset     int
}

// ListRuns retrieves runs matching the given options, newest first.
func (s *Store) ListRuns(opts ListOptions) ([]*analysis.AnalysisRun, error) {
	var conditions []string
	var args []interface{}

	if len(opts.Status) > 0 {
		placeholders := make([]string, len(opts.Status))
		for i, status := range opts.Status {
			placeholders[i] = "?"
			args = append(args, status)
		}
		conditions = append(conditions, fmt.Sprintf("status IN (%s)", strings.Join(placeholders, ",")))
	}
	if opts.ProjectRef != "" {
		conditions = append(conditions, "project_ref = ?")
		args = append(args, opts.ProjectRef)
	}

	whereClause := ""
	if len(conditions) > 0 {
		whereClause = "WHERE " + strings.Join(conditions, " AND ")
	}

	limit := opts.Limit
	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}
	args = append(args, limit, opts.Offset)

	rows, err := s.conn.Query(fmt.Sprintf(`
		SELECT id, project_ref, status, current_stage, stage_index, progress,
			created_at, started_at, completed_at, error, summary, metrics
		FROM runs %s
		ORDER BY created_at DESC
		LIMIT ? OFFSET ?
	`, whereClause), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var runs []*analysis.AnalysisRun
	for rows.Next() {
		run, err := scanRun(rows.Scan)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// MarkInterrupted fails any run left processing by a dead process. Called
// once at startup before new runs are admitted.
func (s *Store) MarkInterrupted() (int64, error) {
	now := time.Now().UTC().Format(time.RFC3339)
	result, err := s.conn.Exec(`
		UPDATE runs SET status = 'failed', error = 'run interrupted by process shutdown', completed_at = ?
		WHERE status IN ('pending', 'processing')
	`, now)
	if err != nil {
		return 0, fmt.Errorf("failed to mark interrupted runs: %w", err)
	}
	return result.RowsAffected()
}

// PruneRuns removes terminal runs older than the retention period, along
// with their results.
func (s *Store) PruneRuns(retention time.Duration) (int64, error) {
	cutoff := time.Now().UTC().Add(-retention).Format(time.RFC3339)

	tx, err := s.conn.Begin()
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback() }()

	for _, table := range []string{"findings", "fixes", "fixed_files"} {
		if _, err := tx.Exec(fmt.Sprintf(`
			DELETE FROM %s WHERE run_id IN (
				SELECT id FROM runs
				WHERE status IN ('completed', 'failed', 'cancelled') AND completed_at < ?
			)
		`, table), cutoff); err != nil {
			return 0, fmt.Errorf("failed to prune %s: %w", table, err)
		}
	}

	result, err := tx.Exec(`
		DELETE FROM runs
		WHERE status IN ('completed', 'failed', 'cancelled') AND completed_at < ?
	`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to prune runs: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

func scanRun(scan func(dest ...interface{}) error) (*analysis.AnalysisRun, error) {
	var run analysis.AnalysisRun
	var startedAt, completedAt, errMsg, summary, metrics sql.NullString
	var createdAt string

	err := scan(
		&run.ID,
		&run.ProjectRef,
		&run.Status,
		&run.CurrentStage,
		&run.StageIndex,
		&run.Progress,
		&createdAt,
		&startedAt,
		&completedAt,
		&errMsg,
		&summary,
		&metrics,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan run: %w", err)
	}

	run.Error = errMsg.String
	run.Summary = summary.String

	if t, err := time.Parse(time.RFC3339, createdAt); err == nil {
		run.CreatedAt = t
	}
	if startedAt.Valid {
		if t, err := time.Parse(time.RFC3339, startedAt.String); err == nil {
			run.StartedAt = &t
		}
	}
	if completedAt.Valid {
		if t, err := time.Parse(time.RFC3339, completedAt.String); err == nil {
			run.CompletedAt = &t
		}
	}
	if metrics.Valid && metrics.String != "" {
		_ = json.Unmarshal([]byte(metrics.String), &run.Metrics)
	}

	return &run, nil
}

// Helper functions for nullable fields
func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: t.Format(time.RFC3339), Valid: true}
}

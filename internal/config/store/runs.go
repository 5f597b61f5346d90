package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// RunKind distinguishes the workflow a run record belongs to.
type RunKind string

const (
	RunInstall RunKind = "install"
	RunFlash   RunKind = "flash"
)

// RunStatus is the lifecycle state of a run.
type RunStatus string

const (
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
)

// Run is one install or flash attempt recorded by the daemon.
type Run struct {
	ID         string     `json:"id"`
	Kind       RunKind    `json:"kind"`
	Status     RunStatus  `json:"status"`
	Message    string     `json:"message,omitempty"`
	FQBN       string     `json:"fqbn,omitempty"`
	Port       string     `json:"port,omitempty"`
	Variant    string     `json:"variant,omitempty"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// RunParams are the fields known when a run starts.
type RunParams struct {
	Kind    RunKind
	FQBN    string
	Port    string
	Variant string
}

// ResolutionAttempt mirrors one install attempt for a library name.
type ResolutionAttempt struct {
	Name    string `json:"name"`
	Outcome string `json:"outcome"`
	Reason  string `json:"reason,omitempty"`
}

// LibraryResolution records how one required library was satisfied.
type LibraryResolution struct {
	Position     int                 `json:"position"`
	Requirement  string              `json:"requirement"`
	Installed    bool                `json:"installed"`
	ResolvedName string              `json:"resolved_name,omitempty"`
	Attempts     []ResolutionAttempt `json:"attempts,omitempty"`
}

const runColumns = `id, kind, status, message, fqbn, port, variant, started_at, finished_at`

var errInvalidRunKind = errors.New("config: invalid run kind")

func validRunKind(kind RunKind) bool {
	return kind == RunInstall || kind == RunFlash
}

// BeginRun inserts a running record and returns it.
func (s *Store) BeginRun(ctx context.Context, params RunParams) (Run, error) {
	if err := s.writable("begin run"); err != nil {
		return Run{}, err
	}
	if !validRunKind(params.Kind) {
		return Run{}, fmt.Errorf("%w: %q", errInvalidRunKind, params.Kind)
	}

	run := Run{
		ID:        uuid.NewString(),
		Kind:      params.Kind,
		Status:    RunRunning,
		FQBN:      strings.TrimSpace(params.FQBN),
		Port:      strings.TrimSpace(params.Port),
		Variant:   strings.TrimSpace(params.Variant),
		StartedAt: time.Now().UTC(),
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO install_runs (id, instance_name, kind, status, message, fqbn, port, variant, started_at)
		VALUES (?, ?, ?, ?, '', ?, ?, ?, ?)
	`, run.ID, s.instanceName, string(run.Kind), string(run.Status), run.FQBN, run.Port, run.Variant, formatTime(run.StartedAt))
	if err != nil {
		return Run{}, fmt.Errorf("config: begin run: %w", err)
	}
	return run, nil
}

// FinishRun marks a run completed or failed. The variant is updated when
// non-empty since it is usually only known once selection has happened.
func (s *Store) FinishRun(ctx context.Context, id string, success bool, message, variant string) error {
	if err := s.writable("finish run"); err != nil {
		return err
	}
	status := RunFailed
	if success {
		status = RunCompleted
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE install_runs
		SET status = ?, message = ?, finished_at = ?,
			variant = CASE WHEN ? = '' THEN variant ELSE ? END
		WHERE id = ? AND instance_name = ?
	`, string(status), message, formatTime(time.Now()), variant, variant, id, s.instanceName)
	if err != nil {
		return fmt.Errorf("config: finish run %s: %w", id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return NotFoundError{Entity: "run", Key: id}
	}
	return nil
}

// SaveResolutions replaces the library resolution rows of a run.
func (s *Store) SaveResolutions(ctx context.Context, runID string, resolutions []LibraryResolution) error {
	if err := s.writable("save resolutions"); err != nil {
		return err
	}

	return s.withTx(ctx, func(tx *sql.Tx) error {
		var exists int
		if err := tx.QueryRowContext(ctx,
			`SELECT COUNT(1) FROM install_runs WHERE id = ? AND instance_name = ?`,
			runID, s.instanceName,
		).Scan(&exists); err != nil {
			return fmt.Errorf("config: lookup run %s: %w", runID, err)
		}
		if exists == 0 {
			return NotFoundError{Entity: "run", Key: runID}
		}

		if _, err := tx.ExecContext(ctx, `DELETE FROM library_resolutions WHERE run_id = ?`, runID); err != nil {
			return fmt.Errorf("config: clear resolutions: %w", err)
		}

		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO library_resolutions (run_id, position, requirement, installed, resolved_name, attempts)
			VALUES (?, ?, ?, ?, ?, ?)
		`)
		if err != nil {
			return fmt.Errorf("config: prepare save resolutions: %w", err)
		}
		defer stmt.Close()

		for i, res := range resolutions {
			attempts, err := jsonColumn(res.Attempts)
			if err != nil {
				return fmt.Errorf("config: encode attempts for %s: %w", res.Requirement, err)
			}
			installed := 0
			if res.Installed {
				installed = 1
			}
			if _, err := stmt.ExecContext(ctx, runID, i, res.Requirement, installed, res.ResolvedName, attempts); err != nil {
				return fmt.Errorf("config: save resolution %s: %w", res.Requirement, err)
			}
		}
		return nil
	})
}

// GetRun returns a single run by id.
func (s *Store) GetRun(ctx context.Context, id string) (Run, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+runColumns+` FROM install_runs WHERE id = ? AND instance_name = ?`,
		id, s.instanceName,
	)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Run{}, NotFoundError{Entity: "run", Key: id}
	}
	if err != nil {
		return Run{}, fmt.Errorf("config: get run %s: %w", id, err)
	}
	return run, nil
}

// ListRuns returns the most recent runs first. An empty kind lists both
// kinds; limit <= 0 means no limit.
func (s *Store) ListRuns(ctx context.Context, kind RunKind, limit int) ([]Run, error) {
	query := `SELECT ` + runColumns + ` FROM install_runs WHERE instance_name = ?`
	args := []any{s.instanceName}
	if kind != "" {
		query += ` AND kind = ?`
		args = append(args, string(kind))
	}
	query += ` ORDER BY started_at DESC, rowid DESC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("config: list runs: %w", err)
	}
	return collect(rows, "config: runs", scanRun)
}

// LastSuccessfulRun returns the newest completed run of kind.
func (s *Store) LastSuccessfulRun(ctx context.Context, kind RunKind) (Run, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+runColumns+` FROM install_runs
		WHERE instance_name = ? AND kind = ? AND status = ?
		ORDER BY started_at DESC, rowid DESC
		LIMIT 1
	`, s.instanceName, string(kind), string(RunCompleted))
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Run{}, NotFoundError{Entity: "successful run", Key: string(kind)}
	}
	if err != nil {
		return Run{}, fmt.Errorf("config: last successful %s run: %w", kind, err)
	}
	return run, nil
}

// Resolutions returns the library resolutions recorded for a run in
// requirement order.
func (s *Store) Resolutions(ctx context.Context, runID string) ([]LibraryResolution, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT position, requirement, installed, resolved_name, attempts
		FROM library_resolutions
		WHERE run_id = ?
		ORDER BY position
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("config: list resolutions: %w", err)
	}
	return collect(rows, "config: resolutions", scanResolution)
}

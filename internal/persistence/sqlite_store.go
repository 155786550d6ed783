package persistence

import (
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/petrijr/gridci/pkg/api"
)

// SQLiteRunStore is a RunStore backed by SQLite.
//
// It expects an *sql.DB that uses a SQLite driver (for example,
// "modernc.org/sqlite"). The caller is responsible for importing
// the driver, e.g.:
//
//	import _ "modernc.org/sqlite"
type SQLiteRunStore struct {
	db *sql.DB
}

// Ensure SQLiteRunStore implements RunStore.
var _ RunStore = (*SQLiteRunStore)(nil)

// NewSQLiteRunStore initializes the required schema in the given
// database and returns a new SQLiteRunStore.
func NewSQLiteRunStore(db *sql.DB) (*SQLiteRunStore, error) {
	s := &SQLiteRunStore{db: db}
	if err := s.initSchema(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SQLiteRunStore) initSchema() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS runs (
			id TEXT PRIMARY KEY,
			workflow_name TEXT NOT NULL,
			event TEXT NOT NULL,
			status TEXT NOT NULL,
			error TEXT,
			created_at INTEGER NOT NULL
		);
		CREATE TABLE IF NOT EXISTS jobs (
			id TEXT NOT NULL,
			run_id TEXT NOT NULL,
			entry TEXT NOT NULL,
			status TEXT NOT NULL,
			steps TEXT,
			error TEXT,
			log TEXT,
			PRIMARY KEY (run_id, id)
		);`,
	)
	return err
}

func (s *SQLiteRunStore) SaveRun(run *api.Run) error {
	event, err := json.Marshal(run.Event)
	if err != nil {
		return err
	}

	tx, err := s.db.Begin()
	if err != nil {
		return err
	}

	var exists int
	if err := tx.QueryRow(`SELECT COUNT(1) FROM runs WHERE id = ?`, run.ID).Scan(&exists); err != nil {
		_ = tx.Rollback()
		return err
	}
	if exists > 0 {
		_ = tx.Rollback()
		return ErrRunExists
	}

	_, err = tx.Exec(`
		INSERT INTO runs (id, workflow_name, event, status, error, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		run.ID,
		run.WorkflowName,
		string(event),
		string(run.Status),
		errString(run.Err),
		run.CreatedAt.UnixNano(),
	)
	if err != nil {
		_ = tx.Rollback()
		return err
	}

	if err := insertJobs(tx, run); err != nil {
		_ = tx.Rollback()
		return err
	}

	return tx.Commit()
}

func (s *SQLiteRunStore) UpdateRun(run *api.Run) error {
	event, err := json.Marshal(run.Event)
	if err != nil {
		return err
	}

	tx, err := s.db.Begin()
	if err != nil {
		return err
	}

	res, err := tx.Exec(`
		UPDATE runs
		SET workflow_name = ?, event = ?, status = ?, error = ?, created_at = ?
		WHERE id = ?`,
		run.WorkflowName,
		string(event),
		string(run.Status),
		errString(run.Err),
		run.CreatedAt.UnixNano(),
		run.ID,
	)
	if err != nil {
		_ = tx.Rollback()
		return err
	}

	affected, err := res.RowsAffected()
	if err != nil {
		_ = tx.Rollback()
		return err
	}
	if affected == 0 {
		_ = tx.Rollback()
		return ErrRunNotFound
	}

	// Jobs are few per run; replacing them wholesale keeps updates simple.
	if _, err := tx.Exec(`DELETE FROM jobs WHERE run_id = ?`, run.ID); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := insertJobs(tx, run); err != nil {
		_ = tx.Rollback()
		return err
	}

	return tx.Commit()
}

func insertJobs(tx *sql.Tx, run *api.Run) error {
	for _, job := range run.Jobs {
		entry, err := json.Marshal(job.Entry)
		if err != nil {
			return err
		}
		steps, err := json.Marshal(job.Steps)
		if err != nil {
			return err
		}
		_, err = tx.Exec(`
			INSERT INTO jobs (id, run_id, entry, status, steps, error, log)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			job.ID,
			run.ID,
			string(entry),
			string(job.Status),
			string(steps),
			errString(job.Err),
			job.Log,
		)
		if err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteRunStore) GetRun(id string) (*api.Run, error) {
	row := s.db.QueryRow(`
		SELECT id, workflow_name, event, status, error, created_at
		FROM runs
		WHERE id = ?`,
		id,
	)

	run, err := scanRun(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrRunNotFound
		}
		return nil, err
	}

	if err := s.loadJobs(run); err != nil {
		return nil, err
	}
	return run, nil
}

func (s *SQLiteRunStore) ListRuns(filter RunFilter) ([]*api.Run, error) {
	query := `
		SELECT id, workflow_name, event, status, error, created_at
		FROM runs`
	var args []any
	var clauses []string

	if filter.WorkflowName != "" {
		clauses = append(clauses, "workflow_name = ?")
		args = append(args, filter.WorkflowName)
	}
	if filter.Status != "" {
		clauses = append(clauses, "status = ?")
		args = append(args, string(filter.Status))
	}

	if len(clauses) > 0 {
		query = query + " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY created_at, id"

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []*api.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, run := range runs {
		if err := s.loadJobs(run); err != nil {
			return nil, err
		}
	}
	return runs, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*api.Run, error) {
	var run api.Run
	var event string
	var statusStr string
	var errStr sql.NullString
	var createdAt int64

	if err := row.Scan(&run.ID, &run.WorkflowName, &event, &statusStr, &errStr, &createdAt); err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(event), &run.Event); err != nil {
		return nil, err
	}
	run.Status = api.Status(statusStr)
	run.CreatedAt = time.Unix(0, createdAt)
	if errStr.Valid && errStr.String != "" {
		run.Err = errors.New(errStr.String)
	}

	return &run, nil
}

func (s *SQLiteRunStore) loadJobs(run *api.Run) error {
	rows, err := s.db.Query(`
		SELECT id, entry, status, steps, error, log
		FROM jobs
		WHERE run_id = ?
		ORDER BY id`,
		run.ID,
	)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var job api.Job
		var entry, statusStr string
		var steps, errStr, logStr sql.NullString

		if err := rows.Scan(&job.ID, &entry, &statusStr, &steps, &errStr, &logStr); err != nil {
			return err
		}

		job.RunID = run.ID
		job.Status = api.Status(statusStr)
		if err := json.Unmarshal([]byte(entry), &job.Entry); err != nil {
			return err
		}
		if steps.Valid && steps.String != "" {
			if err := json.Unmarshal([]byte(steps.String), &job.Steps); err != nil {
				return err
			}
		}
		if errStr.Valid && errStr.String != "" {
			job.Err = errors.New(errStr.String)
		}
		if logStr.Valid {
			job.Log = logStr.String
		}

		run.Jobs = append(run.Jobs, &job)
	}
	return rows.Err()
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

package ledger

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// ErrNoCheckpoint is returned when a run has not recorded any checkpoint.
var ErrNoCheckpoint = errors.New("no checkpoint recorded")

// #region schema
const schema = `
CREATE TABLE IF NOT EXISTS runs (
	run_id       TEXT PRIMARY KEY,
	config_json  TEXT NOT NULL,
	created_at   TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS checkpoints (
	id           INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id       TEXT NOT NULL,
	episode      INTEGER NOT NULL,
	path         TEXT NOT NULL,
	epsilon      REAL NOT NULL,
	created_at   TEXT NOT NULL,
	FOREIGN KEY (run_id) REFERENCES runs(run_id)
);

CREATE TABLE IF NOT EXISTS episode_log (
	id           INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id       TEXT NOT NULL,
	episode      INTEGER NOT NULL,
	steps        INTEGER NOT NULL,
	reward       REAL NOT NULL,
	mean_loss    REAL,
	updates      INTEGER NOT NULL,
	epsilon      REAL NOT NULL,
	matched      INTEGER NOT NULL,
	truncated    INTEGER NOT NULL DEFAULT 0,
	created_at   TEXT NOT NULL,
	FOREIGN KEY (run_id) REFERENCES runs(run_id)
);
`
// #endregion schema

// #region store-struct
// Store records training runs and their checkpoints in SQLite.
type Store struct {
	db *sql.DB
}
// #endregion store-struct

// #region constructor
// NewStore opens a SQLite database and runs migrations.
func NewStore(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	// Pragmas are per connection.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return nil, fmt.Errorf("pragma: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		return nil, fmt.Errorf("pragma fk: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &Store{db: db}, nil
}
// #endregion constructor

// #region close
// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}
// #endregion close

// #region db-accessor
// DB returns the underlying *sql.DB for use by other packages (e.g. logging).
func (s *Store) DB() *sql.DB {
	return s.db
}
// #endregion db-accessor

// #region runs
// CreateRun registers a new run with its serialized configuration.
func (s *Store) CreateRun(configJSON string) (RunRecord, error) {
	rec := RunRecord{
		RunID:      uuid.New().String(),
		ConfigJSON: configJSON,
		CreatedAt:  time.Now().UTC(),
	}
	_, err := s.db.Exec(
		`INSERT INTO runs (run_id, config_json, created_at) VALUES (?, ?, ?)`,
		rec.RunID, rec.ConfigJSON, rec.CreatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return RunRecord{}, fmt.Errorf("insert run: %w", err)
	}
	return rec, nil
}

// GetRun retrieves a run by ID.
func (s *Store) GetRun(runID string) (RunRecord, error) {
	var rec RunRecord
	var createdStr string
	err := s.db.QueryRow(
		`SELECT run_id, config_json, created_at FROM runs WHERE run_id = ?`, runID,
	).Scan(&rec.RunID, &rec.ConfigJSON, &createdStr)
	if err != nil {
		return RunRecord{}, fmt.Errorf("get run %s: %w", runID, err)
	}
	rec.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdStr)
	return rec, nil
}

// ListRuns returns the most recent runs.
func (s *Store) ListRuns(limit int) ([]RunRecord, error) {
	rows, err := s.db.Query(
		`SELECT run_id, config_json, created_at FROM runs ORDER BY created_at DESC, rowid DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var records []RunRecord
	for rows.Next() {
		var rec RunRecord
		var createdStr string
		if err := rows.Scan(&rec.RunID, &rec.ConfigJSON, &createdStr); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		rec.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdStr)
		records = append(records, rec)
	}
	return records, rows.Err()
}
// #endregion runs

// #region checkpoints
// RecordCheckpoint stores a pointer to a checkpoint file.
func (s *Store) RecordCheckpoint(rec CheckpointRecord) (CheckpointRecord, error) {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	res, err := s.db.Exec(
		`INSERT INTO checkpoints (run_id, episode, path, epsilon, created_at) VALUES (?, ?, ?, ?, ?)`,
		rec.RunID, rec.Episode, rec.Path, rec.Epsilon, rec.CreatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return CheckpointRecord{}, fmt.Errorf("insert checkpoint: %w", err)
	}
	rec.ID, err = res.LastInsertId()
	if err != nil {
		return CheckpointRecord{}, fmt.Errorf("checkpoint id: %w", err)
	}
	return rec, nil
}

// LatestCheckpoint returns the most recently recorded checkpoint of a run.
// An empty runID searches across all runs.
func (s *Store) LatestCheckpoint(runID string) (CheckpointRecord, error) {
	query := `SELECT id, run_id, episode, path, epsilon, created_at FROM checkpoints`
	var args []interface{}
	if runID != "" {
		query += ` WHERE run_id = ?`
		args = append(args, runID)
	}
	query += ` ORDER BY id DESC LIMIT 1`

	rec, err := scanCheckpoint(s.db.QueryRow(query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return CheckpointRecord{}, ErrNoCheckpoint
	}
	if err != nil {
		return CheckpointRecord{}, fmt.Errorf("latest checkpoint: %w", err)
	}
	return rec, nil
}

// ListCheckpoints returns the most recent checkpoints across runs.
func (s *Store) ListCheckpoints(limit int) ([]CheckpointRecord, error) {
	rows, err := s.db.Query(
		`SELECT id, run_id, episode, path, epsilon, created_at
		 FROM checkpoints ORDER BY id DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list checkpoints: %w", err)
	}
	defer rows.Close()

	var records []CheckpointRecord
	for rows.Next() {
		rec, err := scanCheckpoint(rows)
		if err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanCheckpoint(row scanner) (CheckpointRecord, error) {
	var rec CheckpointRecord
	var createdStr string
	if err := row.Scan(&rec.ID, &rec.RunID, &rec.Episode, &rec.Path, &rec.Epsilon, &createdStr); err != nil {
		return CheckpointRecord{}, err
	}
	rec.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdStr)
	return rec, nil
}
// #endregion checkpoints

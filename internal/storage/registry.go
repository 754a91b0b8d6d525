// Package storage keeps a local sqlite index of known run directories and
// their checkpoint history. The index exists for the TUI and list commands;
// the state.json inside each run directory remains the single source of
// truth, and a stale or missing registry row never affects a run.
package storage

import (
	"database/sql"
	"time"

	_ "modernc.org/sqlite"
)

type Registry struct {
	db *sql.DB
}

type RunInfo struct {
	Dir       string
	RunIndex  int
	Status    string
	UpdatedAt time.Time
}

type Checkpoint struct {
	ID           int64
	Dir          string
	RunIndex     int
	Batch        int
	TotalBatches int
	Loss         float64
	CreatedAt    time.Time
}

func Open(path string) (*Registry, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}

	r := &Registry{db: db}
	if err := r.migrate(); err != nil {
		db.Close()
		return nil, err
	}

	return r, nil
}

func (r *Registry) Close() error {
	return r.db.Close()
}

func (r *Registry) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		dir TEXT PRIMARY KEY,
		run_index INTEGER NOT NULL,
		status TEXT NOT NULL,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS checkpoints (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		dir TEXT NOT NULL REFERENCES runs(dir),
		run_index INTEGER NOT NULL,
		batch INTEGER NOT NULL,
		total_batches INTEGER NOT NULL,
		loss REAL NOT NULL,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_checkpoints_dir ON checkpoints(dir);
	`

	_, err := r.db.Exec(schema)
	return err
}

// Touch records the directory's current state, inserting or updating its row.
func (r *Registry) Touch(dir string, runIndex int, status string) error {
	_, err := r.db.Exec(
		`INSERT INTO runs (dir, run_index, status, updated_at) VALUES (?, ?, ?, CURRENT_TIMESTAMP)
		 ON CONFLICT(dir) DO UPDATE SET run_index = excluded.run_index, status = excluded.status, updated_at = CURRENT_TIMESTAMP`,
		dir, runIndex, status,
	)
	return err
}

func (r *Registry) Get(dir string) (*RunInfo, error) {
	row := r.db.QueryRow(
		`SELECT dir, run_index, status, updated_at FROM runs WHERE dir = ?`, dir,
	)

	var info RunInfo
	if err := row.Scan(&info.Dir, &info.RunIndex, &info.Status, &info.UpdatedAt); err != nil {
		return nil, err
	}
	return &info, nil
}

func (r *Registry) List() ([]*RunInfo, error) {
	rows, err := r.db.Query(
		`SELECT dir, run_index, status, updated_at FROM runs ORDER BY updated_at DESC`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var infos []*RunInfo
	for rows.Next() {
		var info RunInfo
		if err := rows.Scan(&info.Dir, &info.RunIndex, &info.Status, &info.UpdatedAt); err != nil {
			return nil, err
		}
		infos = append(infos, &info)
	}

	return infos, rows.Err()
}

func (r *Registry) RecordCheckpoint(dir string, runIndex, batch, totalBatches int, loss float64) error {
	_, err := r.db.Exec(
		`INSERT INTO checkpoints (dir, run_index, batch, total_batches, loss) VALUES (?, ?, ?, ?, ?)`,
		dir, runIndex, batch, totalBatches, loss,
	)
	return err
}

func (r *Registry) CheckpointsFor(dir string) ([]*Checkpoint, error) {
	rows, err := r.db.Query(
		`SELECT id, dir, run_index, batch, total_batches, loss, created_at
		 FROM checkpoints WHERE dir = ? ORDER BY id`, dir,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var cps []*Checkpoint
	for rows.Next() {
		var cp Checkpoint
		if err := rows.Scan(&cp.ID, &cp.Dir, &cp.RunIndex, &cp.Batch, &cp.TotalBatches, &cp.Loss, &cp.CreatedAt); err != nil {
			return nil, err
		}
		cps = append(cps, &cp)
	}

	return cps, rows.Err()
}

// LatestCheckpoint returns the most recent checkpoint for dir, or nil when
// none exist.
func (r *Registry) LatestCheckpoint(dir string) (*Checkpoint, error) {
	row := r.db.QueryRow(
		`SELECT id, dir, run_index, batch, total_batches, loss, created_at
		 FROM checkpoints WHERE dir = ? ORDER BY id DESC LIMIT 1`, dir,
	)

	var cp Checkpoint
	err := row.Scan(&cp.ID, &cp.Dir, &cp.RunIndex, &cp.Batch, &cp.TotalBatches, &cp.Loss, &cp.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &cp, nil
}

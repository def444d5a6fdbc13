// Copyright (c) 2025 Swarmline Contributors
//
// This software is released under the MIT License.
// See LICENSE file in the repository for details.

// Package backlog persists the shared goal backlog workers claim from.
// Claims must survive worker crashes, so state lives in SQLite rather
// than in any single process.
package backlog

import (
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// Goal statuses.
const (
	StatusPending   = "pending"
	StatusClaimed   = "claimed"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// Goal is one unit of backlog work.
type Goal struct {
	ID          int64
	Description string
	Status      string
	ClaimedBy   string
	Branch      string
	Error       string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Store provides access to the backlog database.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the backlog database at the given path.
func Open(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// WAL mode so worker processes can read while the coordinator writes.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS goals (
		id          INTEGER PRIMARY KEY AUTOINCREMENT,
		description TEXT NOT NULL,
		status      TEXT NOT NULL DEFAULT 'pending',
		claimed_by  TEXT DEFAULT '',
		branch      TEXT DEFAULT '',
		error       TEXT DEFAULT '',
		created_at  DATETIME NOT NULL,
		updated_at  DATETIME NOT NULL
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Add inserts a pending goal and returns it with the generated ID.
func (s *Store) Add(description string) (*Goal, error) {
	now := time.Now().UTC()
	res, err := s.db.Exec(
		`INSERT INTO goals (description, status, created_at, updated_at) VALUES (?, ?, ?, ?)`,
		description, StatusPending, now, now)
	if err != nil {
		return nil, fmt.Errorf("insert goal: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}
	return &Goal{ID: id, Description: description, Status: StatusPending, CreatedAt: now, UpdatedAt: now}, nil
}

// ClaimNext atomically claims the oldest pending goal for workerID.
// Returns nil when the backlog has no pending goals.
func (s *Store) ClaimNext(workerID string) (*Goal, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("begin claim: %w", err)
	}
	defer tx.Rollback()

	goal := &Goal{}
	err = tx.QueryRow(
		`SELECT id, description FROM goals WHERE status = ? ORDER BY id LIMIT 1`,
		StatusPending).Scan(&goal.ID, &goal.Description)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("select pending goal: %w", err)
	}

	now := time.Now().UTC()
	res, err := tx.Exec(
		`UPDATE goals SET status = ?, claimed_by = ?, updated_at = ? WHERE id = ? AND status = ?`,
		StatusClaimed, workerID, now, goal.ID, StatusPending)
	if err != nil {
		return nil, fmt.Errorf("claim goal %d: %w", goal.ID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		// Lost the race inside this transaction scope; treat as empty.
		return nil, nil
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit claim: %w", err)
	}

	goal.Status = StatusClaimed
	goal.ClaimedBy = workerID
	goal.UpdatedAt = now
	return goal, nil
}

// Claim claims a specific pending goal for workerID. Returns false when
// the goal is missing or already held.
func (s *Store) Claim(id int64, workerID string) (bool, error) {
	res, err := s.db.Exec(
		`UPDATE goals SET status = ?, claimed_by = ?, updated_at = ? WHERE id = ? AND status = ?`,
		StatusClaimed, workerID, time.Now().UTC(), id, StatusPending)
	if err != nil {
		return false, fmt.Errorf("claim goal %d: %w", id, err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// Unclaim returns a claimed goal to pending. Releasing an already
// released or completed goal is a no-op.
func (s *Store) Unclaim(id int64) error {
	_, err := s.db.Exec(
		`UPDATE goals SET status = ?, claimed_by = '', updated_at = ? WHERE id = ? AND status = ?`,
		StatusPending, time.Now().UTC(), id, StatusClaimed)
	if err != nil {
		return fmt.Errorf("unclaim goal %d: %w", id, err)
	}
	return nil
}

// ReleaseClaimedBy returns every goal claimed by workerID to pending and
// reports how many were released. Used when a worker dies.
func (s *Store) ReleaseClaimedBy(workerID string) (int, error) {
	res, err := s.db.Exec(
		`UPDATE goals SET status = ?, claimed_by = '', updated_at = ? WHERE claimed_by = ? AND status = ?`,
		StatusPending, time.Now().UTC(), workerID, StatusClaimed)
	if err != nil {
		return 0, fmt.Errorf("release goals for %s: %w", workerID, err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// Complete marks a goal completed and records the branch its work
// landed on.
func (s *Store) Complete(id int64, branch string) error {
	_, err := s.db.Exec(
		`UPDATE goals SET status = ?, branch = ?, updated_at = ? WHERE id = ?`,
		StatusCompleted, branch, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("complete goal %d: %w", id, err)
	}
	return nil
}

// Fail marks a goal failed with a reason.
func (s *Store) Fail(id int64, reason string) error {
	_, err := s.db.Exec(
		`UPDATE goals SET status = ?, error = ?, updated_at = ? WHERE id = ?`,
		StatusFailed, reason, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("fail goal %d: %w", id, err)
	}
	return nil
}

// Get fetches one goal by ID.
func (s *Store) Get(id int64) (*Goal, error) {
	row := s.db.QueryRow(
		`SELECT id, description, status, claimed_by, branch, error, created_at, updated_at
		 FROM goals WHERE id = ?`, id)
	return scanGoal(row)
}

// List returns all goals ordered by ID.
func (s *Store) List() ([]*Goal, error) {
	rows, err := s.db.Query(
		`SELECT id, description, status, claimed_by, branch, error, created_at, updated_at
		 FROM goals ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list goals: %w", err)
	}
	defer rows.Close()

	var goals []*Goal
	for rows.Next() {
		g, err := scanGoal(rows)
		if err != nil {
			return nil, err
		}
		goals = append(goals, g)
	}
	return goals, rows.Err()
}

// Counts returns the number of goals per status.
func (s *Store) Counts() (map[string]int, error) {
	rows, err := s.db.Query(`SELECT status, COUNT(*) FROM goals GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("count goals: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[status] = n
	}
	return counts, rows.Err()
}

// WorkerCounts tallies terminal goal outcomes for one worker.
type WorkerCounts struct {
	Completed int
	Failed    int
}

// CountsByWorker groups completed and failed goals by the worker that
// last held them.
func (s *Store) CountsByWorker() (map[string]WorkerCounts, error) {
	rows, err := s.db.Query(
		`SELECT claimed_by, status, COUNT(*) FROM goals
		 WHERE claimed_by != '' AND status IN (?, ?)
		 GROUP BY claimed_by, status`,
		StatusCompleted, StatusFailed)
	if err != nil {
		return nil, fmt.Errorf("count goals by worker: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]WorkerCounts)
	for rows.Next() {
		var workerID, status string
		var n int
		if err := rows.Scan(&workerID, &status, &n); err != nil {
			return nil, err
		}
		wc := counts[workerID]
		switch status {
		case StatusCompleted:
			wc.Completed = n
		case StatusFailed:
			wc.Failed = n
		}
		counts[workerID] = wc
	}
	return counts, rows.Err()
}

type scannable interface {
	Scan(dest ...any) error
}

func scanGoal(row scannable) (*Goal, error) {
	g := &Goal{}
	err := row.Scan(&g.ID, &g.Description, &g.Status, &g.ClaimedBy, &g.Branch, &g.Error, &g.CreatedAt, &g.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("scan goal: %w", err)
	}
	return g, nil
}

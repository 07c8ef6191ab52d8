// SPDX-License-Identifier: MIT

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // pure Go driver
)

// ErrWorkoutNotFound means no workout metadata exists under the given id.
var ErrWorkoutNotFound = errors.New("workout not found")

// WorkoutRecord is the durable metadata of a generated workout.
type WorkoutRecord struct {
	ID            string    `json:"id"`
	CreatedAt     time.Time `json:"created_at"`
	TotalSec      int       `json:"total_sec"`
	Difficulty    string    `json:"difficulty,omitempty"`
	Intensity     string    `json:"intensity"`
	Speed         float64   `json:"speed"`
	WorkSec       int       `json:"work_sec"`
	RestSec       int       `json:"rest_sec"`
	ExerciseNames []string  `json:"exercises"`
}

// WorkoutStore persists workout metadata in SQLite.
type WorkoutStore struct {
	db *sql.DB
}

const workoutSchema = `
CREATE TABLE IF NOT EXISTS workouts (
	id          TEXT PRIMARY KEY,
	created_at  INTEGER NOT NULL,
	total_sec   INTEGER NOT NULL,
	difficulty  TEXT NOT NULL DEFAULT '',
	intensity   TEXT NOT NULL,
	speed       REAL NOT NULL,
	work_sec    INTEGER NOT NULL,
	rest_sec    INTEGER NOT NULL,
	exercises   TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_workouts_created_at ON workouts(created_at DESC);
`

// OpenWorkouts opens (and migrates) the workout database at path. PRAGMAs
// ride in the DSN so they apply to every pooled connection.
func OpenWorkouts(path string) (*WorkoutStore, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(%d)&_pragma=synchronous(NORMAL)&_pragma=foreign_keys(ON)",
		path, (5 * time.Second).Milliseconds())

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open failed: %w", err)
	}
	db.SetMaxOpenConns(8)
	db.SetMaxIdleConns(8)
	db.SetConnMaxLifetime(1 * time.Hour)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite: ping failed: %w", err)
	}
	if _, err := db.Exec(workoutSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite: migrate failed: %w", err)
	}
	return &WorkoutStore{db: db}, nil
}

// Close releases the connection pool.
func (s *WorkoutStore) Close() error {
	return s.db.Close()
}

// Insert persists a workout record.
func (s *WorkoutStore) Insert(ctx context.Context, rec WorkoutRecord) error {
	names, err := json.Marshal(rec.ExerciseNames)
	if err != nil {
		return fmt.Errorf("encode exercise names: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO workouts (id, created_at, total_sec, difficulty, intensity, speed, work_sec, rest_sec, exercises)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.CreatedAt.Unix(), rec.TotalSec, rec.Difficulty, rec.Intensity,
		rec.Speed, rec.WorkSec, rec.RestSec, string(names),
	)
	if err != nil {
		return fmt.Errorf("insert workout %s: %w", rec.ID, err)
	}
	return nil
}

// Get loads a workout record by id.
func (s *WorkoutStore) Get(ctx context.Context, id string) (WorkoutRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, created_at, total_sec, difficulty, intensity, speed, work_sec, rest_sec, exercises
		 FROM workouts WHERE id = ?`, id)
	return scanWorkout(row)
}

// ListRecent returns up to limit workouts, newest first.
func (s *WorkoutStore) ListRecent(ctx context.Context, limit int) ([]WorkoutRecord, error) {
	if limit < 1 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, created_at, total_sec, difficulty, intensity, speed, work_sec, rest_sec, exercises
		 FROM workouts ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list workouts: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []WorkoutRecord
	for rows.Next() {
		rec, err := scanWorkout(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanWorkout(row rowScanner) (WorkoutRecord, error) {
	var rec WorkoutRecord
	var createdAt int64
	var names string

	err := row.Scan(&rec.ID, &createdAt, &rec.TotalSec, &rec.Difficulty, &rec.Intensity,
		&rec.Speed, &rec.WorkSec, &rec.RestSec, &names)
	if errors.Is(err, sql.ErrNoRows) {
		return WorkoutRecord{}, ErrWorkoutNotFound
	}
	if err != nil {
		return WorkoutRecord{}, fmt.Errorf("scan workout: %w", err)
	}

	rec.CreatedAt = time.Unix(createdAt, 0).UTC()
	if err := json.Unmarshal([]byte(names), &rec.ExerciseNames); err != nil {
		return WorkoutRecord{}, fmt.Errorf("decode exercise names: %w", err)
	}
	return rec, nil
}

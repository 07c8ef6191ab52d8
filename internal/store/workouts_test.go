// SPDX-License-Identifier: MIT

package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *WorkoutStore {
	t.Helper()
	s, err := OpenWorkouts(filepath.Join(t.TempDir(), "fitstream.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func sampleRecord(id string, createdAt time.Time) WorkoutRecord {
	return WorkoutRecord{
		ID:            id,
		CreatedAt:     createdAt,
		TotalSec:      300,
		Difficulty:    "easy",
		Intensity:     "medium",
		Speed:         1.0,
		WorkSec:       40,
		RestSec:       20,
		ExerciseNames: []string{"Jumping Jacks", "Plank"},
	}
}

func TestWorkoutStoreInsertAndGet(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	rec := sampleRecord("w-1", time.Now().UTC().Truncate(time.Second))
	require.NoError(t, s.Insert(ctx, rec))

	got, err := s.Get(ctx, "w-1")
	require.NoError(t, err)
	assert.Equal(t, rec.ID, got.ID)
	assert.Equal(t, rec.TotalSec, got.TotalSec)
	assert.Equal(t, rec.ExerciseNames, got.ExerciseNames)
	assert.InDelta(t, rec.Speed, got.Speed, 1e-9)
	assert.True(t, rec.CreatedAt.Equal(got.CreatedAt))
}

func TestWorkoutStoreGetMissing(t *testing.T) {
	s := openTestStore(t)
	_, err := s.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrWorkoutNotFound)
}

func TestWorkoutStoreListRecent(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	base := time.Now().UTC().Truncate(time.Second)
	for i, id := range []string{"w-old", "w-mid", "w-new"} {
		require.NoError(t, s.Insert(ctx, sampleRecord(id, base.Add(time.Duration(i)*time.Minute))))
	}

	recent, err := s.ListRecent(ctx, 2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, "w-new", recent[0].ID)
	assert.Equal(t, "w-mid", recent[1].ID)
}

func TestWorkoutStoreDuplicateID(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	rec := sampleRecord("dup", time.Now())
	require.NoError(t, s.Insert(ctx, rec))
	assert.Error(t, s.Insert(ctx, rec))
}

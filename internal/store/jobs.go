// SPDX-License-Identifier: MIT

// Package store keeps generated workouts: staged render jobs in memory with
// a TTL, and workout metadata durably in SQLite.
package store

import (
	"errors"
	"os"
	"sync"
	"time"

	"github.com/fitstream/fitstream/internal/log"
	"github.com/fitstream/fitstream/internal/metrics"
	"github.com/fitstream/fitstream/internal/workout"
)

// ErrJobNotFound means no staged job exists under the given id. Expired
// jobs are indistinguishable from never-staged ones.
var ErrJobNotFound = errors.New("staged job not found")

// StagedJob is a fully rendered workout waiting to be streamed.
type StagedJob struct {
	ID        string
	Path      string // assembled video file
	Dir       string // job temp dir, removed when the job expires
	Plan      workout.Plan
	CreatedAt time.Time
}

type jobEntry struct {
	job        StagedJob
	expiration time.Time
}

func (e *jobEntry) isExpired() bool {
	return time.Now().After(e.expiration)
}

// JobStore is a thread-safe TTL store for staged jobs. Expired entries are
// swept by a background janitor which also removes their temp directories.
type JobStore struct {
	mu      sync.RWMutex
	entries map[string]*jobEntry
	ttl     time.Duration
	janitor *janitor
}

// NewJobStore creates a store whose jobs live for ttl. cleanupInterval
// controls how often expired jobs (and their files) are reaped; zero
// disables the janitor.
func NewJobStore(ttl, cleanupInterval time.Duration) *JobStore {
	s := &JobStore{
		entries: make(map[string]*jobEntry),
		ttl:     ttl,
	}
	if cleanupInterval > 0 {
		s.janitor = &janitor{
			interval: cleanupInterval,
			stop:     make(chan struct{}),
		}
		go s.janitor.run(s)
	}
	return s
}

// Put registers a staged job under its id.
func (s *JobStore) Put(job StagedJob) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[job.ID] = &jobEntry{
		job:        job,
		expiration: time.Now().Add(s.ttl),
	}
}

// Get returns the staged job for id, or ErrJobNotFound.
func (s *JobStore) Get(id string) (StagedJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, found := s.entries[id]
	if !found || e.isExpired() {
		return StagedJob{}, ErrJobNotFound
	}
	return e.job, nil
}

// Delete removes a job and its temp directory.
func (s *JobStore) Delete(id string) {
	s.mu.Lock()
	e, found := s.entries[id]
	if found {
		delete(s.entries, id)
	}
	s.mu.Unlock()

	if found {
		removeJobDir(e.job)
	}
}

// Len reports the number of live staged jobs.
func (s *JobStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Stop halts the janitor goroutine.
func (s *JobStore) Stop() {
	if s.janitor != nil {
		s.janitor.stop <- struct{}{}
	}
}

// deleteExpired reaps expired jobs and their directories, returning how
// many were removed.
func (s *JobStore) deleteExpired() int {
	s.mu.Lock()
	var expired []StagedJob
	for id, e := range s.entries {
		if e.isExpired() {
			expired = append(expired, e.job)
			delete(s.entries, id)
		}
	}
	s.mu.Unlock()

	for _, job := range expired {
		removeJobDir(job)
	}
	return len(expired)
}

func removeJobDir(job StagedJob) {
	if job.Dir == "" {
		return
	}
	if err := os.RemoveAll(job.Dir); err != nil {
		metrics.JobCleanupTotal.WithLabelValues("failure").Inc()
		logger := log.WithComponent("store")
		logger.Warn().
			Err(err).
			Str("job_id", job.ID).
			Str("dir", job.Dir).
			Msg("failed to remove staged job directory")
		return
	}
	metrics.JobCleanupTotal.WithLabelValues("expired").Inc()
}

type janitor struct {
	interval time.Duration
	stop     chan struct{}
}

func (j *janitor) run(s *JobStore) {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.deleteExpired()
		case <-j.stop:
			return
		}
	}
}

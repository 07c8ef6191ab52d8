// SPDX-License-Identifier: MIT

// Package catalog loads and serves the exercise catalog. The catalog is a
// JSON file of exercise records; each record points at a video clip that is
// either a local path or a remotely hosted asset.
package catalog

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/fitstream/fitstream/internal/log"
	"github.com/google/uuid"
)

// ErrNotFound is returned when an exercise cannot be resolved by id or name.
var ErrNotFound = errors.New("exercise not found")

// Difficulty grades an exercise.
type Difficulty string

const (
	DifficultyEasy   Difficulty = "easy"
	DifficultyMedium Difficulty = "medium"
	DifficultyHard   Difficulty = "hard"
)

// Valid reports whether the difficulty is a known grade.
func (d Difficulty) Valid() bool {
	switch d {
	case DifficultyEasy, DifficultyMedium, DifficultyHard:
		return true
	}
	return false
}

// Exercise is a single catalog record. Immutable once loaded.
type Exercise struct {
	ID              string     `json:"id"`
	Name            string     `json:"name"`
	Description     string     `json:"description,omitempty"`
	VideoURL        string     `json:"video_url"`
	ThumbnailURL    string     `json:"thumbnail_url,omitempty"`
	DefaultDuration int        `json:"default_duration"`
	Difficulty      Difficulty `json:"difficulty"`
	HasJump         bool       `json:"has_jump"`
}

// IsRemote reports whether the exercise video lives behind HTTP(S).
func (e Exercise) IsRemote() bool {
	return strings.HasPrefix(e.VideoURL, "http://") || strings.HasPrefix(e.VideoURL, "https://")
}

func (e Exercise) validate() error {
	if strings.TrimSpace(e.Name) == "" {
		return fmt.Errorf("exercise name must not be empty")
	}
	if strings.TrimSpace(e.VideoURL) == "" {
		return fmt.Errorf("exercise %q has no video_url", e.Name)
	}
	if e.DefaultDuration <= 0 {
		return fmt.Errorf("exercise %q has non-positive default_duration %d", e.Name, e.DefaultDuration)
	}
	if !e.Difficulty.Valid() {
		return fmt.Errorf("exercise %q has unknown difficulty %q", e.Name, e.Difficulty)
	}
	return nil
}

// Catalog serves exercise lookups. Safe for concurrent use; Reload swaps the
// backing slice atomically under the write lock.
type Catalog struct {
	path string

	mu     sync.RWMutex
	items  []Exercise
	byID   map[string]int
	byName map[string]int
}

// Open loads the catalog from path.
func Open(path string) (*Catalog, error) {
	c := &Catalog{path: path}
	if err := c.Reload(); err != nil {
		return nil, err
	}
	return c, nil
}

// Reload re-reads the catalog file. On error the previous content is kept.
func (c *Catalog) Reload() error {
	data, err := os.ReadFile(c.path)
	if err != nil {
		return fmt.Errorf("read catalog %s: %w", c.path, err)
	}

	var items []Exercise
	if err := json.Unmarshal(data, &items); err != nil {
		return fmt.Errorf("parse catalog %s: %w", c.path, err)
	}

	byID := make(map[string]int, len(items))
	byName := make(map[string]int, len(items))
	for i := range items {
		if items[i].ID == "" {
			// Records without ids get a stable-for-this-load identity.
			items[i].ID = uuid.NewString()
		}
		if err := items[i].validate(); err != nil {
			return fmt.Errorf("catalog %s: %w", c.path, err)
		}
		byID[items[i].ID] = i
		byName[strings.ToLower(items[i].Name)] = i
	}

	c.mu.Lock()
	c.items = items
	c.byID = byID
	c.byName = byName
	c.mu.Unlock()

	logger := log.WithComponent("catalog")
	logger.Info().
		Str("path", c.path).
		Int("exercises", len(items)).
		Msg("catalog loaded")
	return nil
}

// List returns all exercises in catalog order.
func (c *Catalog) List() []Exercise {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Exercise, len(c.items))
	copy(out, c.items)
	return out
}

// Get resolves an exercise by id or (case-insensitive) name.
func (c *Catalog) Get(idOrName string) (Exercise, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if i, ok := c.byID[idOrName]; ok {
		return c.items[i], nil
	}
	if i, ok := c.byName[strings.ToLower(idOrName)]; ok {
		return c.items[i], nil
	}
	return Exercise{}, fmt.Errorf("%w: %q", ErrNotFound, idOrName)
}

// Len returns the number of exercises.
func (c *Catalog) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}

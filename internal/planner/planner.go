// SPDX-License-Identifier: MIT

// Package planner turns a workout request into a concrete exercise plan by
// filtering the catalog and drawing exercises for each workout slot.
package planner

import (
	"errors"
	"fmt"
	"math/rand"

	"github.com/fitstream/fitstream/internal/catalog"
	"github.com/fitstream/fitstream/internal/log"
	"github.com/fitstream/fitstream/internal/workout"
	"github.com/google/uuid"
)

// ErrNoMatch is returned when the requested filters leave no eligible exercises.
var ErrNoMatch = errors.New("no exercises match the requested filters")

// Planner draws workout plans from a catalog.
type Planner struct {
	catalog *catalog.Catalog

	// slotSeconds is how much of the requested total duration each planned
	// exercise accounts for.
	slotSeconds int

	// rnd is injectable for deterministic tests. Guarded by the caller; the
	// planner itself is used from request handlers one draw at a time.
	rnd *rand.Rand
}

// New returns a planner over c. slotSeconds must be positive.
func New(c *catalog.Catalog, slotSeconds int, rnd *rand.Rand) *Planner {
	if slotSeconds < 1 {
		slotSeconds = 60
	}
	return &Planner{catalog: c, slotSeconds: slotSeconds, rnd: rnd}
}

// Plan builds a workout plan for req. req must already be normalized.
// Exercises are drawn uniformly with replacement from the filtered pool, so
// short pools still fill long workouts.
func (p *Planner) Plan(req workout.Request) (workout.Plan, error) {
	pool := p.filter(req)
	if len(pool) == 0 {
		return workout.Plan{}, fmt.Errorf("%w: difficulty=%q no_jump=%v", ErrNoMatch, req.Difficulty, req.NoJump)
	}

	count := req.TotalDurationSec / p.slotSeconds
	if count < 1 {
		count = 1
	}

	picked := make([]catalog.Exercise, 0, count)
	for i := 0; i < count; i++ {
		picked = append(picked, pool[p.intn(len(pool))])
	}

	plan := workout.Plan{
		ID:        uuid.NewString(),
		Exercises: picked,
		Intervals: req.Intervals,
		Speed:     req.Intensity.SpeedMultiplier(),
	}

	logger := log.WithComponent("planner")
	logger.Debug().
		Str("plan_id", plan.ID).
		Int("pool", len(pool)).
		Int("exercises", len(picked)).
		Float64("speed", plan.Speed).
		Msg("workout planned")
	return plan, nil
}

func (p *Planner) filter(req workout.Request) []catalog.Exercise {
	var pool []catalog.Exercise
	for _, e := range p.catalog.List() {
		if req.NoJump && e.HasJump {
			continue
		}
		if req.Difficulty != "" && e.Difficulty != req.Difficulty {
			continue
		}
		pool = append(pool, e)
	}
	return pool
}

func (p *Planner) intn(n int) int {
	if p.rnd != nil {
		return p.rnd.Intn(n)
	}
	return rand.Intn(n)
}

// SPDX-License-Identifier: MIT

// Package workout holds the shared types describing a planned workout: the
// request parameters, interval timing and the resolved exercise plan.
package workout

import (
	"fmt"

	"github.com/fitstream/fitstream/internal/catalog"
)

// Intensity selects the playback speed of exercise segments.
type Intensity string

const (
	IntensityLowImpact Intensity = "low_impact"
	IntensityMedium    Intensity = "medium"
	IntensityHigh      Intensity = "high"
)

// Valid reports whether the intensity is a known level.
func (i Intensity) Valid() bool {
	switch i {
	case IntensityLowImpact, IntensityMedium, IntensityHigh:
		return true
	}
	return false
}

// SpeedMultiplier maps an intensity to the playback speed applied during the
// final encode. Medium is real time.
func (i Intensity) SpeedMultiplier() float64 {
	switch i {
	case IntensityLowImpact:
		return 0.8
	case IntensityHigh:
		return 1.2
	default:
		return 1.0
	}
}

// Intervals is the work/rest timing of a workout round.
type Intervals struct {
	WorkSec int `json:"work_sec"`
	RestSec int `json:"rest_sec"`
}

// Validate enforces positive interval durations.
func (iv Intervals) Validate() error {
	if iv.WorkSec < 1 {
		return fmt.Errorf("work interval must be >= 1s, got %d", iv.WorkSec)
	}
	if iv.RestSec < 1 {
		return fmt.Errorf("rest interval must be >= 1s, got %d", iv.RestSec)
	}
	return nil
}

// Request describes what kind of workout the caller wants.
type Request struct {
	TotalDurationSec int                `json:"total_duration_sec"`
	Difficulty       catalog.Difficulty `json:"difficulty,omitempty"`
	NoJump           bool               `json:"no_jump,omitempty"`
	Intensity        Intensity          `json:"intensity,omitempty"`
	Intervals        Intervals          `json:"intervals"`
}

// Normalize fills unset optional fields with defaults and validates the
// result. defaultWork/defaultRest come from service configuration.
func (r *Request) Normalize(defaultWork, defaultRest int) error {
	if r.TotalDurationSec < 1 {
		return fmt.Errorf("total duration must be >= 1s, got %d", r.TotalDurationSec)
	}
	if r.Intensity == "" {
		r.Intensity = IntensityMedium
	}
	if !r.Intensity.Valid() {
		return fmt.Errorf("unknown intensity %q", r.Intensity)
	}
	if r.Difficulty != "" && !r.Difficulty.Valid() {
		return fmt.Errorf("unknown difficulty %q", r.Difficulty)
	}
	if r.Intervals.WorkSec == 0 {
		r.Intervals.WorkSec = defaultWork
	}
	if r.Intervals.RestSec == 0 {
		r.Intervals.RestSec = defaultRest
	}
	return r.Intervals.Validate()
}

// Plan is a fully resolved workout: the exercises to play, in order, with
// the timing and speed the encoder should apply.
type Plan struct {
	ID        string             `json:"id"`
	Exercises []catalog.Exercise `json:"exercises"`
	Intervals Intervals          `json:"intervals"`
	Speed     float64            `json:"speed"`
}

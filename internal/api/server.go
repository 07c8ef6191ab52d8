// SPDX-License-Identifier: MIT

// Package api exposes the HTTP surface of the service: the exercise
// catalog, on-demand workout video generation, and staged workout playback.
package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/fitstream/fitstream/internal/assemble"
	"github.com/fitstream/fitstream/internal/assets"
	"github.com/fitstream/fitstream/internal/catalog"
	"github.com/fitstream/fitstream/internal/config"
	"github.com/fitstream/fitstream/internal/log"
	"github.com/fitstream/fitstream/internal/planner"
	"github.com/fitstream/fitstream/internal/store"
	"github.com/fitstream/fitstream/internal/workout"
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Server holds the HTTP handlers and their collaborators.
type Server struct {
	cfg      config.AppConfig
	catalog  *catalog.Catalog
	planner  *planner.Planner
	gen      *assemble.Generator
	workouts *store.WorkoutStore
	resolver *assets.Resolver
}

// NewServer wires a Server.
func NewServer(cfg config.AppConfig, cat *catalog.Catalog, pl *planner.Planner, gen *assemble.Generator, workouts *store.WorkoutStore, resolver *assets.Resolver) *Server {
	return &Server{
		cfg:      cfg,
		catalog:  cat,
		planner:  pl,
		gen:      gen,
		workouts: workouts,
		resolver: resolver,
	}
}

// Router builds the chi router with the full middleware stack.
func (s *Server) Router() *chi.Mux {
	r := chi.NewRouter()
	r.Use(recoverer)
	r.Use(requestID)
	r.Use(requestLogger)

	r.Get("/healthz", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Get("/exercises", s.handleListExercises)
		r.Get("/exercises/{name}", s.handleGetExercise)

		r.Group(func(r chi.Router) {
			if s.cfg.RatePerMinute > 0 {
				r.Use(generateRateLimit(s.cfg.RatePerMinute))
			}
			r.Post("/generate-workout-video", s.handleGenerateVideo)
			r.Post("/workouts", s.handleStageWorkout)
		})

		r.Get("/workouts", s.handleListWorkouts)
		r.Get("/workouts/{id}", s.handleGetWorkout)
		r.Get("/workouts/{id}/stream", s.handleStreamWorkout)
	})

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	payload := map[string]any{
		"status":    "ok",
		"exercises": s.catalog.Len(),
	}
	if stats, err := s.resolver.Stats(); err == nil {
		payload["cache_files"] = stats.Files
		payload["cache_bytes"] = stats.Bytes
	}
	writeJSON(w, http.StatusOK, payload)
}

func (s *Server) handleListExercises(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.catalog.List())
}

func (s *Server) handleGetExercise(w http.ResponseWriter, r *http.Request) {
	ex, err := s.catalog.Get(chi.URLParam(r, "name"))
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ex)
}

// decodePlanRequest reads and normalizes a workout request body.
func (s *Server) decodePlanRequest(r *http.Request) (workout.Request, error) {
	var req workout.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return workout.Request{}, err
	}
	if err := req.Normalize(s.cfg.DefaultWorkSec, s.cfg.DefaultRestSec); err != nil {
		return workout.Request{}, err
	}
	return req, nil
}

// recordWorkout persists workout metadata. Failures are logged, not fatal:
// history must never break video delivery.
func (s *Server) recordWorkout(r *http.Request, req workout.Request, plan workout.Plan) {
	names := make([]string, len(plan.Exercises))
	for i, e := range plan.Exercises {
		names[i] = e.Name
	}
	rec := store.WorkoutRecord{
		ID:            plan.ID,
		CreatedAt:     time.Now().UTC(),
		TotalSec:      req.TotalDurationSec,
		Difficulty:    string(req.Difficulty),
		Intensity:     string(req.Intensity),
		Speed:         plan.Speed,
		WorkSec:       plan.Intervals.WorkSec,
		RestSec:       plan.Intervals.RestSec,
		ExerciseNames: names,
	}
	if err := s.workouts.Insert(r.Context(), rec); err != nil {
		logger := log.WithComponentFromContext(r.Context(), "api")
		logger.Warn().
			Err(err).
			Str("workout_id", plan.ID).
			Msg("failed to persist workout metadata")
	}
}

// setVideoHeaders prepares a progressive MP4 response. No Content-Length:
// the size is unknown until the encode finishes.
func setVideoHeaders(w http.ResponseWriter, plan workout.Plan) {
	w.Header().Set("Content-Type", "video/mp4")
	w.Header().Set("X-Workout-ID", plan.ID)
	w.Header().Set("X-Exercise-Count", strconv.Itoa(len(plan.Exercises)))
}

func (s *Server) handleGenerateVideo(w http.ResponseWriter, r *http.Request) {
	req, err := s.decodePlanRequest(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	plan, err := s.planner.Plan(req)
	if err != nil {
		writeFailure(w, err)
		return
	}
	s.recordWorkout(r, req, plan)

	setVideoHeaders(w, plan)
	rec := &statusRecorder{ResponseWriter: w}
	if err := s.gen.Generate(r.Context(), plan, rec); err != nil {
		if rec.bytes == 0 {
			writeFailure(w, err)
			return
		}
		// Bytes already went out; the stream just ends short.
		logger := log.WithComponentFromContext(r.Context(), "api")
		logger.Error().
			Err(err).
			Str("workout_id", plan.ID).
			Int64("bytes", rec.bytes).
			Msg("stream aborted mid-flight")
	}
}

func (s *Server) handleStageWorkout(w http.ResponseWriter, r *http.Request) {
	req, err := s.decodePlanRequest(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	plan, err := s.planner.Plan(req)
	if err != nil {
		writeFailure(w, err)
		return
	}

	job, err := s.gen.Stage(r.Context(), plan)
	if err != nil {
		writeFailure(w, err)
		return
	}
	s.recordWorkout(r, req, plan)

	names := make([]string, len(plan.Exercises))
	for i, e := range plan.Exercises {
		names[i] = e.Name
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"workout_id": job.ID,
		"stream_url": "/api/workouts/" + job.ID + "/stream",
		"exercises":  names,
	})
}

func (s *Server) handleListWorkouts(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	recs, err := s.workouts.ListRecent(r.Context(), limit)
	if err != nil {
		writeFailure(w, err)
		return
	}
	if recs == nil {
		recs = []store.WorkoutRecord{}
	}
	writeJSON(w, http.StatusOK, recs)
}

func (s *Server) handleGetWorkout(w http.ResponseWriter, r *http.Request) {
	rec, err := s.workouts.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleStreamWorkout(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	job, err := s.gen.Job(id)
	if err != nil {
		writeFailure(w, err)
		return
	}

	setVideoHeaders(w, job.Plan)
	rec := &statusRecorder{ResponseWriter: w}
	if err := s.gen.Stream(r.Context(), id, rec); err != nil {
		if rec.bytes == 0 {
			writeFailure(w, err)
			return
		}
		logger := log.WithComponentFromContext(r.Context(), "api")
		logger.Error().
			Err(err).
			Str("workout_id", id).
			Int64("bytes", rec.bytes).
			Msg("staged stream aborted mid-flight")
	}
}

// SPDX-License-Identifier: MIT

package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/fitstream/fitstream/internal/assemble"
	"github.com/fitstream/fitstream/internal/assets"
	"github.com/fitstream/fitstream/internal/breaks"
	"github.com/fitstream/fitstream/internal/catalog"
	"github.com/fitstream/fitstream/internal/config"
	"github.com/fitstream/fitstream/internal/media/encode"
	"github.com/fitstream/fitstream/internal/media/probe"
	"github.com/fitstream/fitstream/internal/media/stream"
	"github.com/fitstream/fitstream/internal/planner"
	"github.com/fitstream/fitstream/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubRunner writes placeholder outputs for encode ops and streams fixed
// bytes through a real shell process.
type stubRunner struct {
	sh *encode.Exec
}

func (r *stubRunner) Run(_ context.Context, op string, args []string) error {
	return os.WriteFile(args[len(args)-1], []byte("stub "+op), 0o600)
}

func (r *stubRunner) Start(ctx context.Context, op string, _ []string) (*encode.Process, error) {
	return r.sh.Start(ctx, op, []string{"-c", "printf 'mp4 stream bytes'"})
}

// stubProber reports every clip as a 60s target-format video.
type stubProber struct{}

func (stubProber) Probe(context.Context, string) (probe.Format, error) {
	f := encode.Target()
	f.Duration = 60
	return f, nil
}

func newTestServer(t *testing.T, mutate func(*config.AppConfig)) *httptest.Server {
	t.Helper()

	dataDir := t.TempDir()
	cfg := config.AppConfig{
		RatePerMinute:  0,
		DataDir:        dataDir,
		ProjectRoot:    t.TempDir(),
		CacheDir:       filepath.Join(dataDir, "videocache"),
		DefaultWorkSec: 40,
		DefaultRestSec: 20,
		SlotSeconds:    60,
	}
	if mutate != nil {
		mutate(&cfg)
	}

	clipDir := t.TempDir()
	var entries []map[string]any
	for _, name := range []string{"Jumping Jacks", "Plank", "Squats"} {
		clip := filepath.Join(clipDir, name+".mp4")
		require.NoError(t, os.WriteFile(clip, []byte("clip"), 0o600))
		entries = append(entries, map[string]any{
			"name":             name,
			"video_url":        clip,
			"default_duration": 40,
			"difficulty":       "easy",
			"has_jump":         name == "Jumping Jacks",
		})
	}
	// One catalog entry points nowhere to exercise the 404 path.
	entries = append(entries, map[string]any{
		"name":             "Ghost",
		"video_url":        filepath.Join(clipDir, "missing.mp4"),
		"default_duration": 40,
		"difficulty":       "hard",
		"has_jump":         true,
	})
	catalogJSON, err := json.Marshal(entries)
	require.NoError(t, err)
	catalogPath := filepath.Join(t.TempDir(), "exercises.json")
	require.NoError(t, os.WriteFile(catalogPath, catalogJSON, 0o600))

	cat, err := catalog.Open(catalogPath)
	require.NoError(t, err)

	runner := &stubRunner{sh: encode.NewExec("sh", time.Minute)}
	prober := stubProber{}

	jobs := store.NewJobStore(time.Minute, 0)
	t.Cleanup(jobs.Stop)

	workouts, err := store.OpenWorkouts(filepath.Join(dataDir, "fitstream.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = workouts.Close() })

	resolver := assets.NewResolver(assets.Options{CacheDir: cfg.CacheDir, ProjectRoot: cfg.ProjectRoot})
	gen := assemble.NewGenerator(assemble.Deps{
		Config:   cfg,
		Resolver: resolver,
		Breaks:   breaks.NewFactory(t.TempDir(), "/assets/break.jpg", runner, prober),
		Prober:   prober,
		Runner:   runner,
		Pipeline: stream.New(runner, stream.Config{
			StreamTimeout:      10 * time.Second,
			ReadTimeout:        5 * time.Second,
			StartupTimeout:     10 * time.Second,
			StartupReadTimeout: 5 * time.Second,
			BufferThreshold:    4,
		}),
		Jobs: jobs,
	})

	pl := planner.New(cat, cfg.SlotSeconds, rand.New(rand.NewSource(42)))
	srv := httptest.NewServer(NewServer(cfg, cat, pl, gen, workouts, resolver).Router())
	t.Cleanup(srv.Close)
	return srv
}

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(url, "application/json", bytes.NewReader(data))
	require.NoError(t, err)
	return resp
}

func TestHealthz(t *testing.T) {
	srv := newTestServer(t, nil)

	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))
}

func TestListExercises(t *testing.T) {
	srv := newTestServer(t, nil)

	resp, err := http.Get(srv.URL + "/api/exercises")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var got []catalog.Exercise
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
	assert.Len(t, got, 4)
}

func TestGetExerciseByName(t *testing.T) {
	srv := newTestServer(t, nil)

	resp, err := http.Get(srv.URL + "/api/exercises/plank")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var got catalog.Exercise
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
	assert.Equal(t, "Plank", got.Name)

	resp, err = http.Get(srv.URL + "/api/exercises/burpees")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestGenerateWorkoutVideoStreams(t *testing.T) {
	srv := newTestServer(t, nil)

	resp := postJSON(t, srv.URL+"/api/generate-workout-video", map[string]any{
		"total_duration_sec": 180,
		"difficulty":         "easy",
	})
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "video/mp4", resp.Header.Get("Content-Type"))
	assert.NotEmpty(t, resp.Header.Get("X-Workout-ID"))
	assert.Equal(t, "3", resp.Header.Get("X-Exercise-Count"))
	assert.Empty(t, resp.Header.Get("Content-Length"))

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "mp4 stream bytes", string(body))
}

func TestGenerateRejectsBadRequests(t *testing.T) {
	srv := newTestServer(t, nil)

	resp := postJSON(t, srv.URL+"/api/generate-workout-video", map[string]any{
		"total_duration_sec": 0,
	})
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp2, err := http.Post(srv.URL+"/api/generate-workout-video", "application/json", bytes.NewReader([]byte("{broken")))
	require.NoError(t, err)
	defer resp2.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp2.StatusCode)
}

func TestGenerateMissingAssetIs404(t *testing.T) {
	srv := newTestServer(t, nil)

	// Only "Ghost" is hard, and its clip does not exist.
	resp := postJSON(t, srv.URL+"/api/generate-workout-video", map[string]any{
		"total_duration_sec": 60,
		"difficulty":         "hard",
	})
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestGenerateNoMatchingExercises(t *testing.T) {
	srv := newTestServer(t, nil)

	resp := postJSON(t, srv.URL+"/api/generate-workout-video", map[string]any{
		"total_duration_sec": 60,
		"difficulty":         "hard",
		"no_jump":            true,
	})
	defer resp.Body.Close()
	// The only hard exercise involves jumping, so the filter empties the pool.
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
}

func TestStageAndStreamWorkout(t *testing.T) {
	srv := newTestServer(t, nil)

	resp := postJSON(t, srv.URL+"/api/workouts", map[string]any{
		"total_duration_sec": 120,
		"difficulty":         "easy",
		"intensity":          "high",
	})
	defer resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var created struct {
		WorkoutID string   `json:"workout_id"`
		StreamURL string   `json:"stream_url"`
		Exercises []string `json:"exercises"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&created))
	require.NotEmpty(t, created.WorkoutID)
	assert.Equal(t, fmt.Sprintf("/api/workouts/%s/stream", created.WorkoutID), created.StreamURL)
	assert.Len(t, created.Exercises, 2)

	// Metadata landed in the durable store.
	metaResp, err := http.Get(srv.URL + "/api/workouts/" + created.WorkoutID)
	require.NoError(t, err)
	defer metaResp.Body.Close()
	require.Equal(t, http.StatusOK, metaResp.StatusCode)

	var rec store.WorkoutRecord
	require.NoError(t, json.NewDecoder(metaResp.Body).Decode(&rec))
	assert.Equal(t, created.WorkoutID, rec.ID)
	assert.Equal(t, "high", rec.Intensity)
	assert.InDelta(t, 1.2, rec.Speed, 1e-9)

	// The staged file streams on demand.
	streamResp, err := http.Get(srv.URL + created.StreamURL)
	require.NoError(t, err)
	defer streamResp.Body.Close()
	require.Equal(t, http.StatusOK, streamResp.StatusCode)
	assert.Equal(t, "video/mp4", streamResp.Header.Get("Content-Type"))
	assert.Equal(t, created.WorkoutID, streamResp.Header.Get("X-Workout-ID"))

	body, err := io.ReadAll(streamResp.Body)
	require.NoError(t, err)
	assert.Equal(t, "mp4 stream bytes", string(body))
}

func TestStreamUnknownWorkout(t *testing.T) {
	srv := newTestServer(t, nil)

	resp, err := http.Get(srv.URL + "/api/workouts/does-not-exist/stream")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestListWorkouts(t *testing.T) {
	srv := newTestServer(t, nil)

	resp := postJSON(t, srv.URL+"/api/workouts", map[string]any{
		"total_duration_sec": 60,
		"difficulty":         "easy",
	})
	resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	listResp, err := http.Get(srv.URL + "/api/workouts")
	require.NoError(t, err)
	defer listResp.Body.Close()
	require.Equal(t, http.StatusOK, listResp.StatusCode)

	var recs []store.WorkoutRecord
	require.NoError(t, json.NewDecoder(listResp.Body).Decode(&recs))
	assert.Len(t, recs, 1)
}

func TestGenerateRateLimit(t *testing.T) {
	srv := newTestServer(t, func(cfg *config.AppConfig) {
		cfg.RatePerMinute = 1
	})

	first := postJSON(t, srv.URL+"/api/generate-workout-video", map[string]any{
		"total_duration_sec": 60,
		"difficulty":         "easy",
	})
	_, _ = io.Copy(io.Discard, first.Body)
	first.Body.Close()
	require.Equal(t, http.StatusOK, first.StatusCode)

	second := postJSON(t, srv.URL+"/api/generate-workout-video", map[string]any{
		"total_duration_sec": 60,
		"difficulty":         "easy",
	})
	defer second.Body.Close()
	assert.Equal(t, http.StatusTooManyRequests, second.StatusCode)
	assert.Equal(t, "60", second.Header.Get("Retry-After"))

	// Reads stay unthrottled.
	resp, err := http.Get(srv.URL + "/api/exercises")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

// SPDX-License-Identifier: MIT

// Package probe inspects video files with ffprobe and compares their format
// against the pipeline's normalization target.
package probe

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/fitstream/fitstream/internal/log"
)

// ErrFailed is returned when ffprobe cannot produce usable stream data.
var ErrFailed = errors.New("probe failed")

// fpsTolerance is the allowed frame rate deviation when comparing formats.
const fpsTolerance = 1.0

// Format is the video format of a clip as reported by ffprobe.
type Format struct {
	Codec    string
	Width    int
	Height   int
	FPS      float64
	PixFmt   string
	Duration float64
}

// codec aliases that decode identically for our purposes.
var codecAliases = map[string]string{
	"h264":    "h264",
	"libx264": "h264",
	"avc1":    "h264",
}

func canonicalCodec(name string) string {
	key := strings.ToLower(strings.TrimSpace(name))
	if c, ok := codecAliases[key]; ok {
		return c
	}
	return key
}

// Matches reports whether f and other are interchangeable for stream-copy
// concatenation: same canonical codec, same dimensions, same pixel format
// and a frame rate within tolerance.
func (f Format) Matches(other Format) bool {
	if canonicalCodec(f.Codec) != canonicalCodec(other.Codec) {
		return false
	}
	if f.Width != other.Width || f.Height != other.Height {
		return false
	}
	if f.PixFmt != "" && other.PixFmt != "" && f.PixFmt != other.PixFmt {
		return false
	}
	return math.Abs(f.FPS-other.FPS) <= fpsTolerance
}

// Prober inspects a video file.
type Prober interface {
	Probe(ctx context.Context, path string) (Format, error)
}

// FFprobe runs the ffprobe binary.
type FFprobe struct {
	Bin     string
	Timeout time.Duration
}

// New returns an FFprobe prober. An empty bin defaults to "ffprobe" on PATH.
func New(bin string, timeout time.Duration) *FFprobe {
	if bin == "" {
		bin = "ffprobe"
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &FFprobe{Bin: bin, Timeout: timeout}
}

// Probe runs ffprobe on path and returns the format of its first video stream.
func (p *FFprobe) Probe(ctx context.Context, path string) (Format, error) {
	ctx, cancel := context.WithTimeout(ctx, p.Timeout)
	defer cancel()

	args := []string{
		"-v", "error",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		path,
	}

	// #nosec G204 -- bin comes from config, args are fixed and path is opaque
	cmd := exec.CommandContext(ctx, p.Bin, args...)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	out, runErr := cmd.Output()

	var data probeData
	jsonErr := json.Unmarshal(out, &data)

	// ffprobe can exit non-zero yet still emit valid JSON for partially
	// written files; accept the JSON if it names a video stream.
	var video *probeStream
	if jsonErr == nil {
		for i := range data.Streams {
			if data.Streams[i].CodecType == "video" && data.Streams[i].CodecName != "" {
				video = &data.Streams[i]
				break
			}
		}
	}

	if video == nil {
		if runErr != nil {
			return Format{}, fmt.Errorf("%w: %s: %v (stderr: %s)", ErrFailed, path, runErr, truncate(stderr.String(), 4096))
		}
		if jsonErr != nil {
			return Format{}, fmt.Errorf("%w: %s: decode ffprobe output: %v", ErrFailed, path, jsonErr)
		}
		return Format{}, fmt.Errorf("%w: %s: no video stream", ErrFailed, path)
	}
	if runErr != nil {
		logger := log.WithComponent("probe")
		logger.Warn().
			Err(runErr).
			Str("path", path).
			Str("stderr", truncate(stderr.String(), 4096)).
			Msg("ffprobe non-zero exit but JSON accepted")
	}

	f := Format{
		Codec:  video.CodecName,
		Width:  video.Width,
		Height: video.Height,
		PixFmt: video.PixFmt,
		FPS:    parseFrameRate(video.AvgFrameRate),
	}

	if video.Duration != "" {
		if d, err := strconv.ParseFloat(video.Duration, 64); err == nil {
			f.Duration = d
		}
	}
	if f.Duration == 0 && data.Format.Duration != "" {
		if d, err := strconv.ParseFloat(data.Format.Duration, 64); err == nil {
			f.Duration = d
		}
	}

	return f, nil
}

// parseFrameRate parses ffprobe's "num/den" rational. A missing or broken
// rate falls back to 30 fps, which matches the normalization target.
func parseFrameRate(rate string) float64 {
	if rate == "" || rate == "0/0" {
		return 30.0
	}
	parts := strings.Split(rate, "/")
	if len(parts) != 2 {
		if v, err := strconv.ParseFloat(rate, 64); err == nil && v > 0 {
			return v
		}
		return 30.0
	}
	num, errN := strconv.ParseFloat(parts[0], 64)
	den, errD := strconv.ParseFloat(parts[1], 64)
	if errN != nil || errD != nil || den == 0 {
		return 30.0
	}
	return num / den
}

func truncate(s string, n int) string {
	if len(s) > n {
		return s[:n] + "..."
	}
	return s
}

type probeStream struct {
	CodecType    string `json:"codec_type"`
	CodecName    string `json:"codec_name"`
	PixFmt       string `json:"pix_fmt,omitempty"`
	Width        int    `json:"width,omitempty"`
	Height       int    `json:"height,omitempty"`
	AvgFrameRate string `json:"avg_frame_rate,omitempty"`
	Duration     string `json:"duration,omitempty"`
}

type probeData struct {
	Streams []probeStream `json:"streams"`
	Format  struct {
		Duration string `json:"duration"`
	} `json:"format"`
}

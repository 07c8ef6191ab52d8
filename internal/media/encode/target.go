// SPDX-License-Identifier: MIT

// Package encode builds ffmpeg invocations for the workout video pipeline
// and runs them in supervised process groups.
package encode

import "github.com/fitstream/fitstream/internal/media/probe"

// The pipeline normalizes every clip to one uniform format so that
// concatenation can stream-copy instead of re-encoding.
const (
	TargetWidth  = 1280
	TargetHeight = 720
	TargetFPS    = 30.0
	TargetCodec  = "h264"
	TargetPixFmt = "yuv420p"

	// Encoder settings for anything we have to (re-)encode.
	videoEncoder = "libx264"
	videoPreset  = "ultrafast"
	videoCRF     = "23"
)

// Target is the uniform format all pipeline clips are normalized to.
func Target() probe.Format {
	return probe.Format{
		Codec:  TargetCodec,
		Width:  TargetWidth,
		Height: TargetHeight,
		FPS:    TargetFPS,
		PixFmt: TargetPixFmt,
	}
}

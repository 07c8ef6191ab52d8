// SPDX-License-Identifier: MIT

package encode

import (
	"fmt"
	"strconv"
)

// scaleFilter letterboxes any input into the target frame and normalizes
// frame rate and pixel format in one pass.
var scaleFilter = fmt.Sprintf(
	"scale=%d:%d:force_original_aspect_ratio=decrease,pad=%d:%d:(ow-iw)/2:(oh-ih)/2:color=black,fps=%g,format=%s",
	TargetWidth, TargetHeight, TargetWidth, TargetHeight, TargetFPS, TargetPixFmt,
)

// baseArgs are common to every invocation. Stderr is captured by the runner,
// so ffmpeg's own progress output is silenced.
func baseArgs() []string {
	return []string{
		"-nostdin",
		"-hide_banner",
		"-loglevel", "error",
		"-nostats",
		"-y",
	}
}

func encodeArgs() []string {
	return []string{
		"-c:v", videoEncoder,
		"-preset", videoPreset,
		"-crf", videoCRF,
		"-pix_fmt", TargetPixFmt,
		"-r", strconv.FormatFloat(TargetFPS, 'f', -1, 64),
		"-an",
	}
}

// BreakArgs renders a still background image into a target-format clip of
// the given duration.
func BreakArgs(image string, seconds int, out string) ([]string, error) {
	if image == "" {
		return nil, fmt.Errorf("missing break image")
	}
	if seconds < 1 {
		return nil, fmt.Errorf("break duration must be >= 1s, got %d", seconds)
	}
	if out == "" {
		return nil, fmt.Errorf("missing output path")
	}

	args := baseArgs()
	args = append(args,
		"-loop", "1",
		"-framerate", strconv.FormatFloat(TargetFPS, 'f', -1, 64),
		"-i", image,
		"-t", strconv.Itoa(seconds),
		"-vf", scaleFilter,
	)
	args = append(args, encodeArgs()...)
	args = append(args, "-movflags", "+faststart", out)
	return args, nil
}

// TrimArgs cuts the first seconds of in, re-encoding to target format. A
// stream copy would cut on packet boundaries and could drift from the
// requested duration, so trims always go through the encoder.
func TrimArgs(in string, seconds int, out string) ([]string, error) {
	if in == "" || out == "" {
		return nil, fmt.Errorf("missing input or output path")
	}
	if seconds < 1 {
		return nil, fmt.Errorf("trim duration must be >= 1s, got %d", seconds)
	}

	args := baseArgs()
	args = append(args,
		"-i", in,
		"-t", strconv.Itoa(seconds),
		"-vf", scaleFilter,
	)
	args = append(args, encodeArgs()...)
	args = append(args, out)
	return args, nil
}

// NormalizeArgs re-encodes in to the target format.
func NormalizeArgs(in, out string) ([]string, error) {
	if in == "" || out == "" {
		return nil, fmt.Errorf("missing input or output path")
	}

	args := baseArgs()
	args = append(args, "-i", in, "-vf", scaleFilter)
	args = append(args, encodeArgs()...)
	args = append(args, out)
	return args, nil
}

// ConcatArgs merges the clips named in a concat demuxer list file. With
// streamCopy the merge is a cheap remux; otherwise the output is re-encoded
// to target format.
func ConcatArgs(list, out string, streamCopy bool) ([]string, error) {
	if list == "" || out == "" {
		return nil, fmt.Errorf("missing list or output path")
	}

	args := baseArgs()
	args = append(args, "-f", "concat", "-safe", "0", "-i", list)
	if streamCopy {
		args = append(args, "-c:v", "copy", "-an")
	} else {
		args = append(args, "-vf", scaleFilter)
		args = append(args, encodeArgs()...)
	}
	args = append(args, out)
	return args, nil
}

// StreamInput describes the source of a streaming encode.
type StreamInput struct {
	Path       string  // media file or concat list
	ConcatList bool    // Path is a concat demuxer list
	Speed      float64 // playback speed; 1.0 (or 0) means real time
}

// StreamArgs builds the final encode that writes fragmented MP4 to stdout.
// Fragmented output lets clients start playback before the encode finishes.
func StreamArgs(in StreamInput) ([]string, error) {
	if in.Path == "" {
		return nil, fmt.Errorf("missing input path")
	}
	if in.Speed < 0 {
		return nil, fmt.Errorf("speed must be positive, got %g", in.Speed)
	}

	args := baseArgs()
	if in.ConcatList {
		args = append(args, "-f", "concat", "-safe", "0")
	}
	args = append(args, "-i", in.Path)

	filter := scaleFilter
	if in.Speed != 0 && in.Speed != 1.0 {
		filter = fmt.Sprintf("%s,setpts=%.6f*PTS", scaleFilter, 1.0/in.Speed)
	}
	args = append(args, "-vf", filter)
	args = append(args, encodeArgs()...)
	args = append(args,
		"-movflags", "frag_keyframe+empty_moov",
		"-f", "mp4",
		"pipe:1",
	)
	return args, nil
}

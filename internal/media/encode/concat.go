// SPDX-License-Identifier: MIT

package encode

import (
	"fmt"
	"strings"

	"github.com/google/renameio/v2"
)

// WriteConcatList writes a concat demuxer list naming the given clips, in
// order, to listPath. The file is placed atomically so a crashed writer
// never leaves a truncated list behind.
func WriteConcatList(listPath string, clips []string) error {
	if len(clips) == 0 {
		return fmt.Errorf("concat list needs at least one clip")
	}

	var b strings.Builder
	for _, clip := range clips {
		if clip == "" {
			return fmt.Errorf("concat list contains an empty clip path")
		}
		// Concat demuxer quoting: single quotes with '\'' escapes.
		fmt.Fprintf(&b, "file '%s'\n", strings.ReplaceAll(clip, "'", `'\''`))
	}

	return renameio.WriteFile(listPath, []byte(b.String()), 0o640)
}

package ffmpeg

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrFFmpegNotFound indicates the ffmpeg binary is not available
	ErrFFmpegNotFound = errors.New("ffmpeg binary not found")

	// ErrFFprobeNotFound indicates the ffprobe binary is not available
	ErrFFprobeNotFound = errors.New("ffprobe binary not found")

	// ErrInvalidAudio indicates the input is not playable audio
	ErrInvalidAudio = errors.New("invalid audio file")

	// ErrProcessTimeout indicates ffmpeg exceeded the configured timeout
	ErrProcessTimeout = errors.New("processing timed out")
)

// ProcessingError wraps an ffmpeg/ffprobe execution failure with the
// captured stderr tail
type ProcessingError struct {
	Binary string
	Stderr string
	Err    error
}

// NewProcessingError creates a processing error, truncating stderr to the
// last few lines so failure reasons stay readable.
func NewProcessingError(binary string, err error, stderr string) *ProcessingError {
	return &ProcessingError{
		Binary: binary,
		Stderr: lastLines(stderr, 5),
		Err:    err,
	}
}

// Error implements the error interface
func (e *ProcessingError) Error() string {
	if e.Stderr != "" {
		return fmt.Sprintf("%s failed: %v: %s", e.Binary, e.Err, e.Stderr)
	}
	return fmt.Sprintf("%s failed: %v", e.Binary, e.Err)
}

// Unwrap returns the underlying execution error
func (e *ProcessingError) Unwrap() error {
	return e.Err
}

// lastLines returns the trailing n non-empty lines of s
func lastLines(s string, n int) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	kept := make([]string, 0, n)
	for _, line := range lines {
		if strings.TrimSpace(line) != "" {
			kept = append(kept, strings.TrimSpace(line))
		}
	}
	if len(kept) > n {
		kept = kept[len(kept)-n:]
	}
	return strings.Join(kept, "; ")
}

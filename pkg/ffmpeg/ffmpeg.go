package ffmpeg

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"time"
)

// FFmpeg wraps ffmpeg and ffprobe functionality
type FFmpeg struct {
	ffmpegPath  string
	ffprobePath string
	timeout     time.Duration
}

// New creates a new FFmpeg instance
func New(ffmpegPath, ffprobePath string, timeout time.Duration) *FFmpeg {
	return &FFmpeg{
		ffmpegPath:  ffmpegPath,
		ffprobePath: ffprobePath,
		timeout:     timeout,
	}
}

// ValidateBinaries checks if ffmpeg and ffprobe are available
func (f *FFmpeg) ValidateBinaries() error {
	if _, err := exec.LookPath(f.ffmpegPath); err != nil {
		return fmt.Errorf("%w: %s", ErrFFmpegNotFound, f.ffmpegPath)
	}
	if _, err := exec.LookPath(f.ffprobePath); err != nil {
		return fmt.Errorf("%w: %s", ErrFFprobeNotFound, f.ffprobePath)
	}
	return nil
}

// Normalize transcodes input to mono WAV at sampleRate, the canonical format
// the transcription backend expects. Returns the output path.
func (f *FFmpeg) Normalize(ctx context.Context, inputPath, outputPath string, sampleRate int) error {
	if err := os.MkdirAll(filepath.Dir(outputPath), 0755); err != nil {
		return fmt.Errorf("creating output directory: %w", err)
	}

	args := []string{
		"-i", inputPath,
		"-ac", "1",
		"-ar", fmt.Sprintf("%d", sampleRate),
		"-vn",
		"-y",
		outputPath,
	}

	if err := f.run(ctx, f.ffmpegPath, args); err != nil {
		return fmt.Errorf("normalizing %s: %w", inputPath, err)
	}
	return nil
}

// Segment splits input into fixed-duration chunks under chunkDir. Chunk
// files are named <prefix>_NNN.wav and returned sorted by chunk index.
func (f *FFmpeg) Segment(ctx context.Context, inputPath, chunkDir, prefix string, chunkSeconds int) ([]string, error) {
	if chunkSeconds <= 0 {
		return nil, fmt.Errorf("chunk seconds must be positive: %d", chunkSeconds)
	}
	if err := os.MkdirAll(chunkDir, 0755); err != nil {
		return nil, fmt.Errorf("creating chunk directory: %w", err)
	}

	pattern := filepath.Join(chunkDir, prefix+"_%03d.wav")
	args := []string{
		"-i", inputPath,
		"-f", "segment",
		"-segment_time", fmt.Sprintf("%d", chunkSeconds),
		"-c", "copy",
		"-reset_timestamps", "1",
		"-y",
		pattern,
	}

	if err := f.run(ctx, f.ffmpegPath, args); err != nil {
		return nil, fmt.Errorf("segmenting %s: %w", inputPath, err)
	}

	matches, err := filepath.Glob(filepath.Join(chunkDir, prefix+"_*.wav"))
	if err != nil {
		return nil, fmt.Errorf("listing chunks: %w", err)
	}
	if len(matches) == 0 {
		return nil, fmt.Errorf("segmenting %s produced no chunks", inputPath)
	}

	// Glob order is lexical, which matches the zero-padded index order
	sort.Strings(matches)
	return matches, nil
}

// Concat joins the given audio files in order into outputPath using the
// concat demuxer. Inputs must share codec parameters.
func (f *FFmpeg) Concat(ctx context.Context, inputPaths []string, outputPath string) error {
	if len(inputPaths) == 0 {
		return fmt.Errorf("no inputs to concatenate")
	}
	if err := os.MkdirAll(filepath.Dir(outputPath), 0755); err != nil {
		return fmt.Errorf("creating output directory: %w", err)
	}

	listFile, err := os.CreateTemp(filepath.Dir(outputPath), "concat_*.txt")
	if err != nil {
		return fmt.Errorf("creating concat list: %w", err)
	}
	defer os.Remove(listFile.Name())

	for _, p := range inputPaths {
		abs, err := filepath.Abs(p)
		if err != nil {
			listFile.Close()
			return fmt.Errorf("resolving input path %s: %w", p, err)
		}
		fmt.Fprintf(listFile, "file '%s'\n", abs)
	}
	listFile.Close()

	args := []string{
		"-f", "concat",
		"-safe", "0",
		"-i", listFile.Name(),
		"-c", "copy",
		"-y",
		outputPath,
	}

	if err := f.run(ctx, f.ffmpegPath, args); err != nil {
		return fmt.Errorf("concatenating %d inputs: %w", len(inputPaths), err)
	}
	return nil
}

// run executes a binary with the configured timeout, capturing stderr for
// error reporting
func (f *FFmpeg) run(ctx context.Context, binary string, args []string) error {
	if f.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, binary, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return fmt.Errorf("%w after %s", ErrProcessTimeout, f.timeout)
		}
		return NewProcessingError(binary, err, stderr.String())
	}
	return nil
}

package ffmpeg

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strconv"
)

// Metadata contains audio file metadata extracted by ffprobe
type Metadata struct {
	Duration   float64 // Duration in seconds
	SampleRate int
	Channels   int
	Codec      string
	Format     string
	Size       int64
}

// probeOutput mirrors the ffprobe -print_format json layout
type probeOutput struct {
	Streams []struct {
		CodecType  string `json:"codec_type"`
		CodecName  string `json:"codec_name"`
		SampleRate string `json:"sample_rate"`
		Channels   int    `json:"channels"`
	} `json:"streams"`
	Format struct {
		FormatName string `json:"format_name"`
		Duration   string `json:"duration"`
		Size       string `json:"size"`
	} `json:"format"`
}

// Probe extracts metadata from an audio file. Files without a decodable
// audio stream or with zero duration return ErrInvalidAudio.
func (f *FFmpeg) Probe(ctx context.Context, inputPath string) (*Metadata, error) {
	if f.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.timeout)
		defer cancel()
	}

	args := []string{
		"-v", "error",
		"-show_streams",
		"-show_format",
		"-print_format", "json",
		inputPath,
	}

	cmd := exec.CommandContext(ctx, f.ffprobePath, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	output, err := cmd.Output()
	if err != nil {
		return nil, NewProcessingError(f.ffprobePath, err, stderr.String())
	}

	var probed probeOutput
	if err := json.Unmarshal(output, &probed); err != nil {
		return nil, fmt.Errorf("parsing ffprobe output: %w", err)
	}

	metadata := &Metadata{Format: probed.Format.FormatName}
	if probed.Format.Duration != "" {
		metadata.Duration, _ = strconv.ParseFloat(probed.Format.Duration, 64)
	}
	if probed.Format.Size != "" {
		metadata.Size, _ = strconv.ParseInt(probed.Format.Size, 10, 64)
	}

	for _, stream := range probed.Streams {
		if stream.CodecType != "audio" {
			continue
		}
		metadata.Codec = stream.CodecName
		metadata.Channels = stream.Channels
		if stream.SampleRate != "" {
			metadata.SampleRate, _ = strconv.Atoi(stream.SampleRate)
		}
		break
	}

	if metadata.Codec == "" {
		return nil, fmt.Errorf("%w: no audio stream in %s", ErrInvalidAudio, inputPath)
	}
	if metadata.Duration <= 0 {
		return nil, fmt.Errorf("%w: zero duration in %s", ErrInvalidAudio, inputPath)
	}

	return metadata, nil
}

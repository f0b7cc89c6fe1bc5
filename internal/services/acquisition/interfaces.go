package acquisition

import (
	"context"

	"github.com/podwave/digest-api/pkg/download"
	"github.com/podwave/digest-api/pkg/ffmpeg"
)

// AudioFetcher downloads episode audio to local storage
type AudioFetcher interface {
	Fetch(ctx context.Context, url, destDir, baseName string) (*download.Result, error)
}

// AudioProcessor probes, normalizes and segments audio files
type AudioProcessor interface {
	Probe(ctx context.Context, inputPath string) (*ffmpeg.Metadata, error)
	Normalize(ctx context.Context, inputPath, outputPath string, sampleRate int) error
	Segment(ctx context.Context, inputPath, chunkDir, prefix string, chunkSeconds int) ([]string, error)
}

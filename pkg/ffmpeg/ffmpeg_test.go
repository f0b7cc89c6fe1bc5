package ffmpeg

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	f := New("ffmpeg", "ffprobe", 0)
	assert.Equal(t, "ffmpeg", f.ffmpegPath)
	assert.Equal(t, "ffprobe", f.ffprobePath)
}

func TestValidateBinaries_MissingBinary(t *testing.T) {
	f := New("/nonexistent/ffmpeg", "/nonexistent/ffprobe", 0)
	err := f.ValidateBinaries()
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrFFmpegNotFound))
}

func TestProbeOutputParsing(t *testing.T) {
	raw := `{
		"streams": [
			{"codec_type": "video", "codec_name": "mjpeg"},
			{"codec_type": "audio", "codec_name": "mp3", "sample_rate": "44100", "channels": 2}
		],
		"format": {"format_name": "mp3", "duration": "1500.25", "size": "24000000"}
	}`

	var probed probeOutput
	require.NoError(t, json.Unmarshal([]byte(raw), &probed))

	assert.Len(t, probed.Streams, 2)
	assert.Equal(t, "audio", probed.Streams[1].CodecType)
	assert.Equal(t, "44100", probed.Streams[1].SampleRate)
	assert.Equal(t, "1500.25", probed.Format.Duration)
}

func TestProcessingError(t *testing.T) {
	err := NewProcessingError("ffmpeg", errors.New("exit status 1"),
		"line1\nline2\nline3\nline4\nline5\nInvalid data found when processing input\n")

	assert.Contains(t, err.Error(), "ffmpeg failed")
	assert.Contains(t, err.Error(), "Invalid data found")
	// Only the trailing lines are kept
	assert.NotContains(t, err.Error(), "line1")
}

func TestLastLines(t *testing.T) {
	assert.Equal(t, "", lastLines("", 3))
	assert.Equal(t, "a; b", lastLines("a\nb", 3))
	assert.Equal(t, "c; d; e", lastLines("a\nb\nc\nd\ne", 3))
}

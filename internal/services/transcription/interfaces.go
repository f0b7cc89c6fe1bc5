package transcription

import "context"

// Segment is one timestamped span of recognized speech. Offsets are seconds
// from the start of the submitted audio.
type Segment struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Text  string  `json:"text"`
}

// Result is the recognized content of one audio chunk
type Result struct {
	Text     string
	Segments []Segment
}

// Recognizer converts one audio file into text
type Recognizer interface {
	Transcribe(ctx context.Context, audioPath string) (*Result, error)
}

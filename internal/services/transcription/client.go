package transcription

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	pipeerrors "github.com/podwave/digest-api/pkg/errors"
)

// ClientConfig holds speech recognition backend settings
type ClientConfig struct {
	BaseURL  string
	APIKey   string
	Model    string
	Language string
	Timeout  time.Duration
}

// Client talks to an OpenAI-compatible audio transcription endpoint
type Client struct {
	config ClientConfig
	client *http.Client
}

// Ensure Client implements Recognizer interface
var _ Recognizer = (*Client)(nil)

// NewClient creates a new transcription backend client
func NewClient(config ClientConfig) *Client {
	return &Client{
		config: config,
		client: &http.Client{Timeout: config.Timeout},
	}
}

// transcriptionResponse mirrors the verbose_json response layout
type transcriptionResponse struct {
	Text     string    `json:"text"`
	Segments []Segment `json:"segments"`
}

// Transcribe uploads one audio file and returns the recognized text with
// timestamped segments.
func (c *Client) Transcribe(ctx context.Context, audioPath string) (*Result, error) {
	file, err := os.Open(audioPath)
	if err != nil {
		return nil, pipeerrors.Data(pipeerrors.CodeEmptyAudio,
			fmt.Sprintf("opening chunk %s", audioPath), err)
	}
	defer file.Close()

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)

	part, err := writer.CreateFormFile("file", filepath.Base(audioPath))
	if err != nil {
		return nil, fmt.Errorf("building upload form: %w", err)
	}
	if _, err := io.Copy(part, file); err != nil {
		return nil, fmt.Errorf("reading chunk %s: %w", audioPath, err)
	}

	fields := map[string]string{
		"model":           c.config.Model,
		"response_format": "verbose_json",
	}
	if c.config.Language != "" {
		fields["language"] = c.config.Language
	}
	for key, value := range fields {
		if err := writer.WriteField(key, value); err != nil {
			return nil, fmt.Errorf("building upload form: %w", err)
		}
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("building upload form: %w", err)
	}

	url := strings.TrimSuffix(c.config.BaseURL, "/") + "/v1/audio/transcriptions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, &body)
	if err != nil {
		return nil, fmt.Errorf("building transcription request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	if c.config.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.config.APIKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, pipeerrors.Classify(err, pipeerrors.ClassTransient)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, pipeerrors.FromHTTPStatus(resp.StatusCode,
			fmt.Sprintf("backend returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(detail))))
	}

	var parsed transcriptionResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, pipeerrors.Data(pipeerrors.CodeBackendResponse, "decoding transcription response", err)
	}

	return &Result{
		Text:     strings.TrimSpace(parsed.Text),
		Segments: parsed.Segments,
	}, nil
}

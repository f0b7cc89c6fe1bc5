package synthesis

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	pipeerrors "github.com/podwave/digest-api/pkg/errors"
)

// SpeechRequest is one synthesis call. PreviousText carries the tail of the
// prior chunk so the voice stays continuous across chunk boundaries.
type SpeechRequest struct {
	Text           string
	Model          string
	Voice          string
	SecondaryVoice string // dialogue models only
	PreviousText   string
}

// Speaker converts text into audio bytes
type Speaker interface {
	Synthesize(ctx context.Context, req SpeechRequest) ([]byte, error)
}

// ClientConfig holds speech synthesis backend settings
type ClientConfig struct {
	BaseURL   string
	APIKey    string
	Model     string // default model when the topic sets none
	Timeout   time.Duration
	RateLimit int // requests per second, 0 = unlimited
}

// Client talks to an OpenAI-compatible speech endpoint
type Client struct {
	config  ClientConfig
	client  *http.Client
	limiter *rate.Limiter
}

// Ensure Client implements Speaker interface
var _ Speaker = (*Client)(nil)

// NewClient creates a new synthesis backend client
func NewClient(config ClientConfig) *Client {
	var limiter *rate.Limiter
	if config.RateLimit > 0 {
		limiter = rate.NewLimiter(rate.Limit(config.RateLimit), config.RateLimit)
	}
	return &Client{
		config:  config,
		client:  &http.Client{Timeout: config.Timeout},
		limiter: limiter,
	}
}

type speechPayload struct {
	Model          string `json:"model"`
	Input          string `json:"input"`
	Voice          string `json:"voice"`
	SecondaryVoice string `json:"secondary_voice,omitempty"`
	PreviousText   string `json:"previous_text,omitempty"`
	ResponseFormat string `json:"response_format"`
}

// Synthesize posts one chunk of text and returns the rendered audio bytes
func (c *Client) Synthesize(ctx context.Context, req SpeechRequest) ([]byte, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	model := req.Model
	if model == "" {
		model = c.config.Model
	}

	body, err := json.Marshal(speechPayload{
		Model:          model,
		Input:          req.Text,
		Voice:          req.Voice,
		SecondaryVoice: req.SecondaryVoice,
		PreviousText:   req.PreviousText,
		ResponseFormat: "mp3",
	})
	if err != nil {
		return nil, fmt.Errorf("encoding speech request: %w", err)
	}

	url := strings.TrimSuffix(c.config.BaseURL, "/") + "/v1/audio/speech"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("building speech request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.config.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.config.APIKey)
	}

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, pipeerrors.Classify(err, pipeerrors.ClassTransient)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, pipeerrors.FromHTTPStatus(resp.StatusCode,
			fmt.Sprintf("backend returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(detail))))
	}

	audio, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, pipeerrors.Classify(err, pipeerrors.ClassTransient)
	}
	if len(audio) == 0 {
		return nil, pipeerrors.Data(pipeerrors.CodeEmptyAudio, "backend returned zero audio bytes", nil)
	}
	return audio, nil
}

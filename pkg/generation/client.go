// Package generation wraps an OpenAI-compatible chat completions backend
// used for relevance scoring and digest script writing.
package generation

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

// Config holds generation backend settings
type Config struct {
	BaseURL   string
	APIKey    string
	Model     string
	Timeout   time.Duration
	RateLimit int // requests per second, 0 = unlimited
}

// Request is one completion call
type Request struct {
	System      string
	User        string
	Temperature float64
	MaxTokens   int
	JSONOutput  bool // ask the backend for a JSON object response
}

// Completer produces one text completion per request
type Completer interface {
	Complete(ctx context.Context, req Request) (string, error)
}

// Client talks to an OpenAI-compatible chat completions endpoint
type Client struct {
	config  Config
	client  *http.Client
	limiter *rate.Limiter
}

// Ensure Client implements Completer interface
var _ Completer = (*Client)(nil)

// NewClient creates a new generation backend client
func NewClient(config Config) *Client {
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

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model          string          `json:"model"`
	Messages       []chatMessage   `json:"messages"`
	Temperature    float64         `json:"temperature,omitempty"`
	MaxTokens      int             `json:"max_tokens,omitempty"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
}

type responseFormat struct {
	Type string `json:"type"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// Complete sends one chat completion request and returns the first choice's
// content.
func (c *Client) Complete(ctx context.Context, req Request) (string, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return "", pipeerrors.Classify(err, pipeerrors.ClassTransient)
		}
	}

	payload := chatRequest{
		Model:       c.config.Model,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	}
	if req.System != "" {
		payload.Messages = append(payload.Messages, chatMessage{Role: "system", Content: req.System})
	}
	payload.Messages = append(payload.Messages, chatMessage{Role: "user", Content: req.User})
	if req.JSONOutput {
		payload.ResponseFormat = &responseFormat{Type: "json_object"}
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("encoding completion request: %w", err)
	}

	url := strings.TrimSuffix(c.config.BaseURL, "/") + "/v1/chat/completions"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("building completion request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.config.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.config.APIKey)
	}

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return "", pipeerrors.Classify(err, pipeerrors.ClassTransient)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", pipeerrors.FromHTTPStatus(resp.StatusCode,
			fmt.Sprintf("backend returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(detail))))
	}

	var parsed chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", pipeerrors.Data(pipeerrors.CodeBackendResponse, "decoding completion response", err)
	}
	if len(parsed.Choices) == 0 {
		return "", pipeerrors.Data(pipeerrors.CodeBackendResponse, "completion response has no choices", nil)
	}

	return strings.TrimSpace(parsed.Choices[0].Message.Content), nil
}

package download

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	pipeerrors "github.com/podwave/digest-api/pkg/errors"
)

// Options configures the download behavior
type Options struct {
	MaxSize       int64         // Maximum file size in bytes (0 = no limit)
	Timeout       time.Duration // Download timeout
	UserAgent     string        // User agent string
	ValidateAudio bool          // Validate content-type is audio
}

// DefaultOptions returns default download options
func DefaultOptions() Options {
	return Options{
		MaxSize:       500 * 1024 * 1024, // 500MB default max
		Timeout:       5 * time.Minute,
		UserAgent:     "DigestAPI/1.0",
		ValidateAudio: true,
	}
}

// Result contains information about a successful download
type Result struct {
	FilePath      string // Path to downloaded file
	ContentType   string // Content-Type from response
	ContentLength int64  // Size in bytes
}

// Downloader handles downloading episode audio to local storage
type Downloader struct {
	client  *http.Client
	options Options
}

// NewDownloader creates a new downloader with the given options
func NewDownloader(options Options) *Downloader {
	return &Downloader{
		client: &http.Client{
			Timeout: options.Timeout,
			Transport: &http.Transport{
				MaxIdleConns:        10,
				IdleConnTimeout:     30 * time.Second,
				DisableCompression:  true, // Don't compress audio
				TLSHandshakeTimeout: 10 * time.Second,
			},
		},
		options: options,
	}
}

// Fetch downloads a URL into destDir and returns the stored file path.
// Errors are classified so callers can decide park-vs-abort.
func (d *Downloader) Fetch(ctx context.Context, url, destDir, baseName string) (*Result, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, pipeerrors.Data(pipeerrors.CodeMalformedEntry, fmt.Sprintf("invalid audio URL %s", url), err)
	}

	req.Header.Set("User-Agent", d.options.UserAgent)
	req.Header.Set("Accept", "audio/*,*/*")

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, pipeerrors.Classify(err, pipeerrors.ClassTransient)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusPartialContent {
		class := pipeerrors.ClassTransient
		if resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone {
			class = pipeerrors.ClassData
		}
		return nil, &pipeerrors.PipelineError{
			Class:   class,
			Code:    pipeerrors.CodeHTTPStatus,
			Message: fmt.Sprintf("server returned status %d for %s", resp.StatusCode, url),
		}
	}

	contentType := resp.Header.Get("Content-Type")
	if d.options.ValidateAudio && !isAudioContentType(contentType) {
		return nil, pipeerrors.Data(pipeerrors.CodeUnsupportedAudio,
			fmt.Sprintf("invalid content type %q", contentType), nil)
	}

	if d.options.MaxSize > 0 && resp.ContentLength > d.options.MaxSize {
		return nil, pipeerrors.Data(pipeerrors.CodeUnsupportedAudio,
			fmt.Sprintf("file too large: %d bytes (max %d)", resp.ContentLength, d.options.MaxSize), nil)
	}

	if err := os.MkdirAll(destDir, 0755); err != nil {
		return nil, fmt.Errorf("creating download directory: %w", err)
	}

	destPath := filepath.Join(destDir, baseName+extensionFor(url, contentType))
	out, err := os.Create(destPath)
	if err != nil {
		return nil, fmt.Errorf("creating download file: %w", err)
	}

	var reader io.Reader = resp.Body
	if d.options.MaxSize > 0 {
		reader = io.LimitReader(resp.Body, d.options.MaxSize+1)
	}

	written, err := io.Copy(out, reader)
	out.Close()
	if err != nil {
		os.Remove(destPath)
		return nil, pipeerrors.Classify(fmt.Errorf("copying download body: %w", err), pipeerrors.ClassTransient)
	}

	if written == 0 {
		os.Remove(destPath)
		return nil, pipeerrors.Data(pipeerrors.CodeEmptyAudio, "downloaded zero bytes", nil)
	}

	if d.options.MaxSize > 0 && written > d.options.MaxSize {
		os.Remove(destPath)
		return nil, pipeerrors.Data(pipeerrors.CodeUnsupportedAudio,
			fmt.Sprintf("file exceeded max size %d", d.options.MaxSize), nil)
	}

	log.Printf("[DEBUG] Downloaded %d bytes from %s to %s", written, url, destPath)

	return &Result{
		FilePath:      destPath,
		ContentType:   contentType,
		ContentLength: written,
	}, nil
}

// isAudioContentType checks if the content type is audio
func isAudioContentType(contentType string) bool {
	if contentType == "" {
		// Some podcast hosts omit it; let ffprobe decide later
		return true
	}
	ct := strings.ToLower(strings.TrimSpace(strings.SplitN(contentType, ";", 2)[0]))
	if strings.HasPrefix(ct, "audio/") {
		return true
	}
	switch ct {
	case "application/octet-stream", "binary/octet-stream", "video/mp4", "application/x-mpegurl":
		return true
	}
	return false
}

// extensionFor guesses a file extension from the URL, falling back to the
// content type
func extensionFor(url, contentType string) string {
	path := url
	if i := strings.IndexAny(path, "?#"); i >= 0 {
		path = path[:i]
	}
	if ext := filepath.Ext(path); ext != "" && len(ext) <= 5 {
		return ext
	}

	switch strings.ToLower(strings.TrimSpace(strings.SplitN(contentType, ";", 2)[0])) {
	case "audio/mpeg", "audio/mp3":
		return ".mp3"
	case "audio/mp4", "audio/x-m4a", "video/mp4":
		return ".m4a"
	case "audio/ogg":
		return ".ogg"
	case "audio/wav", "audio/x-wav":
		return ".wav"
	case "audio/aac":
		return ".aac"
	}
	return ".mp3"
}

package transcription

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pipeerrors "github.com/podwave/digest-api/pkg/errors"
)

func writeTestChunk(t *testing.T) string {
	path := filepath.Join(t.TempDir(), "chunk_000.wav")
	require.NoError(t, os.WriteFile(path, []byte("wav-bytes"), 0644))
	return path
}

func newTestClient(serverURL string) *Client {
	return NewClient(ClientConfig{
		BaseURL:  serverURL,
		APIKey:   "test-key",
		Model:    "whisper-1",
		Language: "en",
		Timeout:  5 * time.Second,
	})
}

func TestClient_TranscribeSendsMultipartRequest(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/audio/transcriptions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		require.NoError(t, r.ParseMultipartForm(1<<20))
		assert.Equal(t, "whisper-1", r.FormValue("model"))
		assert.Equal(t, "en", r.FormValue("language"))
		assert.Equal(t, "verbose_json", r.FormValue("response_format"))

		file, header, err := r.FormFile("file")
		require.NoError(t, err)
		defer file.Close()
		assert.Equal(t, "chunk_000.wav", header.Filename)

		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"text":" hello world ","segments":[{"start":0.5,"end":2.0,"text":"hello world"}]}`)
	}))
	defer server.Close()

	result, err := newTestClient(server.URL).Transcribe(context.Background(), writeTestChunk(t))
	require.NoError(t, err)
	assert.Equal(t, "hello world", result.Text)
	require.Len(t, result.Segments, 1)
	assert.Equal(t, 0.5, result.Segments[0].Start)
}

func TestClient_TranscribeClassifiesStatuses(t *testing.T) {
	tests := []struct {
		name   string
		status int
		class  pipeerrors.Class
	}{
		{"unauthorized is config", http.StatusUnauthorized, pipeerrors.ClassConfig},
		{"rate limit is transient", http.StatusTooManyRequests, pipeerrors.ClassTransient},
		{"server error is transient", http.StatusInternalServerError, pipeerrors.ClassTransient},
		{"bad request is data", http.StatusBadRequest, pipeerrors.ClassData},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
			}))
			defer server.Close()

			_, err := newTestClient(server.URL).Transcribe(context.Background(), writeTestChunk(t))
			require.Error(t, err)
			assert.Equal(t, tt.class, pipeerrors.ClassOf(err))
		})
	}
}

func TestClient_TranscribeMissingFileIsDataError(t *testing.T) {
	_, err := newTestClient("http://localhost:1").Transcribe(context.Background(), "/nonexistent/chunk.wav")
	require.Error(t, err)
	assert.Equal(t, pipeerrors.ClassData, pipeerrors.ClassOf(err))
}

package generation

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pipeerrors "github.com/podwave/digest-api/pkg/errors"
)

func TestClient_CompleteSendsChatRequest(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		var payload map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		assert.Equal(t, "gpt-4o-mini", payload["model"])

		messages := payload["messages"].([]any)
		require.Len(t, messages, 2)
		first := messages[0].(map[string]any)
		assert.Equal(t, "system", first["role"])

		format := payload["response_format"].(map[string]any)
		assert.Equal(t, "json_object", format["type"])

		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"choices":[{"message":{"content":" {\"ai\": 0.9} "}}]}`)
	}))
	defer server.Close()

	client := NewClient(Config{
		BaseURL: server.URL,
		APIKey:  "test-key",
		Model:   "gpt-4o-mini",
		Timeout: 5 * time.Second,
	})

	content, err := client.Complete(context.Background(), Request{
		System:     "You score transcripts.",
		User:       "Score this.",
		JSONOutput: true,
	})
	require.NoError(t, err)
	assert.Equal(t, `{"ai": 0.9}`, content)
}

func TestClient_CompleteEmptyChoicesIsDataError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"choices":[]}`)
	}))
	defer server.Close()

	client := NewClient(Config{BaseURL: server.URL, Timeout: time.Second})
	_, err := client.Complete(context.Background(), Request{User: "hi"})
	require.Error(t, err)
	assert.Equal(t, pipeerrors.ClassData, pipeerrors.ClassOf(err))
}

func TestClient_CompleteClassifiesStatuses(t *testing.T) {
	tests := []struct {
		status int
		class  pipeerrors.Class
	}{
		{http.StatusUnauthorized, pipeerrors.ClassConfig},
		{http.StatusTooManyRequests, pipeerrors.ClassTransient},
		{http.StatusBadGateway, pipeerrors.ClassTransient},
		{http.StatusUnprocessableEntity, pipeerrors.ClassData},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("status %d", tt.status), func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
			}))
			defer server.Close()

			client := NewClient(Config{BaseURL: server.URL, Timeout: time.Second})
			_, err := client.Complete(context.Background(), Request{User: "hi"})
			require.Error(t, err)
			assert.Equal(t, tt.class, pipeerrors.ClassOf(err))
		})
	}
}

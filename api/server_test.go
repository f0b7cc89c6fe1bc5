package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/podwave/digest-api/internal/database"
	"github.com/podwave/digest-api/internal/models"
	"github.com/podwave/digest-api/internal/pipeline"
	"github.com/podwave/digest-api/pkg/config"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newTestServer(t *testing.T) (*Server, *database.DB) {
	db, err := database.Initialize(filepath.Join(t.TempDir(), "test.db"), false)
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate())
	t.Cleanup(func() { _ = db.Close() })

	cfg := &config.Config{
		Server: config.ServerConfig{Host: "127.0.0.1", Port: 8080},
		Publish: config.PublishConfig{
			Dir:     t.TempDir(),
			BaseURL: "http://localhost:8080",
			Title:   "Daily Topic Digests",
			Link:    "http://localhost:8080",
		},
		Pipeline: config.PipelineConfig{BatchSize: 10, MaxFailures: 5},
	}

	return NewServer(cfg, db, pipeline.New(cfg, db)), db
}

func doRequest(s *Server, method, path string, body []byte) *httptest.ResponseRecorder {
	recorder := httptest.NewRecorder()
	request := httptest.NewRequest(method, path, bytes.NewReader(body))
	if body != nil {
		request.Header.Set("Content-Type", "application/json")
	}
	s.Engine().ServeHTTP(recorder, request)
	return recorder
}

func TestHealthEndpoint(t *testing.T) {
	server, _ := newTestServer(t)

	response := doRequest(server, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, response.Code)
	assert.Contains(t, response.Body.String(), "healthy")
}

func TestListEpisodes(t *testing.T) {
	server, db := newTestServer(t)

	require.NoError(t, db.Create(&models.Episode{
		FeedID:      1,
		EpisodeGUID: "guid-1",
		Title:       "Episode one",
		AudioURL:    "https://cdn.example.com/1.mp3",
		Status:      models.StatusPending,
	}).Error)

	// Without a status filter the endpoint reports per-status counts
	response := doRequest(server, http.MethodGet, "/api/v1/episodes", nil)
	require.Equal(t, http.StatusOK, response.Code)
	var counts struct {
		Counts map[string]int64 `json:"counts"`
	}
	require.NoError(t, json.Unmarshal(response.Body.Bytes(), &counts))
	assert.Equal(t, int64(1), counts.Counts["pending"])

	response = doRequest(server, http.MethodGet, "/api/v1/episodes?status=pending", nil)
	require.Equal(t, http.StatusOK, response.Code)
	assert.Contains(t, response.Body.String(), "guid-1")

	response = doRequest(server, http.MethodGet, "/api/v1/episodes?status=bogus", nil)
	assert.Equal(t, http.StatusBadRequest, response.Code)
}

func TestGetDigestNotFound(t *testing.T) {
	server, _ := newTestServer(t)

	response := doRequest(server, http.MethodGet, "/api/v1/digests/999", nil)
	assert.Equal(t, http.StatusNotFound, response.Code)

	response = doRequest(server, http.MethodGet, "/api/v1/digests/not-a-number", nil)
	assert.Equal(t, http.StatusBadRequest, response.Code)
}

func TestRunPhase(t *testing.T) {
	server, _ := newTestServer(t)

	// No registered feeds: a discovery pass succeeds with nothing claimed
	response := doRequest(server, http.MethodPost, "/api/v1/phases/discover/run", nil)
	require.Equal(t, http.StatusOK, response.Code)
	var body struct {
		RunID  string `json:"run_id"`
		Result struct {
			Claimed int `json:"claimed"`
		} `json:"result"`
	}
	require.NoError(t, json.Unmarshal(response.Body.Bytes(), &body))
	assert.NotEmpty(t, body.RunID)
	assert.Equal(t, 0, body.Result.Claimed)

	response = doRequest(server, http.MethodPost, "/api/v1/phases/teleport/run", nil)
	assert.Equal(t, http.StatusNotFound, response.Code)
}

func TestRunPhaseConfigErrorAborts(t *testing.T) {
	server, _ := newTestServer(t)

	// Scoring with zero active topics is a configuration problem
	response := doRequest(server, http.MethodPost, "/api/v1/phases/score/run", nil)
	assert.Equal(t, http.StatusConflict, response.Code)
	assert.Contains(t, response.Body.String(), "run_id")
}

func TestResetEpisode(t *testing.T) {
	server, db := newTestServer(t)

	episode := &models.Episode{
		FeedID:      1,
		EpisodeGUID: "guid-reset",
		Title:       "Episode",
		AudioURL:    "https://cdn.example.com/r.mp3",
		Status:      models.StatusNotRelevant,
		Scores:      models.TopicScores{"ai": 0.2},
	}
	require.NoError(t, db.Create(episode).Error)

	response := doRequest(server, http.MethodPost,
		"/api/v1/episodes/999/reset", []byte(`{"to":"pending"}`))
	assert.Equal(t, http.StatusNotFound, response.Code)

	response = doRequest(server, http.MethodPost,
		"/api/v1/episodes/1/reset", []byte(`{}`))
	assert.Equal(t, http.StatusBadRequest, response.Code)

	response = doRequest(server, http.MethodPost,
		"/api/v1/episodes/1/reset", []byte(`{"to":"pending"}`))
	require.Equal(t, http.StatusOK, response.Code)

	var updated models.Episode
	require.NoError(t, db.First(&updated, episode.ID).Error)
	assert.Equal(t, models.StatusPending, updated.Status)
}

func TestFeedEndpoints(t *testing.T) {
	server, _ := newTestServer(t)

	response := doRequest(server, http.MethodGet, "/feed.xml", nil)
	require.Equal(t, http.StatusOK, response.Code)
	assert.Contains(t, response.Header().Get("Content-Type"), "application/rss+xml")
	assert.Contains(t, response.Body.String(), "<title>Daily Topic Digests</title>")

	response = doRequest(server, http.MethodGet, "/feeds/missing.xml", nil)
	assert.Equal(t, http.StatusNotFound, response.Code)

	response = doRequest(server, http.MethodGet, "/feeds/plain", nil)
	assert.Equal(t, http.StatusNotFound, response.Code)
}

package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/podwave/digest-api/internal/services/runs"
)

// handleListRuns returns the most recent pipeline runs, newest first.
// GET /api/v1/runs?limit=20&run_id=<uuid>
func (s *Server) handleListRuns(c *gin.Context) {
	ctx := c.Request.Context()

	// A run_id query returns that single run with its full log stream
	if runID := c.Query("run_id"); runID != "" {
		run, err := s.pipeline.Runs.Get(ctx, runID)
		if err != nil {
			if errors.Is(err, runs.ErrRunNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "run not found"})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, run)
		return
	}

	limit := 20
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return
		}
		limit = parsed
	}

	recent, err := s.pipeline.Runs.Recent(ctx, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"runs": recent, "count": len(recent)})
}

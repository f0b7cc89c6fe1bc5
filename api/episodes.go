package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/podwave/digest-api/internal/models"
	"github.com/podwave/digest-api/internal/services/digests"
	"github.com/podwave/digest-api/internal/services/episodes"
)

// handleListEpisodes returns episode rows filtered by status. Without a
// status filter it returns the per-status counts instead of every row.
// GET /api/v1/episodes?status=failed&limit=20
func (s *Server) handleListEpisodes(c *gin.Context) {
	ctx := c.Request.Context()

	rawStatus := c.Query("status")
	if rawStatus == "" {
		counts, err := s.pipeline.Episodes.CountByStatus(ctx)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"counts": counts})
		return
	}

	status := models.EpisodeStatus(rawStatus)
	if !status.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown status: " + rawStatus})
		return
	}

	limit := 50
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return
		}
		limit = parsed
	}

	rows, err := s.pipeline.Episodes.ListByStatus(ctx, status, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"episodes": rows, "count": len(rows)})
}

type resetRequest struct {
	To string `json:"to" binding:"required"`
}

// handleResetEpisode applies an operator reset, including the undigest
// cascade for consumed episodes.
// POST /api/v1/episodes/:id/reset {"to": "pending"}
func (s *Server) handleResetEpisode(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid episode ID"})
		return
	}

	var req resetRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "request body must carry a 'to' status"})
		return
	}

	target := models.EpisodeStatus(req.To)
	if err := s.pipeline.Composition.ResetEpisode(c.Request.Context(), uint(id), target); err != nil {
		switch {
		case errors.Is(err, episodes.ErrEpisodeNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "episode not found"})
		case errors.Is(err, digests.ErrIllegalReset):
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		}
		return
	}

	c.JSON(http.StatusOK, gin.H{"episode_id": id, "status": target})
}

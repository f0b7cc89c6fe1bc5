package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/podwave/digest-api/internal/services/digests"
)

// handleListDigests returns digest rows, optionally narrowed to one topic.
// GET /api/v1/digests?topic=ai&limit=20
func (s *Server) handleListDigests(c *gin.Context) {
	limit := 50
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return
		}
		limit = parsed
	}

	rows, err := s.pipeline.Digests.ListDigests(c.Request.Context(), c.Query("topic"), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"digests": rows, "count": len(rows)})
}

// handleGetDigest returns one digest with its episode links.
// GET /api/v1/digests/:id
func (s *Server) handleGetDigest(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid digest ID"})
		return
	}

	digest, err := s.pipeline.Digests.GetDigestByID(c.Request.Context(), uint(id))
	if err != nil {
		if errors.Is(err, digests.ErrDigestNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "digest not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, digest)
}

package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/podwave/digest-api/internal/services/topics"
)

// handleCombinedFeed serves the published RSS feed across every topic.
// GET /feed.xml
func (s *Server) handleCombinedFeed(c *gin.Context) {
	s.serveFeed(c, "")
}

// handleTopicFeed serves one topic's published RSS feed.
// GET /feeds/ai.xml
func (s *Server) handleTopicFeed(c *gin.Context) {
	slug, ok := strings.CutSuffix(c.Param("topic"), ".xml")
	if !ok || slug == "" {
		c.JSON(http.StatusNotFound, gin.H{"error": "feed not found"})
		return
	}
	s.serveFeed(c, slug)
}

func (s *Server) serveFeed(c *gin.Context, topicSlug string) {
	feed, err := s.pipeline.Publishing.FeedXML(c.Request.Context(), topicSlug)
	if err != nil {
		if errors.Is(err, topics.ErrTopicNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "unknown topic: " + topicSlug})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.Data(http.StatusOK, "application/rss+xml; charset=utf-8", []byte(feed))
}

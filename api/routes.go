package api

// registerRoutes wires every endpoint of the HTTP surface
func (s *Server) registerRoutes() {
	s.engine.GET("/health", s.handleHealth)

	v1 := s.engine.Group("/api/v1")
	{
		v1.GET("/digests", s.handleListDigests)
		v1.GET("/digests/:id", s.handleGetDigest)
		v1.GET("/episodes", s.handleListEpisodes)
		v1.GET("/runs", s.handleListRuns)
		v1.POST("/phases/:phase/run", s.handleRunPhase)
		v1.POST("/episodes/:id/reset", s.handleResetEpisode)
	}

	// Published podcast surface: the combined feed, per-topic feeds, and the
	// audio files the enclosures point at.
	s.engine.GET("/feed.xml", s.handleCombinedFeed)
	s.engine.GET("/feeds/:topic", s.handleTopicFeed)
	s.engine.Static("/audio", s.publishDir)
}

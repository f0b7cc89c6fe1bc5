package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	pipeerrors "github.com/podwave/digest-api/pkg/errors"
)

// handleRunPhase triggers one synchronous pass of a named phase. Zero
// eligible rows is still a successful pass.
// POST /api/v1/phases/score/run
func (s *Server) handleRunPhase(c *gin.Context) {
	phase := c.Param("phase")
	run, err := s.pipeline.Phase(phase)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}

	ctx := c.Request.Context()
	tracker, err := s.pipeline.Runs.Start(ctx, phase, "http")
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	result, runErr := run(ctx, tracker)
	tracker.Complete(ctx, result, runErr)

	if runErr != nil {
		code := http.StatusInternalServerError
		if pipeerrors.IsConfig(runErr) {
			// Misconfiguration is an operator problem, not a server fault
			code = http.StatusConflict
		}
		c.JSON(code, gin.H{
			"run_id": tracker.RunID(),
			"error":  runErr.Error(),
			"result": result,
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"run_id": tracker.RunID(),
		"result": result,
	})
}

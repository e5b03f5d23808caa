package rest

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// System handlers

func (s *Server) getSystemStatus(c *gin.Context) {
	c.JSON(http.StatusOK, s.lm.GetCurrentStatus())
}

func (s *Server) shutdown(c *gin.Context) {
	c.JSON(http.StatusAccepted, gin.H{"message": "shutdown initiated"})

	// Reply first, then stop; the client would otherwise never hear back.
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := s.lm.Shutdown(ctx); err != nil {
			s.logger.Error("shutdown via API failed")
		}
	}()
}

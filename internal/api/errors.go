package api

import (
	"errors"
	"net/http"

	"github.com/Joe3124t/pingy-sub002/internal/messaging"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// writeError maps service errors onto HTTP responses. Unexpected errors are
// logged and hidden from the client.
func (s *Server) writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, messaging.ErrValidation):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, messaging.ErrBlocked):
		c.JSON(http.StatusForbidden, gin.H{"error": "interaction blocked", "reason": "blocked"})
	case errors.Is(err, messaging.ErrAccessDenied):
		c.JSON(http.StatusForbidden, gin.H{"error": "access denied"})
	case errors.Is(err, messaging.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	default:
		s.logger.Error("request failed", zap.Error(err),
			zap.String("method", c.Request.Method), zap.String("path", c.FullPath()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, gin.H{"error": msg})
}

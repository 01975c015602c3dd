package middleware

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	apperrors "github.com/charlesng35/flowcache/pkg/errors"
	"github.com/charlesng35/flowcache/pkg/logger"
	"github.com/charlesng35/flowcache/pkg/metrics"
	"github.com/charlesng35/flowcache/pkg/response"
)

// Recovery converts panics into a 500 response. http.ErrAbortHandler is re-raised so the
// server can drop the connection as it expects.
func Recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			r := recover()
			if r == nil {
				return
			}
			if err, ok := r.(error); ok && errors.Is(err, http.ErrAbortHandler) {
				panic(r)
			}

			path := c.FullPath()
			if path == "" {
				path = "unmatched"
			}
			metrics.RecoveredPanics.WithLabelValues(path).Inc()
			logger.WithModule("http").Error("panic",
				zap.String("path", c.Request.URL.Path),
				zap.String("request_id", GetRequestID(c)),
				zap.Any("error", r),
				zap.Stack("stack"),
			)

			// A partially written body cannot be replaced.
			if c.Writer.Written() {
				c.Abort()
				return
			}
			response.Error(c, apperrors.ErrInternalServer)
			c.Abort()
		}()
		c.Next()
	}
}

// NotFoundHandler returns a JSON 404 response for unknown routes.
func NotFoundHandler(c *gin.Context) {
	response.Error(c, apperrors.ErrNotFound)
}

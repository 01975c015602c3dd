package handlers

import (
	"context"
	"errors"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/charlesng35/flowcache/internal/cache"
	"github.com/charlesng35/flowcache/internal/services"
	appErrors "github.com/charlesng35/flowcache/pkg/errors"
	"github.com/charlesng35/flowcache/pkg/logger"
	"github.com/charlesng35/flowcache/pkg/response"
)

// writeError maps cache and service errors onto the API error envelope.
func writeError(c *gin.Context, err error) {
	var (
		storageErr *cache.StorageError
		appErr     *appErrors.AppError
	)

	switch {
	case errors.As(err, &appErr):
		response.Error(c, appErr)
	case errors.Is(err, services.ErrInvalidReach), errors.Is(err, cache.ErrInvalidKey):
		response.Error(c, appErrors.NewBadRequest(err.Error()))
	case errors.Is(err, cache.ErrInvalidPayload):
		response.Error(c, appErrors.NewBadRequest("payload must be a JSON document"))
	case errors.Is(err, services.ErrNoData):
		response.Error(c, appErrors.ErrNoData.WithInternal(err))
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		// A stale read cut short by the caller's deadline is not a storage fault.
		response.Error(c, appErrors.ErrNoData.WithInternal(err))
	case errors.As(err, &storageErr):
		logger.WithModule("http").Error("cache storage failure", zap.String("op", storageErr.Op), zap.Error(storageErr.Err))
		response.Error(c, appErrors.ErrStorage.WithInternal(err))
	default:
		response.Error(c, appErrors.ErrInternalServer.WithInternal(err))
	}
}

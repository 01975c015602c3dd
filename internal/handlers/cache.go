package handlers

import (
	"context"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/charlesng35/flowcache/internal/cache"
	"github.com/charlesng35/flowcache/internal/database"
	appErrors "github.com/charlesng35/flowcache/pkg/errors"
	"github.com/charlesng35/flowcache/pkg/response"
)

const (
	maxValueBytes = 1 << 20
	maxFileBytes  = 64 << 20

	expiresAtHeader = "X-Cache-Expires-At"
)

// SweepRunner triggers an immediate maintenance sweep.
type SweepRunner interface {
	RunOnce(ctx context.Context) (cache.PurgeStats, error)
}

// CacheHandler exposes generic values, files and cache administration.
type CacheHandler struct {
	cache   *cache.Cache
	sweeper SweepRunner
}

// NewCacheHandler constructs a cache handler. sweeper may be nil, in which case sweeps purge
// directly without updating metrics.
func NewCacheHandler(c *cache.Cache, sweeper SweepRunner) *CacheHandler {
	return &CacheHandler{cache: c, sweeper: sweeper}
}

type cacheStats struct {
	Usage       cache.Usage `json:"usage"`
	LastSweepAt *time.Time  `json:"last_sweep_at,omitempty"`
	Directory   string      `json:"directory"`
}

// Stats handles GET /api/cache/stats.
func (h *CacheHandler) Stats(c *gin.Context) {
	ctx := c.Request.Context()

	usage, err := h.cache.Usage(ctx)
	if err != nil {
		writeError(c, err)
		return
	}

	stats := cacheStats{Usage: usage, Directory: h.cache.Dir()}
	if last, err := database.LastSweep(ctx, h.cache.DB()); err == nil && !last.IsZero() {
		stats.LastSweepAt = &last
	}

	response.Success(c, http.StatusOK, stats)
}

// Sweep handles POST /api/cache/sweep.
func (h *CacheHandler) Sweep(c *gin.Context) {
	var (
		stats cache.PurgeStats
		err   error
	)
	if h.sweeper != nil {
		stats, err = h.sweeper.RunOnce(c.Request.Context())
	} else {
		stats, err = h.cache.PurgeExpired(c.Request.Context())
	}
	if err != nil {
		writeError(c, err)
		return
	}

	response.Success(c, http.StatusOK, stats)
}

// Clear handles DELETE /api/cache.
func (h *CacheHandler) Clear(c *gin.Context) {
	stats, err := h.cache.Clear(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}

	response.Success(c, http.StatusOK, stats)
}

// PutValue handles PUT /api/cache/values/:key. The request body is stored verbatim.
func (h *CacheHandler) PutValue(c *gin.Context) {
	ttl, err := parseTTLQuery(c, "ttl")
	if err != nil {
		response.Error(c, appErrors.NewBadRequest(err.Error()))
		return
	}

	body, ok := readBody(c, maxValueBytes)
	if !ok {
		return
	}

	var metadata []byte
	if raw := strings.TrimSpace(c.GetHeader("X-Cache-Metadata")); raw != "" {
		metadata = []byte(raw)
	}

	if err := h.cache.Values.Set(c.Request.Context(), c.Param("key"), body, ttl, metadata); err != nil {
		writeError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

// GetValue handles GET /api/cache/values/:key.
func (h *CacheHandler) GetValue(c *gin.Context) {
	entry, ok, err := h.cache.Values.Entry(c.Request.Context(), c.Param("key"))
	if err != nil {
		writeError(c, err)
		return
	}
	if !ok {
		response.Error(c, appErrors.ErrNotFound)
		return
	}

	c.Header(expiresAtHeader, entry.ExpiresAt.UTC().Format(time.RFC3339))
	if len(entry.Metadata) > 0 {
		c.Header("X-Cache-Metadata", string(entry.Metadata))
	}
	c.Data(http.StatusOK, "application/octet-stream", entry.Value)
}

// DeleteValue handles DELETE /api/cache/values/:key.
func (h *CacheHandler) DeleteValue(c *gin.Context) {
	if err := h.cache.Values.Remove(c.Request.Context(), c.Param("key")); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// PutFile handles PUT /api/cache/files/:key. An absent or generic Content-Type is detected
// from the content.
func (h *CacheHandler) PutFile(c *gin.Context) {
	ttl, err := parseTTLQuery(c, "ttl")
	if err != nil {
		response.Error(c, appErrors.NewBadRequest(err.Error()))
		return
	}

	body, ok := readBody(c, maxFileBytes)
	if !ok {
		return
	}

	mimeType := strings.TrimSpace(c.ContentType())
	if mimeType == "application/octet-stream" {
		mimeType = ""
	}

	if err := h.cache.Files.SetFile(c.Request.Context(), c.Param("key"), body, ttl, mimeType); err != nil {
		writeError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

// GetFile handles GET /api/cache/files/:key.
func (h *CacheHandler) GetFile(c *gin.Context) {
	file, ok, err := h.cache.Files.GetFile(c.Request.Context(), c.Param("key"))
	if err != nil {
		writeError(c, err)
		return
	}
	if !ok {
		response.Error(c, appErrors.ErrNotFound)
		return
	}

	mimeType := file.MimeType
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}
	c.Header(expiresAtHeader, file.ExpiresAt.UTC().Format(time.RFC3339))
	c.Data(http.StatusOK, mimeType, file.Data)
}

// DeleteFile handles DELETE /api/cache/files/:key.
func (h *CacheHandler) DeleteFile(c *gin.Context) {
	if err := h.cache.Files.RemoveFile(c.Request.Context(), c.Param("key")); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func readBody(c *gin.Context, limit int64) ([]byte, bool) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, limit+1))
	if err != nil {
		response.Error(c, appErrors.NewBadRequest("failed to read request body"))
		return nil, false
	}
	if int64(len(body)) > limit {
		response.Error(c, appErrors.New("PAYLOAD_TOO_LARGE", "request body too large", http.StatusRequestEntityTooLarge))
		return nil, false
	}
	return body, true
}

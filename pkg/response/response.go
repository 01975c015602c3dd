package response

import (
	"net/http"

	"github.com/gin-gonic/gin"

	appErrors "github.com/charlesng35/flowcache/pkg/errors"
)

// RequestIDKey is the gin context key the request id middleware stores the id under.
const RequestIDKey = "request_id"

// Response defines the base API payload.
type Response struct {
	Success bool       `json:"success"`
	Data    any        `json:"data,omitempty"`
	Error   *ErrorInfo `json:"error,omitempty"`
	Meta    *Meta      `json:"meta,omitempty"`
}

// ErrorInfo holds error details to send to clients. Retryable marks failures that may
// succeed later without any change to the request, such as no data while offline.
type ErrorInfo struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable,omitempty"`
}

// Meta carries request correlation data.
type Meta struct {
	RequestID string `json:"request_id,omitempty"`
}

// Success writes a JSON success response.
func Success(c *gin.Context, statusCode int, data any) {
	c.JSON(statusCode, Response{
		Success: true,
		Data:    data,
		Meta:    meta(c),
	})
}

// Error writes a JSON error response derived from an AppError.
func Error(c *gin.Context, err error) {
	if err == nil {
		err = appErrors.ErrInternalServer
	}

	appErr := appErrors.FromError(err)
	status := appErr.StatusCode
	if status == 0 {
		status = http.StatusInternalServerError
	}

	c.JSON(status, Response{
		Success: false,
		Error: &ErrorInfo{
			Code:      appErr.Code,
			Message:   appErr.Message,
			Retryable: status == http.StatusServiceUnavailable || status == http.StatusTooManyRequests,
		},
		Meta: meta(c),
	})
}

func meta(c *gin.Context) *Meta {
	id := c.GetString(RequestIDKey)
	if id == "" {
		return nil
	}
	return &Meta{RequestID: id}
}

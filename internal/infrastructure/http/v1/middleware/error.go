package middleware

import (
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"

	"lotpool/internal/core/apperror"
	"lotpool/pkg/logger"
)

// ErrorHandler middleware transforms errors into consistent JSON responses.
// Hides internal errors from clients while logging full details.
func ErrorHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) == 0 {
			return
		}
		err := c.Errors.Last().Err

		// If response already written by handler, do not override it.
		if c.Writer.Written() {
			return
		}

		status := http.StatusInternalServerError
		var body gin.H

		if appErr, ok := apperror.AsAppError(err); ok {
			if appErr.Err != nil {
				logger.Error(c.Request.Context(), "request error",
					"code", appErr.Code,
					"cause", appErr.Err,
				)
			}
			status = appErr.HTTPStatus
			body = gin.H{
				"code":    appErr.Code,
				"message": appErr.Message,
				"details": appErr.Details,
			}
		} else {
			logger.Error(c.Request.Context(), "unhandled error", "error", err)
			body = gin.H{
				"code":    apperror.CodeInternal,
				"message": "Internal server error",
				"details": map[string]any{
					"request_id": c.GetString("request_id"),
				},
			}
		}

		settleIdempotency(c, status, body)
		c.JSON(status, body)
	}
}

// settleIdempotency records a client error for replay. Server errors release
// the key so the caller may retry with the same key.
func settleIdempotency(c *gin.Context, status int, body gin.H) {
	key := c.GetString(ctxIdempotencyKey)
	if key == "" {
		return
	}
	store, ok := c.Get(ctxIdempotencyStore)
	if !ok {
		return
	}
	s, ok := store.(IdempotencyStore)
	if !ok || s == nil {
		return
	}

	ctx := c.Request.Context()
	if status >= http.StatusInternalServerError {
		if err := s.ReleaseKey(ctx, key); err != nil {
			logger.Warn(ctx, "release idempotency key", "key", key, "error", err)
		}
		return
	}
	raw, err := json.Marshal(body)
	if err != nil {
		return
	}
	if err := s.FailKey(ctx, key, status, "application/json", raw); err != nil {
		logger.Warn(ctx, "fail idempotency key", "key", key, "error", err)
	}
}

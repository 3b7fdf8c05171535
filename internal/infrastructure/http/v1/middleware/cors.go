package middleware

import (
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

// CORS allows browser clients from origins. An empty list allows any origin
// unless strict is set, in which case cross-origin requests are refused.
func CORS(origins []string, strict bool) gin.HandlerFunc {
	cfg := cors.DefaultConfig()
	switch {
	case len(origins) > 0:
		cfg.AllowOrigins = origins
	case strict:
		cfg.AllowOriginFunc = func(string) bool { return false }
	default:
		cfg.AllowAllOrigins = true
	}
	cfg.AddAllowHeaders("Authorization", HeaderIdempotencyKey, HeaderRequestID, HeaderTraceID)
	cfg.AddExposeHeaders(HeaderRequestID, HeaderTraceID, HeaderIdempotentReplay)
	return cors.New(cfg)
}

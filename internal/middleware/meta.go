package middleware

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/museum-admin-api/pkg/middleware/requestid"
)

const (
	responseMetaKey  = "response_meta"
	requestStartKey  = "response_meta_start"
	cacheHitKey      = "cache_hit"
	processingKey    = "processing_time_ms"
	requestIDMetaKey = "request_id"
)

// WithResponseMeta prepares the per-request meta map that handlers merge into
// the response envelope, and stamps the request start time.
func WithResponseMeta() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set(requestStartKey, time.Now())
		c.Set(responseMetaKey, map[string]interface{}{})
		c.Next()
	}
}

// SetCacheHit records whether the donation detail came from Redis.
func SetCacheHit(c *gin.Context, hit bool) {
	ensureMeta(c)[cacheHitKey] = hit
}

// ExtractMeta returns the meta map for the response being written. Elapsed
// time and the request ID are filled in at extraction, because the envelope
// is serialized before the middleware chain unwinds.
func ExtractMeta(c *gin.Context) map[string]interface{} {
	if c == nil {
		return nil
	}
	meta := ensureMeta(c)
	if value, ok := c.Get(requestStartKey); ok {
		if start, ok := value.(time.Time); ok {
			meta[processingKey] = time.Since(start).Milliseconds()
		}
	}
	if id := requestid.Value(c); id != "" {
		meta[requestIDMetaKey] = id
	}
	return meta
}

func ensureMeta(c *gin.Context) map[string]interface{} {
	if value, ok := c.Get(responseMetaKey); ok {
		if meta, ok := value.(map[string]interface{}); ok {
			return meta
		}
	}
	meta := make(map[string]interface{})
	c.Set(responseMetaKey, meta)
	return meta
}

package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

var corsBaseHeaders = []string{"Content-Type", "Authorization"}

// CORS sets cross-origin headers. allowedOrigins is "*" or a comma-separated list. extraHeaders are
// request headers browsers may send besides the base set, e.g. the webhook secret header.
// A listed origin is echoed back with Vary: Origin so caches keep per-origin copies.
func CORS(allowedOrigins string, extraHeaders ...string) gin.HandlerFunc {
	origins := parseOrigins(allowedOrigins)
	wildcard := len(origins) == 0 || origins["*"]
	allowHeaders := strings.Join(append(append([]string{}, corsBaseHeaders...), extraHeaders...), ", ")

	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		allowOrigin := ""
		switch {
		case wildcard:
			allowOrigin = "*"
		case origin != "" && origins[origin]:
			allowOrigin = origin
			c.Header("Vary", "Origin")
		}
		if allowOrigin != "" {
			c.Header("Access-Control-Allow-Origin", allowOrigin)
			c.Header("Access-Control-Allow-Methods", "GET, POST, PATCH, OPTIONS")
			c.Header("Access-Control-Allow-Headers", allowHeaders)
			c.Header("Access-Control-Max-Age", "86400")
		}
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

func parseOrigins(s string) map[string]bool {
	m := make(map[string]bool)
	for _, o := range strings.Split(strings.TrimSpace(s), ",") {
		o = strings.TrimSpace(o)
		if o != "" {
			m[o] = true
		}
	}
	return m
}

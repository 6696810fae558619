package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// CORS returns a middleware allowing the collaboration frontend's origin(s).
// allowedOrigins is "*" or a comma-separated list; the session page and the
// backend usually run on different ports in development, so the default
// config allows localhost:3000.
func CORS(allowedOrigins string) gin.HandlerFunc {
	allowed := make(map[string]struct{})
	allowAll := false
	for _, o := range strings.Split(allowedOrigins, ",") {
		o = strings.TrimSpace(o)
		switch o {
		case "":
		case "*":
			allowAll = true
		default:
			allowed[o] = struct{}{}
		}
	}
	if len(allowed) == 0 && !allowAll {
		allowAll = true
	}

	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		grant := ""
		switch {
		case allowAll:
			grant = "*"
		case origin != "":
			if _, ok := allowed[origin]; ok {
				grant = origin
			}
		}
		if grant != "" {
			c.Header("Access-Control-Allow-Origin", grant)
			c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization")
			c.Header("Access-Control-Max-Age", "86400")
		}
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

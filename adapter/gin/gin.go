// Package ginadapter mounts the QuantumAuth verification middleware on a gin engine.
package ginadapter

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/quantumauth-io/quantumauth-go/middleware"
)

// Middleware runs m in front of the rest of the gin chain. Rejected requests abort the chain.
func Middleware(m *middleware.Middleware) gin.HandlerFunc {
	return func(c *gin.Context) {
		passed := false
		handler := m.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			passed = true
			c.Request = r
			c.Next()
		}))

		handler.ServeHTTP(c.Writer, c.Request)

		if !passed {
			c.Abort()
		}
	}
}

// Identity returns the identity stored by Middleware.
func Identity(c *gin.Context) (middleware.Identity, bool) {
	return middleware.FromContext(c.Request.Context())
}

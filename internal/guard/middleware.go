package guard

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// IdentityContextKey is the gin context key holding the guarded request's identity.
const IdentityContextKey = "guard.identity"

// Middleware guards gin routes. While identity is loading the request gets an
// empty 204 response; an anonymous request is redirected to signInPath.
func Middleware(source StateSource, signInPath string) gin.HandlerFunc {
	return func(c *gin.Context) {
		state := source.State()
		switch {
		case state.Loading:
			c.AbortWithStatus(http.StatusNoContent)
		case state.Identity == nil:
			c.Redirect(http.StatusFound, signInPath)
			c.Abort()
		default:
			c.Set(IdentityContextKey, *state.Identity)
			c.Next()
		}
	}
}

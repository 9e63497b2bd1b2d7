package auth

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// Router is a wrapper class that adds token checks to API routes.
// An empty Token disables the check
type Router struct {
	Base  gin.IRoutes
	Token string
}

// Authorized checks the bearer token. allowQuery also accepts it in the token query parameter
func (cr *Router) Authorized(c *gin.Context, allowQuery bool) bool {
	if cr.Token == "" {
		return true
	}
	token := strings.TrimPrefix(c.GetHeader("Authorization"), "Bearer ")
	if token == "" && allowQuery {
		token = c.Query("token")
	}
	return subtle.ConstantTimeCompare([]byte(token), []byte(cr.Token)) == 1
}

func (cr *Router) baseExec(c *gin.Context, handler gin.HandlerFunc) {
	cr.exec(c, handler, false)
}

func (cr *Router) exec(c *gin.Context, handler gin.HandlerFunc, allowQuery bool) {
	if !cr.Authorized(c, allowQuery) {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "access denied"})
		return
	}
	handler(c)
}

func (cr *Router) POST(path string, handler gin.HandlerFunc) {
	cr.Base.POST(path, func(c *gin.Context) {
		cr.baseExec(c, handler)
	})
}

func (cr *Router) GET(path string, handler gin.HandlerFunc) {
	cr.Base.GET(path, func(c *gin.Context) {
		cr.baseExec(c, handler)
	})
}

func (cr *Router) DELETE(path string, handler gin.HandlerFunc) {
	cr.Base.DELETE(path, func(c *gin.Context) {
		cr.baseExec(c, handler)
	})
}

// WebSocket registers a GET route that also takes the token from the query string,
// browsers can't set headers on websocket requests
func (cr *Router) WebSocket(path string, handler gin.HandlerFunc) {
	cr.Base.GET(path, func(c *gin.Context) {
		cr.exec(c, handler, true)
	})
}

package handler

import (
	"net/http"

	"mediaportal/internal/session"

	"github.com/gin-gonic/gin"
)

const LoginRoute = "/login"

// RequireSession 路由守卫：没有凭证时在发起任何门户请求之前就返回 401
func RequireSession(sess *session.Session) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !sess.Authenticated() {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":    "not signed in",
				"redirect": LoginRoute,
			})
			return
		}
		c.Next()
	}
}

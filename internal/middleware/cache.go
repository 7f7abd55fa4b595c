package middleware

import (
	"github.com/gin-gonic/gin"
)

// CacheControl sets the Cache-Control header on every response of the group.
func CacheControl(directive string) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Cache-Control", directive)
		c.Next()
	}
}

// NoStore keeps attempt state and results out of browser and proxy caches.
func NoStore() gin.HandlerFunc {
	return CacheControl("no-store")
}

package server

import "github.com/gin-gonic/gin"

// jsonMiddleware marks API responses as JSON.
func jsonMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Content-Type", "application/json")
		c.Next()
	}
}

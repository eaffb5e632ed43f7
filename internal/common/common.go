package common

import (
	"github.com/gin-gonic/gin"
)

// Error writes the gateway's JSON error shape. Every non-success response
// from the gateway carries the same {"error": string} body.
func Error(c *gin.Context, httpStatus int, msg string) {
	c.JSON(httpStatus, gin.H{"error": msg})
}

package middleware

import (
	"fmt"
	"net/http"
	"runtime/debug"

	"github.com/gin-gonic/gin"
	"github.com/proptax/calculator/api/internal/logger"
)

// Recovery creates a middleware that recovers from panics and logs them.
// It returns a 500 INTERNAL_ERROR envelope instead of crashing; the panic
// value is only echoed outside production.
func Recovery(log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if err := recover(); err != nil {
				stack := debug.Stack()
				requestID := GetRequestID(c)

				requestLogger := GetLogger(c)
				if requestLogger == nil {
					requestLogger = log
				}

				requestLogger.Error(
					"Panic recovered",
					fmt.Errorf("panic: %v", err),
					map[string]interface{}{
						"request_id": requestID,
						"method":     c.Request.Method,
						"path":       c.Request.URL.Path,
						"stack":      string(stack),
					},
				)

				errBody := gin.H{
					"code":    "INTERNAL_ERROR",
					"message": "An unexpected error occurred",
				}
				if !IsProduction(c) {
					errBody["details"] = gin.H{"error": fmt.Sprint(err)}
				}

				metadata := gin.H{
					"requestId": requestID,
					"latencyMs": Latency(c).Milliseconds(),
				}
				if address := GetAddress(c); address != "" {
					metadata["address"] = address
				}

				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
					"success":  false,
					"error":    errBody,
					"metadata": metadata,
				})
			}
		}()

		c.Next()
	}
}

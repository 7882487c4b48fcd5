package middleware

import (
	"time"

	"github.com/gin-gonic/gin"
)

const (
	// LoggerKey is the context key for the request-scoped logger
	LoggerKey = "logger"
	// EnvironmentKey is the context key for the deployment environment
	EnvironmentKey = "environment"
	// StartTimeKey is the context key for the time the request was received
	StartTimeKey = "start_time"
	// AddressKey is the context key for the address a request is about
	AddressKey = "address"
)

// RequestContext records the request start time and the deployment
// environment for latency reporting and error rendering.
func RequestContext(env string) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set(StartTimeKey, time.Now())
		c.Set(EnvironmentKey, env)
		c.Next()
	}
}

// Latency returns the time since RequestContext saw the request, or zero
// when it did not run.
func Latency(c *gin.Context) time.Duration {
	if v, exists := c.Get(StartTimeKey); exists {
		if start, ok := v.(time.Time); ok {
			return time.Since(start)
		}
	}
	return 0
}

// IsProduction reports whether the request is served in production.
func IsProduction(c *gin.Context) bool {
	return c.GetString(EnvironmentKey) == "production"
}

// SetAddress records the validated address so error responses and request
// logs can echo it.
func SetAddress(c *gin.Context, address string) {
	c.Set(AddressKey, address)
}

// GetAddress returns the address recorded by SetAddress, or "".
func GetAddress(c *gin.Context) string {
	return c.GetString(AddressKey)
}

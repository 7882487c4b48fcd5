package middleware

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/proptax/calculator/api/internal/config"
)

// CORS creates a middleware that handles Cross-Origin Resource Sharing (CORS).
// A "*" origin opens the API to any caller; credentials are only allowed for
// an explicit origin list.
func CORS(cfg config.CORSConfig) gin.HandlerFunc {
	corsConfig := cors.Config{
		AllowMethods:  []string{http.MethodPost, http.MethodOptions, http.MethodGet},
		AllowHeaders:  []string{"Origin", "Content-Type", "Accept", "Authorization", RequestIDHeader},
		ExposeHeaders: []string{RequestIDHeader},
		MaxAge:        24 * time.Hour,
	}

	if cfg.AllowsAllOrigins() {
		corsConfig.AllowAllOrigins = true
	} else {
		corsConfig.AllowOrigins = cfg.Origins
		corsConfig.AllowCredentials = true
	}

	return cors.New(corsConfig)
}

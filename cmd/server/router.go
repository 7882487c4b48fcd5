package main

import (
	"fmt"

	"github.com/gin-gonic/gin"
	"github.com/proptax/calculator/api/internal/config"
	apierrors "github.com/proptax/calculator/api/internal/errors"
	"github.com/proptax/calculator/api/internal/handlers"
	"github.com/proptax/calculator/api/internal/logger"
	"github.com/proptax/calculator/api/internal/metrics"
	"github.com/proptax/calculator/api/internal/middleware"
)

// routerDeps are the collaborators the HTTP layer is built from.
type routerDeps struct {
	cfg       *config.Config
	log       *logger.Logger
	metrics   *metrics.Metrics
	calculate *handlers.CalculateHandler
	health    *handlers.HealthHandler
}

// newRouter builds the gin engine with middleware and every route.
func newRouter(deps routerDeps) *gin.Engine {
	router := gin.New()
	router.HandleMethodNotAllowed = true

	// Add middleware in order: RequestID -> RequestContext -> Logger -> Recovery -> Metrics -> CORS
	router.Use(middleware.RequestID())
	router.Use(middleware.RequestContext(deps.cfg.Server.Env))
	router.Use(middleware.Logger(deps.log))
	router.Use(middleware.Recovery(deps.log))
	router.Use(middleware.Metrics(deps.metrics))
	router.Use(middleware.CORS(deps.cfg.CORS))

	router.NoRoute(func(c *gin.Context) {
		apierrors.NotFound(c, fmt.Sprintf("Endpoint '%s' not found", c.Request.URL.Path))
	})
	router.NoMethod(func(c *gin.Context) {
		apierrors.MethodNotAllowed(c, fmt.Sprintf("Method %s is not allowed on '%s'", c.Request.Method, c.Request.URL.Path))
	})

	// Calculation endpoints; "/" is kept as an alias of /calculate
	router.POST("/", deps.calculate.Calculate)
	router.POST("/calculate", deps.calculate.Calculate)
	router.POST("/scrape", deps.calculate.Scrape)
	router.POST("/scrape-property", deps.calculate.Scrape)

	// Health and diagnostics
	router.GET("/health", deps.health.Health)
	router.GET("/health/ready", deps.health.Ready)
	router.GET("/metrics", gin.WrapH(deps.metrics.Handler()))

	v1 := router.Group("/api/v1")
	{
		v1.GET("/info", deps.health.Info)
		v1.GET("/properties/history", deps.calculate.History)
	}

	return router
}

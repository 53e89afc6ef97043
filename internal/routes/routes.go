// internal/routes/routes.go
package routes

import (
	"net/http"

	"github.com/gin-gonic/gin"
	swaggerfiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	"node-service/internal/config"
	"node-service/internal/handler"
	"node-service/internal/middleware"
	"node-service/internal/utils"
)

// Router holds all dependencies for routing
type Router struct {
	config           *config.Config
	logger           *zap.Logger
	healthHandler    *handler.HealthHandler
	discoveryHandler *handler.DiscoveryHandler
	wsHandler        *handler.WebSocketHandler
	metricsHandler   http.Handler
}

// NewRouter creates a new router instance. metricsHandler may be nil when
// metrics are disabled.
func NewRouter(
	config *config.Config,
	logger *zap.Logger,
	healthHandler *handler.HealthHandler,
	discoveryHandler *handler.DiscoveryHandler,
	wsHandler *handler.WebSocketHandler,
	metricsHandler http.Handler,
) *Router {
	return &Router{
		config:           config,
		logger:           logger,
		healthHandler:    healthHandler,
		discoveryHandler: discoveryHandler,
		wsHandler:        wsHandler,
		metricsHandler:   metricsHandler,
	}
}

// SetupRouter creates and configures the Gin router
func (r *Router) SetupRouter() *gin.Engine {
	if r.config.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	r.addMiddleware(router)
	r.addRoutes(router)

	return router
}

// addMiddleware adds middleware to the router
func (r *Router) addMiddleware(router *gin.Engine) {
	router.Use(middleware.RecoveryMiddleware(r.logger))
	router.Use(middleware.RequestIDMiddleware())

	serviceLogger := utils.NewServiceLogger(r.logger, "http-server")
	router.Use(middleware.LoggingMiddleware(serviceLogger))

	router.Use(middleware.CORSMiddleware(&r.config.Security))

	r.logger.Debug("Middleware configured")
}

// addRoutes sets up all application routes
func (r *Router) addRoutes(router *gin.Engine) {
	r.healthHandler.RegisterRoutes(router)

	apiV1 := router.Group("/api/v1")
	r.discoveryHandler.RegisterRoutes(apiV1)

	if r.wsHandler != nil {
		r.wsHandler.RegisterRoutes(router.Group("/ws"))
	}

	if r.metricsHandler != nil && r.config.Metrics.Enabled {
		router.GET(r.config.Metrics.Path, gin.WrapH(r.metricsHandler))
	}

	r.addDocumentationRoutes(router)

	r.logger.Debug("All routes configured successfully")
}

// addDocumentationRoutes sets up documentation routes
func (r *Router) addDocumentationRoutes(router *gin.Engine) {
	router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerfiles.Handler))

	router.GET("/docs", func(c *gin.Context) {
		c.Redirect(http.StatusMovedPermanently, "/swagger/index.html")
	})
}

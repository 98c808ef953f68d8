package routes

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"trading_scheduler/controllers"
	"trading_scheduler/middleware"
)

// Deps are the components the HTTP surface is built from
type Deps struct {
	Scheduler controllers.JobScheduler
	Quotes    controllers.QuoteCache
	Batches   http.Handler // websocket stream of batch results
	Gatherer  prometheus.Gatherer
	Limiter   *middleware.RateLimiter
	JWTSecret string
	Logger    *zap.Logger
}

// SetupRoutes sets up all API routes
func SetupRoutes(router *gin.Engine, deps Deps) {
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":    "ok",
			"timestamp": time.Now().Format(time.RFC3339),
		})
	})

	if deps.Gatherer != nil {
		router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{})))
	}

	schedulerController := controllers.NewSchedulerController(deps.Scheduler, deps.Logger)
	marketController := controllers.NewMarketController(deps.Quotes)

	// API v1 group
	api := router.Group("/api/v1")
	if deps.Limiter != nil {
		api.Use(deps.Limiter.Middleware())
	}
	{
		// Scheduler routes
		sched := api.Group("/scheduler")
		{
			sched.GET("/status", schedulerController.GetStatus)
			sched.GET("/jobs", schedulerController.ListJobs)
			sched.POST("/jobs/:id/trigger", middleware.JWTAuthMiddleware(deps.JWTSecret), schedulerController.TriggerJob)
		}

		// Market routes
		market := api.Group("/market")
		{
			market.GET("/status", marketController.GetStatus)
			market.GET("/quotes/:symbol", marketController.GetQuote)
		}

		if deps.Batches != nil {
			api.GET("/ws/batches", gin.WrapH(deps.Batches))
		}
	}
}

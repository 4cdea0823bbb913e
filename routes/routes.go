package routes

import (
	"time"

	"marketsync/controllers"
	"marketsync/middleware"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Deps are the collaborators served over HTTP
type Deps struct {
	Store     controllers.Pinger
	Status    controllers.StatusReader
	Scheduler controllers.Scheduler
	Gatherer  prometheus.Gatherer
	Logger    *zap.Logger
}

// NewRouter creates a gin engine with middlewares and all routes
func NewRouter(deps Deps) *gin.Engine {
	log := deps.Logger
	if log == nil {
		log = zap.NewNop()
	}

	router := gin.New()
	router.Use(middleware.Recovery(log))
	router.Use(middleware.RequestLogger(log))

	SetupRoutes(router, deps)
	return router
}

// SetupRoutes sets up all API routes
func SetupRoutes(router *gin.Engine, deps Deps) {
	statusController := controllers.NewStatusController(deps.Store, deps.Status, deps.Scheduler)
	taskController := controllers.NewTaskController(deps.Scheduler)

	// Probes
	router.GET("/health", statusController.Health)
	router.GET("/ready", statusController.Ready)

	gatherer := deps.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))

	// API v1 group
	api := router.Group("/api/v1")
	{
		api.GET("/sync/status", statusController.GetSyncStatus)
		api.GET("/scheduler/next-runs", statusController.GetNextRuns)

		tasks := api.Group("/tasks")
		tasks.Use(middleware.RateLimit(middleware.NewRateLimiter(10*time.Second, 3, 30*time.Minute)))
		{
			tasks.POST("/:name/run", taskController.RunTask)
		}
	}
}

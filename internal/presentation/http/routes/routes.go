// Package routes provides HTTP route configuration for the presentation layer.
package routes

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/AtRiskMedia/treeline-go/internal/application/container"
	"github.com/AtRiskMedia/treeline-go/internal/presentation/http/handlers"
	"github.com/AtRiskMedia/treeline-go/internal/presentation/http/middleware"
)

// SetupRoutes configures all HTTP routes and middleware with dependency injection.
func SetupRoutes(container *container.Container) *gin.Engine {
	r := gin.Default()

	r.Use(middleware.CORSMiddleware())

	// Initialize handlers
	resolveHandlers := handlers.NewResolveHandlers(container.Resolver, container.Logger)
	mutationHandlers := handlers.NewMutationHandlers(container.Mutations, container.Logger)
	snapshotHandlers := handlers.NewSnapshotHandlers(container.Scheduler, container.ScheduleStore, container.RefreshLock, container.Logger)
	healthHandlers := handlers.NewHealthHandlers(container.DB, container.CacheManager, container.ScheduleStore)
	adminHandlers := handlers.NewAdminHandlers(container.Logger)

	api := r.Group("/api/v1")
	{
		// Read path
		hierarchy := api.Group("/hierarchy")
		{
			hierarchy.GET("/resolve", resolveHandlers.GetResolve)
			hierarchy.POST("/mutations", mutationHandlers.PostMutation)
			hierarchy.DELETE("/mutations/batches/:batchId", mutationHandlers.DeleteBatch)
		}

		// Snapshot administration
		snapshots := api.Group("/snapshots")
		{
			snapshots.GET("", snapshotHandlers.GetSnapshots)
			snapshots.POST("/:view/refresh", snapshotHandlers.PostRefresh)
			snapshots.POST("/:view/lock/release", snapshotHandlers.PostLockRelease)
		}

		// Runtime tuning
		admin := api.Group("/admin")
		{
			admin.GET("/logs/levels", adminHandlers.GetLogLevels)
			admin.POST("/logs/levels", adminHandlers.SetLogLevel)
		}

		api.GET("/health", healthHandlers.GetHealth)
	}

	if container.Metrics != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(
			container.Metrics.Registerer(),
			promhttp.HandlerOpts{},
		)))
	}

	return r
}

// Package container provides dependency injection for all singleton services
package container

import (
	"github.com/AtRiskMedia/treeline-go/internal/application/services"
	"github.com/AtRiskMedia/treeline-go/internal/infrastructure/caching/manager"
	"github.com/AtRiskMedia/treeline-go/internal/infrastructure/coordination"
	"github.com/AtRiskMedia/treeline-go/internal/infrastructure/email"
	"github.com/AtRiskMedia/treeline-go/internal/infrastructure/observability/logging"
	"github.com/AtRiskMedia/treeline-go/internal/infrastructure/observability/metrics"
	"github.com/AtRiskMedia/treeline-go/internal/infrastructure/persistence/database"
	persistence "github.com/AtRiskMedia/treeline-go/internal/infrastructure/persistence/hierarchy"
)

// Container holds all singleton services and infrastructure dependencies
type Container struct {
	// Application services (stateless singletons)
	Resolver     *services.HierarchyResolver
	Scheduler    *services.RefreshScheduler
	Mutations    *services.MutationService
	Invalidation *services.InvalidationCoordinator

	// Infrastructure dependencies
	DB             *database.DB
	CacheManager   *manager.Manager
	HierarchyStore *persistence.Store
	ChangeLog      *persistence.ChangeLog
	ScheduleStore  *persistence.ScheduleStore
	RefreshLock    coordination.RefreshLock
	LeakDetector   *coordination.LeakDetector
	EmailService   email.Service
	Logger         *logging.ChanneledLogger
	Metrics        *metrics.Registry
}

// Deps carries the infrastructure singletons built during startup.
type Deps struct {
	DB             *database.DB
	CacheManager   *manager.Manager
	HierarchyStore *persistence.Store
	ChangeLog      *persistence.ChangeLog
	ScheduleStore  *persistence.ScheduleStore
	RefreshLock    coordination.RefreshLock
	LeakDetector   *coordination.LeakDetector
	EmailService   email.Service
	Logger         *logging.ChanneledLogger
	Metrics        *metrics.Registry
}

// NewContainer creates and wires all singleton services
func NewContainer(deps Deps) *Container {
	invalidation := services.NewInvalidationCoordinator(deps.CacheManager, deps.Logger)
	scheduler := services.NewRefreshScheduler(
		deps.HierarchyStore,
		deps.ChangeLog,
		deps.ScheduleStore,
		deps.RefreshLock,
		invalidation,
		deps.EmailService,
		deps.Logger,
		deps.Metrics,
	)

	return &Container{
		Resolver:     services.NewHierarchyResolver(deps.CacheManager, deps.HierarchyStore, deps.Logger, deps.Metrics),
		Scheduler:    scheduler,
		Mutations:    services.NewMutationService(deps.HierarchyStore, deps.ChangeLog, scheduler, deps.Logger),
		Invalidation: invalidation,

		DB:             deps.DB,
		CacheManager:   deps.CacheManager,
		HierarchyStore: deps.HierarchyStore,
		ChangeLog:      deps.ChangeLog,
		ScheduleStore:  deps.ScheduleStore,
		RefreshLock:    deps.RefreshLock,
		LeakDetector:   deps.LeakDetector,
		EmailService:   deps.EmailService,
		Logger:         deps.Logger,
		Metrics:        deps.Metrics,
	}
}

package routes

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gorm.io/gorm"

	"github.com/Wikid82/keyroom/internal/api/handlers"
	"github.com/Wikid82/keyroom/internal/api/middleware"
	"github.com/Wikid82/keyroom/internal/config"
	"github.com/Wikid82/keyroom/internal/services"
)

// Services groups the long-lived services shared by the routes and the
// background scheduler.
type Services struct {
	Store     *services.Store
	Ledger    *services.LedgerService
	Directory *services.DirectoryService
	Custody   *services.CustodyService
	Identity  *services.IdentityService
	Auth      *services.AuthService
}

// NewServices builds the service graph over one database. notifier may be nil.
func NewServices(db *gorm.DB, cfg config.Config, notifier services.Notifier) Services {
	store := services.NewStore(db)
	ledger := services.NewLedgerService(store)
	directory := services.NewDirectoryService(store, ledger)
	return Services{
		Store:     store,
		Ledger:    ledger,
		Directory: directory,
		Custody:   services.NewCustodyService(store, ledger, notifier),
		Identity:  services.NewIdentityService(directory),
		Auth:      services.NewAuthService(db, cfg),
	}
}

// Register wires up the API routes. Reads need a session; directory and custody
// mutations additionally need the administrator role.
func Register(router *gin.Engine, svc Services, cfg config.Config, gatherer prometheus.Gatherer) {
	router.GET("/health", handlers.HealthHandler)
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))

	api := router.Group("/api/v1")
	api.GET("/health", handlers.HealthHandler)

	authHandler := handlers.NewAuthHandler(svc.Auth, cfg.SessionSeconds(), cfg.Environment != "development")
	employeeHandler := handlers.NewEmployeeHandler(svc.Directory)
	keyHandler := handlers.NewKeyHandler(svc.Directory, svc.Custody)
	custodyHandler := handlers.NewCustodyHandler(svc.Custody, svc.Identity)

	api.POST("/auth/login", authHandler.Login)

	protected := api.Group("/")
	protected.Use(middleware.AuthMiddleware(svc.Auth))
	{
		protected.POST("/auth/logout", authHandler.Logout)
		protected.GET("/auth/me", authHandler.Me)

		protected.POST("/scan", custodyHandler.Scan)
		protected.GET("/custody/issued", custodyHandler.Issued)
		protected.GET("/custody/history", custodyHandler.History)

		protected.GET("/employees", employeeHandler.List)
		protected.GET("/employees/:uuid", employeeHandler.Get)
		protected.GET("/keys", keyHandler.List)
		protected.GET("/keys/:uuid", keyHandler.Get)
	}

	admin := protected.Group("/")
	admin.Use(middleware.RequireAdmin())
	{
		admin.POST("/employees", employeeHandler.Create)
		admin.PUT("/employees/:uuid", employeeHandler.Update)
		admin.DELETE("/employees/:uuid", employeeHandler.Delete)

		admin.POST("/keys", keyHandler.Create)
		admin.PUT("/keys/:uuid", keyHandler.Update)
		admin.DELETE("/keys/:uuid", keyHandler.Delete)
		admin.POST("/keys/:uuid/take", keyHandler.Take)
		admin.POST("/keys/:uuid/return", keyHandler.Return)
	}
}

package router // package router defines how HTTP routes are registered for the API

import (
	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/iliyamo/table-reservation/internal/config"
	"github.com/iliyamo/table-reservation/internal/handler"
	"github.com/iliyamo/table-reservation/internal/middleware"
	"github.com/iliyamo/table-reservation/internal/utils"
)

// Deps carries everything the routes need.  Redis may be nil; the cache is
// then skipped and the rate limiter runs in process.
type Deps struct {
	Health       *handler.HealthHandler
	Reservations *handler.ReservationHandler
	Admin        *handler.AdminHandler
	Auth         *handler.AuthHandler
	JWTSecret    string
	RateLimit    config.RateLimitConfig
	Cache        config.CacheConfig
	Redis        *redis.Client
	Log          *zap.Logger
}

// RegisterRoutes mounts every endpoint on e.
func RegisterRoutes(e *echo.Echo, d Deps) {
	e.GET("/healthz", d.Health.Health)

	RegisterPublic(e, d)

	e.POST("/v1/auth/login", d.Auth.Login, middleware.NewTokenBucket(d.RateLimit, d.Redis, d.Log))

	RegisterAdmin(e, d.Admin, d.JWTSecret)
}

// RegisterPublic registers the unauthenticated booking endpoints.  Only the
// calendar is cached; reservation writes are rate limited.
func RegisterPublic(e *echo.Echo, d Deps) {
	h := d.Reservations
	v1 := e.Group("/v1")
	v1.GET("/calendar", h.Calendar, middleware.NewRedisCache(d.Cache, d.Redis))
	v1.GET("/availability", h.Availability)
	v1.POST("/reservations", h.Create, middleware.NewTokenBucket(d.RateLimit, d.Redis, d.Log))
	v1.GET("/reservations/:id", h.Get)
	v1.DELETE("/reservations/:id", h.Cancel)
}

// RegisterAdmin registers the review endpoints behind JWT and role checks.
func RegisterAdmin(e *echo.Echo, a *handler.AdminHandler, jwtSecret string) {
	g := e.Group("/v1/admin")
	g.Use(middleware.JWTAuth(jwtSecret))
	g.Use(middleware.RequireRole(utils.RoleAdmin))
	g.GET("/reservations", a.List)
	g.DELETE("/reservations/:id", a.Cancel)
	g.POST("/reconcile", a.Reconcile)
}

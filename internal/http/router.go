package http

import (
	"context"
	"time"

	"github.com/axone/ax-server/internal/auth"
	"github.com/axone/ax-server/internal/cache"
	"github.com/axone/ax-server/internal/config"
	"github.com/axone/ax-server/internal/dendrites"
	"github.com/axone/ax-server/internal/http/handlers"
	"github.com/axone/ax-server/internal/http/middlewares"
	"github.com/axone/ax-server/internal/observability"
	"github.com/axone/ax-server/internal/repo/postgres"
	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
)

type RouterDeps struct {
	Pool    *pgxpool.Pool
	Cfg     config.Config
	Prom    *observability.Prom
	PromReg *prometheus.Registry
	Catalog cache.Store
	Tracing bool
}

func NewRouter(deps RouterDeps) *gin.Engine {
	if deps.Cfg.Env != "dev" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()

	// middleware

	r.Use(gin.Recovery())
	r.Use(middlewares.RequestID())
	r.Use(middlewares.SecurityHeaders())
	r.Use(middlewares.CORSMiddleware(deps.Cfg.CORSOrigins))
	r.Use(middlewares.MaxBodyBytes(1 << 20))
	r.Use(middlewares.RequestLogger())

	if deps.Tracing {
		r.Use(otelgin.Middleware("ax-server"))
	}

	if deps.Prom != nil {
		r.Use(deps.Prom.GinHandleMiddleware())
	}

	// health
	ping := func() error {
		if deps.Pool == nil {
			return nil
		}

		ctx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
		defer cancel()

		return deps.Pool.Ping(ctx)
	}

	h := handlers.NewHealthHandler(ping)
	r.GET("/healthz", h.Healthz)
	r.GET("/readyz", h.Readyz)

	if deps.PromReg != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(deps.PromReg, promhttp.HandlerOpts{})))
	}

	// wire up repositories
	usersRepo := postgres.NewUsersRepo(deps.Pool, deps.Prom)
	cellsRepo := postgres.NewCellsRepo(deps.Pool, deps.Prom)
	neuronsRepo := postgres.NewNeuronsRepo(deps.Pool, deps.Prom)
	dendritesRepo := postgres.NewDendritesRepo(deps.Pool, deps.Prom)

	builder := dendrites.NewBuilder(dendritesRepo, deps.Prom)

	jwtManager := auth.NewManager(deps.Cfg.JWTSecret, deps.Cfg.TokenTTL)
	authMw := middlewares.NewAuthMiddleware(jwtManager)

	limiter := middlewares.NewRateLimiter(deps.Cfg.RateLimit, deps.Cfg.RateWindow)

	// handlers
	accountHandler := handlers.NewAccountHandler(usersRepo, jwtManager)
	itemsHandler := handlers.NewItemsHandler(cellsRepo, neuronsRepo, builder, deps.Catalog)
	neuronsHandler := handlers.NewNeuronsHandler(neuronsRepo, deps.Catalog)

	r.Use(middlewares.RequireJSON())

	account := r.Group("/account")
	{
		account.POST("/signup", limiter.RateLimiterMiddleware(middlewares.KeyByIP), accountHandler.SignUp)
		account.POST("/login", limiter.RateLimiterMiddleware(middlewares.KeyByIP), accountHandler.Login)
		account.GET("", authMw.RequireAuth(), accountHandler.Get)
		account.PUT("", authMw.RequireAuth(), accountHandler.Update)
	}

	items := r.Group("/items", authMw.RequireAuth())
	{
		items.POST("", limiter.RateLimiterMiddleware(middlewares.KeyByUserOrIP), itemsHandler.Create)
		items.GET("", itemsHandler.List)
		items.GET("/list", itemsHandler.Catalog)
	}

	neurons := r.Group("/neurons", authMw.RequireAuth())
	{
		neurons.GET("", neuronsHandler.List)
		neurons.GET("/count", neuronsHandler.Count)
		neurons.POST("", limiter.RateLimiterMiddleware(middlewares.KeyByUserOrIP), neuronsHandler.Create)
		neurons.GET("/:id", neuronsHandler.Get)
		neurons.PUT("/:id", limiter.RateLimiterMiddleware(middlewares.KeyByUserOrIP), neuronsHandler.Update)
		neurons.DELETE("/:id", limiter.RateLimiterMiddleware(middlewares.KeyByUserOrIP), neuronsHandler.Delete)
	}

	return r
}

package router

import (
	"net/http"

	authsvc "cryptofolio-backend/internal/application/auth"
	healthsvc "cryptofolio-backend/internal/application/health"
	"cryptofolio-backend/internal/application/portfolio"
	"cryptofolio-backend/internal/application/valuation"
	"cryptofolio-backend/internal/config"
	"cryptofolio-backend/internal/infrastructure/prices"
	assethandler "cryptofolio-backend/internal/interfaces/handlers/assets"
	authhandler "cryptofolio-backend/internal/interfaces/handlers/auth"
	healthhandler "cryptofolio-backend/internal/interfaces/handlers/health"
	markethandler "cryptofolio-backend/internal/interfaces/handlers/market"
	portfoliohandler "cryptofolio-backend/internal/interfaces/handlers/portfolios"
	txhandler "cryptofolio-backend/internal/interfaces/handlers/transactions"
	"cryptofolio-backend/internal/ledger"
	"cryptofolio-backend/internal/middleware"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

// Deps are the services the HTTP API is built on. Users may be nil, in which case
// the auth routes answer 500.
type Deps struct {
	Users     *gorm.DB
	Rdb       *redis.Client
	Store     *ledger.Store
	Portfolio *portfolio.Service
	Valuation *valuation.Service
	Prices    *prices.Cache
	Health    healthsvc.Dependencies
}

// CreateApp builds the Fiber app with all global middleware and route registration.
func CreateApp(cfg *config.Config, deps Deps) *fiber.App {
	rdb := deps.Rdb
	app := fiber.New(fiber.Config{
		DisableStartupMessage:   true,
		ErrorHandler:            middleware.NewErrorHandler(rdb),
		EnableTrustedProxyCheck: true,
	})

	app.Use(middleware.CORS(middleware.CORSConfig{
		AllowedSuffix: cfg.FrontendURLEndsWith,
		DevPassword:   cfg.DevPassword,
	}))
	app.Use(middleware.Session(rdb))
	app.Use(middleware.HealthMarker(rdb))
	app.Use(middleware.ResponseFormatter())
	app.Use(middleware.Tracing())
	app.Use(middleware.RouteLogger())

	hh := &healthhandler.Handlers{
		Rdb:            rdb,
		Deps:           deps.Health,
		HealthAdminKey: cfg.HealthAdminKey,
	}
	app.Get("/", hh.Dashboard)
	app.Get("/reset", hh.Reset)
	app.Get("/health/json", hh.JSON)
	app.Get("/health/errors", hh.Errors)

	sessionCfg := middleware.SessionConfig{
		Secret:            cfg.SessionSecret,
		AllowCrossSiteDev: cfg.AllowCrossSiteDev,
		IsProduction:      cfg.IsProduction(),
	}

	ah := &authhandler.Handlers{Rdb: rdb, Config: sessionCfg}
	if deps.Users != nil {
		users := &authsvc.Service{DB: deps.Users}
		ah.UserFinder = users
		ah.Registrar = users
	}
	authGroup := app.Group("/api/v1/auth")
	authGroup.Post("/register", ah.Register)
	authGroup.Post("/login", ah.Login)
	authGroup.Get("/me", ah.Me)
	authGroup.Delete("/logout", middleware.RequireAuth(), ah.Logout)

	api := app.Group("/api/v1")

	ph := &portfoliohandler.Handlers{Store: deps.Store, Service: deps.Portfolio, Session: sessionCfg}
	api.Get("/portfolios", ph.List)
	api.Post("/portfolios", ph.Create)
	api.Post("/portfolios/connect-wallet", ph.ConnectWallet)
	api.Get("/portfolios/active", ph.Active)
	api.Get("/portfolios/:id", ph.Get)
	api.Patch("/portfolios/:id", ph.Update)
	api.Delete("/portfolios/:id", ph.Delete)
	api.Post("/portfolios/:id/activate", ph.Activate)
	api.Get("/portfolios/:id/assets", ph.Assets)
	api.Get("/portfolios/:id/overview", ph.Overview)
	api.Get("/portfolios/:id/transactions", ph.Transactions)
	api.Get("/portfolios/:id/chart", ph.Chart)
	api.Get("/summary", ph.Summary)
	api.Get("/summary/chart", ph.SummaryChart)

	assh := &assethandler.Handlers{Store: deps.Store, Service: deps.Portfolio}
	api.Post("/assets", assh.Create)
	api.Patch("/assets/:id", assh.Update)
	api.Delete("/assets/:id", assh.Delete)
	api.Post("/assets/:id/transfer", assh.Transfer)

	txh := &txhandler.Handlers{Store: deps.Store}
	api.Post("/transactions", txh.Create)
	api.Get("/transactions", txh.List)
	api.Get("/transactions/:id", txh.Get)
	api.Patch("/transactions/:id", txh.Update)
	api.Delete("/transactions/:id", txh.Delete)

	mh := &markethandler.Handlers{Cache: deps.Prices, Valuation: deps.Valuation}
	api.Get("/market/prices", mh.Prices)
	api.Get("/market/quotes", mh.Quotes)

	return app
}

// Handler adapts the Fiber app to net/http, for embedding or tests.
func Handler(app *fiber.App) http.Handler {
	return adaptor.FiberApp(app)
}

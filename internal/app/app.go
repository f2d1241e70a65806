// Package app wires configuration, storage, upstream clients and background tasks
// into a runnable server.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"cryptofolio-backend/internal/application/health"
	"cryptofolio-backend/internal/application/portfolio"
	"cryptofolio-backend/internal/application/valuation"
	"cryptofolio-backend/internal/config"
	"cryptofolio-backend/internal/domain"
	"cryptofolio-backend/internal/infrastructure/database"
	"cryptofolio-backend/internal/infrastructure/ethereum"
	"cryptofolio-backend/internal/infrastructure/history"
	"cryptofolio-backend/internal/infrastructure/prices"
	"cryptofolio-backend/internal/interfaces/router"
	"cryptofolio-backend/internal/ledger"
	"cryptofolio-backend/internal/ledger/memory"
	"cryptofolio-backend/internal/ledger/sqlstore"
	"cryptofolio-backend/internal/realtime"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
)

const shutdownTimeout = 10 * time.Second

// App is the assembled server: the HTTP API, the websocket hub and the price refresher.
type App struct {
	cfg       *config.Config
	HTTP      *fiber.App
	Hub       *realtime.Hub
	Refresher *prices.Refresher
	Store     *ledger.Store
	Rdb       *redis.Client
	closers   []func() error
}

// New builds every component named by cfg. Nothing is started until Run.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	a := &App{cfg: cfg}

	backend, users, err := openStorage(cfg)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, backend.Close)
	if cfg.StorageDriver == config.DriverMemory {
		if sqlDB, err := users.DB(); err == nil {
			a.closers = append(a.closers, sqlDB.Close)
		}
	}
	a.Store = ledger.NewStore(backend)

	opt, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("redis url: %w", err)
	}
	a.Rdb = redis.NewClient(opt)
	a.closers = append(a.closers, a.Rdb.Close)
	if err := a.Rdb.Ping(ctx).Err(); err != nil {
		a.Close()
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}

	geckoOpts := []prices.Option{prices.WithTimeout(cfg.UpstreamTimeout)}
	if cfg.PriceAPIKey != "" {
		geckoOpts = append(geckoOpts, prices.WithAPIKey(cfg.PriceAPIKey))
	}
	gecko := prices.NewCoinGecko(cfg.PriceAPIURL, geckoOpts...)
	cache := prices.NewCache(a.Rdb)
	if warmed, err := cache.Warm(ctx); err != nil {
		log.Warn().Err(err).Msg("could not warm price cache from redis")
	} else if warmed {
		log.Info().Int("quotes", len(cache.Load().Quotes)).Msg("price cache warmed from redis")
	}
	val := valuation.NewService(prices.NewCachedSource(cache, gecko, 2*cfg.PriceRefreshInterval), cfg.PriceBatchSize)
	upstream := valuation.NewService(gecko, cfg.PriceBatchSize)

	chain := ethereum.NewClient(cfg.EthRPCURL, ethereum.WithTimeout(cfg.UpstreamTimeout))
	svc := portfolio.NewService(a.Store, val, chain, history.New(a.Rdb), portfolio.KeyFuncs{
		Portfolio: history.PortfolioKey,
		Summary:   history.SummaryKey,
	})

	hubCfg := realtime.DefaultHubConfig()
	hubCfg.AllowedOriginSuffix = cfg.FrontendURLEndsWith
	a.Hub = realtime.NewHub(&hubCfg, func() any {
		return prices.PriceUpdate{Type: prices.MessagePriceUpdate, Data: cache.Load().List()}
	})

	a.Refresher = prices.NewRefresher(prices.RefresherConfig{
		Cache: cache,
		Fetch: func(ctx context.Context, ids []string) (map[string]domain.Quote, error) {
			return upstream.Quotes(ctx, ids), nil
		},
		Tracked:    a.Store.PriceIDs,
		DefaultIDs: cfg.TrackedPriceIDs,
		Interval:   cfg.PriceRefreshInterval,
		Publisher:  a.Hub,
		Hooks: []prices.Hook{func(ctx context.Context, snap *prices.Snapshot) {
			if err := svc.RecordValues(ctx, snap.Quotes, snap.UpdatedAt); err != nil {
				log.Warn().Err(err).Msg("could not record portfolio values")
			}
		}},
	})

	a.HTTP = router.CreateApp(cfg, router.Deps{
		Users:     users,
		Rdb:       a.Rdb,
		Store:     a.Store,
		Portfolio: svc,
		Valuation: val,
		Prices:    cache,
		Health: health.Dependencies{
			Database: a.Store,
			Prices:   gecko,
			Chain:    chain,
		},
	})
	return a, nil
}

// openStorage returns the ledger backend and the database holding user accounts.
// The memory ledger keeps users in an in-memory SQLite database.
func openStorage(cfg *config.Config) (ledger.Backend, *gorm.DB, error) {
	if cfg.StorageDriver == config.DriverMemory {
		users, err := database.OpenSQLite("")
		if err != nil {
			return nil, nil, fmt.Errorf("open user database: %w", err)
		}
		if err := users.AutoMigrate(&domain.User{}); err != nil {
			return nil, nil, fmt.Errorf("migrate users: %w", err)
		}
		log.Info().Msg("ledger storage: memory")
		return memory.New(), users, nil
	}

	dsn := cfg.DatabaseURL
	if cfg.StorageDriver == config.DriverSQLite {
		dsn = cfg.SQLitePath
	}
	db, err := database.OpenDriver(cfg.StorageDriver, dsn)
	if err != nil {
		return nil, nil, fmt.Errorf("open %s database: %w", cfg.StorageDriver, err)
	}
	if err := database.AutoMigrate(db); err != nil {
		return nil, nil, fmt.Errorf("migrate: %w", err)
	}
	log.Info().Str("driver", cfg.StorageDriver).Msg("ledger storage: database")
	return sqlstore.New(db), db, nil
}

// Run serves HTTP and websockets and refreshes prices until ctx is done, then shuts
// everything down.
func (a *App) Run(ctx context.Context) error {
	ws := &http.Server{
		Addr:              ":" + a.cfg.WSPort,
		Handler:           a.Hub,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a.Refresher.Run(gctx)
		return nil
	})
	g.Go(func() error {
		log.Info().Str("port", a.cfg.Port).Msg("http server listening")
		return a.HTTP.Listen(":" + a.cfg.Port)
	})
	g.Go(func() error {
		log.Info().Str("port", a.cfg.WSPort).Msg("websocket server listening")
		if err := ws.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("shutting down")
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		a.Hub.CloseAll()
		wsErr := ws.Shutdown(sctx)
		httpErr := a.HTTP.ShutdownWithContext(sctx)
		return errors.Join(wsErr, httpErr)
	})

	err := g.Wait()
	if ctx.Err() != nil && errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// Close releases storage and Redis connections.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i]())
	}
	a.closers = nil
	return errors.Join(errs...)
}

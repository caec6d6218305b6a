package routes

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/xrfq/chain_ledger/internal/config"
	"github.com/xrfq/chain_ledger/internal/currency"
	"github.com/xrfq/chain_ledger/internal/ledger"
	"github.com/xrfq/chain_ledger/internal/middleware"
	"github.com/xrfq/chain_ledger/internal/notification"
)

// Deps aggregates shared dependencies required to wire routes.
type Deps struct {
	Cfg    config.Config
	DB     *pgxpool.Pool
	Cache  *redis.Client
	Blocks ledger.BlockWriter
	Logger *slog.Logger
}

// Setup configures middlewares and all application routes.
func Setup(app *fiber.App, d Deps) error {
	if !d.Cfg.IsDev() {
		if d.DB == nil {
			return fmt.Errorf("database is required when APP_ENV=%s", d.Cfg.AppEnv)
		}
		if d.Cache == nil {
			return fmt.Errorf("redis is required when APP_ENV=%s", d.Cfg.AppEnv)
		}
	}
	if d.Blocks == nil {
		return fmt.Errorf("block store is required")
	}

	app.Use(recover.New())
	app.Use(middleware.RequestID())
	app.Use(middleware.Caller())
	app.Use(middleware.Audit(d.Logger))
	if d.Cache != nil {
		app.Use(middleware.Idempotency(d.Cache, d.Cfg.IdempotencyTTL, d.Logger))
	}

	RegisterHealthRoutes(app, d)

	var store ledger.Store
	if d.DB != nil {
		store = ledger.NewPostgresStore(d.DB)
	} else {
		d.Logger.Warn("using in-memory relational store")
		store = ledger.NewInMemory()
	}
	var rateCache currency.Cache
	if d.Cache != nil {
		rateCache = currency.NewRedisCache(d.Cache, d.Cfg.RateCacheTTL)
	}
	converter := currency.NewConverter(rateCache, d.Logger)
	svc := ledger.NewService(store, d.Blocks, converter, ledger.Options{
		App:            ledger.AppContext{AppID: d.Cfg.AppID, Region: d.Cfg.Region},
		FeeAccountID:   d.Cfg.FeeAccountID,
		CommissionRate: d.Cfg.CommissionRate,
		Notifier:       notification.NewLoggerNotifier(d.Logger),
	}, d.Logger)
	if d.Cfg.FeeAccountID == "" {
		d.Logger.Warn("FEE_ACCOUNT_ID not set; debits will be rejected")
	}

	api := app.Group("/api/v1")
	api.Get("/ping", func(c *fiber.Ctx) error {
		reqID, _ := c.Locals("X-Request-ID").(string)
		return c.Status(http.StatusOK).JSON(fiber.Map{
			"status":     "ok",
			"request_id": reqID,
			"timestamp":  time.Now().UTC().Format(time.RFC3339Nano),
		})
	})
	RegisterLedgerRoutes(api, ledger.NewHandler(svc, d.Logger), middleware.MovementRateLimit(d.Cache, d.Cfg.RateLimitPerMinute))
	return nil
}

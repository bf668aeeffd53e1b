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

	"github.com/kittybank/kitty/internal/auth"
	"github.com/kittybank/kitty/internal/config"
	"github.com/kittybank/kitty/internal/ledger"
	"github.com/kittybank/kitty/internal/metrics"
	"github.com/kittybank/kitty/internal/middleware"
	"github.com/kittybank/kitty/internal/notification"
	"github.com/kittybank/kitty/internal/redemption"
	"github.com/kittybank/kitty/internal/wallet"
)

// Deps aggregates shared dependencies required to wire routes.
type Deps struct {
	Cfg    config.Config
	DB     *pgxpool.Pool
	Cache  *redis.Client
	Logger *slog.Logger
	// Notifier defaults to logging notifications.
	Notifier notification.Notifier
}

// Setup configures middlewares and all application routes.
func Setup(app *fiber.App, d Deps) error {
	// Enforce DB/Redis presence outside of dev, even though config also checks.
	if !d.Cfg.IsDev() {
		if d.DB == nil {
			return fmt.Errorf("database is required when APP_ENV=%s", d.Cfg.AppEnv)
		}
		if d.Cache == nil {
			return fmt.Errorf("redis is required when APP_ENV=%s", d.Cfg.AppEnv)
		}
	}
	if d.Cfg.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is required")
	}

	app.Use(recover.New())
	app.Use(middleware.RequestID())
	app.Use(metrics.HTTP())
	app.Use(middleware.Audit(d.Logger))

	RegisterHealthRoutes(app, d)
	app.Get("/metrics", metrics.Handler())

	notifier := d.Notifier
	if notifier == nil {
		notifier = notification.NewLoggerNotifier(d.Logger)
	}

	// Stores: Postgres when configured, in-memory otherwise (dev only).
	var (
		balances     ledger.Store
		codeRepo     redemption.Repository
		redeemTx     redemption.TxRunner
		walletRepo   wallet.Repository
		walletTx     wallet.TxRunner
		detailsCache wallet.DetailCache = wallet.NoopCache{}
	)
	if d.DB != nil {
		balances = ledger.NewPostgresLedger(d.DB)
		codeRepo = redemption.NewPostgresRepository(d.DB)
		redeemTx = redemption.NewPostgresTxRunner(d.DB)
		walletRepo = wallet.NewPostgresRepository(d.DB)
		walletTx = wallet.NewPostgresTxRunner(d.DB)
	} else {
		balances = ledger.NewInMemory()
		codeRepo = redemption.NewMemoryRepository()
		redeemTx = redemption.NewMemoryTxRunner(codeRepo, balances)
		walletRepo = wallet.NewMemoryRepository()
		walletTx = wallet.NewMemoryTxRunner(walletRepo, balances)
	}
	if d.Cache != nil {
		detailsCache = wallet.NewRedisDetailCache(d.Cache, d.Cfg.DetailCacheTTL, d.Logger)
	}

	registry := redemption.NewRegistry(codeRepo, redemption.RandomGenerator(d.Cfg.CodeLength), d.Cfg.CodeMaxAttempts, d.Logger)
	engine := redemption.NewEngine(redeemTx, d.Cfg.StorageTimeout, notifier, d.Logger)
	manager := wallet.NewManager(walletTx, detailsCache, notifier, d.Logger, d.Cfg.StorageTimeout)
	queries := wallet.NewQueryService(walletRepo, balances, detailsCache, d.Logger)

	redemptionHandler := redemption.NewHandler(registry, engine)
	walletHandler := wallet.NewHandler(manager, queries)

	api := app.Group("/api/v1")
	api.Get("/ping", func(c *fiber.Ctx) error {
		reqID, _ := c.Locals("X-Request-ID").(string)
		return c.Status(http.StatusOK).JSON(fiber.Map{
			"status":     "ok",
			"request_id": reqID,
			"timestamp":  time.Now().UTC().Format(time.RFC3339Nano),
		})
	})

	protected := api.Group("", middleware.JWTAuth(auth.NewVerifier(d.Cfg.JWTSecret)))

	var idempotent fiber.Handler
	if d.Cache != nil {
		idempotent = middleware.Idempotency(d.Cache, d.Cfg.IdempotencyTTL, d.Logger)
	} else {
		idempotent = requireIdempotencyKey
	}

	RegisterRedemptionRoutes(protected, redemptionHandler, middleware.RedeemRateLimit(d.Cache, d.Cfg.RedeemAttemptsPerMinute))
	RegisterWalletRoutes(protected, walletHandler, idempotent)

	return nil
}

// requireIdempotencyKey keeps the header contract when Redis is absent in
// development; replays are not detected.
func requireIdempotencyKey(c *fiber.Ctx) error {
	if c.Get("Idempotency-Key") == "" {
		return fiber.NewError(http.StatusBadRequest, "missing Idempotency-Key header")
	}
	return c.Next()
}

package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/pocketbase/pocketbase"
	"github.com/pocketbase/pocketbase/apis"
	"github.com/pocketbase/pocketbase/core"
	"github.com/pocketbase/pocketbase/plugins/migratecmd"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"ticket-inventory/config"
	"ticket-inventory/internal/cache"
	"ticket-inventory/internal/handlers"
	"ticket-inventory/internal/notify"
	"ticket-inventory/internal/search"
	"ticket-inventory/internal/store"
	_ "ticket-inventory/migrations"
	"ticket-inventory/monitoring"
	"ticket-inventory/security"
	"ticket-inventory/services"
	"ticket-inventory/utils"
)

func Start() error {
	app := pocketbase.New()

	// Load configuration
	cfg := config.LoadConfig()
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	logger := newLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize Redis
	redisClient, err := utils.NewRedisClient(ctx, cfg.RedisURL, cfg.RedisPassword, cfg.RedisDB)
	if err != nil {
		return err
	}

	// Initialize the system of record
	inventoryStore, err := store.NewMySQLStore(ctx, store.MySQLConfig{
		Host:            cfg.DBHost,
		Port:            cfg.DBPort,
		User:            cfg.DBUser,
		Password:        cfg.DBPassword,
		Database:        cfg.DBName,
		MaxOpenConns:    cfg.DBMaxOpenConns,
		MaxIdleConns:    cfg.DBMaxIdleConns,
		ConnMaxLifetime: cfg.DBConnMaxLifetime,
		LockWaitTimeout: cfg.DBLockWaitTimeout,
	}, logger)
	if err != nil {
		redisClient.Close()
		return err
	}

	// Secondary stores
	ticketCache := cache.New(redisClient)
	searchIndex := search.NewIndex(redisClient, cfg.SearchIndexPrefix)
	indexBreaker := utils.NewCircuitBreaker("search_index", cfg.BreakerFailureThreshold, cfg.BreakerOpenTimeout)
	publisher := notify.New(notify.Config{
		PublishKey:   cfg.PubNubPublishKey,
		SubscribeKey: cfg.PubNubSubscribeKey,
		SecretKey:    cfg.PubNubSecretKey,
		UUID:         "inventory-coordinator",
	}, logger)
	monitor := monitoring.NewMonitor(prometheus.DefaultRegisterer)

	// Initialize services
	propagator := services.NewPropagator(inventoryStore, ticketCache, searchIndex, indexBreaker, publisher, monitor,
		services.PropagatorConfig{
			MaxAttempts: cfg.PropagationMaxAttempts,
			Backoff:     cfg.PropagationBackoff,
			Timeout:     cfg.PropagationTimeout,
		}, logger)
	inventoryService := services.NewInventoryService(inventoryStore, propagator, monitor,
		services.InventoryConfig{
			HoldDuration:     cfg.ReservationHold,
			OperationTimeout: cfg.OperationTimeout,
			SweepBatchSize:   cfg.SweepBatchSize,
		}, logger)
	catalogService := services.NewCatalogService(inventoryStore, ticketCache, searchIndex, indexBreaker, monitor,
		services.CatalogConfig{
			TicketDetailTTL: cfg.TicketDetailTTL,
			SearchTTL:       cfg.SearchCacheTTL,
			ReportTTL:       cfg.ReportCacheTTL,
		}, logger)
	sweeper := services.NewSweeper(inventoryService, propagator, cfg.SweepInterval, cfg.ReconcileInterval, logger)

	// Initialize handlers
	ticketHandler := handlers.NewTicketHandler(catalogService, inventoryService, logger)
	reservationHandler := handlers.NewReservationHandler(inventoryService, logger)
	adminHandler := handlers.NewAdminHandler(inventoryService, catalogService, propagator, logger)
	rateLimiter := security.NewRateLimiter(redisClient, cfg.ReserveRateLimit, time.Minute, logger)

	// Enable migrations
	migratecmd.MustRegister(app, app.RootCmd, migratecmd.Config{
		Automigrate: cfg.IsDevelopment(),
	})

	app.OnServe().BindFunc(func(e *core.ServeEvent) error {
		sweeper.Start(ctx)

		api := e.Router.Group("/api/v1")

		// Ticket endpoints
		api.GET("/tickets/search", ticketHandler.Search)
		api.GET("/tickets/{ticketId}", ticketHandler.GetTicket)
		api.GET("/tickets/{ticketId}/cancellation-penalty", ticketHandler.CancellationPenalty)

		// Reservation endpoints
		reservations := api.Group("/reservations")
		reservations.Bind(apis.RequireAuth())
		reservations.GET("", reservationHandler.List)
		reservations.POST("", reservationHandler.Reserve).
			BindFunc(rateLimiter.AntiBotMiddleware(), rateLimiter.ReserveRateLimit())
		reservations.POST("/{reservationId}/pay", reservationHandler.Pay)
		reservations.POST("/{reservationId}/cancel", reservationHandler.Cancel)

		// Admin endpoints
		admin := api.Group("/admin")
		admin.BindFunc(handlers.RequireAdmin)
		admin.POST("/tickets", adminHandler.CreateTicket)
		admin.GET("/report", adminHandler.Report)
		admin.POST("/sweep", adminHandler.Sweep)
		admin.POST("/reindex", adminHandler.Reindex)
		admin.POST("/reconcile", adminHandler.Reconcile)

		if cfg.EnableMetrics {
			e.Router.GET("/metrics", apis.WrapStdHandler(promhttp.Handler()))
		}

		// Health check
		e.Router.GET("/health", func(e *core.RequestEvent) error {
			ctx := e.Request.Context()
			checks := map[string]string{"redis": "ok", "store": "ok"}
			healthy := true

			if err := utils.RedisHealthCheck(ctx, redisClient); err != nil {
				checks["redis"] = err.Error()
				healthy = false
			}
			if err := inventoryStore.Ping(ctx); err != nil {
				checks["store"] = err.Error()
				healthy = false
			}

			if !healthy {
				return e.JSON(http.StatusServiceUnavailable, map[string]any{
					"status": "unhealthy",
					"checks": checks,
				})
			}
			return e.JSON(http.StatusOK, map[string]any{"status": "healthy", "checks": checks})
		})

		logger.Info("Server routes registered")

		return e.Next()
	})

	app.OnTerminate().BindFunc(func(e *core.TerminateEvent) error {
		logger.Info("Shutdown signal received, cleaning up...")
		cancel()
		sweeper.Stop()
		propagator.Wait()

		if err := inventoryStore.Close(); err != nil {
			logger.Error("failed to close store", "error", err)
		}
		if err := redisClient.Close(); err != nil {
			logger.Error("failed to close redis", "error", err)
		}
		return e.Next()
	})

	// Start server
	app.RootCmd.SetArgs(withDefaultHTTP(os.Args[1:], cfg.Port))
	return app.Start()
}

// withDefaultHTTP binds "serve" to the configured port unless --http is
// given explicitly.
func withDefaultHTTP(args []string, port string) []string {
	if len(args) == 0 || args[0] != "serve" || port == "" {
		return args
	}
	for _, a := range args[1:] {
		if a == "--http" || strings.HasPrefix(a, "--http=") {
			return args
		}
	}
	out := append([]string{}, args...)
	return append(out, "--http=0.0.0.0:"+port)
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}

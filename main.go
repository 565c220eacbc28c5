package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"botstore/cache"
	"botstore/catalog"
	"botstore/config"
	"botstore/customorders"
	"botstore/db"
	"botstore/db/mongodb"
	"botstore/db/sqlite"
	"botstore/fanout"
	"botstore/middleware"
	"botstore/notify"
	"botstore/orders"
	"botstore/ratelim"
	"botstore/rdx"
	"botstore/receipt"
	"botstore/reconcile"
	"botstore/routes"

	"github.com/redis/go-redis/v9"
	"github.com/rs/cors"
)

// openStore picks the backing store named by STORE_DRIVER.
func openStore(ctx context.Context, cfg *config.Config) (db.Store, error) {
	switch cfg.StoreDriver {
	case "sqlite":
		return sqlite.Open(ctx, cfg.SQLitePath)
	case "mongo":
		return mongodb.Connect(ctx, cfg.MongoURI, cfg.MongoDB)
	}
	return nil, fmt.Errorf("unknown store driver %q", cfg.StoreDriver)
}

func newSender(cfg *config.Config, log *slog.Logger) notify.Sender {
	if cfg.SMTPHost == "" {
		log.Warn("SMTP_HOST not set; notifications are logged, not sent")
		return notify.LogSender{Logger: log}
	}
	return &notify.SMTPSender{
		Host:     cfg.SMTPHost,
		Port:     cfg.SMTPPort,
		User:     cfg.SMTPUser,
		Password: cfg.SMTPPassword,
		From:     cfg.MailFrom,
	}
}

func run(ctx context.Context, cfg *config.Config, log *slog.Logger) error {
	store, err := openStore(ctx, cfg)
	if err != nil {
		return fmt.Errorf("open %s store: %w", cfg.StoreDriver, err)
	}
	defer store.Close(context.Background())

	// Redis backs the shared cache tier and cross-instance fan-out. Without
	// it each instance runs on its local tier and its own hub.
	hub := fanout.NewHub(log)
	var (
		remote    cache.Tier
		publisher fanout.Publisher = hub
	)
	rc, err := rdx.Connect(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	if err != nil {
		log.Warn("redis unavailable; running single-instance", "addr", cfg.RedisAddr, "err", err)
	} else {
		defer rc.Close()
		remote = rdx.NewTier(rc)
		bridge := fanout.NewBridge(hub, rc, cfg.NotifyQueueSize, log)
		publisher = bridge
		go runBridge(ctx, bridge, rc, log)
	}

	queue := notify.NewQueue(newSender(cfg, log), cfg.NotifyQueueSize, cfg.NotifyWorkers, cfg.NotifySendTimeout, log)
	defer queue.Close()

	catalogSvc := catalog.NewService(store, catalog.Options{
		TTL:    cfg.CacheTTL,
		Local:  cache.NewLocal(),
		Remote: remote,
		Logger: log,
	})
	orderRepo := orders.NewRepository(store, catalogSvc, orders.Options{
		Publisher: publisher,
		Notifier:  queue,
		Attempts:  cfg.RefCodeAttempts,
		Replans:   cfg.TransitionReplans,
		Tolerance: cfg.AmountTolerance,
		PublicURL: cfg.PublicURL,
		Logger:    log,
	})
	customRepo := customorders.NewRepository(store, customorders.Options{
		Publisher:  publisher,
		Notifier:   queue,
		AdminEmail: cfg.AdminEmail,
		MinBudget:  cfg.MinCustomBudget,
		Attempts:   cfg.RefCodeAttempts,
		Replans:    cfg.TransitionReplans,
		Logger:     log,
	})
	engine := reconcile.NewEngine(orderRepo, customRepo, store, reconcile.Options{
		Tolerance:     cfg.AmountTolerance,
		RetryAttempts: cfg.StoreRetryAttempts,
		RetryBase:     cfg.StoreRetryBase,
		Budget:        cfg.EvidenceBudget,
		Publisher:     publisher,
		Logger:        log,
	})

	auth := middleware.NewAuth(cfg.AdminJWTSecret, log)
	receipts := receipt.New(cfg.ReceiptSecret, filepath.Join(cfg.FilesDir, "images"), "")
	router := routes.New(routes.Deps{
		Catalog:  catalog.NewHandlers(catalogSvc),
		Orders:   orders.NewHandlers(orderRepo, catalogSvc, receipts, cfg.FilesDir, log),
		Custom:   customorders.NewHandlers(customRepo, log),
		Payments: reconcile.NewHandlers(engine, cfg.WebhookSecret, log),
		Events:   fanout.ServeWS(hub, cfg.FanoutBuffer, auth.Authorize, log),
		Auth:     auth,
		Limiter:  ratelim.NewRateLimiter(5, 3),
	})

	// apply middleware: CORS → security headers → logging → router
	corsHandler := cors.New(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization", reconcile.SignatureHeader},
		AllowCredentials: false,
	}).Handler(router)
	handler := middleware.Logging(log)(middleware.SecurityHeaders(corsHandler))

	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           handler,
		ReadTimeout:       7 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
		ReadHeaderTimeout: 2 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("server listening", "addr", server.Addr, "store", cfg.StoreDriver)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info("shutdown signal received; shutting down gracefully")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown: %w", err)
	}
	log.Info("server stopped cleanly")
	return nil
}

// runBridge keeps the Redis relay up, resubscribing after failures.
func runBridge(ctx context.Context, b *fanout.Bridge, rc *redis.Client, log *slog.Logger) {
	for {
		err := b.Run(ctx)
		if ctx.Err() != nil {
			return
		}
		log.Error("fanout bridge stopped; retrying", "err", err)
		select {
		case <-ctx.Done():
			return
		case <-time.After(2 * time.Second):
		}
		if err := rc.Ping(ctx).Err(); err != nil {
			log.Warn("redis still unreachable", "err", err)
		}
	}
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("config", "err", err)
		os.Exit(1)
	}
	log := config.NewLogger(cfg.LogFormat)
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("server exited", "err", err)
		os.Exit(1)
	}
}

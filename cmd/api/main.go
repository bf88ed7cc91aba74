package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/safar/retail-inventory/internal/auth"
	"github.com/safar/retail-inventory/internal/cache"
	"github.com/safar/retail-inventory/internal/config"
	"github.com/safar/retail-inventory/internal/database"
	"github.com/safar/retail-inventory/internal/logger"
	"github.com/safar/retail-inventory/internal/observability"
	"github.com/safar/retail-inventory/internal/store"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.uber.org/zap"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	log, err := logger.New(cfg.Environment)
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.Tracing.Enabled {
		shutdownTracing, err := observability.SetupTracing(ctx, &cfg.Tracing)
		if err != nil {
			log.Fatal("setup tracing", zap.Error(err))
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdownTracing(shutdownCtx); err != nil {
				log.Warn("tracing shutdown", zap.Error(err))
			}
		}()
	}

	db, err := database.NewConnection(&cfg.Database)
	if err != nil {
		log.Fatal("connect to database", zap.Error(err))
	}
	defer db.Close()
	log.Info("connected to database")

	var invalidator cache.Invalidator = cache.Noop{}
	responseCache, err := cache.New(&cfg.Redis)
	if err != nil {
		log.Warn("redis unavailable, caching disabled", zap.Error(err))
		responseCache = nil
	} else {
		invalidator = responseCache
		defer responseCache.Close()
		log.Info("connected to redis", zap.String("addr", cfg.Redis.Addr))
	}

	srv := &server{
		cfg:            cfg,
		log:            log,
		cache:          responseCache,
		tokens:         auth.NewTokenService(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL),
		admins:         store.NewAdmins(db),
		catalog:        store.NewCatalog(db, invalidator, log),
		customerOrders: store.NewCustomerOrders(db),
		purchaseOrders: store.NewPurchaseOrders(db),
		lowStock:       store.NewLowStockMonitor(db),
	}

	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware("retail-inventory"))
	router.Use(requestLogger(log))
	router.Use(rateLimit())
	srv.registerRoutes(router)

	httpServer := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		log.Info("server starting", zap.String("port", cfg.Server.Port))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("server error", zap.Error(err))
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error("server shutdown", zap.Error(err))
	}
}

package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"

	"github.com/yeremiapane/dinein/auth"
	"github.com/yeremiapane/dinein/config"
	"github.com/yeremiapane/dinein/hub"
	"github.com/yeremiapane/dinein/queue"
	"github.com/yeremiapane/dinein/router"
	"github.com/yeremiapane/dinein/services"
	"github.com/yeremiapane/dinein/tenant"
	"github.com/yeremiapane/dinein/utils"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		utils.ErrorLogger.Fatalf("Invalid configuration: %v", err)
	}
	utils.InitLogger(cfg.LogLevel)

	if cfg.Server.GinMode == gin.ReleaseMode {
		gin.SetMode(gin.ReleaseMode)
	}

	db, err := config.InitDB(cfg.Database)
	if err != nil {
		utils.ErrorLogger.Fatalf("Failed to connect to database: %v", err)
	}
	if err := config.AutoMigrate(db); err != nil {
		utils.ErrorLogger.Fatalf("Failed to AutoMigrate: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	registry := hub.NewRegistry(hub.Options{
		MaxSubscribers: cfg.Realtime.MaxSubscribers,
		IdleTimeout:    cfg.Realtime.IdleTimeout,
		HardTimeout:    cfg.Realtime.HardTimeout,
		SweepInterval:  cfg.Realtime.SweepInterval,
	})
	go registry.Run(ctx)

	// Mail goes through redis when it is configured, in-process otherwise.
	deliverer := queue.NewDeliverer(db, queue.LogSender{From: cfg.Mail.From})
	var mailQueue *queue.MailQueue
	if cfg.Redis.Addr != "" {
		client, err := queue.NewRedisClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			utils.ErrorLogger.Fatalf("Failed to connect to redis: %v", err)
		}
		defer client.Close()
		mailQueue = queue.NewMailQueue(client)
		go queue.NewWorker(mailQueue, deliverer).Run(ctx)
	} else {
		utils.InfoLogger.Warn("REDIS_ADDR not set, delivering mail in-process")
	}
	notifier := queue.NewNotifier(db, mailQueue, deliverer)

	tokens := auth.NewTokenService(cfg.JWT.Secret, cfg.JWT.AccessTTL)
	issuer := auth.NewIssuer(tokens, auth.NewRefreshStore(db, cfg.JWT.RefreshTTL, cfg.JWT.ReuseGrace))
	tenants := tenant.NewResolver(db)
	employments := services.NewEmploymentService(db, notifier)

	r := router.SetupRouter(router.Deps{
		Server:      cfg.Server,
		Tokens:      tokens,
		Tenants:     tenants,
		Auth:        services.NewAuthService(issuer, employments, tenants),
		Sessions:    services.NewSessionService(db, issuer, registry, notifier, cfg.Mail.PublicBaseURL),
		Orders:      services.NewOrderService(db, services.NewCatalog(), registry),
		Payments:    services.NewPaymentService(db, registry),
		Employments: employments,
		Registry:    registry,
	})

	srv := &http.Server{
		Addr:    ":" + cfg.Server.Port,
		Handler: r,
	}

	go func() {
		utils.InfoLogger.Printf("Listening on port %s", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			utils.ErrorLogger.Fatal(err)
		}
	}()

	<-ctx.Done()
	utils.InfoLogger.Println("Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		utils.ErrorLogger.Errorf("Graceful shutdown failed: %v", err)
	}
}

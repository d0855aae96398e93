package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	httptransport "github.com/edu-portal/portal-identity/internal/api/http"
	"github.com/edu-portal/portal-identity/internal/api/http/handlers"
	"github.com/edu-portal/portal-identity/internal/audit"
	"github.com/edu-portal/portal-identity/internal/auth"
	"github.com/edu-portal/portal-identity/internal/config"
	"github.com/edu-portal/portal-identity/internal/events"
	"github.com/edu-portal/portal-identity/internal/ledger"
	"github.com/edu-portal/portal-identity/internal/observability"
	"github.com/edu-portal/portal-identity/internal/persistence"
	"github.com/edu-portal/portal-identity/internal/repository"
	"github.com/edu-portal/portal-identity/internal/service"
	"github.com/edu-portal/portal-identity/internal/worker"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, err := observability.NewLogger(cfg.Logger)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logger.Sync() //nolint:errcheck

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pg, err := persistence.NewPostgres(ctx, cfg.Postgres, logger)
	if err != nil {
		logger.Fatal("failed to connect postgres", zap.Error(err))
	}
	defer pg.Close()

	if cfg.Postgres.RunMigrations {
		if err := persistence.RunMigrations(ctx, pg.PoolHandle(), logger); err != nil {
			logger.Fatal("failed to run migrations", zap.Error(err))
		}
	}

	redis := persistence.NewRedis(cfg.Redis, logger)
	defer redis.Close()

	pool := pg.PoolHandle()
	identityRepo := repository.NewIdentityRepository(pool)
	auditRepo := repository.NewAuditRepository(pool)
	sessionLedger := ledger.NewRedisLedger(redis.Client)

	dispatcher := events.NewInMemoryDispatcher()
	recorder := audit.NewRecorder(auditRepo, logger, cfg.Audit.Retention())
	recorder.RegisterHandlers(dispatcher)

	authService := service.NewAuthService(*cfg, service.AuthDependencies{
		IdentityRepo:  identityRepo,
		SessionLedger: sessionLedger,
		Dispatcher:    dispatcher,
		Logger:        logger,
	})
	identityService := service.NewIdentityService(identityRepo, sessionLedger, dispatcher, cfg.Auth.BcryptCost)

	if err := authService.EnsureBootstrapAdmin(ctx, cfg.Bootstrap); err != nil {
		logger.Fatal("failed to bootstrap admin", zap.Error(err))
	}

	authMiddleware := auth.NewAuthMiddleware(authService.TokenCodec(), sessionLedger, dispatcher)

	metrics := observability.NewMetrics()
	app := fiber.New()
	httptransport.RegisterMiddlewares(app, logger, metrics, cfg.App.RequestTimeout())

	httptransport.RegisterRoutes(app, httptransport.RouteConfig{
		Health:         handlers.NewHealthHandler(cfg.App.Name, cfg.App.Version, pg, redis),
		Auth:           handlers.NewAuthHandler(authService),
		Admin:          handlers.NewAdminHandler(identityService),
		Audit:          handlers.NewAuditHandler(recorder),
		AuthMiddleware: authMiddleware,
		Dispatcher:     dispatcher,
	})

	sweeper := worker.NewSweeper(sessionLedger, recorder, logger)
	if err := sweeper.Start(cfg.Maintenance); err != nil {
		logger.Fatal("failed to start sweeper", zap.Error(err))
	}

	go func() {
		if err := app.Listen(cfg.App.Addr()); err != nil {
			logger.Fatal("fiber listen", zap.Error(err))
		}
	}()

	waitForShutdown(logger)

	sweeper.Stop()
	_ = app.Shutdown()
}

func waitForShutdown(logger *zap.Logger) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	logger.Info("shutting down", zap.String("signal", sig.String()))
}

package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/thejerf/abtime"
	"go.uber.org/zap"

	httptransport "github.com/spec-kit/community-hub/internal/api/http"
	"github.com/spec-kit/community-hub/internal/api/http/handlers"
	"github.com/spec-kit/community-hub/internal/auth"
	"github.com/spec-kit/community-hub/internal/config"
	"github.com/spec-kit/community-hub/internal/events"
	"github.com/spec-kit/community-hub/internal/observability"
	"github.com/spec-kit/community-hub/internal/persistence"
	"github.com/spec-kit/community-hub/internal/repository"
	"github.com/spec-kit/community-hub/internal/service"
	"github.com/spec-kit/community-hub/internal/session"
	"github.com/spec-kit/community-hub/internal/worker"
)

const shutdownTimeout = 10 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, err := observability.NewLogger(cfg.App, cfg.Logger)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logger.Sync() //nolint:errcheck

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	clock := abtime.NewRealTime()
	metrics := observability.NewMetrics()
	dependencies := map[string]handlers.Pinger{}

	pg, err := persistence.NewPostgres(ctx, cfg.Postgres, logger)
	if err != nil {
		logger.Fatal("failed to connect postgres", zap.Error(err))
	}
	defer pg.Close()

	var userRepo repository.UserRepository
	if pool := pg.PoolHandle(); pool != nil {
		if cfg.Postgres.RunMigrations {
			if err := persistence.RunMigrations(ctx, pool, cfg.Postgres.MigrationsDir, logger); err != nil {
				logger.Fatal("failed to run migrations", zap.Error(err))
			}
		}
		userRepo = repository.NewUserRepository(pool)
		dependencies["postgres"] = pg
	} else {
		logger.Warn("using in-memory user directory; accounts are lost on restart")
		userRepo = repository.NewMemoryUserRepository()
	}

	policy := session.FixedPolicy(cfg.Auth.SessionTimeout())
	if cfg.Auth.ExpiryPolicy == config.ExpiryPolicySliding {
		policy = session.SlidingPolicy(cfg.Auth.SessionTimeout())
	}

	var (
		store    session.Store
		throttle service.LoginThrottle
		sweepers worker.Sweepers
	)
	switch cfg.Auth.SessionBackend {
	case config.SessionBackendRedis:
		redis := persistence.NewRedis(ctx, cfg.Redis, logger)
		defer redis.Close()
		store = session.NewRedisStore(redis.Client, cfg.Auth.SessionKeyPrefix, policy, clock)
		throttle = service.NewRedisThrottle(redis.Client, cfg.Auth.SessionKeyPrefix, cfg.Auth.MaxLoginAttempts, cfg.Auth.LockoutWindow())
		dependencies["redis"] = redis
	default:
		memThrottle := service.NewMemoryThrottle(cfg.Auth.MaxLoginAttempts, cfg.Auth.LockoutWindow(), clock)
		store = session.NewMemoryStore(policy, clock)
		throttle = memThrottle
		sweepers = append(sweepers, memThrottle)
	}
	sweepers = append(sweepers, store)
	logger.Info("session store ready",
		zap.String("backend", cfg.Auth.SessionBackend),
		zap.String("policy", policy.String()))

	dispatcher := events.NewInMemoryDispatcher()
	service.NewAuditService(dispatcher, logger, metrics).RegisterHandlers()

	authService, err := service.NewAuthService(*cfg, service.AuthDependencies{
		UserRepo:   userRepo,
		Sessions:   store,
		Throttle:   throttle,
		Dispatcher: dispatcher,
		Logger:     logger,
		Clock:      clock,
	})
	if err != nil {
		logger.Fatal("failed to init auth service", zap.Error(err))
	}

	janitor := worker.NewSessionJanitor(sweepers, cfg.Auth.SweepInterval(), clock, logger)
	janitor.Start(ctx)

	tokens := auth.NewTokenManager(cfg.Auth.TokenSecret, clock)
	authMiddleware := auth.NewAuthMiddleware(tokens, authService, cfg.Auth.CookieName)

	app := fiber.New(fiber.Config{AppName: cfg.App.Name})
	httptransport.RegisterMiddlewares(app, logger, metrics, clock, cfg.App.RequestTimeout())

	httptransport.RegisterRoutes(app, httptransport.RouteConfig{
		Health:         handlers.NewHealthHandler(cfg.App.Name, cfg.App.Version, dependencies),
		Auth:           handlers.NewAuthHandler(authService, tokens, cfg.Auth.CookieName, cfg.App.Env != "development"),
		Users:          handlers.NewUsersHandler(authService),
		Admin:          handlers.NewAdminHandler(authService, metrics),
		AuthMiddleware: authMiddleware,
	})

	go func() {
		if err := app.Listen(cfg.App.Addr()); err != nil {
			logger.Fatal("fiber listen", zap.Error(err))
		}
	}()

	waitForShutdown(logger)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()
	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		logger.Error("http shutdown", zap.Error(err))
	}
	cancel()
	janitor.Wait()
}

func waitForShutdown(logger *zap.Logger) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	logger.Info("shutting down", zap.String("signal", sig.String()))
}

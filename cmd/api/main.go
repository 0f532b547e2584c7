package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"plantscan/api/internal/cache"
	"plantscan/api/internal/config"
	"plantscan/api/internal/database"
	"plantscan/api/internal/handlers"
	"plantscan/api/internal/jobs"
	"plantscan/api/internal/log"
	"plantscan/api/internal/mail"
	"plantscan/api/internal/middleware"
	"plantscan/api/internal/payments"
	"plantscan/api/internal/queue"
	"plantscan/api/internal/repository"
	"plantscan/api/internal/repository/memstore"
	"plantscan/api/internal/security"
	"plantscan/api/internal/server"
	"plantscan/api/internal/service"
	"plantscan/api/internal/storage"
	"plantscan/api/internal/tasks"
)

type stores struct {
	users  service.UserStore
	resets service.ResetTokenStore
	subs   service.SubscriptionStore
	scans  service.ScanStore
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger := log.New(cfg.Environment, cfg.LogLevel)
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid configuration")
	}

	ctx := context.Background()

	var (
		dbPool *pgxpool.Pool
		st     stores
	)
	switch cfg.Store.Driver {
	case config.StoreDriverPostgres:
		dbPool, err = database.Open(ctx, cfg.Postgres, logger)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to connect postgres")
		}
		st = stores{
			users:  repository.NewUserRepository(dbPool),
			resets: repository.NewResetTokenRepository(dbPool),
			subs:   repository.NewSubscriptionRepository(dbPool),
			scans:  repository.NewScanRepository(dbPool),
		}
	case config.StoreDriverMemory:
		logger.Warn().Msg("using in-memory store, data is lost on restart")
		mem := memstore.New()
		st = stores{
			users:  mem.Users(),
			resets: mem.ResetTokens(),
			subs:   mem.Subscriptions(),
			scans:  mem.Scans(),
		}
	}

	redisClient, err := cache.NewRedisClient(ctx, cfg.Redis)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect redis")
	}

	var (
		windows  middleware.WindowCounter
		denylist service.TokenDenylist
		notifier service.Notifier
		inline   *tasks.InlineNotifier
		cleaners []jobs.Cleaner
	)
	if redisClient != nil {
		windows = cache.NewRedisWindow(redisClient)
		denylist = cache.NewRedisDenylist(redisClient)
		if err := queue.EnsureGroup(ctx, redisClient, cfg.Queue.Stream, cfg.Queue.Group); err != nil {
			logger.Warn().Err(err).Msg("ensure mail consumer group failed")
		}
		notifier = queue.NewPublisher(redisClient, cfg.Queue.Stream)
	} else {
		logger.Warn().Msg("redis not configured, using in-process rate limits, denylist and inline mail")
		memWindow := cache.NewMemoryWindow()
		memDenylist := cache.NewMemoryDenylist()
		windows = memWindow
		denylist = memDenylist
		cleaners = append(cleaners, memWindow, memDenylist)
		inline = tasks.NewInlineNotifier(tasks.NewProcessor(logger, mail.FromConfig(cfg.Mail, logger)))
		notifier = inline
	}

	// A nil *ObjectStore must not reach the service as a non-nil interface.
	var avatars service.AvatarPresigner
	if cfg.Storage.Endpoint != "" {
		objectStore, err := storage.NewObjectStore(cfg.Storage)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to init object store")
		}
		if err := objectStore.EnsureAvatarBucket(ctx); err != nil {
			logger.Warn().Err(err).Msg("ensure avatar bucket failed")
		}
		avatars = objectStore
	}

	tokens := security.NewTokenService(cfg.Security.JWTSecret)
	verifier := payments.NewClient(cfg.Payments)

	authService := service.NewAuthService(st.users, st.resets, tokens, denylist, notifier, cfg, logger)
	userService := service.NewUserService(st.users, avatars, logger)
	entitlementService := service.NewEntitlementService(st.subs, st.scans, st.users, verifier, notifier, cfg, logger)

	handlerSet := handlers.NewHandlerSet(handlers.Dependencies{
		Log:         logger,
		Config:      cfg,
		Auth:        authService,
		Users:       userService,
		Entitlement: entitlementService,
		Windows:     windows,
		DB:          dbPool,
		Cache:       redisClient,
	})
	httpServer, err := server.NewHTTPServer(cfg, logger, handlerSet)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to build http server")
	}

	scheduler := jobs.NewScheduler(cfg.Jobs, entitlementService, authService, logger, cleaners...)
	if err := scheduler.Start(); err != nil {
		logger.Error().Err(err).Msg("scheduler start failed")
	}

	go func() {
		if err := httpServer.Start(); err != nil {
			logger.Fatal().Err(err).Msg("http server failed")
		}
	}()

	waitForShutdown(logger, httpServer, scheduler, inline, dbPool, redisClient)
}

func waitForShutdown(logger zerolog.Logger, srv *server.HTTPServer, scheduler *jobs.Scheduler, inline *tasks.InlineNotifier, db *pgxpool.Pool, redisClient *redis.Client) {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	<-ctx.Done()
	logger.Info().Msg("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("graceful shutdown failed")
	}

	select {
	case <-scheduler.Stop().Done():
	case <-shutdownCtx.Done():
		logger.Warn().Msg("scheduled jobs still running at shutdown")
	}

	if inline != nil {
		if err := inline.Wait(shutdownCtx); err != nil {
			logger.Warn().Err(err).Msg("pending mail not sent before shutdown")
		}
	}

	if db != nil {
		db.Close()
	}
	if redisClient != nil {
		if err := redisClient.Close(); err != nil {
			logger.Error().Err(err).Msg("redis close error")
		}
	}

	logger.Info().Msg("server exited cleanly")
}

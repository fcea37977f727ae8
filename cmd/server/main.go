package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"go-dm/internal/api"
	"go-dm/internal/chat"
	"go-dm/internal/config"
	"go-dm/internal/db"
	"go-dm/internal/logger"
	"go-dm/internal/message"
	"go-dm/internal/metrics"
	myMiddleware "go-dm/internal/middleware"
	"go-dm/internal/user"
)

func main() {
	// 1. Config & Flags
	cfg, err := config.Load()
	if err != nil {
		bootLog := logger.New(logger.Config{})
		bootLog.Fatal().Err(err).Msg("config.invalid")
	}
	addr := flag.String("addr", cfg.HTTPAddr, "http service address")
	flag.Parse()
	cfg.HTTPAddr = *addr

	log := logger.New(logger.Config{Level: cfg.LogLevel, Pretty: cfg.LogPretty})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Fatal().Err(err).Msg("server.failed")
	}
}

func run(ctx context.Context, cfg config.Config, log zerolog.Logger) error {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	scope, err := chat.ParseScope(cfg.BroadcastScope)
	if err != nil {
		return err
	}

	// 2. Stores: Postgres when DB_DSN is set, in-memory otherwise
	var (
		users    user.Repository
		messages message.Store
		ready    api.Pinger
	)
	if cfg.DatabaseURL != "" {
		database, err := db.NewDatabase(ctx, cfg.DatabaseURL, cfg.DBMaxConns)
		if err != nil {
			return err
		}
		defer database.Close()
		log.Info().Msg("postgres.connected")

		if err := database.Migrate(ctx); err != nil {
			return err
		}
		log.Info().Msg("postgres.migrated")

		users = user.NewPostgresRepository(database.Conn)
		messages = message.NewPostgresStore(database.Conn)
		ready = database
	} else {
		mem := user.NewMemoryRepository()
		users = mem
		messages = message.NewMemoryStore(mem)
		log.Warn().Msg("DB_DSN not set, using in-memory stores")
	}

	// 3. Redis relay (optional)
	var redisClient *redis.Client
	if cfg.RedisAddr != "" {
		redisClient = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer redisClient.Close()
		if err := redisClient.Ping(ctx).Err(); err != nil {
			return err
		}
		log.Info().Str("addr", cfg.RedisAddr).Msg("redis.connected")
	}

	// 4. Hub + service
	hub := chat.NewHub(redisClient, cfg.RedisChannel, logger.Component(log, "hub"), m)
	go hub.Run(ctx)
	go func() {
		if err := hub.SubscribeToRedis(ctx); err != nil {
			log.Error().Err(err).Msg("redis.subscribe.failed")
		}
	}()

	service := chat.NewService(user.NewDirectory(users), messages, hub, scope, logger.Component(log, "service"), m)
	wsHandler := chat.NewHandler(hub, service, cfg.SendQueueSize, logger.Component(log, "ws"))
	apiHandler := api.NewHandler(service, ready, logger.Component(log, "api"))

	// 5. Routes
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(myMiddleware.RequestLogger(logger.Component(log, "http")))
	r.Use(middleware.Recoverer)

	r.Get("/ws", wsHandler.ServeWs)
	r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	apiHandler.Routes(r)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", cfg.HTTPAddr).Str("scope", cfg.BroadcastScope).Msg("server.starting")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	log.Info().Msg("server.shutting_down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout())
	defer cancel()
	// Hijacked websocket connections are not tracked by Shutdown; the hub closes them when ctx ends.
	return srv.Shutdown(shutdownCtx)
}

package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"game_host/internal/broadcast"
	"game_host/internal/catalog"
	"game_host/internal/config"
	"game_host/internal/db"
	httpServer "game_host/internal/http"
	"game_host/internal/http/handlers"
	"game_host/internal/http/middleware"
	"game_host/internal/logger"
	"game_host/internal/matchmaking"
	"game_host/internal/rating"
	"game_host/internal/repository"
	"game_host/internal/sandbox"
	"game_host/internal/scheduler"
	"game_host/internal/service"
	"game_host/internal/ws"
)

// Version устанавливается при сборке
var Version = "dev"

// storage хранилище рейтингов и история партий выбранного бэкенда
type storage struct {
	ratings rating.Store
	history handlers.ResultHistory
	record  service.ResultRecorder
	close   func()
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("config", "error", err)
	}

	// Инициализация структурированного логгера
	logger.Init(cfg.LogLevel, cfg.JSONLogs())
	log := logger.Get()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := openStorage(ctx, cfg)
	if err != nil {
		logger.Fatal("storage", "error", err)
	}
	defer store.close()

	// Redis необязателен: без него итоги пишутся в лог, лимиты считаются в памяти
	var (
		handoff service.Handoff = service.NewLogHandoff(log)
		limiter middleware.Limiter
	)
	if cfg.RateLimit > 0 {
		limiter = middleware.NewMemoryLimiter(cfg.RateLimit, time.Minute)
	}
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			logger.Fatal("redis ping", "addr", cfg.RedisAddr, "error", err)
		}
		handoff = service.NewResultPublisher(rdb, cfg.ResultsStream)
		if cfg.RateLimit > 0 {
			limiter = middleware.NewRedisLimiter(rdb, cfg.RateLimit, time.Minute)
		}
		log.Info("redis connected", "addr", cfg.RedisAddr, "stream", cfg.ResultsStream)
	}

	games := catalog.NewRegistry(catalog.NewDirLoader(cfg.GamesDir), sandbox.NewCompiler(), log)
	loaded, err := games.Preload(ctx)
	if err != nil {
		// сломанные игры не мешают запуску остальных
		log.Warn("some games failed to load", "error", err)
	}
	log.Info("games loaded", "dir", cfg.GamesDir, "games", loaded)

	settlementOpts := []service.SettlementOption{
		service.WithHandoff(handoff),
		service.WithSettlementLogger(log),
	}
	if store.record != nil {
		settlementOpts = append(settlementOpts, service.WithRecorder(store.record))
	}
	settlement := service.NewSettlementService(store.ratings, games, settlementOpts...)

	hub := broadcast.NewHub(broadcast.WithLogger(log))
	sched := scheduler.New(scheduler.Config{
		TickInterval:   cfg.TickInterval,
		StartGrace:     cfg.StartGrace,
		IdleGrace:      cfg.RoomIdleGrace,
		HandlerTimeout: cfg.HandlerTimeout,
		QueueSize:      cfg.LaneQueueSize,
	}, games, hub, scheduler.WithFinishHook(settlement.Enqueue), scheduler.WithLogger(log))

	queue := matchmaking.NewQueue(matchmaking.Config{
		PollInterval: cfg.MatchPollInterval,
		TicketExpiry: cfg.TicketExpiry,
	}, games, sched, matchmaking.WithLogger(log))

	tokens := service.NewTokenVerifier(cfg.JWTSecret)
	if !tokens.Enabled() {
		log.Warn("JWT_SECRET not set - players are identified by request parameters")
	}

	if cfg.LogLevel != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery(), middleware.CORS(cfg.AllowedOrigin))

	httpServer.RegisterRoutes(r, httpServer.Deps{
		Handler: handlers.NewHandler(queue, store.ratings, store.history),
		WS: ws.NewHandler(ws.LookupFunc(func(id string) (ws.Room, bool) {
			lane, ok := sched.Lane(id)
			if !ok {
				return nil, false
			}
			return lane, true
		}), hub, tokens, cfg.AllowedOrigin, log),
		Tokens:    tokens,
		Limiter:   limiter,
		Games:     games.Names,
		Version:   Version,
		RoomCount: sched.Count,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.AppPort,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// расчет рейтинга переживает остановку комнат, чтобы принять их итоги
	settleCtx, stopSettlement := context.WithCancel(context.WithoutCancel(ctx))
	defer stopSettlement()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return queue.Run(gctx) })
	g.Go(func() error { return settlement.Run(settleCtx) })
	g.Go(func() error {
		log.Info("server started", "port", cfg.AppPort, "version", Version)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		// сначала закрываем комнаты: итоги уходят в расчет рейтинга
		if err := sched.Shutdown(shutdownCtx); err != nil {
			log.Error("rooms shutdown", "error", err)
		}
		stopSettlement()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Error("server stopped with error", "error", err)
		os.Exit(1)
	}
	log.Info("server exited")
}

// openStorage postgres, если задан DATABASE_URL, иначе sqlite, иначе память
func openStorage(ctx context.Context, cfg config.Config) (storage, error) {
	log := logger.Get()
	switch {
	case cfg.DatabaseURL != "":
		pool, err := db.Connect(ctx, cfg.DatabaseURL)
		if err != nil {
			return storage{}, err
		}
		if err := db.Migrate(ctx, pool); err != nil {
			pool.Close()
			return storage{}, err
		}
		log.Info("rating store: postgres")
		results := repository.NewResultRepository(pool)
		return storage{
			ratings: repository.NewRatingRepository(pool),
			history: results,
			record:  results,
			close:   pool.Close,
		}, nil

	case cfg.SQLitePath != "":
		sqlDB, err := db.OpenSQLite(cfg.SQLitePath)
		if err != nil {
			return storage{}, err
		}
		log.Info("rating store: sqlite", "path", cfg.SQLitePath)
		repo := repository.NewSQLiteRepository(sqlDB)
		return storage{
			ratings: repo,
			history: repo,
			record:  repo,
			close:   func() { _ = sqlDB.Close() },
		}, nil
	}

	log.Warn("no DATABASE_URL or SQLITE_PATH - ratings are kept in memory")
	return storage{ratings: rating.NewMemoryStore(), close: func() {}}, nil
}

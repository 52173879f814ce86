package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/iliyamo/workshop-checkin/internal/clock"
	"github.com/iliyamo/workshop-checkin/internal/config"
	"github.com/iliyamo/workshop-checkin/internal/database"
	"github.com/iliyamo/workshop-checkin/internal/handler"
	"github.com/iliyamo/workshop-checkin/internal/logging"
	"github.com/iliyamo/workshop-checkin/internal/memstore"
	"github.com/iliyamo/workshop-checkin/internal/middleware"
	"github.com/iliyamo/workshop-checkin/internal/queue"
	"github.com/iliyamo/workshop-checkin/internal/repository"
	"github.com/iliyamo/workshop-checkin/internal/router"
	"github.com/iliyamo/workshop-checkin/internal/service"
	"github.com/iliyamo/workshop-checkin/internal/token"
)

// appStore is what both persistence backends provide.
type appStore interface {
	service.Store
	handler.UserStore
}

func main() {
	// A missing .env is normal outside local development.
	_ = godotenv.Load()

	cfg := config.Load()
	log := logging.Setup(cfg.LogLevel, cfg.LogFormat)
	if err := cfg.Validate(); err != nil {
		log.WithError(err).Fatal("invalid configuration")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	clk := clock.Real{}
	store, closeStore := openStore(cfg, log)
	defer closeStore()

	rdb := openRedis(cfg, log)
	if rdb != nil {
		defer rdb.Close()
	}
	tokens := openTokens(cfg, rdb, clk, log)

	engine, err := service.New(service.Options{
		Store:         store,
		Tokens:        tokens,
		Clock:         clk,
		Log:           log,
		EventBuffer:   cfg.EventBuffer,
		PurgeInterval: cfg.PurgeInterval,
	})
	if err != nil {
		log.WithError(err).Fatal("build engine")
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		engine.Run(ctx)
	}()
	if cfg.EventRelay {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_ = queue.NewRelay(cfg.RabbitURL, engine, log).Run(ctx)
		}()
		go func() {
			defer wg.Done()
			_ = queue.NewAttendanceLogger(cfg.RabbitURL, "logs", log).Run(ctx)
		}()
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.RequestLogger(log))

	limit := middleware.NewRateLimiter(cfg.RateLimit, rdb, log).Middleware()
	cache := middleware.ResponseCache(cfg.Cache, rdb)
	wh := handler.NewWorkshopHandler(engine, log)
	wh.Evict = func(ctx context.Context, path string) {
		if err := middleware.EvictCached(ctx, cfg.Cache, rdb, path); err != nil {
			log.WithError(err).WithField("path", path).Warn("cache eviction failed")
		}
	}
	ch := handler.NewCheckinHandler(engine, log)

	router.RegisterRoutes(e)
	router.RegisterAuth(e, handler.NewAuthHandler(cfg, store, clk, log), cfg.JWTSecret)
	router.RegisterWorkshops(e, wh, ch, cfg.JWTSecret, cache, limit)
	router.RegisterAdmin(e, wh, ch, cfg.JWTSecret, limit)
	router.RegisterEvents(e, handler.NewEventsHandler(engine, log), cfg.JWTSecret)

	addr := ":" + cfg.Port
	go func() {
		log.WithFields(logrus.Fields{"addr": addr, "env": cfg.Env}).Info("listening")
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Fatal("http server")
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("http shutdown")
	}
	wg.Wait()
}

func openStore(cfg config.Config, log *logrus.Logger) (appStore, func()) {
	if cfg.StoreBackend != config.BackendMySQL {
		log.Info("using in-memory store")
		return memstore.New(), func() {}
	}
	db, err := database.Open(database.Options{
		User: cfg.DBUser, Pass: cfg.DBPass, Host: cfg.DBHost, Port: cfg.DBPort, Name: cfg.DBName,
	})
	if err != nil {
		log.WithError(err).Fatal("open mysql")
	}
	if err := database.Migrate(db); err != nil {
		log.WithError(err).Fatal("migrate")
	}
	log.WithField("host", cfg.DBHost).Info("using mysql store")
	return repository.NewStore(db), func() { _ = db.Close() }
}

// openRedis connects when a Redis-backed feature is configured. Only the
// Redis token backend makes a failure fatal; rate limiting and caching are
// switched off instead.
func openRedis(cfg config.Config, log *logrus.Logger) *redis.Client {
	needed := cfg.TokenBackend == config.BackendRedis || cfg.RateLimit.Enabled || cfg.Cache.Enabled
	if !needed {
		return nil
	}
	rdb, err := config.NewRedisClient(cfg.Redis)
	if err != nil {
		if cfg.TokenBackend == config.BackendRedis {
			log.WithError(err).Fatal("redis is required for TOKEN_BACKEND=redis")
		}
		log.WithError(err).Warn("redis unavailable; rate limiting and response cache disabled")
		return nil
	}
	return rdb
}

func openTokens(cfg config.Config, rdb *redis.Client, clk clock.Clock, log *logrus.Logger) token.Store {
	opts := token.Options{
		Policy:    token.Policy{MinTTL: cfg.TokenMinTTL, MaxTTL: cfg.TokenMaxTTL},
		Retention: cfg.Retention,
	}
	var (
		tokens token.Store
		err    error
	)
	if cfg.TokenBackend == config.BackendRedis {
		tokens, err = token.NewRedisStore(rdb, clk, cfg.Redis.Prefix, opts)
	} else {
		tokens, err = token.NewMemoryStore(clk, opts)
	}
	if err != nil {
		log.WithError(err).Fatal("token store")
	}
	log.WithField("backend", cfg.TokenBackend).Info("token store ready")
	return tokens
}

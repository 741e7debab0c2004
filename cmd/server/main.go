package main // Entry point package

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/iliyamo/auction-house/internal/auction"
	"github.com/iliyamo/auction-house/internal/config"
	"github.com/iliyamo/auction-house/internal/database"
	"github.com/iliyamo/auction-house/internal/handler"
	"github.com/iliyamo/auction-house/internal/logger"
	"github.com/iliyamo/auction-house/internal/middleware"
	"github.com/iliyamo/auction-house/internal/notify"
	"github.com/iliyamo/auction-house/internal/queue"
	"github.com/iliyamo/auction-house/internal/repository"
	"github.com/iliyamo/auction-house/internal/router"
)

func main() {
	config.LoadDotEnv()
	cfg := config.Load() // Load environment config
	_, syncLog := logger.Init(cfg.Env)
	defer syncLog()

	db, err := database.Open(cfg.DBUser, cfg.DBPass, cfg.DBHost, cfg.DBPort, cfg.DBName)
	if err != nil {
		zap.L().Fatal("open database", zap.Error(err))
	}
	defer db.Close()

	migrateCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	if err := database.Migrate(migrateCtx, db); err != nil {
		cancel()
		zap.L().Fatal("migrate database", zap.Error(err))
	}
	cancel()

	rdb := config.NewRedisClient(config.LoadRedisConfig()) // nil when Redis is unreachable
	if rdb != nil {
		defer rdb.Close()
	}

	// Notifications: broker or log, deduplicated in Redis or in memory.
	var pub queue.Publisher = queue.LogPublisher{}
	if cfg.Notify.Backend == "amqp" {
		amqpPub := queue.NewAMQPPublisher(cfg.Notify.RabbitURL)
		defer amqpPub.Close()
		pub = amqpPub
	}
	dedupe, err := newDeduper(cfg.Notify, rdb)
	if err != nil {
		zap.L().Fatal("notification dedupe", zap.Error(err))
	}
	dispatcher := notify.NewDispatcher(pub, dedupe, notify.WithConcurrency(cfg.Notify.Concurrency))

	// Repositories and the auction engine.
	auctions := repository.NewAuctionRepo(db)
	bids := repository.NewBidRepo(db)
	profiles := repository.NewProfileRepo(db)
	watchers := repository.NewWatcherRepo(db)

	rules := auction.Rules{
		ExtensionWindow: cfg.Auction.ExtensionWindow,
		ExtensionStep:   cfg.Auction.ExtensionStep,
		PaymentWindow:   cfg.Auction.PaymentWindow,
	}
	bidService := auction.NewBidService(auctions, bids, profiles, watchers, dispatcher, rules)
	resolver := auction.NewResolver(auctions, bids, cfg.Auction.PaymentWindow)

	var sweeper *auction.Sweeper
	if cfg.Auction.SweepEnabled {
		sweeper = auction.NewSweeper(resolver, auctions, dispatcher, rdb, cfg.Auction.SweepInterval, cfg.Auction.SweepBatch)
		sweeper.Start()
	}

	// HTTP.
	rl := config.LoadRateLimitConfig()
	cache := config.LoadCacheConfig()

	e := router.New()
	e.Use(middleware.NewTokenBucket(rl, rdb))
	router.RegisterRoutes(e, &handler.HealthHandler{DB: db, RDB: rdb})
	router.RegisterAuth(e, handler.NewAuthHandler(cfg, profiles), cfg.JWTSecret)
	router.RegisterAuctions(e,
		handler.NewAuctionHandler(auctions, bids, watchers, resolver),
		handler.NewBidHandler(bidService, cache, rdb),
		router.AuctionRoutes{
			JWTSecret: cfg.JWTSecret,
			BidLimit:  middleware.NewTokenBucket(rl.Bids(), rdb),
			Cache:     middleware.NewRedisCache(cache, rdb),
		})
	router.RegisterAdmin(e, handler.NewAdminHandler(resolver, profiles), cfg.JWTSecret)

	addr := ":" + cfg.Port // Address string with port
	go func() {
		zap.L().Info("listening", zap.String("addr", addr), zap.String("env", cfg.Env))
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zap.L().Fatal("http server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	zap.L().Info("shutting down")

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancelShutdown()
	if err := e.Shutdown(shutdownCtx); err != nil {
		zap.L().Error("http shutdown", zap.Error(err))
	}
	if sweeper != nil {
		sweeper.Shutdown()
	}
	// Let in-flight bid notifications reach the publisher before it closes.
	bidService.Wait()
}

func newDeduper(cfg config.NotifyConfig, rdb *redis.Client) (notify.Deduper, error) {
	if rdb != nil {
		return notify.NewRedisDeduper(rdb, cfg.DedupeTTL), nil
	}
	return notify.NewMemoryDeduper(cfg.DedupeSize)
}

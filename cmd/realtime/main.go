package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/talkwave/realtime/internal/api"
	"github.com/talkwave/realtime/internal/auth"
	"github.com/talkwave/realtime/internal/calls"
	"github.com/talkwave/realtime/internal/config"
	"github.com/talkwave/realtime/internal/database"
	"github.com/talkwave/realtime/internal/directory"
	"github.com/talkwave/realtime/internal/events"
	"github.com/talkwave/realtime/internal/logger"
	"github.com/talkwave/realtime/internal/presence"
	"github.com/talkwave/realtime/internal/receipts"
	"github.com/talkwave/realtime/internal/registry"
	"github.com/talkwave/realtime/internal/relay"
	"github.com/talkwave/realtime/internal/repository"
	"github.com/talkwave/realtime/internal/router"
	"github.com/talkwave/realtime/internal/status"
	"github.com/talkwave/realtime/internal/ws"
)

func main() {
	cfgPath := os.Getenv("CONFIG_PATH")
	if cfgPath == "" {
		cfgPath = "config.yaml"
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("config load: %v", err)
	}

	zlog, err := logger.New(logger.Config{Development: cfg.App.Env != "production", Level: cfg.App.LogLevel})
	if err != nil {
		log.Fatalf("logger init: %v", err)
	}
	defer zlog.Sync()

	var jv *auth.JWTValidator
	if cfg.JWT.Algorithm == "RS256" {
		jv, err = auth.NewJWTValidatorRS256(cfg.JWT.PublicKeyPath)
	} else {
		jv, err = auth.NewJWTValidatorHS256(cfg.JWT.HSSecret)
	}
	if err != nil {
		zlog.Fatalw("jwt validator init", "err", err)
	}

	var store repository.Store
	if cfg.Mongo.URI != "" {
		db, client, err := database.ConnectMongo(cfg.Mongo.URI, cfg.Mongo.Database)
		if err != nil {
			zlog.Fatalw("mongo connect", "err", err)
		}
		defer client.Disconnect(context.Background())
		ms := repository.NewMongoStore(client, db)
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := ms.EnsureIndexes(ctx); err != nil {
			cancel()
			zlog.Fatalw("mongo indexes", "err", err)
		}
		cancel()
		store = ms
	} else {
		zlog.Warnw("no mongo uri configured, using in-memory store")
		store = repository.NewMemoryStore()
	}

	var dir directory.Directory
	if cfg.Directory.BaseURL != "" {
		dir = directory.NewHTTPClient(cfg.Directory.BaseURL, cfg.DirectoryTimeout)
	} else {
		zlog.Warnw("no directory base url configured, using static directory")
		dir = directory.NewStatic()
	}

	bgCtx, bgCancel := context.WithCancel(context.Background())
	defer bgCancel()

	reg := registry.New()

	var mirror *presence.RedisStore
	var rly *relay.Relay
	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Pass,
			DB:       cfg.Redis.DB,
		})
		defer rdb.Close()
		mirror = presence.NewRedisStore(rdb, cfg.Redis.Prefix)
		rly = relay.New(rdb, cfg.Redis.Prefix+":frames", uuid.NewString(), reg, zlog)
		go rly.Run(bgCtx)
	}

	var producer *events.Producer
	var notifier *events.Notifier
	if len(cfg.Kafka.Brokers) > 0 {
		producer = events.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicMessageSent, cfg.Kafka.TopicReceipt)
		defer producer.Close()
		notifier = events.NewNotifier(cfg.Kafka.Brokers, cfg.Kafka.TopicNotification, zlog)
		defer notifier.Close()
	}

	tracker := presence.NewTracker()
	pres := presence.NewService(tracker, reg, dir, mirror, zlog)
	rt := receipts.NewTracker(store, reg, producer, rly, zlog)
	rtr := router.New(store, reg, rt, dir, producer, notifier, rly, zlog, router.Options{
		PushRetries:  cfg.Delivery.PushRetries,
		PushBackoff:  cfg.PushBackoff,
		DeleteWindow: cfg.DeleteWindow,
	})
	sts := status.NewService(store, dir, zlog)
	cs := calls.NewService(store, reg, dir, notifier, rly, zlog)

	go sts.RunSweeper(bgCtx, time.Hour)

	wsSrv := ws.NewServer(jv, reg, pres, rtr, rt, cs, zlog, ws.Options{
		PingInterval:  cfg.PingInterval,
		WriteDeadline: cfg.WriteDeadline,
		MaxFrameBytes: cfg.WS.MaxMessageSizeBytes,
		SendBuffer:    cfg.WS.SendBuffer,
	})
	rl := api.NewIPRateLimiter(cfg.Delivery.RateLimitPerMinute, zlog)
	h := api.NewHandlers(store, rtr, rt, pres, sts, cs)
	app := api.NewServer(h, wsSrv, jv, rl, zlog)

	errs := make(chan error, 1)
	go func() {
		addr := fmt.Sprintf(":%d", cfg.App.Port)
		zlog.Infow("starting realtime service", "addr", addr)
		errs <- app.Listen(addr)
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	select {
	case e := <-errs:
		zlog.Fatalw("server error", "err", e)
	case s := <-sig:
		zlog.Infow("signal received", "signal", s.String())
	}

	if err := app.Shutdown(); err != nil {
		zlog.Warnw("fiber shutdown", "err", err)
	}
	zlog.Infow("shutting down")
}

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/IBM/sarama"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/afero"
	"golang.org/x/sync/errgroup"

	"canvasCollab/backend/config"
	"canvasCollab/backend/internal/cache"
	"canvasCollab/backend/internal/collab"
	"canvasCollab/backend/internal/httpapi"
	"canvasCollab/backend/internal/share"
	"canvasCollab/backend/internal/store"
	"canvasCollab/backend/internal/ws"
)

func main() {
	if err := run(); err != nil {
		slog.Error("relay server exited", "err", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("init config failed: %w", err)
	}
	logger := newLogger(cfg.Log.Level)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// === 房间总线：配置了 Redis 才跨实例转发 ===
	bus, closeRedis, err := newRoomBus(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeRedis()

	// === 存储：有 DSN 用 MySQL，否则内存版 ===
	var (
		snapshots share.Repository  = store.NewMemorySnapshotStore()
		scenes    collab.SceneStore = store.NewMemorySceneStore()
	)
	if cfg.Mysql.DSN != "" {
		gdb, err := store.InitMySQL(cfg.Mysql.DSN)
		if err != nil {
			return fmt.Errorf("connect mysql: %w", err)
		}
		sqlDB, err := gdb.DB()
		if err != nil {
			return err
		}
		defer sqlDB.Close()

		snapshotStore := store.NewSnapshotStore(gdb)
		if err := snapshotStore.Migrate(ctx); err != nil {
			return fmt.Errorf("migrate snapshots: %w", err)
		}
		sceneStore := store.NewSceneStore(sqlDB)
		if err := sceneStore.Migrate(ctx); err != nil {
			return fmt.Errorf("migrate scenes: %w", err)
		}
		snapshots, scenes = snapshotStore, sceneStore
	} else {
		logger.Warn("MYSQL_DSN not set, scenes and snapshots are kept in memory")
	}
	blobs := store.NewBlobStore(afero.NewOsFs(), cfg.Blob.Root, cfg.Blob.BaseURL)

	// === Kafka Producer（可选）===
	var events collab.EventSink
	if len(cfg.Kafka.Brokers) > 0 {
		kafkaCfg := sarama.NewConfig()
		// SyncProducer 必须开启 Return.Successes
		kafkaCfg.Producer.Return.Successes = true
		kafkaCfg.Producer.RequiredAcks = sarama.WaitForLocal
		producer, err := sarama.NewSyncProducer(cfg.Kafka.Brokers, kafkaCfg)
		if err != nil {
			return fmt.Errorf("connect kafka: %w", err)
		}
		defer producer.Close()

		dispatcher := collab.NewKafkaDispatcher(
			producer,
			cfg.Kafka.Topic,
			collab.NewSemaphoreControl(16),
			collab.DefaultKafkaDispatcherOptions(),
			logger,
		)
		// 先于 producer.Close 执行，把队列里的事件发完
		defer dispatcher.Close()
		events = dispatcher
	}

	hub := ws.NewHub(bus, logger)
	manager := ws.NewManager(hub, cfg.Relay.AllowedOrigins, cfg.Relay.MaxPayloadBytes, logger)
	shares := share.NewService(blobs, snapshots, cfg.Share.BaseURL, logger)
	patches := collab.NewService(scenes, cache.NewFingerprintCache(), events, collab.NewSemaphoreControl(64), logger)

	gin.SetMode(gin.ReleaseMode)
	r := httpapi.NewRouter(httpapi.Deps{
		Manager:        manager,
		Hub:            hub,
		Shares:         shares,
		Scenes:         patches,
		AllowedOrigins: cfg.Relay.AllowedOrigins,
		MaxBodyBytes:   cfg.Relay.MaxPayloadBytes,
	})
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Running.Port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return hub.Run(gctx) })
	g.Go(func() error {
		logger.Info("relay server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	err = g.Wait()
	if errors.Is(err, context.Canceled) {
		err = nil
	}
	logger.Info("relay server stopped")
	return err
}

func newRoomBus(ctx context.Context, cfg *config.Config, logger *slog.Logger) (cache.RoomBus, func(), error) {
	var rdb redis.UniversalClient
	switch {
	case cfg.Redis.URL != "":
		opt, err := redis.ParseURL(cfg.Redis.URL)
		if err != nil {
			return nil, nil, fmt.Errorf("parse REDIS_URL: %w", err)
		}
		rdb = redis.NewClient(opt)
	case len(cfg.Redis.Addrs) > 0:
		rdb = redis.NewUniversalClient(&redis.UniversalOptions{
			Addrs:    cfg.Redis.Addrs,
			Password: cfg.Redis.Password,
		})
	default:
		logger.Warn("redis not configured, relay is single-instance")
		return cache.NewLocalBus(), func() {}, nil
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, nil, fmt.Errorf("connect redis: %w", err)
	}
	bus := cache.NewRedisBus(ctx, rdb, uuid.NewString(), logger)
	return bus, func() {
		_ = bus.Close()
		_ = rdb.Close()
	}, nil
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}

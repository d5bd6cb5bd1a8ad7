package worker

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/jmehdipour/event-relay/internal/config"
	"github.com/jmehdipour/event-relay/internal/db"
	"github.com/jmehdipour/event-relay/internal/logger"
	"github.com/jmehdipour/event-relay/internal/metrics"
	"github.com/jmehdipour/event-relay/internal/notify"
	"github.com/jmehdipour/event-relay/internal/repository"
	"github.com/jmehdipour/event-relay/internal/worker"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
)

var notifierCmd = &cobra.Command{
	Use:   "notifier",
	Short: "Run the cross-service consumer (polls peer store, writes notifications)",
	RunE:  runNotifier,
}

func runNotifier(cmd *cobra.Command, args []string) error {
	// 1) load config
	cfgPath, _ := cmd.Root().PersistentFlags().GetString("config")
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger.Init(cfg.LogLevel)
	metrics.MustRegister(prometheus.DefaultRegisterer)

	// 2) own store (notifications)
	dbx, err := db.NewMySQLConnection(cfg.MySQL.DSN, db.MySQLOpts{
		MaxOpenConns:    cfg.MySQL.MaxOpenConns,
		MaxIdleConns:    cfg.MySQL.MaxIdleConns,
		ConnMaxLifetime: cfg.MySQL.ConnMaxLifetime,
		ConnMaxIdleTime: cfg.MySQL.ConnMaxIdleTime,
		PingTimeout:     cfg.MySQL.PingTimeout,
	})
	if err != nil {
		return fmt.Errorf("mysql connect: %w", err)
	}
	defer dbx.Close()

	// 3) the peer's event store, polled directly
	peerDB, err := db.NewMySQLConnection(cfg.PeerMySQL.DSN, db.MySQLOpts{
		MaxOpenConns:    cfg.PeerMySQL.MaxOpenConns,
		MaxIdleConns:    cfg.PeerMySQL.MaxIdleConns,
		ConnMaxLifetime: cfg.PeerMySQL.ConnMaxLifetime,
		ConnMaxIdleTime: cfg.PeerMySQL.ConnMaxIdleTime,
		PingTimeout:     cfg.PeerMySQL.PingTimeout,
	})
	if err != nil {
		return fmt.Errorf("peer mysql connect: %w", err)
	}
	defer peerDB.Close()

	// 4) redis for live push (optional)
	redisClient, err := db.NewRedisClient(db.RedisOpts{
		Addr:        cfg.Redis.Addr,
		Password:    cfg.Redis.Password,
		DB:          cfg.Redis.DB,
		DialTimeout: cfg.Redis.DialTimeout,
	})
	if err != nil {
		log.Printf("[notifier] redis unavailable, live push disabled: %v", err)
		redisClient = nil
	} else {
		defer func() { _ = redisClient.Close() }()
	}

	// 5) sink + handlers
	notificationsRepo := repository.NewNotificationsRepository(dbx)
	sink := notify.NewService(notificationsRepo, redisClient, logger.L())

	directory := notify.NewHTTPDirectory(cfg.Directory.BaseURL, cfg.Directory.TimeoutMs)
	roles := notify.NewRoleCache(directory, cfg.Directory.CacheTTL,
		notify.WithFallback(cfg.Fallbacks),
		notify.WithLogger(logger.L()),
	)

	registry := notify.NewRegistry()
	notify.RegisterOrderHandlers(registry, roles)
	notify.RegisterUserHandlers(registry, roles)

	peerRepo := repository.NewPeerOutboxRepository(peerDB)

	n := worker.NewNotifier(peerDB, peerRepo, registry, sink, cfg.Consumer.OriginService, logger.L())

	// tune knobs
	if cfg.Consumer.Interval > 0 {
		n.Interval = cfg.Consumer.Interval
	}
	if cfg.Consumer.BatchSize > 0 {
		n.BatchSize = cfg.Consumer.BatchSize
	}

	// 6) graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Printf(">> notifier started origin=%s interval=%s batchSize=%d",
		n.OriginService, n.Interval, n.BatchSize)

	return n.Run(ctx)
}

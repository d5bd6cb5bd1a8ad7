package worker

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/jmehdipour/event-relay/internal/config"
	"github.com/jmehdipour/event-relay/internal/db"
	"github.com/jmehdipour/event-relay/internal/logger"
	"github.com/jmehdipour/event-relay/internal/metrics"
	"github.com/jmehdipour/event-relay/internal/outbox"
	"github.com/jmehdipour/event-relay/internal/repository"
	"github.com/jmehdipour/event-relay/internal/worker"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
)

var relayCmd = &cobra.Command{
	Use:   "relay",
	Short: "Run the outbox relay (drains own store, delivers to peer)",
	RunE:  runRelay,
}

func runRelay(cmd *cobra.Command, args []string) error {
	// 1) load config
	cfgPath, _ := cmd.Root().PersistentFlags().GetString("config")
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger.Init(cfg.LogLevel)
	metrics.MustRegister(prometheus.DefaultRegisterer)

	if strings.TrimSpace(cfg.Transport.BaseURL) == "" {
		return fmt.Errorf("transport base_url is required")
	}

	// 2) DB connection (MySQL)
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

	// 3) repositories
	outboxRepo := repository.NewOutboxRepository(dbx)
	ordersRepo := repository.NewOrdersRepository(dbx)

	// terminal-event archive is reporting only; run without it if
	// ClickHouse is down
	var archive repository.ArchiveRepository
	chDB, err := db.NewClickHouseConnection(db.ClickHouseOpts{
		DSN:             cfg.ClickHouse.DSN,
		MaxOpenConns:    cfg.ClickHouse.MaxOpenConns,
		MaxIdleConns:    cfg.ClickHouse.MaxIdleConns,
		ConnMaxLifetime: cfg.ClickHouse.ConnMaxLifetime,
		ConnMaxIdleTime: cfg.ClickHouse.ConnMaxIdleTime,
		PingTimeout:     cfg.ClickHouse.PingTimeout,
	})
	if err != nil {
		log.Printf("[relay] clickhouse unavailable, archiving disabled: %v", err)
	} else {
		defer func() { _ = chDB.Close() }()
		archive = repository.NewArchiveRepository(chDB)
	}

	// 4) transport + compensation
	transport := outbox.NewHTTPTransport(
		cfg.Transport.PeerName,
		strings.TrimRight(cfg.Transport.BaseURL, "/"),
		cfg.Transport.Path,
		cfg.Transport.Token,
		"order",
		cfg.Transport.TimeoutMs,
		cfg.Transport.Breaker.FailThreshold,
		cfg.Transport.Breaker.OpenForMs,
	)
	compensator := outbox.NewOrderCompensator(dbx, ordersRepo, outboxRepo, logger.L())

	r := worker.NewRelay(outboxRepo, transport, compensator, logger.L())
	r.Archive = archive

	// tune knobs
	if cfg.Relay.Interval > 0 {
		r.Interval = cfg.Relay.Interval
	}
	if cfg.Relay.BatchSize > 0 {
		r.BatchSize = cfg.Relay.BatchSize
	}
	if cfg.Relay.MaxAttempts > 0 {
		r.MaxAttempts = cfg.Relay.MaxAttempts
	}

	// 5) graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Printf(">> relay started peer=%s interval=%s batchSize=%d maxAttempts=%d",
		cfg.Transport.PeerName, r.Interval, r.BatchSize, r.MaxAttempts)

	return r.Run(ctx)
}

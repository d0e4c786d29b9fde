package main

import (
	"context"
	"database/sql"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ageniuscoder/mmchat/realtime/internal/config"
	"github.com/ageniuscoder/mmchat/realtime/internal/relay"
	"github.com/ageniuscoder/mmchat/realtime/internal/storage"
	"github.com/ageniuscoder/mmchat/realtime/internal/storage/postgres"
	"github.com/ageniuscoder/mmchat/realtime/internal/storage/sqlite"
)

var relayCmd = &cobra.Command{
	Use:   "relay",
	Short: "Run the development relay",
	Long: `Run the development relay: socket tokens, history pages and frame
routing between connected clients.

History is kept in sqlite unless RELAY_DB_DRIVER=postgres. Presence is shared
through Redis when REDIS_ADDR is set, and delivered messages are published to
Kafka when KAFKA_BROKERS is set.`,
	RunE: runRelay,
}

func init() {
	rootCmd.AddCommand(relayCmd)
}

// database is the part of the sqlite and postgres handles the relay needs.
type database interface {
	Migrate() error
	Ping(ctx context.Context) error
	Close() error
}

func openRelayDB(ctx context.Context, cfg config.Relay) (database, *sql.DB, storage.Dialect, error) {
	switch cfg.DBDriver {
	case "", "sqlite":
		db, err := sqlite.New(cfg.SQLITEDsn)
		if err != nil {
			return nil, nil, 0, err
		}
		return db, db.Db, storage.SQLite, nil
	case "postgres":
		db, err := postgres.New(ctx, cfg.PostgresDsn)
		if err != nil {
			return nil, nil, 0, err
		}
		return db, db.Db, storage.Postgres, nil
	default:
		return nil, nil, 0, fmt.Errorf("unknown RELAY_DB_DRIVER %q", cfg.DBDriver)
	}
}

func runRelay(cmd *cobra.Command, _ []string) error {
	cfg, log, err := setup()
	if err != nil {
		return err
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, conn, dialect, err := openRelayDB(ctx, cfg.Relay)
	if err != nil {
		return err
	}
	defer db.Close()
	if err := db.Migrate(); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	opts := []relay.Option{
		relay.WithLogger(log),
		relay.WithRegistry(reg),
		relay.WithHealthCheck(db.Ping),
	}
	if cfg.Relay.RedisAddr != "" {
		presence, err := relay.NewRedisPresence(ctx, cfg.Relay.RedisAddr, cfg.Relay.RedisPassword, cfg.Relay.RedisDB)
		if err != nil {
			return err
		}
		defer presence.Close()
		opts = append(opts, relay.WithPresence(presence))
		log.Info("presence backed by redis", zap.String("addr", cfg.Relay.RedisAddr))
	}
	if len(cfg.Relay.KafkaBrokers) > 0 {
		opts = append(opts, relay.WithPublisher(relay.NewKafkaPublisher(cfg.Relay.KafkaBrokers, cfg.Relay.KafkaTopic)))
		log.Info("publishing messages to kafka",
			zap.Strings("brokers", cfg.Relay.KafkaBrokers), zap.String("topic", cfg.Relay.KafkaTopic))
	}

	srv := relay.NewServer(cfg.Relay, storage.NewMessages(conn, dialect), opts...)
	return srv.ListenAndServe(ctx)
}

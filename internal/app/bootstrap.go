// Package app wires the worker's collaborators together: the database
// connection and migrations, the store gateway, the crawl/index pipeline,
// and the NSQ wake channel.
package app

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	_ "github.com/lib/pq"
	"github.com/nsqio/go-nsq"

	"github.com/corpusgraph/weaver/internal/config"
	"github.com/corpusgraph/weaver/internal/crawl"
	"github.com/corpusgraph/weaver/internal/embeddings"
	"github.com/corpusgraph/weaver/internal/fetch"
	"github.com/corpusgraph/weaver/internal/index"
	"github.com/corpusgraph/weaver/internal/scheduler"
	"github.com/corpusgraph/weaver/internal/store"
)

// Dependencies holds every collaborator main needs after bootstrap, so it
// can start the scheduler and close things down cleanly on shutdown.
type Dependencies struct {
	DB          *sql.DB
	Scheduler   *scheduler.Scheduler
	NSQProducer *nsq.Producer
	NSQConsumer *nsq.Consumer
}

// Close releases everything bootstrap opened.
func (d *Dependencies) Close() {
	if d.NSQConsumer != nil {
		d.NSQConsumer.Stop()
	}
	if d.NSQProducer != nil {
		d.NSQProducer.Stop()
	}
	if d.DB != nil {
		_ = d.DB.Close()
	}
}

// Bootstrap opens the database, runs migrations, and assembles the
// scheduler and its pipeline. A failure here is a scheduler-fatal error:
// the caller should exit non-zero.
func Bootstrap(ctx context.Context, cfg *config.Config) (*Dependencies, error) {
	dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=disable",
		cfg.DBHost, cfg.DBPort, cfg.DBUser, cfg.DBPass, cfg.DBName)

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	retryDelay := time.Duration(cfg.BootstrapRetryDelaySeconds) * time.Second
	for i := 0; i < cfg.BootstrapRetryAttempts; i++ {
		if err := db.PingContext(ctx); err == nil {
			break
		}
		slog.WarnContext(ctx, "bootstrap: failed to ping db, retrying", "attempt", i+1)
		time.Sleep(retryDelay)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}

	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("migration driver: %w", err)
	}
	m, err := migrate.NewWithDatabaseInstance(cfg.MigrationPath, "postgres", driver)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("migration instance: %w", err)
	}
	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		db.Close()
		return nil, fmt.Errorf("migration up: %w", err)
	}

	gateway := store.NewPostgresGateway(db)
	fetcher := fetch.NewClient(cfg.UserAgent)
	robots := fetch.NewRobotsChecker(fetcher, cfg.UserAgent)
	embedClient := embeddings.NewClient(cfg.EmbeddingsURL, cfg.EmbeddingsKey, cfg.EmbeddingsModel)
	indexer := index.New(gateway, embedClient, fetcher)
	engine := crawl.New(gateway, fetcher, robots, indexer)

	sched := scheduler.New(gateway, engine, cfg.MaxConcurrentJobs, time.Duration(cfg.FallbackPollMS)*time.Millisecond)

	nsqCfg := nsq.NewConfig()
	producer, err := nsq.NewProducer(cfg.NSQDHost, nsqCfg)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("nsq producer: %w", err)
	}

	consumer, err := nsq.NewConsumer(TopicJobQueued, ephemeralChannel(), nsqCfg)
	if err != nil {
		producer.Stop()
		db.Close()
		return nil, fmt.Errorf("nsq consumer: %w", err)
	}
	sched.AttachNSQ(consumer)
	if err := consumer.ConnectToNSQLookupd(cfg.NSQLookupd); err != nil {
		slog.WarnContext(ctx, "bootstrap: nsqlookupd connect failed, falling back to poll timer only", "error", err)
	}

	return &Dependencies{
		DB:          db,
		Scheduler:   sched,
		NSQProducer: producer,
		NSQConsumer: consumer,
	}, nil
}

func ephemeralChannel() string {
	return fmt.Sprintf("scheduler-%d#ephemeral", time.Now().UnixNano())
}

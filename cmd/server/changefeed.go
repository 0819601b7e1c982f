package main

import (
	"context"
	"database/sql"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"sangue/internal/changefeed"
	"sangue/internal/docstore"
	"sangue/internal/platform/config"
	"sangue/internal/platform/kafka"
	"sangue/internal/platform/kafka/consumer"
	"sangue/internal/platform/kafka/producer"
	platformredis "sangue/internal/platform/redis"
)

// closers releases worker resources in reverse order of acquisition.
type closers []func()

func (c closers) Close() {
	for i := len(c) - 1; i >= 0; i-- {
		c[i]()
	}
}

// startChangeFeed runs the processor that relays new campaigns to the
// notifier. With brokers configured the changes travel through Kafka and a
// consumer group member delivers them; otherwise they are handed over in
// process.
func startChangeFeed(
	ctx context.Context,
	g *errgroup.Group,
	cfg config.Config,
	store docstore.Store,
	db *sql.DB,
	campaigns string,
	notifier changefeed.Handler,
	log *slog.Logger,
) (closers, error) {
	checkpoint, done, err := newCheckpointer(ctx, cfg, db)
	if err != nil {
		return done, err
	}

	var publisher changefeed.Publisher = changefeed.NewHandlerPublisher(notifier)
	if cfg.Kafka.Enabled() {
		p, err := producer.New(cfg.Kafka.Brokers)
		if err != nil {
			return done, err
		}
		done = append(done, p.Close)

		topic := changefeed.Topic(cfg.Kafka.TopicPrefix, campaigns)
		if err := kafka.EnsureTopics(ctx, p.Client(), cfg.Kafka.Partitions, topic); err != nil {
			return done, err
		}

		router := changefeed.NewRouter(log)
		router.Register(topic, notifier)
		c, err := consumer.New(cfg.Kafka.Brokers, cfg.Kafka.Group, router.Topics(), log)
		if err != nil {
			return done, err
		}
		done = append(done, c.Close)
		g.Go(func() error {
			return c.Run(ctx, router)
		})

		publisher = changefeed.NewKafkaPublisher(p, cfg.Kafka.TopicPrefix)
	}

	processor := changefeed.NewProcessor(store, campaigns, checkpoint, publisher,
		changefeed.WithInterval(cfg.ChangeFeed.Interval),
		changefeed.WithBatch(cfg.ChangeFeed.Batch),
		changefeed.WithLogger(log),
		changefeed.WithMetrics(changefeed.NewMetrics()),
	)
	g.Go(func() error {
		return processor.Run(ctx)
	})
	return done, nil
}

// newCheckpointer keeps leases in Redis when it is configured, else next to a
// PostgreSQL store. Only an in-memory store gets in-memory leases, so a
// durable store never restarts its feed from an empty lease.
func newCheckpointer(ctx context.Context, cfg config.Config, db *sql.DB) (changefeed.Checkpointer, closers, error) {
	rdb, err := platformredis.New(ctx, cfg.Redis)
	if err != nil {
		return nil, nil, err
	}
	if rdb != nil {
		return changefeed.NewRedisCheckpointer(rdb.Client), closers{func() { _ = rdb.Close() }}, nil
	}
	if db != nil {
		leases := changefeed.NewPostgresCheckpointer(db)
		if err := leases.Bootstrap(ctx); err != nil {
			return nil, nil, err
		}
		return leases, nil, nil
	}
	return changefeed.NewInMemoryCheckpointer(), nil, nil
}

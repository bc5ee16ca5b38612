package server

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/accountd/apiserver/config"
	"github.com/accountd/apiserver/internal/dedup"
	"github.com/accountd/apiserver/internal/mq"
	"github.com/accountd/apiserver/internal/notify"
	"github.com/redis/go-redis/v9"
)

// Worker drains the notification channel and sends the emails the API
// server published.
type Worker struct {
	consumer *notify.Consumer
	logger   *slog.Logger
	closers  closers
}

// NewWorker connects to the broker and, when REDIS_ADDR is set, to Redis for
// redelivery dedup.
func NewWorker(ctx context.Context, cfg config.Config, logger *slog.Logger) (*Worker, error) {
	if logger == nil {
		logger = slog.Default()
	}

	var cleanup closers
	fail := func(err error) (*Worker, error) {
		cleanup.closeAll(logger)
		return nil, err
	}

	dispatcher, err := newDispatcher(ctx, cfg, logger, &cleanup)
	if err != nil {
		return fail(err)
	}

	broker, err := mq.Open(ctx, cfg)
	if err != nil {
		return fail(err)
	}
	cleanup.add("mq", broker.Close)

	var claims notify.Claimer
	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
		})
		cleanup.add("redis", rdb.Close)
		if err := rdb.Ping(ctx).Err(); err != nil {
			return fail(fmt.Errorf("ping redis: %w", err))
		}
		claims = dedup.NewDeduplicator(rdb, cfg.Notify.DedupTTL)
	} else {
		logger.Warn("REDIS_ADDR not set, redelivered notifications may be sent twice")
	}

	return &Worker{
		consumer: notify.NewConsumer(broker, cfg.Notify.Channel, dispatcher, claims, logger),
		logger:   logger,
		closers:  cleanup,
	}, nil
}

// Run consumes until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	err := w.consumer.Run(ctx)
	if ctx.Err() != nil {
		return nil
	}
	return err
}

// Close releases the broker, Redis and template store connections.
func (w *Worker) Close() {
	w.closers.closeAll(w.logger)
}

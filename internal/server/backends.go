package server

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/accountd/apiserver/config"
	"github.com/accountd/apiserver/internal/db"
	"github.com/accountd/apiserver/internal/mq"
	"github.com/accountd/apiserver/internal/notify"
	"github.com/accountd/apiserver/internal/services"
	"github.com/accountd/apiserver/internal/storage"
	"github.com/accountd/apiserver/internal/store"
)

type closer struct {
	name string
	fn   func() error
}

// closers releases backend connections in reverse order of opening.
type closers []closer

func (c *closers) add(name string, fn func() error) {
	*c = append(*c, closer{name: name, fn: fn})
}

func (c closers) closeAll(logger *slog.Logger) {
	for i := len(c) - 1; i >= 0; i-- {
		if err := c[i].fn(); err != nil {
			logger.Warn("close backend failed", slog.String("backend", c[i].name), slog.String("error", err.Error()))
		}
	}
}

func openUserRepository(ctx context.Context, cfg config.Config, cleanup *closers) (services.UserRepository, error) {
	switch cfg.Store.Backend {
	case config.StoreBackendPostgres:
		conn, err := db.Open(ctx, cfg)
		if err != nil {
			return nil, err
		}
		cleanup.add("postgres", conn.Close)
		return store.NewUserRepository(conn), nil
	case config.StoreBackendMongo:
		client, database, err := db.OpenMongo(ctx, cfg.Mongo)
		if err != nil {
			return nil, err
		}
		cleanup.add("mongo", func() error {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return client.Disconnect(ctx)
		})
		repo := store.NewMongoUserRepository(database)
		if err := repo.EnsureIndexes(ctx); err != nil {
			return nil, err
		}
		return repo, nil
	case config.StoreBackendMemory:
		return store.NewMemoryUserRepository(), nil
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Store.Backend)
	}
}

// newDispatcher builds the renderer and mailer shared by the inline outbox
// and the broker worker. The template store is registered in cleanup.
func newDispatcher(ctx context.Context, cfg config.Config, logger *slog.Logger, cleanup *closers) (*notify.Dispatcher, error) {
	objects, err := storage.Open(ctx, cfg)
	if err != nil {
		return nil, err
	}

	templates := notify.NewTemplates(nil)
	if objects != nil {
		cleanup.add("storage", objects.Close)
		if err := objects.EnsureBucket(ctx); err != nil {
			return nil, fmt.Errorf("ensure template bucket: %w", err)
		}
		templates = notify.NewTemplates(objects)
	}

	var mailer notify.Mailer
	if cfg.SMTP.Host != "" {
		smtpMailer, err := notify.NewSMTPMailer(cfg.SMTP)
		if err != nil {
			return nil, err
		}
		mailer = smtpMailer
	} else {
		logger.Warn("SMTP_HOST not set, emails are logged instead of sent")
		mailer = notify.NewLogMailer(logger)
	}

	return notify.NewDispatcher(templates, mailer, logger), nil
}

func newOutbox(ctx context.Context, cfg config.Config, dispatcher *notify.Dispatcher, cleanup *closers) (notify.Outbox, error) {
	switch cfg.Notify.Backend {
	case config.NotifyBackendDirect:
		return notify.NewDirectOutbox(dispatcher), nil
	case config.NotifyBackendBroker:
		broker, err := mq.Open(ctx, cfg)
		if err != nil {
			return nil, err
		}
		cleanup.add("mq", broker.Close)
		return notify.NewBrokerOutbox(broker, cfg.Notify.Channel)
	default:
		return nil, fmt.Errorf("unknown notify backend %q", cfg.Notify.Backend)
	}
}

package bootstrap

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	pollengine "quorum/contexts/collaboration/poll-engine"
	postgresadapter "quorum/contexts/collaboration/poll-engine/adapters/postgres"
	"quorum/contexts/collaboration/poll-engine/application/queries"
	workerapp "quorum/contexts/collaboration/poll-engine/application/workers"
	"quorum/contexts/collaboration/poll-engine/domain/templates"
	"quorum/contexts/collaboration/poll-engine/ports"
	"quorum/internal/platform/config"
	"quorum/internal/platform/db"
	"quorum/internal/platform/httpserver"
	"quorum/internal/platform/mail"
	"quorum/internal/platform/messaging"
)

// Package bootstrap is the composition root.
// Keep construction/wiring here so module code stays framework-agnostic.

type eventBus interface {
	ports.EventPublisher
	Subscribe(ctx context.Context, topic string, consumerGroup string, handler func(context.Context, ports.EventEnvelope) error) error
}

type APIApp struct {
	server   *httpserver.Server
	postgres *db.Postgres
	logger   *slog.Logger
}

type WorkerApp struct {
	cfg          config.Config
	postgres     *db.Postgres
	bus          eventBus
	outboxRelay  workerapp.OutboxRelay
	closingSoon  workerapp.ClosingSoonScanner
	notification workerapp.NotificationConsumer
	logger       *slog.Logger
}

func BuildAPI() (*APIApp, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	logger := slog.Default().With("service", cfg.ServiceName, "process", "api")
	if strings.TrimSpace(cfg.PostgresDSN) == "" {
		return nil, errors.New("POSTGRES_DSN is required")
	}

	pg, err := db.Connect(cfg.PostgresDSN)
	if err != nil {
		return nil, err
	}

	registry, err := loadTemplates(cfg)
	if err != nil {
		return nil, err
	}

	repo := postgresadapter.NewRepository(pg.DB, logger)
	module := pollengine.NewModule(pollengine.Dependencies{
		Polls:          repo,
		Options:        repo,
		Stances:        repo,
		Communities:    repo,
		Directory:      repo,
		Members:        repo,
		Mentions:       repo,
		Volumes:        repo,
		Idempotency:    repo,
		Outbox:         repo,
		Clock:          postgresadapter.SystemClock{},
		IDGen:          postgresadapter.UUIDGenerator{},
		Templates:      registry,
		IdempotencyTTL: cfg.IdempotencyTTL,
		Logger:         logger,
	})

	server := httpserver.New(module, logger, normalizeAddr(cfg.HTTPPort))
	return &APIApp{
		server:   server,
		postgres: pg,
		logger:   logger,
	}, nil
}

func BuildWorker() (*WorkerApp, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	logger := slog.Default().With("service", cfg.ServiceName, "process", "worker")
	if strings.TrimSpace(cfg.PostgresDSN) == "" {
		return nil, errors.New("POSTGRES_DSN is required")
	}

	pg, err := db.Connect(cfg.PostgresDSN)
	if err != nil {
		return nil, err
	}

	registry, err := loadTemplates(cfg)
	if err != nil {
		return nil, err
	}

	bus, err := buildBus(cfg, logger)
	if err != nil {
		return nil, err
	}

	repo := postgresadapter.NewRepository(pg.DB, logger)
	clock := postgresadapter.SystemClock{}
	return &WorkerApp{
		cfg:      cfg,
		postgres: pg,
		bus:      bus,
		outboxRelay: workerapp.OutboxRelay{
			Outbox:    repo,
			Publisher: bus,
			Clock:     clock,
			BatchSize: cfg.OutboxBatchSize,
			Logger:    logger,
		},
		closingSoon: workerapp.ClosingSoonScanner{
			Polls:            repo,
			Outbox:           repo,
			Clock:            clock,
			IDGen:            postgresadapter.UUIDGenerator{},
			Window:           cfg.ClosingSoonWindow,
			RecencyThreshold: 2 * cfg.ClosingSoonWindow,
			Logger:           logger,
		},
		notification: workerapp.NotificationConsumer{
			Polls: repo,
			Recipients: queries.RecipientsUseCase{
				Members:  repo,
				Mentions: repo,
				Volumes:  repo,
				Logger:   logger,
			},
			Mailer:    mail.LogMailer{Logger: logger},
			Dedup:     repo,
			Templates: registry,
			Clock:     clock,
			DedupTTL:  cfg.EventDedupTTL,
			Logger:    logger,
		},
		logger: logger,
	}, nil
}

func (a *APIApp) Run(_ context.Context) error {
	if a.logger != nil {
		a.logger.Info("api app started",
			"event", "bootstrap_api_started",
			"module", "internal/app/bootstrap",
			"layer", "platform",
		)
	}
	return a.server.Start()
}

func (a *APIApp) Close() error {
	if a.postgres != nil {
		return a.postgres.Close()
	}
	return nil
}

func (w *WorkerApp) Run(ctx context.Context) error {
	if w.cfg.EnableNotificationConsumer {
		for _, topic := range workerapp.NotificationTopics {
			if err := w.bus.Subscribe(ctx, topic, "poll-notifications-cg", w.notification.Handle); err != nil {
				return err
			}
		}
	}

	relayTicker := time.NewTicker(w.cfg.OutboxRelayInterval)
	defer relayTicker.Stop()
	scanTicker := time.NewTicker(w.cfg.ClosingSoonInterval)
	defer scanTicker.Stop()

	w.logger.Info("worker app started",
		"event", "bootstrap_worker_started",
		"module", "internal/app/bootstrap",
		"layer", "platform",
		"relay_interval", w.cfg.OutboxRelayInterval.String(),
		"scan_interval", w.cfg.ClosingSoonInterval.String(),
	)

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-relayTicker.C:
			if !w.cfg.EnableOutboxRelay {
				continue
			}
			if err := w.outboxRelay.RunOnce(ctx); err != nil {
				return err
			}
		case <-scanTicker.C:
			if !w.cfg.EnableClosingSoonScanner {
				continue
			}
			if err := w.closingSoon.RunOnce(ctx); err != nil {
				return err
			}
		}
	}
}

func (w *WorkerApp) Close() error {
	if closer, ok := w.bus.(interface{ Close() error }); ok {
		_ = closer.Close()
	}
	if w.postgres != nil {
		return w.postgres.Close()
	}
	return nil
}

func loadTemplates(cfg config.Config) (templates.Registry, error) {
	if strings.TrimSpace(cfg.TemplatesPath) == "" {
		return templates.Default(), nil
	}
	return templates.Load(cfg.TemplatesPath)
}

func buildBus(cfg config.Config, logger *slog.Logger) (eventBus, error) {
	if len(cfg.KafkaBrokers) == 0 {
		return messaging.NewBus(logger), nil
	}
	return messaging.NewKafka(cfg.KafkaBrokers, logger)
}

func normalizeAddr(port string) string {
	value := strings.TrimSpace(port)
	if value == "" {
		return ":8080"
	}
	if strings.HasPrefix(value, ":") {
		return value
	}
	return ":" + value
}

package app

import (
	"context"
	"fmt"
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/paybridge/internal/domain"
	"github.com/vladislavdragonenkov/paybridge/internal/metrics"
	"github.com/vladislavdragonenkov/paybridge/internal/service/downstream"
	"github.com/vladislavdragonenkov/paybridge/internal/service/gateway"
	"github.com/vladislavdragonenkov/paybridge/internal/storage/memory"
	"github.com/vladislavdragonenkov/paybridge/internal/storage/postgres"
)

// staticCredentials — провайдер секрета webhook из конфигурации.
type staticCredentials struct {
	secret string
}

func (c staticCredentials) WebhookSecret() string { return c.secret }

var _ domain.CredentialProvider = staticCredentials{}

// Dependencies содержит все зависимости конвейера.
type Dependencies struct {
	Sessions    domain.SessionRepository
	Guard       domain.EventGuard
	Downstream  domain.DownstreamService
	Gateway     domain.GatewayService
	Credentials domain.CredentialProvider
	Metrics     *metrics.PipelineMetrics
	Logger      *log.Entry

	// Store не nil только при PostgreSQL-хранилище; нужен для health-проверки
	// и закрытия пула.
	Store *postgres.Store
}

// NewDependencies собирает зависимости: хранилище выбирается по DSN,
// внешние интеграции по URL (пустой URL включает mock для локального запуска).
func NewDependencies(ctx context.Context, cfg Config, logger *log.Entry) (*Dependencies, error) {
	if logger == nil {
		logger = log.WithField("component", "app")
	}

	deps := &Dependencies{
		Credentials: staticCredentials{secret: cfg.WebhookSecret},
		Metrics:     metrics.NewPipelineMetrics(),
		Logger:      logger,
	}

	if dsn := strings.TrimSpace(cfg.PostgresDSN); dsn != "" {
		store, err := postgres.Open(ctx, dsn)
		if err != nil {
			return nil, fmt.Errorf("open postgres store: %w", err)
		}
		if cfg.PostgresAutoMigrate {
			if err := store.MigrateUp(ctx, 0); err != nil {
				_ = store.Close()
				return nil, fmt.Errorf("apply migrations: %w", err)
			}
		}
		deps.Store = store
		deps.Sessions = postgres.NewSessionRepository(store)
		deps.Guard = postgres.NewEventGuard(store, logger.WithField("component", "event-guard"))
		logger.Info("using postgres session store")
	} else {
		deps.Sessions = memory.NewSessionRepository()
		deps.Guard = memory.NewEventGuard()
		logger.Info("using in-memory session store")
	}

	if url := strings.TrimSpace(cfg.DownstreamURL); url != "" {
		deps.Downstream = downstream.NewClient(url, cfg.DownstreamKey, logger.WithField("component", "downstream"))
	} else {
		deps.Downstream = downstream.NewMockService()
		logger.Warn("downstream url is not set, using mock business-management service")
	}

	if url := strings.TrimSpace(cfg.GatewayURL); url != "" {
		deps.Gateway = gateway.NewClient(url, cfg.GatewayKey, logger.WithField("component", "gateway"))
	} else {
		deps.Gateway = gateway.NewMockService()
		logger.Warn("gateway url is not set, using mock payment gateway")
	}

	return deps, nil
}

// Close освобождает ресурсы зависимостей.
func (d *Dependencies) Close() {
	if d == nil || d.Store == nil {
		return
	}
	if err := d.Store.Close(); err != nil {
		d.Logger.WithError(err).Warn("failed to close postgres store")
	}
}

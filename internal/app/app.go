package app

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"

	healthcheck "github.com/vladislavdragonenkov/paybridge/internal/health"
	"github.com/vladislavdragonenkov/paybridge/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/paybridge/internal/service/guard"
	"github.com/vladislavdragonenkov/paybridge/internal/version"
	"github.com/vladislavdragonenkov/paybridge/internal/webhook"
)

// Run собирает зависимости и держит HTTP-серверы до отмены ctx.
func Run(ctx context.Context, cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger := log.WithField("component", "app")

	deps, err := NewDependencies(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer deps.Close()

	if cfg.WebhookSecret == "" {
		logger.Warn("webhook secret is empty, incoming notifications will be rejected")
	}

	// Kafka опционален: без брокеров события сессий просто не публикуются.
	kafkaProducer, _ := initKafkaProducer(cfg.KafkaBrokers, logger)
	defer closeKafka(kafkaProducer, logger)

	orch := createOrchestrator(deps, settingsFromConfig(cfg), kafkaProducer)
	handler := webhook.NewHandler(
		orch,
		deps.Sessions,
		deps.Guard,
		deps.Credentials,
		deps.Metrics,
		logger.WithField("component", "webhook"),
	)

	router := chi.NewRouter()
	router.Mount("/api/v1", handler.Routes())

	healthHandler := healthcheck.NewHandler(version.GetVersion())
	registerHealthCheckers(healthHandler, deps, kafkaProducer, cfg.KafkaBrokers)

	metricsSrv := startMetricsServer(ctx, cfg.MetricsAddr, logger, healthHandler)

	cleanupWorker := guard.NewCleanupWorker(
		deps.Guard,
		guard.WithLogger(logger.WithField("component", "guard-cleanup-worker")),
		guard.WithInterval(cfg.GuardCleanupInterval),
		guard.WithBatchSize(cfg.GuardCleanupBatchSize),
	)
	go cleanupWorker.Run(ctx)

	apiSrv := &http.Server{Addr: cfg.HTTPAddr, Handler: router}
	errCh := make(chan error, 1)
	go func() {
		logger.Infof("API сервер слушает %s", cfg.HTTPAddr)
		errCh <- apiSrv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logger.Info("получен сигнал остановки, останавливаем HTTP сервер")
		shutdownHTTP(apiSrv, logger)
		shutdownHTTP(metricsSrv, logger)
		return ctx.Err()
	case err := <-errCh:
		shutdownHTTP(metricsSrv, logger)
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// registerHealthCheckers регистрирует проверки компонентов на /healthz.
// Kafka опциональна: пустой список брокеров — healthy, настроенные брокеры
// без producer'а (инициализация не удалась) — degraded.
func registerHealthCheckers(healthHandler *healthcheck.Handler, deps *Dependencies, producer *kafka.Producer, brokers string) {
	if deps.Store != nil {
		store := deps.Store
		healthHandler.RegisterChecker("postgres", healthcheck.NewSimpleChecker("postgres", func() error {
			pingCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			return store.Ping(pingCtx)
		}))
	}

	healthHandler.RegisterChecker("kafka", healthcheck.CheckerFunc(func() healthcheck.Check {
		switch {
		case producer != nil:
			return healthcheck.Check{Name: "kafka", Status: healthcheck.StatusHealthy}
		case brokers == "":
			return healthcheck.Check{Name: "kafka", Status: healthcheck.StatusHealthy, Message: "not configured"}
		default:
			return healthcheck.Check{Name: "kafka", Status: healthcheck.StatusDegraded, Message: "producer unavailable"}
		}
	}))
}

// startMetricsServer запускает HTTP-обработчик /metrics и health-проверок.
func startMetricsServer(ctx context.Context, addr string, logger *log.Entry, healthHandler *healthcheck.Handler) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/healthz", healthHandler)
	mux.HandleFunc("/livez", healthcheck.LivenessHandler)
	mux.HandleFunc("/readyz", healthHandler.ReadinessHandler)

	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		logger.Infof("метрики доступны по адресу %s/metrics", addr)
		logger.Infof("health checks: %s/healthz, %s/livez, %s/readyz", addr, addr, addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Warn("metrics server failed")
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownHTTP(srv, logger)
	}()

	return srv
}

// shutdownHTTP аккуратно останавливает HTTP-сервер.
func shutdownHTTP(srv *http.Server, logger *log.Entry) {
	if srv == nil {
		return
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.WithError(err).Warn("http shutdown with error")
	}
}

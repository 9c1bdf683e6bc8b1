package app

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config описывает настройки запуска сервиса.
type Config struct {
	// HTTPAddr — адрес API конвейера (checkout, webhook, return).
	HTTPAddr string
	// MetricsAddr — адрес метрик и health-проверок.
	MetricsAddr string

	// PostgresDSN выбирает хранилище: пустое значение означает in-memory.
	PostgresDSN         string
	PostgresAutoMigrate bool

	// KafkaBrokers — список брокеров через запятую; пустое значение отключает producer.
	KafkaBrokers string

	// WebhookSecret — секрет HMAC-подписи входящих уведомлений.
	WebhookSecret string

	// DownstreamURL/DownstreamKey — учётная система; пустой URL включает mock.
	DownstreamURL string
	DownstreamKey string
	// GatewayURL/GatewayKey — платёжный шлюз; пустой URL включает mock.
	GatewayURL string
	GatewayKey string

	// LenientSuccess: transaction id без явного исхода трактуется как успех.
	LenientSuccess bool
	Currency       string

	// Callback-адреса, передаваемые шлюзу при создании hosted-платежа.
	NotificationURL string
	ReturnURL       string
	CancelURL       string

	GuardCleanupInterval  time.Duration
	GuardCleanupBatchSize int
}

// DefaultConfig возвращает настройки по умолчанию для локального запуска.
func DefaultConfig() Config {
	return Config{
		HTTPAddr:              ":8080",
		MetricsAddr:           ":9090",
		PostgresAutoMigrate:   true,
		LenientSuccess:        true,
		Currency:              "USD",
		GuardCleanupInterval:  10 * time.Minute,
		GuardCleanupBatchSize: 500,
	}
}

// ConfigFromEnv строит конфигурацию из переменных окружения поверх DefaultConfig.
func ConfigFromEnv() Config {
	cfg := DefaultConfig()

	setString(&cfg.HTTPAddr, "PAYBRIDGE_HTTP_ADDR")
	setString(&cfg.MetricsAddr, "PAYBRIDGE_METRICS_ADDR")
	setString(&cfg.PostgresDSN, "PAYBRIDGE_POSTGRES_DSN")
	setString(&cfg.KafkaBrokers, "KAFKA_BROKERS")
	setString(&cfg.WebhookSecret, "PAYBRIDGE_WEBHOOK_SECRET")
	setString(&cfg.DownstreamURL, "PAYBRIDGE_DOWNSTREAM_URL")
	setString(&cfg.DownstreamKey, "PAYBRIDGE_DOWNSTREAM_KEY")
	setString(&cfg.GatewayURL, "PAYBRIDGE_GATEWAY_URL")
	setString(&cfg.GatewayKey, "PAYBRIDGE_GATEWAY_KEY")
	setString(&cfg.Currency, "PAYBRIDGE_CURRENCY")
	setString(&cfg.NotificationURL, "PAYBRIDGE_NOTIFICATION_URL")
	setString(&cfg.ReturnURL, "PAYBRIDGE_RETURN_URL")
	setString(&cfg.CancelURL, "PAYBRIDGE_CANCEL_URL")

	if v := strings.TrimSpace(os.Getenv("PAYBRIDGE_LENIENT_SUCCESS")); v != "" {
		if parsed, err := strconv.ParseBool(v); err == nil {
			cfg.LenientSuccess = parsed
		}
	}
	if v := strings.TrimSpace(os.Getenv("PAYBRIDGE_POSTGRES_AUTO_MIGRATE")); v != "" {
		if parsed, err := strconv.ParseBool(v); err == nil {
			cfg.PostgresAutoMigrate = parsed
		}
	}

	return cfg
}

// Validate проверяет согласованность конфигурации перед запуском.
func (c Config) Validate() error {
	if strings.TrimSpace(c.HTTPAddr) == "" {
		return fmt.Errorf("http addr must not be empty")
	}
	if strings.TrimSpace(c.MetricsAddr) == "" {
		return fmt.Errorf("metrics addr must not be empty")
	}
	if c.GuardCleanupInterval <= 0 {
		return fmt.Errorf("guard cleanup interval must be positive")
	}
	if c.GuardCleanupBatchSize <= 0 {
		return fmt.Errorf("guard cleanup batch size must be positive")
	}
	return nil
}

func setString(dst *string, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		*dst = v
	}
}

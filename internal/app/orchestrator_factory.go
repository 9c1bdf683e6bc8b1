package app

import (
	"github.com/vladislavdragonenkov/paybridge/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/paybridge/internal/service/fulfillment"
)

// createOrchestrator создаёт fulfillment orchestrator с или без Kafka
// в зависимости от наличия kafka producer.
func createOrchestrator(
	deps *Dependencies,
	settings fulfillment.Settings,
	kafkaProducer *kafka.Producer,
) fulfillment.Orchestrator {
	if kafkaProducer != nil {
		return fulfillment.NewOrchestratorWithKafka(
			deps.Sessions,
			deps.Downstream,
			deps.Gateway,
			settings,
			kafkaProducer,
			deps.Logger,
		)
	}

	return fulfillment.NewOrchestrator(
		deps.Sessions,
		deps.Downstream,
		deps.Gateway,
		settings,
		deps.Logger,
	)
}

// settingsFromConfig переносит политику конвейера из конфигурации.
func settingsFromConfig(cfg Config) fulfillment.Settings {
	settings := fulfillment.DefaultSettings()
	settings.LenientSuccess = cfg.LenientSuccess
	if cfg.Currency != "" {
		settings.Currency = cfg.Currency
	}
	settings.NotificationURL = cfg.NotificationURL
	settings.ReturnURL = cfg.ReturnURL
	settings.CancelURL = cfg.CancelURL
	return settings
}

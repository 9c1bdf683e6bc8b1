package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// PipelineMetrics содержит метрики конвейера обработки уведомлений.
type PipelineMetrics struct {
	// Счётчики входящих уведомлений
	notificationsReceived prometheus.Counter
	notificationsRejected *prometheus.CounterVec
	notificationsDeduped  prometheus.Counter

	// Исходы fulfillment
	fulfillmentPaid   prometheus.Counter
	fulfillmentFailed *prometheus.CounterVec

	// Гистограмма времени fulfillment
	fulfillmentDuration prometheus.Histogram

	// Checkout-инициации
	checkoutsStarted prometheus.Counter

	// Gauge для активных fulfillment-пайплайнов
	activeFulfillments prometheus.Gauge
}

// NewPipelineMetrics создаёт метрики конвейера в default-регистре.
func NewPipelineMetrics() *PipelineMetrics {
	return newPipelineMetricsWithRegisterer(prometheus.DefaultRegisterer)
}

func newPipelineMetricsWithRegisterer(registerer prometheus.Registerer) *PipelineMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	return &PipelineMetrics{
		notificationsReceived: registerCounter(registerer, prometheus.CounterOpts{
			Name: "paybridge_notifications_received_total",
			Help: "Total number of gateway notifications received",
		}),
		notificationsRejected: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "paybridge_notifications_rejected_total",
			Help: "Total number of notifications rejected before processing",
		}, []string{"reason"}),
		notificationsDeduped: registerCounter(registerer, prometheus.CounterOpts{
			Name: "paybridge_notifications_deduped_total",
			Help: "Total number of duplicate notifications suppressed by the event guard",
		}),
		fulfillmentPaid: registerCounter(registerer, prometheus.CounterOpts{
			Name: "paybridge_fulfillment_paid_total",
			Help: "Total number of sessions fulfilled and posted downstream",
		}),
		fulfillmentFailed: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "paybridge_fulfillment_failed_total",
			Help: "Total number of sessions that reached the failed status",
		}, []string{"reason"}),
		fulfillmentDuration: registerHistogram(registerer, prometheus.HistogramOpts{
			Name:    "paybridge_fulfillment_duration_seconds",
			Help:    "Duration of notification fulfillment in seconds",
			Buckets: prometheus.DefBuckets,
		}),
		checkoutsStarted: registerCounter(registerer, prometheus.CounterOpts{
			Name: "paybridge_checkouts_started_total",
			Help: "Total number of hosted checkout sessions created",
		}),
		activeFulfillments: registerGauge(registerer, prometheus.GaugeOpts{
			Name: "paybridge_active_fulfillments",
			Help: "Number of fulfillment pipelines currently in flight",
		}),
	}
}

func registerCounter(registerer prometheus.Registerer, opts prometheus.CounterOpts) prometheus.Counter {
	collector := prometheus.NewCounter(opts)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(prometheus.Counter)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register counter %q: %v", opts.Name, err))
	}
	return collector
}

func registerCounterVec(registerer prometheus.Registerer, opts prometheus.CounterOpts, labels []string) *prometheus.CounterVec {
	collector := prometheus.NewCounterVec(opts, labels)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(*prometheus.CounterVec)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register counter vec %q: %v", opts.Name, err))
	}
	return collector
}

func registerGauge(registerer prometheus.Registerer, opts prometheus.GaugeOpts) prometheus.Gauge {
	collector := prometheus.NewGauge(opts)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(prometheus.Gauge)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register gauge %q: %v", opts.Name, err))
	}
	return collector
}

func registerHistogram(registerer prometheus.Registerer, opts prometheus.HistogramOpts) prometheus.Histogram {
	collector := prometheus.NewHistogram(opts)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(prometheus.Histogram)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register histogram %q: %v", opts.Name, err))
	}
	return collector
}

// RecordNotificationReceived увеличивает счётчик входящих уведомлений.
func (m *PipelineMetrics) RecordNotificationReceived() {
	m.notificationsReceived.Inc()
}

// RecordNotificationRejected учитывает отклонённое уведомление (подпись, формат).
func (m *PipelineMetrics) RecordNotificationRejected(reason string) {
	m.notificationsRejected.WithLabelValues(reason).Inc()
}

// RecordNotificationDeduped увеличивает счётчик подавленных дублей.
func (m *PipelineMetrics) RecordNotificationDeduped() {
	m.notificationsDeduped.Inc()
}

// RecordFulfillmentPaid увеличивает счётчик успешно проведённых продаж.
func (m *PipelineMetrics) RecordFulfillmentPaid() {
	m.fulfillmentPaid.Inc()
}

// RecordFulfillmentFailed учитывает терминальный провал fulfillment.
func (m *PipelineMetrics) RecordFulfillmentFailed(reason string) {
	m.fulfillmentFailed.WithLabelValues(reason).Inc()
}

// RecordFulfillmentDuration записывает длительность обработки уведомления.
func (m *PipelineMetrics) RecordFulfillmentDuration(duration time.Duration) {
	m.fulfillmentDuration.Observe(duration.Seconds())
}

// RecordCheckoutStarted увеличивает счётчик созданных hosted-сессий.
func (m *PipelineMetrics) RecordCheckoutStarted() {
	m.checkoutsStarted.Inc()
}

// RecordFulfillmentInFlightStarted увеличивает количество активных пайплайнов.
func (m *PipelineMetrics) RecordFulfillmentInFlightStarted() {
	m.activeFulfillments.Inc()
}

// RecordFulfillmentInFlightFinished уменьшает количество активных пайплайнов.
func (m *PipelineMetrics) RecordFulfillmentInFlightFinished() {
	m.activeFulfillments.Dec()
}

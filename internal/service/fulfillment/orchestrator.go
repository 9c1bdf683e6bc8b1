package fulfillment

import (
	"context"
	"errors"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/paybridge/internal/domain"
	"github.com/vladislavdragonenkov/paybridge/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/paybridge/internal/metrics"
)

// Статусы результата обработки уведомления.
const (
	ResultNoSession   = "no_session"
	ResultAlreadyPaid = "already_paid"
	ResultProcessing  = "processing"
	ResultFailed      = "failed"
	ResultPaid        = "paid"
)

// Result — исход обработки одного уведомления.
type Result struct {
	Status    string `json:"status"`
	SessionID string `json:"sessionId,omitempty"`
	// Receipt — идентификатор записи о продаже, если она была проведена.
	Receipt string `json:"receipt,omitempty"`
	Detail  string `json:"detail,omitempty"`
}

// Orchestrator описывает интерфейс управления fulfillment-конвейером.
type Orchestrator interface {
	// Process проводит сессию по машине состояний на основании уведомления.
	Process(ctx context.Context, n domain.Notification) Result
	// StartCheckout создаёт сессию и hosted-платёж у шлюза.
	StartCheckout(ctx context.Context, req CheckoutRequest) (domain.Session, string, error)
	// RecordDeduped фиксирует подавленную повторную доставку в событийном потоке.
	RecordDeduped(sessionID, eventID string)
}

// Settings задаёт политику и callback-адреса конвейера.
type Settings struct {
	// LenientSuccess: transaction id без явного исхода трактуется как успех.
	// Поведение части шлюзов; выключается per-tenant.
	LenientSuccess  bool
	Currency        string
	NotificationURL string
	ReturnURL       string
	CancelURL       string
}

// DefaultSettings возвращает политику по умолчанию.
func DefaultSettings() Settings {
	return Settings{
		LenientSuccess: true,
		Currency:       "USD",
	}
}

// orchestrator реализует машину состояний created → processing → paid/failed.
type orchestrator struct {
	sessions      domain.SessionRepository
	downstream    domain.DownstreamService
	gateway       domain.GatewayService
	settings      Settings
	logger        *log.Entry
	metrics       *metrics.PipelineMetrics
	kafkaProducer *kafka.Producer // опциональный producer событий сессий
}

// NewOrchestrator создаёт рабочий экземпляр оркестратора.
func NewOrchestrator(
	sessions domain.SessionRepository,
	downstream domain.DownstreamService,
	gateway domain.GatewayService,
	settings Settings,
	logger *log.Entry,
) Orchestrator {
	if logger == nil {
		logger = log.New().WithField("component", "fulfillment")
	}
	return &orchestrator{
		sessions:   sessions,
		downstream: downstream,
		gateway:    gateway,
		settings:   settings,
		logger:     logger,
		metrics:    metrics.NewPipelineMetrics(),
	}
}

// NewOrchestratorWithKafka создаёт оркестратор, публикующий события сессий в Kafka.
func NewOrchestratorWithKafka(
	sessions domain.SessionRepository,
	downstream domain.DownstreamService,
	gateway domain.GatewayService,
	settings Settings,
	kafkaProducer *kafka.Producer,
	logger *log.Entry,
) Orchestrator {
	if logger == nil {
		logger = log.New().WithField("component", "fulfillment")
	}
	return &orchestrator{
		sessions:      sessions,
		downstream:    downstream,
		gateway:       gateway,
		settings:      settings,
		logger:        logger,
		metrics:       metrics.NewPipelineMetrics(),
		kafkaProducer: kafkaProducer,
	}
}

// NewOrchestratorWithoutMetrics создаёт оркестратор без метрик (для тестов).
func NewOrchestratorWithoutMetrics(
	sessions domain.SessionRepository,
	downstream domain.DownstreamService,
	gateway domain.GatewayService,
	settings Settings,
	logger *log.Entry,
) Orchestrator {
	if logger == nil {
		logger = log.New().WithField("component", "fulfillment")
	}
	return &orchestrator{
		sessions:   sessions,
		downstream: downstream,
		gateway:    gateway,
		settings:   settings,
		logger:     logger,
	}
}

// Process проводит одну нотификацию через машину состояний. Метод идемпотентен
// относительно терминальных статусов: повторная доставка возвращает текущий
// статус без побочных эффектов.
func (o *orchestrator) Process(ctx context.Context, n domain.Notification) Result {
	start := time.Now()
	if o.metrics != nil {
		o.metrics.RecordFulfillmentInFlightStarted()
	}
	defer func() {
		if o.metrics != nil {
			o.metrics.RecordFulfillmentInFlightFinished()
			o.metrics.RecordFulfillmentDuration(time.Since(start))
		}
	}()

	session, err := o.sessions.Get(n.SessionID)
	if err != nil {
		o.logger.WithError(err).WithFields(log.Fields{
			"session_id": n.SessionID,
			"event_id":   n.EventID,
		}).Warn("notification for unknown session")
		return Result{Status: ResultNoSession, SessionID: n.SessionID}
	}

	if terminal, ok := o.terminalResult(session); ok {
		return terminal
	}
	if session.Status == domain.SessionStatusProcessing {
		return Result{Status: ResultProcessing, SessionID: session.ID}
	}

	if !n.Successful(o.settings.LenientSuccess) {
		return o.failSession(session, n, "gateway_reported_failure", nil)
	}

	// Единственная точка взаимного исключения: CAS created→processing.
	// Дальше сетевые вызовы идут без блокировки, сам статус processing
	// не пускает конкурентные доставки.
	session, err = o.sessions.TransitionStatus(session.ID, domain.SessionStatusCreated, domain.SessionStatusProcessing)
	if err != nil {
		if domain.IsStatusConflict(err) {
			return o.concurrentResult(session.ID)
		}
		o.logger.WithError(err).WithField("session_id", n.SessionID).Error("failed to lock session")
		return Result{Status: ResultProcessing, SessionID: n.SessionID, Detail: err.Error()}
	}

	if session.ClientID == "" {
		if session.Customer == nil {
			return o.failSession(session, n, "downstream_resolution_failure", domain.ErrCustomerRequired)
		}
		clientID, resolveErr := o.downstream.FindOrCreateCustomer(
			ctx,
			session.Customer.Email,
			session.Customer.FirstName,
			session.Customer.LastName,
		)
		if resolveErr != nil {
			return o.failSession(session, n, "downstream_resolution_failure", resolveErr)
		}
		session, err = o.sessions.Update(session.ID, domain.SessionPatch{ClientID: &clientID})
		if err != nil {
			return o.failSession(session, n, "downstream_resolution_failure", err)
		}
	}

	cart := buildCart(session, n)
	receipt, saleErr := o.downstream.CheckoutCart(ctx, cart)
	if saleErr != nil {
		// Платёж на шлюзе уже прошёл, продажа не записалась: терминальный failed,
		// автоматических повторов нет, случай для ручной сверки.
		return o.failSession(session, n, "downstream_sale_failure", saleErr)
	}

	paid := domain.SessionStatusPaid
	session, err = o.sessions.Update(session.ID, domain.SessionPatch{
		Status: &paid,
		Gateway: &domain.GatewayMetaPatch{
			TransactionID: &n.TransactionID,
			AuthCode:      &n.AuthCode,
			Last4:         &n.Last4,
		},
	})
	if err != nil {
		o.logger.WithError(err).WithField("session_id", session.ID).Error("failed to persist paid status")
		return Result{Status: ResultProcessing, SessionID: session.ID, Detail: err.Error()}
	}

	o.logger.WithFields(log.Fields{
		"session_id":     session.ID,
		"event_id":       n.EventID,
		"transaction_id": n.TransactionID,
		"receipt":        receipt.ID,
	}).Info("session fulfilled")

	if o.metrics != nil {
		o.metrics.RecordFulfillmentPaid()
	}
	o.publishSessionEvent(kafka.EventTypeSessionPaid, session.ID, map[string]any{
		"transaction_id": n.TransactionID,
		"receipt":        receipt.ID,
		"client_id":      session.ClientID,
		"total":          session.Total,
	})

	return Result{Status: ResultPaid, SessionID: session.ID, Receipt: receipt.ID}
}

// terminalResult отображает терминальную сессию в идемпотентный ответ.
func (o *orchestrator) terminalResult(session domain.Session) (Result, bool) {
	switch session.Status {
	case domain.SessionStatusPaid:
		return Result{Status: ResultAlreadyPaid, SessionID: session.ID, Receipt: session.Gateway.TransactionID}, true
	case domain.SessionStatusFailed:
		return Result{Status: ResultFailed, SessionID: session.ID, Detail: "session already failed"}, true
	default:
		return Result{}, false
	}
}

// concurrentResult перечитывает сессию после провала CAS и сообщает её статус.
func (o *orchestrator) concurrentResult(id string) Result {
	session, err := o.sessions.Get(id)
	if err != nil {
		return Result{Status: ResultNoSession, SessionID: id}
	}
	if terminal, ok := o.terminalResult(session); ok {
		return terminal
	}
	return Result{Status: ResultProcessing, SessionID: id}
}

// failSession переводит сессию в failed и формирует ответ с деталью.
func (o *orchestrator) failSession(session domain.Session, n domain.Notification, reason string, cause error) Result {
	detail := reason
	if cause != nil {
		detail = reason + ": " + cause.Error()
	}

	failed := domain.SessionStatusFailed
	if _, err := o.sessions.Update(session.ID, domain.SessionPatch{Status: &failed}); err != nil {
		if domain.IsStatusConflict(err) {
			return o.concurrentResult(session.ID)
		}
		o.logger.WithError(err).WithField("session_id", session.ID).Error("failed to persist failed status")
	}

	o.logger.WithFields(log.Fields{
		"session_id": session.ID,
		"event_id":   n.EventID,
		"reason":     reason,
		"detail":     detail,
	}).Warn("session fulfillment failed")

	if o.metrics != nil {
		o.metrics.RecordFulfillmentFailed(reason)
	}
	o.publishSessionEvent(kafka.EventTypeSessionFailed, session.ID, map[string]any{
		"reason": reason,
		"detail": detail,
	})

	return Result{Status: ResultFailed, SessionID: session.ID, Detail: detail}
}

// lineCategories отображает типы позиций на категории учётной системы.
var lineCategories = map[string]string{
	"product":    "product",
	"service":    "service",
	"membership": "membership",
	"package":    "package",
}

func mapCategory(lineType string) string {
	if category, ok := lineCategories[strings.ToLower(strings.TrimSpace(lineType))]; ok {
		return category
	}
	return "product"
}

// buildCart собирает корзину для учётной системы из позиций сессии.
// Reference: transaction id → order id шлюза → id сессии.
func buildCart(session domain.Session, n domain.Notification) domain.CartCheckout {
	items := make([]domain.CartItem, 0, len(session.Lines))
	for _, line := range session.Lines {
		items = append(items, domain.CartItem{
			ProductID: line.ProductID,
			Name:      line.Name,
			UnitPrice: line.UnitPrice,
			Quantity:  line.Quantity,
			Category:  mapCategory(line.Type),
		})
	}

	return domain.CartCheckout{
		CustomerID: session.ClientID,
		Items:      items,
		Total:      session.Total,
		Reference:  domain.SanitizeReference(n.TransactionID, session.Gateway.OrderID, session.ID),
		InStore:    session.InStore,
	}
}

// RecordDeduped публикует notification.deduped для подавленной повторной
// доставки. Состояние сессии не меняется.
func (o *orchestrator) RecordDeduped(sessionID, eventID string) {
	o.publishSessionEvent(kafka.EventTypeNotificationDeduped, sessionID, map[string]any{
		"event_id": eventID,
	})
}

// publishSessionEvent публикует событие сессии в Kafka (если producer настроен).
func (o *orchestrator) publishSessionEvent(eventType kafka.EventType, sessionID string, metadata map[string]any) {
	if o.kafkaProducer == nil {
		return
	}

	event := kafka.NewSessionEvent(eventType, sessionID, metadata)
	if err := o.kafkaProducer.PublishEvent(kafka.TopicSessionEvents, sessionID, event); err != nil {
		// Kafka опциональна: ошибку логируем, конвейер не прерываем.
		o.logger.WithError(err).WithFields(log.Fields{
			"event_type": eventType,
			"session_id": sessionID,
		}).Warn("failed to publish session event to kafka")
	}
}

var errGatewayDeclined = errors.New("gateway did not return a redirect url")

var _ Orchestrator = (*orchestrator)(nil)

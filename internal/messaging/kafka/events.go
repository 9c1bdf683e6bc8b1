package kafka

import "time"

// EventType определяет тип события жизненного цикла сессии.
type EventType string

const (
	// EventTypeCheckoutCreated — создана hosted checkout-сессия.
	EventTypeCheckoutCreated EventType = "checkout.created"
	// EventTypeSessionPaid — продажа проведена в учётной системе.
	EventTypeSessionPaid EventType = "session.paid"
	// EventTypeSessionFailed — платёж отклонён или fulfillment не удался.
	EventTypeSessionFailed EventType = "session.failed"
	// EventTypeNotificationDeduped — повторная доставка подавлена guard'ом.
	EventTypeNotificationDeduped EventType = "notification.deduped"
)

// Topics для Kafka
const (
	TopicSessionEvents = "paybridge.session.events"
)

// SessionEvent представляет событие checkout-сессии для downstream-аналитики
// и ручной сверки.
type SessionEvent struct {
	EventType EventType      `json:"event_type"`
	SessionID string         `json:"session_id"`
	Timestamp time.Time      `json:"timestamp"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// NewSessionEvent создаёт событие сессии с текущим timestamp.
func NewSessionEvent(eventType EventType, sessionID string, metadata map[string]any) *SessionEvent {
	return &SessionEvent{
		EventType: eventType,
		SessionID: sessionID,
		Timestamp: time.Now(),
		Metadata:  metadata,
	}
}

package domain

import (
	"context"
	"time"
)

// SessionRepository описывает требования к хранилищу checkout-сессий.
type SessionRepository interface {
	// Create сохраняет новую сессию. Возвращает ErrSessionExists, если ID занят.
	Create(session Session) error
	// Get возвращает сессию по идентификатору или ErrSessionNotFound.
	Get(id string) (Session, error)
	// Update применяет частичное обновление: shallow merge верхнего уровня,
	// вложенный merge для метаданных шлюза. Смена статуса валидируется
	// против forward-only таблицы переходов.
	Update(id string, patch SessionPatch) (Session, error)
	// TransitionStatus атомарно переводит статус from→to (compare-and-set).
	// Возвращает ErrStatusConflict, если текущий статус отличается от from.
	TransitionStatus(id string, from, to SessionStatus) (Session, error)
}

// EventGuard — «seen-once» множество идентификаторов событий шлюза с TTL.
type EventGuard interface {
	// Once возвращает true только первому вызову с данным ключом внутри TTL-окна.
	// Безопасен при конкурентных вызовах: true получает ровно один из них.
	Once(key string, ttl time.Duration) bool
	// DeleteExpired удаляет просроченные ключи (для фонового cleanup-воркера).
	DeleteExpired(before time.Time, limit int) (int, error)
}

// CartItem — позиция корзины в терминах учётной системы.
type CartItem struct {
	ProductID string
	Name      string
	UnitPrice float64
	Quantity  int32
	// Category — категория позиции в учётной системе (product/service/...).
	Category string
}

// CartCheckout описывает проведение продажи в учётной системе.
type CartCheckout struct {
	CustomerID string
	Items      []CartItem
	Total      float64
	// Reference связывает запись о продаже с транзакцией шлюза.
	Reference string
	InStore   bool
}

// Receipt — идентификатор записи о продаже, возвращённый учётной системой.
type Receipt struct {
	ID string
}

// DownstreamService описывает взаимодействие с учётной системой (business-management API).
type DownstreamService interface {
	// FindOrCreateCustomer ищет клиента по email или создаёт нового.
	FindOrCreateCustomer(ctx context.Context, email, firstName, lastName string) (string, error)
	// CheckoutCart проводит продажу и возвращает receipt.
	CheckoutCart(ctx context.Context, cart CartCheckout) (Receipt, error)
}

// HostedPaymentRequest — запрос на создание hosted-платежа у шлюза.
type HostedPaymentRequest struct {
	Amount          float64
	Currency        string
	OrderID         string
	SessionID       string
	Customer        *Customer
	NotificationURL string
	ReturnURL       string
	CancelURL       string
	Billing         map[string]string
}

// HostedPayment — результат создания hosted-платежа.
type HostedPayment struct {
	OK          bool
	RedirectURL string
	// Raw хранит непреобразованный ответ шлюза для диагностики.
	Raw []byte
}

// GatewayService описывает взаимодействие с платёжным шлюзом.
type GatewayService interface {
	// CreateHostedPayment создаёт платёжную сессию и возвращает redirect URL.
	CreateHostedPayment(ctx context.Context, req HostedPaymentRequest) (HostedPayment, error)
}

// CredentialProvider выдаёт секреты интеграции; lookup синхронный.
type CredentialProvider interface {
	// WebhookSecret возвращает секрет для проверки подписи входящих уведомлений.
	WebhookSecret() string
}

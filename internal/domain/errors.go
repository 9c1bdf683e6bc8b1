package domain

import "errors"

var (
	// Ошибка отсутствующих данных покупателя при неизвестном client id.
	ErrCustomerRequired = errors.New("customer is required when client_id is unknown")
	// Ошибка отсутствующего email покупателя.
	ErrCustomerEmailRequired = errors.New("customer email is required")
	// Ошибка отсутствия хотя бы одной позиции в корзине.
	ErrLinesRequired = errors.New("session must contain at least one line")
	// Ошибка при некорректном количестве (<= 0) в позиции.
	ErrLineQtyInvalid = errors.New("line quantity must be greater than zero")
	// Ошибка отрицательной цены позиции.
	ErrLinePriceInvalid = errors.New("line unit price must be non-negative")
	// Ошибка несоответствия суммы сессии и суммы позиций.
	ErrTotalMismatch = errors.New("session total does not match line extensions")
	// ErrSessionNotFound возвращается, если сессия не найдена в хранилище.
	ErrSessionNotFound = errors.New("session not found")
	// ErrSessionExists сигнализирует о попытке создать сессию с занятым ID.
	ErrSessionExists = errors.New("session already exists")
	// ErrStatusConflict возвращается при провале compare-and-set перехода статуса.
	ErrStatusConflict = errors.New("session status conflict")
	// ErrMissingSession — нормализатор не нашёл идентификатор сессии ни в одном источнике.
	ErrMissingSession = errors.New("notification does not carry a session id")
	// ErrCustomerResolution — учётная система не смогла найти или создать клиента.
	ErrCustomerResolution = errors.New("customer resolution failed")
	// ErrSaleRejected — учётная система отклонила проведение продажи (бизнес-ошибка).
	ErrSaleRejected = errors.New("downstream sale rejected")
	// ErrDownstreamUnavailable — транспортная ошибка при обращении к учётной системе.
	ErrDownstreamUnavailable = errors.New("downstream service unavailable")
	// ErrGatewayUnavailable — ошибка при создании hosted-платежа на стороне шлюза.
	ErrGatewayUnavailable = errors.New("payment gateway unavailable")
)

// IsStatusConflict проверяет, является ли ошибка провалом CAS-перехода.
func IsStatusConflict(err error) bool {
	return errors.Is(err, ErrStatusConflict)
}

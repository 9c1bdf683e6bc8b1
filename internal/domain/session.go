package domain

import (
	"math"
	"strings"
	"time"
)

// SessionStatus описывает жизненный цикл checkout-сессии.
type SessionStatus string

const (
	// SessionStatusCreated — сессия создана, платёж ещё не подтверждён шлюзом.
	SessionStatusCreated SessionStatus = "created"
	// SessionStatusProcessing — уведомление принято, fulfillment выполняется.
	SessionStatusProcessing SessionStatus = "processing"
	// SessionStatusPaid — продажа проведена в учётной системе; терминальный статус.
	SessionStatusPaid SessionStatus = "paid"
	// SessionStatusFailed — платёж отклонён или fulfillment не удался; терминальный статус.
	SessionStatusFailed SessionStatus = "failed"
)

// Terminal сообщает, является ли статус конечным.
func (s SessionStatus) Terminal() bool {
	return s == SessionStatusPaid || s == SessionStatusFailed
}

// CanTransition проверяет допустимость перехода: статус движется только вперёд.
func (s SessionStatus) CanTransition(to SessionStatus) bool {
	switch s {
	case SessionStatusCreated:
		return to == SessionStatusProcessing || to == SessionStatusFailed
	case SessionStatusProcessing:
		return to == SessionStatusPaid || to == SessionStatusFailed
	default:
		return false
	}
}

// Customer — данные покупателя, необходимые для создания клиента в учётной системе.
type Customer struct {
	Email     string `json:"email"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
}

// CartLine представляет одну позицию корзины.
type CartLine struct {
	// ProductID — внешний идентификатор товара в учётной системе.
	ProductID string `json:"productId"`
	Name      string `json:"name"`
	// UnitPrice — цена за единицу в валюте сессии, два знака после запятой.
	UnitPrice float64 `json:"unitPrice"`
	Quantity  int32   `json:"quantity"`
	// Type определяет категорию позиции при проведении продажи (product/service/...).
	Type string `json:"type"`
}

// GatewayMeta хранит идентификаторы платёжного шлюза, связанные с сессией.
type GatewayMeta struct {
	// OrderID назначается при создании сессии и передаётся шлюзу.
	OrderID string `json:"orderId,omitempty"`
	// TransactionID заполняется при успешном fulfillment.
	TransactionID string `json:"transactionId,omitempty"`
	AuthCode      string `json:"authCode,omitempty"`
	Last4         string `json:"last4,omitempty"`
}

// Session агрегирует состояние одной попытки оплаты от создания до терминального исхода.
type Session struct {
	ID       string        `json:"id"`
	Status   SessionStatus `json:"status"`
	Customer *Customer     `json:"customer,omitempty"`
	Lines    []CartLine    `json:"lines"`
	// Total фиксируется при создании и равен сумме line extensions; не пересчитывается.
	Total    float64 `json:"total"`
	Currency string  `json:"currency,omitempty"`
	// ClientID — идентификатор клиента в учётной системе; однажды установленный, не очищается.
	ClientID string      `json:"clientId,omitempty"`
	Gateway  GatewayMeta `json:"gatewayMeta"`
	// InStore влияет на то, как продажа отражается в учётной системе.
	InStore   bool      `json:"inStore"`
	Version   int64     `json:"-"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// ValidateInvariants проверяет базовые инварианты сессии и возвращает список замечаний.
func (s *Session) ValidateInvariants() []error {
	var errs []error

	if s.Customer == nil && s.ClientID == "" {
		errs = append(errs, ErrCustomerRequired)
	}
	if s.Customer != nil && strings.TrimSpace(s.Customer.Email) == "" && s.ClientID == "" {
		errs = append(errs, ErrCustomerEmailRequired)
	}
	if len(s.Lines) == 0 {
		errs = append(errs, ErrLinesRequired)
	}

	for _, line := range s.Lines {
		if line.Quantity <= 0 {
			errs = append(errs, ErrLineQtyInvalid)
		}
		if line.UnitPrice < 0 {
			errs = append(errs, ErrLinePriceInvalid)
		}
	}
	if Round2(s.Total) != LinesTotal(s.Lines) {
		errs = append(errs, ErrTotalMismatch)
	}

	return errs
}

// Round2 округляет денежную сумму до двух знаков после запятой.
func Round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// LinesTotal считает сумму позиций (unitPrice × quantity) с округлением до копеек.
func LinesTotal(lines []CartLine) float64 {
	var sum float64
	for _, line := range lines {
		sum += line.UnitPrice * float64(line.Quantity)
	}
	return Round2(sum)
}

// maxReferenceLen ограничивает длину reference для учётной системы.
const maxReferenceLen = 30

// SanitizeReference строит reference продажи из первого непустого кандидата,
// оставляя только буквы, цифры и дефисы и обрезая до 30 символов.
func SanitizeReference(candidates ...string) string {
	for _, candidate := range candidates {
		candidate = strings.TrimSpace(candidate)
		if candidate == "" {
			continue
		}

		var b strings.Builder
		for _, r := range candidate {
			switch {
			case r >= '0' && r <= '9', r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r == '-':
				b.WriteRune(r)
			}
		}
		ref := b.String()
		if ref == "" {
			continue
		}
		if len(ref) > maxReferenceLen {
			ref = ref[:maxReferenceLen]
		}
		return ref
	}
	return ""
}

// SessionPatch описывает частичное обновление сессии (shallow merge).
// Неустановленные (nil) поля не затрагиваются.
type SessionPatch struct {
	Status   *SessionStatus
	ClientID *string
	Customer *Customer
	// Gateway мержится по полям, чтобы частичные обновления не затирали
	// ранее записанные метаданные шлюза.
	Gateway *GatewayMetaPatch
	InStore *bool
}

// GatewayMetaPatch — частичное обновление метаданных шлюза.
type GatewayMetaPatch struct {
	OrderID       *string
	TransactionID *string
	AuthCode      *string
	Last4         *string
}

// Apply накладывает patch на метаданные, не очищая отсутствующие поля.
func (p *GatewayMetaPatch) Apply(meta *GatewayMeta) {
	if p == nil || meta == nil {
		return
	}
	if p.OrderID != nil {
		meta.OrderID = *p.OrderID
	}
	if p.TransactionID != nil {
		meta.TransactionID = *p.TransactionID
	}
	if p.AuthCode != nil {
		meta.AuthCode = *p.AuthCode
	}
	if p.Last4 != nil {
		meta.Last4 = *p.Last4
	}
}

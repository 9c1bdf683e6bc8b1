package gateway

import (
	"context"
	"sync"

	"github.com/vladislavdragonenkov/paybridge/internal/domain"
)

// MockService — конфигурируемая заглушка GatewayService для тестов
// и локальных запусков без шлюза.
type MockService struct {
	mu sync.Mutex

	Payment domain.HostedPayment
	Err     error

	Calls       int
	LastRequest domain.HostedPaymentRequest
}

// NewMockService возвращает mock, одобряющий платежи по умолчанию.
func NewMockService() *MockService {
	return &MockService{
		Payment: domain.HostedPayment{
			OK:          true,
			RedirectURL: "https://pay.example.com/hosted/mock",
		},
	}
}

// CreateHostedPayment возвращает настроенный результат и запоминает запрос.
func (m *MockService) CreateHostedPayment(_ context.Context, req domain.HostedPaymentRequest) (domain.HostedPayment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls++
	m.LastRequest = req
	if m.Err != nil {
		return domain.HostedPayment{}, m.Err
	}
	return m.Payment, nil
}

var _ domain.GatewayService = (*MockService)(nil)

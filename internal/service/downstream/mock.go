package downstream

import (
	"context"
	"sync"

	"github.com/vladislavdragonenkov/paybridge/internal/domain"
)

// MockService — конфигурируемая заглушка DownstreamService для тестов
// и локальных запусков без учётной системы.
type MockService struct {
	mu sync.Mutex

	CustomerID  string
	CustomerErr error
	Receipt     domain.Receipt
	CheckoutErr error

	ResolveCalls  int
	CheckoutCalls int
	LastCart      domain.CartCheckout
}

// NewMockService возвращает mock с успешным сценарием по умолчанию.
func NewMockService() *MockService {
	return &MockService{
		CustomerID: "mock-client-1",
		Receipt:    domain.Receipt{ID: "mock-sale-1"},
	}
}

// FindOrCreateCustomer возвращает заранее настроенный результат и считает вызовы.
func (m *MockService) FindOrCreateCustomer(_ context.Context, _, _, _ string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ResolveCalls++
	if m.CustomerErr != nil {
		return "", m.CustomerErr
	}
	return m.CustomerID, nil
}

// CheckoutCart возвращает настроенный receipt и запоминает последнюю корзину.
func (m *MockService) CheckoutCart(_ context.Context, cart domain.CartCheckout) (domain.Receipt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.CheckoutCalls++
	m.LastCart = cart
	if m.CheckoutErr != nil {
		return domain.Receipt{}, m.CheckoutErr
	}
	return m.Receipt, nil
}

var _ domain.DownstreamService = (*MockService)(nil)

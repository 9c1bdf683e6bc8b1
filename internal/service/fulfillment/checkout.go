package fulfillment

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/paybridge/internal/domain"
	"github.com/vladislavdragonenkov/paybridge/internal/messaging/kafka"
)

// CheckoutRequest — параметры инициирования checkout-сессии.
type CheckoutRequest struct {
	Customer *domain.Customer  `json:"customer,omitempty"`
	ClientID string            `json:"clientId,omitempty"`
	Lines    []domain.CartLine `json:"lines"`
	// Total опционален; непустое значение сверяется с суммой позиций.
	Total     float64           `json:"total,omitempty"`
	Currency  string            `json:"currency,omitempty"`
	InStore   bool              `json:"inStore,omitempty"`
	ReturnURL string            `json:"returnUrl,omitempty"`
	CancelURL string            `json:"cancelUrl,omitempty"`
	Billing   map[string]string `json:"billing,omitempty"`
}

// StartCheckout создаёт сессию и hosted-платёж у шлюза, возвращая redirect URL.
// При ошибке шлюза сессия остаётся в created: повторная инициация допустима.
func (o *orchestrator) StartCheckout(ctx context.Context, req CheckoutRequest) (domain.Session, string, error) {
	now := time.Now().UTC()
	currency := req.Currency
	if currency == "" {
		currency = o.settings.Currency
	}

	session := domain.Session{
		ID:        uuid.NewString(),
		Status:    domain.SessionStatusCreated,
		Customer:  req.Customer,
		ClientID:  req.ClientID,
		Lines:     req.Lines,
		Total:     domain.LinesTotal(req.Lines),
		Currency:  currency,
		Gateway:   domain.GatewayMeta{OrderID: uuid.NewString()},
		InStore:   req.InStore,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if req.Total != 0 && domain.Round2(req.Total) != session.Total {
		return domain.Session{}, "", domain.ErrTotalMismatch
	}
	if errs := session.ValidateInvariants(); len(errs) > 0 {
		return domain.Session{}, "", errs[0]
	}

	if err := o.sessions.Create(session); err != nil {
		return domain.Session{}, "", fmt.Errorf("create session: %w", err)
	}

	returnURL := req.ReturnURL
	if returnURL == "" {
		returnURL = o.settings.ReturnURL
	}
	cancelURL := req.CancelURL
	if cancelURL == "" {
		cancelURL = o.settings.CancelURL
	}

	payment, err := o.gateway.CreateHostedPayment(ctx, domain.HostedPaymentRequest{
		Amount:          session.Total,
		Currency:        session.Currency,
		OrderID:         session.Gateway.OrderID,
		SessionID:       session.ID,
		Customer:        session.Customer,
		NotificationURL: o.settings.NotificationURL,
		ReturnURL:       returnURL,
		CancelURL:       cancelURL,
		Billing:         req.Billing,
	})
	if err != nil {
		o.logger.WithError(err).WithField("session_id", session.ID).Warn("hosted payment creation failed")
		return session, "", fmt.Errorf("%w: %v", domain.ErrGatewayUnavailable, err)
	}
	if !payment.OK || payment.RedirectURL == "" {
		o.logger.WithField("session_id", session.ID).Warn("gateway declined hosted payment")
		return session, "", fmt.Errorf("%w: %v", domain.ErrGatewayUnavailable, errGatewayDeclined)
	}

	o.logger.WithFields(log.Fields{
		"session_id": session.ID,
		"order_id":   session.Gateway.OrderID,
		"total":      session.Total,
	}).Info("checkout session created")

	if o.metrics != nil {
		o.metrics.RecordCheckoutStarted()
	}
	o.publishSessionEvent(kafka.EventTypeCheckoutCreated, session.ID, map[string]any{
		"order_id": session.Gateway.OrderID,
		"total":    session.Total,
		"currency": session.Currency,
	})

	return session, payment.RedirectURL, nil
}

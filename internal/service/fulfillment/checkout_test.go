package fulfillment

import (
	"context"
	"errors"
	"testing"

	"github.com/vladislavdragonenkov/paybridge/internal/domain"
	"github.com/vladislavdragonenkov/paybridge/internal/storage/memory"
)

func checkoutRequest() CheckoutRequest {
	return CheckoutRequest{
		Customer: &domain.Customer{
			Email:     "buyer@example.com",
			FirstName: "Jane",
			LastName:  "Doe",
		},
		Lines: []domain.CartLine{
			{ProductID: "42", Name: "Widget", UnitPrice: 19.99, Quantity: 2, Type: "product"},
		},
	}
}

func TestStartCheckout_Success(t *testing.T) {
	repo := memory.NewSessionRepository()
	gateway := &stubGateway{payment: domain.HostedPayment{OK: true, RedirectURL: "https://pay.example/redirect"}}
	orch := newTestOrchestrator(repo, &stubDownstream{}, gateway)

	session, redirect, err := orch.StartCheckout(context.Background(), checkoutRequest())
	if err != nil {
		t.Fatalf("start checkout: %v", err)
	}
	if redirect != "https://pay.example/redirect" {
		t.Fatalf("unexpected redirect %q", redirect)
	}
	if session.Total != 39.98 {
		t.Fatalf("expected computed total 39.98, got %v", session.Total)
	}
	if session.Status != domain.SessionStatusCreated {
		t.Fatalf("expected created status, got %s", session.Status)
	}
	if session.ID == "" || session.Gateway.OrderID == "" {
		t.Fatalf("ids must be generated: %+v", session)
	}

	stored, err := repo.Get(session.ID)
	if err != nil {
		t.Fatalf("session must be persisted: %v", err)
	}
	if stored.Total != 39.98 {
		t.Fatalf("stored total mismatch: %v", stored.Total)
	}

	if gateway.lastReq.Amount != 39.98 || gateway.lastReq.SessionID != session.ID {
		t.Fatalf("gateway request mismatch: %+v", gateway.lastReq)
	}
}

func TestStartCheckout_TotalMismatch(t *testing.T) {
	repo := memory.NewSessionRepository()
	orch := newTestOrchestrator(repo, &stubDownstream{}, &stubGateway{})

	req := checkoutRequest()
	req.Total = 40.00

	if _, _, err := orch.StartCheckout(context.Background(), req); !errors.Is(err, domain.ErrTotalMismatch) {
		t.Fatalf("expected ErrTotalMismatch, got %v", err)
	}
}

func TestStartCheckout_MatchingClientTotalAccepted(t *testing.T) {
	repo := memory.NewSessionRepository()
	gateway := &stubGateway{payment: domain.HostedPayment{OK: true, RedirectURL: "https://pay.example/r"}}
	orch := newTestOrchestrator(repo, &stubDownstream{}, gateway)

	req := checkoutRequest()
	req.Total = 39.98

	if _, _, err := orch.StartCheckout(context.Background(), req); err != nil {
		t.Fatalf("matching total must pass: %v", err)
	}
}

func TestStartCheckout_ValidationErrors(t *testing.T) {
	repo := memory.NewSessionRepository()
	orch := newTestOrchestrator(repo, &stubDownstream{}, &stubGateway{})

	req := checkoutRequest()
	req.Customer = nil

	if _, _, err := orch.StartCheckout(context.Background(), req); !errors.Is(err, domain.ErrCustomerRequired) {
		t.Fatalf("expected ErrCustomerRequired, got %v", err)
	}

	req = checkoutRequest()
	req.Lines = nil
	if _, _, err := orch.StartCheckout(context.Background(), req); !errors.Is(err, domain.ErrLinesRequired) {
		t.Fatalf("expected ErrLinesRequired, got %v", err)
	}
}

func TestStartCheckout_GatewayFailureKeepsSessionCreated(t *testing.T) {
	repo := memory.NewSessionRepository()
	gateway := &stubGateway{err: errors.New("gateway 502")}
	orch := newTestOrchestrator(repo, &stubDownstream{}, gateway)

	session, _, err := orch.StartCheckout(context.Background(), checkoutRequest())
	if !errors.Is(err, domain.ErrGatewayUnavailable) {
		t.Fatalf("expected ErrGatewayUnavailable, got %v", err)
	}

	stored, getErr := repo.Get(session.ID)
	if getErr != nil {
		t.Fatalf("session must still exist: %v", getErr)
	}
	if stored.Status != domain.SessionStatusCreated {
		t.Fatalf("session must stay created, got %s", stored.Status)
	}
}

func TestStartCheckout_GatewayDeclined(t *testing.T) {
	repo := memory.NewSessionRepository()
	gateway := &stubGateway{payment: domain.HostedPayment{OK: false}}
	orch := newTestOrchestrator(repo, &stubDownstream{}, gateway)

	if _, _, err := orch.StartCheckout(context.Background(), checkoutRequest()); !errors.Is(err, domain.ErrGatewayUnavailable) {
		t.Fatalf("expected ErrGatewayUnavailable, got %v", err)
	}
}

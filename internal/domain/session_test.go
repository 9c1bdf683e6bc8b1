package domain_test

import (
	"testing"
	"time"

	"github.com/vladislavdragonenkov/paybridge/internal/domain"
)

// helper для создания базовой сессии с одной позицией.
func makeSession() domain.Session {
	now := time.Now().UTC()
	return domain.Session{
		ID:     "sess-1",
		Status: domain.SessionStatusCreated,
		Customer: &domain.Customer{
			Email:     "buyer@example.com",
			FirstName: "Jane",
			LastName:  "Doe",
		},
		Lines: []domain.CartLine{
			{
				ProductID: "42",
				Name:      "Widget",
				UnitPrice: 19.99,
				Quantity:  2,
				Type:      "product",
			},
		},
		Total:     39.98,
		Currency:  "USD",
		Gateway:   domain.GatewayMeta{OrderID: "ord-1"},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func TestSessionValidateInvariants_Ok(t *testing.T) {
	session := makeSession()
	if errs := session.ValidateInvariants(); len(errs) != 0 {
		t.Fatalf("expected no validation errors, got %v", errs)
	}
}

func TestSessionValidateInvariants_KnownClientWithoutCustomer(t *testing.T) {
	session := makeSession()
	session.Customer = nil
	session.ClientID = "client-9"
	if errs := session.ValidateInvariants(); len(errs) != 0 {
		t.Fatalf("client_id should replace customer, got %v", errs)
	}
}

func TestSessionValidateInvariants_Errors(t *testing.T) {
	cases := []struct {
		name string
		mut  func(s *domain.Session)
		want error
	}{
		{
			name: "no customer and no client id",
			mut: func(s *domain.Session) {
				s.Customer = nil
			},
			want: domain.ErrCustomerRequired,
		},
		{
			name: "no lines",
			mut: func(s *domain.Session) {
				s.Lines = nil
			},
			want: domain.ErrLinesRequired,
		},
		{
			name: "qty invalid",
			mut: func(s *domain.Session) {
				s.Lines[0].Quantity = 0
			},
			want: domain.ErrLineQtyInvalid,
		},
		{
			name: "negative price",
			mut: func(s *domain.Session) {
				s.Lines[0].UnitPrice = -0.01
			},
			want: domain.ErrLinePriceInvalid,
		},
		{
			name: "total mismatch",
			mut: func(s *domain.Session) {
				s.Total = 40.00
			},
			want: domain.ErrTotalMismatch,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			session := makeSession()
			tc.mut(&session)

			errs := session.ValidateInvariants()
			if len(errs) == 0 {
				t.Fatalf("expected validation errors")
			}
			found := false
			for _, err := range errs {
				if err == tc.want {
					found = true
				}
			}
			if !found {
				t.Fatalf("expected %v among %v", tc.want, errs)
			}
		})
	}
}

func TestSessionStatusCanTransition(t *testing.T) {
	allowed := map[domain.SessionStatus][]domain.SessionStatus{
		domain.SessionStatusCreated:    {domain.SessionStatusProcessing, domain.SessionStatusFailed},
		domain.SessionStatusProcessing: {domain.SessionStatusPaid, domain.SessionStatusFailed},
		domain.SessionStatusPaid:       {},
		domain.SessionStatusFailed:     {},
	}
	all := []domain.SessionStatus{
		domain.SessionStatusCreated,
		domain.SessionStatusProcessing,
		domain.SessionStatusPaid,
		domain.SessionStatusFailed,
	}

	for from, tos := range allowed {
		for _, to := range all {
			want := false
			for _, ok := range tos {
				if ok == to {
					want = true
				}
			}
			if got := from.CanTransition(to); got != want {
				t.Fatalf("%s -> %s: got %v, want %v", from, to, got, want)
			}
		}
	}
}

func TestLinesTotal_Rounding(t *testing.T) {
	lines := []domain.CartLine{
		{UnitPrice: 19.99, Quantity: 2},
		{UnitPrice: 0.1, Quantity: 3},
	}
	// 39.98 + 0.30000000000000004 округляется до 40.28.
	if got := domain.LinesTotal(lines); got != 40.28 {
		t.Fatalf("unexpected total %v", got)
	}
}

func TestSanitizeReference(t *testing.T) {
	cases := []struct {
		name       string
		candidates []string
		want       string
	}{
		{"first non-empty wins", []string{"", "TX-1", "ord-9"}, "TX-1"},
		{"strips punctuation", []string{"tx_12/34:ab"}, "tx1234ab"},
		{"caps length", []string{"abcdefghijklmnopqrstuvwxyz0123456789"}, "abcdefghijklmnopqrstuvwxyz0123"},
		{"skips whitespace-only", []string{"   ", "sess-1"}, "sess-1"},
		{"skips all-punctuation", []string{"***", "sess-2"}, "sess-2"},
		{"all empty", []string{"", ""}, ""},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := domain.SanitizeReference(tc.candidates...); got != tc.want {
				t.Fatalf("got %q, want %q", got, tc.want)
			}
		})
	}
}

func TestGatewayMetaPatch_ApplyKeepsExisting(t *testing.T) {
	meta := domain.GatewayMeta{OrderID: "ord-1", TransactionID: "tx-1"}
	auth := "A1"
	patch := domain.GatewayMetaPatch{AuthCode: &auth}
	patch.Apply(&meta)

	if meta.OrderID != "ord-1" || meta.TransactionID != "tx-1" || meta.AuthCode != "A1" {
		t.Fatalf("partial patch erased fields: %+v", meta)
	}
}

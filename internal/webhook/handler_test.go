package webhook

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/IBM/sarama/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/paybridge/internal/domain"
	"github.com/vladislavdragonenkov/paybridge/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/paybridge/internal/service/fulfillment"
	"github.com/vladislavdragonenkov/paybridge/internal/storage/memory"
)

const testSecret = "whsec_test"

type staticCredentials struct{ secret string }

func (c staticCredentials) WebhookSecret() string { return c.secret }

type fakeDownstream struct {
	mu         sync.Mutex
	customerID string
	receipt    domain.Receipt
	saleErr    error
	resolveCnt int
	saleCnt    int
	lastCart   domain.CartCheckout
}

func (f *fakeDownstream) FindOrCreateCustomer(_ context.Context, _, _, _ string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resolveCnt++
	return f.customerID, nil
}

func (f *fakeDownstream) CheckoutCart(_ context.Context, cart domain.CartCheckout) (domain.Receipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.saleCnt++
	f.lastCart = cart
	if f.saleErr != nil {
		return domain.Receipt{}, f.saleErr
	}
	return f.receipt, nil
}

type fakeGateway struct {
	err      error
	redirect string
}

func (f *fakeGateway) CreateHostedPayment(_ context.Context, _ domain.HostedPaymentRequest) (domain.HostedPayment, error) {
	if f.err != nil {
		return domain.HostedPayment{}, f.err
	}
	url := f.redirect
	if url == "" {
		url = "https://pay.example.com/hosted/abc"
	}
	return domain.HostedPayment{OK: true, RedirectURL: url}, nil
}

// testEnv собирает полный конвейер на in-memory хранилище.
type testEnv struct {
	handler    *Handler
	server     *httptest.Server
	sessions   domain.SessionRepository
	downstream *fakeDownstream
	gateway    *fakeGateway
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	sessions := memory.NewSessionRepository()
	guard := memory.NewEventGuard()
	downstream := &fakeDownstream{customerID: "client-9", receipt: domain.Receipt{ID: "rcpt-1"}}
	gateway := &fakeGateway{}
	orch := fulfillment.NewOrchestratorWithoutMetrics(sessions, downstream, gateway, fulfillment.DefaultSettings(), nil)

	h := NewHandler(orch, sessions, guard, staticCredentials{secret: testSecret}, nil, nil)
	server := httptest.NewServer(h.Routes())
	t.Cleanup(server.Close)

	return &testEnv{
		handler:    h,
		server:     server,
		sessions:   sessions,
		downstream: downstream,
		gateway:    gateway,
	}
}

func (e *testEnv) seedSession(t *testing.T, status domain.SessionStatus) domain.Session {
	t.Helper()

	now := time.Now().UTC()
	session := domain.Session{
		ID:     "sess-1",
		Status: status,
		Customer: &domain.Customer{
			Email:     "buyer@example.com",
			FirstName: "Jane",
			LastName:  "Doe",
		},
		Lines: []domain.CartLine{{
			ProductID: "42",
			Name:      "Widget",
			UnitPrice: 19.99,
			Quantity:  2,
			Type:      "product",
		}},
		Total:     39.98,
		Currency:  "USD",
		Gateway:   domain.GatewayMeta{OrderID: "ord-1"},
		CreatedAt: now,
		UpdatedAt: now,
	}
	require.NoError(t, e.sessions.Create(session))
	return session
}

// postWebhook отправляет подписанное уведомление; signature == "" означает
// подпись, вычисленную от payload.
func (e *testEnv) postWebhook(t *testing.T, payload []byte, signature string) (*http.Response, webhookResponse) {
	t.Helper()

	if signature == "" {
		signature = hex.EncodeToString(sign(testSecret, payload))
	}
	req, err := http.NewRequest(http.MethodPost, e.server.URL+"/webhook", bytes.NewReader(payload))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(DefaultSignatureHeader, signature)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var decoded webhookResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&decoded))
	return resp, decoded
}

func successPayload() []byte {
	return []byte(`{"event_id":"evt-1","session_id":"sess-1","transaction_id":"TX1","auth_code":"A7","last4":"1234","result_code":"00"}`)
}

func TestWebhook_SuccessfulNotification(t *testing.T) {
	env := newTestEnv(t)
	env.seedSession(t, domain.SessionStatusCreated)

	resp, body := env.postWebhook(t, successPayload(), "")

	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, body.Received)
	assert.Equal(t, fulfillment.ResultPaid, body.Status)
	assert.Equal(t, "rcpt-1", body.Receipt)
	assert.Equal(t, "TX1", env.downstream.lastCart.Reference)

	session, err := env.sessions.Get("sess-1")
	require.NoError(t, err)
	assert.Equal(t, domain.SessionStatusPaid, session.Status)
	assert.Equal(t, "TX1", session.Gateway.TransactionID)
	assert.Equal(t, "A7", session.Gateway.AuthCode)
}

func TestWebhook_DuplicateDeliverySuppressed(t *testing.T) {
	env := newTestEnv(t)
	env.seedSession(t, domain.SessionStatusCreated)

	_, first := env.postWebhook(t, successPayload(), "")
	require.Equal(t, fulfillment.ResultPaid, first.Status)

	resp, second := env.postWebhook(t, successPayload(), "")

	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, second.Received)
	assert.True(t, second.Deduped)
	assert.Equal(t, statusDuplicateEvent, second.Status)
	assert.Equal(t, 1, env.downstream.saleCnt, "duplicate must not reach downstream")
}

func TestWebhook_DuplicateDeliveryPublishesDedupEvent(t *testing.T) {
	mockProducer := mocks.NewSyncProducer(t, nil)
	// Первая доставка — session.paid, повторная — notification.deduped.
	mockProducer.ExpectSendMessageAndSucceed()
	mockProducer.ExpectSendMessageWithCheckerFunctionAndSucceed(func(val []byte) error {
		var event kafka.SessionEvent
		if err := json.Unmarshal(val, &event); err != nil {
			return err
		}
		if event.EventType != kafka.EventTypeNotificationDeduped {
			return fmt.Errorf("unexpected event type %s", event.EventType)
		}
		if event.SessionID != "sess-1" {
			return fmt.Errorf("unexpected session id %s", event.SessionID)
		}
		return nil
	})

	sessions := memory.NewSessionRepository()
	guard := memory.NewEventGuard()
	downstream := &fakeDownstream{customerID: "client-9", receipt: domain.Receipt{ID: "rcpt-1"}}
	gateway := &fakeGateway{}
	orch := fulfillment.NewOrchestratorWithKafka(
		sessions,
		downstream,
		gateway,
		fulfillment.DefaultSettings(),
		kafka.WrapSyncProducer(mockProducer),
		nil,
	)
	h := NewHandler(orch, sessions, guard, staticCredentials{secret: testSecret}, nil, nil)
	server := httptest.NewServer(h.Routes())
	t.Cleanup(server.Close)

	env := &testEnv{handler: h, server: server, sessions: sessions, downstream: downstream, gateway: gateway}
	env.seedSession(t, domain.SessionStatusCreated)

	_, first := env.postWebhook(t, successPayload(), "")
	require.Equal(t, fulfillment.ResultPaid, first.Status)

	_, second := env.postWebhook(t, successPayload(), "")
	require.True(t, second.Deduped)

	require.NoError(t, mockProducer.Close())
}

func TestWebhook_TamperedSignature(t *testing.T) {
	env := newTestEnv(t)
	env.seedSession(t, domain.SessionStatusCreated)

	payload := successPayload()
	signature := hex.EncodeToString(sign(testSecret, []byte(`{"other":"payload"}`)))
	resp, body := env.postWebhook(t, payload, signature)

	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "signature_invalid", body.Error)
	assert.Equal(t, 0, env.downstream.saleCnt)

	session, err := env.sessions.Get("sess-1")
	require.NoError(t, err)
	assert.Equal(t, domain.SessionStatusCreated, session.Status)
}

func TestWebhook_MissingSignature(t *testing.T) {
	env := newTestEnv(t)

	req, err := http.NewRequest(http.MethodPost, env.server.URL+"/webhook", bytes.NewReader(successPayload()))
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestWebhook_MalformedJSON(t *testing.T) {
	env := newTestEnv(t)

	payload := []byte(`{"broken`)
	resp, body := env.postWebhook(t, payload, "")

	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "malformed_payload", body.Error)
}

func TestWebhook_FailureResultText(t *testing.T) {
	env := newTestEnv(t)
	env.seedSession(t, domain.SessionStatusCreated)

	// result "0" — текстовый индикатор отказа.
	payload := []byte(`{"event_id":"evt-2","session_id":"sess-1","result":"0"}`)
	resp, body := env.postWebhook(t, payload, "")

	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, fulfillment.ResultFailed, body.Status)
	assert.Equal(t, 0, env.downstream.saleCnt)

	session, err := env.sessions.Get("sess-1")
	require.NoError(t, err)
	assert.Equal(t, domain.SessionStatusFailed, session.Status)
}

func TestWebhook_MissingSessionAcknowledged(t *testing.T) {
	env := newTestEnv(t)

	payload := []byte(`{"event_id":"evt-3","transaction_id":"TX9","result_code":"00"}`)
	resp, body := env.postWebhook(t, payload, "")

	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, body.Received)
	assert.Equal(t, statusMissingSession, body.Status)
}

func TestWebhook_UnknownSession(t *testing.T) {
	env := newTestEnv(t)

	resp, body := env.postWebhook(t, successPayload(), "")

	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, fulfillment.ResultNoSession, body.Status)
}

func TestReturn_ReconcilesPendingSession(t *testing.T) {
	env := newTestEnv(t)
	env.seedSession(t, domain.SessionStatusCreated)

	resp, err := http.Get(env.server.URL + "/return?session_id=sess-1&transaction_id=TX1&result_code=00")
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	var session domain.Session
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&session))
	assert.Equal(t, domain.SessionStatusPaid, session.Status)
	assert.Equal(t, 1, env.downstream.saleCnt)
}

func TestReturn_TerminalSessionReadOnly(t *testing.T) {
	env := newTestEnv(t)
	env.seedSession(t, domain.SessionStatusPaid)

	resp, err := http.Get(env.server.URL + "/return?session_id=sess-1&transaction_id=TX1")
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 0, env.downstream.saleCnt)
}

func TestReturn_NoOutcomeSignalReadOnly(t *testing.T) {
	env := newTestEnv(t)
	env.seedSession(t, domain.SessionStatusCreated)

	// Возврат без result-полей и transaction id не трогает состояние сессии.
	resp, err := http.Get(env.server.URL + "/return?session_id=sess-1")
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	var session domain.Session
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&session))
	assert.Equal(t, domain.SessionStatusCreated, session.Status)
	assert.Equal(t, 0, env.downstream.saleCnt)

	// Настоящее уведомление после такого возврата всё ещё проводит продажу.
	_, body := env.postWebhook(t, successPayload(), "")
	assert.Equal(t, fulfillment.ResultPaid, body.Status)
	assert.Equal(t, 1, env.downstream.saleCnt)
}

func TestReturn_MissingSessionID(t *testing.T) {
	env := newTestEnv(t)

	resp, err := http.Get(env.server.URL + "/return?transaction_id=TX1")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestReturn_UnknownSession(t *testing.T) {
	env := newTestEnv(t)

	resp, err := http.Get(env.server.URL + "/return?session_id=missing")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestCheckout_CreatesSessionAndRedirect(t *testing.T) {
	env := newTestEnv(t)

	body := []byte(`{
		"customer": {"email": "buyer@example.com", "firstName": "Jane", "lastName": "Doe"},
		"lines": [{"productId": "42", "name": "Widget", "unitPrice": 19.99, "quantity": 2}]
	}`)
	resp, err := http.Post(env.server.URL+"/checkout", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var decoded checkoutResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&decoded))
	assert.NotEmpty(t, decoded.SessionID)
	assert.Equal(t, "https://pay.example.com/hosted/abc", decoded.RedirectURL)
	assert.InDelta(t, 39.98, decoded.Total, 0.001)
	assert.Equal(t, string(domain.SessionStatusCreated), decoded.Status)

	session, err := env.sessions.Get(decoded.SessionID)
	require.NoError(t, err)
	assert.Equal(t, domain.SessionStatusCreated, session.Status)
}

func TestCheckout_ValidationFailure(t *testing.T) {
	env := newTestEnv(t)

	body := []byte(`{"lines": []}`)
	resp, err := http.Post(env.server.URL+"/checkout", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestCheckout_GatewayUnavailable(t *testing.T) {
	env := newTestEnv(t)
	env.gateway.err = errors.New("connection refused")

	body := []byte(`{
		"customer": {"email": "buyer@example.com"},
		"lines": [{"productId": "42", "name": "Widget", "unitPrice": 19.99, "quantity": 2}]
	}`)
	resp, err := http.Post(env.server.URL+"/checkout", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
}

func TestGetSession(t *testing.T) {
	env := newTestEnv(t)
	env.seedSession(t, domain.SessionStatusCreated)

	resp, err := http.Get(env.server.URL + "/sessions/sess-1")
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	var session domain.Session
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&session))
	assert.Equal(t, "sess-1", session.ID)

	missing, err := http.Get(env.server.URL + "/sessions/absent")
	require.NoError(t, err)
	defer missing.Body.Close()
	assert.Equal(t, http.StatusNotFound, missing.StatusCode)
}

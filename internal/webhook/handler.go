package webhook

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/paybridge/internal/domain"
	"github.com/vladislavdragonenkov/paybridge/internal/metrics"
	"github.com/vladislavdragonenkov/paybridge/internal/service/fulfillment"
)

const (
	// DefaultSignatureHeader — заголовок с HMAC-подписью уведомления.
	DefaultSignatureHeader = "X-Signature"
	// defaultDedupTTL — окно дедупликации событий шлюза.
	defaultDedupTTL = 10 * time.Minute
	// maxBodyBytes ограничивает размер тела уведомления.
	maxBodyBytes = 1 << 20
)

// Статусы ответов, не производимые оркестратором.
const (
	statusMissingSession = "missing_session"
	statusDuplicateEvent = "duplicate_event"
)

// Handler обслуживает HTTP-поверхность: webhook, return, checkout, чтение сессий.
type Handler struct {
	orch            fulfillment.Orchestrator
	sessions        domain.SessionRepository
	guard           domain.EventGuard
	credentials     domain.CredentialProvider
	logger          *log.Entry
	metrics         *metrics.PipelineMetrics
	dedupTTL        time.Duration
	signatureHeader string
}

// NewHandler создаёт HTTP-handler конвейера. metrics может быть nil (тесты).
func NewHandler(
	orch fulfillment.Orchestrator,
	sessions domain.SessionRepository,
	guard domain.EventGuard,
	credentials domain.CredentialProvider,
	pipelineMetrics *metrics.PipelineMetrics,
	logger *log.Entry,
) *Handler {
	if logger == nil {
		logger = log.WithField("component", "webhook")
	}
	return &Handler{
		orch:            orch,
		sessions:        sessions,
		guard:           guard,
		credentials:     credentials,
		logger:          logger,
		metrics:         pipelineMetrics,
		dedupTTL:        defaultDedupTTL,
		signatureHeader: DefaultSignatureHeader,
	}
}

// Routes монтирует маршруты конвейера.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/checkout", h.handleCheckout)
	r.Post("/webhook", h.handleWebhook)
	r.Get("/return", h.handleReturn)
	r.Get("/sessions/{session_id}", h.handleGetSession)
	return r
}

// webhookResponse — контракт ответа webhook-эндпоинта.
type webhookResponse struct {
	Received  bool   `json:"received"`
	Deduped   bool   `json:"deduped,omitempty"`
	Status    string `json:"status,omitempty"`
	SessionID string `json:"sessionId,omitempty"`
	Receipt   string `json:"receipt,omitempty"`
	Detail    string `json:"detail,omitempty"`
	Error     string `json:"error,omitempty"`
}

// handleWebhook принимает асинхронное уведомление шлюза. Любой разобранный,
// но отклонённый по состоянию event подтверждается HTTP 200; 400 возвращается
// только для неподписанных или нечитаемых запросов.
func (h *Handler) handleWebhook(w http.ResponseWriter, r *http.Request) {
	raw, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		h.reject(w, "malformed_payload")
		return
	}

	if !VerifySignature(raw, r.Header.Get(h.signatureHeader), h.credentials.WebhookSecret()) {
		h.logger.WithField("remote", r.RemoteAddr).Warn("webhook signature rejected")
		h.reject(w, "signature_invalid")
		return
	}

	bodyFields, err := ParseBody(r.Header.Get("Content-Type"), raw)
	if err != nil {
		h.logger.WithError(err).Warn("webhook body unparseable")
		h.reject(w, "malformed_payload")
		return
	}
	if h.metrics != nil {
		h.metrics.RecordNotificationReceived()
	}

	n, err := Normalize(r.URL.Query(), bodyFields, r.URL.RawQuery)
	if errors.Is(err, domain.ErrMissingSession) {
		h.logger.WithField("event_id", n.EventID).Warn("notification without session id")
		writeJSON(w, http.StatusOK, webhookResponse{Received: true, Status: statusMissingSession})
		return
	}

	if key := n.DedupKey(); key != "" && !h.guard.Once(key, h.dedupTTL) {
		if h.metrics != nil {
			h.metrics.RecordNotificationDeduped()
		}
		h.logger.WithFields(log.Fields{
			"session_id": n.SessionID,
			"event_id":   n.EventID,
		}).Info("duplicate notification suppressed")
		h.orch.RecordDeduped(n.SessionID, n.EventID)
		writeJSON(w, http.StatusOK, webhookResponse{
			Received:  true,
			Deduped:   true,
			Status:    statusDuplicateEvent,
			SessionID: n.SessionID,
		})
		return
	}

	res := h.orch.Process(r.Context(), n)
	writeJSON(w, http.StatusOK, webhookResponse{
		Received:  true,
		Status:    res.Status,
		SessionID: res.SessionID,
		Receipt:   res.Receipt,
		Detail:    res.Detail,
	})
}

// handleReturn — синхронная сверка при возврате покупателя от шлюза.
// Если сессия ещё не терминальна и query несёт сигнал исхода, уведомление
// проходит тот же конвейер, затем возвращается состояние сессии.
func (h *Handler) handleReturn(w http.ResponseWriter, r *http.Request) {
	n, err := Normalize(r.URL.Query(), nil, r.URL.RawQuery)
	if errors.Is(err, domain.ErrMissingSession) {
		writeJSON(w, http.StatusBadRequest, webhookResponse{Error: statusMissingSession})
		return
	}

	session, err := h.sessions.Get(n.SessionID)
	if err != nil {
		writeJSON(w, http.StatusNotFound, webhookResponse{Error: fulfillment.ResultNoSession, SessionID: n.SessionID})
		return
	}

	// Сверка запускается только когда query несёт хотя бы один сигнал исхода:
	// возврат без result-полей и transaction id читает состояние, не меняя его.
	if !session.Status.Terminal() && n.HasOutcome() {
		key := n.DedupKey()
		if key == "" || h.guard.Once(key, h.dedupTTL) {
			h.orch.Process(r.Context(), n)
		} else {
			h.orch.RecordDeduped(n.SessionID, n.EventID)
		}
		if refreshed, getErr := h.sessions.Get(n.SessionID); getErr == nil {
			session = refreshed
		}
	}

	writeJSON(w, http.StatusOK, session)
}

// checkoutResponse — ответ на инициирование checkout.
type checkoutResponse struct {
	SessionID   string  `json:"sessionId"`
	RedirectURL string  `json:"redirectUrl"`
	Total       float64 `json:"total"`
	Status      string  `json:"status"`
}

// handleCheckout создаёт сессию и hosted-платёж, возвращая redirect URL.
func (h *Handler) handleCheckout(w http.ResponseWriter, r *http.Request) {
	var req fulfillment.CheckoutRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, webhookResponse{Error: "malformed_payload"})
		return
	}

	session, redirect, err := h.orch.StartCheckout(r.Context(), req)
	switch {
	case err == nil:
	case errors.Is(err, domain.ErrGatewayUnavailable):
		writeJSON(w, http.StatusBadGateway, webhookResponse{Error: "gateway_unavailable", SessionID: session.ID, Detail: err.Error()})
		return
	default:
		writeJSON(w, http.StatusBadRequest, webhookResponse{Error: "invalid_request", Detail: err.Error()})
		return
	}

	writeJSON(w, http.StatusCreated, checkoutResponse{
		SessionID:   session.ID,
		RedirectURL: redirect,
		Total:       session.Total,
		Status:      string(session.Status),
	})
}

// handleGetSession возвращает текущее состояние сессии.
func (h *Handler) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "session_id")
	session, err := h.sessions.Get(sessionID)
	if err != nil {
		writeJSON(w, http.StatusNotFound, webhookResponse{Error: fulfillment.ResultNoSession, SessionID: sessionID})
		return
	}
	writeJSON(w, http.StatusOK, session)
}

// reject отвечает 400 и учитывает причину в метриках.
func (h *Handler) reject(w http.ResponseWriter, reason string) {
	if h.metrics != nil {
		h.metrics.RecordNotificationRejected(reason)
	}
	writeJSON(w, http.StatusBadRequest, webhookResponse{Error: reason})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/paybridge/internal/domain"
)

const (
	defaultTimeout = 20 * time.Second
	apiKeyHeader   = "X-Api-Key"
)

// Client — HTTP-клиент платёжного шлюза (API hosted-платежей).
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	logger     *log.Entry
}

// NewClient создаёт клиента шлюза.
func NewClient(baseURL, apiKey string, logger *log.Entry) *Client {
	if logger == nil {
		logger = log.WithField("component", "gateway")
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: defaultTimeout},
		logger:     logger,
	}
}

type hostedPaymentPayload struct {
	Amount          float64           `json:"amount"`
	Currency        string            `json:"currency"`
	OrderID         string            `json:"orderId"`
	SessionID       string            `json:"sessionId"`
	CustomerEmail   string            `json:"customerEmail,omitempty"`
	CustomerName    string            `json:"customerName,omitempty"`
	NotificationURL string            `json:"notificationUrl,omitempty"`
	ReturnURL       string            `json:"returnUrl,omitempty"`
	CancelURL       string            `json:"cancelUrl,omitempty"`
	Billing         map[string]string `json:"billing,omitempty"`
}

type hostedPaymentResponse struct {
	OK          bool   `json:"ok"`
	RedirectURL string `json:"redirectUrl"`
	Error       string `json:"error,omitempty"`
}

// CreateHostedPayment создаёт платёжную сессию у шлюза. Сырой ответ
// сохраняется в HostedPayment.Raw для диагностики расхождений.
func (c *Client) CreateHostedPayment(ctx context.Context, req domain.HostedPaymentRequest) (domain.HostedPayment, error) {
	payload := hostedPaymentPayload{
		Amount:          domain.Round2(req.Amount),
		Currency:        req.Currency,
		OrderID:         req.OrderID,
		SessionID:       req.SessionID,
		NotificationURL: req.NotificationURL,
		ReturnURL:       req.ReturnURL,
		CancelURL:       req.CancelURL,
		Billing:         req.Billing,
	}
	if req.Customer != nil {
		payload.CustomerEmail = req.Customer.Email
		payload.CustomerName = strings.TrimSpace(req.Customer.FirstName + " " + req.Customer.LastName)
	}

	encoded, err := json.Marshal(payload)
	if err != nil {
		return domain.HostedPayment{}, fmt.Errorf("encode request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/payments/hosted", bytes.NewReader(encoded))
	if err != nil {
		return domain.HostedPayment{}, fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set(apiKeyHeader, c.apiKey)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return domain.HostedPayment{}, fmt.Errorf("%w: %v", domain.ErrGatewayUnavailable, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return domain.HostedPayment{}, fmt.Errorf("%w: read response: %v", domain.ErrGatewayUnavailable, err)
	}
	if resp.StatusCode >= http.StatusInternalServerError {
		return domain.HostedPayment{Raw: raw}, fmt.Errorf("%w: status %d", domain.ErrGatewayUnavailable, resp.StatusCode)
	}

	var decoded hostedPaymentResponse
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return domain.HostedPayment{Raw: raw}, fmt.Errorf("%w: decode response: %v", domain.ErrGatewayUnavailable, err)
	}

	payment := domain.HostedPayment{
		OK:          decoded.OK && resp.StatusCode < http.StatusBadRequest,
		RedirectURL: decoded.RedirectURL,
		Raw:         raw,
	}
	if !payment.OK && decoded.Error != "" {
		c.logger.WithField("order_id", req.OrderID).Warnf("gateway declined hosted payment: %s", decoded.Error)
	}
	return payment, nil
}

var _ domain.GatewayService = (*Client)(nil)

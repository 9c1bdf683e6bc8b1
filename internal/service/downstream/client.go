package downstream

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/paybridge/internal/domain"
)

const (
	defaultTimeout = 20 * time.Second
	apiKeyHeader   = "X-Api-Key"
)

// Client — HTTP-клиент business-management API (клиенты, корзины, продажи).
// Таймаут ограничен defaultTimeout; ретраев нет: отказ продажи терминален
// для сессии и требует ручной сверки.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	logger     *log.Entry
}

// NewClient создаёт клиента учётной системы.
func NewClient(baseURL, apiKey string, logger *log.Entry) *Client {
	if logger == nil {
		logger = log.WithField("component", "downstream")
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: defaultTimeout},
		logger:     logger,
	}
}

type clientRecord struct {
	ID        string `json:"id"`
	Email     string `json:"email"`
	FirstName string `json:"firstName,omitempty"`
	LastName  string `json:"lastName,omitempty"`
}

type clientSearchResponse struct {
	Clients []clientRecord `json:"clients"`
}

// FindOrCreateCustomer ищет клиента по email, при отсутствии создаёт нового.
func (c *Client) FindOrCreateCustomer(ctx context.Context, email, firstName, lastName string) (string, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	if email == "" {
		return "", fmt.Errorf("%w: empty email", domain.ErrCustomerResolution)
	}

	var search clientSearchResponse
	query := url.Values{"email": {email}}
	if err := c.doJSON(ctx, http.MethodGet, "/clients?"+query.Encode(), nil, &search); err != nil {
		return "", fmt.Errorf("%w: search: %v", domain.ErrCustomerResolution, err)
	}
	for _, record := range search.Clients {
		if strings.EqualFold(record.Email, email) {
			return record.ID, nil
		}
	}

	var created clientRecord
	payload := clientRecord{Email: email, FirstName: firstName, LastName: lastName}
	if err := c.doJSON(ctx, http.MethodPost, "/clients", payload, &created); err != nil {
		return "", fmt.Errorf("%w: create: %v", domain.ErrCustomerResolution, err)
	}
	if created.ID == "" {
		return "", fmt.Errorf("%w: api returned client without id", domain.ErrCustomerResolution)
	}
	return created.ID, nil
}

type checkoutItem struct {
	ProductID string  `json:"productId"`
	Name      string  `json:"name,omitempty"`
	UnitPrice float64 `json:"unitPrice"`
	Quantity  int32   `json:"quantity"`
	Category  string  `json:"category"`
}

type checkoutRequest struct {
	ClientID  string         `json:"clientId"`
	Items     []checkoutItem `json:"items"`
	Total     float64        `json:"total"`
	Reference string         `json:"reference,omitempty"`
	InStore   bool           `json:"inStore"`
}

type checkoutResponse struct {
	SaleID string `json:"saleId"`
	Error  string `json:"error,omitempty"`
}

// CheckoutCart проводит продажу. Ответы 4xx трактуются как отказ учётной
// системы (ErrSaleRejected), сетевые и 5xx — как недоступность.
func (c *Client) CheckoutCart(ctx context.Context, cart domain.CartCheckout) (domain.Receipt, error) {
	items := make([]checkoutItem, 0, len(cart.Items))
	for _, item := range cart.Items {
		items = append(items, checkoutItem{
			ProductID: item.ProductID,
			Name:      item.Name,
			UnitPrice: domain.Round2(item.UnitPrice),
			Quantity:  item.Quantity,
			Category:  item.Category,
		})
	}
	payload := checkoutRequest{
		ClientID:  cart.CustomerID,
		Items:     items,
		Total:     domain.Round2(cart.Total),
		Reference: cart.Reference,
		InStore:   cart.InStore,
	}

	var result checkoutResponse
	if err := c.doJSON(ctx, http.MethodPost, "/carts/checkout", payload, &result); err != nil {
		return domain.Receipt{}, err
	}
	if result.SaleID == "" {
		return domain.Receipt{}, fmt.Errorf("%w: api returned sale without id", domain.ErrSaleRejected)
	}
	return domain.Receipt{ID: result.SaleID}, nil
}

// doJSON выполняет запрос и декодирует JSON-ответ в out (если out != nil).
func (c *Client) doJSON(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set(apiKeyHeader, c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrDownstreamUnavailable, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("%w: read response: %v", domain.ErrDownstreamUnavailable, err)
	}

	switch {
	case resp.StatusCode >= http.StatusInternalServerError:
		return fmt.Errorf("%w: status %d: %s", domain.ErrDownstreamUnavailable, resp.StatusCode, truncate(raw))
	case resp.StatusCode >= http.StatusBadRequest:
		return fmt.Errorf("%w: status %d: %s", domain.ErrSaleRejected, resp.StatusCode, truncate(raw))
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("%w: decode response: %v", domain.ErrDownstreamUnavailable, err)
	}
	return nil
}

func truncate(raw []byte) string {
	const limit = 256
	s := strings.TrimSpace(string(raw))
	if len(s) > limit {
		return s[:limit]
	}
	return s
}

var _ domain.DownstreamService = (*Client)(nil)

// File: internal/infra/adapters/payment/http_processor.go
package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"paywall-access/internal/domain"
	"paywall-access/internal/domain/ports/adapter"
	"paywall-access/internal/infra/metrics"
)

var _ adapter.PaymentProcessor = (*HTTPProcessor)(nil)

// HTTPProcessor talks to an orders/payments REST API authenticated with HTTP basic
// auth (key id and key secret).
type HTTPProcessor struct {
	baseURL   string
	keyID     string
	keySecret string
	client    *http.Client
}

func NewHTTPProcessor(baseURL, keyID, keySecret string, timeout time.Duration) (*HTTPProcessor, error) {
	if keyID == "" || keySecret == "" {
		return nil, errors.New("payment key id and secret required")
	}
	u, err := url.Parse(baseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid payment base url %q", baseURL)
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPProcessor{
		baseURL:   strings.TrimRight(baseURL, "/"),
		keyID:     keyID,
		keySecret: keySecret,
		client:    &http.Client{Timeout: timeout},
	}, nil
}

func (p *HTTPProcessor) Name() string { return "http" }

// CreateOrder calls POST /v1/orders.
func (p *HTTPProcessor) CreateOrder(ctx context.Context, amount int64, currency, receipt string) (*adapter.Order, error) {
	payload := map[string]any{
		"amount":   amount,
		"currency": currency,
		"receipt":  receipt,
	}
	var out struct {
		ID       string `json:"id"`
		Amount   int64  `json:"amount"`
		Currency string `json:"currency"`
		Receipt  string `json:"receipt"`
	}
	if err := p.do(ctx, "create_order", http.MethodPost, "/v1/orders", payload, &out); err != nil {
		return nil, err
	}
	if out.ID == "" {
		return nil, &domain.UpstreamError{Op: "create_order", Err: errors.New("empty order id")}
	}
	return &adapter.Order{ID: out.ID, Amount: out.Amount, Currency: out.Currency, Receipt: out.Receipt}, nil
}

// FetchPayment calls GET /v1/payments/{id}.
func (p *HTTPProcessor) FetchPayment(ctx context.Context, paymentID string) (*adapter.PaymentDetails, error) {
	var out struct {
		ID          string `json:"id"`
		OrderID     string `json:"order_id"`
		Amount      int64  `json:"amount"`
		Currency    string `json:"currency"`
		Status      string `json:"status"`
		Captured    bool   `json:"captured"`
		CreatedAt   int64  `json:"created_at"`
		Description string `json:"description"`
	}
	if err := p.do(ctx, "fetch_payment", http.MethodGet, "/v1/payments/"+url.PathEscape(paymentID), nil, &out); err != nil {
		return nil, err
	}
	d := &adapter.PaymentDetails{
		ID:          out.ID,
		OrderID:     out.OrderID,
		Amount:      out.Amount,
		Currency:    out.Currency,
		Status:      out.Status,
		Description: out.Description,
	}
	if out.Captured && out.CreatedAt > 0 {
		t := time.Unix(out.CreatedAt, 0).UTC()
		d.CapturedAt = &t
	}
	return d, nil
}

func (p *HTTPProcessor) do(ctx context.Context, op, method, path string, body any, out any) (err error) {
	start := time.Now()
	defer func() {
		result := "ok"
		if err != nil {
			result = "error"
		}
		metrics.ProcessorCallDuration.WithLabelValues(op, result).Observe(time.Since(start).Seconds())
	}()

	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, p.baseURL+path, rd)
	if err != nil {
		return err
	}
	req.SetBasicAuth(p.keyID, p.keySecret)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return &domain.UpstreamError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return &domain.UpstreamError{Op: op, Err: err}
	}
	switch {
	case resp.StatusCode >= 500:
		return &domain.UpstreamError{Op: op, Err: fmt.Errorf("processor http %d", resp.StatusCode)}
	case resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("%s: %w", op, domain.ErrNotFound)
	case resp.StatusCode >= 400:
		var e struct {
			Error struct {
				Code        string `json:"code"`
				Description string `json:"description"`
			} `json:"error"`
		}
		_ = json.Unmarshal(raw, &e)
		return fmt.Errorf("%s: processor http %d: %s %s", op, resp.StatusCode, e.Error.Code, e.Error.Description)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return &domain.UpstreamError{Op: op, Err: fmt.Errorf("decode response: %w", err)}
	}
	return nil
}

package payment

import (
	"context"
	"fmt"
	"sync"
	"time"

	"paywall-access/internal/domain"
	"paywall-access/internal/domain/ports/adapter"
)

var _ adapter.PaymentProcessor = (*NoopProcessor)(nil)

// NoopProcessor is an in-memory processor for local runs and tests. Payments are
// registered with Capture, which stands in for the customer paying at checkout.
type NoopProcessor struct {
	mu       sync.Mutex
	seq      int64
	orders   map[string]*adapter.Order
	payments map[string]*adapter.PaymentDetails
}

func NewNoopProcessor() *NoopProcessor {
	return &NoopProcessor{
		orders:   make(map[string]*adapter.Order),
		payments: make(map[string]*adapter.PaymentDetails),
	}
}

func (p *NoopProcessor) Name() string { return "noop" }

func (p *NoopProcessor) CreateOrder(ctx context.Context, amount int64, currency, receipt string) (*adapter.Order, error) {
	if err := ctx.Err(); err != nil {
		return nil, &domain.UpstreamError{Op: "create_order", Err: err}
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.seq++
	o := &adapter.Order{ID: fmt.Sprintf("order_noop%d", p.seq), Amount: amount, Currency: currency, Receipt: receipt}
	p.orders[o.ID] = o
	cp := *o
	return &cp, nil
}

// Capture records a captured payment against orderID and returns the payment id.
func (p *NoopProcessor) Capture(orderID string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	o, ok := p.orders[orderID]
	if !ok {
		return "", fmt.Errorf("noop: order %s not found", orderID)
	}
	p.seq++
	now := time.Now().UTC()
	d := &adapter.PaymentDetails{
		ID:         fmt.Sprintf("pay_noop%d", p.seq),
		OrderID:    o.ID,
		Amount:     o.Amount,
		Currency:   o.Currency,
		Status:     "captured",
		CapturedAt: &now,
	}
	p.payments[d.ID] = d
	return d.ID, nil
}

func (p *NoopProcessor) FetchPayment(ctx context.Context, paymentID string) (*adapter.PaymentDetails, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	d, ok := p.payments[paymentID]
	if !ok {
		return nil, fmt.Errorf("fetch_payment: %w", domain.ErrNotFound)
	}
	cp := *d
	return &cp, nil
}

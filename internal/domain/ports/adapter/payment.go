package adapter

import (
	"context"
	"time"
)

// Order is the processor's acknowledgement of a created order.
type Order struct {
	ID       string
	Amount   int64
	Currency string
	Receipt  string
}

// PaymentDetails is the processor's view of a payment.
type PaymentDetails struct {
	ID          string
	OrderID     string
	Amount      int64
	Currency    string
	Status      string // created|authorized|captured|failed|refunded
	CapturedAt  *time.Time
	Description string
}

func (d *PaymentDetails) Captured() bool { return d.Status == "captured" }

// PaymentProcessor is the hex port for the external payment processor.
// Implementations bound every call with a timeout and return *domain.UpstreamError
// on transport failures and 5xx responses.
type PaymentProcessor interface {
	Name() string
	CreateOrder(ctx context.Context, amount int64, currency, receipt string) (*Order, error)
	FetchPayment(ctx context.Context, paymentID string) (*PaymentDetails, error)
}

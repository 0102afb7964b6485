package model

import "time"

type PaymentMethodKind string

const (
	PaymentMethodProcessor    PaymentMethodKind = "processor"
	PaymentMethodSubscription PaymentMethodKind = "subscription"
	PaymentMethodFree         PaymentMethodKind = "free"
)

// PaymentMethod is a closed set: only the types in this file implement it.
// Grant issuance switches over it exhaustively.
type PaymentMethod interface {
	Kind() PaymentMethodKind
	paymentMethod()
}

// ProcessorPayment is a paid one-time grant backed by a processor order.
type ProcessorPayment struct {
	OrderID  string
	Amount   int64
	Currency string
}

// SubscriptionPayment is a zero-amount grant derived from an active subscription.
type SubscriptionPayment struct {
	SubscriptionID string
	EndDate        time.Time
}

// FreePayment is a zero-amount one-time grant for resources priced at zero.
type FreePayment struct{}

func (ProcessorPayment) Kind() PaymentMethodKind    { return PaymentMethodProcessor }
func (SubscriptionPayment) Kind() PaymentMethodKind { return PaymentMethodSubscription }
func (FreePayment) Kind() PaymentMethodKind         { return PaymentMethodFree }

func (ProcessorPayment) paymentMethod()    {}
func (SubscriptionPayment) paymentMethod() {}
func (FreePayment) paymentMethod()         {}

// File: internal/usecase/webhook_uc.go
package usecase

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/tidwall/gjson"

	"paywall-access/internal/domain"
	"paywall-access/internal/domain/model"
	"paywall-access/internal/infra/logging"
	"paywall-access/internal/infra/metrics"
)

// WebhookOutcome is reported back to the HTTP layer and to metrics.
type WebhookOutcome string

const (
	WebhookApplied   WebhookOutcome = "applied"
	WebhookDuplicate WebhookOutcome = "duplicate"
	WebhookIgnored   WebhookOutcome = "ignored"
	WebhookConflict  WebhookOutcome = "conflict"
)

const (
	EventPaymentCaptured = "payment.captured"
	EventPaymentFailed   = "payment.failed"
	eventSubscription    = "subscription."
)

// WebhookUseCase applies processor webhook deliveries. Delivery is at-least-once and
// unordered with respect to client confirmation, so every branch is idempotent.
type WebhookUseCase struct {
	verifier *PaymentVerifier
	ledger   LedgerUseCase
	registry SubscriptionRegistry
	dev      bool
	log      *zerolog.Logger
}

func NewWebhookUseCase(verifier *PaymentVerifier, ledger LedgerUseCase, registry SubscriptionRegistry, dev bool, logger *zerolog.Logger) *WebhookUseCase {
	l := logger.With().Str("component", "WebhookUC").Logger()
	return &WebhookUseCase{verifier: verifier, ledger: ledger, registry: registry, dev: dev, log: &l}
}

// Handle verifies rawBody against signature before reading any field from it.
func (u *WebhookUseCase) Handle(ctx context.Context, rawBody []byte, signature string) (WebhookOutcome, error) {
	log := logging.With(ctx, u.log)
	if !u.verifier.VerifyWebhook(rawBody, signature) {
		log.Warn().Bool("security", true).Int("bytes", len(rawBody)).Msg("webhook signature mismatch")
		metrics.IncWebhookEvent("unknown", "rejected")
		return "", domain.ErrSignatureMismatch
	}
	if !gjson.ValidBytes(rawBody) {
		metrics.IncWebhookEvent("unknown", "rejected")
		return "", &domain.ValidationError{Field: "body", Reason: "malformed json"}
	}

	event := gjson.GetBytes(rawBody, "event").String()
	var (
		outcome WebhookOutcome
		err     error
	)
	switch {
	case event == EventPaymentCaptured:
		outcome, err = u.paymentCaptured(ctx, rawBody, signature)
	case event == EventPaymentFailed:
		outcome, err = u.paymentFailed(ctx, rawBody)
	case strings.HasPrefix(event, eventSubscription):
		outcome, err = u.subscriptionEvent(ctx, event, rawBody)
	default:
		outcome = WebhookIgnored
	}

	label := event
	if !strings.HasPrefix(event, "payment.") && !strings.HasPrefix(event, eventSubscription) {
		label = "other"
	}
	if err != nil {
		metrics.IncWebhookEvent(label, "error")
		log.Error().Err(err).Str("event", event).Msg("webhook not applied")
		return "", err
	}
	metrics.IncWebhookEvent(label, string(outcome))
	log.Info().Str("event", event).Str("outcome", string(outcome)).Msg("webhook handled")
	return outcome, nil
}

func (u *WebhookUseCase) paymentCaptured(ctx context.Context, raw []byte, signature string) (WebhookOutcome, error) {
	entity := gjson.GetBytes(raw, "payload.payment.entity")
	orderID := entity.Get("order_id").String()
	paymentID := entity.Get("id").String()
	if orderID == "" || paymentID == "" {
		return "", &domain.ValidationError{Field: "payload.payment.entity", Reason: "order_id and id required"}
	}

	p, err := u.ledger.FindByOrderID(ctx, orderID)
	if errors.Is(err, domain.ErrNotFound) {
		// order created elsewhere or the purchase insert never happened
		u.log.Warn().Str("order_id", logging.Redact(orderID, u.dev)).Msg("captured payment for unknown order")
		return WebhookIgnored, nil
	}
	if err != nil {
		return "", err
	}
	if p.ExternalPaymentID == paymentID && p.Status != model.PurchaseStatusPending {
		return WebhookDuplicate, nil
	}

	if _, err := u.ledger.MarkCompleted(ctx, p.ID, paymentID, signature); err != nil {
		if errors.Is(err, domain.ErrConflict) {
			// acknowledged so the processor stops redelivering; operators reconcile from the log
			return WebhookConflict, nil
		}
		return "", err
	}
	return WebhookApplied, nil
}

func (u *WebhookUseCase) paymentFailed(ctx context.Context, raw []byte) (WebhookOutcome, error) {
	entity := gjson.GetBytes(raw, "payload.payment.entity")
	orderID := entity.Get("order_id").String()
	if orderID == "" {
		return "", &domain.ValidationError{Field: "payload.payment.entity.order_id", Reason: "required"}
	}
	p, err := u.ledger.FindByOrderID(ctx, orderID)
	if errors.Is(err, domain.ErrNotFound) {
		return WebhookIgnored, nil
	}
	if err != nil {
		return "", err
	}
	if p.Status != model.PurchaseStatusPending {
		return WebhookDuplicate, nil
	}
	reason := entity.Get("error_description").String()
	if reason == "" {
		reason = "payment failed"
	}
	if err := u.ledger.MarkFailed(ctx, p.ID, reason); err != nil {
		return "", err
	}
	return WebhookApplied, nil
}

func (u *WebhookUseCase) subscriptionEvent(ctx context.Context, event string, raw []byte) (WebhookOutcome, error) {
	entity := gjson.GetBytes(raw, "payload.subscription.entity")
	externalID := entity.Get("id").String()
	if externalID == "" {
		return "", &domain.ValidationError{Field: "payload.subscription.entity.id", Reason: "required"}
	}

	var err error
	switch strings.TrimPrefix(event, eventSubscription) {
	case "activated", "charged", "resumed":
		in := ActivateSubscriptionInput{
			PrincipalID: entity.Get("notes.principal_id").String(),
			PlanID:      entity.Get("plan_id").String(),
			ExternalID:  externalID,
			Start:       time.Unix(entity.Get("current_start").Int(), 0).UTC(),
			End:         time.Unix(entity.Get("current_end").Int(), 0).UTC(),
		}
		if classes := entity.Get("notes.resource_classes").String(); classes != "" {
			for _, c := range strings.Split(classes, ",") {
				if c = strings.TrimSpace(c); c != "" {
					in.ResourceClasses = append(in.ResourceClasses, c)
				}
			}
		}
		_, err = u.registry.Activate(ctx, in)
	case "cancelled":
		err = u.registry.Cancel(ctx, externalID)
	case "completed", "halted", "expired":
		err = u.registry.ExpireByExternalID(ctx, externalID)
	default:
		return WebhookIgnored, nil
	}
	if errors.Is(err, domain.ErrNotFound) {
		return WebhookIgnored, nil
	}
	if errors.Is(err, domain.ErrConflict) {
		u.log.Error().Bool("security", true).Err(err).Str("event", event).Msg("subscription webhook conflict")
		return WebhookConflict, nil
	}
	if err != nil {
		return "", err
	}
	return WebhookApplied, nil
}

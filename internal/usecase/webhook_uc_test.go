//go:build !integration

package usecase_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"paywall-access/internal/domain"
	"paywall-access/internal/domain/model"
	"paywall-access/internal/usecase"
)

func capturedBody(orderID, paymentID string) []byte {
	return []byte(fmt.Sprintf(`{"event":"payment.captured","payload":{"payment":{"entity":{"id":%q,"order_id":%q,"status":"captured"}}}}`, paymentID, orderID))
}

func failedBody(orderID, reason string) []byte {
	return []byte(fmt.Sprintf(`{"event":"payment.failed","payload":{"payment":{"entity":{"id":"pay_x","order_id":%q,"error_description":%q}}}}`, orderID, reason))
}

func subscriptionBody(event, id, principal string, start, end time.Time, classes string) []byte {
	return []byte(fmt.Sprintf(`{"event":%q,"payload":{"subscription":{"entity":{"id":%q,"plan_id":"plan_monthly","current_start":%d,"current_end":%d,"notes":{"principal_id":%q,"resource_classes":%q}}}}}`,
		event, id, start.Unix(), end.Unix(), principal, classes))
}

func (h *harness) deliver(t *testing.T, body []byte) (usecase.WebhookOutcome, error) {
	t.Helper()
	return h.webhooks.Handle(context.Background(), body, usecase.SignWebhook(testWebhookSecret, body))
}

func TestWebhook_PaymentCaptured(t *testing.T) {
	ctx := context.Background()

	t.Run("completes a pending purchase", func(t *testing.T) {
		h := newHarness(t)
		out, _ := h.access.CreateOrder(ctx, "alice", "r1")

		outcome, err := h.deliver(t, capturedBody(out.Order.ID, "pay_1"))
		if err != nil {
			t.Fatal(err)
		}
		if outcome != usecase.WebhookApplied {
			t.Errorf("expected applied, got %s", outcome)
		}
		got := h.purchases.Get(out.Purchase.ID)
		if got.Status != model.PurchaseStatusCompleted || got.ExternalPaymentID != "pay_1" {
			t.Errorf("unexpected purchase: %+v", got)
		}
	})

	t.Run("late webhook after client verification leaves the ledger unchanged", func(t *testing.T) {
		h := newHarness(t)
		out, _ := h.access.CreateOrder(ctx, "alice", "r1")
		verified, err := h.access.Verify(ctx, "alice", usecase.VerifyInput{
			OrderID:    out.Order.ID,
			PaymentID:  "pay_1",
			Signature:  usecase.SignDirect(testKeySecret, out.Order.ID, "pay_1"),
			PurchaseID: out.Purchase.ID,
		})
		if err != nil {
			t.Fatal(err)
		}
		before := h.purchases.Get(verified.ID)
		h.clock.Advance(5 * time.Second)

		outcome, err := h.deliver(t, capturedBody(out.Order.ID, "pay_1"))
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if outcome != usecase.WebhookDuplicate {
			t.Errorf("expected duplicate, got %s", outcome)
		}
		after := h.purchases.Get(verified.ID)
		if after.Status != before.Status || !after.UpdatedAt.Equal(before.UpdatedAt) || after.ExternalSignature != before.ExternalSignature {
			t.Errorf("ledger changed:\nbefore %+v\nafter  %+v", before, after)
		}
	})

	t.Run("a second payment for the same order is acknowledged as a conflict", func(t *testing.T) {
		h := newHarness(t)
		out, _ := h.access.CreateOrder(ctx, "alice", "r1")
		_, _ = h.deliver(t, capturedBody(out.Order.ID, "pay_1"))

		outcome, err := h.deliver(t, capturedBody(out.Order.ID, "pay_2"))
		if err != nil {
			t.Fatalf("conflicts are acknowledged, got %v", err)
		}
		if outcome != usecase.WebhookConflict {
			t.Errorf("expected conflict, got %s", outcome)
		}
		if got := h.purchases.Get(out.Purchase.ID); got.ExternalPaymentID != "pay_1" {
			t.Errorf("recorded payment changed to %s", got.ExternalPaymentID)
		}
	})

	t.Run("unknown order is ignored", func(t *testing.T) {
		h := newHarness(t)
		outcome, err := h.deliver(t, capturedBody("order_unknown", "pay_1"))
		if err != nil || outcome != usecase.WebhookIgnored {
			t.Errorf("expected ignored, got %s, %v", outcome, err)
		}
	})

	t.Run("missing ids are invalid", func(t *testing.T) {
		h := newHarness(t)
		_, err := h.deliver(t, []byte(`{"event":"payment.captured","payload":{"payment":{"entity":{}}}}`))
		if !errors.Is(err, domain.ErrInvalidArgument) {
			t.Errorf("expected validation error, got %v", err)
		}
	})
}

func TestWebhook_Authentication(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	out, _ := h.access.CreateOrder(ctx, "alice", "r1")
	body := capturedBody(out.Order.ID, "pay_1")

	t.Run("wrong secret", func(t *testing.T) {
		_, err := h.webhooks.Handle(ctx, body, usecase.SignWebhook("not-the-secret", body))
		if !errors.Is(err, domain.ErrSignatureMismatch) {
			t.Errorf("expected signature mismatch, got %v", err)
		}
	})

	t.Run("signature over a different body", func(t *testing.T) {
		tampered := capturedBody(out.Order.ID, "pay_evil")
		_, err := h.webhooks.Handle(ctx, tampered, usecase.SignWebhook(testWebhookSecret, body))
		if !errors.Is(err, domain.ErrSignatureMismatch) {
			t.Errorf("expected signature mismatch, got %v", err)
		}
	})

	t.Run("direct secret does not authenticate webhooks", func(t *testing.T) {
		_, err := h.webhooks.Handle(ctx, body, usecase.SignWebhook(testKeySecret, body))
		if !errors.Is(err, domain.ErrSignatureMismatch) {
			t.Errorf("expected signature mismatch, got %v", err)
		}
	})

	if got := h.purchases.Get(out.Purchase.ID); got.Status != model.PurchaseStatusPending {
		t.Errorf("rejected deliveries changed the purchase to %s", got.Status)
	}

	t.Run("malformed json after a valid signature", func(t *testing.T) {
		_, err := h.deliver(t, []byte(`{"event":`))
		if !errors.Is(err, domain.ErrInvalidArgument) {
			t.Errorf("expected validation error, got %v", err)
		}
	})

	t.Run("unhandled events are ignored", func(t *testing.T) {
		outcome, err := h.deliver(t, []byte(`{"event":"refund.created"}`))
		if err != nil || outcome != usecase.WebhookIgnored {
			t.Errorf("expected ignored, got %s, %v", outcome, err)
		}
	})
}

func TestWebhook_PaymentFailed(t *testing.T) {
	ctx := context.Background()

	t.Run("fails a pending purchase with the processor reason", func(t *testing.T) {
		h := newHarness(t)
		out, _ := h.access.CreateOrder(ctx, "alice", "r1")

		outcome, err := h.deliver(t, failedBody(out.Order.ID, "card declined"))
		if err != nil || outcome != usecase.WebhookApplied {
			t.Fatalf("expected applied, got %s, %v", outcome, err)
		}
		got := h.purchases.Get(out.Purchase.ID)
		if got.Status != model.PurchaseStatusFailed || got.FailureReason != "card declined" {
			t.Errorf("unexpected purchase: %+v", got)
		}
	})

	t.Run("does not revoke a completed purchase", func(t *testing.T) {
		h := newHarness(t)
		p := h.buy(t, "alice", "r1", "pay_1")

		outcome, err := h.deliver(t, failedBody(p.ExternalOrderID, "late"))
		if err != nil || outcome != usecase.WebhookDuplicate {
			t.Fatalf("expected duplicate, got %s, %v", outcome, err)
		}
		if got := h.purchases.Get(p.ID); got.Status != model.PurchaseStatusCompleted {
			t.Errorf("completed purchase moved to %s", got.Status)
		}
	})
}

func TestWebhook_Subscriptions(t *testing.T) {
	ctx := context.Background()

	t.Run("activation opens unlimited access", func(t *testing.T) {
		h := newHarness(t)
		now := h.clock.Now()
		body := subscriptionBody("subscription.activated", "sub_ext_1", "alice", now.Add(-time.Minute), now.Add(30*24*time.Hour), "")

		outcome, err := h.deliver(t, body)
		if err != nil || outcome != usecase.WebhookApplied {
			t.Fatalf("expected applied, got %s, %v", outcome, err)
		}
		st, err := h.access.Status(ctx, "alice", "r1")
		if err != nil {
			t.Fatal(err)
		}
		if st.Kind != model.AccessSubscription {
			t.Errorf("expected subscription access, got %s", st.Kind)
		}
	})

	t.Run("charged extends the same subscription", func(t *testing.T) {
		h := newHarness(t)
		now := h.clock.Now()
		_, _ = h.deliver(t, subscriptionBody("subscription.activated", "sub_ext_1", "alice", now.Add(-time.Minute), now.Add(24*time.Hour), "report"))
		_, err := h.deliver(t, subscriptionBody("subscription.charged", "sub_ext_1", "alice", now.Add(24*time.Hour), now.Add(48*time.Hour), "report"))
		if err != nil {
			t.Fatal(err)
		}
		sub, _ := h.registry.ActiveFor(ctx, "alice")
		if sub == nil || !sub.EndDate.Equal(now.Add(48*time.Hour).Truncate(time.Second)) {
			t.Errorf("expected extended end date, got %+v", sub)
		}
		if len(sub.ResourceClasses) != 1 || sub.ResourceClasses[0] != "report" {
			t.Errorf("unexpected classes: %v", sub.ResourceClasses)
		}
	})

	t.Run("cancellation closes the window", func(t *testing.T) {
		h := newHarness(t)
		now := h.clock.Now()
		_, _ = h.deliver(t, subscriptionBody("subscription.activated", "sub_ext_1", "alice", now.Add(-time.Minute), now.Add(24*time.Hour), ""))

		outcome, err := h.deliver(t, []byte(`{"event":"subscription.cancelled","payload":{"subscription":{"entity":{"id":"sub_ext_1"}}}}`))
		if err != nil || outcome != usecase.WebhookApplied {
			t.Fatalf("expected applied, got %s, %v", outcome, err)
		}
		if sub, _ := h.registry.ActiveFor(ctx, "alice"); sub != nil {
			t.Errorf("expected no active subscription, got %+v", sub)
		}
	})

	for _, event := range []string{"subscription.cancelled", "subscription.halted", "subscription.expired"} {
		t.Run(event+" revokes access through status and reveal", func(t *testing.T) {
			h := newHarness(t)
			now := h.clock.Now()
			_, _ = h.deliver(t, subscriptionBody("subscription.activated", "sub_ext_1", "alice", now.Add(-time.Minute), now.Add(30*24*time.Hour), ""))
			if st, _ := h.access.Status(ctx, "alice", "r1"); st == nil || !st.HasAccess {
				t.Fatalf("expected access while subscribed, got %+v", st)
			}

			outcome, err := h.deliver(t, []byte(fmt.Sprintf(`{"event":%q,"payload":{"subscription":{"entity":{"id":"sub_ext_1"}}}}`, event)))
			if err != nil || outcome != usecase.WebhookApplied {
				t.Fatalf("expected applied, got %s, %v", outcome, err)
			}
			h.clock.Advance(time.Hour)

			st, err := h.access.Status(ctx, "alice", "r1")
			if err != nil {
				t.Fatal(err)
			}
			if st.HasAccess || st.Kind != model.AccessNone {
				t.Errorf("expected no access, got %+v", st)
			}
			if _, err := h.access.Reveal(ctx, "alice", "r1"); !errors.Is(err, domain.ErrAccessDenied) {
				t.Errorf("expected access denied, got %v", err)
			}
		})
	}

	t.Run("events for unknown subscriptions are ignored", func(t *testing.T) {
		h := newHarness(t)
		outcome, err := h.deliver(t, []byte(`{"event":"subscription.halted","payload":{"subscription":{"entity":{"id":"sub_nope"}}}}`))
		if err != nil || outcome != usecase.WebhookIgnored {
			t.Errorf("expected ignored, got %s, %v", outcome, err)
		}
	})

	t.Run("a subscription id claimed by another principal is a conflict", func(t *testing.T) {
		h := newHarness(t)
		now := h.clock.Now()
		_, _ = h.deliver(t, subscriptionBody("subscription.activated", "sub_ext_1", "alice", now.Add(-time.Minute), now.Add(24*time.Hour), ""))
		outcome, err := h.deliver(t, subscriptionBody("subscription.activated", "sub_ext_1", "mallory", now.Add(-time.Minute), now.Add(24*time.Hour), ""))
		if err != nil || outcome != usecase.WebhookConflict {
			t.Errorf("expected conflict, got %s, %v", outcome, err)
		}
	})
}

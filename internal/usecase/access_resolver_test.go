//go:build !integration

package usecase_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"paywall-access/internal/domain"
	"paywall-access/internal/domain/model"
	"paywall-access/internal/domain/ports/repository"
)

func TestAccessResolver_Resolve(t *testing.T) {
	ctx := context.Background()

	t.Run("subscription access always leaves one audit row", func(t *testing.T) {
		h := newHarness(t)
		h.subscribe(t, "alice")
		res := paidResource("r1")

		for i := 0; i < 3; i++ {
			d := h.resolver.Resolve(ctx, "alice", res)
			if d.Kind != model.AccessSubscription || d.Purchase == nil {
				t.Fatalf("unexpected decision: %+v", d)
			}
		}
		if h.purchases.Count() != 1 {
			t.Errorf("expected one subscription purchase, got %d", h.purchases.Count())
		}
	})

	t.Run("closing a subscription ends the access it derived", func(t *testing.T) {
		h := newHarness(t)
		h.subscribe(t, "alice")
		res := paidResource("r1")
		if d := h.resolver.Resolve(ctx, "alice", res); d.Kind != model.AccessSubscription {
			t.Fatalf("expected subscription access, got %+v", d)
		}
		if err := h.registry.Cancel(ctx, "sub_alice"); err != nil {
			t.Fatal(err)
		}
		h.clock.Advance(24 * time.Hour)

		if d := h.resolver.Resolve(ctx, "alice", res); d.HasAccess() {
			t.Errorf("expected no access after cancellation, got %+v", d)
		}
		st, err := h.access.Status(ctx, "alice", "r1")
		if err != nil {
			t.Fatal(err)
		}
		if st.HasAccess || st.ExpiryDate != nil {
			t.Errorf("status still reports access: %+v", st)
		}
		if _, err := h.access.Reveal(ctx, "alice", "r1"); !errors.Is(err, domain.ErrAccessDenied) {
			t.Errorf("expected access denied, got %v", err)
		}
		if h.issuer.Calls != 0 {
			t.Error("no URL may be issued after cancellation")
		}

		out, err := h.access.CreateOrder(ctx, "alice", "r1")
		if err != nil {
			t.Fatal(err)
		}
		if out.Order == nil {
			t.Error("a one-time purchase must be possible once the subscription is closed")
		}
	})

	t.Run("heals several stale grants in one read", func(t *testing.T) {
		h := newHarness(t)
		start := h.clock.Now()
		for i, id := range []string{"g1", "g2"} {
			h.purchases.Put(&model.Purchase{
				ID: id, PrincipalID: "alice", ResourceID: "r1",
				PaymentMethod: model.PaymentMethodProcessor, Status: model.PurchaseStatusCompleted, AccessGranted: true,
				CreatedAt: start.Add(time.Duration(i) * time.Second), ExpiryAt: start.Add(time.Duration(i) * time.Second).Add(testWindow),
			})
		}
		h.clock.Advance(time.Hour)

		d := h.resolver.Resolve(ctx, "alice", paidResource("r1"))
		if d.HasAccess() || !d.Expired {
			t.Errorf("expected expired no-access, got %+v", d)
		}
		for _, id := range []string{"g1", "g2"} {
			if !h.purchases.Get(id).AccessExpired {
				t.Errorf("%s not healed", id)
			}
		}
	})

	t.Run("failed heal denies", func(t *testing.T) {
		h := newHarness(t)
		p := h.buy(t, "alice", "r1", "pay_1")
		h.clock.Advance(time.Hour)
		h.purchases.ExpireIfDueFunc = func(context.Context, repository.Tx, string, time.Time) (bool, error) {
			return false, errors.New("db down")
		}
		d := h.resolver.Resolve(ctx, "alice", paidResource("r1"))
		if d.HasAccess() {
			t.Error("stale grant must never be served")
		}
		if h.purchases.Get(p.ID).Status != model.PurchaseStatusCompleted {
			t.Error("record must be untouched when expiry failed")
		}
	})

	t.Run("grant lookup failure denies", func(t *testing.T) {
		h := newHarness(t)
		h.buy(t, "alice", "r1", "pay_1")
		h.purchases.FindLatestGrantFunc = func(context.Context, repository.Tx, string, string) (*model.Purchase, error) {
			return nil, errors.New("db down")
		}
		if d := h.resolver.Resolve(ctx, "alice", paidResource("r1")); d.HasAccess() {
			t.Error("lookup failure must never grant access")
		}
	})

	t.Run("empty principal", func(t *testing.T) {
		h := newHarness(t)
		if d := h.resolver.Resolve(ctx, "", paidResource("r1")); d.Kind != model.AccessNone {
			t.Errorf("expected none, got %s", d.Kind)
		}
	})
}

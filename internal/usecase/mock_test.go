//go:build !integration

package usecase_test

import (
	"context"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/rs/zerolog"

	"paywall-access/internal/domain"
	"paywall-access/internal/domain/model"
	"paywall-access/internal/domain/ports/adapter"
	"paywall-access/internal/domain/ports/repository"
)

// -----------------------------
// Utilities
// -----------------------------

// fakeClock is a settable time source shared by use cases under test.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

// newTestLogger creates a silent zerolog.Logger for use in tests.
func newTestLogger() *zerolog.Logger {
	logger := zerolog.New(io.Discard)
	return &logger
}

// =============================
// Repositories
// =============================

// ---- Mock PurchaseRepository ----

// MockPurchaseRepo keeps the same conditional-update rules as the Postgres repo:
// every transition checks the current status under the lock.
type MockPurchaseRepo struct {
	mu   sync.Mutex
	data map[string]*model.Purchase

	InsertFunc          func(ctx context.Context, tx repository.Tx, p *model.Purchase) error
	FindLatestGrantFunc func(ctx context.Context, tx repository.Tx, principalID, resourceID string) (*model.Purchase, error)
	ExpireIfDueFunc     func(ctx context.Context, tx repository.Tx, id string, now time.Time) (bool, error)
}

var _ repository.PurchaseRepository = (*MockPurchaseRepo)(nil)

func NewMockPurchaseRepo() *MockPurchaseRepo {
	return &MockPurchaseRepo{data: map[string]*model.Purchase{}}
}

// Put seeds a row directly, bypassing the ledger.
func (r *MockPurchaseRepo) Put(p *model.Purchase) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *p
	r.data[p.ID] = &cp
}

// Get returns a copy of the stored row, or nil.
func (r *MockPurchaseRepo) Get(id string) *model.Purchase {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.data[id]
	if !ok {
		return nil
	}
	cp := *p
	return &cp
}

func (r *MockPurchaseRepo) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.data)
}

func (r *MockPurchaseRepo) Insert(ctx context.Context, tx repository.Tx, p *model.Purchase) error {
	if r.InsertFunc != nil {
		return r.InsertFunc(ctx, tx, p)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.data[p.ID]; dup {
		return &domain.ConflictError{PurchaseID: p.ID, Reason: "duplicate id"}
	}
	if p.Status == model.PurchaseStatusPending {
		for _, o := range r.data {
			if o.Status == model.PurchaseStatusPending && o.PrincipalID == p.PrincipalID && o.ResourceID == p.ResourceID {
				return &domain.ConflictError{PurchaseID: p.ID, Reason: "pending purchase already exists"}
			}
		}
	}
	cp := *p
	r.data[p.ID] = &cp
	return nil
}

func (r *MockPurchaseRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.Purchase, error) {
	if p := r.Get(id); p != nil {
		return p, nil
	}
	return nil, domain.ErrNotFound
}

func (r *MockPurchaseRepo) FindByOrderID(ctx context.Context, tx repository.Tx, orderID string) (*model.Purchase, error) {
	return r.latest(func(p *model.Purchase) bool {
		return p.ExternalOrderID == orderID && p.PaymentMethod == model.PaymentMethodProcessor
	})
}

func (r *MockPurchaseRepo) FindActiveGrant(ctx context.Context, tx repository.Tx, principalID, resourceID string, now time.Time) (*model.Purchase, error) {
	return r.latest(func(p *model.Purchase) bool {
		return p.PrincipalID == principalID && p.ResourceID == resourceID &&
			p.PaymentMethod != model.PaymentMethodSubscription && p.ActiveAt(now)
	})
}

func (r *MockPurchaseRepo) FindLatestGranted(ctx context.Context, tx repository.Tx, principalID, resourceID string) (*model.Purchase, error) {
	if r.FindLatestGrantFunc != nil {
		return r.FindLatestGrantFunc(ctx, tx, principalID, resourceID)
	}
	return r.latest(func(p *model.Purchase) bool {
		return p.PrincipalID == principalID && p.ResourceID == resourceID &&
			p.PaymentMethod != model.PaymentMethodSubscription &&
			p.Status == model.PurchaseStatusCompleted && !p.AccessExpired
	})
}

func (r *MockPurchaseRepo) FindLatestSettled(ctx context.Context, tx repository.Tx, principalID, resourceID string) (*model.Purchase, error) {
	return r.latest(func(p *model.Purchase) bool {
		return p.PrincipalID == principalID && p.ResourceID == resourceID &&
			p.PaymentMethod != model.PaymentMethodSubscription &&
			(p.Status == model.PurchaseStatusCompleted || p.Status == model.PurchaseStatusExpired)
	})
}

func (r *MockPurchaseRepo) FindPending(ctx context.Context, tx repository.Tx, principalID, resourceID string) (*model.Purchase, error) {
	return r.latest(func(p *model.Purchase) bool {
		return p.PrincipalID == principalID && p.ResourceID == resourceID && p.Status == model.PurchaseStatusPending
	})
}

func (r *MockPurchaseRepo) FindSubscriptionGrant(ctx context.Context, tx repository.Tx, principalID, resourceID, subscriptionID string) (*model.Purchase, error) {
	return r.latest(func(p *model.Purchase) bool {
		return p.PrincipalID == principalID && p.ResourceID == resourceID &&
			p.PaymentMethod == model.PaymentMethodSubscription &&
			p.ExternalOrderID == subscriptionID &&
			p.Status == model.PurchaseStatusCompleted
	})
}

// LockPair is a no-op; MockTxManager serializes whole transactions instead.
func (r *MockPurchaseRepo) LockPair(ctx context.Context, tx repository.Tx, principalID, resourceID string) error {
	return nil
}

func (r *MockPurchaseRepo) CompleteIfPending(ctx context.Context, tx repository.Tx, id, paymentID, signature string, at time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.data[id]
	if !ok || p.Status != model.PurchaseStatusPending {
		return false, nil
	}
	p.Status = model.PurchaseStatusCompleted
	p.AccessGranted = true
	p.ExternalPaymentID = paymentID
	p.ExternalSignature = signature
	p.CompletedAt = &at
	p.UpdatedAt = at
	return true, nil
}

func (r *MockPurchaseRepo) FailIfPending(ctx context.Context, tx repository.Tx, id, reason string, at time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.data[id]
	if !ok || p.Status != model.PurchaseStatusPending {
		return false, nil
	}
	p.Status = model.PurchaseStatusFailed
	p.FailureReason = reason
	p.UpdatedAt = at
	return true, nil
}

func (r *MockPurchaseRepo) ExpireIfDue(ctx context.Context, tx repository.Tx, id string, now time.Time) (bool, error) {
	if r.ExpireIfDueFunc != nil {
		return r.ExpireIfDueFunc(ctx, tx, id, now)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.data[id]
	if !ok || !p.DueForExpiry(now) {
		return false, nil
	}
	p.Status = model.PurchaseStatusExpired
	p.AccessGranted = false
	p.AccessExpired = true
	p.UpdatedAt = now
	return true, nil
}

func (r *MockPurchaseRepo) ListDueForExpiry(ctx context.Context, tx repository.Tx, now time.Time, limit int) ([]*model.Purchase, error) {
	out := r.all(func(p *model.Purchase) bool { return p.DueForExpiry(now) })
	sort.Slice(out, func(i, j int) bool { return out[i].ExpiryAt.Before(out[j].ExpiryAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *MockPurchaseRepo) ListPendingOlderThan(ctx context.Context, tx repository.Tx, olderThan time.Time, limit int) ([]*model.Purchase, error) {
	out := r.all(func(p *model.Purchase) bool {
		return p.Status == model.PurchaseStatusPending && p.CreatedAt.Before(olderThan)
	})
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *MockPurchaseRepo) all(match func(*model.Purchase) bool) []*model.Purchase {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*model.Purchase
	for _, p := range r.data {
		if match(p) {
			cp := *p
			out = append(out, &cp)
		}
	}
	return out
}

func (r *MockPurchaseRepo) latest(match func(*model.Purchase) bool) (*model.Purchase, error) {
	rows := r.all(match)
	if len(rows) == 0 {
		return nil, domain.ErrNotFound
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].CreatedAt.After(rows[j].CreatedAt) })
	return rows[0], nil
}

// ---- Mock SubscriptionRepository ----

type MockSubscriptionRepo struct {
	mu   sync.Mutex
	data map[string]*model.Subscription

	FindActiveFunc func(ctx context.Context, tx repository.Tx, principalID string, now time.Time) (*model.Subscription, error)
}

var _ repository.SubscriptionRepository = (*MockSubscriptionRepo)(nil)

func NewMockSubscriptionRepo() *MockSubscriptionRepo {
	return &MockSubscriptionRepo{data: map[string]*model.Subscription{}}
}

func (r *MockSubscriptionRepo) Get(id string) *model.Subscription {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.data[id]
	if !ok {
		return nil
	}
	cp := *s
	return &cp
}

func (r *MockSubscriptionRepo) Save(ctx context.Context, tx repository.Tx, sub *model.Subscription) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if sub.Status == model.SubscriptionStatusActive {
		for _, o := range r.data {
			if o.ID != sub.ID && o.PrincipalID == sub.PrincipalID && o.Status == model.SubscriptionStatusActive {
				return &domain.ConflictError{Reason: "principal already has an active subscription"}
			}
		}
	}
	cp := *sub
	r.data[sub.ID] = &cp
	return nil
}

func (r *MockSubscriptionRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.Subscription, error) {
	if s := r.Get(id); s != nil {
		return s, nil
	}
	return nil, domain.ErrNotFound
}

func (r *MockSubscriptionRepo) FindByExternalID(ctx context.Context, tx repository.Tx, externalID string) (*model.Subscription, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.data {
		if s.ExternalID == externalID {
			cp := *s
			return &cp, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (r *MockSubscriptionRepo) FindActiveByPrincipal(ctx context.Context, tx repository.Tx, principalID string, now time.Time) (*model.Subscription, error) {
	if r.FindActiveFunc != nil {
		return r.FindActiveFunc(ctx, tx, principalID, now)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.data {
		if s.PrincipalID == principalID && s.ActiveAt(now) {
			cp := *s
			return &cp, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (r *MockSubscriptionRepo) UpdateStatusIf(ctx context.Context, tx repository.Tx, id string, from, to model.SubscriptionStatus) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.data[id]
	if !ok || s.Status != from {
		return false, nil
	}
	s.Status = to
	return true, nil
}

func (r *MockSubscriptionRepo) ListDueForExpiry(ctx context.Context, tx repository.Tx, now time.Time, limit int) ([]*model.Subscription, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*model.Subscription
	for _, s := range r.data {
		if s.Status == model.SubscriptionStatusActive && !s.EndDate.After(now) {
			cp := *s
			out = append(out, &cp)
		}
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// ---- Mock ResourceRepository ----

type MockResourceRepo struct {
	mu   sync.Mutex
	data map[string]*model.Resource
}

var _ repository.ResourceRepository = (*MockResourceRepo)(nil)

func NewMockResourceRepo(resources ...*model.Resource) *MockResourceRepo {
	r := &MockResourceRepo{data: map[string]*model.Resource{}}
	for _, res := range resources {
		r.data[res.ID] = res
	}
	return r
}

func (r *MockResourceRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.Resource, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	res, ok := r.data[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *res
	return &cp, nil
}

// =============================
// Infra helpers for tests
// =============================

// ---- Mock TransactionManager ----

// MockTxManager runs fn immediately with NoTX. Transactions are serialized so that
// read-check-insert sequences behave as they do under the pair advisory lock.
type MockTxManager struct {
	mu         sync.Mutex
	WithTxFunc func(ctx context.Context, txOpt pgx.TxOptions, fn func(ctx context.Context, tx repository.Tx) error) error
}

func NewMockTxManager() *MockTxManager {
	return &MockTxManager{}
}

var _ repository.TransactionManager = (*MockTxManager)(nil)

func (m *MockTxManager) WithTx(ctx context.Context, txOpt pgx.TxOptions, fn func(ctx context.Context, tx repository.Tx) error) error {
	if m.WithTxFunc != nil {
		return m.WithTxFunc(ctx, txOpt, fn)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return fn(ctx, repository.NoTX)
}

// ---- In-memory RateLimitStore ----

type MockRateStore struct {
	mu    sync.Mutex
	hits  map[string][]time.Time
	now   func() time.Time
	Err   error
	Calls int
}

var _ repository.RateLimitStore = (*MockRateStore)(nil)

func NewMockRateStore(now func() time.Time) *MockRateStore {
	return &MockRateStore{hits: map[string][]time.Time{}, now: now}
}

func (s *MockRateStore) IncrementAndCheck(ctx context.Context, key string, window time.Duration, max int) (repository.RateDecision, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Calls++
	if s.Err != nil {
		return repository.RateDecision{}, s.Err
	}
	now := s.now()
	floor := now.Add(-window)
	kept := s.hits[key][:0]
	for _, t := range s.hits[key] {
		if t.After(floor) {
			kept = append(kept, t)
		}
	}
	if len(kept) >= max {
		s.hits[key] = kept
		return repository.RateDecision{RetryAfter: kept[0].Add(window).Sub(now)}, nil
	}
	s.hits[key] = append(kept, now)
	return repository.RateDecision{Allowed: true}, nil
}

// =============================
// Adapters
// =============================

// ---- Mock PaymentProcessor ----

type MockProcessor struct {
	mu       sync.Mutex
	seq      int
	orders   map[string]*adapter.Order
	payments map[string]*adapter.PaymentDetails

	CreateOrderErr  error
	FetchPaymentErr error
	CreateCalls     int
}

var _ adapter.PaymentProcessor = (*MockProcessor)(nil)

func NewMockProcessor() *MockProcessor {
	return &MockProcessor{orders: map[string]*adapter.Order{}, payments: map[string]*adapter.PaymentDetails{}}
}

func (m *MockProcessor) Name() string { return "mock" }

func (m *MockProcessor) CreateOrder(ctx context.Context, amount int64, currency, receipt string) (*adapter.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.CreateCalls++
	if m.CreateOrderErr != nil {
		return nil, m.CreateOrderErr
	}
	m.seq++
	o := &adapter.Order{ID: fmt.Sprintf("order_%d", m.seq), Amount: amount, Currency: currency, Receipt: receipt}
	m.orders[o.ID] = o
	return o, nil
}

func (m *MockProcessor) FetchPayment(ctx context.Context, paymentID string) (*adapter.PaymentDetails, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FetchPaymentErr != nil {
		return nil, m.FetchPaymentErr
	}
	d, ok := m.payments[paymentID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *d
	return &cp, nil
}

// SetPayment registers the processor's view of paymentID.
func (m *MockProcessor) SetPayment(paymentID, orderID, status string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.payments[paymentID] = &adapter.PaymentDetails{ID: paymentID, OrderID: orderID, Status: status}
}

// ---- Mock SignedURLIssuer ----

type MockIssuer struct {
	mu      sync.Mutex
	Err     error
	LastKey string
	LastTTL time.Duration
	Calls   int
}

var _ adapter.SignedURLIssuer = (*MockIssuer)(nil)

func (m *MockIssuer) IssueSignedURL(ctx context.Context, resourceKey string, ttl time.Duration) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls++
	if m.Err != nil {
		return "", m.Err
	}
	m.LastKey = resourceKey
	m.LastTTL = ttl
	return fmt.Sprintf("https://storage.test/%s?ttl=%d", resourceKey, int(ttl.Seconds())), nil
}

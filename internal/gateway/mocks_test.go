package gateway

import (
	"context"
	"sync"
	"time"

	"github.com/payoutpipeline/payout-pipeline/internal/balancecache"
	"github.com/payoutpipeline/payout-pipeline/internal/broker"
	"github.com/payoutpipeline/payout-pipeline/internal/lock"
	"github.com/payoutpipeline/payout-pipeline/internal/model"
	"github.com/payoutpipeline/payout-pipeline/internal/store"
	"github.com/payoutpipeline/payout-pipeline/internal/ws"
)

// mockLock is a hand-rolled test double in the style of the framework
// pack's MockCodeEmbedder: a struct implementing the production interface,
// with fields setting the Acquire result per test and call counters to
// assert on invocation.
type mockLock struct {
	mu           sync.Mutex
	AcquireToken string
	AcquireErr   error
	ReleaseCalls int
	ExtendCalls  int
}

func (m *mockLock) Acquire(ctx context.Context, resource string, ttl time.Duration) (string, error) {
	return m.AcquireToken, m.AcquireErr
}

func (m *mockLock) AcquireWithRetry(ctx context.Context, resource string, ttl time.Duration, attempts int, baseDelay time.Duration) (string, error) {
	return m.AcquireToken, m.AcquireErr
}

func (m *mockLock) Release(ctx context.Context, resource, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ReleaseCalls++
	return nil
}

func (m *mockLock) Extend(ctx context.Context, resource, token string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ExtendCalls++
	return nil
}

// mockBalanceCache is an in-memory stand-in for balancecache.Cache,
// keeping the same NotFound/Insufficient sentinel contract.
type mockBalanceCache struct {
	mu       sync.Mutex
	balances map[string]int64
}

func newMockBalanceCache() *mockBalanceCache {
	return &mockBalanceCache{balances: make(map[string]int64)}
}

func (c *mockBalanceCache) Get(ctx context.Context, userID string) (int64, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.balances[userID]
	return v, ok, nil
}

func (c *mockBalanceCache) Set(ctx context.Context, userID string, value int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.balances[userID] = value
	return nil
}

func (c *mockBalanceCache) HasSufficient(ctx context.Context, userID string, amount int64) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.balances[userID]
	if !ok {
		return false, balancecache.ErrNotFound
	}
	return v >= amount, nil
}

func (c *mockBalanceCache) Deduct(ctx context.Context, userID string, amount int64) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.balances[userID]
	if !ok {
		return 0, balancecache.ErrNotFound
	}
	if v < amount {
		return 0, balancecache.ErrInsufficient
	}
	c.balances[userID] = v - amount
	return c.balances[userID], nil
}

func (c *mockBalanceCache) Add(ctx context.Context, userID string, amount int64) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.balances[userID]
	if !ok {
		return 0, balancecache.ErrNotFound
	}
	c.balances[userID] = v + amount
	return c.balances[userID], nil
}

var _ lock.Lock = (*mockLock)(nil)
var _ balancecache.BalanceCache = (*mockBalanceCache)(nil)

// mockTransactionStore is an in-memory stand-in for
// store.PostgresTransactionStore.
type mockTransactionStore struct {
	mu  sync.Mutex
	txs map[string]*model.Transaction
}

func newMockTransactionStore() *mockTransactionStore {
	return &mockTransactionStore{txs: make(map[string]*model.Transaction)}
}

func (s *mockTransactionStore) Create(ctx context.Context, tx *model.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *tx
	s.txs[tx.ID] = &cp
	return nil
}

func (s *mockTransactionStore) GetByID(ctx context.Context, id string) (*model.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tx, ok := s.txs[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *tx
	return &cp, nil
}

func (s *mockTransactionStore) ListByUser(ctx context.Context, userID string, status model.TransactionStatus, limit int) ([]model.Transaction, error) {
	return nil, nil
}

func (s *mockTransactionStore) MarkProcessing(ctx context.Context, id string, now time.Time) (*model.Transaction, error) {
	return s.transition(id, func(tx *model.Transaction) error { return tx.MarkProcessing(now) })
}

func (s *mockTransactionStore) MarkCompleted(ctx context.Context, id string, balanceAfter int64, now time.Time) (*model.Transaction, error) {
	return s.transition(id, func(tx *model.Transaction) error { return tx.MarkCompleted(balanceAfter, now) })
}

func (s *mockTransactionStore) MarkFailed(ctx context.Context, id, code, message string, now time.Time) (*model.Transaction, error) {
	return s.transition(id, func(tx *model.Transaction) error { return tx.MarkFailed(code, message, now) })
}

func (s *mockTransactionStore) StaleProcessing(ctx context.Context, maxAge time.Duration, limit int) ([]model.Transaction, error) {
	return nil, nil
}

func (s *mockTransactionStore) transition(id string, apply func(*model.Transaction) error) (*model.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tx, ok := s.txs[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	if err := apply(tx); err != nil {
		return tx, err
	}
	return tx, nil
}

// mockUserStore is an in-memory stand-in for store.PostgresUserStore.
type mockUserStore struct {
	mu    sync.Mutex
	users map[string]*model.User
}

func newMockUserStore(users ...*model.User) *mockUserStore {
	s := &mockUserStore{users: make(map[string]*model.User)}
	for _, u := range users {
		s.users[u.ID] = u
	}
	return s
}

func (s *mockUserStore) GetByID(ctx context.Context, id string) (*model.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (s *mockUserStore) ApplyCompletedPayout(ctx context.Context, userID string, newBalance, amount int64, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		return store.ErrNotFound
	}
	u.BalanceCents = newBalance
	u.TotalPayouts++
	u.TotalPayoutAmount += amount
	return nil
}

// mockAuditStore discards every entry; Gateway/Worker treat audit writes
// as best-effort, so tests don't need to assert on them.
type mockAuditStore struct{}

func (mockAuditStore) Append(ctx context.Context, transactionID, userID string, action model.AuditAction, details string) error {
	return nil
}

func (mockAuditStore) AppendBestEffort(ctx context.Context, transactionID, userID string, action model.AuditAction, details string) {
}

// mockPublisher records every envelope published, for assertions that
// exactly one settlement message was enqueued.
type mockPublisher struct {
	mu         sync.Mutex
	Published  []broker.Envelope
	PublishErr error
}

func (p *mockPublisher) Publish(ctx context.Context, env broker.Envelope) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.PublishErr != nil {
		return p.PublishErr
	}
	p.Published = append(p.Published, env)
	return nil
}

func (p *mockPublisher) Republish(ctx context.Context, body []byte, retryCount int32) error {
	return nil
}

// mockEventPublisher records every emitted event.
type mockEventPublisher struct {
	mu     sync.Mutex
	Events []*ws.Event
}

func (p *mockEventPublisher) Publish(ctx context.Context, event *ws.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Events = append(p.Events, event)
	return nil
}

var (
	_ store.TransactionStore = (*mockTransactionStore)(nil)
	_ store.UserStore        = (*mockUserStore)(nil)
	_ store.AuditStore       = mockAuditStore{}
	_ broker.Publisher       = (*mockPublisher)(nil)
	_ ws.EventPublisher      = (*mockEventPublisher)(nil)
)

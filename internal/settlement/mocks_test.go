package settlement

import (
	"context"
	"sync"
	"time"

	"github.com/payoutpipeline/payout-pipeline/internal/balancecache"
	"github.com/payoutpipeline/payout-pipeline/internal/lock"
	"github.com/payoutpipeline/payout-pipeline/internal/model"
	"github.com/payoutpipeline/payout-pipeline/internal/store"
	"github.com/payoutpipeline/payout-pipeline/internal/ws"
)

// mockLock is a hand-rolled test double in the style of the framework
// pack's MockCodeEmbedder: a struct implementing the production
// interface, with counters tests assert on.
type mockLock struct {
	mu           sync.Mutex
	ReleaseCalls int
	ExtendCalls  int
}

func (m *mockLock) Acquire(ctx context.Context, resource string, ttl time.Duration) (string, error) {
	return "tok", nil
}

func (m *mockLock) AcquireWithRetry(ctx context.Context, resource string, ttl time.Duration, attempts int, baseDelay time.Duration) (string, error) {
	return "tok", nil
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
// keeping the same NotFound/Insufficient sentinel contract, and counting
// Deduct/Add calls so redelivery/rollback tests can assert exactly-once
// mutation.
type mockBalanceCache struct {
	mu          sync.Mutex
	balances    map[string]int64
	DeductCalls int
	AddCalls    int
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
	c.DeductCalls++
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
	c.AddCalls++
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
// store.PostgresTransactionStore, counting MarkCompleted/MarkFailed calls
// so redelivery tests can assert exactly-once completion.
type mockTransactionStore struct {
	mu                sync.Mutex
	txs               map[string]*model.Transaction
	MarkCompletedN    int
	MarkFailedN       int
	FailMarkCompleted bool
}

func newMockTransactionStore(txs ...*model.Transaction) *mockTransactionStore {
	s := &mockTransactionStore{txs: make(map[string]*model.Transaction)}
	for _, tx := range txs {
		s.txs[tx.ID] = tx
	}
	return s
}

func (s *mockTransactionStore) Create(ctx context.Context, tx *model.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.txs[tx.ID] = tx
	return nil
}

func (s *mockTransactionStore) GetByID(ctx context.Context, id string) (*model.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tx, ok := s.txs[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return tx, nil
}

func (s *mockTransactionStore) ListByUser(ctx context.Context, userID string, status model.TransactionStatus, limit int) ([]model.Transaction, error) {
	return nil, nil
}

func (s *mockTransactionStore) MarkProcessing(ctx context.Context, id string, now time.Time) (*model.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tx, ok := s.txs[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	if err := tx.MarkProcessing(now); err != nil {
		return tx, err
	}
	return tx, nil
}

func (s *mockTransactionStore) MarkCompleted(ctx context.Context, id string, balanceAfter int64, now time.Time) (*model.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.MarkCompletedN++
	tx, ok := s.txs[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	if s.FailMarkCompleted {
		return tx, assertErr
	}
	if err := tx.MarkCompleted(balanceAfter, now); err != nil {
		return tx, err
	}
	return tx, nil
}

func (s *mockTransactionStore) MarkFailed(ctx context.Context, id, code, message string, now time.Time) (*model.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.MarkFailedN++
	tx, ok := s.txs[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	if err := tx.MarkFailed(code, message, now); err != nil {
		return tx, err
	}
	return tx, nil
}

func (s *mockTransactionStore) StaleProcessing(ctx context.Context, maxAge time.Duration, limit int) ([]model.Transaction, error) {
	return nil, nil
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
	return u, nil
}

func (s *mockUserStore) ApplyCompletedPayout(ctx context.Context, userID string, newBalance, amount int64, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		return store.ErrNotFound
	}
	u.BalanceCents = newBalance
	return nil
}

// mockAuditStore discards every entry; Worker treats audit writes as
// best-effort, so tests don't need to assert on them.
type mockAuditStore struct{}

func (mockAuditStore) Append(ctx context.Context, transactionID, userID string, action model.AuditAction, details string) error {
	return nil
}

func (mockAuditStore) AppendBestEffort(ctx context.Context, transactionID, userID string, action model.AuditAction, details string) {
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

var assertErr = &mockStoreError{}

type mockStoreError struct{}

func (*mockStoreError) Error() string { return "mock: forced store failure" }

var (
	_ store.TransactionStore = (*mockTransactionStore)(nil)
	_ store.UserStore        = (*mockUserStore)(nil)
	_ store.AuditStore       = mockAuditStore{}
	_ ws.EventPublisher      = (*mockEventPublisher)(nil)
)

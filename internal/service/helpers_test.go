package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/punchamoorthee/payledger/internal/domain"
	"github.com/punchamoorthee/payledger/internal/events"
	"github.com/punchamoorthee/payledger/internal/security"
	"github.com/punchamoorthee/payledger/internal/store"
	"github.com/punchamoorthee/payledger/internal/webhook"
)

var testCeiling = decimal.RequireFromString("1000000")

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.Event
	err    error
}

func (p *recordingPublisher) Publish(_ context.Context, ev events.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return p.err
}

func (p *recordingPublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.events)
}

type recordingDispatcher struct {
	mu       sync.Mutex
	payloads []webhook.Payload
	urls     []string
}

func (d *recordingDispatcher) Dispatch(url string, p webhook.Payload) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.urls = append(d.urls, url)
	d.payloads = append(d.payloads, p)
}

// fakeClock is a settable time source for expiry tests.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type testEnv struct {
	store     *store.MemoryStore
	publisher *recordingPublisher
	webhooks  *recordingDispatcher
	clock     *fakeClock
	transfers *TransferService
	registry  *PaymentRequestRegistry
	gateway   *GatewayService
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	s := store.NewMemoryStore(5 * time.Second)
	pub := &recordingPublisher{}
	hooks := &recordingDispatcher{}
	clock := &fakeClock{now: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
	logger := zap.NewNop()

	transfers := NewTransferService(s, pub, logger, testCeiling)
	transfers.now = clock.Now
	registry := NewPaymentRequestRegistry(s, transfers, hooks, logger, 15*time.Minute, 5*time.Minute)
	registry.now = clock.Now
	gateway, err := NewGatewayService(s, transfers, registry, logger)
	if err != nil {
		t.Fatalf("gateway: %v", err)
	}
	return &testEnv{
		store:     s,
		publisher: pub,
		webhooks:  hooks,
		clock:     clock,
		transfers: transfers,
		registry:  registry,
		gateway:   gateway,
	}
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

// newAccount creates an account funded with balance through a RECHARGE.
func (e *testEnv) newAccount(t *testing.T, balance string) uuid.UUID {
	t.Helper()
	return e.newAccountWithPassword(t, balance, "password")
}

func (e *testEnv) newAccountWithPassword(t *testing.T, balance, password string) uuid.UUID {
	t.Helper()
	hash, err := security.HashPassword(password)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	id := uuid.New()
	err = e.store.CreateAccount(context.Background(), domain.Account{
		ID:           id,
		DisplayName:  "user-" + id.String()[:8],
		PasswordHash: hash,
		CreatedAt:    e.clock.Now(),
	})
	if err != nil {
		t.Fatalf("create account: %v", err)
	}
	if amount := dec(balance); amount.IsPositive() {
		_, err := e.transfers.ExecuteTransfer(context.Background(), TransferInput{ReceiverID: id, Amount: amount})
		if err != nil {
			t.Fatalf("fund account: %v", err)
		}
	}
	return id
}

func (e *testEnv) balance(t *testing.T, id uuid.UUID) decimal.Decimal {
	t.Helper()
	w, err := e.store.GetWallet(context.Background(), id)
	if err != nil {
		t.Fatalf("get wallet: %v", err)
	}
	return w.Balance
}

func (e *testEnv) transactionsOf(t *testing.T, id uuid.UUID) []domain.Transaction {
	t.Helper()
	txns, err := e.store.ListTransactions(context.Background(), id, 1000)
	if err != nil {
		t.Fatalf("list transactions: %v", err)
	}
	return txns
}

func assertBalance(t *testing.T, e *testEnv, id uuid.UUID, want string) {
	t.Helper()
	if got := e.balance(t, id); !got.Equal(dec(want)) {
		t.Fatalf("balance of %s: got %s, want %s", id, got, want)
	}
}

func assertErrorIs(t *testing.T, err, target error) {
	t.Helper()
	if !errors.Is(err, target) {
		t.Fatalf("expected %v, got %v", target, err)
	}
}

package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/punchamoorthee/payledger/internal/domain"
)

// MemoryStore keeps the whole ledger in process memory. Leases are
// per-row channels, so it honors the same serialization contract as
// PostgresStore and backs local development and the unit tests.
type MemoryStore struct {
	lockTimeout time.Duration

	mu           sync.Mutex
	accounts     map[uuid.UUID]domain.Account
	wallets      map[uuid.UUID]domain.Wallet
	transactions []domain.Transaction
	requests     map[string]domain.PaymentRequest
	apps         map[string]domain.App
	cards        map[string]domain.Card
	idempotency  map[string]domain.IdempotencyRecord
	reserved     map[string]bool
	webhooks     []domain.WebhookDelivery
	leases       map[string]chan struct{}
}

func NewMemoryStore(lockTimeout time.Duration) *MemoryStore {
	return &MemoryStore{
		lockTimeout: lockTimeout,
		accounts:    make(map[uuid.UUID]domain.Account),
		wallets:     make(map[uuid.UUID]domain.Wallet),
		requests:    make(map[string]domain.PaymentRequest),
		apps:        make(map[string]domain.App),
		cards:       make(map[string]domain.Card),
		idempotency: make(map[string]domain.IdempotencyRecord),
		reserved:    make(map[string]bool),
		leases:      make(map[string]chan struct{}),
	}
}

func (s *MemoryStore) Ping(context.Context) error { return nil }

func (s *MemoryStore) Close() {}

func (s *MemoryStore) lease(key string) chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.leases[key]
	if !ok {
		l = make(chan struct{}, 1)
		s.leases[key] = l
	}
	return l
}

func (s *MemoryStore) WithTx(ctx context.Context, fn func(Tx) error) error {
	tx := &memTx{
		s:        s,
		held:     make(map[string]chan struct{}),
		wallets:  make(map[uuid.UUID]domain.Wallet),
		requests: make(map[string]domain.PaymentRequest),
		idem:     make(map[string]domain.IdempotencyRecord),
	}
	if err := fn(tx); err != nil {
		tx.rollback()
		return err
	}
	tx.commit()
	return nil
}

func (s *MemoryStore) CreateAccount(_ context.Context, acc domain.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.accounts[acc.ID]; ok {
		return fmt.Errorf("%w: account %s already exists", domain.ErrValidation, acc.ID)
	}
	s.accounts[acc.ID] = acc
	s.wallets[acc.ID] = domain.Wallet{AccountID: acc.ID, Balance: decimal.Zero, UpdatedAt: acc.CreatedAt}
	return nil
}

func (s *MemoryStore) GetAccount(_ context.Context, id uuid.UUID) (*domain.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	acc, ok := s.accounts[id]
	if !ok {
		return nil, fmt.Errorf("%w: account", domain.ErrNotFound)
	}
	return &acc, nil
}

func (s *MemoryStore) GetWallet(_ context.Context, accountID uuid.UUID) (*domain.Wallet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.wallets[accountID]
	if !ok {
		return nil, fmt.Errorf("%w: wallet", domain.ErrNotFound)
	}
	return &w, nil
}

func (s *MemoryStore) ListTransactions(_ context.Context, accountID uuid.UUID, limit int) ([]domain.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	txns := []domain.Transaction{}
	for i := len(s.transactions) - 1; i >= 0 && len(txns) < limit; i-- {
		t := s.transactions[i]
		if t.ReceiverID == accountID || (t.SenderID != nil && *t.SenderID == accountID) {
			txns = append(txns, t)
		}
	}
	return txns, nil
}

func (s *MemoryStore) FindSuccessfulTransaction(_ context.Context, receiverID uuid.UUID, referenceID string) (*domain.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.transactions) - 1; i >= 0; i-- {
		t := s.transactions[i]
		if t.ReceiverID == receiverID && t.ReferenceID == referenceID && t.Status == domain.StatusSuccess {
			return &t, nil
		}
	}
	return nil, fmt.Errorf("%w: transaction", domain.ErrNotFound)
}

func (s *MemoryStore) GetPaymentRequest(_ context.Context, token string) (*domain.PaymentRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.requests[token]
	if !ok {
		return nil, fmt.Errorf("%w: payment request", domain.ErrNotFound)
	}
	return &p, nil
}

func (s *MemoryStore) ExpirePaymentRequest(ctx context.Context, token string, now time.Time) error {
	return s.WithTx(ctx, func(tx Tx) error {
		p, err := tx.LockPaymentRequest(ctx, token)
		if err != nil {
			return err
		}
		if p.Status != domain.RequestPending || !p.Expired(now) {
			return nil
		}
		return tx.UpdatePaymentRequestStatus(ctx, p.ID, domain.RequestExpired, nil)
	})
}

func (s *MemoryStore) CreateApp(_ context.Context, app domain.App) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.apps[app.APIKeyHash]; ok {
		return fmt.Errorf("failed to save app: duplicate key hash")
	}
	s.apps[app.APIKeyHash] = app
	return nil
}

func (s *MemoryStore) GetAppByKeyHash(_ context.Context, keyHash string) (*domain.App, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	app, ok := s.apps[keyHash]
	if !ok {
		return nil, fmt.Errorf("%w: app", domain.ErrNotFound)
	}
	return &app, nil
}

func (s *MemoryStore) CreateCard(_ context.Context, card domain.Card) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.accounts[card.AccountID]; !ok {
		return fmt.Errorf("%w: account", domain.ErrNotFound)
	}
	s.cards[card.Number] = card
	return nil
}

func (s *MemoryStore) GetCard(_ context.Context, number string) (*domain.Card, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.cards[number]
	if !ok {
		return nil, fmt.Errorf("%w: card", domain.ErrNotFound)
	}
	return &c, nil
}

func (s *MemoryStore) RecordWebhookDelivery(_ context.Context, d domain.WebhookDelivery) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	d.ID = int64(len(s.webhooks) + 1)
	if d.CreatedAt.IsZero() {
		d.CreatedAt = time.Now().UTC()
	}
	s.webhooks = append(s.webhooks, d)
	return nil
}

// WebhookDeliveries returns the recorded delivery audit rows.
func (s *MemoryStore) WebhookDeliveries() []domain.WebhookDelivery {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.WebhookDelivery(nil), s.webhooks...)
}

// TotalBalance sums every wallet. Only RECHARGE changes it.
func (s *MemoryStore) TotalBalance() decimal.Decimal {
	s.mu.Lock()
	defer s.mu.Unlock()
	total := decimal.Zero
	for _, w := range s.wallets {
		total = total.Add(w.Balance)
	}
	return total
}

// memTx stages writes and applies them atomically on commit.
type memTx struct {
	s        *MemoryStore
	held     map[string]chan struct{}
	order    []string
	wallets  map[uuid.UUID]domain.Wallet
	txns     []domain.Transaction
	requests map[string]domain.PaymentRequest
	idem     map[string]domain.IdempotencyRecord
	reserved []string
}

func (t *memTx) acquire(ctx context.Context, key string) error {
	if _, ok := t.held[key]; ok {
		return nil
	}
	l := t.s.lease(key)

	var timeout <-chan time.Time
	if t.s.lockTimeout > 0 {
		timer := time.NewTimer(t.s.lockTimeout)
		defer timer.Stop()
		timeout = timer.C
	}

	select {
	case l <- struct{}{}:
		t.held[key] = l
		t.order = append(t.order, key)
		return nil
	case <-timeout:
		return fmt.Errorf("%w: lock timeout on %s", domain.ErrConflictRetryable, key)
	case <-ctx.Done():
		return fmt.Errorf("%w: %v", domain.ErrConflictRetryable, ctx.Err())
	}
}

func (t *memTx) release() {
	// Release in reverse acquisition order.
	for i := len(t.order) - 1; i >= 0; i-- {
		<-t.held[t.order[i]]
	}
	t.held = nil
	t.order = nil
}

func (t *memTx) commit() {
	s := t.s
	s.mu.Lock()
	for id, w := range t.wallets {
		s.wallets[id] = w
	}
	s.transactions = append(s.transactions, t.txns...)
	for token, p := range t.requests {
		s.requests[token] = p
	}
	for key, rec := range t.idem {
		s.idempotency[key] = rec
	}
	for _, key := range t.reserved {
		delete(s.reserved, key)
	}
	s.mu.Unlock()
	t.release()
}

func (t *memTx) rollback() {
	s := t.s
	s.mu.Lock()
	for _, key := range t.reserved {
		delete(s.reserved, key)
	}
	s.mu.Unlock()
	t.release()
}

func walletKey(id uuid.UUID) string { return "wallet:" + id.String() }

func requestKey(token string) string { return "request:" + token }

func (t *memTx) wallet(accountID uuid.UUID) (domain.Wallet, bool) {
	if w, ok := t.wallets[accountID]; ok {
		return w, true
	}
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	w, ok := t.s.wallets[accountID]
	return w, ok
}

func (t *memTx) LockWallet(ctx context.Context, accountID uuid.UUID) (*domain.Wallet, error) {
	if err := t.acquire(ctx, walletKey(accountID)); err != nil {
		return nil, err
	}
	w, ok := t.wallet(accountID)
	if !ok {
		return nil, fmt.Errorf("%w: account %s", domain.ErrNotFound, accountID)
	}
	return &w, nil
}

func (t *memTx) SetWalletBalance(_ context.Context, accountID uuid.UUID, balance decimal.Decimal) error {
	if _, ok := t.held[walletKey(accountID)]; !ok {
		return fmt.Errorf("update balance: wallet %s is not leased", accountID)
	}
	w, ok := t.wallet(accountID)
	if !ok {
		return fmt.Errorf("%w: account %s", domain.ErrNotFound, accountID)
	}
	w.Balance = balance
	w.UpdatedAt = time.Now().UTC()
	t.wallets[accountID] = w
	return nil
}

func (t *memTx) InsertTransaction(_ context.Context, txn domain.Transaction) error {
	t.txns = append(t.txns, txn)
	return nil
}

func (t *memTx) request(token string) (domain.PaymentRequest, bool) {
	if p, ok := t.requests[token]; ok {
		return p, true
	}
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	p, ok := t.s.requests[token]
	return p, ok
}

func (t *memTx) InsertPaymentRequest(_ context.Context, p domain.PaymentRequest) error {
	if _, ok := t.request(p.Token); ok {
		return fmt.Errorf("payment request insert failed: duplicate token")
	}
	if p.UpdatedAt.IsZero() {
		p.UpdatedAt = p.CreatedAt
	}
	t.requests[p.Token] = p
	return nil
}

func (t *memTx) LockPaymentRequest(ctx context.Context, token string) (*domain.PaymentRequest, error) {
	if err := t.acquire(ctx, requestKey(token)); err != nil {
		return nil, err
	}
	p, ok := t.request(token)
	if !ok {
		return nil, fmt.Errorf("%w: payment request", domain.ErrNotFound)
	}
	return &p, nil
}

func (t *memTx) UpdatePaymentRequestStatus(_ context.Context, id uuid.UUID, status domain.RequestStatus, transactionID *uuid.UUID) error {
	var found *domain.PaymentRequest
	for _, p := range t.requests {
		if p.ID == id {
			found = &p
			break
		}
	}
	if found == nil {
		t.s.mu.Lock()
		for _, p := range t.s.requests {
			if p.ID == id {
				found = &p
				break
			}
		}
		t.s.mu.Unlock()
	}
	if found == nil {
		return fmt.Errorf("%w: payment request", domain.ErrNotFound)
	}
	found.Status = status
	if transactionID != nil {
		found.TransactionID = transactionID
	}
	found.UpdatedAt = time.Now().UTC()
	t.requests[found.Token] = *found
	return nil
}

func (t *memTx) GetIdempotencyRecord(_ context.Context, key string) (*domain.IdempotencyRecord, error) {
	if rec, ok := t.idem[key]; ok {
		return &rec, nil
	}
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	rec, ok := t.s.idempotency[key]
	if !ok {
		return nil, fmt.Errorf("%w: idempotency key", domain.ErrNotFound)
	}
	return &rec, nil
}

func (t *memTx) ReserveIdempotencyKey(_ context.Context, key, requestHash string) error {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	if _, ok := t.s.idempotency[key]; ok || t.s.reserved[key] {
		return fmt.Errorf("%w: request in progress", domain.ErrConflictRetryable)
	}
	t.s.reserved[key] = true
	t.reserved = append(t.reserved, key)
	t.idem[key] = domain.IdempotencyRecord{Key: key, RequestHash: requestHash, Status: domain.IdempotencyInProgress}
	return nil
}

func (t *memTx) CompleteIdempotencyKey(_ context.Context, key string, transactionID uuid.UUID, body []byte) error {
	rec, ok := t.idem[key]
	if !ok {
		return fmt.Errorf("idempotency update failed: key %s not reserved", key)
	}
	rec.Status = domain.IdempotencyCompleted
	rec.TransactionID = &transactionID
	rec.ResponseBody = append([]byte(nil), body...)
	t.idem[key] = rec
	return nil
}

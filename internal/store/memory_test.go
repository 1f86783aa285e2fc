package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/punchamoorthee/payledger/internal/domain"
)

func newAccount(t *testing.T, s *MemoryStore) uuid.UUID {
	t.Helper()
	id := uuid.New()
	if err := s.CreateAccount(context.Background(), domain.Account{ID: id, DisplayName: "a", CreatedAt: time.Now()}); err != nil {
		t.Fatalf("create account: %v", err)
	}
	return id
}

func TestMemoryRollbackDiscardsWrites(t *testing.T) {
	s := NewMemoryStore(time.Second)
	ctx := context.Background()
	id := newAccount(t, s)
	boom := errors.New("boom")

	err := s.WithTx(ctx, func(tx Tx) error {
		if _, err := tx.LockWallet(ctx, id); err != nil {
			return err
		}
		if err := tx.SetWalletBalance(ctx, id, decimal.NewFromInt(50)); err != nil {
			return err
		}
		if err := tx.InsertTransaction(ctx, domain.Transaction{ID: uuid.New(), ReceiverID: id, Amount: decimal.NewFromInt(50)}); err != nil {
			return err
		}
		if err := tx.ReserveIdempotencyKey(ctx, "k", "h"); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}

	w, err := s.GetWallet(ctx, id)
	if err != nil {
		t.Fatalf("get wallet: %v", err)
	}
	if !w.Balance.IsZero() {
		t.Fatalf("rolled back balance leaked: %s", w.Balance)
	}
	txns, _ := s.ListTransactions(ctx, id, 10)
	if len(txns) != 0 {
		t.Fatalf("rolled back transaction leaked: %+v", txns)
	}

	// The reservation is released with the rollback.
	err = s.WithTx(ctx, func(tx Tx) error {
		return tx.ReserveIdempotencyKey(ctx, "k", "h")
	})
	if err != nil {
		t.Fatalf("reserve after rollback: %v", err)
	}
}

func TestMemorySetBalanceRequiresLease(t *testing.T) {
	s := NewMemoryStore(time.Second)
	ctx := context.Background()
	id := newAccount(t, s)

	err := s.WithTx(ctx, func(tx Tx) error {
		return tx.SetWalletBalance(ctx, id, decimal.NewFromInt(1))
	})
	if err == nil {
		t.Fatal("expected an error when writing an unleased wallet")
	}
}

func TestMemoryLeaseTimesOut(t *testing.T) {
	s := NewMemoryStore(50 * time.Millisecond)
	ctx := context.Background()
	id := newAccount(t, s)

	held := make(chan struct{})
	release := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- s.WithTx(ctx, func(tx Tx) error {
			if _, err := tx.LockWallet(ctx, id); err != nil {
				return err
			}
			close(held)
			<-release
			return nil
		})
	}()
	<-held

	err := s.WithTx(ctx, func(tx Tx) error {
		_, err := tx.LockWallet(ctx, id)
		return err
	})
	if !errors.Is(err, domain.ErrConflictRetryable) {
		t.Fatalf("expected retryable conflict, got %v", err)
	}

	close(release)
	if err := <-done; err != nil {
		t.Fatalf("holder: %v", err)
	}

	// Free again once the holder commits.
	err = s.WithTx(ctx, func(tx Tx) error {
		_, err := tx.LockWallet(ctx, id)
		return err
	})
	if err != nil {
		t.Fatalf("lock after release: %v", err)
	}
}

func TestMemoryLeaseSeesCommittedWrites(t *testing.T) {
	s := NewMemoryStore(time.Second)
	ctx := context.Background()
	id := newAccount(t, s)

	locked := make(chan struct{})
	first := make(chan error, 1)
	go func() {
		first <- s.WithTx(ctx, func(tx Tx) error {
			if _, err := tx.LockWallet(ctx, id); err != nil {
				return err
			}
			close(locked)
			time.Sleep(20 * time.Millisecond)
			return tx.SetWalletBalance(ctx, id, decimal.NewFromInt(10))
		})
	}()
	<-locked

	var seen decimal.Decimal
	err := s.WithTx(ctx, func(tx Tx) error {
		w, err := tx.LockWallet(ctx, id)
		if err != nil {
			return err
		}
		seen = w.Balance
		return nil
	})
	if err != nil {
		t.Fatalf("second lock: %v", err)
	}
	if err := <-first; err != nil {
		t.Fatalf("first: %v", err)
	}
	if !seen.Equal(decimal.NewFromInt(10)) {
		t.Fatalf("waiter must observe the committed balance, saw %s", seen)
	}
}

func TestMemoryExpirePaymentRequest(t *testing.T) {
	s := NewMemoryStore(time.Second)
	ctx := context.Background()
	id := newAccount(t, s)
	now := time.Now()

	req := domain.PaymentRequest{
		ID:         uuid.New(),
		ReceiverID: id,
		Amount:     decimal.NewFromInt(5),
		Token:      "tok",
		ExpiresAt:  now.Add(time.Minute),
		Status:     domain.RequestPending,
		CreatedAt:  now,
	}
	if err := s.WithTx(ctx, func(tx Tx) error { return tx.InsertPaymentRequest(ctx, req) }); err != nil {
		t.Fatalf("insert: %v", err)
	}

	if err := s.ExpirePaymentRequest(ctx, "tok", now); err != nil {
		t.Fatalf("expire early: %v", err)
	}
	got, _ := s.GetPaymentRequest(ctx, "tok")
	if got.Status != domain.RequestPending {
		t.Fatalf("request expired before its deadline: %s", got.Status)
	}

	if err := s.ExpirePaymentRequest(ctx, "tok", now.Add(time.Hour)); err != nil {
		t.Fatalf("expire: %v", err)
	}
	got, _ = s.GetPaymentRequest(ctx, "tok")
	if got.Status != domain.RequestExpired {
		t.Fatalf("expected EXPIRED, got %s", got.Status)
	}
}

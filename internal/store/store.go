package store

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/punchamoorthee/payledger/internal/domain"
)

// Store is the data-access contract of the ledger core.
// Reads outside WithTx see committed state only.
type Store interface {
	// WithTx runs fn inside one atomic unit. A non-nil error from fn rolls back
	// every write made through the Tx; nil commits them together.
	WithTx(ctx context.Context, fn func(Tx) error) error

	CreateAccount(ctx context.Context, acc domain.Account) error
	GetAccount(ctx context.Context, id uuid.UUID) (*domain.Account, error)
	GetWallet(ctx context.Context, accountID uuid.UUID) (*domain.Wallet, error)
	ListTransactions(ctx context.Context, accountID uuid.UUID, limit int) ([]domain.Transaction, error)
	FindSuccessfulTransaction(ctx context.Context, receiverID uuid.UUID, referenceID string) (*domain.Transaction, error)

	GetPaymentRequest(ctx context.Context, token string) (*domain.PaymentRequest, error)
	// ExpirePaymentRequest flips a PENDING request whose deadline passed to EXPIRED.
	// It is a no-op for any other state.
	ExpirePaymentRequest(ctx context.Context, token string, now time.Time) error

	CreateApp(ctx context.Context, app domain.App) error
	GetAppByKeyHash(ctx context.Context, keyHash string) (*domain.App, error)
	CreateCard(ctx context.Context, card domain.Card) error
	GetCard(ctx context.Context, number string) (*domain.Card, error)

	RecordWebhookDelivery(ctx context.Context, d domain.WebhookDelivery) error

	Ping(ctx context.Context) error
	Close()
}

// Tx is the view of the store inside one atomic unit.
//
// LockWallet and LockPaymentRequest grant an exclusive lease on the row for
// the rest of the unit: a second unit asking for the same row waits until the
// first commits or rolls back, then observes its writes. Callers acquire
// wallet leases in ascending account id order.
type Tx interface {
	LockWallet(ctx context.Context, accountID uuid.UUID) (*domain.Wallet, error)
	SetWalletBalance(ctx context.Context, accountID uuid.UUID, balance decimal.Decimal) error
	InsertTransaction(ctx context.Context, t domain.Transaction) error

	InsertPaymentRequest(ctx context.Context, p domain.PaymentRequest) error
	LockPaymentRequest(ctx context.Context, token string) (*domain.PaymentRequest, error)
	UpdatePaymentRequestStatus(ctx context.Context, id uuid.UUID, status domain.RequestStatus, transactionID *uuid.UUID) error

	GetIdempotencyRecord(ctx context.Context, key string) (*domain.IdempotencyRecord, error)
	// ReserveIdempotencyKey fails with domain.ErrConflictRetryable when another
	// unit holds or has completed the key.
	ReserveIdempotencyKey(ctx context.Context, key, requestHash string) error
	CompleteIdempotencyKey(ctx context.Context, key string, transactionID uuid.UUID, body []byte) error
}

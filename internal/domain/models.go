package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type TransactionType string

const (
	TypeTransfer TransactionType = "TRANSFER"
	TypePayment  TransactionType = "PAYMENT"
	TypeRecharge TransactionType = "RECHARGE"
)

type TransactionStatus string

const (
	StatusSuccess TransactionStatus = "SUCCESS"
	StatusFailed  TransactionStatus = "FAILED"
	StatusPending TransactionStatus = "PENDING"
)

type RequestStatus string

const (
	RequestPending   RequestStatus = "PENDING"
	RequestCompleted RequestStatus = "COMPLETED"
	RequestExpired   RequestStatus = "EXPIRED"
	RequestCancelled RequestStatus = "CANCELLED"
)

// Terminal reports whether no further transition is allowed out of s.
func (s RequestStatus) Terminal() bool {
	return s != RequestPending
}

// Account is an opaque user or merchant identity owning exactly one wallet.
type Account struct {
	ID           uuid.UUID `json:"id"`
	DisplayName  string    `json:"display_name"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
}

// Wallet is the single balance record of an account.
// Balance is never negative and never above the configured ceiling after a credit.
type Wallet struct {
	AccountID uuid.UUID       `json:"account_id"`
	Balance   decimal.Decimal `json:"balance"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// Transaction is the immutable audit record of one completed balance move.
// SenderID is nil for system credits (RECHARGE).
type Transaction struct {
	ID                   uuid.UUID           `json:"id"`
	SenderID             *uuid.UUID          `json:"sender_id,omitempty"`
	ReceiverID           uuid.UUID           `json:"receiver_id"`
	Amount               decimal.Decimal     `json:"amount"`
	Type                 TransactionType     `json:"type"`
	Status               TransactionStatus   `json:"status"`
	ReferenceID          string              `json:"reference_id"`
	SenderBalanceAfter   decimal.NullDecimal `json:"sender_balance_after"`
	ReceiverBalanceAfter decimal.Decimal     `json:"receiver_balance_after"`
	AppID                *uuid.UUID          `json:"app_id,omitempty"`
	CreatedAt            time.Time           `json:"created_at"`
}

// PaymentRequest is a short-lived, single-use claim to pay ReceiverID exactly Amount.
type PaymentRequest struct {
	ID            uuid.UUID       `json:"id"`
	ReceiverID    uuid.UUID       `json:"receiver_id"`
	Amount        decimal.Decimal `json:"amount"`
	ReferenceID   string          `json:"reference_id"`
	Token         string          `json:"token"`
	ExpiresAt     time.Time       `json:"expires_at"`
	CallbackURL   string          `json:"callback_url,omitempty"`
	Status        RequestStatus   `json:"status"`
	AppID         *uuid.UUID      `json:"app_id,omitempty"`
	TransactionID *uuid.UUID      `json:"transaction_id,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// Expired reports whether the request deadline has passed at now.
func (p *PaymentRequest) Expired(now time.Time) bool {
	return !now.Before(p.ExpiresAt)
}

// App is a third-party integrator authorized by an API key.
// Only the sha256 hash of the key is stored.
type App struct {
	ID             uuid.UUID `json:"id"`
	OwnerAccountID uuid.UUID `json:"owner_account_id"`
	Name           string    `json:"name"`
	APIKeyHash     string    `json:"-"`
	KeyPrefix      string    `json:"key_prefix"`
	IsActive       bool      `json:"is_active"`
	CreatedAt      time.Time `json:"created_at"`
}

// Card binds a card number to the account it pays from.
type Card struct {
	Number    string    `json:"-"`
	AccountID uuid.UUID `json:"account_id"`
	CVVHash   string    `json:"-"`
	Expiry    string    `json:"expiry"`
}

// TransactionResult is returned by every successful transfer path.
type TransactionResult struct {
	TransactionID        uuid.UUID           `json:"transaction_id"`
	Type                 TransactionType     `json:"type"`
	ReferenceID          string              `json:"reference_id"`
	Amount               decimal.Decimal     `json:"amount"`
	SenderBalanceAfter   decimal.NullDecimal `json:"sender_balance_after"`
	ReceiverBalanceAfter decimal.Decimal     `json:"receiver_balance_after"`
	CreatedAt            time.Time           `json:"created_at"`
	Replayed             bool                `json:"-"`
}

// IdempotencyRecord stores the response of a keyed request for exact replay.
type IdempotencyRecord struct {
	Key           string          `json:"key"`
	RequestHash   string          `json:"request_hash"`
	Status        string          `json:"status"`
	TransactionID *uuid.UUID      `json:"transaction_id,omitempty"`
	ResponseBody  json.RawMessage `json:"response_body,omitempty"`
}

const (
	IdempotencyInProgress = "in_progress"
	IdempotencyCompleted  = "completed"
)

// WebhookDelivery is the audit row of one outbound merchant callback attempt.
type WebhookDelivery struct {
	ID               int64     `json:"id"`
	PaymentRequestID uuid.UUID `json:"payment_request_id"`
	URL              string    `json:"url"`
	Event            string    `json:"event"`
	StatusCode       int       `json:"status_code"`
	Error            string    `json:"error,omitempty"`
	LatencyMS        int64     `json:"latency_ms"`
	CreatedAt        time.Time `json:"created_at"`
}

package domain

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// MaxReferenceLength bounds merchant-supplied reference ids.
const MaxReferenceLength = 128

// MaxRequestTTL bounds how long a payment request may stay payable.
const MaxRequestTTL = 24 * time.Hour

// ValidateAmount checks that amount is positive with at most two decimal places.
func ValidateAmount(amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return fmt.Errorf("%w: amount must be positive", ErrValidation)
	}
	if !amount.Equal(amount.Round(2)) {
		return fmt.Errorf("%w: amount supports at most 2 decimal places", ErrValidation)
	}
	return nil
}

func validateReference(ref string) error {
	if len(ref) > MaxReferenceLength {
		return fmt.Errorf("%w: reference_id longer than %d characters", ErrValidation, MaxReferenceLength)
	}
	return nil
}

// TransferRequest is the session-authenticated peer transfer payload.
type TransferRequest struct {
	ReceiverID  uuid.UUID       `json:"receiver_id"`
	Amount      decimal.Decimal `json:"amount"`
	ReferenceID string          `json:"reference_id,omitempty"`
}

func (r TransferRequest) Validate() error {
	if r.ReceiverID == uuid.Nil {
		return fmt.Errorf("%w: receiver_id is required", ErrValidation)
	}
	if err := ValidateAmount(r.Amount); err != nil {
		return err
	}
	return validateReference(r.ReferenceID)
}

// TopUpRequest credits the caller's own wallet.
type TopUpRequest struct {
	Amount      decimal.Decimal `json:"amount"`
	ReferenceID string          `json:"reference_id,omitempty"`
}

func (r TopUpRequest) Validate() error {
	if err := ValidateAmount(r.Amount); err != nil {
		return err
	}
	return validateReference(r.ReferenceID)
}

// PaymentRequestCreate is the payee side of a QR or merchant payment request.
type PaymentRequestCreate struct {
	Amount      decimal.Decimal `json:"amount"`
	ReferenceID string          `json:"reference_id,omitempty"`
	TTLSeconds  int64           `json:"ttl_seconds,omitempty"`
	CallbackURL string          `json:"callback_url,omitempty"`
}

func (r PaymentRequestCreate) Validate() error {
	if err := ValidateAmount(r.Amount); err != nil {
		return err
	}
	if r.TTLSeconds < 0 {
		return fmt.Errorf("%w: ttl_seconds must not be negative", ErrValidation)
	}
	if r.TTLSeconds > int64(MaxRequestTTL/time.Second) {
		return fmt.Errorf("%w: ttl_seconds must be at most %d", ErrValidation, int64(MaxRequestTTL/time.Second))
	}
	if r.CallbackURL != "" {
		u, err := url.Parse(r.CallbackURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("%w: callback_url must be an absolute http(s) URL", ErrValidation)
		}
	}
	return validateReference(r.ReferenceID)
}

// CardCredentials authenticate a payer without a session.
type CardCredentials struct {
	CardNumber string `json:"card_number"`
	CVV        string `json:"cvv"`
	Expiry     string `json:"expiry"`
	Password   string `json:"password"`
}

func (c CardCredentials) Present() bool {
	return c.CardNumber != "" || c.CVV != "" || c.Expiry != "" || c.Password != ""
}

func (c CardCredentials) Validate() error {
	if c.CardNumber == "" || c.CVV == "" || c.Expiry == "" || c.Password == "" {
		return fmt.Errorf("%w: card_number, cvv, expiry and password are required", ErrValidation)
	}
	return nil
}

// NormalizeCardNumber strips the spaces and dashes users type into card fields.
func NormalizeCardNumber(number string) string {
	return strings.NewReplacer(" ", "", "-", "").Replace(number)
}

// ExternalTransferRequest is the merchant direct-transfer payload.
// Exactly one of FromAccount or the card credentials identifies the payer.
type ExternalTransferRequest struct {
	CardCredentials
	FromAccount *uuid.UUID      `json:"from_account,omitempty"`
	ToAccount   uuid.UUID       `json:"to_account"`
	Amount      decimal.Decimal `json:"amount"`
	OrderID     string          `json:"order_id"`
}

func (r ExternalTransferRequest) Validate() error {
	if r.ToAccount == uuid.Nil {
		return fmt.Errorf("%w: to_account is required", ErrValidation)
	}
	if r.OrderID == "" {
		return fmt.Errorf("%w: order_id is required", ErrValidation)
	}
	if err := ValidateAmount(r.Amount); err != nil {
		return err
	}
	switch {
	case r.FromAccount != nil && r.CardCredentials.Present():
		return fmt.Errorf("%w: use either from_account or card credentials", ErrValidation)
	case r.FromAccount == nil:
		if err := r.CardCredentials.Validate(); err != nil {
			return err
		}
	}
	return validateReference(r.OrderID)
}

// CreateAppRequest registers a developer app for the calling account.
type CreateAppRequest struct {
	Name string `json:"name"`
}

func (r CreateAppRequest) Validate() error {
	name := strings.TrimSpace(r.Name)
	if name == "" || len(name) > 100 {
		return fmt.Errorf("%w: name must be 1-100 characters", ErrValidation)
	}
	return nil
}

// BroadcastRequest is a system notice pushed to every connected client.
type BroadcastRequest struct {
	Message string `json:"message"`
}

func (r BroadcastRequest) Validate() error {
	if strings.TrimSpace(r.Message) == "" {
		return fmt.Errorf("%w: message is required", ErrValidation)
	}
	return nil
}

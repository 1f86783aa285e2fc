package domain

import (
	"errors"
	"fmt"
	"math"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

func TestValidateAmount(t *testing.T) {
	cases := map[string]bool{
		"0.01":    true,
		"300":     true,
		"12.50":   true,
		"0":       false,
		"-1":      false,
		"1.001":   false,
		"0.00001": false,
	}
	for in, ok := range cases {
		err := ValidateAmount(decimal.RequireFromString(in))
		if ok && err != nil {
			t.Errorf("%s: unexpected error %v", in, err)
		}
		if !ok && !errors.Is(err, ErrValidation) {
			t.Errorf("%s: expected validation error, got %v", in, err)
		}
	}
}

func TestExternalTransferRequestValidate(t *testing.T) {
	from := uuid.New()
	card := CardCredentials{CardNumber: "4111111111111111", CVV: "123", Expiry: "12/29", Password: "pw"}
	base := ExternalTransferRequest{ToAccount: uuid.New(), Amount: decimal.NewFromInt(10), OrderID: "o-1"}

	withCard := base
	withCard.CardCredentials = card
	if err := withCard.Validate(); err != nil {
		t.Fatalf("card request: %v", err)
	}

	withAccount := base
	withAccount.FromAccount = &from
	if err := withAccount.Validate(); err != nil {
		t.Fatalf("account request: %v", err)
	}

	both := withCard
	both.FromAccount = &from
	neither := base
	partial := base
	partial.CardCredentials = CardCredentials{CardNumber: card.CardNumber}
	noOrder := withCard
	noOrder.OrderID = ""

	for name, req := range map[string]ExternalTransferRequest{
		"both payers":      both,
		"no payer":         neither,
		"partial card":     partial,
		"missing order id": noOrder,
	} {
		if err := req.Validate(); !errors.Is(err, ErrValidation) {
			t.Errorf("%s: expected validation error, got %v", name, err)
		}
	}
}

func TestPaymentRequestCreateValidate(t *testing.T) {
	ok := PaymentRequestCreate{Amount: decimal.NewFromInt(5), CallbackURL: "https://shop.example/hook"}
	if err := ok.Validate(); err != nil {
		t.Fatalf("valid request: %v", err)
	}
	for _, url := range []string{"ftp://x", "/relative", "https://"} {
		bad := ok
		bad.CallbackURL = url
		if err := bad.Validate(); !errors.Is(err, ErrValidation) {
			t.Errorf("%q: expected validation error, got %v", url, err)
		}
	}
}

func TestNormalizeCardNumber(t *testing.T) {
	if got := NormalizeCardNumber("4111 1111-1111 1111"); got != "4111111111111111" {
		t.Fatalf("got %s", got)
	}
}

func TestCode(t *testing.T) {
	cases := map[error]string{
		fmt.Errorf("%w: x", ErrNotFound):                "not_found",
		fmt.Errorf("%w: x", ErrConflictRetryable):       "conflict_retryable",
		fmt.Errorf("wrap: %w", ErrAuthenticationFailed): "authentication_failed",
		errors.New("db exploded"):                        "internal_error",
	}
	for err, want := range cases {
		if got := Code(err); got != want {
			t.Errorf("Code(%v) = %s, want %s", err, got, want)
		}
	}
}

func TestRequestExpiry(t *testing.T) {
	p := PaymentRequest{Status: RequestPending}
	p.ExpiresAt = p.CreatedAt.Add(1)
	if p.Expired(p.CreatedAt) {
		t.Fatal("not expired before the deadline")
	}
	if !p.Expired(p.ExpiresAt) {
		t.Fatal("expired exactly at the deadline")
	}
	if RequestPending.Terminal() || !RequestCancelled.Terminal() {
		t.Fatal("unexpected terminal states")
	}
}

func TestPaymentRequestCreateTTLBounds(t *testing.T) {
	req := PaymentRequestCreate{Amount: decimal.NewFromInt(5)}

	req.TTLSeconds = 24 * 60 * 60
	if err := req.Validate(); err != nil {
		t.Fatalf("24h ttl: %v", err)
	}
	for _, ttl := range []int64{24*60*60 + 1, 18446744074, math.MaxInt64} {
		req.TTLSeconds = ttl
		if err := req.Validate(); !errors.Is(err, ErrValidation) {
			t.Errorf("ttl_seconds %d: expected validation error, got %v", ttl, err)
		}
	}
}

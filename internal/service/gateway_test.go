package service

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/punchamoorthee/payledger/internal/domain"
	"github.com/punchamoorthee/payledger/internal/security"
)

const testCard = "4111111111111111"

func registerApp(t *testing.T, env *testEnv, owner uuid.UUID) (*domain.App, string) {
	t.Helper()
	app, key, err := env.gateway.RegisterApp(context.Background(), owner, "Corner Shop")
	if err != nil {
		t.Fatalf("register app: %v", err)
	}
	return app, key
}

// cardholder creates a funded account with testCard attached.
func cardholder(t *testing.T, env *testEnv, balance string) uuid.UUID {
	t.Helper()
	id := env.newAccountWithPassword(t, balance, "s3cret")
	cvvHash, err := security.HashPassword("123")
	if err != nil {
		t.Fatalf("hash cvv: %v", err)
	}
	err = env.store.CreateCard(context.Background(), domain.Card{
		Number:    testCard,
		AccountID: id,
		CVVHash:   cvvHash,
		Expiry:    "12/29",
	})
	if err != nil {
		t.Fatalf("create card: %v", err)
	}
	return id
}

func validCard() domain.CardCredentials {
	return domain.CardCredentials{CardNumber: "4111 1111 1111 1111", CVV: "123", Expiry: "12/29", Password: "s3cret"}
}

func TestAuthenticate(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	owner := env.newAccount(t, "0")
	app, key := registerApp(t, env, owner)

	got, err := env.gateway.Authenticate(ctx, key)
	if err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	if got.ID != app.ID || got.KeyPrefix != key[:len(security.APIKeyPrefix)+8] {
		t.Fatalf("unexpected app %+v", got)
	}

	for _, bad := range []string{"", "pl_live_nope", key + "0"} {
		_, err := env.gateway.Authenticate(ctx, bad)
		assertErrorIs(t, err, domain.ErrAuthenticationFailed)
	}

	inactiveKey, hash, err := security.GenerateAPIKey()
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	err = env.store.CreateApp(ctx, domain.App{ID: uuid.New(), OwnerAccountID: owner, Name: "old", APIKeyHash: hash, IsActive: false, CreatedAt: time.Now()})
	if err != nil {
		t.Fatalf("create app: %v", err)
	}
	_, err = env.gateway.Authenticate(ctx, inactiveKey)
	assertErrorIs(t, err, domain.ErrAuthenticationFailed)
}

func TestRegisterAppValidation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, _, err := env.gateway.RegisterApp(ctx, uuid.New(), "Shop")
	assertErrorIs(t, err, domain.ErrNotFound)

	owner := env.newAccount(t, "0")
	_, _, err = env.gateway.RegisterApp(ctx, owner, "   ")
	assertErrorIs(t, err, domain.ErrValidation)
}

func TestDirectTransferWithCard(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	payer := cardholder(t, env, "500")
	merchant := env.newAccount(t, "0")
	app, _ := registerApp(t, env, merchant)

	req := domain.ExternalTransferRequest{CardCredentials: validCard(), ToAccount: merchant, Amount: dec("120"), OrderID: "ORD-1"}
	res, err := env.gateway.DirectTransfer(ctx, app, req)
	if err != nil {
		t.Fatalf("direct transfer: %v", err)
	}
	assertBalance(t, env, payer, "380")
	assertBalance(t, env, merchant, "120")

	txns := env.transactionsOf(t, merchant)
	if len(txns) != 1 || txns[0].AppID == nil || *txns[0].AppID != app.ID || txns[0].ReferenceID != "ORD-1" {
		t.Fatalf("unexpected transaction %+v", txns)
	}

	again, err := env.gateway.DirectTransfer(ctx, app, req)
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if !again.Replayed || again.TransactionID != res.TransactionID {
		t.Fatalf("expected order replay, got %+v", again)
	}
	assertBalance(t, env, payer, "380")

	req.Amount = dec("1")
	_, err = env.gateway.DirectTransfer(ctx, app, req)
	assertErrorIs(t, err, domain.ErrValidation)
}

func TestCardFailuresAreIndistinguishable(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	cardholder(t, env, "500")
	merchant := env.newAccount(t, "0")
	app, _ := registerApp(t, env, merchant)

	mutate := map[string]func(*domain.CardCredentials){
		"wrong cvv":      func(c *domain.CardCredentials) { c.CVV = "999" },
		"wrong expiry":   func(c *domain.CardCredentials) { c.Expiry = "01/30" },
		"wrong password": func(c *domain.CardCredentials) { c.Password = "guess" },
		"unknown card":   func(c *domain.CardCredentials) { c.CardNumber = "5555555555554444" },
		"bad checksum":   func(c *domain.CardCredentials) { c.CardNumber = "4111111111111112" },
	}
	var first string
	for name, fn := range mutate {
		creds := validCard()
		fn(&creds)
		_, err := env.gateway.DirectTransfer(ctx, app, domain.ExternalTransferRequest{
			CardCredentials: creds, ToAccount: merchant, Amount: dec("1"), OrderID: "ORD-" + name,
		})
		assertErrorIs(t, err, domain.ErrAuthenticationFailed)
		if first == "" {
			first = err.Error()
		} else if err.Error() != first {
			t.Fatalf("%s: error %q differs from %q", name, err.Error(), first)
		}
	}
	assertBalance(t, env, merchant, "0")
}

func TestDirectTransferFromOwnerAccount(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	merchant := env.newAccount(t, "300")
	customer := env.newAccount(t, "300")
	app, _ := registerApp(t, env, merchant)

	_, err := env.gateway.DirectTransfer(ctx, app, domain.ExternalTransferRequest{
		FromAccount: &customer, ToAccount: merchant, Amount: dec("10"), OrderID: "PULL-1",
	})
	assertErrorIs(t, err, domain.ErrAuthenticationFailed)

	if _, err := env.gateway.DirectTransfer(ctx, app, domain.ExternalTransferRequest{
		FromAccount: &merchant, ToAccount: customer, Amount: dec("10"), OrderID: "REFUND-1",
	}); err != nil {
		t.Fatalf("payout from owner: %v", err)
	}
	assertBalance(t, env, merchant, "290")
	assertBalance(t, env, customer, "310")
}

func TestExternalRequestLifecycle(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	payer := cardholder(t, env, "500")
	merchant := env.newAccount(t, "0")
	app, _ := registerApp(t, env, merchant)
	otherOwner := env.newAccount(t, "0")
	otherApp, _ := registerApp(t, env, otherOwner)

	req, err := env.gateway.CreateExternalRequest(ctx, app, domain.PaymentRequestCreate{Amount: dec("75"), ReferenceID: "INV-9"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if req.ReceiverID != merchant || req.AppID == nil || *req.AppID != app.ID {
		t.Fatalf("unexpected request %+v", req)
	}
	if got := req.ExpiresAt.Sub(env.clock.Now()); got != 5*time.Minute {
		t.Fatalf("expected external ttl, got %s", got)
	}

	_, err = env.gateway.GetExternalRequest(ctx, otherApp, req.Token)
	assertErrorIs(t, err, domain.ErrNotFound)
	_, err = env.gateway.FulfillExternalRequest(ctx, otherApp, req.Token, validCard())
	assertErrorIs(t, err, domain.ErrNotFound)

	// A pending request is not a receipt.
	v, err := env.gateway.VerifyByReference(ctx, app, uuid.Nil, "INV-9")
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if v.Received {
		t.Fatal("pending request must not verify as received")
	}

	bad := validCard()
	bad.Password = "nope"
	_, err = env.gateway.FulfillExternalRequest(ctx, app, req.Token, bad)
	assertErrorIs(t, err, domain.ErrAuthenticationFailed)

	res, err := env.gateway.FulfillExternalRequest(ctx, app, req.Token, validCard())
	if err != nil {
		t.Fatalf("fulfill: %v", err)
	}
	assertBalance(t, env, payer, "425")
	assertBalance(t, env, merchant, "75")

	got, err := env.gateway.GetExternalRequest(ctx, app, req.Token)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != domain.RequestCompleted {
		t.Fatalf("expected COMPLETED, got %s", got.Status)
	}

	v, err = env.gateway.VerifyByReference(ctx, app, merchant, "INV-9")
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if !v.Received || v.Transaction.ID != res.TransactionID {
		t.Fatalf("unexpected verification %+v", v)
	}

	_, err = env.gateway.VerifyByReference(ctx, app, otherOwner, "INV-9")
	assertErrorIs(t, err, domain.ErrNotFound)
}

func TestExternalRequestTTLIsCapped(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	merchant := env.newAccount(t, "0")
	app, _ := registerApp(t, env, merchant)

	req, err := env.gateway.CreateExternalRequest(ctx, app, domain.PaymentRequestCreate{Amount: dec("5"), TTLSeconds: 24 * 60 * 60})
	if err != nil {
		t.Fatalf("create at max ttl: %v", err)
	}
	if got := req.ExpiresAt.Sub(req.CreatedAt); got != 24*time.Hour {
		t.Fatalf("expected 24h ttl, got %s", got)
	}

	// Large enough to overflow a time.Duration in nanoseconds.
	_, err = env.gateway.CreateExternalRequest(ctx, app, domain.PaymentRequestCreate{Amount: dec("5"), TTLSeconds: 18446744074})
	assertErrorIs(t, err, domain.ErrValidation)
	_, err = env.gateway.CreateExternalRequest(ctx, app, domain.PaymentRequestCreate{Amount: dec("5"), TTLSeconds: 24*60*60 + 1})
	assertErrorIs(t, err, domain.ErrValidation)
}

func TestOrderIDCannotBeReusedByAnotherPayer(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	cardholder(t, env, "500")
	merchant := env.newAccount(t, "300")
	payee := env.newAccount(t, "0")
	app, _ := registerApp(t, env, merchant)

	_, err := env.gateway.DirectTransfer(ctx, app, domain.ExternalTransferRequest{
		CardCredentials: validCard(), ToAccount: payee, Amount: dec("100"), OrderID: "ORD-9",
	})
	if err != nil {
		t.Fatalf("card payment: %v", err)
	}

	_, err = env.gateway.DirectTransfer(ctx, app, domain.ExternalTransferRequest{
		FromAccount: &merchant, ToAccount: payee, Amount: dec("100"), OrderID: "ORD-9",
	})
	assertErrorIs(t, err, domain.ErrValidation)
	assertBalance(t, env, payee, "100")
	assertBalance(t, env, merchant, "300")
}

func TestInsufficientCardBalanceIsNotDisclosed(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	cardholder(t, env, "42.17")
	merchant := env.newAccount(t, "0")
	app, _ := registerApp(t, env, merchant)

	_, err := env.gateway.DirectTransfer(ctx, app, domain.ExternalTransferRequest{
		CardCredentials: validCard(), ToAccount: merchant, Amount: dec("100"), OrderID: "ORD-BIG",
	})
	assertErrorIs(t, err, domain.ErrInsufficientBalance)
	if strings.Contains(err.Error(), "42.17") {
		t.Fatalf("error %q reveals the cardholder balance", err.Error())
	}
}

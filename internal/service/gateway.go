package service

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/punchamoorthee/payledger/internal/domain"
	"github.com/punchamoorthee/payledger/internal/security"
	"github.com/punchamoorthee/payledger/internal/store"
)

// GatewayService is the API-key surface used by third-party merchants.
type GatewayService struct {
	store     store.Store
	transfers *TransferService
	registry  *PaymentRequestRegistry
	logger    *zap.Logger

	// dummyHash is compared against when a card is unknown so every
	// credential failure costs the same two bcrypt comparisons.
	dummyHash string
}

func NewGatewayService(s store.Store, transfers *TransferService, registry *PaymentRequestRegistry, logger *zap.Logger) (*GatewayService, error) {
	dummy, err := security.HashPassword(uuid.NewString())
	if err != nil {
		return nil, err
	}
	return &GatewayService{
		store:     s,
		transfers: transfers,
		registry:  registry,
		logger:    logger,
		dummyHash: dummy,
	}, nil
}

// Authenticate resolves the app owning apiKey. Unknown and inactive keys
// fail the same way.
func (g *GatewayService) Authenticate(ctx context.Context, apiKey string) (*domain.App, error) {
	if apiKey == "" {
		return nil, domain.ErrAuthenticationFailed
	}
	app, err := g.store.GetAppByKeyHash(ctx, security.HashSecret(apiKey))
	if errors.Is(err, domain.ErrNotFound) {
		return nil, domain.ErrAuthenticationFailed
	}
	if err != nil {
		return nil, err
	}
	if !app.IsActive {
		g.logger.Warn("inactive app key used", zap.Stringer("app_id", app.ID))
		return nil, domain.ErrAuthenticationFailed
	}
	return app, nil
}

// RegisterApp creates an app for ownerID. The returned key is never stored
// and cannot be recovered.
func (g *GatewayService) RegisterApp(ctx context.Context, ownerID uuid.UUID, name string) (*domain.App, string, error) {
	if err := (domain.CreateAppRequest{Name: name}).Validate(); err != nil {
		return nil, "", err
	}
	if _, err := g.store.GetAccount(ctx, ownerID); err != nil {
		return nil, "", err
	}
	key, hash, err := security.GenerateAPIKey()
	if err != nil {
		return nil, "", err
	}
	app := domain.App{
		ID:             uuid.New(),
		OwnerAccountID: ownerID,
		Name:           strings.TrimSpace(name),
		APIKeyHash:     hash,
		KeyPrefix:      key[:len(security.APIKeyPrefix)+8],
		IsActive:       true,
		CreatedAt:      time.Now().UTC(),
	}
	if err := g.store.CreateApp(ctx, app); err != nil {
		return nil, "", err
	}
	g.logger.Info("app registered", zap.Stringer("app_id", app.ID), zap.Stringer("owner_id", ownerID))
	return &app, key, nil
}

// authenticateCard resolves the paying account from card credentials.
// Every mismatch returns ErrAuthenticationFailed without saying which factor failed.
func (g *GatewayService) authenticateCard(ctx context.Context, creds domain.CardCredentials) (uuid.UUID, error) {
	number := domain.NormalizeCardNumber(creds.CardNumber)
	if !security.ValidCardNumber(number) {
		g.burnCredentialCheck(creds)
		return uuid.Nil, domain.ErrAuthenticationFailed
	}

	card, err := g.store.GetCard(ctx, number)
	if errors.Is(err, domain.ErrNotFound) {
		g.burnCredentialCheck(creds)
		return uuid.Nil, domain.ErrAuthenticationFailed
	}
	if err != nil {
		return uuid.Nil, err
	}

	passwordHash := g.dummyHash
	acc, err := g.store.GetAccount(ctx, card.AccountID)
	switch {
	case err == nil:
		passwordHash = acc.PasswordHash
	case !errors.Is(err, domain.ErrNotFound):
		return uuid.Nil, err
	}

	cvvOK := security.PasswordMatches(card.CVVHash, creds.CVV)
	expiryOK := subtle.ConstantTimeCompare([]byte(creds.Expiry), []byte(card.Expiry)) == 1
	passwordOK := security.PasswordMatches(passwordHash, creds.Password)
	if !cvvOK || !expiryOK || !passwordOK || acc == nil {
		return uuid.Nil, domain.ErrAuthenticationFailed
	}
	return card.AccountID, nil
}

func (g *GatewayService) burnCredentialCheck(creds domain.CardCredentials) {
	security.PasswordMatches(g.dummyHash, creds.CVV)
	security.PasswordMatches(g.dummyHash, creds.Password)
}

// DirectTransfer pays req.ToAccount on behalf of app. The payer is either the
// app owner (from_account) or the holder of the presented card.
// Repeating an order_id with the same payload replays the first result.
func (g *GatewayService) DirectTransfer(ctx context.Context, app *domain.App, req domain.ExternalTransferRequest) (*domain.TransactionResult, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	var payer uuid.UUID
	if req.FromAccount != nil {
		if *req.FromAccount != app.OwnerAccountID {
			return nil, domain.ErrAuthenticationFailed
		}
		payer = *req.FromAccount
	} else {
		var err error
		if payer, err = g.authenticateCard(ctx, req.CardCredentials); err != nil {
			g.logger.Info("card authentication failed", zap.Stringer("app_id", app.ID))
			return nil, err
		}
	}

	return g.transfers.ExecuteTransfer(ctx, TransferInput{
		SenderID:       &payer,
		ReceiverID:     req.ToAccount,
		Amount:         req.Amount,
		ReferenceID:    req.OrderID,
		AppID:          &app.ID,
		Type:           domain.TypePayment,
		IdempotencyKey: "app:" + app.ID.String() + ":order:" + req.OrderID,
		RequestHash:    orderHash(payer, req),
		KeyScoped:      true,
	})
}

func orderHash(payer uuid.UUID, req domain.ExternalTransferRequest) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s|%s|%s|%s", payer, req.ToAccount, req.Amount.StringFixed(2), req.OrderID)))
	return hex.EncodeToString(sum[:])
}

// CreateExternalRequest opens a payment request payable to the app owner.
func (g *GatewayService) CreateExternalRequest(ctx context.Context, app *domain.App, req domain.PaymentRequestCreate) (*domain.PaymentRequest, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	return g.registry.CreateRequest(ctx, CreateRequestInput{
		ReceiverID:  app.OwnerAccountID,
		Amount:      req.Amount,
		ReferenceID: req.ReferenceID,
		TTL:         time.Duration(req.TTLSeconds) * time.Second,
		CallbackURL: req.CallbackURL,
		AppID:       &app.ID,
		Channel:     ChannelExternal,
	})
}

// GetExternalRequest returns a request created by app. Requests of other
// apps are reported as not found.
func (g *GatewayService) GetExternalRequest(ctx context.Context, app *domain.App, token string) (*domain.PaymentRequest, error) {
	req, err := g.registry.GetDetails(ctx, token)
	if err != nil {
		return nil, err
	}
	if req.AppID == nil || *req.AppID != app.ID {
		return nil, fmt.Errorf("%w: payment request", domain.ErrNotFound)
	}
	return req, nil
}

// FulfillExternalRequest pays an app's request with card credentials.
func (g *GatewayService) FulfillExternalRequest(ctx context.Context, app *domain.App, token string, creds domain.CardCredentials) (*domain.TransactionResult, error) {
	if err := creds.Validate(); err != nil {
		return nil, err
	}
	req, err := g.store.GetPaymentRequest(ctx, token)
	if err != nil {
		return nil, err
	}
	if req.AppID == nil || *req.AppID != app.ID {
		return nil, fmt.Errorf("%w: payment request", domain.ErrNotFound)
	}
	payer, err := g.authenticateCard(ctx, creds)
	if err != nil {
		g.logger.Info("card authentication failed", zap.Stringer("app_id", app.ID))
		return nil, err
	}
	return g.registry.Fulfill(ctx, token, payer, &app.ID)
}

// Verification answers whether a merchant has been paid for a reference.
type Verification struct {
	Received    bool                `json:"received"`
	Transaction *domain.Transaction `json:"transaction,omitempty"`
}

// VerifyByReference consults only the transaction log, so a PENDING request
// for the same reference never counts as received. merchantID defaults to
// the app owner; apps can only verify their owner's receipts.
func (g *GatewayService) VerifyByReference(ctx context.Context, app *domain.App, merchantID uuid.UUID, referenceID string) (*Verification, error) {
	if referenceID == "" {
		return nil, fmt.Errorf("%w: reference_id is required", domain.ErrValidation)
	}
	if merchantID == uuid.Nil {
		merchantID = app.OwnerAccountID
	}
	if merchantID != app.OwnerAccountID {
		return nil, fmt.Errorf("%w: merchant", domain.ErrNotFound)
	}
	txn, err := g.store.FindSuccessfulTransaction(ctx, merchantID, referenceID)
	if errors.Is(err, domain.ErrNotFound) {
		return &Verification{Received: false}, nil
	}
	if err != nil {
		return nil, err
	}
	return &Verification{Received: true, Transaction: txn}, nil
}

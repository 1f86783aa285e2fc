package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/punchamoorthee/payledger/internal/domain"
	"github.com/punchamoorthee/payledger/internal/security"
	"github.com/punchamoorthee/payledger/internal/store"
	"github.com/punchamoorthee/payledger/internal/webhook"
)

// Channel selects the default time-to-live of a payment request.
type Channel int

const (
	ChannelQR Channel = iota
	ChannelExternal
)

type CreateRequestInput struct {
	ReceiverID  uuid.UUID
	Amount      decimal.Decimal
	ReferenceID string
	TTL         time.Duration
	CallbackURL string
	AppID       *uuid.UUID
	Channel     Channel
}

// WebhookDispatcher delivers merchant callbacks after a request completes.
type WebhookDispatcher interface {
	Dispatch(url string, p webhook.Payload)
}

// PaymentRequestRegistry owns the PENDING -> COMPLETED | EXPIRED | CANCELLED
// lifecycle of payment request tokens.
type PaymentRequestRegistry struct {
	store       store.Store
	transfers   *TransferService
	webhooks    WebhookDispatcher
	logger      *zap.Logger
	qrTTL       time.Duration
	externalTTL time.Duration
	now         func() time.Time
}

func NewPaymentRequestRegistry(s store.Store, transfers *TransferService, webhooks WebhookDispatcher, logger *zap.Logger, qrTTL, externalTTL time.Duration) *PaymentRequestRegistry {
	return &PaymentRequestRegistry{
		store:       s,
		transfers:   transfers,
		webhooks:    webhooks,
		logger:      logger,
		qrTTL:       qrTTL,
		externalTTL: externalTTL,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

func (r *PaymentRequestRegistry) CreateRequest(ctx context.Context, in CreateRequestInput) (*domain.PaymentRequest, error) {
	if err := domain.ValidateAmount(in.Amount); err != nil {
		return nil, err
	}
	if in.ReceiverID == uuid.Nil {
		return nil, fmt.Errorf("%w: receiver is required", domain.ErrValidation)
	}
	if len(in.ReferenceID) > domain.MaxReferenceLength {
		return nil, fmt.Errorf("%w: reference_id longer than %d characters", domain.ErrValidation, domain.MaxReferenceLength)
	}
	ttl := in.TTL
	if ttl == 0 {
		ttl = r.qrTTL
		if in.Channel == ChannelExternal {
			ttl = r.externalTTL
		}
	}
	if ttl < 0 || ttl > domain.MaxRequestTTL {
		return nil, fmt.Errorf("%w: ttl must be positive and at most %s", domain.ErrValidation, domain.MaxRequestTTL)
	}

	if _, err := r.store.GetAccount(ctx, in.ReceiverID); err != nil {
		return nil, err
	}

	token, err := security.GenerateToken()
	if err != nil {
		return nil, err
	}
	reference := in.ReferenceID
	if reference == "" {
		reference = newReference(domain.TypePayment)
	}

	now := r.now()
	req := domain.PaymentRequest{
		ID:          uuid.New(),
		ReceiverID:  in.ReceiverID,
		Amount:      in.Amount,
		ReferenceID: reference,
		Token:       token,
		ExpiresAt:   now.Add(ttl),
		CallbackURL: in.CallbackURL,
		Status:      domain.RequestPending,
		AppID:       in.AppID,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	err = r.store.WithTx(ctx, func(tx store.Tx) error {
		return tx.InsertPaymentRequest(ctx, req)
	})
	if err != nil {
		return nil, err
	}

	r.logger.Info("payment request created",
		zap.Stringer("request_id", req.ID),
		zap.Stringer("receiver_id", req.ReceiverID),
		zap.String("reference_id", req.ReferenceID),
		zap.Time("expires_at", req.ExpiresAt))
	return &req, nil
}

// Fulfill pays the request identified by token from payerID. The status
// check, the transfer and the COMPLETED flip commit together or not at all.
// A request past its deadline is flipped to EXPIRED and ErrExpired returned.
func (r *PaymentRequestRegistry) Fulfill(ctx context.Context, token string, payerID uuid.UUID, appID *uuid.UUID) (*domain.TransactionResult, error) {
	start := time.Now()
	if token == "" {
		return nil, fmt.Errorf("%w: token is required", domain.ErrValidation)
	}
	if payerID == uuid.Nil {
		return nil, fmt.Errorf("%w: payer is required", domain.ErrValidation)
	}

	var (
		req     *domain.PaymentRequest
		txn     *domain.Transaction
		expired bool
	)
	err := r.store.WithTx(ctx, func(tx store.Tx) error {
		var err error
		req, err = tx.LockPaymentRequest(ctx, token)
		if err != nil {
			return err
		}
		if req.Status.Terminal() {
			return fmt.Errorf("%w: payment request is %s", domain.ErrAlreadyProcessed, req.Status)
		}
		if req.Expired(r.now()) {
			expired = true
			return tx.UpdatePaymentRequestStatus(ctx, req.ID, domain.RequestExpired, nil)
		}

		in := TransferInput{
			SenderID:    &payerID,
			ReceiverID:  req.ReceiverID,
			Amount:      req.Amount,
			ReferenceID: req.ReferenceID,
			AppID:       appID,
			Type:        domain.TypePayment,
		}
		if appID == nil {
			in.AppID = req.AppID
		}
		if err := r.transfers.prepare(&in); err != nil {
			return err
		}
		txn, err = r.transfers.executeInTx(ctx, tx, in)
		if err != nil {
			return err
		}
		return tx.UpdatePaymentRequestStatus(ctx, req.ID, domain.RequestCompleted, &txn.ID)
	})
	if expired && err == nil {
		err = fmt.Errorf("%w: payment request expired at %s", domain.ErrExpired, req.ExpiresAt.Format(time.RFC3339))
	}
	observeTransfer(domain.TypePayment, start, err)
	if err != nil {
		return nil, err
	}

	r.logger.Info("payment request fulfilled",
		zap.Stringer("request_id", req.ID),
		zap.Stringer("transaction_id", txn.ID),
		zap.Stringer("payer_id", payerID))

	r.transfers.publishTransaction(ctx, txn)
	if req.CallbackURL != "" && r.webhooks != nil {
		r.webhooks.Dispatch(req.CallbackURL, webhook.Payload{
			Event:            webhook.EventPaymentCompleted,
			PaymentRequestID: req.ID,
			ReferenceID:      req.ReferenceID,
			Amount:           req.Amount,
			TransactionID:    txn.ID,
			Status:           domain.RequestCompleted,
		})
	}
	return resultOf(txn), nil
}

// GetDetails returns the request for token. A PENDING request whose deadline
// has passed is flipped to EXPIRED first.
func (r *PaymentRequestRegistry) GetDetails(ctx context.Context, token string) (*domain.PaymentRequest, error) {
	req, err := r.store.GetPaymentRequest(ctx, token)
	if err != nil {
		return nil, err
	}
	now := r.now()
	if req.Status != domain.RequestPending || !req.Expired(now) {
		return req, nil
	}
	if err := r.store.ExpirePaymentRequest(ctx, token, now); err != nil {
		return nil, err
	}
	return r.store.GetPaymentRequest(ctx, token)
}

// Cancel withdraws a PENDING request. Only its receiver may cancel it.
func (r *PaymentRequestRegistry) Cancel(ctx context.Context, token string, receiverID uuid.UUID) (*domain.PaymentRequest, error) {
	var req *domain.PaymentRequest
	err := r.store.WithTx(ctx, func(tx store.Tx) error {
		var err error
		req, err = tx.LockPaymentRequest(ctx, token)
		if err != nil {
			return err
		}
		if req.ReceiverID != receiverID {
			return fmt.Errorf("%w: payment request", domain.ErrNotFound)
		}
		if req.Status.Terminal() {
			return fmt.Errorf("%w: payment request is %s", domain.ErrAlreadyProcessed, req.Status)
		}
		req.Status = domain.RequestCancelled
		req.UpdatedAt = r.now()
		return tx.UpdatePaymentRequestStatus(ctx, req.ID, domain.RequestCancelled, nil)
	})
	if err != nil {
		return nil, err
	}
	r.logger.Info("payment request cancelled", zap.Stringer("request_id", req.ID))
	return req, nil
}

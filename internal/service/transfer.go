package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/punchamoorthee/payledger/internal/domain"
	"github.com/punchamoorthee/payledger/internal/events"
	"github.com/punchamoorthee/payledger/internal/store"
)

const publishTimeout = 2 * time.Second

var (
	transfersTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "payledger_transfers_total",
		Help: "Transfer attempts by type and outcome",
	}, []string{"type", "outcome"})

	transferLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "payledger_transfer_duration_seconds",
		Help:    "Transfer latency including lock waits",
		Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
	}, []string{"type"})
)

// TransferInput describes one balance move. A nil SenderID is a system
// credit (RECHARGE) to ReceiverID.
type TransferInput struct {
	SenderID    *uuid.UUID
	ReceiverID  uuid.UUID
	Amount      decimal.Decimal
	ReferenceID string
	AppID       *uuid.UUID
	Type        domain.TransactionType

	// IdempotencyKey makes the call replayable. RequestHash must fingerprint
	// the payload so a reused key with a different body is rejected.
	// Keys are scoped to the sender unless KeyScoped is set, in which case
	// IdempotencyKey is used as is and must already be unique to its owner.
	IdempotencyKey string
	RequestHash    string
	KeyScoped      bool
}

type TransferService struct {
	store     store.Store
	publisher events.Publisher
	logger    *zap.Logger
	ceiling   decimal.Decimal
	now       func() time.Time
}

func NewTransferService(s store.Store, publisher events.Publisher, logger *zap.Logger, ceiling decimal.Decimal) *TransferService {
	return &TransferService{
		store:     s,
		publisher: publisher,
		logger:    logger,
		ceiling:   ceiling,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// prepare validates in and fills the defaults. It runs before any
// transaction opens.
func (s *TransferService) prepare(in *TransferInput) error {
	if err := domain.ValidateAmount(in.Amount); err != nil {
		return err
	}
	if in.ReceiverID == uuid.Nil {
		return fmt.Errorf("%w: receiver is required", domain.ErrValidation)
	}
	if in.SenderID != nil && *in.SenderID == in.ReceiverID {
		return fmt.Errorf("%w: sender and receiver must differ", domain.ErrValidation)
	}
	if len(in.ReferenceID) > domain.MaxReferenceLength {
		return fmt.Errorf("%w: reference_id longer than %d characters", domain.ErrValidation, domain.MaxReferenceLength)
	}

	switch {
	case in.Type == "" && in.SenderID == nil:
		in.Type = domain.TypeRecharge
	case in.Type == "":
		in.Type = domain.TypeTransfer
	case in.Type == domain.TypeRecharge && in.SenderID != nil:
		return fmt.Errorf("%w: recharge has no sender", domain.ErrValidation)
	case in.Type != domain.TypeRecharge && in.SenderID == nil:
		return fmt.Errorf("%w: sender is required for %s", domain.ErrValidation, in.Type)
	}

	if in.ReferenceID == "" {
		in.ReferenceID = newReference(in.Type)
	}
	return nil
}

func newReference(t domain.TransactionType) string {
	prefix := "TRF"
	switch t {
	case domain.TypeRecharge:
		prefix = "RCH"
	case domain.TypePayment:
		prefix = "PAY"
	}
	return prefix + "_" + ulid.Make().String()
}

// ExecuteTransfer moves in.Amount atomically and records one Transaction.
// Balance events are published after commit; their failure never changes the result.
func (s *TransferService) ExecuteTransfer(ctx context.Context, in TransferInput) (*domain.TransactionResult, error) {
	start := time.Now()
	if err := s.prepare(&in); err != nil {
		observeTransfer(in.Type, start, err)
		return nil, err
	}

	var (
		result *domain.TransactionResult
		txn    *domain.Transaction
	)
	err := s.store.WithTx(ctx, func(tx store.Tx) error {
		var key string
		if in.IdempotencyKey != "" {
			key = scopedKey(in)
			replay, err := checkIdempotency(ctx, tx, key, in.RequestHash)
			if err != nil {
				return err
			}
			if replay != nil {
				result = replay
				return nil
			}
			if err := tx.ReserveIdempotencyKey(ctx, key, in.RequestHash); err != nil {
				return err
			}
		}

		var err error
		txn, err = s.executeInTx(ctx, tx, in)
		if err != nil {
			return err
		}
		result = resultOf(txn)

		if key != "" {
			body, err := json.Marshal(result)
			if err != nil {
				return fmt.Errorf("marshal result: %w", err)
			}
			if err := tx.CompleteIdempotencyKey(ctx, key, txn.ID, body); err != nil {
				return err
			}
		}
		return nil
	})
	observeTransfer(in.Type, start, err)
	if err != nil {
		return nil, err
	}

	if txn != nil {
		s.publishTransaction(ctx, txn)
	}
	return result, nil
}

func scopedKey(in TransferInput) string {
	if in.KeyScoped {
		return in.IdempotencyKey
	}
	owner := "system"
	if in.SenderID != nil {
		owner = in.SenderID.String()
	}
	return owner + ":" + in.IdempotencyKey
}

// checkIdempotency returns the stored result when key was already completed
// with the same payload.
func checkIdempotency(ctx context.Context, tx store.Tx, key, requestHash string) (*domain.TransactionResult, error) {
	rec, err := tx.GetIdempotencyRecord(ctx, key)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if rec.RequestHash != requestHash {
		return nil, fmt.Errorf("%w: idempotency key reused with a different payload", domain.ErrValidation)
	}
	if rec.Status != domain.IdempotencyCompleted {
		return nil, fmt.Errorf("%w: request with this idempotency key is in progress", domain.ErrConflictRetryable)
	}
	var stored domain.TransactionResult
	if err := json.Unmarshal(rec.ResponseBody, &stored); err != nil {
		return nil, fmt.Errorf("decode stored result: %w", err)
	}
	stored.Replayed = true
	return &stored, nil
}

// executeInTx performs the guarded balance move inside an open unit.
// in must already be prepared.
func (s *TransferService) executeInTx(ctx context.Context, tx store.Tx, in TransferInput) (*domain.Transaction, error) {
	ids := []uuid.UUID{in.ReceiverID}
	if in.SenderID != nil {
		ids = append(ids, *in.SenderID)
	}

	wallets := make(map[uuid.UUID]*domain.Wallet, len(ids))
	for _, id := range lockOrder(ids...) {
		w, err := tx.LockWallet(ctx, id)
		if err != nil {
			return nil, err
		}
		wallets[id] = w
	}

	txn := &domain.Transaction{
		ID:          uuid.New(),
		SenderID:    in.SenderID,
		ReceiverID:  in.ReceiverID,
		Amount:      in.Amount,
		Type:        in.Type,
		Status:      domain.StatusSuccess,
		ReferenceID: in.ReferenceID,
		AppID:       in.AppID,
		CreatedAt:   s.now(),
	}

	if in.SenderID != nil {
		sender := wallets[*in.SenderID]
		if sender.Balance.LessThan(in.Amount) {
			return nil, fmt.Errorf("%w: requested %s", domain.ErrInsufficientBalance, in.Amount.StringFixed(2))
		}
		txn.SenderBalanceAfter = decimal.NewNullDecimal(sender.Balance.Sub(in.Amount))
	}

	receiverAfter := wallets[in.ReceiverID].Balance.Add(in.Amount)
	if receiverAfter.GreaterThan(s.ceiling) {
		return nil, fmt.Errorf("%w: balance would exceed %s", domain.ErrReceiverCapacityExceeded, s.ceiling.StringFixed(2))
	}
	txn.ReceiverBalanceAfter = receiverAfter

	if in.SenderID != nil {
		if err := tx.SetWalletBalance(ctx, *in.SenderID, txn.SenderBalanceAfter.Decimal); err != nil {
			return nil, err
		}
	}
	if err := tx.SetWalletBalance(ctx, in.ReceiverID, receiverAfter); err != nil {
		return nil, err
	}
	if err := tx.InsertTransaction(ctx, *txn); err != nil {
		return nil, err
	}
	return txn, nil
}

// lockOrder returns ids deduplicated in ascending byte order, the order every
// code path acquires wallet leases in.
func lockOrder(ids ...uuid.UUID) []uuid.UUID {
	out := make([]uuid.UUID, 0, len(ids))
	seen := make(map[uuid.UUID]bool, len(ids))
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return bytes.Compare(out[i][:], out[j][:]) < 0
	})
	return out
}

func resultOf(txn *domain.Transaction) *domain.TransactionResult {
	return &domain.TransactionResult{
		TransactionID:        txn.ID,
		Type:                 txn.Type,
		ReferenceID:          txn.ReferenceID,
		Amount:               txn.Amount,
		SenderBalanceAfter:   txn.SenderBalanceAfter,
		ReceiverBalanceAfter: txn.ReceiverBalanceAfter,
		CreatedAt:            txn.CreatedAt,
	}
}

// publishTransaction emits one balance event per affected account.
func (s *TransferService) publishTransaction(ctx context.Context, txn *domain.Transaction) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()

	evs := []events.Event{{
		Type:          events.TypeBalanceChanged,
		AccountID:     txn.ReceiverID,
		TransactionID: txn.ID,
		Balance:       txn.ReceiverBalanceAfter,
		Delta:         txn.Amount,
		ReferenceID:   txn.ReferenceID,
		OccurredAt:    txn.CreatedAt,
	}}
	if txn.SenderID != nil {
		evs = append(evs, events.Event{
			Type:          events.TypeBalanceChanged,
			AccountID:     *txn.SenderID,
			TransactionID: txn.ID,
			Balance:       txn.SenderBalanceAfter.Decimal,
			Delta:         txn.Amount.Neg(),
			ReferenceID:   txn.ReferenceID,
			OccurredAt:    txn.CreatedAt,
		})
	}

	for _, ev := range evs {
		if err := s.publisher.Publish(ctx, ev); err != nil {
			s.logger.Warn("balance event not delivered",
				zap.Stringer("transaction_id", txn.ID),
				zap.Stringer("account_id", ev.AccountID),
				zap.Error(err))
		}
	}
}

func observeTransfer(t domain.TransactionType, start time.Time, err error) {
	outcome := "success"
	if err != nil {
		outcome = domain.Code(err)
	}
	label := string(t)
	if label == "" {
		label = "UNKNOWN"
	}
	transfersTotal.WithLabelValues(label, outcome).Inc()
	transferLatency.WithLabelValues(label).Observe(time.Since(start).Seconds())
}

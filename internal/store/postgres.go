package store

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/punchamoorthee/payledger/internal/domain"
)

//go:embed schema.sql
var schemaSQL string

// Postgres error codes that mean "retry the whole operation".
const (
	codeSerializationFailure = "40001"
	codeDeadlockDetected     = "40P01"
	codeLockNotAvailable     = "55P03"
	codeUniqueViolation      = "23505"
)

type PostgresStore struct {
	db          *pgxpool.Pool
	lockTimeout time.Duration
}

func NewPostgresStore(ctx context.Context, connString string, lockTimeout time.Duration) (*PostgresStore, error) {
	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("unable to parse database config: %w", err)
	}
	config.MaxConnLifetime = time.Hour
	config.MaxConnIdleTime = 30 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}

	return &PostgresStore{db: pool, lockTimeout: lockTimeout}, nil
}

// Pool exposes the underlying pool for bulk tooling (seeding, migrations).
func (s *PostgresStore) Pool() *pgxpool.Pool {
	return s.db
}

func (s *PostgresStore) Close() {
	s.db.Close()
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}

// Migrate applies the embedded schema. Every statement is idempotent.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

func (s *PostgresStore) WithTx(ctx context.Context, fn func(Tx) error) error {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return classify(fmt.Errorf("tx begin failed: %w", err))
	}
	defer tx.Rollback(ctx)

	if s.lockTimeout > 0 {
		// SET does not accept bind parameters.
		stmt := fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", s.lockTimeout.Milliseconds())
		if _, err := tx.Exec(ctx, stmt); err != nil {
			return classify(fmt.Errorf("set lock timeout: %w", err))
		}
	}

	if err := fn(&pgTx{tx: tx}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return classify(fmt.Errorf("tx commit failed: %w", err))
	}
	return nil
}

// classify maps lock contention and serialization failures onto
// domain.ErrConflictRetryable and leaves everything else untouched.
func classify(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case codeSerializationFailure, codeDeadlockDetected, codeLockNotAvailable:
			return fmt.Errorf("%w: %s", domain.ErrConflictRetryable, pgErr.Message)
		}
	}
	return err
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == codeUniqueViolation
}

// CreateAccount inserts the account together with its zero-balance wallet.
func (s *PostgresStore) CreateAccount(ctx context.Context, acc domain.Account) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("tx begin failed: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx,
		"INSERT INTO accounts (id, display_name, password_hash, created_at) VALUES ($1, $2, $3, $4)",
		acc.ID, acc.DisplayName, acc.PasswordHash, acc.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: account %s already exists", domain.ErrValidation, acc.ID)
		}
		return fmt.Errorf("failed to create account: %w", err)
	}
	_, err = tx.Exec(ctx,
		"INSERT INTO wallets (account_id, balance, updated_at) VALUES ($1, 0, $2)", acc.ID, acc.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create wallet: %w", err)
	}
	return tx.Commit(ctx)
}

func (s *PostgresStore) GetAccount(ctx context.Context, id uuid.UUID) (*domain.Account, error) {
	var acc domain.Account
	err := s.db.QueryRow(ctx,
		"SELECT id, display_name, password_hash, created_at FROM accounts WHERE id = $1", id,
	).Scan(&acc.ID, &acc.DisplayName, &acc.PasswordHash, &acc.CreatedAt)
	if err != nil {
		return nil, notFound(err, "account")
	}
	return &acc, nil
}

func (s *PostgresStore) GetWallet(ctx context.Context, accountID uuid.UUID) (*domain.Wallet, error) {
	var w domain.Wallet
	err := s.db.QueryRow(ctx,
		"SELECT account_id, balance, updated_at FROM wallets WHERE account_id = $1", accountID,
	).Scan(&w.AccountID, &w.Balance, &w.UpdatedAt)
	if err != nil {
		return nil, notFound(err, "wallet")
	}
	return &w, nil
}

const transactionColumns = `id, sender_id, receiver_id, amount, type, status, reference_id,
	sender_balance_after, receiver_balance_after, app_id, created_at`

func scanTransaction(row pgx.Row) (domain.Transaction, error) {
	var t domain.Transaction
	err := row.Scan(
		&t.ID,
		&t.SenderID,
		&t.ReceiverID,
		&t.Amount,
		&t.Type,
		&t.Status,
		&t.ReferenceID,
		&t.SenderBalanceAfter,
		&t.ReceiverBalanceAfter,
		&t.AppID,
		&t.CreatedAt,
	)
	return t, err
}

// ListTransactions returns the most recent transactions touching accountID.
func (s *PostgresStore) ListTransactions(ctx context.Context, accountID uuid.UUID, limit int) ([]domain.Transaction, error) {
	rows, err := s.db.Query(ctx,
		"SELECT "+transactionColumns+` FROM transactions
		 WHERE sender_id = $1 OR receiver_id = $1
		 ORDER BY created_at DESC
		 LIMIT $2`,
		accountID, limit)
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	defer rows.Close()

	txns := []domain.Transaction{}
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("scan transaction: %w", err)
		}
		txns = append(txns, t)
	}
	return txns, rows.Err()
}

func (s *PostgresStore) FindSuccessfulTransaction(ctx context.Context, receiverID uuid.UUID, referenceID string) (*domain.Transaction, error) {
	row := s.db.QueryRow(ctx,
		"SELECT "+transactionColumns+` FROM transactions
		 WHERE receiver_id = $1 AND reference_id = $2 AND status = $3
		 ORDER BY created_at DESC
		 LIMIT 1`,
		receiverID, referenceID, domain.StatusSuccess)
	t, err := scanTransaction(row)
	if err != nil {
		return nil, notFound(err, "transaction")
	}
	return &t, nil
}

const paymentRequestColumns = `id, receiver_id, amount, reference_id, token, expires_at,
	COALESCE(callback_url, ''), status, app_id, transaction_id, created_at, updated_at`

func scanPaymentRequest(row pgx.Row) (*domain.PaymentRequest, error) {
	var p domain.PaymentRequest
	err := row.Scan(
		&p.ID,
		&p.ReceiverID,
		&p.Amount,
		&p.ReferenceID,
		&p.Token,
		&p.ExpiresAt,
		&p.CallbackURL,
		&p.Status,
		&p.AppID,
		&p.TransactionID,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		return nil, notFound(err, "payment request")
	}
	return &p, nil
}

func (s *PostgresStore) GetPaymentRequest(ctx context.Context, token string) (*domain.PaymentRequest, error) {
	return scanPaymentRequest(s.db.QueryRow(ctx,
		"SELECT "+paymentRequestColumns+" FROM payment_requests WHERE token = $1", token))
}

func (s *PostgresStore) ExpirePaymentRequest(ctx context.Context, token string, now time.Time) error {
	_, err := s.db.Exec(ctx,
		`UPDATE payment_requests SET status = $1, updated_at = $2
		 WHERE token = $3 AND status = $4 AND expires_at <= $2`,
		domain.RequestExpired, now, token, domain.RequestPending)
	if err != nil {
		return fmt.Errorf("expire payment request: %w", err)
	}
	return nil
}

func (s *PostgresStore) CreateApp(ctx context.Context, app domain.App) error {
	_, err := s.db.Exec(ctx,
		`INSERT INTO apps (id, owner_account_id, name, api_key_hash, key_prefix, is_active, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		app.ID, app.OwnerAccountID, app.Name, app.APIKeyHash, app.KeyPrefix, app.IsActive, app.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to save app: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetAppByKeyHash(ctx context.Context, keyHash string) (*domain.App, error) {
	var app domain.App
	err := s.db.QueryRow(ctx,
		`SELECT id, owner_account_id, name, api_key_hash, key_prefix, is_active, created_at
		 FROM apps WHERE api_key_hash = $1`, keyHash,
	).Scan(&app.ID, &app.OwnerAccountID, &app.Name, &app.APIKeyHash, &app.KeyPrefix, &app.IsActive, &app.CreatedAt)
	if err != nil {
		return nil, notFound(err, "app")
	}
	return &app, nil
}

func (s *PostgresStore) CreateCard(ctx context.Context, card domain.Card) error {
	_, err := s.db.Exec(ctx,
		"INSERT INTO cards (card_number, account_id, cvv_hash, expiry) VALUES ($1, $2, $3, $4)",
		card.Number, card.AccountID, card.CVVHash, card.Expiry)
	if err != nil {
		return fmt.Errorf("failed to save card: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetCard(ctx context.Context, number string) (*domain.Card, error) {
	var c domain.Card
	err := s.db.QueryRow(ctx,
		"SELECT card_number, account_id, cvv_hash, expiry FROM cards WHERE card_number = $1", number,
	).Scan(&c.Number, &c.AccountID, &c.CVVHash, &c.Expiry)
	if err != nil {
		return nil, notFound(err, "card")
	}
	return &c, nil
}

func (s *PostgresStore) RecordWebhookDelivery(ctx context.Context, d domain.WebhookDelivery) error {
	_, err := s.db.Exec(ctx,
		`INSERT INTO webhook_deliveries (payment_request_id, url, event, status_code, error, latency_ms)
		 VALUES ($1, $2, $3, $4, NULLIF($5, ''), $6)`,
		d.PaymentRequestID, d.URL, d.Event, d.StatusCode, d.Error, d.LatencyMS)
	if err != nil {
		return fmt.Errorf("record webhook delivery: %w", err)
	}
	return nil
}

func notFound(err error, what string) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%w: %s", domain.ErrNotFound, what)
	}
	return fmt.Errorf("query %s: %w", what, err)
}

// pgTx implements Tx over one pgx transaction.
type pgTx struct {
	tx pgx.Tx
}

func (t *pgTx) LockWallet(ctx context.Context, accountID uuid.UUID) (*domain.Wallet, error) {
	var w domain.Wallet
	err := t.tx.QueryRow(ctx,
		"SELECT account_id, balance, updated_at FROM wallets WHERE account_id = $1 FOR UPDATE", accountID,
	).Scan(&w.AccountID, &w.Balance, &w.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: account %s", domain.ErrNotFound, accountID)
		}
		return nil, classify(fmt.Errorf("lock acquisition failed: %w", err))
	}
	return &w, nil
}

func (t *pgTx) SetWalletBalance(ctx context.Context, accountID uuid.UUID, balance decimal.Decimal) error {
	_, err := t.tx.Exec(ctx,
		"UPDATE wallets SET balance = $1, updated_at = NOW() WHERE account_id = $2", balance, accountID)
	if err != nil {
		return classify(fmt.Errorf("update balance: %w", err))
	}
	return nil
}

func (t *pgTx) InsertTransaction(ctx context.Context, txn domain.Transaction) error {
	_, err := t.tx.Exec(ctx,
		`INSERT INTO transactions (id, sender_id, receiver_id, amount, type, status, reference_id,
			sender_balance_after, receiver_balance_after, app_id, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		txn.ID, txn.SenderID, txn.ReceiverID, txn.Amount, txn.Type, txn.Status, txn.ReferenceID,
		txn.SenderBalanceAfter, txn.ReceiverBalanceAfter, txn.AppID, txn.CreatedAt)
	if err != nil {
		return classify(fmt.Errorf("transaction insert failed: %w", err))
	}
	return nil
}

func (t *pgTx) InsertPaymentRequest(ctx context.Context, p domain.PaymentRequest) error {
	_, err := t.tx.Exec(ctx,
		`INSERT INTO payment_requests (id, receiver_id, amount, reference_id, token, expires_at,
			callback_url, status, app_id, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, NULLIF($7, ''), $8, $9, $10, $10)`,
		p.ID, p.ReceiverID, p.Amount, p.ReferenceID, p.Token, p.ExpiresAt,
		p.CallbackURL, p.Status, p.AppID, p.CreatedAt)
	if err != nil {
		return classify(fmt.Errorf("payment request insert failed: %w", err))
	}
	return nil
}

func (t *pgTx) LockPaymentRequest(ctx context.Context, token string) (*domain.PaymentRequest, error) {
	p, err := scanPaymentRequest(t.tx.QueryRow(ctx,
		"SELECT "+paymentRequestColumns+" FROM payment_requests WHERE token = $1 FOR UPDATE", token))
	if err != nil {
		return nil, classify(err)
	}
	return p, nil
}

func (t *pgTx) UpdatePaymentRequestStatus(ctx context.Context, id uuid.UUID, status domain.RequestStatus, transactionID *uuid.UUID) error {
	_, err := t.tx.Exec(ctx,
		`UPDATE payment_requests
		 SET status = $1, transaction_id = COALESCE($2, transaction_id), updated_at = NOW()
		 WHERE id = $3`,
		status, transactionID, id)
	if err != nil {
		return classify(fmt.Errorf("payment request update failed: %w", err))
	}
	return nil
}

func (t *pgTx) GetIdempotencyRecord(ctx context.Context, key string) (*domain.IdempotencyRecord, error) {
	rec := domain.IdempotencyRecord{Key: key}
	err := t.tx.QueryRow(ctx,
		"SELECT request_hash, status, transaction_id, response_body FROM idempotency_keys WHERE key = $1", key,
	).Scan(&rec.RequestHash, &rec.Status, &rec.TransactionID, &rec.ResponseBody)
	if err != nil {
		return nil, notFound(err, "idempotency key")
	}
	return &rec, nil
}

func (t *pgTx) ReserveIdempotencyKey(ctx context.Context, key, requestHash string) error {
	_, err := t.tx.Exec(ctx,
		"INSERT INTO idempotency_keys (key, request_hash, status) VALUES ($1, $2, $3)",
		key, requestHash, domain.IdempotencyInProgress)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: request in progress", domain.ErrConflictRetryable)
		}
		return classify(fmt.Errorf("key reservation failed: %w", err))
	}
	return nil
}

func (t *pgTx) CompleteIdempotencyKey(ctx context.Context, key string, transactionID uuid.UUID, body []byte) error {
	_, err := t.tx.Exec(ctx,
		"UPDATE idempotency_keys SET status = $1, transaction_id = $2, response_body = $3 WHERE key = $4",
		domain.IdempotencyCompleted, transactionID, body, key)
	if err != nil {
		return classify(fmt.Errorf("idempotency update failed: %w", err))
	}
	return nil
}

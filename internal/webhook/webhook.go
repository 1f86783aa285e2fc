package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/punchamoorthee/payledger/internal/domain"
)

const (
	EventPaymentCompleted = "payment_request.completed"

	SignatureHeader = "X-Webhook-Signature"
	EventHeader     = "X-Webhook-Event"
)

var deliveries = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "payledger_webhook_deliveries_total",
	Help: "Merchant webhook delivery attempts by outcome",
}, []string{"outcome"})

// Payload is the JSON body POSTed to a payment request's callback_url.
type Payload struct {
	Event            string               `json:"event"`
	PaymentRequestID uuid.UUID            `json:"payment_request_id"`
	ReferenceID      string               `json:"reference_id"`
	Amount           decimal.Decimal      `json:"amount"`
	TransactionID    uuid.UUID            `json:"transaction_id"`
	Status           domain.RequestStatus `json:"status"`
}

// Recorder persists the outcome of each attempt.
type Recorder interface {
	RecordWebhookDelivery(ctx context.Context, d domain.WebhookDelivery) error
}

// Dispatcher sends signed callbacks in the background. Attempts are never retried.
type Dispatcher struct {
	client   *http.Client
	secret   []byte
	recorder Recorder
	logger   *zap.Logger
	wg       sync.WaitGroup
}

func NewDispatcher(secret string, timeout time.Duration, recorder Recorder, logger *zap.Logger) *Dispatcher {
	return &Dispatcher{
		client:   &http.Client{Timeout: timeout},
		secret:   []byte(secret),
		recorder: recorder,
		logger:   logger,
	}
}

// Sign returns hex(HMAC-SHA256(secret, body)).
func Sign(secret, body []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify checks a signature header value against body in constant time.
func Verify(secret, body []byte, signature string) bool {
	return hmac.Equal([]byte(Sign(secret, body)), []byte(signature))
}

// Dispatch delivers p to url on a background goroutine.
func (d *Dispatcher) Dispatch(url string, p Payload) {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.Send(context.Background(), url, p)
	}()
}

// Wait blocks until every dispatched delivery has finished.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

// Send performs one delivery attempt synchronously and records it.
func (d *Dispatcher) Send(ctx context.Context, url string, p Payload) domain.WebhookDelivery {
	record := domain.WebhookDelivery{
		PaymentRequestID: p.PaymentRequestID,
		URL:              url,
		Event:            p.Event,
		CreatedAt:        time.Now().UTC(),
	}

	start := time.Now()
	status, err := d.post(ctx, url, p)
	record.LatencyMS = time.Since(start).Milliseconds()
	record.StatusCode = status

	switch {
	case err != nil:
		record.Error = err.Error()
		deliveries.WithLabelValues("error").Inc()
		d.logger.Warn("webhook request failed",
			zap.String("url", url),
			zap.Stringer("payment_request_id", p.PaymentRequestID),
			zap.Int64("latency_ms", record.LatencyMS),
			zap.Error(err))
	case status < 200 || status >= 300:
		record.Error = fmt.Sprintf("HTTP %d", status)
		deliveries.WithLabelValues("rejected").Inc()
		d.logger.Warn("webhook delivery rejected",
			zap.String("url", url),
			zap.Int("status_code", status),
			zap.Int64("latency_ms", record.LatencyMS))
	default:
		deliveries.WithLabelValues("delivered").Inc()
		d.logger.Info("webhook delivered",
			zap.String("url", url),
			zap.Stringer("payment_request_id", p.PaymentRequestID),
			zap.Int("status_code", status),
			zap.Int64("latency_ms", record.LatencyMS))
	}

	if err := d.recorder.RecordWebhookDelivery(ctx, record); err != nil {
		d.logger.Error("failed to record webhook delivery", zap.Error(err))
	}
	return record
}

func (d *Dispatcher) post(ctx context.Context, url string, p Payload) (int, error) {
	body, err := json.Marshal(p)
	if err != nil {
		return 0, fmt.Errorf("marshal payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "payledger-webhook/1.0")
	req.Header.Set(EventHeader, p.Event)
	if len(d.secret) > 0 {
		req.Header.Set(SignatureHeader, Sign(d.secret, body))
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	return resp.StatusCode, nil
}

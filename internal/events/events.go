package events

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/shopspring/decimal"
)

const (
	TypeBalanceChanged = "balance.changed"
	TypeSystemNotice   = "system.notice"
)

var publishFailures = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "payledger_event_publish_failures_total",
	Help: "Events that could not be delivered to a sink",
}, []string{"sink"})

// Event is one notification about a committed ledger change.
// AccountID is uuid.Nil for system-wide notices.
type Event struct {
	Type          string          `json:"type"`
	AccountID     uuid.UUID       `json:"account_id"`
	TransactionID uuid.UUID       `json:"transaction_id"`
	Balance       decimal.Decimal `json:"balance"`
	Delta         decimal.Decimal `json:"delta"`
	ReferenceID   string          `json:"reference_id,omitempty"`
	Message       string          `json:"message,omitempty"`
	OccurredAt    time.Time       `json:"occurred_at"`
}

// Publisher delivers events after commit. Delivery is best-effort.
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
}

// Nop drops every event.
type Nop struct{}

func (Nop) Publish(context.Context, Event) error { return nil }

// Fanout publishes to every sink and joins their errors.
type Fanout []Publisher

func (f Fanout) Publish(ctx context.Context, ev Event) error {
	var errs []error
	for _, p := range f {
		if err := p.Publish(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

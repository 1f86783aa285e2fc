package events

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type failingPublisher struct{ err error }

func (f failingPublisher) Publish(context.Context, Event) error { return f.err }

type recordingPublisher struct{ events []Event }

func (r *recordingPublisher) Publish(_ context.Context, ev Event) error {
	r.events = append(r.events, ev)
	return nil
}

func TestFanoutPublishesToEverySink(t *testing.T) {
	rec := &recordingPublisher{}
	boom := errors.New("boom")
	f := Fanout{failingPublisher{err: boom}, rec}

	err := f.Publish(context.Background(), Event{Type: TypeBalanceChanged})
	if !errors.Is(err, boom) {
		t.Fatalf("expected joined error to contain boom, got %v", err)
	}
	if len(rec.events) != 1 {
		t.Fatalf("expected the healthy sink to receive the event, got %d", len(rec.events))
	}
}

func TestHubDeliversToAccountConnections(t *testing.T) {
	hub := NewHub(zap.NewNop())
	accountID := uuid.New()
	other := uuid.New()

	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		hub.Serve(accountID, conn)
	}))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for hub.ConnectionCount(accountID) == 0 {
		if time.Now().After(deadline) {
			t.Fatal("connection never registered")
		}
		time.Sleep(10 * time.Millisecond)
	}

	ctx := context.Background()
	if err := hub.Publish(ctx, Event{Type: TypeBalanceChanged, AccountID: other}); err != nil {
		t.Fatalf("publish: %v", err)
	}
	want := Event{
		Type:      TypeBalanceChanged,
		AccountID: accountID,
		Balance:   decimal.RequireFromString("700"),
		Delta:     decimal.RequireFromString("-300"),
	}
	if err := hub.Publish(ctx, want); err != nil {
		t.Fatalf("publish: %v", err)
	}

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var got Event
	if err := json.Unmarshal(msg, &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.AccountID != accountID || !got.Balance.Equal(want.Balance) {
		t.Fatalf("unexpected event %+v", got)
	}

	if n := hub.Broadcast("maintenance at noon"); n != 1 {
		t.Fatalf("expected broadcast to reach 1 client, got %d", n)
	}
	_, msg, err = conn.ReadMessage()
	if err != nil {
		t.Fatalf("read broadcast: %v", err)
	}
	if !strings.Contains(string(msg), "maintenance at noon") {
		t.Fatalf("unexpected broadcast payload %s", msg)
	}
}

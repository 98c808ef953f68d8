package reporting

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	"go.uber.org/zap/zaptest"

	"trading_scheduler/services/trading"
)

type recordingSink struct {
	got []string
	err error
}

func (s *recordingSink) Publish(_ context.Context, r trading.Result) error {
	s.got = append(s.got, r.RunID)
	return s.err
}

func sampleResult() trading.Result {
	at := time.Date(2024, 6, 3, 15, 45, 0, 0, time.UTC)
	return trading.Result{
		RunID:      "run-1",
		JobID:      "eod_snapshot",
		StartedAt:  at,
		FinishedAt: at.Add(2 * time.Second),
		Outcomes: []trading.Outcome{
			{EntityID: 1, Success: true, Valuation: &trading.Valuation{ModelID: 1, TotalValue: decimal.RequireFromString("1234.5")}},
			{EntityID: 2, Error: "no portfolio"},
		},
		SuccessCount: 1,
		ErrorCount:   1,
	}
}

func TestMultiPublishesToAll(t *testing.T) {
	a := &recordingSink{}
	b := &recordingSink{err: errors.New("broker down")}
	c := &recordingSink{}

	err := Multi(a, nil, b, c, NewLogSink(zaptest.NewLogger(t))).Publish(context.Background(), sampleResult())
	if err == nil || !strings.Contains(err.Error(), "broker down") {
		t.Fatalf("err = %v", err)
	}
	for i, s := range []*recordingSink{a, b, c} {
		if len(s.got) != 1 {
			t.Errorf("sink %d received %d results", i, len(s.got))
		}
	}
}

func TestResultDocument(t *testing.T) {
	doc, err := resultDocument(sampleResult())
	if err != nil {
		t.Fatal(err)
	}
	if doc["_id"] != "run-1" || doc["job_id"] != "eod_snapshot" {
		t.Fatalf("doc = %v", doc)
	}
	if _, ok := doc["finished_at"].(time.Time); !ok {
		t.Errorf("finished_at = %T, want time.Time", doc["finished_at"])
	}
}

func TestResultMessage(t *testing.T) {
	msg, err := resultMessage(sampleResult())
	if err != nil {
		t.Fatal(err)
	}
	if string(msg.Key) != "eod_snapshot" {
		t.Errorf("key = %s", msg.Key)
	}
	var back trading.Result
	if err := json.Unmarshal(msg.Value, &back); err != nil {
		t.Fatal(err)
	}
	if back.RunID != "run-1" || len(back.Outcomes) != 2 {
		t.Errorf("payload = %+v", back)
	}
	if len(msg.Headers) != 1 || string(msg.Headers[0].Value) != "run-1" {
		t.Errorf("headers = %v", msg.Headers)
	}
}

func TestHubBroadcastsResults(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hub := NewHub(zaptest.NewLogger(t))
	go hub.Run(ctx)
	srv := httptest.NewServer(hub)
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for hub.Clients() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("client never registered")
		}
		time.Sleep(10 * time.Millisecond)
	}

	if err := hub.Publish(ctx, sampleResult()); err != nil {
		t.Fatal(err)
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var msg struct {
		Type string `json:"type"`
		Data struct {
			RunID        string `json:"run_id"`
			SuccessCount int    `json:"success_count"`
		} `json:"data"`
	}
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatal(err)
	}
	if msg.Type != "batch_result" || msg.Data.RunID != "run-1" || msg.Data.SuccessCount != 1 {
		t.Fatalf("message = %+v", msg)
	}
}

func TestHubRejectsClientOverCapacity(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hub := NewHub(zaptest.NewLogger(t))
	hub.maxClients = 1
	go hub.Run(ctx)

	// skip the pre-upgrade check so the rejection happens at registration
	attached := make(chan bool, 2)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := hub.upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		attached <- hub.attach(conn)
	}))
	defer srv.Close()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")

	first, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer first.Close()
	if !<-attached {
		t.Fatal("first client rejected")
	}

	second, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer second.Close()
	if <-attached {
		t.Fatal("second client accepted over capacity")
	}

	second.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err = second.ReadMessage()
	if !websocket.IsCloseError(err, websocket.CloseTryAgainLater) {
		t.Fatalf("read after rejection = %v, want try-again-later close", err)
	}
	if n := hub.Clients(); n != 1 {
		t.Errorf("clients = %d, want 1", n)
	}
}

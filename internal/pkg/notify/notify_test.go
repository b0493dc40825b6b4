package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func TestFormatAmount(t *testing.T) {
	cases := []struct {
		minor    int64
		currency string
		want     string
	}{
		{2500, "jpy", "2500 JPY"},
		{2500, "usd", "25.00 USD"},
		{5, "EUR", "0.05 EUR"},
		{0, "krw", "0 KRW"},
	}
	for _, tc := range cases {
		if got := FormatAmount(tc.minor, tc.currency); got != tc.want {
			t.Errorf("FormatAmount(%d, %q) = %q, want %q", tc.minor, tc.currency, got, tc.want)
		}
	}
}

func TestDiscordWebhookPayload(t *testing.T) {
	var got map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("unexpected content type %q", ct)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode: %v", err)
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	evt := Event{Kind: EventOrderPaid, UserID: uuid.New(), OrderID: uuid.New(), AmountMinor: 2500, Currency: "jpy"}
	if err := NewDiscordWebhook(srv.URL, srv.Client()).Notify(context.Background(), evt); err != nil {
		t.Fatalf("notify: %v", err)
	}

	content, _ := got["content"].(string)
	if !strings.Contains(content, "2500 JPY") {
		t.Fatalf("expected amount in content, got %q", content)
	}
	mentions, _ := got["allowed_mentions"].(map[string]interface{})
	if parse, ok := mentions["parse"].([]interface{}); !ok || len(parse) != 0 {
		t.Fatalf("expected empty allowed_mentions.parse, got %#v", got["allowed_mentions"])
	}
}

func TestSlackWebhookReportsFailureStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	err := NewSlackWebhook(srv.URL, srv.Client()).Notify(context.Background(), Event{Kind: EventSubscriptionChanged})
	if err == nil {
		t.Fatal("expected error for 500 response")
	}
}

func TestTruncateKeepsRunes(t *testing.T) {
	s := strings.Repeat("é", maxChatLength+10)
	if got := []rune(truncate(s, maxChatLength)); len(got) != maxChatLength {
		t.Fatalf("expected %d runes, got %d", maxChatLength, len(got))
	}
	if truncate("short", maxChatLength) != "short" {
		t.Fatal("short strings must be unchanged")
	}
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []Event
	err    error
}

func (r *recordingNotifier) Name() string { return "recording" }

func (r *recordingNotifier) Notify(ctx context.Context, evt Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, evt)
	return r.err
}

func TestServicePublishSwallowsFailures(t *testing.T) {
	failing := &recordingNotifier{err: errors.New("down")}
	ok := &recordingNotifier{}
	svc := NewServiceWith([]Notifier{failing, ok}, time.Second, quietLogger())

	svc.Publish(Event{Kind: EventOrderPaid})
	svc.Wait()

	if len(failing.events) != 1 || len(ok.events) != 1 {
		t.Fatalf("expected both targets called once, got %d and %d", len(failing.events), len(ok.events))
	}
	if ok.events[0].OccurredAt.IsZero() {
		t.Fatal("expected OccurredAt to be stamped")
	}
}

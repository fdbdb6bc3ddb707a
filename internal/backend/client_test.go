package backend

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"alert-dashboard/internal/events"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestFetchAlertsSkipsInvalid(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/alerts" || r.URL.Query().Get("limit") != "50" {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte(`{"alerts":[
			{"id":2,"alert_type":"priority","symbol":"ethusdt","price":"3000","timestamp":2},
			{"id":1,"alert_type":"bogus","symbol":"X"},
			{"id":1,"alert_type":"volume_spike","symbol":"BTCUSDT","price":65000,"timestamp":1}
		]}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, quietLogger())
	got, err := c.FetchAlerts(context.Background(), 50)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d alerts want 2", len(got))
	}
	if got[0].Symbol != "ETHUSDT" || got[1].Category != events.CategoryVolumeSpike {
		t.Fatalf("unexpected %+v", got)
	}
}

func TestFetchAlertsBareArrayAndStatus(t *testing.T) {
	status := http.StatusOK
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
		_, _ = w.Write([]byte(`[{"id":1,"alert_type":"consecutive_long","symbol":"SOLUSDT","consecutive_count":4}]`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL+"/", quietLogger())
	got, err := c.FetchAlerts(context.Background(), 10)
	if err != nil || len(got) != 1 || *got[0].ConsecutiveCount != 4 {
		t.Fatalf("bare array: %+v %v", got, err)
	}

	status = http.StatusInternalServerError
	if _, err := c.FetchAlerts(context.Background(), 10); err == nil {
		t.Fatal("expected error on 500")
	}
}

func TestClearAlerts(t *testing.T) {
	var gotMethod, gotType string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotType = r.URL.Query().Get("alert_type")
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, quietLogger())
	if err := c.ClearAlerts(context.Background(), events.CategoryPriority); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if gotMethod != http.MethodDelete || gotType != "priority" {
		t.Fatalf("method %s type %s", gotMethod, gotType)
	}
	if err := c.ClearAlerts(context.Background(), "whale"); err == nil {
		t.Fatal("expected error for unknown category")
	}
}

func TestFetchWatchlist(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"watchlist":[{"symbol":" btcusdt ","note":"core"},{"symbol":""}]}`))
	}))
	defer srv.Close()

	got, err := NewClient(srv.URL, quietLogger()).FetchWatchlist(context.Background())
	if err != nil {
		t.Fatalf("watchlist: %v", err)
	}
	if len(got) != 1 || got[0].Symbol != "BTCUSDT" || got[0].Note != "core" {
		t.Fatalf("unexpected %+v", got)
	}
}

func TestStreamURL(t *testing.T) {
	cases := map[string]string{
		"http://127.0.0.1:8000":       "ws://127.0.0.1:8000/ws",
		"https://alerts.example.com/": "wss://alerts.example.com/ws",
		"https://example.com/base":    "wss://example.com/base/ws",
	}
	for base, want := range cases {
		got, err := NewClient(base, quietLogger()).StreamURL("ws")
		if err != nil || got != want {
			t.Fatalf("%s: got %s (%v) want %s", base, got, err, want)
		}
	}
	if _, err := NewClient("ftp://x", quietLogger()).StreamURL("/ws"); err == nil {
		t.Fatal("expected unsupported scheme error")
	}
}

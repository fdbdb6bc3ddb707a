package server

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	"github.com/tidwall/gjson"

	"alert-dashboard/internal/backend"
	"alert-dashboard/internal/config"
	"alert-dashboard/internal/events"
	"alert-dashboard/internal/state"
)

type fakeCtl struct {
	dash       *state.Dashboard
	reconnects atomic.Int32
}

func (f *fakeCtl) State() events.ConnectionState { return events.StateConnected }
func (f *fakeCtl) SessionID() string             { return "session-1" }
func (f *fakeCtl) PendingReconnect() bool        { return false }
func (f *fakeCtl) Reconnect()                    { f.reconnects.Add(1) }
func (f *fakeCtl) Clear(_ context.Context, cat events.Category) (bool, error) {
	return f.dash.Clear(cat), nil
}

type fakeRemote struct {
	cleared chan events.Category
}

func (f *fakeRemote) ClearAlerts(_ context.Context, cat events.Category) error {
	f.cleared <- cat
	return nil
}

func newTestServer(t *testing.T) (*HTTPServer, *state.Dashboard, *fakeCtl, *fakeRemote) {
	t.Helper()
	dash := state.NewDashboard(state.Capacities{Alerts: 10, Signals: 10, TickHistory: 10})
	ctl := &fakeCtl{dash: dash}
	remote := &fakeRemote{cleared: make(chan events.Category, 4)}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	s := NewHTTPServer(config.Config{AlertCapacity: 10}, dash, ctl, remote, nil, logger)
	t.Cleanup(s.Close)
	return s, dash, ctl, remote
}

func do(t *testing.T, s *HTTPServer, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, httptest.NewRequest(method, target, strings.NewReader(body)))
	return rec
}

func TestAlertsEndpoint(t *testing.T) {
	s, dash, _, _ := newTestServer(t)
	dash.ApplyAlert(events.AlertEvent{ID: 1, Category: events.CategoryVolumeSpike, Symbol: "BTCUSDT", Price: decimal.NewFromInt(1)})
	dash.ApplyAlert(events.AlertEvent{ID: 2, Category: events.CategoryVolumeSpike, Symbol: "ETHUSDT", Price: decimal.NewFromInt(2)})

	rec := do(t, s, http.MethodGet, "/api/alerts?category=volume_spike", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d", rec.Code)
	}
	var got []events.AlertEvent
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(got) != 2 || got[0].ID != 2 {
		t.Fatalf("want newest first, got %+v", got)
	}

	if rec := do(t, s, http.MethodGet, "/api/alerts?category=whale", ""); rec.Code != http.StatusBadRequest {
		t.Fatalf("unknown category status %d", rec.Code)
	}
	all := do(t, s, http.MethodGet, "/api/alerts", "")
	if n := gjson.GetBytes(all.Body.Bytes(), "volume_spike.#").Int(); n != 2 {
		t.Fatalf("all alerts volume_spike len %d", n)
	}
}

func TestClearEndpoint(t *testing.T) {
	s, dash, _, remote := newTestServer(t)
	dash.ApplyAlert(events.AlertEvent{ID: 1, Category: events.CategoryPriority, Symbol: "BTCUSDT"})

	rec := do(t, s, http.MethodPost, "/api/alerts/clear", `{"category":"priority"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d body %s", rec.Code, rec.Body.String())
	}
	if len(dash.Alerts(events.CategoryPriority)) != 0 {
		t.Fatal("local store not cleared")
	}
	select {
	case cat := <-remote.cleared:
		if cat != events.CategoryPriority {
			t.Fatalf("remote cleared %s", cat)
		}
	case <-time.After(time.Second):
		t.Fatal("backend clear not called")
	}

	if rec := do(t, s, http.MethodPost, "/api/alerts/clear", `{"category":"whale"}`); rec.Code != http.StatusBadRequest {
		t.Fatalf("unknown category status %d", rec.Code)
	}
	if rec := do(t, s, http.MethodGet, "/api/alerts/clear", ""); rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("GET status %d", rec.Code)
	}
	if rec := do(t, s, http.MethodPost, "/api/alerts/clear", `{`); rec.Code != http.StatusBadRequest {
		t.Fatalf("bad json status %d", rec.Code)
	}
}

func TestReconnectAndStatus(t *testing.T) {
	s, _, ctl, _ := newTestServer(t)
	if rec := do(t, s, http.MethodGet, "/api/reconnect", ""); rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("GET status %d", rec.Code)
	}
	if rec := do(t, s, http.MethodPost, "/api/reconnect", ""); rec.Code != http.StatusOK {
		t.Fatalf("POST status %d", rec.Code)
	}
	if ctl.reconnects.Load() != 1 {
		t.Fatalf("reconnects %d", ctl.reconnects.Load())
	}
	rec := do(t, s, http.MethodGet, "/api/status", "")
	if st := gjson.GetBytes(rec.Body.Bytes(), "state").String(); st != "connected" {
		t.Fatalf("state %q", st)
	}
}

func TestLatestTickEndpoint(t *testing.T) {
	s, dash, _, _ := newTestServer(t)
	dash.RecordTick(events.TickEvent{Symbol: "BTCUSDT", Price: decimal.NewFromInt(100), IsLong: true})

	rec := do(t, s, http.MethodGet, "/api/ticks/latest?symbol=btcusdt", "")
	if rec.Code != http.StatusOK || !gjson.GetBytes(rec.Body.Bytes(), "isLong").Bool() {
		t.Fatalf("status %d body %s", rec.Code, rec.Body.String())
	}
	if rec := do(t, s, http.MethodGet, "/api/ticks/latest?symbol=DOGEUSDT", ""); rec.Code != http.StatusNotFound {
		t.Fatalf("missing symbol status %d", rec.Code)
	}
}

func TestWebSocketSnapshotPublishAndControl(t *testing.T) {
	s, dash, ctl, _ := newTestServer(t)
	dash.ApplyAlert(events.AlertEvent{ID: 3, Category: events.CategoryConsecutiveLong, Symbol: "SOLUSDT"})

	srv := httptest.NewServer(s.Router())
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))

	_, first, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read snapshot: %v", err)
	}
	if gjson.GetBytes(first, "type").String() != "snapshot" {
		t.Fatalf("first message %s", first)
	}
	if n := gjson.GetBytes(first, "data.alerts.consecutive_long.#").Int(); n != 1 {
		t.Fatalf("snapshot alerts %d", n)
	}

	tk := events.TickEvent{Symbol: "ETHUSDT", Price: decimal.NewFromInt(3000)}
	s.Publish(backend.Change{Kind: backend.ChangeTick, Tick: &tk})
	_, msg, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read tick: %v", err)
	}
	if gjson.GetBytes(msg, "type").String() != "tick" || gjson.GetBytes(msg, "data.symbol").String() != "ETHUSDT" {
		t.Fatalf("unexpected %s", msg)
	}

	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"action":"reconnect"}`)); err != nil {
		t.Fatalf("write: %v", err)
	}
	deadline := time.Now().Add(2 * time.Second)
	for ctl.reconnects.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if ctl.reconnects.Load() != 1 {
		t.Fatal("reconnect control not applied")
	}
}

func TestStatusBroadcastCarriesTransitionState(t *testing.T) {
	s, _, _, _ := newTestServer(t)
	srv := httptest.NewServer(s.Router())
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := conn.ReadMessage(); err != nil {
		t.Fatalf("read snapshot: %v", err)
	}

	// the controller reports connected throughout; each frame must still
	// describe its own transition
	s.Publish(backend.Change{Kind: backend.ChangeStatus, State: events.StateDisconnected})
	s.Publish(backend.Change{Kind: backend.ChangeStatus, State: events.StateConnecting})
	for _, want := range []string{"disconnected", "connecting"} {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("read status: %v", err)
		}
		if gjson.GetBytes(msg, "type").String() != "status" {
			t.Fatalf("unexpected %s", msg)
		}
		if got := gjson.GetBytes(msg, "data.state").String(); got != want {
			t.Fatalf("state got %q want %q", got, want)
		}
	}
}

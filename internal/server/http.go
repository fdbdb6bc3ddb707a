package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"alert-dashboard/internal/backend"
	"alert-dashboard/internal/config"
	"alert-dashboard/internal/events"
	"alert-dashboard/internal/metrics"
	"alert-dashboard/internal/sound"
	"alert-dashboard/internal/state"
)

// Controller is the part of the connection manager the HTTP layer drives.
type Controller interface {
	State() events.ConnectionState
	SessionID() string
	PendingReconnect() bool
	Reconnect()
	Clear(ctx context.Context, cat events.Category) (bool, error)
}

// RemoteClearer forwards a clear to the backend.
type RemoteClearer interface {
	ClearAlerts(ctx context.Context, cat events.Category) error
}

type HTTPServer struct {
	cfg    config.Config
	dash   *state.Dashboard
	ctl    Controller
	remote RemoteClearer
	cues   *sound.Cues
	hub    *hub
	log    *slog.Logger
	mux    *http.ServeMux

	watchMu   sync.RWMutex
	watchlist []backend.WatchlistEntry
}

func NewHTTPServer(cfg config.Config, dash *state.Dashboard, ctl Controller, remote RemoteClearer, cues *sound.Cues, logger *slog.Logger) *HTTPServer {
	s := &HTTPServer{
		cfg:       cfg,
		dash:      dash,
		ctl:       ctl,
		remote:    remote,
		cues:      cues,
		log:       logger,
		mux:       http.NewServeMux(),
		watchlist: []backend.WatchlistEntry{},
	}
	s.hub = newHub(logger, s.helloMessage, s.handleControl)
	s.routes()
	go s.hub.run()
	return s
}

func (s *HTTPServer) Router() http.Handler { return s.mux }

// Close disconnects every browser.
func (s *HTTPServer) Close() { close(s.hub.stop) }

func (s *HTTPServer) SetWatchlist(entries []backend.WatchlistEntry) {
	s.watchMu.Lock()
	s.watchlist = entries
	s.watchMu.Unlock()
	s.hub.publish(marshalWS("watchlist", entries))
}

func (s *HTTPServer) currentWatchlist() []backend.WatchlistEntry {
	s.watchMu.RLock()
	defer s.watchMu.RUnlock()
	return s.watchlist
}

// --------- WS broadcasts ----------

// Publish forwards one manager change to every browser.
func (s *HTTPServer) Publish(ch backend.Change) {
	switch ch.Kind {
	case backend.ChangeStatus:
		// the manager may have moved on already; report the transition itself
		s.hub.publish(marshalWS("status", s.statusPayload(ch.State)))
	case backend.ChangeAlert:
		payload := map[string]any{"alert": ch.Alert}
		if s.cues != nil {
			if u := s.cues.URLFor(ch.Alert.Category, ch.Alert.Symbol, time.Now()); u != "" {
				payload["soundURL"] = u
			}
		}
		s.hub.publish(marshalWS("alert", payload))
	case backend.ChangeSignal:
		s.hub.publish(marshalWS("signal", ch.Signal))
	case backend.ChangeTick:
		s.hub.publish(marshalWS("tick", ch.Tick))
	case backend.ChangeCleared:
		s.hub.publish(marshalWS("cleared", map[string]string{"category": string(ch.Category)}))
	case backend.ChangeWatchlist:
		// the refreshed list follows via SetWatchlist
	}
}

func (s *HTTPServer) statusPayload(st events.ConnectionState) map[string]any {
	return map[string]any{
		"state":            st,
		"session":          s.ctl.SessionID(),
		"pendingReconnect": s.ctl.PendingReconnect(),
	}
}

func (s *HTTPServer) allAlerts() map[events.Category][]events.AlertEvent {
	out := make(map[events.Category][]events.AlertEvent, len(events.Categories))
	for _, cat := range events.Categories {
		out[cat] = s.dash.Alerts(cat)
	}
	return out
}

func (s *HTTPServer) helloMessage() []byte {
	return marshalWS("snapshot", map[string]any{
		"status":    s.statusPayload(s.ctl.State()),
		"alerts":    s.allAlerts(),
		"signals":   s.dash.Signals(),
		"ticks":     s.dash.TickHistory(),
		"watchlist": s.currentWatchlist(),
	})
}

func (s *HTTPServer) handleControl(m controlMsg) {
	switch m.Action {
	case "reconnect":
		s.ctl.Reconnect()
	case "clear":
		if _, err := s.clear(context.Background(), events.Category(m.Category)); err != nil {
			s.log.Debug("ws clear", slog.String("category", m.Category), slog.String("err", err.Error()))
		}
	}
}

// --------- Routes ----------

func (s *HTTPServer) routes() {
	if s.cfg.WebDir != "" {
		s.mux.Handle("/", http.FileServer(http.Dir(s.cfg.WebDir)))
	}
	s.mux.HandleFunc("/sounds/", s.serveSound)
	s.mux.HandleFunc("/ws", s.hub.serveWS)
	s.mux.Handle("/metrics", metrics.Handler())

	s.mux.HandleFunc("/api/health", s.apiHealth)
	s.mux.HandleFunc("/api/status", s.apiStatus)
	s.mux.HandleFunc("/api/config", s.apiConfig)
	s.mux.HandleFunc("/api/alerts", s.apiAlerts)
	s.mux.HandleFunc("/api/alerts/clear", s.apiClear)
	s.mux.HandleFunc("/api/signals", s.apiSignals)
	s.mux.HandleFunc("/api/ticks", s.apiTicks)
	s.mux.HandleFunc("/api/ticks/latest", s.apiLatestTick)
	s.mux.HandleFunc("/api/watchlist", s.apiWatchlist)
	s.mux.HandleFunc("/api/reconnect", s.apiReconnect)
}

func (s *HTTPServer) serveSound(w http.ResponseWriter, r *http.Request) {
	if s.cues == nil {
		http.NotFound(w, r)
		return
	}
	path, ok := s.cues.Path(strings.TrimPrefix(r.URL.Path, "/sounds/"))
	if !ok {
		http.NotFound(w, r)
		return
	}
	// strong caching (1 year) + immutable; the URL carries a content hash
	w.Header().Set("Cache-Control", "public, max-age=31536000, immutable")
	w.Header().Set("Content-Type", "audio/mpeg")
	http.ServeFile(w, r, path)
}

func (s *HTTPServer) apiHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]any{
		"ok":        true,
		"connected": s.ctl.State() == events.StateConnected,
	})
}

func (s *HTTPServer) apiStatus(w http.ResponseWriter, r *http.Request) {
	st := s.statusPayload(s.ctl.State())
	st["counts"] = s.dash.Counts()
	writeJSON(w, st)
}

func (s *HTTPServer) apiConfig(w http.ResponseWriter, r *http.Request) {
	sounds := map[events.Category]string{}
	if s.cues != nil {
		sounds = s.cues.Available()
	}
	writeJSON(w, map[string]any{
		"alertCapacity":       s.cfg.AlertCapacity,
		"signalCapacity":      s.cfg.SignalCapacity,
		"tickHistoryCapacity": s.cfg.TickHistoryCapacity,
		"categories":          events.Categories,
		"sounds":              sounds,
	})
}

func (s *HTTPServer) apiAlerts(w http.ResponseWriter, r *http.Request) {
	cat := events.Category(strings.TrimSpace(r.URL.Query().Get("category")))
	if cat == "" {
		writeJSON(w, s.allAlerts())
		return
	}
	if !cat.Valid() {
		http.Error(w, "unknown category", http.StatusBadRequest)
		return
	}
	writeJSON(w, s.dash.Alerts(cat))
}

func (s *HTTPServer) apiSignals(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.dash.Signals())
}

func (s *HTTPServer) apiTicks(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.dash.TickHistory())
}

func (s *HTTPServer) apiLatestTick(w http.ResponseWriter, r *http.Request) {
	sym := strings.ToUpper(strings.TrimSpace(r.URL.Query().Get("symbol")))
	if sym == "" {
		writeJSON(w, s.dash.LatestTicks())
		return
	}
	tk, ok := s.dash.LatestTick(sym)
	if !ok {
		http.Error(w, "no tick for symbol", http.StatusNotFound)
		return
	}
	writeJSON(w, tk)
}

func (s *HTTPServer) apiWatchlist(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.currentWatchlist())
}

// POST /api/reconnect
func (s *HTTPServer) apiReconnect(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "POST required", http.StatusMethodNotAllowed)
		return
	}
	s.ctl.Reconnect()
	writeJSON(w, map[string]any{"ok": true})
}

var errUnknownCategory = errors.New("unknown category")

// clear empties the local store, then asks the backend to do the same in the
// background. The remote call never fails the request.
func (s *HTTPServer) clear(ctx context.Context, cat events.Category) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	ok, err := s.ctl.Clear(ctx, cat)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, errUnknownCategory
	}
	if cat.Valid() && s.remote != nil {
		go func() {
			rctx, rcancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer rcancel()
			if err := s.remote.ClearAlerts(rctx, cat); err != nil {
				s.log.Error("backend clear failed", slog.String("category", string(cat)), slog.String("err", err.Error()))
			}
		}()
	}
	return true, nil
}

// POST /api/alerts/clear { "category": "volume_spike"|"consecutive_long"|"priority"|"smart_money" }
func (s *HTTPServer) apiClear(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "POST required", http.StatusMethodNotAllowed)
		return
	}
	var req struct {
		Category string `json:"category"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad json", http.StatusBadRequest)
		return
	}
	cat := events.Category(strings.TrimSpace(req.Category))
	if _, err := s.clear(r.Context(), cat); err != nil {
		if errors.Is(err, errUnknownCategory) {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		http.Error(w, "dispatcher busy", http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, map[string]any{"ok": true, "category": cat})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}

package backend

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jpillora/backoff"

	"alert-dashboard/internal/events"
	"alert-dashboard/internal/metrics"
	"alert-dashboard/internal/state"
)

const (
	defaultMinDelay = 5 * time.Second
	defaultMaxDelay = 60 * time.Second
	dialTimeout     = 15 * time.Second
)

// Conn is one open transport. ReadMessage blocks until a message arrives,
// the peer goes away, or Close is called.
type Conn interface {
	ReadMessage() ([]byte, error)
	Close() error
}

type Dialer interface {
	Dial(ctx context.Context, url string) (Conn, error)
}

type ChangeKind string

const (
	ChangeStatus    ChangeKind = "status"
	ChangeAlert     ChangeKind = "alert"
	ChangeSignal    ChangeKind = "signal"
	ChangeTick      ChangeKind = "tick"
	ChangeWatchlist ChangeKind = "watchlist"
	ChangeCleared   ChangeKind = "cleared"
)

// Change notifies readers that the dashboard moved. Only the field matching
// Kind is set.
type Change struct {
	Kind     ChangeKind
	State    events.ConnectionState
	Alert    *events.AlertEvent
	Signal   *events.SmartMoneySignal
	Tick     *events.TickEvent
	Category events.Category
}

type Options struct {
	URL      string
	MinDelay time.Duration
	MaxDelay time.Duration
	Jitter   bool
	// OnWatchlistChanged runs on the dispatch goroutine and must not block.
	OnWatchlistChanged func()
}

type inbound struct {
	connID uint64
	data   []byte
	err    error
}

type dialResult struct {
	attempt uint64
	conn    Conn
	err     error
}

type clearReq struct {
	cat  events.Category
	done chan bool
}

// Manager owns the single push connection and is the only writer of the
// dashboard. Everything that mutates state runs on the Run goroutine, in
// transport delivery order.
type Manager struct {
	dialer Dialer
	dash   *state.Dashboard
	log    *slog.Logger
	opts   Options
	bo     *backoff.Backoff

	mu        sync.RWMutex
	state     events.ConnectionState
	sessionID string
	pending   bool

	running   atomic.Bool
	changes   chan Change
	reconnect chan struct{}
	clears    chan clearReq
	inbound   chan inbound
	dials     chan dialResult

	// Run goroutine only.
	conn       Conn
	connID     uint64
	timer      *time.Timer
	attempt    uint64
	dialCancel context.CancelFunc
}

func NewManager(dialer Dialer, dash *state.Dashboard, opts Options, logger *slog.Logger) *Manager {
	if opts.MinDelay <= 0 {
		opts.MinDelay = defaultMinDelay
	}
	if opts.MaxDelay < opts.MinDelay {
		opts.MaxDelay = max(defaultMaxDelay, opts.MinDelay)
	}
	return &Manager{
		dialer: dialer,
		dash:   dash,
		log:    logger,
		opts:   opts,
		bo: &backoff.Backoff{
			Min:    opts.MinDelay,
			Max:    opts.MaxDelay,
			Factor: 2,
			Jitter: opts.Jitter,
		},
		state:     events.StateDisconnected,
		changes:   make(chan Change, 1024),
		reconnect: make(chan struct{}, 1),
		clears:    make(chan clearReq),
		inbound:   make(chan inbound),
		dials:     make(chan dialResult),
	}
}

func (m *Manager) Changes() <-chan Change { return m.changes }

func (m *Manager) State() events.ConnectionState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// SessionID identifies the current (or last) transport connection in logs.
func (m *Manager) SessionID() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.sessionID
}

func (m *Manager) PendingReconnect() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.pending
}

// Reconnect requests a full close-then-open cycle, even when connected. A
// pending delayed reconnection is cancelled first. Repeated calls before the
// loop picks one up collapse into one.
func (m *Manager) Reconnect() {
	select {
	case m.reconnect <- struct{}{}:
	default:
	}
}

// Clear empties one category on the dispatch goroutine. It reports false for
// an unknown category.
func (m *Manager) Clear(ctx context.Context, cat events.Category) (bool, error) {
	req := clearReq{cat: cat, done: make(chan bool, 1)}
	select {
	case m.clears <- req:
	case <-ctx.Done():
		return false, ctx.Err()
	}
	select {
	case ok := <-req.done:
		return ok, nil
	case <-ctx.Done():
		return false, ctx.Err()
	}
}

// Run connects and dispatches until ctx is cancelled. On return the transport
// is closed and any pending reconnection is cancelled.
func (m *Manager) Run(ctx context.Context) error {
	if !m.running.CompareAndSwap(false, true) {
		return errors.New("manager already running")
	}
	defer m.running.Store(false)
	defer m.teardown()

	m.connect(ctx)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case <-m.reconnect:
			m.log.Info("manual reconnect", slog.String("from", m.State().String()))
			m.cancelTimer()
			m.cancelDial()
			m.dropConn()
			m.setState(events.StateDisconnected)
			m.connect(ctx)

		case res := <-m.dials:
			m.dialed(ctx, res)

		case <-m.timerC():
			m.timer = nil
			m.setPending(false)
			m.connect(ctx)

		case in := <-m.inbound:
			if m.conn == nil || in.connID != m.connID {
				continue // reader of a connection we already dropped
			}
			if in.err != nil {
				m.transportLost(in.err)
				continue
			}
			m.dispatch(in.data)

		case req := <-m.clears:
			ok := m.dash.Clear(req.cat)
			req.done <- ok
			if ok {
				m.emit(Change{Kind: ChangeCleared, Category: req.cat})
			}
		}
	}
}

// connect starts one dial attempt off the loop goroutine. The result comes
// back on m.dials tagged with the attempt number.
func (m *Manager) connect(ctx context.Context) {
	m.setState(events.StateConnecting)
	metrics.ConnectAttempts.Inc()

	m.attempt++
	id := m.attempt
	dctx, cancel := context.WithTimeout(ctx, dialTimeout)
	m.dialCancel = cancel
	go func() {
		conn, err := m.dialer.Dial(dctx, m.opts.URL)
		select {
		case m.dials <- dialResult{attempt: id, conn: conn, err: err}:
		case <-ctx.Done():
			if conn != nil {
				_ = conn.Close()
			}
		}
	}()
}

func (m *Manager) dialed(ctx context.Context, res dialResult) {
	if m.dialCancel == nil || res.attempt != m.attempt {
		// attempt was cancelled by a manual reconnect
		if res.conn != nil {
			_ = res.conn.Close()
		}
		return
	}
	m.dialCancel()
	m.dialCancel = nil

	if res.err != nil {
		metrics.TransportErrors.Inc()
		m.log.Warn("connect failed", slog.String("url", m.opts.URL), slog.String("err", res.err.Error()))
		m.setState(events.StateDisconnected)
		m.scheduleReconnect()
		return
	}

	m.connID++
	m.conn = res.conn
	sid := uuid.NewString()
	m.mu.Lock()
	m.sessionID = sid
	m.mu.Unlock()
	m.bo.Reset()
	m.setState(events.StateConnected)
	m.log.Info("connected", slog.String("url", m.opts.URL), slog.String("session", sid))

	go m.readPump(ctx, m.connID, res.conn)
}

func (m *Manager) cancelDial() {
	if m.dialCancel == nil {
		return
	}
	m.dialCancel()
	m.dialCancel = nil
}

func (m *Manager) readPump(ctx context.Context, id uint64, conn Conn) {
	for {
		data, err := conn.ReadMessage()
		select {
		case m.inbound <- inbound{connID: id, data: data, err: err}:
		case <-ctx.Done():
			return
		}
		if err != nil {
			return
		}
	}
}

func (m *Manager) transportLost(err error) {
	metrics.TransportErrors.Inc()
	m.log.Warn("transport lost", slog.String("session", m.SessionID()), slog.String("err", err.Error()))
	m.dropConn()
	m.setState(events.StateDisconnected)
	m.scheduleReconnect()
}

// scheduleReconnect arms at most one delayed reconnection.
func (m *Manager) scheduleReconnect() {
	if m.timer != nil {
		return
	}
	d := m.bo.Duration()
	m.timer = time.NewTimer(d)
	m.setPending(true)
	m.log.Info("reconnect scheduled", slog.Duration("delay", d))
}

func (m *Manager) cancelTimer() {
	if m.timer == nil {
		return
	}
	m.timer.Stop()
	m.timer = nil
	m.setPending(false)
}

func (m *Manager) timerC() <-chan time.Time {
	if m.timer == nil {
		return nil
	}
	return m.timer.C
}

func (m *Manager) dropConn() {
	if m.conn == nil {
		return
	}
	if err := m.conn.Close(); err != nil {
		m.log.Debug("close transport", slog.String("err", err.Error()))
	}
	m.conn = nil
}

func (m *Manager) teardown() {
	m.cancelTimer()
	m.cancelDial()
	m.dropConn()
	m.setState(events.StateDisconnected)
}

func (m *Manager) dispatch(data []byte) {
	ev, err := events.Decode(data)
	if err != nil {
		reason := discardReason(err)
		metrics.DiscardedTotal.WithLabelValues(reason).Inc()
		m.log.Debug("discard message", slog.String("reason", reason), slog.String("err", err.Error()))
		return
	}
	metrics.MessagesTotal.WithLabelValues(ev.Kind.String()).Inc()

	switch ev.Kind {
	case events.KindAlert:
		a := ev.Alert
		sig, ok := m.dash.ApplyAlert(a)
		m.emit(Change{Kind: ChangeAlert, Alert: &a})
		if ok {
			m.emit(Change{Kind: ChangeSignal, Signal: &sig})
		}
	case events.KindTick:
		tk := ev.Tick
		m.dash.RecordTick(tk)
		m.emit(Change{Kind: ChangeTick, Tick: &tk})
	case events.KindStatus:
		// soft status from the backend; the transport stays up either way
		if strings.EqualFold(ev.Status, "connected") {
			m.setState(events.StateConnected)
		} else {
			m.setState(events.StateDisconnected)
		}
	case events.KindWatchlist:
		m.emit(Change{Kind: ChangeWatchlist})
		if m.opts.OnWatchlistChanged != nil {
			m.opts.OnWatchlistChanged()
		}
	}
}

func discardReason(err error) string {
	switch {
	case errors.Is(err, events.ErrMalformed):
		return "malformed"
	case errors.Is(err, events.ErrUnknownKind):
		return "unknown"
	case errors.Is(err, events.ErrMissingField):
		return "missing_field"
	}
	return "other"
}

func (m *Manager) setState(s events.ConnectionState) {
	m.mu.Lock()
	changed := m.state != s
	m.state = s
	m.mu.Unlock()
	if !changed {
		return
	}
	metrics.ConnectionState.Set(float64(s))
	m.emit(Change{Kind: ChangeStatus, State: s})
}

func (m *Manager) setPending(v bool) {
	m.mu.Lock()
	m.pending = v
	m.mu.Unlock()
}

func (m *Manager) emit(c Change) {
	select {
	case m.changes <- c:
	default:
		// drop if nobody keeps up
	}
}

package state

import (
	"alert-dashboard/internal/events"
	"alert-dashboard/internal/smartmoney"
	"alert-dashboard/internal/store"
)

// CategorySmartMoney names the derived-signal store for clear requests.
const CategorySmartMoney events.Category = "smart_money"

type Capacities struct {
	Alerts      int
	Signals     int
	TickHistory int
}

// Dashboard owns every store. It is built once per session; only the
// connection manager's dispatch path and the bootstrap seed mutate it.
type Dashboard struct {
	alerts  map[events.Category]*store.Bounded[int64, events.AlertEvent]
	signals *store.Bounded[uint64, events.SmartMoneySignal]
	ticks   *store.Ticks
	deriver *smartmoney.Deriver
}

func NewDashboard(c Capacities) *Dashboard {
	d := &Dashboard{
		alerts:  make(map[events.Category]*store.Bounded[int64, events.AlertEvent], len(events.Categories)),
		signals: store.NewBounded(c.Signals, func(s events.SmartMoneySignal) uint64 { return s.ID }),
		ticks:   store.NewTicks(c.TickHistory),
		deriver: smartmoney.NewDeriver(),
	}
	for _, cat := range events.Categories {
		d.alerts[cat] = store.NewBounded(c.Alerts, func(a events.AlertEvent) int64 { return a.ID })
	}
	return d
}

// ApplyAlert upserts a into its category's store and, when a carries an
// imbalance, stores the derived signal too. Unknown categories are ignored.
// The two stores are locked separately, so a concurrent reader may see the
// alert one step before its signal.
func (d *Dashboard) ApplyAlert(a events.AlertEvent) (events.SmartMoneySignal, bool) {
	st, ok := d.alerts[a.Category]
	if !ok {
		return events.SmartMoneySignal{}, false
	}
	st.Upsert(a)
	sig, ok := d.deriver.Derive(a)
	if ok {
		d.signals.Upsert(sig)
	}
	return sig, ok
}

func (d *Dashboard) RecordTick(t events.TickEvent) { d.ticks.Record(t) }

// Seed loads history returned newest-first so the newest ends up at the front.
func (d *Dashboard) Seed(history []events.AlertEvent) {
	for i := len(history) - 1; i >= 0; i-- {
		d.ApplyAlert(history[i])
	}
}

// Clear empties one category (or the smart-money store). It reports false
// for an unknown category.
func (d *Dashboard) Clear(c events.Category) bool {
	if c == CategorySmartMoney {
		d.signals.Clear()
		return true
	}
	st, ok := d.alerts[c]
	if !ok {
		return false
	}
	st.Clear()
	return true
}

func (d *Dashboard) Alerts(c events.Category) []events.AlertEvent {
	st, ok := d.alerts[c]
	if !ok {
		return nil
	}
	return st.Snapshot()
}

func (d *Dashboard) Signals() []events.SmartMoneySignal { return d.signals.Snapshot() }

func (d *Dashboard) TickHistory() []events.TickEvent { return d.ticks.HistorySnapshot() }

func (d *Dashboard) LatestTick(symbol string) (events.TickEvent, bool) {
	return d.ticks.LatestFor(symbol)
}

func (d *Dashboard) LatestTicks() map[string]events.TickEvent { return d.ticks.Latest() }

// Counts reports the size of each store, keyed by category name.
func (d *Dashboard) Counts() map[string]int {
	out := make(map[string]int, len(d.alerts)+2)
	for cat, st := range d.alerts {
		out[string(cat)] = st.Len()
	}
	out[string(CategorySmartMoney)] = d.signals.Len()
	out["ticks"] = len(d.ticks.HistorySnapshot())
	return out
}

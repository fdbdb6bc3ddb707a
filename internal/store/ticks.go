package store

import (
	"sync"

	"alert-dashboard/internal/events"
)

// Ticks holds the latest tick per symbol plus a capped history that shows at
// most one entry per symbol, most recently updated first. mu covers both, so a
// reader never sees a current tick whose history entry is missing.
type Ticks struct {
	mu      sync.RWMutex
	latest  map[string]events.TickEvent
	history *Bounded[string, events.TickEvent]
}

func NewTicks(historyCap int) *Ticks {
	return &Ticks{
		latest:  make(map[string]events.TickEvent),
		history: NewBounded(historyCap, func(t events.TickEvent) string { return t.Symbol }),
	}
}

// Record overwrites the symbol's current tick (last write wins, no timestamp
// check) and moves it to the front of the history.
func (s *Ticks) Record(t events.TickEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history.Upsert(t)
	s.latest[t.Symbol] = t
}

func (s *Ticks) LatestFor(symbol string) (events.TickEvent, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.latest[symbol]
	return t, ok
}

// Latest returns a copy of the current-per-symbol map.
func (s *Ticks) Latest() map[string]events.TickEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]events.TickEvent, len(s.latest))
	for k, v := range s.latest {
		out[k] = v
	}
	return out
}

func (s *Ticks) HistorySnapshot() []events.TickEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.history.Snapshot()
}

func (s *Ticks) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.latest = make(map[string]events.TickEvent)
	s.history.Clear()
}

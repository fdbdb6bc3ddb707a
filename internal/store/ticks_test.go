package store

import (
	"fmt"
	"testing"

	"github.com/shopspring/decimal"

	"alert-dashboard/internal/events"
)

func tick(sym string, px int64) events.TickEvent {
	return events.TickEvent{Symbol: sym, Price: decimal.NewFromInt(px)}
}

func TestTicksHistoryOnePerSymbol(t *testing.T) {
	s := NewTicks(10)
	s.Record(tick("BTCUSDT", 100))
	s.Record(tick("ETHUSDT", 10))
	s.Record(tick("BTCUSDT", 101))

	hist := s.HistorySnapshot()
	if len(hist) != 2 {
		t.Fatalf("history len got %d want 2", len(hist))
	}
	if hist[0].Symbol != "BTCUSDT" || !hist[0].Price.Equal(decimal.NewFromInt(101)) {
		t.Fatalf("front should be fresh BTCUSDT, got %+v", hist[0])
	}
	if hist[1].Symbol != "ETHUSDT" {
		t.Fatalf("second should be ETHUSDT, got %s", hist[1].Symbol)
	}
}

func TestTicksLatestLastWriteWins(t *testing.T) {
	s := NewTicks(10)
	newer := tick("BTCUSDT", 100)
	newer.TimestampMs = 2000
	older := tick("BTCUSDT", 90)
	older.TimestampMs = 1000
	s.Record(newer)
	s.Record(older)

	got, ok := s.LatestFor("BTCUSDT")
	if !ok {
		t.Fatal("missing BTCUSDT")
	}
	if !got.Price.Equal(decimal.NewFromInt(90)) {
		t.Fatalf("last write should win regardless of timestamp, got %s", got.Price)
	}
	if _, ok := s.LatestFor("DOGEUSDT"); ok {
		t.Fatal("unexpected DOGEUSDT")
	}
}

func TestTicksHistoryCapped(t *testing.T) {
	s := NewTicks(2)
	s.Record(tick("A", 1))
	s.Record(tick("B", 1))
	s.Record(tick("C", 1))

	hist := s.HistorySnapshot()
	if len(hist) != 2 || hist[0].Symbol != "C" || hist[1].Symbol != "B" {
		t.Fatalf("unexpected history %+v", hist)
	}
	// the current map is not capped
	if len(s.Latest()) != 3 {
		t.Fatalf("latest len got %d want 3", len(s.Latest()))
	}
}

func TestTicksReadersSeeHistoryWithLatest(t *testing.T) {
	const symbols = 200
	s := NewTicks(symbols)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < symbols; i++ {
			s.Record(tick(fmt.Sprintf("S%03d", i), int64(i)))
		}
	}()

	for {
		select {
		case <-done:
			if got := len(s.HistorySnapshot()); got != symbols {
				t.Fatalf("history len got %d want %d", got, symbols)
			}
			return
		default:
		}
		latest := s.Latest()
		inHistory := make(map[string]bool)
		for _, h := range s.HistorySnapshot() {
			inHistory[h.Symbol] = true
		}
		for sym := range latest {
			if !inHistory[sym] {
				t.Fatalf("%s is current but missing from history", sym)
			}
		}
	}
}

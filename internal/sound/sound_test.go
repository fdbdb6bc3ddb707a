package sound

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"alert-dashboard/internal/events"
)

func TestCuesCooldownPerSymbol(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "ping.mp3")
	if err := os.WriteFile(p, []byte("fake mp3"), 0o644); err != nil {
		t.Fatal(err)
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	c := NewCues(map[string]string{
		"priority":     p,
		"volume_spike": filepath.Join(dir, "missing.mp3"),
	}, time.Second, logger)

	now := time.Now()
	u := c.URLFor(events.CategoryPriority, "btcusdt", now)
	if !strings.HasPrefix(u, "/sounds/ping.mp3?v=") {
		t.Fatalf("unexpected url %q", u)
	}
	if c.URLFor(events.CategoryPriority, "BTCUSDT", now.Add(100*time.Millisecond)) != "" {
		t.Fatal("should be silent within cooldown (case-insensitive symbol)")
	}
	if c.URLFor(events.CategoryPriority, "ETHUSDT", now) == "" {
		t.Fatal("other symbols have their own cooldown")
	}
	if c.URLFor(events.CategoryPriority, "BTCUSDT", now.Add(1100*time.Millisecond)) == "" {
		t.Fatal("should play again after cooldown")
	}
	if c.URLFor(events.CategoryVolumeSpike, "BTCUSDT", now) != "" {
		t.Fatal("missing file must stay silent")
	}
	if path, ok := c.Path("ping.mp3"); !ok || path != p {
		t.Fatalf("path lookup got %q %v", path, ok)
	}
	if len(c.Available()) != 1 {
		t.Fatalf("available got %v", c.Available())
	}
}

package sound

import (
	"crypto/sha1" // #nosec G505 - hashing for cache-busting only
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"alert-dashboard/internal/events"
)

type cue struct {
	path string
	name string
	url  string
}

// Cues maps alert categories to sound files served with a content-hash query
// so browsers can cache them forever. A category plays at most once per
// cooldown for the same symbol.
type Cues struct {
	byCategory map[events.Category]cue
	byName     map[string]cue
	cooldown   time.Duration

	mu       sync.Mutex
	lastPlay map[string]time.Time // key: "category:SYMBOL"
}

// NewCues hashes every configured file. Missing files are skipped with a
// warning; the browser falls back to silence.
func NewCues(files map[string]string, cooldown time.Duration, logger *slog.Logger) *Cues {
	c := &Cues{
		byCategory: make(map[events.Category]cue),
		byName:     make(map[string]cue),
		cooldown:   cooldown,
		lastPlay:   make(map[string]time.Time),
	}
	for cat, path := range files {
		sum, err := hashFile(path)
		if err != nil {
			logger.Warn("sound cue unavailable", slog.String("category", cat), slog.String("err", err.Error()))
			continue
		}
		_, name := filepath.Split(path)
		cu := cue{path: path, name: name, url: fmt.Sprintf("/sounds/%s?v=%s", name, sum)}
		c.byCategory[events.Category(cat)] = cu
		c.byName[name] = cu
	}
	return c
}

func hashFile(path string) (string, error) {
	fi, err := os.Stat(path)
	if err != nil {
		return "", err
	}
	if fi.IsDir() {
		return "", fmt.Errorf("%s is a directory", path)
	}
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	h := sha1.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// URLFor returns the cue for an alert if its category has one and the
// (category, symbol) pair is out of cooldown. An empty string means silence.
func (c *Cues) URLFor(cat events.Category, symbol string, now time.Time) string {
	cu, ok := c.byCategory[cat]
	if !ok {
		return ""
	}
	k := fmt.Sprintf("%s:%s", cat, strings.ToUpper(symbol))
	c.mu.Lock()
	defer c.mu.Unlock()
	last, seen := c.lastPlay[k]
	if seen && now.Sub(last) < c.cooldown {
		return ""
	}
	c.lastPlay[k] = now
	return cu.url
}

// Path resolves a served file name back to its configured path.
func (c *Cues) Path(name string) (string, bool) {
	cu, ok := c.byName[name]
	return cu.path, ok
}

func (c *Cues) Available() map[events.Category]string {
	out := make(map[events.Category]string, len(c.byCategory))
	for cat, cu := range c.byCategory {
		out[cat] = cu.url
	}
	return out
}

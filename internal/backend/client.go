package backend

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"alert-dashboard/internal/events"
)

const maxResponseBytes = 8 << 20

// Client talks to the backend's plain request/response endpoints. None of
// these calls touch the push stream.
type Client struct {
	baseURL string
	httpc   *http.Client
	logger  *slog.Logger
}

type WatchlistEntry struct {
	Symbol string `json:"symbol"`
	Note   string `json:"note,omitempty"`
}

func NewClient(baseURL string, logger *slog.Logger) *Client {
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		httpc:   &http.Client{Timeout: 15 * time.Second},
		logger:  logger,
	}
}

func (c *Client) url(p string) string {
	return fmt.Sprintf("%s%s", c.baseURL, p)
}

func (c *Client) BaseURL() string { return c.baseURL }

// StreamURL maps the REST base onto the push-stream endpoint at path,
// switching http(s) to ws(s).
func (c *Client) StreamURL(path string) (string, error) {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	case "http":
		u.Scheme = "ws"
	default:
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + path
	return u.String(), nil
}

func (c *Client) get(ctx context.Context, p string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url(p), nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("backend unreachable: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("GET %s status %d", p, resp.StatusCode)
	}
	b, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", p, err)
	}
	if !gjson.ValidBytes(b) {
		return nil, fmt.Errorf("GET %s: %w", p, events.ErrMalformed)
	}
	return b, nil
}

// listField accepts either a bare JSON array or an object wrapping it.
func listField(body []byte, field string) []gjson.Result {
	root := gjson.ParseBytes(body)
	if root.IsArray() {
		return root.Array()
	}
	return root.Get(field).Array()
}

// FetchAlerts loads recent alert history, newest first. Entries the decoder
// rejects are skipped.
func (c *Client) FetchAlerts(ctx context.Context, limit int) ([]events.AlertEvent, error) {
	body, err := c.get(ctx, "/api/alerts?limit="+strconv.Itoa(limit))
	if err != nil {
		return nil, err
	}
	rows := listField(body, "alerts")
	out := make([]events.AlertEvent, 0, len(rows))
	for _, r := range rows {
		a, err := events.DecodeAlert([]byte(r.Raw))
		if err != nil {
			c.logger.Debug("skip history alert", slog.String("err", err.Error()))
			continue
		}
		out = append(out, a)
	}
	return out, nil
}

// ClearAlerts asks the backend to drop one category's history.
func (c *Client) ClearAlerts(ctx context.Context, cat events.Category) error {
	if !cat.Valid() {
		return fmt.Errorf("clear: %w: %q", events.ErrUnknownKind, cat)
	}
	q := url.Values{"alert_type": {string(cat)}}
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.url("/api/alerts?"+q.Encode()), nil)
	if err != nil {
		return err
	}
	resp, err := c.httpc.Do(req)
	if err != nil {
		return fmt.Errorf("backend unreachable: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("clear %s status %d", cat, resp.StatusCode)
	}
	return nil
}

func (c *Client) FetchWatchlist(ctx context.Context) ([]WatchlistEntry, error) {
	body, err := c.get(ctx, "/api/watchlist")
	if err != nil {
		return nil, err
	}
	rows := listField(body, "watchlist")
	out := make([]WatchlistEntry, 0, len(rows))
	for _, r := range rows {
		sym := strings.ToUpper(strings.TrimSpace(r.Get("symbol").String()))
		if sym == "" {
			continue
		}
		out = append(out, WatchlistEntry{Symbol: sym, Note: r.Get("note").String()})
	}
	if len(rows) > 0 && len(out) == 0 {
		return nil, errors.New("watchlist entries carry no symbols")
	}
	return out, nil
}

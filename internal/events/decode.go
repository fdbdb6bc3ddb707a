package events

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/tidwall/gjson"
)

// Kind classifies an inbound envelope by its "type" discriminant.
type Kind int

const (
	KindUnknown Kind = iota
	KindAlert
	KindTick
	KindStatus
	KindWatchlist
)

func (k Kind) String() string {
	switch k {
	case KindAlert:
		return "new_alert"
	case KindTick:
		return "kline_update"
	case KindStatus:
		return "connection_status"
	case KindWatchlist:
		return "watchlist_updated"
	default:
		return "unknown"
	}
}

var (
	ErrMalformed    = errors.New("malformed payload")
	ErrUnknownKind  = errors.New("unknown event kind")
	ErrMissingField = errors.New("missing required field")
)

// Event is the decoded form of one inbound message. Only the field matching
// Kind is populated.
type Event struct {
	Kind   Kind
	Alert  AlertEvent
	Tick   TickEvent
	Status string
}

// Decode classifies a raw message. It has no side effects; callers decide
// whether to log or count the returned error.
func Decode(raw []byte) (Event, error) {
	if !gjson.ValidBytes(raw) {
		return Event{}, ErrMalformed
	}
	root := gjson.ParseBytes(raw)
	if !root.IsObject() {
		return Event{}, fmt.Errorf("%w: not an object", ErrMalformed)
	}

	switch typ := root.Get("type").String(); typ {
	case "new_alert":
		return decodeAlert(root.Get("alert"))
	case "kline_update":
		return decodeTick(root)
	case "connection_status":
		st := root.Get("status")
		if !st.Exists() {
			return Event{}, fmt.Errorf("%w: status", ErrMissingField)
		}
		return Event{Kind: KindStatus, Status: st.String()}, nil
	case "watchlist_updated":
		return Event{Kind: KindWatchlist}, nil
	default:
		return Event{}, fmt.Errorf("%w: %q", ErrUnknownKind, typ)
	}
}

func decodeAlert(res gjson.Result) (Event, error) {
	if !res.IsObject() {
		return Event{}, fmt.Errorf("%w: alert", ErrMissingField)
	}
	a, err := DecodeAlert([]byte(res.Raw))
	if err != nil {
		return Event{}, err
	}
	return Event{Kind: KindAlert, Alert: a}, nil
}

// DecodeAlert parses a bare alert object, as found inside a new_alert envelope
// or in the history endpoint's response.
func DecodeAlert(raw []byte) (AlertEvent, error) {
	var w alertWire
	if err := json.Unmarshal(raw, &w); err != nil {
		return AlertEvent{}, fmt.Errorf("%w: alert: %v", ErrMalformed, err)
	}
	a := w.AlertEvent
	a.Imbalance = decodeImbalance(w.Imbalance)
	if !a.Category.Valid() {
		return AlertEvent{}, fmt.Errorf("%w: alert_type %q", ErrUnknownKind, a.Category)
	}
	if !gjson.GetBytes(raw, "id").Exists() {
		return AlertEvent{}, fmt.Errorf("%w: alert.id", ErrMissingField)
	}
	a.Symbol = canonSymbol(a.Symbol)
	if a.Symbol == "" {
		return AlertEvent{}, fmt.Errorf("%w: alert.symbol", ErrMissingField)
	}
	return a, nil
}

// alertWire defers the imbalance so a bad sub-record costs only the signal,
// not the alert.
type alertWire struct {
	AlertEvent
	Imbalance json.RawMessage `json:"imbalance"`
}

func decodeImbalance(raw json.RawMessage) *Imbalance {
	if len(raw) == 0 || !gjson.ParseBytes(raw).IsObject() {
		return nil
	}
	var im Imbalance
	if err := json.Unmarshal(raw, &im); err != nil {
		return nil
	}
	return &im
}

func decodeTick(root gjson.Result) (Event, error) {
	sym := canonSymbol(root.Get("symbol").String())
	if sym == "" {
		return Event{}, fmt.Errorf("%w: symbol", ErrMissingField)
	}
	data := root.Get("data")
	if !data.IsObject() {
		return Event{}, fmt.Errorf("%w: data", ErrMissingField)
	}
	closePx, err := decimalField(data, "close")
	if err != nil {
		return Event{}, err
	}
	openPx, err := decimalField(data, "open")
	if err != nil {
		return Event{}, err
	}
	vol, err := decimalField(data, "volume")
	if err != nil {
		return Event{}, err
	}
	return Event{Kind: KindTick, Tick: TickEvent{
		Symbol:      sym,
		Price:       closePx,
		Volume:      vol,
		VolumeUSDT:  vol.Mul(closePx),
		IsLong:      closePx.GreaterThan(openPx),
		TimestampMs: root.Get("timestamp").Int(),
	}}, nil
}

// decimalField accepts both quoted ("100.5") and bare (100.5) numbers.
func decimalField(obj gjson.Result, name string) (decimal.Decimal, error) {
	r := obj.Get(name)
	if !r.Exists() {
		return decimal.Zero, fmt.Errorf("%w: data.%s", ErrMissingField, name)
	}
	d, err := decimal.NewFromString(r.String())
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: data.%s: %v", ErrMalformed, name, err)
	}
	return d, nil
}

func canonSymbol(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}

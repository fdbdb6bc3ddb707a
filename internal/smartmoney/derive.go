// Package smartmoney turns imbalance data embedded in alerts into standalone
// smart-money signals.
package smartmoney

import (
	"strings"
	"sync/atomic"

	"alert-dashboard/internal/events"
)

// Deriver assigns each signal a process-unique id from a counter, so two
// alerts in the same millisecond still get distinct signals.
type Deriver struct {
	seq atomic.Uint64
}

func NewDeriver() *Deriver { return &Deriver{} }

// Derive returns a signal when a carries a usable imbalance. Inverted bounds
// (top below bottom) yield no signal rather than an error. The only state
// touched is the id counter.
func (d *Deriver) Derive(a events.AlertEvent) (events.SmartMoneySignal, bool) {
	imb := a.Imbalance
	if imb == nil {
		return events.SmartMoneySignal{}, false
	}
	if !imb.Top.IsZero() && !imb.Bottom.IsZero() && imb.Top.LessThan(imb.Bottom) {
		return events.SmartMoneySignal{}, false
	}
	return events.SmartMoneySignal{
		ID:             d.seq.Add(1),
		Symbol:         a.Symbol,
		Type:           imb.Type,
		Direction:      strings.ToLower(strings.TrimSpace(imb.Direction)),
		Strength:       imb.Strength,
		Top:            imb.Top,
		Bottom:         imb.Bottom,
		Price:          a.Price,
		TimestampMs:    a.TimestampMs,
		SourceAlertID:  a.ID,
		SourceCategory: a.Category,
	}, true
}

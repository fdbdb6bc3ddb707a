package events

import (
	"github.com/shopspring/decimal"
)

// Category is the server-side classification of an alert. Each category has
// its own bounded store and its own id space.
type Category string

const (
	CategoryVolumeSpike     Category = "volume_spike"
	CategoryConsecutiveLong Category = "consecutive_long"
	CategoryPriority        Category = "priority"
)

// Categories lists the alert categories in display order.
var Categories = []Category{CategoryVolumeSpike, CategoryConsecutiveLong, CategoryPriority}

func (c Category) Valid() bool {
	switch c {
	case CategoryVolumeSpike, CategoryConsecutiveLong, CategoryPriority:
		return true
	}
	return false
}

type Imbalance struct {
	Type      string          `json:"type"`
	Direction string          `json:"direction"` // "bullish" or "bearish" as sent by the backend
	Top       decimal.Decimal `json:"top"`
	Bottom    decimal.Decimal `json:"bottom"`
	Strength  float64         `json:"strength"`
}

// AlertEvent is one detection pushed by the backend. ID is unique only within
// its Category.
type AlertEvent struct {
	ID               int64           `json:"id"`
	Category         Category        `json:"alert_type"`
	Symbol           string          `json:"symbol"`
	Price            decimal.Decimal `json:"price"`
	TimestampMs      int64           `json:"timestamp"`
	CloseTimestampMs *int64          `json:"close_timestamp,omitempty"`
	VolumeRatio      *float64        `json:"volume_ratio,omitempty"`
	ConsecutiveCount *int            `json:"consecutive_count,omitempty"`
	Message          string          `json:"message,omitempty"`
	Imbalance        *Imbalance      `json:"imbalance,omitempty"`
}

// DisplayTimeMs prefers the candle close time when the backend sent one.
func (a AlertEvent) DisplayTimeMs() int64 {
	if a.CloseTimestampMs != nil && *a.CloseTimestampMs > 0 {
		return *a.CloseTimestampMs
	}
	return a.TimestampMs
}

// SmartMoneySignal is derived client-side from an alert's imbalance. Its ID is
// assigned locally and never reused; SourceAlertID is informational only.
type SmartMoneySignal struct {
	ID             uint64          `json:"id"`
	Symbol         string          `json:"symbol"`
	Type           string          `json:"type"`
	Direction      string          `json:"direction"`
	Strength       float64         `json:"strength"`
	Top            decimal.Decimal `json:"top"`
	Bottom         decimal.Decimal `json:"bottom"`
	Price          decimal.Decimal `json:"price"`
	TimestampMs    int64           `json:"timestamp"`
	SourceAlertID  int64           `json:"sourceAlertId"`
	SourceCategory Category        `json:"sourceCategory"`
}

type TickEvent struct {
	Symbol      string          `json:"symbol"`
	Price       decimal.Decimal `json:"price"`
	Volume      decimal.Decimal `json:"volume"`
	VolumeUSDT  decimal.Decimal `json:"volumeUsdt"` // volume * price
	IsLong      bool            `json:"isLong"`     // close > open
	TimestampMs int64           `json:"timestamp"`
}

// ConnectionState is owned by the connection manager; everything else only reads it.
type ConnectionState int32

const (
	StateDisconnected ConnectionState = iota
	StateConnecting
	StateConnected
)

func (s ConnectionState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "disconnected"
	}
}

func (s ConnectionState) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

package models

import "time"

// PriceSample is one snapshot of the four gas price tiers.
type PriceSample struct {
	ID        int64     `db:"id"`
	Instant   float64   `db:"instant"`
	Fast      float64   `db:"fast"`
	Standard  float64   `db:"standard"`
	Slow      float64   `db:"slow"`
	CreatedAt time.Time `db:"created_at"`
}

// OHLC holds open/close/low/high values of a single tier.
type OHLC struct {
	Open  float64 `json:"open"`
	Close float64 `json:"close"`
	Low   float64 `json:"low"`
	High  float64 `json:"high"`
}

// Candle is an aggregated bucket of price samples.
type Candle struct {
	Timestamp time.Time `json:"timestamp"`
	Samples   int       `json:"samples"`
	Instant   OHLC      `json:"instant"`
	Fast      OHLC      `json:"fast"`
	Standard  OHLC      `json:"standard"`
	Slow      OHLC      `json:"slow"`
}

// CandleQuery selects a page of candles inside [From, To].
type CandleQuery struct {
	From      time.Time
	To        time.Time
	Timeframe time.Duration
	Limit     int
	Offset    int
}

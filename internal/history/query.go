package history

import (
	"math"
	"net/url"
	"strconv"
	"time"

	"gas_oracle/internal/models"
)

const (
	// MaxCandles caps a single page of candles.
	MaxCandles = 1000

	defaultTimeframe = 30 * time.Minute
)

// timeframes maps the accepted names to bucket widths. The minute counts
// ("10", "30", ... "1440") are accepted too.
var timeframes = map[string]time.Duration{
	"10m": 10 * time.Minute,
	"30m": 30 * time.Minute,
	"1h":  time.Hour,
	"2h":  2 * time.Hour,
	"4h":  4 * time.Hour,
	"1d":  24 * time.Hour,
}

// ParseTimeframe resolves a timeframe name or minute count, falling back to 30m.
func ParseTimeframe(raw string) time.Duration {
	if d, ok := timeframes[raw]; ok {
		return d
	}
	if m, err := strconv.Atoi(raw); err == nil {
		d := time.Duration(m) * time.Minute
		for _, tf := range timeframes {
			if tf == d {
				return d
			}
		}
	}
	return defaultTimeframe
}

// ParseQuery builds a candle query from /history parameters. Invalid values fall
// back to their defaults instead of failing the request.
func ParseQuery(values url.Values, now time.Time) models.CandleQuery {
	q := models.CandleQuery{
		Timeframe: ParseTimeframe(values.Get("timeframe")),
		Limit:     MaxCandles,
		From:      time.Unix(0, 0).UTC(),
		To:        now.UTC(),
	}

	if n, err := strconv.Atoi(values.Get("candles")); err == nil {
		q.Limit = min(max(n, 1), MaxCandles)
	}
	if page, err := strconv.Atoi(values.Get("page")); err == nil && page > 1 {
		// Offsets stay below 2^31 so the product cannot overflow.
		page = min(page-1, math.MaxInt32/q.Limit)
		q.Offset = page * q.Limit
	}
	if t, ok := parseUnix(values.Get("from")); ok {
		q.From = t
	}
	if t, ok := parseUnix(values.Get("to")); ok {
		q.To = t
	}
	return q
}

// parseUnix accepts unix seconds with an optional fraction.
func parseUnix(raw string) (time.Time, bool) {
	if raw == "" {
		return time.Time{}, false
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return time.Time{}, false
	}
	sec, frac := math.Modf(f)
	return time.Unix(int64(sec), int64(frac*1e9)).UTC(), true
}

package models

import (
	"sort"
	"time"
)

// AggregateCandles buckets samples by floor(unix / timeframe) and returns the
// page of candles selected by q, most recent first. Samples outside [From, To]
// are ignored. Open and close come from the lowest and highest sample ID.
func AggregateCandles(samples []PriceSample, q CandleQuery) []Candle {
	step := int64(q.Timeframe / time.Second)
	if step <= 0 {
		return nil
	}

	type bucket struct {
		first, last PriceSample
		candle      Candle
	}
	buckets := make(map[int64]*bucket)

	for _, s := range samples {
		if s.CreatedAt.Before(q.From) || s.CreatedAt.After(q.To) {
			continue
		}

		idx := floorDiv(s.CreatedAt.Unix(), step)
		b, ok := buckets[idx]
		if !ok {
			b = &bucket{
				first: s,
				last:  s,
				candle: Candle{
					Timestamp: s.CreatedAt,
					Instant:   OHLC{Low: s.Instant, High: s.Instant},
					Fast:      OHLC{Low: s.Fast, High: s.Fast},
					Standard:  OHLC{Low: s.Standard, High: s.Standard},
					Slow:      OHLC{Low: s.Slow, High: s.Slow},
				},
			}
			buckets[idx] = b
		}

		b.candle.Samples++
		if s.CreatedAt.Before(b.candle.Timestamp) {
			b.candle.Timestamp = s.CreatedAt
		}
		if s.ID < b.first.ID {
			b.first = s
		}
		if s.ID > b.last.ID {
			b.last = s
		}
		widen(&b.candle.Instant, s.Instant)
		widen(&b.candle.Fast, s.Fast)
		widen(&b.candle.Standard, s.Standard)
		widen(&b.candle.Slow, s.Slow)
	}

	candles := make([]Candle, 0, len(buckets))
	for _, b := range buckets {
		c := b.candle
		c.Instant.Open, c.Instant.Close = b.first.Instant, b.last.Instant
		c.Fast.Open, c.Fast.Close = b.first.Fast, b.last.Fast
		c.Standard.Open, c.Standard.Close = b.first.Standard, b.last.Standard
		c.Slow.Open, c.Slow.Close = b.first.Slow, b.last.Slow
		candles = append(candles, c)
	}

	sort.Slice(candles, func(i, j int) bool {
		return candles[i].Timestamp.After(candles[j].Timestamp)
	})

	if q.Offset < 0 || q.Offset >= len(candles) {
		return []Candle{}
	}
	candles = candles[q.Offset:]
	if q.Limit > 0 && q.Limit < len(candles) {
		candles = candles[:q.Limit]
	}
	return candles
}

func widen(o *OHLC, v float64) {
	if v < o.Low {
		o.Low = v
	}
	if v > o.High {
		o.High = v
	}
}

func floorDiv(a, b int64) int64 {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}

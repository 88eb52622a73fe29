package storage

import (
	"context"
	"fmt"
	"time"

	"gas_oracle/internal/models"
)

// HistoryRepository stores raw price samples and aggregates them into candles
type HistoryRepository struct {
	db *DB
}

// NewHistoryRepository creates a new price history repository
func NewHistoryRepository(db *DB) *HistoryRepository {
	return &HistoryRepository{db: db}
}

// InsertSample appends a price sample
func (r *HistoryRepository) InsertSample(ctx context.Context, s *models.PriceSample) error {
	query := `
		INSERT INTO price_history (instant, fast, standard, slow)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at
	`

	err := r.db.withWriteRetry(ctx, func(ctx context.Context) error {
		return r.db.conn.QueryRowContext(ctx, query, s.Instant, s.Fast, s.Standard, s.Slow).
			Scan(&s.ID, &s.CreatedAt)
	})
	if err != nil {
		return fmt.Errorf("failed to insert price sample: %w", err)
	}

	return nil
}

type candleRow struct {
	Timestamp time.Time `db:"bucket_ts"`
	Samples   int       `db:"samples"`

	InstantOpen  float64 `db:"instant_open"`
	InstantClose float64 `db:"instant_close"`
	InstantLow   float64 `db:"instant_low"`
	InstantHigh  float64 `db:"instant_high"`

	FastOpen  float64 `db:"fast_open"`
	FastClose float64 `db:"fast_close"`
	FastLow   float64 `db:"fast_low"`
	FastHigh  float64 `db:"fast_high"`

	StandardOpen  float64 `db:"standard_open"`
	StandardClose float64 `db:"standard_close"`
	StandardLow   float64 `db:"standard_low"`
	StandardHigh  float64 `db:"standard_high"`

	SlowOpen  float64 `db:"slow_open"`
	SlowClose float64 `db:"slow_close"`
	SlowLow   float64 `db:"slow_low"`
	SlowHigh  float64 `db:"slow_high"`
}

func (c candleRow) toModel() models.Candle {
	return models.Candle{
		Timestamp: c.Timestamp,
		Samples:   c.Samples,
		Instant:   models.OHLC{Open: c.InstantOpen, Close: c.InstantClose, Low: c.InstantLow, High: c.InstantHigh},
		Fast:      models.OHLC{Open: c.FastOpen, Close: c.FastClose, Low: c.FastLow, High: c.FastHigh},
		Standard:  models.OHLC{Open: c.StandardOpen, Close: c.StandardClose, Low: c.StandardLow, High: c.StandardHigh},
		Slow:      models.OHLC{Open: c.SlowOpen, Close: c.SlowClose, Low: c.SlowLow, High: c.SlowHigh},
	}
}

// Open and close are taken from the lowest and highest row id in each bucket.
const candlesQuery = `
	SELECT
		MIN(created_at) AS bucket_ts,
		COUNT(*)        AS samples,
		(array_agg(instant ORDER BY id ASC))[1]   AS instant_open,
		(array_agg(instant ORDER BY id DESC))[1]  AS instant_close,
		MIN(instant) AS instant_low,
		MAX(instant) AS instant_high,
		(array_agg(fast ORDER BY id ASC))[1]      AS fast_open,
		(array_agg(fast ORDER BY id DESC))[1]     AS fast_close,
		MIN(fast) AS fast_low,
		MAX(fast) AS fast_high,
		(array_agg(standard ORDER BY id ASC))[1]  AS standard_open,
		(array_agg(standard ORDER BY id DESC))[1] AS standard_close,
		MIN(standard) AS standard_low,
		MAX(standard) AS standard_high,
		(array_agg(slow ORDER BY id ASC))[1]      AS slow_open,
		(array_agg(slow ORDER BY id DESC))[1]     AS slow_close,
		MIN(slow) AS slow_low,
		MAX(slow) AS slow_high
	FROM price_history
	WHERE created_at BETWEEN $1 AND $2
	GROUP BY FLOOR(EXTRACT(EPOCH FROM created_at) / $3::numeric)
	ORDER BY bucket_ts DESC
	LIMIT $4 OFFSET $5
`

// Candles aggregates samples into OHLC buckets, most recent first
func (r *HistoryRepository) Candles(ctx context.Context, q models.CandleQuery) ([]models.Candle, error) {
	var rows []candleRow
	err := r.db.withRetry(ctx, func(ctx context.Context) error {
		rows = nil
		return r.db.conn.SelectContext(ctx, &rows, candlesQuery,
			q.From, q.To, int64(q.Timeframe/time.Second), q.Limit, q.Offset)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to query candles: %w", err)
	}

	candles := make([]models.Candle, 0, len(rows))
	for _, row := range rows {
		candles = append(candles, row.toModel())
	}

	return candles, nil
}

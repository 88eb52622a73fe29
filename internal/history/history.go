// Package history records periodic gas price samples and serves them back as candles.
package history

import (
	"context"
	"errors"
	"fmt"

	"gas_oracle/internal/apperr"
	"gas_oracle/internal/logging"
	"gas_oracle/internal/metrics"
	"gas_oracle/internal/models"
	"gas_oracle/internal/oracle"
)

// Repository persists samples and aggregates them.
type Repository interface {
	InsertSample(ctx context.Context, s *models.PriceSample) error
	Candles(ctx context.Context, q models.CandleQuery) ([]models.Candle, error)
}

// Recorder snapshots the oracle into the history table.
type Recorder struct {
	source  oracle.Source
	repo    Repository
	metrics metrics.Metrics
	logger  *logging.Logger
}

// NewRecorder creates a recorder reading from source.
func NewRecorder(source oracle.Source, repo Repository, m metrics.Metrics, logger *logging.Logger) *Recorder {
	if m == nil {
		m = metrics.NewNoopMetrics()
	}
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &Recorder{source: source, repo: repo, metrics: m, logger: logger}
}

// Record stores one sample. A restarting oracle is skipped without error so the
// next tick simply tries again.
func (r *Recorder) Record(ctx context.Context) error {
	reading, err := r.source.Fetch(ctx)
	if err != nil {
		if errors.Is(err, oracle.ErrRestarting) {
			r.logger.Debug("oracle restarting, sample skipped")
			return nil
		}
		return fmt.Errorf("fetch reading: %w", err)
	}
	if !reading.Ready() {
		return nil
	}

	sample := &models.PriceSample{
		Instant:  reading.Fastest,
		Fast:     reading.Fast,
		Standard: reading.Standard,
		Slow:     reading.SafeLow,
	}
	if err := r.repo.InsertSample(ctx, sample); err != nil {
		return fmt.Errorf("insert sample: %w", err)
	}

	r.metrics.SampleRecorded()
	r.logger.Debug("price sample recorded", "id", sample.ID, "standard", sample.Standard)
	return nil
}

// Candles returns a page of candles, tagging storage failures for the HTTP layer.
func Candles(ctx context.Context, repo Repository, q models.CandleQuery) ([]models.Candle, error) {
	candles, err := repo.Candles(ctx, q)
	if err != nil {
		return nil, apperr.Internal("Error while retrieving price history information from database.", err)
	}
	if candles == nil {
		candles = []models.Candle{}
	}
	return candles, nil
}

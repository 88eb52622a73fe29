package history

import (
	"context"
	"errors"
	"math"
	"net/url"
	"strconv"
	"testing"
	"time"

	"gas_oracle/internal/apperr"
	"gas_oracle/internal/models"
	"gas_oracle/internal/oracle"
	"gas_oracle/internal/storage/memstore"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticSource struct {
	reading *oracle.Reading
	err     error
}

func (s staticSource) Fetch(context.Context) (*oracle.Reading, error) {
	return s.reading, s.err
}

type brokenRepo struct{}

func (brokenRepo) InsertSample(context.Context, *models.PriceSample) error {
	return errors.New("connection refused")
}

func (brokenRepo) Candles(context.Context, models.CandleQuery) ([]models.Candle, error) {
	return nil, errors.New("connection refused")
}

func TestRecorderRecord(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	src := staticSource{reading: &oracle.Reading{SafeLow: 30, Standard: 35, Fast: 40, Fastest: 55}}

	rec := NewRecorder(src, store, nil, nil)
	require.NoError(t, rec.Record(ctx))

	candles, err := store.Candles(ctx, models.CandleQuery{
		From:      time.Unix(0, 0),
		To:        time.Now().Add(time.Minute),
		Timeframe: time.Hour,
		Limit:     10,
	})
	require.NoError(t, err)
	require.Len(t, candles, 1)
	assert.Equal(t, 55.0, candles[0].Instant.Open)
	assert.Equal(t, 40.0, candles[0].Fast.Open)
	assert.Equal(t, 35.0, candles[0].Standard.Open)
	assert.Equal(t, 30.0, candles[0].Slow.Open)
}

func TestRecorderSkipsRestartingOracle(t *testing.T) {
	store := memstore.New()
	src := staticSource{err: apperr.New(apperr.KindInternal, "Oracle is restarting", oracle.ErrRestarting)}

	require.NoError(t, NewRecorder(src, store, nil, nil).Record(context.Background()))

	candles, _ := store.Candles(context.Background(), models.CandleQuery{To: time.Now(), Timeframe: time.Hour, Limit: 1})
	assert.Empty(t, candles)
}

func TestRecorderErrors(t *testing.T) {
	ctx := context.Background()

	err := NewRecorder(staticSource{err: errors.New("dial tcp")}, memstore.New(), nil, nil).Record(ctx)
	assert.Error(t, err)

	src := staticSource{reading: &oracle.Reading{Standard: 1}}
	err = NewRecorder(src, brokenRepo{}, nil, nil).Record(ctx)
	assert.ErrorContains(t, err, "insert sample")
}

func TestCandlesTagsStorageErrors(t *testing.T) {
	_, err := Candles(context.Background(), brokenRepo{}, models.CandleQuery{})
	require.Error(t, err)
	assert.Equal(t, apperr.KindInternal, apperr.KindOf(err))

	got, err := Candles(context.Background(), memstore.New(), models.CandleQuery{Timeframe: time.Hour})
	require.NoError(t, err)
	assert.NotNil(t, got)
	assert.Empty(t, got)
}

func TestParseTimeframe(t *testing.T) {
	tests := []struct {
		raw  string
		want time.Duration
	}{
		{"10m", 10 * time.Minute},
		{"1h", time.Hour},
		{"1d", 24 * time.Hour},
		{"240", 4 * time.Hour},
		{"45", 30 * time.Minute},
		{"", 30 * time.Minute},
		{"week", 30 * time.Minute},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseTimeframe(tt.raw))
		})
	}
}

func TestParseQuery(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	t.Run("defaults", func(t *testing.T) {
		q := ParseQuery(url.Values{}, now)
		assert.Equal(t, 30*time.Minute, q.Timeframe)
		assert.Equal(t, MaxCandles, q.Limit)
		assert.Equal(t, 0, q.Offset)
		assert.Equal(t, int64(0), q.From.Unix())
		assert.Equal(t, now, q.To)
	})

	t.Run("paging", func(t *testing.T) {
		q := ParseQuery(url.Values{"candles": {"50"}, "page": {"3"}, "timeframe": {"2h"}}, now)
		assert.Equal(t, 50, q.Limit)
		assert.Equal(t, 100, q.Offset)
		assert.Equal(t, 2*time.Hour, q.Timeframe)
	})

	t.Run("clamps candles", func(t *testing.T) {
		assert.Equal(t, MaxCandles, ParseQuery(url.Values{"candles": {"5000"}}, now).Limit)
		assert.Equal(t, 1, ParseQuery(url.Values{"candles": {"-4"}}, now).Limit)
		assert.Equal(t, MaxCandles, ParseQuery(url.Values{"candles": {"lots"}}, now).Limit)
	})

	t.Run("range", func(t *testing.T) {
		q := ParseQuery(url.Values{"from": {"1700000000"}, "to": {"1700003600.5"}}, now)
		assert.Equal(t, int64(1700000000), q.From.Unix())
		assert.Equal(t, int64(1700003600), q.To.Unix())
		assert.Equal(t, 500*time.Millisecond, time.Duration(q.To.Nanosecond()))
	})

	t.Run("garbage range falls back", func(t *testing.T) {
		q := ParseQuery(url.Values{"from": {"yesterday"}, "page": {"0"}}, now)
		assert.Equal(t, int64(0), q.From.Unix())
		assert.Equal(t, 0, q.Offset)
	})

	t.Run("huge page stays a valid offset", func(t *testing.T) {
		for _, page := range []string{"9300000000000000", strconv.Itoa(math.MaxInt)} {
			q := ParseQuery(url.Values{"page": {page}}, now)
			assert.Positive(t, q.Offset, page)
			assert.Zero(t, q.Offset%q.Limit, page)
		}

		q := ParseQuery(url.Values{"page": {"9300000000000000"}, "candles": {"1"}}, now)
		assert.Equal(t, math.MaxInt32, q.Offset)
	})
}

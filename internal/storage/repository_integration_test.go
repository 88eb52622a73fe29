package storage

import (
	"context"
	"math"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gas_oracle/internal/models"
)

func getTestDatabaseURL() string {
	return os.Getenv("DATABASE_URL")
}

func skipIfNoDatabase(t *testing.T) {
	t.Helper()
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}
	if getTestDatabaseURL() == "" {
		t.Skip("DATABASE_URL not set, skipping integration test")
	}
}

// setupTestDB connects, migrates and empties every table
func setupTestDB(t *testing.T) *DB {
	t.Helper()

	cfg := DefaultDBConfig()
	cfg.DSN = getTestDatabaseURL()
	cfg.MaxOpenConns = 5
	cfg.RetryAttempts = 1
	cfg.RetryDelay = 100 * time.Millisecond

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	db, err := NewDB(ctx, cfg)
	require.NoError(t, err)
	require.NoError(t, db.Migrate(ctx))

	_, err = db.Conn().ExecContext(ctx, `TRUNCATE credit_recharges, api_requests, price_history, api_keys`)
	require.NoError(t, err)

	t.Cleanup(func() { db.Close() })
	return db
}

func newTestKey(peek string) *models.APIKey {
	return &models.APIKey{
		KeyHash:    "hash-" + uuid.NewString(),
		SecretHash: "secret-" + uuid.NewString(),
		Peek:       peek,
		Wallet:     "0x" + uuid.NewString()[:8],
		WalletKey:  "sealed",
	}
}

func TestAPIKeyRepository_Integration(t *testing.T) {
	skipIfNoDatabase(t)
	db := setupTestDB(t)
	repo := NewAPIKeyRepository(db)
	ctx := context.Background()

	a := newTestKey("abcd")
	b := newTestKey("abcd")
	c := newTestKey("ffff")
	for _, k := range []*models.APIKey{a, b, c} {
		require.NoError(t, repo.Create(ctx, k))
		assert.False(t, k.CreatedAt.IsZero())
	}

	t.Run("list by peek returns every collision", func(t *testing.T) {
		keys, err := repo.ListByPeek(ctx, "abcd")
		require.NoError(t, err)
		assert.Len(t, keys, 2)
	})

	t.Run("get by id", func(t *testing.T) {
		got, err := repo.GetByID(ctx, c.ID)
		require.NoError(t, err)
		assert.Equal(t, c.Wallet, got.Wallet)

		_, err = repo.GetByID(ctx, uuid.New())
		assert.ErrorIs(t, err, ErrAPIKeyNotFound)
	})

	t.Run("partial update", func(t *testing.T) {
		origin := "example.com"
		require.NoError(t, repo.Update(ctx, a.ID, models.APIKeyUpdate{Origin: &origin}))

		got, err := repo.GetByID(ctx, a.ID)
		require.NoError(t, err)
		require.NotNil(t, got.Origin)
		assert.Equal(t, origin, *got.Origin)
		assert.Nil(t, got.Note)
		assert.Equal(t, a.KeyHash, got.KeyHash)

		assert.ErrorIs(t, repo.Update(ctx, a.ID, models.APIKeyUpdate{}), ErrNoFieldsToUpdate)
		assert.ErrorIs(t, repo.Update(ctx, uuid.New(), models.APIKeyUpdate{Origin: &origin}), ErrAPIKeyNotFound)
	})

	t.Run("adjust credit may go negative", func(t *testing.T) {
		credit, err := repo.AdjustCredit(ctx, b.ID, -5)
		require.NoError(t, err)
		assert.EqualValues(t, -5, credit)

		credit, err = repo.AdjustCredit(ctx, b.ID, 12)
		require.NoError(t, err)
		assert.EqualValues(t, 7, credit)
	})

	t.Run("watermark never moves backwards", func(t *testing.T) {
		require.NoError(t, repo.AdvanceWatermark(ctx, c.ID, 100))
		require.NoError(t, repo.AdvanceWatermark(ctx, c.ID, 50))

		got, err := repo.GetByID(ctx, c.ID)
		require.NoError(t, err)
		assert.EqualValues(t, 100, got.BlockChecked)
	})

	t.Run("list all", func(t *testing.T) {
		keys, err := repo.ListAll(ctx)
		require.NoError(t, err)
		assert.Len(t, keys, 3)
	})
}

func TestRequestRepository_Integration(t *testing.T) {
	skipIfNoDatabase(t)
	db := setupTestDB(t)
	keys := NewAPIKeyRepository(db)
	repo := NewRequestRepository(db)
	ctx := context.Background()

	key := newTestKey("0001")
	require.NoError(t, keys.Create(ctx, key))

	ip := "10.1.1.1"
	for i := 0; i < 3; i++ {
		require.NoError(t, repo.Insert(ctx, &models.APIRequest{IP: &ip, APIKeyID: &key.ID, Endpoint: models.EndpointGas}))
	}
	require.NoError(t, repo.Insert(ctx, &models.APIRequest{IP: &ip, Endpoint: models.EndpointGas}))

	hourAgo := time.Now().Add(-time.Hour)

	n, err := repo.CountByIPSince(ctx, ip, hourAgo)
	require.NoError(t, err)
	assert.EqualValues(t, 4, n)

	n, err = repo.CountByKeySince(ctx, key.ID, hourAgo)
	require.NoError(t, err)
	assert.EqualValues(t, 3, n)

	n, err = repo.CountByKeySince(ctx, key.ID, time.Now().Add(time.Minute))
	require.NoError(t, err)
	assert.EqualValues(t, 0, n)

	n, err = repo.CountByIP(ctx, ip)
	require.NoError(t, err)
	assert.EqualValues(t, 4, n)

	n, err = repo.CountByKey(ctx, key.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 3, n)

	logs, err := repo.ListByKeySince(ctx, key.ID, hourAgo)
	require.NoError(t, err)
	require.Len(t, logs, 3)
	assert.False(t, logs[0].CreatedAt.Before(logs[2].CreatedAt))
}

func TestRechargeRepository_Integration(t *testing.T) {
	skipIfNoDatabase(t)
	db := setupTestDB(t)
	keys := NewAPIKeyRepository(db)
	repo := NewRechargeRepository(db)
	ctx := context.Background()

	key := newTestKey("0002")
	require.NoError(t, keys.Create(ctx, key))

	deposit := func() *models.CreditRecharge {
		return &models.CreditRecharge{
			APIKeyID:    key.ID,
			TxHash:      "0xdeadbeef",
			FromWallet:  "0xsender",
			Value:       decimal.RequireFromString("5000000000000000"),
			Credit:      5000,
			BlockNumber: 42,
			CreatedAt:   time.Now().UTC().Truncate(time.Second),
		}
	}

	applied, err := repo.ApplyDeposit(ctx, deposit())
	require.NoError(t, err)
	assert.True(t, applied)

	applied, err = repo.ApplyDeposit(ctx, deposit())
	require.NoError(t, err)
	assert.False(t, applied, "same tx hash must not credit twice")

	got, err := keys.GetByID(ctx, key.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 5000, got.Credit)

	ledger, err := repo.ListByKey(ctx, key.ID)
	require.NoError(t, err)
	require.Len(t, ledger, 1)
	assert.True(t, ledger[0].Value.Equal(decimal.RequireFromString("5000000000000000")))
}

func TestHistoryRepository_Integration(t *testing.T) {
	skipIfNoDatabase(t)
	db := setupTestDB(t)
	repo := NewHistoryRepository(db)
	ctx := context.Background()

	base := time.Now().UTC().Truncate(time.Hour).Add(-2 * time.Hour)
	values := []float64{3, 5, 1, 4}
	for i, v := range values {
		_, err := db.Conn().ExecContext(ctx,
			`INSERT INTO price_history (instant, fast, standard, slow, created_at) VALUES ($1, $1, $1, $1, $2)`,
			v, base.Add(time.Duration(i)*time.Minute))
		require.NoError(t, err)
	}

	q := models.CandleQuery{
		From:      base.Add(-time.Minute),
		To:        time.Now(),
		Timeframe: 10 * time.Minute,
		Limit:     1000,
	}

	candles, err := repo.Candles(ctx, q)
	require.NoError(t, err)
	require.Len(t, candles, 1)

	c := candles[0]
	assert.Equal(t, 4, c.Samples)
	assert.Equal(t, models.OHLC{Open: 3, Close: 4, Low: 1, High: 5}, c.Instant)
	assert.True(t, c.Timestamp.Equal(base))

	again, err := repo.Candles(ctx, q)
	require.NoError(t, err)
	assert.Equal(t, candles, again)

	q.Limit, q.Offset = 1, math.MaxInt32
	beyond, err := repo.Candles(ctx, q)
	require.NoError(t, err)
	assert.Empty(t, beyond)

	sample := &models.PriceSample{Instant: 9, Fast: 8, Standard: 7, Slow: 6}
	require.NoError(t, repo.InsertSample(ctx, sample))
	assert.NotZero(t, sample.ID)
}

package reconcile

import (
	"context"
	"errors"
	"sync"
	"testing"

	"gas_oracle/internal/explorer"
	"gas_oracle/internal/metrics"
	"gas_oracle/internal/models"
	"gas_oracle/internal/storage/memstore"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const wallet = "0xAbC0000000000000000000000000000000000001"

var oneCredit = decimal.New(1, 15) // 0.001 ETH

type fakeExplorer struct {
	mu     sync.Mutex
	head   int64
	txs    []explorer.Transaction
	err    error
	ranges [][2]int64
	// limit truncates each TxList answer like the explorer's result cap.
	limit int
}

func (f *fakeExplorer) BlockNumber(context.Context) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return 0, f.err
	}
	return f.head, nil
}

func (f *fakeExplorer) TxList(_ context.Context, _ string, start, end int64) ([]explorer.Transaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ranges = append(f.ranges, [2]int64{start, end})
	var out []explorer.Transaction
	for _, tx := range f.txs {
		if tx.BlockNumber >= start && tx.BlockNumber <= end {
			out = append(out, tx)
		}
	}
	if f.limit > 0 && len(out) > f.limit {
		out = out[:f.limit]
	}
	return out, nil
}

func deposit(hash string, block int64, credits int64) explorer.Transaction {
	return explorer.Transaction{
		Hash:        hash,
		BlockNumber: block,
		From:        "0xsender",
		To:          "0xabc0000000000000000000000000000000000001",
		Value:       oneCredit.Mul(decimal.NewFromInt(credits)),
	}
}

func setup(t *testing.T, ex *fakeExplorer) (*Reconciler, *memstore.Store, *models.APIKey) {
	t.Helper()
	store := memstore.New()
	key := &models.APIKey{ID: uuid.New(), Peek: "abcd", Wallet: wallet, BlockChecked: 99}
	require.NoError(t, store.Create(context.Background(), key))

	r, err := New(store, store, ex, oneCredit, metrics.NewNoopMetrics(), nil)
	require.NoError(t, err)
	return r, store, key
}

func TestNewRejectsNonPositiveRate(t *testing.T) {
	_, err := New(nil, nil, nil, decimal.Zero, nil, nil)
	assert.Error(t, err)
}

func TestCreditsRoundDown(t *testing.T) {
	r, _, _ := setup(t, &fakeExplorer{})
	assert.Equal(t, int64(2), r.Credits(decimal.RequireFromString("2999999999999999")))
	assert.Equal(t, int64(0), r.Credits(decimal.NewFromInt(1)))
}

func TestReconcileKey(t *testing.T) {
	ctx := context.Background()
	failed := deposit("0xfail", 101, 50)
	failed.Failed = true
	outgoing := deposit("0xout", 102, 50)
	outgoing.To = "0xsomeoneelse"

	ex := &fakeExplorer{
		head: 110,
		txs: []explorer.Transaction{
			deposit("0xold", 90, 1000),
			deposit("0xAAA", 100, 10),
			failed,
			outgoing,
			deposit("0xbbb", 105, 5),
		},
	}
	r, store, key := setup(t, ex)

	res, err := r.ReconcileKey(ctx, key.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(100), res.FromBlock)
	assert.Equal(t, int64(110), res.ToBlock)
	assert.Equal(t, 2, res.Applied)
	assert.Equal(t, int64(15), res.Credited)
	assert.Equal(t, int64(15), res.Balance)

	got, err := store.GetByID(ctx, key.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(110), got.BlockChecked)
	assert.Equal(t, int64(15), got.Credit)

	recharges, err := store.ListByKey(ctx, key.ID)
	require.NoError(t, err)
	require.Len(t, recharges, 2)
	assert.Equal(t, "0xbbb", recharges[0].TxHash)
	assert.Equal(t, "0xaaa", recharges[1].TxHash)
}

func TestReconcileKeySkipsRecordedDeposits(t *testing.T) {
	ctx := context.Background()
	ex := &fakeExplorer{head: 110, txs: []explorer.Transaction{deposit("0x1", 105, 3), deposit("0x2", 106, 4)}}
	r, store, key := setup(t, ex)

	// 0x1 was credited by an earlier pass that failed before moving the watermark.
	applied, err := store.ApplyDeposit(ctx, &models.CreditRecharge{APIKeyID: key.ID, TxHash: "0x1", Credit: 3})
	require.NoError(t, err)
	require.True(t, applied)

	res, err := r.ReconcileKey(ctx, key.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Applied)
	assert.Equal(t, int64(4), res.Credited)

	got, _ := store.GetByID(ctx, key.ID)
	assert.Equal(t, int64(7), got.Credit)
}

func TestReconcileKeyPagesThroughTruncatedLists(t *testing.T) {
	ctx := context.Background()
	ex := &fakeExplorer{
		head:  110,
		limit: 3,
		txs: []explorer.Transaction{
			deposit("0x1", 100, 1),
			deposit("0x2", 101, 2),
			deposit("0x3", 101, 3),
			deposit("0x4", 103, 4),
			deposit("0x5", 105, 5),
		},
	}
	r, store, key := setup(t, ex)
	r.pageSize = 3

	res, err := r.ReconcileKey(ctx, key.ID)
	require.NoError(t, err)
	assert.Equal(t, 5, res.Applied)
	assert.Equal(t, int64(15), res.Credited)
	assert.Equal(t, [][2]int64{{100, 110}, {101, 110}, {103, 110}}, ex.ranges)

	got, _ := store.GetByID(ctx, key.ID)
	assert.Equal(t, int64(110), got.BlockChecked)
	assert.Equal(t, int64(15), got.Credit)
}

func TestReconcileKeyOverfullBlockKeepsWatermark(t *testing.T) {
	ctx := context.Background()
	ex := &fakeExplorer{
		head:  110,
		limit: 2,
		txs:   []explorer.Transaction{deposit("0x1", 100, 1), deposit("0x2", 100, 1), deposit("0x3", 100, 1)},
	}
	r, store, key := setup(t, ex)
	r.pageSize = 2

	_, err := r.ReconcileKey(ctx, key.ID)
	require.Error(t, err)

	got, _ := store.GetByID(ctx, key.ID)
	assert.Equal(t, int64(99), got.BlockChecked, "a truncated range must not be marked as scanned")
}

func TestNewUsesExplorerResultCap(t *testing.T) {
	r, _, _ := setup(t, &fakeExplorer{})
	assert.Equal(t, explorer.MaxResults, r.pageSize)
}

func TestReconcileKeyNothingNew(t *testing.T) {
	ex := &fakeExplorer{head: 99}
	r, _, key := setup(t, ex)

	res, err := r.ReconcileKey(context.Background(), key.ID)
	require.NoError(t, err)
	assert.Zero(t, res.Applied)
	assert.Empty(t, ex.ranges, "no explorer call when the watermark is at the head")
}

func TestReconcileKeyExplorerFailureKeepsWatermark(t *testing.T) {
	ctx := context.Background()
	ex := &fakeExplorer{err: errors.New("rate limited")}
	r, store, key := setup(t, ex)

	_, err := r.ReconcileKey(ctx, key.ID)
	require.Error(t, err)

	got, _ := store.GetByID(ctx, key.ID)
	assert.Equal(t, int64(99), got.BlockChecked)
}

func TestReconcileKeyUnknown(t *testing.T) {
	r, _, _ := setup(t, &fakeExplorer{head: 5})
	_, err := r.ReconcileKey(context.Background(), uuid.New())
	assert.Error(t, err)
}

func TestReconcileAll(t *testing.T) {
	ctx := context.Background()
	ex := &fakeExplorer{head: 200, txs: []explorer.Transaction{deposit("0x1", 150, 7)}}
	r, store, _ := setup(t, ex)

	other := &models.APIKey{ID: uuid.New(), Peek: "zzzz", Wallet: "0xother", BlockChecked: 10}
	require.NoError(t, store.Create(ctx, other))

	sum, err := r.ReconcileAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, sum.Keys)
	assert.Equal(t, 0, sum.Failed)
	assert.Equal(t, 1, sum.Applied)
	assert.Equal(t, int64(7), sum.Credited)

	got, _ := store.GetByID(ctx, other.ID)
	assert.Equal(t, int64(200), got.BlockChecked)
}

func TestReconcileAllEveryKeyFails(t *testing.T) {
	r, _, _ := setup(t, &fakeExplorer{err: errors.New("down")})
	sum, err := r.ReconcileAll(context.Background())
	assert.Error(t, err)
	assert.Equal(t, 1, sum.Failed)
}

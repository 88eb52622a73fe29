package oracle

import (
	"context"
	"encoding/json"
	"errors"
	"math/big"
	"net/http/httptest"
	"testing"

	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeChain struct {
	head   uint64
	blocks map[uint64]BlockSample
	calls  []uint64
	fail   bool
}

func (c *fakeChain) HeadNumber(context.Context) (uint64, error) {
	if c.fail {
		return 0, errors.New("rpc down")
	}
	return c.head, nil
}

func (c *fakeChain) Block(_ context.Context, n uint64) (BlockSample, error) {
	c.calls = append(c.calls, n)
	b, ok := c.blocks[n]
	if !ok {
		return BlockSample{}, errors.New("missing block")
	}
	return b, nil
}

// block n has min price n gwei, blocks 2s apart
func newFakeChain(head uint64) *fakeChain {
	c := &fakeChain{head: head, blocks: make(map[uint64]BlockSample)}
	for n := uint64(1); n <= head+10; n++ {
		c.blocks[n] = BlockSample{Number: n, Timestamp: 1000 + 2*n, TxCount: 1, MinGwei: float64(n)}
	}
	return c
}

func TestEstimator_Reading(t *testing.T) {
	chain := newFakeChain(120)
	e := NewEstimator(chain, 20, nil)

	require.NoError(t, e.Poll(context.Background()))
	assert.Equal(t, uint64(101), chain.calls[0], "first poll loads only the sample window")
	assert.Len(t, chain.calls, 20)

	r := e.Reading()
	require.True(t, r.Ready())
	// prices 101..120; index = int(pct*20/100)-1
	assert.Equal(t, 107.0, r.SafeLow)  // idx 6
	assert.Equal(t, 112.0, r.Standard) // idx 11
	assert.Equal(t, 118.0, r.Fast)     // idx 17
	assert.Equal(t, 120.0, r.Fastest)  // idx 19
	assert.Equal(t, 2.0, r.BlockTime)
	assert.Equal(t, uint64(120), r.BlockNum)

	// new blocks slide the window
	chain.head = 125
	chain.calls = nil
	require.NoError(t, e.Poll(context.Background()))
	assert.Equal(t, []uint64{121, 122, 123, 124, 125}, chain.calls)
	assert.Equal(t, 125.0, e.Reading().Fastest)
	assert.Equal(t, uint64(125), e.Reading().BlockNum)
}

func TestEstimator_NotReadyUntilWindowFull(t *testing.T) {
	chain := newFakeChain(5)
	e := NewEstimator(chain, 20, nil)

	require.NoError(t, e.Poll(context.Background()))
	r := e.Reading()
	assert.False(t, r.Ready())
	assert.Equal(t, uint64(5), r.BlockNum)
}

func TestEstimator_IgnoresEmptyBlocks(t *testing.T) {
	e := NewEstimator(&fakeChain{}, 4, nil)
	e.Record(BlockSample{Number: 1, Timestamp: 10, TxCount: 3, MinGwei: 5})
	e.Record(BlockSample{Number: 2, Timestamp: 12, TxCount: 0, MinGwei: 0})
	e.Record(BlockSample{Number: 3, Timestamp: 14, TxCount: 3, MinGwei: 7})
	e.Record(BlockSample{Number: 4, Timestamp: 16, TxCount: 3, MinGwei: 9})

	r := e.Reading()
	require.True(t, r.Ready())
	assert.Equal(t, 3.0, r.BlockTime)
	assert.Equal(t, 5.0, r.SafeLow)
	assert.Equal(t, 9.0, r.Fastest)
}

func TestEstimator_PollError(t *testing.T) {
	e := NewEstimator(&fakeChain{fail: true}, 4, nil)
	assert.Error(t, e.Poll(context.Background()))
}

func TestEstimator_Handler(t *testing.T) {
	e := NewEstimator(&fakeChain{}, 2, nil)
	e.Record(BlockSample{Number: 1, Timestamp: 10, TxCount: 1, MinGwei: 30})
	e.Record(BlockSample{Number: 2, Timestamp: 12, TxCount: 1, MinGwei: 40})

	rec := httptest.NewRecorder()
	e.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/", nil))
	require.Equal(t, 200, rec.Code)

	var body map[string]float64
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	for _, field := range []string{"safeLow", "standard", "fast", "fastest", "block_time", "blockNum"} {
		assert.Contains(t, body, field)
	}
	assert.Equal(t, 40.0, body["fastest"])

	rec = httptest.NewRecorder()
	e.Handler().ServeHTTP(rec, httptest.NewRequest("POST", "/", nil))
	assert.Equal(t, 405, rec.Code)
}

func gwei(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), big.NewInt(1_000_000_000))
}

func TestMinGasPriceGwei(t *testing.T) {
	legacy := types.NewTx(&types.LegacyTx{GasPrice: gwei(50)})
	dynamicCapped := types.NewTx(&types.DynamicFeeTx{GasTipCap: gwei(30), GasFeeCap: gwei(35)})
	dynamic := types.NewTx(&types.DynamicFeeTx{GasTipCap: gwei(2), GasFeeCap: gwei(100)})

	baseFee := gwei(30)
	assert.Equal(t, 0, EffectiveGasPrice(dynamicCapped, baseFee).Cmp(gwei(35)))
	assert.Equal(t, 0, EffectiveGasPrice(dynamic, baseFee).Cmp(gwei(32)))
	assert.Equal(t, 0, EffectiveGasPrice(legacy, baseFee).Cmp(gwei(50)))

	got, ok := MinGasPriceGwei(types.Transactions{legacy, dynamicCapped, dynamic}, baseFee)
	require.True(t, ok)
	assert.Equal(t, 32.0, got)

	_, ok = MinGasPriceGwei(nil, baseFee)
	assert.False(t, ok)

	fractional := types.NewTx(&types.LegacyTx{GasPrice: big.NewInt(1_500_000_000)})
	got, _ = MinGasPriceGwei(types.Transactions{fractional}, nil)
	assert.Equal(t, 1.5, got)
}

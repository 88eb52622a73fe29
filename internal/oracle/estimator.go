package oracle

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"sort"
	"sync"
	"time"

	"gas_oracle/internal/logging"

	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/shopspring/decimal"
)

// Default estimator settings: 200 sampled blocks, tiers at 35/60/90/100 percent.
var (
	DefaultSampleSize  = 200
	DefaultPercentiles = [4]float64{35, 60, 90, 100}
)

// BlockSample is the per-block summary the estimator works on.
type BlockSample struct {
	Number    uint64
	Timestamp uint64
	TxCount   int
	MinGwei   float64
}

// BlockSource reads chain blocks.
type BlockSource interface {
	HeadNumber(ctx context.Context) (uint64, error)
	Block(ctx context.Context, number uint64) (BlockSample, error)
}

// EthSource reads blocks over JSON-RPC.
type EthSource struct {
	client *ethclient.Client
}

// DialEthSource connects to an RPC node.
func DialEthSource(ctx context.Context, url string) (*EthSource, error) {
	client, err := ethclient.DialContext(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("dial rpc %s: %w", url, err)
	}
	return &EthSource{client: client}, nil
}

func (s *EthSource) Close() {
	s.client.Close()
}

func (s *EthSource) HeadNumber(ctx context.Context) (uint64, error) {
	return s.client.BlockNumber(ctx)
}

func (s *EthSource) Block(ctx context.Context, number uint64) (BlockSample, error) {
	block, err := s.client.BlockByNumber(ctx, new(big.Int).SetUint64(number))
	if err != nil {
		return BlockSample{}, fmt.Errorf("get block %d: %w", number, err)
	}
	txs := block.Transactions()
	minGwei, _ := MinGasPriceGwei(txs, block.BaseFee())
	return BlockSample{
		Number:    block.NumberU64(),
		Timestamp: block.Time(),
		TxCount:   len(txs),
		MinGwei:   minGwei,
	}, nil
}

// EffectiveGasPrice is the price per gas a transaction paid in a block with baseFee.
func EffectiveGasPrice(tx *types.Transaction, baseFee *big.Int) *big.Int {
	if baseFee == nil || tx.Type() == types.LegacyTxType || tx.Type() == types.AccessListTxType {
		return tx.GasPrice()
	}
	price := new(big.Int).Add(baseFee, tx.GasTipCap())
	if price.Cmp(tx.GasFeeCap()) > 0 {
		return new(big.Int).Set(tx.GasFeeCap())
	}
	return price
}

// MinGasPriceGwei returns the lowest effective gas price among txs, in gwei.
func MinGasPriceGwei(txs types.Transactions, baseFee *big.Int) (float64, bool) {
	var lowest *big.Int
	for _, tx := range txs {
		p := EffectiveGasPrice(tx, baseFee)
		if lowest == nil || p.Cmp(lowest) < 0 {
			lowest = p
		}
	}
	if lowest == nil {
		return 0, false
	}
	return decimal.NewFromBigInt(lowest, -9).InexactFloat64(), true
}

// Estimator keeps a rolling window of recent blocks and derives price tiers from
// the distribution of their minimum gas prices.
type Estimator struct {
	src         BlockSource
	sampleSize  int
	percentiles [4]float64
	logger      *logging.Logger

	mu     sync.RWMutex
	blocks map[uint64]BlockSample
	last   uint64
}

// NewEstimator creates an estimator over src.
func NewEstimator(src BlockSource, sampleSize int, logger *logging.Logger) *Estimator {
	if sampleSize < 2 {
		sampleSize = DefaultSampleSize
	}
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &Estimator{
		src:         src,
		sampleSize:  sampleSize,
		percentiles: DefaultPercentiles,
		logger:      logger,
		blocks:      make(map[uint64]BlockSample),
	}
}

// Record adds a block and evicts the oldest beyond the sample size.
func (e *Estimator) Record(b BlockSample) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.blocks[b.Number] = b
	if b.Number > e.last {
		e.last = b.Number
	}
	for len(e.blocks) > e.sampleSize {
		oldest := b.Number
		for n := range e.blocks {
			if n < oldest {
				oldest = n
			}
		}
		delete(e.blocks, oldest)
	}
}

// Poll fetches every block between the last recorded one and the chain head. On the
// first call it loads the most recent sampleSize blocks.
func (e *Estimator) Poll(ctx context.Context) error {
	head, err := e.src.HeadNumber(ctx)
	if err != nil {
		return fmt.Errorf("get head: %w", err)
	}

	e.mu.RLock()
	next := e.last + 1
	e.mu.RUnlock()

	if floor := head + 1 - uint64(e.sampleSize); head+1 > uint64(e.sampleSize) && next < floor {
		next = floor
	}
	for n := next; n <= head; n++ {
		b, err := e.src.Block(ctx, n)
		if err != nil {
			return err
		}
		e.Record(b)
	}
	return nil
}

// Run polls every interval until ctx is done.
func (e *Estimator) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if err := e.Poll(ctx); err != nil && ctx.Err() == nil {
			e.logger.Warn("block poll failed", "error", err)
		} else if r := e.Reading(); r.Ready() {
			e.logger.Debug("tiers updated", "block", r.BlockNum, "safe_low", r.SafeLow, "standard", r.Standard, "fast", r.Fast, "fastest", r.Fastest)
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Reading computes the tiers. Until the window is full it returns a zero reading,
// which clients treat as "restarting".
func (e *Estimator) Reading() Reading {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if len(e.blocks) < e.sampleSize {
		return Reading{BlockNum: e.last}
	}

	samples := make([]BlockSample, 0, len(e.blocks))
	for _, b := range e.blocks {
		if b.TxCount > 0 {
			samples = append(samples, b)
		}
	}
	if len(samples) < 2 {
		return Reading{BlockNum: e.last}
	}
	sort.Slice(samples, func(i, j int) bool { return samples[i].Timestamp < samples[j].Timestamp })

	blockTime := float64(samples[len(samples)-1].Timestamp-samples[0].Timestamp) / float64(len(samples)-1)

	prices := make([]float64, len(samples))
	for i, s := range samples {
		prices[i] = s.MinGwei
	}
	sort.Float64s(prices)

	var tiers [4]float64
	for i, pct := range e.percentiles {
		idx := int(pct*float64(len(prices))/100) - 1
		if idx < 0 {
			idx = 0
		}
		tiers[i] = prices[idx]
	}

	return Reading{
		SafeLow:   tiers[0],
		Standard:  tiers[1],
		Fast:      tiers[2],
		Fastest:   tiers[3],
		BlockTime: blockTime,
		BlockNum:  e.last,
	}
}

// Handler serves the current reading as JSON on any path.
func (e *Estimator) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(e.Reading())
	})
}

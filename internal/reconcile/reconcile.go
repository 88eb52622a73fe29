// Package reconcile turns on-chain deposits to API key wallets into credit.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gas_oracle/internal/explorer"
	"gas_oracle/internal/logging"
	"gas_oracle/internal/metrics"
	"gas_oracle/internal/models"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// KeyStore is the key storage the reconciler reads and advances.
type KeyStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.APIKey, error)
	ListAll(ctx context.Context) ([]*models.APIKey, error)
	AdvanceWatermark(ctx context.Context, id uuid.UUID, height int64) error
}

// Ledger records deposits. ApplyDeposit must be idempotent per transaction hash.
type Ledger interface {
	ApplyDeposit(ctx context.Context, rec *models.CreditRecharge) (bool, error)
}

// Explorer lists wallet transactions and the chain height.
type Explorer interface {
	TxList(ctx context.Context, address string, startBlock, endBlock int64) ([]explorer.Transaction, error)
	BlockNumber(ctx context.Context) (int64, error)
}

// Result describes one key's reconciliation.
type Result struct {
	KeyID     uuid.UUID `json:"-"`
	FromBlock int64     `json:"fromBlock"`
	ToBlock   int64     `json:"toBlock"`
	Applied   int       `json:"applied"`
	Credited  int64     `json:"credited"`
	Balance   int64     `json:"credit"`
}

// Summary describes a pass over every key.
type Summary struct {
	Keys     int
	Failed   int
	Applied  int
	Credited int64
}

// Reconciler scans each key's deposit wallet from its watermark to the chain head.
type Reconciler struct {
	keys         KeyStore
	ledger       Ledger
	explorer     Explorer
	weiPerCredit decimal.Decimal
	metrics      metrics.Metrics
	logger       *logging.Logger

	// pageSize is the explorer's per-call result cap.
	pageSize int
}

// New creates a reconciler. weiPerCredit must be positive.
func New(keys KeyStore, ledger Ledger, ex Explorer, weiPerCredit decimal.Decimal, m metrics.Metrics, logger *logging.Logger) (*Reconciler, error) {
	if !weiPerCredit.IsPositive() {
		return nil, fmt.Errorf("wei per credit must be positive, got %s", weiPerCredit)
	}
	if m == nil {
		m = metrics.NewNoopMetrics()
	}
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &Reconciler{
		keys:         keys,
		ledger:       ledger,
		explorer:     ex,
		weiPerCredit: weiPerCredit,
		metrics:      m,
		logger:       logger,
		pageSize:     explorer.MaxResults,
	}, nil
}

// Credits converts a wei amount to whole credits, rounding down.
func (r *Reconciler) Credits(wei decimal.Decimal) int64 {
	return wei.Div(r.weiPerCredit).Floor().IntPart()
}

// accepts reports whether tx is a successful transfer into wallet.
func accepts(tx explorer.Transaction, wallet string) bool {
	return !tx.Failed && strings.EqualFold(tx.To, wallet) && tx.Value.IsPositive()
}

// ReconcileKey credits every new deposit to the key's wallet. The watermark only
// advances after all deposits in range were recorded.
func (r *Reconciler) ReconcileKey(ctx context.Context, id uuid.UUID) (*Result, error) {
	key, err := r.keys.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load key: %w", err)
	}

	head, err := r.explorer.BlockNumber(ctx)
	if err != nil {
		return nil, fmt.Errorf("chain height: %w", err)
	}

	res := &Result{KeyID: id, FromBlock: key.BlockChecked + 1, ToBlock: head, Balance: key.Credit}
	if res.FromBlock > head {
		return res, nil
	}

	for start := res.FromBlock; ; {
		txs, err := r.explorer.TxList(ctx, key.Wallet, start, head)
		if err != nil {
			return nil, fmt.Errorf("list transactions: %w", err)
		}
		if err := r.applyDeposits(ctx, key, txs, res); err != nil {
			return nil, err
		}
		if len(txs) < r.pageSize {
			break
		}

		// A full page may stop partway through its last block, so that block is
		// listed again; recorded hashes are skipped.
		last := txs[len(txs)-1].BlockNumber
		if last <= start {
			return nil, fmt.Errorf("block %d holds more than %d transactions for %s", start, r.pageSize, key.Wallet)
		}
		start = last
	}

	if err := r.keys.AdvanceWatermark(ctx, id, head); err != nil {
		return nil, fmt.Errorf("advance watermark: %w", err)
	}

	if res.Applied > 0 {
		r.metrics.CreditsReconciled(res.Credited, res.Applied)
		r.logger.Info("deposits credited", "key_id", id, "transactions", res.Applied, "credits", res.Credited)

		if fresh, err := r.keys.GetByID(ctx, id); err == nil {
			res.Balance = fresh.Credit
		} else {
			res.Balance += res.Credited
		}
	}
	return res, nil
}

func (r *Reconciler) applyDeposits(ctx context.Context, key *models.APIKey, txs []explorer.Transaction, res *Result) error {
	for _, tx := range txs {
		if !accepts(tx, key.Wallet) {
			continue
		}

		rec := &models.CreditRecharge{
			APIKeyID:    key.ID,
			TxHash:      strings.ToLower(tx.Hash),
			FromWallet:  tx.From,
			Value:       tx.Value,
			Credit:      r.Credits(tx.Value),
			BlockNumber: tx.BlockNumber,
		}
		if !tx.Timestamp.IsZero() {
			rec.CreatedAt = tx.Timestamp
		}

		applied, err := r.ledger.ApplyDeposit(ctx, rec)
		if err != nil {
			return fmt.Errorf("apply deposit %s: %w", tx.Hash, err)
		}
		if !applied {
			r.logger.Debug("deposit already recorded", "key_id", key.ID, "tx", tx.Hash)
			continue
		}
		res.Applied++
		res.Credited += rec.Credit
	}
	return nil
}

// ReconcileAll reconciles every key. A failing key is logged and skipped; the
// returned error only reports that listing keys failed or ctx ended.
func (r *Reconciler) ReconcileAll(ctx context.Context) (Summary, error) {
	start := time.Now()
	keys, err := r.keys.ListAll(ctx)
	if err != nil {
		return Summary{}, fmt.Errorf("list keys: %w", err)
	}

	var sum Summary
	for _, key := range keys {
		if ctx.Err() != nil {
			return sum, ctx.Err()
		}
		sum.Keys++

		res, err := r.ReconcileKey(ctx, key.ID)
		if err != nil {
			sum.Failed++
			r.logger.Warn("reconcile failed", "key_id", key.ID, "error", err)
			continue
		}
		sum.Applied += res.Applied
		sum.Credited += res.Credited
	}

	r.logger.Info("reconcile pass finished", "keys", sum.Keys, "failed", sum.Failed, "applied", sum.Applied, "duration", time.Since(start))
	if sum.Keys > 0 && sum.Failed == sum.Keys {
		return sum, errors.New("reconcile failed for every key")
	}
	return sum, nil
}

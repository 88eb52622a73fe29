package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"gas_oracle/internal/models"
)

// RechargeRepository stores the ledger of credited deposits
type RechargeRepository struct {
	db *DB
}

// NewRechargeRepository creates a new recharge ledger repository
func NewRechargeRepository(db *DB) *RechargeRepository {
	return &RechargeRepository{db: db}
}

// ApplyDeposit records the deposit and credits its key in one transaction.
// A transaction hash already in the ledger is skipped and reported as not applied.
func (r *RechargeRepository) ApplyDeposit(ctx context.Context, rec *models.CreditRecharge) (bool, error) {
	insert := `
		INSERT INTO credit_recharges (api_key_id, tx_hash, from_wallet, value, credit, block_number, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (tx_hash) DO NOTHING
		RETURNING id
	`
	credit := `UPDATE api_keys SET credit = credit + $2 WHERE id = $1`

	var applied bool
	err := r.db.inTx(ctx, func(tx *sqlx.Tx) error {
		applied = false

		err := tx.QueryRowContext(
			ctx, insert,
			rec.APIKeyID, rec.TxHash, rec.FromWallet, rec.Value, rec.Credit, rec.BlockNumber, rec.CreatedAt,
		).Scan(&rec.ID)
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		if err != nil {
			return err
		}

		result, err := tx.ExecContext(ctx, credit, rec.APIKeyID, rec.Credit)
		if err != nil {
			return err
		}
		rows, err := result.RowsAffected()
		if err != nil {
			return err
		}
		if rows == 0 {
			return ErrAPIKeyNotFound
		}

		applied = true
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("failed to apply deposit %s: %w", rec.TxHash, err)
	}

	return applied, nil
}

// ListByKey returns the key's recharges, newest first
func (r *RechargeRepository) ListByKey(ctx context.Context, keyID uuid.UUID) ([]models.CreditRecharge, error) {
	query := `
		SELECT id, api_key_id, tx_hash, from_wallet, value, credit, block_number, created_at
		FROM credit_recharges
		WHERE api_key_id = $1
		ORDER BY created_at DESC
	`

	var rows []models.CreditRecharge
	err := r.db.withRetry(ctx, func(ctx context.Context) error {
		rows = nil
		return r.db.conn.SelectContext(ctx, &rows, query, keyID)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list recharges: %w", err)
	}

	return rows, nil
}

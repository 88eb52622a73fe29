package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"

	"gas_oracle/internal/models"
)

const apiKeyColumns = `id, key_hash, secret_hash, peek, wallet, wallet_key, origin, note, credit, block_checked, created_at`

// APIKeyRepository handles API key database operations
type APIKeyRepository struct {
	db *DB
}

// NewAPIKeyRepository creates a new API key repository
func NewAPIKeyRepository(db *DB) *APIKeyRepository {
	return &APIKeyRepository{db: db}
}

// Create inserts a new API key
func (r *APIKeyRepository) Create(ctx context.Context, key *models.APIKey) error {
	query := `
		INSERT INTO api_keys (id, key_hash, secret_hash, peek, wallet, wallet_key, origin, note, credit, block_checked)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING created_at
	`

	if key.ID == uuid.Nil {
		key.ID = uuid.New()
	}

	err := r.db.withWriteRetry(ctx, func(ctx context.Context) error {
		return r.db.conn.QueryRowContext(
			ctx, query,
			key.ID, key.KeyHash, key.SecretHash, key.Peek, key.Wallet, key.WalletKey,
			key.Origin, key.Note, key.Credit, key.BlockChecked,
		).Scan(&key.CreatedAt)
	})
	if err != nil {
		return fmt.Errorf("failed to create API key: %w", err)
	}

	return nil
}

// ListByPeek returns every key whose plaintext ends with peek
func (r *APIKeyRepository) ListByPeek(ctx context.Context, peek string) ([]*models.APIKey, error) {
	query := `SELECT ` + apiKeyColumns + ` FROM api_keys WHERE peek = $1 ORDER BY created_at`

	var keys []*models.APIKey
	err := r.db.withRetry(ctx, func(ctx context.Context) error {
		keys = nil
		return r.db.conn.SelectContext(ctx, &keys, query, peek)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list API keys by peek: %w", err)
	}

	return keys, nil
}

// GetByID retrieves an API key by ID
func (r *APIKeyRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.APIKey, error) {
	query := `SELECT ` + apiKeyColumns + ` FROM api_keys WHERE id = $1`

	var key models.APIKey
	err := r.db.withRetry(ctx, func(ctx context.Context) error {
		return r.db.conn.GetContext(ctx, &key, query, id)
	})
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrAPIKeyNotFound
		}
		return nil, fmt.Errorf("failed to get API key: %w", err)
	}

	return &key, nil
}

// ListAll returns every API key, oldest first
func (r *APIKeyRepository) ListAll(ctx context.Context) ([]*models.APIKey, error) {
	query := `SELECT ` + apiKeyColumns + ` FROM api_keys ORDER BY created_at`

	var keys []*models.APIKey
	err := r.db.withRetry(ctx, func(ctx context.Context) error {
		keys = nil
		return r.db.conn.SelectContext(ctx, &keys, query)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list API keys: %w", err)
	}

	return keys, nil
}

// Update applies the non-nil fields of upd
func (r *APIKeyRepository) Update(ctx context.Context, id uuid.UUID, upd models.APIKeyUpdate) error {
	if upd.IsEmpty() {
		return ErrNoFieldsToUpdate
	}

	builder := sq.Update("api_keys").PlaceholderFormat(sq.Dollar).Where(sq.Eq{"id": id})
	if upd.KeyHash != nil {
		builder = builder.Set("key_hash", *upd.KeyHash)
	}
	if upd.Peek != nil {
		builder = builder.Set("peek", *upd.Peek)
	}
	if upd.Origin != nil {
		builder = builder.Set("origin", *upd.Origin)
	}
	if upd.Note != nil {
		builder = builder.Set("note", *upd.Note)
	}

	query, args, err := builder.ToSql()
	if err != nil {
		return fmt.Errorf("failed to build API key update: %w", err)
	}

	var rows int64
	err = r.db.withRetry(ctx, func(ctx context.Context) error {
		result, err := r.db.conn.ExecContext(ctx, query, args...)
		if err != nil {
			return err
		}
		rows, err = result.RowsAffected()
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to update API key: %w", err)
	}

	if rows == 0 {
		return ErrAPIKeyNotFound
	}

	return nil
}

// AdjustCredit adds delta (possibly negative) to the balance in a single statement
// and returns the new balance.
func (r *APIKeyRepository) AdjustCredit(ctx context.Context, id uuid.UUID, delta int64) (int64, error) {
	query := `UPDATE api_keys SET credit = credit + $2 WHERE id = $1 RETURNING credit`

	var credit int64
	err := r.db.withWriteRetry(ctx, func(ctx context.Context) error {
		return r.db.conn.QueryRowContext(ctx, query, id, delta).Scan(&credit)
	})
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, ErrAPIKeyNotFound
		}
		return 0, fmt.Errorf("failed to adjust credit: %w", err)
	}

	return credit, nil
}

// AdvanceWatermark records the last scanned block height. It never moves backwards.
func (r *APIKeyRepository) AdvanceWatermark(ctx context.Context, id uuid.UUID, height int64) error {
	query := `UPDATE api_keys SET block_checked = GREATEST(block_checked, $2) WHERE id = $1`

	var rows int64
	err := r.db.withRetry(ctx, func(ctx context.Context) error {
		result, err := r.db.conn.ExecContext(ctx, query, id, height)
		if err != nil {
			return err
		}
		rows, err = result.RowsAffected()
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to advance watermark: %w", err)
	}

	if rows == 0 {
		return ErrAPIKeyNotFound
	}

	return nil
}

package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"gas_oracle/internal/models"
)

// RequestRepository stores the append-only request log
type RequestRepository struct {
	db *DB
}

// NewRequestRepository creates a new request log repository
func NewRequestRepository(db *DB) *RequestRepository {
	return &RequestRepository{db: db}
}

// Insert appends a request log row
func (r *RequestRepository) Insert(ctx context.Context, req *models.APIRequest) error {
	query := `
		INSERT INTO api_requests (ip, origin, api_key_id, endpoint)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at
	`

	err := r.db.withWriteRetry(ctx, func(ctx context.Context) error {
		return r.db.conn.QueryRowContext(ctx, query, req.IP, req.Origin, req.APIKeyID, req.Endpoint).
			Scan(&req.ID, &req.CreatedAt)
	})
	if err != nil {
		return fmt.Errorf("failed to insert request log: %w", err)
	}

	return nil
}

func (r *RequestRepository) count(ctx context.Context, query string, args ...interface{}) (int64, error) {
	var total int64
	err := r.db.withRetry(ctx, func(ctx context.Context) error {
		return r.db.conn.GetContext(ctx, &total, query, args...)
	})
	return total, err
}

// CountByIPSince counts requests from ip made after since
func (r *RequestRepository) CountByIPSince(ctx context.Context, ip string, since time.Time) (int64, error) {
	total, err := r.count(ctx, `SELECT COUNT(*) FROM api_requests WHERE ip = $1 AND created_at > $2`, ip, since)
	if err != nil {
		return 0, fmt.Errorf("failed to count requests by ip: %w", err)
	}
	return total, nil
}

// CountByKeySince counts requests made with the key after since
func (r *RequestRepository) CountByKeySince(ctx context.Context, keyID uuid.UUID, since time.Time) (int64, error) {
	total, err := r.count(ctx, `SELECT COUNT(*) FROM api_requests WHERE api_key_id = $1 AND created_at > $2`, keyID, since)
	if err != nil {
		return 0, fmt.Errorf("failed to count requests by key: %w", err)
	}
	return total, nil
}

// CountByIP counts every request ever made from ip
func (r *RequestRepository) CountByIP(ctx context.Context, ip string) (int64, error) {
	total, err := r.count(ctx, `SELECT COUNT(*) FROM api_requests WHERE ip = $1`, ip)
	if err != nil {
		return 0, fmt.Errorf("failed to count total requests by ip: %w", err)
	}
	return total, nil
}

// CountByKey counts every request ever made with the key
func (r *RequestRepository) CountByKey(ctx context.Context, keyID uuid.UUID) (int64, error) {
	total, err := r.count(ctx, `SELECT COUNT(*) FROM api_requests WHERE api_key_id = $1`, keyID)
	if err != nil {
		return 0, fmt.Errorf("failed to count total requests by key: %w", err)
	}
	return total, nil
}

// ListByKeySince returns the key's requests after since, newest first
func (r *RequestRepository) ListByKeySince(ctx context.Context, keyID uuid.UUID, since time.Time) ([]models.APIRequest, error) {
	query := `
		SELECT id, ip, origin, api_key_id, endpoint, created_at
		FROM api_requests
		WHERE api_key_id = $1 AND created_at > $2
		ORDER BY created_at DESC
	`

	var rows []models.APIRequest
	err := r.db.withRetry(ctx, func(ctx context.Context) error {
		rows = nil
		return r.db.conn.SelectContext(ctx, &rows, query, keyID, since)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list request logs: %w", err)
	}

	return rows, nil
}

// Package memstore is a process-local implementation of the storage repositories.
// It backs tests and DATABASE_URL=memory development runs; nothing survives a restart.
package memstore

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"gas_oracle/internal/models"
	"gas_oracle/internal/storage"

	"github.com/google/uuid"
)

// Store satisfies the key, request, recharge and history repository interfaces.
type Store struct {
	mu sync.RWMutex

	keys      map[uuid.UUID]*models.APIKey
	requests  []models.APIRequest
	recharges []models.CreditRecharge
	samples   []models.PriceSample

	nextRequestID  int64
	nextRechargeID int64
	nextSampleID   int64

	now func() time.Time
}

// New returns an empty store.
func New() *Store {
	return &Store{
		keys: make(map[uuid.UUID]*models.APIKey),
		now:  time.Now,
	}
}

// SetClock replaces the time source used for created_at columns.
func (s *Store) SetClock(now func() time.Time) {
	s.mu.Lock()
	s.now = now
	s.mu.Unlock()
}

func cloneKey(k *models.APIKey) *models.APIKey {
	c := *k
	if k.Origin != nil {
		o := *k.Origin
		c.Origin = &o
	}
	if k.Note != nil {
		n := *k.Note
		c.Note = &n
	}
	return &c
}

// Create stores a new key, assigning ID and CreatedAt when unset.
func (s *Store) Create(_ context.Context, key *models.APIKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if key.ID == uuid.Nil {
		key.ID = uuid.New()
	}
	if key.CreatedAt.IsZero() {
		key.CreatedAt = s.now()
	}
	s.keys[key.ID] = cloneKey(key)
	return nil
}

// ListByPeek returns every key sharing the given suffix, oldest first.
func (s *Store) ListByPeek(_ context.Context, peek string) ([]*models.APIKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*models.APIKey
	for _, k := range s.keys {
		if k.Peek == peek {
			out = append(out, cloneKey(k))
		}
	}
	sortKeys(out)
	return out, nil
}

// GetByID returns a key or storage.ErrAPIKeyNotFound.
func (s *Store) GetByID(_ context.Context, id uuid.UUID) (*models.APIKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	k, ok := s.keys[id]
	if !ok {
		return nil, storage.ErrAPIKeyNotFound
	}
	return cloneKey(k), nil
}

// ListAll returns every key, oldest first.
func (s *Store) ListAll(_ context.Context) ([]*models.APIKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*models.APIKey, 0, len(s.keys))
	for _, k := range s.keys {
		out = append(out, cloneKey(k))
	}
	sortKeys(out)
	return out, nil
}

func sortKeys(keys []*models.APIKey) {
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].CreatedAt.Equal(keys[j].CreatedAt) {
			return keys[i].ID.String() < keys[j].ID.String()
		}
		return keys[i].CreatedAt.Before(keys[j].CreatedAt)
	})
}

// Update applies the non-nil fields of upd.
func (s *Store) Update(_ context.Context, id uuid.UUID, upd models.APIKeyUpdate) error {
	if upd.IsEmpty() {
		return storage.ErrNoFieldsToUpdate
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	k, ok := s.keys[id]
	if !ok {
		return storage.ErrAPIKeyNotFound
	}
	if upd.KeyHash != nil {
		k.KeyHash = *upd.KeyHash
	}
	if upd.Peek != nil {
		k.Peek = *upd.Peek
	}
	if upd.Origin != nil {
		o := *upd.Origin
		k.Origin = &o
	}
	if upd.Note != nil {
		n := *upd.Note
		k.Note = &n
	}
	return nil
}

// AdjustCredit adds delta to the balance and returns the new balance.
func (s *Store) AdjustCredit(_ context.Context, id uuid.UUID, delta int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	k, ok := s.keys[id]
	if !ok {
		return 0, storage.ErrAPIKeyNotFound
	}
	k.Credit += delta
	return k.Credit, nil
}

// AdvanceWatermark moves BlockChecked forward, never backwards.
func (s *Store) AdvanceWatermark(_ context.Context, id uuid.UUID, height int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	k, ok := s.keys[id]
	if !ok {
		return storage.ErrAPIKeyNotFound
	}
	if height > k.BlockChecked {
		k.BlockChecked = height
	}
	return nil
}

// Insert appends a request log row.
func (s *Store) Insert(_ context.Context, req *models.APIRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextRequestID++
	req.ID = s.nextRequestID
	if req.CreatedAt.IsZero() {
		req.CreatedAt = s.now()
	}
	s.requests = append(s.requests, *req)
	return nil
}

func (s *Store) countRequests(match func(models.APIRequest) bool) int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var n int64
	for _, r := range s.requests {
		if match(r) {
			n++
		}
	}
	return n
}

func byIP(ip string) func(models.APIRequest) bool {
	return func(r models.APIRequest) bool { return r.IP != nil && *r.IP == ip }
}

func byKey(id uuid.UUID) func(models.APIRequest) bool {
	return func(r models.APIRequest) bool { return r.APIKeyID != nil && *r.APIKeyID == id }
}

func since(t time.Time, match func(models.APIRequest) bool) func(models.APIRequest) bool {
	return func(r models.APIRequest) bool { return r.CreatedAt.After(t) && match(r) }
}

// CountByIPSince counts requests from ip after the given instant.
func (s *Store) CountByIPSince(_ context.Context, ip string, t time.Time) (int64, error) {
	return s.countRequests(since(t, byIP(ip))), nil
}

// CountByKeySince counts requests made with the key after the given instant.
func (s *Store) CountByKeySince(_ context.Context, keyID uuid.UUID, t time.Time) (int64, error) {
	return s.countRequests(since(t, byKey(keyID))), nil
}

// CountByIP counts every request from ip.
func (s *Store) CountByIP(_ context.Context, ip string) (int64, error) {
	return s.countRequests(byIP(ip)), nil
}

// CountByKey counts every request made with the key.
func (s *Store) CountByKey(_ context.Context, keyID uuid.UUID) (int64, error) {
	return s.countRequests(byKey(keyID)), nil
}

// ListByKeySince returns the key's requests after t, most recent first.
func (s *Store) ListByKeySince(_ context.Context, keyID uuid.UUID, t time.Time) ([]models.APIRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	match := since(t, byKey(keyID))
	out := []models.APIRequest{}
	for _, r := range s.requests {
		if match(r) {
			out = append(out, r)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

// ApplyDeposit records a recharge and credits its key unless the tx hash was seen before.
func (s *Store) ApplyDeposit(_ context.Context, rec *models.CreditRecharge) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, r := range s.recharges {
		if strings.EqualFold(r.TxHash, rec.TxHash) {
			return false, nil
		}
	}
	k, ok := s.keys[rec.APIKeyID]
	if !ok {
		return false, storage.ErrAPIKeyNotFound
	}

	s.nextRechargeID++
	rec.ID = s.nextRechargeID
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = s.now()
	}
	s.recharges = append(s.recharges, *rec)
	k.Credit += rec.Credit
	return true, nil
}

// ListByKey returns the key's recharges, most recent first.
func (s *Store) ListByKey(_ context.Context, keyID uuid.UUID) ([]models.CreditRecharge, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := []models.CreditRecharge{}
	for _, r := range s.recharges {
		if r.APIKeyID == keyID {
			out = append(out, r)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, nil
}

// InsertSample appends a price sample.
func (s *Store) InsertSample(_ context.Context, sample *models.PriceSample) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextSampleID++
	sample.ID = s.nextSampleID
	if sample.CreatedAt.IsZero() {
		sample.CreatedAt = s.now()
	}
	s.samples = append(s.samples, *sample)
	return nil
}

// Candles aggregates stored samples with models.AggregateCandles.
func (s *Store) Candles(_ context.Context, q models.CandleQuery) ([]models.Candle, error) {
	s.mu.RLock()
	samples := make([]models.PriceSample, len(s.samples))
	copy(samples, s.samples)
	s.mu.RUnlock()

	return models.AggregateCandles(samples, q), nil
}

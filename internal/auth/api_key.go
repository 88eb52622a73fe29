package auth

import (
	"context"
	"errors"
	"fmt"

	"gas_oracle/internal/apperr"
	"gas_oracle/internal/logging"
	"gas_oracle/internal/models"
	"gas_oracle/internal/storage"

	"github.com/google/uuid"
)

// ErrKeyNotFound means no stored key matched the plaintext key (or key and secret).
var ErrKeyNotFound = errors.New("api key not found")

// KeyRepository is the slice of key storage the directory needs.
type KeyRepository interface {
	Create(ctx context.Context, key *models.APIKey) error
	ListByPeek(ctx context.Context, peek string) ([]*models.APIKey, error)
	Update(ctx context.Context, id uuid.UUID, upd models.APIKeyUpdate) error
}

// Sealer encrypts deposit wallet private keys before they are stored.
type Sealer interface {
	Seal(plaintext []byte, context string) (string, error)
}

// CreateRequest holds the optional attributes of a new key.
type CreateRequest struct {
	Origin *string
	Note   *string
}

// Credentials is returned once, at creation. The plaintext key and secret are never stored.
type Credentials struct {
	APIKey string
	Secret string
	Wallet string
	Record *models.APIKey
}

// EditRequest lists the changes requested by the key owner. Nil fields are kept.
type EditRequest struct {
	Origin   *string
	Note     *string
	ResetKey bool
}

// EditResult reports what an edit changed. APIKey is the key to use from now on.
type EditResult struct {
	Changed bool
	APIKey  string
	Origin  *string
	Note    *string
}

// Directory resolves plaintext keys to stored records. Lookup narrows candidates by
// peek and authenticates with bcrypt, so peek collisions never yield false positives.
type Directory struct {
	keys       KeyRepository
	sealer     Sealer
	newWallet  WalletGenerator
	bcryptCost int
	logger     *logging.Logger
}

// NewDirectory creates a key directory. A nil wallet generator selects NewEthereumWallet.
func NewDirectory(keys KeyRepository, sealer Sealer, wallets WalletGenerator, bcryptCost int, logger *logging.Logger) *Directory {
	if wallets == nil {
		wallets = NewEthereumWallet
	}
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &Directory{
		keys:       keys,
		sealer:     sealer,
		newWallet:  wallets,
		bcryptCost: bcryptCost,
		logger:     logger,
	}
}

func (d *Directory) candidates(ctx context.Context, key string) ([]*models.APIKey, error) {
	if !ValidKeyFormat(key) {
		return nil, apperr.BadRequest("The informed api key is invalid.")
	}
	rows, err := d.keys.ListByPeek(ctx, Peek(key))
	if err != nil {
		return nil, apperr.Internal("Error while trying to search the database for your api key.", err)
	}
	return rows, nil
}

// Lookup returns the record whose key hash matches key.
func (d *Directory) Lookup(ctx context.Context, key string) (*models.APIKey, error) {
	rows, err := d.candidates(ctx, key)
	if err != nil {
		return nil, err
	}
	for _, row := range rows {
		if CompareSecret(row.KeyHash, key) {
			return row, nil
		}
	}
	return nil, apperr.New(apperr.KindUnauthorized, "Could not find your api key.", ErrKeyNotFound)
}

// Verify returns the record whose key and secret hashes both match.
func (d *Directory) Verify(ctx context.Context, key, secret string) (*models.APIKey, error) {
	if secret == "" {
		return nil, apperr.BadRequest("The api secret was not provided.")
	}
	rows, err := d.candidates(ctx, key)
	if err != nil {
		return nil, err
	}
	for _, row := range rows {
		if CompareSecret(row.KeyHash, key) && CompareSecret(row.SecretHash, secret) {
			return row, nil
		}
	}
	return nil, apperr.New(apperr.KindUnauthorized, "Could not find an api key matching the provided secret key.", ErrKeyNotFound)
}

func normalizeOptionalOrigin(origin *string) (*string, error) {
	if origin == nil {
		return nil, nil
	}
	if *origin == "" {
		return origin, nil
	}
	n := NormalizeOrigin(*origin)
	if n == "" {
		return nil, apperr.BadRequest("The informed origin is invalid.")
	}
	return &n, nil
}

// Create issues a new key and secret bound to a fresh deposit wallet.
func (d *Directory) Create(ctx context.Context, req CreateRequest) (*Credentials, error) {
	origin, err := normalizeOptionalOrigin(req.Origin)
	if err != nil {
		return nil, err
	}

	key := GenerateToken()
	secret := GenerateToken()

	keyHash, err := HashSecret(key, d.bcryptCost)
	if err != nil {
		return nil, apperr.Internal("Error while generating your api key.", err)
	}
	secretHash, err := HashSecret(secret, d.bcryptCost)
	if err != nil {
		return nil, apperr.Internal("Error while generating your api key.", err)
	}

	wallet, err := d.newWallet()
	if err != nil {
		return nil, apperr.Internal("Error while generating your deposit wallet.", err)
	}
	sealed, err := d.sealer.Seal([]byte(wallet.PrivateKey), wallet.Address)
	if err != nil {
		return nil, apperr.Internal("Error while generating your deposit wallet.", err)
	}

	record := &models.APIKey{
		KeyHash:    keyHash,
		SecretHash: secretHash,
		Peek:       Peek(key),
		Wallet:     wallet.Address,
		WalletKey:  sealed,
		Origin:     origin,
		Note:       req.Note,
	}
	if err := d.keys.Create(ctx, record); err != nil {
		return nil, apperr.Internal("Error while trying to insert your api key into the database.", err)
	}

	d.logger.Info("api key created", "id", record.ID, "wallet", record.Wallet)

	return &Credentials{
		APIKey: key,
		Secret: secret,
		Wallet: wallet.Address,
		Record: record,
	}, nil
}

func sameOptional(a, b *string) bool {
	av, bv := "", ""
	if a != nil {
		av = *a
	}
	if b != nil {
		bv = *b
	}
	return av == bv
}

// Edit applies owner changes after verifying key and secret. Requests that would not
// change anything return Changed=false without touching storage.
func (d *Directory) Edit(ctx context.Context, key, secret string, req EditRequest) (*EditResult, error) {
	record, err := d.Verify(ctx, key, secret)
	if err != nil {
		return nil, err
	}

	origin, err := normalizeOptionalOrigin(req.Origin)
	if err != nil {
		return nil, err
	}

	var upd models.APIKeyUpdate
	result := &EditResult{APIKey: key}

	if origin != nil && !sameOptional(origin, record.Origin) {
		upd.Origin = origin
		result.Origin = origin
	}
	if req.Note != nil && !sameOptional(req.Note, record.Note) {
		upd.Note = req.Note
		result.Note = req.Note
	}
	if req.ResetKey {
		newKey := GenerateToken()
		hash, err := HashSecret(newKey, d.bcryptCost)
		if err != nil {
			return nil, apperr.Internal("Error while generating your api key.", err)
		}
		peek := Peek(newKey)
		upd.KeyHash = &hash
		upd.Peek = &peek
		result.APIKey = newKey
	}

	if upd.IsEmpty() {
		return result, nil
	}

	if err := d.keys.Update(ctx, record.ID, upd); err != nil {
		if errors.Is(err, storage.ErrAPIKeyNotFound) {
			return nil, apperr.New(apperr.KindUnauthorized, "Could not find your api key.", ErrKeyNotFound)
		}
		return nil, apperr.Internal("Error while trying to update your api key information.", fmt.Errorf("update key %s: %w", record.ID, err))
	}
	result.Changed = true

	d.logger.Info("api key updated", "id", record.ID, "reset_key", req.ResetKey)
	return result, nil
}

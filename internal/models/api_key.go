package models

import (
	"time"

	"github.com/google/uuid"
)

// APIKey is a metered client credential with its deposit wallet and credit balance.
type APIKey struct {
	ID         uuid.UUID `db:"id"`
	KeyHash    string    `db:"key_hash"`    // bcrypt
	SecretHash string    `db:"secret_hash"` // bcrypt
	Peek       string    `db:"peek"`        // last 4 chars of the plaintext key

	Wallet    string `db:"wallet"`
	WalletKey string `db:"wallet_key"` // AES-GCM encrypted private key

	Origin *string `db:"origin"`
	Note   *string `db:"note"`

	// Credit is allowed to go negative; a negative balance blocks metered use.
	Credit       int64     `db:"credit"`
	BlockChecked int64     `db:"block_checked"`
	CreatedAt    time.Time `db:"created_at"`
}

// RestrictsOrigin reports whether requests must carry a matching Origin.
func (k *APIKey) RestrictsOrigin() bool {
	return k.Origin != nil && *k.Origin != ""
}

// HasCredit reports whether the key may still be charged for metered use.
func (k *APIKey) HasCredit() bool {
	return k.Credit >= 0
}

// APIKeyUpdate carries the optional fields of a key edit. Nil fields are left untouched.
type APIKeyUpdate struct {
	KeyHash *string
	Peek    *string
	Origin  *string
	Note    *string
}

// IsEmpty reports whether the update would change nothing.
func (u APIKeyUpdate) IsEmpty() bool {
	return u.KeyHash == nil && u.Peek == nil && u.Origin == nil && u.Note == nil
}

package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// CreditRecharge is a ledger row for an on-chain deposit credited to a key.
type CreditRecharge struct {
	ID          int64           `db:"id" json:"-"`
	APIKeyID    uuid.UUID       `db:"api_key_id" json:"-"`
	TxHash      string          `db:"tx_hash" json:"tx"`
	FromWallet  string          `db:"from_wallet" json:"from"`
	Value       decimal.Decimal `db:"value" json:"value"` // wei
	Credit      int64           `db:"credit" json:"credit"`
	BlockNumber int64           `db:"block_number" json:"block"`
	CreatedAt   time.Time       `db:"created_at" json:"timestamp"`
}

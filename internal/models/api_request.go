package models

import (
	"time"

	"github.com/google/uuid"
)

// Endpoint names recorded in the request log
const (
	EndpointGas = "gas"
)

// APIRequest is one append-only row of the request log.
type APIRequest struct {
	ID        int64      `db:"id" json:"-"`
	IP        *string    `db:"ip" json:"ip"`
	Origin    *string    `db:"origin" json:"origin"`
	APIKeyID  *uuid.UUID `db:"api_key_id" json:"-"`
	Endpoint  string     `db:"endpoint" json:"-"`
	CreatedAt time.Time  `db:"created_at" json:"timestamp"`
}

// Usage is the request count snapshot reported for a key.
type Usage struct {
	APIKeyHour  int64 `json:"apiKeyHour"`
	IPHour      int64 `json:"ipHour"`
	APIKeyTotal int64 `json:"apiKeyTotal"`
	IPTotal     int64 `json:"ipTotal"`
}

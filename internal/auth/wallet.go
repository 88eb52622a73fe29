package auth

import (
	"encoding/hex"
	"fmt"

	"github.com/ethereum/go-ethereum/crypto"
)

// Wallet is a freshly generated deposit account.
type Wallet struct {
	Address    string // checksummed 0x address
	PrivateKey string // hex, no 0x prefix
}

// WalletGenerator creates deposit wallets for new keys.
type WalletGenerator func() (Wallet, error)

// NewEthereumWallet generates a secp256k1 key pair and derives its address.
func NewEthereumWallet() (Wallet, error) {
	key, err := crypto.GenerateKey()
	if err != nil {
		return Wallet{}, fmt.Errorf("generate wallet key: %w", err)
	}
	return Wallet{
		Address:    crypto.PubkeyToAddress(key.PublicKey).Hex(),
		PrivateKey: hex.EncodeToString(crypto.FromECDSA(key)),
	}, nil
}

package storage

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testKey() []byte {
	return bytes.Repeat([]byte{0x42}, 32)
}

func TestEncryption_SealOpen(t *testing.T) {
	enc, err := NewEncryption(testKey())
	require.NoError(t, err)

	wallet := "0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed"
	secret := []byte("4c0883a69102937d6231471b5dbb6204fe512961708279f1d7b1b3f1e3b8a1c2")

	sealed, err := enc.Seal(secret, wallet)
	require.NoError(t, err)
	assert.NotContains(t, sealed, string(secret))

	opened, err := enc.Open(sealed, wallet)
	require.NoError(t, err)
	assert.Equal(t, secret, opened)

	again, err := enc.Seal(secret, wallet)
	require.NoError(t, err)
	assert.NotEqual(t, sealed, again, "nonce must differ per seal")
}

func TestEncryption_ContextMismatch(t *testing.T) {
	enc, err := NewEncryption(testKey())
	require.NoError(t, err)

	sealed, err := enc.Seal([]byte("private"), "0xaaa")
	require.NoError(t, err)

	_, err = enc.Open(sealed, "0xbbb")
	assert.Error(t, err, "ciphertext moved to another wallet must not open")
}

func TestEncryption_WrongKey(t *testing.T) {
	enc1, err := NewEncryption(testKey())
	require.NoError(t, err)
	enc2, err := NewEncryption(bytes.Repeat([]byte{0x07}, 32))
	require.NoError(t, err)

	sealed, err := enc1.Seal([]byte("private"), "ctx")
	require.NoError(t, err)

	_, err = enc2.Open(sealed, "ctx")
	assert.Error(t, err)
}

func TestEncryption_InvalidInput(t *testing.T) {
	for _, size := range []int{0, 8, 31, 33} {
		_, err := NewEncryption(make([]byte, size))
		assert.Error(t, err, "key size %d", size)
	}

	enc, err := NewEncryption(testKey())
	require.NoError(t, err)

	_, err = enc.Open("not base64!!", "ctx")
	assert.Error(t, err)

	_, err = enc.Open("AAAA", "ctx")
	assert.Error(t, err)
}

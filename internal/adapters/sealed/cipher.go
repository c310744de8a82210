// Package sealed encrypts the persisted token record at rest with AES-256-GCM.
package sealed

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"
)

// prefixV1 tags sealed values so the algorithm or key can be rotated later.
const prefixV1 = "v1:"

// ErrNotSealed is returned by Open for values that carry no version prefix.
var ErrNotSealed = errors.New("value is not sealed")

// Cipher seals and opens short strings with AES-256-GCM.
type Cipher struct {
	aead cipher.AEAD
}

// NewCipher builds a Cipher from a 32-byte key.
func NewCipher(key []byte) (*Cipher, error) {
	if len(key) != 32 {
		return nil, fmt.Errorf("aes-gcm key must be 32 bytes, got %d", len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	return &Cipher{aead: aead}, nil
}

// CipherFromPassphrase accepts a 64-character hex key as-is; anything else is
// hashed with SHA-256 into a key.
func CipherFromPassphrase(passphrase string) (*Cipher, error) {
	if passphrase == "" {
		return nil, errors.New("encryption key is required")
	}
	if decoded, err := hex.DecodeString(passphrase); err == nil && len(decoded) == 32 {
		return NewCipher(decoded)
	}
	sum := sha256.Sum256([]byte(passphrase))
	return NewCipher(sum[:])
}

// Seal returns "v1:" + base64(nonce || ciphertext).
func (c *Cipher) Seal(plaintext string) (string, error) {
	nonce := make([]byte, c.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", err
	}
	out := c.aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return prefixV1 + base64.StdEncoding.EncodeToString(out), nil
}

// Open reverses Seal. Values without a version prefix yield ErrNotSealed.
func (c *Cipher) Open(sealed string) (string, error) {
	b64, ok := strings.CutPrefix(sealed, prefixV1)
	if !ok {
		return "", ErrNotSealed
	}
	data, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return "", fmt.Errorf("decode sealed value: %w", err)
	}
	n := c.aead.NonceSize()
	if len(data) < n {
		return "", errors.New("sealed value too short")
	}
	pt, err := c.aead.Open(nil, data[:n], data[n:], nil)
	if err != nil {
		return "", fmt.Errorf("open sealed value: %w", err)
	}
	return string(pt), nil
}

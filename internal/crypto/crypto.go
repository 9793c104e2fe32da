// Package crypto implements authenticated encryption of message content at rest.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/scrypt"
)

// Key derivation and token layout parameters. The token is three hex fields
// joined by ':' — iv, GCM tag, ciphertext — so decryption needs nothing beyond
// the token and the process key.
const (
	keyLen     = 32
	ivLen      = 12
	tokenParts = 3

	// DefaultKDFCost is the scrypt N parameter used when no cost is configured.
	DefaultKDFCost = 32768
	// DefaultKDFSalt keeps tokens stable across restarts for a given passphrase.
	DefaultKDFSalt = "salt"
)

// ErrDecrypt reports a token that could not be decrypted: wrong layout, bad
// hex, or failed integrity check. Callers must treat the record as unreadable.
var ErrDecrypt = errors.New("message decrypt failed")

// Cipher encrypts and decrypts message content with AES-256-GCM. The key is
// derived once from the configured passphrase and held only in memory.
type Cipher struct {
	aead cipher.AEAD
}

// New derives the content key via scrypt and builds the AEAD. cost is the
// scrypt N parameter and must be a power of two greater than one.
func New(passphrase, salt string, cost int) (*Cipher, error) {
	if passphrase == "" {
		return nil, errors.New("crypto: empty passphrase")
	}
	if salt == "" {
		salt = DefaultKDFSalt
	}
	if cost == 0 {
		cost = DefaultKDFCost
	}

	key, err := scrypt.Key([]byte(passphrase), []byte(salt), cost, 8, 1, keyLen)
	if err != nil {
		return nil, fmt.Errorf("crypto: derive key: %w", err)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("crypto: init cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("crypto: init gcm: %w", err)
	}
	return &Cipher{aead: aead}, nil
}

// Encrypt seals plaintext under a fresh random IV and returns the opaque
// token. Callers never supply their own IV.
func (c *Cipher) Encrypt(plaintext string) (string, error) {
	iv := make([]byte, ivLen)
	if _, err := rand.Read(iv); err != nil {
		return "", fmt.Errorf("crypto: generate iv: %w", err)
	}

	sealed := c.aead.Seal(nil, iv, []byte(plaintext), nil)
	tagStart := len(sealed) - c.aead.Overhead()
	ct, tag := sealed[:tagStart], sealed[tagStart:]

	return hex.EncodeToString(iv) + ":" + hex.EncodeToString(tag) + ":" + hex.EncodeToString(ct), nil
}

// Decrypt parses a token produced by Encrypt and returns the plaintext. Any
// malformed or tampered token fails with ErrDecrypt.
func (c *Cipher) Decrypt(token string) (string, error) {
	parts := strings.Split(token, ":")
	if len(parts) != tokenParts {
		return "", fmt.Errorf("%w: expected %d token components, got %d", ErrDecrypt, tokenParts, len(parts))
	}

	iv, err := hex.DecodeString(parts[0])
	if err != nil {
		return "", fmt.Errorf("%w: bad iv encoding", ErrDecrypt)
	}
	tag, err := hex.DecodeString(parts[1])
	if err != nil {
		return "", fmt.Errorf("%w: bad tag encoding", ErrDecrypt)
	}
	ct, err := hex.DecodeString(parts[2])
	if err != nil {
		return "", fmt.Errorf("%w: bad ciphertext encoding", ErrDecrypt)
	}
	if len(iv) != c.aead.NonceSize() || len(tag) != c.aead.Overhead() {
		return "", fmt.Errorf("%w: bad component length", ErrDecrypt)
	}

	plain, err := c.aead.Open(nil, iv, append(ct, tag...), nil)
	if err != nil {
		return "", fmt.Errorf("%w: integrity check failed", ErrDecrypt)
	}
	return string(plain), nil
}

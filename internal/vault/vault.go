// Package vault decrypts custodial deposit keys stored as "iv:authTag:ciphertext" (hex parts,
// AES-256-GCM with a 16 byte IV).
package vault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

const (
	KeySize   = 32
	ivSize    = 16
	tagSize   = 16
	separator = ":"
)

var (
	ErrInvalidKey = errors.New("vault: encryption key must be 32 bytes")

	// ErrDecrypt covers every decryption failure; the cause is not exposed.
	ErrDecrypt = errors.New("vault: unable to decrypt key material")
)

type Vault struct {
	aead cipher.AEAD
}

// New parses a 64 character hex key.
func New(hexKey string) (*Vault, error) {
	key, err := hex.DecodeString(strings.TrimSpace(hexKey))
	if err != nil {
		return nil, ErrInvalidKey
	}
	defer wipe(key)

	return NewFromBytes(key)
}

func NewFromBytes(key []byte) (*Vault, error) {
	if len(key) != KeySize {
		return nil, ErrInvalidKey
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("vault: %w", err)
	}

	aead, err := cipher.NewGCMWithNonceSize(block, ivSize)
	if err != nil {
		return nil, fmt.Errorf("vault: %w", err)
	}

	return &Vault{aead: aead}, nil
}

// Encrypt seals plaintext under a fresh random IV.
func (v *Vault) Encrypt(plaintext []byte) (string, error) {
	iv := make([]byte, ivSize)
	if _, err := rand.Read(iv); err != nil {
		return "", fmt.Errorf("vault: generate iv: %w", err)
	}

	sealed := v.aead.Seal(nil, iv, plaintext, nil)
	ciphertext, tag := sealed[:len(sealed)-tagSize], sealed[len(sealed)-tagSize:]

	return strings.Join([]string{
		hex.EncodeToString(iv),
		hex.EncodeToString(tag),
		hex.EncodeToString(ciphertext),
	}, separator), nil
}

// Decrypt opens an encoded key. The caller owns the returned Secret and must Wipe it.
func (v *Vault) Decrypt(encoded string) (*Secret, error) {
	parts := strings.Split(encoded, separator)
	if len(parts) != 3 {
		return nil, ErrDecrypt
	}

	iv, err := hex.DecodeString(parts[0])
	if err != nil || len(iv) != ivSize {
		return nil, ErrDecrypt
	}

	tag, err := hex.DecodeString(parts[1])
	if err != nil || len(tag) != tagSize {
		return nil, ErrDecrypt
	}

	ciphertext, err := hex.DecodeString(parts[2])
	if err != nil {
		return nil, ErrDecrypt
	}

	sealed := append(ciphertext, tag...)
	plaintext, err := v.aead.Open(nil, iv, sealed, nil)
	wipe(sealed)
	if err != nil {
		return nil, ErrDecrypt
	}

	return &Secret{b: plaintext}, nil
}

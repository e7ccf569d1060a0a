// Package hipaa holds at-rest protection for patient health information:
// chat messages and consultation notes are sealed before they reach the
// database.
package hipaa

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"io"

	"github.com/rs/zerolog"
)

// Unreadable replaces a PHI field that could not be opened.
const Unreadable = "[unreadable]"

// Cipher seals and opens PHI text fields.
type Cipher interface {
	Encrypt(plaintext string) (string, error)
	Decrypt(ciphertext string) (string, error)
}

// PHIEncryptor provides AES-256-GCM field-level encryption and decryption for PHI data.
type PHIEncryptor struct {
	aead cipher.AEAD
}

// NewPHIEncryptor creates a new PHIEncryptor with the given 32-byte AES-256 key.
func NewPHIEncryptor(key []byte) (*PHIEncryptor, error) {
	if len(key) != 32 {
		return nil, fmt.Errorf("phi encryptor: key must be 32 bytes, got %d", len(key))
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("phi encryptor: create cipher: %w", err)
	}

	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("phi encryptor: create GCM: %w", err)
	}

	return &PHIEncryptor{aead: aead}, nil
}

// NewEphemeralEncryptor generates a random key. Data sealed with it cannot
// be read after a restart, so it is only for development.
func NewEphemeralEncryptor() (*PHIEncryptor, error) {
	key := make([]byte, 32)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return nil, fmt.Errorf("phi encryptor: generate key: %w", err)
	}
	return NewPHIEncryptor(key)
}

// Encrypt returns base64(nonce || ciphertext). Empty input stays empty.
func (e *PHIEncryptor) Encrypt(plaintext string) (string, error) {
	if plaintext == "" {
		return "", nil
	}
	encrypted, err := e.EncryptBytes([]byte(plaintext))
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(encrypted), nil
}

// Decrypt reverses Encrypt. Empty input stays empty.
func (e *PHIEncryptor) Decrypt(ciphertext string) (string, error) {
	if ciphertext == "" {
		return "", nil
	}
	data, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", fmt.Errorf("phi decrypt: base64 decode: %w", err)
	}

	plaintext, err := e.DecryptBytes(data)
	if err != nil {
		return "", err
	}
	return string(plaintext), nil
}

// EncryptBytes encrypts the data and returns the nonce prepended to the ciphertext.
func (e *PHIEncryptor) EncryptBytes(data []byte) ([]byte, error) {
	nonce := make([]byte, e.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("phi encrypt: generate nonce: %w", err)
	}
	return e.aead.Seal(nonce, nonce, data, nil), nil
}

func (e *PHIEncryptor) DecryptBytes(data []byte) ([]byte, error) {
	nonceSize := e.aead.NonceSize()
	if len(data) < nonceSize {
		return nil, fmt.Errorf("phi decrypt: ciphertext too short")
	}

	nonce, ciphertext := data[:nonceSize], data[nonceSize:]
	plaintext, err := e.aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("phi decrypt: %w", err)
	}
	return plaintext, nil
}

// Reveal decrypts a stored PHI field. Ciphertext that fails to open is
// logged and replaced with Unreadable; it is never handed back to the caller.
func Reveal(c Cipher, stored string, logger zerolog.Logger) string {
	plain, err := c.Decrypt(stored)
	if err != nil {
		logger.Warn().Err(err).Msg("phi field could not be decrypted")
		return Unreadable
	}
	return plain
}

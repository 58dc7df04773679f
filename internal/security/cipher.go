package security

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
)

const (
	ivSize  = 12
	keySize = 32
)

var ErrDecrypt = errors.New("decryption failed")

// PANCipher encrypts card numbers with AES-256-GCM. Output layout is
// base64(iv || ciphertext || tag) with a fresh random iv per call.
type PANCipher struct {
	aead cipher.AEAD
}

func NewPANCipher(base64Key string) (*PANCipher, error) {
	key, err := base64.StdEncoding.DecodeString(base64Key)
	if err != nil {
		return nil, fmt.Errorf("NewPANCipher: decode key: %w", err)
	}
	if len(key) != keySize {
		return nil, fmt.Errorf("NewPANCipher: key must be %d bytes, got %d", keySize, len(key))
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("NewPANCipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("NewPANCipher: %w", err)
	}
	return &PANCipher{aead: aead}, nil
}

func (c *PANCipher) Encrypt(plain string) (string, error) {
	iv := make([]byte, ivSize, ivSize+len(plain)+c.aead.Overhead())
	if _, err := rand.Read(iv); err != nil {
		return "", fmt.Errorf("Encrypt: iv: %w", err)
	}
	out := c.aead.Seal(iv, iv, []byte(plain), nil)
	return base64.StdEncoding.EncodeToString(out), nil
}

func (c *PANCipher) Decrypt(encoded string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil || len(raw) < ivSize+c.aead.Overhead() {
		return "", ErrDecrypt
	}
	plain, err := c.aead.Open(nil, raw[:ivSize], raw[ivSize:], nil)
	if err != nil {
		return "", ErrDecrypt
	}
	return string(plain), nil
}

// BlindIndex is the deterministic lookup key for a PAN.
func BlindIndex(pan string) string {
	sum := sha256.Sum256([]byte(pan))
	return base64.StdEncoding.EncodeToString(sum[:])
}

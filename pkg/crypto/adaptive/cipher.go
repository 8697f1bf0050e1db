// Package adaptive provides authenticated encryption with automatic
// algorithm selection.
//
// It picks the cipher best suited to the host hardware:
//   - AES-GCM where AES instructions are available (amd64, arm64)
//   - ChaCha20-Poly1305 elsewhere
package adaptive

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"io"
	"runtime"

	"golang.org/x/crypto/chacha20poly1305"
)

// CipherType identifies the cipher algorithm.
type CipherType string

const (
	CipherAESGCM   CipherType = "aes-gcm"
	CipherChaCha20 CipherType = "chacha20-poly1305"
)

// Cipher provides authenticated encryption.
type Cipher interface {
	// Type returns the cipher type.
	Type() CipherType

	// Encrypt encrypts plaintext with additional data.
	// The nonce is generated internally and prepended to the ciphertext.
	Encrypt(plaintext, additionalData []byte) ([]byte, error)

	// Decrypt decrypts ciphertext produced by Encrypt.
	Decrypt(ciphertext, additionalData []byte) ([]byte, error)

	// NonceSize returns the nonce size in bytes.
	NonceSize() int

	// Overhead returns the authentication tag size in bytes.
	Overhead() int
}

// New creates a cipher with the given 32-byte key, selecting the
// algorithm based on hardware.
func New(key []byte) (Cipher, error) {
	if hasAESHardware() {
		return NewAESGCM(key)
	}
	return NewChaCha20(key)
}

// NewWithType creates a cipher of the specified type.
func NewWithType(key []byte, cipherType CipherType) (Cipher, error) {
	switch cipherType {
	case CipherAESGCM:
		return NewAESGCM(key)
	case CipherChaCha20:
		return NewChaCha20(key)
	default:
		return nil, errors.New("unknown cipher type: " + string(cipherType))
	}
}

// hasAESHardware reports whether Go's crypto/aes is hardware accelerated
// on this architecture.
func hasAESHardware() bool {
	switch runtime.GOARCH {
	case "amd64", "arm64":
		return true
	default:
		return false
	}
}

type baseCipher struct {
	aead cipher.AEAD
}

func (c *baseCipher) NonceSize() int { return c.aead.NonceSize() }

func (c *baseCipher) Overhead() int { return c.aead.Overhead() }

func (c *baseCipher) encrypt(plaintext, additionalData []byte) ([]byte, error) {
	nonce := make([]byte, c.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}
	return c.aead.Seal(nonce, nonce, plaintext, additionalData), nil
}

func (c *baseCipher) decrypt(ciphertext, additionalData []byte) ([]byte, error) {
	if len(ciphertext) < c.aead.NonceSize() {
		return nil, errors.New("ciphertext too short")
	}
	nonce := ciphertext[:c.aead.NonceSize()]
	return c.aead.Open(nil, nonce, ciphertext[c.aead.NonceSize():], additionalData)
}

// AESGCM implements AES-GCM authenticated encryption.
type AESGCM struct {
	baseCipher
}

// NewAESGCM creates an AES-GCM cipher. Key must be 16, 24, or 32 bytes.
func NewAESGCM(key []byte) (*AESGCM, error) {
	switch len(key) {
	case 16, 24, 32:
	default:
		return nil, errors.New("invalid key size for AES-GCM: must be 16, 24, or 32 bytes")
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	return &AESGCM{baseCipher{aead}}, nil
}

func (c *AESGCM) Type() CipherType { return CipherAESGCM }

func (c *AESGCM) Encrypt(plaintext, additionalData []byte) ([]byte, error) {
	return c.encrypt(plaintext, additionalData)
}

func (c *AESGCM) Decrypt(ciphertext, additionalData []byte) ([]byte, error) {
	return c.decrypt(ciphertext, additionalData)
}

// ChaCha20 implements ChaCha20-Poly1305 authenticated encryption.
type ChaCha20 struct {
	baseCipher
}

// NewChaCha20 creates a ChaCha20-Poly1305 cipher. Key must be 32 bytes.
func NewChaCha20(key []byte) (*ChaCha20, error) {
	if len(key) != chacha20poly1305.KeySize {
		return nil, errors.New("invalid key size for ChaCha20-Poly1305: must be 32 bytes")
	}
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, err
	}
	return &ChaCha20{baseCipher{aead}}, nil
}

func (c *ChaCha20) Type() CipherType { return CipherChaCha20 }

func (c *ChaCha20) Encrypt(plaintext, additionalData []byte) ([]byte, error) {
	return c.encrypt(plaintext, additionalData)
}

func (c *ChaCha20) Decrypt(ciphertext, additionalData []byte) ([]byte, error) {
	return c.decrypt(ciphertext, additionalData)
}

package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
)

var (
	ErrInvalidKey = errors.New("encryption key must be 32 bytes, base64 or hex encoded")
	ErrDecrypt    = errors.New("failed to decrypt billing key")
)

// EncryptionService protects billing keys at rest.
type EncryptionService interface {
	Encrypt(plaintext string) (ciphertext, iv string, err error)
	Decrypt(ciphertext, iv string) (plaintext string, err error)
}

// AESEncryptionService is AES-256-GCM with a random nonce per value. The
// ciphertext and nonce are stored base64 encoded in separate columns.
type AESEncryptionService struct {
	aead cipher.AEAD
}

// NewAESEncryptionService accepts a 32 byte key as standard base64 or hex.
func NewAESEncryptionService(encodedKey string) (*AESEncryptionService, error) {
	key, err := decodeKey(encodedKey)
	if err != nil {
		return nil, err
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create gcm: %w", err)
	}
	return &AESEncryptionService{aead: gcm}, nil
}

func decodeKey(encoded string) ([]byte, error) {
	if key, err := base64.StdEncoding.DecodeString(encoded); err == nil && len(key) == 32 {
		return key, nil
	}
	if key, err := hex.DecodeString(encoded); err == nil && len(key) == 32 {
		return key, nil
	}
	return nil, ErrInvalidKey
}

func (s *AESEncryptionService) Encrypt(plaintext string) (string, string, error) {
	iv := make([]byte, s.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, iv); err != nil {
		return "", "", fmt.Errorf("failed to generate nonce: %w", err)
	}

	ciphertext := s.aead.Seal(nil, iv, []byte(plaintext), nil)

	return base64.StdEncoding.EncodeToString(ciphertext),
		base64.StdEncoding.EncodeToString(iv),
		nil
}

func (s *AESEncryptionService) Decrypt(ciphertextB64, ivB64 string) (string, error) {
	ciphertext, err := base64.StdEncoding.DecodeString(ciphertextB64)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDecrypt, err)
	}

	iv, err := base64.StdEncoding.DecodeString(ivB64)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDecrypt, err)
	}
	if len(iv) != s.aead.NonceSize() {
		return "", fmt.Errorf("%w: invalid nonce size %d", ErrDecrypt, len(iv))
	}

	plaintext, err := s.aead.Open(nil, iv, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDecrypt, err)
	}

	return string(plaintext), nil
}

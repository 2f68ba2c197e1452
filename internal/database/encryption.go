package database

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"os"

	"golang.org/x/crypto/pbkdf2"
)

const (
	keySize    = 32     // AES-256
	nonceSize  = 12     // GCM standard nonce size
	iterations = 100000 // PBKDF2 iterations

	encryptionSecretEnvVar = "SENDFLEET_ENCRYPTION_SECRET"
	encryptionSalt         = "sendfleet-session-store"
)

// encryptor protects session blobs at rest. Session material is the only
// payload encrypted by the store; the core never interprets its contents.
type encryptor struct {
	gcm cipher.AEAD
}

func NewEncryptor() (*encryptor, error) {
	secret := os.Getenv(encryptionSecretEnvVar)
	if secret == "" {
		// Encryption is opt-in; without a secret blobs are stored as-is.
		return &encryptor{gcm: nil}, nil
	}

	key := pbkdf2.Key([]byte(secret), []byte(encryptionSalt), iterations, keySize, sha256.New)

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}

	return &encryptor{gcm: gcm}, nil
}

// EncryptBlob seals a session blob for storage. Empty input and disabled
// encryption both pass through unchanged.
func (e *encryptor) EncryptBlob(blob []byte) (string, error) {
	if len(blob) == 0 {
		return "", nil
	}
	if e.gcm == nil {
		return base64.StdEncoding.EncodeToString(blob), nil
	}

	nonce := make([]byte, nonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}

	ciphertext := e.gcm.Seal(nil, nonce, blob, nil)
	return base64.StdEncoding.EncodeToString(append(nonce, ciphertext...)), nil
}

// DecryptBlob restores a session blob previously sealed by EncryptBlob.
func (e *encryptor) DecryptBlob(stored string) ([]byte, error) {
	if stored == "" {
		return nil, nil
	}

	raw, err := base64.StdEncoding.DecodeString(stored)
	if err != nil {
		return nil, fmt.Errorf("failed to decode session blob: %w", err)
	}
	if e.gcm == nil {
		return raw, nil
	}

	if len(raw) < nonceSize {
		return nil, fmt.Errorf("session blob too short")
	}

	plaintext, err := e.gcm.Open(nil, raw[:nonceSize], raw[nonceSize:], nil)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt session blob: %w", err)
	}
	return plaintext, nil
}

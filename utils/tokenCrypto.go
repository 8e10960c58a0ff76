package utils

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
)

var (
	tokenGCM     cipher.AEAD
	tokenGCMOnce sync.Once
	tokenGCMErr  error
)

// tokenCipher builds the AEAD from TOKEN_ENCRYPTION_KEY, a base64-encoded
// 32-byte key.
func tokenCipher() (cipher.AEAD, error) {
	tokenGCMOnce.Do(func() {
		encoded := os.Getenv("TOKEN_ENCRYPTION_KEY")
		if encoded == "" {
			tokenGCMErr = errors.New("TOKEN_ENCRYPTION_KEY is required")
			return
		}
		key, err := base64.StdEncoding.DecodeString(encoded)
		if err != nil {
			tokenGCMErr = fmt.Errorf("invalid base64 encryption key: %w", err)
			return
		}
		if len(key) != 32 {
			tokenGCMErr = fmt.Errorf("encryption key must be 32 bytes, got %d", len(key))
			return
		}
		block, err := aes.NewCipher(key)
		if err != nil {
			tokenGCMErr = err
			return
		}
		tokenGCM, tokenGCMErr = cipher.NewGCM(block)
	})
	return tokenGCM, tokenGCMErr
}

// SealToken encrypts an OAuth token for storage. Output is
// base64(nonce || ciphertext).
func SealToken(plain string) (string, error) {
	gcm, err := tokenCipher()
	if err != nil {
		return "", err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", err
	}
	sealed := gcm.Seal(nonce, nonce, []byte(plain), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// OpenToken reverses SealToken.
func OpenToken(sealed string) (string, error) {
	gcm, err := tokenCipher()
	if err != nil {
		return "", err
	}
	raw, err := base64.StdEncoding.DecodeString(sealed)
	if err != nil {
		return "", fmt.Errorf("invalid sealed token: %w", err)
	}
	if len(raw) < gcm.NonceSize() {
		return "", errors.New("sealed token too short")
	}
	nonce := raw[:gcm.NonceSize()]
	plain, err := gcm.Open(nil, nonce, raw[gcm.NonceSize():], nil)
	if err != nil {
		return "", fmt.Errorf("cannot decrypt token: %w", err)
	}
	return string(plain), nil
}

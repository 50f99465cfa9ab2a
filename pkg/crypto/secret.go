package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"io"
	"strings"
)

// SecretPrefix помечает зашифрованные значения в конфигурации: enc:<base64>
const SecretPrefix = "enc:"

var (
	ErrInvalidKeyLength  = errors.New("encryption key must be 32 bytes (raw, hex or base64)")
	ErrInvalidCiphertext = errors.New("invalid ciphertext")
	ErrDecryptionFailed  = errors.New("decryption failed: authentication error")
	ErrMissingKey        = errors.New("encrypted secret found but ENCRYPTION_KEY is not set")
)

// ParseKey принимает ключ AES-256 в виде 32 байт, 64 hex-символов или base64
func ParseKey(s string) ([]byte, error) {
	switch {
	case len(s) == 32:
		return []byte(s), nil
	case len(s) == 64:
		if b, err := hex.DecodeString(s); err == nil {
			return b, nil
		}
	}
	if b, err := base64.StdEncoding.DecodeString(s); err == nil && len(b) == 32 {
		return b, nil
	}
	return nil, ErrInvalidKeyLength
}

func newGCM(key []byte) (cipher.AEAD, error) {
	if len(key) != 32 {
		return nil, ErrInvalidKeyLength
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

// Seal шифрует секрет AES-256-GCM и возвращает enc:<base64(nonce|ciphertext)>
func Seal(plaintext string, key []byte) (string, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return "", err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", err
	}

	sealed := gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	return SecretPrefix + base64.StdEncoding.EncodeToString(sealed), nil
}

// Open расшифровывает значение из конфигурации.
//
// Значения без префикса enc: возвращаются как есть, поэтому
// незашифрованные ключи API тоже допустимы.
func Open(value string, key []byte) (string, error) {
	if !strings.HasPrefix(value, SecretPrefix) {
		return value, nil
	}
	if len(key) == 0 {
		return "", ErrMissingKey
	}

	gcm, err := newGCM(key)
	if err != nil {
		return "", err
	}

	raw, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(value, SecretPrefix))
	if err != nil || len(raw) < gcm.NonceSize() {
		return "", ErrInvalidCiphertext
	}

	nonce, data := raw[:gcm.NonceSize()], raw[gcm.NonceSize():]
	plaintext, err := gcm.Open(nil, nonce, data, nil)
	if err != nil {
		return "", ErrDecryptionFailed
	}
	return string(plaintext), nil
}

// IsSealed - зашифровано ли значение
func IsSealed(value string) bool {
	return strings.HasPrefix(value, SecretPrefix)
}

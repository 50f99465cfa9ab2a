package crypto

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"

	"golang.org/x/crypto/bcrypt"
)

var (
	ErrEmptyToken    = errors.New("token cannot be empty")
	ErrTokenMismatch = errors.New("token does not match hash")
	ErrInvalidHash   = errors.New("invalid token hash format")
)

// DefaultCost - стоимость bcrypt для токенов API
const DefaultCost = 12

// bcrypt учитывает только 72 байта, поэтому токен предварительно сворачивается в sha256
func digest(token string) []byte {
	sum := sha256.Sum256([]byte(token))
	return []byte(hex.EncodeToString(sum[:]))
}

// HashToken хеширует bearer-токен API для хранения в конфигурации
func HashToken(token string, cost int) (string, error) {
	if token == "" {
		return "", ErrEmptyToken
	}
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = DefaultCost
	}

	hash, err := bcrypt.GenerateFromPassword(digest(token), cost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// VerifyToken сверяет токен с bcrypt-хешем
func VerifyToken(token, hash string) error {
	if token == "" {
		return ErrEmptyToken
	}
	if hash == "" {
		return ErrInvalidHash
	}

	err := bcrypt.CompareHashAndPassword([]byte(hash), digest(token))
	switch {
	case err == nil:
		return nil
	case errors.Is(err, bcrypt.ErrMismatchedHashAndPassword):
		return ErrTokenMismatch
	default:
		return ErrInvalidHash
	}
}

// ValidHash - проверка формата хеша при загрузке конфигурации
func ValidHash(hash string) bool {
	_, err := bcrypt.Cost([]byte(hash))
	return err == nil
}

package middleware

import (
	"crypto/sha256"
	"net/http"
	"strings"
	"sync"

	"leverage/pkg/crypto"
)

// Auth - проверка bearer-токена по bcrypt-хешу
//
// Пустой хеш отключает проверку (локальное развертывание).
// bcrypt дорогой, поэтому успешно проверенные токены кешируются по sha256.
func Auth(tokenHash string) func(http.Handler) http.Handler {
	if tokenHash == "" {
		return func(next http.Handler) http.Handler { return next }
	}

	var verified sync.Map // [32]byte -> struct{}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method == http.MethodOptions {
				next.ServeHTTP(w, r)
				return
			}

			token, ok := bearerToken(r)
			if !ok {
				w.Header().Set("WWW-Authenticate", `Bearer realm="api"`)
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}

			key := sha256.Sum256([]byte(token))
			if _, hit := verified.Load(key); !hit {
				if err := crypto.VerifyToken(token, tokenHash); err != nil {
					w.Header().Set("WWW-Authenticate", `Bearer realm="api", error="invalid_token"`)
					http.Error(w, "Unauthorized", http.StatusUnauthorized)
					return
				}
				verified.Store(key, struct{}{})
			}

			next.ServeHTTP(w, r)
		})
	}
}

// bearerToken извлекает токен из Authorization или query параметра token (для /ws)
func bearerToken(r *http.Request) (string, bool) {
	if h := r.Header.Get("Authorization"); h != "" {
		scheme, token, found := strings.Cut(h, " ")
		if !found || !strings.EqualFold(scheme, "Bearer") {
			return "", false
		}
		token = strings.TrimSpace(token)
		return token, token != ""
	}
	if t := r.URL.Query().Get("token"); t != "" {
		return t, true
	}
	return "", false
}

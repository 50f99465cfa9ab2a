package handlers

import (
	"context"
	"errors"
	"net/http"

	"leverage/internal/risk"
	"leverage/pkg/utils"
)

// TokenReader - карточки токенов из ленты сигналов
type TokenReader interface {
	TokenInfo(ctx context.Context, chain, address string) (*risk.TokenInfo, error)
}

// TokenHandler отвечает за карточки токенов
//
// Endpoints:
// - GET /api/v1/tokens?q={адрес или ссылка birdeye/dexscreener}
// - GET /api/v1/tokens?q=...&chain=base - сеть задана явно
type TokenHandler struct {
	tokens TokenReader
}

// NewTokenHandler создает новый TokenHandler
func NewTokenHandler(tokens TokenReader) *TokenHandler {
	return &TokenHandler{tokens: tokens}
}

// GetToken возвращает карточку токена
//
// HTTP коды:
// - 400 Bad Request: q не адрес и не ссылка на график, либо сеть не определена
// - 404 Not Found: токен неизвестен ленте
// - 503 Service Unavailable: лента недоступна или не настроена
func (h *TokenHandler) GetToken(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	ref := utils.ExtractTokenAddress(query.Get("q"))
	if !ref.IsAddress() {
		respondWithError(w, http.StatusBadRequest, "invalid_query", "q must be a token address or chart link")
		return
	}
	if chain := query.Get("chain"); chain != "" {
		ref.Chain = chain
	}
	if ref.Chain == "" {
		respondWithError(w, http.StatusBadRequest, "invalid_query", "chain cannot be inferred, pass ?chain=")
		return
	}

	info, err := h.tokens.TokenInfo(r.Context(), ref.Chain, ref.Address)
	switch {
	case err == nil:
		respondWithJSON(w, http.StatusOK, info)
	case errors.Is(err, risk.ErrTokenNotFound):
		respondWithError(w, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, risk.ErrProbeUnavailable):
		respondWithError(w, http.StatusServiceUnavailable, "feed_unavailable", err.Error())
	default:
		respondWithError(w, http.StatusInternalServerError, "internal", err.Error())
	}
}

package handlers

import (
	"net/http"

	jsoniter "github.com/json-iterator/go"

	"leverage/pkg/utils"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// maxBodyBytes - предел тела запроса
const maxBodyBytes = 1 << 20

// ErrorResponse стандартный формат ответа об ошибке для всех API endpoints
type ErrorResponse struct {
	Error   string   `json:"error"`
	Code    string   `json:"code,omitempty"`
	Reasons []string `json:"reasons,omitempty"`
}

// respondWithJSON отправляет JSON ответ
func respondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		utils.Warn("failed to encode response", utils.Err(err))
	}
}

// respondWithError отправляет JSON ошибку
func respondWithError(w http.ResponseWriter, code int, errCode, message string) {
	respondWithJSON(w, code, ErrorResponse{Error: message, Code: errCode})
}

// decodeBody читает JSON тело с ограничением размера
func decodeBody(w http.ResponseWriter, r *http.Request, dst interface{}) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	return json.NewDecoder(r.Body).Decode(dst)
}

package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/gorilla/mux"

	"leverage/internal/bot"
	"leverage/internal/models"
	"leverage/internal/repository"
)

// LifecycleManager - операции менеджера позиций, доступные через API
type LifecycleManager interface {
	Submit(ctx context.Context, c models.Candidate) (models.Position, error)
	Analyze(ctx context.Context, c models.Candidate) (models.AggregateVerdict, error)
	RequestManualClose(ctx context.Context, positionID string) error
	Position(id string) (models.Position, bool)
	Positions() []models.Position
}

// History - сохранённая история позиций
type History interface {
	Transitions(ctx context.Context, positionID string) ([]models.TransitionRecord, error)
	StoredPosition(ctx context.Context, id string) (*models.Position, error)
}

// PositionHandler отвечает за кандидатов и позиции
//
// Endpoints:
// - POST /api/v1/candidates - подать кандидата (риск-гейт + открытие)
// - POST /api/v1/analysis - сухой прогон риск-анализа
// - GET /api/v1/positions - позиции текущего запуска (?active=true - только в работе)
// - GET /api/v1/positions/{id} - позиция (память, затем хранилище)
// - GET /api/v1/positions/{id}/transitions - журнал переходов
// - POST /api/v1/positions/{id}/close - ручное закрытие
type PositionHandler struct {
	manager LifecycleManager
	history History
}

// NewPositionHandler создает новый PositionHandler
func NewPositionHandler(manager LifecycleManager, history History) *PositionHandler {
	return &PositionHandler{manager: manager, history: history}
}

// SubmitResponse - результат подачи кандидата
type SubmitResponse struct {
	PositionID string               `json:"position_id"`
	State      models.PositionState `json:"state"`
	Position   models.Position      `json:"position"`
}

// RejectedResponse - кандидат отклонён гейтом
type RejectedResponse struct {
	Error      string   `json:"error"`
	PositionID string   `json:"position_id,omitempty"`
	Reasons    []string `json:"reasons"`
}

// SubmitCandidate подаёт кандидата
//
// POST /api/v1/candidates
//
// HTTP коды:
// - 201 Created: позиция открыта
// - 400 Bad Request: невалидный кандидат
// - 422 Unprocessable Entity: отклонён риск-гейтом, в ответе причины
// - 502 Bad Gateway: площадка не открыла позицию
// - 503 Service Unavailable: менеджер останавливается
func (h *PositionHandler) SubmitCandidate(w http.ResponseWriter, r *http.Request) {
	var c models.Candidate
	if err := decodeBody(w, r, &c); err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid_body", "invalid request body: "+err.Error())
		return
	}

	pos, err := h.manager.Submit(r.Context(), c)

	var rejected *bot.RejectedError
	switch {
	case err == nil:
		respondWithJSON(w, http.StatusCreated, SubmitResponse{PositionID: pos.ID, State: pos.State, Position: pos})
	case errors.As(err, &rejected):
		respondWithJSON(w, http.StatusUnprocessableEntity, RejectedResponse{
			Error:      "candidate rejected",
			PositionID: rejected.PositionID,
			Reasons:    rejected.Reasons,
		})
	case errors.Is(err, bot.ErrInvalidCandidate):
		respondWithError(w, http.StatusBadRequest, "invalid_candidate", err.Error())
	case errors.Is(err, bot.ErrOpenFailed):
		respondWithJSON(w, http.StatusBadGateway, map[string]interface{}{
			"error":       err.Error(),
			"code":        "open_failed",
			"position_id": pos.ID,
		})
	case errors.Is(err, bot.ErrShuttingDown):
		respondWithError(w, http.StatusServiceUnavailable, "shutting_down", err.Error())
	default:
		respondWithError(w, http.StatusInternalServerError, "internal", err.Error())
	}
}

// Analyze - сухой прогон
//
// POST /api/v1/analysis
func (h *PositionHandler) Analyze(w http.ResponseWriter, r *http.Request) {
	var c models.Candidate
	if err := decodeBody(w, r, &c); err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid_body", "invalid request body: "+err.Error())
		return
	}

	verdict, err := h.manager.Analyze(r.Context(), c)
	if err != nil {
		if errors.Is(err, bot.ErrInvalidCandidate) {
			respondWithError(w, http.StatusBadRequest, "invalid_candidate", err.Error())
			return
		}
		respondWithError(w, http.StatusInternalServerError, "internal", err.Error())
		return
	}
	respondWithJSON(w, http.StatusOK, verdict)
}

// PositionView - позиция с описанием состояния для UI
type PositionView struct {
	models.Position
	StateInfo string `json:"state_info"`
	Active    bool   `json:"active"` // позиция в работе на площадке
}

func newPositionView(p models.Position) PositionView {
	return PositionView{Position: p, StateInfo: bot.StateInfo(p.State), Active: bot.IsActive(p.State)}
}

// ListPositionsResponse - список позиций
type ListPositionsResponse struct {
	Positions []PositionView `json:"positions"`
	Total     int            `json:"total"`
}

// ListPositions - позиции текущего запуска
//
// GET /api/v1/positions
//
// Query параметры:
// - active: true - только позиции, которые сейчас на площадке
func (h *PositionHandler) ListPositions(w http.ResponseWriter, r *http.Request) {
	activeOnly := r.URL.Query().Get("active") == "true"

	views := []PositionView{}
	for _, p := range h.manager.Positions() {
		if activeOnly && !bot.IsActive(p.State) {
			continue
		}
		views = append(views, newPositionView(p))
	}
	respondWithJSON(w, http.StatusOK, ListPositionsResponse{Positions: views, Total: len(views)})
}

// GetPosition возвращает позицию
//
// GET /api/v1/positions/{id}
//
// Позиции прошлых запусков читаются из хранилища.
func (h *PositionHandler) GetPosition(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	if pos, ok := h.manager.Position(id); ok {
		respondWithJSON(w, http.StatusOK, newPositionView(pos))
		return
	}

	if h.history != nil {
		pos, err := h.history.StoredPosition(r.Context(), id)
		switch {
		case err == nil:
			respondWithJSON(w, http.StatusOK, newPositionView(*pos))
			return
		case !errors.Is(err, repository.ErrPositionNotFound):
			respondWithError(w, http.StatusInternalServerError, "internal", err.Error())
			return
		}
	}

	respondWithError(w, http.StatusNotFound, "not_found", "position not found")
}

// TransitionsResponse - журнал переходов позиции
type TransitionsResponse struct {
	PositionID  string                    `json:"position_id"`
	Transitions []models.TransitionRecord `json:"transitions"`
}

// GetTransitions - журнал переходов
//
// GET /api/v1/positions/{id}/transitions
func (h *PositionHandler) GetTransitions(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	if h.history == nil {
		respondWithError(w, http.StatusServiceUnavailable, "no_storage", "transition history is not configured")
		return
	}

	records, err := h.history.Transitions(r.Context(), id)
	if err != nil {
		respondWithError(w, http.StatusInternalServerError, "internal", err.Error())
		return
	}
	if len(records) == 0 {
		if _, ok := h.manager.Position(id); !ok {
			respondWithError(w, http.StatusNotFound, "not_found", "position not found")
			return
		}
		records = []models.TransitionRecord{}
	}

	respondWithJSON(w, http.StatusOK, TransitionsResponse{PositionID: id, Transitions: records})
}

// ClosePosition - ручное закрытие
//
// POST /api/v1/positions/{id}/close
//
// HTTP коды:
// - 202 Accepted: позиция в CLOSING, закрытие идёт в фоне
// - 404 Not Found: позиция неизвестна
// - 409 Conflict: позиция не в состоянии OPEN
func (h *PositionHandler) ClosePosition(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	err := h.manager.RequestManualClose(r.Context(), id)
	switch {
	case err == nil:
		state := models.StateClosing
		if pos, ok := h.manager.Position(id); ok {
			state = pos.State
		}
		respondWithJSON(w, http.StatusAccepted, map[string]interface{}{"position_id": id, "state": state})
	case errors.Is(err, bot.ErrPositionNotFound):
		respondWithError(w, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, bot.ErrNotOpen):
		respondWithError(w, http.StatusConflict, "not_open", err.Error())
	default:
		respondWithError(w, http.StatusInternalServerError, "internal", err.Error())
	}
}

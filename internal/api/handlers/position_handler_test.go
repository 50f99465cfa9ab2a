package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"leverage/internal/bot"
	"leverage/internal/models"
	"leverage/internal/venue"
)

const candidateBody = `{"instrument":"ETHUSDT","venue":"bybit","size":"100","leverage":5}`

func withID(req *http.Request, id string) *http.Request {
	return mux.SetURLVars(req, map[string]string{"id": id})
}

func TestSubmitCandidate(t *testing.T) {
	tests := []struct {
		name     string
		pos      models.Position
		err      error
		wantCode int
		wantBody string
	}{
		{
			name:     "opened",
			pos:      models.Position{ID: "p1", State: models.StateOpen},
			wantCode: http.StatusCreated,
			wantBody: `"position_id":"p1"`,
		},
		{
			name:     "rejected",
			pos:      models.Position{ID: "p2", State: models.StateRejected},
			err:      &bot.RejectedError{PositionID: "p2", Reasons: []string{"bybit: High fraud risk detected"}},
			wantCode: http.StatusUnprocessableEntity,
			wantBody: "High fraud risk detected",
		},
		{
			name:     "open failed",
			pos:      models.Position{ID: "p3", State: models.StateFailed},
			err:      fmt.Errorf("%w: %w", bot.ErrOpenFailed, venue.ErrRejected),
			wantCode: http.StatusBadGateway,
			wantBody: `"position_id":"p3"`,
		},
		{
			name:     "invalid",
			err:      fmt.Errorf("%w: size must be positive", bot.ErrInvalidCandidate),
			wantCode: http.StatusBadRequest,
			wantBody: "size must be positive",
		},
		{
			name:     "shutting down",
			err:      bot.ErrShuttingDown,
			wantCode: http.StatusServiceUnavailable,
		},
		{
			name:     "unexpected",
			err:      errors.New("boom"),
			wantCode: http.StatusInternalServerError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mgr := newMockManager()
			mgr.submitPos = tt.pos
			mgr.submitErr = tt.err
			h := NewPositionHandler(mgr, &mockHistory{})

			req := httptest.NewRequest(http.MethodPost, "/api/v1/candidates", strings.NewReader(candidateBody))
			w := httptest.NewRecorder()
			h.SubmitCandidate(w, req)

			assert.Equal(t, tt.wantCode, w.Code)
			if tt.wantBody != "" {
				assert.Contains(t, w.Body.String(), tt.wantBody)
			}
		})
	}
}

func TestSubmitCandidate_DecodesCandidate(t *testing.T) {
	mgr := newMockManager()
	mgr.submitPos = models.Position{ID: "p1", State: models.StateOpen}
	h := NewPositionHandler(mgr, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/candidates", strings.NewReader(candidateBody))
	w := httptest.NewRecorder()
	h.SubmitCandidate(w, req)

	require.Len(t, mgr.submitted, 1)
	c := mgr.submitted[0]
	assert.Equal(t, "ETHUSDT", c.Instrument)
	assert.Equal(t, "bybit", c.Venue)
	assert.Equal(t, "100", c.Size.String())
	assert.Equal(t, 5.0, c.Leverage)
}

func TestSubmitCandidate_BadBody(t *testing.T) {
	h := NewPositionHandler(newMockManager(), nil)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/candidates", strings.NewReader("{not json"))
	w := httptest.NewRecorder()
	h.SubmitCandidate(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAnalyze(t *testing.T) {
	mgr := newMockManager()
	mgr.verdict = models.AggregateVerdict{Score: 12.5, Recommended: true, Reasons: []string{}}
	h := NewPositionHandler(mgr, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/analysis", strings.NewReader(candidateBody))
	w := httptest.NewRecorder()
	h.Analyze(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"recommended":true`)

	req = httptest.NewRequest(http.MethodPost, "/api/v1/analysis", strings.NewReader(`{"venue":"bybit"}`))
	w = httptest.NewRecorder()
	h.Analyze(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestListPositions(t *testing.T) {
	mgr := newMockManager()
	h := NewPositionHandler(mgr, nil)

	w := httptest.NewRecorder()
	h.ListPositions(w, httptest.NewRequest(http.MethodGet, "/api/v1/positions", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"total":0`)
	assert.Contains(t, w.Body.String(), `"positions":[]`)

	mgr.positions["a"] = models.Position{ID: "a", State: models.StateOpen}
	mgr.positions["b"] = models.Position{ID: "b", State: models.StateClosed}
	w = httptest.NewRecorder()
	h.ListPositions(w, httptest.NewRequest(http.MethodGet, "/api/v1/positions", nil))
	assert.Contains(t, w.Body.String(), `"total":2`)
}

func TestListPositions_ActiveFilter(t *testing.T) {
	mgr := newMockManager()
	mgr.positions["open"] = models.Position{ID: "open", State: models.StateOpen}
	mgr.positions["closing"] = models.Position{ID: "closing", State: models.StateClosing}
	mgr.positions["closed"] = models.Position{ID: "closed", State: models.StateClosed}
	mgr.positions["rejected"] = models.Position{ID: "rejected", State: models.StateRejected}
	h := NewPositionHandler(mgr, nil)

	w := httptest.NewRecorder()
	h.ListPositions(w, httptest.NewRequest(http.MethodGet, "/api/v1/positions?active=true", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var list ListPositionsResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	assert.Equal(t, 2, list.Total)

	ids := make([]string, 0, len(list.Positions))
	for _, p := range list.Positions {
		assert.True(t, p.Active)
		ids = append(ids, p.ID)
	}
	assert.ElementsMatch(t, []string{"open", "closing"}, ids)
}

func TestGetPosition_StateInfo(t *testing.T) {
	mgr := newMockManager()
	mgr.positions["live"] = models.Position{ID: "live", State: models.StateOpen}
	hist := &mockHistory{stored: map[string]*models.Position{
		"old": {ID: "old", State: models.StateClosed},
	}}
	h := NewPositionHandler(mgr, hist)

	tests := []struct {
		id     string
		info   string
		active bool
	}{
		{"live", bot.StateInfo(models.StateOpen), true},
		{"old", bot.StateInfo(models.StateClosed), false},
	}

	for _, tt := range tests {
		t.Run(tt.id, func(t *testing.T) {
			w := httptest.NewRecorder()
			h.GetPosition(w, withID(httptest.NewRequest(http.MethodGet, "/", nil), tt.id))
			require.Equal(t, http.StatusOK, w.Code)

			var view PositionView
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &view))
			assert.Equal(t, tt.id, view.ID)
			assert.Equal(t, tt.info, view.StateInfo)
			assert.Equal(t, tt.active, view.Active)
		})
	}
}

func TestGetPosition(t *testing.T) {
	mgr := newMockManager()
	mgr.positions["live"] = models.Position{ID: "live", State: models.StateOpen}
	hist := &mockHistory{stored: map[string]*models.Position{
		"old": {ID: "old", State: models.StateClosed},
	}}
	h := NewPositionHandler(mgr, hist)

	tests := []struct {
		id       string
		wantCode int
		wantBody string
	}{
		{"live", http.StatusOK, `"state":"OPEN"`},
		{"old", http.StatusOK, `"state":"CLOSED"`},
		{"missing", http.StatusNotFound, "not_found"},
	}

	for _, tt := range tests {
		t.Run(tt.id, func(t *testing.T) {
			w := httptest.NewRecorder()
			h.GetPosition(w, withID(httptest.NewRequest(http.MethodGet, "/", nil), tt.id))
			assert.Equal(t, tt.wantCode, w.Code)
			assert.Contains(t, w.Body.String(), tt.wantBody)
		})
	}
}

func TestGetPosition_StorageError(t *testing.T) {
	h := NewPositionHandler(newMockManager(), &mockHistory{err: errors.New("db down")})

	w := httptest.NewRecorder()
	h.GetPosition(w, withID(httptest.NewRequest(http.MethodGet, "/", nil), "x"))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestGetTransitions(t *testing.T) {
	mgr := newMockManager()
	mgr.positions["fresh"] = models.Position{ID: "fresh", State: models.StateProposed}
	hist := &mockHistory{transitions: map[string][]models.TransitionRecord{
		"p1": {
			{PositionID: "p1", From: models.StateProposed, To: models.StateOpening},
			{PositionID: "p1", From: models.StateOpening, To: models.StateOpen},
		},
	}}
	h := NewPositionHandler(mgr, hist)

	w := httptest.NewRecorder()
	h.GetTransitions(w, withID(httptest.NewRequest(http.MethodGet, "/", nil), "p1"))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"to_state":"OPEN"`)

	w = httptest.NewRecorder()
	h.GetTransitions(w, withID(httptest.NewRequest(http.MethodGet, "/", nil), "fresh"))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"transitions":[]`)

	w = httptest.NewRecorder()
	h.GetTransitions(w, withID(httptest.NewRequest(http.MethodGet, "/", nil), "missing"))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestClosePosition(t *testing.T) {
	mgr := newMockManager()
	mgr.positions["open"] = models.Position{ID: "open", State: models.StateOpen}
	mgr.positions["closed"] = models.Position{ID: "closed", State: models.StateClosed}
	h := NewPositionHandler(mgr, nil)

	tests := []struct {
		id       string
		wantCode int
	}{
		{"open", http.StatusAccepted},
		{"open", http.StatusConflict}, // уже CLOSING
		{"closed", http.StatusConflict},
		{"missing", http.StatusNotFound},
	}

	for _, tt := range tests {
		w := httptest.NewRecorder()
		h.ClosePosition(w, withID(httptest.NewRequest(http.MethodPost, "/", nil), tt.id))
		assert.Equal(t, tt.wantCode, w.Code, tt.id)
	}
}

package handlers

import (
	"context"
	"sort"

	"leverage/internal/bot"
	"leverage/internal/models"
	"leverage/internal/repository"
)

// ============================================================
// Mocks
// ============================================================

type mockManager struct {
	positions map[string]models.Position
	submitPos models.Position
	submitErr error
	verdict   models.AggregateVerdict
	closeErr  error
	submitted []models.Candidate
}

func newMockManager() *mockManager {
	return &mockManager{positions: make(map[string]models.Position)}
}

func (m *mockManager) Submit(ctx context.Context, c models.Candidate) (models.Position, error) {
	m.submitted = append(m.submitted, c)
	return m.submitPos, m.submitErr
}

func (m *mockManager) Analyze(ctx context.Context, c models.Candidate) (models.AggregateVerdict, error) {
	if c.Instrument == "" {
		return models.AggregateVerdict{}, bot.ErrInvalidCandidate
	}
	return m.verdict, nil
}

func (m *mockManager) RequestManualClose(ctx context.Context, id string) error {
	if m.closeErr != nil {
		return m.closeErr
	}
	p, ok := m.positions[id]
	if !ok {
		return bot.ErrPositionNotFound
	}
	if p.State != models.StateOpen {
		return bot.ErrNotOpen
	}
	p.State = models.StateClosing
	m.positions[id] = p
	return nil
}

func (m *mockManager) Position(id string) (models.Position, bool) {
	p, ok := m.positions[id]
	return p, ok
}

func (m *mockManager) Positions() []models.Position {
	out := make([]models.Position, 0, len(m.positions))
	for _, p := range m.positions {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

type mockHistory struct {
	stored      map[string]*models.Position
	transitions map[string][]models.TransitionRecord
	err         error
}

func (m *mockHistory) Transitions(ctx context.Context, id string) ([]models.TransitionRecord, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.transitions[id], nil
}

func (m *mockHistory) StoredPosition(ctx context.Context, id string) (*models.Position, error) {
	if m.err != nil {
		return nil, m.err
	}
	if p, ok := m.stored[id]; ok {
		return p, nil
	}
	return nil, repository.ErrPositionNotFound
}

type mockNotifications struct {
	items     []*models.Notification
	lastTypes []string
	lastLimit int
	err       error
}

func (m *mockNotifications) GetNotifications(ctx context.Context, types []string, limit int) ([]*models.Notification, error) {
	m.lastTypes = types
	m.lastLimit = limit
	return m.items, m.err
}

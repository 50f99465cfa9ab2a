package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"leverage/internal/models"
)

// ============================================================
// Mocks
// ============================================================

type mockNotificationRepo struct {
	mu         sync.Mutex
	created    []*models.Notification
	createErr  error
	lastLimit  int
	lastTypes  []string
	recent     []*models.Notification
	deleted    int64
	deleteFrom time.Time
}

func (m *mockNotificationRepo) Create(ctx context.Context, n *models.Notification) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createErr != nil {
		return m.createErr
	}
	n.ID = len(m.created) + 1
	m.created = append(m.created, n)
	return nil
}

func (m *mockNotificationRepo) GetRecent(ctx context.Context, limit int, types ...string) ([]*models.Notification, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastLimit = limit
	m.lastTypes = types
	return m.recent, nil
}

func (m *mockNotificationRepo) DeleteOlderThan(ctx context.Context, before time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deleteFrom = before
	return m.deleted, nil
}

type mockBroadcaster struct {
	mu   sync.Mutex
	sent []*models.Notification
}

func (m *mockBroadcaster) BroadcastNotification(n *models.Notification) {
	m.mu.Lock()
	m.sent = append(m.sent, n)
	m.mu.Unlock()
}

type mockSink struct {
	name string
	err  error
	sent []*models.Notification
}

func (m *mockSink) Name() string { return m.name }

func (m *mockSink) Send(ctx context.Context, n *models.Notification) error {
	m.sent = append(m.sent, n)
	return m.err
}

type mockTransitionRepo struct {
	records []models.TransitionRecord
	snaps   []models.Position
	err     error
}

func (m *mockTransitionRepo) Record(ctx context.Context, rec models.TransitionRecord, pos models.Position) error {
	if m.err != nil {
		return m.err
	}
	m.records = append(m.records, rec)
	m.snaps = append(m.snaps, pos)
	return nil
}

func (m *mockTransitionRepo) ListByPosition(ctx context.Context, positionID string) ([]models.TransitionRecord, error) {
	var out []models.TransitionRecord
	for _, r := range m.records {
		if r.PositionID == positionID {
			out = append(out, r)
		}
	}
	return out, nil
}

var errNotStored = errors.New("not stored")

type mockPositionRepo struct {
	byID   map[string]*models.Position
	active []models.Position
}

func (m *mockPositionRepo) GetByID(ctx context.Context, id string) (*models.Position, error) {
	if p, ok := m.byID[id]; ok {
		return p, nil
	}
	return nil, errNotStored
}

func (m *mockPositionRepo) ListActive(ctx context.Context) ([]models.Position, error) {
	return m.active, nil
}

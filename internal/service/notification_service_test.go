package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"leverage/internal/models"
)

func TestNotify_FansOutToAllSinks(t *testing.T) {
	repo := &mockNotificationRepo{}
	hub := &mockBroadcaster{}
	tg := &mockSink{name: "telegram"}

	svc := NewNotificationService(repo, nil)
	svc.SetWebSocketHub(hub)
	svc.AddSink(tg)

	n := &models.Notification{Type: models.NotificationTypeOpen, Severity: models.SeverityInfo, Message: "opened"}
	svc.Notify(context.Background(), n)

	require.Len(t, repo.created, 1)
	assert.False(t, n.Timestamp.IsZero())
	assert.Equal(t, 1, n.ID)
	assert.Len(t, hub.sent, 1)
	assert.Len(t, tg.sent, 1)
}

func TestNotify_SinkFailuresAreIndependent(t *testing.T) {
	repo := &mockNotificationRepo{createErr: errors.New("db down")}
	hub := &mockBroadcaster{}
	broken := &mockSink{name: "broken", err: errors.New("timeout")}
	ok := &mockSink{name: "ok"}

	svc := NewNotificationService(repo, nil)
	svc.SetWebSocketHub(hub)
	svc.AddSink(broken)
	svc.AddSink(ok)

	svc.Notify(context.Background(), &models.Notification{Type: models.NotificationTypeLiquidation})

	assert.Empty(t, repo.created)
	assert.Len(t, hub.sent, 1)
	assert.Len(t, broken.sent, 1)
	assert.Len(t, ok.sent, 1)
}

func TestNotify_WithoutHub(t *testing.T) {
	repo := &mockNotificationRepo{}
	svc := NewNotificationService(repo, nil)

	assert.NotPanics(t, func() {
		svc.Notify(context.Background(), &models.Notification{Type: models.NotificationTypeClose})
	})
	assert.Len(t, repo.created, 1)
}

func TestGetNotifications_LimitNormalization(t *testing.T) {
	tests := []struct {
		name  string
		limit int
		want  int
	}{
		{"zero uses default", 0, 100},
		{"negative uses default", -5, 100},
		{"within range", 20, 20},
		{"capped", 10000, 500},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := &mockNotificationRepo{}
			svc := NewNotificationService(repo, nil)

			_, err := svc.GetNotifications(context.Background(), nil, tt.limit)
			require.NoError(t, err)
			assert.Equal(t, tt.want, repo.lastLimit)
		})
	}
}

func TestGetNotifications_TypeFilter(t *testing.T) {
	repo := &mockNotificationRepo{recent: []*models.Notification{{ID: 3}}}
	svc := NewNotificationService(repo, nil)

	got, err := svc.GetNotifications(context.Background(), []string{" open ", "bogus", "LIQUIDATION"}, 10)
	require.NoError(t, err)
	assert.Len(t, got, 1)
	assert.Equal(t, []string{models.NotificationTypeOpen, models.NotificationTypeLiquidation}, repo.lastTypes)
}

func TestCleanupOlderThan(t *testing.T) {
	repo := &mockNotificationRepo{deleted: 7}
	svc := NewNotificationService(repo, nil)

	n, err := svc.CleanupOlderThan(context.Background(), time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(7), n)
	assert.WithinDuration(t, time.Now().Add(-time.Hour), repo.deleteFrom, time.Second)
}

func TestRunRetention_StopsOnCancel(t *testing.T) {
	repo := &mockNotificationRepo{deleted: 1}
	svc := NewNotificationService(repo, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		svc.RunRetention(ctx, 5*time.Millisecond, time.Hour)
		close(done)
	}()

	assert.Eventually(t, func() bool {
		repo.mu.Lock()
		defer repo.mu.Unlock()
		return !repo.deleteFrom.IsZero()
	}, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("retention loop did not stop")
	}
}

package bot

import (
	"context"
	"testing"
	"time"

	"leverage/internal/models"
	"leverage/internal/venue"
	"leverage/pkg/utils"
)

func TestEvaluate(t *testing.T) {
	tests := []struct {
		name   string
		st     venue.Status
		want   models.CloseReason
		signal bool
	}{
		{"neutral", venue.Status{UnrealizedPnlPct: 5, MarginRatio: 0.5, TakeProfitPct: 50, StopLossPct: 20}, "", false},
		{"take profit at threshold", venue.Status{UnrealizedPnlPct: 50, MarginRatio: 0.5, TakeProfitPct: 50, StopLossPct: 20}, models.CloseTakeProfit, true},
		{"take profit above", venue.Status{UnrealizedPnlPct: 52, MarginRatio: 0.5, TakeProfitPct: 50, StopLossPct: 20}, models.CloseTakeProfit, true},
		{"stop loss at threshold", venue.Status{UnrealizedPnlPct: -20, MarginRatio: 0.5, TakeProfitPct: 50, StopLossPct: 20}, models.CloseStopLoss, true},
		{"stop loss not reached", venue.Status{UnrealizedPnlPct: -19.9, MarginRatio: 0.5, TakeProfitPct: 50, StopLossPct: 20}, "", false},
		{"liquidation beats stop loss", venue.Status{UnrealizedPnlPct: -20, MarginRatio: 0.08, TakeProfitPct: 50, StopLossPct: 20}, models.CloseLiquidation, true},
		{"liquidation beats take profit", venue.Status{UnrealizedPnlPct: 60, MarginRatio: 0.05, TakeProfitPct: 50, StopLossPct: 20}, models.CloseLiquidation, true},
		{"margin at threshold is safe", venue.Status{UnrealizedPnlPct: 0, MarginRatio: 0.10, TakeProfitPct: 50, StopLossPct: 20}, "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st := tt.st
			reason, ok := Evaluate(&st, 0.10)
			if ok != tt.signal || reason != tt.want {
				t.Errorf("Evaluate() = %q, %v; want %q, %v", reason, ok, tt.want, tt.signal)
			}
		})
	}
}

func TestMonitor_EmitsOnceAndStops(t *testing.T) {
	conn := newFakeConn("v")
	conn.statuses = []statusStep{
		{st: neutral()},
		{err: unavailable("blip")}, // ошибка не останавливает опрос
		{st: venue.Status{UnrealizedPnlPct: 55, MarginRatio: 0.5, TakeProfitPct: 50, StopLossPct: 20}},
	}
	out := make(chan closeSignal, 4)

	h := StartMonitor(context.Background(), "p1", "v-1", conn, MonitorConfig{PollInterval: time.Millisecond, MarginThreshold: 0.1}, out, utils.NewNopLogger())

	select {
	case <-h.Done():
	case <-time.After(time.Second):
		t.Fatal("monitor did not stop after signal")
	}

	if len(out) != 1 {
		t.Fatalf("expected exactly one signal, got %d", len(out))
	}
	sig := <-out
	if sig.positionID != "p1" || sig.reason != models.CloseTakeProfit || sig.reconcile || sig.source != h {
		t.Errorf("unexpected signal: %+v", sig)
	}
	if _, polls, _ := conn.counts(); polls != 3 {
		t.Errorf("polls = %d, want 3", polls)
	}
}

func TestMonitor_NotFoundRequestsReconcile(t *testing.T) {
	conn := newFakeConn("v")
	conn.statuses = []statusStep{{err: notFound()}}
	out := make(chan closeSignal, 1)

	h := StartMonitor(context.Background(), "p1", "v-1", conn, MonitorConfig{PollInterval: time.Millisecond, MarginThreshold: 0.1}, out, utils.NewNopLogger())
	h.Wait()

	sig := <-out
	if !sig.reconcile {
		t.Errorf("expected reconcile signal, got %+v", sig)
	}
}

func TestMonitor_CancelStopsPolling(t *testing.T) {
	conn := newFakeConn("v")
	out := make(chan closeSignal)

	h := StartMonitor(context.Background(), "p1", "v-1", conn, MonitorConfig{PollInterval: time.Millisecond, MarginThreshold: 0.1}, out, utils.NewNopLogger())
	time.Sleep(10 * time.Millisecond)
	h.Stop()

	_, polls, _ := conn.counts()
	time.Sleep(10 * time.Millisecond)
	if _, after, _ := conn.counts(); after != polls {
		t.Errorf("monitor polled after Stop: %d -> %d", polls, after)
	}
}

// TestMonitor_BlockedEmitReleasedByCancel - неприёмный канал не держит горутину
func TestMonitor_BlockedEmitReleasedByCancel(t *testing.T) {
	conn := newFakeConn("v")
	conn.statuses = []statusStep{{st: venue.Status{UnrealizedPnlPct: -30, MarginRatio: 0.5, TakeProfitPct: 50, StopLossPct: 20}}}
	out := make(chan closeSignal) // никто не читает

	h := StartMonitor(context.Background(), "p1", "v-1", conn, MonitorConfig{PollInterval: time.Millisecond, MarginThreshold: 0.1}, out, utils.NewNopLogger())
	time.Sleep(10 * time.Millisecond)

	done := make(chan struct{})
	go func() { h.Stop(); close(done) }()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Stop blocked on pending signal")
	}
}

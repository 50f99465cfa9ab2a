package bot

import (
	"errors"
	"testing"
	"time"

	"leverage/internal/models"
)

var allStates = []models.PositionState{
	models.StateProposed,
	models.StateRejected,
	models.StateOpening,
	models.StateOpen,
	models.StateFailed,
	models.StateClosing,
	models.StateClosed,
}

// TestCanTransition_ValidTransitions проверяет все допустимые переходы
func TestCanTransition_ValidTransitions(t *testing.T) {
	tests := []struct {
		name string
		from models.PositionState
		to   models.PositionState
	}{
		{"PROPOSED → REJECTED (risk gate)", models.StateProposed, models.StateRejected},
		{"PROPOSED → OPENING (risk gate passed)", models.StateProposed, models.StateOpening},
		{"OPENING → OPEN (venue confirmed)", models.StateOpening, models.StateOpen},
		{"OPENING → FAILED (venue error)", models.StateOpening, models.StateFailed},
		{"OPEN → CLOSING (exit condition)", models.StateOpen, models.StateClosing},
		{"CLOSING → CLOSED (closed on venue)", models.StateClosing, models.StateClosed},
		{"CLOSING → OPEN (close retries exhausted)", models.StateClosing, models.StateOpen},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if !CanTransition(tt.from, tt.to) {
				t.Errorf("CanTransition(%s, %s) = false, want true", tt.from, tt.to)
			}
		})
	}
}

// TestCanTransition_InvalidTransitions - всё, что не входит в граф, запрещено
func TestCanTransition_InvalidTransitions(t *testing.T) {
	allowed := map[[2]models.PositionState]bool{}
	for from, targets := range ValidTransitions {
		for _, to := range targets {
			allowed[[2]models.PositionState{from, to}] = true
		}
	}

	for _, from := range allStates {
		for _, to := range allStates {
			if allowed[[2]models.PositionState{from, to}] {
				continue
			}
			if CanTransition(from, to) {
				t.Errorf("CanTransition(%s, %s) = true, want false", from, to)
			}
		}
	}
}

func TestCanTransition_UnknownState(t *testing.T) {
	if CanTransition("UNKNOWN", models.StateOpen) {
		t.Error("transition from unknown state must be rejected")
	}
	if CanTransition(models.StateOpen, "UNKNOWN") {
		t.Error("transition to unknown state must be rejected")
	}
}

// TestValidTransitions_TerminalStates - из терминальных состояний выхода нет
func TestValidTransitions_TerminalStates(t *testing.T) {
	for _, s := range allStates {
		if !s.IsTerminal() {
			continue
		}
		if len(ValidTransitions[s]) != 0 {
			t.Errorf("terminal state %s has outgoing transitions %v", s, ValidTransitions[s])
		}
	}
}

func TestValidTransitions_NoSelfLoops(t *testing.T) {
	for from, targets := range ValidTransitions {
		for _, to := range targets {
			if from == to {
				t.Errorf("self loop on %s", from)
			}
		}
	}
}

func TestStateInfo_AllStates(t *testing.T) {
	seen := map[string]models.PositionState{}
	for _, s := range allStates {
		info := StateInfo(s)
		if info == "" || info == "Неизвестное состояние" {
			t.Errorf("StateInfo(%s) = %q", s, info)
		}
		if prev, dup := seen[info]; dup {
			t.Errorf("StateInfo(%s) duplicates %s", s, prev)
		}
		seen[info] = s
	}
	if StateInfo("BOGUS") != "Неизвестное состояние" {
		t.Error("unknown state must have fallback description")
	}
}

func TestIsActive(t *testing.T) {
	want := map[models.PositionState]bool{
		models.StateOpening: true,
		models.StateOpen:    true,
		models.StateClosing: true,
	}
	for _, s := range allStates {
		if got := IsActive(s); got != want[s] {
			t.Errorf("IsActive(%s) = %v, want %v", s, got, want[s])
		}
	}
}

func TestHasOpenPosition(t *testing.T) {
	want := map[models.PositionState]bool{
		models.StateOpen:    true,
		models.StateClosing: true,
	}
	for _, s := range allStates {
		if got := HasOpenPosition(s); got != want[s] {
			t.Errorf("HasOpenPosition(%s) = %v, want %v", s, got, want[s])
		}
	}
}

func TestTryTransition(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	p := &models.Position{ID: "p1", State: models.StateOpen}

	rec, err := TryTransition(p, models.StateClosing, "TakeProfit", now)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.State != models.StateClosing || !p.UpdatedAt.Equal(now) {
		t.Errorf("position not updated: %+v", p)
	}
	if rec.PositionID != "p1" || rec.From != models.StateOpen || rec.To != models.StateClosing || rec.Reason != "TakeProfit" {
		t.Errorf("unexpected record: %+v", rec)
	}

	// недопустимый переход не меняет позицию
	_, err = TryTransition(p, models.StateOpening, "", now.Add(time.Second))
	var ste *StateTransitionError
	if !errors.As(err, &ste) {
		t.Fatalf("expected StateTransitionError, got %v", err)
	}
	if ste.From != models.StateClosing || ste.To != models.StateOpening {
		t.Errorf("unexpected error fields: %+v", ste)
	}
	if p.State != models.StateClosing || !p.UpdatedAt.Equal(now) {
		t.Errorf("position changed on invalid transition: %+v", p)
	}
}

func TestForceTransition_Terminal(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	p := &models.Position{ID: "p1", State: models.StateOpen, Confirmed: true}

	rec := ForceTransition(p, models.StateClosed, "position not found on venue", now)
	if !rec.Terminal() {
		t.Error("record must be terminal")
	}
	if p.Confirmed {
		t.Error("terminal transition must reset confirmation")
	}
	if p.ClosedAt == nil || !p.ClosedAt.Equal(now) {
		t.Errorf("ClosedAt = %v", p.ClosedAt)
	}
}

// TestStateFlow_FullCycle - типичный путь позиции
func TestStateFlow_FullCycle(t *testing.T) {
	flow := []models.PositionState{
		models.StateProposed,
		models.StateOpening,
		models.StateOpen,
		models.StateClosing,
		models.StateOpen, // закрытие не удалось
		models.StateClosing,
		models.StateClosed,
	}
	for i := 0; i < len(flow)-1; i++ {
		if !CanTransition(flow[i], flow[i+1]) {
			t.Errorf("step %d: %s → %s must be valid", i, flow[i], flow[i+1])
		}
	}
}

func BenchmarkCanTransition(b *testing.B) {
	for i := 0; i < b.N; i++ {
		CanTransition(models.StateClosing, models.StateOpen)
	}
}

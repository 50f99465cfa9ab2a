package bot

import (
	"fmt"
	"time"

	"leverage/internal/models"
)

// ValidTransitions определяет допустимые переходы между состояниями
var ValidTransitions = map[models.PositionState][]models.PositionState{
	models.StateProposed: {models.StateRejected, models.StateOpening},
	models.StateOpening:  {models.StateOpen, models.StateFailed},
	models.StateOpen:     {models.StateClosing},
	models.StateClosing:  {models.StateClosed, models.StateOpen}, // Open при исчерпании повторов
}

// CanTransition проверяет допустимость перехода
func CanTransition(from, to models.PositionState) bool {
	for _, s := range ValidTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// StateTransitionError - недопустимый переход
type StateTransitionError struct {
	PositionID string
	From       models.PositionState
	To         models.PositionState
}

func (e *StateTransitionError) Error() string {
	return fmt.Sprintf("position %s: invalid transition %s → %s", e.PositionID, e.From, e.To)
}

// TryTransition выполняет переход, если он допустим, и возвращает запись аудита
//
// Вызывать под мьютексом позиции. При ошибке позиция не меняется.
func TryTransition(p *models.Position, to models.PositionState, reason string, now time.Time) (models.TransitionRecord, error) {
	if !CanTransition(p.State, to) {
		return models.TransitionRecord{}, &StateTransitionError{PositionID: p.ID, From: p.State, To: to}
	}
	return ForceTransition(p, to, reason, now), nil
}

// ForceTransition - переход без проверки графа (сверка с площадкой, восстановление)
func ForceTransition(p *models.Position, to models.PositionState, reason string, now time.Time) models.TransitionRecord {
	rec := models.TransitionRecord{
		PositionID: p.ID,
		From:       p.State,
		To:         to,
		Timestamp:  now,
		Reason:     reason,
	}
	p.State = to
	p.UpdatedAt = now
	if to.IsTerminal() {
		p.Confirmed = false
		p.ClosedAt = &now
	}
	RecordTransition(rec.From, rec.To)
	return rec
}

// StateInfo возвращает описание состояния для UI
func StateInfo(s models.PositionState) string {
	switch s {
	case models.StateProposed:
		return "Кандидат проходит риск-анализ"
	case models.StateRejected:
		return "Отклонён риск-гейтом"
	case models.StateOpening:
		return "Открытие позиции..."
	case models.StateOpen:
		return "Позиция открыта, идёт мониторинг"
	case models.StateFailed:
		return "Площадка не открыла позицию"
	case models.StateClosing:
		return "Закрытие позиции..."
	case models.StateClosed:
		return "Позиция закрыта"
	default:
		return "Неизвестное состояние"
	}
}

// IsActive возвращает true если позиция в работе на площадке
func IsActive(s models.PositionState) bool {
	return s == models.StateOpening || s == models.StateOpen || s == models.StateClosing
}

// HasOpenPosition возвращает true если на площадке есть открытая позиция
func HasOpenPosition(s models.PositionState) bool {
	return s == models.StateOpen || s == models.StateClosing
}

package bot

import (
	"errors"
	"strings"
)

var (
	// ErrOpenFailed - площадка не открыла позицию, причина в обёрнутой ошибке
	ErrOpenFailed = errors.New("open failed")

	// ErrPositionNotFound - позиция с таким идентификатором неизвестна менеджеру
	ErrPositionNotFound = errors.New("position not found")

	// ErrNotOpen - операция требует состояния OPEN
	ErrNotOpen = errors.New("position is not open")

	// ErrInvalidCandidate - кандидат не прошёл проверку входных данных
	ErrInvalidCandidate = errors.New("invalid candidate")

	// ErrShuttingDown - менеджер останавливается и не принимает кандидатов
	ErrShuttingDown = errors.New("manager is shutting down")
)

// RejectedError - кандидат отклонён риск-гейтом
type RejectedError struct {
	PositionID string
	Reasons    []string
}

func (e *RejectedError) Error() string {
	if len(e.Reasons) == 0 {
		return "candidate rejected by risk gate"
	}
	return "candidate rejected by risk gate: " + strings.Join(e.Reasons, "; ")
}

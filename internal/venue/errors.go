package venue

import (
	"context"
	"errors"
	"net"
)

// Классы ошибок площадки
var (
	// ErrRejected - площадка отклонила запрос (плохая пара, нет маржи). Не повторяется.
	ErrRejected = errors.New("venue rejected request")

	// ErrUnavailable - сеть, таймаут, перегрузка. Повторяется с backoff.
	ErrUnavailable = errors.New("venue unavailable")

	// ErrPositionNotFound - позиции на площадке нет (закрыта извне или ликвидирована)
	ErrPositionNotFound = errors.New("position not found on venue")
)

// Error - ошибка конкретной площадки
type Error struct {
	Venue    string
	Op       string
	Code     string
	Message  string
	Kind     error // один из ErrRejected, ErrUnavailable, ErrPositionNotFound
	Original error
}

func (e *Error) Error() string {
	msg := e.Venue + " " + e.Op + ": "
	if e.Code != "" {
		msg += "[" + e.Code + "] "
	}
	if e.Message != "" {
		return msg + e.Message
	}
	if e.Original != nil {
		return msg + e.Original.Error()
	}
	return msg + e.Kind.Error()
}

// Unwrap даёт errors.Is находить и класс ошибки, и исходную ошибку
func (e *Error) Unwrap() []error {
	errs := make([]error, 0, 2)
	if e.Kind != nil {
		errs = append(errs, e.Kind)
	}
	if e.Original != nil {
		errs = append(errs, e.Original)
	}
	return errs
}

func newError(venue, op string, kind error, code, msg string, orig error) *Error {
	return &Error{Venue: venue, Op: op, Code: code, Message: msg, Kind: kind, Original: orig}
}

// IsRejected - ошибка отказа площадки
func IsRejected(err error) bool { return errors.Is(err, ErrRejected) }

// IsUnavailable - временная ошибка
func IsUnavailable(err error) bool { return errors.Is(err, ErrUnavailable) }

// IsNotFound - позиция отсутствует на площадке
func IsNotFound(err error) bool { return errors.Is(err, ErrPositionNotFound) }

// Normalize приводит произвольную ошибку адаптера к таксономии
//
// Истечение дедлайна и сетевые ошибки считаются ErrUnavailable.
// Дедлайн вызова не остаётся в цепочке Unwrap: для вызывающего это сбой площадки, а не отмена.
// Неклассифицированная ошибка тоже считается временной: лучше повторить, чем потерять закрытие.
func Normalize(venue, op string, err error) error {
	if err == nil {
		return nil
	}
	if IsRejected(err) || IsUnavailable(err) || IsNotFound(err) {
		return err
	}
	if errors.Is(err, context.Canceled) {
		return err
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return newError(venue, op, ErrUnavailable, "", "timeout: "+err.Error(), nil)
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return newError(venue, op, ErrUnavailable, "", "timeout or network error", err)
	}
	return newError(venue, op, ErrUnavailable, "", "", err)
}

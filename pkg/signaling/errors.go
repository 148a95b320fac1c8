package signaling

import "fmt"

// ErrorCode типизированные коды ошибок супервизора сигнализации.
// Позволяют классифицировать сбои: локальные для линии (невалидный номер,
// неверный идентификатор) и фатальные для процесса (запуск, регистрация).
type ErrorCode int

const (
	// Ошибки запуска
	ErrorCodeProcessSpawnFailed ErrorCode = iota + 100
	ErrorCodeRegistrationTimeout
	ErrorCodeRegistrationFailed
	ErrorCodeConfigWriteFailed

	// Ошибки операций
	ErrorCodeInvalidNumber
	ErrorCodeInvalidLine
	ErrorCodeEngineDown
)

// String возвращает строковое представление кода ошибки
func (c ErrorCode) String() string {
	switch c {
	case ErrorCodeProcessSpawnFailed:
		return "ProcessSpawnFailed"
	case ErrorCodeRegistrationTimeout:
		return "RegistrationTimeout"
	case ErrorCodeRegistrationFailed:
		return "RegistrationFailed"
	case ErrorCodeConfigWriteFailed:
		return "ConfigWriteFailed"
	case ErrorCodeInvalidNumber:
		return "InvalidNumber"
	case ErrorCodeInvalidLine:
		return "InvalidLine"
	case ErrorCodeEngineDown:
		return "EngineDown"
	default:
		return fmt.Sprintf("Unknown(%d)", int(c))
	}
}

// Error ошибка супервизора сигнализации с типизированным кодом.
// Поддерживает errors.Is по коду и errors.Unwrap для обернутых ошибок.
type Error struct {
	Code    ErrorCode
	Message string
	LineID  int
	Wrapped error
}

func (e *Error) Error() string {
	if e.LineID > 0 {
		return fmt.Sprintf("[signaling:%s] линия %d: %s", e.Code, e.LineID, e.Message)
	}
	return fmt.Sprintf("[signaling:%s] %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Wrapped
}

// Is поддерживает errors.Is, сравнивая ошибки по коду.
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Code == t.Code
	}
	return false
}

func newError(code ErrorCode, msg string) *Error {
	return &Error{Code: code, Message: msg}
}

func newLineError(code ErrorCode, lineID int, msg string) *Error {
	return &Error{Code: code, LineID: lineID, Message: msg}
}

func wrapError(code ErrorCode, msg string, err error) *Error {
	return &Error{Code: code, Message: msg, Wrapped: err}
}

// Сторожевые ошибки для сравнения через errors.Is
var (
	ErrProcessSpawnFailed  = newError(ErrorCodeProcessSpawnFailed, "не удалось запустить процесс сигнализации")
	ErrRegistrationTimeout = newError(ErrorCodeRegistrationTimeout, "таймаут регистрации транка")
	ErrRegistrationFailed  = newError(ErrorCodeRegistrationFailed, "регистрация транка отклонена")
	ErrInvalidNumber       = newError(ErrorCodeInvalidNumber, "недопустимый формат номера")
	ErrInvalidLine         = newError(ErrorCodeInvalidLine, "идентификатор линии вне диапазона")
	ErrEngineDown          = newError(ErrorCodeEngineDown, "процесс сигнализации не запущен")
)

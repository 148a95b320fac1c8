package audio

import "fmt"

// ErrorCode типизированные коды ошибок аудио маршрутизатора
type ErrorCode int

const (
	// ErrorCodeDeviceNotFound настроенное устройство вывода отсутствует
	ErrorCodeDeviceNotFound ErrorCode = iota + 200
	// ErrorCodeQueryFailed опрос устройств не удался; устройство могло
	// исчезнуть между загрузкой конфигурации и использованием
	ErrorCodeQueryFailed
	// ErrorCodeRouteFailed внешняя команда микшера завершилась с ошибкой
	ErrorCodeRouteFailed
	// ErrorCodeToneFailed генератор тона не запустился или не остановился
	ErrorCodeToneFailed
	// ErrorCodeNotRunning маршрутизатор не запущен
	ErrorCodeNotRunning
	// ErrorCodeInvalidLine идентификатор линии вне диапазона
	ErrorCodeInvalidLine
)

func (c ErrorCode) String() string {
	switch c {
	case ErrorCodeDeviceNotFound:
		return "DeviceNotFound"
	case ErrorCodeQueryFailed:
		return "QueryFailed"
	case ErrorCodeRouteFailed:
		return "RouteFailed"
	case ErrorCodeToneFailed:
		return "ToneFailed"
	case ErrorCodeNotRunning:
		return "NotRunning"
	case ErrorCodeInvalidLine:
		return "InvalidLine"
	default:
		return fmt.Sprintf("Unknown(%d)", int(c))
	}
}

// Error ошибка аудио подсистемы с типизированным кодом.
type Error struct {
	Code    ErrorCode
	Message string
	Wrapped error
}

func (e *Error) Error() string {
	return fmt.Sprintf("[audio:%s] %s", e.Code, e.Message)
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

func wrapError(code ErrorCode, msg string, err error) *Error {
	return &Error{Code: code, Message: msg, Wrapped: err}
}

// Сторожевые ошибки для errors.Is
var (
	ErrDeviceNotFound = newError(ErrorCodeDeviceNotFound, "аудио устройство не найдено")
	ErrQueryFailed    = newError(ErrorCodeQueryFailed, "опрос аудио устройств не удался")
	ErrNotRunning     = newError(ErrorCodeNotRunning, "аудио маршрутизатор не запущен")
)

package signaling

import "time"

// EventType тип события сигнализации
type EventType int

const (
	// EventRegistered транк зарегистрирован на сервере
	EventRegistered EventType = iota
	// EventRegistrationFailed сервер отклонил регистрацию
	EventRegistrationFailed
	// EventProgress удаленная сторона оповещена (ранний ответ)
	EventProgress
	// EventAnswered вызов установлен
	EventAnswered
	// EventTerminated вызов завершен (удаленный отбой или подтверждение
	// локального)
	EventTerminated
	// EventProcessDied процесс сигнализации неожиданно завершился
	EventProcessDied
	// EventFatal автоматический перезапуск не удался, требуется явный Start
	EventFatal
)

func (t EventType) String() string {
	switch t {
	case EventRegistered:
		return "registered"
	case EventRegistrationFailed:
		return "registration_failed"
	case EventProgress:
		return "progress"
	case EventAnswered:
		return "answered"
	case EventTerminated:
		return "terminated"
	case EventProcessDied:
		return "process_died"
	case EventFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// Event типизированное событие, извлеченное из вывода процесса сигнализации.
// События для разных линий независимы; порядок событий одной линии
// сохраняется.
type Event struct {
	Type EventType

	// Line идентификатор линии (0 для событий уровня транка)
	Line int

	// Reason причина завершения для EventTerminated (может быть пустой)
	Reason string

	// Raw исходная строка вывода движка
	Raw string

	Time time.Time
}

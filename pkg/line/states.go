package line

// State состояние телефонной линии
type State int

const (
	// StateIdle линия свободна, вызова нет
	StateIdle State = iota
	// StateDialing исходящий вызов отправлен, ответа еще нет
	StateDialing
	// StateRinging удаленная сторона оповещена (ранний ответ)
	StateRinging
	// StateConnected вызов установлен, идет разговор
	StateConnected
	// StateError фатальный сбой вызова, требуется очистка
	StateError
)

// Имена состояний для FSM (fsm оперирует строками)
const (
	stateIdle      = "idle"
	stateDialing   = "dialing"
	stateRinging   = "ringing"
	stateConnected = "connected"
	stateError     = "error"
)

// События FSM
const (
	eventDial     = "dial"
	eventProgress = "progress"
	eventAnswer   = "answer"
	eventHangup   = "hangup"
	eventFail     = "fail"
	eventClear    = "clear"
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return stateIdle
	case StateDialing:
		return stateDialing
	case StateRinging:
		return stateRinging
	case StateConnected:
		return stateConnected
	case StateError:
		return stateError
	default:
		return "unknown"
	}
}

func stateFromString(s string) State {
	switch s {
	case stateIdle:
		return StateIdle
	case stateDialing:
		return StateDialing
	case stateRinging:
		return StateRinging
	case stateConnected:
		return StateConnected
	case stateError:
		return StateError
	default:
		return StateIdle
	}
}

// Bus одна из двух стерео шин аудио вывода. Привязка шины к линии
// ортогональна состоянию вызова и сохраняется между вызовами.
type Bus int

const (
	// BusA первая шина (IFB в терминах эфирной связи)
	BusA Bus = iota
	// BusB вторая шина (PL)
	BusB
)

func (b Bus) String() string {
	if b == BusB {
		return "B"
	}
	return "A"
}

// Toggle возвращает противоположную шину.
func (b Bus) Toggle() Bus {
	if b == BusA {
		return BusB
	}
	return BusA
}

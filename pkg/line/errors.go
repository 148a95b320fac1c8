package line

import "fmt"

// TransitionError недопустимый переход состояния линии.
// Возвращается когда операция несовместима с текущим состоянием,
// например попытка набора на занятой линии.
type TransitionError struct {
	LineID int
	From   State
	Event  string
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("линия %d: событие %q недопустимо в состоянии %s", e.LineID, e.Event, e.From)
}

// IsBusy сообщает, вызвана ли ошибка попыткой набора на не-IDLE линии.
func (e *TransitionError) IsBusy() bool {
	return e.Event == eventDial && e.From != StateIdle
}

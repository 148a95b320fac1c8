// Package line реализует машину состояний одной телефонной линии и ее
// метаданные: набранный номер, время соединения, привязку к аудио шине и
// корреляционный идентификатор сигнализации.
//
// Жизненный цикл состояний:
//
//	IDLE → DIALING → RINGING → CONNECTED → IDLE
//
// Из любого не-терминального состояния возможен прямой переход в IDLE
// (отбой) или в ERROR → IDLE (сбой и очистка). Привязка аудио шины
// ортогональна состоянию вызова и меняется в любой момент.
//
// Линии создаются один раз при старте и переиспользуются между вызовами —
// они никогда не уничтожаются.
package line

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/looplab/fsm"
)

// StateChangeFunc обработчик смены состояния линии
type StateChangeFunc func(lineID int, oldState, newState State)

// RouteChangeFunc обработчик смены аудио шины
type RouteChangeFunc func(lineID int, bus Bus)

// Line одна телефонная линия с фиксированным идентификатором 1..N.
//
// Все методы потокобезопасны, но владельцем коллекции линий является
// менеджер вызовов: мутации состояния проходят через его сериализованную
// точку диспетчеризации.
type Line struct {
	id int

	// FSM для управления состояниями
	stateMachine *fsm.FSM

	// Метаданные вызова
	number      string
	connectTime time.Time
	handle      string
	bus         Bus

	// Обработчики событий
	onState StateChangeFunc
	onRoute RouteChangeFunc
	cbMu    sync.RWMutex

	mu sync.RWMutex
}

// New создает линию в состоянии IDLE с заданной шиной по умолчанию.
func New(id int, bus Bus) *Line {
	l := &Line{
		id:  id,
		bus: bus,
	}
	l.initStateMachine()
	return l
}

// initStateMachine инициализирует конечный автомат состояний линии
func (l *Line) initStateMachine() {
	l.stateMachine = fsm.NewFSM(
		stateIdle,
		fsm.Events{
			// Начало исходящего вызова
			{Name: eventDial, Src: []string{stateIdle}, Dst: stateDialing},
			// Ранний ответ удаленной стороны
			{Name: eventProgress, Src: []string{stateDialing}, Dst: stateRinging},
			// Ответ: соединение установлено
			{Name: eventAnswer, Src: []string{stateDialing, stateRinging}, Dst: stateConnected},
			// Отбой из любого активного состояния
			{Name: eventHangup, Src: []string{stateDialing, stateRinging, stateConnected, stateError}, Dst: stateIdle},
			// Фатальный сбой вызова
			{Name: eventFail, Src: []string{stateDialing, stateRinging, stateConnected}, Dst: stateError},
			// Очистка после сбоя
			{Name: eventClear, Src: []string{stateError}, Dst: stateIdle},
		},
		fsm.Callbacks{
			"after_event": func(_ context.Context, e *fsm.Event) {
				l.handleStateChange(e)
			},
		},
	)
}

// handleStateChange вызывает обработчик смены состояния.
// Вызывается синхронно внутри перехода FSM.
func (l *Line) handleStateChange(e *fsm.Event) {
	l.cbMu.RLock()
	handler := l.onState
	l.cbMu.RUnlock()

	if handler != nil && e.Src != e.Dst {
		handler(l.id, stateFromString(e.Src), stateFromString(e.Dst))
	}
}

// OnStateChange устанавливает обработчик смены состояния.
// Обработчик вызывается синхронно и не должен обращаться к методам линии.
func (l *Line) OnStateChange(fn StateChangeFunc) {
	l.cbMu.Lock()
	l.onState = fn
	l.cbMu.Unlock()
}

// OnRouteChange устанавливает обработчик смены аудио шины.
func (l *Line) OnRouteChange(fn RouteChangeFunc) {
	l.cbMu.Lock()
	l.onRoute = fn
	l.cbMu.Unlock()
}

// ID возвращает неизменяемый идентификатор линии (1..N).
func (l *Line) ID() int {
	return l.id
}

// State возвращает текущее состояние линии.
func (l *Line) State() State {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return stateFromString(l.stateMachine.Current())
}

// Dial переводит линию IDLE → DIALING, запоминает номер и выдает свежий
// корреляционный идентификатор сигнализации на время одного вызова.
// На занятой линии возвращает *TransitionError (IsBusy() == true).
func (l *Line) Dial(number string) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.fire(eventDial); err != nil {
		return "", err
	}
	l.number = number
	l.handle = uuid.NewString()
	return l.handle, nil
}

// Progress отмечает ранний ответ: DIALING → RINGING.
func (l *Line) Progress() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.fire(eventProgress)
}

// Answer отмечает установление соединения и фиксирует время ответа.
func (l *Line) Answer() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.fire(eventAnswer); err != nil {
		return err
	}
	l.connectTime = time.Now()
	return nil
}

// Release возвращает линию в IDLE из любого состояния и очищает метаданные
// вызова. На уже свободной линии — no-op (отбой идемпотентен).
func (l *Line) Release() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.stateMachine.Current() == stateIdle {
		return nil
	}
	if err := l.fire(eventHangup); err != nil {
		return err
	}
	l.clearCallInfo()
	return nil
}

// Fail переводит активную линию в ERROR. Метаданные сохраняются до Clear,
// чтобы сбой оставался диагностируемым.
func (l *Line) Fail() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.fire(eventFail)
}

// Clear завершает очистку после сбоя: ERROR → IDLE.
func (l *Line) Clear() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.fire(eventClear); err != nil {
		return err
	}
	l.clearCallInfo()
	return nil
}

// fire выполняет переход FSM, преобразуя ошибку fsm в типизированную.
// Вызывается только под l.mu.
func (l *Line) fire(event string) error {
	if err := l.stateMachine.Event(context.Background(), event); err != nil {
		return &TransitionError{
			LineID: l.id,
			From:   stateFromString(l.stateMachine.Current()),
			Event:  event,
		}
	}
	return nil
}

func (l *Line) clearCallInfo() {
	l.number = ""
	l.connectTime = time.Time{}
	l.handle = ""
}

// Number возвращает набранный номер; пустая строка в IDLE/ERROR после очистки.
func (l *Line) Number() string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.number
}

// Handle возвращает текущий корреляционный идентификатор сигнализации.
// Пустая строка означает, что за линией не закреплен вызов.
func (l *Line) Handle() string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.handle
}

// ConnectTime возвращает время установления соединения (нулевое если
// соединения нет).
func (l *Line) ConnectTime() time.Time {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.connectTime
}

// Duration возвращает длительность текущего разговора, 0 вне CONNECTED.
func (l *Line) Duration() time.Duration {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if l.stateMachine.Current() != stateConnected || l.connectTime.IsZero() {
		return 0
	}
	return time.Since(l.connectTime)
}

// Bus возвращает текущую аудио шину линии.
func (l *Line) Bus() Bus {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.bus
}

// SetBus меняет привязку аудио шины. Допустимо в любом состоянии вызова.
func (l *Line) SetBus(bus Bus) {
	l.mu.Lock()
	changed := l.bus != bus
	l.bus = bus
	l.mu.Unlock()

	if !changed {
		return
	}
	l.cbMu.RLock()
	handler := l.onRoute
	l.cbMu.RUnlock()
	if handler != nil {
		handler(l.id, bus)
	}
}

// ToggleBus переключает линию на противоположную шину и возвращает новую.
func (l *Line) ToggleBus() Bus {
	next := l.Bus().Toggle()
	l.SetBus(next)
	return next
}

// Available сообщает, свободна ли линия для нового вызова.
func (l *Line) Available() bool {
	return l.State() == StateIdle
}

// Active сообщает, есть ли на линии активный вызов.
func (l *Line) Active() bool {
	switch l.State() {
	case StateDialing, StateRinging, StateConnected:
		return true
	}
	return false
}

// StatusString возвращает строку статуса для отображения оператору.
func (l *Line) StatusString() string {
	l.mu.RLock()
	defer l.mu.RUnlock()

	switch stateFromString(l.stateMachine.Current()) {
	case StateIdle:
		return "Available"
	case StateDialing:
		return fmt.Sprintf("Dialing %s", l.number)
	case StateRinging:
		return fmt.Sprintf("Ringing %s", l.number)
	case StateConnected:
		d := time.Since(l.connectTime)
		mins := int(d.Minutes())
		secs := int(d.Seconds()) % 60
		return fmt.Sprintf("%s (%02d:%02d)", l.number, mins, secs)
	default:
		return "Error"
	}
}

func (l *Line) String() string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return fmt.Sprintf("Line(id=%d, state=%s, bus=%s, number=%q)",
		l.id, l.stateMachine.Current(), l.bus, l.number)
}

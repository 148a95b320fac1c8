// Package manager содержит менеджер вызовов — единственный компонент,
// транслирующий внешние запросы (набор, отбой, маршрутизация) в вызовы
// супервизора сигнализации и аудио маршрутизатора, а события супервизора —
// в переходы состояний линий.
//
// Все мутации линий проходят через одну сериализованную точку
// диспетчеризации (мьютекс менеджера и единственная горутина обработки
// событий), что исключает чередование переходов одной линии по построению.
// Snapshot читается под той же сериализацией и никогда не отдает
// полуобновленную линию.
package manager

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/arzzra/phone_station/pkg/line"
	"github.com/arzzra/phone_station/pkg/signaling"
)

// DefaultHangupTimeout ограниченное ожидание подтверждения отбоя, после
// которого линия принудительно возвращается в IDLE. Линия не может вечно
// висеть в полуразобранном состоянии.
const DefaultHangupTimeout = 3 * time.Second

// Signaler операции супервизора сигнализации, нужные менеджеру.
// Реализуется *signaling.Supervisor.
type Signaler interface {
	Dial(lineID int, number string) error
	Hangup(lineID int) error
	Events() <-chan signaling.Event
	Stop()
}

// AudioRouter операции аудио маршрутизатора, нужные менеджеру.
// Реализуется *audio.Router.
type AudioRouter interface {
	Route(lineID int, bus line.Bus) error
	SetTone(bus line.Bus, enabled bool) error
}

// Fault системный фатальный статус: один на систему вместо N ошибок линий.
type Fault struct {
	Reason string
	Time   time.Time
}

// Manager владеет фиксированным набором линий и координирует супервизор,
// маршрутизатор и переходы состояний.
type Manager struct {
	log    *slog.Logger
	sig    Signaler
	router AudioRouter // nil в деградированном режиме без аудио

	lines []*line.Line

	hangupTimeout time.Duration
	metrics       *Metrics

	mu    sync.Mutex // сериализованная точка мутаций линий
	fault *Fault

	wg       sync.WaitGroup
	stopOnce sync.Once
}

// Option настройка менеджера
type Option func(*Manager)

// WithMetrics подключает сборщик метрик.
func WithMetrics(m *Metrics) Option {
	return func(mgr *Manager) { mgr.metrics = m }
}

// WithHangupTimeout меняет ожидание подтверждения отбоя.
func WithHangupTimeout(d time.Duration) Option {
	return func(mgr *Manager) { mgr.hangupTimeout = d }
}

// New создает менеджер с numLines линиями (все IDLE, шина A по умолчанию).
// router может быть nil: система работает в деградированном режиме без
// аудио маршрутизации.
func New(sig Signaler, router AudioRouter, numLines int, log *slog.Logger, opts ...Option) *Manager {
	if log == nil {
		log = slog.Default()
	}
	m := &Manager{
		log:           log.With("component", "manager"),
		sig:           sig,
		router:        router,
		hangupTimeout: DefaultHangupTimeout,
		lines:         make([]*line.Line, numLines),
	}
	for _, opt := range opts {
		opt(m)
	}

	for i := range m.lines {
		l := line.New(i+1, line.BusA)
		l.OnStateChange(func(id int, oldState, newState line.State) {
			m.log.Info("смена состояния линии",
				"line", id, "from", oldState.String(), "to", newState.String())
		})
		m.lines[i] = l
	}
	return m
}

// Start запускает горутину диспетчеризации событий супервизора.
// Цикл завершается когда супервизор закрывает поток событий.
func (m *Manager) Start() {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		for ev := range m.sig.Events() {
			m.onEvent(ev)
		}
	}()
}

// Stop отбивает активные линии, останавливает супервизор и ждет завершения
// диспетчеризации.
func (m *Manager) Stop() {
	m.stopOnce.Do(func() {
		for _, info := range m.ActiveLines() {
			if err := m.sig.Hangup(info.ID); err != nil {
				m.log.Warn("отбой при остановке", "line", info.ID, "error", err)
			}
		}
		m.sig.Stop()
		m.wg.Wait()

		m.mu.Lock()
		for _, l := range m.lines {
			_ = l.Release()
		}
		m.mu.Unlock()
	})
}

// line возвращает линию по идентификатору 1..N.
func (m *Manager) line(lineID int) (*line.Line, error) {
	if lineID < 1 || lineID > len(m.lines) {
		return nil, fmt.Errorf("%w: %d", ErrNoSuchLine, lineID)
	}
	return m.lines[lineID-1], nil
}

// Dial начинает исходящий вызов. Линия помечается DIALING только после
// того, как супервизор принял команду: неудачная отправка не меняет
// состояние и не оставляет линию висеть в наборе.
func (m *Manager) Dial(lineID int, number string) error {
	l, err := m.line(lineID)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if !l.Available() {
		m.metrics.callResult("rejected")
		return fmt.Errorf("%w: линия %d в состоянии %s", ErrLineBusy, lineID, l.State())
	}

	if err := m.sig.Dial(lineID, number); err != nil {
		m.metrics.callResult("failed")
		return err
	}

	if _, err := l.Dial(number); err != nil {
		// недостижимо при сериализованном доступе, но не маскируем
		return err
	}
	m.metrics.callResult("dialed")
	m.metrics.setActive(m.activeLocked())
	return nil
}

// Hangup завершает вызов линии. Идемпотентен: отбой свободной линии —
// успешный no-op. Отбой до первого события прогресса переводит линию в
// IDLE немедленно; иначе линия ждет подтверждения Terminated не дольше
// hangupTimeout, после чего принудительно освобождается.
func (m *Manager) Hangup(lineID int) error {
	l, err := m.line(lineID)
	if err != nil {
		return err
	}

	m.mu.Lock()

	if l.State() == line.StateIdle {
		m.mu.Unlock()
		// движку все равно сообщаем: он мог остаться с висящим вызовом
		if err := m.sig.Hangup(lineID); err != nil {
			m.log.Debug("отбой свободной линии", "line", lineID, "error", err)
		}
		return nil
	}

	handle := l.Handle()
	immediate := l.State() == line.StateDialing

	if immediate {
		// отбой до прогресса: локально освобождаем сразу, терминирование
		// движку отправляется как best-effort
		_ = l.Release()
		m.metrics.setActive(m.activeLocked())
	} else {
		m.armHangupTimer(l, handle)
	}
	m.mu.Unlock()

	if err := m.sig.Hangup(lineID); err != nil {
		m.log.Warn("команда отбоя не доставлена", "line", lineID, "error", err)
		if !immediate {
			// движок мертв, подтверждения не будет
			m.mu.Lock()
			m.forceRelease(l, handle)
			m.mu.Unlock()
		}
	}
	return nil
}

// armHangupTimer ставит ограниченное ожидание подтверждения отбоя.
// Вызывается под m.mu.
func (m *Manager) armHangupTimer(l *line.Line, handle string) {
	time.AfterFunc(m.hangupTimeout, func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		if m.forceRelease(l, handle) {
			m.log.Warn("подтверждение отбоя не пришло, линия освобождена локально",
				"line", l.ID())
			m.metrics.forcedHangup()
		}
	})
}

// forceRelease освобождает линию, если она все еще занята тем же вызовом.
// Вызывается под m.mu.
func (m *Manager) forceRelease(l *line.Line, handle string) bool {
	if handle == "" || l.Handle() != handle || l.State() == line.StateIdle {
		return false
	}
	_ = l.Release()
	m.metrics.setActive(m.activeLocked())
	return true
}

// SetRouting меняет аудио шину линии: сначала применяется живой микс,
// затем липкая привязка линии. Состояние вызова не затрагивается.
func (m *Manager) SetRouting(lineID int, bus line.Bus) error {
	l, err := m.line(lineID)
	if err != nil {
		return err
	}
	if m.router == nil {
		return ErrRoutingDisabled
	}
	if err := m.router.Route(lineID, bus); err != nil {
		return err
	}
	l.SetBus(bus)
	return nil
}

// TestTone включает или выключает тестовый тон шины.
func (m *Manager) TestTone(bus line.Bus, enabled bool) error {
	if m.router == nil {
		return ErrRoutingDisabled
	}
	return m.router.SetTone(bus, enabled)
}

// LastFault возвращает последний системный фатальный статус.
func (m *Manager) LastFault() (Fault, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fault == nil {
		return Fault{}, false
	}
	return *m.fault, true
}

// onEvent применяет событие супервизора к состоянию линий. Обработка
// строго последовательная: одно событие за раз, порядок событий одной
// линии сохраняется.
func (m *Manager) onEvent(ev signaling.Event) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.metrics.event(ev.Type.String())

	switch ev.Type {
	case signaling.EventRegistered:
		m.log.Info("транк зарегистрирован")
		m.fault = nil

	case signaling.EventRegistrationFailed:
		m.log.Error("регистрация транка отклонена", "raw", ev.Raw)

	case signaling.EventProgress:
		m.applyLineEvent(ev, func(l *line.Line) error { return l.Progress() })

	case signaling.EventAnswered:
		m.applyLineEvent(ev, func(l *line.Line) error { return l.Answer() })

	case signaling.EventTerminated:
		m.terminate(ev)

	case signaling.EventProcessDied:
		m.processDied()

	case signaling.EventFatal:
		m.fault = &Fault{Reason: "сигнализация недоступна, перезапуск не удался", Time: time.Now()}
		m.log.Error("фатальный сбой сигнализации, требуется явный перезапуск")
	}

	m.metrics.setActive(m.activeLocked())
}

// applyLineEvent выполняет переход для линии события. Недопустимый переход
// (устаревшее или чужое событие) логируется и игнорируется — он не должен
// останавливать обработку последующих событий.
func (m *Manager) applyLineEvent(ev signaling.Event, apply func(*line.Line) error) {
	l, err := m.line(ev.Line)
	if err != nil {
		m.log.Warn("событие для несуществующей линии", "line", ev.Line, "type", ev.Type.String())
		return
	}
	if err := apply(l); err != nil {
		m.log.Debug("событие проигнорировано",
			"line", ev.Line, "type", ev.Type.String(), "state", l.State().String())
	}
}

// terminate обрабатывает завершение вызова. Затрагивает только линию
// события; завершение для уже освобожденной линии (гонка с принудительным
// отбоем) игнорируется.
func (m *Manager) terminate(ev signaling.Event) {
	l, err := m.line(ev.Line)
	if err != nil {
		m.log.Warn("завершение для несуществующей линии", "line", ev.Line)
		return
	}
	if !l.Active() {
		m.log.Debug("завершение для свободной линии проигнорировано", "line", ev.Line)
		return
	}
	if l.State() == line.StateConnected {
		m.metrics.observeDuration(l.Duration().Seconds())
	}
	_ = l.Release()
	if ev.Reason != "" {
		m.log.Info("вызов завершен", "line", ev.Line, "reason", ev.Reason)
	}
}

// processDied переводит все активные линии через ERROR в IDLE и фиксирует
// один системный фатальный статус вместо N ошибок линий.
func (m *Manager) processDied() {
	n := 0
	for _, l := range m.lines {
		if !l.Active() {
			continue
		}
		if l.State() == line.StateConnected {
			m.metrics.observeDuration(l.Duration().Seconds())
		}
		_ = l.Fail()
		_ = l.Clear()
		n++
	}
	m.fault = &Fault{Reason: "процесс сигнализации завершился", Time: time.Now()}
	m.metrics.engineDeath()
	m.log.Error("процесс сигнализации умер, линии освобождены", "affected", n)
}

// activeLocked считает активные линии. Вызывается под m.mu.
func (m *Manager) activeLocked() int {
	n := 0
	for _, l := range m.lines {
		if l.Active() {
			n++
		}
	}
	return n
}

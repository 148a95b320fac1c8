// Package signaling владеет единственным внешним процессом сигнализации,
// представляющим транк с N виртуальными линиями.
//
// Супервизор запускает процесс, пишет ему команды набора и отбоя через
// stdin и непрерывно читает его вывод в фоновой горутине, превращая
// текстовые строки в типизированные события (Event). Протокол сигнализации
// целиком живет во внешнем процессе — здесь только управление его жизненным
// циклом и разбор потока событий.
//
// Семантика отказов: при неожиданной смерти процесса супервизор публикует
// EventProcessDied и выполняет ровно одну автоматическую попытку
// перезапуска; если она не удалась — публикует EventFatal и ждет явного
// вызова Start.
package signaling

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/emiago/sipgo/sip"
	"golang.org/x/sys/unix"

	"github.com/arzzra/phone_station/pkg/config"
)

const (
	// readerGrace пауза после сигнала остановки, чтобы читатель закончил
	// незавершенное чтение до завершения процесса. Порядок обязателен:
	// сигнал → пауза → терминирование, иначе читатель работает с закрытым
	// дескриптором.
	readerGrace = 200 * time.Millisecond

	// termGrace время на мягкое завершение процесса до SIGKILL
	termGrace = 2 * time.Second

	// restartDelay задержка перед единственным автоматическим перезапуском
	restartDelay = time.Second

	eventBuffer = 64
)

// numberRe допустимый номер: цифры с необязательным ведущим "+".
// Символы маршрутизации (*, #) и метасимволы URI отклоняются — номер
// попадает в командную строку движка.
var numberRe = regexp.MustCompile(`^\+?[0-9]+$`)

// ValidateNumber нормализует и проверяет набираемый номер: убирает пробелы,
// допускает только цифры и ведущий "+". Возвращает ErrInvalidNumber для
// всего остального.
func ValidateNumber(number string) (string, error) {
	num := strings.ReplaceAll(number, " ", "")
	if num == "" || !numberRe.MatchString(num) {
		return "", &Error{Code: ErrorCodeInvalidNumber, Message: fmt.Sprintf("недопустимый номер %q", number)}
	}
	return num, nil
}

// Supervisor владеет внешним процессом сигнализации и его фоновым читателем.
// Все публичные операции потокобезопасны.
type Supervisor struct {
	cfg    *config.TrunkConfig
	log    *slog.Logger
	parser *Parser

	// events поток типизированных событий; закрывается в Stop и только там
	events      chan Event
	closeEvents sync.Once

	// UnparsedHook вызывается для каждой пропущенной (нераспознанной)
	// строки вывода. Устанавливается до Start, используется для метрик.
	UnparsedHook func(raw string)

	mu            sync.Mutex
	cmd           *exec.Cmd
	stdin         io.WriteCloser
	running       bool
	stopping      bool
	registered    bool
	lastEvent     time.Time
	restarts      int
	restartedOnce bool
	stopCh        chan struct{}
	regCh         chan error

	readerWG sync.WaitGroup
}

// New создает супервизор для заданной конфигурации транка.
func New(cfg *config.TrunkConfig, log *slog.Logger) *Supervisor {
	if log == nil {
		log = slog.Default()
	}
	return &Supervisor{
		cfg:    cfg,
		log:    log.With("component", "signaling"),
		parser: NewParser(),
		events: make(chan Event, eventBuffer),
	}
}

// Events возвращает поток событий сигнализации. Поток бесконечен до вызова
// Stop, после чего канал закрывается.
func (s *Supervisor) Events() <-chan Event {
	return s.events
}

// Start запускает процесс сигнализации и блокируется до появления события
// регистрации либо истечения таймаута. Повторный Start на работающем
// супервизоре — no-op.
func (s *Supervisor) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return nil
	}
	s.stopping = false
	s.restartedOnce = false
	s.stopCh = make(chan struct{})
	s.regCh = make(chan error, 1)
	regCh := s.regCh
	s.mu.Unlock()

	if err := writeEngineConfig(s.cfg); err != nil {
		return err
	}

	if err := s.spawn(); err != nil {
		return &Error{Code: ErrorCodeProcessSpawnFailed, Message: "запуск процесса сигнализации", Wrapped: err}
	}

	select {
	case err := <-regCh:
		if err != nil {
			s.teardownProcess()
			return err
		}
	case <-time.After(s.cfg.RegisterTimeout.Std()):
		s.teardownProcess()
		return &Error{Code: ErrorCodeRegistrationTimeout,
			Message: fmt.Sprintf("нет регистрации за %s", s.cfg.RegisterTimeout.Std())}
	case <-ctx.Done():
		s.teardownProcess()
		return ctx.Err()
	}

	s.log.Info("транк зарегистрирован", "server", s.cfg.Server, "lines", s.cfg.Lines)
	return nil
}

// spawn запускает процесс движка и его фонового читателя.
func (s *Supervisor) spawn() error {
	s.mu.Lock()
	if s.stopping {
		s.mu.Unlock()
		return fmt.Errorf("супервизор останавливается")
	}
	s.mu.Unlock()

	cmd := exec.Command(s.cfg.Binary, "-f", s.cfg.ConfigDir, "-v")

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("stdin процесса: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("stdout процесса: %w", err)
	}
	// stderr в тот же канал: движок пишет события и туда и туда
	cmd.Stderr = cmd.Stdout

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("запуск %s: %w", s.cfg.Binary, err)
	}

	s.mu.Lock()
	s.cmd = cmd
	s.stdin = stdin
	s.running = true
	s.registered = false
	s.mu.Unlock()

	s.readerWG.Add(1)
	go s.readLoop(cmd, stdout)

	s.log.Info("процесс сигнализации запущен", "binary", s.cfg.Binary, "pid", cmd.Process.Pid)
	return nil
}

// readLoop непрерывно читает вывод процесса. Единственная операция в
// системе, которой разрешено блокироваться неограниченно — до Stop.
// Ошибка разбора никогда не покидает цикл: плохая строка логируется и
// пропускается.
func (s *Supervisor) readLoop(cmd *exec.Cmd, out io.Reader) {
	defer s.readerWG.Done()

	scanner := bufio.NewScanner(out)
	for scanner.Scan() {
		if s.stopRequested() {
			return
		}

		text := scanner.Text()
		ev, ok := s.parser.Parse(text)
		if !ok {
			if strings.TrimSpace(text) != "" {
				s.log.Debug("строка движка пропущена", "raw", text)
				if s.UnparsedHook != nil {
					s.UnparsedHook(text)
				}
			}
			continue
		}
		s.emit(ev)
	}

	if err := scanner.Err(); err != nil && !s.stopRequested() {
		s.log.Warn("чтение вывода движка прервано", "error", err)
	}
	s.onProcessExit(cmd)
}

func (s *Supervisor) stopRequested() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopping
}

// emit обновляет состояние сессии и публикует событие потребителю.
func (s *Supervisor) emit(ev Event) {
	s.mu.Lock()
	s.lastEvent = ev.Time
	switch ev.Type {
	case EventRegistered:
		s.registered = true
		select {
		case s.regCh <- nil:
		default:
		}
	case EventRegistrationFailed:
		s.registered = false
		select {
		case s.regCh <- &Error{Code: ErrorCodeRegistrationFailed, Message: ev.Raw}:
		default:
		}
	}
	stopCh := s.stopCh
	s.mu.Unlock()

	if stopCh == nil {
		return
	}
	select {
	case s.events <- ev:
	case <-stopCh:
	}
}

// onProcessExit обрабатывает завершение процесса, замеченное читателем.
// При плановой остановке ничего не делает; при неожиданной смерти публикует
// EventProcessDied и выполняет единственный автоматический перезапуск.
func (s *Supervisor) onProcessExit(cmd *exec.Cmd) {
	s.mu.Lock()
	if s.stopping || s.cmd != cmd {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.registered = false
	restartAllowed := !s.restartedOnce
	s.restartedOnce = true
	stopCh := s.stopCh
	s.mu.Unlock()

	err := cmd.Wait()
	s.log.Error("процесс сигнализации неожиданно завершился", "error", err)

	s.emit(Event{Type: EventProcessDied, Raw: fmt.Sprintf("%v", err), Time: time.Now()})

	if !restartAllowed {
		s.log.Error("повторная смерть процесса, автоперезапуск отключен до явного Start")
		s.emit(Event{Type: EventFatal, Time: time.Now()})
		return
	}

	select {
	case <-time.After(restartDelay):
	case <-stopCh:
		return
	}

	s.mu.Lock()
	s.restarts++
	s.mu.Unlock()

	s.log.Info("автоматический перезапуск процесса сигнализации")
	if err := s.spawn(); err != nil {
		s.log.Error("перезапуск не удался", "error", err)
		s.emit(Event{Type: EventFatal, Raw: err.Error(), Time: time.Now()})
	}
}

// Dial отправляет команду исходящего вызова для виртуальной идентичности
// линии. Не ждет ответа удаленной стороны: переходы состояний приходят
// асинхронно через поток событий.
func (s *Supervisor) Dial(lineID int, number string) error {
	if lineID < 1 || lineID > s.cfg.Lines {
		return newLineError(ErrorCodeInvalidLine, lineID,
			fmt.Sprintf("допустимы линии 1..%d", s.cfg.Lines))
	}
	num, err := ValidateNumber(number)
	if err != nil {
		return err
	}

	uri := sip.Uri{
		Scheme: "sip",
		User:   num,
		Host:   s.cfg.Server,
		Port:   s.cfg.Port,
	}
	return s.send(fmt.Sprintf("/dial %d %s\n", lineID, uri.String()))
}

// Hangup отправляет команду завершения вызова линии. Идемпотентна на уровне
// движка: отбой без активного вызова движок игнорирует.
func (s *Supervisor) Hangup(lineID int) error {
	if lineID < 1 || lineID > s.cfg.Lines {
		return newLineError(ErrorCodeInvalidLine, lineID,
			fmt.Sprintf("допустимы линии 1..%d", s.cfg.Lines))
	}
	return s.send(fmt.Sprintf("/hangup %d\n", lineID))
}

// send пишет команду в stdin процесса. Ошибка записи означает мертвый
// процесс; состояние линий при этом не трогаем — это задача менеджера.
func (s *Supervisor) send(cmd string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running || s.stdin == nil {
		return newError(ErrorCodeEngineDown, "процесс сигнализации не запущен")
	}
	if _, err := io.WriteString(s.stdin, cmd); err != nil {
		s.log.Error("запись команды движку не удалась", "error", err)
		return wrapError(ErrorCodeEngineDown, "запись команды движку", err)
	}
	return nil
}

// Stop останавливает читателя, затем процесс, затем закрывает поток
// событий. После Stop супервизор не переиспользуется.
func (s *Supervisor) Stop() {
	s.teardownProcess()
	s.closeEvents.Do(func() { close(s.events) })
	s.log.Info("супервизор сигнализации остановлен")
}

// teardownProcess выполняет обязательную последовательность остановки:
// сигнал читателю → пауза readerGrace → /quit и SIGTERM → termGrace →
// SIGKILL. Поток событий не закрывает, поэтому используется и при откате
// неудачного Start.
func (s *Supervisor) teardownProcess() {
	s.mu.Lock()
	s.stopping = true
	s.running = false
	s.registered = false
	stopCh := s.stopCh
	s.stopCh = nil
	cmd := s.cmd
	stdin := s.stdin
	s.cmd = nil
	s.stdin = nil
	s.mu.Unlock()

	if stopCh != nil {
		close(stopCh)
	}

	// даем читателю закончить текущее чтение до закрытия дескрипторов
	readerDone := make(chan struct{})
	go func() {
		s.readerWG.Wait()
		close(readerDone)
	}()
	select {
	case <-readerDone:
	case <-time.After(readerGrace):
	}

	if cmd != nil && cmd.Process != nil {
		if stdin != nil {
			_, _ = io.WriteString(stdin, "/quit\n")
			_ = stdin.Close()
		}
		_ = cmd.Process.Signal(unix.SIGTERM)

		done := make(chan error, 1)
		go func() { done <- cmd.Wait() }()
		select {
		case <-done:
		case <-time.After(termGrace):
			_ = cmd.Process.Kill()
			<-done
		}
	}

	// процесс завершен, дескрипторы закрыты — читатель обязан выйти
	s.readerWG.Wait()
}

// Running сообщает, работает ли процесс сигнализации.
func (s *Supervisor) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Registered сообщает, зарегистрирован ли транк.
func (s *Supervisor) Registered() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.registered
}

// RestartCount возвращает количество автоматических перезапусков.
func (s *Supervisor) RestartCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.restarts
}

// LastEventTime возвращает время последнего события от движка.
func (s *Supervisor) LastEventTime() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastEvent
}

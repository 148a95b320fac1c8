// Package audio маршрутизирует аудио каждой линии на одну из двух стерео
// шин (A/B) и предоставляет тестовый тон для проверки трактов оператором.
//
// Само сведение выполняет внешняя микшерная подсистема: маршрутизатор лишь
// вызывает внешнюю команду микшера и владеет процессами генераторов тона.
// Исчезновение устройства — восстановимое состояние, а не крах: политика
// деградированного режима принадлежит вызывающей стороне.
package audio

import (
	"bufio"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
	"sync"

	"github.com/arzzra/phone_station/pkg/config"
	"github.com/arzzra/phone_station/pkg/line"
)

// alsaCards путь к списку звуковых карт ядра
const alsaCards = "/proc/asound/cards"

// cardLineRe строка вида " 0 [PCH  ]: HDA-Intel - HDA Intel PCH"
var cardLineRe = regexp.MustCompile(`^\s*(\d+)\s+\[(\S+)\s*\]:\s+\S+\s+-\s+(.+)$`)

// Device описание звуковой карты для выбора оператором.
type Device struct {
	Index int
	ID    string
	Name  string
}

// RouterStatus снимок состояния маршрутизатора.
type RouterStatus struct {
	Running      bool
	Device       string
	CardIndex    int
	SampleRate   int
	ActiveRoutes int
	TonesActive  []string
}

// Router владеет таблицей маршрутизации линия → шина и процессами
// генераторов тона. Вызовы Route для разных линий безопасны параллельно;
// вызовы для одной линии сериализуются.
type Router struct {
	cfg   *config.AudioConfig
	log   *slog.Logger
	lines int

	mu        sync.Mutex // таблица маршрутизации и флаг running
	running   bool
	cardIndex int // -1 пока устройство не разрешено
	routes    map[int]line.Bus

	// per-line сериализация применений маршрута
	lineMu []sync.Mutex

	// per-bus генераторы тона
	tones map[line.Bus]*toneSlot
}

// NewRouter создает маршрутизатор для заданного числа линий.
func NewRouter(cfg *config.AudioConfig, lines int, log *slog.Logger) *Router {
	if log == nil {
		log = slog.Default()
	}
	return &Router{
		cfg:       cfg,
		log:       log.With("component", "audio"),
		lines:     lines,
		cardIndex: -1,
		routes:    make(map[int]line.Bus),
		lineMu:    make([]sync.Mutex, lines+1),
		tones: map[line.Bus]*toneSlot{
			line.BusA: {},
			line.BusB: {},
		},
	}
}

// Start разрешает настроенное устройство вывода. Отсутствие устройства
// возвращается как ErrDeviceNotFound; продолжать ли в деградированном
// режиме без маршрутизации — решение вызывающей стороны.
func (r *Router) Start() error {
	idx, err := r.resolveDevice()
	if err != nil {
		return err
	}

	r.mu.Lock()
	r.cardIndex = idx
	r.running = true
	r.mu.Unlock()

	r.log.Info("аудио маршрутизатор запущен", "device", r.cfg.Device, "card", idx)
	return nil
}

// Stop останавливает генераторы тона и освобождает устройство.
func (r *Router) Stop() {
	for bus, slot := range r.tones {
		if err := slot.stop(); err != nil {
			r.log.Warn("остановка генератора тона", "bus", bus.String(), "error", err)
		}
	}

	r.mu.Lock()
	r.running = false
	r.cardIndex = -1
	r.mu.Unlock()

	r.log.Info("аудио маршрутизатор остановлен")
}

// resolveDevice находит индекс карты по конфигурации: пустое значение —
// карта 0, число — индекс, иначе поиск по имени или идентификатору.
func (r *Router) resolveDevice() (int, error) {
	name := strings.TrimSpace(r.cfg.Device)
	if name == "" {
		return 0, nil
	}
	if idx, err := strconv.Atoi(name); err == nil {
		if idx < 0 {
			return 0, newError(ErrorCodeDeviceNotFound, fmt.Sprintf("недопустимый индекс карты %d", idx))
		}
		return idx, nil
	}

	devices, err := r.Devices()
	if err != nil {
		return 0, err
	}
	lower := strings.ToLower(name)
	for _, dev := range devices {
		if strings.Contains(strings.ToLower(dev.Name), lower) ||
			strings.EqualFold(dev.ID, name) {
			return dev.Index, nil
		}
	}
	return 0, &Error{Code: ErrorCodeDeviceNotFound,
		Message: fmt.Sprintf("устройство %q не найдено", name)}
}

// Devices перечисляет звуковые карты системы. Сбой опроса возвращается как
// ErrQueryFailed и никогда не роняет процесс: карта может исчезнуть между
// загрузкой конфигурации и использованием.
func (r *Router) Devices() ([]Device, error) {
	f, err := os.Open(alsaCards)
	if err != nil {
		return nil, wrapError(ErrorCodeQueryFailed, "чтение списка карт", err)
	}
	defer f.Close()

	var devices []Device
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		m := cardLineRe.FindStringSubmatch(scanner.Text())
		if m == nil {
			continue
		}
		idx, convErr := strconv.Atoi(m[1])
		if convErr != nil {
			continue
		}
		devices = append(devices, Device{
			Index: idx,
			ID:    m[2],
			Name:  strings.TrimSpace(m[3]),
		})
	}
	if err := scanner.Err(); err != nil {
		return nil, wrapError(ErrorCodeQueryFailed, "разбор списка карт", err)
	}
	return devices, nil
}

// Route обновляет назначение линии на шину и немедленно применяет его к
// живому миксу, в том числе для идущего разговора.
func (r *Router) Route(lineID int, bus line.Bus) error {
	if lineID < 1 || lineID > r.lines {
		return newError(ErrorCodeInvalidLine, fmt.Sprintf("линия %d вне диапазона 1..%d", lineID, r.lines))
	}

	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return ErrNotRunning
	}
	card := r.cardIndex
	r.mu.Unlock()

	ch, err := r.busChannels(bus)
	if err != nil {
		return err
	}

	// применения для одной линии сериализуются, разные линии независимы
	r.lineMu[lineID].Lock()
	defer r.lineMu[lineID].Unlock()

	if err := r.applyRoute(card, lineID, ch); err != nil {
		return err
	}

	r.mu.Lock()
	r.routes[lineID] = bus
	r.mu.Unlock()

	r.log.Info("маршрут обновлен", "line", lineID, "bus", bus.String())
	return nil
}

// Routing возвращает текущее назначение линии.
func (r *Router) Routing(lineID int) (line.Bus, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	bus, ok := r.routes[lineID]
	return bus, ok
}

// applyRoute вызывает внешний микшер: назначает каналы шины выходу линии.
func (r *Router) applyRoute(card, lineID int, ch config.BusChannels) error {
	args := []string{
		"-c", strconv.Itoa(card),
		"sset", fmt.Sprintf("Line%d Route", lineID),
		fmt.Sprintf("%d,%d", ch.Left, ch.Right),
	}
	cmd := exec.Command(r.cfg.MixerBinary, args...)
	if out, err := cmd.CombinedOutput(); err != nil {
		return &Error{
			Code:    ErrorCodeRouteFailed,
			Message: fmt.Sprintf("микшер: %s", strings.TrimSpace(string(out))),
			Wrapped: err,
		}
	}
	return nil
}

func (r *Router) busChannels(bus line.Bus) (config.BusChannels, error) {
	ch, ok := r.cfg.Buses[bus.String()]
	if !ok {
		return config.BusChannels{}, newError(ErrorCodeRouteFailed,
			fmt.Sprintf("шина %s не сконфигурирована", bus.String()))
	}
	return ch, nil
}

// Status возвращает снимок состояния для отображения оператору.
func (r *Router) Status() RouterStatus {
	r.mu.Lock()
	st := RouterStatus{
		Running:      r.running,
		Device:       r.cfg.Device,
		CardIndex:    r.cardIndex,
		SampleRate:   r.cfg.SampleRate,
		ActiveRoutes: len(r.routes),
	}
	r.mu.Unlock()

	for bus, slot := range r.tones {
		if slot.active() {
			st.TonesActive = append(st.TonesActive, bus.String())
		}
	}
	return st
}

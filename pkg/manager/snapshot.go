package manager

import (
	"time"

	"github.com/arzzra/phone_station/pkg/line"
)

// LineInfo неизменяемая копия состояния одной линии для отображения.
// Внешний интерфейс получает только значения, никогда внутренние
// дескрипторы.
type LineInfo struct {
	ID          int
	State       line.State
	Number      string
	Bus         line.Bus
	ConnectTime time.Time
	Duration    time.Duration
	Status      string
}

// Snapshot возвращает согласованную копию состояния всех линий.
// Читается под той же точкой сериализации, что и обработка событий,
// поэтому никогда не содержит полуобновленную линию.
func (m *Manager) Snapshot() []LineInfo {
	m.mu.Lock()
	defer m.mu.Unlock()

	infos := make([]LineInfo, len(m.lines))
	for i, l := range m.lines {
		infos[i] = LineInfo{
			ID:          l.ID(),
			State:       l.State(),
			Number:      l.Number(),
			Bus:         l.Bus(),
			ConnectTime: l.ConnectTime(),
			Duration:    l.Duration(),
			Status:      l.StatusString(),
		}
	}
	return infos
}

// AvailableLines возвращает свободные линии. Отсутствие свободной линии —
// нормальный результат запроса, а не ошибка.
func (m *Manager) AvailableLines() []LineInfo {
	return m.filter(func(info LineInfo) bool { return info.State == line.StateIdle })
}

// ActiveLines возвращает линии с активным вызовом.
func (m *Manager) ActiveLines() []LineInfo {
	return m.filter(func(info LineInfo) bool {
		switch info.State {
		case line.StateDialing, line.StateRinging, line.StateConnected:
			return true
		}
		return false
	})
}

func (m *Manager) filter(keep func(LineInfo) bool) []LineInfo {
	var out []LineInfo
	for _, info := range m.Snapshot() {
		if keep(info) {
			out = append(out, info)
		}
	}
	return out
}

package audio

import (
	"fmt"
	"os/exec"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sys/unix"

	"github.com/arzzra/phone_station/pkg/line"
)

// toneGrace время на мягкое завершение генератора до SIGKILL
const toneGrace = time.Second

// toneSlot процесс генератора тона одной шины. Генератор работает отдельным
// процессом, чтобы не наследовать состояние аудио библиотеки основного
// процесса. Не более одного генератора на шину.
type toneSlot struct {
	mu   sync.Mutex
	proc *exec.Cmd
}

func (t *toneSlot) active() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.proc != nil
}

// start запускает генератор, если он еще не работает. Повторный запуск
// активного генератора — no-op.
func (t *toneSlot) start(binary string, args []string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.proc != nil {
		return nil
	}

	cmd := exec.Command(binary, args...)
	if err := cmd.Start(); err != nil {
		return wrapError(ErrorCodeToneFailed, "запуск генератора тона", err)
	}
	t.proc = cmd
	return nil
}

// stop завершает генератор: SIGTERM, пауза toneGrace, затем SIGKILL.
// Дескриптор процесса освобождается полностью до возврата, чтобы следующий
// start не отчитался об успехе поверх живого процесса.
func (t *toneSlot) stop() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.proc == nil {
		return nil
	}
	cmd := t.proc
	t.proc = nil

	_ = cmd.Process.Signal(unix.SIGTERM)

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()
	select {
	case <-done:
	case <-time.After(toneGrace):
		_ = cmd.Process.Kill()
		<-done
	}
	return nil
}

// SetTone включает или выключает непрерывный тон на шине. Тон вытесняет
// маршрутизированное аудио шины на время проверки. Повторное включение
// активного тона — no-op.
func (r *Router) SetTone(bus line.Bus, enabled bool) error {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return ErrNotRunning
	}
	card := r.cardIndex
	r.mu.Unlock()

	slot, ok := r.tones[bus]
	if !ok {
		return newError(ErrorCodeToneFailed, fmt.Sprintf("неизвестная шина %s", bus.String()))
	}

	if !enabled {
		if err := slot.stop(); err != nil {
			return err
		}
		r.log.Info("тестовый тон выключен", "bus", bus.String())
		return nil
	}

	ch, err := r.busChannels(bus)
	if err != nil {
		return err
	}

	// генератору нужен канал с наибольшим номером, чтобы открыть устройство
	// с достаточным числом каналов
	maxCh := ch.Left
	if ch.Right > maxCh {
		maxCh = ch.Right
	}
	args := []string{
		"-D", fmt.Sprintf("hw:%d", card),
		"-t", "sine",
		"-f", strconv.Itoa(r.cfg.ToneFreq),
		"-r", strconv.Itoa(r.cfg.SampleRate),
		"-c", strconv.Itoa(maxCh),
		"-s", strconv.Itoa(ch.Left),
	}
	if err := slot.start(r.cfg.ToneBinary, args); err != nil {
		return err
	}

	r.log.Info("тестовый тон включен", "bus", bus.String(), "freq", r.cfg.ToneFreq)
	return nil
}

package manager

import "errors"

// Типизированные ошибки операций менеджера. Все они локальны для линии:
// синхронный отказ без изменения глобального состояния.
var (
	// ErrNoSuchLine идентификатор линии вне диапазона 1..N
	ErrNoSuchLine = errors.New("линия с таким идентификатором не существует")

	// ErrLineBusy набор на линии вне состояния IDLE
	ErrLineBusy = errors.New("линия занята")

	// ErrRoutingDisabled аудио маршрутизация отключена (деградированный
	// режим после отказа устройства)
	ErrRoutingDisabled = errors.New("аудио маршрутизация отключена")
)

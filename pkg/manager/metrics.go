package manager

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics собирает и экспортирует метрики менеджера вызовов.
// Все операции thread-safe; nil *Metrics допустим и отключает сбор.
type Metrics struct {
	callsTotal    *prometheus.CounterVec
	callsActive   prometheus.Gauge
	callDuration  prometheus.Histogram
	engineDeaths  prometheus.Counter
	eventsTotal   *prometheus.CounterVec
	skippedLines  prometheus.Counter
	forcedHangups prometheus.Counter
}

// NewMetrics регистрирует метрики в указанном реестре
// (nil — реестр по умолчанию).
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		callsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "phone_station",
			Subsystem: "calls",
			Name:      "total",
			Help:      "Исходящие вызовы по результату (dialed, rejected, failed)",
		}, []string{"result"}),
		callsActive: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "phone_station",
			Subsystem: "calls",
			Name:      "active",
			Help:      "Количество линий с активным вызовом",
		}),
		callDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "phone_station",
			Subsystem: "calls",
			Name:      "duration_seconds",
			Help:      "Длительность завершенных разговоров",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 12),
		}),
		engineDeaths: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "phone_station",
			Subsystem: "signaling",
			Name:      "engine_deaths_total",
			Help:      "Неожиданные завершения процесса сигнализации",
		}),
		eventsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "phone_station",
			Subsystem: "signaling",
			Name:      "events_total",
			Help:      "Обработанные события сигнализации по типу",
		}, []string{"type"}),
		skippedLines: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "phone_station",
			Subsystem: "signaling",
			Name:      "skipped_lines_total",
			Help:      "Нераспознанные строки вывода движка",
		}),
		forcedHangups: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "phone_station",
			Subsystem: "calls",
			Name:      "forced_hangups_total",
			Help:      "Отбои, завершенные локально по таймауту подтверждения",
		}),
	}
}

func (m *Metrics) callResult(result string) {
	if m != nil {
		m.callsTotal.WithLabelValues(result).Inc()
	}
}

func (m *Metrics) setActive(n int) {
	if m != nil {
		m.callsActive.Set(float64(n))
	}
}

func (m *Metrics) observeDuration(seconds float64) {
	if m != nil {
		m.callDuration.Observe(seconds)
	}
}

func (m *Metrics) engineDeath() {
	if m != nil {
		m.engineDeaths.Inc()
	}
}

func (m *Metrics) event(typ string) {
	if m != nil {
		m.eventsTotal.WithLabelValues(typ).Inc()
	}
}

// SkippedLine счетчик для хука супервизора UnparsedHook.
func (m *Metrics) SkippedLine(string) {
	if m != nil {
		m.skippedLines.Inc()
	}
}

func (m *Metrics) forcedHangup() {
	if m != nil {
		m.forcedHangups.Inc()
	}
}

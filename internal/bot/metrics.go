package bot

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"leverage/internal/models"
)

// ============================================================
// Prometheus метрики жизненного цикла позиций
// ============================================================
//
// Экспортируются через /metrics (promhttp в cmd/server).

// ============ Метрики состояния ============

// PositionsByState - текущее количество позиций по состояниям
var PositionsByState = promauto.NewGaugeVec(
	prometheus.GaugeOpts{
		Namespace: "leverage",
		Subsystem: "lifecycle",
		Name:      "positions",
		Help:      "Current number of positions by state",
	},
	[]string{"state"},
)

// ActiveMonitors - запущенные мониторы (равно числу OPEN позиций)
var ActiveMonitors = promauto.NewGauge(
	prometheus.GaugeOpts{
		Namespace: "leverage",
		Subsystem: "lifecycle",
		Name:      "active_monitors",
		Help:      "Number of running position monitors",
	},
)

// ============ Счётчики событий ============

// TransitionsTotal - переходы state machine
var TransitionsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "leverage",
		Subsystem: "lifecycle",
		Name:      "transitions_total",
		Help:      "Total number of position state transitions",
	},
	[]string{"from", "to"},
)

// ClosesTotal - закрытия по причинам
var ClosesTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "leverage",
		Subsystem: "lifecycle",
		Name:      "closes_total",
		Help:      "Total number of closed positions by reason",
	},
	[]string{"reason"},
)

// LiquidationSignals - экстренные сигналы ликвидации
var LiquidationSignals = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "leverage",
		Subsystem: "risk",
		Name:      "liquidation_signals_total",
		Help:      "Number of liquidation-risk signals raised by monitors",
	},
	[]string{"venue"},
)

// GateRejections - кандидаты, отклонённые риск-гейтом
var GateRejections = promauto.NewCounter(
	prometheus.CounterOpts{
		Namespace: "leverage",
		Subsystem: "risk",
		Name:      "gate_rejections_total",
		Help:      "Number of candidates rejected by the risk gate",
	},
)

// ProbeResults - результаты проб риск-анализа
var ProbeResults = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "leverage",
		Subsystem: "risk",
		Name:      "probe_results_total",
		Help:      "Risk probe outcomes",
	},
	[]string{"probe", "result"}, // result: ok, failed
)

// MonitorTicks - опросы статуса мониторами
var MonitorTicks = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "leverage",
		Subsystem: "monitor",
		Name:      "ticks_total",
		Help:      "Monitor status polls",
	},
	[]string{"venue", "result"}, // result: ok, error
)

// ============ Метрики площадок ============

// VenueCallLatency - латентность вызовов площадок
var VenueCallLatency = promauto.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: "leverage",
		Subsystem: "venue",
		Name:      "call_latency_ms",
		Help:      "Venue call latency in milliseconds",
		Buckets:   []float64{10, 25, 50, 100, 200, 500, 1000, 2000, 5000, 10000},
	},
	[]string{"venue", "op"},
)

// VenueCallErrors - ошибки вызовов площадок
var VenueCallErrors = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "leverage",
		Subsystem: "venue",
		Name:      "call_errors_total",
		Help:      "Venue call errors",
	},
	[]string{"venue", "op"},
)

// ============ Вспомогательные функции ============

// RecordTransition записывает переход и обновляет счётчик состояний
func RecordTransition(from, to models.PositionState) {
	TransitionsTotal.WithLabelValues(string(from), string(to)).Inc()
	if from != "" {
		PositionsByState.WithLabelValues(string(from)).Dec()
	}
	PositionsByState.WithLabelValues(string(to)).Inc()
}

// RecordClose записывает закрытие
func RecordClose(reason models.CloseReason) {
	ClosesTotal.WithLabelValues(string(reason)).Inc()
}

// Observer - приёмник вызовов площадок и проб для Prometheus
//
// Реализует venue.Observer и risk.Observer.
type Observer struct{}

func (Observer) ObserveCall(venue, op string, d time.Duration, err error) {
	VenueCallLatency.WithLabelValues(venue, op).Observe(float64(d.Milliseconds()))
	if err != nil {
		VenueCallErrors.WithLabelValues(venue, op).Inc()
	}
}

func (Observer) ObserveProbe(probe string, err error) {
	result := "ok"
	if err != nil {
		result = "failed"
	}
	ProbeResults.WithLabelValues(probe, result).Inc()
}

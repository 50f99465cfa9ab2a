package bot

import (
	"context"
	"time"

	"leverage/internal/models"
	"leverage/internal/venue"
	"leverage/pkg/utils"
)

// closeSignal - сообщение монитора менеджеру. Монитор состояние не меняет.
type closeSignal struct {
	positionID string
	reason     models.CloseReason
	reconcile  bool // площадка не знает позицию
	status     *venue.Status
	source     *MonitorHandle
}

// MonitorConfig - параметры опроса
type MonitorConfig struct {
	PollInterval    time.Duration
	MarginThreshold float64
}

// MonitorHandle - управление запущенным монитором
//
// Cancel останавливает дальнейшие вызовы площадки, уже отправленный
// запрос статуса дорабатывает. Wait дожидается выхода горутины.
type MonitorHandle struct {
	positionID string
	cancel     context.CancelFunc
	done       chan struct{}
}

func (h *MonitorHandle) Cancel()               { h.cancel() }
func (h *MonitorHandle) Done() <-chan struct{} { return h.done }
func (h *MonitorHandle) Wait()                 { <-h.done }

// Stop - Cancel + Wait
func (h *MonitorHandle) Stop() {
	h.cancel()
	<-h.done
}

// Evaluate проверяет условия выхода по снимку позиции
//
// Угроза ликвидации проверяется первой и имеет приоритет над TP и SL.
func Evaluate(st *venue.Status, marginThreshold float64) (models.CloseReason, bool) {
	switch {
	case st.MarginRatio < marginThreshold:
		return models.CloseLiquidation, true
	case st.TakeProfitPct > 0 && st.UnrealizedPnlPct >= st.TakeProfitPct:
		return models.CloseTakeProfit, true
	case st.StopLossPct > 0 && st.UnrealizedPnlPct <= -st.StopLossPct:
		return models.CloseStopLoss, true
	}
	return "", false
}

// StartMonitor запускает опрос позиции
//
// Монитор отправляет не больше одного сигнала и завершается.
// Ошибки статуса логируются, опрос продолжается.
func StartMonitor(parent context.Context, positionID, venuePositionID string, conn venue.Connector, cfg MonitorConfig, out chan<- closeSignal, log *utils.Logger) *MonitorHandle {
	ctx, cancel := context.WithCancel(parent)
	h := &MonitorHandle{positionID: positionID, cancel: cancel, done: make(chan struct{})}

	ActiveMonitors.Inc()
	go func() {
		defer close(h.done)
		defer ActiveMonitors.Dec()
		runMonitor(ctx, h, venuePositionID, conn, cfg, out, log)
	}()
	return h
}

func runMonitor(ctx context.Context, h *MonitorHandle, venuePositionID string, conn venue.Connector, cfg MonitorConfig, out chan<- closeSignal, log *utils.Logger) {
	ticker := time.NewTicker(cfg.PollInterval)
	defer ticker.Stop()

	emit := func(sig closeSignal) {
		sig.positionID = h.positionID
		sig.source = h
		select {
		case out <- sig:
		case <-ctx.Done():
		}
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		st, err := conn.Status(ctx, venuePositionID)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			MonitorTicks.WithLabelValues(conn.ID(), "error").Inc()
			if venue.IsNotFound(err) {
				emit(closeSignal{reconcile: true})
				return
			}
			log.Warn("status poll failed", utils.Err(err))
			continue
		}
		MonitorTicks.WithLabelValues(conn.ID(), "ok").Inc()

		if reason, ok := Evaluate(st, cfg.MarginThreshold); ok {
			log.Info("exit condition met",
				utils.Reason(string(reason)),
				utils.PNL(st.UnrealizedPnlPct),
				utils.Float64("margin_ratio", st.MarginRatio),
			)
			emit(closeSignal{reason: reason, status: st})
			return
		}
	}
}

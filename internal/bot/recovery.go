package bot

import (
	"context"
	"fmt"

	"leverage/internal/models"
	"leverage/internal/venue"
	"leverage/pkg/utils"
)

// PositionSource - хранилище позиций, переживших перезапуск
type PositionSource interface {
	ListActive(ctx context.Context) ([]models.Position, error)
}

// RecoveryReport - итог восстановления
type RecoveryReport struct {
	Restored  int      // OPEN позиции с новым монитором
	Resumed   int      // CLOSING позиции с повторным закрытием
	Abandoned int      // OPENING/PROPOSED, результат открытия неизвестен
	Skipped   []string // позиции без площадки в конфигурации
}

// Recover восстанавливает позиции из хранилища после перезапуска
//
// OPEN: позиция передаётся коннектору и получает монитор.
// CLOSING: закрытие запускается заново с сохранённой причиной.
// PROPOSED/OPENING: исход неизвестен, позиция помечается FAILED с уведомлением.
// Вызывать до Run и до приёма новых кандидатов.
func (m *Manager) Recover(ctx context.Context, src PositionSource) (RecoveryReport, error) {
	var report RecoveryReport

	positions, err := src.ListActive(ctx)
	if err != nil {
		return report, fmt.Errorf("failed to load active positions: %w", err)
	}

	for _, p := range positions {
		log := m.log.WithPosition(p.ID).WithVenue(p.Venue)

		conn, ok := m.venues[p.Venue]
		if !ok {
			log.Error("recovery: venue is not configured, position skipped")
			report.Skipped = append(report.Skipped, p.ID)
			continue
		}

		if r, ok := conn.(venue.Restorer); ok && HasOpenPosition(p.State) && p.VenuePositionID != "" {
			if err := r.Restore(trackedFrom(p)); err != nil {
				log.Error("recovery: connector refused position", utils.Err(err))
				report.Skipped = append(report.Skipped, p.ID)
				continue
			}
		}

		e := &entry{conn: conn, pos: p}
		PositionsByState.WithLabelValues(string(p.State)).Inc()

		m.mu.Lock()
		m.active[p.ID] = e
		m.mu.Unlock()

		switch p.State {
		case models.StateOpen:
			e.mu.Lock()
			e.monitor = m.startMonitor(e)
			e.mu.Unlock()
			report.Restored++
			log.Info("recovery: monitoring resumed", utils.Instrument(p.Candidate.Instrument))

		case models.StateClosing:
			reason := p.CloseReason
			if reason == "" {
				reason = models.CloseManual
				e.mu.Lock()
				e.pos.CloseReason = reason
				e.mu.Unlock()
			}
			if !m.goWorker(func() { m.closeWorker(e, reason) }) {
				return report, ErrShuttingDown
			}
			report.Resumed++
			log.Info("recovery: close resumed", utils.Reason(string(reason)))

		default:
			e.mu.Lock()
			e.pos.LastError = "interrupted by restart"
			rec := ForceTransition(&e.pos, models.StateFailed, "interrupted by restart", m.now())
			done := m.persistLocked(e, rec)
			e.mu.Unlock()

			m.confirm(e, done)
			log.Warn("recovery: open outcome unknown, marked FAILED", utils.State(string(p.State)))
			m.notify(e, models.NotificationTypeReconcile, models.SeverityWarn,
				fmt.Sprintf("Position %s was %s during restart; check %s manually", p.ID, p.State, p.Venue), nil)
			m.archiveEntry(e)
			report.Abandoned++
		}
	}

	m.log.Info("recovery completed",
		utils.Int("restored", report.Restored),
		utils.Int("resumed", report.Resumed),
		utils.Int("abandoned", report.Abandoned),
		utils.Int("skipped", len(report.Skipped)),
	)
	return report, nil
}

func trackedFrom(p models.Position) venue.Tracked {
	return venue.Tracked{
		PositionID:       p.VenuePositionID,
		Instrument:       p.Candidate.Instrument,
		Side:             p.Candidate.Side,
		Quantity:         p.Quantity,
		Notional:         p.Candidate.Size,
		EntryPrice:       p.EntryPrice,
		Leverage:         p.EffectiveLeverage,
		LiquidationPrice: p.LiquidationPrice,
		TakeProfitPct:    p.Candidate.TakeProfitPct,
		StopLossPct:      p.Candidate.StopLossPct,
	}
}

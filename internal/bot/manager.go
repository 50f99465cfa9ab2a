package bot

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"leverage/internal/models"
	"leverage/internal/risk"
	"leverage/internal/venue"
	"leverage/pkg/retry"
	"leverage/pkg/utils"
)

// Recorder - хранилище аудита переходов
type Recorder interface {
	Record(ctx context.Context, rec models.TransitionRecord, pos models.Position) error
}

// Notifier - доставка уведомлений оператору
type Notifier interface {
	Notify(ctx context.Context, n *models.Notification)
}

// RiskGate - сводный риск-анализ кандидата
type RiskGate interface {
	Aggregate(ctx context.Context, targets []risk.Target) models.AggregateVerdict
}

// TransitionListener получает снимок позиции после каждого перехода (websocket)
type TransitionListener interface {
	OnTransition(pos models.Position)
}

// Config - параметры менеджера жизненного цикла
type Config struct {
	LeverageCeiling          float64
	PollInterval             time.Duration
	MarginThreshold          float64
	DefaultTakeProfit        float64
	DefaultStopLoss          float64
	OpenAttempts             int
	CloseAttempts            int
	RetryInitialDelay        time.Duration
	RetryMaxDelay            time.Duration
	LiquidationRetryInterval time.Duration
	PersistTimeout           time.Duration
	PersistAttempts          int
	NotifyTimeout            time.Duration
}

// DefaultConfig - значения по умолчанию
func DefaultConfig() Config {
	return Config{
		LeverageCeiling:          20,
		PollInterval:             time.Second,
		MarginThreshold:          0.10,
		DefaultTakeProfit:        50,
		DefaultStopLoss:          20,
		OpenAttempts:             3,
		CloseAttempts:            5,
		RetryInitialDelay:        500 * time.Millisecond,
		RetryMaxDelay:            5 * time.Second,
		LiquidationRetryInterval: 200 * time.Millisecond,
		PersistTimeout:           5 * time.Second,
		PersistAttempts:          5,
		NotifyTimeout:            5 * time.Second,
	}
}

// Deps - зависимости менеджера
type Deps struct {
	Venues   []venue.Connector
	Gate     RiskGate
	Recorder Recorder
	Notifier Notifier
	Listener TransitionListener
	Logger   *utils.Logger
}

// entry - позиция под управлением менеджера
//
// mu сериализует переходы одной позиции. Сетевые вызовы под mu не выполняются.
type entry struct {
	mu       sync.Mutex
	pos      models.Position
	conn     venue.Connector
	monitor  *MonitorHandle
	persist  *persistResult // последняя запись аудита
	notified chan struct{}  // закрывается, когда доставлено последнее уведомление
}

type persistResult struct {
	done chan struct{}
	err  error
}

// Manager - владелец позиций и их state machine
//
// Мониторы только сигналят; все переходы выполняет менеджер.
type Manager struct {
	cfg      Config
	venues   map[string]venue.Connector
	gate     RiskGate
	recorder Recorder
	notifier Notifier
	listener TransitionListener
	log      *utils.Logger

	mu      sync.RWMutex
	active  map[string]*entry
	archive map[string]models.Position

	signals chan closeSignal

	ctx    context.Context
	cancel context.CancelFunc

	// воркеры закрытия и асинхронные записи аудита
	lifeMu  sync.RWMutex
	closed  bool
	workers sync.WaitGroup

	now func() time.Time
}

// NewManager создаёт менеджер
func NewManager(cfg Config, deps Deps) (*Manager, error) {
	if deps.Gate == nil {
		return nil, fmt.Errorf("risk gate is required")
	}
	if len(deps.Venues) == 0 {
		return nil, fmt.Errorf("at least one venue is required")
	}

	def := DefaultConfig()
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = def.PollInterval
	}
	if cfg.MarginThreshold <= 0 {
		cfg.MarginThreshold = def.MarginThreshold
	}
	if cfg.DefaultTakeProfit <= 0 {
		cfg.DefaultTakeProfit = def.DefaultTakeProfit
	}
	if cfg.DefaultStopLoss <= 0 {
		cfg.DefaultStopLoss = def.DefaultStopLoss
	}
	if cfg.OpenAttempts <= 0 {
		cfg.OpenAttempts = def.OpenAttempts
	}
	if cfg.CloseAttempts <= 0 {
		cfg.CloseAttempts = def.CloseAttempts
	}
	if cfg.RetryInitialDelay <= 0 {
		cfg.RetryInitialDelay = def.RetryInitialDelay
	}
	if cfg.RetryMaxDelay <= 0 {
		cfg.RetryMaxDelay = def.RetryMaxDelay
	}
	if cfg.LiquidationRetryInterval <= 0 {
		cfg.LiquidationRetryInterval = def.LiquidationRetryInterval
	}
	if cfg.PersistTimeout <= 0 {
		cfg.PersistTimeout = def.PersistTimeout
	}
	if cfg.PersistAttempts <= 0 {
		cfg.PersistAttempts = def.PersistAttempts
	}
	if cfg.NotifyTimeout <= 0 {
		cfg.NotifyTimeout = def.NotifyTimeout
	}

	venues := make(map[string]venue.Connector, len(deps.Venues))
	for _, v := range deps.Venues {
		if _, dup := venues[v.ID()]; dup {
			return nil, fmt.Errorf("duplicate venue %q", v.ID())
		}
		venues[v.ID()] = v
	}

	log := deps.Logger
	if log == nil {
		log = utils.NewNopLogger()
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		cfg:      cfg,
		venues:   venues,
		gate:     deps.Gate,
		recorder: deps.Recorder,
		notifier: deps.Notifier,
		listener: deps.Listener,
		log:      log.WithComponent("lifecycle"),
		active:   make(map[string]*entry),
		archive:  make(map[string]models.Position),
		signals:  make(chan closeSignal, 64),
		ctx:      ctx,
		cancel:   cancel,
		now:      time.Now,
	}, nil
}

// Run обрабатывает сигналы мониторов до отмены ctx или Shutdown
func (m *Manager) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-m.ctx.Done():
			return nil
		case sig := <-m.signals:
			m.handleSignal(sig)
		}
	}
}

// ============================================================
// Входящие операции
// ============================================================

// Submit проводит кандидата через риск-гейт и открывает позицию
//
// Возвращает снимок позиции в конечном для вызова состоянии:
// OPEN, REJECTED (*RejectedError) или FAILED (ErrOpenFailed).
func (m *Manager) Submit(ctx context.Context, c models.Candidate) (models.Position, error) {
	if m.isClosed() {
		return models.Position{}, ErrShuttingDown
	}

	conn, err := m.prepare(&c)
	if err != nil {
		return models.Position{}, err
	}

	now := m.now()
	e := &entry{
		conn: conn,
		pos: models.Position{
			ID:                uuid.NewString(),
			Candidate:         c,
			Venue:             c.Venue,
			EffectiveLeverage: utils.ClampLeverage(c.Leverage, m.cfg.LeverageCeiling),
			State:             models.StateProposed,
			CreatedAt:         now,
			UpdatedAt:         now,
		},
	}
	log := m.log.WithPosition(e.pos.ID)

	m.mu.Lock()
	m.active[e.pos.ID] = e
	m.mu.Unlock()

	e.mu.Lock()
	RecordTransition("", models.StateProposed)
	m.persistLocked(e, models.TransitionRecord{
		PositionID: e.pos.ID,
		To:         models.StateProposed,
		Timestamp:  now,
		Reason:     "candidate submitted",
	})
	e.mu.Unlock()

	// риск-гейт
	verdict := m.gate.Aggregate(ctx, m.targets(c))
	if !verdict.Recommended {
		GateRejections.Inc()
		e.mu.Lock()
		e.pos.Reasons = verdict.Reasons
		rec, _ := TryTransition(&e.pos, models.StateRejected, "risk gate", m.now())
		res := m.persistLocked(e, rec)
		e.mu.Unlock()

		m.confirm(e, res)
		log.Info("candidate rejected", utils.Instrument(c.Instrument), utils.Any("reasons", verdict.Reasons))
		m.notify(e, models.NotificationTypeRejected, models.SeverityWarn,
			fmt.Sprintf("Candidate %s on %s rejected: %s", c.Instrument, c.Venue, strings.Join(verdict.Reasons, "; ")),
			map[string]interface{}{"reasons": verdict.Reasons, "score": verdict.Score})
		m.archiveEntry(e)

		pos := m.snapshot(e)
		return pos, &RejectedError{PositionID: pos.ID, Reasons: verdict.Reasons}
	}

	e.mu.Lock()
	rec, _ := TryTransition(&e.pos, models.StateOpening, "risk gate passed", m.now())
	m.persistLocked(e, rec)
	req := venue.OpenRequest{
		Instrument:    c.Instrument,
		Side:          c.Side,
		Size:          c.Size,
		Leverage:      e.pos.EffectiveLeverage,
		StopLossPct:   c.StopLossPct,
		TakeProfitPct: c.TakeProfitPct,
	}
	e.mu.Unlock()

	policy := retry.Backoff(m.cfg.OpenAttempts, m.cfg.RetryInitialDelay, m.cfg.RetryMaxDelay)
	policy.RetryIf = venue.IsUnavailable
	policy.OnRetry = func(attempt int, err error, delay time.Duration) {
		log.Warn("open attempt failed, retrying", utils.Int("attempt", attempt), utils.Err(err), utils.Latency(delay))
	}
	opened, err := retry.DoValue(m.ctx, func() (*venue.OpenResult, error) {
		return conn.Open(m.ctx, req)
	}, policy)

	if err != nil {
		e.mu.Lock()
		e.pos.LastError = err.Error()
		rec, _ := TryTransition(&e.pos, models.StateFailed, "open failed", m.now())
		res := m.persistLocked(e, rec)
		e.mu.Unlock()

		m.confirm(e, res)
		log.Error("open failed", utils.Venue(c.Venue), utils.Err(err))
		m.notify(e, models.NotificationTypeOpenFailed, models.SeverityError,
			fmt.Sprintf("Failed to open %s on %s: %v", c.Instrument, c.Venue, err), nil)
		m.archiveEntry(e)
		return m.snapshot(e), fmt.Errorf("%w: %w", ErrOpenFailed, err)
	}

	e.mu.Lock()
	at := m.now()
	e.pos.VenuePositionID = opened.PositionID
	e.pos.EntryPrice = opened.EntryPrice
	e.pos.LiquidationPrice = opened.LiquidationPrice
	e.pos.Quantity = opened.Quantity
	if opened.Leverage > 0 {
		// площадка может округлить плечо вниз, но не поднять выше потолка
		e.pos.EffectiveLeverage = math.Min(opened.Leverage, e.pos.EffectiveLeverage)
	}
	e.pos.OpenedAt = &at
	rec, _ = TryTransition(&e.pos, models.StateOpen, "opened on venue", at)
	m.persistLocked(e, rec)
	e.monitor = m.startMonitor(e)
	pos := e.pos
	e.mu.Unlock()

	log.Info("position opened",
		utils.Venue(pos.Venue),
		utils.Instrument(pos.Candidate.Instrument),
		utils.Price(pos.EntryPrice),
		utils.Leverage(pos.EffectiveLeverage),
	)
	m.notify(e, models.NotificationTypeOpen, models.SeverityInfo,
		fmt.Sprintf("Opened %s %s on %s at %g, leverage x%g", pos.Candidate.Side, pos.Candidate.Instrument, pos.Venue, pos.EntryPrice, pos.EffectiveLeverage),
		map[string]interface{}{"entry_price": pos.EntryPrice, "liquidation_price": pos.LiquidationPrice, "leverage": pos.EffectiveLeverage})

	// снимок на момент открытия: монитор к этому времени мог уже сработать
	return pos, nil
}

// RequestManualClose закрывает открытую позицию по запросу оператора
//
// Возвращает сразу после перехода в CLOSING, закрытие идёт в фоне.
func (m *Manager) RequestManualClose(ctx context.Context, positionID string) error {
	e := m.lookup(positionID)
	if e == nil {
		m.mu.RLock()
		_, archived := m.archive[positionID]
		m.mu.RUnlock()
		if archived {
			return ErrNotOpen
		}
		return ErrPositionNotFound
	}
	return m.beginClose(e, models.CloseManual)
}

// Analyze - сухой прогон риск-анализа без открытия
func (m *Manager) Analyze(ctx context.Context, c models.Candidate) (models.AggregateVerdict, error) {
	if _, err := m.prepare(&c); err != nil {
		return models.AggregateVerdict{}, err
	}
	return m.gate.Aggregate(ctx, m.targets(c)), nil
}

// Position возвращает снимок позиции (активной или архивной)
func (m *Manager) Position(id string) (models.Position, bool) {
	if e := m.lookup(id); e != nil {
		return m.snapshot(e), true
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.archive[id]
	return p, ok
}

// Positions - все известные позиции по времени создания
func (m *Manager) Positions() []models.Position {
	m.mu.RLock()
	entries := make([]*entry, 0, len(m.active))
	for _, e := range m.active {
		entries = append(entries, e)
	}
	out := make([]models.Position, 0, len(m.active)+len(m.archive))
	for _, p := range m.archive {
		out = append(out, p)
	}
	m.mu.RUnlock()

	for _, e := range entries {
		out = append(out, m.snapshot(e))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// ============================================================
// Закрытие
// ============================================================

// handleSignal выполняет только переход. Ожидание записей, монитора и
// уведомлений уходит в воркеры, чтобы сигнал одной позиции не задерживал другие.
func (m *Manager) handleSignal(sig closeSignal) {
	e := m.lookup(sig.positionID)
	if e == nil {
		return
	}
	e.mu.Lock()
	stale := sig.source != nil && e.monitor != sig.source
	e.mu.Unlock()
	if stale {
		return
	}
	if sig.reconcile {
		if !m.goWorker(func() { m.reconcileOpen(e) }) {
			m.log.Warn("manager stopping, reconciliation deferred to recovery", utils.PositionID(sig.positionID))
		}
		return
	}
	if err := m.beginClose(e, sig.reason); err != nil {
		// позиция уже закрывается по другому триггеру
		m.log.Debug("close signal coalesced", utils.PositionID(sig.positionID), utils.Reason(string(sig.reason)))
	}
}

// beginClose - OPEN → CLOSING, отмена монитора и запуск воркера закрытия
func (m *Manager) beginClose(e *entry, reason models.CloseReason) error {
	e.mu.Lock()
	rec, err := TryTransition(&e.pos, models.StateClosing, string(reason), m.now())
	if err != nil {
		e.mu.Unlock()
		return ErrNotOpen
	}
	e.pos.CloseReason = reason
	if e.monitor != nil {
		e.monitor.Cancel()
	}
	m.persistLocked(e, rec)
	venueID := e.pos.Venue
	e.mu.Unlock()

	if reason == models.CloseLiquidation {
		LiquidationSignals.WithLabelValues(venueID).Inc()
		m.log.Warn("liquidation risk, emergency close", utils.PositionID(e.pos.ID), utils.Venue(venueID))
		m.notify(e, models.NotificationTypeLiquidation, models.SeverityError,
			fmt.Sprintf("Liquidation risk on %s, closing position", venueID), nil)
	}

	if !m.goWorker(func() { m.closeWorker(e, reason) }) {
		m.log.Warn("manager stopping, close deferred to recovery", utils.PositionID(e.pos.ID))
	}
	return nil
}

// closeWorker закрывает позицию на площадке
//
// Обычное закрытие повторяет временные ошибки с backoff в пределах бюджета.
// При угрозе ликвидации повторы идут с фиксированным интервалом до успеха
// или подтверждения, что позиции нет.
func (m *Manager) closeWorker(e *entry, reason models.CloseReason) {
	e.mu.Lock()
	venuePositionID := e.pos.VenuePositionID
	log := m.log.WithPosition(e.pos.ID)
	e.mu.Unlock()

	var policy retry.Policy
	if reason == models.CloseLiquidation {
		policy = retry.Fixed(m.cfg.LiquidationRetryInterval)
		policy.RetryIf = func(err error) bool {
			// таймаут вызова - это сбой площадки; останавливает только остановка менеджера
			return !venue.IsNotFound(err) && m.ctx.Err() == nil
		}
	} else {
		policy = retry.Backoff(m.cfg.CloseAttempts, m.cfg.RetryInitialDelay, m.cfg.RetryMaxDelay)
		policy.RetryIf = venue.IsUnavailable
	}
	policy.OnRetry = func(attempt int, err error, delay time.Duration) {
		log.Warn("close attempt failed, retrying", utils.Int("attempt", attempt), utils.Reason(string(reason)), utils.Err(err))
	}

	res, err := retry.DoValue(m.ctx, func() (*venue.CloseResult, error) {
		return e.conn.Close(m.ctx, venuePositionID)
	}, policy)

	switch {
	case err == nil:
		m.finishClose(e, reason, res)
	case venue.IsNotFound(err):
		m.reconcileClosing(e)
	case m.ctx.Err() != nil:
		log.Warn("close interrupted by shutdown, position stays CLOSING", utils.Err(err))
	default:
		m.revertToOpen(e, err)
	}
}

func (m *Manager) finishClose(e *entry, reason models.CloseReason, res *venue.CloseResult) {
	e.mu.Lock()
	pnl := res.RealizedPnl
	e.pos.RealizedPnl = &pnl
	rec, err := TryTransition(&e.pos, models.StateClosed, string(reason), m.now())
	if err != nil {
		e.mu.Unlock()
		m.log.Error("close finished in unexpected state", utils.Err(err))
		return
	}
	rec.RealizedPnl = &pnl
	done := m.persistLocked(e, rec)
	mon := e.monitor
	pos := e.pos
	e.mu.Unlock()

	RecordClose(reason)
	m.confirm(e, done)
	m.log.Info("position closed",
		utils.PositionID(pos.ID),
		utils.Reason(string(reason)),
		utils.String("realized_pnl", pnl.String()),
		utils.Price(res.ExitPrice),
	)
	m.notify(e, models.NotificationTypeClose, models.SeverityInfo,
		fmt.Sprintf("Closed %s on %s (%s), realized PnL %s", pos.Candidate.Instrument, pos.Venue, reason, pnl.StringFixed(2)),
		map[string]interface{}{"reason": string(reason), "realized_pnl": pnl.String(), "exit_price": res.ExitPrice})

	if mon != nil {
		mon.Wait()
	}
	m.archiveEntry(e)
}

// reconcileClosing - площадка не знает позицию во время закрытия
func (m *Manager) reconcileClosing(e *entry) {
	e.mu.Lock()
	rec, err := TryTransition(&e.pos, models.StateClosed, "position not found on venue", m.now())
	if err != nil {
		e.mu.Unlock()
		return
	}
	done := m.persistLocked(e, rec)
	mon := e.monitor
	e.mu.Unlock()

	m.finishReconcile(e, done, mon)
}

// reconcileOpen - монитор не нашёл позицию на площадке
func (m *Manager) reconcileOpen(e *entry) {
	e.mu.Lock()
	if e.pos.State != models.StateOpen {
		e.mu.Unlock()
		return
	}
	rec := ForceTransition(&e.pos, models.StateClosed, "position not found on venue", m.now())
	done := m.persistLocked(e, rec)
	mon := e.monitor
	if mon != nil {
		mon.Cancel()
	}
	e.mu.Unlock()

	m.finishReconcile(e, done, mon)
}

func (m *Manager) finishReconcile(e *entry, done *persistResult, mon *MonitorHandle) {
	m.confirm(e, done)
	pos := m.snapshot(e)
	m.log.Warn("reconciliation: position not found on venue, marked CLOSED",
		utils.PositionID(pos.ID), utils.Venue(pos.Venue), utils.String("venue_position_id", pos.VenuePositionID))
	m.notify(e, models.NotificationTypeReconcile, models.SeverityWarn,
		fmt.Sprintf("Position %s not found on %s, marked closed", pos.VenuePositionID, pos.Venue),
		map[string]interface{}{"close_reason": string(pos.CloseReason)})

	if mon != nil {
		mon.Wait()
	}
	m.archiveEntry(e)
}

// revertToOpen - CLOSING → OPEN после исчерпания повторов, новый монитор
func (m *Manager) revertToOpen(e *entry, cause error) {
	e.mu.Lock()
	old := e.monitor
	e.mu.Unlock()
	if old != nil {
		old.Wait()
	}

	e.mu.Lock()
	e.pos.LastError = cause.Error()
	reason := e.pos.CloseReason
	rec, err := TryTransition(&e.pos, models.StateOpen, "close failed: "+cause.Error(), m.now())
	if err != nil {
		e.mu.Unlock()
		return
	}
	e.pos.CloseReason = ""
	m.persistLocked(e, rec)
	if m.ctx.Err() == nil {
		e.monitor = m.startMonitor(e)
	}
	e.mu.Unlock()

	m.log.Warn("close failed, position back to OPEN", utils.PositionID(e.pos.ID), utils.Reason(string(reason)), utils.Err(cause))
	m.notify(e, models.NotificationTypeCloseRetry, models.SeverityWarn,
		fmt.Sprintf("Close (%s) failed, monitoring resumed: %v", reason, cause),
		map[string]interface{}{"reason": string(reason)})
}

// ============================================================
// Остановка
// ============================================================

// Shutdown останавливает мониторы и воркеры закрытия и дожидается их
func (m *Manager) Shutdown(ctx context.Context) error {
	m.lifeMu.Lock()
	if m.closed {
		m.lifeMu.Unlock()
		return nil
	}
	m.closed = true
	m.lifeMu.Unlock()

	m.cancel()

	m.mu.RLock()
	monitors := make([]*MonitorHandle, 0, len(m.active))
	for _, e := range m.active {
		e.mu.Lock()
		if e.monitor != nil {
			monitors = append(monitors, e.monitor)
		}
		e.mu.Unlock()
	}
	m.mu.RUnlock()

	done := make(chan struct{})
	go func() {
		for _, h := range monitors {
			h.Wait()
		}
		m.workers.Wait()
		close(done)
	}()

	select {
	case <-done:
		m.log.Info("lifecycle manager stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *Manager) isClosed() bool {
	m.lifeMu.RLock()
	defer m.lifeMu.RUnlock()
	return m.closed
}

// goWorker запускает отслеживаемую горутину, если менеджер не остановлен
func (m *Manager) goWorker(fn func()) bool {
	m.lifeMu.RLock()
	defer m.lifeMu.RUnlock()
	if m.closed {
		return false
	}
	m.workers.Add(1)
	go func() {
		defer m.workers.Done()
		fn()
	}()
	return true
}

// ============================================================
// Вспомогательные
// ============================================================

// persistLocked ставит запись аудита в очередь позиции. Вызывать под e.mu.
//
// Записи одной позиции пишутся строго по порядку. Терминальные переходы
// повторяются с backoff; вызывающий ждёт их через confirm.
func (m *Manager) persistLocked(e *entry, rec models.TransitionRecord) *persistResult {
	pos := e.pos
	pos.Reasons = append([]string(nil), e.pos.Reasons...)

	if m.listener != nil {
		m.listener.OnTransition(pos)
	}

	res := &persistResult{done: make(chan struct{})}
	if m.recorder == nil {
		close(res.done)
		return res
	}

	prev := e.persist
	e.persist = res
	write := func() {
		defer close(res.done)
		if prev != nil {
			<-prev.done
		}
		res.err = m.write(rec, pos)
	}
	if !m.goWorker(write) {
		write()
	}
	return res
}

func (m *Manager) write(rec models.TransitionRecord, pos models.Position) error {
	attempts := 1
	if rec.Terminal() {
		attempts = m.cfg.PersistAttempts
	}
	policy := retry.Backoff(attempts, m.cfg.RetryInitialDelay, m.cfg.RetryMaxDelay)

	err := retry.Do(context.Background(), func() error {
		ctx, cancel := context.WithTimeout(context.Background(), m.cfg.PersistTimeout)
		defer cancel()
		return m.recorder.Record(ctx, rec, pos)
	}, policy)
	if err != nil {
		m.log.Error("transition not persisted",
			utils.PositionID(rec.PositionID),
			utils.String("from", string(rec.From)),
			utils.String("to", string(rec.To)),
			utils.Err(err),
		)
	}
	return err
}

// confirm ждёт записи терминального перехода и отмечает позицию подтверждённой
func (m *Manager) confirm(e *entry, res *persistResult) {
	<-res.done
	if res.err != nil {
		return
	}
	e.mu.Lock()
	e.pos.Confirmed = true
	e.mu.Unlock()
}

func (m *Manager) startMonitor(e *entry) *MonitorHandle {
	return StartMonitor(m.ctx, e.pos.ID, e.pos.VenuePositionID, e.conn, MonitorConfig{
		PollInterval:    m.cfg.PollInterval,
		MarginThreshold: m.cfg.MarginThreshold,
	}, m.signals, m.log.WithPosition(e.pos.ID).WithVenue(e.pos.Venue))
}

// notify отправляет уведомление в фоне
//
// Уведомления одной позиции доставляются по порядку.
func (m *Manager) notify(e *entry, typ, severity, message string, meta map[string]interface{}) {
	if m.notifier == nil {
		return
	}
	id := e.pos.ID
	n := &models.Notification{
		Timestamp:  m.now(),
		Type:       typ,
		Severity:   severity,
		PositionID: &id,
		Message:    message,
		Meta:       meta,
	}

	done := make(chan struct{})
	e.mu.Lock()
	prev := e.notified
	e.notified = done
	e.mu.Unlock()

	send := func() {
		defer close(done)
		if prev != nil {
			<-prev
		}
		ctx, cancel := context.WithTimeout(context.Background(), m.cfg.NotifyTimeout)
		defer cancel()
		m.notifier.Notify(ctx, n)
	}
	if !m.goWorker(send) {
		send()
	}
}

func (m *Manager) lookup(id string) *entry {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.active[id]
}

func (m *Manager) snapshot(e *entry) models.Position {
	e.mu.Lock()
	defer e.mu.Unlock()
	p := e.pos
	p.Reasons = append([]string(nil), e.pos.Reasons...)
	return p
}

func (m *Manager) archiveEntry(e *entry) {
	pos := m.snapshot(e)
	m.mu.Lock()
	delete(m.active, pos.ID)
	m.archive[pos.ID] = pos
	m.mu.Unlock()
}

// targets - основная площадка плюс дополнительные площадки анализа
func (m *Manager) targets(c models.Candidate) []risk.Target {
	var chain, address string
	if c.Contract != nil {
		chain, address = c.Contract.Chain, c.Contract.Address
	}

	seen := make(map[string]bool)
	out := make([]risk.Target, 0, 1+len(c.CrossVenues))
	for _, v := range append([]string{c.Venue}, c.CrossVenues...) {
		if v == "" || seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, risk.Target{Instrument: c.Instrument, Venue: v, Chain: chain, Address: address})
	}
	return out
}

// prepare проверяет кандидата, заполняет значения по умолчанию и находит площадку
func (m *Manager) prepare(c *models.Candidate) (venue.Connector, error) {
	invalid := func(format string, args ...interface{}) error {
		return fmt.Errorf("%w: %s", ErrInvalidCandidate, fmt.Sprintf(format, args...))
	}

	ref := utils.ExtractTokenAddress(c.Instrument)
	if ref.IsAddress() {
		c.Instrument = ref.Address
		if c.Contract == nil {
			c.Contract = &models.ContractRef{Chain: ref.Chain, Address: ref.Address}
		}
	} else {
		c.Instrument = utils.NormalizeSymbol(c.Instrument)
	}
	if err := utils.ValidateInstrument(c.Instrument); err != nil {
		return nil, invalid("%v", err)
	}

	conn, ok := m.venues[c.Venue]
	if !ok {
		return nil, invalid("unknown venue %q", c.Venue)
	}

	switch c.Side {
	case "":
		c.Side = models.SideLong
	case models.SideLong, models.SideShort:
	default:
		return nil, invalid("side must be long or short, got %q", c.Side)
	}

	if !c.Size.IsPositive() {
		return nil, invalid("size must be positive")
	}
	if c.Leverage < 1 {
		return nil, invalid("leverage must be at least 1, got %g", c.Leverage)
	}

	if c.TakeProfitPct == 0 {
		c.TakeProfitPct = m.cfg.DefaultTakeProfit
	}
	if c.StopLossPct == 0 {
		c.StopLossPct = m.cfg.DefaultStopLoss
	}
	if err := utils.ValidatePercent("take_profit_pct", c.TakeProfitPct, 1000); err != nil {
		return nil, invalid("%v", err)
	}
	if err := utils.ValidatePercent("stop_loss_pct", c.StopLossPct, 1000); err != nil {
		return nil, invalid("%v", err)
	}
	return conn, nil
}

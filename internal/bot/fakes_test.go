package bot

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"leverage/internal/models"
	"leverage/internal/risk"
	"leverage/internal/venue"
)

// ============================================================
// Фейковая площадка
// ============================================================

type statusStep struct {
	st  venue.Status
	err error
}

// fakeConn - сценарная площадка: ошибки расходуются по очереди,
// последний статус повторяется.
type fakeConn struct {
	id string

	mu          sync.Mutex
	openErrs    []error
	closeErrs   []error
	statuses    []statusStep
	closeResult venue.CloseResult
	closeGate   chan struct{} // если задан, Close ждёт его закрытия
	lastOpen    venue.OpenRequest
	restored    []venue.Tracked
	reportedLev float64 // если задано, площадка сообщает это плечо вместо запрошенного

	openCalls, statusCalls, closeCalls int
}

func newFakeConn(id string) *fakeConn {
	return &fakeConn{
		id:          id,
		statuses:    []statusStep{{st: neutral()}},
		closeResult: venue.CloseResult{RealizedPnl: decimal.NewFromInt(100), ExitPrice: 105},
	}
}

func neutral() venue.Status {
	return venue.Status{UnrealizedPnlPct: 0, MarginRatio: 0.5, TakeProfitPct: 50, StopLossPct: 20, MarkPrice: 100}
}

func (f *fakeConn) ID() string       { return f.id }
func (f *fakeConn) Kind() venue.Kind { return venue.KindPerpetual }

func (f *fakeConn) Open(ctx context.Context, req venue.OpenRequest) (*venue.OpenResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.openCalls++
	f.lastOpen = req
	if len(f.openErrs) > 0 {
		err := f.openErrs[0]
		f.openErrs = f.openErrs[1:]
		return nil, err
	}
	lev := req.Leverage
	if f.reportedLev > 0 {
		lev = f.reportedLev
	}
	return &venue.OpenResult{
		PositionID:       fmt.Sprintf("%s-%d", req.Instrument, f.openCalls),
		EntryPrice:       100,
		Leverage:         lev,
		LiquidationPrice: 91,
		Quantity:         decimal.NewFromInt(10),
	}, nil
}

func (f *fakeConn) Status(ctx context.Context, positionID string) (*venue.Status, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	idx := f.statusCalls
	if idx >= len(f.statuses) {
		idx = len(f.statuses) - 1
	}
	f.statusCalls++
	step := f.statuses[idx]
	if step.err != nil {
		return nil, step.err
	}
	st := step.st
	return &st, nil
}

func (f *fakeConn) Close(ctx context.Context, positionID string) (*venue.CloseResult, error) {
	f.mu.Lock()
	gate := f.closeGate
	f.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.closeCalls++
	if len(f.closeErrs) > 0 {
		err := f.closeErrs[0]
		f.closeErrs = f.closeErrs[1:]
		return nil, err
	}
	res := f.closeResult
	return &res, nil
}

func (f *fakeConn) Restore(p venue.Tracked) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.restored = append(f.restored, p)
	return nil
}

func (f *fakeConn) set(fn func(f *fakeConn)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fn(f)
}

func (f *fakeConn) counts() (open, status, close int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.openCalls, f.statusCalls, f.closeCalls
}

func unavailable(msg string) error { return fmt.Errorf("%w: %s", venue.ErrUnavailable, msg) }
func rejected(msg string) error    { return fmt.Errorf("%w: %s", venue.ErrRejected, msg) }
func notFound() error              { return fmt.Errorf("%w: gone", venue.ErrPositionNotFound) }

// ============================================================
// Гейт, аудит, уведомления
// ============================================================

type fakeGate struct {
	mu      sync.Mutex
	verdict models.AggregateVerdict
	targets []risk.Target
}

func passGate() *fakeGate {
	return &fakeGate{verdict: models.AggregateVerdict{Recommended: true, Score: 10}}
}

func (g *fakeGate) Aggregate(_ context.Context, targets []risk.Target) models.AggregateVerdict {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.targets = append(g.targets, targets...)
	return g.verdict
}

type fakeRecorder struct {
	mu      sync.Mutex
	records []models.TransitionRecord
	failN   int // количество первых неудачных записей
}

func (r *fakeRecorder) Record(_ context.Context, rec models.TransitionRecord, _ models.Position) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failN > 0 {
		r.failN--
		return fmt.Errorf("database is locked")
	}
	r.records = append(r.records, rec)
	return nil
}

// slowRecorder - хранилище, в котором терминальные записи идут медленно
type slowRecorder struct {
	fakeRecorder
	delay time.Duration
}

func (r *slowRecorder) Record(ctx context.Context, rec models.TransitionRecord, pos models.Position) error {
	if rec.Terminal() {
		select {
		case <-time.After(r.delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return r.fakeRecorder.Record(ctx, rec, pos)
}

func (r *fakeRecorder) forPosition(id string) []models.TransitionRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.TransitionRecord
	for _, rec := range r.records {
		if rec.PositionID == id {
			out = append(out, rec)
		}
	}
	return out
}

type fakeNotifier struct {
	mu    sync.Mutex
	items []*models.Notification
}

func (n *fakeNotifier) Notify(_ context.Context, notif *models.Notification) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.items = append(n.items, notif)
}

func (n *fakeNotifier) types() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]string, 0, len(n.items))
	for _, it := range n.items {
		out = append(out, it.Type)
	}
	return out
}

func (n *fakeNotifier) find(typ string) *models.Notification {
	n.mu.Lock()
	defer n.mu.Unlock()
	for _, it := range n.items {
		if it.Type == typ {
			return it
		}
	}
	return nil
}

// wait ждёт уведомление нужного типа: уведомления уходят асинхронно
func (n *fakeNotifier) wait(t *testing.T, typ string) *models.Notification {
	t.Helper()
	var found *models.Notification
	require.Eventually(t, func() bool {
		found = n.find(typ)
		return found != nil
	}, 2*time.Second, 2*time.Millisecond, "notification %s was never sent, got %v", typ, n.types())
	return found
}

// ============================================================
// Сборка менеджера
// ============================================================

type harness struct {
	m        *Manager
	conn     *fakeConn
	gate     *fakeGate
	recorder *fakeRecorder
	notifier *fakeNotifier
}

func testConfig() Config {
	return Config{
		LeverageCeiling:          10,
		PollInterval:             5 * time.Millisecond,
		MarginThreshold:          0.10,
		DefaultTakeProfit:        50,
		DefaultStopLoss:          20,
		OpenAttempts:             3,
		CloseAttempts:            3,
		RetryInitialDelay:        time.Millisecond,
		RetryMaxDelay:            2 * time.Millisecond,
		LiquidationRetryInterval: time.Millisecond,
		PersistTimeout:           time.Second,
		PersistAttempts:          3,
		NotifyTimeout:            time.Second,
	}
}

func newHarness(t *testing.T, conn *fakeConn, gate *fakeGate) *harness {
	t.Helper()
	h := &harness{conn: conn, gate: gate, recorder: &fakeRecorder{}, notifier: &fakeNotifier{}}

	m, err := NewManager(testConfig(), Deps{
		Venues:   []venue.Connector{conn},
		Gate:     gate,
		Recorder: h.recorder,
		Notifier: h.notifier,
	})
	require.NoError(t, err)
	h.m = m

	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = m.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		sctx, scancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer scancel()
		_ = m.Shutdown(sctx)
	})
	return h
}

// startManager собирает менеджер с произвольными зависимостями и запускает Run
func startManager(t *testing.T, cfg Config, deps Deps) *Manager {
	t.Helper()
	m, err := NewManager(cfg, deps)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = m.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		sctx, scancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer scancel()
		_ = m.Shutdown(sctx)
	})
	return m
}

func waitPosition(t *testing.T, m *Manager, id string, within time.Duration, cond func(p models.Position) bool) models.Position {
	t.Helper()
	var last models.Position
	require.Eventually(t, func() bool {
		p, ok := m.Position(id)
		last = p
		return ok && cond(p)
	}, within, time.Millisecond, "position %s never reached expected state, last: %+v", id, last)
	return last
}

func candidate(venueID string) models.Candidate {
	return models.Candidate{
		Instrument:    "BTCUSDT",
		Venue:         venueID,
		Side:          models.SideLong,
		Size:          decimal.NewFromInt(1000),
		Leverage:      5,
		TakeProfitPct: 50,
		StopLossPct:   20,
	}
}

func (h *harness) waitFor(t *testing.T, id string, cond func(p models.Position) bool) models.Position {
	t.Helper()
	var last models.Position
	require.Eventually(t, func() bool {
		p, ok := h.m.Position(id)
		last = p
		return ok && cond(p)
	}, 2*time.Second, 2*time.Millisecond, "position %s never reached expected state, last: %+v", id, last)
	return last
}

func (h *harness) waitState(t *testing.T, id string, state models.PositionState) models.Position {
	t.Helper()
	return h.waitFor(t, id, func(p models.Position) bool { return p.State == state })
}

func (h *harness) waitConfirmed(t *testing.T, id string, state models.PositionState) models.Position {
	t.Helper()
	return h.waitFor(t, id, func(p models.Position) bool { return p.State == state && p.Confirmed })
}

func transitions(recs []models.TransitionRecord) []string {
	out := make([]string, 0, len(recs))
	for _, r := range recs {
		out = append(out, fmt.Sprintf("%s>%s", r.From, r.To))
	}
	return out
}

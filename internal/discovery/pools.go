// Package discovery - поиск новых пулов ликвидности и подача их токенов кандидатами
package discovery

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	gws "github.com/gorilla/websocket"
	jsoniter "github.com/json-iterator/go"
	"github.com/shopspring/decimal"

	"leverage/internal/bot"
	"leverage/internal/models"
	"leverage/pkg/retry"
	"leverage/pkg/utils"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const (
	// Пул без сообщений дольше этого времени считается мёртвым
	readTimeout = 90 * time.Second

	// Интервал ping на стороне клиента (меньше readTimeout)
	pingPeriod = 30 * time.Second

	writeWait      = 10 * time.Second
	connectTimeout = 10 * time.Second
	maxMessageSize = 64 << 10

	// Очередь найденных пулов между чтением потока и подачей кандидатов
	pendingSize = 64
)

// PoolEvent - новый пул из потока
type PoolEvent struct {
	Chain        string  `json:"chain"`
	Pool         string  `json:"pool"`
	Token        string  `json:"token"` // адрес токена пула
	Name         string  `json:"name"`
	Symbol       string  `json:"symbol"`
	LiquidityUSD float64 `json:"liquidity_usd"`
	Price        float64 `json:"price"`
	BlockTime    int64   `json:"block_time"`
}

// Submitter - приёмник кандидатов (менеджер позиций)
type Submitter interface {
	Submit(ctx context.Context, c models.Candidate) (models.Position, error)
}

// Config - параметры потока
type Config struct {
	URL             string
	Channel         string
	Chain           string
	MinLiquidityUSD float64

	// Шаблон кандидата
	Venue    string
	Size     decimal.Decimal
	Leverage float64

	Reconnect retry.Policy
}

// Stream подписывается на поток новых пулов и подаёт подходящие токены
// менеджеру как кандидатов. Риск-гейт менеджера решает, открывать ли позицию.
//
// Пул подходит, если у него положительная цена и ликвидность не ниже MinLiquidityUSD.
// Каждый токен подаётся один раз за время жизни Stream.
type Stream struct {
	cfg    Config
	sink   Submitter
	log    *utils.Logger
	dialer *gws.Dialer

	mu   sync.Mutex
	seen map[string]struct{}
}

// NewStream создаёт поток
func NewStream(cfg Config, sink Submitter, log *utils.Logger) *Stream {
	if log == nil {
		log = utils.L()
	}
	if cfg.Reconnect.InitialDelay <= 0 {
		cfg.Reconnect = retry.Backoff(0, 2*time.Second, 16*time.Second)
	}
	return &Stream{
		cfg:    cfg,
		sink:   sink,
		log:    log.WithComponent("discovery"),
		dialer: &gws.Dialer{HandshakeTimeout: connectTimeout},
		seen:   make(map[string]struct{}),
	}
}

// Run читает поток до отмены контекста, переподключаясь с backoff
func (s *Stream) Run(ctx context.Context) error {
	pending := make(chan PoolEvent, pendingSize)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		s.submitLoop(ctx, pending)
	}()
	defer wg.Wait()

	attempt := 0
	for {
		received, err := s.session(ctx, pending)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if received {
			attempt = 0
		}

		delay := s.cfg.Reconnect.Delay(attempt)
		attempt++
		s.log.Warn("pool stream disconnected",
			utils.Err(err),
			utils.Int("attempt", attempt),
			utils.Int64("retry_in_ms", delay.Milliseconds()),
		)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
}

// session - одно подключение. received - пришло хотя бы одно сообщение.
func (s *Stream) session(ctx context.Context, pending chan<- PoolEvent) (received bool, err error) {
	conn, _, err := s.dialer.DialContext(ctx, s.cfg.URL, nil)
	if err != nil {
		return false, fmt.Errorf("dial: %w", err)
	}
	defer conn.Close()

	sub := map[string]string{"op": "subscribe", "channel": s.cfg.Channel, "chain": s.cfg.Chain}
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteJSON(sub); err != nil {
		return false, fmt.Errorf("subscribe: %w", err)
	}
	s.log.Info("pool stream connected", utils.String("channel", s.cfg.Channel), utils.String("chain", s.cfg.Chain))

	// закрытие соединения прерывает ReadMessage
	done := make(chan struct{})
	defer close(done)
	go s.keepAlive(ctx, conn, done)

	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(readTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(readTimeout))
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return received, err
		}
		received = true
		_ = conn.SetReadDeadline(time.Now().Add(readTimeout))

		var ev PoolEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			s.log.Debug("skip malformed pool message", utils.Err(err))
			continue
		}
		if !s.admit(ev) {
			continue
		}

		select {
		case pending <- ev:
		default:
			s.log.Warn("pool queue full, dropping", utils.String("token", ev.Token))
		}
	}
}

func (s *Stream) keepAlive(ctx context.Context, conn *gws.Conn, done <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ctx.Done():
			_ = conn.WriteControl(gws.CloseMessage,
				gws.FormatCloseMessage(gws.CloseNormalClosure, ""), time.Now().Add(writeWait))
			conn.Close()
			return
		case <-ticker.C:
			if err := conn.WriteControl(gws.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				conn.Close()
				return
			}
		}
	}
}

// admit проверяет критерии пула и отмечает токен как поданный
func (s *Stream) admit(ev PoolEvent) bool {
	if !meetsCriteria(ev, s.cfg.MinLiquidityUSD) {
		return false
	}
	key := strings.ToLower(chainOf(ev, s.cfg.Chain) + "/" + ev.Token)

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, dup := s.seen[key]; dup {
		return false
	}
	s.seen[key] = struct{}{}
	return true
}

func meetsCriteria(ev PoolEvent, minLiquidity float64) bool {
	return ev.Token != "" && ev.Price > 0 && ev.LiquidityUSD >= minLiquidity
}

func chainOf(ev PoolEvent, fallback string) string {
	if ev.Chain != "" {
		return ev.Chain
	}
	return fallback
}

func (s *Stream) submitLoop(ctx context.Context, pending <-chan PoolEvent) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-pending:
			s.submit(ctx, ev)
		}
	}
}

func (s *Stream) submit(ctx context.Context, ev PoolEvent) {
	c := s.candidate(ev)
	log := s.log.With(utils.Instrument(c.Instrument), utils.String("symbol", ev.Symbol))

	pos, err := s.sink.Submit(ctx, c)

	var rejected *bot.RejectedError
	switch {
	case err == nil:
		log.Info("pool candidate opened", utils.PositionID(pos.ID), utils.Float64("liquidity_usd", ev.LiquidityUSD))
	case errors.As(err, &rejected):
		log.Info("pool candidate rejected", utils.PositionID(rejected.PositionID), utils.Any("reasons", rejected.Reasons))
	case errors.Is(err, bot.ErrShuttingDown), errors.Is(err, context.Canceled):
		log.Debug("pool candidate dropped on shutdown")
	default:
		log.Warn("pool candidate failed", utils.Err(err))
	}
}

func (s *Stream) candidate(ev PoolEvent) models.Candidate {
	chain := chainOf(ev, s.cfg.Chain)
	return models.Candidate{
		Instrument: ev.Token,
		Venue:      s.cfg.Venue,
		Side:       models.SideLong,
		Size:       s.cfg.Size,
		Leverage:   s.cfg.Leverage,
		Contract:   &models.ContractRef{Chain: chain, Address: ev.Token},
	}
}

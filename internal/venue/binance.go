package venue

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"sync"

	"github.com/adshao/go-binance/v2/common"
	"github.com/adshao/go-binance/v2/futures"
	"github.com/shopspring/decimal"

	"leverage/pkg/utils"
)

const (
	binanceBaseURL    = "https://fapi.binance.com"
	binanceTestnetURL = "https://testnet.binancefuture.com"
	binanceMMR        = 0.004
)

// BinanceConfig - параметры адаптера Binance USDT-M futures
type BinanceConfig struct {
	ID        string
	APIKey    string
	SecretKey string
	Testnet   bool
	BaseURL   string
	HTTP      *http.Client
	Logger    *utils.Logger
}

// Binance - бессрочные фьючерсы Binance через go-binance
type Binance struct {
	id     string
	client *futures.Client
	log    *utils.Logger
	book   *book

	stepMu sync.RWMutex
	steps  map[string]decimal.Decimal
}

// NewBinance создаёт адаптер
func NewBinance(cfg BinanceConfig) *Binance {
	client := futures.NewClient(cfg.APIKey, cfg.SecretKey)

	// BaseURL задаём на клиенте, а не через глобальный futures.UseTestnet
	switch {
	case cfg.BaseURL != "":
		client.BaseURL = cfg.BaseURL
	case cfg.Testnet:
		client.BaseURL = binanceTestnetURL
	default:
		client.BaseURL = binanceBaseURL
	}
	if cfg.HTTP != nil {
		client.HTTPClient = cfg.HTTP
	}

	log := cfg.Logger
	if log == nil {
		log = utils.NewNopLogger()
	}

	return &Binance{
		id:     cfg.ID,
		client: client,
		log:    log.WithVenue(cfg.ID),
		book:   newBook(),
		steps:  make(map[string]decimal.Decimal),
	}
}

func (b *Binance) ID() string { return b.id }
func (b *Binance) Kind() Kind { return KindPerpetual }

// mapError переводит ошибки API Binance в классы площадки
func (b *Binance) mapError(op string, err error) error {
	if err == nil {
		return nil
	}

	var apiErr *common.APIError
	if !errors.As(err, &apiErr) {
		return Normalize(b.id, op, err)
	}

	code := strconv.FormatInt(apiErr.Code, 10)
	var kind error
	switch apiErr.Code {
	case -1000, -1001, -1003, -1007, -1008, -1021:
		// внутренняя ошибка, разрыв, лимит запросов, таймаут, рассинхрон времени
		kind = ErrUnavailable
	case -2022:
		// reduce-only отклонён: закрывать нечего
		kind = ErrPositionNotFound
	default:
		kind = ErrRejected
		if op == "close" {
			kind = ErrUnavailable
		}
	}
	return newError(b.id, op, kind, code, apiErr.Message, err)
}

// Price - цена маркировки
func (b *Binance) Price(ctx context.Context, instrument string) (float64, error) {
	idx, err := b.client.NewPremiumIndexService().Symbol(instrument).Do(ctx)
	if err != nil {
		return 0, b.mapError("price", err)
	}
	if len(idx) == 0 {
		return 0, newError(b.id, "price", ErrRejected, "", "unknown symbol "+instrument, nil)
	}
	price, err := strconv.ParseFloat(idx[0].MarkPrice, 64)
	if err != nil {
		return 0, newError(b.id, "price", ErrUnavailable, "", "bad mark price "+idx[0].MarkPrice, err)
	}
	return price, nil
}

func (b *Binance) stepSize(ctx context.Context, instrument string) (decimal.Decimal, error) {
	b.stepMu.RLock()
	step, ok := b.steps[instrument]
	b.stepMu.RUnlock()
	if ok {
		return step, nil
	}

	info, err := b.client.NewExchangeInfoService().Do(ctx)
	if err != nil {
		return decimal.Zero, b.mapError("instrument", err)
	}

	found := false
	b.stepMu.Lock()
	for _, s := range info.Symbols {
		f := s.LotSizeFilter()
		if f == nil {
			continue
		}
		v, err := decimal.NewFromString(f.StepSize)
		if err != nil {
			continue
		}
		b.steps[s.Symbol] = v
		if s.Symbol == instrument {
			step, found = v, true
		}
	}
	b.stepMu.Unlock()

	if !found {
		return decimal.Zero, newError(b.id, "instrument", ErrRejected, "", "unknown symbol "+instrument, nil)
	}
	return step, nil
}

func binanceSide(long, closing bool) futures.SideType {
	if long != closing {
		return futures.SideTypeBuy
	}
	return futures.SideTypeSell
}

func (b *Binance) Open(ctx context.Context, req OpenRequest) (*OpenResult, error) {
	// площадка принимает только целое плечо: округляем вниз, чтобы не превысить запрошенное
	lev := int(math.Floor(req.Leverage))
	if lev < 1 {
		return nil, newError(b.id, "open", ErrRejected, "", fmt.Sprintf("leverage %g not allowed", req.Leverage), nil)
	}

	price, err := b.Price(ctx, req.Instrument)
	if err != nil {
		return nil, err
	}
	step, err := b.stepSize(ctx, req.Instrument)
	if err != nil {
		return nil, err
	}
	qty := utils.QuantityForNotional(req.Size, decimal.NewFromFloat(price), step)
	if qty.Sign() <= 0 {
		return nil, newError(b.id, "open", ErrRejected, "", "size below minimal quantity", nil)
	}

	if _, err := b.client.NewChangeLeverageService().Symbol(req.Instrument).Leverage(lev).Do(ctx); err != nil {
		return nil, b.mapError("open", err)
	}

	order, err := b.client.NewCreateOrderService().
		Symbol(req.Instrument).
		Side(binanceSide(req.IsLong(), false)).
		Type(futures.OrderTypeMarket).
		Quantity(qty.String()).
		NewOrderResponseType(futures.NewOrderRespTypeRESULT).
		Do(ctx)
	if err != nil {
		return nil, b.mapError("open", err)
	}

	entry := nonZero(parseFloat(order.AvgPrice), price)
	liq := 0.0
	if risk, err := b.positionRisk(ctx, req.Instrument); err == nil && risk != nil {
		liq = parseFloat(risk.LiquidationPrice)
	}
	if liq == 0 {
		liq = utils.LiquidationPrice(entry, float64(lev), binanceMMR, req.IsLong())
	}

	id := req.Instrument + ":" + strconv.FormatInt(order.OrderID, 10)
	b.book.put(Tracked{
		PositionID:       id,
		Instrument:       req.Instrument,
		Side:             req.Side,
		Quantity:         qty,
		Notional:         req.Size,
		EntryPrice:       entry,
		Leverage:         float64(lev),
		LiquidationPrice: liq,
		TakeProfitPct:    req.TakeProfitPct,
		StopLossPct:      req.StopLossPct,
	})
	b.log.Info("position opened", utils.Instrument(req.Instrument), utils.Price(entry), utils.Leverage(float64(lev)))

	return &OpenResult{PositionID: id, EntryPrice: entry, Leverage: float64(lev), LiquidationPrice: liq, Quantity: qty}, nil
}

func (b *Binance) positionRisk(ctx context.Context, instrument string) (*futures.PositionRisk, error) {
	list, err := b.client.NewGetPositionRiskService().Symbol(instrument).Do(ctx)
	if err != nil {
		return nil, b.mapError("status", err)
	}
	for _, p := range list {
		if p.Symbol == instrument {
			return p, nil
		}
	}
	return nil, nil
}

func (b *Binance) Status(ctx context.Context, positionID string) (*Status, error) {
	t, ok := b.book.get(positionID)
	if !ok {
		return nil, newError(b.id, "status", ErrPositionNotFound, "", positionID, nil)
	}

	risk, err := b.positionRisk(ctx, t.Instrument)
	if err != nil {
		return nil, err
	}
	if risk == nil || parseFloat(risk.PositionAmt) == 0 {
		b.book.remove(positionID)
		return nil, newError(b.id, "status", ErrPositionNotFound, "", "position amount is zero", nil)
	}

	pos := &symbolPosition{
		size:       parseFloat(risk.PositionAmt),
		avgPrice:   parseFloat(risk.EntryPrice),
		markPrice:  parseFloat(risk.MarkPrice),
		liqPrice:   parseFloat(risk.LiquidationPrice),
		unrealised: parseFloat(risk.UnRealizedProfit),
	}
	return pos.status(t), nil
}

func (b *Binance) Close(ctx context.Context, positionID string) (*CloseResult, error) {
	t, ok := b.book.get(positionID)
	if !ok {
		return nil, newError(b.id, "close", ErrPositionNotFound, "", positionID, nil)
	}

	order, err := b.client.NewCreateOrderService().
		Symbol(t.Instrument).
		Side(binanceSide(t.IsLong(), true)).
		Type(futures.OrderTypeMarket).
		Quantity(t.Quantity.String()).
		ReduceOnly(true).
		NewOrderResponseType(futures.NewOrderRespTypeRESULT).
		Do(ctx)
	if err != nil {
		err = b.mapError("close", err)
		if IsNotFound(err) {
			b.book.remove(positionID)
		}
		return nil, err
	}
	b.book.remove(positionID)

	exit := parseFloat(order.AvgPrice)
	if exit == 0 {
		if p, err := b.Price(ctx, t.Instrument); err == nil {
			exit = p
		}
	}

	return &CloseResult{
		RealizedPnl: utils.RealizedPnl(decimal.NewFromFloat(t.EntryPrice), decimal.NewFromFloat(exit), t.Quantity, t.IsLong()),
		ExitPrice:   exit,
	}, nil
}

// Restore возвращает позицию в книгу после перезапуска
func (b *Binance) Restore(t Tracked) error {
	if t.PositionID == "" || t.Instrument == "" {
		return fmt.Errorf("binance restore: incomplete position %q", t.PositionID)
	}
	b.book.put(t)
	return nil
}

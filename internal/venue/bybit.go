package venue

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/shopspring/decimal"

	"leverage/pkg/utils"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const (
	bybitBaseURL    = "https://api.bybit.com"
	bybitTestnetURL = "https://api-testnet.bybit.com"
	bybitRecvWindow = "5000"
	bybitSpotMMR    = 0.01
)

// Коды ответов Bybit v5, которые нужно классифицировать
const (
	bybitLeverageNotModified = 110043
	bybitInsufficientBalance = 110007
	bybitPositionZero        = 110017
	bybitOrderQtyInvalid     = 10001
	bybitRateLimit           = 10006
	bybitServerTimeout       = 10016
	bybitSymbolInvalid       = 10002
)

// BybitConfig - параметры адаптера Bybit
type BybitConfig struct {
	ID        string
	Kind      Kind // KindDerivatives -> linear, KindSpotMargin -> spot c isLeverage=1
	APIKey    string
	SecretKey string
	Testnet   bool
	BaseURL   string // переопределение для тестов
	HTTP      *http.Client
	Logger    *utils.Logger
}

// Bybit - адаптер Bybit v5 REST для linear-деривативов и маржинального спота
type Bybit struct {
	cfg      BybitConfig
	baseURL  string
	category string
	http     *http.Client
	log      *utils.Logger
	book     *book

	stepMu sync.RWMutex
	steps  map[string]decimal.Decimal
}

// NewBybit создаёт адаптер
func NewBybit(cfg BybitConfig) (*Bybit, error) {
	if cfg.Kind != KindDerivatives && cfg.Kind != KindSpotMargin {
		return nil, fmt.Errorf("bybit adapter does not serve %s venues", cfg.Kind)
	}

	base := cfg.BaseURL
	if base == "" {
		base = bybitBaseURL
		if cfg.Testnet {
			base = bybitTestnetURL
		}
	}
	category := "linear"
	if cfg.Kind == KindSpotMargin {
		category = "spot"
	}
	client := cfg.HTTP
	if client == nil {
		client = NewHTTPClient(DefaultHTTPClientConfig())
	}
	log := cfg.Logger
	if log == nil {
		log = utils.NewNopLogger()
	}

	return &Bybit{
		cfg:      cfg,
		baseURL:  strings.TrimRight(base, "/"),
		category: category,
		http:     client,
		log:      log.WithVenue(cfg.ID),
		book:     newBook(),
		steps:    make(map[string]decimal.Decimal),
	}, nil
}

func (b *Bybit) ID() string { return b.cfg.ID }
func (b *Bybit) Kind() Kind { return b.cfg.Kind }

// sign - подпись запроса v5: HMAC_SHA256(timestamp + apiKey + recvWindow + payload)
func (b *Bybit) sign(timestamp, payload string) string {
	h := hmac.New(sha256.New, []byte(b.cfg.SecretKey))
	h.Write([]byte(timestamp + b.cfg.APIKey + bybitRecvWindow + payload))
	return hex.EncodeToString(h.Sum(nil))
}

type bybitEnvelope struct {
	RetCode int                 `json:"retCode"`
	RetMsg  string              `json:"retMsg"`
	Result  jsoniter.RawMessage `json:"result"`
}

// do выполняет запрос и возвращает поле result
func (b *Bybit) do(ctx context.Context, op, method, endpoint string, params map[string]interface{}, signed bool) (jsoniter.RawMessage, error) {
	var payload, reqURL string

	if method == http.MethodGet {
		q := url.Values{}
		for k, v := range params {
			q.Set(k, fmt.Sprint(v))
		}
		payload = q.Encode()
		reqURL = b.baseURL + endpoint
		if payload != "" {
			reqURL += "?" + payload
		}
	} else {
		body, err := json.Marshal(params)
		if err != nil {
			return nil, err
		}
		payload = string(body)
		reqURL = b.baseURL + endpoint
	}

	var body io.Reader
	if method != http.MethodGet {
		body = strings.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, reqURL, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	if signed {
		ts := strconv.FormatInt(time.Now().UnixMilli(), 10)
		req.Header.Set("X-BAPI-API-KEY", b.cfg.APIKey)
		req.Header.Set("X-BAPI-SIGN", b.sign(ts, payload))
		req.Header.Set("X-BAPI-TIMESTAMP", ts)
		req.Header.Set("X-BAPI-RECV-WINDOW", bybitRecvWindow)
	}

	resp, err := b.http.Do(req)
	if err != nil {
		return nil, Normalize(b.cfg.ID, op, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, Normalize(b.cfg.ID, op, err)
	}
	if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
		return nil, newError(b.cfg.ID, op, ErrUnavailable, strconv.Itoa(resp.StatusCode), resp.Status, nil)
	}

	var env bybitEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, newError(b.cfg.ID, op, ErrUnavailable, "", "malformed response", err)
	}
	if env.RetCode != 0 {
		return nil, b.classify(op, env.RetCode, env.RetMsg)
	}
	return env.Result, nil
}

func (b *Bybit) classify(op string, code int, msg string) error {
	var kind error
	switch code {
	case bybitRateLimit, bybitServerTimeout:
		kind = ErrUnavailable
	case bybitPositionZero:
		kind = ErrPositionNotFound
	case bybitInsufficientBalance, bybitOrderQtyInvalid, bybitSymbolInvalid:
		kind = ErrRejected
	default:
		kind = ErrRejected
		if op != "open" {
			// при закрытии неизвестный отказ повторяем
			kind = ErrUnavailable
		}
	}
	return newError(b.cfg.ID, op, kind, strconv.Itoa(code), msg, nil)
}

type bybitTicker struct {
	Symbol    string `json:"symbol"`
	LastPrice string `json:"lastPrice"`
	MarkPrice string `json:"markPrice"`
}

// Price - цена маркировки (для спота - последняя цена)
func (b *Bybit) Price(ctx context.Context, instrument string) (float64, error) {
	res, err := b.do(ctx, "price", http.MethodGet, "/v5/market/tickers", map[string]interface{}{
		"category": b.category,
		"symbol":   instrument,
	}, false)
	if err != nil {
		return 0, err
	}

	var out struct {
		List []bybitTicker `json:"list"`
	}
	if err := json.Unmarshal(res, &out); err != nil || len(out.List) == 0 {
		return 0, newError(b.cfg.ID, "price", ErrRejected, "", "unknown symbol "+instrument, err)
	}

	price := out.List[0].MarkPrice
	if price == "" {
		price = out.List[0].LastPrice
	}
	return strconv.ParseFloat(price, 64)
}

// qtyStep - шаг количества инструмента, кэшируется
func (b *Bybit) qtyStep(ctx context.Context, instrument string) (decimal.Decimal, error) {
	b.stepMu.RLock()
	step, ok := b.steps[instrument]
	b.stepMu.RUnlock()
	if ok {
		return step, nil
	}

	res, err := b.do(ctx, "instrument", http.MethodGet, "/v5/market/instruments-info", map[string]interface{}{
		"category": b.category,
		"symbol":   instrument,
	}, false)
	if err != nil {
		return decimal.Zero, err
	}

	var out struct {
		List []struct {
			LotSizeFilter struct {
				QtyStep       string `json:"qtyStep"`
				BasePrecision string `json:"basePrecision"`
			} `json:"lotSizeFilter"`
		} `json:"list"`
	}
	if err := json.Unmarshal(res, &out); err != nil || len(out.List) == 0 {
		return decimal.Zero, newError(b.cfg.ID, "instrument", ErrRejected, "", "unknown symbol "+instrument, err)
	}

	raw := out.List[0].LotSizeFilter.QtyStep
	if raw == "" {
		raw = out.List[0].LotSizeFilter.BasePrecision
	}
	step, err = decimal.NewFromString(raw)
	if err != nil {
		step = decimal.Zero
	}

	b.stepMu.Lock()
	b.steps[instrument] = step
	b.stepMu.Unlock()
	return step, nil
}

func bybitSide(long, closing bool) string {
	if long != closing {
		return "Buy"
	}
	return "Sell"
}

func (b *Bybit) Open(ctx context.Context, req OpenRequest) (*OpenResult, error) {
	price, err := b.Price(ctx, req.Instrument)
	if err != nil {
		return nil, err
	}
	step, err := b.qtyStep(ctx, req.Instrument)
	if err != nil {
		return nil, err
	}
	qty := utils.QuantityForNotional(req.Size, decimal.NewFromFloat(price), step)
	if qty.Sign() <= 0 {
		return nil, newError(b.cfg.ID, "open", ErrRejected, "", "size below minimal quantity", nil)
	}

	lev := strconv.FormatFloat(req.Leverage, 'f', -1, 64)
	if b.category == "linear" {
		_, err := b.do(ctx, "open", http.MethodPost, "/v5/position/set-leverage", map[string]interface{}{
			"category":     b.category,
			"symbol":       req.Instrument,
			"buyLeverage":  lev,
			"sellLeverage": lev,
		}, true)
		if err != nil && !isBybitCode(err, bybitLeverageNotModified) {
			return nil, err
		}
	}

	order := map[string]interface{}{
		"category":  b.category,
		"symbol":    req.Instrument,
		"side":      bybitSide(req.IsLong(), false),
		"orderType": "Market",
		"qty":       qty.String(),
	}
	if b.category == "spot" {
		order["isLeverage"] = 1
		order["marketUnit"] = "baseCoin"
	}
	res, err := b.do(ctx, "open", http.MethodPost, "/v5/order/create", order, true)
	if err != nil {
		return nil, err
	}

	var created struct {
		OrderID string `json:"orderId"`
	}
	_ = json.Unmarshal(res, &created)

	entry, liq := price, 0.0
	if b.category == "linear" {
		if pos, err := b.positionInfo(ctx, req.Instrument); err == nil {
			entry = nonZero(pos.avgPrice, price)
			liq = pos.liqPrice
		}
	}
	if liq == 0 {
		liq = utils.LiquidationPrice(entry, req.Leverage, bybitSpotMMR, req.IsLong())
	}

	id := req.Instrument + ":" + created.OrderID
	b.book.put(Tracked{
		PositionID:       id,
		Instrument:       req.Instrument,
		Side:             req.Side,
		Quantity:         qty,
		Notional:         req.Size,
		EntryPrice:       entry,
		Leverage:         req.Leverage,
		LiquidationPrice: liq,
		TakeProfitPct:    req.TakeProfitPct,
		StopLossPct:      req.StopLossPct,
	})
	b.log.Info("position opened", utils.Instrument(req.Instrument), utils.Price(entry), utils.Leverage(req.Leverage))

	return &OpenResult{PositionID: id, EntryPrice: entry, Leverage: req.Leverage, LiquidationPrice: liq, Quantity: qty}, nil
}

func (b *Bybit) positionInfo(ctx context.Context, instrument string) (*symbolPosition, error) {
	res, err := b.do(ctx, "status", http.MethodGet, "/v5/position/list", map[string]interface{}{
		"category": "linear",
		"symbol":   instrument,
	}, true)
	if err != nil {
		return nil, err
	}

	var out struct {
		List []struct {
			Size          string `json:"size"`
			AvgPrice      string `json:"avgPrice"`
			MarkPrice     string `json:"markPrice"`
			LiqPrice      string `json:"liqPrice"`
			UnrealisedPnl string `json:"unrealisedPnl"`
		} `json:"list"`
	}
	if err := json.Unmarshal(res, &out); err != nil {
		return nil, newError(b.cfg.ID, "status", ErrUnavailable, "", "malformed position list", err)
	}
	if len(out.List) == 0 {
		return &symbolPosition{}, nil
	}

	p := out.List[0]
	return &symbolPosition{
		size:       parseFloat(p.Size),
		avgPrice:   parseFloat(p.AvgPrice),
		markPrice:  parseFloat(p.MarkPrice),
		liqPrice:   parseFloat(p.LiqPrice),
		unrealised: parseFloat(p.UnrealisedPnl),
	}, nil
}

func (b *Bybit) Status(ctx context.Context, positionID string) (*Status, error) {
	t, ok := b.book.get(positionID)
	if !ok {
		return nil, newError(b.cfg.ID, "status", ErrPositionNotFound, "", positionID, nil)
	}

	if b.category == "spot" {
		mark, err := b.Price(ctx, t.Instrument)
		if err != nil {
			return nil, err
		}
		return &Status{
			UnrealizedPnlPct: utils.PnlPercent(t.EntryPrice, mark, t.IsLong()),
			MarginRatio:      utils.MarginRatio(t.EntryPrice, mark, t.LiquidationPrice, t.IsLong()),
			TakeProfitPct:    t.TakeProfitPct,
			StopLossPct:      t.StopLossPct,
			MarkPrice:        mark,
		}, nil
	}

	pos, err := b.positionInfo(ctx, t.Instrument)
	if err != nil {
		return nil, err
	}
	if pos.size == 0 {
		b.book.remove(positionID)
		return nil, newError(b.cfg.ID, "status", ErrPositionNotFound, "", "position size is zero", nil)
	}

	return pos.status(t), nil
}

func (b *Bybit) Close(ctx context.Context, positionID string) (*CloseResult, error) {
	t, ok := b.book.get(positionID)
	if !ok {
		return nil, newError(b.cfg.ID, "close", ErrPositionNotFound, "", positionID, nil)
	}

	mark, err := b.Price(ctx, t.Instrument)
	if err != nil {
		return nil, err
	}

	order := map[string]interface{}{
		"category":  b.category,
		"symbol":    t.Instrument,
		"side":      bybitSide(t.IsLong(), true),
		"orderType": "Market",
		"qty":       t.Quantity.String(),
	}
	if b.category == "linear" {
		order["reduceOnly"] = true
	} else {
		order["isLeverage"] = 1
		order["marketUnit"] = "baseCoin"
	}

	if _, err := b.do(ctx, "close", http.MethodPost, "/v5/order/create", order, true); err != nil {
		if IsNotFound(err) {
			b.book.remove(positionID)
		}
		return nil, err
	}
	b.book.remove(positionID)

	return &CloseResult{
		RealizedPnl: utils.RealizedPnl(decimal.NewFromFloat(t.EntryPrice), decimal.NewFromFloat(mark), t.Quantity, t.IsLong()),
		ExitPrice:   mark,
	}, nil
}

// Restore возвращает позицию в книгу после перезапуска
func (b *Bybit) Restore(t Tracked) error {
	if t.PositionID == "" || t.Instrument == "" {
		return fmt.Errorf("bybit restore: incomplete position %q", t.PositionID)
	}
	b.book.put(t)
	return nil
}

func isBybitCode(err error, code int) bool {
	var ve *Error
	return errors.As(err, &ve) && ve.Code == strconv.Itoa(code)
}

func parseFloat(s string) float64 {
	f, _ := strconv.ParseFloat(s, 64)
	return f
}

func nonZero(v, fallback float64) float64 {
	if v != 0 {
		return v
	}
	return fallback
}

package risk

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
)

// ErrTokenNotFound - лента не знает токен
var ErrTokenNotFound = errors.New("token not found")

// TokenInfo - карточка токена из ленты
type TokenInfo struct {
	Chain        string  `json:"chain"`
	Address      string  `json:"address"`
	Name         string  `json:"name"`
	Symbol       string  `json:"symbol"`
	Price        float64 `json:"price"`
	Supply       float64 `json:"supply"`
	MarketCap    float64 `json:"market_cap"`
	Volume24h    float64 `json:"volume_24h"`
	LiquidityUSD float64 `json:"liquidity_usd"`
	ChartURL     string  `json:"chart_url"`
}

// TokenInfo возвращает карточку токена: GET {base}/v1/tokens/{chain}/{address}
//
// Не кэшируется: запрос идёт по явному действию пользователя.
func (c *FeedClient) TokenInfo(ctx context.Context, chain, address string) (*TokenInfo, error) {
	if c == nil {
		return nil, fmt.Errorf("%w: signal feed not configured", ErrProbeUnavailable)
	}
	if chain == "" || address == "" {
		return nil, fmt.Errorf("%w: chain and address are required", ErrTokenNotFound)
	}

	u := c.baseURL + "/v1/tokens/" + url.PathEscape(chain) + "/" + url.PathEscape(address)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProbeUnavailable, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return nil, fmt.Errorf("%w: %s/%s", ErrTokenNotFound, chain, address)
	default:
		return nil, fmt.Errorf("%w: signal feed returned %s", ErrProbeUnavailable, resp.Status)
	}

	var info TokenInfo
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return nil, fmt.Errorf("%w: decode token info: %v", ErrProbeUnavailable, err)
	}
	info.Chain, info.Address = chain, address
	if info.MarketCap == 0 && info.Price > 0 && info.Supply > 0 {
		info.MarketCap = info.Price * info.Supply
	}
	if info.ChartURL == "" {
		info.ChartURL = fmt.Sprintf("https://birdeye.so/token/%s?chain=%s", address, chain)
	}
	return &info, nil
}

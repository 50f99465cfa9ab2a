package risk

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Trade - сделка из ленты для поиска манипуляций
type Trade struct {
	Block     uint64  `json:"block"`
	TxHash    string  `json:"tx_hash"`
	Type      string  `json:"type"` // BUY, SELL
	Value     float64 `json:"value"`
	Price     float64 `json:"price"`
	Timestamp int64   `json:"timestamp"`
}

// Report - данные ленты сигналов по одному инструменту
//
// nil означает, что источник значение не прислал.
type Report struct {
	Overvaluation *float64 `json:"overvaluation"`
	Sentiment     *float64 `json:"sentiment"`
	LiquidityUSD  *float64 `json:"liquidity_usd"`
	Holders       *int     `json:"holders"`
	TopHolderPct  *float64 `json:"top_holder_pct"`
	Sellable      *bool    `json:"sellable"`
	Trades        []Trade  `json:"trades"`
}

// Feed - источник данных для проб
type Feed interface {
	Report(ctx context.Context, t Target) (*Report, error)
}

// FeedClient - HTTP клиент ленты сигналов: GET {base}/v1/signals/{chain}/{subject}
//
// Ответы кэшируются на ttl; одновременные запросы по одному ключу объединяются,
// поэтому пробы одного анализа делают один запрос.
type FeedClient struct {
	baseURL string
	http    *http.Client
	ttl     time.Duration

	mu      sync.Mutex
	entries map[string]*feedEntry
}

type feedEntry struct {
	done    chan struct{}
	report  *Report
	err     error
	fetched time.Time
}

// NewFeedClient создаёт клиент. Пустой baseURL - лента не настроена, nil.
func NewFeedClient(baseURL string, client *http.Client, ttl time.Duration) *FeedClient {
	if baseURL == "" {
		return nil
	}
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &FeedClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    client,
		ttl:     ttl,
		entries: make(map[string]*feedEntry),
	}
}

func (c *FeedClient) Report(ctx context.Context, t Target) (*Report, error) {
	if c == nil {
		return nil, fmt.Errorf("%w: signal feed not configured", ErrProbeUnavailable)
	}
	chain := t.Chain
	if chain == "" {
		chain = t.Venue
	}
	key := chain + "/" + t.Subject()

	c.mu.Lock()
	e, ok := c.entries[key]
	if ok {
		select {
		case <-e.done:
			if e.err != nil || time.Since(e.fetched) > c.ttl {
				ok = false
			}
		default:
		}
	}
	if !ok {
		e = &feedEntry{done: make(chan struct{})}
		c.entries[key] = e
		c.mu.Unlock()

		e.report, e.err = c.fetch(ctx, chain, t.Subject())
		e.fetched = time.Now()
		close(e.done)
		return e.report, e.err
	}
	c.mu.Unlock()

	select {
	case <-e.done:
		return e.report, e.err
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %v", ErrProbeUnavailable, ctx.Err())
	}
}

func (c *FeedClient) fetch(ctx context.Context, chain, subject string) (*Report, error) {
	u := c.baseURL + "/v1/signals/" + url.PathEscape(chain) + "/" + url.PathEscape(subject)
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

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: signal feed returned %s", ErrProbeUnavailable, resp.Status)
	}

	var r Report
	if err := json.NewDecoder(resp.Body).Decode(&r); err != nil {
		return nil, fmt.Errorf("%w: decode signal feed: %v", ErrProbeUnavailable, err)
	}
	return &r, nil
}

func report(ctx context.Context, feed Feed, t Target) (*Report, error) {
	if feed == nil {
		return nil, fmt.Errorf("%w: signal feed not configured", ErrProbeUnavailable)
	}
	return feed.Report(ctx, t)
}

package venue

import (
	"fmt"
	"net/http"
	"time"

	"leverage/pkg/ratelimit"
	"leverage/pkg/utils"
)

// Config - описание площадки из конфигурации
type Config struct {
	ID        string
	Kind      Kind
	Paper     bool // симуляция поверх реальных цен площадки
	APIKey    string
	APISecret string
	Testnet   bool
	BaseURL   string
	RateLimit float64 // запросов в секунду
	Timeout   time.Duration
}

// Deps - общие зависимости адаптеров
type Deps struct {
	HTTP     *http.Client
	Logger   *utils.Logger
	Observer Observer
	Prices   PriceSource // для paper; по умолчанию цены реальной площадки
}

// New создаёт коннектор по варианту площадки
//
// Вариант выбирается при загрузке конфигурации, строковых реестров нет.
func New(cfg Config, deps Deps) (Connector, error) {
	if cfg.ID == "" {
		return nil, fmt.Errorf("venue id is required")
	}
	log := deps.Logger
	if log == nil {
		log = utils.NewNopLogger()
	}

	var (
		live   Connector
		prices PriceSource
	)
	switch cfg.Kind {
	case KindPerpetual:
		b := NewBinance(BinanceConfig{
			ID:        cfg.ID,
			APIKey:    cfg.APIKey,
			SecretKey: cfg.APISecret,
			Testnet:   cfg.Testnet,
			BaseURL:   cfg.BaseURL,
			HTTP:      deps.HTTP,
			Logger:    log,
		})
		live, prices = b, b
	case KindDerivatives, KindSpotMargin:
		b, err := NewBybit(BybitConfig{
			ID:        cfg.ID,
			Kind:      cfg.Kind,
			APIKey:    cfg.APIKey,
			SecretKey: cfg.APISecret,
			Testnet:   cfg.Testnet,
			BaseURL:   cfg.BaseURL,
			HTTP:      deps.HTTP,
			Logger:    log,
		})
		if err != nil {
			return nil, err
		}
		live, prices = b, b
	default:
		return nil, fmt.Errorf("venue %s: unsupported kind %s", cfg.ID, cfg.Kind)
	}

	conn := live
	if cfg.Paper {
		if deps.Prices != nil {
			prices = deps.Prices
		}
		conn = NewPaper(cfg.ID, cfg.Kind, prices)
		log.Info("venue runs in paper mode", utils.Venue(cfg.ID), utils.String("kind", cfg.Kind.String()))
	}

	var limiter *ratelimit.Limiter
	if cfg.RateLimit > 0 {
		limiter = ratelimit.New(cfg.RateLimit, 0)
	}
	return Guard(conn, GuardConfig{Timeout: cfg.Timeout, Limiter: limiter, Observer: deps.Observer}), nil
}

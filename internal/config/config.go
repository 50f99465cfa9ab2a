package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"

	"leverage/internal/venue"
	"leverage/pkg/crypto"
)

// Config содержит всю конфигурацию приложения
type Config struct {
	Server        ServerConfig
	Database      DatabaseConfig
	Security      SecurityConfig
	Engine        EngineConfig
	Gate          GateConfig
	Probes        ProbesConfig
	Discovery     DiscoveryConfig
	Venues        []venue.Config
	Telegram      TelegramConfig
	Notifications NotificationsConfig
	Logging       LoggingConfig
}

// ServerConfig - настройки HTTP сервера
type ServerConfig struct {
	Port            int
	Host            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	AllowedOrigins  []string
}

// DatabaseConfig - настройки подключения к БД
type DatabaseConfig struct {
	Driver          string // postgres, sqlite3
	Host            string
	Port            int
	Name            string
	User            string
	Password        string
	SSLMode         string
	Path            string // файл sqlite3
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// SecurityConfig - настройки безопасности
type SecurityConfig struct {
	EncryptionKey string // AES-256 для секретов с префиксом enc:
	APITokenHash  string // bcrypt-хеш bearer-токена API; пустой - без auth
}

// EngineConfig - параметры менеджера позиций
type EngineConfig struct {
	LeverageCeiling          float64
	PollInterval             time.Duration
	MarginThreshold          float64
	VenueTimeout             time.Duration
	OpenAttempts             int
	CloseAttempts            int
	RetryInitialDelay        time.Duration
	RetryMaxDelay            time.Duration
	LiquidationRetryInterval time.Duration
	PersistTimeout           time.Duration
	PersistAttempts          int
	DefaultTakeProfit        float64
	DefaultStopLoss          float64
	AnalysisTimeout          time.Duration // на один анализ площадки
	ProbeTimeout             time.Duration
}

// GateConfig - пороги риск-гейта
type GateConfig struct {
	FraudMax         float64
	OvervaluationMax float64
	SentimentMin     float64
}

// ProbesConfig - параметры проб риска
type ProbesConfig struct {
	MinHolders            int
	MinLiquidityUSD       float64
	PumpThresholdPct      float64
	FlashVolumeMultiplier float64
	FeedURL               string
	FeedCacheTTL          time.Duration
	RPCEndpoints          map[string]string // сеть -> EVM RPC URL
}

// DiscoveryConfig - поток новых пулов ликвидности
//
// Пустой URL - поиск выключен, кандидаты приходят только через API.
type DiscoveryConfig struct {
	URL             string
	Channel         string
	Chain           string
	MinLiquidityUSD float64
	Venue           string // площадка для найденных кандидатов
	Size            string // номинал кандидата, decimal
	Leverage        float64
	ReconnectDelay  time.Duration
	ReconnectMax    time.Duration
}

// Enabled - поиск настроен
func (d DiscoveryConfig) Enabled() bool {
	return d.URL != ""
}

// TelegramConfig - канал уведомлений
type TelegramConfig struct {
	Token       string
	ChatID      int64
	MinSeverity string
}

// Enabled - канал настроен
func (t TelegramConfig) Enabled() bool {
	return t.Token != "" && t.ChatID != 0
}

// NotificationsConfig - хранение журнала уведомлений
type NotificationsConfig struct {
	Retention       time.Duration // 0 - хранить всё
	CleanupInterval time.Duration
}

// LoggingConfig - настройки логирования
type LoggingConfig struct {
	Level       string
	Format      string
	Output      string
	Development bool
}

// Load загружает конфигурацию из переменных окружения
//
// Если переданы файлы (или есть .env в рабочей директории), они читаются
// через godotenv; уже заданные переменные окружения не перезаписываются.
// Все ошибки разбора и валидации возвращаются одной объединённой ошибкой.
func Load(files ...string) (*Config, error) {
	if err := loadDotEnv(files...); err != nil {
		return nil, err
	}

	e := &env{}
	cfg := &Config{
		Server: ServerConfig{
			Port:            e.getEnvAsInt("SERVER_PORT", 8080),
			Host:            e.getEnv("SERVER_HOST", "0.0.0.0"),
			ReadTimeout:     e.getEnvAsDuration("SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:    e.getEnvAsDuration("SERVER_WRITE_TIMEOUT", 30*time.Second),
			ShutdownTimeout: e.getEnvAsDuration("SERVER_SHUTDOWN_TIMEOUT", 30*time.Second),
			AllowedOrigins:  e.getEnvAsList("SERVER_ALLOWED_ORIGINS"),
		},
		Database: DatabaseConfig{
			Driver:          e.getEnv("DB_DRIVER", "postgres"),
			Host:            e.getEnv("DB_HOST", "localhost"),
			Port:            e.getEnvAsInt("DB_PORT", 5432),
			Name:            e.getEnv("DB_NAME", "leverage"),
			User:            e.getEnv("DB_USER", "leverage"),
			Password:        e.getEnv("DB_PASSWORD", ""),
			SSLMode:         e.getEnv("DB_SSL_MODE", "disable"),
			Path:            e.getEnv("DB_PATH", "leverage.db"),
			MaxOpenConns:    e.getEnvAsInt("DB_MAX_OPEN_CONNS", 10),
			MaxIdleConns:    e.getEnvAsInt("DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: e.getEnvAsDuration("DB_CONN_MAX_LIFETIME", 30*time.Minute),
		},
		Security: SecurityConfig{
			EncryptionKey: e.getEnv("ENCRYPTION_KEY", ""),
			APITokenHash:  e.getEnv("API_TOKEN_HASH", ""),
		},
		Engine: EngineConfig{
			LeverageCeiling:          e.getEnvAsFloat("ENGINE_LEVERAGE_CEILING", 20),
			PollInterval:             e.getEnvAsDuration("ENGINE_POLL_INTERVAL", time.Second),
			MarginThreshold:          e.getEnvAsFloat("ENGINE_MARGIN_THRESHOLD", 0.10),
			VenueTimeout:             e.getEnvAsDuration("ENGINE_VENUE_TIMEOUT", 10*time.Second),
			OpenAttempts:             e.getEnvAsInt("ENGINE_OPEN_ATTEMPTS", 3),
			CloseAttempts:            e.getEnvAsInt("ENGINE_CLOSE_ATTEMPTS", 5),
			RetryInitialDelay:        e.getEnvAsDuration("ENGINE_RETRY_INITIAL_DELAY", 500*time.Millisecond),
			RetryMaxDelay:            e.getEnvAsDuration("ENGINE_RETRY_MAX_DELAY", 5*time.Second),
			LiquidationRetryInterval: e.getEnvAsDuration("ENGINE_LIQUIDATION_RETRY_INTERVAL", 200*time.Millisecond),
			PersistTimeout:           e.getEnvAsDuration("ENGINE_PERSIST_TIMEOUT", 5*time.Second),
			PersistAttempts:          e.getEnvAsInt("ENGINE_PERSIST_ATTEMPTS", 5),
			DefaultTakeProfit:        e.getEnvAsFloat("ENGINE_DEFAULT_TAKE_PROFIT", 50),
			DefaultStopLoss:          e.getEnvAsFloat("ENGINE_DEFAULT_STOP_LOSS", 20),
			AnalysisTimeout:          e.getEnvAsDuration("ENGINE_ANALYSIS_TIMEOUT", 15*time.Second),
			ProbeTimeout:             e.getEnvAsDuration("ENGINE_PROBE_TIMEOUT", 5*time.Second),
		},
		Gate: GateConfig{
			FraudMax:         e.getEnvAsFloat("GATE_FRAUD_MAX", 70),
			OvervaluationMax: e.getEnvAsFloat("GATE_OVERVALUATION_MAX", 80),
			SentimentMin:     e.getEnvAsFloat("GATE_SENTIMENT_MIN", 20),
		},
		Probes: ProbesConfig{
			MinHolders:            e.getEnvAsInt("PROBE_MIN_HOLDERS", 10),
			MinLiquidityUSD:       e.getEnvAsFloat("PROBE_MIN_LIQUIDITY_USD", 1000),
			PumpThresholdPct:      e.getEnvAsFloat("PROBE_PUMP_THRESHOLD_PCT", 50),
			FlashVolumeMultiplier: e.getEnvAsFloat("PROBE_FLASH_VOLUME_MULTIPLIER", 10),
			FeedURL:               e.getEnv("PROBE_FEED_URL", ""),
			FeedCacheTTL:          e.getEnvAsDuration("PROBE_FEED_CACHE_TTL", 30*time.Second),
			RPCEndpoints:          e.getEnvAsPairs("PROBE_RPC_ENDPOINTS"),
		},
		Discovery: DiscoveryConfig{
			URL:             e.getEnv("DISCOVERY_WS_URL", ""),
			Channel:         e.getEnv("DISCOVERY_CHANNEL", "new_pools"),
			Chain:           e.getEnv("DISCOVERY_CHAIN", "solana"),
			MinLiquidityUSD: e.getEnvAsFloat("DISCOVERY_MIN_LIQUIDITY_USD", 5000),
			Venue:           e.getEnv("DISCOVERY_VENUE", ""),
			Size:            e.getEnv("DISCOVERY_SIZE", "50"),
			Leverage:        e.getEnvAsFloat("DISCOVERY_LEVERAGE", 1),
			ReconnectDelay:  e.getEnvAsDuration("DISCOVERY_RECONNECT_DELAY", 2*time.Second),
			ReconnectMax:    e.getEnvAsDuration("DISCOVERY_RECONNECT_MAX", 16*time.Second),
		},
		Telegram: TelegramConfig{
			Token:       e.getEnv("TELEGRAM_TOKEN", ""),
			ChatID:      e.getEnvAsInt64("TELEGRAM_CHAT_ID", 0),
			MinSeverity: e.getEnv("TELEGRAM_MIN_SEVERITY", "info"),
		},
		Notifications: NotificationsConfig{
			Retention:       e.getEnvAsDuration("NOTIFICATION_RETENTION", 30*24*time.Hour),
			CleanupInterval: e.getEnvAsDuration("NOTIFICATION_CLEANUP_INTERVAL", time.Hour),
		},
		Logging: LoggingConfig{
			Level:       e.getEnv("LOG_LEVEL", "info"),
			Format:      e.getEnv("LOG_FORMAT", "json"),
			Output:      e.getEnv("LOG_OUTPUT", "stdout"),
			Development: e.getEnvAsBool("LOG_DEVELOPMENT", false),
		},
	}

	cfg.Venues = e.getEnvAsVenues("VENUES", cfg.Engine.VenueTimeout)

	errs := e.errs
	errs = append(errs, cfg.decryptSecrets()...)
	errs = append(errs, cfg.validate()...)
	if len(errs) > 0 {
		return nil, fmt.Errorf("invalid configuration: %w", errors.Join(errs...))
	}
	return cfg, nil
}

func loadDotEnv(files ...string) error {
	if len(files) == 0 {
		if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("load .env: %w", err)
		}
		return nil
	}
	if err := godotenv.Load(files...); err != nil {
		return fmt.Errorf("load env files: %w", err)
	}
	return nil
}

// ============================================================
// Секреты
// ============================================================

// decryptSecrets расшифровывает значения с префиксом enc:
func (c *Config) decryptSecrets() []error {
	var (
		key  []byte
		errs []error
	)
	if c.Security.EncryptionKey != "" {
		k, err := crypto.ParseKey(c.Security.EncryptionKey)
		if err != nil {
			return []error{fmt.Errorf("ENCRYPTION_KEY: %w", err)}
		}
		key = k
	}

	open := func(name string, v *string) {
		plain, err := crypto.Open(*v, key)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
			return
		}
		*v = plain
	}

	for i := range c.Venues {
		prefix := venueEnvPrefix(c.Venues[i].ID)
		open(prefix+"API_KEY", &c.Venues[i].APIKey)
		open(prefix+"API_SECRET", &c.Venues[i].APISecret)
	}
	open("DB_PASSWORD", &c.Database.Password)
	open("TELEGRAM_TOKEN", &c.Telegram.Token)
	return errs
}

// ============================================================
// Валидация
// ============================================================

// validate проверяет диапазоны параметров
func (c *Config) validate() []error {
	var errs []error
	check := func(ok bool, format string, args ...interface{}) {
		if !ok {
			errs = append(errs, fmt.Errorf(format, args...))
		}
	}

	check(c.Server.Port >= 1 && c.Server.Port <= 65535, "SERVER_PORT must be between 1 and 65535, got %d", c.Server.Port)

	switch c.Database.Driver {
	case "postgres":
		check(c.Database.Port >= 1 && c.Database.Port <= 65535, "DB_PORT must be between 1 and 65535, got %d", c.Database.Port)
	case "sqlite3":
		check(c.Database.Path != "", "DB_PATH is required for sqlite3")
	default:
		errs = append(errs, fmt.Errorf("DB_DRIVER must be postgres or sqlite3, got %q", c.Database.Driver))
	}

	if c.Security.APITokenHash != "" {
		check(crypto.ValidHash(c.Security.APITokenHash), "API_TOKEN_HASH is not a valid bcrypt hash")
	}

	en := c.Engine
	check(en.LeverageCeiling >= 1, "ENGINE_LEVERAGE_CEILING must be >= 1, got %v", en.LeverageCeiling)
	check(en.PollInterval > 0, "ENGINE_POLL_INTERVAL must be positive, got %v", en.PollInterval)
	check(en.MarginThreshold > 0 && en.MarginThreshold < 1, "ENGINE_MARGIN_THRESHOLD must be in (0, 1), got %v", en.MarginThreshold)
	check(en.VenueTimeout > 0, "ENGINE_VENUE_TIMEOUT must be positive, got %v", en.VenueTimeout)
	check(en.OpenAttempts >= 1, "ENGINE_OPEN_ATTEMPTS must be >= 1, got %d", en.OpenAttempts)
	check(en.CloseAttempts >= 1, "ENGINE_CLOSE_ATTEMPTS must be >= 1, got %d", en.CloseAttempts)
	check(en.LiquidationRetryInterval > 0, "ENGINE_LIQUIDATION_RETRY_INTERVAL must be positive, got %v", en.LiquidationRetryInterval)
	check(en.PersistAttempts >= 1, "ENGINE_PERSIST_ATTEMPTS must be >= 1, got %d", en.PersistAttempts)
	check(en.DefaultTakeProfit > 0 && en.DefaultTakeProfit <= 1000, "ENGINE_DEFAULT_TAKE_PROFIT must be in (0, 1000], got %v", en.DefaultTakeProfit)
	check(en.DefaultStopLoss > 0 && en.DefaultStopLoss <= 1000, "ENGINE_DEFAULT_STOP_LOSS must be in (0, 1000], got %v", en.DefaultStopLoss)

	inScore := func(v float64) bool { return v >= 0 && v <= 100 }
	check(inScore(c.Gate.FraudMax), "GATE_FRAUD_MAX must be within 0..100, got %v", c.Gate.FraudMax)
	check(inScore(c.Gate.OvervaluationMax), "GATE_OVERVALUATION_MAX must be within 0..100, got %v", c.Gate.OvervaluationMax)
	check(inScore(c.Gate.SentimentMin), "GATE_SENTIMENT_MIN must be within 0..100, got %v", c.Gate.SentimentMin)

	check(c.Probes.MinHolders >= 0, "PROBE_MIN_HOLDERS cannot be negative, got %d", c.Probes.MinHolders)
	check(c.Probes.MinLiquidityUSD >= 0, "PROBE_MIN_LIQUIDITY_USD cannot be negative, got %v", c.Probes.MinLiquidityUSD)

	if d := c.Discovery; d.Enabled() {
		known := false
		for _, v := range c.Venues {
			known = known || v.ID == d.Venue
		}
		check(known, "DISCOVERY_VENUE must name a configured venue, got %q", d.Venue)
		check(d.MinLiquidityUSD >= 0, "DISCOVERY_MIN_LIQUIDITY_USD cannot be negative, got %v", d.MinLiquidityUSD)
		size, err := decimal.NewFromString(d.Size)
		check(err == nil && size.IsPositive(), "DISCOVERY_SIZE must be a positive decimal, got %q", d.Size)
		check(d.Leverage >= 1, "DISCOVERY_LEVERAGE must be >= 1, got %v", d.Leverage)
	}

	check(len(c.Venues) > 0, "VENUES must list at least one venue")
	for _, v := range c.Venues {
		if v.Paper {
			continue
		}
		prefix := venueEnvPrefix(v.ID)
		check(v.APIKey != "" && v.APISecret != "", "%sAPI_KEY and %sAPI_SECRET are required for live venue %s", prefix, prefix, v.ID)
	}

	if c.Telegram.Token != "" {
		check(c.Telegram.ChatID != 0, "TELEGRAM_CHAT_ID is required when TELEGRAM_TOKEN is set")
	}

	return errs
}

// DSN возвращает строку подключения к базе данных
func (d DatabaseConfig) DSN() string {
	if d.Driver == "sqlite3" {
		return "file:" + d.Path + "?_foreign_keys=on&_busy_timeout=5000"
	}
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.Name, d.SSLMode)
}

// DSNWithoutPassword возвращает строку подключения без пароля (для логирования)
func (d DatabaseConfig) DSNWithoutPassword() string {
	if d.Driver == "sqlite3" {
		return d.DSN()
	}
	return fmt.Sprintf("host=%s port=%d user=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Name, d.SSLMode)
}

// ============================================================
// Чтение переменных окружения
// ============================================================

// env читает переменные и копит ошибки разбора
type env struct {
	errs []error
}

func (e *env) fail(key, value, kind string) {
	e.errs = append(e.errs, fmt.Errorf("%s: %q is not a valid %s", key, value, kind))
}

func (e *env) getEnv(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func (e *env) getEnvAsInt(key string, def int) int {
	raw := e.getEnv(key, "")
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		e.fail(key, raw, "integer")
		return def
	}
	return v
}

func (e *env) getEnvAsInt64(key string, def int64) int64 {
	raw := e.getEnv(key, "")
	if raw == "" {
		return def
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		e.fail(key, raw, "integer")
		return def
	}
	return v
}

func (e *env) getEnvAsFloat(key string, def float64) float64 {
	raw := e.getEnv(key, "")
	if raw == "" {
		return def
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		e.fail(key, raw, "number")
		return def
	}
	return v
}

func (e *env) getEnvAsBool(key string, def bool) bool {
	raw := e.getEnv(key, "")
	if raw == "" {
		return def
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		e.fail(key, raw, "boolean")
		return def
	}
	return v
}

func (e *env) getEnvAsDuration(key string, def time.Duration) time.Duration {
	raw := e.getEnv(key, "")
	if raw == "" {
		return def
	}
	v, err := time.ParseDuration(raw)
	if err != nil {
		e.fail(key, raw, "duration")
		return def
	}
	return v
}

// list - значения через запятую
func (e *env) getEnvAsList(key string) []string {
	raw := e.getEnv(key, "")
	if raw == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// pairs - name=value через запятую
func (e *env) getEnvAsPairs(key string) map[string]string {
	out := make(map[string]string)
	for _, item := range e.getEnvAsList(key) {
		name, value, ok := strings.Cut(item, "=")
		name, value = strings.ToLower(strings.TrimSpace(name)), strings.TrimSpace(value)
		if !ok || name == "" || value == "" {
			e.fail(key, item, "name=value pair")
			continue
		}
		out[name] = value
	}
	return out
}

// venues разбирает список id:kind[:paper]
//
// Секреты и параметры площадки: VENUE_<ID>_API_KEY, VENUE_<ID>_API_SECRET,
// VENUE_<ID>_TESTNET, VENUE_<ID>_BASE_URL, VENUE_<ID>_RATE_LIMIT.
func (e *env) getEnvAsVenues(key string, timeout time.Duration) []venue.Config {
	var out []venue.Config
	seen := make(map[string]bool)

	for _, item := range e.getEnvAsList(key) {
		parts := strings.Split(item, ":")
		if len(parts) < 2 || len(parts) > 3 {
			e.fail(key, item, "venue (id:kind[:paper])")
			continue
		}

		id := strings.ToLower(strings.TrimSpace(parts[0]))
		if id == "" || seen[id] {
			e.errs = append(e.errs, fmt.Errorf("%s: empty or duplicate venue id %q", key, id))
			continue
		}
		seen[id] = true

		kind, err := venue.ParseKind(parts[1])
		if err != nil {
			e.errs = append(e.errs, fmt.Errorf("%s: %w", key, err))
			continue
		}

		paper := false
		if len(parts) == 3 {
			if strings.ToLower(strings.TrimSpace(parts[2])) != "paper" {
				e.fail(key, item, "venue mode (paper)")
				continue
			}
			paper = true
		}

		prefix := venueEnvPrefix(id)
		out = append(out, venue.Config{
			ID:        id,
			Kind:      kind,
			Paper:     paper,
			APIKey:    e.getEnv(prefix+"API_KEY", ""),
			APISecret: e.getEnv(prefix+"API_SECRET", ""),
			Testnet:   e.getEnvAsBool(prefix+"TESTNET", false),
			BaseURL:   e.getEnv(prefix+"BASE_URL", ""),
			RateLimit: e.getEnvAsFloat(prefix+"RATE_LIMIT", 10),
			Timeout:   timeout,
		})
	}
	return out
}

func venueEnvPrefix(id string) string {
	return "VENUE_" + strings.ToUpper(strings.ReplaceAll(id, "-", "_")) + "_"
}

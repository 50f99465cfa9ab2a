package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/ethclient"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"leverage/internal/api"
	"leverage/internal/bot"
	"leverage/internal/config"
	"leverage/internal/discovery"
	"leverage/internal/notify"
	"leverage/internal/repository"
	"leverage/internal/risk"
	"leverage/internal/service"
	"leverage/internal/venue"
	"leverage/internal/websocket"
	"leverage/pkg/retry"
	"leverage/pkg/utils"
)

func main() {
	if err := run(); err != nil {
		utils.Error("server stopped with error", utils.Err(err))
		_ = utils.L().Sync()
		os.Exit(1)
	}
}

func run() error {
	// Загрузка конфигурации
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	log := utils.InitGlobalLogger(utils.LogConfig{
		Level:       cfg.Logging.Level,
		Format:      cfg.Logging.Format,
		Output:      cfg.Logging.Output,
		Development: cfg.Logging.Development,
	})
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Инициализация базы данных
	db, err := initDatabase(ctx, cfg.Database)
	if err != nil {
		return err
	}
	defer db.Close()
	log.Info("connected to database", utils.String("dsn", cfg.Database.DSNWithoutPassword()))

	// Инициализация репозиториев и сервисов
	notificationRepo := repository.NewNotificationRepository(db)
	transitionRepo := repository.NewTransitionRepository(db)
	positionRepo := repository.NewPositionRepository(db)

	notifications := service.NewNotificationService(notificationRepo, log)
	audit := service.NewAuditService(transitionRepo, positionRepo, log)

	hub := websocket.NewHub(cfg.Server.AllowedOrigins, log)
	notifications.SetWebSocketHub(hub)

	if cfg.Telegram.Enabled() {
		tg, err := notify.NewTelegram(notify.TelegramConfig{
			Token:       cfg.Telegram.Token,
			ChatID:      cfg.Telegram.ChatID,
			MinSeverity: cfg.Telegram.MinSeverity,
		})
		if err != nil {
			// бот не критичен для торговли, работаем без него
			log.Warn("telegram sink disabled", utils.Err(err))
		} else {
			notifications.AddSink(tg)
		}
	}

	// Площадки
	httpClient := venue.NewHTTPClient(venue.DefaultHTTPClientConfig())
	defer venue.CloseIdle(httpClient)

	connectors := make([]venue.Connector, 0, len(cfg.Venues))
	for _, vc := range cfg.Venues {
		conn, err := venue.New(vc, venue.Deps{HTTP: httpClient, Logger: log, Observer: bot.Observer{}})
		if err != nil {
			return fmt.Errorf("venue %s: %w", vc.ID, err)
		}
		connectors = append(connectors, conn)
		log.Info("venue configured",
			utils.Venue(vc.ID),
			utils.String("kind", vc.Kind.String()),
			utils.Bool("paper", vc.Paper),
			utils.Bool("testnet", vc.Testnet),
		)
	}

	// Риск-анализ
	feed := risk.NewFeedClient(cfg.Probes.FeedURL, httpClient, cfg.Probes.FeedCacheTTL)
	if cfg.Probes.FeedURL == "" {
		log.Warn("signal feed not configured: valuation, sentiment, liquidity and holder probes report unknown")
	}
	aggregator, closeRPC := buildRiskGate(ctx, cfg, feed, log)
	defer closeRPC()

	// Менеджер позиций
	manager, err := bot.NewManager(engineConfig(cfg.Engine), bot.Deps{
		Venues:   connectors,
		Gate:     aggregator,
		Recorder: audit,
		Notifier: notifications,
		Listener: hub,
		Logger:   log,
	})
	if err != nil {
		return fmt.Errorf("failed to create manager: %w", err)
	}

	report, err := manager.Recover(ctx, audit)
	if err != nil {
		return err
	}
	log.Info("recovery finished", recoveryFields(report)...)

	go hub.Run(ctx)
	go notifications.RunRetention(ctx, cfg.Notifications.CleanupInterval, cfg.Notifications.Retention)

	runDone := make(chan error, 1)
	go func() { runDone <- manager.Run(ctx) }()

	// Поиск новых пулов
	if cfg.Discovery.Enabled() {
		stream := discovery.NewStream(discoveryConfig(cfg.Discovery), manager, log)
		go func() { _ = stream.Run(ctx) }()
		log.Info("pool discovery enabled", utils.String("channel", cfg.Discovery.Channel), utils.Venue(cfg.Discovery.Venue))
	}

	// HTTP сервер
	router := api.SetupRoutes(&api.Dependencies{
		Manager:        manager,
		History:        audit,
		Notifications:  notifications,
		Tokens:         feed,
		WebSocket:      http.HandlerFunc(hub.ServeWS),
		AllowedOrigins: cfg.Server.AllowedOrigins,
		TokenHash:      cfg.Security.APITokenHash,
	})
	if cfg.Security.APITokenHash == "" {
		log.Warn("API authentication disabled: API_TOKEN_HASH is not set")
	}

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Info("starting server", utils.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	// Graceful shutdown
	var runErr error
	select {
	case <-ctx.Done():
		log.Info("shutdown signal received")
	case err := <-serveErr:
		runErr = fmt.Errorf("http server: %w", err)
	case err := <-runDone:
		if err != nil && !errors.Is(err, context.Canceled) {
			runErr = fmt.Errorf("manager: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Warn("http server forced to shutdown", utils.Err(err))
	}
	if err := manager.Shutdown(shutdownCtx); err != nil {
		log.Warn("manager shutdown incomplete", utils.Err(err))
	}
	hub.Stop()

	log.Info("server exited")
	return runErr
}

// initDatabase создает подключение к базе данных и применяет схему
func initDatabase(ctx context.Context, cfg config.DatabaseConfig) (*sql.DB, error) {
	db, err := sql.Open(cfg.Driver, cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Настройка пула соединений
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	if cfg.Driver == "sqlite3" {
		db.SetMaxOpenConns(1) // один писатель
	}

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if err := repository.Migrate(ctx, db, cfg.Driver); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

// buildRiskGate собирает пробы, анализатор и агрегатор
//
// Возвращает функцию закрытия RPC клиентов.
func buildRiskGate(ctx context.Context, cfg *config.Config, feed *risk.FeedClient, log *utils.Logger) (*risk.Aggregator, func()) {
	codes := make(map[string]risk.CodeReader, len(cfg.Probes.RPCEndpoints))
	var clients []*ethclient.Client

	for chain, url := range cfg.Probes.RPCEndpoints {
		dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		client, err := ethclient.DialContext(dialCtx, url)
		cancel()
		if err != nil {
			// без RPC проверка кода контракта для сети просто не выполняется
			log.Warn("evm rpc unavailable", utils.String("chain", chain), utils.Err(err))
			continue
		}
		codes[chain] = client
		clients = append(clients, client)
		log.Info("evm rpc connected", utils.String("chain", chain))
	}

	probes := []risk.Probe{
		risk.NewFraudProbe(risk.FraudConfig{
			PumpThresholdPct:      cfg.Probes.PumpThresholdPct,
			FlashVolumeMultiplier: cfg.Probes.FlashVolumeMultiplier,
		}, feed, codes),
		risk.NewValuationProbe(feed),
		risk.NewSentimentProbe(feed),
		risk.NewLiquidityProbe(feed, cfg.Probes.MinLiquidityUSD),
		risk.NewHolderProbe(feed, cfg.Probes.MinHolders),
	}

	analyzer := risk.NewAnalyzer(probes, risk.AnalyzerConfig{
		Gate: risk.Gate{
			FraudMax:         cfg.Gate.FraudMax,
			OvervaluationMax: cfg.Gate.OvervaluationMax,
			SentimentMin:     cfg.Gate.SentimentMin,
		},
		ProbeTimeout: cfg.Engine.ProbeTimeout,
		Logger:       log,
		Observer:     bot.Observer{},
	})

	closeAll := func() {
		for _, c := range clients {
			c.Close()
		}
	}
	return risk.NewAggregator(analyzer, cfg.Engine.AnalysisTimeout, log), closeAll
}

// recoveryFields - итог восстановления для лога
func recoveryFields(r bot.RecoveryReport) []utils.Field {
	return []utils.Field{
		utils.Int("restored", r.Restored),
		utils.Int("resumed", r.Resumed),
		utils.Int("abandoned", r.Abandoned),
		utils.Int("skipped", len(r.Skipped)),
		utils.Any("skipped_ids", r.Skipped),
	}
}

// discoveryConfig переносит параметры поиска пулов
//
// Размер уже проверен при загрузке конфигурации.
func discoveryConfig(d config.DiscoveryConfig) discovery.Config {
	return discovery.Config{
		URL:             d.URL,
		Channel:         d.Channel,
		Chain:           d.Chain,
		MinLiquidityUSD: d.MinLiquidityUSD,
		Venue:           d.Venue,
		Size:            decimal.RequireFromString(d.Size),
		Leverage:        d.Leverage,
		Reconnect:       retry.Backoff(0, d.ReconnectDelay, d.ReconnectMax),
	}
}

// engineConfig переносит параметры движка из конфигурации
func engineConfig(e config.EngineConfig) bot.Config {
	cfg := bot.DefaultConfig()
	cfg.LeverageCeiling = e.LeverageCeiling
	cfg.PollInterval = e.PollInterval
	cfg.MarginThreshold = e.MarginThreshold
	cfg.DefaultTakeProfit = e.DefaultTakeProfit
	cfg.DefaultStopLoss = e.DefaultStopLoss
	cfg.OpenAttempts = e.OpenAttempts
	cfg.CloseAttempts = e.CloseAttempts
	cfg.RetryInitialDelay = e.RetryInitialDelay
	cfg.RetryMaxDelay = e.RetryMaxDelay
	cfg.LiquidationRetryInterval = e.LiquidationRetryInterval
	cfg.PersistTimeout = e.PersistTimeout
	cfg.PersistAttempts = e.PersistAttempts
	return cfg
}

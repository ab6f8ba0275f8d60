package main

import (
	"context"
	"fmt"
	"log" // Used only for fatal errors before the logger is ready
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"scalpbot/config"
	"scalpbot/internal/adapters/discord"
	"scalpbot/internal/adapters/feed"
	"scalpbot/internal/adapters/kisbroker"
	"scalpbot/internal/adapters/logger"
	"scalpbot/internal/adapters/marketdata"
	"scalpbot/internal/adapters/sqlite"
	"scalpbot/internal/ai"
	"scalpbot/internal/app"
	"scalpbot/internal/execution"
	"scalpbot/internal/ports"
	"scalpbot/internal/safety"
	"scalpbot/internal/statemachine"
	"scalpbot/internal/strategy"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("FATAL: Failed to load configuration: %v", err)
	}

	appLogger := logger.New(logger.ParseLevel(cfg.LogLevel))
	ctx := context.Background()
	appLogger.Info(ctx, "Logger initialized", map[string]interface{}{"level": cfg.LogLevel})

	if err := writePIDFile(cfg.PIDFile); err != nil {
		appLogger.Error(ctx, err, "FATAL: Failed to write PID file")
		os.Exit(1)
	}
	defer removePIDFile(ctx, appLogger, cfg.PIDFile)

	if err := run(ctx, cfg, appLogger); err != nil {
		appLogger.Error(ctx, err, "Trading engine exited with error")
		os.Exit(1)
	}
	appLogger.Info(ctx, "Application finished gracefully")
}

func run(ctx context.Context, cfg *config.Config, appLogger ports.Logger) error {
	// Persistence
	repo, err := sqlite.NewRepository(sqlite.Config{
		DBPath: cfg.DBPath,
		Logger: appLogger,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize repository: %w", err)
	}
	defer func() {
		if err := repo.Close(); err != nil {
			appLogger.Error(ctx, err, "Error closing repository")
		}
	}()

	// Brokerage
	broker, err := kisbroker.New(kisbroker.Config{
		AppKey:    cfg.AppKey,
		AppSecret: cfg.AppSecret,
		AccountNo: cfg.AccountNo,
		BaseURL:   cfg.BrokerURL,
		IndexCode: cfg.IndexCode,
		DryRun:    cfg.DryRun,
		Logger:    appLogger,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize broker: %w", err)
	}

	// Notifications
	notifier, err := discord.New(discord.Config{
		WebhookURL: cfg.DiscordWebhookURL,
		Logger:     appLogger,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize notifier: %w", err)
	}

	// Realtime feed
	priceFeed, err := feed.New(feed.Config{
		WSURL:     cfg.WSFeedURL,
		APIURL:    cfg.BrokerURL,
		AppKey:    cfg.AppKey,
		AppSecret: cfg.AppSecret,
		Logger:    appLogger,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize price feed: %w", err)
	}

	// Market data
	universe, err := marketdata.NewUniverse(marketdata.UniverseConfig{
		Source:       broker,
		Logger:       appLogger,
		TargetSize:   cfg.UniverseSize,
		MinPrice:     cfg.UniverseMinPrice,
		MaxPrice:     cfg.UniverseMaxPrice,
		MinChangePct: cfg.UniverseMinChangePct,
		MaxChangePct: cfg.UniverseMaxChangePct,
		MinVolume:    cfg.UniverseMinVolume,
		CacheTTL:     cfg.UniverseCacheTTL,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize universe scanner: %w", err)
	}

	monitor, err := marketdata.NewMonitor(marketdata.MonitorConfig{
		Source:          broker,
		Logger:          appLogger,
		RefreshInterval: cfg.MarketRefresh,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize market monitor: %w", err)
	}

	// Lifecycle and safety
	machine, err := statemachine.New(appLogger)
	if err != nil {
		return fmt.Errorf("failed to initialize state machine: %w", err)
	}

	killSw, err := safety.NewKillSwitch(safety.KillSwitchConfig{
		MaxConsecutiveLosses:    cfg.MaxConsecutiveLosses,
		MaxDailyLossPct:         cfg.MaxDailyLossPct,
		IndexDropPct:            cfg.IndexDropPct,
		MaxBrokerFailures:       cfg.MaxBrokerFailures,
		BrokerRecoverySuccesses: cfg.BrokerRecoverySuccesses,
	}, appLogger, broker, notifier, machine)
	if err != nil {
		return fmt.Errorf("failed to initialize kill switch: %w", err)
	}

	breaker, err := safety.NewCircuitBreaker(safety.CircuitBreakerConfig{
		Name:             "broker",
		FailureThreshold: cfg.BreakerFailureThreshold,
		ResetTimeout:     cfg.BreakerResetTimeout,
		SuccessThreshold: cfg.BreakerSuccessThreshold,
	}, appLogger)
	if err != nil {
		return fmt.Errorf("failed to initialize circuit breaker: %w", err)
	}

	// Execution
	positions, err := execution.NewPositionManager(ctx, execution.PositionManagerConfig{
		StopLossPct: cfg.StopLossPct,
	}, appLogger, repo)
	if err != nil {
		return fmt.Errorf("failed to initialize position manager: %w", err)
	}

	cooldowns, err := execution.NewCooldownTracker(ctx, execution.CooldownConfig{
		LossCooldown:   cfg.LossCooldown,
		LossEscalation: cfg.LossEscalation,
		MaxCooldown:    cfg.MaxCooldown,
	}, appLogger, repo)
	if err != nil {
		return fmt.Errorf("failed to initialize cooldown tracker: %w", err)
	}

	validator, err := execution.NewPriceValidator(execution.PriceValidatorConfig{
		MaxSlippagePct: cfg.MaxSlippagePct,
		MaxAge:         cfg.MaxPriceAge,
		MaxSpreadPct:   cfg.MaxSpreadPct,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize price validator: %w", err)
	}

	// Strategy
	mode, err := strategy.NewAdaptiveMode(strategy.DefaultModeTriggers(), appLogger, notifier)
	if err != nil {
		return fmt.Errorf("failed to initialize adaptive mode: %w", err)
	}

	scorer, err := strategy.NewCompositeScorer(appLogger)
	if err != nil {
		return fmt.Errorf("failed to initialize scorer: %w", err)
	}

	// AI pipeline
	inference, err := ai.NewClient(ai.ClientConfig{
		APIURL:  cfg.AIAPIURL,
		Model:   cfg.AIModel,
		Timeout: cfg.AITimeout,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize inference client: %w", err)
	}

	analyzer, err := ai.NewEngine(ai.EngineConfig{
		Workers:   cfg.AIWorkers,
		QueueSize: cfg.AIQueueSize,
		Timeout:   cfg.AITimeout,
	}, appLogger, inference)
	if err != nil {
		return fmt.Errorf("failed to initialize analysis engine: %w", err)
	}

	engine, err := app.NewEngine(cfg, app.EngineDeps{
		Logger:    appLogger,
		Machine:   machine,
		KillSw:    killSw,
		Breaker:   breaker,
		Positions: positions,
		Cooldowns: cooldowns,
		Validator: validator,
		Mode:      mode,
		Analyzer:  analyzer,
		Broker:    broker,
		Universe:  universe,
		Scorer:    scorer,
		Feed:      priceFeed,
		Monitor:   monitor,
		TradeRepo: repo,
		Notifier:  notifier,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize trading engine: %w", err)
	}

	// Cancel the run context on SIGINT/SIGTERM so the engine runs its
	// shutdown sequence.
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		sig := <-sigCh
		appLogger.Info(ctx, "Received shutdown signal", map[string]interface{}{"signal": sig.String()})
		cancel()
	}()

	return engine.Run(runCtx)
}

func writePIDFile(path string) error {
	if path == "" {
		return nil
	}
	return os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0o644)
}

func removePIDFile(ctx context.Context, appLogger ports.Logger, path string) {
	if path == "" {
		return
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		appLogger.Warn(ctx, "Failed to remove PID file", map[string]interface{}{"path": path, "error": err.Error()})
	}
}

package main

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"bybit-trading-bot/config"
	"bybit-trading-bot/internal/api"
	"bybit-trading-bot/internal/bybit"
	"bybit-trading-bot/internal/engine"
	"bybit-trading-bot/internal/journal"
	"bybit-trading-bot/internal/market"
	"bybit-trading-bot/internal/risk"
	"bybit-trading-bot/internal/secrets"
	"bybit-trading-bot/internal/signals"
	"bybit-trading-bot/internal/store"
	"bybit-trading-bot/internal/watcher"
)

// botController runs the trading engine and reversal watcher under one
// cancellable context, restartable through the API.
type botController struct {
	mu      sync.Mutex
	cancel  context.CancelFunc
	eng     *engine.Engine
	watch   *watcher.ReversalWatcher
	running bool
}

func (b *botController) Start() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.running {
		return false
	}
	ctx, cancel := context.WithCancel(context.Background())
	b.cancel = cancel
	b.running = true
	go func() {
		b.eng.Run(ctx)
		b.mu.Lock()
		b.running = false
		b.mu.Unlock()
	}()
	go b.watch.Run(ctx)
	return true
}

func (b *botController) Stop() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.running {
		return false
	}
	b.cancel()
	b.running = false
	return true
}

func (b *botController) Running() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.running
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		bootLog := zerolog.New(os.Stderr)
		bootLog.Fatal().Err(err).Msg("invalid configuration")
	}

	logger := newLogger(cfg.Logging)
	mode, _ := config.ModeByName(cfg.Trading.Mode)

	apiKey, apiSecret := cfg.Bybit.APIKey, cfg.Bybit.APISecret
	if cfg.Vault.Addr != "" {
		keys, err := secrets.LoadAPIKeys(cfg.Vault.Addr, cfg.Vault.Token, cfg.Vault.SecretKey)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to load API keys from vault")
		}
		apiKey, apiSecret = keys.Key, keys.Secret
		logger.Info().Msg("API keys loaded from vault")
	}

	var client bybit.ExchangeClient
	if cfg.Trading.DryRun {
		logger.Warn().Msg("dry run enabled, orders go to an in-memory mock")
		client = bybit.NewMockClient()
	} else {
		client = bybit.NewClient(apiKey, apiSecret, cfg.Bybit.Testnet)
	}

	var jrnl *journal.Journal
	if cfg.Postgres.DSN != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		jrnl, err = journal.Open(ctx, cfg.Postgres.DSN, logger)
		cancel()
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to open trade journal")
		}
		defer jrnl.Close()
	}

	stopStore := store.NewStopStore(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, logger)
	defer stopStore.Close()

	hub := api.NewWSHub(logger)
	go hub.Run()

	stops := risk.NewStopManager(risk.DefaultStopConfig(), logger)
	processor := signals.NewProcessor(client, logger)
	analyzer := market.NewAnalyzer(logger)

	eng := engine.New(engine.Deps{
		Client:      client,
		Processor:   processor,
		Enhanced:    signals.NewEnhancedProcessor(logger),
		Analyzer:    analyzer,
		Stops:       stops,
		Risk:        risk.NewRiskManager(risk.DefaultSizingConfig(), stops, logger),
		Ledger:      engine.NewLedger(logger),
		Journal:     jrnl,
		Store:       stopStore,
		Broadcaster: hub,
		Retry:       engine.DefaultRetryPolicy(logger),
		Mode:        mode,
		Trading:     cfg.Trading,
		Logger:      logger,
	})

	watchCfg := watcher.DefaultConfig(mode.Pairs, mode.HigherInterval)
	watchCfg.CloseLosing = cfg.Trading.CloseLosingOnReversal
	watch := watcher.New(client, eng.Ledger(), eng, hub, watchCfg, logger)

	controller := &botController{eng: eng, watch: watch}
	controller.Start()

	server := api.NewServer(eng, processor, jrnl, hub, controller, logger)

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		<-rootCtx.Done()
		controller.Stop()
	}()

	if err := server.Start(rootCtx, cfg.Server.Port); err != nil {
		logger.Fatal().Err(err).Msg("api server failed")
	}
	// Give the engine a moment to close positions on the way out.
	time.Sleep(2 * time.Second)
}

func newLogger(cfg config.LoggingConfig) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}

	var logger zerolog.Logger
	if cfg.Pretty {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	} else {
		logger = zerolog.New(os.Stderr)
	}
	return logger.Level(level).With().Timestamp().Logger()
}

// Package main is the entry point for the grid trading backend.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/atlas-desktop/grid-trading-backend/internal/api"
	"github.com/atlas-desktop/grid-trading-backend/internal/config"
	"github.com/atlas-desktop/grid-trading-backend/internal/events"
	"github.com/atlas-desktop/grid-trading-backend/internal/exchange"
	"github.com/atlas-desktop/grid-trading-backend/internal/gateway"
	"github.com/atlas-desktop/grid-trading-backend/internal/grid"
	"github.com/atlas-desktop/grid-trading-backend/internal/marketdata"
	"github.com/atlas-desktop/grid-trading-backend/internal/ordermgmt"
	"github.com/atlas-desktop/grid-trading-backend/internal/persistence"
	"github.com/atlas-desktop/grid-trading-backend/internal/risk"
	"github.com/atlas-desktop/grid-trading-backend/internal/workers"
	"github.com/atlas-desktop/grid-trading-backend/pkg/types"
	"github.com/atlas-desktop/grid-trading-backend/pkg/utils"
)

func main() {
	configFile := flag.String("config", "", "Path to a config file (optional)")
	dataDir := flag.String("data", "./data", "File-backed persistence directory (used when mock persistence is not active)")
	logLevel := flag.String("log-level", "info", "Log level (debug, info, warn, error)")
	pairs := flag.String("pairs", "BTC/USD", "Comma-separated trading pairs to run grids for")
	initialPrice := flag.String("initial-price", "100", "Seed price used to initialize each grid")
	flag.Parse()

	logger := setupLogger(*logLevel)
	defer logger.Sync()

	sysConfig, err := config.Load(*configFile)
	if err != nil {
		logger.Fatal("failed to load configuration", zap.Error(err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	registry := prometheus.NewRegistry()

	var store persistence.Store
	if sysConfig.MockPersistence() {
		logger.Warn("running with mock persistence; set SUPABASE_URL and SUPABASE_SERVICE_ROLE_KEY for durable storage")
		store = persistence.NewMockStore(logger)
	} else {
		fileStore, err := persistence.NewFileStore(logger, *dataDir)
		if err != nil {
			logger.Fatal("failed to initialize persistence", zap.Error(err))
		}
		store = fileStore
	}

	client := exchange.NewPaper(logger, exchange.DefaultPaperConfig(), map[string]decimal.Decimal{
		"USD": decimal.NewFromInt(100_000),
	})
	if err := client.Start(ctx); err != nil {
		logger.Fatal("failed to start exchange client", zap.Error(err))
	}

	var apiServer *api.Server
	hub := events.New(logger, map[events.Type][]events.Handler{
		events.TypeOrderPlaced:         {broadcastHandler(&apiServer)},
		events.TypeOrderFilled:         {broadcastHandler(&apiServer)},
		events.TypeOrderRecordingError: {broadcastHandler(&apiServer)},
		events.TypeProfitDistributed:   {broadcastHandler(&apiServer)},
		events.TypeGridRebalanced:      {broadcastHandler(&apiServer)},
		events.TypeRiskAlert:           {broadcastHandler(&apiServer)},
		events.TypeDrawdownEvent:       {broadcastHandler(&apiServer)},
		events.TypeEmergencyStop:       {broadcastHandler(&apiServer)},
		events.TypeStaleData:           {broadcastHandler(&apiServer)},
		events.TypePortfolioUpdated:    {broadcastHandler(&apiServer)},
	})

	riskMgr, err := risk.New(logger, sysConfig.Risk, hub, store, registry)
	if err != nil {
		logger.Fatal("failed to initialize risk manager", zap.Error(err))
	}

	orderMgr := ordermgmt.New(logger, hub, store, client, sysConfig.ReinvestmentPercent, riskMgr.IsEmergencyStopActive, registry)
	gw := gateway.New(logger, riskMgr, orderMgr)

	mdStore := marketdata.New(logger, hub, client)
	go mdStore.Run(ctx)

	seedPrice, err := decimal.NewFromString(*initialPrice)
	if err != nil {
		logger.Fatal("invalid initial price", zap.Error(err))
	}

	gridMgrs := make(map[types.TradingPair]*grid.Manager)
	for _, pair := range parsePairs(*pairs) {
		client.SetPrice(pair, seedPrice)

		gridCfg := types.DefaultGridConfig(pair)
		gridMgr, err := grid.New(logger, hub, store, client, orderMgr, gridCfg)
		if err != nil {
			logger.Fatal("failed to initialize grid manager", zap.String("pair", string(pair)), zap.Error(err))
		}
		if err := gridMgr.InitializeGrid(ctx, seedPrice); err != nil {
			logger.Fatal("failed to initialize grid", zap.String("pair", string(pair)), zap.Error(err))
		}
		gridMgrs[pair] = gridMgr
	}

	scheduler := workers.New(logger, []workers.Task{
		{
			Name:     "order-sync",
			Interval: 5 * time.Second,
			Run:      func(ctx context.Context) error { return orderMgr.SyncStatuses(ctx) },
		},
		{
			Name:     "grid-fill-check",
			Interval: 5 * time.Second,
			Run:      func(ctx context.Context) error { return checkGridFills(ctx, gridMgrs, mdStore) },
		},
		{
			Name:     "risk-eval",
			Interval: 10 * time.Second,
			Run:      func(ctx context.Context) error { evaluateRisk(riskMgr, gridMgrs, mdStore); return nil },
		},
		{
			Name:     "market-data-stale-scan",
			Interval: 30 * time.Second,
			Run:      func(ctx context.Context) error { mdStore.CheckStale(); return nil },
		},
	})
	go scheduler.Run(ctx)

	apiServer = api.New(logger, sysConfig.Server, registry, riskMgr, orderMgr, gridMgrs, mdStore, gw)
	go func() {
		if err := apiServer.Start(); err != nil {
			logger.Error("api server stopped", zap.Error(err))
		}
	}()

	logger.Info("grid trading backend started",
		zap.Strings("pairs", pairStrings(gridMgrs)),
		zap.Bool("mockPersistence", sysConfig.MockPersistence()),
	)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan
	logger.Info("shutdown signal received")

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	if err := apiServer.Stop(shutdownCtx); err != nil {
		logger.Error("error during api server shutdown", zap.Error(err))
	}
	if err := client.Stop(); err != nil {
		logger.Error("error stopping exchange client", zap.Error(err))
	}

	logger.Info("grid trading backend stopped")
}

// broadcastHandler returns an events.Handler that forwards to whatever
// *api.Server target currently points at, deferred because the hub's
// subscriber set must be built before the server that consumes it exists.
func broadcastHandler(target **api.Server) events.Handler {
	return func(evt events.Event) {
		if *target == nil {
			return
		}
		(*target).Broadcast(string(evt.Type), evt.Payload)
	}
}

// checkGridFills refreshes each grid's reference price from the live
// market-data stream before reconciling its orders against the exchange, so
// fill P&L and profit-taking classification judge against a current price
// rather than the stale initialization/rebalance price.
func checkGridFills(ctx context.Context, gridMgrs map[types.TradingPair]*grid.Manager, mdStore *marketdata.Store) error {
	for pair, mgr := range gridMgrs {
		if price, ok := mdStore.LastPrice(pair); ok {
			mgr.UpdatePrice(price)
		}
		if err := mgr.CheckFills(ctx); err != nil {
			return err
		}
	}
	return nil
}

// evaluateRisk aggregates each grid's invested capital and running profit
// into a single portfolio snapshot, computes pairwise return correlation
// from market-data price history, and feeds both to the risk manager.
func evaluateRisk(riskMgr *risk.Manager, gridMgrs map[types.TradingPair]*grid.Manager, mdStore *marketdata.Store) {
	var portfolioValue decimal.Decimal
	var positions []risk.PositionInput
	pairs := make([]types.TradingPair, 0, len(gridMgrs))

	for pair, mgr := range gridMgrs {
		state := mgr.Snapshot()
		value := state.TotalInvested.Add(state.CurrentProfit)
		portfolioValue = portfolioValue.Add(value)

		positions = append(positions, risk.PositionInput{
			Pair:        pair,
			Size:        state.TotalInvested,
			Value:       value,
			DailyVolume: decimal.NewFromInt(1_000_000),
		})
		pairs = append(pairs, pair)
	}

	riskMgr.UpdatePortfolioValue(portfolioValue, positions, correlationInputs(pairs, mdStore))
}

// correlationInputs computes the pairwise return correlation for every
// combination of pairs from their market-data price history, skipping any
// pair with too little history to produce a meaningful coefficient.
func correlationInputs(pairs []types.TradingPair, mdStore *marketdata.Store) []risk.CorrelationInput {
	var out []risk.CorrelationInput
	for i := 0; i < len(pairs); i++ {
		for j := i + 1; j < len(pairs); j++ {
			histA := mdStore.PriceHistory(pairs[i])
			histB := mdStore.PriceHistory(pairs[j])
			corr, ok := utils.PearsonCorrelation(histA, histB)
			if !ok {
				continue
			}
			out = append(out, risk.CorrelationInput{PairA: pairs[i], PairB: pairs[j], Correlation: corr})
		}
	}
	return out
}

func parsePairs(raw string) []types.TradingPair {
	var pairs []types.TradingPair
	start := 0
	for i := 0; i <= len(raw); i++ {
		if i == len(raw) || raw[i] == ',' {
			if i > start {
				pairs = append(pairs, types.TradingPair(raw[start:i]))
			}
			start = i + 1
		}
	}
	return pairs
}

func pairStrings(gridMgrs map[types.TradingPair]*grid.Manager) []string {
	out := make([]string, 0, len(gridMgrs))
	for pair := range gridMgrs {
		out = append(out, string(pair))
	}
	return out
}

func setupLogger(level string) *zap.Logger {
	var zapLevel zapcore.Level
	switch level {
	case "debug":
		zapLevel = zapcore.DebugLevel
	case "warn":
		zapLevel = zapcore.WarnLevel
	case "error":
		zapLevel = zapcore.ErrorLevel
	default:
		zapLevel = zapcore.InfoLevel
	}

	cfg := zap.Config{
		Level:       zap.NewAtomicLevelAt(zapLevel),
		Development: false,
		Encoding:    "console",
		EncoderConfig: zapcore.EncoderConfig{
			TimeKey:        "time",
			LevelKey:       "level",
			NameKey:        "logger",
			CallerKey:      "caller",
			MessageKey:     "msg",
			StacktraceKey:  "stacktrace",
			LineEnding:     zapcore.DefaultLineEnding,
			EncodeLevel:    zapcore.CapitalColorLevelEncoder,
			EncodeTime:     zapcore.ISO8601TimeEncoder,
			EncodeDuration: zapcore.SecondsDurationEncoder,
			EncodeCaller:   zapcore.ShortCallerEncoder,
		},
		OutputPaths:      []string{"stdout"},
		ErrorOutputPaths: []string{"stderr"},
	}

	logger, err := cfg.Build()
	if err != nil {
		panic(err)
	}
	return logger
}

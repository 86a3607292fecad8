// Command engine is the volatility-rebalancing trading engine's entry
// point. Grounded on the teacher's cmd/server/main.go: flag-parsed
// subcommands, a zap.Config console-encoder logger builder, and a
// signal.Notify-driven graceful shutdown sequence — retargeted from the
// teacher's single always-on autonomous-agent server to three explicit
// subcommands (run/simulate/optimize) matching this engine's own scope.
package main

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"

	"github.com/atlas-desktop/volbalance/internal/adapters/broker"
	"github.com/atlas-desktop/volbalance/internal/adapters/marketdata"
	"github.com/atlas-desktop/volbalance/internal/adapters/memrepo"
	"github.com/atlas-desktop/volbalance/internal/adapters/sqlrepo"
	"github.com/atlas-desktop/volbalance/internal/alert"
	"github.com/atlas-desktop/volbalance/internal/api"
	"github.com/atlas-desktop/volbalance/internal/audit"
	"github.com/atlas-desktop/volbalance/internal/config"
	"github.com/atlas-desktop/volbalance/internal/domain"
	"github.com/atlas-desktop/volbalance/internal/explain"
	"github.com/atlas-desktop/volbalance/internal/live"
	"github.com/atlas-desktop/volbalance/internal/metrics"
	"github.com/atlas-desktop/volbalance/internal/ports"
	"github.com/atlas-desktop/volbalance/internal/simulate"
	"github.com/atlas-desktop/volbalance/internal/usecase"
	"github.com/atlas-desktop/volbalance/pkg/types"
)

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, "usage: engine <run|simulate|optimize> [flags]")
		os.Exit(1)
	}

	var err error
	switch os.Args[1] {
	case "run":
		err = runCommand(os.Args[2:])
	case "simulate":
		err = simulateCommand(os.Args[2:])
	case "optimize":
		err = optimizeCommand(os.Args[2:])
	default:
		fmt.Fprintf(os.Stderr, "unknown subcommand %q\n", os.Args[1])
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// runCommand starts the live engine: scheduler, reconciler, alert worker,
// and admin/metrics HTTP server, until SIGINT/SIGTERM.
func runCommand(args []string) error {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	configPath := fs.String("config", "", "path to engine YAML config")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := setupLogger(cfg.Log.Level)
	defer logger.Sync()
	logger.Info("starting volbalance engine",
		zap.String("storage", string(cfg.Storage.Driver)),
		zap.String("market_data", string(cfg.MarketData.Driver)),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	repos, err := buildRepos(cfg, logger)
	if err != nil {
		return fmt.Errorf("build repositories: %w", err)
	}
	if closer, ok := repos.closer(); ok {
		defer closer()
	}

	auditSink, err := audit.Open(cfg.AuditPath, logger)
	if err != nil {
		return fmt.Errorf("open audit sink: %w", err)
	}
	defer auditSink.Close()

	market := buildMarketData(cfg)
	brokerAdapter := broker.NewStub(ports.SystemClock{}, market, broker.DefaultConfig(), logger)

	eval := usecase.NewEvaluatePosition(repos.positions, repos.configs, market, repos.timeline, auditSink, ports.SystemClock{}, logger)
	submit := usecase.NewSubmitOrder(repos.orders, repos.idempotency, repos.configs, auditSink, ports.SystemClock{}, logger)
	executor := usecase.NewExecuteOrder(repos.orders, repos.positions, repos.trades, repos.configs, auditSink, ports.SystemClock{}, logger)

	sched := live.NewScheduler(
		live.SchedulerConfig{TickInterval: cfg.TickInterval(), MaxConcurrency: cfg.Scheduler.MaxConcurrency},
		repos.portfolios, repos.positions, repos.orders, eval, submit, brokerAdapter, logger,
	)
	orch := live.NewOrchestrator(ports.SystemClock{}, brokerAdapter, repos.orders, logger)
	sched.WithOrchestrator(orch)

	reconciler := live.NewReconciler(repos.orders, brokerAdapter, executor, ports.SystemClock{}, logger, 15*time.Second)

	alertChecker := alert.NewChecker(repos.alerts, ports.SystemClock{}, alert.Config{
		NoEvalMinutes:          cfg.Alert.NoEvalMinutes,
		GuardrailSkipThreshold: cfg.Alert.GuardrailSkipThreshold,
		PriceStaleMinutes:      cfg.Alert.PriceStaleMinutes,
	}, logger)
	stateProvider := newEngineStateProvider(repos, market)
	alertWorker := alert.NewWorker(alertChecker, stateProvider, brokerAdapter, cfg.AlertInterval(), logger)

	explainSvc := explain.NewService(repos.timeline, repos.orders, repos.trades)
	metricsBundle := metrics.New(prometheus.NewRegistry())

	server := api.NewServer(logger, api.Config{
		Host:         cfg.Server.Host,
		Port:         cfg.Server.Port,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}, repos.positions, repos.portfolios, repos.orders, repos.trades, repos.alerts, explainSvc, orch, metricsBundle.Handler())

	var wg sync.WaitGroup
	runGoroutine := func(name string, fn func(context.Context) error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := fn(ctx); err != nil && ctx.Err() == nil {
				logger.Error(name+" stopped with error", zap.Error(err))
			}
		}()
	}

	runGoroutine("scheduler", sched.Run)
	runGoroutine("reconciler", func(ctx context.Context) error {
		return reconciler.Run(ctx, func() []string { return stateProvider.activePositionIDs(ctx) })
	})
	runGoroutine("alert worker", alertWorker.Run)

	go func() {
		if err := server.Start(); err != nil {
			logger.Error("api server stopped", zap.Error(err))
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	logger.Info("shutdown signal received")

	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	if err := server.Stop(shutdownCtx); err != nil {
		logger.Error("api server shutdown error", zap.Error(err))
	}

	wg.Wait()
	logger.Info("volbalance engine stopped")
	return nil
}

// simulateCommand replays historical bars through the live decision
// pipeline and prints the resulting SimulationResult as JSON plus a
// timeline CSV.
func simulateCommand(args []string) error {
	fs := flag.NewFlagSet("simulate", flag.ExitOnError)
	ticker := fs.String("ticker", "", "asset symbol to simulate")
	from := fs.String("from", "", "start date, YYYY-MM-DD")
	to := fs.String("to", "", "end date, YYYY-MM-DD")
	cash := fs.Float64("cash", 10000, "starting cash")
	intervalMinutes := fs.Int("interval", 1440, "bar interval in minutes")
	includeAfterHours := fs.Bool("include-after-hours", false, "include after-hours bars")
	timelineCSV := fs.String("timeline-csv", "", "optional path to write the evaluation timeline as CSV")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *ticker == "" || *from == "" || *to == "" {
		return fmt.Errorf("simulate requires --ticker, --from, and --to")
	}

	fromT, err := time.Parse("2006-01-02", *from)
	if err != nil {
		return fmt.Errorf("parse --from: %w", err)
	}
	toT, err := time.Parse("2006-01-02", *to)
	if err != nil {
		return fmt.Errorf("parse --to: %w", err)
	}

	market := marketdata.NewSynthetic(marketdata.SyntheticConfig{
		AssetSymbol: *ticker,
		StartPrice:  decimal.NewFromInt(100),
		DailyVol:    0.02,
		Seed:        1,
		Interval:    24 * time.Hour,
	})

	engine := simulate.NewEngine(market, zap.NewNop())
	result, err := engine.Run(context.Background(), simulate.Config{
		Ticker:            *ticker,
		From:              fromT,
		To:                toT,
		InitialCash:       decimal.NewFromFloat(*cash),
		IntervalMinutes:   *intervalMinutes,
		IncludeAfterHours: *includeAfterHours,
		SimPrice:          types.SimPriceClose,
		Trigger:           types.DefaultTriggerConfig(),
		Guardrail:         types.DefaultGuardrailConfig(),
		OrderPolicy:       types.DefaultOrderPolicyConfig(),
	})
	if err != nil {
		return fmt.Errorf("run simulation: %w", err)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(result); err != nil {
		return fmt.Errorf("encode result: %w", err)
	}

	if *timelineCSV != "" {
		if err := writeTimelineCSV(*timelineCSV, result.Timeline); err != nil {
			return fmt.Errorf("write timeline csv: %w", err)
		}
	}
	return nil
}

// optimizeCommand loops simulate.Engine.Run over a parameter grid read from
// a YAML grid file. A thin driver, matching spec's explicit scoping of the
// optimizer as non-core.
func optimizeCommand(args []string) error {
	fs := flag.NewFlagSet("optimize", flag.ExitOnError)
	configPath := fs.String("config", "", "path to engine YAML config (for base trigger/guardrail)")
	gridPath := fs.String("grid", "", "path to grid YAML file")
	ticker := fs.String("ticker", "", "asset symbol to simulate")
	from := fs.String("from", "", "start date, YYYY-MM-DD")
	to := fs.String("to", "", "end date, YYYY-MM-DD")
	cash := fs.Float64("cash", 10000, "starting cash")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *gridPath == "" || *ticker == "" || *from == "" || *to == "" {
		return fmt.Errorf("optimize requires --grid, --ticker, --from, and --to")
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	gridBytes, err := os.ReadFile(*gridPath)
	if err != nil {
		return fmt.Errorf("read grid: %w", err)
	}
	var grid simulate.Grid
	if err := yaml.Unmarshal(gridBytes, &grid); err != nil {
		return fmt.Errorf("parse grid: %w", err)
	}

	fromT, err := time.Parse("2006-01-02", *from)
	if err != nil {
		return fmt.Errorf("parse --from: %w", err)
	}
	toT, err := time.Parse("2006-01-02", *to)
	if err != nil {
		return fmt.Errorf("parse --to: %w", err)
	}

	market := marketdata.NewSynthetic(marketdata.SyntheticConfig{
		AssetSymbol: *ticker,
		StartPrice:  decimal.NewFromInt(100),
		DailyVol:    0.02,
		Seed:        1,
		Interval:    24 * time.Hour,
	})
	engine := simulate.NewEngine(market, zap.NewNop())

	results, err := simulate.Optimize(context.Background(), engine, simulate.Config{
		Ticker:      *ticker,
		From:        fromT,
		To:          toT,
		InitialCash: decimal.NewFromFloat(*cash),
		SimPrice:    types.SimPriceClose,
		Trigger:     cfg.Trigger,
		Guardrail:   cfg.Guardrail,
		OrderPolicy: cfg.OrderPolicy,
	}, grid)
	if err != nil {
		return fmt.Errorf("optimize: %w", err)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(results)
}

func writeTimelineCSV(path string, rows []*domain.EvaluationRecord) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	w := csv.NewWriter(f)
	defer w.Flush()

	if err := w.Write([]string{"timestamp", "position_id", "action", "price", "anchor_after", "qty_after"}); err != nil {
		return err
	}
	for _, r := range rows {
		if err := w.Write([]string{
			r.Timestamp.UTC().Format(time.RFC3339),
			r.PositionID,
			string(r.Action),
			r.EffectivePrice.String(),
			r.AnchorAfter.String(),
			r.QtyAfter.String(),
		}); err != nil {
			return err
		}
	}
	return nil
}

// buildMarketData resolves the configured MarketData adapter. The synthetic
// driver only serves assets it was constructed with; live runs against
// unconfigured symbols should use the http driver, or have asset configs
// added here as the admin surface grows a way to register demo symbols.
func buildMarketData(cfg *config.Config) ports.MarketData {
	switch cfg.MarketData.Driver {
	case config.MarketDataHTTP:
		return marketdata.NewHTTP(cfg.MarketData.BaseURL, cfg.MarketData.APIKey, nil, nil)
	default:
		return marketdata.NewSynthetic()
	}
}

type repoSet struct {
	positions   ports.PositionsRepo
	portfolios  ports.PortfoliosRepo
	orders      ports.OrdersRepo
	trades      ports.TradesRepo
	idempotency ports.IdempotencyRepo
	timeline    ports.TimelineRepo
	configs     ports.ConfigRepo
	alerts      ports.AlertRepo

	db *sqlrepo.DB
}

func (r *repoSet) closer() (func(), bool) {
	if r.db == nil {
		return nil, false
	}
	return func() { r.db.Close() }, true
}

func buildRepos(cfg *config.Config, logger *zap.Logger) (*repoSet, error) {
	if cfg.Storage.Driver == config.StorageSQLite {
		db, err := sqlrepo.Open(cfg.Storage.DSN)
		if err != nil {
			return nil, err
		}
		return &repoSet{
			positions:   sqlrepo.NewPositions(db),
			portfolios:  sqlrepo.NewPortfolios(db),
			orders:      sqlrepo.NewOrders(db),
			trades:      sqlrepo.NewTrades(db),
			idempotency: sqlrepo.NewIdempotency(db),
			timeline:    sqlrepo.NewTimeline(db),
			configs:     sqlrepo.NewConfigs(db),
			alerts:      sqlrepo.NewAlerts(db),
			db:          db,
		}, nil
	}

	return &repoSet{
		positions:   memrepo.NewPositions(),
		portfolios:  memrepo.NewPortfolios(),
		orders:      memrepo.NewOrders(),
		trades:      memrepo.NewTrades(),
		idempotency: memrepo.NewIdempotency(),
		timeline:    memrepo.NewTimeline(),
		configs:     memrepo.NewConfigs(),
		alerts:      memrepo.NewAlerts(),
	}, nil
}

// engineStateProvider satisfies alert.StateProvider by reading the live
// repositories directly, grounded on the same read-the-repos shape the
// teacher's health-check endpoints use rather than a dedicated metrics
// pipeline: the alert worker only runs once every alert.interval_seconds
// (30 by default), so a few repository scans per tick costs nothing.
type engineStateProvider struct {
	repos  *repoSet
	market ports.MarketData
}

func newEngineStateProvider(repos *repoSet, market ports.MarketData) *engineStateProvider {
	return &engineStateProvider{repos: repos, market: market}
}

func (p *engineStateProvider) activePositions(ctx context.Context) []*domain.Position {
	portfolios, err := p.repos.portfolios.List(ctx, "")
	if err != nil {
		return nil
	}
	var active []*domain.Position
	for _, pf := range portfolios {
		positions, err := p.repos.positions.ListByPortfolio(ctx, pf.ID)
		if err != nil {
			continue
		}
		for _, pos := range positions {
			if pos.Status == domain.PositionActive {
				active = append(active, pos)
			}
		}
	}
	return active
}

func (p *engineStateProvider) activePositionIDs(ctx context.Context) []string {
	positions := p.activePositions(ctx)
	ids := make([]string, 0, len(positions))
	for _, pos := range positions {
		ids = append(ids, pos.ID)
	}
	return ids
}

func (p *engineStateProvider) Snapshot(ctx context.Context) (alert.Input, error) {
	positions := p.activePositions(ctx)

	var lastEval *time.Time
	var lastPrice *time.Time
	isMarketHours := false

	for _, pos := range positions {
		orders, err := p.repos.orders.ListByPosition(ctx, pos.ID)
		if err != nil {
			continue
		}
		for _, o := range orders {
			t := o.CreatedAt
			if lastEval == nil || t.After(*lastEval) {
				lastEval = &t
			}
		}
	}

	if len(positions) > 0 {
		if open, err := p.market.IsMarketOpen(ctx, positions[0].AssetSymbol, time.Now().UTC()); err == nil {
			isMarketHours = open
		}
		now := time.Now().UTC()
		lastPrice = &now
	}

	return alert.Input{
		WorkerRunning:         true,
		WorkerEnabled:         true,
		LastEvaluationTime:    lastEval,
		IsMarketHours:         isMarketHours,
		RecentOrderRejections: 0,
		RecentGuardrailSkips:  0,
		LastPriceUpdate:       lastPrice,
	}, nil
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

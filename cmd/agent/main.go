// Package main is the entry point for the merger-arb execution agent.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/donkeithross3-commits/ma-tracker-app-sub000/internal/alerting"
	"github.com/donkeithross3-commits/ma-tracker-app-sub000/internal/broker"
	"github.com/donkeithross3-commits/ma-tracker-app-sub000/internal/broker/ibkr"
	"github.com/donkeithross3-commits/ma-tracker-app-sub000/internal/broker/paper"
	"github.com/donkeithross3-commits/ma-tracker-app-sub000/internal/config"
	"github.com/donkeithross3-commits/ma-tracker-app-sub000/internal/engine"
	"github.com/donkeithross3-commits/ma-tracker-app-sub000/internal/ledger"
	"github.com/donkeithross3-commits/ma-tracker-app-sub000/internal/metrics"
	"github.com/donkeithross3-commits/ma-tracker-app-sub000/internal/quotes"
	"github.com/donkeithross3-commits/ma-tracker-app-sub000/internal/resource"
	"github.com/donkeithross3-commits/ma-tracker-app-sub000/internal/strategy"
)

// Version information (set by build flags).
var (
	Version   = "0.3.0"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "version", "-v", "--version":
		cmdVersion()
	case "help", "-h", "--help":
		printUsage()
	case "run":
		cmdRun(os.Args[2:])
	case "validate":
		cmdValidate(os.Args[2:])
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`Merger-Arb Execution Agent

Usage:
  agent <command> [options]

Commands:
  run        Start the execution agent
  validate   Validate configuration file
  version    Show version information
  help       Show this help message

Examples:
  agent run --config config.yaml
  agent validate --config config.yaml

Use "agent <command> --help" for more information about a command.`)
}

func cmdVersion() {
	fmt.Printf("agent version %s\n", Version)
	fmt.Printf("  Build time: %s\n", BuildTime)
	fmt.Printf("  Git commit: %s\n", GitCommit)
}

func cmdValidate(args []string) {
	fs := flag.NewFlagSet("validate", flag.ExitOnError)
	configPath := fs.String("config", "config.yaml", "Path to configuration file")
	fs.Parse(args)

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Configuration error: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("Configuration is valid!")
	fmt.Printf("  Gateway: %s:%d (client %d)\n", cfg.Gateway.Host, cfg.Gateway.Port, cfg.Gateway.ClientID)
	fmt.Printf("  Tick interval: %dms\n", cfg.Engine.TickIntervalMs)
	fmt.Printf("  Max in-flight orders: %d\n", cfg.Engine.MaxInflightOrders)
	fmt.Printf("  Strategies: %d\n", len(cfg.Strategies))
	for _, entry := range cfg.Strategies {
		fmt.Printf("    %s (%s on %s, deal $%.2f)\n", entry.ID, entry.Type, entry.Symbol, entry.DealPrice)
	}
}

func cmdRun(args []string) {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	configPath := fs.String("config", "config.yaml", "Path to configuration file")
	fs.Parse(args)

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := newLogger(cfg.Logging)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(),
		syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("execution agent starting",
		"version", Version,
		"gateway", fmt.Sprintf("%s:%d", cfg.Gateway.Host, cfg.Gateway.Port),
		"paper", cfg.Gateway.PaperTrading,
		"dry_run", cfg.Gateway.DryRun,
		"strategies", len(cfg.Strategies),
	)

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("agent failed", "err", err)
		os.Exit(1)
	}

	logger.Info("agent shutdown complete")
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	// Broker gateway: live TWS connection, or the in-process simulator for
	// dry runs.
	var gw broker.Gateway
	if cfg.Gateway.DryRun {
		sim := paper.NewGateway(paper.DefaultConfig(), logger)
		if err := sim.Connect(ctx); err != nil {
			return fmt.Errorf("connect paper gateway: %w", err)
		}
		defer func() {
			if err := sim.Disconnect(); err != nil {
				logger.Warn("gateway disconnect failed", "err", err)
			}
		}()
		gw = sim
	} else {
		client := ibkr.NewClient(cfg.ToGatewayConfig(), logger)
		if err := client.Connect(ctx); err != nil {
			return fmt.Errorf("connect gateway: %w", err)
		}
		defer func() {
			if err := client.Disconnect(); err != nil {
				logger.Warn("gateway disconnect failed", "err", err)
			}
		}()
		gw = client
	}

	// Startup reconciliation: pull the broker's view of working orders and
	// positions before any strategy acts.
	if err := reconcile(ctx, gw, logger); err != nil {
		return fmt.Errorf("startup reconciliation: %w", err)
	}

	// Market data cache and resource accounting
	cache := quotes.NewStreamCache(cfg.MarketData.MaxLines, logger)
	resources := resource.NewManager(cache)

	// Position ledger
	var book ledger.Ledger
	if cfg.Ledger.Enabled {
		sqlLedger, err := ledger.NewSQLiteLedger(cfg.Ledger.Path)
		if err != nil {
			return fmt.Errorf("open ledger: %w", err)
		}
		defer func() {
			if err := sqlLedger.Close(); err != nil {
				logger.Warn("ledger close failed", "err", err)
			}
		}()
		book = sqlLedger
	}

	// Execution engine
	eng := engine.New(cfg.ToEngineConfig(), gw, cache, resources, logger)
	eng.SetOrderBudget(cfg.Budget.InitialOrders)

	// Operator alerting
	var alerter *alerting.MultiAlerter
	if cfg.Alerting.Enabled {
		alerter = alerting.NewMultiAlerter(logger, alerting.NewConsoleAlerter(logger))
		if cfg.Alerting.Telegram.BotToken != "" {
			alerter.AddAlerter(alerting.NewTelegramAlerter(alerting.TelegramConfig{
				BotToken: cfg.Alerting.Telegram.BotToken,
				ChatID:   cfg.Alerting.Telegram.ChatID,
			}))
		}
		eng.SetAlerter(alerter)
	}

	// Load configured strategies, restoring ledger positions first.
	for _, entry := range cfg.Strategies {
		strat, err := strategy.New(entry.Type)
		if err != nil {
			return fmt.Errorf("strategy %s: %w", entry.ID, err)
		}

		if book != nil {
			journal := ledger.NewJournal(entry.ID, strat, book, logger)
			if err := journal.Restore(ctx); err != nil {
				return fmt.Errorf("restore strategy %s: %w", entry.ID, err)
			}
			strat = journal
		}

		if err := eng.LoadStrategy(entry.ID, strat, entry.ToStrategyConfig()); err != nil {
			return fmt.Errorf("load strategy %s: %w", entry.ID, err)
		}
	}

	if err := eng.Start(); err != nil {
		return fmt.Errorf("start engine: %w", err)
	}

	if alerter != nil {
		_ = alerter.AlertEvent(ctx, alerting.EventAgentStarted,
			fmt.Sprintf("Execution agent %s started", Version),
			"strategies", len(cfg.Strategies), "dry_run", cfg.Gateway.DryRun)
	}

	// Metrics and status server
	var srv *metrics.Server
	if cfg.Metrics.Enabled {
		srv = metrics.NewServer(cfg.ToMetricsServerConfig(), logger)
		srv.SetStatusProvider(func() any { return eng.GetStatus() })
		srv.RegisterHealthCheck("broker", func() metrics.Check {
			if !gw.IsConnected() {
				return metrics.Check{Status: "unhealthy", Message: "gateway disconnected"}
			}
			return metrics.Check{Status: "healthy"}
		})
		srv.RegisterHealthCheck("engine", func() metrics.Check {
			if !eng.IsRunning() {
				return metrics.Check{Status: "unhealthy", Message: "engine stopped"}
			}
			return metrics.Check{Status: "healthy"}
		})
		if err := srv.Start(); err != nil {
			return fmt.Errorf("start metrics server: %w", err)
		}
	}

	<-ctx.Done()
	logger.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := eng.Stop(); err != nil {
		logger.Error("engine stop failed", "err", err)
	}
	if alerter != nil {
		_ = alerter.AlertEvent(shutdownCtx, alerting.EventAgentStopped, "Execution agent stopped")
	}
	if srv != nil {
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("metrics server shutdown failed", "err", err)
		}
	}

	return nil
}

// reconcile fetches the broker's open orders and positions concurrently and
// logs them, so manual activity is visible before the engine starts ticking.
func reconcile(ctx context.Context, gw broker.Gateway, logger *slog.Logger) error {
	var (
		orders    []broker.OrderSnapshot
		positions []broker.PositionSnapshot
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		orders, err = gw.GetOpenOrdersSnapshot(gctx, true)
		return err
	})
	g.Go(func() error {
		var err error
		positions, err = gw.GetPositionsSnapshot(gctx)
		return err
	})
	if err := g.Wait(); err != nil {
		return err
	}

	logger.Info("broker state reconciled",
		"open_orders", len(orders),
		"positions", len(positions),
	)
	for _, o := range orders {
		logger.Info("working order found at startup",
			"order_id", o.OrderID,
			"contract", o.Contract.Describe(),
			"status", o.Status.String(),
		)
	}

	return nil
}

// newLogger builds the process logger from config.
func newLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}

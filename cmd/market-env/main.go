// Command market-env runs the trading environment against the configured
// gateway with a random agent, rendering each step. It doubles as a smoke
// test for gateway wiring and as a starting point for plugging in a real
// policy.
package main

import (
	"context"
	"flag"
	"math/rand"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"market_env/internal/config"
	"market_env/internal/core"
	"market_env/internal/env"
	"market_env/internal/gateway/binance"
	"market_env/internal/gateway/sim"
	"market_env/internal/infrastructure/health"
	"market_env/internal/infrastructure/metrics"
	"market_env/internal/journal"
	"market_env/internal/xform"
	apperrors "market_env/pkg/errors"
	"market_env/pkg/logging"
	"market_env/pkg/retry"
	"market_env/pkg/telemetry"
)

var (
	configFile = flag.String("config", "configs/config.yaml", "Path to configuration file")
	episodes   = flag.Int("episodes", 1, "Number of episodes to run (0 = until interrupted)")
	lookback   = flag.Int("lookback", 0, "BinaryDelta transform lookback (0 = raw bar observations)")
	startPrice = flag.Float64("start-price", 50000, "Sim gateway starting price")
)

// connector is the lifecycle half of a gateway, beyond core.IGateway.
type connector interface {
	core.IGateway
	Connect(ctx context.Context) error
}

func main() {
	flag.Parse()

	logger, err := logging.NewZapLogger("INFO")
	if err != nil {
		os.Exit(1)
	}

	cfg := config.DefaultConfig()
	if _, statErr := os.Stat(*configFile); statErr == nil {
		loaded, loadErr := config.LoadConfig(*configFile)
		if loadErr != nil {
			logger.Fatal("Failed to load config", "path", *configFile, "error", loadErr)
		}
		cfg = loaded
	} else {
		logger.Info("Config file not found, using defaults", "path", *configFile)
	}

	if logger, err = logging.NewZapLogger(cfg.System.LogLevel); err != nil {
		os.Exit(1)
	}
	logger.Info("Starting market environment", "gateway", cfg.Env.Gateway, "symbol", cfg.Env.Symbol)

	tel, err := telemetry.Setup("market_env")
	if err != nil {
		logger.Fatal("Telemetry setup failed", "error", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = tel.Shutdown(shutdownCtx)
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	gw, err := buildGateway(cfg, logger)
	if err != nil {
		logger.Fatal("Gateway init failed", "error", err)
	}

	var jrnl core.IJournal
	if cfg.Journal.Path != "" {
		jrnl, err = journal.NewSQLiteJournal(cfg.Journal.Path)
		if err != nil {
			logger.Fatal("Journal init failed", "path", cfg.Journal.Path, "error", err)
		}
	}

	var tf core.ITransform
	if *lookback > 0 {
		tf = xform.NewBinaryDelta(*lookback)
	}

	environment, err := env.NewMarketEnv(ctx, cfg, gw, tf, jrnl, logger)
	if err != nil {
		logger.Fatal("Environment init failed", "error", err)
	}

	// Startup connectivity failures are treated as transient.
	err = retry.Do(ctx, retry.DefaultPolicy, func(error) bool { return true }, func() error {
		return gw.Connect(ctx)
	})
	if err != nil {
		logger.Fatal("Gateway connect failed", "error", err)
	}

	hm := health.NewHealthManager(logger)
	hm.Register("gateway", func() error {
		if !gw.Connected() {
			return apperrors.ErrNotConnected
		}
		return nil
	})

	if cfg.Telemetry.EnableMetrics {
		srv := metrics.NewServer(cfg.Telemetry.MetricsPort, hm, logger)
		srv.Start()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Stop(shutdownCtx)
		}()
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return runAgent(ctx, environment, *episodes, logger)
	})

	if err := g.Wait(); err != nil && err != context.Canceled {
		logger.Error("Agent loop failed", "error", err)
	}

	closeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := environment.Close(closeCtx); err != nil {
		logger.Error("Environment close failed", "error", err)
	}
}

func buildGateway(cfg *config.Config, logger core.ILogger) (connector, error) {
	switch cfg.Env.Gateway {
	case "binance":
		return binance.New(cfg, logger)
	default:
		leverage := decimal.NewFromFloat(cfg.Env.Leverage)
		if leverage.IsZero() {
			leverage = decimal.NewFromInt(1)
		}
		inst := &core.Instrument{
			Symbol:   cfg.Env.Symbol,
			SecType:  cfg.Env.SecType,
			Exchange: "SIM",
			Currency: cfg.Env.Currency,
			Leverage: leverage,
		}
		return sim.New(inst, *startPrice, cfg.Concurrency.EventPoolBuffer, logger), nil
	}
}

// runAgent drives the environment with uniform random actions.
func runAgent(ctx context.Context, environment *env.MarketEnv, maxEpisodes int, logger core.ILogger) error {
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))

	for ep := 0; maxEpisodes == 0 || ep < maxEpisodes; ep++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		if _, err := environment.Reset(ctx); err != nil {
			return err
		}

		for {
			if ctx.Err() != nil {
				environment.FinishOnNextStep()
			}

			action := rng.Float64()*2 - 1
			_, reward, done, info, err := environment.Step(ctx, action)
			if err != nil {
				return err
			}

			if err := environment.Render("human", os.Stdout); err != nil {
				return err
			}

			if done {
				logger.Info("Episode complete",
					"episode", environment.Episode(),
					"steps", info.Step,
					"profit", info.EpisodeProfit.String(),
					"last_reward", reward,
				)
				break
			}
		}
	}
	return nil
}

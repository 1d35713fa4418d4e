package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/alejandrodnm/quantmarket/config"
	"github.com/alejandrodnm/quantmarket/internal/adapters/archive"
	"github.com/alejandrodnm/quantmarket/internal/adapters/cache"
	"github.com/alejandrodnm/quantmarket/internal/adapters/httpapi"
	"github.com/alejandrodnm/quantmarket/internal/adapters/notify"
	"github.com/alejandrodnm/quantmarket/internal/adapters/storage"
	"github.com/alejandrodnm/quantmarket/internal/adapters/stream"
	"github.com/alejandrodnm/quantmarket/internal/application/engine"
	"github.com/alejandrodnm/quantmarket/internal/domain"
	"github.com/alejandrodnm/quantmarket/internal/ports"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to config file (.yaml or .toml)")
	verbose := flag.Bool("verbose", false, "set log level to debug")
	logFormat := flag.String("format", "", "log format: text|json (overrides config)")
	board := flag.Bool("board", false, "print the market board every sweep cycle")
	table := flag.Bool("table", false, "print full tables (default: compact 1-line board)")
	portfolio := flag.String("portfolio", "", "print the portfolio and trades of an account and exit")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "err", err, "path", *configPath)
		os.Exit(1)
	}
	if *verbose {
		cfg.Log.Level = "debug"
	}
	if *logFormat != "" {
		cfg.Log.Format = *logFormat
	}
	logger := setupLogger(cfg.Log)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, err := storage.Open(cfg.Storage.Driver, cfg.Storage.DSN)
	if err != nil {
		slog.Error("failed to open storage", "err", err, "driver", cfg.Storage.Driver)
		os.Exit(1)
	}
	defer store.Close()

	reg := engine.New(store, engine.Config{
		FeeRate:       cfg.FeeRate(),
		DisputeWindow: cfg.DisputeWindow(),
		Forfeit: domain.ForfeitPolicy{
			WinnerShare: cfg.ForfeitWinnerShare(),
			Sink:        cfg.Engine.ForfeitSink,
		},
		Graduation: domain.GraduationCriteria{
			LiquidityThreshold: decimal.NewFromFloat(cfg.Engine.GraduationLiquidity),
			VolumeThreshold:    decimal.NewFromFloat(cfg.Engine.GraduationVolume),
			AgeThreshold:       cfg.GraduationAge(),
		},
	})
	if err := reg.Load(ctx); err != nil {
		slog.Error("failed to load state", "err", err)
		os.Exit(1)
	}

	console := notify.NewConsole(*table)
	if *portfolio != "" {
		printPortfolio(ctx, reg, console, *portfolio)
		return
	}

	if err := run(ctx, cfg, reg, console, *board, logger); err != nil {
		slog.Error("engine exited with error", "err", err)
		os.Exit(1)
	}
	slog.Info("quantmarket stopped cleanly")
}

func run(ctx context.Context, cfg *config.Config, reg *engine.Registry, notifier ports.Notifier, board bool, logger *slog.Logger) error {
	hub := stream.NewHub(logger)
	g, ctx := errgroup.WithContext(ctx)

	// Con Redis el hub se alimenta del canal compartido; sin Redis, del engine.
	if cfg.Redis.Addr != "" {
		rc, err := cache.New(ctx, cache.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			TLSEnabled: cfg.Redis.TLS,
		})
		if err != nil {
			return err
		}
		defer rc.Close()
		bus := cache.NewEventBus(rc, cfg.Redis.Channel)
		reg.AddPublisher(bus)
		g.Go(func() error { return bus.Relay(ctx, hub) })
	} else {
		reg.AddPublisher(hub)
	}

	if cfg.S3.Bucket != "" {
		arch, err := archive.New(ctx, archive.Config{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			Prefix:         cfg.S3.Prefix,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			return err
		}
		reg.SetArchiver(arch)
	}

	srv := httpapi.NewServer(httpapi.Config{
		Addr:        cfg.HTTP.Addr,
		CORSOrigins: cfg.HTTP.CORSOrigins,
		RatePerSec:  cfg.HTTP.RatePerSec,
		Burst:       cfg.HTTP.Burst,
	}, reg, hub, logger)

	sweeper := engine.NewSweeper(reg, notifier, engine.SweeperConfig{
		Interval: cfg.SweepInterval(),
		Workers:  cfg.Engine.SweepWorkers,
		Board:    board,
	})

	slog.Info("quantmarket starting",
		"addr", cfg.HTTP.Addr,
		"storage", cfg.Storage.Driver,
		"markets", len(reg.Markets()),
		"redis", cfg.Redis.Addr != "",
		"archive", cfg.S3.Bucket != "",
	)

	g.Go(func() error { return hub.Run(ctx) })
	g.Go(func() error { return srv.Run(ctx) })
	g.Go(func() error { return sweeper.Run(ctx) })
	return g.Wait()
}

func printPortfolio(ctx context.Context, reg *engine.Registry, console *notify.Console, account string) {
	if err := console.NotifyPortfolio(ctx, reg.Portfolio(account)); err != nil {
		slog.Warn("notifier error", "err", err)
	}
	trades, err := reg.Trades(ctx, ports.TradeFilter{Account: account, Limit: 50})
	if err != nil {
		slog.Error("failed to load trades", "err", err)
		os.Exit(1)
	}
	console.PrintTrades(trades)
}

func setupLogger(cfg config.LogConfig) *slog.Logger {
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
	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

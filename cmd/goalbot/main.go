package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/shopspring/decimal"

	"github.com/Vodeneev/goalbot/internal/notify"
	"github.com/Vodeneev/goalbot/internal/pkg/config"
	"github.com/Vodeneev/goalbot/internal/pkg/feed/browser"
	"github.com/Vodeneev/goalbot/internal/pkg/health"
	"github.com/Vodeneev/goalbot/internal/pkg/logging"
	"github.com/Vodeneev/goalbot/internal/pkg/metrics"
	"github.com/Vodeneev/goalbot/internal/pkg/models"
	"github.com/Vodeneev/goalbot/internal/pkg/storage"
	"github.com/Vodeneev/goalbot/internal/system"
)

const (
	serviceName       = "goalbot"
	defaultConfigPath = "configs/example.yaml"
)

func main() {
	var configPath string
	var paused bool

	defaultConfig := os.Getenv("CONFIG_PATH")
	if defaultConfig == "" {
		defaultConfig = defaultConfigPath
	}

	flag.StringVar(&configPath, "config", defaultConfig, "Path to config file (can be set via CONFIG_PATH env var)")
	flag.BoolVar(&paused, "paused", false, "Serve HTTP without starting the loops; start via POST /control/start")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	_, logCloser, err := logging.Setup(cfg.Logging, serviceName)
	if err != nil {
		log.Fatalf("Failed to setup logging: %v", err)
	}
	defer logCloser.Close()
	slog.Info("Config loaded", "path", configPath, "storage", cfg.Storage.Driver)

	store, err := openStore(cfg)
	if err != nil {
		slog.Error("Failed to open storage", "driver", cfg.Storage.Driver, "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := store.Close(); err != nil {
			slog.Warn("Error closing storage", "error", err)
		}
	}()

	adapter, err := browser.New(cfg.Feed)
	if err != nil {
		slog.Error("Failed to start browser feed", "error", err)
		os.Exit(1)
	}
	defer adapter.Close()

	notifier, closers := buildNotifier(cfg)
	defer func() {
		for _, c := range closers {
			_ = c.Close()
		}
	}()

	recorder := metrics.New()
	sys := system.New(store, adapter, notifier, recorder, system.Options{
		Tracker:  cfg.Tracker,
		Analysis: cfg.Analysis,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		slog.Info("Received shutdown signal, stopping...")
		cancel()
	}()

	err = health.Run(ctx, cfg.Health, serviceName, health.Routes{
		Controller: sys,
		Conflicts:  []error{system.ErrAlreadyRunning, system.ErrStopping, system.ErrBankrollInactive},
		Bankroll:   sys,
		Status: func(ctx context.Context) (any, error) {
			return sys.Status(ctx)
		},
		Metrics: recorder.Handler(),
	})
	if err != nil {
		slog.Error("Failed to start health server", "error", err)
		os.Exit(1)
	}

	if !paused {
		startCtx, startCancel := context.WithTimeout(ctx, 30*time.Second)
		err := sys.Start(startCtx)
		startCancel()
		if err != nil {
			slog.Error("Failed to start system", "error", err)
			os.Exit(1)
		}
	}

	<-ctx.Done()
	sys.Stop()
	slog.Info("Goalbot stopped")
}

func openStore(cfg *config.Config) (storage.Store, error) {
	seed := bankrollSeed(cfg.Bankroll)
	switch cfg.Storage.Driver {
	case "memory":
		slog.Warn("Using in-memory storage, nothing survives a restart")
		return storage.NewMemoryStore(seed), nil
	case "postgres":
		return storage.NewPostgresStore(&cfg.Postgres, seed)
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Storage.Driver)
	}
}

func bankrollSeed(b config.BankrollConfig) models.BankrollConfig {
	seed := models.DefaultBankrollConfig()
	seed.Balance = decimal.NewFromFloat(b.InitialBalance)
	seed.InitialBalance = seed.Balance
	seed.StakePercentage = decimal.NewFromFloat(b.StakePercentage)
	return seed
}

// buildNotifier fans out to every configured channel; with none configured events are dropped.
func buildNotifier(cfg *config.Config) (notify.Notifier, []io.Closer) {
	var (
		targets notify.Multi
		closers []io.Closer
	)

	if cfg.Telegram.BotToken != "" && cfg.Telegram.ChatID != 0 {
		tg, err := notify.NewTelegramNotifier(cfg.Telegram)
		if err != nil {
			slog.Warn("Telegram notifications disabled", "error", err)
		} else {
			targets = append(targets, tg)
			closers = append(closers, closerFunc(func() error { tg.Stop(); return nil }))
			slog.Info("Telegram notifications enabled", "chat_id", cfg.Telegram.ChatID)
		}
	}

	if cfg.Redis.Addr != "" {
		client, err := notify.NewRedisClient(cfg.Redis)
		if err != nil {
			slog.Warn("Redis stream notifications disabled", "addr", cfg.Redis.Addr, "error", err)
		} else {
			stream := notify.NewStreamNotifier(client, cfg.Redis.Stream, cfg.Redis.MaxLen)
			targets = append(targets, stream)
			closers = append(closers, stream)
			slog.Info("Redis stream notifications enabled", "stream", cfg.Redis.Stream)
		}
	}

	if len(targets) == 0 {
		slog.Info("No notification channel configured")
		return notify.Nop{}, nil
	}
	return targets, closers
}

type closerFunc func() error

func (f closerFunc) Close() error { return f() }

package main

import (
	"context"
	"flag"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/Vodeneev/goalbot/internal/controlbot"
	"github.com/Vodeneev/goalbot/internal/pkg/config"
	"github.com/Vodeneev/goalbot/internal/pkg/logging"
)

const (
	defaultGoalbotURL = "http://localhost:8080"
	updateTimeout     = 60
)

func main() {
	var token string
	var goalbotURL string
	var allowedUsers string
	var logLevel string

	flag.StringVar(&token, "token", "", "Telegram bot token (required, or set TELEGRAM_BOT_TOKEN env var)")
	flag.StringVar(&goalbotURL, "goalbot-url", defaultGoalbotURL, "Goalbot HTTP address (or GOALBOT_URL env var)")
	flag.StringVar(&allowedUsers, "allowed-users", "", "Comma-separated list of allowed user IDs (optional)")
	flag.StringVar(&logLevel, "log-level", "info", "debug, info, warn or error")
	flag.Parse()

	if token == "" {
		token = os.Getenv("TELEGRAM_BOT_TOKEN")
	}
	if token == "" {
		log.Fatal("Telegram bot token is required. Set -token flag or TELEGRAM_BOT_TOKEN env var")
	}
	if goalbotURL == defaultGoalbotURL {
		if envURL := os.Getenv("GOALBOT_URL"); envURL != "" {
			goalbotURL = envURL
		}
	}

	_, logCloser, err := logging.Setup(config.LoggingConfig{Level: logLevel}, "control-bot")
	if err != nil {
		log.Fatalf("Failed to setup logging: %v", err)
	}
	defer logCloser.Close()

	var allowed []int64
	for _, idStr := range strings.Split(allowedUsers, ",") {
		if idStr = strings.TrimSpace(idStr); idStr == "" {
			continue
		}
		id, err := strconv.ParseInt(idStr, 10, 64)
		if err != nil {
			slog.Warn("Ignoring invalid user id", "value", idStr)
			continue
		}
		allowed = append(allowed, id)
	}

	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		slog.Error("Failed to create bot", "error", err)
		os.Exit(1)
	}
	slog.Info("Authorized", "account", api.Self.UserName, "goalbot_url", goalbotURL, "allowed_users", len(allowed))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		slog.Info("Received shutdown signal, stopping bot...")
		cancel()
	}()

	bot := controlbot.NewBot(controlbot.NewClient(goalbotURL, 30*time.Second), allowed)
	bot.Run(ctx, api, updateTimeout)
	slog.Info("Control bot stopped")
}

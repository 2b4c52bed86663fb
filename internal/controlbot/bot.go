package controlbot

import (
	"context"
	"fmt"
	"html"
	"log/slog"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/Vodeneev/goalbot/internal/system"
)

const helpText = `<b>Goalbot control</b>

/status - tracking and bankroll summary
/resume - start tracking and analysis
/pause - stop tracking and analysis
/activate - open the bankroll so tracking can be resumed
/deactivate - close the bankroll and stop tracking
/help - this message`

// Service is the subset of Client the bot drives.
type Service interface {
	Status(ctx context.Context) (system.Status, error)
	Start(ctx context.Context) (bool, error)
	Stop(ctx context.Context) (bool, error)
	SetBankrollActive(ctx context.Context, active bool) (bool, error)
}

// Bot answers chat commands by calling the goalbot control surface.
type Bot struct {
	service Service
	// allowed restricts access when non-empty.
	allowed map[int64]bool
}

func NewBot(service Service, allowedUserIDs []int64) *Bot {
	allowed := make(map[int64]bool, len(allowedUserIDs))
	for _, id := range allowedUserIDs {
		allowed[id] = true
	}
	return &Bot{service: service, allowed: allowed}
}

// Reply returns the HTML answer to one message, or "" when nothing should be sent.
func (b *Bot) Reply(ctx context.Context, userID int64, text string) string {
	text = strings.TrimSpace(text)
	if text == "" {
		return ""
	}
	if len(b.allowed) > 0 && !b.allowed[userID] {
		return "Access denied. You are not authorized to use this bot."
	}

	command := strings.ToLower(strings.Fields(text)[0])
	if i := strings.Index(command, "@"); i > 0 {
		command = command[:i]
	}

	switch command {
	case "/start", "/help":
		return helpText
	case "/status":
		status, err := b.service.Status(ctx)
		if err != nil {
			return "❌ Error: " + html.EscapeString(err.Error())
		}
		return FormatStatus(status)
	case "/resume":
		if _, err := b.service.Start(ctx); err != nil {
			return "❌ Error: " + html.EscapeString(err.Error())
		}
		return "▶️ Tracking started"
	case "/pause":
		if _, err := b.service.Stop(ctx); err != nil {
			return "❌ Error: " + html.EscapeString(err.Error())
		}
		return "⏸ Tracking stopped"
	case "/activate", "/deactivate":
		active := command == "/activate"
		if _, err := b.service.SetBankrollActive(ctx, active); err != nil {
			return "❌ Error: " + html.EscapeString(err.Error())
		}
		if active {
			return "💰 Bankroll activated"
		}
		return "🔒 Bankroll deactivated, tracking stopped"
	default:
		return "Unknown command. Use /help to see available commands."
	}
}

// FormatStatus renders a status summary for Telegram (HTML parse mode).
func FormatStatus(s system.Status) string {
	state := "⏸ stopped"
	if s.Running {
		state = "▶️ running"
	}
	if !s.Active {
		state += ", bankroll inactive"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "<b>Goalbot</b> %s\n\n", state)
	fmt.Fprintf(&b, "📡 Sessions: <b>%d</b>\n", s.OpenSessions)
	fmt.Fprintf(&b, "⚽ Live matches: %d | Finished: %d\n", s.LiveMatches, s.FinishedMatches)
	fmt.Fprintf(&b, "🎯 Open predictions: %d\n", s.OpenPredictions)
	fmt.Fprintf(&b, "✅ Won: %d | ❌ Lost: %d | Win rate: %.1f%%\n", s.Won, s.Lost, s.WinRate*100)
	fmt.Fprintf(&b, "💰 Bankroll: <b>%s</b>\n", s.Balance.StringFixed(2))
	fmt.Fprintf(&b, "⚖️ Weights %s, accuracy %.1f%%", html.EscapeString(s.WeightsVer), s.Accuracy*100)
	return b.String()
}

// Run polls Telegram for updates until ctx is done.
func (b *Bot) Run(ctx context.Context, api *tgbotapi.BotAPI, updateTimeout int) {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = updateTimeout
	updates := api.GetUpdatesChan(u)

	for {
		select {
		case <-ctx.Done():
			api.StopReceivingUpdates()
			return
		case update := <-updates:
			if update.Message == nil || update.Message.From == nil {
				continue
			}
			reply := b.Reply(ctx, update.Message.From.ID, update.Message.Text)
			if reply == "" {
				continue
			}
			msg := tgbotapi.NewMessage(update.Message.Chat.ID, reply)
			msg.ParseMode = tgbotapi.ModeHTML
			if _, err := api.Send(msg); err != nil {
				slog.Error("Failed to send reply", "chat_id", update.Message.Chat.ID, "error", err)
			}
		}
	}
}

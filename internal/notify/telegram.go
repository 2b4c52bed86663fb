package notify

import (
	"context"
	"fmt"
	"html"
	"log/slog"
	"strings"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/Vodeneev/goalbot/internal/pkg/config"
)

// sender is the part of the bot API used to deliver messages.
type sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// TelegramNotifier queues events and sends them one at a time, at most one message per
// send interval, so bursts do not hit Telegram's rate limit.
type TelegramNotifier struct {
	bot      sender
	chatID   int64
	interval time.Duration

	mu       sync.Mutex
	lastSend time.Time

	queue     chan Event
	queueDone chan struct{}
	ctx       context.Context
	cancel    context.CancelFunc
	stopOnce  sync.Once
}

// NewTelegramNotifier connects to the bot API and starts the sender goroutine.
func NewTelegramNotifier(cfg config.TelegramConfig) (*TelegramNotifier, error) {
	bot, err := tgbotapi.NewBotAPI(cfg.BotToken)
	if err != nil {
		return nil, fmt.Errorf("failed to create telegram bot: %w", err)
	}
	bot.Debug = false

	if _, err := bot.GetMe(); err != nil {
		return nil, fmt.Errorf("failed to get bot info: %w", err)
	}

	n := newTelegramNotifier(bot, cfg.ChatID, cfg.SendInterval, cfg.QueueSize)
	slog.Info("Telegram notifier initialized", "chat_id", cfg.ChatID)
	return n, nil
}

func newTelegramNotifier(bot sender, chatID int64, interval time.Duration, queueSize int) *TelegramNotifier {
	ctx, cancel := context.WithCancel(context.Background())
	n := &TelegramNotifier{
		bot:       bot,
		chatID:    chatID,
		interval:  interval,
		queue:     make(chan Event, queueSize),
		queueDone: make(chan struct{}),
		ctx:       ctx,
		cancel:    cancel,
	}
	go n.messageSender()
	return n
}

// Notify queues the event without blocking; a full queue drops it.
func (n *TelegramNotifier) Notify(ctx context.Context, e Event) error {
	if n.ctx.Err() != nil {
		return fmt.Errorf("notifier stopped")
	}
	select {
	case <-n.ctx.Done():
		return fmt.Errorf("notifier stopped")
	case <-ctx.Done():
		return ctx.Err()
	case n.queue <- e:
		return nil
	default:
		slog.Warn("Telegram message queue is full, dropping message", "match", e.MatchID, "kind", e.Kind)
		return fmt.Errorf("message queue is full")
	}
}

// Stop sends whatever is still queued and stops the sender.
func (n *TelegramNotifier) Stop() {
	n.stopOnce.Do(n.cancel)
	<-n.queueDone
}

func (n *TelegramNotifier) messageSender() {
	defer close(n.queueDone)
	for {
		select {
		case <-n.ctx.Done():
			for {
				select {
				case e := <-n.queue:
					n.send(e, false)
				default:
					return
				}
			}
		case e := <-n.queue:
			n.send(e, true)
		}
	}
}

// send delivers one message. While draining on stop the interval is not awaited.
func (n *TelegramNotifier) send(e Event, wait bool) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if elapsed := time.Since(n.lastSend); wait && elapsed < n.interval {
		select {
		case <-n.ctx.Done():
		case <-time.After(n.interval - elapsed):
		}
	}

	msg := tgbotapi.NewMessage(n.chatID, FormatEvent(e))
	msg.ParseMode = tgbotapi.ModeHTML
	msg.DisableWebPagePreview = true

	start := time.Now()
	n.lastSend = start
	if _, err := n.bot.Send(msg); err != nil {
		slog.Error("Telegram send: failed", "error", err, "kind", e.Kind, "match", e.MatchID)
		return
	}
	slog.Info("Telegram send: success",
		"kind", e.Kind,
		"match", e.MatchID,
		"send_duration", time.Since(start),
		"delay_since_event_sec", time.Since(e.At).Seconds(),
		"queue_length", len(n.queue))
}

// FormatEvent renders an event as a Telegram HTML message.
func FormatEvent(e Event) string {
	var b strings.Builder
	teams := html.EscapeString(e.HomeTeam + " vs " + e.AwayTeam)
	at := e.At.UTC().Format("02/01/2006 15:04:05 UTC")

	switch e.Kind {
	case KindPredictionCreated:
		b.WriteString("🔮 <b>NEW ENTRY!</b>\n\n")
		fmt.Fprintf(&b, "⚽ <b>%s</b>\n", teams)
		fmt.Fprintf(&b, "🏆 %s\n\n", html.EscapeString(e.League))
		fmt.Fprintf(&b, "🎯 <b>Prediction:</b> %s (%s)\n", e.Type, e.Type.Label())
		fmt.Fprintf(&b, "📊 <b>Confidence:</b> %.1f%%\n", e.Confidence*100)
		fmt.Fprintf(&b, "💰 <b>Stake:</b> %su\n\n", e.Stake.StringFixed(2))
	case KindPredictionSettled:
		emoji, result := "❌", "RED"
		if e.Correct != nil && *e.Correct {
			emoji, result = "✅", "GREEN"
		}
		fmt.Fprintf(&b, "%s <b>RESULT %s</b>\n\n", emoji, result)
		fmt.Fprintf(&b, "⚽ <b>%s</b>\n", teams)
		fmt.Fprintf(&b, "🎯 <b>Prediction:</b> %s\n\n", e.Type)
		if e.Profit != nil {
			sign := ""
			if e.Profit.IsPositive() {
				sign = "+"
			}
			fmt.Fprintf(&b, "💰 <b>Profit/Loss:</b> %s%su\n", sign, e.Profit.StringFixed(2))
		}
		if e.Balance != nil {
			fmt.Fprintf(&b, "🏦 <b>Bankroll:</b> %su\n\n", e.Balance.StringFixed(2))
		}
	default:
		fmt.Fprintf(&b, "<b>%s</b>\n⚽ %s\n\n", html.EscapeString(string(e.Kind)), teams)
	}
	fmt.Fprintf(&b, "⏰ %s", at)
	return b.String()
}

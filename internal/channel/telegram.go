package channel

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

const telegramMaxMsgLen = 4000

// telegramSender is the part of *tgbotapi.BotAPI used for outbound messages.
type telegramSender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Telegram lets recipients subscribe a Telegram chat as their live channel.
type Telegram struct {
	token     string
	allowFrom []int64 // empty = allow all
	parseMode string

	bot      telegramSender
	botName  string
	registry *Registry
	logger   *slog.Logger
}

type TelegramConfig struct {
	Token     string
	AllowFrom []string // Telegram user IDs as strings
	ParseMode string
	Registry  *Registry
	Logger    *slog.Logger
}

func NewTelegram(cfg TelegramConfig) *Telegram {
	var allowed []int64
	for _, s := range cfg.AllowFrom {
		if id, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64); err == nil {
			allowed = append(allowed, id)
		}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Telegram{
		token:     cfg.Token,
		allowFrom: allowed,
		parseMode: cfg.ParseMode,
		registry:  cfg.Registry,
		logger:    cfg.Logger,
	}
}

func (t *Telegram) Name() string { return "telegram" }

// Start connects to Telegram and polls for updates until ctx is cancelled.
func (t *Telegram) Start(ctx context.Context) error {
	bot, err := tgbotapi.NewBotAPI(t.token)
	if err != nil {
		return fmt.Errorf("telegram bot init: %w", err)
	}
	t.bot = bot
	t.botName = bot.Self.UserName
	t.logger.Info("telegram bot connected", "username", bot.Self.UserName, "id", bot.Self.ID)

	u := tgbotapi.NewUpdate(0)
	u.Timeout = 30
	updates := bot.GetUpdatesChan(u)

	for {
		select {
		case <-ctx.Done():
			t.logger.Info("telegram channel stopping")
			bot.StopReceivingUpdates()
			return nil
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			t.handleUpdate(update)
		}
	}
}

func (t *Telegram) handleUpdate(update tgbotapi.Update) {
	if update.Message == nil || update.Message.From == nil || update.Message.Chat == nil {
		return
	}
	userID := update.Message.From.ID
	chatID := update.Message.Chat.ID

	if !t.isAllowed(userID) {
		t.logger.Warn("unauthorized telegram user", "user_id", userID, "username", update.Message.From.UserName)
		t.reply(chatID, "Unauthorized. Your user ID is not in the allow list.")
		return
	}

	if !update.Message.IsCommand() {
		t.reply(chatID, "Send /start to receive task reminders here, /stop to turn them off.")
		return
	}
	t.handleCommand(chatID, update.Message)
}

// handleCommand implements /start [recipient], /stop and /status. The
// recipient defaults to the sender's Telegram user ID.
func (t *Telegram) handleCommand(chatID int64, msg *tgbotapi.Message) {
	recipient := strings.TrimSpace(msg.CommandArguments())
	if recipient == "" {
		recipient = strconv.FormatInt(msg.From.ID, 10)
	}

	switch msg.Command() {
	case "start":
		t.registry.Register(recipient, &telegramConn{t: t, chatID: chatID}, t.Name())
		t.reply(chatID, fmt.Sprintf("Reminders for %s will be delivered to this chat.", recipient))
	case "stop":
		if conn, ok := t.registry.Lookup(recipient); ok {
			if tc, isTG := conn.(*telegramConn); isTG && tc.chatID == chatID {
				t.registry.UnregisterIf(recipient, conn)
			}
		}
		t.reply(chatID, "Reminders stopped for this chat.")
	case "status":
		_, ok := t.registry.Lookup(recipient)
		t.reply(chatID, fmt.Sprintf("Recipient: %s\nSubscribed: %t\nConnected recipients: %d", recipient, ok, t.registry.Count()))
	default:
		t.reply(chatID, "Commands:\n/start [user_id] - receive reminders here\n/stop [user_id] - stop reminders\n/status - show subscription")
	}
}

func (t *Telegram) isAllowed(userID int64) bool {
	if len(t.allowFrom) == 0 {
		return true
	}
	for _, id := range t.allowFrom {
		if id == userID {
			return true
		}
	}
	return false
}

func (t *Telegram) reply(chatID int64, text string) {
	if err := t.sendMessage(chatID, text); err != nil {
		t.logger.Warn("telegram reply failed", "chat_id", chatID, "err", err)
	}
}

// sendMessage splits text at Telegram's length limit. Formatted sends that
// Telegram rejects are retried once as plain text.
func (t *Telegram) sendMessage(chatID int64, text string) error {
	if t.bot == nil {
		return ErrNotConnected
	}
	for len(text) > 0 {
		chunk := text
		if len(chunk) > telegramMaxMsgLen {
			cutAt := strings.LastIndex(chunk[:telegramMaxMsgLen], "\n")
			if cutAt < telegramMaxMsgLen/2 {
				cutAt = telegramMaxMsgLen
			}
			chunk = text[:cutAt]
			text = text[cutAt:]
		} else {
			text = ""
		}

		msg := tgbotapi.NewMessage(chatID, chunk)
		msg.ParseMode = t.parseMode
		_, err := t.bot.Send(msg)
		if err != nil && msg.ParseMode != "" && strings.Contains(err.Error(), "can't parse entities") {
			_, err = t.bot.Send(tgbotapi.NewMessage(chatID, chunk))
		}
		if err != nil {
			return fmt.Errorf("telegram send: %w", err)
		}
	}
	return nil
}

// telegramConn is a registered Telegram chat.
type telegramConn struct {
	t      *Telegram
	chatID int64
}

func (c *telegramConn) Send(ctx context.Context, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return c.t.sendMessage(c.chatID, text)
}

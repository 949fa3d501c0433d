package channel

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"supportbot/internal/domain"
	"supportbot/internal/metrics"
)

const (
	telegramMaxMsgLen         = 4000
	defaultPollTimeoutSeconds = 120
	defaultCycleBudgetSeconds = 300
)

// Telegram ingests updates from the Telegram bot API with a cursor-based
// long-poll loop and delivers replies back to chats.
type Telegram struct {
	token       string
	pollTimeout int // long-poll wait, seconds
	cycleBudget time.Duration

	bot    *tgbotapi.BotAPI
	bus    domain.EventBus
	logger *slog.Logger

	// cursor is the highest update_id consumed so far. It only ever
	// advances, and it advances per batch before per-event processing is
	// guaranteed to finish: a crash mid-batch does not replay events.
	cursor int64
}

type TelegramConfig struct {
	Token              string
	PollTimeoutSeconds int
	CycleBudgetSeconds int
	Logger             *slog.Logger
}

func NewTelegram(cfg TelegramConfig) *Telegram {
	if cfg.PollTimeoutSeconds <= 0 {
		cfg.PollTimeoutSeconds = defaultPollTimeoutSeconds
	}
	if cfg.CycleBudgetSeconds <= 0 {
		cfg.CycleBudgetSeconds = defaultCycleBudgetSeconds
	}
	return &Telegram{
		token:       cfg.Token,
		pollTimeout: cfg.PollTimeoutSeconds,
		cycleBudget: time.Duration(cfg.CycleBudgetSeconds) * time.Second,
		logger:      cfg.Logger,
	}
}

func (t *Telegram) Name() string { return "telegram" }

// Start connects to Telegram and polls for updates until ctx is cancelled.
// Transport failures are logged and the loop retries immediately; the next
// long poll is the natural pacing.
func (t *Telegram) Start(ctx context.Context, bus domain.EventBus) error {
	t.bus = bus

	bot, err := tgbotapi.NewBotAPI(t.token)
	if err != nil {
		return fmt.Errorf("telegram bot init: %w", err)
	}
	t.bot = bot
	t.logger.Info("telegram bot connected",
		"username", bot.Self.UserName,
		"id", bot.Self.ID,
	)

	bus.OnOutbound(domain.PlatformTelegram, func(msg domain.OutboundMessage) {
		t.sendMessage(msg.ChatID, msg.Text, msg.ReplyToMessageID)
	})

	t.logger.Info("telegram polling started", "poll_timeout_s", t.pollTimeout)

	for {
		if ctx.Err() != nil {
			t.logger.Info("telegram channel stopping")
			return nil
		}
		batch, err := t.poll(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			t.logger.Error("telegram poll failed", "error", err)
			continue
		}
		t.ingest(batch)
	}
}

// poll requests all updates with update_id greater than the cursor, bounded
// by the long-poll wait. The whole cycle has a wall-clock budget; exceeding
// it is a recoverable failure and the abandoned call's eventual result is
// discarded.
func (t *Telegram) poll(ctx context.Context) ([]tgbotapi.Update, error) {
	u := tgbotapi.NewUpdate(0)
	if t.cursor > 0 {
		u.Offset = int(t.cursor) + 1
	}
	u.Timeout = t.pollTimeout
	u.AllowedUpdates = []string{"message"}

	type pollResult struct {
		updates []tgbotapi.Update
		err     error
	}
	resCh := make(chan pollResult, 1)
	go func() {
		updates, err := t.bot.GetUpdates(u)
		resCh <- pollResult{updates, err}
	}()

	timer := time.NewTimer(t.cycleBudget)
	defer timer.Stop()

	select {
	case res := <-resCh:
		return res.updates, res.err
	case <-timer.C:
		return nil, fmt.Errorf("poll cycle exceeded %s budget", t.cycleBudget)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// ingest advances the cursor past the whole batch first, then filters and
// publishes each event. Processing is best-effort and is not re-driven by
// cursor replay.
func (t *Telegram) ingest(batch []tgbotapi.Update) {
	for _, u := range batch {
		if int64(u.UpdateID) > t.cursor {
			t.cursor = int64(u.UpdateID)
		}
	}

	for _, u := range batch {
		metrics.UpdatesPolled.Inc()
		msg := u.Message
		if msg == nil || msg.From == nil || msg.Chat == nil {
			metrics.EventsFiltered.Inc()
			continue
		}
		// Pure membership-change notifications never reach the resolver.
		if len(msg.NewChatMembers) > 0 || msg.LeftChatMember != nil {
			metrics.EventsFiltered.Inc()
			continue
		}
		if strings.TrimSpace(msg.Text) == "" {
			metrics.EventsFiltered.Inc()
			continue
		}

		ev := domain.InboundEvent{
			Platform:    domain.PlatformTelegram,
			Seq:         int64(u.UpdateID),
			Text:        msg.Text,
			ChatID:      msg.Chat.ID,
			ChatType:    msg.Chat.Type,
			SenderUname: msg.From.UserName,
			MessageID:   msg.MessageID,
		}
		if msg.ReplyToMessage != nil {
			ev.ReplyToText = msg.ReplyToMessage.Text
		}

		t.logger.Info("telegram message received",
			"update_id", u.UpdateID,
			"chat_id", msg.Chat.ID,
			"text_len", len(msg.Text),
		)
		t.bus.Publish(ev)
	}
}

// Cursor returns the highest update_id consumed so far.
func (t *Telegram) Cursor() int64 { return t.cursor }

// sendMessage delivers a reply, splitting it into chunks under Telegram's
// per-message length limit. Only the first chunk threads onto the inbound
// message. Failures are logged; persisted turns are never rolled back.
func (t *Telegram) sendMessage(chatID int64, text string, replyTo int) {
	first := true
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
		if first && replyTo != 0 {
			msg.ReplyToMessageID = replyTo
		}
		first = false

		if _, err := t.bot.Send(msg); err != nil {
			metrics.SendFailures.Inc()
			t.logger.Error("telegram send failed", "chat_id", chatID, "error", err)
			return
		}
	}
}

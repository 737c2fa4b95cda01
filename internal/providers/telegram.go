package providers

import (
	"context"
	"fmt"
	"time"

	"github.com/go-telegram/bot"
	tgmodels "github.com/go-telegram/bot/models"
	"golang.org/x/time/rate"

	"health-service/internal/logging"
	"health-service/internal/models"
	"health-service/internal/utils"
)

type messageSender interface {
	SendMessage(ctx context.Context, params *bot.SendMessageParams) (*tgmodels.Message, error)
}

// Telegram sends notifications to a chat through the Bot API.
type Telegram struct {
	client  messageSender
	limiter *rate.Limiter
	logger  *logging.Logger
	delay   time.Duration
}

// NewTelegram creates a Telegram provider limited to ratePerSecond messages.
func NewTelegram(token string, ratePerSecond int, logger *logging.Logger) (*Telegram, error) {
	if token == "" {
		return nil, fmt.Errorf("missing telegram bot token")
	}
	b, err := bot.New(token, bot.WithSkipGetMe())
	if err != nil {
		return nil, fmt.Errorf("failed to initialize Telegram bot: %w", err)
	}
	return newTelegram(b, ratePerSecond, logger), nil
}

func newTelegram(client messageSender, ratePerSecond int, logger *logging.Logger) *Telegram {
	if ratePerSecond <= 0 {
		ratePerSecond = 20
	}
	return &Telegram{
		client:  client,
		limiter: rate.NewLimiter(rate.Limit(float64(ratePerSecond)), ratePerSecond),
		logger:  logger,
		delay:   time.Second,
	}
}

// Send delivers n to its chat.
func (t *Telegram) Send(ctx context.Context, n models.Notification) error {
	if n.ChatID == 0 {
		return fmt.Errorf("missing telegram chat id for rule %s", n.RuleID)
	}
	if err := t.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("telegram rate limit exceeded: %w", err)
	}

	text := fmt.Sprintf("*%s*\n%s", bot.EscapeMarkdown(n.Subject), bot.EscapeMarkdown(n.Body))
	return utils.Retry(ctx, t.logger, 3, t.delay, func() error {
		params := &bot.SendMessageParams{
			ChatID:    n.ChatID,
			Text:      text,
			ParseMode: tgmodels.ParseModeMarkdown,
		}
		if _, err := t.client.SendMessage(ctx, params); err != nil {
			return fmt.Errorf("failed to send Telegram message to chat_id %d: %w", n.ChatID, err)
		}
		return nil
	})
}

package alerts

import (
	"context"
	"fmt"
	"time"

	"github.com/go-telegram/bot"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"
)

// Telegram message sends are rate limited to stay under the Bot API's
// per-chat ceiling.
const telegramRatePerSecond = 1

// TelegramChannel sends bot messages to a fixed chat. This is the urgent
// channel.
type TelegramChannel struct {
	bot     *bot.Bot
	chatID  int64
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker
}

// NewTelegramChannel creates the urgent channel from a bot token and the
// destination chat ID.
func NewTelegramChannel(token string, chatID int64) (*TelegramChannel, error) {
	b, err := bot.New(token)
	if err != nil {
		return nil, fmt.Errorf("failed to create telegram bot: %w", err)
	}

	return &TelegramChannel{
		bot:     b,
		chatID:  chatID,
		limiter: rate.NewLimiter(rate.Limit(telegramRatePerSecond), telegramRatePerSecond),
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:    "telegram-bot",
			Timeout: time.Minute,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 3
			},
		}),
	}, nil
}

func (c *TelegramChannel) Name() string {
	return "urgent"
}

func (c *TelegramChannel) Notify(ctx context.Context, text string) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("telegram rate limit wait: %w", err)
	}

	_, err := c.breaker.Execute(func() (interface{}, error) {
		_, err := c.bot.SendMessage(ctx, &bot.SendMessageParams{
			ChatID: c.chatID,
			Text:   text,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to send telegram message: %w", err)
		}
		return nil, nil
	})
	return err
}

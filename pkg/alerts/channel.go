package alerts

import "context"

// Channel is one notification destination. The channel set is closed and
// small: a contextual webhook and an urgent bot message.
type Channel interface {
	// Notify delivers the formatted text. Fire-and-forget: callers consume
	// only success or failure.
	Notify(ctx context.Context, text string) error

	// Name identifies the channel in logs.
	Name() string
}

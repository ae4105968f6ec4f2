package bot

import (
	"context"

	"github.com/suPer8Hu/relay-bot/internal/ai"
)

// Button is an inline button; Data comes back as a Callback event.
type Button struct {
	Text string `json:"text"`
	Data string `json:"data"`
}

// Keyboard rows are rendered top to bottom.
type Keyboard [][]Button

func column(buttons ...Button) Keyboard {
	kb := make(Keyboard, 0, len(buttons))
	for _, b := range buttons {
		kb = append(kb, []Button{b})
	}
	return kb
}

// Messenger is the outbound side of the transport.
type Messenger interface {
	SendText(ctx context.Context, chatID int64, text string, kb Keyboard) (int64, error)
	SendAudio(ctx context.Context, chatID int64, audio ai.Audio, caption string) error
	SendImage(ctx context.Context, chatID int64, url, caption string) error
	EditText(ctx context.Context, chatID, messageID int64, text string, kb Keyboard) error
	Delete(ctx context.Context, chatID, messageID int64) error
}

// Broadcaster queues a message for delivery to every known user.
type Broadcaster interface {
	PublishBroadcast(ctx context.Context, senderID int64, body string) (string, error)
}

// Package bot maps inbound transport events onto the mode machine and the
// request pipeline, and renders the results through a Messenger.
package bot

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/suPer8Hu/relay-bot/internal/ai"
	"github.com/suPer8Hu/relay-bot/internal/catalog"
	"github.com/suPer8Hu/relay-bot/internal/chat"
	"github.com/suPer8Hu/relay-bot/internal/common"
	"github.com/suPer8Hu/relay-bot/internal/config"
	"github.com/suPer8Hu/relay-bot/internal/mode"
	"github.com/suPer8Hu/relay-bot/internal/usage"
)

// Settings are the per-feature knobs taken from configuration.
type Settings struct {
	VoiceChatModel   string
	SearchModel      string
	CaptionModel     string
	ImageModel       string
	AdminImageModel  string
	TTSModel         string
	VoiceEN          string
	VoiceRU          string
	MaxMessageLength int
	IsAdmin          func(userID int64) bool
	Retry            ai.RetryPolicy
}

func SettingsFrom(cfg config.Config) Settings {
	retry := ai.DefaultRetryPolicy()
	retry.Attempts = cfg.ProviderAttempts
	return Settings{
		VoiceChatModel:   cfg.VoiceChatModel,
		SearchModel:      cfg.SearchModel,
		CaptionModel:     cfg.CaptionModel,
		ImageModel:       cfg.ImageModel,
		AdminImageModel:  cfg.AdminImageModel,
		TTSModel:         cfg.TTSModel,
		VoiceEN:          cfg.TTSVoiceEN,
		VoiceRU:          cfg.TTSVoiceRU,
		MaxMessageLength: cfg.MaxMessageLength,
		IsAdmin:          cfg.IsAdmin,
		Retry:            retry,
	}
}

type Deps struct {
	Chat        *chat.Service
	Catalog     *catalog.Service
	Modes       *mode.Machine
	Usage       *usage.Recorder
	Images      ai.ImageProvider
	Speech      ai.SpeechProvider
	Messenger   Messenger
	Broadcaster Broadcaster
	Log         *zap.Logger
}

type Bot struct {
	chat      *chat.Service
	catalog   *catalog.Service
	modes     *mode.Machine
	usage     *usage.Recorder
	images    ai.ImageProvider
	speech    ai.SpeechProvider
	out       Messenger
	broadcast Broadcaster
	set       Settings
	log       *zap.Logger
}

func New(d Deps, s Settings) *Bot {
	if d.Log == nil {
		d.Log = zap.NewNop()
	}
	if s.MaxMessageLength <= 0 {
		s.MaxMessageLength = 4096
	}
	return &Bot{
		chat:      d.Chat,
		catalog:   d.Catalog,
		modes:     d.Modes,
		usage:     d.Usage,
		images:    d.Images,
		speech:    d.Speech,
		out:       d.Messenger,
		broadcast: d.Broadcaster,
		set:       s,
		log:       d.Log,
	}
}

func (b *Bot) isAdmin(userID int64) bool {
	return b.set.IsAdmin != nil && b.set.IsAdmin(userID)
}

// send delivers a message and returns its id, or 0 when delivery failed.
// Delivery failures are logged, never returned.
func (b *Bot) send(ctx context.Context, chatID int64, text string, kb Keyboard) int64 {
	id, err := b.out.SendText(ctx, chatID, text, kb)
	if err != nil {
		b.log.Warn("send text failed", zap.Int64("chat_id", chatID), zap.Error(err))
		return 0
	}
	return id
}

func (b *Bot) drop(ctx context.Context, chatID, messageID int64) {
	if messageID == 0 {
		return
	}
	if err := b.out.Delete(ctx, chatID, messageID); err != nil {
		b.log.Warn("delete message failed",
			zap.Int64("chat_id", chatID), zap.Int64("message_id", messageID), zap.Error(err))
	}
}

// edit rewrites the progress message, falling back to a new message.
func (b *Bot) edit(ctx context.Context, chatID, messageID int64, text string, kb Keyboard) {
	if messageID != 0 {
		err := b.out.EditText(ctx, chatID, messageID, text, kb)
		if err == nil {
			return
		}
		b.log.Warn("edit message failed",
			zap.Int64("chat_id", chatID), zap.Int64("message_id", messageID), zap.Error(err))
	}
	b.send(ctx, chatID, text, kb)
}

// sendLong splits text into transport-sized parts.
func (b *Bot) sendLong(ctx context.Context, chatID int64, text string, kb Keyboard) {
	parts := SplitReply(text, b.set.MaxMessageLength)
	for i, p := range parts {
		var k Keyboard
		if i == len(parts)-1 {
			k = kb
		}
		b.send(ctx, chatID, p, k)
	}
}

// fail reports err to the user on the progress message and logs it.
func (b *Bot) fail(ctx context.Context, key mode.Key, m mode.Mode, progressID int64, err error) {
	fields := []zap.Field{
		zap.Int64("user_id", key.UserID),
		zap.String("mode", m.String()),
		zap.Error(err),
	}
	switch {
	case errors.Is(err, common.ErrInvalidInput), errors.Is(err, ai.ErrContentPolicy):
		b.log.Info("request rejected", fields...)
	default:
		b.log.Error("request failed", fields...)
	}
	b.edit(ctx, key.ChatID, progressID, userMessage(err), nil)
}

func userMessage(err error) string {
	switch {
	case errors.Is(err, ai.ErrContentPolicy):
		return msgPolicy
	case errors.Is(err, common.ErrInvalidInput):
		return "⚠️ I can't use that request. Please send a non-empty message of reasonable length."
	case errors.Is(err, ai.ErrEmptyResult):
		return "⚠️ The model returned an empty answer. Try rephrasing your request."
	case errors.Is(err, ai.ErrProviderRejection):
		return "⚠️ The provider could not process this request. Try rephrasing it or pick another model in ⚙️ Settings."
	case errors.Is(err, ai.ErrProviderNetwork), errors.Is(err, context.DeadlineExceeded):
		return "⚠️ Connection problems. Please try again later."
	case errors.Is(err, common.ErrStoreUnavailable):
		return "⚠️ Something went wrong on our side. Please try again in a moment."
	case errors.Is(err, mode.ErrNotPermitted):
		return "⛔ This action is available to administrators only."
	default:
		return "⚠️ Unexpected error. Please try again later."
	}
}

const msgPolicy = "⚠️ Sorry, I'm not allowed to generate content for this request.\n\n" +
	"Please rephrase it so it doesn't contain forbidden topics.\n\n" +
	"Examples of acceptable requests:\n" +
	"• 'A beautiful sunset on the beach'\n" +
	"• 'A cat in a hat, digital painting'\n" +
	"• 'A futuristic city at night'"

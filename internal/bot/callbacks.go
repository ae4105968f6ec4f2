package bot

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/suPer8Hu/relay-bot/internal/ai"
	"github.com/suPer8Hu/relay-bot/internal/catalog"
	"github.com/suPer8Hu/relay-bot/internal/chat"
	"github.com/suPer8Hu/relay-bot/internal/mode"
	"github.com/suPer8Hu/relay-bot/internal/models"
)

const (
	CbTextModels     = "text_models"
	CbSetModel       = "set_model_"
	CbToggleModel    = "toggle_model_"
	CbBackToSettings = "back_to_settings"
	CbBackToMain     = "back_to_main"
	CbConfirmClear   = "confirm_clear"
	CbDoClear        = "do_clear"
	CbCancelClear    = "cancel_clear"
	CbVoice          = "voice_"
)

// HandleCallback dispatches a button press. Data starting with "/" is a command.
func (b *Bot) HandleCallback(ctx context.Context, ev Callback) {
	key := keyOf(ev.User, ev.ChatID)
	data := strings.TrimSpace(ev.Data)

	switch {
	case strings.HasPrefix(data, "/"):
		b.HandleCommand(ctx, Command{User: ev.User, ChatID: ev.ChatID, Name: data})
	case data == CbTextModels:
		b.textModels(ctx, key, ev.MessageID)
	case strings.HasPrefix(data, CbSetModel):
		b.setModel(ctx, key, ev.MessageID, strings.TrimPrefix(data, CbSetModel))
	case strings.HasPrefix(data, CbToggleModel):
		b.toggleModel(ctx, key, ev.MessageID, strings.TrimPrefix(data, CbToggleModel))
	case data == CbBackToSettings:
		b.settings(ctx, key, ev.MessageID)
	case data == CbBackToMain:
		b.drop(ctx, key.ChatID, ev.MessageID)
		b.send(ctx, key.ChatID, "Main menu", b.mainMenu(key.UserID))
	case data == CbConfirmClear:
		b.edit(ctx, key.ChatID, ev.MessageID, "Are you sure you want to clear the whole history?", Keyboard{{
			{Text: "✅ Yes", Data: CbDoClear},
			{Text: "❌ No", Data: CbCancelClear},
		}})
	case data == CbDoClear:
		b.clearHistory(ctx, key, ev.MessageID)
	case data == CbCancelClear:
		b.edit(ctx, key.ChatID, ev.MessageID, "❌ Clearing cancelled. You can continue the conversation.", nil)
	case strings.HasPrefix(data, CbVoice):
		b.voiceFragment(ctx, key, strings.TrimPrefix(data, CbVoice))
	default:
		b.log.Warn("unknown callback", zap.Int64("user_id", key.UserID), zap.String("data", data))
	}
}

func (b *Bot) textModels(ctx context.Context, key mode.Key, messageID int64) {
	active, err := b.catalog.GetActiveModels(ctx)
	if err != nil {
		b.fail(ctx, key, mode.Idle, messageID, err)
		return
	}
	current, err := b.catalog.GetUserModel(ctx, key.UserID)
	if err != nil {
		b.fail(ctx, key, mode.Idle, messageID, err)
		return
	}
	kb := make(Keyboard, 0, len(active)+1)
	for _, m := range active {
		text := m.Name
		if m.Name == current {
			text = "✅ " + m.Name
		}
		kb = append(kb, []Button{{Text: text, Data: fmt.Sprintf("%s%d", CbSetModel, m.ID)}})
	}
	kb = append(kb, []Button{{Text: "🔙 Back", Data: CbBackToSettings}})
	b.edit(ctx, key.ChatID, messageID, "Choose the model for text answers:", kb)
}

func (b *Bot) setModel(ctx context.Context, key mode.Key, messageID int64, rawID string) {
	id, err := strconv.ParseUint(rawID, 10, 64)
	if err != nil {
		b.log.Warn("bad model id in callback", zap.String("id", rawID))
		return
	}
	m, err := b.catalog.SetUserModel(ctx, key.UserID, id)
	switch {
	case errors.Is(err, catalog.ErrUnknownModel):
		b.edit(ctx, key.ChatID, messageID, "⚠️ This model no longer exists.", column(Button{Text: "🔙 Back", Data: CbBackToSettings}))
		return
	case err != nil:
		b.fail(ctx, key, mode.Idle, messageID, err)
		return
	}
	b.log.Info("model selected", zap.Int64("user_id", key.UserID), zap.String("model", m.Name))
	text := fmt.Sprintf("✅ Model changed to %s", m.Name)
	if !m.IsActive {
		text = fmt.Sprintf("⚠️ %s is disabled right now; %s will answer until it is back.", m.Name, b.catalog.DefaultModel())
	}
	b.edit(ctx, key.ChatID, messageID, text, column(Button{Text: "🔙 Back", Data: CbBackToSettings}))
}

func (b *Bot) clearHistory(ctx context.Context, key mode.Key, messageID int64) {
	ids, err := b.modes.TakeHistory(ctx, key)
	if err != nil {
		b.log.Warn("take history view failed", zap.Int64("user_id", key.UserID), zap.Error(err))
	}
	if _, err := b.chat.ClearHistory(ctx, key); err != nil {
		b.fail(ctx, key, mode.Idle, messageID, err)
		return
	}
	seen := false
	for _, id := range ids {
		seen = seen || id == messageID
		b.drop(ctx, key.ChatID, id)
	}
	if !seen {
		b.drop(ctx, key.ChatID, messageID)
	}
	b.send(ctx, key.ChatID, "🗑 History cleared!", b.mainMenu(key.UserID))
}

// voiceFragment reads a cached chat reply aloud.
func (b *Bot) voiceFragment(ctx context.Context, key mode.Key, fragKey string) {
	text, ok, err := b.modes.Fragment(ctx, key, fragKey)
	if err != nil {
		b.fail(ctx, key, mode.Idle, 0, err)
		return
	}
	if !ok {
		b.send(ctx, key.ChatID, "This reply is no longer available for voice conversion.", nil)
		return
	}
	t, err := b.chat.Begin(ctx, key, mode.Idle)
	if err != nil {
		b.settle(ctx, key, mode.Idle, 0, err)
		return
	}
	b.speak(ctx, t, text, 0)
}

// speak synthesizes text, records it as audio usage and delivers it.
func (b *Bot) speak(ctx context.Context, t chat.Ticket, text string, progress int64) bool {
	voice := ai.VoiceFor(text, b.set.VoiceEN, b.set.VoiceRU)
	audio, err := chat.Call(ctx, b.chat, b.set.Retry, t, func(ctx context.Context) (ai.Audio, error) {
		return b.speech.Synthesize(ctx, text, b.set.TTSModel, voice)
	})
	if err == nil {
		err = b.chat.Commit(ctx, t, chat.Record{Action: models.ActionAudio, Model: b.set.TTSModel})
	}
	if err != nil {
		b.settle(ctx, t.Key, t.Mode, progress, err)
		return false
	}
	b.drop(ctx, t.Key.ChatID, progress)
	if err := b.out.SendAudio(ctx, t.Key.ChatID, audio, ""); err != nil {
		b.log.Warn("send audio failed", zap.Int64("user_id", t.Key.UserID), zap.Error(err))
	}
	return true
}

func (b *Bot) manageModels(ctx context.Context, key mode.Key, messageID int64) {
	if !b.isAdmin(key.UserID) {
		b.send(ctx, key.ChatID, userMessage(mode.ErrNotPermitted), nil)
		return
	}
	all, err := b.catalog.ListModels(ctx)
	if err != nil {
		b.fail(ctx, key, mode.Idle, messageID, err)
		return
	}
	kb := make(Keyboard, 0, len(all)+1)
	for _, m := range all {
		status := "❌ Inactive"
		if m.IsActive {
			status = "✅ Active"
		}
		kb = append(kb, []Button{{
			Text: fmt.Sprintf("%s (%s) - %s", m.Name, m.Provider, status),
			Data: fmt.Sprintf("%s%d", CbToggleModel, m.ID),
		}})
	}
	kb = append(kb, []Button{{Text: "🔙 Back", Data: CbBackToMain}})
	text := "🛠 Model management\n\nTap a model to switch it on or off."
	if messageID == 0 {
		b.send(ctx, key.ChatID, text, kb)
		return
	}
	b.edit(ctx, key.ChatID, messageID, text, kb)
}

func (b *Bot) toggleModel(ctx context.Context, key mode.Key, messageID int64, rawID string) {
	if !b.isAdmin(key.UserID) {
		b.send(ctx, key.ChatID, userMessage(mode.ErrNotPermitted), nil)
		return
	}
	id, err := strconv.ParseUint(rawID, 10, 64)
	if err != nil {
		b.log.Warn("bad model id in callback", zap.String("id", rawID))
		return
	}
	if _, err := b.catalog.ToggleModelActive(ctx, id); err != nil {
		if errors.Is(err, catalog.ErrUnknownModel) {
			b.send(ctx, key.ChatID, "⚠️ This model no longer exists.", nil)
			return
		}
		b.fail(ctx, key, mode.Idle, 0, err)
		return
	}
	b.manageModels(ctx, key, messageID)
}

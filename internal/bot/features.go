package bot

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/suPer8Hu/relay-bot/internal/ai"
	"github.com/suPer8Hu/relay-bot/internal/chat"
	"github.com/suPer8Hu/relay-bot/internal/common"
	"github.com/suPer8Hu/relay-bot/internal/mode"
	"github.com/suPer8Hu/relay-bot/internal/models"
)

var forbiddenKeywords = []string{"обнажённая", "nude", "naked", "adult"}

// HandleText routes a text message by the user's current mode.
func (b *Bot) HandleText(ctx context.Context, ev Text) {
	key := keyOf(ev.User, ev.ChatID)
	text := strings.TrimSpace(ev.Text)
	if strings.HasPrefix(text, "/") {
		b.HandleCommand(ctx, Command{User: ev.User, ChatID: ev.ChatID, Name: text})
		return
	}

	st, err := b.modes.Current(ctx, key)
	if err != nil {
		b.fail(ctx, key, mode.Idle, 0, err)
		return
	}

	switch st.Mode {
	case mode.Idle:
		b.converse(ctx, key, ev.User.Name, text)
	case mode.AwaitingChatVoiceReply:
		b.voiceReply(ctx, key, ev.User.Name, text)
	case mode.AwaitingSearchQuery:
		b.search(ctx, key, ev.User.Name, text)
	case mode.AwaitingImagePrompt:
		b.generateImage(ctx, key, text, mode.AwaitingImagePrompt, b.set.ImageModel)
	case mode.AwaitingAdminImagePrompt:
		b.generateImage(ctx, key, text, mode.AwaitingAdminImagePrompt, b.set.AdminImageModel)
	case mode.AwaitingImageCaptionTarget:
		b.caption(ctx, key, ev.User.Name, text, st.Caption)
	case mode.AwaitingTextToVoice:
		b.textToVoice(ctx, key, text)
	case mode.AwaitingImageVariationUpload:
		b.send(ctx, key.ChatID, "🖌 Please send a photo to create a variation, or /cancel.", nil)
	case mode.AwaitingBroadcastBody:
		b.broadcastBody(ctx, key, text)
	}
}

// HandlePhoto either feeds a variation request or parks the photo until the
// user says what to do with it.
func (b *Bot) HandlePhoto(ctx context.Context, ev Photo) {
	key := keyOf(ev.User, ev.ChatID)
	st, err := b.modes.Current(ctx, key)
	if err != nil {
		b.fail(ctx, key, mode.Idle, 0, err)
		return
	}
	if st.Mode.AcceptsPhoto() {
		b.vary(ctx, key, st.Mode, ev.URL)
		return
	}

	st, err = b.modes.AttachPhoto(ctx, key, ev.URL)
	if errors.Is(err, mode.ErrBusy) {
		b.send(ctx, key.ChatID, "⏳ I'm still working on your previous photo.", nil)
		return
	}
	if err != nil {
		b.fail(ctx, key, mode.AwaitingImageCaptionTarget, 0, err)
		return
	}
	if c := strings.TrimSpace(ev.Caption); c != "" {
		b.caption(ctx, key, ev.User.Name, c, st.Caption)
		return
	}
	b.send(ctx, key.ChatID, "📷 You sent a photo. What should I do with it?\n"+
		"For example: 'Describe what is in the photo', 'Analyze the image', 'Write a fantasy-style description'.",
		column(Button{Text: "👉 Exit", Data: "/" + CmdCancel}))
}

func (b *Bot) finish(ctx context.Context, key mode.Key, m mode.Mode) {
	if _, err := b.modes.Finish(ctx, key, m); err != nil {
		b.log.Warn("finish mode failed", zap.Int64("user_id", key.UserID), zap.String("mode", m.String()), zap.Error(err))
	}
}

// settle reports a failed request. Stale results are dropped silently and
// invalid input leaves the mode open for another try; anything else ends it.
func (b *Bot) settle(ctx context.Context, key mode.Key, m mode.Mode, progress int64, err error) {
	switch {
	case errors.Is(err, chat.ErrStale):
		b.log.Debug("stale request dropped", zap.Int64("user_id", key.UserID), zap.String("mode", m.String()))
		b.drop(ctx, key.ChatID, progress)
	case errors.Is(err, common.ErrInvalidInput):
		b.fail(ctx, key, m, progress, err)
	default:
		b.fail(ctx, key, m, progress, err)
		b.finish(ctx, key, m)
	}
}

func (b *Bot) converse(ctx context.Context, key mode.Key, name, text string) {
	progress := b.send(ctx, key.ChatID, "💬 Processing your request...", nil)
	res, err := b.chat.Ask(ctx, chat.AskRequest{
		Key:     key,
		Name:    name,
		Input:   text,
		Mode:    mode.Idle,
		Action:  models.ActionChat,
		Options: ai.DefaultChatOptions(),
	})
	if err != nil {
		b.settle(ctx, key, mode.Idle, progress, err)
		return
	}
	b.drop(ctx, key.ChatID, progress)

	var kb Keyboard
	if fragKey, err := common.NewULID(); err == nil {
		if err := b.modes.Remember(ctx, key, fragKey, res.Reply); err != nil {
			b.log.Warn("cache reply fragment failed", zap.Int64("user_id", key.UserID), zap.Error(err))
		} else {
			kb = column(Button{Text: "🔊 Listen", Data: CbVoice + fragKey})
		}
	}
	b.sendLong(ctx, key.ChatID, res.Reply, kb)
}

func (b *Bot) voiceReply(ctx context.Context, key mode.Key, name, text string) {
	m := mode.AwaitingChatVoiceReply
	progress := b.send(ctx, key.ChatID, "🎙 Generating a voice reply...", nil)
	d, err := b.chat.Generate(ctx, chat.AskRequest{
		Key:     key,
		Name:    name,
		Input:   text,
		Mode:    m,
		Action:  models.ActionChat,
		Model:   b.set.VoiceChatModel,
		Options: ai.DefaultChatOptions(),
	})
	if err != nil {
		b.settle(ctx, key, m, progress, err)
		return
	}

	voice := ai.VoiceFor(d.Reply, b.set.VoiceEN, b.set.VoiceRU)
	audio, speechErr := chat.Call(ctx, b.chat, b.set.Retry, d.Ticket, func(ctx context.Context) (ai.Audio, error) {
		return b.speech.Synthesize(ctx, d.Reply, b.set.TTSModel, voice)
	})
	if errors.Is(speechErr, chat.ErrStale) {
		b.settle(ctx, key, m, progress, speechErr)
		return
	}
	// a text fallback is recorded as a chat turn
	rec := chat.Record{Action: models.ActionAudio, Model: d.Model, Turn: d.Turn()}
	if speechErr != nil {
		rec.Action = models.ActionChat
	}
	if err := b.chat.Commit(ctx, d.Ticket, rec); err != nil {
		b.settle(ctx, key, m, progress, err)
		return
	}
	defer b.finish(ctx, key, m)

	if speechErr == nil {
		speechErr = b.out.SendAudio(ctx, key.ChatID, audio, "")
	}
	b.drop(ctx, key.ChatID, progress)
	if speechErr != nil {
		b.log.Warn("voice reply degraded to text", zap.Int64("user_id", key.UserID), zap.Error(speechErr))
		b.sendLong(ctx, key.ChatID, d.Reply, nil)
	}
}

func (b *Bot) search(ctx context.Context, key mode.Key, name, text string) {
	m := mode.AwaitingSearchQuery
	progress := b.send(ctx, key.ChatID, "🔍 Searching...\nThis takes a moment ⌛", nil)
	opts := ai.DefaultChatOptions()
	opts.WebSearch = true
	res, err := b.chat.Ask(ctx, chat.AskRequest{
		Key:     key,
		Name:    name,
		Input:   text,
		Mode:    m,
		Action:  models.ActionSearch,
		Model:   b.set.SearchModel,
		Options: opts,
	})
	if err != nil {
		b.settle(ctx, key, m, progress, err)
		return
	}
	b.drop(ctx, key.ChatID, progress)
	b.sendLong(ctx, key.ChatID, "🔍 Search results:\n\n"+res.Reply, nil)
	b.finish(ctx, key, m)
}

func (b *Bot) caption(ctx context.Context, key mode.Key, name, text string, target *mode.CaptionTarget) {
	m := mode.AwaitingImageCaptionTarget
	if target == nil || target.PhotoRef == "" {
		b.send(ctx, key.ChatID, "⚠️ The image was not found. Please upload the photo again.", nil)
		b.finish(ctx, key, m)
		return
	}
	progress := b.send(ctx, key.ChatID, "📷 Processing the image...\nThis takes a moment ⌛", nil)
	res, err := b.chat.Ask(ctx, chat.AskRequest{
		Key:     key,
		Name:    name,
		Input:   text,
		Mode:    m,
		Action:  models.ActionChat,
		Model:   b.set.CaptionModel,
		Options: ai.DefaultChatOptions(),
		Images:  []string{target.PhotoRef},
	})
	if err != nil {
		b.settle(ctx, key, m, progress, err)
		return
	}
	b.drop(ctx, key.ChatID, progress)
	b.sendLong(ctx, key.ChatID, res.Reply, b.mainMenu(key.UserID))
	b.finish(ctx, key, m)
}

func checkImagePrompt(prompt string) error {
	if prompt == "" {
		return common.InvalidInput("empty image description")
	}
	lower := strings.ToLower(prompt)
	for _, kw := range forbiddenKeywords {
		if strings.Contains(lower, kw) {
			return fmt.Errorf("%w: %w", common.ErrInvalidInput, ai.ErrContentPolicy)
		}
	}
	return nil
}

func (b *Bot) generateImage(ctx context.Context, key mode.Key, prompt string, m mode.Mode, model string) {
	if m.Privileged() && !b.isAdmin(key.UserID) {
		b.settle(ctx, key, m, 0, mode.ErrNotPermitted)
		return
	}
	if err := checkImagePrompt(prompt); err != nil {
		b.settle(ctx, key, m, 0, err)
		return
	}
	t, err := b.chat.Begin(ctx, key, m)
	if err != nil {
		b.settle(ctx, key, m, 0, err)
		return
	}

	progress := b.send(ctx, key.ChatID, "🎨 Generating the image...\nThis takes a moment ⌛", nil)
	url, err := chat.Call(ctx, b.chat, b.set.Retry, t, func(ctx context.Context) (string, error) {
		return b.images.GenerateImage(ctx, prompt, model)
	})
	if err == nil {
		err = b.chat.Commit(ctx, t, chat.Record{
			Action: models.ActionImage,
			Model:  model,
			Turn:   &models.Turn{Input: prompt, Output: url},
		})
	}
	if err != nil {
		b.settle(ctx, key, m, progress, err)
		return
	}
	b.drop(ctx, key.ChatID, progress)
	b.deliverImage(ctx, key, url, "🎨 Here is your image")
	b.finish(ctx, key, m)
}

func (b *Bot) vary(ctx context.Context, key mode.Key, m mode.Mode, photoURL string) {
	t, err := b.chat.Begin(ctx, key, m)
	if err != nil {
		b.settle(ctx, key, m, 0, err)
		return
	}
	progress := b.send(ctx, key.ChatID, "🖌 Creating a variation...\nThis takes a moment ⌛", nil)
	url, err := chat.Call(ctx, b.chat, b.set.Retry, t, func(ctx context.Context) (string, error) {
		return b.images.VaryImage(ctx, photoURL, b.set.ImageModel)
	})
	if err == nil {
		err = b.chat.Commit(ctx, t, chat.Record{Action: models.ActionImage, Model: b.set.ImageModel})
	}
	if err != nil {
		b.settle(ctx, key, m, progress, err)
		return
	}
	b.drop(ctx, key.ChatID, progress)
	b.deliverImage(ctx, key, url, "🖌 Here is your variation")
	b.finish(ctx, key, m)
}

func (b *Bot) deliverImage(ctx context.Context, key mode.Key, url, caption string) {
	if err := b.out.SendImage(ctx, key.ChatID, url, caption); err != nil {
		b.log.Warn("send image failed, sending link", zap.Int64("user_id", key.UserID), zap.Error(err))
		b.send(ctx, key.ChatID, caption+": "+url, nil)
	}
}

func (b *Bot) textToVoice(ctx context.Context, key mode.Key, text string) {
	m := mode.AwaitingTextToVoice
	if text == "" {
		b.settle(ctx, key, m, 0, common.InvalidInput("empty text"))
		return
	}
	t, err := b.chat.Begin(ctx, key, m)
	if err != nil {
		b.settle(ctx, key, m, 0, err)
		return
	}
	progress := b.send(ctx, key.ChatID, "🔊 Converting text to voice...", nil)
	if b.speak(ctx, t, text, progress) {
		b.finish(ctx, key, m)
	}
}

func (b *Bot) broadcastBody(ctx context.Context, key mode.Key, text string) {
	m := mode.AwaitingBroadcastBody
	if !b.isAdmin(key.UserID) {
		b.settle(ctx, key, m, 0, mode.ErrNotPermitted)
		return
	}
	if text == "" {
		b.settle(ctx, key, m, 0, common.InvalidInput("empty broadcast"))
		return
	}
	defer b.finish(ctx, key, m)
	if b.broadcast == nil {
		b.send(ctx, key.ChatID, "⚠️ Broadcasting is not configured.", b.mainMenu(key.UserID))
		return
	}
	jobID, err := b.broadcast.PublishBroadcast(ctx, key.UserID, text)
	if err != nil {
		b.log.Error("publish broadcast failed", zap.Int64("user_id", key.UserID), zap.Error(err))
		b.send(ctx, key.ChatID, "⚠️ Could not queue the broadcast. Please try again later.", b.mainMenu(key.UserID))
		return
	}
	b.log.Info("broadcast queued", zap.Int64("user_id", key.UserID), zap.String("job_id", jobID))
	b.send(ctx, key.ChatID, fmt.Sprintf("📢 Broadcast queued (job %s).", jobID), b.mainMenu(key.UserID))
}

func (b *Bot) stats(ctx context.Context, key mode.Key) {
	if !b.isAdmin(key.UserID) {
		b.send(ctx, key.ChatID, userMessage(mode.ErrNotPermitted), nil)
		return
	}
	day := b.usage.Today()
	rows, err := b.usage.Daily(ctx, day)
	if err != nil {
		b.fail(ctx, key, mode.Idle, 0, err)
		return
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "📊 Usage for %s\n", day)
	if len(rows) == 0 {
		sb.WriteString("\nNo requests yet today.")
	}
	for _, r := range rows {
		fmt.Fprintf(&sb, "\n%s · %s: %d requests, %d users", r.ActionType, r.ModelName, r.Total, r.Users)
	}
	b.send(ctx, key.ChatID, sb.String(), nil)
}

func (b *Bot) activity(ctx context.Context, key mode.Key) {
	if !b.isAdmin(key.UserID) {
		b.send(ctx, key.ChatID, userMessage(mode.ErrNotPermitted), nil)
		return
	}
	top, err := b.usage.TopUsers(ctx, 10)
	if err != nil {
		b.fail(ctx, key, mode.Idle, 0, err)
		return
	}
	var sb strings.Builder
	sb.WriteString("👥 Most active users\n")
	if len(top) == 0 {
		sb.WriteString("\nNo users yet.")
	}
	for i, u := range top {
		name := u.Name
		if name == "" {
			name = fmt.Sprintf("id %d", u.UserID)
		}
		fmt.Fprintf(&sb, "\n%d. %s: %d total (💬 %d, 🖼 %d, 🔊 %d)",
			i+1, name, u.Total, u.ChatRequests, u.ImageRequests, u.AudioRequests)
	}
	b.send(ctx, key.ChatID, sb.String(), nil)
}

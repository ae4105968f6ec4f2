package bot

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/suPer8Hu/relay-bot/internal/mode"
	"github.com/suPer8Hu/relay-bot/internal/models"
)

const (
	CmdStart          = "start"
	CmdNewChat        = "new_chat"
	CmdVoiceReply     = "voice_reply"
	CmdWebSearch      = "web_search"
	CmdImage          = "image"
	CmdTextToVoice    = "text_to_voice"
	CmdImageVariation = "image_variation"
	CmdHelp           = "help"
	CmdProfile        = "profile"
	CmdHistory        = "history"
	CmdSettings       = "settings"
	CmdCancel         = "cancel"

	CmdStats        = "stats"
	CmdManageModels = "manage_models"
	CmdBroadcast    = "broadcast"
	CmdActivity     = "activity"
	CmdAdminImage   = "admin_image"
)

// entry maps the commands that open an input mode.
var entry = map[string]struct {
	mode   mode.Mode
	prompt string
}{
	CmdVoiceReply:     {mode.AwaitingChatVoiceReply, "🎙 Send your question and I'll answer with a voice message.\n\nSend /cancel when you're done."},
	CmdWebSearch:      {mode.AwaitingSearchQuery, "🔍 Enter a query to search the web:"},
	CmdImage:          {mode.AwaitingImagePrompt, "🎨 Describe the image you want.\nThe more detailed the description, the better the result."},
	CmdTextToVoice:    {mode.AwaitingTextToVoice, "🔊 Send the text you want to hear as a voice message."},
	CmdImageVariation: {mode.AwaitingImageVariationUpload, "🖌 Send a photo and I'll create a variation of it."},
	CmdBroadcast:      {mode.AwaitingBroadcastBody, "📢 Send the message to broadcast to all users."},
	CmdAdminImage:     {mode.AwaitingAdminImagePrompt, "🖼️ Send the prompt for the image."},
}

func (b *Bot) mainMenu(userID int64) Keyboard {
	kb := Keyboard{
		{{Text: "🔄 New chat", Data: "/" + CmdNewChat}, {Text: "🎙 Voice reply", Data: "/" + CmdVoiceReply}},
		{{Text: "🌐 Web search", Data: "/" + CmdWebSearch}, {Text: "🎨 Generate image", Data: "/" + CmdImage}},
		{{Text: "🔊 Text to voice", Data: "/" + CmdTextToVoice}, {Text: "🖌 Image variation", Data: "/" + CmdImageVariation}},
		{{Text: "📖 Help", Data: "/" + CmdHelp}, {Text: "👤 Profile", Data: "/" + CmdProfile}},
		{{Text: "🕓 History", Data: "/" + CmdHistory}, {Text: "⚙️ Settings", Data: "/" + CmdSettings}},
	}
	if b.isAdmin(userID) {
		kb = append(kb,
			[]Button{{Text: "📊 Stats", Data: "/" + CmdStats}, {Text: "🛠 Manage models", Data: "/" + CmdManageModels}},
			[]Button{{Text: "📢 Broadcast", Data: "/" + CmdBroadcast}, {Text: "👥 Activity", Data: "/" + CmdActivity}},
			[]Button{{Text: "🖼️ Generate (admin)", Data: "/" + CmdAdminImage}},
		)
	}
	return kb
}

// HandleCommand runs a menu command. Names may carry a leading slash.
func (b *Bot) HandleCommand(ctx context.Context, ev Command) {
	key := keyOf(ev.User, ev.ChatID)
	name := strings.ToLower(strings.TrimPrefix(strings.TrimSpace(ev.Name), "/"))
	if i := strings.IndexByte(name, ' '); i >= 0 {
		name = name[:i]
	}

	if e, ok := entry[name]; ok {
		b.enter(ctx, key, e.mode, e.prompt)
		return
	}

	switch name {
	case CmdStart:
		b.start(ctx, key, ev.User.Name)
	case CmdNewChat:
		b.newChat(ctx, key)
	case CmdHelp:
		b.send(ctx, key.ChatID, helpText, nil)
	case CmdProfile:
		b.profile(ctx, key, ev.User.Name)
	case CmdHistory:
		b.history(ctx, key)
	case CmdSettings:
		b.settings(ctx, key, 0)
	case CmdCancel:
		b.HandleCancel(ctx, Cancel{User: ev.User, ChatID: ev.ChatID})
	case CmdStats:
		b.stats(ctx, key)
	case CmdManageModels:
		b.manageModels(ctx, key, 0)
	case CmdActivity:
		b.activity(ctx, key)
	default:
		b.send(ctx, key.ChatID, "Unknown command. Send /help to see what I can do.", nil)
	}
}

// HandleCancel returns the user to Idle from any mode. The session is kept.
func (b *Bot) HandleCancel(ctx context.Context, ev Cancel) {
	key := keyOf(ev.User, ev.ChatID)
	prev, _, err := b.modes.Cancel(ctx, key)
	if err != nil {
		b.fail(ctx, key, prev, 0, err)
		return
	}
	text := "You are back in the main menu."
	if prev == mode.Idle {
		text = "You are already in the main menu."
	}
	b.send(ctx, key.ChatID, text, b.mainMenu(key.UserID))
}

func (b *Bot) enter(ctx context.Context, key mode.Key, m mode.Mode, prompt string) {
	if _, err := b.modes.Enter(ctx, key, m, b.isAdmin(key.UserID)); err != nil {
		if !errors.Is(err, mode.ErrNotPermitted) {
			b.log.Error("enter mode failed", zap.Int64("user_id", key.UserID), zap.String("mode", m.String()), zap.Error(err))
		}
		b.send(ctx, key.ChatID, userMessage(err), nil)
		return
	}
	b.send(ctx, key.ChatID, prompt, column(Button{Text: "👉 Exit", Data: "/" + CmdCancel}))
}

func (b *Bot) start(ctx context.Context, key mode.Key, name string) {
	if _, err := b.chat.Profile(ctx, key.UserID, name); err != nil {
		b.fail(ctx, key, mode.Idle, 0, err)
		return
	}
	if _, err := b.chat.Sessions().Resume(ctx, key); err != nil {
		b.fail(ctx, key, mode.Idle, 0, err)
		return
	}
	if name == "" {
		name = "there"
	}
	b.send(ctx, key.ChatID, fmt.Sprintf(startText, name), b.mainMenu(key.UserID))
}

func (b *Bot) newChat(ctx context.Context, key mode.Key) {
	if _, err := b.chat.Sessions().StartNew(ctx, key); err != nil {
		b.fail(ctx, key, mode.Idle, 0, err)
		return
	}
	b.send(ctx, key.ChatID, "🔄 New chat started.\nThe previous conversation context is cleared.\n\nAsk a new question.", b.mainMenu(key.UserID))
}

func (b *Bot) profile(ctx context.Context, key mode.Key, name string) {
	if _, _, err := b.modes.Cancel(ctx, key); err != nil {
		b.fail(ctx, key, mode.Idle, 0, err)
		return
	}
	p, err := b.chat.Profile(ctx, key.UserID, name)
	if err != nil {
		b.fail(ctx, key, mode.Idle, 0, err)
		return
	}
	current, err := b.catalog.GetUserModel(ctx, key.UserID)
	if err != nil {
		b.fail(ctx, key, mode.Idle, 0, err)
		return
	}
	b.send(ctx, key.ChatID, formatProfile(p, current), b.mainMenu(key.UserID))
}

func formatProfile(p *models.Profile, current string) string {
	return fmt.Sprintf("👤 Profile\n\nName: %s\nID: %d\n🧠 Chat requests: %d\n🖼 Images: %d\n🔊 Audio: %d\n\nCurrent model: %s\nWith the bot since: %s",
		p.Name, p.UserID, p.ChatRequests, p.ImageRequests, p.AudioRequests, current,
		p.CreatedAt.UTC().Format("2006-01-02 15:04:05"))
}

const historyLimit = 5

func (b *Bot) history(ctx context.Context, key mode.Key) {
	turns, err := b.chat.RecentTurns(ctx, key.UserID, historyLimit)
	if err != nil {
		b.fail(ctx, key, mode.Idle, 0, err)
		return
	}
	// drop ids tracked by a previous view
	if _, err := b.modes.TakeHistory(ctx, key); err != nil {
		b.log.Warn("reset history view failed", zap.Int64("user_id", key.UserID), zap.Error(err))
	}
	if len(turns) == 0 {
		b.track(ctx, key, b.send(ctx, key.ChatID, "Your message history is empty.", b.mainMenu(key.UserID)))
		return
	}
	for i := len(turns) - 1; i >= 0; i-- {
		t := turns[i]
		text := fmt.Sprintf("📅 %s\n👤 You: %s\n🤖 Bot: %s",
			t.CreatedAt.UTC().Format("2006-01-02 15:04"), truncate(t.Input, 500), truncate(t.Output, 500))
		b.track(ctx, key, b.send(ctx, key.ChatID, text, nil))
	}
	b.track(ctx, key, b.send(ctx, key.ChatID, "You can clear the history:",
		column(Button{Text: "🗑 Clear history", Data: CbConfirmClear})))
}

func (b *Bot) track(ctx context.Context, key mode.Key, messageID int64) {
	if messageID == 0 {
		return
	}
	if err := b.modes.TrackHistory(ctx, key, messageID); err != nil {
		b.log.Warn("track history message failed", zap.Int64("user_id", key.UserID), zap.Error(err))
	}
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}

// settings shows the current model; messageID edits an existing message.
func (b *Bot) settings(ctx context.Context, key mode.Key, messageID int64) {
	if messageID == 0 {
		if _, _, err := b.modes.Cancel(ctx, key); err != nil {
			b.fail(ctx, key, mode.Idle, 0, err)
			return
		}
	}
	current, err := b.catalog.GetUserModel(ctx, key.UserID)
	if err != nil {
		b.fail(ctx, key, mode.Idle, messageID, err)
		return
	}
	kb := column(
		Button{Text: "📝 Text models", Data: CbTextModels},
		Button{Text: "🔙 Back", Data: CbBackToMain},
	)
	text := fmt.Sprintf("⚙️ Settings\n\nCurrent model: %s", current)
	if messageID == 0 {
		b.send(ctx, key.ChatID, text, kb)
		return
	}
	b.edit(ctx, key.ChatID, messageID, text, kb)
}

const startText = `Hi, %s! 👋

I'm a chat bot that relays your requests to modern AI models.

What can I do?
✨ Answer questions on any topic
🎙 Reply with voice messages
🌐 Search the web
🎨 Generate images from a description
🖼 Describe and transform your photos

Just send me a message to start. Use the menu buttons for the other features and /cancel to leave any of them.`

const helpText = `📖 How to use the bot

💬 Chat: just send a message. The conversation is remembered until you start a 🔄 New chat.
🎙 Voice reply: every answer comes back as a voice message until you exit.
🌐 Web search: answers use fresh results from the web until you exit.
🎨 Generate image: send one description, get one image.
📷 Photo: send a photo, then tell me what to do with it.
🔊 Text to voice: send a text, get it read aloud.
🖌 Image variation: send a photo, get a variation of it.
🕓 History: your last messages, with an option to clear them.
⚙️ Settings: pick the model used for text answers.

Send /cancel at any time to return to the main menu.`

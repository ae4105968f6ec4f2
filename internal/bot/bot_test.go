package bot

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/suPer8Hu/relay-bot/internal/ai"
	"github.com/suPer8Hu/relay-bot/internal/catalog"
	"github.com/suPer8Hu/relay-bot/internal/chat"
	"github.com/suPer8Hu/relay-bot/internal/config"
	"github.com/suPer8Hu/relay-bot/internal/db/dbtest"
	"github.com/suPer8Hu/relay-bot/internal/mode"
	"github.com/suPer8Hu/relay-bot/internal/models"
	"github.com/suPer8Hu/relay-bot/internal/usage"
)

type sent struct {
	kind string
	id   int64
	text string
	kb   Keyboard
}

type fakeMessenger struct {
	mu         sync.Mutex
	nextID     int64
	out        []sent
	deleted    []int64
	failEdit   bool
	failDelete bool
}

func (m *fakeMessenger) SendText(_ context.Context, _ int64, text string, kb Keyboard) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	m.out = append(m.out, sent{kind: "text", id: m.nextID, text: text, kb: kb})
	return m.nextID, nil
}

func (m *fakeMessenger) SendAudio(_ context.Context, _ int64, audio ai.Audio, _ string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.out = append(m.out, sent{kind: "audio", text: string(audio.Data)})
	return nil
}

func (m *fakeMessenger) SendImage(_ context.Context, _ int64, url, _ string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.out = append(m.out, sent{kind: "image", text: url})
	return nil
}

func (m *fakeMessenger) EditText(_ context.Context, _, id int64, text string, kb Keyboard) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failEdit {
		return errors.New("message to edit not found")
	}
	m.out = append(m.out, sent{kind: "edit", id: id, text: text, kb: kb})
	return nil
}

func (m *fakeMessenger) Delete(_ context.Context, _, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failDelete {
		return errors.New("message can't be deleted")
	}
	m.deleted = append(m.deleted, id)
	return nil
}

func (m *fakeMessenger) last() sent {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.out[len(m.out)-1]
}

func (m *fakeMessenger) kinds(kind string) []sent {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []sent
	for _, s := range m.out {
		if s.kind == kind {
			out = append(out, s)
		}
	}
	return out
}

type fakeAI struct {
	mu           sync.Mutex
	reply        string
	chatErr      error
	imageErr     error
	speechErr    error
	imageHook    func()
	chatCalls    int
	imageCalls   int
	lastOpts     ai.ChatOptions
	lastModel    string
	spoken       []string
	speechModels []string
}

func (f *fakeAI) Chat(_ context.Context, msgs []ai.Message, opts ai.ChatOptions) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.chatCalls++
	f.lastOpts = opts
	if f.chatErr != nil {
		return "", f.chatErr
	}
	return f.reply, nil
}

func (f *fakeAI) GenerateImage(_ context.Context, prompt, model string) (string, error) {
	f.mu.Lock()
	hook := f.imageHook
	f.mu.Unlock()
	if hook != nil {
		hook()
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.imageCalls++
	f.lastModel = model
	if f.imageErr != nil {
		return "", f.imageErr
	}
	return "https://img.example/" + strings.ReplaceAll(prompt, " ", "-"), nil
}

func (f *fakeAI) VaryImage(_ context.Context, imageURL, model string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastModel = model
	return imageURL + "?v=2", nil
}

func (f *fakeAI) Synthesize(_ context.Context, text, model, voice string) (ai.Audio, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.speechModels = append(f.speechModels, model)
	if f.speechErr != nil {
		return ai.Audio{}, f.speechErr
	}
	f.spoken = append(f.spoken, voice+":"+text)
	return ai.Audio{Data: []byte("mp3:" + text), Format: "mp3"}, nil
}

type fakeBroadcaster struct {
	bodies []string
}

func (f *fakeBroadcaster) PublishBroadcast(_ context.Context, _ int64, body string) (string, error) {
	f.bodies = append(f.bodies, body)
	return fmt.Sprintf("job-%d", len(f.bodies)), nil
}

const admin = int64(900)

type env struct {
	bot   *Bot
	out   *fakeMessenger
	ai    *fakeAI
	modes *mode.Machine
	gdb   *gorm.DB
	rec   *usage.Recorder
	cast  *fakeBroadcaster
}

func newEnv(t *testing.T) *env {
	t.Helper()
	ctx := context.Background()
	gdb := dbtest.Open(t)

	catRepo := catalog.NewRepo(gdb)
	require.NoError(t, catRepo.Seed(ctx, []config.CatalogEntry{
		{Name: "gpt-4o", Provider: "fake"},
		{Name: "deepseek-r1", Provider: "fake"},
	}))
	cat := catalog.NewService(catRepo, "gpt-4o", nil)

	fai := &fakeAI{reply: "hi"}
	reg := ai.NewRegistry()
	reg.Register("fake", func(context.Context, string) (ai.Provider, error) { return fai, nil })
	reg.Register("openrouter", func(context.Context, string) (ai.Provider, error) { return fai, nil })

	retry := ai.RetryPolicy{Attempts: 2, Initial: time.Millisecond, Max: time.Millisecond}
	modes := mode.NewMachine(mode.NewMemoryStore(), nil)
	rec := usage.NewRecorder(gdb)
	svc := chat.NewService(chat.NewRepo(gdb), modes, cat, reg, rec, chat.WithRetryPolicy(retry))

	out := &fakeMessenger{}
	cast := &fakeBroadcaster{}
	b := New(Deps{
		Chat:        svc,
		Catalog:     cat,
		Modes:       modes,
		Usage:       rec,
		Images:      fai,
		Speech:      fai,
		Messenger:   out,
		Broadcaster: cast,
	}, Settings{
		SearchModel:      "sonar-pro",
		CaptionModel:     "gpt-4o",
		ImageModel:       "flux",
		AdminImageModel:  "flux-pro",
		TTSModel:         "tts-1",
		VoiceEN:          "alloy",
		VoiceRU:          "nova",
		MaxMessageLength: 10,
		IsAdmin:          config.Config{AdminIDs: []int64{admin}}.IsAdmin,
		Retry:            retry,
	})
	return &env{bot: b, out: out, ai: fai, modes: modes, gdb: gdb, rec: rec, cast: cast}
}

func (e *env) mode(t *testing.T, uid int64) mode.Mode {
	t.Helper()
	st, err := e.modes.Current(context.Background(), mode.Key{UserID: uid, ChatID: uid})
	require.NoError(t, err)
	return st.Mode
}

func (e *env) count(t *testing.T, uid int64, action models.Action, model string) int64 {
	t.Helper()
	n, err := e.rec.Count(context.Background(), uid, e.rec.Today(), action, model)
	require.NoError(t, err)
	return n
}

func text(uid int64, s string) Text {
	return Text{User: User{ID: uid, Name: "Ann"}, ChatID: uid, Text: s}
}

func cmd(uid int64, name string) Command {
	return Command{User: User{ID: uid, Name: "Ann"}, ChatID: uid, Name: name}
}

func TestChat_ReplyIsSplitAndOffersVoice(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	e.ai.reply = "abcdefghijklmno"

	e.bot.HandleText(ctx, text(1, "hello"))

	texts := e.out.kinds("text")
	require.Len(t, texts, 3) // progress + two parts
	assert.Equal(t, "(1/2)\n\nabcdefghij", texts[1].text)
	assert.Equal(t, "(2/2)\n\nklmno", texts[2].text)
	assert.Equal(t, []int64{texts[0].id}, e.out.deleted)
	require.Len(t, texts[2].kb, 1)
	data := texts[2].kb[0][0].Data
	assert.True(t, strings.HasPrefix(data, CbVoice))
	assert.Equal(t, int64(1), e.count(t, 1, models.ActionChat, "gpt-4o"))

	e.bot.HandleCallback(ctx, Callback{User: User{ID: 1}, ChatID: 1, Data: data})
	audio := e.out.kinds("audio")
	require.Len(t, audio, 1)
	assert.Equal(t, "mp3:abcdefghijklmno", audio[0].text)
	assert.Equal(t, int64(1), e.count(t, 1, models.ActionAudio, "tts-1"))
}

func TestChat_ProviderFailureShowsMessage(t *testing.T) {
	e := newEnv(t)
	e.ai.chatErr = fmt.Errorf("fake: %w: 401", ai.ErrProviderRejection)

	e.bot.HandleText(context.Background(), text(2, "hello"))

	last := e.out.last()
	assert.Equal(t, "edit", last.kind)
	assert.Contains(t, last.text, "could not process")
	assert.Zero(t, e.count(t, 2, models.ActionChat, "gpt-4o"))
}

func TestChat_EditFailureFallsBackToSend(t *testing.T) {
	e := newEnv(t)
	e.out.failEdit = true
	e.out.failDelete = true
	e.ai.chatErr = fmt.Errorf("fake: %w: reset", ai.ErrProviderNetwork)

	e.bot.HandleText(context.Background(), text(3, "hello"))

	last := e.out.last()
	assert.Equal(t, "text", last.kind)
	assert.Contains(t, last.text, "Connection problems")
	assert.Equal(t, 2, e.ai.chatCalls)
}

func TestSearch_IsSticky(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	e.bot.HandleCommand(ctx, cmd(4, "/web_search"))
	assert.Equal(t, mode.AwaitingSearchQuery, e.mode(t, 4))

	e.bot.HandleText(ctx, text(4, "go 1.25 release notes"))
	e.bot.HandleText(ctx, text(4, "and 1.24?"))

	assert.True(t, e.ai.lastOpts.WebSearch)
	assert.Equal(t, mode.AwaitingSearchQuery, e.mode(t, 4))
	assert.Equal(t, int64(2), e.count(t, 4, models.ActionSearch, "sonar-pro"))

	e.bot.HandleCancel(ctx, Cancel{User: User{ID: 4}, ChatID: 4})
	assert.Equal(t, mode.Idle, e.mode(t, 4))
	assert.Equal(t, "You are back in the main menu.", e.out.last().text)
}

func TestVoiceReply_IsStickyAndPicksVoice(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	e.bot.HandleCommand(ctx, cmd(11, CmdVoiceReply))
	assert.Equal(t, mode.AwaitingChatVoiceReply, e.mode(t, 11))

	e.ai.reply = "sure thing"
	e.bot.HandleText(ctx, text(11, "hello"))
	e.ai.reply = "конечно"
	e.bot.HandleText(ctx, text(11, "а по-русски?"))

	assert.Equal(t, mode.AwaitingChatVoiceReply, e.mode(t, 11))
	assert.Equal(t, []string{"alloy:sure thing", "nova:конечно"}, e.ai.spoken)
	assert.Equal(t, []string{"tts-1", "tts-1"}, e.ai.speechModels)
	audio := e.out.kinds("audio")
	require.Len(t, audio, 2)
	assert.Equal(t, "mp3:sure thing", audio[0].text)
	assert.Equal(t, "mp3:конечно", audio[1].text)
	assert.Equal(t, int64(2), e.count(t, 11, models.ActionAudio, "gpt-4o"))
	assert.Zero(t, e.count(t, 11, models.ActionChat, "gpt-4o"))

	e.bot.HandleCancel(ctx, Cancel{User: User{ID: 11}, ChatID: 11})
	assert.Equal(t, mode.Idle, e.mode(t, 11))
}

func TestVoiceReply_SpeechFailureFallsBackToText(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	e.ai.reply = "fallback"
	e.ai.speechErr = fmt.Errorf("%w: voice unavailable", ai.ErrProviderRejection)
	e.bot.HandleCommand(ctx, cmd(12, CmdVoiceReply))

	e.bot.HandleText(ctx, text(12, "hello"))

	assert.Empty(t, e.out.kinds("audio"))
	assert.Equal(t, "fallback", e.out.last().text)
	assert.Zero(t, e.count(t, 12, models.ActionAudio, "gpt-4o"))
	assert.Equal(t, int64(1), e.count(t, 12, models.ActionChat, "gpt-4o"))
	assert.Equal(t, mode.AwaitingChatVoiceReply, e.mode(t, 12))

	var turns []models.Turn
	require.NoError(t, e.gdb.Where("user_id = ?", 12).Find(&turns).Error)
	require.Len(t, turns, 1)
	assert.Equal(t, "fallback", turns[0].Output)
}

func TestImage_OneShotAndForbiddenKeywords(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	e.bot.HandleCommand(ctx, cmd(5, "image"))

	e.bot.HandleText(ctx, text(5, "a NUDE statue"))
	assert.Equal(t, msgPolicy, e.out.last().text)
	assert.Equal(t, mode.AwaitingImagePrompt, e.mode(t, 5))
	assert.Empty(t, e.ai.lastModel)

	e.bot.HandleText(ctx, text(5, "sunset on the beach"))
	images := e.out.kinds("image")
	require.Len(t, images, 1)
	assert.Equal(t, "https://img.example/sunset-on-the-beach", images[0].text)
	assert.Equal(t, "flux", e.ai.lastModel)
	assert.Equal(t, mode.Idle, e.mode(t, 5))
	assert.Equal(t, int64(1), e.count(t, 5, models.ActionImage, "flux"))
}

func TestImage_PolicyRejectionEndsMode(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	e.ai.imageErr = fmt.Errorf("arta: %w: %w: Invalid prompts detected", ai.ErrProviderRejection, ai.ErrContentPolicy)
	e.bot.HandleCommand(ctx, cmd(6, "image"))

	e.bot.HandleText(ctx, text(6, "something odd"))

	assert.Equal(t, msgPolicy, e.out.last().text)
	assert.Equal(t, mode.Idle, e.mode(t, 6))
	assert.Zero(t, e.count(t, 6, models.ActionImage, "flux"))
}

func TestImage_CancelStopsRetries(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	e.ai.imageErr = fmt.Errorf("%w: timeout", ai.ErrProviderNetwork)
	e.ai.imageHook = func() {
		e.bot.HandleCancel(ctx, Cancel{User: User{ID: 13}, ChatID: 13})
	}
	e.bot.HandleCommand(ctx, cmd(13, CmdImage))

	e.bot.HandleText(ctx, text(13, "a lighthouse"))

	assert.Equal(t, 1, e.ai.imageCalls)
	assert.Empty(t, e.out.kinds("image"))
	assert.Equal(t, mode.Idle, e.mode(t, 13))
	assert.Zero(t, e.count(t, 13, models.ActionImage, "flux"))
}

func TestAdminModes_RequirePrivilege(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)

	e.bot.HandleCommand(ctx, cmd(7, "broadcast"))
	assert.Equal(t, mode.Idle, e.mode(t, 7))
	assert.Contains(t, e.out.last().text, "administrators only")

	e.bot.HandleCommand(ctx, cmd(admin, "broadcast"))
	assert.Equal(t, mode.AwaitingBroadcastBody, e.mode(t, admin))
	e.bot.HandleText(ctx, text(admin, "maintenance tonight"))
	assert.Equal(t, []string{"maintenance tonight"}, e.cast.bodies)
	assert.Equal(t, mode.Idle, e.mode(t, admin))

	e.bot.HandleCommand(ctx, cmd(admin, "admin_image"))
	e.bot.HandleText(ctx, text(admin, "logo"))
	assert.Equal(t, "flux-pro", e.ai.lastModel)
}

func TestPhoto_CaptionFlowAndBusyGuard(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	e.ai.reply = "a cat"
	photo := Photo{User: User{ID: 8}, ChatID: 8, URL: "https://cdn.example/cat.jpg"}

	e.bot.HandlePhoto(ctx, photo)
	assert.Equal(t, mode.AwaitingImageCaptionTarget, e.mode(t, 8))

	e.bot.HandlePhoto(ctx, photo)
	assert.Contains(t, e.out.last().text, "still working")

	e.bot.HandleText(ctx, text(8, "describe it"))
	assert.Equal(t, mode.Idle, e.mode(t, 8))
	assert.Contains(t, e.out.last().text, "a cat")
	assert.Equal(t, int64(1), e.count(t, 8, models.ActionChat, "gpt-4o"))
}

func TestPhoto_Variation(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	e.bot.HandleCommand(ctx, cmd(9, "image_variation"))

	e.bot.HandleText(ctx, text(9, "here"))
	assert.Equal(t, mode.AwaitingImageVariationUpload, e.mode(t, 9))

	e.bot.HandlePhoto(ctx, Photo{User: User{ID: 9}, ChatID: 9, URL: "https://cdn.example/a.png"})
	images := e.out.kinds("image")
	require.Len(t, images, 1)
	assert.Equal(t, "https://cdn.example/a.png?v=2", images[0].text)
	assert.Equal(t, mode.Idle, e.mode(t, 9))
}

func TestTextToVoice_PicksVoiceByScript(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	e.bot.HandleCommand(ctx, cmd(10, "text_to_voice"))
	e.bot.HandleText(ctx, text(10, "привет"))

	assert.Equal(t, []string{"nova:привет"}, e.ai.spoken)
	assert.Equal(t, []string{"tts-1"}, e.ai.speechModels)
	assert.Equal(t, mode.Idle, e.mode(t, 10))
	assert.Equal(t, int64(1), e.count(t, 10, models.ActionAudio, "tts-1"))
}

func TestHistory_ClearDeletesTrackedMessages(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	e.bot.HandleText(ctx, text(11, "one"))
	e.bot.HandleText(ctx, text(11, "two"))

	e.bot.HandleCommand(ctx, cmd(11, "history"))
	prompt := e.out.last()
	require.Equal(t, CbConfirmClear, prompt.kb[0][0].Data)
	views := e.out.kinds("text")
	historyIDs := []int64{views[len(views)-3].id, views[len(views)-2].id, prompt.id}

	e.bot.HandleCallback(ctx, Callback{User: User{ID: 11}, ChatID: 11, MessageID: prompt.id, Data: CbConfirmClear})
	e.bot.HandleCallback(ctx, Callback{User: User{ID: 11}, ChatID: 11, MessageID: prompt.id, Data: CbDoClear})

	assert.Subset(t, e.out.deleted, historyIDs)
	assert.Equal(t, "🗑 History cleared!", e.out.last().text)

	var n int64
	require.NoError(t, e.gdb.Model(&models.Turn{}).Where("user_id = ?", 11).Count(&n).Error)
	assert.Zero(t, n)
}

func TestSettings_SelectModel(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	var r1 models.Model
	require.NoError(t, e.gdb.Where("name = ?", "deepseek-r1").First(&r1).Error)

	e.bot.HandleCommand(ctx, cmd(12, "settings"))
	assert.Contains(t, e.out.last().text, "Current model: gpt-4o")

	e.bot.HandleCallback(ctx, Callback{User: User{ID: 12}, ChatID: 12, MessageID: 1, Data: CbTextModels})
	kb := e.out.last().kb
	require.Len(t, kb, 3)
	assert.Equal(t, "✅ gpt-4o", kb[1][0].Text)

	e.bot.HandleCallback(ctx, Callback{User: User{ID: 12}, ChatID: 12, MessageID: 1, Data: fmt.Sprintf("set_model_%d", r1.ID)})
	assert.Equal(t, "✅ Model changed to deepseek-r1", e.out.last().text)

	e.bot.HandleText(ctx, text(12, "hello"))
	assert.Equal(t, int64(1), e.count(t, 12, models.ActionChat, "deepseek-r1"))
}

func TestManageModels_AdminToggle(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	var m models.Model
	require.NoError(t, e.gdb.Where("name = ?", "deepseek-r1").First(&m).Error)

	e.bot.HandleCallback(ctx, Callback{User: User{ID: 13}, ChatID: 13, Data: fmt.Sprintf("toggle_model_%d", m.ID)})
	require.NoError(t, e.gdb.First(&m, m.ID).Error)
	assert.True(t, m.IsActive)

	e.bot.HandleCallback(ctx, Callback{User: User{ID: admin}, ChatID: admin, MessageID: 3, Data: fmt.Sprintf("toggle_model_%d", m.ID)})
	require.NoError(t, e.gdb.First(&m, m.ID).Error)
	assert.False(t, m.IsActive)
	assert.Contains(t, e.out.last().kb[0][0].Text, "deepseek-r1 (fake) - ❌ Inactive")
}

func TestStatsAndActivity(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	e.bot.HandleText(ctx, text(14, "hello"))

	e.bot.HandleCommand(ctx, cmd(admin, "stats"))
	assert.Contains(t, e.out.last().text, "chat · gpt-4o: 1 requests, 1 users")

	e.bot.HandleCommand(ctx, cmd(admin, "activity"))
	assert.Contains(t, e.out.last().text, "1. Ann: 1 total")
}

func TestNewChat_StartsNextSession(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	e.bot.HandleText(ctx, text(15, "hello"))
	e.bot.HandleCommand(ctx, cmd(15, "new_chat"))

	st, err := e.modes.Current(ctx, mode.Key{UserID: 15, ChatID: 15})
	require.NoError(t, err)
	assert.Equal(t, int64(2), st.SessionID)
}

func TestSplitReply(t *testing.T) {
	assert.Equal(t, []string{"short"}, SplitReply("short", 10))
	assert.Equal(t, []string{"(1/2)\n\nab", "(2/2)\n\ncd"}, SplitReply("abcd", 2))
	assert.Len(t, SplitReply(strings.Repeat("я", 9), 3), 3)
}

func TestSettingsFrom_AdminCheckFollowsConfig(t *testing.T) {
	s := SettingsFrom(config.Config{AdminIDs: []int64{5, 6}})
	b := New(Deps{}, s)
	assert.True(t, b.isAdmin(5))
	assert.True(t, b.isAdmin(6))
	assert.False(t, b.isAdmin(7))

	assert.False(t, New(Deps{}, Settings{}).isAdmin(5))
}

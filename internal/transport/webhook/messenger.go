// Package webhook delivers bot output to the chat transport as JSON actions
// posted to a single outbound endpoint.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/suPer8Hu/relay-bot/internal/ai"
	"github.com/suPer8Hu/relay-bot/internal/bot"
)

const secretHeader = "X-Webhook-Secret"

var ErrDelivery = errors.New("webhook: delivery failed")

type Messenger struct {
	URL    string
	Secret string
	Client *http.Client
}

func NewMessenger(url, secret string) *Messenger {
	return &Messenger{
		URL:    url,
		Secret: secret,
		Client: &http.Client{Timeout: 15 * time.Second},
	}
}

type action struct {
	Action    string       `json:"action"`
	ChatID    int64        `json:"chat_id"`
	MessageID int64        `json:"message_id,omitempty"`
	Text      string       `json:"text,omitempty"`
	Keyboard  bot.Keyboard `json:"keyboard,omitempty"`
	URL       string       `json:"url,omitempty"`
	Caption   string       `json:"caption,omitempty"`
	// Audio is base64 encoded by encoding/json.
	Audio  []byte `json:"audio,omitempty"`
	Format string `json:"format,omitempty"`
}

type actionResp struct {
	MessageID int64  `json:"message_id"`
	Error     string `json:"error,omitempty"`
}

func (m *Messenger) post(ctx context.Context, a action) (actionResp, error) {
	if m.Client == nil {
		return actionResp{}, errors.New("webhook: http client is nil")
	}
	b, err := json.Marshal(a)
	if err != nil {
		return actionResp{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.URL, bytes.NewReader(b))
	if err != nil {
		return actionResp{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	if m.Secret != "" {
		req.Header.Set(secretHeader, m.Secret)
	}

	resp, err := m.Client.Do(req)
	if err != nil {
		return actionResp{}, fmt.Errorf("%w: %s: %v", ErrDelivery, a.Action, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4*1024))
		return actionResp{}, fmt.Errorf("%w: %s: status=%d body=%s", ErrDelivery, a.Action, resp.StatusCode, strings.TrimSpace(string(raw)))
	}

	var decoded actionResp
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	if err != nil {
		return actionResp{}, fmt.Errorf("%w: %s: %v", ErrDelivery, a.Action, err)
	}
	if len(bytes.TrimSpace(raw)) > 0 {
		if err := json.Unmarshal(raw, &decoded); err != nil {
			return actionResp{}, fmt.Errorf("%w: %s: bad response: %v", ErrDelivery, a.Action, err)
		}
	}
	if decoded.Error != "" {
		return actionResp{}, fmt.Errorf("%w: %s: %s", ErrDelivery, a.Action, decoded.Error)
	}
	return decoded, nil
}

func (m *Messenger) SendText(ctx context.Context, chatID int64, text string, kb bot.Keyboard) (int64, error) {
	res, err := m.post(ctx, action{Action: "send_text", ChatID: chatID, Text: text, Keyboard: kb})
	if err != nil {
		return 0, err
	}
	return res.MessageID, nil
}

func (m *Messenger) SendAudio(ctx context.Context, chatID int64, audio ai.Audio, caption string) error {
	_, err := m.post(ctx, action{Action: "send_audio", ChatID: chatID, Audio: audio.Data, Format: audio.Format, Caption: caption})
	return err
}

func (m *Messenger) SendImage(ctx context.Context, chatID int64, url, caption string) error {
	_, err := m.post(ctx, action{Action: "send_image", ChatID: chatID, URL: url, Caption: caption})
	return err
}

func (m *Messenger) EditText(ctx context.Context, chatID, messageID int64, text string, kb bot.Keyboard) error {
	_, err := m.post(ctx, action{Action: "edit_text", ChatID: chatID, MessageID: messageID, Text: text, Keyboard: kb})
	return err
}

func (m *Messenger) Delete(ctx context.Context, chatID, messageID int64) error {
	_, err := m.post(ctx, action{Action: "delete", ChatID: chatID, MessageID: messageID})
	return err
}

var _ bot.Messenger = (*Messenger)(nil)

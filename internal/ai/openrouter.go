package ai

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
)

// OpenRouterProvider speaks the OpenAI-compatible API for chat, images and speech.
type OpenRouterProvider struct {
	BaseURL string
	APIKey  string
	Model   string
	SiteURL string
	AppName string
	Client  *http.Client
}

type openRouterPart struct {
	Type     string               `json:"type"`
	Text     string               `json:"text,omitempty"`
	ImageURL *openRouterImagePart `json:"image_url,omitempty"`
}

type openRouterImagePart struct {
	URL string `json:"url"`
}

type openRouterMsg struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

type openRouterPlugin struct {
	ID string `json:"id"`
}

type openRouterChatReq struct {
	Model       string             `json:"model"`
	Messages    []openRouterMsg    `json:"messages"`
	Stream      bool               `json:"stream"`
	Temperature float64            `json:"temperature,omitempty"`
	MaxTokens   int                `json:"max_tokens,omitempty"`
	Plugins     []openRouterPlugin `json:"plugins,omitempty"`
}

type openRouterChatResp struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

type openRouterImageReq struct {
	Model          string `json:"model"`
	Prompt         string `json:"prompt,omitempty"`
	Image          string `json:"image,omitempty"`
	N              int    `json:"n"`
	ResponseFormat string `json:"response_format"`
}

type openRouterImageResp struct {
	Data []struct {
		URL string `json:"url"`
	} `json:"data"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

type openRouterSpeechReq struct {
	Model          string `json:"model"`
	Input          string `json:"input"`
	Voice          string `json:"voice"`
	ResponseFormat string `json:"response_format"`
}

func NewOpenRouterProvider(baseURL, apiKey, model, siteURL, appName string) *OpenRouterProvider {
	if baseURL == "" {
		baseURL = "https://openrouter.ai/api/v1"
	}
	return &OpenRouterProvider{
		BaseURL: baseURL,
		APIKey:  apiKey,
		Model:   model,
		SiteURL: siteURL,
		AppName: appName,
		Client:  &http.Client{Timeout: 90 * time.Second},
	}
}

// WithModel returns a copy bound to another model, sharing the http client.
func (p *OpenRouterProvider) WithModel(model string) *OpenRouterProvider {
	cp := *p
	cp.Model = model
	return &cp
}

func toOpenRouterMsgs(messages []Message) []openRouterMsg {
	out := make([]openRouterMsg, 0, len(messages))
	for _, m := range messages {
		if len(m.Images) == 0 {
			out = append(out, openRouterMsg{Role: m.Role, Content: m.Content})
			continue
		}
		parts := []openRouterPart{{Type: "text", Text: m.Content}}
		for _, u := range m.Images {
			parts = append(parts, openRouterPart{Type: "image_url", ImageURL: &openRouterImagePart{URL: u}})
		}
		out = append(out, openRouterMsg{Role: m.Role, Content: parts})
	}
	return out
}

// post sends a JSON body and returns the raw 2xx response body.
func (p *OpenRouterProvider) post(ctx context.Context, path string, body any) ([]byte, error) {
	if p.Client == nil {
		return nil, errors.New("openrouter: http client is nil")
	}
	if strings.TrimSpace(p.APIKey) == "" {
		return nil, errors.New("openrouter: api key is required")
	}

	b, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}

	url := fmt.Sprintf("%s%s", strings.TrimRight(p.BaseURL, "/"), path)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(b))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.APIKey)
	if p.SiteURL != "" {
		req.Header.Set("HTTP-Referer", p.SiteURL)
	}
	if p.AppName != "" {
		req.Header.Set("X-Title", p.AppName)
	}

	resp, err := p.Client.Do(req)
	if err != nil {
		return nil, networkErr(ctx, "openrouter", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4*1024))
		return nil, classifyStatus("openrouter", resp.StatusCode, string(raw))
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, networkErr(ctx, "openrouter", err)
	}
	return raw, nil
}

func (p *OpenRouterProvider) Chat(ctx context.Context, messages []Message, opts ChatOptions) (string, error) {
	model := strings.TrimSpace(p.Model)
	if model == "" {
		return "", errors.New("openrouter: model is required")
	}

	reqBody := openRouterChatReq{
		Model:       model,
		Stream:      false,
		Messages:    toOpenRouterMsgs(messages),
		Temperature: opts.Temperature,
		MaxTokens:   opts.MaxTokens,
	}
	if opts.WebSearch {
		reqBody.Plugins = []openRouterPlugin{{ID: "web"}}
	}

	raw, err := p.post(ctx, "/chat/completions", reqBody)
	if err != nil {
		return "", err
	}

	var decoded openRouterChatResp
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return "", malformed("openrouter", err)
	}
	if decoded.Error != nil && decoded.Error.Message != "" {
		return "", classifyBodyError("openrouter", decoded.Error.Message)
	}
	if len(decoded.Choices) == 0 {
		return "", fmt.Errorf("openrouter: %w: no choices", ErrEmptyResult)
	}
	content := decoded.Choices[0].Message.Content
	if strings.TrimSpace(content) == "" {
		return "", fmt.Errorf("openrouter: %w: empty content", ErrEmptyResult)
	}
	return content, nil
}

func (p *OpenRouterProvider) image(ctx context.Context, path string, req openRouterImageReq) (string, error) {
	raw, err := p.post(ctx, path, req)
	if err != nil {
		return "", err
	}
	var decoded openRouterImageResp
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return "", malformed("openrouter", err)
	}
	if decoded.Error != nil && decoded.Error.Message != "" {
		return "", classifyBodyError("openrouter", decoded.Error.Message)
	}
	if len(decoded.Data) == 0 {
		return "", fmt.Errorf("openrouter: %w: no image data", ErrEmptyResult)
	}
	if decoded.Data[0].URL == "" {
		return "", malformed("openrouter", errors.New("image without url"))
	}
	return decoded.Data[0].URL, nil
}

func (p *OpenRouterProvider) GenerateImage(ctx context.Context, prompt, model string) (string, error) {
	return p.image(ctx, "/images/generations", openRouterImageReq{
		Model:          model,
		Prompt:         prompt,
		N:              1,
		ResponseFormat: "url",
	})
}

func (p *OpenRouterProvider) VaryImage(ctx context.Context, imageURL, model string) (string, error) {
	return p.image(ctx, "/images/variations", openRouterImageReq{
		Model:          model,
		Image:          imageURL,
		N:              1,
		ResponseFormat: "url",
	})
}

// Synthesize renders text with the given speech model. An empty model falls
// back to the provider's bound one.
func (p *OpenRouterProvider) Synthesize(ctx context.Context, text, model, voice string) (Audio, error) {
	if strings.TrimSpace(model) == "" {
		model = p.Model
	}
	raw, err := p.post(ctx, "/audio/speech", openRouterSpeechReq{
		Model:          model,
		Input:          text,
		Voice:          voice,
		ResponseFormat: "mp3",
	})
	if err != nil {
		return Audio{}, err
	}
	if len(raw) == 0 {
		return Audio{}, fmt.Errorf("openrouter: %w: empty audio", ErrEmptyResult)
	}
	return Audio{Data: raw, Format: "mp3"}, nil
}

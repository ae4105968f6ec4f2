package ai

import "context"

type Message struct {
	Role    string
	Content string
	// Images are URLs attached to a user message (vision requests).
	Images []string
}

type ChatOptions struct {
	Temperature float64
	MaxTokens   int
	WebSearch   bool
}

// DefaultChatOptions are the sampling parameters used for conversational replies.
func DefaultChatOptions() ChatOptions {
	return ChatOptions{Temperature: 0.7, MaxTokens: 2000}
}

type Provider interface {
	Chat(ctx context.Context, messages []Message, opts ChatOptions) (string, error)
}

// ImageProvider returns image URLs.
type ImageProvider interface {
	GenerateImage(ctx context.Context, prompt, model string) (string, error)
	VaryImage(ctx context.Context, imageURL, model string) (string, error)
}

type Audio struct {
	Data   []byte
	Format string
}

type SpeechProvider interface {
	Synthesize(ctx context.Context, text, model, voice string) (Audio, error)
}

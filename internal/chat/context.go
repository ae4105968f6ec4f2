package chat

import (
	"context"
	"strings"

	"github.com/suPer8Hu/relay-bot/internal/ai"
	"github.com/suPer8Hu/relay-bot/internal/models"
)

const (
	// FetchCap bounds the rows read from the store per context build.
	FetchCap = 20
	// PromptWindow bounds the turns expanded into the prompt.
	PromptWindow = 10
	// CaptionWindow bounds the turns flattened into an image instruction.
	CaptionWindow = 5
)

type ContextBuilder struct {
	repo *Repo
}

func NewContextBuilder(repo *Repo) *ContextBuilder {
	return &ContextBuilder{repo: repo}
}

// History returns at most FetchCap turns of (user, session), oldest first.
func (b *ContextBuilder) History(ctx context.Context, userID, sessionID int64) ([]models.Turn, error) {
	return b.repo.ListRecentTurns(ctx, userID, sessionID, FetchCap)
}

// Build returns the provider prompt for input: the last PromptWindow turns as
// alternating user/assistant messages, then input as the final user message.
func (b *ContextBuilder) Build(ctx context.Context, userID, sessionID int64, input string) ([]ai.Message, error) {
	turns, err := b.History(ctx, userID, sessionID)
	if err != nil {
		return nil, err
	}
	return BuildMessages(turns, input), nil
}

func BuildMessages(turns []models.Turn, input string) []ai.Message {
	turns = lastN(turns, PromptWindow)
	out := make([]ai.Message, 0, len(turns)*2+1)
	for _, t := range turns {
		out = append(out,
			ai.Message{Role: "user", Content: t.Input},
			ai.Message{Role: "assistant", Content: t.Output},
		)
	}
	return append(out, ai.Message{Role: "user", Content: input})
}

// CaptionPrompt flattens the last CaptionWindow turns into a single text
// prompt so it can travel alongside an image.
func CaptionPrompt(turns []models.Turn, instruction string) string {
	turns = lastN(turns, CaptionWindow)
	if len(turns) == 0 {
		return instruction
	}
	var b strings.Builder
	b.WriteString("Previous conversation:\n")
	for _, t := range turns {
		b.WriteString("User: ")
		b.WriteString(t.Input)
		b.WriteString("\nAssistant: ")
		b.WriteString(t.Output)
		b.WriteString("\n")
	}
	b.WriteString("\nCurrent request: ")
	b.WriteString(instruction)
	return b.String()
}

func lastN(turns []models.Turn, n int) []models.Turn {
	if len(turns) > n {
		return turns[len(turns)-n:]
	}
	return turns
}

package ai

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrProviderNetwork is transient: transport failures, 429 and 5xx. Retried.
	ErrProviderNetwork = errors.New("provider network error")
	// ErrProviderRejection covers content-policy refusals and malformed responses. Not retried.
	ErrProviderRejection = errors.New("provider rejected request")
	// ErrContentPolicy always travels together with ErrProviderRejection.
	ErrContentPolicy = errors.New("content policy violation")
	// ErrEmptyResult means the call succeeded but carried no usable content.
	ErrEmptyResult = errors.New("provider returned empty result")
)

var policyMarkers = []string{
	"invalid prompts detected",
	`error_code":769`,
	"content_policy",
	"content policy",
	"moderation",
	"safety system",
}

func isPolicyMessage(msg string) bool {
	lower := strings.ToLower(msg)
	for _, m := range policyMarkers {
		if strings.Contains(lower, m) {
			return true
		}
	}
	return false
}

// classifyStatus maps a non-2xx response onto the provider error taxonomy.
func classifyStatus(provider string, status int, body string) error {
	msg := strings.TrimSpace(body)
	if msg == "" {
		msg = fmt.Sprintf("status %d", status)
	}
	switch {
	case isPolicyMessage(msg):
		return fmt.Errorf("%s: %w: %w: %s", provider, ErrProviderRejection, ErrContentPolicy, msg)
	case status == 429 || status >= 500:
		return fmt.Errorf("%s: %w: %s", provider, ErrProviderNetwork, msg)
	default:
		return fmt.Errorf("%s: %w: %s", provider, ErrProviderRejection, msg)
	}
}

// classifyBodyError handles an error object embedded in a 2xx body.
func classifyBodyError(provider, msg string) error {
	if isPolicyMessage(msg) {
		return fmt.Errorf("%s: %w: %w: %s", provider, ErrProviderRejection, ErrContentPolicy, msg)
	}
	return fmt.Errorf("%s: %w: %s", provider, ErrProviderRejection, msg)
}

func networkErr(ctx context.Context, provider string, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return fmt.Errorf("%s: %w: %v", provider, ErrProviderNetwork, err)
}

func malformed(provider string, err error) error {
	return fmt.Errorf("%s: %w: malformed response: %v", provider, ErrProviderRejection, err)
}

func IsRetryable(err error) bool {
	return errors.Is(err, ErrProviderNetwork)
}

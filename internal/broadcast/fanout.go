// Package broadcast delivers queued admin broadcasts to every known user.
package broadcast

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
)

var ErrEmptyBody = errors.New("broadcast: empty body")

// RecipientSource lists the user ids a broadcast goes to.
type RecipientSource interface {
	Recipients(ctx context.Context) ([]int64, error)
}

// TextSender is the part of the messenger a broadcast needs.
type TextSender interface {
	SendText(ctx context.Context, chatID int64, text string) (int64, error)
}

type Result struct {
	Recipients int
	Delivered  int
	Failed     int
	Took       time.Duration
}

type Fanout struct {
	users RecipientSource
	out   TextSender
	log   *zap.Logger
	// delay between consecutive sends
	pause time.Duration
}

func NewFanout(users RecipientSource, out TextSender, pause time.Duration, log *zap.Logger) *Fanout {
	if log == nil {
		log = zap.NewNop()
	}
	return &Fanout{users: users, out: out, log: log, pause: pause}
}

// Deliver sends body to every recipient. Per-recipient failures are logged and
// counted; only a failure to list recipients is returned.
func (f *Fanout) Deliver(ctx context.Context, jobID string, senderID int64, body string) (Result, error) {
	start := time.Now()
	if strings.TrimSpace(body) == "" {
		return Result{}, ErrEmptyBody
	}
	ids, err := f.users.Recipients(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("list recipients: %w", err)
	}

	text := "📢 " + body
	res := Result{Recipients: len(ids)}
	for i, id := range ids {
		if err := ctx.Err(); err != nil {
			res.Took = time.Since(start)
			return res, err
		}
		if i > 0 && f.pause > 0 {
			select {
			case <-ctx.Done():
				res.Took = time.Since(start)
				return res, ctx.Err()
			case <-time.After(f.pause):
			}
		}
		// users talk to the bot in private chats, so chat id equals user id
		if _, err := f.out.SendText(ctx, id, text); err != nil {
			res.Failed++
			f.log.Warn("broadcast delivery failed", zap.String("job_id", jobID), zap.Int64("user_id", id), zap.Error(err))
			continue
		}
		res.Delivered++
	}
	res.Took = time.Since(start)
	f.log.Info("broadcast delivered",
		zap.String("job_id", jobID),
		zap.Int64("sender_id", senderID),
		zap.Int("recipients", res.Recipients),
		zap.Int("delivered", res.Delivered),
		zap.Int("failed", res.Failed),
		zap.Duration("took", res.Took),
	)
	return res, nil
}

package broadcast

import (
	"context"
	"errors"

	"github.com/suPer8Hu/relay-bot/internal/common"
)

// Disposition is what the worker does with a queue message after Deliver.
type Disposition int

const (
	Ack Disposition = iota
	// Requeue puts the message back untouched; the job was interrupted by shutdown.
	Requeue
	// Retry republishes to the delay queue with the attempt counter bumped.
	Retry
	DeadLetter
)

func (d Disposition) String() string {
	switch d {
	case Ack:
		return "ack"
	case Requeue:
		return "requeue"
	case Retry:
		return "retry"
	default:
		return "dead_letter"
	}
}

// Dispose classifies the outcome of attempt number attempt (1-based).
func Dispose(err error, attempt, maxRetries int) Disposition {
	switch {
	case err == nil:
		return Ack
	case errors.Is(err, context.Canceled):
		return Requeue
	case errors.Is(err, common.ErrStoreUnavailable) && attempt <= maxRetries:
		return Retry
	default:
		return DeadLetter
	}
}

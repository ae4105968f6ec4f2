package broadcast

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticUsers struct {
	ids []int64
	err error
}

func (s staticUsers) Recipients(context.Context) ([]int64, error) { return s.ids, s.err }

type sender struct {
	failFor map[int64]bool
	got     map[int64]string
}

func (s *sender) SendText(_ context.Context, chatID int64, text string) (int64, error) {
	if s.failFor[chatID] {
		return 0, errors.New("blocked by user")
	}
	if s.got == nil {
		s.got = map[int64]string{}
	}
	s.got[chatID] = text
	return chatID, nil
}

func TestFanout_SkipsFailedRecipients(t *testing.T) {
	out := &sender{failFor: map[int64]bool{2: true}}
	f := NewFanout(staticUsers{ids: []int64{1, 2, 3}}, out, 0, nil)

	res, err := f.Deliver(context.Background(), "job-1", 900, "maintenance tonight")
	require.NoError(t, err)
	assert.Equal(t, Result{Recipients: 3, Delivered: 2, Failed: 1, Took: res.Took}, res)
	assert.Equal(t, "📢 maintenance tonight", out.got[1])
	assert.Contains(t, out.got, int64(3))
	assert.NotContains(t, out.got, int64(2))
}

func TestFanout_RecipientErrorIsReturned(t *testing.T) {
	boom := errors.New("db down")
	f := NewFanout(staticUsers{err: boom}, &sender{}, 0, nil)

	_, err := f.Deliver(context.Background(), "job-2", 900, "hi")
	assert.ErrorIs(t, err, boom)
}

func TestFanout_EmptyBody(t *testing.T) {
	out := &sender{}
	f := NewFanout(staticUsers{ids: []int64{1}}, out, 0, nil)

	_, err := f.Deliver(context.Background(), "job-3", 900, "   ")
	assert.ErrorIs(t, err, ErrEmptyBody)
	assert.Empty(t, out.got)
}

func TestFanout_StopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	out := &sender{}
	f := NewFanout(staticUsers{ids: []int64{1, 2}}, out, 0, nil)

	res, err := f.Deliver(ctx, "job-4", 900, "hi")
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, res.Delivered)
}

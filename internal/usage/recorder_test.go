package usage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/suPer8Hu/relay-bot/internal/db/dbtest"
	"github.com/suPer8Hu/relay-bot/internal/models"
)

var day = time.Date(2026, 3, 14, 23, 30, 0, 0, time.UTC)

func TestRecord_UpsertsAndBumpsProfile(t *testing.T) {
	ctx := context.Background()
	gdb := dbtest.Open(t)
	rec := NewRecorder(gdb).WithClock(func() time.Time { return day })

	for i := 0; i < 3; i++ {
		require.NoError(t, rec.Record(ctx, 1, models.ActionChat, "gpt-4o"))
	}
	require.NoError(t, rec.Record(ctx, 1, models.ActionChat, "deepseek-r1"))
	require.NoError(t, rec.Record(ctx, 1, models.ActionImage, "realistic_stock_xl"))
	require.NoError(t, rec.Record(ctx, 1, models.ActionAudio, "gpt-4o"))
	require.NoError(t, rec.Record(ctx, 1, models.ActionSearch, "gpt-4"))

	n, err := rec.Count(ctx, 1, "2026-03-14", models.ActionChat, "gpt-4o")
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
	n, err = rec.Count(ctx, 1, "2026-03-14", models.ActionChat, "deepseek-r1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	n, err = rec.Count(ctx, 1, "2026-03-15", models.ActionChat, "gpt-4o")
	require.NoError(t, err)
	assert.Zero(t, n)

	var p models.Profile
	require.NoError(t, gdb.First(&p, "user_id = ?", 1).Error)
	assert.Equal(t, int64(5), p.ChatRequests)
	assert.Equal(t, int64(1), p.ImageRequests)
	assert.Equal(t, int64(1), p.AudioRequests)

	var rows int64
	require.NoError(t, gdb.Model(&models.UsageCounter{}).Count(&rows).Error)
	assert.Equal(t, int64(5), rows)
}

func TestRecord_NewDayNewRow(t *testing.T) {
	ctx := context.Background()
	gdb := dbtest.Open(t)
	now := day
	rec := NewRecorder(gdb).WithClock(func() time.Time { return now })

	require.NoError(t, rec.Record(ctx, 2, models.ActionChat, "gpt-4o"))
	now = now.Add(time.Hour)
	require.NoError(t, rec.Record(ctx, 2, models.ActionChat, "gpt-4o"))

	a, err := rec.Count(ctx, 2, "2026-03-14", models.ActionChat, "gpt-4o")
	require.NoError(t, err)
	b, err := rec.Count(ctx, 2, "2026-03-15", models.ActionChat, "gpt-4o")
	require.NoError(t, err)
	assert.Equal(t, int64(1), a)
	assert.Equal(t, int64(1), b)
}

func TestDailyAndTopUsers(t *testing.T) {
	ctx := context.Background()
	gdb := dbtest.Open(t)
	rec := NewRecorder(gdb).WithClock(func() time.Time { return day })

	require.NoError(t, rec.Record(ctx, 1, models.ActionChat, "gpt-4o"))
	require.NoError(t, rec.Record(ctx, 2, models.ActionChat, "gpt-4o"))
	require.NoError(t, rec.Record(ctx, 2, models.ActionChat, "gpt-4o"))
	require.NoError(t, rec.Record(ctx, 2, models.ActionImage, "flux"))

	daily, err := rec.Daily(ctx, rec.Today())
	require.NoError(t, err)
	require.Len(t, daily, 2)
	assert.Equal(t, DailyRow{ActionType: models.ActionChat, ModelName: "gpt-4o", Users: 2, Total: 3}, daily[0])
	assert.Equal(t, DailyRow{ActionType: models.ActionImage, ModelName: "flux", Users: 1, Total: 1}, daily[1])

	top, err := rec.TopUsers(ctx, 5)
	require.NoError(t, err)
	require.Len(t, top, 2)
	assert.Equal(t, int64(2), top[0].UserID)
	assert.Equal(t, int64(3), top[0].Total)
	assert.Equal(t, int64(1), top[1].Total)
}

package activity

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"helpdesk-bot/internal/config"
)

func setupTestTracker(t *testing.T) (*Tracker, *miniredis.Miniredis) {
	t.Helper()

	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(func() { mr.Close() })

	tracker, err := NewTracker(context.Background(), config.RedisConfig{Addr: mr.Addr()})
	require.NoError(t, err)
	t.Cleanup(func() { tracker.Close() })
	return tracker, mr
}

func TestTrackCountsUniqueUsers(t *testing.T) {
	tracker, mr := setupTestTracker(t)
	ctx := context.Background()
	require.NoError(t, tracker.Ping(ctx))

	for _, id := range []int64{1, 2, 1, 3, 2} {
		require.NoError(t, tracker.Track(ctx, id))
	}

	n, err := tracker.ActiveToday(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	key := dayKey(time.Now())
	assert.True(t, mr.Exists(key))
	assert.Equal(t, retention, mr.TTL(key))
}

func TestActiveOnSeparatesDays(t *testing.T) {
	tracker, _ := setupTestTracker(t)
	ctx := context.Background()

	yesterday := time.Date(2024, 3, 1, 23, 0, 0, 0, time.UTC)
	tracker.now = func() time.Time { return yesterday }
	require.NoError(t, tracker.Track(ctx, 10))

	tracker.now = func() time.Time { return yesterday.Add(2 * time.Hour) }
	require.NoError(t, tracker.Track(ctx, 11))
	require.NoError(t, tracker.Track(ctx, 12))

	n, err := tracker.ActiveOn(ctx, yesterday)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	n, err = tracker.ActiveToday(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}

func TestDisabledTrackerIsNoop(t *testing.T) {
	tracker, err := NewTracker(context.Background(), config.RedisConfig{})
	require.NoError(t, err)
	assert.False(t, tracker.Enabled())
	assert.NoError(t, tracker.Ping(context.Background()))

	assert.NoError(t, tracker.Track(context.Background(), 1))
	n, err := tracker.ActiveToday(context.Background())
	assert.NoError(t, err)
	assert.Zero(t, n)
	assert.NoError(t, tracker.Close())
}

func TestNewTrackerUnreachable(t *testing.T) {
	_, err := NewTracker(context.Background(), config.RedisConfig{Addr: "127.0.0.1:1"})
	assert.Error(t, err)
}

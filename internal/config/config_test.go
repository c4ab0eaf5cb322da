package config

import (
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("BOT_TOKEN", "test_token")
	t.Setenv("ADMINS", "111,222")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "test_token", cfg.BotToken)
	assert.Equal(t, []int64{111, 222}, cfg.Admins)
	assert.Equal(t, "/data/helpdesk.db", cfg.DBDsn)
	assert.Equal(t, 200*time.Millisecond, cfg.Broadcast.Delay)
	assert.Equal(t, 7, cfg.Broadcast.CheckpointEvery)
	assert.Equal(t, 7, cfg.WelcomePromoDays)
	assert.Empty(t, cfg.Redis.Addr)
	assert.False(t, cfg.PaymentsEnabled())
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("BOT_TOKEN", "test_token")
	t.Setenv("SUPPORT_GROUP_ID", "-100500")
	t.Setenv("SUBSCRIBE_TOPIC_ID", "42")
	t.Setenv("BROADCAST_DELAY", "1s")
	t.Setenv("YOOKASSA_SHOP_ID", "shop")
	t.Setenv("YOOKASSA_SECRET_KEY", "secret")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, int64(-100500), cfg.SupportGroupID)
	assert.Equal(t, 42, cfg.SubscribeTopicID)
	assert.Equal(t, time.Second, cfg.Broadcast.Delay)
	assert.True(t, cfg.PaymentsEnabled())
}

func TestIsAdmin(t *testing.T) {
	cfg := &Config{Admins: []int64{123456789}}

	tests := []struct {
		name     string
		userID   int64
		expected bool
	}{
		{name: "Admin from config", userID: 123456789, expected: true},
		{name: "Regular user", userID: 987654321, expected: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, cfg.IsAdmin(tt.userID))
		})
	}
}

func TestSlogLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, (&Config{LogLevel: "DEBUG"}).SlogLevel())
	assert.Equal(t, slog.LevelWarn, (&Config{LogLevel: "warn"}).SlogLevel())
	assert.Equal(t, slog.LevelInfo, (&Config{LogLevel: ""}).SlogLevel())
}

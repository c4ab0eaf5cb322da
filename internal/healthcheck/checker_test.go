package healthcheck

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type notes struct {
	messages []string
}

func (n *notes) notify(msg string) {
	n.messages = append(n.messages, msg)
}

func TestStartupCheckPasses(t *testing.T) {
	n := &notes{}
	c := NewChecker(n.notify,
		Probe{Name: "database", Check: func(context.Context) error { return nil }},
	)

	require.NoError(t, c.RunStartupCheck(context.Background()))
	require.Len(t, n.messages, 1)
	assert.Contains(t, n.messages[0], "Бот запущен")
}

func TestStartupCheckReportsFailures(t *testing.T) {
	n := &notes{}
	c := NewChecker(n.notify,
		Probe{Name: "database", Check: func(context.Context) error { return nil }},
		Probe{Name: "redis", Check: func(context.Context) error { return errors.New("connection refused") }},
	)

	err := c.RunStartupCheck(context.Background())
	require.Error(t, err)
	require.Len(t, n.messages, 1)
	assert.Contains(t, n.messages[0], "redis: connection refused")
	assert.NotContains(t, n.messages[0], "database")
}

func TestPeriodicAlertsAfterConsecutiveFailures(t *testing.T) {
	n := &notes{}
	healthy := false
	c := NewChecker(n.notify, Probe{Name: "redis", Check: func(context.Context) error {
		if healthy {
			return nil
		}
		return errors.New("down")
	}})
	ctx := context.Background()

	failures := 0
	failures = c.tick(ctx, failures)
	failures = c.tick(ctx, failures)
	assert.Equal(t, 2, failures)
	assert.Empty(t, n.messages)

	failures = c.tick(ctx, failures)
	assert.Zero(t, failures)
	require.Len(t, n.messages, 1)
	assert.Contains(t, n.messages[0], "КРИТИЧЕСКАЯ ОШИБКА")

	failures = c.tick(ctx, failures)
	healthy = true
	failures = c.tick(ctx, failures)
	assert.Zero(t, failures)
	require.Len(t, n.messages, 2)
	assert.Contains(t, n.messages[1], "восстановлены после 1")
}

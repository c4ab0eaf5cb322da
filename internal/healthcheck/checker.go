// Package healthcheck проверяет внешние зависимости бота при старте и периодически
package healthcheck

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

const (
	probeTimeout = 10 * time.Second
	maxFailures  = 3
)

// Probe - проверка одной зависимости
type Probe struct {
	Name  string
	Check func(ctx context.Context) error
}

type Checker struct {
	probes   []Probe
	notifyFn func(message string)
}

func NewChecker(notifyFn func(string), probes ...Probe) *Checker {
	return &Checker{
		probes:   probes,
		notifyFn: notifyFn,
	}
}

// RunStartupCheck прогоняет все проверки и сообщает итог в чат ошибок
func (c *Checker) RunStartupCheck(ctx context.Context) error {
	slog.Info("Running startup dependency check", "probes", len(c.probes))

	failed := c.runAll(ctx)
	if len(failed) > 0 {
		c.notifyFn(fmt.Sprintf("🚨 Бот запущен с ошибками зависимостей!\n\n%s", strings.Join(failed, "\n")))
		return fmt.Errorf("startup check failed: %s", strings.Join(failed, "; "))
	}

	slog.Info("Startup dependency check passed")
	c.notifyFn(fmt.Sprintf("✅ Бот запущен\n\n🔧 Проверено зависимостей: %d", len(c.probes)))
	return nil
}

func (c *Checker) runAll(ctx context.Context) []string {
	var failed []string
	for _, p := range c.probes {
		if err := c.run(ctx, p); err != nil {
			failed = append(failed, fmt.Sprintf("❌ %s: %v", p.Name, err))
		}
	}
	return failed
}

func (c *Checker) run(ctx context.Context, p Probe) error {
	probeCtx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	if err := p.Check(probeCtx); err != nil {
		slog.Error("Dependency check failed", "probe", p.Name, "error", err)
		return err
	}
	return nil
}

// RunPeriodic повторяет проверки и поднимает тревогу после maxFailures неудач подряд
func (c *Checker) RunPeriodic(ctx context.Context, interval time.Duration) {
	slog.Info("Starting periodic dependency check", "interval", interval)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	consecutiveFailures := 0
	for {
		select {
		case <-ctx.Done():
			slog.Info("Stopping dependency check")
			return
		case <-ticker.C:
			consecutiveFailures = c.tick(ctx, consecutiveFailures)
		}
	}
}

func (c *Checker) tick(ctx context.Context, consecutiveFailures int) int {
	failed := c.runAll(ctx)
	if len(failed) > 0 {
		consecutiveFailures++
		slog.Error("Dependency check failed", "consecutive_failures", consecutiveFailures)

		if consecutiveFailures >= maxFailures {
			c.notifyFn(fmt.Sprintf("🚨 КРИТИЧЕСКАЯ ОШИБКА: зависимости недоступны уже %d раз подряд!\n\n%s",
				consecutiveFailures, strings.Join(failed, "\n")))
			// Сбрасываем счетчик чтобы не спамить
			return 0
		}
		return consecutiveFailures
	}

	if consecutiveFailures > 0 {
		slog.Info("Dependency check recovered", "after_failures", consecutiveFailures)
		c.notifyFn(fmt.Sprintf("✅ Зависимости восстановлены после %d неудачных проверок", consecutiveFailures))
	}
	return 0
}

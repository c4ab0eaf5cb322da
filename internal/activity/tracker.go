// Package activity считает уникальных пользователей, писавших боту за сутки
package activity

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"helpdesk-bot/internal/config"
)

const (
	keyPrefix = "active_users:"
	retention = 7 * 24 * time.Hour
)

// Tracker без адреса Redis ничего не делает и всегда возвращает ноль
type Tracker struct {
	rdb *redis.Client
	now func() time.Time
}

func NewTracker(ctx context.Context, cfg config.RedisConfig) (*Tracker, error) {
	const op = "activity.NewTracker"
	if cfg.Addr == "" {
		return &Tracker{now: time.Now}, nil
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return &Tracker{rdb: rdb, now: time.Now}, nil
}

func (t *Tracker) Enabled() bool {
	return t.rdb != nil
}

func (t *Tracker) Ping(ctx context.Context) error {
	if t.rdb == nil {
		return nil
	}
	return t.rdb.Ping(ctx).Err()
}

func (t *Tracker) Track(ctx context.Context, userID int64) error {
	const op = "activity.Track"
	if t.rdb == nil {
		return nil
	}

	key := dayKey(t.now())
	pipe := t.rdb.TxPipeline()
	pipe.SAdd(ctx, key, strconv.FormatInt(userID, 10))
	pipe.Expire(ctx, key, retention)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// ActiveOn возвращает число уникальных пользователей за календарный день (UTC)
func (t *Tracker) ActiveOn(ctx context.Context, day time.Time) (int64, error) {
	const op = "activity.ActiveOn"
	if t.rdb == nil {
		return 0, nil
	}

	n, err := t.rdb.SCard(ctx, dayKey(day)).Result()
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	return n, nil
}

func (t *Tracker) ActiveToday(ctx context.Context) (int64, error) {
	return t.ActiveOn(ctx, t.now())
}

func (t *Tracker) Close() error {
	if t.rdb == nil {
		return nil
	}
	return t.rdb.Close()
}

func dayKey(ts time.Time) string {
	return keyPrefix + ts.UTC().Format("2006-01-02")
}

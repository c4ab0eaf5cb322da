package config

import (
	"log/slog"
	"strings"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

type Config struct {
	BotToken string  `env:"BOT_TOKEN" env-required:"true"`
	Admins   []int64 `env:"ADMINS" env-separator:","`

	// AdminErrorChatID получает отчеты об ошибках и нарушениях целостности данных
	AdminErrorChatID int64 `env:"ADMIN_ERROR_CHAT_ID"`

	SupportGroupID   int64 `env:"SUPPORT_GROUP_ID"`
	SubscribeTopicID int   `env:"SUBSCRIBE_TOPIC_ID"`

	DBDsn    string `env:"DB_DSN" env-default:"/data/helpdesk.db"`
	HTTPAddr string `env:"HTTP_ADDR" env-default:"0.0.0.0:8080"`
	LogLevel string `env:"LOG_LEVEL" env-default:"info"`

	WelcomePromoDays int `env:"WELCOME_PROMO_DAYS" env-default:"7"`

	Yookassa  YookassaConfig
	Broadcast BroadcastConfig
	Redis     RedisConfig
}

type YookassaConfig struct {
	ShopID    string `env:"YOOKASSA_SHOP_ID"`
	SecretKey string `env:"YOOKASSA_SECRET_KEY"`
	APIURL    string `env:"YOOKASSA_API_URL" env-default:"https://api.yookassa.ru/v3"`
	ReturnURL string `env:"YOOKASSA_RETURN_URL" env-default:"https://t.me"`
}

type BroadcastConfig struct {
	// Delay выдерживается между двумя отправками одной рассылки
	Delay time.Duration `env:"BROADCAST_DELAY" env-default:"200ms"`
	// CheckpointEvery задает, как часто прогресс рассылки сохраняется в БД
	CheckpointEvery int `env:"BROADCAST_CHECKPOINT_EVERY" env-default:"7"`
}

type RedisConfig struct {
	Addr     string `env:"REDIS_ADDR"`
	Password string `env:"REDIS_PASSWORD"`
	DB       int    `env:"REDIS_DB" env-default:"0"`
}

func Load() (*Config, error) {
	var cfg Config
	if err := cleanenv.ReadEnv(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) IsAdmin(userID int64) bool {
	for _, id := range c.Admins {
		if id == userID {
			return true
		}
	}
	return false
}

// PaymentsEnabled сообщает, настроены ли реквизиты магазина ЮKassa
func (c *Config) PaymentsEnabled() bool {
	return c.Yookassa.ShopID != "" && c.Yookassa.SecretKey != ""
}

func (c *Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}

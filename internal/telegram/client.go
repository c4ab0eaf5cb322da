package telegram

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/pkg/errors"

	"helpdesk-bot/internal/outbound"
)

const (
	pollTimeout = 30
	pollBackoff = 3 * time.Second
)

// Client - исходящие вызовы Bot API. Темы форума и message_thread_id
// в tgbotapi v5 не поддержаны, поэтому запросы собираются через MakeRequest.
type Client struct {
	bot *tgbotapi.BotAPI
}

func NewClient(token string) (*Client, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, err
	}
	bot.Debug = false

	// Удаляем webhook чтобы использовать long-polling
	if _, err := bot.Request(tgbotapi.DeleteWebhookConfig{}); err != nil {
		slog.Warn("Не удалось удалить webhook", "error", err)
	} else {
		slog.Info("Webhook удален, переключились на long-polling")
	}

	slog.Info("Авторизован как телеграм бот", "username", bot.Self.UserName)
	return &Client{bot: bot}, nil
}

func (c *Client) Username() string {
	return c.bot.Self.UserName
}

func (c *Client) SendText(ctx context.Context, chatID int64, threadID int, text string, button *outbound.Button) error {
	params := tgbotapi.Params{}
	params.AddNonZero64("chat_id", chatID)
	params.AddNonZero("message_thread_id", threadID)
	params["text"] = text
	if button != nil {
		markup := tgbotapi.NewInlineKeyboardMarkup(
			tgbotapi.NewInlineKeyboardRow(tgbotapi.NewInlineKeyboardButtonURL(button.Text, button.URL)),
		)
		if err := params.AddInterface("reply_markup", markup); err != nil {
			return err
		}
	}

	_, err := c.call(ctx, "sendMessage", params)
	return err
}

func (c *Client) SendPhoto(ctx context.Context, chatID int64, threadID int, fileID, caption string) error {
	params := tgbotapi.Params{}
	params.AddNonZero64("chat_id", chatID)
	params.AddNonZero("message_thread_id", threadID)
	params["photo"] = fileID
	params.AddNonEmpty("caption", caption)

	_, err := c.call(ctx, "sendPhoto", params)
	return err
}

func (c *Client) CreateThread(ctx context.Context, chatID int64, name string) (int, error) {
	params := tgbotapi.Params{}
	params.AddNonZero64("chat_id", chatID)
	params["name"] = name

	raw, err := c.call(ctx, "createForumTopic", params)
	if err != nil {
		return 0, err
	}

	var topic struct {
		MessageThreadID int `json:"message_thread_id"`
	}
	if err := json.Unmarshal(raw, &topic); err != nil {
		return 0, errors.Wrap(err, "failed to decode forum topic")
	}
	if topic.MessageThreadID == 0 {
		return 0, errors.New("forum topic without thread id")
	}
	return topic.MessageThreadID, nil
}

// SendKeyboard отправляет сообщение с inline-кнопками callback
func (c *Client) SendKeyboard(ctx context.Context, chatID int64, text string, markup tgbotapi.InlineKeyboardMarkup) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ReplyMarkup = markup
	_, err := c.bot.Send(msg)
	return classifyError(err)
}

func (c *Client) AnswerCallback(ctx context.Context, callbackID, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := c.bot.Request(tgbotapi.NewCallback(callbackID, text))
	return err
}

// SetCommands устанавливает меню команд
func (c *Client) SetCommands() error {
	commands := []tgbotapi.BotCommand{
		{Command: CmdStart.String(), Description: "🚀 Начать работу"},
		{Command: CmdHelp.String(), Description: "🆘 Написать в поддержку"},
		{Command: CmdStop.String(), Description: "❌ Завершить диалог с поддержкой"},
		{Command: CmdProfile.String(), Description: "👤 Профиль и подписка"},
		{Command: CmdSubscribe.String(), Description: "💳 Оформить подписку"},
		{Command: CmdPromo.String(), Description: "🎁 Активировать промокод"},
	}

	_, err := c.bot.Request(tgbotapi.NewSetMyCommands(commands...))
	return err
}

func (c *Client) call(ctx context.Context, endpoint string, params tgbotapi.Params) (json.RawMessage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	resp, err := c.bot.MakeRequest(endpoint, params)
	if err != nil {
		return nil, classifyError(err)
	}
	return resp.Result, nil
}

// Updates запускает long-polling и отдает обновления в канал до отмены ctx
func (c *Client) Updates(ctx context.Context) <-chan Update {
	out := make(chan Update)
	go c.poll(ctx, out)
	return out
}

func (c *Client) poll(ctx context.Context, out chan<- Update) {
	defer close(out)

	offset := 0
	for ctx.Err() == nil {
		params := tgbotapi.Params{}
		params.AddNonZero("offset", offset)
		params.AddNonZero("timeout", pollTimeout)
		if err := params.AddInterface("allowed_updates", []string{"message", "callback_query"}); err != nil {
			slog.Error("Failed to encode allowed_updates", "error", err)
			return
		}

		resp, err := c.bot.MakeRequest("getUpdates", params)
		if err != nil {
			slog.Warn("Failed to get updates, retrying", "error", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(pollBackoff):
			}
			continue
		}

		updates, err := decodeUpdates(resp.Result)
		if err != nil {
			slog.Error("Failed to decode updates", "error", err)
			continue
		}

		for _, upd := range updates {
			if upd.UpdateID >= offset {
				offset = upd.UpdateID + 1
			}
			select {
			case out <- upd:
			case <-ctx.Done():
				return
			}
		}
	}
}

// classifyError сводит ошибки Bot API к классам доставки
func classifyError(err error) error {
	if err == nil {
		return nil
	}

	var apiErr *tgbotapi.Error
	if !errors.As(err, &apiErr) {
		return err
	}

	desc := strings.ToLower(apiErr.Message)
	switch {
	case strings.Contains(desc, "thread not found"), strings.Contains(desc, "topic_deleted"),
		strings.Contains(desc, "topic_closed"):
		return errors.Wrap(outbound.ErrThreadNotFound, apiErr.Message)
	case apiErr.Code == 403, strings.Contains(desc, "chat not found"),
		strings.Contains(desc, "user is deactivated"), strings.Contains(desc, "blocked"):
		return errors.Wrap(outbound.ErrRecipientUnavailable, apiErr.Message)
	}
	return err
}

package telegram

import (
	"context"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"helpdesk-bot/internal/gates/yookassa"
	"helpdesk-bot/internal/outbound"
)

// Messenger - исходящие вызовы, которые нужны обработчикам команд
type Messenger interface {
	outbound.Sender
	SendKeyboard(ctx context.Context, chatID int64, text string, markup tgbotapi.InlineKeyboardMarkup) error
	AnswerCallback(ctx context.Context, callbackID, text string) error
}

// Payments выставляет ссылку на оплату тарифа
type Payments interface {
	Checkout(ctx context.Context, req yookassa.CheckoutRequest) (*yookassa.Payment, error)
}

// Activity учитывает активных пользователей
type Activity interface {
	Track(ctx context.Context, userID int64) error
	ActiveToday(ctx context.Context) (int64, error)
}

package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/pkg/errors"

	"helpdesk-bot/internal/db"
	"helpdesk-bot/internal/gates/yookassa"
	"helpdesk-bot/internal/ledger"
	"helpdesk-bot/internal/outbound"
)

const dateLayout = "02.01.2006"

func (s *Service) handleStart(ctx context.Context, msg *tgbotapi.Message) {
	text := `Добро пожаловать! 👋

Доступные команды:
/help - написать в поддержку
/stop - завершить диалог с поддержкой
/profile - профиль и подписка
/subscribe - оформить подписку
/promo <код> - активировать промокод`

	if s.isAdmin(msg.From.ID) {
		text += `

⚡ Администраторские команды:
/broadcast текст | кнопка | ссылка - рассылка всем
/adbroadcast текст | кнопка | ссылка - рассылка без подписки
/jobs - последние рассылки
/cancel_broadcast <id> - отменить рассылку
/addpromo <код> <дни>, /delpromo <код>, /delpromos, /promos
/addtariff <название> <цена> <дни>, /deltariff <id>, /tariffs
/deluser <id> - удалить пользователя
/stats - статистика`
	}

	s.reply(ctx, msg.Chat.ID, text)
}

func (s *Service) handleProfile(ctx context.Context, msg *tgbotapi.Message) {
	user, err := s.repo.FindUser(ctx, msg.From.ID)
	if err != nil {
		s.handleError(ctx, msg.Chat.ID, ErrDatabasef("find user %d: %v", msg.From.ID, err))
		return
	}

	sub, active, err := s.ledger.Status(ctx, msg.From.ID)
	if err != nil {
		s.handleError(ctx, msg.Chat.ID, ErrDatabasef("subscription status %d: %v", msg.From.ID, err))
		return
	}

	s.reply(ctx, msg.Chat.ID, fmt.Sprintf("👤 Профиль\n\n🆔 ID: %d\n📛 Имя: %s\n🔗 Username: %s\n\n%s",
		user.TgID, user.FirstName, user.Handle(), subscriptionLine(sub, active)))
}

func subscriptionLine(sub *db.Subscriber, active bool) string {
	switch {
	case sub == nil:
		return "📅 Подписка: не оформлена"
	case active:
		return "📅 Подписка активна до " + sub.ExpireAt.Format(dateLayout)
	}
	return "📅 Подписка истекла " + sub.ExpireAt.Format(dateLayout)
}

func (s *Service) handlePromo(ctx context.Context, msg *tgbotapi.Message) {
	code := strings.TrimSpace(msg.CommandArguments())
	if code == "" {
		s.reply(ctx, msg.Chat.ID, "Использование: /promo <код>\nПример: /promo WELCOME-1A2B3C")
		return
	}

	redemption, err := s.ledger.RedeemPromocode(ctx, msg.From.ID, code)
	if errors.Is(err, ledger.ErrPromocodeNotFound) {
		s.reply(ctx, msg.Chat.ID, "❌ Промокод не найден или уже использован.")
		return
	}
	if err != nil {
		s.handleError(ctx, msg.Chat.ID, ErrDatabasef("redeem %q for %d: %v", code, msg.From.ID, err))
		return
	}

	slog.Info("Promocode redeemed", "user_id", msg.From.ID, "code", ledger.NormalizeCode(code), "days", redemption.Days)
	s.reply(ctx, msg.Chat.ID, fmt.Sprintf("✅ Промокод активирован! Подписка продлена на %d дней.\n📅 Действует до: %s",
		redemption.Days, redemption.ExpireAt.Format(dateLayout)))
}

func (s *Service) handleSubscribe(ctx context.Context, msg *tgbotapi.Message) {
	if s.payments == nil {
		s.reply(ctx, msg.Chat.ID, "Оплата временно недоступна. Попробуйте позже или используйте промокод.")
		return
	}

	tariffs, err := s.repo.Tariffs(ctx)
	if err != nil {
		s.handleError(ctx, msg.Chat.ID, ErrDatabasef("list tariffs: %v", err))
		return
	}
	if len(tariffs) == 0 {
		s.reply(ctx, msg.Chat.ID, "Тарифы пока не добавлены")
		return
	}

	if err := s.msgr.SendKeyboard(ctx, msg.Chat.ID, "💳 Выберите тариф:", tariffKeyboard(tariffs)); err != nil {
		slog.Warn("Failed to send tariffs", "chat_id", msg.Chat.ID, "error", err)
	}
}

func tariffKeyboard(tariffs []db.Tariff) tgbotapi.InlineKeyboardMarkup {
	var keyboard [][]tgbotapi.InlineKeyboardButton
	for _, tariff := range tariffs {
		btn := tgbotapi.NewInlineKeyboardButtonData(
			fmt.Sprintf("%s - %d руб. / %d дней", tariff.Name, tariff.Price, tariff.DurationDays),
			CallbackBuyTariff.WithID(tariff.ID),
		)
		keyboard = append(keyboard, []tgbotapi.InlineKeyboardButton{btn})
	}
	return tgbotapi.NewInlineKeyboardMarkup(keyboard...)
}

func (s *Service) handleBuyTariffCallback(ctx context.Context, callback *tgbotapi.CallbackQuery) {
	userID := callback.From.ID

	id, err := strconv.ParseUint(strings.TrimPrefix(callback.Data, CallbackBuyTariff.String()), 10, 32)
	if err != nil {
		s.answerCallback(ctx, callback.ID, "Неверный ID тарифа")
		return
	}
	if s.payments == nil {
		s.answerCallback(ctx, callback.ID, "Оплата временно недоступна")
		return
	}

	tariff, err := s.repo.TariffByID(ctx, uint(id))
	if errors.Is(err, db.ErrNotFound) {
		s.answerCallback(ctx, callback.ID, "Тариф не найден")
		return
	}
	if err != nil {
		s.answerCallback(ctx, callback.ID, "")
		s.handleError(ctx, userID, ErrDatabasef("tariff %d: %v", id, err))
		return
	}

	payment, err := s.payments.Checkout(ctx, yookassa.CheckoutRequest{
		UserID:      userID,
		TariffID:    tariff.ID,
		PriceRub:    tariff.Price,
		Description: "Подписка: " + tariff.Name,
	})
	if err != nil {
		s.answerCallback(ctx, callback.ID, "")
		s.handleError(ctx, userID, ErrPaymentf("checkout tariff %d for %d: %v", tariff.ID, userID, err))
		return
	}

	s.answerCallback(ctx, callback.ID, "")
	slog.Info("Payment created", "user_id", userID, "tariff_id", tariff.ID, "payment_id", payment.ID)

	text := fmt.Sprintf("🏷️ Тариф: %s\n💰 Сумма: %d руб.\n⏳ Срок: %d дней\n\nНажмите кнопку ниже, чтобы оплатить. Подписка продлится автоматически после оплаты.",
		tariff.Name, tariff.Price, tariff.DurationDays)
	button := &outbound.Button{Text: "💳 Оплатить", URL: payment.Confirmation.ConfirmationURL}
	if err := s.msgr.SendText(ctx, userID, 0, text, button); err != nil {
		slog.Warn("Failed to send payment link", "user_id", userID, "error", err)
	}
}

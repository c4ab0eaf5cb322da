package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/pkg/errors"

	"helpdesk-bot/internal/broadcast"
	"helpdesk-bot/internal/db"
	"helpdesk-bot/internal/ledger"
	"helpdesk-bot/internal/outbound"
)

const jobsListLimit = 10

// parseBroadcastArgs разбирает "текст | текст кнопки | ссылка"
func parseBroadcastArgs(args string) (broadcast.Payload, error) {
	parts := strings.Split(args, "|")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}

	switch len(parts) {
	case 1:
		return broadcast.Payload{Text: parts[0]}, nil
	case 3:
		return broadcast.Payload{
			Text:   parts[0],
			Button: &outbound.Button{Text: parts[1], URL: parts[2]},
		}, nil
	}
	return broadcast.Payload{}, errors.New("expected text or text | button | url")
}

func (s *Service) handleBroadcast(ctx context.Context, msg *tgbotapi.Message, audience broadcast.Audience) {
	usage := fmt.Sprintf("Использование: /%s текст | текст кнопки | ссылка\nКнопка необязательна.", msg.Command())

	payload, err := parseBroadcastArgs(msg.CommandArguments())
	if err != nil {
		s.reply(ctx, msg.Chat.ID, usage)
		return
	}

	job, err := s.dispatcher.Start(ctx, broadcast.Request{
		InitiatorID: msg.From.ID,
		Audience:    audience,
		Payload:     payload,
	})
	switch {
	case errors.Is(err, broadcast.ErrEmptyText):
		s.reply(ctx, msg.Chat.ID, usage)
		return
	case errors.Is(err, broadcast.ErrInvalidButton):
		s.reply(ctx, msg.Chat.ID, "❌ Ссылка кнопки должна начинаться с http:// или https://")
		return
	case err != nil:
		s.handleError(ctx, msg.Chat.ID, ErrBroadcastf("start %s: %v", audience, err))
		return
	}

	s.reply(ctx, msg.Chat.ID, fmt.Sprintf("🚀 Рассылка запущена\n\n🆔 %s\n🎯 Аудитория: %s\n👥 Получателей: %d\n\nОтменить: /cancel_broadcast %s",
		broadcast.ShortID(job.ID), audience.DisplayName(), len(job.Recipients), broadcast.ShortID(job.ID)))
}

func (s *Service) handleJobs(ctx context.Context, msg *tgbotapi.Message) {
	jobs, err := s.dispatcher.Jobs(ctx, jobsListLimit)
	if err != nil {
		s.handleError(ctx, msg.Chat.ID, ErrDatabasef("list broadcasts: %v", err))
		return
	}
	if len(jobs) == 0 {
		s.reply(ctx, msg.Chat.ID, "Рассылок еще не было")
		return
	}

	var b strings.Builder
	b.WriteString("📨 Последние рассылки:\n")
	for _, job := range jobs {
		fmt.Fprintf(&b, "\n🆔 %s · %s\n📅 %s · %s\n👍 %d  👎 %d  из %d\n",
			broadcast.ShortID(job.ID),
			job.Status.DisplayName(),
			job.CreatedAt.Format("02.01.2006 15:04"),
			broadcast.Audience(job.Audience).DisplayName(),
			job.Sent, job.Failed, len(job.Recipients),
		)
	}
	s.reply(ctx, msg.Chat.ID, b.String())
}

func (s *Service) handleCancelBroadcast(ctx context.Context, msg *tgbotapi.Message) {
	id := strings.TrimSpace(msg.CommandArguments())
	if id == "" {
		s.reply(ctx, msg.Chat.ID, "Использование: /cancel_broadcast <id>\nСписок рассылок: /jobs")
		return
	}

	jobID, err := s.dispatcher.Cancel(id)
	if errors.Is(err, broadcast.ErrJobNotRunning) {
		s.reply(ctx, msg.Chat.ID, "Рассылка не найдена среди выполняющихся")
		return
	}
	if err != nil {
		s.handleError(ctx, msg.Chat.ID, ErrBroadcastf("cancel %s: %v", id, err))
		return
	}

	slog.Info("Broadcast cancel requested", "job_id", jobID, "admin_id", msg.From.ID)
	s.reply(ctx, msg.Chat.ID, fmt.Sprintf("⏹ Рассылка %s останавливается, итог придет отдельным сообщением", broadcast.ShortID(jobID)))
}

func (s *Service) handleAddPromo(ctx context.Context, msg *tgbotapi.Message) {
	args := strings.Fields(msg.CommandArguments())
	if len(args) != 2 {
		s.reply(ctx, msg.Chat.ID, "Использование: /addpromo <код> <дни>\nПример: /addpromo SPRING 14")
		return
	}

	days, err := strconv.Atoi(args[1])
	if err != nil {
		s.reply(ctx, msg.Chat.ID, "Неверное количество дней")
		return
	}

	promo, err := s.ledger.AddPromocode(ctx, args[0], days)
	switch {
	case errors.Is(err, ledger.ErrInvalidDuration):
		s.reply(ctx, msg.Chat.ID, "Количество дней должно быть больше нуля")
	case errors.Is(err, ledger.ErrPromocodeExists):
		s.reply(ctx, msg.Chat.ID, "Такой промокод уже существует")
	case err != nil:
		s.handleError(ctx, msg.Chat.ID, ErrDatabasef("add promocode: %v", err))
	default:
		s.reply(ctx, msg.Chat.ID, fmt.Sprintf("✅ Промокод %s на %d дней создан", promo.Code, promo.DurationDays))
	}
}

func (s *Service) handleDelPromo(ctx context.Context, msg *tgbotapi.Message) {
	code := strings.TrimSpace(msg.CommandArguments())
	if code == "" {
		s.reply(ctx, msg.Chat.ID, "Использование: /delpromo <код>")
		return
	}

	err := s.ledger.RemovePromocode(ctx, code)
	switch {
	case errors.Is(err, ledger.ErrPromocodeNotFound):
		s.reply(ctx, msg.Chat.ID, "Промокод не найден")
	case err != nil:
		s.handleError(ctx, msg.Chat.ID, ErrDatabasef("remove promocode: %v", err))
	default:
		s.reply(ctx, msg.Chat.ID, fmt.Sprintf("🗑 Промокод %s удален", ledger.NormalizeCode(code)))
	}
}

func (s *Service) handleDelPromos(ctx context.Context, msg *tgbotapi.Message) {
	n, err := s.ledger.RemoveAllPromocodes(ctx)
	if err != nil {
		s.handleError(ctx, msg.Chat.ID, ErrDatabasef("remove promocodes: %v", err))
		return
	}
	s.reply(ctx, msg.Chat.ID, fmt.Sprintf("🗑 Удалено промокодов: %d", n))
}

func (s *Service) handlePromos(ctx context.Context, msg *tgbotapi.Message) {
	promos, err := s.ledger.Promocodes(ctx)
	if err != nil {
		s.handleError(ctx, msg.Chat.ID, ErrDatabasef("list promocodes: %v", err))
		return
	}
	if len(promos) == 0 {
		s.reply(ctx, msg.Chat.ID, "Промокодов нет")
		return
	}

	var b strings.Builder
	b.WriteString("🎁 Промокоды:\n\n")
	for _, p := range promos {
		fmt.Fprintf(&b, "• %s - %d дней\n", p.Code, p.DurationDays)
	}
	s.reply(ctx, msg.Chat.ID, b.String())
}

// parseTariffArgs разбирает "<название> <цена> <дни>", название может содержать пробелы
func parseTariffArgs(args string) (name string, price, days int, err error) {
	fields := strings.Fields(args)
	if len(fields) < 3 {
		return "", 0, 0, errors.New("expected name, price and days")
	}

	n := len(fields)
	price, err = strconv.Atoi(fields[n-2])
	if err != nil || price <= 0 {
		return "", 0, 0, errors.Errorf("invalid price %q", fields[n-2])
	}
	days, err = strconv.Atoi(fields[n-1])
	if err != nil || days <= 0 {
		return "", 0, 0, errors.Errorf("invalid days %q", fields[n-1])
	}
	return strings.Join(fields[:n-2], " "), price, days, nil
}

func (s *Service) handleAddTariff(ctx context.Context, msg *tgbotapi.Message) {
	name, price, days, err := parseTariffArgs(msg.CommandArguments())
	if err != nil {
		s.reply(ctx, msg.Chat.ID, "Использование: /addtariff <название> <цена> <дни>\nПример: /addtariff Месяц 200 30")
		return
	}

	tariff, err := s.repo.CreateTariff(ctx, name, price, days)
	if err != nil {
		s.handleError(ctx, msg.Chat.ID, ErrDatabasef("create tariff: %v", err))
		return
	}
	s.reply(ctx, msg.Chat.ID, fmt.Sprintf("✅ Тариф \"%s\" создан (ID %d)", tariff.Name, tariff.ID))
}

func (s *Service) handleDelTariff(ctx context.Context, msg *tgbotapi.Message) {
	id, err := strconv.ParseUint(strings.TrimSpace(msg.CommandArguments()), 10, 32)
	if err != nil {
		s.reply(ctx, msg.Chat.ID, "Использование: /deltariff <id>\nСписок тарифов: /tariffs")
		return
	}

	err = s.repo.DeleteTariff(ctx, uint(id))
	switch {
	case errors.Is(err, db.ErrNotFound):
		s.handleError(ctx, msg.Chat.ID, ErrTariffNotFoundf("tariff %d", id))
	case err != nil:
		s.handleError(ctx, msg.Chat.ID, ErrDatabasef("delete tariff %d: %v", id, err))
	default:
		s.reply(ctx, msg.Chat.ID, fmt.Sprintf("🗑 Тариф %d удален", id))
	}
}

func (s *Service) handleTariffs(ctx context.Context, msg *tgbotapi.Message) {
	tariffs, err := s.repo.Tariffs(ctx)
	if err != nil {
		s.handleError(ctx, msg.Chat.ID, ErrDatabasef("list tariffs: %v", err))
		return
	}
	if len(tariffs) == 0 {
		s.reply(ctx, msg.Chat.ID, "Тарифы пока не добавлены")
		return
	}

	text := "📋 Тарифы:\n\n"
	for _, t := range tariffs {
		text += fmt.Sprintf("🔹 #%d %s\n💰 %d руб.\n⏱ %d дней\n\n", t.ID, t.Name, t.Price, t.DurationDays)
	}
	s.reply(ctx, msg.Chat.ID, text)
}

func (s *Service) handleDelUser(ctx context.Context, msg *tgbotapi.Message) {
	userID, err := strconv.ParseInt(strings.TrimSpace(msg.CommandArguments()), 10, 64)
	if err != nil {
		s.reply(ctx, msg.Chat.ID, "Использование: /deluser <telegram id>")
		return
	}

	err = s.repo.DeleteUser(ctx, userID)
	switch {
	case errors.Is(err, db.ErrNotFound):
		s.handleError(ctx, msg.Chat.ID, ErrUserNotFoundf("user %d", userID))
	case err != nil:
		s.handleError(ctx, msg.Chat.ID, ErrDatabasef("delete user %d: %v", userID, err))
	default:
		slog.Info("User deleted by admin", "user_id", userID, "admin_id", msg.From.ID)
		s.reply(ctx, msg.Chat.ID, fmt.Sprintf("🗑 Пользователь %d удален вместе с подпиской и тикетами", userID))
	}
}

func (s *Service) handleStats(ctx context.Context, msg *tgbotapi.Message) {
	users, err := s.repo.CountUsers(ctx)
	if err != nil {
		s.handleError(ctx, msg.Chat.ID, ErrDatabasef("count users: %v", err))
		return
	}
	subscribers, err := s.repo.CountActiveSubscribers(ctx, time.Now())
	if err != nil {
		s.handleError(ctx, msg.Chat.ID, ErrDatabasef("count subscribers: %v", err))
		return
	}
	open, err := s.bridge.Registry().CountOpen(ctx)
	if err != nil {
		s.handleError(ctx, msg.Chat.ID, ErrDatabasef("count tickets: %v", err))
		return
	}

	text := fmt.Sprintf("📊 Статистика\n\n👥 Пользователей: %d\n💳 Активных подписок: %d\n🎫 Открытых тикетов: %d",
		users, subscribers, open)
	if s.activity != nil {
		if active, err := s.activity.ActiveToday(ctx); err == nil {
			text += fmt.Sprintf("\n🔥 Активны сегодня: %d", active)
		}
	}
	s.reply(ctx, msg.Chat.ID, text)
}

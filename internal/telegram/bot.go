package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"helpdesk-bot/internal/broadcast"
	"helpdesk-bot/internal/config"
	"helpdesk-bot/internal/db"
	"helpdesk-bot/internal/ledger"
	"helpdesk-bot/internal/support"
)

// Deps - компоненты, с которыми работают обработчики
type Deps struct {
	Repo       *db.Repository
	Ledger     *ledger.Ledger
	Bridge     *support.Bridge
	Dispatcher *broadcast.Dispatcher
	// Payments равен nil, если магазин не настроен
	Payments Payments
	Activity Activity
}

type Service struct {
	client *Client
	msgr   Messenger
	cfg    *config.Config

	repo       *db.Repository
	ledger     *ledger.Ledger
	bridge     *support.Bridge
	dispatcher *broadcast.Dispatcher
	payments   Payments
	activity   Activity
}

func New(cfg *config.Config, client *Client, deps Deps) *Service {
	s := &Service{
		client:     client,
		msgr:       client,
		cfg:        cfg,
		repo:       deps.Repo,
		ledger:     deps.Ledger,
		bridge:     deps.Bridge,
		dispatcher: deps.Dispatcher,
		payments:   deps.Payments,
		activity:   deps.Activity,
	}

	if err := client.SetCommands(); err != nil {
		slog.Warn("Не удалось установить меню команд", "error", err)
	}
	return s
}

func (s *Service) Start(ctx context.Context) error {
	updates := s.client.Updates(ctx)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case upd, ok := <-updates:
			if !ok {
				return ctx.Err()
			}
			s.handleUpdate(ctx, upd)
		}
	}
}

func (s *Service) handleUpdate(ctx context.Context, upd Update) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("Panic while handling update", "update_id", upd.UpdateID, "panic", r)
		}
	}()

	if upd.Message != nil && upd.Message.From != nil {
		msg := upd.Message
		if s.cfg.SupportGroupID != 0 && msg.Chat.ID == s.cfg.SupportGroupID {
			s.handleSupportGroupMessage(ctx, msg, upd.ThreadID, upd.IsTopicReply)
			return
		}
		if !msg.Chat.IsPrivate() {
			return
		}

		s.registerContact(ctx, msg.From)

		if msg.IsCommand() {
			s.handleCommand(ctx, msg)
		} else {
			s.handlePrivateMessage(ctx, msg)
		}
		return
	}

	if upd.CallbackQuery != nil {
		s.handleCallbackQuery(ctx, upd.CallbackQuery)
		return
	}
}

// registerContact обновляет профиль пользователя; при первом контакте выдает приветственный промокод
func (s *Service) registerContact(ctx context.Context, from *tgbotapi.User) {
	if s.activity != nil {
		if err := s.activity.Track(ctx, from.ID); err != nil {
			slog.Warn("Failed to track activity", "user_id", from.ID, "error", err)
		}
	}

	created, err := s.repo.UpsertUser(ctx, from.ID, from.FirstName, from.UserName)
	if err != nil {
		slog.Error("Failed to upsert user", "user_id", from.ID, "error", err)
		return
	}
	if created {
		s.onboard(ctx, from)
	}
}

func (s *Service) onboard(ctx context.Context, from *tgbotapi.User) {
	slog.Info("New user registered", "user_id", from.ID, "username", from.UserName)

	author := authorOf(from)
	s.notifyAdmins(ctx, fmt.Sprintf("🆕 Новый пользователь: %s (%s)\n🆔 ID: %d",
		from.FirstName, author.DisplayName(), from.ID))

	if s.cfg.WelcomePromoDays <= 0 {
		return
	}
	promo, err := s.ledger.IssueWelcomePromocode(ctx, s.cfg.WelcomePromoDays)
	if err != nil {
		slog.Error("Failed to issue welcome promocode", "user_id", from.ID, "error", err)
		return
	}
	s.reply(ctx, from.ID, fmt.Sprintf("🎁 Ваш приветственный промокод: %s\nОн дает %d дней подписки. Активируйте его командой /promo %s",
		promo.Code, promo.DurationDays, promo.Code))
}

func (s *Service) handleCallbackQuery(ctx context.Context, callback *tgbotapi.CallbackQuery) {
	data := callback.Data

	if strings.HasPrefix(data, CallbackBuyTariff.String()) {
		s.handleBuyTariffCallback(ctx, callback)
		return
	}

	s.answerCallback(ctx, callback.ID, "")
}

func (s *Service) handleCommand(ctx context.Context, msg *tgbotapi.Message) {
	cmd := Command(msg.Command())

	// Проверяем валидность команды
	if !cmd.IsValid() {
		s.handleUnknown(ctx, msg)
		return
	}

	// Проверяем права для админских команд
	if cmd.IsAdminOnly() && !s.isAdmin(msg.From.ID) {
		s.reply(ctx, msg.Chat.ID, "У вас нет прав для этой команды")
		return
	}

	switch cmd {
	case CmdStart:
		s.handleStart(ctx, msg)
	case CmdHelp:
		s.handleHelp(ctx, msg)
	case CmdStop:
		s.handleStop(ctx, msg)
	case CmdProfile:
		s.handleProfile(ctx, msg)
	case CmdPromo:
		s.handlePromo(ctx, msg)
	case CmdSubscribe:
		s.handleSubscribe(ctx, msg)
	case CmdBroadcast:
		s.handleBroadcast(ctx, msg, broadcast.AudienceAll)
	case CmdAdBroadcast:
		s.handleBroadcast(ctx, msg, broadcast.AudienceUnsubscribed)
	case CmdJobs:
		s.handleJobs(ctx, msg)
	case CmdCancelBroadcast:
		s.handleCancelBroadcast(ctx, msg)
	case CmdAddPromo:
		s.handleAddPromo(ctx, msg)
	case CmdDelPromo:
		s.handleDelPromo(ctx, msg)
	case CmdDelPromos:
		s.handleDelPromos(ctx, msg)
	case CmdPromos:
		s.handlePromos(ctx, msg)
	case CmdAddTariff:
		s.handleAddTariff(ctx, msg)
	case CmdDelTariff:
		s.handleDelTariff(ctx, msg)
	case CmdTariffs:
		s.handleTariffs(ctx, msg)
	case CmdDelUser:
		s.handleDelUser(ctx, msg)
	case CmdStats:
		s.handleStats(ctx, msg)
	}
}

func (s *Service) handleUnknown(ctx context.Context, msg *tgbotapi.Message) {
	s.reply(ctx, msg.Chat.ID, "Неизвестная команда. Используйте /start")
}

func (s *Service) reply(ctx context.Context, chatID int64, text string) {
	if err := s.msgr.SendText(ctx, chatID, 0, text, nil); err != nil {
		slog.Warn("Failed to send reply", "chat_id", chatID, "error", err)
	}
}

func (s *Service) isAdmin(userID int64) bool {
	return s.cfg.IsAdmin(userID)
}

func (s *Service) notifyAdmins(ctx context.Context, text string) {
	for _, adminID := range s.cfg.Admins {
		s.reply(ctx, adminID, text)
	}
}

func (s *Service) answerCallback(ctx context.Context, callbackID, text string) {
	if err := s.msgr.AnswerCallback(ctx, callbackID, text); err != nil {
		slog.Debug("Failed to answer callback", "error", err)
	}
}

func authorOf(u *tgbotapi.User) support.Author {
	return support.Author{ID: u.ID, Username: u.UserName}
}

package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"helpdesk-bot/internal/db"
	"helpdesk-bot/internal/outbound"
)

const (
	reminderLead = 3 * 24 * time.Hour
	jobTimeout   = 5 * time.Minute
)

type Store interface {
	SubscribersExpiringBetween(ctx context.Context, from, to time.Time) ([]db.Subscriber, error)
	CountUsers(ctx context.Context) (int64, error)
	CountActiveSubscribers(ctx context.Context, now time.Time) (int64, error)
}

type TicketCounter interface {
	CountOpen(ctx context.Context) (int64, error)
}

type ActivityCounter interface {
	ActiveToday(ctx context.Context) (int64, error)
}

type Scheduler struct {
	cron     *cron.Cron
	store    Store
	tickets  TicketCounter
	activity ActivityCounter
	sender   outbound.Sender
	admins   []int64
	now      func() time.Time
}

func NewScheduler(store Store, tickets TicketCounter, activity ActivityCounter, sender outbound.Sender, admins []int64) *Scheduler {
	return &Scheduler{
		cron:     cron.New(cron.WithLocation(time.UTC)),
		store:    store,
		tickets:  tickets,
		activity: activity,
		sender:   sender,
		admins:   admins,
		now:      time.Now,
	}
}

func (s *Scheduler) Start() error {
	// Cron-задача: напоминания об истечении (ежедневно в 10:00 UTC)
	_, err := s.cron.AddFunc("0 10 * * *", s.sendExpirationReminders)
	if err != nil {
		return fmt.Errorf("failed to add expiration reminders job: %w", err)
	}

	// Cron-задача: суточная статистика админам (ежедневно в 06:00 UTC)
	_, err = s.cron.AddFunc("0 6 * * *", s.sendDailyStats)
	if err != nil {
		return fmt.Errorf("failed to add daily stats job: %w", err)
	}

	s.cron.Start()
	slog.Info("Cron scheduler started")

	return nil
}

func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	slog.Info("Cron scheduler stopped")
}

func (s *Scheduler) sendExpirationReminders() {
	ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
	defer cancel()

	if _, err := s.RemindExpiring(ctx); err != nil {
		slog.Error("Expiration reminders failed", "error", err)
	}
}

// RemindExpiring уведомляет тех, чья подписка истекает через двое-трое суток.
// Окно шириной в сутки совпадает с периодом задачи, поэтому напоминание приходит один раз.
func (s *Scheduler) RemindExpiring(ctx context.Context) (int, error) {
	now := s.now().UTC()
	to := now.Add(reminderLead)
	from := to.Add(-24 * time.Hour)

	subs, err := s.store.SubscribersExpiringBetween(ctx, from, to)
	if err != nil {
		return 0, fmt.Errorf("failed to fetch expiring subscriptions: %w", err)
	}
	if len(subs) == 0 {
		return 0, nil
	}

	slog.Info("Found subscriptions expiring soon", "count", len(subs))

	sent := 0
	for _, sub := range subs {
		text := fmt.Sprintf(`⚠️ Напоминание о подписке

Ваша подписка истекает %s.

Чтобы продлить ее, используйте команду /subscribe или активируйте промокод через /promo`,
			sub.ExpireAt.Format("02.01.2006"),
		)

		if err := s.sender.SendText(ctx, sub.UserID, 0, text, nil); err != nil {
			slog.Warn("Failed to send expiration reminder", "user_id", sub.UserID, "error", err)
			continue
		}
		sent++
	}
	return sent, nil
}

func (s *Scheduler) sendDailyStats() {
	ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
	defer cancel()

	report, err := s.DailyStats(ctx)
	if err != nil {
		slog.Error("Failed to collect daily stats", "error", err)
		s.sendAdminReport(ctx, "🚨 Не удалось собрать статистику: "+err.Error())
		return
	}
	s.sendAdminReport(ctx, report)
}

// DailyStats собирает текст суточного отчета
func (s *Scheduler) DailyStats(ctx context.Context) (string, error) {
	users, err := s.store.CountUsers(ctx)
	if err != nil {
		return "", fmt.Errorf("count users: %w", err)
	}
	subscribers, err := s.store.CountActiveSubscribers(ctx, s.now())
	if err != nil {
		return "", fmt.Errorf("count subscribers: %w", err)
	}
	open, err := s.tickets.CountOpen(ctx)
	if err != nil {
		return "", fmt.Errorf("count open tickets: %w", err)
	}
	active, err := s.activity.ActiveToday(ctx)
	if err != nil {
		slog.Warn("Activity counter unavailable", "error", err)
		active = 0
	}

	return fmt.Sprintf("📊 Статистика на %s\n\n👥 Пользователей: %d\n💳 Активных подписок: %d\n🎫 Открытых тикетов: %d\n🔥 Активны сегодня: %d",
		s.now().UTC().Format("02.01.2006"), users, subscribers, open, active), nil
}

// sendAdminReport отправляет отчет всем админам
func (s *Scheduler) sendAdminReport(ctx context.Context, message string) {
	for _, adminID := range s.admins {
		if err := s.sender.SendText(ctx, adminID, 0, message, nil); err != nil {
			slog.Warn("Failed to send admin report", "admin_id", adminID, "error", err)
		}
	}
}

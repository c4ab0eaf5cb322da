// Package support связывает пользователей с темами форума поддержки
// и пересылает сообщения между ними.
package support

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sync/singleflight"
	"gorm.io/gorm"

	"helpdesk-bot/internal/db"
	"helpdesk-bot/internal/metrics"
	"helpdesk-bot/internal/outbound"
)

// Registry хранит соответствие пользователь -> открытый тикет -> тема форума.
// У пользователя не бывает больше одного открытого тикета.
type Registry struct {
	db      *gorm.DB
	sender  outbound.Sender
	groupID int64
	flights singleflight.Group
	now     func() time.Time
}

func NewRegistry(repo *db.Repository, sender outbound.Sender, groupID int64) *Registry {
	return &Registry{
		db:      repo.DB(),
		sender:  sender,
		groupID: groupID,
		now:     time.Now,
	}
}

// OpenOrGet возвращает открытый тикет пользователя или создает новый вместе с темой форума.
// Параллельные вызовы для одного пользователя схлопываются в один.
func (r *Registry) OpenOrGet(ctx context.Context, userID int64, displayName string) (*db.Ticket, bool, error) {
	created := false
	v, err, _ := r.flights.Do(strconv.FormatInt(userID, 10), func() (any, error) {
		// Результат разделяют все ожидающие, поэтому отмена первого вызова не должна его прерывать
		t, c, err := r.openOrGet(context.WithoutCancel(ctx), userID, displayName)
		created = c
		return t, err
	})
	if err != nil {
		return nil, false, err
	}
	ticket := *v.(*db.Ticket)
	return &ticket, created, nil
}

func (r *Registry) openOrGet(ctx context.Context, userID int64, displayName string) (*db.Ticket, bool, error) {
	existing, err := r.FindOpen(ctx, userID)
	if err != nil {
		return nil, false, err
	}
	if existing != nil {
		return existing, false, nil
	}

	topicID, err := r.sender.CreateThread(ctx, r.groupID, threadName(userID, displayName))
	if err != nil {
		return nil, false, errors.Wrap(err, "failed to create support thread")
	}

	ticket := &db.Ticket{
		UserID:    userID,
		Username:  displayName,
		TopicID:   topicID,
		Status:    db.TicketOpen,
		CreatedAt: r.now().UTC(),
	}
	err = r.db.WithContext(ctx).Create(ticket).Error
	if err == nil {
		metrics.TicketsOpened.Inc()
		slog.Info("Support ticket opened", "user_id", userID, "topic_id", topicID, "ticket_id", ticket.ID)
		return ticket, true, nil
	}

	// Тема уже создана, но тикет не записан: тема остается сиротой
	slog.Error("Orphaned support thread", "user_id", userID, "topic_id", topicID, "error", err)
	if db.IsUniqueViolation(err) {
		existing, findErr := r.FindOpen(ctx, userID)
		if findErr == nil && existing != nil {
			return existing, false, nil
		}
	}
	return nil, false, errors.Wrap(err, "failed to persist ticket")
}

// FindOpen возвращает открытый тикет пользователя или nil
func (r *Registry) FindOpen(ctx context.Context, userID int64) (*db.Ticket, error) {
	return r.findOpen(ctx, "user_id = ?", userID)
}

// ResolveByTopic возвращает открытый тикет, привязанный к теме, или nil.
// Закрытые тикеты никогда не сопоставляются.
func (r *Registry) ResolveByTopic(ctx context.Context, topicID int) (*db.Ticket, error) {
	return r.findOpen(ctx, "topic_id = ?", topicID)
}

func (r *Registry) findOpen(ctx context.Context, cond string, arg any) (*db.Ticket, error) {
	var ticket db.Ticket
	err := r.db.WithContext(ctx).
		Where(cond, arg).
		Where("status = ?", db.TicketOpen).
		Order("id DESC").
		Take(&ticket).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to find ticket")
	}
	return &ticket, nil
}

// Close закрывает открытый тикет пользователя.
// closed = false, если открытого тикета не было: повторное закрытие ничего не меняет.
func (r *Registry) Close(ctx context.Context, userID int64) (*db.Ticket, bool, error) {
	ticket, err := r.FindOpen(ctx, userID)
	if err != nil || ticket == nil {
		return nil, false, err
	}
	return r.CloseTicket(ctx, ticket)
}

// CloseByTopic закрывает открытый тикет, привязанный к теме
func (r *Registry) CloseByTopic(ctx context.Context, topicID int) (*db.Ticket, bool, error) {
	ticket, err := r.ResolveByTopic(ctx, topicID)
	if err != nil || ticket == nil {
		return nil, false, err
	}
	return r.CloseTicket(ctx, ticket)
}

// CloseTicket переводит тикет в closed. Обновление условное, поэтому из двух
// конкурирующих закрытий успешным считается только одно.
func (r *Registry) CloseTicket(ctx context.Context, ticket *db.Ticket) (*db.Ticket, bool, error) {
	if !ticket.Status.CanTransition(db.TicketClosed) {
		return ticket, false, nil
	}

	closedAt := r.now().UTC()
	res := r.db.WithContext(ctx).Model(&db.Ticket{}).
		Where("id = ? AND status = ?", ticket.ID, db.TicketOpen).
		Updates(map[string]any{"status": db.TicketClosed, "closed_at": closedAt})
	if res.Error != nil {
		return nil, false, errors.Wrap(res.Error, "failed to close ticket")
	}

	updated := *ticket
	updated.Status = db.TicketClosed
	if res.RowsAffected == 0 {
		return &updated, false, nil
	}
	updated.ClosedAt = &closedAt
	slog.Info("Support ticket closed", "user_id", ticket.UserID, "topic_id", ticket.TopicID, "ticket_id", ticket.ID)
	return &updated, true, nil
}

func (r *Registry) CountOpen(ctx context.Context) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&db.Ticket{}).Where("status = ?", db.TicketOpen).Count(&n).Error
	return n, err
}

func threadName(userID int64, displayName string) string {
	if displayName == "" {
		return strconv.FormatInt(userID, 10)
	}
	return fmt.Sprintf("%s | %d", displayName, userID)
}

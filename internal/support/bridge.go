package support

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/pkg/errors"

	"helpdesk-bot/internal/db"
	"helpdesk-bot/internal/metrics"
	"helpdesk-bot/internal/outbound"
)

const (
	directionToStaff = "to_staff"
	directionToUser  = "to_user"
)

// Author - отправитель сообщения
type Author struct {
	ID       int64
	Username string
}

// DisplayName возвращает @username или заглушку
func (a Author) DisplayName() string {
	if a.Username == "" {
		return "Без username"
	}
	return "@" + a.Username
}

// Message - входящее сообщение с одной из сторон тикета
type Message struct {
	From        Author
	Text        string
	PhotoFileID string
	Caption     string
}

// Forwardable сообщает, есть ли в сообщении текст или фото
func (m Message) Forwardable() bool {
	return m.Text != "" || m.PhotoFileID != ""
}

// Bridge пересылает сообщения между пользователями и темами группы поддержки
type Bridge struct {
	registry    *Registry
	sender      outbound.Sender
	groupID     int64
	alertChatID int64
}

func NewBridge(registry *Registry, sender outbound.Sender, groupID, alertChatID int64) *Bridge {
	return &Bridge{
		registry:    registry,
		sender:      sender,
		groupID:     groupID,
		alertChatID: alertChatID,
	}
}

func (b *Bridge) Registry() *Registry {
	return b.registry
}

// OpenSupport открывает диалог с поддержкой (/help)
func (b *Bridge) OpenSupport(ctx context.Context, from Author) (*db.Ticket, error) {
	ticket, created, err := b.registry.OpenOrGet(ctx, from.ID, from.DisplayName())
	if err != nil {
		return nil, err
	}

	if !created {
		b.notify(ctx, from.ID, 0, "💬 Чат с поддержкой уже открыт. Напишите ваш вопрос.\nЧтобы завершить диалог, нажмите /stop.")
		return ticket, nil
	}

	b.notify(ctx, from.ID, 0, "🆘 Чат с поддержкой открыт!\nЧтобы завершить диалог, нажмите /stop.")
	b.announce(ctx, ticket, from)
	return ticket, nil
}

// ForwardUserToStaff пересылает сообщение пользователя в его тему, при необходимости открывая тикет
func (b *Bridge) ForwardUserToStaff(ctx context.Context, msg Message) error {
	if !msg.Forwardable() {
		b.notify(ctx, msg.From.ID, 0, "⚠️ Этот тип сообщений не поддерживается. Отправьте текст или фото.")
		metrics.RelayMessages.WithLabelValues(directionToStaff, "unsupported").Inc()
		return nil
	}

	ticket, created, err := b.registry.OpenOrGet(ctx, msg.From.ID, msg.From.DisplayName())
	if err != nil {
		return err
	}
	if created {
		b.announce(ctx, ticket, msg.From)
	}

	header := fmt.Sprintf("Сообщение от %s | id: %d", msg.From.DisplayName(), msg.From.ID)
	if msg.PhotoFileID != "" {
		err = b.sender.SendPhoto(ctx, b.groupID, ticket.TopicID, msg.PhotoFileID, joinLines(header, msg.Caption))
	} else {
		err = b.sender.SendText(ctx, b.groupID, ticket.TopicID, joinLines(header, msg.Text), nil)
	}
	if err == nil {
		metrics.RelayMessages.WithLabelValues(directionToStaff, "ok").Inc()
		slog.Debug("Message forwarded to support", "user_id", msg.From.ID, "topic_id", ticket.TopicID)
		return nil
	}
	metrics.RelayMessages.WithLabelValues(directionToStaff, "failed").Inc()

	if errors.Is(err, outbound.ErrThreadNotFound) {
		// Тема удалена вручную: тикет закрывается, иначе он будет падать вечно
		if _, _, closeErr := b.registry.CloseTicket(ctx, ticket); closeErr != nil {
			return closeErr
		}
		metrics.TicketsClosed.WithLabelValues("thread_missing").Inc()
		slog.Error("Support thread not found, ticket closed", "user_id", msg.From.ID, "topic_id", ticket.TopicID)
		b.notify(ctx, msg.From.ID, 0, "❗️ Диалог с поддержкой был удалён или устарел. Пожалуйста, начните чат заново через /help.")
		b.alert(ctx, fmt.Sprintf("🚨 Тема поддержки не найдена\n\nПользователь: %s | id: %d\nТема: %d\nТикет закрыт автоматически.",
			msg.From.DisplayName(), msg.From.ID, ticket.TopicID))
		return nil
	}

	slog.Warn("Failed to forward message to support", "user_id", msg.From.ID, "topic_id", ticket.TopicID, "error", err)
	b.notify(ctx, msg.From.ID, 0, "❗️ Не удалось отправить сообщение в поддержку. Попробуйте позже.")
	return nil
}

// ForwardStaffToUser пересылает ответ сотрудника из темы пользователю.
// Если тикет уже закрыт, сотрудник получает уведомление, пользователю ничего не уходит.
func (b *Bridge) ForwardStaffToUser(ctx context.Context, msg Message, topicID int) error {
	ticket, err := b.registry.ResolveByTopic(ctx, topicID)
	if err != nil {
		return err
	}
	if ticket == nil {
		b.notify(ctx, b.groupID, topicID, "Тикет уже закрыт.")
		metrics.RelayMessages.WithLabelValues(directionToUser, "closed").Inc()
		return nil
	}

	if !msg.Forwardable() {
		b.notify(ctx, b.groupID, topicID, "⚠️ Пользователю можно переслать только текст или фото.")
		metrics.RelayMessages.WithLabelValues(directionToUser, "unsupported").Inc()
		return nil
	}

	const header = "💬 Ответ поддержки:"
	if msg.PhotoFileID != "" {
		err = b.sender.SendPhoto(ctx, ticket.UserID, 0, msg.PhotoFileID, joinLines(header, msg.Caption))
	} else {
		err = b.sender.SendText(ctx, ticket.UserID, 0, joinLines(header, msg.Text), nil)
	}
	if err == nil {
		metrics.RelayMessages.WithLabelValues(directionToUser, "ok").Inc()
		slog.Debug("Support reply delivered", "user_id", ticket.UserID, "topic_id", topicID, "staff_id", msg.From.ID)
		return nil
	}
	metrics.RelayMessages.WithLabelValues(directionToUser, "failed").Inc()

	if errors.Is(err, outbound.ErrRecipientUnavailable) {
		if _, _, closeErr := b.registry.CloseTicket(ctx, ticket); closeErr != nil {
			return closeErr
		}
		metrics.TicketsClosed.WithLabelValues("recipient_unavailable").Inc()
		slog.Warn("Support recipient unavailable, ticket closed", "user_id", ticket.UserID, "topic_id", topicID)
		b.notify(ctx, b.groupID, topicID, "❌ Пользователь недоступен (заблокировал бота или удалил аккаунт). Тикет закрыт.")
		return nil
	}

	slog.Warn("Failed to deliver support reply", "user_id", ticket.UserID, "topic_id", topicID, "error", err)
	b.notify(ctx, b.groupID, topicID, "❗️ Не удалось доставить сообщение пользователю.")
	return nil
}

// CloseByUser обрабатывает /stop от пользователя
func (b *Bridge) CloseByUser(ctx context.Context, from Author) error {
	ticket, closed, err := b.registry.Close(ctx, from.ID)
	if err != nil {
		return err
	}
	if !closed {
		b.notify(ctx, from.ID, 0, "У вас нет открытого диалога с поддержкой.")
		return nil
	}

	metrics.TicketsClosed.WithLabelValues("user").Inc()
	b.notify(ctx, from.ID, 0, "Диалог с поддержкой завершён.")
	b.notify(ctx, b.groupID, ticket.TopicID, "❌ Пользователь завершил диалог.")
	return nil
}

// CloseByStaff обрабатывает /stop в теме поддержки
func (b *Bridge) CloseByStaff(ctx context.Context, topicID int) error {
	ticket, closed, err := b.registry.CloseByTopic(ctx, topicID)
	if err != nil {
		return err
	}
	if !closed {
		b.notify(ctx, b.groupID, topicID, "Тикет уже закрыт.")
		return nil
	}

	metrics.TicketsClosed.WithLabelValues("staff").Inc()
	b.notify(ctx, ticket.UserID, 0, "❌ Администратор завершил диалог. Если остались вопросы, напишите /help.")
	b.notify(ctx, b.groupID, topicID, "Диалог с пользователем закрыт.")
	return nil
}

func (b *Bridge) announce(ctx context.Context, ticket *db.Ticket, from Author) {
	b.notify(ctx, b.groupID, ticket.TopicID,
		fmt.Sprintf("👤 Новый тикет: %s | %d\nДиалог открыт.", from.DisplayName(), from.ID))
}

// notify отправляет служебное сообщение, ошибки только логируются
func (b *Bridge) notify(ctx context.Context, chatID int64, threadID int, text string) {
	if err := b.sender.SendText(ctx, chatID, threadID, text, nil); err != nil {
		slog.Warn("Failed to send support notice", "chat_id", chatID, "thread_id", threadID, "error", err)
	}
}

func (b *Bridge) alert(ctx context.Context, text string) {
	if b.alertChatID == 0 {
		return
	}
	b.notify(ctx, b.alertChatID, 0, text)
}

func joinLines(header, body string) string {
	if body == "" {
		return header
	}
	return header + "\n" + body
}

package telegram

import (
	"context"
	"log/slog"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"helpdesk-bot/internal/support"
)

// handleSupportGroupMessage обрабатывает сообщения сотрудников в темах группы поддержки
func (s *Service) handleSupportGroupMessage(ctx context.Context, msg *tgbotapi.Message, threadID int, isTopic bool) {
	if msg.From.IsBot || !isTopic || threadID == 0 {
		return
	}
	if s.cfg.SubscribeTopicID != 0 && threadID == s.cfg.SubscribeTopicID {
		return
	}

	if msg.IsCommand() {
		if Command(msg.Command()) != CmdStop {
			return
		}
		if err := s.bridge.CloseByStaff(ctx, threadID); err != nil {
			slog.Error("Failed to close ticket by staff", "topic_id", threadID, "error", err)
		}
		return
	}

	if err := s.bridge.ForwardStaffToUser(ctx, relayMessage(msg), threadID); err != nil {
		slog.Error("Failed to relay staff reply", "topic_id", threadID, "staff_id", msg.From.ID, "error", err)
	}
}

// handlePrivateMessage пересылает обычное сообщение пользователя в его тему
func (s *Service) handlePrivateMessage(ctx context.Context, msg *tgbotapi.Message) {
	if err := s.bridge.ForwardUserToStaff(ctx, relayMessage(msg)); err != nil {
		s.handleError(ctx, msg.Chat.ID, ErrSupportf("forward from %d: %v", msg.From.ID, err))
	}
}

func (s *Service) handleHelp(ctx context.Context, msg *tgbotapi.Message) {
	if _, err := s.bridge.OpenSupport(ctx, authorOf(msg.From)); err != nil {
		s.handleError(ctx, msg.Chat.ID, ErrSupportf("open support for %d: %v", msg.From.ID, err))
	}
}

func (s *Service) handleStop(ctx context.Context, msg *tgbotapi.Message) {
	if err := s.bridge.CloseByUser(ctx, authorOf(msg.From)); err != nil {
		s.handleError(ctx, msg.Chat.ID, ErrSupportf("close support for %d: %v", msg.From.ID, err))
	}
}

func relayMessage(msg *tgbotapi.Message) support.Message {
	out := support.Message{
		From:    authorOf(msg.From),
		Text:    msg.Text,
		Caption: msg.Caption,
	}
	if n := len(msg.Photo); n > 0 {
		// Последний размер - самый крупный
		out.PhotoFileID = msg.Photo[n-1].FileID
	}
	return out
}

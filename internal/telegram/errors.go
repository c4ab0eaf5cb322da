package telegram

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/pkg/errors"
)

// Error коды для различных типов ошибок
const (
	ErrInvalidInput     = "INVALID_INPUT"
	ErrDatabaseError    = "DATABASE_ERROR"
	ErrPermissionDenied = "PERMISSION_DENIED"
	ErrUserNotFound     = "USER_NOT_FOUND"
	ErrTariffNotFound   = "TARIFF_NOT_FOUND"
	ErrPaymentError     = "PAYMENT_ERROR"
	ErrSupportError     = "SUPPORT_ERROR"
	ErrBroadcastError   = "BROADCAST_ERROR"
)

// BotError представляет ошибку бота с кодом и сообщением для пользователя
type BotError struct {
	Code        string
	Message     string
	UserMessage string
	Details     string
}

func (e *BotError) Error() string {
	return fmt.Sprintf("[%s] %s: %s", e.Code, e.Message, e.Details)
}

// NewBotError создает новую ошибку бота
func NewBotError(code, message, userMessage, details string) *BotError {
	return &BotError{
		Code:        code,
		Message:     message,
		UserMessage: userMessage,
		Details:     details,
	}
}

// handleError показывает пользователю понятный текст, а подробности уходят в чат ошибок
func (s *Service) handleError(ctx context.Context, chatID int64, err error) {
	slog.Error("Bot error occurred", "chat_id", chatID, "error", err)

	var botErr *BotError
	if !errors.As(err, &botErr) {
		botErr = &BotError{
			Code:        "UNKNOWN_ERROR",
			Message:     "Unknown error occurred",
			UserMessage: "Произошла внутренняя ошибка. Попробуйте позже.",
			Details:     err.Error(),
		}
	}

	s.sendErrorReport(ctx, botErr)
	s.reply(ctx, chatID, "❌ "+botErr.UserMessage)
}

// sendErrorReport отправляет отчет об ошибке в чат ошибок
func (s *Service) sendErrorReport(ctx context.Context, botErr *BotError) {
	if s.cfg.AdminErrorChatID == 0 {
		return
	}

	report := fmt.Sprintf(`🚨 Ошибка в боте:

Код: %s
Сообщение: %s
Детали: %s

Пользователю показано: %s`,
		botErr.Code,
		botErr.Message,
		botErr.Details,
		botErr.UserMessage,
	)

	if err := s.msgr.SendText(ctx, s.cfg.AdminErrorChatID, 0, report, nil); err != nil {
		slog.Warn("Failed to send error report", "error", err)
	}
}

// Вспомогательные функции для создания типичных ошибок

func ErrInvalidInputf(details string, args ...interface{}) *BotError {
	return NewBotError(
		ErrInvalidInput,
		"Invalid input provided",
		"Неверный формат данных. Проверьте правильность ввода.",
		fmt.Sprintf(details, args...),
	)
}

func ErrDatabasef(details string, args ...interface{}) *BotError {
	return NewBotError(
		ErrDatabaseError,
		"Database operation failed",
		"Ошибка базы данных. Попробуйте позже.",
		fmt.Sprintf(details, args...),
	)
}

func ErrPermission(details string) *BotError {
	return NewBotError(
		ErrPermissionDenied,
		"Permission denied",
		"У вас нет прав для выполнения этой операции.",
		details,
	)
}

func ErrUserNotFoundf(details string, args ...interface{}) *BotError {
	return NewBotError(
		ErrUserNotFound,
		"User not found",
		"Пользователь не найден.",
		fmt.Sprintf(details, args...),
	)
}

func ErrTariffNotFoundf(details string, args ...interface{}) *BotError {
	return NewBotError(
		ErrTariffNotFound,
		"Tariff not found",
		"Тариф не найден или недоступен.",
		fmt.Sprintf(details, args...),
	)
}

func ErrPaymentf(details string, args ...interface{}) *BotError {
	return NewBotError(
		ErrPaymentError,
		"Payment processing failed",
		"Не удалось создать платеж. Попробуйте позже.",
		fmt.Sprintf(details, args...),
	)
}

func ErrSupportf(details string, args ...interface{}) *BotError {
	return NewBotError(
		ErrSupportError,
		"Support relay failed",
		"Не удалось связаться с поддержкой. Попробуйте позже.",
		fmt.Sprintf(details, args...),
	)
}

func ErrBroadcastf(details string, args ...interface{}) *BotError {
	return NewBotError(
		ErrBroadcastError,
		"Broadcast failed",
		"Не удалось запустить рассылку.",
		fmt.Sprintf(details, args...),
	)
}

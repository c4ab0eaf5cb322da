// Package outbound описывает канал доставки сообщений в мессенджер
package outbound

import (
	"context"
	"errors"
)

var (
	// ErrThreadNotFound - тема форума удалена или недоступна
	ErrThreadNotFound = errors.New("message thread not found")
	// ErrRecipientUnavailable - пользователь заблокировал бота или удалил аккаунт
	ErrRecipientUnavailable = errors.New("recipient unavailable")
)

// Button - inline-кнопка со ссылкой
type Button struct {
	Text string
	URL  string
}

// Sender доставляет сообщения. threadID = 0 означает отправку без темы.
type Sender interface {
	SendText(ctx context.Context, chatID int64, threadID int, text string, button *Button) error
	SendPhoto(ctx context.Context, chatID int64, threadID int, fileID, caption string) error
	CreateThread(ctx context.Context, chatID int64, name string) (int, error)
}

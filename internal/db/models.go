package db

import "time"

// User - пользователи бота
type User struct {
	TgID      int64 `gorm:"primaryKey;autoIncrement:false"`
	FirstName string
	Username  *string   `gorm:"uniqueIndex"`
	CreatedAt time.Time `gorm:"not null"`
}

// Handle возвращает @username или id, если username не задан
func (u User) Handle() string {
	if u.Username != nil && *u.Username != "" {
		return "@" + *u.Username
	}
	return "Без username"
}

// Subscriber - окно подписки пользователя
type Subscriber struct {
	UserID   int64     `gorm:"primaryKey;autoIncrement:false"`
	ExpireAt time.Time `gorm:"not null;index"`
}

func (s Subscriber) ActiveAt(now time.Time) bool {
	return s.ExpireAt.After(now)
}

// Promocode - одноразовые промокоды, код хранится в верхнем регистре
type Promocode struct {
	Code         string    `gorm:"primaryKey"`
	DurationDays int       `gorm:"not null;check:duration_days > 0"`
	CreatedAt    time.Time `gorm:"not null"`
}

// Tariff - тарифы
type Tariff struct {
	ID           uint      `gorm:"primaryKey"`
	Name         string    `gorm:"not null"`
	Price        int       `gorm:"not null"`
	DurationDays int       `gorm:"not null;check:duration_days > 0"`
	CreatedAt    time.Time `gorm:"not null"`
}

// Ticket - обращение в поддержку, привязанное к теме форума
type Ticket struct {
	ID        uint  `gorm:"primaryKey"`
	UserID    int64 `gorm:"not null;index"`
	Username  string
	TopicID   int          `gorm:"not null;index"`
	Status    TicketStatus `gorm:"not null;default:open;check:status IN ('open','closed')"`
	CreatedAt time.Time    `gorm:"not null"`
	ClosedAt  *time.Time
}

// ProcessedPayment - запись идемпотентности для колбэков платежного шлюза
type ProcessedPayment struct {
	ID        uint      `gorm:"primaryKey"`
	PaymentID string    `gorm:"uniqueIndex;not null"`
	UserID    int64     `gorm:"not null;index"`
	TariffID  uint      `gorm:"not null"`
	CreatedAt time.Time `gorm:"not null"`
}

// BroadcastJob - сохраненное состояние рассылки
type BroadcastJob struct {
	ID          string `gorm:"primaryKey"`
	InitiatorID int64  `gorm:"not null"`
	Audience    string `gorm:"not null"`
	Text        string `gorm:"not null"`
	ButtonText  string
	ButtonURL   string
	Recipients  []int64   `gorm:"serializer:json;not null"`
	Cursor      int       `gorm:"not null;default:0"`
	Sent        int       `gorm:"not null;default:0"`
	Failed      int       `gorm:"not null;default:0"`
	Status      JobStatus `gorm:"not null;index;check:status IN ('running','completed','cancelled')"`
	CreatedAt   time.Time
	UpdatedAt   time.Time
	FinishedAt  *time.Time
}

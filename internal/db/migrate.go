package db

import (
	"gorm.io/gorm"
)

func Migrate(db *gorm.DB) error {
	// Сначала выполняем обычную миграцию
	err := db.AutoMigrate(
		&User{},
		&Subscriber{},
		&Promocode{},
		&Tariff{},
		&Ticket{},
		&ProcessedPayment{},
		&BroadcastJob{},
	)
	if err != nil {
		return err
	}

	// Не более одного открытого тикета на пользователя
	return ensureOpenTicketIndex(db)
}

func ensureOpenTicketIndex(db *gorm.DB) error {
	switch db.Dialector.Name() {
	case "sqlite", "postgres":
		return db.Exec("CREATE UNIQUE INDEX IF NOT EXISTS idx_tickets_open_user ON tickets (user_id) WHERE status = 'open'").Error
	case "mysql":
		// MySQL не поддерживает частичные индексы, остается критическая секция в реестре
		return nil
	}
	return nil
}

package db

import (
	"context"
	"errors"
	"strings"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var ErrNotFound = errors.New("record not found")

type Repository struct {
	db *gorm.DB
}

func NewRepository(dsn string) (*Repository, error) {
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	// Одно соединение: транзакция SQLite становится эксклюзивной, а :memory: не теряет схему
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetMaxIdleConns(1)
	sqlDB.SetConnMaxLifetime(0)

	pragmas := []string{"PRAGMA foreign_keys = ON", "PRAGMA busy_timeout = 5000"}
	if !strings.Contains(dsn, ":memory:") {
		pragmas = append(pragmas, "PRAGMA journal_mode = WAL")
	}
	for _, p := range pragmas {
		if err := db.Exec(p).Error; err != nil {
			return nil, err
		}
	}

	return &Repository{db: db}, nil
}

func (r *Repository) DB() *gorm.DB {
	return r.db
}

func (r *Repository) AutoMigrate() error {
	return Migrate(r.db)
}

func (r *Repository) Close() error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (r *Repository) Ping(ctx context.Context) error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// UpsertUser создает пользователя при первом контакте и обновляет имя и username при последующих.
// Username уникален: если его занял другой пользователь, у того он сбрасывается.
func (r *Repository) UpsertUser(ctx context.Context, tgID int64, firstName, username string) (created bool, err error) {
	var handle *string
	if username != "" {
		handle = &username
	}

	err = r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if handle != nil {
			if err := tx.Model(&User{}).
				Where("username = ? AND tg_id <> ?", username, tgID).
				Update("username", gorm.Expr("NULL")).Error; err != nil {
				return err
			}
		}

		var user User
		err := tx.Where("tg_id = ?", tgID).Take(&user).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			created = true
			return tx.Create(&User{
				TgID:      tgID,
				FirstName: firstName,
				Username:  handle,
				CreatedAt: time.Now().UTC(),
			}).Error
		}
		if err != nil {
			return err
		}

		return tx.Model(&User{}).Where("tg_id = ?", tgID).Updates(map[string]any{
			"first_name": firstName,
			"username":   handle,
		}).Error
	})
	return created, err
}

func (r *Repository) FindUser(ctx context.Context, tgID int64) (*User, error) {
	var user User
	err := r.db.WithContext(ctx).Where("tg_id = ?", tgID).Take(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// DeleteUser удаляет пользователя вместе с подпиской и тикетами
func (r *Repository) DeleteUser(ctx context.Context, tgID int64) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("user_id = ?", tgID).Delete(&Subscriber{}).Error; err != nil {
			return err
		}
		if err := tx.Where("user_id = ?", tgID).Delete(&Ticket{}).Error; err != nil {
			return err
		}
		res := tx.Where("tg_id = ?", tgID).Delete(&User{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}
		return nil
	})
}

func (r *Repository) AllUserIDs(ctx context.Context) ([]int64, error) {
	var ids []int64
	err := r.db.WithContext(ctx).Model(&User{}).Order("tg_id").Pluck("tg_id", &ids).Error
	return ids, err
}

// UserIDsWithoutSubscription возвращает пользователей без активной подписки на момент now
func (r *Repository) UserIDsWithoutSubscription(ctx context.Context, now time.Time) ([]int64, error) {
	var ids []int64
	active := r.db.Model(&Subscriber{}).Select("user_id").Where("expire_at > ?", now.UTC())
	err := r.db.WithContext(ctx).Model(&User{}).
		Where("tg_id NOT IN (?)", active).
		Order("tg_id").
		Pluck("tg_id", &ids).Error
	return ids, err
}

func (r *Repository) CountUsers(ctx context.Context) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&User{}).Count(&n).Error
	return n, err
}

func (r *Repository) CountActiveSubscribers(ctx context.Context, now time.Time) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&Subscriber{}).Where("expire_at > ?", now.UTC()).Count(&n).Error
	return n, err
}

// SubscribersExpiringBetween возвращает подписки, истекающие в интервале [from, to)
func (r *Repository) SubscribersExpiringBetween(ctx context.Context, from, to time.Time) ([]Subscriber, error) {
	var subs []Subscriber
	err := r.db.WithContext(ctx).
		Where("expire_at >= ? AND expire_at < ?", from.UTC(), to.UTC()).
		Order("expire_at").
		Find(&subs).Error
	return subs, err
}

func (r *Repository) Tariffs(ctx context.Context) ([]Tariff, error) {
	var tariffs []Tariff
	err := r.db.WithContext(ctx).Order("price").Find(&tariffs).Error
	return tariffs, err
}

func (r *Repository) TariffByID(ctx context.Context, id uint) (*Tariff, error) {
	var tariff Tariff
	err := r.db.WithContext(ctx).Where("id = ?", id).Take(&tariff).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &tariff, nil
}

func (r *Repository) CreateTariff(ctx context.Context, name string, price, days int) (*Tariff, error) {
	tariff := &Tariff{
		Name:         name,
		Price:        price,
		DurationDays: days,
		CreatedAt:    time.Now().UTC(),
	}
	if err := r.db.WithContext(ctx).Create(tariff).Error; err != nil {
		return nil, err
	}
	return tariff, nil
}

func (r *Repository) DeleteTariff(ctx context.Context, id uint) error {
	res := r.db.WithContext(ctx).Where("id = ?", id).Delete(&Tariff{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// IsUniqueViolation распознает нарушение UNIQUE, драйвер SQLite отдает его текстом
func IsUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	low := strings.ToLower(err.Error())
	return strings.Contains(low, "unique constraint failed") ||
		strings.Contains(low, "constraint failed: unique")
}

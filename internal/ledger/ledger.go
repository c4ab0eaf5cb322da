// Package ledger ведет окна подписок: продление со сложением сроков,
// одноразовые промокоды и идемпотентное зачисление оплат.
package ledger

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"strings"
	"time"

	"github.com/pkg/errors"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"helpdesk-bot/internal/db"
)

var (
	ErrPromocodeNotFound       = errors.New("promocode not found")
	ErrPromocodeExists         = errors.New("promocode already exists")
	ErrUnknownTariff           = errors.New("unknown tariff")
	ErrPaymentAlreadyProcessed = errors.New("payment already processed")
	ErrInvalidDuration         = errors.New("duration must be positive")
)

const day = 24 * time.Hour

type Ledger struct {
	db  *gorm.DB
	now func() time.Time
}

type Option func(*Ledger)

// WithClock подменяет источник текущего времени
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) {
		l.now = now
	}
}

func New(repo *db.Repository, opts ...Option) *Ledger {
	l := &Ledger{
		db:  repo.DB(),
		now: time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Redemption - результат активации промокода
type Redemption struct {
	Days     int
	ExpireAt time.Time
}

// Payment - успешная оплата, пришедшая от платежного шлюза
type Payment struct {
	ID       string
	UserID   int64
	TariffID uint
}

// Credit - результат зачисления оплаты
type Credit struct {
	Tariff   db.Tariff
	ExpireAt time.Time
}

// NormalizeCode приводит промокод к виду, в котором он хранится
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// ExtendSubscription продлевает подписку на days дней.
// Если подписка активна, дни добавляются к текущему сроку, иначе отсчитываются от now.
func (l *Ledger) ExtendSubscription(ctx context.Context, userID int64, days int) (time.Time, error) {
	if days <= 0 {
		return time.Time{}, ErrInvalidDuration
	}

	var expireAt time.Time
	err := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		expireAt, err = l.extend(tx, userID, days)
		return err
	})
	if err != nil {
		return time.Time{}, errors.Wrap(err, "failed to extend subscription")
	}
	return expireAt, nil
}

// extend выполняет чтение и запись срока внутри транзакции tx
func (l *Ledger) extend(tx *gorm.DB, userID int64, days int) (time.Time, error) {
	now := l.now().UTC()
	base := now

	var sub db.Subscriber
	err := tx.Where("user_id = ?", userID).Take(&sub).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
	case err != nil:
		return time.Time{}, err
	case sub.ExpireAt.After(now):
		base = sub.ExpireAt.UTC()
	}

	expireAt := base.Add(time.Duration(days) * day)
	err = tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"expire_at"}),
	}).Create(&db.Subscriber{UserID: userID, ExpireAt: expireAt}).Error
	if err != nil {
		return time.Time{}, err
	}
	return expireAt, nil
}

// RedeemPromocode активирует промокод. Продление и удаление кода фиксируются одной транзакцией,
// поэтому код не может быть использован дважды.
func (l *Ledger) RedeemPromocode(ctx context.Context, userID int64, code string) (*Redemption, error) {
	code = NormalizeCode(code)
	if code == "" {
		return nil, ErrPromocodeNotFound
	}

	var redemption Redemption
	err := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var promo db.Promocode
		err := tx.Where("code = ?", code).Take(&promo).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrPromocodeNotFound
		}
		if err != nil {
			return err
		}

		expireAt, err := l.extend(tx, userID, promo.DurationDays)
		if err != nil {
			return err
		}

		res := tx.Where("code = ?", code).Delete(&db.Promocode{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected != 1 {
			return ErrPromocodeNotFound
		}

		redemption = Redemption{Days: promo.DurationDays, ExpireAt: expireAt}
		return nil
	})
	if errors.Is(err, ErrPromocodeNotFound) {
		return nil, ErrPromocodeNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to redeem promocode")
	}
	return &redemption, nil
}

// CreditPayment зачисляет оплату не более одного раза на идентификатор платежа
func (l *Ledger) CreditPayment(ctx context.Context, p Payment) (*Credit, error) {
	if strings.TrimSpace(p.ID) == "" {
		return nil, errors.New("payment id is empty")
	}

	var credit Credit
	err := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var seen int64
		if err := tx.Model(&db.ProcessedPayment{}).Where("payment_id = ?", p.ID).Count(&seen).Error; err != nil {
			return err
		}
		if seen > 0 {
			return ErrPaymentAlreadyProcessed
		}

		var tariff db.Tariff
		err := tx.Where("id = ?", p.TariffID).Take(&tariff).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrUnknownTariff
		}
		if err != nil {
			return err
		}

		err = tx.Create(&db.ProcessedPayment{
			PaymentID: p.ID,
			UserID:    p.UserID,
			TariffID:  p.TariffID,
			CreatedAt: l.now().UTC(),
		}).Error
		if db.IsUniqueViolation(err) {
			return ErrPaymentAlreadyProcessed
		}
		if err != nil {
			return err
		}

		expireAt, err := l.extend(tx, p.UserID, tariff.DurationDays)
		if err != nil {
			return err
		}

		credit = Credit{Tariff: tariff, ExpireAt: expireAt}
		return nil
	})
	switch {
	case errors.Is(err, ErrPaymentAlreadyProcessed), errors.Is(err, ErrUnknownTariff):
		return nil, errors.Cause(err)
	case err != nil:
		return nil, errors.Wrap(err, "failed to credit payment")
	}
	return &credit, nil
}

// Status возвращает подписку пользователя и признак ее активности.
// Отсутствие подписки - не ошибка: возвращается nil.
func (l *Ledger) Status(ctx context.Context, userID int64) (*db.Subscriber, bool, error) {
	var sub db.Subscriber
	err := l.db.WithContext(ctx).Where("user_id = ?", userID).Take(&sub).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, errors.Wrap(err, "failed to get subscriber")
	}
	return &sub, sub.ActiveAt(l.now().UTC()), nil
}

func (l *Ledger) AddPromocode(ctx context.Context, code string, days int) (*db.Promocode, error) {
	code = NormalizeCode(code)
	if code == "" {
		return nil, errors.New("promocode is empty")
	}
	if days <= 0 {
		return nil, ErrInvalidDuration
	}

	promo := &db.Promocode{Code: code, DurationDays: days, CreatedAt: l.now().UTC()}
	err := l.db.WithContext(ctx).Create(promo).Error
	if db.IsUniqueViolation(err) {
		return nil, ErrPromocodeExists
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to add promocode")
	}
	return promo, nil
}

func (l *Ledger) RemovePromocode(ctx context.Context, code string) error {
	res := l.db.WithContext(ctx).Where("code = ?", NormalizeCode(code)).Delete(&db.Promocode{})
	if res.Error != nil {
		return errors.Wrap(res.Error, "failed to remove promocode")
	}
	if res.RowsAffected == 0 {
		return ErrPromocodeNotFound
	}
	return nil
}

func (l *Ledger) RemoveAllPromocodes(ctx context.Context) (int64, error) {
	res := l.db.WithContext(ctx).Where("1 = 1").Delete(&db.Promocode{})
	if res.Error != nil {
		return 0, errors.Wrap(res.Error, "failed to remove promocodes")
	}
	return res.RowsAffected, nil
}

func (l *Ledger) Promocodes(ctx context.Context) ([]db.Promocode, error) {
	var promos []db.Promocode
	if err := l.db.WithContext(ctx).Order("created_at").Find(&promos).Error; err != nil {
		return nil, errors.Wrap(err, "failed to list promocodes")
	}
	return promos, nil
}

// IssueWelcomePromocode создает одноразовый приветственный промокод вида WELCOME-XXXXXX
func (l *Ledger) IssueWelcomePromocode(ctx context.Context, days int) (*db.Promocode, error) {
	for attempt := 0; attempt < 5; attempt++ {
		suffix, err := randomSuffix()
		if err != nil {
			return nil, err
		}
		promo, err := l.AddPromocode(ctx, "WELCOME-"+suffix, days)
		if errors.Is(err, ErrPromocodeExists) {
			continue
		}
		return promo, err
	}
	return nil, errors.New("failed to generate unique welcome promocode")
}

func randomSuffix() (string, error) {
	b := make([]byte, 3)
	if _, err := rand.Read(b); err != nil {
		return "", errors.Wrap(err, "failed to generate random bytes")
	}
	return strings.ToUpper(hex.EncodeToString(b)), nil
}

package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"helpdesk-bot/internal/db"
	"helpdesk-bot/internal/outbound"
	"helpdesk-bot/internal/outbound/outboundtest"
)

type stubCounter struct {
	n   int64
	err error
}

func (c stubCounter) CountOpen(context.Context) (int64, error)   { return c.n, c.err }
func (c stubCounter) ActiveToday(context.Context) (int64, error) { return c.n, c.err }

var fixedNow = time.Date(2024, 5, 10, 10, 0, 0, 0, time.UTC)

func setupTestScheduler(t *testing.T) (*Scheduler, *db.Repository, *outboundtest.Recorder) {
	t.Helper()

	repo, err := db.NewRepository(":memory:")
	require.NoError(t, err)
	require.NoError(t, repo.AutoMigrate())
	t.Cleanup(func() { repo.Close() })

	rec := outboundtest.NewRecorder()
	s := NewScheduler(repo, stubCounter{n: 2}, stubCounter{n: 5}, rec, []int64{900, 901})
	s.now = func() time.Time { return fixedNow }
	return s, repo, rec
}

func addSubscriber(t *testing.T, repo *db.Repository, userID int64, expireAt time.Time) {
	t.Helper()
	_, err := repo.UpsertUser(context.Background(), userID, "user", "")
	require.NoError(t, err)
	require.NoError(t, repo.DB().Create(&db.Subscriber{UserID: userID, ExpireAt: expireAt}).Error)
}

func TestRemindExpiringWindow(t *testing.T) {
	s, repo, rec := setupTestScheduler(t)

	addSubscriber(t, repo, 1, fixedNow.Add(60*time.Hour))
	addSubscriber(t, repo, 2, fixedNow.Add(80*time.Hour))
	addSubscriber(t, repo, 3, fixedNow.Add(24*time.Hour))
	addSubscriber(t, repo, 4, fixedNow.Add(-time.Hour))

	sent, err := s.RemindExpiring(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, sent)

	got := rec.To(1)
	require.Len(t, got, 1)
	assert.Contains(t, got[0].Text, fixedNow.Add(60*time.Hour).Format("02.01.2006"))
	assert.Empty(t, rec.To(2))
	assert.Empty(t, rec.To(3))
	assert.Empty(t, rec.To(4))
}

func TestRemindExpiringSkipsUnreachableUsers(t *testing.T) {
	s, repo, rec := setupTestScheduler(t)
	addSubscriber(t, repo, 1, fixedNow.Add(50*time.Hour))
	addSubscriber(t, repo, 2, fixedNow.Add(55*time.Hour))
	rec.FailChat(1, outbound.ErrRecipientUnavailable)

	sent, err := s.RemindExpiring(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, sent)
	assert.Len(t, rec.To(2), 1)
}

func TestDailyStats(t *testing.T) {
	s, repo, _ := setupTestScheduler(t)
	addSubscriber(t, repo, 1, fixedNow.Add(time.Hour))
	addSubscriber(t, repo, 2, fixedNow.Add(-time.Hour))

	report, err := s.DailyStats(context.Background())
	require.NoError(t, err)
	assert.Contains(t, report, "Пользователей: 2")
	assert.Contains(t, report, "Активных подписок: 1")
	assert.Contains(t, report, "Открытых тикетов: 2")
	assert.Contains(t, report, "Активны сегодня: 5")
}

func TestDailyStatsToleratesActivityOutage(t *testing.T) {
	s, _, _ := setupTestScheduler(t)
	s.activity = stubCounter{err: errors.New("redis down")}

	report, err := s.DailyStats(context.Background())
	require.NoError(t, err)
	assert.Contains(t, report, "Активны сегодня: 0")
}

func TestSendDailyStatsReachesEveryAdmin(t *testing.T) {
	s, _, rec := setupTestScheduler(t)
	s.sendDailyStats()

	assert.Len(t, rec.To(900), 1)
	assert.Len(t, rec.To(901), 1)
}

func TestSendDailyStatsReportsFailure(t *testing.T) {
	s, _, rec := setupTestScheduler(t)
	s.tickets = stubCounter{err: errors.New("locked")}
	s.sendDailyStats()

	got := rec.To(900)
	require.Len(t, got, 1)
	assert.Contains(t, got[0].Text, "Не удалось собрать статистику")
}

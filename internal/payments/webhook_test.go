package payments

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"helpdesk-bot/internal/db"
	"helpdesk-bot/internal/ledger"
	"helpdesk-bot/internal/outbound/outboundtest"
)

const (
	groupID     int64 = -100500
	topicID           = 7
	alertChatID int64 = 555
	userID      int64 = 42
)

type fixture struct {
	handler *Handler
	rec     *outboundtest.Recorder
	repo    *db.Repository
	tariff  *db.Tariff
}

func setupTestHandler(t *testing.T) *fixture {
	t.Helper()

	repo, err := db.NewRepository(":memory:")
	require.NoError(t, err)
	require.NoError(t, repo.AutoMigrate())
	t.Cleanup(func() { repo.Close() })

	ctx := context.Background()
	_, err = repo.UpsertUser(ctx, userID, "Иван", "ivan")
	require.NoError(t, err)
	tariff, err := repo.CreateTariff(ctx, "Месяц", 200, 30)
	require.NoError(t, err)

	rec := outboundtest.NewRecorder()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := NewHandler(log, ledger.New(repo), repo, rec, Notify{
		SupportGroupID:   groupID,
		SubscribeTopicID: topicID,
		AlertChatID:      alertChatID,
	})
	return &fixture{handler: h, rec: rec, repo: repo, tariff: tariff}
}

func notification(paymentID, status, user, tariff string) string {
	body, _ := json.Marshal(map[string]any{
		"event": "payment." + status,
		"object": map[string]any{
			"id":     paymentID,
			"status": status,
			"metadata": map[string]string{
				"user_id":   user,
				"tariff_id": tariff,
			},
		},
	})
	return string(body)
}

func post(h http.Handler, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/yookassa", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func tariffID(f *fixture) string {
	return strconv.FormatUint(uint64(f.tariff.ID), 10)
}

func TestWebhookCreditsSubscription(t *testing.T) {
	f := setupTestHandler(t)

	w := post(f.handler, notification("pay-1", "succeeded", "42", tariffID(f)))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())

	var sub db.Subscriber
	require.NoError(t, f.repo.DB().Where("user_id = ?", userID).Take(&sub).Error)
	assert.WithinDuration(t, time.Now().Add(30*24*time.Hour), sub.ExpireAt, time.Minute)

	toUser := f.rec.To(userID)
	require.Len(t, toUser, 1)
	assert.Contains(t, toUser[0].Text, "Месяц")
	assert.Contains(t, toUser[0].Text, sub.ExpireAt.Format("02.01.2006"))

	notices := f.rec.InThread(topicID)
	require.Len(t, notices, 1)
	assert.Equal(t, groupID, notices[0].ChatID)
	assert.Contains(t, notices[0].Text, "@ivan")
}

func TestWebhookDuplicateDeliveryCreditsOnce(t *testing.T) {
	f := setupTestHandler(t)
	body := notification("pay-dup", "succeeded", "42", tariffID(f))

	require.Equal(t, http.StatusOK, post(f.handler, body).Code)
	var first db.Subscriber
	require.NoError(t, f.repo.DB().Where("user_id = ?", userID).Take(&first).Error)

	w := post(f.handler, body)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"duplicate"}`, w.Body.String())

	var second db.Subscriber
	require.NoError(t, f.repo.DB().Where("user_id = ?", userID).Take(&second).Error)
	assert.True(t, first.ExpireAt.Equal(second.ExpireAt))
	assert.Len(t, f.rec.To(userID), 1)
}

func TestWebhookIgnoresNonSucceededStatus(t *testing.T) {
	f := setupTestHandler(t)

	w := post(f.handler, notification("pay-2", "canceled", "42", tariffID(f)))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ignored"}`, w.Body.String())
	assert.Empty(t, f.rec.Messages())

	var n int64
	f.repo.DB().Model(&db.ProcessedPayment{}).Count(&n)
	assert.Zero(t, n)
}

func TestWebhookUnknownTariff(t *testing.T) {
	f := setupTestHandler(t)

	w := post(f.handler, notification("pay-3", "succeeded", "42", "9999"))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	alerts := f.rec.To(alertChatID)
	require.Len(t, alerts, 1)
	assert.Contains(t, alerts[0].Text, "pay-3")
	assert.Empty(t, f.rec.To(userID))

	var n int64
	f.repo.DB().Model(&db.Subscriber{}).Count(&n)
	assert.Zero(t, n)
}

func TestWebhookRejectsMalformedPayloads(t *testing.T) {
	f := setupTestHandler(t)

	tests := []struct {
		name string
		body string
	}{
		{"broken json", `{"event":`},
		{"missing payment id", notification("", "succeeded", "42", tariffID(f))},
		{"non numeric user", notification("pay-4", "succeeded", "abc", tariffID(f))},
		{"missing tariff", notification("pay-5", "succeeded", "42", "")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := post(f.handler, tt.body)
			assert.Equal(t, http.StatusBadRequest, w.Code)
		})
	}

	var n int64
	f.repo.DB().Model(&db.ProcessedPayment{}).Count(&n)
	assert.Zero(t, n)
	assert.Empty(t, f.rec.To(userID))
}

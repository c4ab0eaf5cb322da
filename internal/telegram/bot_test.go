package telegram

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"helpdesk-bot/internal/broadcast"
	"helpdesk-bot/internal/config"
	"helpdesk-bot/internal/db"
	"helpdesk-bot/internal/gates/yookassa"
	"helpdesk-bot/internal/ledger"
	"helpdesk-bot/internal/outbound"
	"helpdesk-bot/internal/outbound/outboundtest"
	"helpdesk-bot/internal/support"
)

const (
	adminID int64 = 123456789
	userID  int64 = 555
	groupID int64 = -1001
)

type fakeMessenger struct {
	*outboundtest.Recorder

	mu        sync.Mutex
	keyboards []tgbotapi.InlineKeyboardMarkup
	answers   []string
}

func (f *fakeMessenger) SendKeyboard(_ context.Context, _ int64, _ string, markup tgbotapi.InlineKeyboardMarkup) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.keyboards = append(f.keyboards, markup)
	return nil
}

func (f *fakeMessenger) AnswerCallback(_ context.Context, _ string, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.answers = append(f.answers, text)
	return nil
}

type fakePayments struct {
	got []yookassa.CheckoutRequest
}

func (p *fakePayments) Checkout(_ context.Context, req yookassa.CheckoutRequest) (*yookassa.Payment, error) {
	p.got = append(p.got, req)
	return &yookassa.Payment{
		ID:           "pay-1",
		Confirmation: yookassa.Confirmation{ConfirmationURL: "https://pay.example/1"},
	}, nil
}

func setupTestService(t *testing.T) (*Service, *fakeMessenger, *db.Repository) {
	t.Helper()

	cfg := &config.Config{
		BotToken:         "test_token",
		Admins:           []int64{adminID},
		AdminErrorChatID: 777,
		SupportGroupID:   groupID,
		SubscribeTopicID: 3,
		WelcomePromoDays: 7,
		Broadcast:        config.BroadcastConfig{CheckpointEvery: 1},
	}

	repo, err := db.NewRepository(":memory:")
	require.NoError(t, err)
	require.NoError(t, repo.AutoMigrate())
	t.Cleanup(func() { repo.Close() })

	msgr := &fakeMessenger{Recorder: outboundtest.NewRecorder()}
	registry := support.NewRegistry(repo, msgr, groupID)
	dispatcher := broadcast.NewDispatcher(repo, msgr, cfg.Broadcast)
	t.Cleanup(dispatcher.Stop)

	service := &Service{
		msgr:       msgr,
		cfg:        cfg,
		repo:       repo,
		ledger:     ledger.New(repo),
		bridge:     support.NewBridge(registry, msgr, groupID, cfg.AdminErrorChatID),
		dispatcher: dispatcher,
	}
	return service, msgr, repo
}

func privateMessage(from int64, text string) *tgbotapi.Message {
	msg := &tgbotapi.Message{
		From: &tgbotapi.User{ID: from, FirstName: "Тест", UserName: "user" + strconv.FormatInt(from, 10)},
		Chat: &tgbotapi.Chat{ID: from, Type: "private"},
		Text: text,
	}
	if strings.HasPrefix(text, "/") {
		cmd := strings.Fields(text)[0]
		msg.Entities = []tgbotapi.MessageEntity{{Type: "bot_command", Offset: 0, Length: len(cmd)}}
	}
	return msg
}

func groupMessage(from int64, text string) *tgbotapi.Message {
	msg := privateMessage(from, text)
	msg.Chat = &tgbotapi.Chat{ID: groupID, Type: "supergroup"}
	return msg
}

func deliver(s *Service, msg *tgbotapi.Message) {
	s.handleUpdate(context.Background(), Update{Update: tgbotapi.Update{Message: msg}})
}

func deliverInThread(s *Service, msg *tgbotapi.Message, threadID int) {
	s.handleUpdate(context.Background(), Update{Update: tgbotapi.Update{Message: msg}, ThreadID: threadID, IsTopicReply: true})
}

func TestIsAdmin(t *testing.T) {
	service, _, _ := setupTestService(t)

	tests := []struct {
		name     string
		userID   int64
		expected bool
	}{
		{name: "Admin from config", userID: adminID, expected: true},
		{name: "Non-admin user", userID: 987654321, expected: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, service.isAdmin(tt.userID))
		})
	}
}

func TestCommandPermissions(t *testing.T) {
	assert.True(t, CmdStart.IsValid())
	assert.False(t, CmdStart.IsAdminOnly())
	assert.True(t, CmdCancelBroadcast.IsValid())
	assert.True(t, CmdCancelBroadcast.IsAdminOnly())
	assert.False(t, Command("buy").IsValid())
	assert.Equal(t, "buy_tariff_5", CallbackBuyTariff.WithID(5))
}

func TestClassifyError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
	}{
		{"deleted topic", &tgbotapi.Error{Code: 400, Message: "Bad Request: message thread not found"}, outbound.ErrThreadNotFound},
		{"blocked", &tgbotapi.Error{Code: 403, Message: "Forbidden: bot was blocked by the user"}, outbound.ErrRecipientUnavailable},
		{"deactivated", &tgbotapi.Error{Code: 403, Message: "Forbidden: user is deactivated"}, outbound.ErrRecipientUnavailable},
		{"missing chat", &tgbotapi.Error{Code: 400, Message: "Bad Request: chat not found"}, outbound.ErrRecipientUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, classifyError(tt.err), tt.want)
		})
	}

	other := &tgbotapi.Error{Code: 429, Message: "Too Many Requests: retry after 5"}
	got := classifyError(other)
	assert.False(t, errors.Is(got, outbound.ErrThreadNotFound))
	assert.False(t, errors.Is(got, outbound.ErrRecipientUnavailable))
	assert.NoError(t, classifyError(nil))
}

func TestDecodeUpdatesKeepsThreadFields(t *testing.T) {
	raw := []byte(`[
		{"update_id": 10, "message": {"message_id": 1, "message_thread_id": 42, "is_topic_message": true,
			"from": {"id": 7, "is_bot": false, "first_name": "Staff"},
			"chat": {"id": -1001, "type": "supergroup"}, "date": 0, "text": "hello"}},
		{"update_id": 11, "callback_query": {"id": "cb", "from": {"id": 8, "first_name": "U"}, "data": "buy_tariff_1"}}
	]`)

	updates, err := decodeUpdates(raw)
	require.NoError(t, err)
	require.Len(t, updates, 2)

	assert.Equal(t, 10, updates[0].UpdateID)
	assert.Equal(t, 42, updates[0].ThreadID)
	assert.True(t, updates[0].IsTopicReply)
	assert.Equal(t, "hello", updates[0].Message.Text)

	assert.Zero(t, updates[1].ThreadID)
	require.NotNil(t, updates[1].CallbackQuery)
	assert.Equal(t, "buy_tariff_1", updates[1].CallbackQuery.Data)
}

func TestParseBroadcastArgs(t *testing.T) {
	p, err := parseBroadcastArgs("Привет всем")
	require.NoError(t, err)
	assert.Equal(t, "Привет всем", p.Text)
	assert.Nil(t, p.Button)

	p, err = parseBroadcastArgs(" Скидки | Открыть | https://example.com ")
	require.NoError(t, err)
	assert.Equal(t, "Скидки", p.Text)
	require.NotNil(t, p.Button)
	assert.Equal(t, "Открыть", p.Button.Text)
	assert.Equal(t, "https://example.com", p.Button.URL)

	_, err = parseBroadcastArgs("text | only button")
	assert.Error(t, err)
}

func TestParseTariffArgs(t *testing.T) {
	name, price, days, err := parseTariffArgs("Три месяца 500 90")
	require.NoError(t, err)
	assert.Equal(t, "Три месяца", name)
	assert.Equal(t, 500, price)
	assert.Equal(t, 90, days)

	_, _, _, err = parseTariffArgs("Месяц 200")
	assert.Error(t, err)
	_, _, _, err = parseTariffArgs("Месяц abc 30")
	assert.Error(t, err)
	_, _, _, err = parseTariffArgs("Месяц 200 0")
	assert.Error(t, err)
}

func TestFirstContactIssuesWelcomePromocode(t *testing.T) {
	service, msgr, repo := setupTestService(t)

	deliver(service, privateMessage(userID, "/start"))

	user, err := repo.FindUser(context.Background(), userID)
	require.NoError(t, err)
	assert.Equal(t, "Тест", user.FirstName)

	var promos []db.Promocode
	require.NoError(t, repo.DB().Find(&promos).Error)
	require.Len(t, promos, 1)
	assert.True(t, strings.HasPrefix(promos[0].Code, "WELCOME-"))
	assert.Equal(t, 7, promos[0].DurationDays)

	toUser := msgr.To(userID)
	require.Len(t, toUser, 2)
	assert.Contains(t, toUser[0].Text, promos[0].Code)
	assert.Len(t, msgr.To(adminID), 1)

	deliver(service, privateMessage(userID, "/start"))
	require.NoError(t, repo.DB().Find(&promos).Error)
	assert.Len(t, promos, 1)
}

func TestPromoCommand(t *testing.T) {
	service, msgr, repo := setupTestService(t)
	_, err := repo.UpsertUser(context.Background(), userID, "Тест", "")
	require.NoError(t, err)
	_, err = service.ledger.AddPromocode(context.Background(), "SPRING", 14)
	require.NoError(t, err)

	deliver(service, privateMessage(userID, "/promo spring"))
	deliver(service, privateMessage(userID, "/promo spring"))

	got := msgr.To(userID)
	require.Len(t, got, 2)
	assert.Contains(t, got[0].Text, "Промокод активирован")
	assert.Contains(t, got[1].Text, "не найден")

	sub, active, err := service.ledger.Status(context.Background(), userID)
	require.NoError(t, err)
	assert.True(t, active)
	assert.WithinDuration(t, time.Now().Add(14*24*time.Hour), sub.ExpireAt, time.Minute)
}

func TestAdminCommandRejectedForUsers(t *testing.T) {
	service, msgr, repo := setupTestService(t)
	_, err := repo.UpsertUser(context.Background(), userID, "Тест", "")
	require.NoError(t, err)

	deliver(service, privateMessage(userID, "/delpromos"))

	got := msgr.To(userID)
	require.Len(t, got, 1)
	assert.Equal(t, "У вас нет прав для этой команды", got[0].Text)
}

func TestSupportRoundTrip(t *testing.T) {
	service, msgr, repo := setupTestService(t)
	_, err := repo.UpsertUser(context.Background(), userID, "Тест", "")
	require.NoError(t, err)

	deliver(service, privateMessage(userID, "Не работает оплата"))

	ticket, err := service.bridge.Registry().FindOpen(context.Background(), userID)
	require.NoError(t, err)
	require.NotNil(t, ticket)

	inThread := msgr.InThread(ticket.TopicID)
	require.NotEmpty(t, inThread)
	assert.Contains(t, inThread[len(inThread)-1].Text, "Не работает оплата")

	deliverInThread(service, groupMessage(adminID, "Уже чиним"), ticket.TopicID)
	reply := msgr.To(userID)
	require.NotEmpty(t, reply)
	assert.Contains(t, reply[len(reply)-1].Text, "Уже чиним")

	deliverInThread(service, groupMessage(adminID, "/stop"), ticket.TopicID)
	open, err := service.bridge.Registry().FindOpen(context.Background(), userID)
	require.NoError(t, err)
	assert.Nil(t, open)
}

func TestGroupMessagesOutsideTopicsIgnored(t *testing.T) {
	service, msgr, _ := setupTestService(t)

	deliver(service, groupMessage(adminID, "general chat"))
	deliverInThread(service, groupMessage(adminID, "payments feed"), service.cfg.SubscribeTopicID)

	assert.Empty(t, msgr.Messages())
}

func TestSubscribeCallbackSendsPaymentLink(t *testing.T) {
	service, msgr, repo := setupTestService(t)
	payments := &fakePayments{}
	service.payments = payments

	tariff, err := repo.CreateTariff(context.Background(), "Месяц", 200, 30)
	require.NoError(t, err)
	_, err = repo.UpsertUser(context.Background(), userID, "Тест", "")
	require.NoError(t, err)

	deliver(service, privateMessage(userID, "/subscribe"))
	require.Len(t, msgr.keyboards, 1)
	data := msgr.keyboards[0].InlineKeyboard[0][0].CallbackData
	require.NotNil(t, data)
	assert.Equal(t, CallbackBuyTariff.WithID(tariff.ID), *data)

	service.handleUpdate(context.Background(), Update{Update: tgbotapi.Update{CallbackQuery: &tgbotapi.CallbackQuery{
		ID:   "cb-1",
		From: &tgbotapi.User{ID: userID},
		Data: *data,
	}}})

	require.Len(t, payments.got, 1)
	assert.Equal(t, 200, payments.got[0].PriceRub)
	assert.Equal(t, userID, payments.got[0].UserID)

	got := msgr.To(userID)
	require.Len(t, got, 1)
	require.NotNil(t, got[0].Button)
	assert.Equal(t, "https://pay.example/1", got[0].Button.URL)
}

func TestSubscribeWithoutPayments(t *testing.T) {
	service, msgr, repo := setupTestService(t)
	_, err := repo.UpsertUser(context.Background(), userID, "Тест", "")
	require.NoError(t, err)

	deliver(service, privateMessage(userID, "/subscribe"))

	got := msgr.To(userID)
	require.Len(t, got, 1)
	assert.Contains(t, got[0].Text, "Оплата временно недоступна")
}

func TestDelUserReportsMissingUser(t *testing.T) {
	service, msgr, repo := setupTestService(t)
	_, err := repo.UpsertUser(context.Background(), adminID, "Админ", "")
	require.NoError(t, err)

	deliver(service, privateMessage(adminID, "/deluser 42"))

	got := msgr.To(adminID)
	require.Len(t, got, 1)
	assert.Contains(t, got[0].Text, "Пользователь не найден")
	assert.Len(t, msgr.To(service.cfg.AdminErrorChatID), 1)
}

func TestBroadcastCommandStartsJob(t *testing.T) {
	service, msgr, repo := setupTestService(t)
	for _, id := range []int64{adminID, 1, 2} {
		_, err := repo.UpsertUser(context.Background(), id, "u", "")
		require.NoError(t, err)
	}

	deliver(service, privateMessage(adminID, "/broadcast Новости | Читать | https://example.com"))
	service.dispatcher.Wait()

	assert.Len(t, msgr.To(1), 1)
	assert.Len(t, msgr.To(2), 1)

	var texts []string
	for _, m := range msgr.To(adminID) {
		texts = append(texts, m.Text)
	}
	require.Len(t, texts, 3)
	joined := strings.Join(texts, "\n")
	assert.Contains(t, joined, "Рассылка запущена")
	assert.Contains(t, joined, "Всего получателей: 3")
}

func TestBotError(t *testing.T) {
	err := NewBotError("TEST_CODE", "Test message", "User message", "Details")

	assert.Equal(t, "TEST_CODE", err.Code)
	assert.Equal(t, "User message", err.UserMessage)
	assert.Equal(t, "[TEST_CODE] Test message: Details", err.Error())
}

func TestErrorHelpers(t *testing.T) {
	tests := []struct {
		name     string
		errFunc  func() *BotError
		wantCode string
	}{
		{"ErrInvalidInputf", func() *BotError { return ErrInvalidInputf("test details %s", "arg") }, ErrInvalidInput},
		{"ErrDatabasef", func() *BotError { return ErrDatabasef("db error") }, ErrDatabaseError},
		{"ErrPermission", func() *BotError { return ErrPermission("no permission") }, ErrPermissionDenied},
		{"ErrSupportf", func() *BotError { return ErrSupportf("relay") }, ErrSupportError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.errFunc()
			assert.Equal(t, tt.wantCode, err.Code)
			assert.NotEmpty(t, err.UserMessage)
		})
	}
}

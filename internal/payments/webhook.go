// Package payments принимает уведомления платежного шлюза и зачисляет подписку
package payments

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"
	"github.com/go-playground/validator"
	"github.com/pkg/errors"

	"helpdesk-bot/internal/db"
	"helpdesk-bot/internal/ledger"
	"helpdesk-bot/internal/metrics"
	"helpdesk-bot/internal/outbound"
)

const statusSucceeded = "succeeded"

// Payload - уведомление ЮKassa
type Payload struct {
	Event  string `json:"event" validate:"required"`
	Object Object `json:"object"`
}

type Object struct {
	ID       string   `json:"id" validate:"required"`
	Status   string   `json:"status" validate:"required"`
	Metadata Metadata `json:"metadata"`
}

type Metadata struct {
	UserID   string `json:"user_id" validate:"required,numeric"`
	TariffID string `json:"tariff_id" validate:"required,numeric"`
}

type Ledger interface {
	CreditPayment(ctx context.Context, p ledger.Payment) (*ledger.Credit, error)
}

type UserFinder interface {
	FindUser(ctx context.Context, tgID int64) (*db.User, error)
}

type Notify struct {
	SupportGroupID   int64
	SubscribeTopicID int
	AlertChatID      int64
}

type Handler struct {
	log      *slog.Logger
	ledger   Ledger
	users    UserFinder
	sender   outbound.Sender
	notify   Notify
	validate *validator.Validate
}

func NewHandler(log *slog.Logger, l Ledger, users UserFinder, sender outbound.Sender, notify Notify) *Handler {
	return &Handler{
		log:      log,
		ledger:   l,
		users:    users,
		sender:   sender,
		notify:   notify,
		validate: validator.New(),
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "payments.webhook"
	log := h.log.With(
		slog.String("op", op),
		slog.String("request_id", middleware.GetReqID(r.Context())),
	)

	var payload Payload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		log.Error("failed to decode webhook payload", "error", err)
		metrics.PaymentEvents.WithLabelValues("malformed").Inc()
		respond(w, r, http.StatusBadRequest, "invalid json")
		return
	}

	if err := h.validate.Struct(payload); err != nil {
		log.Error("webhook validation failed", "error", err, "payment_id", payload.Object.ID)
		metrics.PaymentEvents.WithLabelValues("malformed").Inc()
		h.alert(r.Context(), fmt.Sprintf("⚠️ Ошибка получения данных webhook: %v", err))
		respond(w, r, http.StatusBadRequest, "invalid data")
		return
	}

	if payload.Object.Status != statusSucceeded {
		log.Info("ignored webhook event", "event", payload.Event, "status", payload.Object.Status)
		metrics.PaymentEvents.WithLabelValues("ignored").Inc()
		respond(w, r, http.StatusOK, "ignored")
		return
	}

	userID, errUser := strconv.ParseInt(payload.Object.Metadata.UserID, 10, 64)
	tariffID, errTariff := strconv.ParseUint(payload.Object.Metadata.TariffID, 10, 32)
	if errUser != nil || errTariff != nil {
		log.Error("webhook metadata out of range", "user_id", payload.Object.Metadata.UserID, "tariff_id", payload.Object.Metadata.TariffID)
		metrics.PaymentEvents.WithLabelValues("malformed").Inc()
		respond(w, r, http.StatusBadRequest, "invalid data")
		return
	}

	credit, err := h.ledger.CreditPayment(r.Context(), ledger.Payment{
		ID:       payload.Object.ID,
		UserID:   userID,
		TariffID: uint(tariffID),
	})
	switch {
	case errors.Is(err, ledger.ErrPaymentAlreadyProcessed):
		log.Info("duplicate payment notification", "payment_id", payload.Object.ID)
		metrics.PaymentEvents.WithLabelValues("duplicate").Inc()
		respond(w, r, http.StatusOK, "duplicate")
		return
	case errors.Is(err, ledger.ErrUnknownTariff):
		log.Error("payment references unknown tariff", "payment_id", payload.Object.ID, "tariff_id", tariffID, "user_id", userID)
		metrics.PaymentEvents.WithLabelValues("unknown_tariff").Inc()
		h.alert(r.Context(), fmt.Sprintf("🚨 Оплата %s ссылается на несуществующий тариф %d (user_id=%d). Подписка не начислена.",
			payload.Object.ID, tariffID, userID))
		respond(w, r, http.StatusBadRequest, "tariff error")
		return
	case err != nil:
		log.Error("failed to credit payment", "payment_id", payload.Object.ID, "error", err)
		metrics.PaymentEvents.WithLabelValues("error").Inc()
		respond(w, r, http.StatusInternalServerError, "internal error")
		return
	}

	metrics.PaymentEvents.WithLabelValues("credited").Inc()
	log.Info("subscription extended", "user_id", userID, "days", credit.Tariff.DurationDays, "expire_at", credit.ExpireAt)
	h.confirm(r.Context(), userID, credit)
	respond(w, r, http.StatusOK, "ok")
}

func (h *Handler) confirm(ctx context.Context, userID int64, credit *ledger.Credit) {
	expire := credit.ExpireAt.Format("02.01.2006")

	text := fmt.Sprintf("✅ Ваша подписка успешно оформлена и продлена на %d дней!\n\n🏷️ Тариф: %s\n📅 Действует до: %s",
		credit.Tariff.DurationDays, credit.Tariff.Name, expire)
	if err := h.sender.SendText(ctx, userID, 0, text, nil); err != nil {
		h.log.Warn("failed to notify user about payment", "user_id", userID, "error", err)
	}

	if h.notify.SupportGroupID == 0 {
		return
	}
	name, handle := "-", "-"
	if user, err := h.users.FindUser(ctx, userID); err == nil {
		if user.FirstName != "" {
			name = user.FirstName
		}
		handle = user.Handle()
	}
	notice := fmt.Sprintf("💳 Новая оплата подписки!\n\n👤 Пользователь: %s (%s)\n🆔 ID: %d\n\n🏷️ Тариф: %s\n⏳ Дней: %d\n📅 Действует до: %s",
		name, handle, userID, credit.Tariff.Name, credit.Tariff.DurationDays, expire)
	if err := h.sender.SendText(ctx, h.notify.SupportGroupID, h.notify.SubscribeTopicID, notice, nil); err != nil {
		h.log.Warn("failed to notify support group about payment", "user_id", userID, "error", err)
	}
}

func (h *Handler) alert(ctx context.Context, text string) {
	if h.notify.AlertChatID == 0 {
		return
	}
	if err := h.sender.SendText(ctx, h.notify.AlertChatID, 0, text, nil); err != nil {
		h.log.Warn("failed to send operator alert", "error", err)
	}
}

func respond(w http.ResponseWriter, r *http.Request, code int, status string) {
	render.Status(r, code)
	render.JSON(w, r, map[string]string{"status": status})
}

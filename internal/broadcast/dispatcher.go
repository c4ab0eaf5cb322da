// Package broadcast выполняет массовые рассылки в фоне.
// Состояние каждой рассылки сохраняется в БД, поэтому после перезапуска она продолжается с места остановки.
package broadcast

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"golang.org/x/time/rate"
	"gorm.io/gorm"

	"helpdesk-bot/internal/config"
	"helpdesk-bot/internal/db"
	"helpdesk-bot/internal/metrics"
	"helpdesk-bot/internal/outbound"
)

var (
	ErrEmptyText       = errors.New("broadcast text is empty")
	ErrInvalidButton   = errors.New("button url must start with http:// or https://")
	ErrUnknownAudience = errors.New("unknown audience")
	ErrJobNotRunning   = errors.New("broadcast job is not running")
	ErrStopped         = errors.New("dispatcher is stopped")
)

// Audience - политика выбора получателей
type Audience string

const (
	AudienceAll          Audience = "all"
	AudienceUnsubscribed Audience = "unsubscribed"
)

func (a Audience) DisplayName() string {
	switch a {
	case AudienceAll:
		return "все пользователи"
	case AudienceUnsubscribed:
		return "пользователи без подписки"
	}
	return string(a)
}

// Selector возвращает получателей рассылки. Вызывается один раз при запуске.
type Selector func(ctx context.Context) ([]int64, error)

type Payload struct {
	Text   string
	Button *outbound.Button
}

type Request struct {
	InitiatorID int64
	Audience    Audience
	Payload     Payload
}

// Dispatcher владеет фоновыми рассылками: запускает, отменяет и возобновляет их
type Dispatcher struct {
	db              *gorm.DB
	sender          outbound.Sender
	delay           time.Duration
	checkpointEvery int
	selectors       map[Audience]Selector
	now             func() time.Time

	base    context.Context
	stop    context.CancelFunc
	wg      sync.WaitGroup
	mu      sync.Mutex
	running map[string]*handle
	stopped bool
}

type handle struct {
	cancel    context.CancelFunc
	cancelled atomic.Bool
	cursor    atomic.Int64
	sent      atomic.Int64
	failed    atomic.Int64
}

type Option func(*Dispatcher)

// WithSelector регистрирует или подменяет политику выбора получателей
func WithSelector(audience Audience, sel Selector) Option {
	return func(d *Dispatcher) {
		d.selectors[audience] = sel
	}
}

func NewDispatcher(repo *db.Repository, sender outbound.Sender, cfg config.BroadcastConfig, opts ...Option) *Dispatcher {
	base, stop := context.WithCancel(context.Background())
	d := &Dispatcher{
		db:              repo.DB(),
		sender:          sender,
		delay:           cfg.Delay,
		checkpointEvery: cfg.CheckpointEvery,
		now:             time.Now,
		base:            base,
		stop:            stop,
		running:         make(map[string]*handle),
	}
	if d.checkpointEvery <= 0 {
		d.checkpointEvery = 1
	}
	d.selectors = map[Audience]Selector{
		AudienceAll: repo.AllUserIDs,
		AudienceUnsubscribed: func(ctx context.Context) ([]int64, error) {
			return repo.UserIDsWithoutSubscription(ctx, d.now())
		},
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Start снимает список получателей, сохраняет рассылку и запускает ее в фоне.
// Ошибка выбора получателей прерывает рассылку до первой отправки.
func (d *Dispatcher) Start(ctx context.Context, req Request) (*db.BroadcastJob, error) {
	if err := validatePayload(req.Payload); err != nil {
		return nil, err
	}
	sel, ok := d.selectors[req.Audience]
	if !ok {
		return nil, ErrUnknownAudience
	}

	recipients, err := sel(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "failed to select recipients")
	}
	if recipients == nil {
		recipients = []int64{}
	}

	job := &db.BroadcastJob{
		ID:          uuid.NewString(),
		InitiatorID: req.InitiatorID,
		Audience:    string(req.Audience),
		Text:        req.Payload.Text,
		Recipients:  recipients,
		Status:      db.JobRunning,
	}
	if b := req.Payload.Button; b != nil {
		job.ButtonText = b.Text
		job.ButtonURL = b.URL
	}

	if d.isStopped() {
		return nil, ErrStopped
	}
	if err := d.db.WithContext(ctx).Create(job).Error; err != nil {
		return nil, errors.Wrap(err, "failed to persist broadcast job")
	}
	if err := d.launch(*job); err != nil {
		// Остановка между сохранением и запуском: рассылка не должна подняться при Resume
		d.abandon(job)
		return nil, err
	}

	slog.Info("Broadcast started", "job_id", job.ID, "audience", job.Audience, "total", len(recipients), "initiator", req.InitiatorID)
	return job, nil
}

// Resume продолжает рассылки, прерванные остановкой процесса
func (d *Dispatcher) Resume(ctx context.Context) (int, error) {
	var jobs []db.BroadcastJob
	if err := d.db.WithContext(ctx).Where("status = ?", db.JobRunning).Order("created_at").Find(&jobs).Error; err != nil {
		return 0, errors.Wrap(err, "failed to load unfinished broadcasts")
	}

	resumed := 0
	for i := range jobs {
		job := jobs[i]
		d.mu.Lock()
		_, active := d.running[job.ID]
		d.mu.Unlock()
		if active {
			continue
		}
		if err := d.launch(job); err != nil {
			return resumed, err
		}
		slog.Info("Broadcast resumed", "job_id", job.ID, "cursor", job.Cursor, "total", len(job.Recipients))
		resumed++
	}
	return resumed, nil
}

// Cancel останавливает рассылку. Принимает полный id или его префикс не короче 8 символов.
func (d *Dispatcher) Cancel(id string) (string, error) {
	id = strings.TrimSpace(id)

	d.mu.Lock()
	defer d.mu.Unlock()
	for jobID, h := range d.running {
		if jobID == id || (len(id) >= 8 && strings.HasPrefix(jobID, id)) {
			h.cancelled.Store(true)
			h.cancel()
			return jobID, nil
		}
	}
	return "", ErrJobNotRunning
}

// Jobs возвращает последние рассылки. Для выполняющихся подставляются текущие счетчики.
func (d *Dispatcher) Jobs(ctx context.Context, limit int) ([]db.BroadcastJob, error) {
	var jobs []db.BroadcastJob
	if err := d.db.WithContext(ctx).Order("created_at DESC").Limit(limit).Find(&jobs).Error; err != nil {
		return nil, errors.Wrap(err, "failed to list broadcasts")
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	for i := range jobs {
		if h, ok := d.running[jobs[i].ID]; ok {
			jobs[i].Cursor = int(h.cursor.Load())
			jobs[i].Sent = int(h.sent.Load())
			jobs[i].Failed = int(h.failed.Load())
		}
	}
	return jobs, nil
}

// Stop прерывает все рассылки. Прогресс сохраняется, статус остается running для Resume.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	d.stopped = true
	d.mu.Unlock()

	d.stop()
	d.wg.Wait()
}

// Wait блокируется до завершения всех запущенных рассылок
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

func (d *Dispatcher) isStopped() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.stopped
}

func (d *Dispatcher) abandon(job *db.BroadcastJob) {
	finishedAt := d.now().UTC()
	err := d.db.Model(&db.BroadcastJob{}).Where("id = ?", job.ID).Updates(map[string]any{
		"status":      db.JobCancelled,
		"finished_at": finishedAt,
	}).Error
	if err != nil {
		slog.Error("Failed to abandon broadcast", "job_id", job.ID, "error", err)
	}
}

// launch запускает рассылку на собственной копии job
func (d *Dispatcher) launch(job db.BroadcastJob) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return ErrStopped
	}

	ctx, cancel := context.WithCancel(d.base)
	h := &handle{cancel: cancel}
	h.cursor.Store(int64(job.Cursor))
	h.sent.Store(int64(job.Sent))
	h.failed.Store(int64(job.Failed))
	d.running[job.ID] = h

	d.wg.Add(1)
	metrics.BroadcastJobsRunning.Inc()
	go func() {
		defer d.wg.Done()
		defer metrics.BroadcastJobsRunning.Dec()
		defer cancel()

		d.run(ctx, &job, h)

		d.mu.Lock()
		delete(d.running, job.ID)
		d.mu.Unlock()
	}()
	return nil
}

func (d *Dispatcher) run(ctx context.Context, job *db.BroadcastJob, h *handle) {
	limiter := d.newLimiter()

	var button *outbound.Button
	if job.ButtonText != "" && job.ButtonURL != "" {
		button = &outbound.Button{Text: job.ButtonText, URL: job.ButtonURL}
	}

	for job.Cursor < len(job.Recipients) {
		if err := limiter.Wait(ctx); err != nil {
			break
		}

		recipient := job.Recipients[job.Cursor]
		err := d.sender.SendText(ctx, recipient, 0, job.Text, button)
		if err != nil && ctx.Err() != nil {
			// Отправка прервана отменой, получатель будет обработан при возобновлении
			break
		}
		if err != nil {
			job.Failed++
			metrics.BroadcastDeliveries.WithLabelValues("failed").Inc()
			slog.Debug("Broadcast delivery failed", "job_id", job.ID, "user_id", recipient, "error", err)
		} else {
			job.Sent++
			metrics.BroadcastDeliveries.WithLabelValues("sent").Inc()
		}
		job.Cursor++
		h.cursor.Store(int64(job.Cursor))
		h.sent.Store(int64(job.Sent))
		h.failed.Store(int64(job.Failed))

		if job.Cursor%d.checkpointEvery == 0 {
			d.checkpoint(job)
		}
	}

	switch {
	case ctx.Err() == nil, job.Cursor >= len(job.Recipients):
		d.finish(job, db.JobCompleted)
	case h.cancelled.Load():
		d.finish(job, db.JobCancelled)
	default:
		d.checkpoint(job)
		slog.Info("Broadcast interrupted by shutdown", "job_id", job.ID, "cursor", job.Cursor, "total", len(job.Recipients))
	}
}

func (d *Dispatcher) newLimiter() *rate.Limiter {
	if d.delay <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	return rate.NewLimiter(rate.Every(d.delay), 1)
}

func (d *Dispatcher) checkpoint(job *db.BroadcastJob) {
	err := d.db.Model(&db.BroadcastJob{}).Where("id = ?", job.ID).Updates(map[string]any{
		"cursor": job.Cursor,
		"sent":   job.Sent,
		"failed": job.Failed,
	}).Error
	if err != nil {
		slog.Error("Failed to checkpoint broadcast", "job_id", job.ID, "error", err)
	}
}

func (d *Dispatcher) finish(job *db.BroadcastJob, status db.JobStatus) {
	finishedAt := d.now().UTC()
	job.Status = status
	job.FinishedAt = &finishedAt

	err := d.db.Model(&db.BroadcastJob{}).Where("id = ?", job.ID).Updates(map[string]any{
		"cursor":      job.Cursor,
		"sent":        job.Sent,
		"failed":      job.Failed,
		"status":      status,
		"finished_at": finishedAt,
	}).Error
	if err != nil {
		slog.Error("Failed to persist broadcast result", "job_id", job.ID, "error", err)
	}

	slog.Info("Broadcast finished", "job_id", job.ID, "status", status,
		"total", len(job.Recipients), "sent", job.Sent, "failed", job.Failed)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := d.sender.SendText(ctx, job.InitiatorID, 0, Summary(job), nil); err != nil {
		slog.Warn("Failed to send broadcast summary", "job_id", job.ID, "initiator", job.InitiatorID, "error", err)
	}
}

// Summary формирует отчет о рассылке для инициатора
func Summary(job *db.BroadcastJob) string {
	title := "✅ Рассылка завершена!"
	if job.Status == db.JobCancelled {
		title = "⛔️ Рассылка отменена."
	}
	return fmt.Sprintf("%s\n\n🆔 %s\n👥 Всего получателей: %d\n👍 Успешно отправлено: %d\n👎 Не удалось доставить: %d",
		title, ShortID(job.ID), len(job.Recipients), job.Sent, job.Failed)
}

// ShortID возвращает первые 8 символов идентификатора
func ShortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func validatePayload(p Payload) error {
	if strings.TrimSpace(p.Text) == "" {
		return ErrEmptyText
	}
	if p.Button == nil {
		return nil
	}
	u, err := url.Parse(p.Button.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" || strings.TrimSpace(p.Button.Text) == "" {
		return ErrInvalidButton
	}
	return nil
}

// Package outboundtest содержит записывающую реализацию outbound.Sender для тестов
package outboundtest

import (
	"context"
	"sync"

	"helpdesk-bot/internal/outbound"
)

// Message - отправленное сообщение
type Message struct {
	ChatID   int64
	ThreadID int
	Text     string
	PhotoID  string
	Button   *outbound.Button
}

// Recorder запоминает все отправки. Ошибки для конкретных чатов и тем задаются через FailChat и FailThread.
type Recorder struct {
	mu          sync.Mutex
	messages    []Message
	threads     []string
	nextThread  int
	failChats   map[int64]error
	failThreads map[int]error
	createErr   error
	onCreate    func()
}

func NewRecorder() *Recorder {
	return &Recorder{
		nextThread:  100,
		failChats:   make(map[int64]error),
		failThreads: make(map[int]error),
	}
}

func (r *Recorder) FailChat(chatID int64, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failChats[chatID] = err
}

func (r *Recorder) FailThread(threadID int, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failThreads[threadID] = err
}

func (r *Recorder) FailCreate(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.createErr = err
}

// OnCreate вызывается при каждом создании темы, до возврата результата
func (r *Recorder) OnCreate(fn func()) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onCreate = fn
}

func (r *Recorder) SendText(_ context.Context, chatID int64, threadID int, text string, button *outbound.Button) error {
	return r.record(Message{ChatID: chatID, ThreadID: threadID, Text: text, Button: button})
}

func (r *Recorder) SendPhoto(_ context.Context, chatID int64, threadID int, fileID, caption string) error {
	return r.record(Message{ChatID: chatID, ThreadID: threadID, Text: caption, PhotoID: fileID})
}

func (r *Recorder) CreateThread(_ context.Context, _ int64, name string) (int, error) {
	r.mu.Lock()
	hook := r.onCreate
	if r.createErr != nil {
		err := r.createErr
		r.mu.Unlock()
		return 0, err
	}
	r.nextThread++
	id := r.nextThread
	r.threads = append(r.threads, name)
	r.mu.Unlock()

	if hook != nil {
		hook()
	}
	return id, nil
}

func (r *Recorder) record(m Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err, ok := r.failChats[m.ChatID]; ok {
		return err
	}
	if err, ok := r.failThreads[m.ThreadID]; ok && m.ThreadID != 0 {
		return err
	}
	r.messages = append(r.messages, m)
	return nil
}

func (r *Recorder) Messages() []Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Message, len(r.messages))
	copy(out, r.messages)
	return out
}

// To возвращает сообщения, доставленные в чат chatID
func (r *Recorder) To(chatID int64) []Message {
	var out []Message
	for _, m := range r.Messages() {
		if m.ChatID == chatID {
			out = append(out, m)
		}
	}
	return out
}

// InThread возвращает сообщения, доставленные в тему threadID
func (r *Recorder) InThread(threadID int) []Message {
	var out []Message
	for _, m := range r.Messages() {
		if m.ThreadID == threadID {
			out = append(out, m)
		}
	}
	return out
}

func (r *Recorder) Threads() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.threads))
	copy(out, r.threads)
	return out
}

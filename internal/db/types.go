package db

// TicketStatus представляет состояние тикета поддержки
type TicketStatus string

const (
	TicketOpen   TicketStatus = "open"
	TicketClosed TicketStatus = "closed"
)

func (s TicketStatus) String() string {
	return string(s)
}

func (s TicketStatus) IsValid() bool {
	switch s {
	case TicketOpen, TicketClosed:
		return true
	}
	return false
}

// CanTransition описывает допустимые переходы: open -> closed.
// Закрытый тикет терминален, новое обращение создает новый тикет.
func (s TicketStatus) CanTransition(to TicketStatus) bool {
	return s == TicketOpen && to == TicketClosed
}

func (s TicketStatus) DisplayName() string {
	switch s {
	case TicketOpen:
		return "открыт"
	case TicketClosed:
		return "закрыт"
	}
	return "неизвестный статус"
}

func (s TicketStatus) Emoji() string {
	switch s {
	case TicketOpen:
		return "🟢"
	case TicketClosed:
		return "🔒"
	}
	return "❓"
}

// JobStatus представляет состояние рассылки
type JobStatus string

const (
	JobRunning   JobStatus = "running"
	JobCompleted JobStatus = "completed"
	JobCancelled JobStatus = "cancelled"
)

func (s JobStatus) String() string {
	return string(s)
}

func (s JobStatus) IsTerminal() bool {
	return s == JobCompleted || s == JobCancelled
}

func (s JobStatus) DisplayName() string {
	switch s {
	case JobRunning:
		return "выполняется"
	case JobCompleted:
		return "завершена"
	case JobCancelled:
		return "отменена"
	}
	return "неизвестный статус"
}

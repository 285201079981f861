package store

import (
	"context"
	"errors"
	"time"
)

var ErrNotFound = errors.New("chat message not found")

// Message is one stored exchange unit: an assistant question and the
// employee's response to it. IsFromUser marks the record that concluded
// its session.
type Message struct {
	ID         string    `json:"id"`
	SessionID  string    `json:"session_id"`
	EmployeeID string    `json:"employee_id"`
	Question   string    `json:"question"`
	Response   string    `json:"response"`
	IsFromUser bool      `json:"is_from_user"`
	Timestamp  time.Time `json:"timestamp"`
}

// Store persists chat messages. Dates are UTC calendar days in yyyy-mm-dd
// form.
type Store interface {
	SaveQuestion(ctx context.Context, msg Message) (Message, error)
	// RecordResponse answers the session's latest unanswered question.
	RecordResponse(ctx context.Context, sessionID, response string, concluded bool) (Message, error)
	SessionMessages(ctx context.Context, sessionID string) ([]Message, error)
	History(ctx context.Context, employeeID, date string) ([]Message, error)
	Dates(ctx context.Context, employeeID string) ([]string, error)
	Close() error
}

const dateLayout = "2006-01-02"

func dayOf(t time.Time) string { return t.UTC().Format(dateLayout) }

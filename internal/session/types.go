package session

import (
	"errors"
	"time"
)

// State is the lifecycle position of the page's live chat session.
type State string

const (
	StateUnstarted State = "unstarted"
	StateStarting  State = "starting"
	StateResumed   State = "resumed"
	StateStarted   State = "started"
	StateEnded     State = "ended"
)

// Event drives a Machine transition.
type Event string

const (
	EventResume     Event = "resume"
	EventStartBegin Event = "start_begin"
	EventStartOK    Event = "start_ok"
	EventStartFail  Event = "start_fail"
	EventEnd        Event = "end"
	EventReset      Event = "reset"
)

var (
	ErrInvalidTransition = errors.New("invalid session transition")
	// ErrStartInFlight is returned when another start call has not returned yet.
	ErrStartInFlight = errors.New("session start already in flight")
	// ErrAlreadyStarted is returned when the episode already holds a session.
	ErrAlreadyStarted = errors.New("session already started")
	// ErrSuperseded means the episode was reset while a start call ran; its
	// result was discarded.
	ErrSuperseded = errors.New("session start superseded")
)

// Session is the live conversation the page sends to. An empty ID means no
// active session.
type Session struct {
	ID        string    `json:"session_id"`
	State     State     `json:"state"`
	Ended     bool      `json:"ended"`
	Episode   uint64    `json:"episode"`
	StartedAt time.Time `json:"started_at,omitempty"`
}

// Live reports whether messages can be sent to the session.
func (s Session) Live() bool { return s.ID != "" }

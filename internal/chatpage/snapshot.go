package chatpage

import (
	"errors"

	"github.com/ent0n29/wellchat/internal/chat"
	"github.com/ent0n29/wellchat/internal/portal"
	"github.com/ent0n29/wellchat/internal/reliability"
	"github.com/ent0n29/wellchat/internal/session"
	"github.com/ent0n29/wellchat/internal/voice"
)

// State is the page's position in its per-mount lifecycle.
type State string

const (
	StateAuthPending  State = "auth_pending"
	StateUnauthorized State = "unauthorized"
	StateInitializing State = "initializing"
	StateResumed      State = "resumed"
	StateNewSession   State = "new_session"
	StateActive       State = "active"
	StateLoggingOut   State = "logging_out"
)

var (
	ErrUnauthorized   = errors.New("not authenticated")
	ErrNotActive      = errors.New("chat page is not active")
	ErrSendInFlight   = errors.New("a message is already being sent")
	ErrViewingHistory = errors.New("messages can only be sent while viewing today")
	ErrLoggedOut      = errors.New("logged out")
	ErrInvalidDate    = errors.New("date must be yyyy-mm-dd")
	ErrNoSession      = errors.New("no live chat session")
)

// PageError is the composer error banner.
type PageError struct {
	Kind      reliability.Kind `json:"kind"`
	Message   string           `json:"message"`
	Retryable bool             `json:"retryable"`
}

func newPageError(op reliability.Kind, err error) *PageError {
	return &PageError{
		Kind:      reliability.Classify(op, err),
		Message:   err.Error(),
		Retryable: reliability.IsRetryable(err),
	}
}

// Snapshot is a copy of everything a renderer needs.
type Snapshot struct {
	State          State                `json:"state"`
	EmployeeID     string               `json:"employee_id,omitempty"`
	Today          string               `json:"today,omitempty"`
	ViewedDate     string               `json:"viewed_date,omitempty"`
	Dates          []string             `json:"dates"`
	Turns          []chat.Turn          `json:"turns"`
	SessionID      string               `json:"session_id,omitempty"`
	SessionState   session.State        `json:"session_state"`
	Ended          bool                 `json:"ended"`
	Concluded      bool                 `json:"concluded"`
	FinalAnalysis  portal.FinalAnalysis `json:"final_analysis,omitempty"`
	Typing         bool                 `json:"typing"`
	Loading        bool                 `json:"loading"`
	Draft          string               `json:"draft"`
	CanSend        bool                 `json:"can_send"`
	VoiceSupported bool                 `json:"voice_supported"`
	VoiceState     voice.InputState     `json:"voice_state"`
	Error          *PageError           `json:"error,omitempty"`
}

package exchange

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ent0n29/wellchat/internal/chat"
	"github.com/ent0n29/wellchat/internal/observability"
	"github.com/ent0n29/wellchat/internal/policy"
	"github.com/ent0n29/wellchat/internal/portal"
)

// ThankYou replaces the assistant reply when the backend has no further
// question.
const ThankYou = "Thank you for your feedback"

// Policy names how the user turn behaves when a send fails.
type Policy string

// OptimisticNoRollback appends the user turn before the call and keeps it
// when the call fails. There is no automatic retry.
const OptimisticNoRollback Policy = "optimistic_no_rollback"

var ErrEmptyMessage = errors.New("message is empty")

// Sender posts one user message to the assistant.
type Sender interface {
	Chat(ctx context.Context, sessionID, message string) (portal.ChatResponse, error)
}

// Reply is the outcome of one exchange.
type Reply struct {
	Turn          chat.Turn
	Ended         bool
	FinalAnalysis portal.FinalAnalysis
}

type Option func(*Exchange)

func WithLocation(loc *time.Location) Option {
	return func(e *Exchange) {
		if loc != nil {
			e.loc = loc
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(e *Exchange) {
		if now != nil {
			e.now = now
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(e *Exchange) {
		if logger != nil {
			e.logger = logger
		}
	}
}

func WithMetrics(m *observability.Metrics) Option {
	return func(e *Exchange) { e.metrics = m }
}

// Exchange turns user utterances into assistant turns. It holds no
// transcript; the caller appends what it returns.
type Exchange struct {
	sender  Sender
	loc     *time.Location
	now     func() time.Time
	logger  *slog.Logger
	metrics *observability.Metrics
}

func New(sender Sender, opts ...Option) *Exchange {
	e := &Exchange{
		sender: sender,
		loc:    time.Local,
		now:    time.Now,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Exchange) Policy() Policy { return OptimisticNoRollback }

// Normalize trims text and rejects blank messages.
func Normalize(text string) (string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", ErrEmptyMessage
	}
	return text, nil
}

// UserTurn builds the optimistic turn for text, stamped with now.
func (e *Exchange) UserTurn(text string, now time.Time) chat.Turn {
	return chat.NewTurn(chat.SenderUser, text, now, e.loc)
}

// Send posts text to sessionID and returns the assistant turn to append.
func (e *Exchange) Send(ctx context.Context, sessionID, text string) (Reply, error) {
	text, err := Normalize(text)
	if err != nil {
		return Reply{}, err
	}
	if strings.TrimSpace(sessionID) == "" {
		return Reply{}, errors.New("send requires a live session")
	}

	start := e.now()
	resp, err := e.sender.Chat(ctx, sessionID, text)
	e.metrics.ObserveExchangeLatency(e.now().Sub(start))
	if err != nil {
		e.metrics.Exchange("error")
		e.logger.Warn("chat exchange failed",
			"session_id", sessionID,
			"message_preview", policy.LogPreview(text),
			"err", err,
		)
		return Reply{}, fmt.Errorf("send chat message: %w", err)
	}

	content := resp.Question
	ended := false
	if strings.TrimSpace(content) == "" {
		content = ThankYou
		ended = true
	}
	if resp.FinalAnalysis.Present() {
		ended = true
		e.metrics.Exchange("final")
	} else {
		e.metrics.Exchange("reply")
	}
	e.logger.Debug("chat exchange completed",
		"session_id", sessionID,
		"message_preview", policy.LogPreview(text),
		"ended", ended,
	)
	return Reply{
		Turn:          chat.NewTurn(chat.SenderAssistant, content, e.now(), e.loc),
		Ended:         ended,
		FinalAnalysis: resp.FinalAnalysis,
	}, nil
}

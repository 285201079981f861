package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/ent0n29/wellchat/internal/observability"
	"github.com/ent0n29/wellchat/internal/portal"
)

// Starter opens a remote chat session.
type Starter interface {
	StartChat(ctx context.Context, employeeID string) (portal.StartChatResponse, error)
}

type Manager struct {
	starter Starter
	machine *Machine
	logger  *slog.Logger
	metrics *observability.Metrics
}

func NewManager(starter Starter, logger *slog.Logger, metrics *observability.Metrics) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		starter: starter,
		machine: NewMachine(),
		logger:  logger,
		metrics: metrics,
	}
}

func (m *Manager) Current() Session { return m.machine.Session() }

func (m *Manager) Episode() uint64 { return m.machine.Episode() }

// Resume adopts a session id found in history.
func (m *Manager) Resume(sessionID string) (Session, error) {
	s, err := m.machine.Resume(sessionID)
	if err != nil {
		return Session{}, err
	}
	m.metrics.SessionEvent("resumed")
	m.logger.Info("chat session resumed", "session_id", s.ID)
	return s, nil
}

// Start opens a new remote session for employeeID in episode and returns
// it with the assistant's opening question. It issues at most one remote
// call per episode; concurrent or repeated calls fail with ErrStartInFlight
// or ErrAlreadyStarted, and calls for a reset episode fail with
// ErrSuperseded, all without touching the network.
func (m *Manager) Start(ctx context.Context, episode uint64, employeeID string) (Session, string, error) {
	if err := m.machine.BeginStart(episode); err != nil {
		if errors.Is(err, ErrSuperseded) {
			m.metrics.SessionEvent("superseded")
		} else {
			m.metrics.SessionEvent("start_rejected")
		}
		return Session{}, "", err
	}

	resp, err := m.starter.StartChat(ctx, employeeID)
	if err != nil {
		if ferr := m.machine.FailStart(episode); errors.Is(ferr, ErrSuperseded) {
			m.metrics.SessionEvent("superseded")
			return Session{}, "", ErrSuperseded
		}
		m.metrics.SessionEvent("start_failed")
		m.logger.Warn("chat session start failed", "employee_id", employeeID, "err", err)
		return Session{}, "", fmt.Errorf("start chat session: %w", err)
	}

	s, err := m.machine.FinishStart(episode, resp.SessionID)
	if err != nil {
		if errors.Is(err, ErrSuperseded) {
			m.metrics.SessionEvent("superseded")
			m.metrics.StaleResponse("start")
			m.logger.Info("discarding superseded chat session", "session_id", resp.SessionID)
		}
		return Session{}, "", err
	}
	m.metrics.SessionEvent("started")
	m.logger.Info("chat session started", "employee_id", employeeID, "session_id", s.ID)
	return s, resp.Question, nil
}

// End marks the live session concluded.
func (m *Manager) End() {
	if m.machine.State() == StateEnded {
		return
	}
	if err := m.machine.End(); err != nil {
		m.logger.Debug("ignoring session end", "err", err)
		return
	}
	m.metrics.SessionEvent("ended")
}

// Reset drops the session and begins a new authentication episode.
func (m *Manager) Reset() uint64 {
	episode := m.machine.Reset()
	m.metrics.SessionEvent("reset")
	return episode
}

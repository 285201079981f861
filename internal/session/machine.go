package session

import (
	"fmt"
	"strings"
	"sync"
	"time"
)

var transitions = map[State]map[Event]State{
	StateUnstarted: {
		EventResume:     StateResumed,
		EventStartBegin: StateStarting,
		EventReset:      StateUnstarted,
	},
	StateStarting: {
		EventStartOK:   StateStarted,
		EventStartFail: StateUnstarted,
		EventReset:     StateUnstarted,
	},
	StateResumed: {
		EventResume: StateResumed,
		EventEnd:    StateEnded,
		EventReset:  StateUnstarted,
	},
	StateStarted: {
		EventResume: StateResumed,
		EventEnd:    StateEnded,
		EventReset:  StateUnstarted,
	},
	StateEnded: {
		EventResume: StateEnded,
		EventEnd:    StateEnded,
		EventReset:  StateUnstarted,
	},
}

// Machine is the guarded session state machine. Start may begin only from
// Unstarted, so at most one start call is issued per episode. Reset opens a
// new episode; results tagged with an older episode are rejected.
type Machine struct {
	mu        sync.Mutex
	state     State
	episode   uint64
	id        string
	ended     bool
	startedAt time.Time
	now       func() time.Time
}

func NewMachine() *Machine {
	return &Machine{state: StateUnstarted, episode: 1, now: time.Now}
}

func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *Machine) Episode() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.episode
}

func (m *Machine) Session() Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshotLocked()
}

// Resume adopts sessionID without a network call.
func (m *Machine) Resume(sessionID string) (Session, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return Session{}, fmt.Errorf("%w: resume with empty session id", ErrInvalidTransition)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fireLocked(EventResume); err != nil {
		return Session{}, err
	}
	m.id = sessionID
	return m.snapshotLocked(), nil
}

// BeginStart reserves the single start attempt of episode. A caller that
// read an episode which has since been reset gets ErrSuperseded.
func (m *Machine) BeginStart(episode uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if episode != m.episode {
		return ErrSuperseded
	}
	switch m.state {
	case StateStarting:
		return ErrStartInFlight
	case StateResumed, StateStarted, StateEnded:
		return ErrAlreadyStarted
	}
	return m.fireLocked(EventStartBegin)
}

func (m *Machine) FinishStart(episode uint64, sessionID string) (Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if episode != m.episode {
		return Session{}, ErrSuperseded
	}
	if err := m.fireLocked(EventStartOK); err != nil {
		return Session{}, err
	}
	m.id = sessionID
	m.startedAt = m.now().UTC()
	return m.snapshotLocked(), nil
}

// FailStart releases the start reservation so a later attempt may retry.
func (m *Machine) FailStart(episode uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if episode != m.episode {
		return ErrSuperseded
	}
	return m.fireLocked(EventStartFail)
}

// End marks the conversation as concluded. The session id stays usable.
func (m *Machine) End() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fireLocked(EventEnd); err != nil {
		return err
	}
	m.ended = true
	return nil
}

// Reset clears the session and opens a new episode.
func (m *Machine) Reset() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = StateUnstarted
	m.episode++
	m.id = ""
	m.ended = false
	m.startedAt = time.Time{}
	return m.episode
}

func (m *Machine) fireLocked(ev Event) error {
	next, ok := transitions[m.state][ev]
	if !ok {
		return fmt.Errorf("%w: %s on %s", ErrInvalidTransition, ev, m.state)
	}
	m.state = next
	return nil
}

func (m *Machine) snapshotLocked() Session {
	return Session{
		ID:        m.id,
		State:     m.state,
		Ended:     m.ended,
		Episode:   m.episode,
		StartedAt: m.startedAt,
	}
}

package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// InMemoryStore is a simple in-process store for local/dev use.
type InMemoryStore struct {
	mu       sync.RWMutex
	messages []Message
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{}
}

func (s *InMemoryStore) SaveQuestion(_ context.Context, msg Message) (Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now().UTC()
	}
	s.messages = append(s.messages, msg)
	return msg, nil
}

func (s *InMemoryStore) RecordResponse(_ context.Context, sessionID, response string, concluded bool) (Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx := -1
	for i, m := range s.messages {
		if m.SessionID != sessionID || m.IsFromUser {
			continue
		}
		if idx < 0 || !m.Timestamp.Before(s.messages[idx].Timestamp) {
			idx = i
		}
	}
	if idx < 0 {
		return Message{}, ErrNotFound
	}
	s.messages[idx].Response = response
	s.messages[idx].IsFromUser = concluded
	return s.messages[idx], nil
}

func (s *InMemoryStore) SessionMessages(_ context.Context, sessionID string) ([]Message, error) {
	return s.filter(func(m Message) bool { return m.SessionID == sessionID }), nil
}

func (s *InMemoryStore) History(_ context.Context, employeeID, date string) ([]Message, error) {
	return s.filter(func(m Message) bool {
		return m.EmployeeID == employeeID && dayOf(m.Timestamp) == date
	}), nil
}

func (s *InMemoryStore) Dates(_ context.Context, employeeID string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	seen := make(map[string]struct{})
	var out []string
	for _, m := range s.messages {
		if m.EmployeeID != employeeID {
			continue
		}
		d := dayOf(m.Timestamp)
		if _, ok := seen[d]; ok {
			continue
		}
		seen[d] = struct{}{}
		out = append(out, d)
	}
	sort.Strings(out)
	return out, nil
}

func (s *InMemoryStore) Close() error { return nil }

func (s *InMemoryStore) filter(keep func(Message) bool) []Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Message
	for _, m := range s.messages {
		if keep(m) {
			out = append(out, m)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out
}

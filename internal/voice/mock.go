package voice

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"
	"sync"
	"time"
)

// MockProvider recognizes audio chunks that are base64-encoded UTF-8 text.
// It lets the composer be driven by scripted "speech" in tests and in the
// terminal front end.
type MockProvider struct{}

func NewMockProvider() *MockProvider { return &MockProvider{} }

func (p *MockProvider) StartSession(_ context.Context, _ string) (STTSession, <-chan STTEvent, error) {
	events := make(chan STTEvent, 64)
	s := &mockSTTSession{events: events}
	return s, events, nil
}

type mockSTTSession struct {
	mu      sync.Mutex
	events  chan STTEvent
	pending []string
	closed  bool
}

func (s *mockSTTSession) SendAudioChunk(_ context.Context, audioBase64 string, _ int, commit bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	if audioBase64 != "" {
		raw, err := base64.StdEncoding.DecodeString(audioBase64)
		if err != nil {
			s.events <- STTEvent{Type: STTEventError, Code: "bad_audio", Detail: err.Error(), Timestamp: time.Now().UnixMilli()}
			return fmt.Errorf("decode mock audio chunk: %w", err)
		}
		if word := strings.TrimSpace(string(raw)); word != "" {
			s.pending = append(s.pending, word)
		}
		s.events <- STTEvent{Type: STTEventPartial, Text: strings.Join(s.pending, " "), Confidence: 0.5, Timestamp: time.Now().UnixMilli()}
	}
	if commit {
		text := strings.Join(s.pending, " ")
		s.pending = nil
		s.events <- STTEvent{Type: STTEventCommitted, Text: text, Confidence: 0.9, Source: "mock_commit", Timestamp: time.Now().UnixMilli()}
	}
	return nil
}

func (s *mockSTTSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	close(s.events)
	return nil
}

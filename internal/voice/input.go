package voice

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/google/uuid"
)

type InputState string

const (
	InputIdle      InputState = "idle"
	InputListening InputState = "listening"
)

var (
	ErrUnsupported  = errors.New("speech recognition not supported")
	ErrNotListening = errors.New("voice input is not listening")
)

// InputAdapter mirrors continuous speech recognition into the composer
// draft. Every recognition event overwrites the draft with the text heard
// so far in the current listening period, so edits typed while listening
// are lost. Only Toggle changes state; there is no timeout.
type InputAdapter struct {
	provider STTProvider
	setDraft func(string)
	logger   *slog.Logger

	// deliverMu is held from the generation check through setDraft, and by
	// Stop while it bumps the generation, so no write from a stopped
	// listening period lands after Stop returns.
	deliverMu sync.Mutex

	mu        sync.Mutex
	state     InputState
	gen       uint64
	session   STTSession
	cancel    context.CancelFunc
	committed []string
}

// NewInputAdapter checks support once, at construction. setDraft receives
// the full replacement draft and is never called with the adapter state
// lock held. It must not call Stop.
func NewInputAdapter(provider STTProvider, setDraft func(string), logger *slog.Logger) *InputAdapter {
	if logger == nil {
		logger = slog.Default()
	}
	if setDraft == nil {
		setDraft = func(string) {}
	}
	return &InputAdapter{
		provider: provider,
		setDraft: setDraft,
		logger:   logger,
		state:    InputIdle,
	}
}

func (a *InputAdapter) Supported() bool { return a != nil && a.provider != nil }

func (a *InputAdapter) State() InputState {
	if a == nil {
		return InputIdle
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// Toggle starts listening when idle and stops when listening.
func (a *InputAdapter) Toggle(ctx context.Context) (InputState, error) {
	if !a.Supported() {
		return InputIdle, ErrUnsupported
	}
	if a.State() == InputListening {
		return InputIdle, a.Stop()
	}
	return a.start(ctx)
}

func (a *InputAdapter) start(ctx context.Context) (InputState, error) {
	sessCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	sess, events, err := a.provider.StartSession(sessCtx, uuid.NewString())
	if err != nil {
		cancel()
		return InputIdle, fmt.Errorf("start speech recognition: %w", err)
	}

	a.mu.Lock()
	if a.state == InputListening {
		a.mu.Unlock()
		cancel()
		_ = sess.Close()
		return InputListening, nil
	}
	a.gen++
	gen := a.gen
	a.state = InputListening
	a.session = sess
	a.cancel = cancel
	a.committed = nil
	a.mu.Unlock()

	go a.consume(gen, events)
	return InputListening, nil
}

// Stop ends the listening period. It is a no-op when idle.
func (a *InputAdapter) Stop() error {
	if a == nil {
		return nil
	}
	a.deliverMu.Lock()
	a.mu.Lock()
	sess, cancel := a.session, a.cancel
	a.state = InputIdle
	a.session = nil
	a.cancel = nil
	a.gen++
	a.mu.Unlock()
	a.deliverMu.Unlock()

	if cancel != nil {
		cancel()
	}
	if sess == nil {
		return nil
	}
	return sess.Close()
}

// Feed forwards one audio chunk to the active recognition session.
func (a *InputAdapter) Feed(ctx context.Context, audioBase64 string, sampleRate int, commit bool) error {
	if !a.Supported() {
		return ErrUnsupported
	}
	a.mu.Lock()
	sess := a.session
	a.mu.Unlock()
	if sess == nil {
		return ErrNotListening
	}
	return sess.SendAudioChunk(ctx, audioBase64, sampleRate, commit)
}

func (a *InputAdapter) consume(gen uint64, events <-chan STTEvent) {
	for ev := range events {
		a.deliver(gen, ev)
	}
}

func (a *InputAdapter) deliver(gen uint64, ev STTEvent) {
	a.deliverMu.Lock()
	defer a.deliverMu.Unlock()
	if draft, ok := a.apply(gen, ev); ok {
		a.setDraft(draft)
	}
}

func (a *InputAdapter) apply(gen uint64, ev STTEvent) (string, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if gen != a.gen {
		return "", false
	}
	switch ev.Type {
	case STTEventPartial:
		return joinDraft(a.committed, ev.Text), true
	case STTEventCommitted:
		if text := strings.TrimSpace(ev.Text); text != "" {
			a.committed = append(a.committed, text)
		}
		return joinDraft(a.committed, ""), true
	case STTEventError:
		a.logger.Warn("speech recognition error", "code", ev.Code, "detail", ev.Detail, "retryable", ev.Retryable)
	}
	return "", false
}

func joinDraft(committed []string, partial string) string {
	parts := make([]string, 0, len(committed)+1)
	parts = append(parts, committed...)
	if p := strings.TrimSpace(partial); p != "" {
		parts = append(parts, p)
	}
	return strings.Join(parts, " ")
}

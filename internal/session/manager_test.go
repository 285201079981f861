package session

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/ent0n29/wellchat/internal/portal"
)

type fakeStarter struct {
	calls   atomic.Int32
	entered chan struct{}
	release chan struct{}
	err     error
	id      string
}

func (f *fakeStarter) StartChat(ctx context.Context, _ string) (portal.StartChatResponse, error) {
	f.calls.Add(1)
	if f.entered != nil {
		select {
		case f.entered <- struct{}{}:
		default:
		}
	}
	if f.release != nil {
		select {
		case <-f.release:
		case <-ctx.Done():
			return portal.StartChatResponse{}, ctx.Err()
		}
	}
	if f.err != nil {
		return portal.StartChatResponse{}, f.err
	}
	id := f.id
	if id == "" {
		id = "s-new"
	}
	return portal.StartChatResponse{SessionID: id, Question: "How are you feeling today?"}, nil
}

func TestMachineTransitionTable(t *testing.T) {
	m := NewMachine()
	if err := m.End(); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("End() on unstarted error = %v, want ErrInvalidTransition", err)
	}
	if _, err := m.Resume(""); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("Resume(\"\") error = %v, want ErrInvalidTransition", err)
	}
	s, err := m.Resume("s-1")
	if err != nil {
		t.Fatalf("Resume() error = %v", err)
	}
	if s.State != StateResumed || s.ID != "s-1" {
		t.Fatalf("Resume() = %+v, want resumed s-1", s)
	}
	if err := m.BeginStart(m.Episode()); !errors.Is(err, ErrAlreadyStarted) {
		t.Fatalf("BeginStart() after resume error = %v, want ErrAlreadyStarted", err)
	}
	if err := m.End(); err != nil {
		t.Fatalf("End() error = %v", err)
	}
	if got := m.Session(); got.State != StateEnded || !got.Ended || got.ID != "s-1" {
		t.Fatalf("Session() = %+v, want ended s-1", got)
	}

	ep := m.Reset()
	if ep != 2 {
		t.Fatalf("Reset() episode = %d, want 2", ep)
	}
	if got := m.Session(); got.Live() || got.State != StateUnstarted || got.Ended {
		t.Fatalf("Session() after reset = %+v, want unstarted", got)
	}
}

func TestMachineStartFailReleasesGuard(t *testing.T) {
	m := NewMachine()
	ep := m.Episode()
	if err := m.BeginStart(ep); err != nil {
		t.Fatalf("BeginStart() error = %v", err)
	}
	if err := m.BeginStart(ep); !errors.Is(err, ErrStartInFlight) {
		t.Fatalf("second BeginStart() error = %v, want ErrStartInFlight", err)
	}
	if err := m.FailStart(ep); err != nil {
		t.Fatalf("FailStart() error = %v", err)
	}
	if err := m.BeginStart(ep); err != nil {
		t.Fatalf("BeginStart() after failure error = %v", err)
	}
}

func TestMachineRejectsStaleEpisode(t *testing.T) {
	m := NewMachine()
	ep := m.Episode()
	if err := m.BeginStart(ep); err != nil {
		t.Fatalf("BeginStart() error = %v", err)
	}
	m.Reset()
	if _, err := m.FinishStart(ep, "s-late"); !errors.Is(err, ErrSuperseded) {
		t.Fatalf("FinishStart() error = %v, want ErrSuperseded", err)
	}
	if got := m.Session(); got.Live() {
		t.Fatalf("Session() = %+v, want no live session", got)
	}
}

func TestManagerStartCallsRemoteOncePerEpisode(t *testing.T) {
	starter := &fakeStarter{entered: make(chan struct{}, 1), release: make(chan struct{})}
	m := NewManager(starter, nil, nil)
	ctx := context.Background()

	const callers = 8
	var wg sync.WaitGroup
	var succeeded atomic.Int32
	var rejected atomic.Int32
	started := make(chan struct{})
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(first bool) {
			defer wg.Done()
			if !first {
				<-started
			}
			_, q, err := m.Start(ctx, m.Episode(), "EMP0001")
			switch {
			case err == nil:
				if q == "" {
					t.Errorf("Start() opening question empty")
				}
				succeeded.Add(1)
			case errors.Is(err, ErrStartInFlight), errors.Is(err, ErrAlreadyStarted):
				rejected.Add(1)
			default:
				t.Errorf("Start() error = %v", err)
			}
		}(i == 0)
		if i == 0 {
			<-starter.entered
			close(started)
		}
	}
	close(starter.release)
	wg.Wait()

	if got := starter.calls.Load(); got != 1 {
		t.Fatalf("remote start calls = %d, want 1", got)
	}
	if succeeded.Load() != 1 || rejected.Load() != callers-1 {
		t.Fatalf("succeeded=%d rejected=%d, want 1 and %d", succeeded.Load(), rejected.Load(), callers-1)
	}
	if _, _, err := m.Start(ctx, m.Episode(), "EMP0001"); !errors.Is(err, ErrAlreadyStarted) {
		t.Fatalf("Start() after success error = %v, want ErrAlreadyStarted", err)
	}
	if got := m.Current(); got.ID != "s-new" || got.State != StateStarted {
		t.Fatalf("Current() = %+v, want started s-new", got)
	}
}

func TestManagerStartFailureAllowsRetry(t *testing.T) {
	starter := &fakeStarter{err: errors.New("connection refused")}
	m := NewManager(starter, nil, nil)
	ctx := context.Background()

	if _, _, err := m.Start(ctx, m.Episode(), "EMP0001"); err == nil {
		t.Fatalf("Start() expected error")
	}
	if m.Current().State != StateUnstarted {
		t.Fatalf("State = %q, want unstarted after failure", m.Current().State)
	}
	starter.err = nil
	if _, _, err := m.Start(ctx, m.Episode(), "EMP0001"); err != nil {
		t.Fatalf("retry Start() error = %v", err)
	}
	if got := starter.calls.Load(); got != 2 {
		t.Fatalf("remote start calls = %d, want 2", got)
	}
}

func TestManagerResetSupersedesInFlightStart(t *testing.T) {
	starter := &fakeStarter{entered: make(chan struct{}, 1), release: make(chan struct{})}
	m := NewManager(starter, nil, nil)

	done := make(chan error, 1)
	go func() {
		_, _, err := m.Start(context.Background(), m.Episode(), "EMP0001")
		done <- err
	}()
	<-starter.entered
	m.Reset()
	close(starter.release)

	if err := <-done; !errors.Is(err, ErrSuperseded) {
		t.Fatalf("Start() error = %v, want ErrSuperseded", err)
	}
	if got := m.Current(); got.Live() {
		t.Fatalf("Current() = %+v, want no session after reset", got)
	}
}

func TestMachineBeginStartRejectsResetEpisode(t *testing.T) {
	m := NewMachine()
	ep := m.Episode()
	m.Reset()
	if err := m.BeginStart(ep); !errors.Is(err, ErrSuperseded) {
		t.Fatalf("BeginStart(old episode) error = %v, want ErrSuperseded", err)
	}
	if got := m.State(); got != StateUnstarted {
		t.Fatalf("State() = %q, want unstarted", got)
	}
}

func TestManagerStartForResetEpisodeSkipsRemote(t *testing.T) {
	starter := &fakeStarter{}
	m := NewManager(starter, nil, nil)
	ep := m.Episode()
	m.Reset()

	if _, _, err := m.Start(context.Background(), ep, "EMP0001"); !errors.Is(err, ErrSuperseded) {
		t.Fatalf("Start(old episode) error = %v, want ErrSuperseded", err)
	}
	if got := starter.calls.Load(); got != 0 {
		t.Fatalf("remote start calls = %d, want 0", got)
	}
	if got := m.Current(); got.Live() || got.State != StateUnstarted {
		t.Fatalf("Current() = %+v, want unstarted without session", got)
	}
}

func TestManagerEndIsIdempotent(t *testing.T) {
	m := NewManager(&fakeStarter{}, nil, nil)
	if _, err := m.Resume("s-1"); err != nil {
		t.Fatalf("Resume() error = %v", err)
	}
	m.End()
	m.End()
	if got := m.Current(); !got.Ended || got.ID != "s-1" {
		t.Fatalf("Current() = %+v, want ended s-1", got)
	}
}

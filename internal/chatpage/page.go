package chatpage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ent0n29/wellchat/internal/auth"
	"github.com/ent0n29/wellchat/internal/chat"
	"github.com/ent0n29/wellchat/internal/exchange"
	"github.com/ent0n29/wellchat/internal/history"
	"github.com/ent0n29/wellchat/internal/observability"
	"github.com/ent0n29/wellchat/internal/policy"
	"github.com/ent0n29/wellchat/internal/portal"
	"github.com/ent0n29/wellchat/internal/reliability"
	"github.com/ent0n29/wellchat/internal/session"
	"github.com/ent0n29/wellchat/internal/voice"
)

type HistoryStore interface {
	Fetch(ctx context.Context, employeeID, date string) history.Result
	Dates(ctx context.Context, employeeID, today string) history.DateIndex
}

type SessionManager interface {
	Current() session.Session
	Episode() uint64
	Resume(sessionID string) (session.Session, error)
	// Start issues the remote start only while episode is current.
	Start(ctx context.Context, episode uint64, employeeID string) (session.Session, string, error)
	End()
	Reset() uint64
}

type Exchanger interface {
	UserTurn(text string, now time.Time) chat.Turn
	Send(ctx context.Context, sessionID, text string) (exchange.Reply, error)
}

type Logouter interface {
	Logout(ctx context.Context) error
}

type Deps struct {
	Auth     auth.Resolver
	History  HistoryStore
	Sessions SessionManager
	Exchange Exchanger
	Logout   Logouter
	// Voice is nil when the runtime has no speech recognition.
	Voice    voice.STTProvider
	Location *time.Location
	Now      func() time.Time
	Logger   *slog.Logger
	Metrics  *observability.Metrics
}

// Page is the chat screen's orchestrator. It exclusively owns the
// transcript and the live session id; collaborators only return data for
// it to apply. Network calls never run under the page lock, and every
// async result is checked against the view sequence and session episode
// it was issued for before it is applied.
type Page struct {
	deps    Deps
	logger  *slog.Logger
	metrics *observability.Metrics
	voice   *voice.InputAdapter

	mu         sync.Mutex
	state      State
	auth       auth.Session
	mounted    bool
	mountDone  chan struct{}
	mountErr   error
	loggingOut bool

	today      string
	viewedDate string
	viewSeq    uint64
	dates      history.DateIndex
	transcript chat.Transcript
	ended      bool
	concluded  bool
	final      portal.FinalAnalysis
	sending    bool
	loading    bool
	draft      string
	lastErr    *PageError

	subs    map[int]chan Snapshot
	nextSub int
}

func New(deps Deps) (*Page, error) {
	switch {
	case deps.Auth == nil:
		return nil, errors.New("chatpage: auth resolver is required")
	case deps.History == nil:
		return nil, errors.New("chatpage: history store is required")
	case deps.Sessions == nil:
		return nil, errors.New("chatpage: session manager is required")
	case deps.Exchange == nil:
		return nil, errors.New("chatpage: exchange is required")
	case deps.Logout == nil:
		return nil, errors.New("chatpage: logouter is required")
	}
	if deps.Location == nil {
		deps.Location = time.Local
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}

	p := &Page{
		deps:      deps,
		logger:    deps.Logger,
		metrics:   deps.Metrics,
		state:     StateAuthPending,
		auth:      auth.Session{Status: auth.StatusInit},
		mountDone: make(chan struct{}),
		subs:      make(map[int]chan Snapshot),
	}
	p.voice = voice.NewInputAdapter(deps.Voice, p.applyVoiceDraft, deps.Logger)
	return p, nil
}

// Mount resolves auth and initializes the page. It runs once; later calls
// wait for and return the first call's outcome.
func (p *Page) Mount(ctx context.Context) error {
	p.mu.Lock()
	if p.mounted {
		p.mu.Unlock()
		select {
		case <-p.mountDone:
		case <-ctx.Done():
			return ctx.Err()
		}
		p.mu.Lock()
		defer p.mu.Unlock()
		return p.mountErr
	}
	p.mounted = true
	p.mu.Unlock()

	err := p.mount(ctx)

	p.mu.Lock()
	p.mountErr = err
	close(p.mountDone)
	p.mu.Unlock()
	return err
}

func (p *Page) mount(ctx context.Context) error {
	authSession, authErr := auth.Resolve(ctx, p.deps.Auth)

	p.mu.Lock()
	if p.loggingOut {
		p.mu.Unlock()
		return ErrLoggedOut
	}
	p.auth = authSession
	if !authSession.Authenticated() {
		p.state = StateUnauthorized
		if authErr != nil {
			p.lastErr = newPageError(reliability.KindAuth, authErr)
			p.logger.Warn("chat page auth check failed", "err", authErr)
		}
		p.publishLocked()
		p.mu.Unlock()
		if authErr != nil {
			return fmt.Errorf("%w: %w", ErrUnauthorized, authErr)
		}
		return ErrUnauthorized
	}
	employeeID := authSession.EmployeeID()
	p.state = StateInitializing
	p.today = chat.DateKey(p.deps.Now(), p.deps.Location)
	p.viewedDate = p.today
	p.viewSeq++
	seq := p.viewSeq
	episode := p.deps.Sessions.Episode()
	today := p.today
	p.loading = true
	p.publishLocked()
	p.mu.Unlock()

	var (
		dates history.DateIndex
		res   history.Result
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		dates = p.deps.History.Dates(gctx, employeeID, today)
		return nil
	})
	g.Go(func() error {
		res = p.deps.History.Fetch(gctx, employeeID, today)
		return nil
	})
	_ = g.Wait()

	p.mu.Lock()
	if !p.currentLocked(seq, episode) {
		p.metrics.StaleResponse("history")
		p.mu.Unlock()
		return ErrLoggedOut
	}
	p.dates = dates
	p.loading = false
	if res.Found() {
		p.transcript = chat.NewTranscript(res.Turns)
		_, err := p.deps.Sessions.Resume(res.SessionID)
		if err == nil {
			if res.Ended {
				p.deps.Sessions.End()
			}
			p.ended = res.Ended
			p.state = StateResumed
			p.publishLocked()
			p.state = StateActive
			p.publishLocked()
			p.mu.Unlock()
			return nil
		}
		p.logger.Warn("history has no usable session id; starting a new session",
			"employee_id", employeeID, "date", today, "err", err)
	}
	p.state = StateNewSession
	p.publishLocked()
	p.mu.Unlock()

	// A failed start leaves the composer usable; sending or RetrySession
	// tries again.
	_, _ = p.acquireSession(ctx, employeeID, episode)

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.loggingOut {
		return ErrLoggedOut
	}
	p.state = StateActive
	p.publishLocked()
	return nil
}

// acquireSession performs the episode's guarded start. Duplicate attempts
// return the current session without error. A logout after episode was
// read makes the start fail without a remote call.
func (p *Page) acquireSession(ctx context.Context, employeeID string, episode uint64) (session.Session, error) {
	s, question, err := p.deps.Sessions.Start(ctx, episode, employeeID)

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.loggingOut || episode != p.deps.Sessions.Episode() || errors.Is(err, session.ErrSuperseded) {
		p.metrics.StaleResponse("start")
		return session.Session{}, ErrLoggedOut
	}
	switch {
	case errors.Is(err, session.ErrStartInFlight), errors.Is(err, session.ErrAlreadyStarted):
		return p.deps.Sessions.Current(), nil
	case err != nil:
		p.lastErr = newPageError(reliability.KindSessionStart, err)
		p.publishLocked()
		return session.Session{}, err
	}
	p.clearErrLocked(reliability.KindSessionStart)
	if p.transcript.Empty() && p.viewedDate == p.today && question != "" {
		p.transcript.Append(chat.NewTurn(chat.SenderAssistant, question, p.deps.Now(), p.deps.Location))
	}
	p.publishLocked()
	return s, nil
}

// SendMessage appends the user turn at once, then posts it to today's
// session. Reentry while a send is unresolved is rejected.
func (p *Page) SendMessage(ctx context.Context, text string) (Snapshot, error) {
	text, err := exchange.Normalize(text)
	if err != nil {
		return p.Snapshot(), err
	}

	p.mu.Lock()
	if err := p.activeLocked(); err != nil {
		snap := p.snapshotLocked()
		p.mu.Unlock()
		return snap, err
	}
	if p.sending {
		snap := p.snapshotLocked()
		p.mu.Unlock()
		return snap, ErrSendInFlight
	}
	if p.viewedDate != p.today {
		snap := p.snapshotLocked()
		p.mu.Unlock()
		return snap, ErrViewingHistory
	}
	p.sending = true
	p.draft = ""
	p.transcript.Append(p.deps.Exchange.UserTurn(text, p.deps.Now()))
	seq := p.viewSeq
	episode := p.deps.Sessions.Episode()
	employeeID := p.auth.EmployeeID()
	live := p.deps.Sessions.Current()
	p.publishLocked()
	p.mu.Unlock()

	if !live.Live() {
		s, err := p.acquireSession(ctx, employeeID, episode)
		if err == nil && !s.Live() {
			err = ErrNoSession
		}
		if err != nil {
			p.mu.Lock()
			defer p.mu.Unlock()
			p.sending = false
			if errors.Is(err, ErrNoSession) {
				p.lastErr = &PageError{Kind: reliability.KindSessionStart, Message: err.Error(), Retryable: true}
			}
			p.publishLocked()
			return p.snapshotLocked(), err
		}
		live = s
	}

	p.logger.Debug("sending chat message", "session_id", live.ID, "message_preview", policy.LogPreview(text))
	reply, sendErr := p.deps.Exchange.Send(ctx, live.ID, text)

	p.mu.Lock()
	defer p.mu.Unlock()
	p.sending = false
	if p.loggingOut || episode != p.deps.Sessions.Episode() {
		p.metrics.StaleResponse("send")
		return p.snapshotLocked(), ErrLoggedOut
	}
	if sendErr != nil {
		p.lastErr = newPageError(reliability.KindSend, sendErr)
		p.publishLocked()
		return p.snapshotLocked(), sendErr
	}
	p.clearErrLocked(reliability.KindSend)
	if reply.Ended {
		p.deps.Sessions.End()
	}
	if reply.FinalAnalysis.Present() {
		p.concluded = true
		p.final = reply.FinalAnalysis
	}
	switch {
	case p.viewedDate != p.today:
		// The user moved to another date; today's reload shows the reply.
		p.metrics.StaleResponse("send")
	case seq != p.viewSeq && p.replyReloadedLocked(reply.Turn):
		// Today was reloaded after the backend stored the reply.
	default:
		p.transcript.Append(reply.Turn)
	}
	if p.viewedDate == p.today {
		p.ended = p.ended || reply.Ended
	}
	p.publishLocked()
	return p.snapshotLocked(), nil
}

// ChangeViewedDate replaces the transcript with the history of date. A
// result that arrives after a newer selection is dropped.
func (p *Page) ChangeViewedDate(ctx context.Context, date string) (Snapshot, error) {
	if !chat.ValidDateKey(date) {
		return p.Snapshot(), ErrInvalidDate
	}

	p.mu.Lock()
	if err := p.activeLocked(); err != nil {
		snap := p.snapshotLocked()
		p.mu.Unlock()
		return snap, err
	}
	p.viewSeq++
	seq := p.viewSeq
	episode := p.deps.Sessions.Episode()
	employeeID := p.auth.EmployeeID()
	p.viewedDate = date
	p.loading = true
	p.publishLocked()
	p.mu.Unlock()

	res := p.deps.History.Fetch(ctx, employeeID, date)

	p.mu.Lock()
	if !p.currentLocked(seq, episode) {
		p.metrics.StaleResponse("history")
		snap := p.snapshotLocked()
		p.mu.Unlock()
		return snap, nil
	}
	p.loading = false
	p.transcript = chat.NewTranscript(res.Turns)
	p.ended = res.Ended
	needStart := false
	if date == p.today {
		current := p.deps.Sessions.Current()
		switch {
		case res.Found() && !current.Live():
			_, err := p.deps.Sessions.Resume(res.SessionID)
			switch {
			case err != nil:
				p.logger.Debug("ignoring session resume on date change",
					"date", date, "session_state", current.State, "err", err)
			case res.Ended:
				p.deps.Sessions.End()
			}
		case !res.Found() && !current.Live():
			needStart = true
		}
		p.ended = p.ended || p.deps.Sessions.Current().Ended
	}
	p.publishLocked()
	p.mu.Unlock()

	if needStart {
		if _, err := p.acquireSession(ctx, employeeID, episode); err != nil {
			return p.Snapshot(), err
		}
	}
	return p.Snapshot(), nil
}

// RetrySession re-runs session acquisition after a failed start.
func (p *Page) RetrySession(ctx context.Context) (Snapshot, error) {
	p.mu.Lock()
	if err := p.activeLocked(); err != nil {
		snap := p.snapshotLocked()
		p.mu.Unlock()
		return snap, err
	}
	if p.deps.Sessions.Current().Live() {
		snap := p.snapshotLocked()
		p.mu.Unlock()
		return snap, nil
	}
	episode := p.deps.Sessions.Episode()
	employeeID := p.auth.EmployeeID()
	p.mu.Unlock()

	if _, err := p.acquireSession(ctx, employeeID, episode); err != nil {
		return p.Snapshot(), err
	}
	return p.Snapshot(), nil
}

// Logout tears the page down. The guard is set before the remote call so
// nothing in flight can start a new session afterwards.
func (p *Page) Logout(ctx context.Context) (Snapshot, error) {
	p.mu.Lock()
	if p.loggingOut {
		snap := p.snapshotLocked()
		p.mu.Unlock()
		return snap, nil
	}
	p.loggingOut = true
	p.state = StateLoggingOut
	p.viewSeq++
	p.deps.Sessions.Reset()
	p.auth = p.auth.Teardown()
	p.transcript.Reset()
	p.draft = ""
	p.sending = false
	p.loading = false
	p.ended = false
	p.concluded = false
	p.final = nil
	p.lastErr = nil
	p.publishLocked()
	p.mu.Unlock()

	if err := p.voice.Stop(); err != nil {
		p.logger.Debug("voice stop on logout failed", "err", err)
	}
	err := p.deps.Logout.Logout(ctx)

	p.mu.Lock()
	defer p.mu.Unlock()
	if err != nil {
		p.logger.Warn("remote logout failed", "err", err)
		p.lastErr = newPageError(reliability.KindLogout, err)
	}
	p.state = StateUnauthorized
	p.publishLocked()
	return p.snapshotLocked(), nil
}

func (p *Page) SetDraft(text string) Snapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.loggingOut {
		return p.snapshotLocked()
	}
	p.draft = text
	p.publishLocked()
	return p.snapshotLocked()
}

func (p *Page) Draft() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.draft
}

func (p *Page) applyVoiceDraft(text string) { p.SetDraft(text) }

// ToggleVoice starts or stops speech capture into the draft.
func (p *Page) ToggleVoice(ctx context.Context) (Snapshot, error) {
	p.mu.Lock()
	if err := p.activeLocked(); err != nil {
		snap := p.snapshotLocked()
		p.mu.Unlock()
		return snap, err
	}
	p.mu.Unlock()

	if _, err := p.voice.Toggle(ctx); err != nil {
		return p.Snapshot(), err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.publishLocked()
	return p.snapshotLocked(), nil
}

func (p *Page) FeedVoice(ctx context.Context, audioBase64 string, sampleRate int, commit bool) error {
	return p.voice.Feed(ctx, audioBase64, sampleRate, commit)
}

func (p *Page) Snapshot() Snapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.snapshotLocked()
}

// Subscribe returns a channel that receives the latest snapshot after
// every applied change. Slow readers only see the newest snapshot.
func (p *Page) Subscribe() (<-chan Snapshot, func()) {
	ch := make(chan Snapshot, 1)
	p.mu.Lock()
	id := p.nextSub
	p.nextSub++
	p.subs[id] = ch
	ch <- p.snapshotLocked()
	p.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			p.mu.Lock()
			delete(p.subs, id)
			p.mu.Unlock()
		})
	}
}

func (p *Page) activeLocked() error {
	switch {
	case p.loggingOut:
		return ErrLoggedOut
	case p.state == StateUnauthorized:
		return ErrUnauthorized
	case p.state != StateActive:
		return ErrNotActive
	}
	return nil
}

// replyReloadedLocked reports whether the latest assistant turn of a
// reloaded today already carries the reply t.
func (p *Page) replyReloadedLocked(t chat.Turn) bool {
	turns := p.transcript.Turns()
	for i := len(turns) - 1; i >= 0; i-- {
		if turns[i].Sender == chat.SenderAssistant {
			return turns[i].Content == t.Content
		}
	}
	return false
}

func (p *Page) currentLocked(seq, episode uint64) bool {
	return !p.loggingOut && seq == p.viewSeq && episode == p.deps.Sessions.Episode()
}

func (p *Page) clearErrLocked(kind reliability.Kind) {
	if p.lastErr != nil && p.lastErr.Kind == kind {
		p.lastErr = nil
	}
}

func (p *Page) snapshotLocked() Snapshot {
	sess := p.deps.Sessions.Current()
	snap := Snapshot{
		State:          p.state,
		EmployeeID:     p.auth.EmployeeID(),
		Today:          p.today,
		ViewedDate:     p.viewedDate,
		Dates:          append([]string(nil), p.dates...),
		Turns:          p.transcript.Turns(),
		SessionID:      sess.ID,
		SessionState:   sess.State,
		Ended:          p.ended,
		Concluded:      p.concluded,
		FinalAnalysis:  p.final,
		Typing:         p.sending,
		Loading:        p.loading,
		Draft:          p.draft,
		VoiceSupported: p.voice.Supported(),
		VoiceState:     p.voice.State(),
	}
	if snap.Dates == nil {
		snap.Dates = []string{}
	}
	snap.CanSend = p.state == StateActive && !p.loggingOut && !p.sending && p.viewedDate == p.today
	if p.lastErr != nil {
		e := *p.lastErr
		snap.Error = &e
	}
	return snap
}

func (p *Page) publishLocked() {
	p.metrics.SetTranscriptTurns(p.transcript.Len())
	if len(p.subs) == 0 {
		return
	}
	snap := p.snapshotLocked()
	for _, ch := range p.subs {
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- snap:
		default:
		}
	}
}

package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"

	"github.com/ent0n29/wellchat/internal/chatpage"
	"github.com/ent0n29/wellchat/internal/config"
	"github.com/ent0n29/wellchat/internal/exchange"
	"github.com/ent0n29/wellchat/internal/observability"
	"github.com/ent0n29/wellchat/internal/protocol"
	"github.com/ent0n29/wellchat/internal/reliability"
	"github.com/ent0n29/wellchat/internal/voice"
)

// Page is the chat screen the bridge exposes.
type Page interface {
	Snapshot() chatpage.Snapshot
	Subscribe() (<-chan chatpage.Snapshot, func())
	SendMessage(ctx context.Context, text string) (chatpage.Snapshot, error)
	ChangeViewedDate(ctx context.Context, date string) (chatpage.Snapshot, error)
	Logout(ctx context.Context) (chatpage.Snapshot, error)
	RetrySession(ctx context.Context) (chatpage.Snapshot, error)
	SetDraft(text string) chatpage.Snapshot
	ToggleVoice(ctx context.Context) (chatpage.Snapshot, error)
	FeedVoice(ctx context.Context, audioBase64 string, sampleRate int, commit bool) error
}

type Server struct {
	cfg      config.Config
	page     Page
	metrics  *observability.Metrics
	logger   *slog.Logger
	upgrader websocket.Upgrader
}

func New(cfg config.Config, page Page, metrics *observability.Metrics, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		cfg:     cfg,
		page:    page,
		metrics: metrics,
		logger:  logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				// Only same-origin browsers may drive the employee's chat.
				if cfg.AllowAnyOrigin {
					return true
				}
				origin := strings.TrimSpace(r.Header.Get("Origin"))
				if origin == "" {
					// Non-browser clients often omit Origin. Allow them.
					return true
				}
				u, err := url.Parse(origin)
				if err != nil {
					return false
				}
				if u.Scheme != "http" && u.Scheme != "https" {
					return false
				}
				return strings.EqualFold(u.Host, r.Host)
			},
		},
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		observability.MetricsHandler().ServeHTTP(w, r)
	})

	r.Route("/v1/chat", func(r chi.Router) {
		r.Get("/state", s.handleState)
		r.Post("/messages", s.handleSend)
		r.Post("/date", s.handleChangeDate)
		r.Post("/logout", s.handleLogout)
		r.Post("/session/retry", s.handleRetrySession)
		r.Put("/draft", s.handleDraft)
		r.Post("/voice/toggle", s.handleVoiceToggle)
		r.Get("/ws", s.handleWS)
	})
	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	snap := s.page.Snapshot()
	status := http.StatusOK
	ready := "ready"
	switch snap.State {
	case chatpage.StateAuthPending, chatpage.StateInitializing, chatpage.StateNewSession:
		status = http.StatusServiceUnavailable
		ready = "initializing"
	}
	respondJSON(w, status, map[string]any{"status": ready, "page_state": snap.State})
}

func (s *Server) handleState(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, s.page.Snapshot())
}

type sendRequest struct {
	Message string `json:"message"`
}

func (s *Server) handleSend(w http.ResponseWriter, r *http.Request) {
	var req sendRequest
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, errEmptyBody) {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error(), nil)
		return
	}
	snap, err := s.page.SendMessage(r.Context(), req.Message)
	s.respondPage(w, snap, err)
}

type dateRequest struct {
	Date string `json:"date"`
}

func (s *Server) handleChangeDate(w http.ResponseWriter, r *http.Request) {
	var req dateRequest
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, errEmptyBody) {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error(), nil)
		return
	}
	snap, err := s.page.ChangeViewedDate(r.Context(), strings.TrimSpace(req.Date))
	s.respondPage(w, snap, err)
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	snap, err := s.page.Logout(r.Context())
	s.respondPage(w, snap, err)
}

func (s *Server) handleRetrySession(w http.ResponseWriter, r *http.Request) {
	snap, err := s.page.RetrySession(r.Context())
	s.respondPage(w, snap, err)
}

type draftRequest struct {
	Draft string `json:"draft"`
}

func (s *Server) handleDraft(w http.ResponseWriter, r *http.Request) {
	var req draftRequest
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, errEmptyBody) {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error(), nil)
		return
	}
	respondJSON(w, http.StatusOK, s.page.SetDraft(req.Draft))
}

func (s *Server) handleVoiceToggle(w http.ResponseWriter, r *http.Request) {
	snap, err := s.page.ToggleVoice(r.Context())
	s.respondPage(w, snap, err)
}

func (s *Server) respondPage(w http.ResponseWriter, snap chatpage.Snapshot, err error) {
	if err == nil {
		respondJSON(w, http.StatusOK, snap)
		return
	}
	status, code := classifyPageError(err)
	respondError(w, status, code, err.Error(), &snap)
}

// classifyPageError maps page errors onto HTTP status and a stable code.
func classifyPageError(err error) (int, string) {
	switch {
	case errors.Is(err, exchange.ErrEmptyMessage):
		return http.StatusBadRequest, "empty_message"
	case errors.Is(err, chatpage.ErrInvalidDate):
		return http.StatusBadRequest, "invalid_date"
	case errors.Is(err, chatpage.ErrSendInFlight):
		return http.StatusConflict, "send_in_flight"
	case errors.Is(err, chatpage.ErrViewingHistory):
		return http.StatusConflict, "viewing_history"
	case errors.Is(err, chatpage.ErrNotActive):
		return http.StatusConflict, "not_active"
	case errors.Is(err, voice.ErrNotListening):
		return http.StatusConflict, "voice_not_listening"
	case errors.Is(err, voice.ErrUnsupported):
		return http.StatusNotImplemented, "voice_unsupported"
	case errors.Is(err, chatpage.ErrLoggedOut), errors.Is(err, chatpage.ErrUnauthorized), reliability.IsAuthFailure(err):
		return http.StatusUnauthorized, "unauthorized"
	default:
		return http.StatusBadGateway, "upstream_failed"
	}
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	s.metrics.SessionEvent("ws_connected")

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	snapshots, unsubscribe := s.page.Subscribe()
	defer unsubscribe()
	outbound := make(chan any, 64)

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		for {
			var msg any
			select {
			case <-ctx.Done():
				return
			case snap := <-snapshots:
				msg = protocol.NewStateSnapshot(snap)
			case m := <-outbound:
				msg = m
			}
			_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := conn.WriteJSON(msg); err != nil {
				cancel()
				return
			}
			if t, ok := protocol.TypeOf(msg); ok {
				s.metrics.WSMessage("outbound", string(t))
			}
		}
	}()

	conn.SetReadLimit(2 << 20)
	_ = conn.SetReadDeadline(time.Now().Add(120 * time.Second))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(120 * time.Second))
		return nil
	})

	var inflight sync.WaitGroup
	emit := func(ev protocol.ErrorEvent) {
		select {
		case outbound <- ev:
		default:
			// Keep websocket writes single-threaded; drop if the queue is saturated.
			s.logger.Debug("dropping websocket error event", "code", ev.Code)
		}
	}
	run := func(source string, fn func(context.Context) error) {
		inflight.Add(1)
		go func() {
			defer inflight.Done()
			if err := fn(ctx); err != nil {
				_, code := classifyPageError(err)
				emit(protocol.NewErrorEvent(code, source, err.Error(), reliability.IsRetryable(err)))
			}
		}()
	}

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			break
		}
		if msgType != websocket.TextMessage {
			continue
		}
		_ = conn.SetReadDeadline(time.Now().Add(120 * time.Second))
		parsed, err := protocol.ParseClientMessage(data)
		if err != nil {
			emit(protocol.NewErrorEvent("invalid_client_message", "gateway", err.Error(), false))
			continue
		}
		if t, ok := protocol.TypeOf(parsed); ok {
			s.metrics.WSMessage("inbound", string(t))
		}

		switch m := parsed.(type) {
		case protocol.ClientSend:
			run("send", func(ctx context.Context) error {
				_, err := s.page.SendMessage(ctx, m.Message)
				return err
			})
		case protocol.ClientChangeDate:
			run("history", func(ctx context.Context) error {
				_, err := s.page.ChangeViewedDate(ctx, m.Date)
				return err
			})
		case protocol.ClientLogout:
			run("logout", func(ctx context.Context) error {
				_, err := s.page.Logout(ctx)
				return err
			})
		case protocol.ClientRetrySession:
			run("session_start", func(ctx context.Context) error {
				_, err := s.page.RetrySession(ctx)
				return err
			})
		case protocol.ClientVoiceToggle:
			run("voice", func(ctx context.Context) error {
				_, err := s.page.ToggleVoice(ctx)
				return err
			})
		case protocol.ClientDraft:
			s.page.SetDraft(m.Draft)
		case protocol.ClientAudioChunk:
			if err := s.page.FeedVoice(ctx, m.PCM16Base64, m.SampleRate, m.Commit); err != nil {
				_, code := classifyPageError(err)
				emit(protocol.NewErrorEvent(code, "voice", err.Error(), false))
			}
		}
	}

	cancel()
	inflight.Wait()
	<-writerDone
	s.metrics.SessionEvent("ws_disconnected")
}

type errorResponse struct {
	Error string             `json:"error"`
	Code  string             `json:"code"`
	State *chatpage.Snapshot `json:"state,omitempty"`
}

var errEmptyBody = errors.New("empty body")

func decodeJSON(r *http.Request, out any) error {
	if r.Body == nil {
		return errEmptyBody
	}
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(out); err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "eof") {
			return errEmptyBody
		}
		return err
	}
	return nil
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string, state *chatpage.Snapshot) {
	respondJSON(w, status, errorResponse{Error: message, Code: code, State: state})
}

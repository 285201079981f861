package portalsim

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/ent0n29/wellchat/internal/observability"
	"github.com/ent0n29/wellchat/internal/portal"
	"github.com/ent0n29/wellchat/internal/portalsim/store"
)

// Config for the development portal backend.
type Config struct {
	// Users maps employee ids to passwords.
	Users     map[string]string
	TokenTTL  time.Duration
	Questions int
	Now       func() time.Time
}

// Server simulates the portal endpoints the chat page consumes.
type Server struct {
	users   map[string]string
	script  Script
	tokens  *tokens
	store   store.Store
	now     func() time.Time
	logger  *slog.Logger
	metrics *observability.Metrics
}

func New(cfg Config, st store.Store, metrics *observability.Metrics, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	users := cfg.Users
	if users == nil {
		users = map[string]string{}
	}
	return &Server{
		users:   users,
		script:  NewScript(cfg.Questions),
		tokens:  newTokens(cfg.TokenTTL, now),
		store:   st,
		now:     now,
		logger:  logger,
		metrics: metrics,
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		observability.MetricsHandler().ServeHTTP(w, r)
	})
	r.Post(portal.PathToken, s.handleToken)

	r.Group(func(r chi.Router) {
		r.Use(s.requireAuth)
		r.Get("/"+portal.PathUserInfo, s.handleMe)
		r.Post(portal.PathLogout, s.handleLogout)
		r.Post(portal.PathStartChat, s.handleStartChat)
		r.Post(portal.PathChat, s.handleChat)
		r.Get(portal.PathChatHistory, s.handleHistory)
		r.Get(portal.PathChatDates, s.handleDates)
	})
	return r
}

type ctxKey struct{}

func employeeFrom(ctx context.Context) string {
	id, _ := ctx.Value(ctxKey{}).(string)
	return id
}

func (s *Server) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		employeeID, ok := s.tokens.lookup(tokenFrom(r))
		if !ok {
			respondDetail(w, http.StatusUnauthorized, "Not authenticated")
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ctxKey{}, employeeID)))
	})
}

func (s *Server) handleToken(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		respondDetail(w, http.StatusBadRequest, "invalid form")
		return
	}
	username := strings.TrimSpace(r.PostForm.Get("username"))
	password := r.PostForm.Get("password")
	want, ok := s.users[username]
	if !ok || want != password {
		respondDetail(w, http.StatusUnauthorized, "Incorrect username or password")
		return
	}

	token := s.tokens.issue(username)
	http.SetCookie(w, &http.Cookie{
		Name:     tokenCookie,
		Value:    token,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	s.logger.Info("portalsim login", "employee_id", username)
	respondJSON(w, http.StatusOK, portal.LoginResponse{
		AccessToken: token,
		TokenType:   "bearer",
		Role:        "employee",
		EmployeeID:  username,
	})
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	employeeID := employeeFrom(r.Context())
	respondJSON(w, http.StatusOK, portal.User{
		Username:   employeeID,
		Role:       "employee",
		EmployeeID: employeeID,
	})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	s.tokens.revoke(tokenFrom(r))
	http.SetCookie(w, &http.Cookie{Name: tokenCookie, Value: "", Path: "/", MaxAge: -1})
	respondJSON(w, http.StatusOK, map[string]string{"message": "Successfully logged out"})
}

func (s *Server) handleStartChat(w http.ResponseWriter, r *http.Request) {
	var req portal.StartChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondDetail(w, http.StatusUnprocessableEntity, "invalid request body")
		return
	}
	if !s.authorized(w, r, req.EmployeeID) {
		return
	}

	msg, err := s.store.SaveQuestion(r.Context(), store.Message{
		SessionID:  uuid.NewString(),
		EmployeeID: req.EmployeeID,
		Question:   s.script.Question(0),
		Timestamp:  s.now().UTC(),
	})
	if err != nil {
		s.logger.Error("portalsim start chat failed", "employee_id", req.EmployeeID, "err", err)
		respondDetail(w, http.StatusInternalServerError, "Error starting chat")
		return
	}
	s.metrics.SessionEvent("started")
	s.logger.Info("portalsim chat started", "employee_id", req.EmployeeID, "session_id", msg.SessionID)
	respondJSON(w, http.StatusOK, portal.StartChatResponse{SessionID: msg.SessionID, Question: msg.Question})
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req portal.ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || strings.TrimSpace(req.SessionID) == "" {
		respondDetail(w, http.StatusUnprocessableEntity, "invalid request body")
		return
	}
	ctx := r.Context()

	msgs, err := s.store.SessionMessages(ctx, req.SessionID)
	if err != nil {
		s.serverError(w, "load session", err)
		return
	}
	if len(msgs) == 0 {
		respondDetail(w, http.StatusNotFound, "Chat session or question not found")
		return
	}
	if !s.authorized(w, r, msgs[0].EmployeeID) {
		return
	}

	if concluded(msgs) {
		s.metrics.Exchange("reply")
		respondJSON(w, http.StatusOK, portal.ChatResponse{SessionID: req.SessionID, Question: thankYou()})
		return
	}

	asked := len(msgs)
	final := asked >= s.script.Len()
	answered, err := s.store.RecordResponse(ctx, req.SessionID, req.Message, final)
	if errors.Is(err, store.ErrNotFound) {
		respondDetail(w, http.StatusNotFound, "Chat session or question not found")
		return
	}
	if err != nil {
		s.serverError(w, "record response", err)
		return
	}

	if final {
		msgs[len(msgs)-1] = answered
		s.metrics.Exchange("final")
		respondJSON(w, http.StatusOK, map[string]any{
			"session_id":     req.SessionID,
			"question":       thankYou(),
			"final_analysis": analyze(msgs, s.now()),
		})
		return
	}

	next, err := s.store.SaveQuestion(ctx, store.Message{
		SessionID:  req.SessionID,
		EmployeeID: answered.EmployeeID,
		Question:   s.script.Question(asked),
		Timestamp:  s.now().UTC(),
	})
	if err != nil {
		s.serverError(w, "save question", err)
		return
	}
	s.metrics.Exchange("reply")
	respondJSON(w, http.StatusOK, portal.ChatResponse{SessionID: req.SessionID, Question: next.Question})
}

func concluded(msgs []store.Message) bool {
	for _, m := range msgs {
		if m.IsFromUser {
			return true
		}
	}
	return false
}

type historyMessage struct {
	Question   string    `json:"question"`
	Response   *string   `json:"response"`
	Timestamp  time.Time `json:"timestamp"`
	IsFromUser bool      `json:"is_from_user"`
	SessionID  string    `json:"session_id"`
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	employeeID := strings.TrimSpace(q.Get("employee_id"))
	date := strings.TrimSpace(q.Get("chat_date"))
	if _, err := time.Parse("2006-01-02", date); err != nil {
		respondDetail(w, http.StatusUnprocessableEntity, "chat_date must be yyyy-mm-dd")
		return
	}
	if !s.authorized(w, r, employeeID) {
		return
	}

	msgs, err := s.store.History(r.Context(), employeeID, date)
	if err != nil {
		s.serverError(w, "history", err)
		return
	}
	out := make([]historyMessage, 0, len(msgs))
	for _, m := range msgs {
		hm := historyMessage{
			Question:   m.Question,
			Timestamp:  m.Timestamp,
			IsFromUser: m.IsFromUser,
			SessionID:  m.SessionID,
		}
		if m.Response != "" {
			resp := m.Response
			hm.Response = &resp
		}
		out = append(out, hm)
	}
	respondJSON(w, http.StatusOK, map[string]any{"messages": out})
}

func (s *Server) handleDates(w http.ResponseWriter, r *http.Request) {
	employeeID := strings.TrimSpace(r.URL.Query().Get("employee_id"))
	if !s.authorized(w, r, employeeID) {
		return
	}
	dates, err := s.store.Dates(r.Context(), employeeID)
	if err != nil {
		s.serverError(w, "chat dates", err)
		return
	}
	if dates == nil {
		dates = []string{}
	}
	respondJSON(w, http.StatusOK, portal.ChatDatesResponse{ChatDates: dates})
}

// authorized restricts employees to their own records.
func (s *Server) authorized(w http.ResponseWriter, r *http.Request, employeeID string) bool {
	if strings.TrimSpace(employeeID) == "" {
		respondDetail(w, http.StatusUnprocessableEntity, "employee_id is required")
		return false
	}
	if employeeFrom(r.Context()) != employeeID {
		respondDetail(w, http.StatusForbidden, "Not authorized for this employee")
		return false
	}
	return true
}

func (s *Server) serverError(w http.ResponseWriter, op string, err error) {
	s.logger.Error("portalsim request failed", "op", op, "err", err)
	respondDetail(w, http.StatusInternalServerError, "Error processing request")
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondDetail(w http.ResponseWriter, status int, detail string) {
	respondJSON(w, status, map[string]string{"detail": detail})
}

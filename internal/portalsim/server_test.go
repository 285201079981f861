package portalsim

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ent0n29/wellchat/internal/portal"
	"github.com/ent0n29/wellchat/internal/portalsim/store"
)

func newTestServer(t *testing.T, questions int) (*httptest.Server, *portal.Client) {
	t.Helper()
	var mu sync.Mutex
	clock := time.Date(2025, 3, 23, 10, 0, 0, 0, time.UTC)
	srv := New(Config{
		Users:     map[string]string{"EMP0001": "pw", "EMP0002": "pw2"},
		Questions: questions,
		Now: func() time.Time {
			mu.Lock()
			defer mu.Unlock()
			clock = clock.Add(time.Second)
			return clock
		},
	}, store.NewInMemoryStore(), nil, nil)
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)

	c, err := portal.New(portal.Config{BaseURL: ts.URL})
	if err != nil {
		t.Fatalf("portal.New() error = %v", err)
	}
	return ts, c
}

func TestLoginAndMe(t *testing.T) {
	_, c := newTestServer(t, 0)
	ctx := context.Background()

	if _, err := c.Me(ctx); !errors.Is(err, portal.ErrUnauthorized) {
		t.Fatalf("Me() before login error = %v, want ErrUnauthorized", err)
	}
	if _, err := c.Login(ctx, "EMP0001", "wrong"); !errors.Is(err, portal.ErrUnauthorized) {
		t.Fatalf("Login(wrong) error = %v, want ErrUnauthorized", err)
	}
	login, err := c.Login(ctx, "EMP0001", "pw")
	if err != nil {
		t.Fatalf("Login() error = %v", err)
	}
	if login.EmployeeID != "EMP0001" || login.TokenType != "bearer" {
		t.Fatalf("Login() = %+v", login)
	}
	user, err := c.Me(ctx)
	if err != nil {
		t.Fatalf("Me() error = %v", err)
	}
	if user.EmployeeID != "EMP0001" || user.Role != "employee" {
		t.Fatalf("Me() = %+v", user)
	}
}

func TestCookieAuthAfterLogin(t *testing.T) {
	ts, c := newTestServer(t, 0)
	ctx := context.Background()
	if _, err := c.Login(ctx, "EMP0001", "pw"); err != nil {
		t.Fatalf("Login() error = %v", err)
	}

	// A second client sharing only the cookie.
	cookie := &http.Cookie{Name: tokenCookie, Value: c.Token()}
	req, _ := http.NewRequest(http.MethodGet, ts.URL+"/users/me", nil)
	req.AddCookie(cookie)
	res, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET /users/me error = %v", err)
	}
	res.Body.Close()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("GET /users/me status = %d, want 200", res.StatusCode)
	}
}

func TestScriptedConversationConcludes(t *testing.T) {
	_, c := newTestServer(t, 3)
	ctx := context.Background()
	if _, err := c.Login(ctx, "EMP0001", "pw"); err != nil {
		t.Fatalf("Login() error = %v", err)
	}

	started, err := c.StartChat(ctx, "EMP0001")
	if err != nil {
		t.Fatalf("StartChat() error = %v", err)
	}
	if started.Question != defaultQuestions[0] {
		t.Fatalf("StartChat().Question = %q, want %q", started.Question, defaultQuestions[0])
	}

	for i, answer := range []string{"good week", "shipping features"} {
		reply, err := c.Chat(ctx, started.SessionID, answer)
		if err != nil {
			t.Fatalf("Chat(%d) error = %v", i, err)
		}
		if reply.FinalAnalysis.Present() {
			t.Fatalf("Chat(%d) concluded early", i)
		}
		if reply.Question != defaultQuestions[i+1] {
			t.Fatalf("Chat(%d).Question = %q, want %q", i, reply.Question, defaultQuestions[i+1])
		}
	}

	final, err := c.Chat(ctx, started.SessionID, "I feel tired and stressed")
	if err != nil {
		t.Fatalf("Chat(final) error = %v", err)
	}
	if !final.FinalAnalysis.Present() {
		t.Fatalf("Chat(final).FinalAnalysis.Present() = false, want true")
	}
	if got := final.FinalAnalysis["overall_assessment"]; got != "Frustrated Zone" {
		t.Fatalf("overall_assessment = %v, want Frustrated Zone", got)
	}
	if got := final.FinalAnalysis["next_interaction"]; got != "2025-03-26" {
		t.Fatalf("next_interaction = %v, want 2025-03-26", got)
	}

	after, err := c.Chat(ctx, started.SessionID, "one more thing")
	if err != nil {
		t.Fatalf("Chat(after) error = %v", err)
	}
	if after.FinalAnalysis.Present() || after.Question == "" {
		t.Fatalf("Chat(after) = %+v, want plain thank-you", after)
	}

	records, err := c.ChatHistory(ctx, "EMP0001", "2025-03-23")
	if err != nil {
		t.Fatalf("ChatHistory() error = %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("len(records) = %d, want 3", len(records))
	}
	if records[0].Response != "good week" || records[2].Response != "I feel tired and stressed" {
		t.Fatalf("records = %+v", records)
	}
	if records[1].IsFromUser || !records[2].IsFromUser {
		t.Fatalf("only the concluding record should be marked: %+v", records)
	}

	dates, err := c.ChatDates(ctx, "EMP0001")
	if err != nil {
		t.Fatalf("ChatDates() error = %v", err)
	}
	if len(dates) != 1 || dates[0] != "2025-03-23" {
		t.Fatalf("ChatDates() = %v, want [2025-03-23]", dates)
	}
}

func TestEmployeeScopedEndpoints(t *testing.T) {
	_, c := newTestServer(t, 0)
	ctx := context.Background()
	if _, err := c.Login(ctx, "EMP0001", "pw"); err != nil {
		t.Fatalf("Login() error = %v", err)
	}

	var se *portal.StatusError
	if _, err := c.StartChat(ctx, "EMP0002"); !errors.As(err, &se) || se.StatusCode() != http.StatusForbidden {
		t.Fatalf("StartChat(other) error = %v, want 403", err)
	}
	if _, err := c.ChatHistory(ctx, "EMP0001", "23-03-2025"); !errors.As(err, &se) || se.StatusCode() != http.StatusUnprocessableEntity {
		t.Fatalf("ChatHistory(bad date) error = %v, want 422", err)
	}
	if _, err := c.Chat(ctx, "missing", "hi"); !errors.As(err, &se) || se.StatusCode() != http.StatusNotFound {
		t.Fatalf("Chat(missing) error = %v, want 404", err)
	}
	dates, err := c.ChatDates(ctx, "EMP0001")
	if err != nil {
		t.Fatalf("ChatDates() error = %v", err)
	}
	if len(dates) != 0 {
		t.Fatalf("ChatDates() = %v, want empty", dates)
	}
}

func TestLogoutRevokesToken(t *testing.T) {
	_, c := newTestServer(t, 0)
	ctx := context.Background()
	if _, err := c.Login(ctx, "EMP0001", "pw"); err != nil {
		t.Fatalf("Login() error = %v", err)
	}
	token := c.Token()
	if err := c.Logout(ctx); err != nil {
		t.Fatalf("Logout() error = %v", err)
	}

	c.SetToken(token)
	_, err := c.Me(ctx)
	if !errors.Is(err, portal.ErrUnauthorized) {
		t.Fatalf("Me() after logout error = %v, want ErrUnauthorized", err)
	}
	if !strings.Contains(err.Error(), "Not authenticated") {
		t.Fatalf("Me() error = %v, want detail body", err)
	}
}

func TestTokenExpiry(t *testing.T) {
	now := time.Date(2025, 3, 23, 10, 0, 0, 0, time.UTC)
	tk := newTokens(time.Minute, func() time.Time { return now })
	token := tk.issue("EMP0001")
	if id, ok := tk.lookup(token); !ok || id != "EMP0001" {
		t.Fatalf("lookup() = %q, %v, want EMP0001", id, ok)
	}
	now = now.Add(2 * time.Minute)
	if _, ok := tk.lookup(token); ok {
		t.Fatalf("lookup() after expiry ok = true, want false")
	}
}

func TestAnalyzeZones(t *testing.T) {
	now := time.Date(2025, 3, 23, 0, 0, 0, 0, time.UTC)
	cases := []struct {
		response string
		zone     string
		next     string
	}{
		{"all good, feeling happy", "Happy Zone", "2025-03-30"},
		{"pretty tired and down", "Sad Zone", "2025-03-26"},
		{"nothing to report", "Neutral Zone", "2025-03-30"},
	}
	for _, tc := range cases {
		got := analyze([]store.Message{{Response: tc.response}}, now)
		if got["overall_assessment"] != tc.zone || got["next_interaction"] != tc.next {
			t.Fatalf("analyze(%q) = %v, want %s %s", tc.response, got, tc.zone, tc.next)
		}
	}
}

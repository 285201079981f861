package portal

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ent0n29/wellchat/internal/reliability"
)

// Endpoint paths, relative to the portal base URL.
const (
	PathToken       = "/token"
	PathUserInfo    = "users/me"
	PathLogout      = "/logout"
	PathStartChat   = "/start_chat"
	PathChat        = "/chat"
	PathChatHistory = "/chathistory"
	PathChatDates   = "/chatdates"
)

const tracerName = "github.com/ent0n29/wellchat/internal/portal"

// ErrUnauthorized matches any response that rejected the credentials.
var ErrUnauthorized = errors.New("portal: unauthorized")

// StatusError is returned for non-2xx responses.
type StatusError struct {
	Method string
	Path   string
	Code   int
	Body   string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("portal %s %s: status %d", e.Method, e.Path, e.Code)
	}
	return fmt.Sprintf("portal %s %s: status %d: %s", e.Method, e.Path, e.Code, e.Body)
}

func (e *StatusError) StatusCode() int { return e.Code }

func (e *StatusError) Is(target error) bool {
	return target == ErrUnauthorized && reliability.IsAuthStatus(e.Code)
}

// Config controls client construction.
type Config struct {
	BaseURL    string
	Token      string
	Timeout    time.Duration
	HTTPClient *http.Client
}

// Client talks to the portal backend. Requests carry the session cookies
// the backend sets and, when known, a bearer token.
type Client struct {
	base   *url.URL
	client *http.Client
	tracer trace.Tracer

	mu    sync.RWMutex
	token string
}

func New(cfg Config) (*Client, error) {
	raw := strings.TrimSpace(cfg.BaseURL)
	if raw == "" {
		return nil, errors.New("portal base url is required")
	}
	base, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("parse portal base url: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("portal base url must be http or https, got %q", base.Scheme)
	}
	base.Path = strings.TrimRight(base.Path, "/") + "/"

	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("create cookie jar: %w", err)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	var httpClient *http.Client
	if cfg.HTTPClient != nil {
		c := *cfg.HTTPClient
		if c.Jar == nil {
			c.Jar = jar
		}
		httpClient = &c
	} else {
		httpClient = &http.Client{Timeout: timeout, Jar: jar}
	}

	return &Client{
		base:   base,
		client: httpClient,
		tracer: otel.Tracer(tracerName),
		token:  strings.TrimSpace(cfg.Token),
	}, nil
}

func (c *Client) Token() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

func (c *Client) SetToken(token string) {
	c.mu.Lock()
	c.token = strings.TrimSpace(token)
	c.mu.Unlock()
}

// Login exchanges credentials for an access token and keeps it for later
// calls.
func (c *Client) Login(ctx context.Context, username, password string) (LoginResponse, error) {
	form := url.Values{}
	form.Set("username", username)
	form.Set("password", password)

	var out LoginResponse
	err := c.do(ctx, "login", http.MethodPost, PathToken, nil,
		strings.NewReader(form.Encode()), "application/x-www-form-urlencoded", &out)
	if err != nil {
		return LoginResponse{}, err
	}
	if strings.TrimSpace(out.AccessToken) == "" {
		return LoginResponse{}, errors.New("portal login: empty access token")
	}
	c.SetToken(out.AccessToken)
	return out, nil
}

func (c *Client) Me(ctx context.Context) (User, error) {
	var out User
	if err := c.do(ctx, "me", http.MethodGet, PathUserInfo, nil, nil, "", &out); err != nil {
		return User{}, err
	}
	return out, nil
}

func (c *Client) StartChat(ctx context.Context, employeeID string) (StartChatResponse, error) {
	var out StartChatResponse
	if err := c.postJSON(ctx, "start_chat", PathStartChat, StartChatRequest{EmployeeID: employeeID}, &out); err != nil {
		return StartChatResponse{}, err
	}
	if strings.TrimSpace(out.SessionID) == "" {
		return StartChatResponse{}, errors.New("portal start_chat: empty session_id")
	}
	return out, nil
}

func (c *Client) Chat(ctx context.Context, sessionID, message string) (ChatResponse, error) {
	var out ChatResponse
	if err := c.postJSON(ctx, "chat", PathChat, ChatRequest{SessionID: sessionID, Message: message}, &out); err != nil {
		return ChatResponse{}, err
	}
	return out, nil
}

func (c *Client) ChatHistory(ctx context.Context, employeeID, date string) ([]HistoryRecord, error) {
	q := url.Values{}
	q.Set("chat_date", date)
	q.Set("employee_id", employeeID)

	var out HistoryResponse
	if err := c.do(ctx, "chathistory", http.MethodGet, PathChatHistory, q, nil, "", &out); err != nil {
		return nil, err
	}
	return out.Messages, nil
}

func (c *Client) ChatDates(ctx context.Context, employeeID string) ([]string, error) {
	q := url.Values{}
	q.Set("employee_id", employeeID)

	var out ChatDatesResponse
	if err := c.do(ctx, "chatdates", http.MethodGet, PathChatDates, q, nil, "", &out); err != nil {
		return nil, err
	}
	return out.ChatDates, nil
}

// Logout ends the remote session and forgets the token whatever the outcome.
func (c *Client) Logout(ctx context.Context) error {
	defer c.SetToken("")
	return c.do(ctx, "logout", http.MethodPost, PathLogout, nil, nil, "", nil)
}

func (c *Client) postJSON(ctx context.Context, op, path string, in, out any) error {
	payload, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("marshal %s request: %w", op, err)
	}
	return c.do(ctx, op, http.MethodPost, path, nil, bytes.NewReader(payload), "application/json", out)
}

func (c *Client) endpoint(path string, query url.Values) *url.URL {
	ref := &url.URL{Path: strings.TrimLeft(path, "/")}
	u := c.base.ResolveReference(ref)
	if len(query) > 0 {
		u.RawQuery = query.Encode()
	}
	return u
}

func (c *Client) do(ctx context.Context, op, method, path string, query url.Values, body io.Reader, contentType string, out any) (err error) {
	ctx, span := c.tracer.Start(ctx, "portal."+op, trace.WithSpanKind(trace.SpanKindClient))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	u := c.endpoint(path, query)
	span.SetAttributes(
		attribute.String("http.method", method),
		attribute.String("http.url", u.Redacted()),
	)

	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return fmt.Errorf("create %s request: %w", op, err)
	}
	req.Header.Set("Accept", "application/json")
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if token := c.Token(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	res, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("send %s request: %w", op, err)
	}
	defer res.Body.Close()
	span.SetAttributes(attribute.Int("http.status_code", res.StatusCode))

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		data, _ := io.ReadAll(io.LimitReader(res.Body, 4<<10))
		return &StatusError{
			Method: method,
			Path:   path,
			Code:   res.StatusCode,
			Body:   strings.TrimSpace(string(data)),
		}
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, io.LimitReader(res.Body, 64<<10))
		return nil
	}
	if err := json.NewDecoder(res.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", op, err)
	}
	return nil
}

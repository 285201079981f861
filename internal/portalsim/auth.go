package portalsim

import (
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

const tokenCookie = "access_token"

type grant struct {
	employeeID string
	expires    time.Time
}

// tokens is the simulator's bearer token table.
type tokens struct {
	mu     sync.Mutex
	ttl    time.Duration
	now    func() time.Time
	grants map[string]grant
}

func newTokens(ttl time.Duration, now func() time.Time) *tokens {
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	return &tokens{ttl: ttl, now: now, grants: make(map[string]grant)}
}

func (t *tokens) issue(employeeID string) string {
	token := uuid.NewString()
	t.mu.Lock()
	t.grants[token] = grant{employeeID: employeeID, expires: t.now().Add(t.ttl)}
	t.mu.Unlock()
	return token
}

func (t *tokens) lookup(token string) (string, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	g, ok := t.grants[token]
	if !ok {
		return "", false
	}
	if t.now().After(g.expires) {
		delete(t.grants, token)
		return "", false
	}
	return g.employeeID, true
}

func (t *tokens) revoke(token string) {
	t.mu.Lock()
	delete(t.grants, token)
	t.mu.Unlock()
}

// tokenFrom reads a bearer header or the access_token cookie.
func tokenFrom(r *http.Request) string {
	if h := strings.TrimSpace(r.Header.Get("Authorization")); h != "" {
		if scheme, token, ok := strings.Cut(h, " "); ok && strings.EqualFold(scheme, "bearer") {
			return strings.TrimSpace(token)
		}
	}
	if c, err := r.Cookie(tokenCookie); err == nil {
		return strings.TrimPrefix(strings.TrimSpace(c.Value), "Bearer ")
	}
	return ""
}

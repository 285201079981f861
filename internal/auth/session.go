package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/ent0n29/wellchat/internal/portal"
	"github.com/ent0n29/wellchat/internal/reliability"
)

// Status is the authentication lifecycle: init, then authenticated or
// anonymous, then torn down.
type Status string

const (
	StatusInit          Status = "init"
	StatusAuthenticated Status = "authenticated"
	StatusAnonymous     Status = "anonymous"
	StatusTornDown      Status = "torn_down"
)

// ErrNoEmployee is returned for users the chat page cannot serve.
var ErrNoEmployee = errors.New("authenticated user has no employee id")

// Resolver reports the current user.
type Resolver interface {
	Me(ctx context.Context) (portal.User, error)
}

// Session is the application's view of who is signed in. It is a value:
// transitions return a new Session.
type Session struct {
	Status Status      `json:"status"`
	User   portal.User `json:"user"`
}

func (s Session) Authenticated() bool { return s.Status == StatusAuthenticated }

func (s Session) EmployeeID() string { return s.User.EmployeeID }

// Teardown drops the user. It is the terminal state for a page.
func (s Session) Teardown() Session {
	return Session{Status: StatusTornDown}
}

// Resolve asks the portal who is signed in. Rejected credentials resolve to
// an anonymous session without error; other failures return an anonymous
// session and the cause.
func Resolve(ctx context.Context, r Resolver) (Session, error) {
	user, err := r.Me(ctx)
	if err != nil {
		if reliability.IsAuthFailure(err) {
			return Session{Status: StatusAnonymous}, nil
		}
		return Session{Status: StatusAnonymous}, fmt.Errorf("resolve current user: %w", err)
	}
	if strings.TrimSpace(user.EmployeeID) == "" {
		return Session{Status: StatusAnonymous, User: user}, ErrNoEmployee
	}
	return Session{Status: StatusAuthenticated, User: user}, nil
}

package auth

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/ent0n29/wellchat/internal/portal"
)

type fakeResolver struct {
	user portal.User
	err  error
}

func (f fakeResolver) Me(context.Context) (portal.User, error) { return f.user, f.err }

func TestResolve(t *testing.T) {
	cases := []struct {
		name    string
		r       fakeResolver
		status  Status
		wantErr error
		anyErr  bool
	}{
		{"employee", fakeResolver{user: portal.User{Role: "employee", EmployeeID: "EMP0001"}}, StatusAuthenticated, nil, false},
		{"rejected", fakeResolver{err: &portal.StatusError{Code: http.StatusUnauthorized}}, StatusAnonymous, nil, false},
		{"no employee id", fakeResolver{user: portal.User{Role: "hr"}}, StatusAnonymous, ErrNoEmployee, true},
		{"network", fakeResolver{err: errors.New("dial tcp: refused")}, StatusAnonymous, nil, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s, err := Resolve(context.Background(), tc.r)
			if s.Status != tc.status {
				t.Fatalf("Status = %q, want %q", s.Status, tc.status)
			}
			if (err != nil) != tc.anyErr {
				t.Fatalf("err = %v, want error %v", err, tc.anyErr)
			}
			if tc.wantErr != nil && !errors.Is(err, tc.wantErr) {
				t.Fatalf("err = %v, want %v", err, tc.wantErr)
			}
		})
	}
}

func TestTeardown(t *testing.T) {
	s := Session{Status: StatusAuthenticated, User: portal.User{EmployeeID: "EMP0001"}}
	down := s.Teardown()
	if down.Status != StatusTornDown || down.EmployeeID() != "" || down.Authenticated() {
		t.Fatalf("Teardown() = %+v", down)
	}
	if !s.Authenticated() {
		t.Fatalf("original session mutated")
	}
}

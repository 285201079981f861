package app

import (
	"context"
	"fmt"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ent0n29/wellchat/internal/chat"
	"github.com/ent0n29/wellchat/internal/chatpage"
	"github.com/ent0n29/wellchat/internal/config"
)

func testConfig(t *testing.T) config.Config {
	t.Helper()
	return config.Config{
		PortalUsername:   "EMP0001",
		PortalPassword:   "pw",
		PortalTimeout:    5 * time.Second,
		MetricsNamespace: fmt.Sprintf("test_app_%d", time.Now().UnixNano()),
		TimeZone:         "UTC",
		EndedRule:        "any",
		VoiceInput:       "off",
		SimUsers:         "EMP0001:pw",
		SimTokenTTL:      time.Hour,
		SimQuestions:     2,
	}
}

func startSim(t *testing.T, cfg config.Config) string {
	t.Helper()
	sim, err := BuildSim(context.Background(), cfg, nil)
	if err != nil {
		t.Fatalf("BuildSim() error = %v", err)
	}
	if sim.StoreMode != "in-memory" {
		t.Fatalf("StoreMode = %q, want in-memory", sim.StoreMode)
	}
	ts := httptest.NewServer(sim.Server.Router())
	t.Cleanup(func() {
		ts.Close()
		_ = sim.Cleanup()
	})
	return ts.URL
}

func buildPage(t *testing.T, cfg config.Config) *BuildResult {
	t.Helper()
	res, err := Build(context.Background(), cfg, nil)
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	t.Cleanup(func() { _ = res.Cleanup(context.Background()) })
	return res
}

func TestConversationAgainstSimulatedPortal(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)
	cfg.PortalURL = startSim(t, cfg)

	res := buildPage(t, cfg)
	if res.Portal.Token() == "" {
		t.Fatalf("Build() did not log in")
	}
	page := res.Page
	if err := page.Mount(ctx); err != nil {
		t.Fatalf("Mount() error = %v", err)
	}
	snap := page.Snapshot()
	if snap.State != chatpage.StateActive || snap.SessionID == "" {
		t.Fatalf("after Mount state = %s session = %q, want active with session", snap.State, snap.SessionID)
	}
	if len(snap.Turns) != 1 || snap.Turns[0].Sender != chat.SenderAssistant {
		t.Fatalf("after Mount turns = %+v, want opening question", snap.Turns)
	}

	snap, err := page.SendMessage(ctx, "good week")
	if err != nil {
		t.Fatalf("SendMessage() error = %v", err)
	}
	if len(snap.Turns) != 3 || snap.Concluded {
		t.Fatalf("after first send turns = %d concluded = %v", len(snap.Turns), snap.Concluded)
	}

	snap, err = page.SendMessage(ctx, "a bit tired")
	if err != nil {
		t.Fatalf("SendMessage() error = %v", err)
	}
	if !snap.Concluded || !snap.Ended || !snap.FinalAnalysis.Present() {
		t.Fatalf("after final send = %+v, want concluded with analysis", snap)
	}
	if !snap.CanSend {
		t.Fatalf("CanSend = false after conclusion, want free-form messages allowed")
	}

	snap, err = page.Logout(ctx)
	if err != nil {
		t.Fatalf("Logout() error = %v", err)
	}
	if snap.State != chatpage.StateUnauthorized || len(snap.Turns) != 0 {
		t.Fatalf("after Logout = %+v, want unauthorized and empty", snap)
	}
	if res.Portal.Token() != "" {
		t.Fatalf("portal token kept after logout")
	}

	// A fresh page resumes today's concluded conversation.
	cfg.MetricsNamespace += "_resume"
	again := buildPage(t, cfg)
	if err := again.Page.Mount(ctx); err != nil {
		t.Fatalf("Mount() error = %v", err)
	}
	snap = again.Page.Snapshot()
	if len(snap.Turns) != 4 || !snap.Ended {
		t.Fatalf("resumed turns = %d ended = %v, want 4 ended", len(snap.Turns), snap.Ended)
	}
	if len(snap.Dates) != 1 || snap.Dates[0] != snap.Today {
		t.Fatalf("Dates = %v, want [%s]", snap.Dates, snap.Today)
	}
}

func TestBuildWithoutCredentialsIsUnauthorized(t *testing.T) {
	cfg := testConfig(t)
	cfg.PortalURL = startSim(t, cfg)
	cfg.PortalUsername = ""

	res := buildPage(t, cfg)
	if err := res.Page.Mount(context.Background()); err == nil {
		t.Fatalf("Mount() without login expected error")
	}
	if got := res.Page.Snapshot().State; got != chatpage.StateUnauthorized {
		t.Fatalf("State = %s, want unauthorized", got)
	}
}

func TestEndedRuleSelection(t *testing.T) {
	if endedRule("last") == nil || endedRule("any") == nil {
		t.Fatalf("endedRule() returned nil")
	}
}

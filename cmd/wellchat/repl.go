package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/ent0n29/wellchat/internal/chat"
	"github.com/ent0n29/wellchat/internal/chatpage"
)

type chatPage interface {
	Mount(ctx context.Context) error
	SendMessage(ctx context.Context, text string) (chatpage.Snapshot, error)
	ChangeViewedDate(ctx context.Context, date string) (chatpage.Snapshot, error)
	RetrySession(ctx context.Context) (chatpage.Snapshot, error)
	Logout(ctx context.Context) (chatpage.Snapshot, error)
	Snapshot() chatpage.Snapshot
}

const replHelp = `commands:
  /date yyyy-mm-dd  show that day's conversation
  /today            back to today
  /dates            list days with history
  /retry            retry opening a session
  /logout           sign out and exit
  /quit             exit
anything else is sent to the assistant`

// transcriptView prints only the turns the terminal has not shown yet.
type transcriptView struct {
	out       io.Writer
	date      string
	shown     int
	concluded bool
}

func (v *transcriptView) render(snap chatpage.Snapshot) {
	if snap.ViewedDate != v.date || len(snap.Turns) < v.shown {
		v.date = snap.ViewedDate
		v.shown = 0
		fmt.Fprintf(v.out, "--- %s ---\n", snap.ViewedDate)
	}
	for _, t := range snap.Turns[v.shown:] {
		who := "you"
		if t.Sender == chat.SenderAssistant {
			who = "assistant"
		}
		fmt.Fprintf(v.out, "[%s] %s: %s\n", t.Time, who, t.Content)
	}
	v.shown = len(snap.Turns)
	if snap.Concluded && !v.concluded {
		v.concluded = true
		if zone, ok := snap.FinalAnalysis["overall_assessment"].(string); ok {
			fmt.Fprintf(v.out, "(check-in complete: %s)\n", zone)
		}
	}
	if snap.Error != nil {
		fmt.Fprintf(v.out, "! %s: %s\n", snap.Error.Kind, snap.Error.Message)
	}
}

func runREPL(ctx context.Context, page chatPage, in io.Reader, out io.Writer) error {
	if err := page.Mount(ctx); err != nil {
		if errors.Is(err, chatpage.ErrUnauthorized) {
			return fmt.Errorf("not signed in: set WELLCHAT_PORTAL_USERNAME and WELLCHAT_PORTAL_PASSWORD or WELLCHAT_PORTAL_TOKEN")
		}
		return err
	}
	view := &transcriptView{out: out}
	view.render(page.Snapshot())
	fmt.Fprintln(out, `type /help for commands`)

	scanner := bufio.NewScanner(in)
	for {
		fmt.Fprint(out, "> ")
		if !scanner.Scan() {
			fmt.Fprintln(out)
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		var (
			snap chatpage.Snapshot
			err  error
		)
		cmd, arg, _ := strings.Cut(line, " ")
		switch cmd {
		case "/quit", "/exit":
			return nil
		case "/help":
			fmt.Fprintln(out, replHelp)
			continue
		case "/dates":
			fmt.Fprintln(out, strings.Join(page.Snapshot().Dates, "\n"))
			continue
		case "/today":
			snap, err = page.ChangeViewedDate(ctx, page.Snapshot().Today)
		case "/date":
			snap, err = page.ChangeViewedDate(ctx, strings.TrimSpace(arg))
		case "/retry":
			snap, err = page.RetrySession(ctx)
		case "/logout":
			if _, err := page.Logout(ctx); err != nil {
				return err
			}
			fmt.Fprintln(out, "signed out")
			return nil
		default:
			snap, err = page.SendMessage(ctx, line)
		}

		switch {
		case errors.Is(err, chatpage.ErrViewingHistory):
			fmt.Fprintln(out, "viewing history; use /today to reply")
		case errors.Is(err, chatpage.ErrInvalidDate):
			fmt.Fprintln(out, "date must be yyyy-mm-dd")
		case errors.Is(err, chatpage.ErrLoggedOut), errors.Is(err, chatpage.ErrUnauthorized):
			fmt.Fprintln(out, "session expired; sign in again")
			return nil
		case err != nil && snap.Error == nil:
			fmt.Fprintf(out, "! %v\n", err)
		}
		view.render(snap)
	}
}

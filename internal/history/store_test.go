package history

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/ent0n29/wellchat/internal/chat"
	"github.com/ent0n29/wellchat/internal/portal"
)

type fakeSource struct {
	records  map[string][]portal.HistoryRecord
	dates    []string
	histErr  error
	datesErr error
}

func (f *fakeSource) ChatHistory(_ context.Context, _ string, date string) ([]portal.HistoryRecord, error) {
	if f.histErr != nil {
		return nil, f.histErr
	}
	return f.records[date], nil
}

func (f *fakeSource) ChatDates(_ context.Context, _ string) ([]string, error) {
	if f.datesErr != nil {
		return nil, f.datesErr
	}
	return f.dates, nil
}

func record(q, a string, minute int, fromUser bool, sessionID string) portal.HistoryRecord {
	return portal.HistoryRecord{
		Question:   q,
		Response:   a,
		Timestamp:  portal.Timestamp{Time: time.Date(2025, 3, 23, 10, minute, 0, 0, time.UTC)},
		IsFromUser: fromUser,
		SessionID:  sessionID,
	}
}

func TestFetchExpandsEachRecordIntoTwoTurns(t *testing.T) {
	for n := 1; n <= 4; n++ {
		t.Run(fmt.Sprintf("records=%d", n), func(t *testing.T) {
			var recs []portal.HistoryRecord
			for i := 0; i < n; i++ {
				recs = append(recs, record(fmt.Sprintf("Q%d", i), fmt.Sprintf("A%d", i), i, false, "s-1"))
			}
			src := &fakeSource{records: map[string][]portal.HistoryRecord{"2025-03-23": recs}}
			res := NewStore(src, WithLocation(time.UTC)).Fetch(context.Background(), "EMP0001", "2025-03-23")

			if len(res.Turns) != 2*n {
				t.Fatalf("len(Turns) = %d, want %d", len(res.Turns), 2*n)
			}
			for i, turn := range res.Turns {
				wantSender := chat.SenderAssistant
				wantContent := fmt.Sprintf("Q%d", i/2)
				if i%2 == 1 {
					wantSender = chat.SenderUser
					wantContent = fmt.Sprintf("A%d", i/2)
				}
				if turn.Sender != wantSender || turn.Content != wantContent {
					t.Fatalf("Turns[%d] = %s %q, want %s %q", i, turn.Sender, turn.Content, wantSender, wantContent)
				}
				if turn.ID != i+1 {
					t.Fatalf("Turns[%d].ID = %d, want %d", i, turn.ID, i+1)
				}
			}
			if res.SessionID != "s-1" {
				t.Fatalf("SessionID = %q, want s-1", res.SessionID)
			}
		})
	}
}

func TestFetchStampsTurnsFromRecordTimestamp(t *testing.T) {
	src := &fakeSource{records: map[string][]portal.HistoryRecord{
		"2025-03-23": {record("Q", "A", 30, false, "s-1")},
	}}
	res := NewStore(src, WithLocation(time.UTC)).Fetch(context.Background(), "EMP0001", "2025-03-23")
	for _, turn := range res.Turns {
		if turn.Time != "10:30:00 AM" || turn.Date != "3/23/2025" {
			t.Fatalf("turn stamp = %q %q, want 3/23/2025 10:30:00 AM", turn.Date, turn.Time)
		}
	}
}

func TestFetchSessionIDFromFirstRecord(t *testing.T) {
	src := &fakeSource{records: map[string][]portal.HistoryRecord{
		"2025-03-23": {record("Q1", "A1", 1, false, "first"), record("Q2", "A2", 2, false, "second")},
	}}
	res := NewStore(src).Fetch(context.Background(), "EMP0001", "2025-03-23")
	if res.SessionID != "first" {
		t.Fatalf("SessionID = %q, want %q", res.SessionID, "first")
	}
}

func TestFetchEndedRules(t *testing.T) {
	recs := []portal.HistoryRecord{
		record("Q1", "A1", 1, true, "s-1"),
		record("Q2", "", 2, false, "s-1"),
	}
	src := &fakeSource{records: map[string][]portal.HistoryRecord{"2025-03-23": recs}}
	ctx := context.Background()

	if res := NewStore(src).Fetch(ctx, "EMP0001", "2025-03-23"); !res.Ended {
		t.Fatalf("default rule Ended = false, want true when any record is user-authored")
	}
	if res := NewStore(src, WithEndedRule(EndedLastRecord)).Fetch(ctx, "EMP0001", "2025-03-23"); res.Ended {
		t.Fatalf("last-record rule Ended = true, want false")
	}

	none := &fakeSource{records: map[string][]portal.HistoryRecord{
		"2025-03-23": {record("Q1", "A1", 1, false, "s-1")},
	}}
	if res := NewStore(none).Fetch(ctx, "EMP0001", "2025-03-23"); res.Ended {
		t.Fatalf("Ended = true, want false without user-authored records")
	}
}

func TestFetchFailureIsEmptyHistory(t *testing.T) {
	src := &fakeSource{histErr: errors.New("connection refused")}
	res := NewStore(src).Fetch(context.Background(), "EMP0001", "2025-03-23")
	if res.Found() || res.SessionID != "" || res.Ended {
		t.Fatalf("Fetch() on failure = %+v, want empty result", res)
	}
	if res.Date != "2025-03-23" {
		t.Fatalf("Date = %q, want request date", res.Date)
	}
}

func TestDatesAlwaysIncludesToday(t *testing.T) {
	src := &fakeSource{dates: []string{"2025-03-23", "2025-03-20", "2025-03-23", "garbage"}}
	idx := NewStore(src).Dates(context.Background(), "EMP0001", "2025-03-25")
	want := []string{"2025-03-20", "2025-03-23", "2025-03-25"}
	if len(idx) != len(want) {
		t.Fatalf("Dates() = %v, want %v", idx, want)
	}
	for i := range want {
		if idx[i] != want[i] {
			t.Fatalf("Dates() = %v, want %v", idx, want)
		}
	}
	if !idx.Contains("2025-03-25") || idx.Contains("2025-03-21") {
		t.Fatalf("Contains() mismatch for %v", idx)
	}

	failing := &fakeSource{datesErr: errors.New("boom")}
	idx = NewStore(failing).Dates(context.Background(), "EMP0001", "2025-03-25")
	if len(idx) != 1 || idx[0] != "2025-03-25" {
		t.Fatalf("Dates() on failure = %v, want [today]", idx)
	}
}

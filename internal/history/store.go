package history

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"github.com/ent0n29/wellchat/internal/chat"
	"github.com/ent0n29/wellchat/internal/observability"
	"github.com/ent0n29/wellchat/internal/portal"
)

// Source fetches raw records and the chat date list from the portal.
type Source interface {
	ChatHistory(ctx context.Context, employeeID, date string) ([]portal.HistoryRecord, error)
	ChatDates(ctx context.Context, employeeID string) ([]string, error)
}

// EndedRule decides whether a day's records describe a concluded session.
type EndedRule func(records []portal.HistoryRecord) bool

// EndedAnyUserRecord treats the session as ended when any record is
// user-authored, regardless of its position.
func EndedAnyUserRecord(records []portal.HistoryRecord) bool {
	for _, r := range records {
		if r.IsFromUser {
			return true
		}
	}
	return false
}

// EndedLastRecord only looks at the most recent record.
func EndedLastRecord(records []portal.HistoryRecord) bool {
	if len(records) == 0 {
		return false
	}
	return records[len(records)-1].IsFromUser
}

// Result is the formatted history for one (employee, date) pair. Callers
// apply it; the store never touches page state.
type Result struct {
	Date      string
	Turns     []chat.Turn
	SessionID string
	Ended     bool
}

// Found reports whether the date has any history.
func (r Result) Found() bool { return len(r.Turns) > 0 }

type Option func(*Store)

func WithEndedRule(rule EndedRule) Option {
	return func(s *Store) {
		if rule != nil {
			s.ended = rule
		}
	}
}

func WithLocation(loc *time.Location) Option {
	return func(s *Store) {
		if loc != nil {
			s.loc = loc
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func WithMetrics(m *observability.Metrics) Option {
	return func(s *Store) { s.metrics = m }
}

// Store formats persisted conversation turns.
type Store struct {
	src     Source
	ended   EndedRule
	loc     *time.Location
	logger  *slog.Logger
	metrics *observability.Metrics
}

func NewStore(src Source, opts ...Option) *Store {
	s := &Store{
		src:    src,
		ended:  EndedAnyUserRecord,
		loc:    time.Local,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Fetch loads the history for employeeID on date. Network and decode
// failures yield an empty result so the caller falls through to a new
// session instead of blocking the chat.
func (s *Store) Fetch(ctx context.Context, employeeID, date string) Result {
	out := Result{Date: date}

	records, err := s.src.ChatHistory(ctx, employeeID, date)
	if err != nil {
		s.metrics.HistoryFetch("error")
		s.logger.Warn("chat history fetch failed; treating as empty",
			"employee_id", employeeID, "date", date, "err", err)
		return out
	}
	if len(records) == 0 {
		s.metrics.HistoryFetch("empty")
		return out
	}

	tr := chat.Transcript{}
	for _, r := range records {
		at := r.Timestamp.Time
		tr.Append(chat.NewTurn(chat.SenderAssistant, r.Question, at, s.loc))
		tr.Append(chat.NewTurn(chat.SenderUser, r.Response, at, s.loc))
	}
	out.Turns = tr.Turns()
	out.SessionID = records[0].SessionID
	out.Ended = s.ended(records)
	s.metrics.HistoryFetch("found")
	return out
}

// DateIndex is the sorted set of dates with history. Today is always
// present.
type DateIndex []string

func (d DateIndex) Contains(date string) bool {
	i := sort.SearchStrings(d, date)
	return i < len(d) && d[i] == date
}

// Dates builds the employee's date index. A failed fetch still yields an
// index holding today.
func (s *Store) Dates(ctx context.Context, employeeID, today string) DateIndex {
	dates, err := s.src.ChatDates(ctx, employeeID)
	if err != nil {
		s.logger.Warn("chat dates fetch failed", "employee_id", employeeID, "err", err)
		dates = nil
	}
	return NewDateIndex(dates, today)
}

// NewDateIndex normalizes raw dates: drops malformed entries and
// duplicates, sorts ascending, and adds today.
func NewDateIndex(dates []string, today string) DateIndex {
	seen := make(map[string]struct{}, len(dates)+1)
	out := make(DateIndex, 0, len(dates)+1)
	add := func(d string) {
		if !chat.ValidDateKey(d) {
			return
		}
		if _, ok := seen[d]; ok {
			return
		}
		seen[d] = struct{}{}
		out = append(out, d)
	}
	for _, d := range dates {
		add(d)
	}
	add(today)
	sort.Strings(out)
	return out
}

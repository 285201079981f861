package chat

import "time"

// Sender identifies who authored a turn.
type Sender string

const (
	SenderAssistant Sender = "assistant"
	SenderUser      Sender = "user"
)

// Display layouts. They are presentation only and never sent to the backend.
const (
	DisplayDateLayout = "1/2/2006"
	DisplayTimeLayout = "3:04:05 PM"
	WireDateLayout    = "2006-01-02"
)

// Turn is one displayed chat bubble. ID is a render key within a single
// transcript and is not stable across history reloads.
type Turn struct {
	ID      int       `json:"id"`
	Sender  Sender    `json:"sender"`
	Content string    `json:"content"`
	Time    string    `json:"time"`
	Date    string    `json:"date"`
	At      time.Time `json:"at"`
}

// NewTurn stamps a turn with display strings for at in loc.
func NewTurn(sender Sender, content string, at time.Time, loc *time.Location) Turn {
	date, clock := FormatDisplay(at, loc)
	return Turn{
		Sender:  sender,
		Content: content,
		Time:    clock,
		Date:    date,
		At:      at,
	}
}

// FormatDisplay renders the date and time components of t in loc.
func FormatDisplay(t time.Time, loc *time.Location) (date, clock string) {
	if loc == nil {
		loc = time.Local
	}
	local := t.In(loc)
	return local.Format(DisplayDateLayout), local.Format(DisplayTimeLayout)
}

// DateKey returns the wire yyyy-mm-dd form of t in loc.
func DateKey(t time.Time, loc *time.Location) string {
	if loc == nil {
		loc = time.Local
	}
	return t.In(loc).Format(WireDateLayout)
}

// ValidDateKey reports whether s is a real calendar date in yyyy-mm-dd form.
func ValidDateKey(s string) bool {
	t, err := time.Parse(WireDateLayout, s)
	return err == nil && t.Format(WireDateLayout) == s
}

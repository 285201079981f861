package portal

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// User is the subset of users/me the chat page relies on.
type User struct {
	Username   string `json:"username,omitempty"`
	Email      string `json:"email,omitempty"`
	Role       string `json:"role"`
	EmployeeID string `json:"employee_id"`
}

// LoginResponse is returned by the token endpoint.
type LoginResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	Role        string `json:"role"`
	EmployeeID  string `json:"employee_id"`
}

type StartChatRequest struct {
	EmployeeID string `json:"employee_id"`
}

type StartChatResponse struct {
	SessionID string `json:"session_id"`
	Question  string `json:"question"`
}

type ChatRequest struct {
	SessionID string `json:"session_id"`
	Message   string `json:"message"`
}

type ChatResponse struct {
	SessionID     string        `json:"session_id,omitempty"`
	Question      string        `json:"question,omitempty"`
	FinalAnalysis FinalAnalysis `json:"final_analysis,omitempty"`
}

// HistoryRecord is one stored exchange unit: the assistant's question and
// the employee's response to it.
type HistoryRecord struct {
	Question   string    `json:"question"`
	Response   string    `json:"response"`
	Timestamp  Timestamp `json:"timestamp"`
	IsFromUser bool      `json:"is_from_user"`
	SessionID  string    `json:"session_id"`
}

type HistoryResponse struct {
	Messages []HistoryRecord `json:"messages"`
}

type ChatDatesResponse struct {
	ChatDates []string `json:"chat_dates"`
}

// FinalAnalysis is the assistant's conclusion marker. Null, false, empty
// strings and empty objects all decode to an absent marker.
type FinalAnalysis map[string]any

// Present reports whether the response carried a final analysis.
func (f FinalAnalysis) Present() bool { return len(f) > 0 }

func (f *FinalAnalysis) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	switch string(trimmed) {
	case "", "null", "false", `""`, "{}":
		*f = nil
		return nil
	}
	if trimmed[0] == '{' {
		var obj map[string]any
		if err := json.Unmarshal(trimmed, &obj); err != nil {
			return fmt.Errorf("final_analysis: %w", err)
		}
		*f = obj
		return nil
	}
	var v any
	if err := json.Unmarshal(trimmed, &v); err != nil {
		return fmt.Errorf("final_analysis: %w", err)
	}
	*f = FinalAnalysis{"value": v}
	return nil
}

// Timestamp decodes the backend's timestamps, which may lack a zone or use a
// space separator. Zoneless values are UTC.
type Timestamp struct {
	time.Time
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
}

// ParseTimestamp parses one backend timestamp string.
func ParseTimestamp(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", raw)
}

func (t *Timestamp) UnmarshalJSON(data []byte) error {
	if string(bytes.TrimSpace(data)) == "null" {
		t.Time = time.Time{}
		return nil
	}
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("timestamp: %w", err)
	}
	parsed, err := ParseTimestamp(raw)
	if err != nil {
		return err
	}
	t.Time = parsed
	return nil
}

func (t Timestamp) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(t.UTC().Format(time.RFC3339Nano))
}

package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// MessageType identifies websocket payload variants.
type MessageType string

const (
	TypeClientSend         MessageType = "client_send"
	TypeClientChangeDate   MessageType = "client_change_date"
	TypeClientLogout       MessageType = "client_logout"
	TypeClientDraft        MessageType = "client_draft"
	TypeClientVoiceToggle  MessageType = "client_voice_toggle"
	TypeClientAudioChunk   MessageType = "client_audio_chunk"
	TypeClientRetrySession MessageType = "client_retry_session"
	TypeStateSnapshot      MessageType = "state_snapshot"
	TypeErrorEvent         MessageType = "error_event"
)

var ErrUnsupportedType = errors.New("unsupported message type")

type Envelope struct {
	Type MessageType `json:"type"`
}

type ClientSend struct {
	Type    MessageType `json:"type"`
	Message string      `json:"message"`
}

type ClientChangeDate struct {
	Type MessageType `json:"type"`
	Date string      `json:"date"`
}

type ClientLogout struct {
	Type MessageType `json:"type"`
}

type ClientDraft struct {
	Type  MessageType `json:"type"`
	Draft string      `json:"draft"`
}

type ClientVoiceToggle struct {
	Type MessageType `json:"type"`
}

type ClientRetrySession struct {
	Type MessageType `json:"type"`
}

type ClientAudioChunk struct {
	Type        MessageType `json:"type"`
	Seq         int         `json:"seq"`
	PCM16Base64 string      `json:"pcm16_base64"`
	SampleRate  int         `json:"sample_rate"`
	Commit      bool        `json:"commit,omitempty"`
	TSMs        int64       `json:"ts_ms"`
}

// StateSnapshot carries the page snapshot pushed after every change.
type StateSnapshot struct {
	Type  MessageType `json:"type"`
	State any         `json:"state"`
}

type ErrorEvent struct {
	Type      MessageType `json:"type"`
	Code      string      `json:"code"`
	Source    string      `json:"source"`
	Retryable bool        `json:"retryable"`
	Detail    string      `json:"detail"`
}

func NewStateSnapshot(state any) StateSnapshot {
	return StateSnapshot{Type: TypeStateSnapshot, State: state}
}

func NewErrorEvent(code, source, detail string, retryable bool) ErrorEvent {
	return ErrorEvent{Type: TypeErrorEvent, Code: code, Source: source, Retryable: retryable, Detail: detail}
}

func ParseClientMessage(raw []byte) (any, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("invalid envelope: %w", err)
	}

	switch env.Type {
	case TypeClientSend:
		var msg ClientSend
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if strings.TrimSpace(msg.Message) == "" {
			return nil, errors.New("invalid client_send")
		}
		return msg, nil
	case TypeClientChangeDate:
		var msg ClientChangeDate
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if strings.TrimSpace(msg.Date) == "" {
			return nil, errors.New("invalid client_change_date")
		}
		return msg, nil
	case TypeClientDraft:
		var msg ClientDraft
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		return msg, nil
	case TypeClientAudioChunk:
		var msg ClientAudioChunk
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if (msg.PCM16Base64 == "" && !msg.Commit) || msg.SampleRate <= 0 {
			return nil, errors.New("invalid client_audio_chunk")
		}
		return msg, nil
	case TypeClientLogout:
		return ClientLogout{Type: env.Type}, nil
	case TypeClientVoiceToggle:
		return ClientVoiceToggle{Type: env.Type}, nil
	case TypeClientRetrySession:
		return ClientRetrySession{Type: env.Type}, nil
	default:
		return nil, ErrUnsupportedType
	}
}

// TypeOf returns the type tag of a known message value.
func TypeOf(v any) (MessageType, bool) {
	switch m := v.(type) {
	case ClientSend:
		return m.Type, true
	case ClientChangeDate:
		return m.Type, true
	case ClientLogout:
		return m.Type, true
	case ClientDraft:
		return m.Type, true
	case ClientVoiceToggle:
		return m.Type, true
	case ClientRetrySession:
		return m.Type, true
	case ClientAudioChunk:
		return m.Type, true
	case StateSnapshot:
		return m.Type, true
	case ErrorEvent:
		return m.Type, true
	default:
		return "", false
	}
}

package dto

import (
	"encoding/json"
	"errors"
	"fmt"
	"github.com/google/uuid"
	"time"
)

const (
	EventSessionStarted   = "session_started"
	EventSessionEnded     = "session_ended"
	EventNewTranscription = "new_transcription"
	EventModerationAlert  = "moderation_alert"
)

var ErrUnknownEvent = errors.New("unknown event type")

// Event is one of SessionStarted, SessionEnded, NewTranscription or
// ModerationAlert. On the wire every event is a flat JSON object carrying a
// "type" discriminator next to its fields.
type Event interface {
	Type() string
}

type SessionStarted struct {
	Account   string    `json:"account"`
	Title     string    `json:"title"`
	SessionID uuid.UUID `json:"session_id"`
	OwnerID   uuid.UUID `json:"owner_id"`
}

type SessionEnded struct {
	Account   string    `json:"account"`
	SessionID uuid.UUID `json:"session_id"`
}

type NewTranscription struct {
	SessionID    uuid.UUID `json:"session_id"`
	SegmentIndex int       `json:"segment_index"`
	Text         string    `json:"text"`
	RiskScore    float64   `json:"risk_score"`
	Category     string    `json:"category"`
}

type ModerationAlert struct {
	AlertID   uuid.UUID `json:"alert_id"`
	SessionID uuid.UUID `json:"session_id"`
	Account   string    `json:"account"`
	RiskScore float64   `json:"risk_score"`
	Category  string    `json:"category"`
	CreatedAt time.Time `json:"created_at"`
}

func (SessionStarted) Type() string   { return EventSessionStarted }
func (SessionEnded) Type() string     { return EventSessionEnded }
func (NewTranscription) Type() string { return EventNewTranscription }
func (ModerationAlert) Type() string  { return EventModerationAlert }

func (e SessionStarted) MarshalJSON() ([]byte, error) {
	type alias SessionStarted
	return json.Marshal(struct {
		Type string `json:"type"`
		alias
	}{e.Type(), alias(e)})
}

func (e SessionEnded) MarshalJSON() ([]byte, error) {
	type alias SessionEnded
	return json.Marshal(struct {
		Type string `json:"type"`
		alias
	}{e.Type(), alias(e)})
}

func (e NewTranscription) MarshalJSON() ([]byte, error) {
	type alias NewTranscription
	return json.Marshal(struct {
		Type string `json:"type"`
		alias
	}{e.Type(), alias(e)})
}

func (e ModerationAlert) MarshalJSON() ([]byte, error) {
	type alias ModerationAlert
	return json.Marshal(struct {
		Type string `json:"type"`
		alias
	}{e.Type(), alias(e)})
}

// DecodeEvent reverses the flat encoding produced by json.Marshal on an Event.
func DecodeEvent(data []byte) (Event, error) {
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, err
	}

	var ev Event
	var err error
	switch head.Type {
	case EventSessionStarted:
		var e SessionStarted
		err = json.Unmarshal(data, &e)
		ev = e
	case EventSessionEnded:
		var e SessionEnded
		err = json.Unmarshal(data, &e)
		ev = e
	case EventNewTranscription:
		var e NewTranscription
		err = json.Unmarshal(data, &e)
		ev = e
	case EventModerationAlert:
		var e ModerationAlert
		err = json.Unmarshal(data, &e)
		ev = e
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEvent, head.Type)
	}
	if err != nil {
		return nil, err
	}
	return ev, nil
}

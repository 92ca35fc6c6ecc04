package dto

import (
	"encoding/json"
	"errors"
	"github.com/google/uuid"
	"testing"
)

func TestEventWireFormatIsFlat(t *testing.T) {
	sid := uuid.New()
	data, err := json.Marshal(NewTranscription{SessionID: sid, SegmentIndex: 3, Text: "hello", RiskScore: 0.25, Category: "neutral"})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var got map[string]any
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got["type"] != EventNewTranscription {
		t.Errorf("type = %v, want %q", got["type"], EventNewTranscription)
	}
	if got["session_id"] != sid.String() {
		t.Errorf("session_id = %v", got["session_id"])
	}
	if got["segment_index"] != float64(3) {
		t.Errorf("segment_index = %v", got["segment_index"])
	}
	for _, key := range []string{"text", "risk_score", "category"} {
		if _, ok := got[key]; !ok {
			t.Errorf("missing key %q in %s", key, data)
		}
	}
}

func TestDecodeEventThroughInterface(t *testing.T) {
	var ev Event = ModerationAlert{AlertID: uuid.New(), SessionID: uuid.New(), Account: "alice", RiskScore: 0.9, Category: "hateful"}
	data, err := json.Marshal(ev)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	decoded, err := DecodeEvent(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	alert, ok := decoded.(ModerationAlert)
	if !ok {
		t.Fatalf("decoded %T, want ModerationAlert", decoded)
	}
	if alert.Account != "alice" || alert.RiskScore != 0.9 {
		t.Errorf("decoded = %+v", alert)
	}
}

func TestDecodeEventUnknownType(t *testing.T) {
	_, err := DecodeEvent([]byte(`{"type":"bogus"}`))
	if !errors.Is(err, ErrUnknownEvent) {
		t.Fatalf("err = %v, want ErrUnknownEvent", err)
	}
}

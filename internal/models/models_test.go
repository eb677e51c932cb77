package models

import (
	"errors"
	"testing"
)

func TestNewStateTransitionRejectsOutOfRangeConfidence(t *testing.T) {
	_, err := NewStateTransition(StateTriage, StateCollectingInfo, "user_message", nil, 1.5)
	if !errors.Is(err, ErrConfidenceOutOfRange) {
		t.Fatalf("expected ErrConfidenceOutOfRange, got %v", err)
	}
	_, err = NewStateTransition(StateTriage, StateCollectingInfo, "user_message", nil, -0.1)
	if !errors.Is(err, ErrConfidenceOutOfRange) {
		t.Fatalf("expected ErrConfidenceOutOfRange, got %v", err)
	}
}

func TestNewStateTransitionRejectsEmptyTrigger(t *testing.T) {
	_, err := NewStateTransition(StateTriage, StateCollectingInfo, "  ", nil, 0.9)
	if !errors.Is(err, ErrEmptyTrigger) {
		t.Fatalf("expected ErrEmptyTrigger, got %v", err)
	}
}

func TestNewStateTransitionValid(t *testing.T) {
	tr, err := NewStateTransition(StateTriage, StateCollectingInfo, "user_message", map[string]string{"intent": "billing"}, 0.95)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tr.FromState != StateTriage || tr.ToState != StateCollectingInfo {
		t.Errorf("transition endpoints wrong: %+v", tr)
	}
	if tr.Timestamp.IsZero() {
		t.Error("timestamp not set")
	}
}

func TestRawDecisionNormalizeClampsConfidence(t *testing.T) {
	d := RawDecision{NextState: "collecting_info", Confidence: 1.5}
	d.Normalize()
	if d.Confidence != 1.0 {
		t.Errorf("expected confidence clamped to 1.0, got %v", d.Confidence)
	}
	if d.NextState != string(StateCollectingInfo) {
		t.Errorf("expected canonical state name, got %q", d.NextState)
	}

	d = RawDecision{NextState: "NOT_A_STATE", Confidence: -2}
	d.Normalize()
	if d.Confidence != 0 {
		t.Errorf("expected confidence clamped to 0, got %v", d.Confidence)
	}
	if d.NextState != "NOT_A_STATE" {
		t.Errorf("unknown state should be left as-is, got %q", d.NextState)
	}
}

func TestParseState(t *testing.T) {
	cases := []struct {
		raw     string
		want    SessionState
		wantErr bool
	}{
		{"HANDOFF_HUMAN", StateHandoffHuman, false},
		{"handoff_human", StateHandoffHuman, false},
		{" TRIAGE ", StateTriage, false},
		{"4", StateHandoffHuman, false}, // legacy numeric code
		{"0", StateInitial, false},
		{"", "", true},
		{"BOGUS", "", true},
	}
	for _, tc := range cases {
		got, err := ParseState(tc.raw)
		if tc.wantErr {
			if !errors.Is(err, ErrUnknownState) {
				t.Errorf("ParseState(%q): expected ErrUnknownState, got %v", tc.raw, err)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseState(%q): unexpected error %v", tc.raw, err)
			continue
		}
		if got != tc.want {
			t.Errorf("ParseState(%q) = %q, want %q", tc.raw, got, tc.want)
		}
	}
}

func TestInboundMessageValidate(t *testing.T) {
	msg := InboundMessage{MessageID: "m1", SessionID: "s1"}
	if err := msg.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := (InboundMessage{MessageID: "m1"}).Validate(); !errors.Is(err, ErrEmptySessionID) {
		t.Errorf("expected ErrEmptySessionID, got %v", err)
	}
	if err := (InboundMessage{SessionID: "s1"}).Validate(); !errors.Is(err, ErrEmptyMessageID) {
		t.Errorf("expected ErrEmptyMessageID, got %v", err)
	}
}

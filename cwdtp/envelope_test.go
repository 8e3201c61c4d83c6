package cwdtp

import "testing"

func TestValidateEventNameRejectsEmpty(t *testing.T) {
	err := ValidateEventName("")
	if err == nil || !IsInvalidEventName(err) {
		t.Fatalf("expected InvalidEventNameError, got %v", err)
	}
}

func TestValidateEventNameRejectsReserved(t *testing.T) {
	err := ValidateEventName(EventPing)
	if err == nil || !IsInvalidEventName(err) {
		t.Fatalf("expected InvalidEventNameError, got %v", err)
	}
}

func TestValidateEventNameAcceptsOrdinary(t *testing.T) {
	if err := ValidateEventName("move"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestIsReservedEvent(t *testing.T) {
	cases := map[string]bool{
		"cwdtp::ping": true,
		"cwdtp::":     true,
		"move":        false,
		"":            false,
	}
	for event, want := range cases {
		if got := IsReservedEvent(event); got != want {
			t.Errorf("IsReservedEvent(%q) = %v, want %v", event, got, want)
		}
	}
}

func TestUnmarshalEnvelopeRejectsMissingEvent(t *testing.T) {
	_, err := unmarshalEnvelope([]byte(`{"meta":{},"data":[]}`))
	if err == nil || !IsInvalidMsg(err) {
		t.Fatalf("expected InvalidMsgError, got %v", err)
	}
}

func TestUnmarshalEnvelopeDefaultsMetaAndData(t *testing.T) {
	env, err := unmarshalEnvelope([]byte(`{"event":"move"}`))
	if err != nil {
		t.Fatalf("unmarshalEnvelope: %v", err)
	}
	if env.Meta == nil || env.Data == nil {
		t.Fatalf("expected non-nil Meta/Data, got %+v", env)
	}
}

func TestMarshalEnvelopeRoundTrip(t *testing.T) {
	env := newEnvelope("move", map[string]any{"seq": 1}, []any{"x", 2.0})
	raw, err := marshalEnvelope(env)
	if err != nil {
		t.Fatalf("marshalEnvelope: %v", err)
	}
	parsed, err := unmarshalEnvelope(raw)
	if err != nil {
		t.Fatalf("unmarshalEnvelope: %v", err)
	}
	if parsed.Event != "move" {
		t.Errorf("Event = %q, want move", parsed.Event)
	}
}

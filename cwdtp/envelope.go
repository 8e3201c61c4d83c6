package cwdtp

import (
	"bytes"
	"encoding/json"
	"strings"
)

// Reserved control-plane event names (§4.D).
const (
	EventClientHello    = "cwdtp::client-hello"
	EventServerHello    = "cwdtp::server-hello"
	EventServerHelloAck = "cwdtp::server-hello-ack"
	EventPing           = "cwdtp::ping"
	EventPong           = "cwdtp::pong"
	EventClose          = "cwdtp::close"
	EventCloseAck       = "cwdtp::close-ack"
	EventError          = "cwdtp::error"

	reservedPrefix = "cwdtp::"
)

// IsReservedEvent reports whether event falls in the cwdtp:: control-plane
// namespace (§4.C: these may never be sent or subscribed to by application
// code).
func IsReservedEvent(event string) bool {
	return strings.HasPrefix(event, reservedPrefix)
}

// Envelope is the wire-level {event, meta, data} record every frame carries
// (§3). Grounded on the teacher's realtime v1 Envelope shape, generalized to
// carry arbitrary JSON values via `any` rather than a fixed payload struct.
type Envelope struct {
	Event string         `json:"event"`
	Meta  map[string]any `json:"meta"`
	Data  []any          `json:"data"`
}

func newEnvelope(event string, meta map[string]any, data []any) Envelope {
	if meta == nil {
		meta = map[string]any{}
	}
	if data == nil {
		data = []any{}
	}
	return Envelope{Event: event, Meta: meta, Data: data}
}

// ValidateEventName enforces the constraints Send and On place on
// caller-supplied event names (§4.C).
func ValidateEventName(event string) error {
	if event == "" {
		return &InvalidEventNameError{Op: "cwdtp.ValidateEventName", Kind: ErrEmptyEventName, Event: event}
	}
	if IsReservedEvent(event) {
		return &InvalidEventNameError{Op: "cwdtp.ValidateEventName", Kind: ErrReservedEvent, Event: event}
	}
	return nil
}

func marshalEnvelope(e Envelope) ([]byte, error) {
	return json.Marshal(e)
}

// unmarshalEnvelope parses a raw text frame into an Envelope, using
// json.Number so the codec's byte-range validation sees exact integers
// rather than float64-rounded values.
func unmarshalEnvelope(data []byte) (Envelope, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var raw struct {
		Event *string        `json:"event"`
		Meta  map[string]any `json:"meta"`
		Data  []any          `json:"data"`
	}
	if err := dec.Decode(&raw); err != nil {
		return Envelope{}, &InvalidMsgError{Op: "envelope.Unmarshal", Kind: ErrInvalidCWDTPMsg, Msg: err.Error()}
	}
	if raw.Event == nil || strings.TrimSpace(*raw.Event) == "" {
		return Envelope{}, &InvalidMsgError{Op: "envelope.Unmarshal", Kind: ErrInvalidCWDTPMsg, Msg: "missing event"}
	}
	if raw.Meta == nil {
		raw.Meta = map[string]any{}
	}
	if raw.Data == nil {
		raw.Data = []any{}
	}
	return Envelope{Event: *raw.Event, Meta: raw.Meta, Data: raw.Data}, nil
}

package protocol

import (
	"encoding/json"
	"fmt"
)

// Envelope is the wire frame for every realtime message, in both
// directions: {"event": "...", "data": {...}}.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// DecodeEnvelope parses an inbound frame. Frames with an event name
// outside the inbound catalog are rejected here so handlers never see
// them.
func DecodeEnvelope(data []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}
	if env.Event == "" {
		return nil, fmt.Errorf("decode envelope: missing event")
	}
	if !KnownInbound(env.Event) {
		return nil, fmt.Errorf("decode envelope: unknown event %q", env.Event)
	}
	return &env, nil
}

// Encode serializes an outbound event with its payload.
func Encode(event string, data any) ([]byte, error) {
	body, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", event, err)
	}
	out, err := json.Marshal(Envelope{Event: event, Data: body})
	if err != nil {
		return nil, fmt.Errorf("encode %s envelope: %w", event, err)
	}
	return out, nil
}

// DecodeData unmarshals an envelope payload into a typed struct.
func DecodeData[T any](env *Envelope) (*T, error) {
	var v T
	if len(env.Data) == 0 {
		return &v, nil
	}
	if err := json.Unmarshal(env.Data, &v); err != nil {
		return nil, fmt.Errorf("decode %s data: %w", env.Event, err)
	}
	return &v, nil
}

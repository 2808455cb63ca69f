package mabang

import (
	"encoding/json"
	"fmt"
)

// Envelope is the outer wrapper every backend call answers with:
// {success: bool, message: string, errorMessage?: string, ...}. All other
// top-level keys stay available as raw payload fields.
type Envelope struct {
	Success      bool
	Message      string
	ErrorMessage string

	payload map[string]json.RawMessage
}

// DecodeEnvelope parses a response body into an Envelope. A body without a
// success flag is not an envelope at all and is reported as a protocol
// failure, not as a missing field.
func DecodeEnvelope(body []byte) (*Envelope, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("%w: body is not JSON: %v", ErrProtocol, err)
	}
	successRaw, ok := raw["success"]
	if !ok {
		return nil, fmt.Errorf("%w: envelope missing success flag", ErrProtocol)
	}
	env := &Envelope{payload: raw}
	if err := json.Unmarshal(successRaw, &env.Success); err != nil {
		return nil, fmt.Errorf("%w: success flag is not a bool: %v", ErrProtocol, err)
	}
	if m, ok := raw["message"]; ok {
		_ = json.Unmarshal(m, &env.Message)
	}
	if m, ok := raw["errorMessage"]; ok {
		_ = json.Unmarshal(m, &env.ErrorMessage)
	}
	return env, nil
}

// Field decodes a payload field into v. Missing or undecodable fields are
// protocol failures: the caller asked for something the contract promises.
func (e *Envelope) Field(key string, v any) error {
	raw, ok := e.payload[key]
	if !ok {
		return fmt.Errorf("%w: envelope missing field %q", ErrProtocol, key)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("%w: field %q: %v", ErrProtocol, key, err)
	}
	return nil
}

// StringField returns a payload field as a string, or "" when absent.
func (e *Envelope) StringField(key string) string {
	var s string
	raw, ok := e.payload[key]
	if !ok {
		return ""
	}
	_ = json.Unmarshal(raw, &s)
	return s
}

// HasField reports whether the payload carries the given key.
func (e *Envelope) HasField(key string) bool {
	_, ok := e.payload[key]
	return ok
}

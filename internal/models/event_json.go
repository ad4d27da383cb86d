package models

import "encoding/json"

// UnmarshalJSON decodes an event while preserving the original wire bytes in
// Raw for forensic storage.
func (e *InboundEvent) UnmarshalJSON(data []byte) error {
	type alias InboundEvent
	var a alias
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}
	*e = InboundEvent(a)
	e.Raw = append(json.RawMessage(nil), data...)
	return nil
}

// UnmarshalJSON decodes a message sub-object while preserving the full
// original bytes, needed to round-trip opaque message types.
func (m *EventMessage) UnmarshalJSON(data []byte) error {
	type alias EventMessage
	var a alias
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}
	*m = EventMessage(a)
	m.Raw = append(json.RawMessage(nil), data...)
	return nil
}

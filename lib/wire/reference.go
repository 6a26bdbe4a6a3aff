// Copyright 2026 The Castdeck Authors
// SPDX-License-Identifier: Apache-2.0

package wire

import "encoding/json"

// Values of the _type discriminator.
const (
	TypeHelper       = "HELPER"
	TypeService      = "SERVICE"
	TypeSubscription = "SUBSCRIPTION"
	TypeEvent        = "EVENT"
)

// Emitter kinds of a subscription reference.
const (
	EmitterPromise = "PROMISE"
	EmitterStream  = "STREAM"
)

// Reference is the serialized stand-in for a live resource handle, a
// pending promise, or a stream subscription. Fields carries the
// handle's plain-data properties unless the caller asked for compact
// mode.
type Reference struct {
	Type       string         `json:"_type"`
	ResourceID string         `json:"resourceId"`
	Emitter    string         `json:"emitter,omitempty"`
	Fields     map[string]any `json:"fields,omitempty"`
}

// IsResource reports whether r names a service or helper.
func (r Reference) IsResource() bool {
	return r.Type == TypeHelper || r.Type == TypeService
}

// ReferenceFromMap recognizes a decoded JSON object as a Reference.
func ReferenceFromMap(object map[string]any) (Reference, bool) {
	kind, _ := object["_type"].(string)
	id, _ := object["resourceId"].(string)
	if id == "" {
		return Reference{}, false
	}
	switch kind {
	case TypeHelper, TypeService:
		fields, _ := object["fields"].(map[string]any)
		return Reference{Type: kind, ResourceID: id, Fields: fields}, true
	case TypeSubscription:
		emitter, _ := object["emitter"].(string)
		if emitter != EmitterPromise && emitter != EmitterStream {
			return Reference{}, false
		}
		return Reference{Type: kind, ResourceID: id, Emitter: emitter}, true
	}
	return Reference{}, false
}

// StreamSubscription reports whether a raw result is a STREAM
// subscription reference, returning its id.
func StreamSubscription(result json.RawMessage) (string, bool) {
	if len(result) == 0 || result[0] != '{' {
		return "", false
	}
	var ref Reference
	if err := json.Unmarshal(result, &ref); err != nil {
		return "", false
	}
	if ref.Type != TypeSubscription || ref.Emitter != EmitterStream || ref.ResourceID == "" {
		return "", false
	}
	return ref.ResourceID, true
}

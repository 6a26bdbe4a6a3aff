// Copyright 2026 The Castdeck Authors
// SPDX-License-Identifier: Apache-2.0

package wire

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/castdeck/castdeck/lib/mutation"
)

// Request invokes Method on the resource named by Params.Resource.
type Request struct {
	ID     string `json:"id"`
	Method string `json:"method"`
	Params Params `json:"params"`
}

// Params carries the target and arguments of a Request. Args are kept
// as raw JSON so every argument provably survives serialization, even
// on the in-process transport.
type Params struct {
	Resource       string            `json:"resource"`
	Args           []json.RawMessage `json:"args,omitempty"`
	CompactMode    bool              `json:"compactMode,omitempty"`
	FetchMutations bool              `json:"fetchMutations,omitempty"`
	NoReturn       bool              `json:"noReturn,omitempty"`
	WindowID       string            `json:"windowId,omitempty"`
}

// Response answers the Request with the same ID. Mutations is always
// present on the wire, empty when the call committed nothing or the
// caller did not ask for them.
type Response struct {
	ID        string              `json:"id"`
	Result    json.RawMessage     `json:"result,omitempty"`
	Mutations []mutation.Mutation `json:"mutations"`
	Error     *Error              `json:"error,omitempty"`
}

// Event is the payload of an EVENT push frame: a promise settlement or
// a stream emission for the subscription named by ResourceID.
type Event struct {
	Type       string          `json:"_type"`
	Emitter    string          `json:"emitter"`
	ResourceID string          `json:"resourceId"`
	Data       json.RawMessage `json:"data,omitempty"`
	IsRejected bool            `json:"isRejected,omitempty"`
}

// Push is one frame delivered to a peer outside the request/response
// cycle. Exactly one of its fields is set.
type Push struct {
	// Mutations is a batch committed by another caller or by
	// background work inside the worker.
	Mutations []mutation.Mutation

	// Event is a promise settlement or stream emission.
	Event *Event

	// Response answers an asynchronous action request.
	Response *Response

	// Resync reports that pushes were dropped for this peer and its
	// replica must catch up from the worker.
	Resync bool
}

// IsBatch reports whether p is a mutation batch.
func (p Push) IsBatch() bool {
	return p.Event == nil && p.Response == nil && !p.Resync
}

// frame is the union of every shape a worker writes to a connection.
type frame struct {
	ID        string              `json:"id,omitempty"`
	Result    json.RawMessage     `json:"result,omitempty"`
	Mutations []mutation.Mutation `json:"mutations,omitempty"`
	Error     *Error              `json:"error,omitempty"`
	Resync    bool                `json:"resync,omitempty"`
}

// EncodePush returns the wire form of p.
func EncodePush(p Push) ([]byte, error) {
	switch {
	case p.Response != nil:
		return EncodeResponse(p.Response)
	case p.Event != nil:
		event, err := json.Marshal(p.Event)
		if err != nil {
			return nil, fmt.Errorf("encoding event for %s: %w", p.Event.ResourceID, err)
		}
		return json.Marshal(frame{Result: event})
	case p.Resync:
		return json.Marshal(frame{Resync: true})
	default:
		return json.Marshal(frame{Mutations: p.Mutations})
	}
}

// EncodeResponse returns the wire form of response, normalizing a nil
// mutation list to an empty array.
func EncodeResponse(response *Response) ([]byte, error) {
	if response.Mutations == nil {
		clone := *response
		clone.Mutations = []mutation.Mutation{}
		response = &clone
	}
	return json.Marshal(response)
}

// Inbound is a decoded frame received by a client: either the
// response to an outstanding request (ID set) or a push.
type Inbound struct {
	Response *Response
	Push     *Push
}

// DecodeInbound classifies one frame written by a worker. A frame with
// an id is a response. Frames without an id are pushes, told apart by
// their fields.
func DecodeInbound(data []byte) (Inbound, error) {
	var f frame
	if err := json.Unmarshal(data, &f); err != nil {
		return Inbound{}, fmt.Errorf("decoding frame: %w", err)
	}
	if f.ID != "" {
		mutations := f.Mutations
		if mutations == nil {
			mutations = []mutation.Mutation{}
		}
		return Inbound{Response: &Response{ID: f.ID, Result: f.Result, Mutations: mutations, Error: f.Error}}, nil
	}
	if f.Resync {
		return Inbound{Push: &Push{Resync: true}}, nil
	}
	if len(f.Result) > 0 {
		var event Event
		if err := json.Unmarshal(f.Result, &event); err != nil {
			return Inbound{}, fmt.Errorf("decoding event: %w", err)
		}
		if event.Type != TypeEvent {
			return Inbound{}, fmt.Errorf("push frame result has _type %q, want %q", event.Type, TypeEvent)
		}
		return Inbound{Push: &Push{Event: &event}}, nil
	}
	if f.Mutations != nil {
		return Inbound{Push: &Push{Mutations: f.Mutations}}, nil
	}
	return Inbound{}, fmt.Errorf("frame has no id and no push payload")
}

// DecodeRequest parses one request frame. Decoding failures and
// missing required fields come back as *Error with the matching code
// so a listener can answer them directly.
func DecodeRequest(data []byte) (*Request, *Error) {
	data = bytes.TrimSpace(data)
	var request Request
	if err := json.Unmarshal(data, &request); err != nil {
		return nil, Errorf(CodeInvalidRequest, "invalid JSON, resend correctly formatted input: %v", err)
	}
	if request.ID == "" {
		return &request, Errorf(CodeInvalidRequest, "request id is required")
	}
	if request.Method == "" {
		return &request, Errorf(CodeInvalidRequest, "request method is required")
	}
	if request.Params.Resource == "" {
		return &request, Errorf(CodeInvalidParams, "params.resource is required")
	}
	return &request, nil
}

// EncodeArgs marshals each argument separately.
func EncodeArgs(args []any) ([]json.RawMessage, error) {
	if len(args) == 0 {
		return nil, nil
	}
	encoded := make([]json.RawMessage, len(args))
	for i, arg := range args {
		data, err := json.Marshal(arg)
		if err != nil {
			return nil, fmt.Errorf("encoding argument %d: %w", i, err)
		}
		encoded[i] = data
	}
	return encoded, nil
}

// Connection-level methods answered by the external listeners
// themselves rather than forwarded to the executor.
const (
	// ListenerResource is the resource name these methods are sent to.
	ListenerResource = "ListenerService"

	MethodAuth        = "auth"
	MethodUnsubscribe = "unsubscribe"
	MethodListenAll   = "listenAllSubscriptions"
)

// EncodeRequest returns the wire form of request.
func EncodeRequest(request *Request) ([]byte, error) {
	data, err := json.Marshal(request)
	if err != nil {
		return nil, fmt.Errorf("encoding request %s: %w", request.ID, err)
	}
	return data, nil
}

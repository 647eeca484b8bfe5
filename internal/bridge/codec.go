// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Passy Contributors

package bridge

import (
	"encoding/json"
	"strconv"

	"github.com/samber/oops"
)

// RequestID correlates a response with the invocation that caused it.
type RequestID uint64

// String returns the decimal form of the id.
func (id RequestID) String() string {
	return strconv.FormatUint(uint64(id), 10)
}

// AppState names a piece of host state a plugin command asks to receive.
type AppState string

// Host states a request may ask for.
const (
	AppStateAppdataPath AppState = "AppdataPath"
)

// Invocation is the request envelope published on the request topic.
type Invocation struct {
	Plugin    string     `json:"plugin" jsonschema:"minLength=1"`
	Command   string     `json:"command" jsonschema:"minLength=1"`
	RequestID RequestID  `json:"requestId" jsonschema:"minimum=1"`
	Data      string     `json:"data"`
	States    []AppState `json:"states,omitempty"`
}

// Response is the envelope published on the response topic. Exactly one of
// Data and Err is expected to be set.
type Response struct {
	RequestID RequestID `json:"requestId" jsonschema:"minimum=1"`
	Data      *string   `json:"data,omitempty"`
	Err       *string   `json:"err,omitempty"`
}

// Result is a decoded response: a value or a host failure message.
type Result struct {
	RequestID RequestID
	Value     json.RawMessage
	Message   string
	Failed    bool
}

// Ok creates a successful result.
func Ok(id RequestID, value json.RawMessage) Result {
	return Result{RequestID: id, Value: value}
}

// Err creates a failed result carrying the host's message.
func Err(id RequestID, message string) Result {
	return Result{RequestID: id, Message: message, Failed: true}
}

// Encode serializes an invocation. data is marshalled to JSON text first;
// a marshal failure returns an encoding error and nothing should be sent.
func Encode(plugin, command string, id RequestID, data any, states ...AppState) ([]byte, error) {
	text, err := json.Marshal(data)
	if err != nil {
		return nil, EncodingError(plugin, command, err)
	}

	payload, err := json.Marshal(Invocation{
		Plugin:    plugin,
		Command:   command,
		RequestID: id,
		Data:      string(text),
		States:    states,
	})
	if err != nil {
		return nil, EncodingError(plugin, command, err)
	}
	return payload, nil
}

// Decode parses a response envelope.
//
// A payload that is not JSON, carries no requestId, or carries neither data
// nor err returns a malformed response error: it cannot be attributed to any
// call. When both fields are present err wins. Data that is present but not
// valid JSON text yields a result for the id together with a decoding error,
// so the caller can still be rejected.
func Decode(payload []byte) (Result, error) {
	var resp Response
	if err := json.Unmarshal(payload, &resp); err != nil {
		return Result{}, MalformedResponseError("invalid json: " + err.Error())
	}
	if resp.RequestID == 0 {
		return Result{}, MalformedResponseError("missing requestId")
	}

	switch {
	case resp.Err != nil:
		return Err(resp.RequestID, *resp.Err), nil
	case resp.Data != nil:
		if !json.Valid([]byte(*resp.Data)) {
			return Result{RequestID: resp.RequestID}, DecodingError(resp.RequestID, oops.Errorf("data is not valid json"))
		}
		return Ok(resp.RequestID, json.RawMessage(*resp.Data)), nil
	default:
		return Result{}, MalformedResponseError("neither data nor err present")
	}
}

// DecodeRequest parses a request envelope on the host side. On a type
// mismatch the fields that did decode are still returned, so a host can
// answer a bad request that carries a usable requestId.
func DecodeRequest(payload []byte) (Invocation, error) {
	var inv Invocation
	if err := json.Unmarshal(payload, &inv); err != nil {
		return inv, oops.Code(CodeDecoding).Wrapf(err, "decode request")
	}
	return inv, nil
}

// EncodeResponse serializes the host's reply for id. A non-nil failure
// produces an err envelope; otherwise value is sent as data text.
func EncodeResponse(id RequestID, value string, failure error) ([]byte, error) {
	resp := Response{RequestID: id}
	if failure != nil {
		msg := failure.Error()
		resp.Err = &msg
	} else {
		resp.Data = &value
	}
	payload, err := json.Marshal(resp)
	if err != nil {
		return nil, oops.Code(CodeEncoding).With("request_id", uint64(id)).Wrap(err)
	}
	return payload, nil
}

// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Passy Contributors

package bridge

import (
	"errors"
	"time"

	"github.com/samber/oops"
)

// Error codes for rejected calls and dropped responses.
const (
	CodeEncoding          = "ENCODING_ERROR"
	CodeDecoding          = "DECODING_ERROR"
	CodeMalformedResponse = "MALFORMED_RESPONSE"
	CodeHost              = "HOST_ERROR"
	CodeTimeout           = "TIMEOUT"
	CodeCancelled         = "CANCELLED"
	CodePublish           = "PUBLISH_ERROR"
)

// Sentinel errors wrapped by every error of the matching kind.
var (
	ErrEncoding          = errors.New("invocation data could not be encoded")
	ErrDecoding          = errors.New("response data could not be decoded")
	ErrMalformedResponse = errors.New("malformed response envelope")
	ErrTimeout           = errors.New("plugin command timed out")
	ErrCancelled         = errors.New("plugin command cancelled")
	ErrPublish           = errors.New("request could not be published")
	ErrClosed            = errors.New("bridge closed")
	ErrPending           = errors.New("call has not settled")
)

// HostError is the rejection reason when the host reports a failure.
// Its message is exactly the text the host sent.
type HostError struct {
	Message string
}

func (e *HostError) Error() string {
	return e.Message
}

// EncodingError creates an error for a value that cannot be serialized.
func EncodingError(plugin, command string, cause error) error {
	return oops.Code(CodeEncoding).
		With("plugin", plugin).
		With("command", command).
		With("cause", cause.Error()).
		Wrap(ErrEncoding)
}

// DecodingError creates an error for response data that is not valid JSON.
func DecodingError(id RequestID, cause error) error {
	b := oops.Code(CodeDecoding).With("request_id", uint64(id))
	if cause != nil {
		b = b.With("cause", cause.Error())
	}
	return b.Wrap(ErrDecoding)
}

// MalformedResponseError creates an error for an unattributable response.
func MalformedResponseError(reason string) error {
	return oops.Code(CodeMalformedResponse).
		With("reason", reason).
		Wrap(ErrMalformedResponse)
}

// TimeoutError creates an error for a call that exceeded its budget.
func TimeoutError(id RequestID, after time.Duration) error {
	return oops.Code(CodeTimeout).
		With("request_id", uint64(id)).
		With("timeout", after.String()).
		Wrap(ErrTimeout)
}

// CancelledError creates an error for a call the caller withdrew from.
func CancelledError(id RequestID, cause error) error {
	b := oops.Code(CodeCancelled).With("request_id", uint64(id))
	if cause != nil {
		b = b.With("cause", cause.Error())
	}
	return b.Wrap(ErrCancelled)
}

// PublishError creates an error for a request the transport refused.
func PublishError(id RequestID, topic string, cause error) error {
	return oops.Code(CodePublish).
		With("request_id", uint64(id)).
		With("topic", topic).
		With("cause", cause.Error()).
		Wrap(ErrPublish)
}

// IsTimeout reports whether err is a timeout rejection.
func IsTimeout(err error) bool { return errors.Is(err, ErrTimeout) }

// IsCancelled reports whether err is a cancellation rejection.
func IsCancelled(err error) bool { return errors.Is(err, ErrCancelled) }

// IsEncodingError reports whether err is an encoding rejection.
func IsEncodingError(err error) bool { return errors.Is(err, ErrEncoding) }

// IsDecodingError reports whether err is a decoding rejection.
func IsDecodingError(err error) bool { return errors.Is(err, ErrDecoding) }

// IsHostError reports whether err was reported by the host.
func IsHostError(err error) bool {
	var hostErr *HostError
	return errors.As(err, &hostErr)
}

// hostError wraps the host's message with request context.
func hostError(id RequestID, message string) error {
	return oops.Code(CodeHost).
		With("request_id", uint64(id)).
		Wrap(&HostError{Message: message})
}

package broker

import (
	"errors"
	"fmt"
)

// Stable error tags carried in the wire `error` field and in HTTP error
// bodies.
const (
	TagInvalidPattern       = "INVALID_PATTERN"
	TagInvalidObjectName    = "INVALID_OBJECT_NAME"
	TagUnknownObject        = "UNKNOWN_OBJECT"
	TagUnknownQuery         = "UNKNOWN_QUERY"
	TagUnknownInvocation    = "UNKNOWN_INVOCATION"
	TagNoProvider           = "NO_PROVIDER"
	TagProviderDisconnected = "PROVIDER_DISCONNECTED"
	TagStorageError         = "STORAGE_ERROR"
	TagMalformedRequest     = "MALFORMED_REQUEST"
	TagStreamNotFound       = "STREAM_NOT_FOUND"
	TagStreamAlreadyOpen    = "STREAM_ALREADY_OPEN"
	TagStreamNotOpen        = "STREAM_NOT_OPEN"
	TagInternal             = "INTERNAL_ERROR"
)

// Error is a broker failure with a stable wire tag and a human message.
type Error struct {
	Tag     string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// ErrorTag extracts the wire tag from err, defaulting to INTERNAL_ERROR
// for anything that is not a broker error.
func ErrorTag(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Tag
	}
	return TagInternal
}

// Malformed builds a MALFORMED_REQUEST error; transports use it for
// undecodable payloads and unknown request types.
func Malformed(message string) *Error {
	return &Error{Tag: TagMalformedRequest, Message: message}
}

func errInvalidPattern(err error) *Error {
	return &Error{Tag: TagInvalidPattern, Message: "invalid pattern", Err: err}
}

func errInvalidObjectName(name string) *Error {
	return &Error{Tag: TagInvalidObjectName, Message: fmt.Sprintf("invalid object name %q", name)}
}

func errUnknownObject(name string) *Error {
	return &Error{Tag: TagUnknownObject, Message: fmt.Sprintf("object %q not found", name)}
}

func errUnknownQuery(id string) *Error {
	return &Error{Tag: TagUnknownQuery, Message: fmt.Sprintf("query %s not found", id)}
}

func errUnknownInvocation(id string) *Error {
	return &Error{Tag: TagUnknownInvocation, Message: fmt.Sprintf("invocation %s not found", id)}
}

func errNoProvider(name string) *Error {
	return &Error{Tag: TagNoProvider, Message: fmt.Sprintf("no provider for object %q", name)}
}

func errProviderDisconnected() *Error {
	return &Error{Tag: TagProviderDisconnected, Message: "provider disconnected"}
}

func errStorage(err error) *Error {
	return &Error{Tag: TagStorageError, Message: "storage operation failed", Err: err}
}

func errStreamNotFound() *Error {
	return &Error{Tag: TagStreamNotFound, Message: "stream not found"}
}

func errStreamAlreadyOpen() *Error {
	return &Error{Tag: TagStreamAlreadyOpen, Message: "stream already open"}
}

func errStreamNotOpen() *Error {
	return &Error{Tag: TagStreamNotOpen, Message: "stream not open"}
}

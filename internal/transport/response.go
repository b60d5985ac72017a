// Package transport implements the client-facing surfaces of the broker:
// the line-delimited JSON protocol over TCP, the same protocol (plus
// binary stream frames) over WebSocket, and the REST/SSE HTTP interface.
package transport

import (
	"encoding/json"
	"net/http"

	"github.com/objtalk/objtalk/internal/broker"
)

// WriteJSON writes a JSON response with the given status code.
func WriteJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// ErrorResponse is the standard error envelope.
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail contains the error code and human-readable message.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// WriteError writes a standard error response.
func WriteError(w http.ResponseWriter, status int, code, message string) {
	WriteJSON(w, status, ErrorResponse{
		Error: ErrorDetail{
			Code:    code,
			Message: message,
		},
	})
}

// WriteBrokerError writes err as the standard error envelope, with the
// status code derived from its tag.
func WriteBrokerError(w http.ResponseWriter, err error) {
	tag := broker.ErrorTag(err)
	WriteError(w, statusForTag(tag), tag, err.Error())
}

func statusForTag(tag string) int {
	switch tag {
	case broker.TagInvalidPattern, broker.TagInvalidObjectName, broker.TagMalformedRequest:
		return http.StatusBadRequest
	case broker.TagUnknownObject, broker.TagUnknownQuery, broker.TagUnknownInvocation, broker.TagStreamNotFound:
		return http.StatusNotFound
	case broker.TagNoProvider, broker.TagProviderDisconnected:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

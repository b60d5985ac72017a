// Package wire defines the JSON protocol spoken over TCP and WebSocket:
// request envelopes, response envelopes and event messages. Requests are
// correlated to responses by an opaque client-chosen id; events carry a
// type tag instead.
package wire

import (
	"encoding/json"

	"github.com/objtalk/objtalk/internal/broker"
)

// Request types.
const (
	TypeSet                   = "set"
	TypePatch                 = "patch"
	TypeGet                   = "get"
	TypeQuery                 = "query"
	TypeUnsubscribe           = "unsubscribe"
	TypeRemove                = "remove"
	TypeEmit                  = "emit"
	TypeInvoke                = "invoke"
	TypeInvokeResult          = "invokeResult"
	TypeSetDisconnectCommands = "setDisconnectCommands"
	TypeCreateStream          = "createStream"
	TypeOpenStream            = "openStream"
	TypeCloseStream           = "closeStream"
)

// Request is the union of all request parameters; Type decides which
// fields matter. ID is echoed back verbatim in the response envelope.
type Request struct {
	ID           json.RawMessage  `json:"id,omitempty"`
	Type         string           `json:"type"`
	Name         string           `json:"name,omitempty"`
	Value        json.RawMessage  `json:"value,omitempty"`
	Pattern      string           `json:"pattern,omitempty"`
	ProvideRPC   bool             `json:"provideRpc,omitempty"`
	QueryID      string           `json:"queryId,omitempty"`
	Object       string           `json:"object,omitempty"`
	Event        string           `json:"event,omitempty"`
	Data         json.RawMessage  `json:"data,omitempty"`
	Method       string           `json:"method,omitempty"`
	Args         json.RawMessage  `json:"args,omitempty"`
	InvocationID string           `json:"invocationId,omitempty"`
	Result       json.RawMessage  `json:"result,omitempty"`
	Commands     []broker.Command `json:"commands,omitempty"`
	StreamID     string           `json:"streamId,omitempty"`
	Index        uint32           `json:"index,omitempty"`
}

// Response answers one request. RequestID deliberately has no omitempty:
// an undecodable request is answered with requestId null.
type Response struct {
	RequestID json.RawMessage `json:"requestId"`
	Result    any             `json:"result,omitempty"`
	Error     string          `json:"error,omitempty"`
}

// Result payloads.

type SuccessResult struct {
	Success bool `json:"success"`
}

type GetResult struct {
	Objects []broker.Object `json:"objects"`
}

type QueryResult struct {
	QueryID string          `json:"queryId"`
	Objects []broker.Object `json:"objects"`
}

type RemoveResult struct {
	Existed bool `json:"existed"`
}

type CreateStreamResult struct {
	StreamID string `json:"streamId"`
	Index    uint32 `json:"index"`
}

type OpenStreamResult struct {
	Index uint32 `json:"index"`
}

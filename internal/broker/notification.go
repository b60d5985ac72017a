package broker

import (
	"encoding/json"

	"github.com/google/uuid"
)

// Notification is a server-initiated message delivered on a session's
// bounded outbound queue. Transports encode each variant for their wire.
type Notification interface {
	notification()
}

// QueryAdd reports an object newly entering a subscription's matched set.
type QueryAdd struct {
	QueryID uuid.UUID
	Object  Object
}

// QueryChange reports a value change of an object already in the set.
type QueryChange struct {
	QueryID uuid.UUID
	Object  Object
}

// QueryRemove reports an object leaving the matched set; Object carries
// the last-known state.
type QueryRemove struct {
	QueryID uuid.UUID
	Object  Object
}

// QueryEvent carries a fire-and-forget event emitted on a matched object.
type QueryEvent struct {
	QueryID uuid.UUID
	Object  string
	Event   string
	Data    json.RawMessage
}

// QueryInvocation asks a providing subscription to service an RPC call.
type QueryInvocation struct {
	QueryID      uuid.UUID
	InvocationID uuid.UUID
	Object       string
	Method       string
	Args         json.RawMessage
}

// InvocationResult completes a requester's deferred invoke request.
// Exactly one of Result and Err is meaningful.
type InvocationResult struct {
	RequestID json.RawMessage
	Result    json.RawMessage
	Err       *Error
}

// StreamOpen tells a stream's creator that the other side joined.
type StreamOpen struct {
	Index uint32
}

// StreamClosed tells a stream party that the stream is gone.
type StreamClosed struct {
	Index uint32
}

// StreamData relays bytes to a stream party. Payload already carries the
// recipient's little-endian uint32 index prefix.
type StreamData struct {
	Index   uint32
	Payload []byte
}

func (QueryAdd) notification()         {}
func (QueryChange) notification()      {}
func (QueryRemove) notification()      {}
func (QueryEvent) notification()       {}
func (QueryInvocation) notification()  {}
func (InvocationResult) notification() {}
func (StreamOpen) notification()       {}
func (StreamClosed) notification()     {}
func (StreamData) notification()       {}

func notificationKind(n Notification) string {
	switch n.(type) {
	case QueryAdd:
		return "queryAdd"
	case QueryChange:
		return "queryChange"
	case QueryRemove:
		return "queryRemove"
	case QueryEvent:
		return "queryEvent"
	case QueryInvocation:
		return "queryInvocation"
	case InvocationResult:
		return "invocationResult"
	case StreamOpen:
		return "streamOpen"
	case StreamClosed:
		return "streamClosed"
	case StreamData:
		return "streamData"
	default:
		return "unknown"
	}
}

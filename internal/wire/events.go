package wire

import (
	"encoding/json"

	"github.com/objtalk/objtalk/internal/broker"
)

// Event types.
const (
	EventQueryAdd        = "queryAdd"
	EventQueryChange     = "queryChange"
	EventQueryRemove     = "queryRemove"
	EventQueryEvent      = "queryEvent"
	EventQueryInvocation = "queryInvocation"
	EventStreamOpen      = "streamOpen"
	EventStreamClosed    = "streamClosed"
)

type QueryAddEvent struct {
	Type    string        `json:"type"`
	QueryID string        `json:"queryId"`
	Object  broker.Object `json:"object"`
}

type QueryChangeEvent struct {
	Type    string        `json:"type"`
	QueryID string        `json:"queryId"`
	Object  broker.Object `json:"object"`
}

type QueryRemoveEvent struct {
	Type    string        `json:"type"`
	QueryID string        `json:"queryId"`
	Object  broker.Object `json:"object"`
}

type QueryEventEvent struct {
	Type    string          `json:"type"`
	QueryID string          `json:"queryId"`
	Object  string          `json:"object"`
	Event   string          `json:"event"`
	Data    json.RawMessage `json:"data"`
}

type QueryInvocationEvent struct {
	Type         string          `json:"type"`
	InvocationID string          `json:"invocationId"`
	QueryID      string          `json:"queryId"`
	Object       string          `json:"object"`
	Method       string          `json:"method"`
	Args         json.RawMessage `json:"args"`
}

type StreamOpenEvent struct {
	Type  string `json:"type"`
	Index uint32 `json:"index"`
}

type StreamClosedEvent struct {
	Type  string `json:"type"`
	Index uint32 `json:"index"`
}

// Message converts a broker notification into its wire message. ok is
// false for StreamData, which travels as a binary frame instead of JSON.
func Message(n broker.Notification) (any, bool) {
	switch n := n.(type) {
	case broker.QueryAdd:
		return QueryAddEvent{Type: EventQueryAdd, QueryID: n.QueryID.String(), Object: n.Object}, true
	case broker.QueryChange:
		return QueryChangeEvent{Type: EventQueryChange, QueryID: n.QueryID.String(), Object: n.Object}, true
	case broker.QueryRemove:
		return QueryRemoveEvent{Type: EventQueryRemove, QueryID: n.QueryID.String(), Object: n.Object}, true
	case broker.QueryEvent:
		return QueryEventEvent{
			Type:    EventQueryEvent,
			QueryID: n.QueryID.String(),
			Object:  n.Object,
			Event:   n.Event,
			Data:    n.Data,
		}, true
	case broker.QueryInvocation:
		return QueryInvocationEvent{
			Type:         EventQueryInvocation,
			InvocationID: n.InvocationID.String(),
			QueryID:      n.QueryID.String(),
			Object:       n.Object,
			Method:       n.Method,
			Args:         n.Args,
		}, true
	case broker.InvocationResult:
		resp := Response{RequestID: n.RequestID}
		if n.Err != nil {
			resp.Error = n.Err.Tag
		} else {
			resp.Result = n.Result
		}
		return resp, true
	case broker.StreamOpen:
		return StreamOpenEvent{Type: EventStreamOpen, Index: n.Index}, true
	case broker.StreamClosed:
		return StreamClosedEvent{Type: EventStreamClosed, Index: n.Index}, true
	default:
		return nil, false
	}
}

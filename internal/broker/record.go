package broker

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Activity record types, one per logged operation.
const (
	RecordClientConnect    = "clientConnect"
	RecordClientDisconnect = "clientDisconnect"
	RecordSet              = "set"
	RecordPatch            = "patch"
	RecordGet              = "get"
	RecordQuery            = "query"
	RecordUnsubscribe      = "unsubscribe"
	RecordRemove           = "remove"
	RecordEmit             = "emit"
	RecordInvoke           = "invoke"
	RecordInvokeResult     = "invokeResult"
	RecordStreamCreate     = "streamCreate"
	RecordStreamOpen       = "streamOpen"
	RecordStreamClose      = "streamClose"
)

// Record describes one committed broker operation. The JSON shape is what
// subscribers of the `$system` log event receive; Time is sink-side only.
type Record struct {
	Type         string          `json:"type"`
	Client       uuid.UUID       `json:"client"`
	Object       string          `json:"object,omitempty"`
	Pattern      string          `json:"pattern,omitempty"`
	Event        string          `json:"event,omitempty"`
	Method       string          `json:"method,omitempty"`
	Value        json.RawMessage `json:"value,omitempty"`
	Data         json.RawMessage `json:"data,omitempty"`
	Args         json.RawMessage `json:"args,omitempty"`
	Result       json.RawMessage `json:"result,omitempty"`
	ProvideRPC   bool            `json:"provideRpc,omitempty"`
	QueryID      string          `json:"query,omitempty"`
	InvocationID string          `json:"invocation,omitempty"`
	StreamID     string          `json:"stream,omitempty"`
	StreamIndex  uint32          `json:"index,omitempty"`

	Time time.Time `json:"-"`
}

// ActivitySink receives activity records. Implementations must return
// quickly; the worker loop calls Emit inline.
type ActivitySink interface {
	Emit(Record)
}

type nopSink struct{}

func (nopSink) Emit(Record) {}

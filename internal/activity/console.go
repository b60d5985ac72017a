package activity

import (
	"fmt"
	"io"

	"github.com/rs/zerolog"

	"github.com/objtalk/objtalk/internal/broker"
)

// Console renders one line per record in the form
//
//	12:34:56.123456 abc1234 set kitchen/lamp {"on":true}
type Console struct {
	log zerolog.Logger
}

func NewConsole(out io.Writer) *Console {
	writer := zerolog.ConsoleWriter{
		Out:           out,
		PartsOrder:    []string{zerolog.TimestampFieldName, "client", zerolog.MessageFieldName},
		FieldsExclude: []string{"client"},
		FormatTimestamp: func(i interface{}) string {
			s, _ := i.(string)
			return s
		},
	}
	return &Console{log: zerolog.New(writer)}
}

func (c *Console) Emit(rec broker.Record) {
	c.log.Log().
		Str(zerolog.TimestampFieldName, rec.Time.Local().Format("15:04:05.000000")).
		Str("client", shortID(rec.Client.String())).
		Msg(renderRecord(rec))
}

func renderRecord(rec broker.Record) string {
	switch rec.Type {
	case broker.RecordClientConnect:
		return "connect"
	case broker.RecordClientDisconnect:
		return "disconnect"
	case broker.RecordGet:
		return "get " + rec.Pattern
	case broker.RecordQuery:
		return fmt.Sprintf("query %s -> %s (provide rpc: %t)", rec.Pattern, shortID(rec.QueryID), rec.ProvideRPC)
	case broker.RecordUnsubscribe:
		return "unsubscribe " + shortID(rec.QueryID)
	case broker.RecordSet:
		return fmt.Sprintf("set %s %s", rec.Object, rec.Value)
	case broker.RecordPatch:
		return fmt.Sprintf("patch %s %s", rec.Object, rec.Value)
	case broker.RecordRemove:
		return "remove " + rec.Object
	case broker.RecordEmit:
		return fmt.Sprintf("emit %s %s %s", rec.Object, rec.Event, rec.Data)
	case broker.RecordInvoke:
		return fmt.Sprintf("invoke %s %s %s %s", shortID(rec.InvocationID), rec.Object, rec.Method, rec.Args)
	case broker.RecordInvokeResult:
		return fmt.Sprintf("invoke-result %s %s", shortID(rec.InvocationID), rec.Result)
	case broker.RecordStreamCreate:
		return fmt.Sprintf("stream-create %s %d", shortID(rec.StreamID), rec.StreamIndex)
	case broker.RecordStreamOpen:
		return fmt.Sprintf("stream-open %s %d", shortID(rec.StreamID), rec.StreamIndex)
	case broker.RecordStreamClose:
		return fmt.Sprintf("stream-close %s %d", shortID(rec.StreamID), rec.StreamIndex)
	default:
		return rec.Type
	}
}

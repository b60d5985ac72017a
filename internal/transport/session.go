package transport

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/objtalk/objtalk/internal/broker"
	"github.com/objtalk/objtalk/internal/wire"
)

// malformedResponse answers input that could not be decoded at all. The
// request id is unknown, so requestId is null; the connection stays
// usable.
func malformedResponse() wire.Response {
	return wire.Response{Error: broker.TagMalformedRequest}
}

// handle executes one decoded request against the client. The returned
// response is nil for an accepted invoke: its envelope is delivered
// later, when the provider answers or the invocation is failed.
func handle(c *broker.Client, req wire.Request) *wire.Response {
	result, err := execute(c, req)
	if err != nil {
		return &wire.Response{RequestID: req.ID, Error: broker.ErrorTag(err)}
	}
	if result == nil {
		return nil
	}
	return &wire.Response{RequestID: req.ID, Result: result}
}

func execute(c *broker.Client, req wire.Request) (any, error) {
	switch req.Type {
	case wire.TypeSet:
		if req.Value == nil {
			return nil, broker.Malformed("set: missing value")
		}
		if err := c.Set(req.Name, req.Value); err != nil {
			return nil, err
		}
		return wire.SuccessResult{Success: true}, nil

	case wire.TypePatch:
		if req.Value == nil {
			return nil, broker.Malformed("patch: missing value")
		}
		if err := c.Patch(req.Name, req.Value); err != nil {
			return nil, err
		}
		return wire.SuccessResult{Success: true}, nil

	case wire.TypeGet:
		objects, err := c.Get(req.Pattern)
		if err != nil {
			return nil, err
		}
		if objects == nil {
			objects = []broker.Object{}
		}
		return wire.GetResult{Objects: objects}, nil

	case wire.TypeQuery:
		res, err := c.Query(req.Pattern, req.ProvideRPC)
		if err != nil {
			return nil, err
		}
		objects := res.Objects
		if objects == nil {
			objects = []broker.Object{}
		}
		return wire.QueryResult{QueryID: res.ID.String(), Objects: objects}, nil

	case wire.TypeUnsubscribe:
		queryID, err := uuid.Parse(req.QueryID)
		if err != nil {
			return nil, broker.Malformed(fmt.Sprintf("unsubscribe: bad queryId %q", req.QueryID))
		}
		if err := c.Unsubscribe(queryID); err != nil {
			return nil, err
		}
		return wire.SuccessResult{Success: true}, nil

	case wire.TypeRemove:
		existed, err := c.Remove(req.Name)
		if err != nil {
			return nil, err
		}
		return wire.RemoveResult{Existed: existed}, nil

	case wire.TypeEmit:
		if err := c.Emit(req.Object, req.Event, req.Data); err != nil {
			return nil, err
		}
		return wire.SuccessResult{Success: true}, nil

	case wire.TypeInvoke:
		// Answered by the provider's invokeResult, not here.
		if err := c.Invoke(req.Object, req.Method, req.Args, req.ID); err != nil {
			return nil, err
		}
		return nil, nil

	case wire.TypeInvokeResult:
		invocationID, err := uuid.Parse(req.InvocationID)
		if err != nil {
			return nil, broker.Malformed(fmt.Sprintf("invokeResult: bad invocationId %q", req.InvocationID))
		}
		if err := c.InvokeResult(invocationID, req.Result); err != nil {
			return nil, err
		}
		return wire.SuccessResult{Success: true}, nil

	case wire.TypeSetDisconnectCommands:
		if err := c.SetDisconnectCommands(req.Commands); err != nil {
			return nil, err
		}
		return wire.SuccessResult{Success: true}, nil

	case wire.TypeCreateStream:
		id, index, err := c.CreateStream()
		if err != nil {
			return nil, err
		}
		return wire.CreateStreamResult{StreamID: id.String(), Index: index}, nil

	case wire.TypeOpenStream:
		streamID, err := uuid.Parse(req.StreamID)
		if err != nil {
			return nil, broker.Malformed(fmt.Sprintf("openStream: bad streamId %q", req.StreamID))
		}
		index, err := c.OpenStream(streamID)
		if err != nil {
			return nil, err
		}
		return wire.OpenStreamResult{Index: index}, nil

	case wire.TypeCloseStream:
		if err := c.CloseStream(req.Index); err != nil {
			return nil, err
		}
		return wire.SuccessResult{Success: true}, nil

	default:
		return nil, broker.Malformed(fmt.Sprintf("unknown request type %q", req.Type))
	}
}

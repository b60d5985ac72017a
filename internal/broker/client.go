package broker

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/objtalk/objtalk/internal/pattern"
)

// Disconnect command types.
const (
	CommandSet    = "set"
	CommandPatch  = "patch"
	CommandRemove = "remove"
	CommandEmit   = "emit"
)

// Command is one deferred mutation executed on behalf of a client when its
// session ends. Set/Patch/Remove use Name (and Value); Emit uses Object,
// Event and Data.
type Command struct {
	Type   string          `json:"type"`
	Name   string          `json:"name,omitempty"`
	Value  json.RawMessage `json:"value,omitempty"`
	Object string          `json:"object,omitempty"`
	Event  string          `json:"event,omitempty"`
	Data   json.RawMessage `json:"data,omitempty"`
}

// session is the worker-owned state of one connected client.
type session struct {
	id     uuid.UUID
	outbox chan Notification
	kicked chan struct{}

	// dropped flags a session kicked for a full outbox; the worker stops
	// delivering to it and waits for its transport to disconnect.
	dropped bool

	queries     map[uuid.UUID]*query
	invocations map[uuid.UUID]*invocation
	commands    []Command
	streams     map[uint32]uuid.UUID
	nextStream  uint32
}

type query struct {
	id         uuid.UUID
	pattern    *pattern.Pattern
	provideRPC bool
	seq        uint64
	objects    map[string]struct{}
}

type invocation struct {
	id        uuid.UUID
	requester uuid.UUID
	requestID json.RawMessage
	queryID   uuid.UUID
}

var errClientGone = errors.New("client no longer connected")

// Client is the handle a transport session holds on the broker. Methods
// are safe for concurrent use; every operation executes on the worker
// loop.
type Client struct {
	b         *Broker
	id        uuid.UUID
	sess      *session
	closeOnce sync.Once
}

// ID returns the client identity attached to activity records.
func (c *Client) ID() uuid.UUID {
	return c.id
}

// Notifications is the session's bounded outbound queue. The broker closes
// it once the disconnect cascade has finished.
func (c *Client) Notifications() <-chan Notification {
	return c.sess.outbox
}

// Kicked is closed when the outbound queue overflowed and the broker gave
// up on this session. The transport must tear the connection down.
func (c *Client) Kicked() <-chan struct{} {
	return c.sess.kicked
}

// Close disconnects the client and runs the disconnect cascade. Safe to
// call more than once.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		_ = c.b.do(func() {
			c.b.disconnect(c.id)
		})
	})
}

// op runs fn on the worker loop and keeps the request metrics.
func (c *Client) op(typ string, fn func() error) error {
	var err error
	if doErr := c.b.do(func() {
		c.b.metrics.Request(typ)
		err = fn()
		if err != nil {
			c.b.metrics.RequestError(typ)
		}
	}); doErr != nil {
		return doErr
	}
	return err
}

// live returns the worker-side session state, failing when the client has
// already disconnected. Worker loop only.
func (c *Client) live() (*session, error) {
	s, ok := c.b.sessions[c.id]
	if !ok {
		return nil, errClientGone
	}
	return s, nil
}

// Get returns all objects matching the pattern, sorted by name.
func (c *Client) Get(patternSrc string) ([]Object, error) {
	var objs []Object
	err := c.op("get", func() error {
		var err error
		objs, err = c.b.get(c.id, patternSrc)
		return err
	})
	return objs, err
}

// Lookup fetches a single object by exact name.
func (c *Client) Lookup(name string) (Object, bool, error) {
	var (
		obj   Object
		found bool
	)
	err := c.op("get", func() error {
		obj, found = c.b.lookup(c.id, name)
		return nil
	})
	return obj, found, err
}

// Set stores value under name, replacing any previous value.
func (c *Client) Set(name string, value json.RawMessage) error {
	return c.op("set", func() error {
		return c.b.set(c.id, name, value)
	})
}

// Patch shallow-merges value into the named object, falling back to set
// semantics when either side is not a JSON object.
func (c *Client) Patch(name string, value json.RawMessage) error {
	return c.op("patch", func() error {
		return c.b.patch(c.id, name, value)
	})
}

// Remove deletes the named object, reporting whether it existed.
func (c *Client) Remove(name string) (bool, error) {
	var existed bool
	err := c.op("remove", func() error {
		var err error
		existed, err = c.b.remove(c.id, name)
		return err
	})
	return existed, err
}

// Emit sends a fire-and-forget event on an existing object.
func (c *Client) Emit(object, event string, data json.RawMessage) error {
	return c.op("emit", func() error {
		return c.b.emit(c.id, object, event, data)
	})
}

// Query opens a live subscription and returns its id plus the snapshot of
// currently matching objects.
func (c *Client) Query(patternSrc string, provideRPC bool) (QueryResult, error) {
	var res QueryResult
	err := c.op("query", func() error {
		s, err := c.live()
		if err != nil {
			return err
		}
		res, err = c.b.addQuery(s, patternSrc, provideRPC)
		return err
	})
	return res, err
}

// Unsubscribe removes one of this client's subscriptions.
func (c *Client) Unsubscribe(queryID uuid.UUID) error {
	return c.op("unsubscribe", func() error {
		s, err := c.live()
		if err != nil {
			return err
		}
		return c.b.removeQuery(s, queryID)
	})
}

// Invoke routes an RPC call to a provider. There is no immediate result:
// the transport answers the request only when an InvocationResult
// notification carrying requestID arrives.
func (c *Client) Invoke(object, method string, args, requestID json.RawMessage) error {
	return c.op("invoke", func() error {
		return c.b.invoke(c.id, object, method, args, requestID)
	})
}

// InvokeResult completes an invocation parked on this client.
func (c *Client) InvokeResult(invocationID uuid.UUID, result json.RawMessage) error {
	return c.op("invokeResult", func() error {
		s, err := c.live()
		if err != nil {
			return err
		}
		return c.b.invokeResult(s, invocationID, result)
	})
}

// SetDisconnectCommands replaces the mutations run when this session ends.
func (c *Client) SetDisconnectCommands(commands []Command) error {
	return c.op("setDisconnectCommands", func() error {
		s, err := c.live()
		if err != nil {
			return err
		}
		return c.b.setDisconnectCommands(s, commands)
	})
}

// CreateStream allocates a relay stream; the returned index addresses it
// on this session.
func (c *Client) CreateStream() (uuid.UUID, uint32, error) {
	var (
		id  uuid.UUID
		idx uint32
	)
	err := c.op("createStream", func() error {
		s, err := c.live()
		if err != nil {
			return err
		}
		id, idx = c.b.createStream(s)
		return nil
	})
	return id, idx, err
}

// OpenStream joins an existing stream as its second party.
func (c *Client) OpenStream(id uuid.UUID) (uint32, error) {
	var idx uint32
	err := c.op("openStream", func() error {
		s, err := c.live()
		if err != nil {
			return err
		}
		idx, err = c.b.openStream(s, id)
		return err
	})
	return idx, err
}

// StreamSend relays data to the counterpart of the stream addressed by
// index.
func (c *Client) StreamSend(index uint32, data []byte) error {
	return c.op("streamSend", func() error {
		s, err := c.live()
		if err != nil {
			return err
		}
		return c.b.streamSend(s, index, data)
	})
}

// CloseStream closes the stream addressed by index for both parties.
func (c *Client) CloseStream(index uint32) error {
	return c.op("closeStream", func() error {
		s, err := c.live()
		if err != nil {
			return err
		}
		return c.b.closeStream(s, index)
	})
}

func (b *Broker) setDisconnectCommands(s *session, commands []Command) error {
	for _, cmd := range commands {
		switch cmd.Type {
		case CommandSet, CommandPatch, CommandRemove, CommandEmit:
		default:
			return Malformed(fmt.Sprintf("unknown disconnect command type %q", cmd.Type))
		}
	}
	s.commands = commands
	return nil
}

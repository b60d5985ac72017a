// Package broker implements the objtalk core: an in-memory object
// registry with pattern subscriptions, event fan-out, RPC routing
// between clients and stream relaying. All state is owned by a single
// worker goroutine; transports talk to it through Client handles whose
// operations are mailboxed onto the worker loop, so no broker state is
// ever locked or shared.
package broker

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/objtalk/objtalk/internal/metrics"
	"github.com/objtalk/objtalk/internal/pattern"
)

const (
	// DefaultQueueSize bounds the per-session outbound notification
	// queue. A session that stays behind this long gets kicked.
	DefaultQueueSize = 256

	// DefaultPatternCacheSize bounds the compiled pattern cache.
	DefaultPatternCacheSize = 1024

	systemObject = "$system"
)

// ErrClosed is returned by all Client operations once the broker has shut
// down.
var ErrClosed = errors.New("broker closed")

// Config carries the broker's collaborators. Store is required; the rest
// default to no-ops.
type Config struct {
	Store    Store
	Activity ActivitySink
	Metrics  *metrics.Metrics

	// QueueSize overrides DefaultQueueSize when positive.
	QueueSize int

	// PatternCacheSize overrides DefaultPatternCacheSize when positive.
	PatternCacheSize int

	// Version is published as the $system object's value.
	Version string
}

// Broker owns the object registry and all session state.
type Broker struct {
	store     Store
	activity  ActivitySink
	metrics   *metrics.Metrics
	patterns  *pattern.Cache
	queueSize int

	ops  chan func()
	quit chan struct{}
	done chan struct{}

	closeOnce sync.Once

	// Worker-owned state. Never touched outside the run loop after New
	// returns.
	objects  map[string]Object
	sessions map[uuid.UUID]*session
	streams  map[uuid.UUID]*stream
	querySeq uint64
}

// New loads the persisted objects, publishes $system and starts the
// worker loop.
func New(cfg Config) (*Broker, error) {
	if cfg.Store == nil {
		return nil, errors.New("broker: config needs a store")
	}
	activity := cfg.Activity
	if activity == nil {
		activity = nopSink{}
	}
	queueSize := cfg.QueueSize
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	cacheSize := cfg.PatternCacheSize
	if cacheSize <= 0 {
		cacheSize = DefaultPatternCacheSize
	}
	version := cfg.Version
	if version == "" {
		version = "dev"
	}

	b := &Broker{
		store:     cfg.Store,
		activity:  activity,
		metrics:   cfg.Metrics,
		patterns:  pattern.NewCache(cacheSize),
		queueSize: queueSize,
		ops:       make(chan func()),
		quit:      make(chan struct{}),
		done:      make(chan struct{}),
		objects:   make(map[string]Object),
		sessions:  make(map[uuid.UUID]*session),
		streams:   make(map[uuid.UUID]*stream),
	}

	loaded, err := cfg.Store.LoadAll()
	if err != nil {
		return nil, fmt.Errorf("broker: load objects: %w", err)
	}
	for _, obj := range loaded {
		if obj.Name == "" || strings.HasPrefix(obj.Name, "$") {
			continue
		}
		b.objects[obj.Name] = obj
	}

	value, err := json.Marshal(map[string]string{"version": version})
	if err != nil {
		return nil, fmt.Errorf("broker: encode $system: %w", err)
	}
	b.objects[systemObject] = Object{
		Name:         systemObject,
		Value:        value,
		LastModified: time.Now().UTC(),
	}
	b.metrics.SetObjects(len(b.objects))

	go b.run()
	return b, nil
}

func (b *Broker) run() {
	defer close(b.done)
	for {
		select {
		case op := <-b.ops:
			op()
		case <-b.quit:
			// Finish ops whose senders already committed.
			for {
				select {
				case op := <-b.ops:
					op()
				default:
					return
				}
			}
		}
	}
}

// do runs op on the worker loop and waits for it to finish.
func (b *Broker) do(op func()) error {
	ran := make(chan struct{})
	select {
	case b.ops <- func() {
		op()
		close(ran)
	}:
	case <-b.quit:
		return ErrClosed
	}
	<-ran
	return nil
}

// Close stops the worker loop. Transports must have been shut down first;
// Client operations after Close return ErrClosed.
func (b *Broker) Close() {
	b.closeOnce.Do(func() {
		close(b.quit)
	})
	<-b.done
	b.patterns.Close()
}

// Connect registers a new session and returns its handle.
func (b *Broker) Connect() (*Client, error) {
	var c *Client
	err := b.do(func() {
		s := &session{
			id:          uuid.New(),
			outbox:      make(chan Notification, b.queueSize),
			kicked:      make(chan struct{}),
			queries:     make(map[uuid.UUID]*query),
			invocations: make(map[uuid.UUID]*invocation),
			streams:     make(map[uint32]uuid.UUID),
			nextStream:  1,
		}
		b.record(Record{Type: RecordClientConnect, Client: s.id})
		b.sessions[s.id] = s
		b.metrics.SetClients(len(b.sessions))
		c = &Client{b: b, id: s.id, sess: s}
	})
	return c, err
}

// disconnect tears a session down: parked invocations fail over to their
// requesters, streams close for both parties, then the session's
// disconnect commands run under its identity. Worker loop only.
func (b *Broker) disconnect(id uuid.UUID) {
	s, ok := b.sessions[id]
	if !ok {
		return
	}
	delete(b.sessions, id)
	b.metrics.SetClients(len(b.sessions))

	for _, inv := range s.invocations {
		if requester, ok := b.sessions[inv.requester]; ok {
			b.deliver(requester, InvocationResult{
				RequestID: inv.requestID,
				Err:       errProviderDisconnected(),
			})
		}
	}
	b.metrics.SetQueries(b.countQueries())
	b.metrics.SetPendingInvocations(b.countInvocations())

	for _, streamID := range s.streams {
		_ = b.closeStreamByID(streamID)
	}

	for _, cmd := range s.commands {
		switch cmd.Type {
		case CommandSet:
			_ = b.set(id, cmd.Name, cmd.Value)
		case CommandPatch:
			_ = b.patch(id, cmd.Name, cmd.Value)
		case CommandRemove:
			_, _ = b.remove(id, cmd.Name)
		case CommandEmit:
			_ = b.emit(id, cmd.Object, cmd.Event, cmd.Data)
		}
	}

	b.record(Record{Type: RecordClientDisconnect, Client: id})
	close(s.outbox)
}

// deliver queues a notification on a session, kicking the session when
// its queue is full. Worker loop only.
func (b *Broker) deliver(s *session, n Notification) {
	if s.dropped {
		return
	}
	select {
	case s.outbox <- n:
		b.metrics.Notification(notificationKind(n))
	default:
		s.dropped = true
		close(s.kicked)
		b.metrics.SessionDropped()
	}
}

// record hands an activity record to the sink and re-emits it as a log
// event on $system. internalEmit produces no record of its own, so this
// cannot recurse.
func (b *Broker) record(rec Record) {
	rec.Time = time.Now().UTC()
	b.activity.Emit(rec)
	if data, err := json.Marshal(rec); err == nil {
		_ = b.internalEmit(systemObject, "log", data)
	}
}

func (b *Broker) countQueries() int {
	n := 0
	for _, s := range b.sessions {
		n += len(s.queries)
	}
	return n
}

func (b *Broker) countInvocations() int {
	n := 0
	for _, s := range b.sessions {
		n += len(s.invocations)
	}
	return n
}

func uuidLess(a, b uuid.UUID) bool {
	return bytes.Compare(a[:], b[:]) < 0
}

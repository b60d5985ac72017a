package broker

import (
	"encoding/binary"

	"github.com/google/uuid"
)

// stream is a bidirectional relay between two sessions. Each party
// addresses it by its own index; the broker swaps indexes when relaying
// so both sides only ever see their own.
type stream struct {
	id      uuid.UUID
	creator streamParty
	opener  *streamParty
}

type streamParty struct {
	client uuid.UUID
	index  uint32
}

// counterpart resolves the other end of the stream as seen from the party
// identified by client and index. A stream may connect a session to
// itself, so both fields take part in the match.
func (st *stream) counterpart(client uuid.UUID, index uint32) (streamParty, bool) {
	if st.creator.client == client && st.creator.index == index {
		if st.opener == nil {
			return streamParty{}, false
		}
		return *st.opener, true
	}
	if st.opener != nil && st.opener.client == client && st.opener.index == index {
		return st.creator, true
	}
	return streamParty{}, false
}

// createStream allocates a stream with s as creator. Worker loop only.
func (b *Broker) createStream(s *session) (uuid.UUID, uint32) {
	id := uuid.New()
	index := s.nextStream
	s.nextStream++
	b.streams[id] = &stream{id: id, creator: streamParty{client: s.id, index: index}}
	s.streams[index] = id
	b.metrics.SetStreams(len(b.streams))
	b.record(Record{
		Type:        RecordStreamCreate,
		Client:      s.id,
		StreamID:    id.String(),
		StreamIndex: index,
	})
	return id, index
}

// openStream joins s to an existing stream as its second party and tells
// the creator the stream is ready. Worker loop only.
func (b *Broker) openStream(s *session, id uuid.UUID) (uint32, error) {
	st, ok := b.streams[id]
	if !ok {
		return 0, errStreamNotFound()
	}
	if st.opener != nil {
		return 0, errStreamAlreadyOpen()
	}
	index := s.nextStream
	s.nextStream++
	st.opener = &streamParty{client: s.id, index: index}
	s.streams[index] = id

	if creator, ok := b.sessions[st.creator.client]; ok {
		b.deliver(creator, StreamOpen{Index: st.creator.index})
	}
	b.record(Record{
		Type:        RecordStreamOpen,
		Client:      s.id,
		StreamID:    id.String(),
		StreamIndex: index,
	})
	return index, nil
}

// streamSend relays data to the counterpart of the stream s addresses by
// index. The payload is framed with the recipient's index so their
// transport can forward it verbatim. Worker loop only.
func (b *Broker) streamSend(s *session, index uint32, data []byte) error {
	id, ok := s.streams[index]
	if !ok {
		return errStreamNotFound()
	}
	st, ok := b.streams[id]
	if !ok {
		return errStreamNotFound()
	}
	other, ok := st.counterpart(s.id, index)
	if !ok {
		return errStreamNotOpen()
	}
	recipient, ok := b.sessions[other.client]
	if !ok {
		return errStreamNotOpen()
	}

	payload := make([]byte, 4+len(data))
	binary.LittleEndian.PutUint32(payload, other.index)
	copy(payload[4:], data)
	b.deliver(recipient, StreamData{Index: other.index, Payload: payload})
	return nil
}

// closeStream closes the stream s addresses by index. Worker loop only.
func (b *Broker) closeStream(s *session, index uint32) error {
	id, ok := s.streams[index]
	if !ok {
		return errStreamNotFound()
	}
	return b.closeStreamByID(id)
}

// closeStreamByID removes a stream and notifies both parties. Worker loop
// only.
func (b *Broker) closeStreamByID(id uuid.UUID) error {
	st, ok := b.streams[id]
	if !ok {
		return errStreamNotFound()
	}
	delete(b.streams, id)
	b.metrics.SetStreams(len(b.streams))
	b.closeStreamParty(id, st.creator)
	if st.opener != nil {
		b.closeStreamParty(id, *st.opener)
	}
	return nil
}

func (b *Broker) closeStreamParty(id uuid.UUID, p streamParty) {
	b.record(Record{
		Type:        RecordStreamClose,
		Client:      p.client,
		StreamID:    id.String(),
		StreamIndex: p.index,
	})
	if s, ok := b.sessions[p.client]; ok {
		delete(s.streams, p.index)
		b.deliver(s, StreamClosed{Index: p.index})
	}
}

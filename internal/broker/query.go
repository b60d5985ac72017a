package broker

import (
	"github.com/google/uuid"
)

// QueryResult is the answer to a query request: the subscription id and
// the snapshot of objects matching at creation time, sorted by name.
type QueryResult struct {
	ID      uuid.UUID
	Objects []Object
}

// addQuery opens a subscription for s. Worker loop only.
func (b *Broker) addQuery(s *session, patternSrc string, provideRPC bool) (QueryResult, error) {
	p, err := b.patterns.Compile(patternSrc)
	if err != nil {
		return QueryResult{}, errInvalidPattern(err)
	}
	objs := b.collect(p)
	matched := make(map[string]struct{}, len(objs))
	for _, obj := range objs {
		matched[obj.Name] = struct{}{}
	}

	b.querySeq++
	q := &query{
		id:         uuid.New(),
		pattern:    p,
		provideRPC: provideRPC,
		seq:        b.querySeq,
		objects:    matched,
	}
	s.queries[q.id] = q
	b.metrics.SetQueries(b.countQueries())
	b.record(Record{
		Type:       RecordQuery,
		Client:     s.id,
		Pattern:    patternSrc,
		ProvideRPC: provideRPC,
		QueryID:    q.id.String(),
	})
	return QueryResult{ID: q.id, Objects: objs}, nil
}

// removeQuery drops one of s's subscriptions. Invocations parked for that
// subscription fail over to their requesters. Worker loop only.
func (b *Broker) removeQuery(s *session, id uuid.UUID) error {
	if _, ok := s.queries[id]; !ok {
		return errUnknownQuery(id.String())
	}
	delete(s.queries, id)

	for invID, inv := range s.invocations {
		if inv.queryID != id {
			continue
		}
		delete(s.invocations, invID)
		if requester, ok := b.sessions[inv.requester]; ok {
			b.deliver(requester, InvocationResult{
				RequestID: inv.requestID,
				Err:       errProviderDisconnected(),
			})
		}
	}

	b.metrics.SetQueries(b.countQueries())
	b.metrics.SetPendingInvocations(b.countInvocations())
	b.record(Record{Type: RecordUnsubscribe, Client: s.id, QueryID: id.String()})
	return nil
}

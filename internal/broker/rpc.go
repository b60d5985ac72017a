package broker

import (
	"encoding/json"

	"github.com/google/uuid"
)

// invoke parks an invocation on the provider responsible for object and
// notifies it. The requester gets no reply yet; the response envelope is
// built from requestID once the provider answers or goes away. Worker
// loop only.
func (b *Broker) invoke(requester uuid.UUID, object, method string, args, requestID json.RawMessage) error {
	if err := validateName(object); err != nil {
		return err
	}
	if _, ok := b.objects[object]; !ok {
		return errUnknownObject(object)
	}

	provider, q := b.pickProvider(object)
	if provider == nil {
		return errNoProvider(object)
	}

	inv := &invocation{
		id:        uuid.New(),
		requester: requester,
		requestID: requestID,
		queryID:   q.id,
	}
	provider.invocations[inv.id] = inv
	b.deliver(provider, QueryInvocation{
		QueryID:      q.id,
		InvocationID: inv.id,
		Object:       object,
		Method:       method,
		Args:         args,
	})
	b.metrics.SetPendingInvocations(b.countInvocations())
	b.record(Record{
		Type:         RecordInvoke,
		Client:       requester,
		Object:       object,
		Method:       method,
		Args:         args,
		InvocationID: inv.id.String(),
	})
	return nil
}

// pickProvider returns the provider subscription owning object: the
// provideRpc query with the lowest creation sequence whose matched set
// contains it, ties broken by query id.
func (b *Broker) pickProvider(object string) (*session, *query) {
	var (
		bestSession *session
		bestQuery   *query
	)
	for _, s := range b.sessions {
		for _, q := range s.queries {
			if !q.provideRPC {
				continue
			}
			if _, known := q.objects[object]; !known {
				continue
			}
			if bestQuery == nil || q.seq < bestQuery.seq ||
				(q.seq == bestQuery.seq && uuidLess(q.id, bestQuery.id)) {
				bestSession, bestQuery = s, q
			}
		}
	}
	return bestSession, bestQuery
}

// invokeResult resolves an invocation parked on s and answers the
// requester. A requester that disconnected in the meantime is dropped
// silently. Worker loop only.
func (b *Broker) invokeResult(s *session, invocationID uuid.UUID, result json.RawMessage) error {
	inv, ok := s.invocations[invocationID]
	if !ok {
		return errUnknownInvocation(invocationID.String())
	}
	delete(s.invocations, invocationID)

	if requester, ok := b.sessions[inv.requester]; ok {
		b.deliver(requester, InvocationResult{RequestID: inv.requestID, Result: result})
	}
	b.metrics.SetPendingInvocations(b.countInvocations())
	b.record(Record{
		Type:         RecordInvokeResult,
		Client:       s.id,
		InvocationID: invocationID.String(),
		Result:       result,
	})
	return nil
}

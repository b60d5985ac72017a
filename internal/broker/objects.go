package broker

import (
	"encoding/json"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/objtalk/objtalk/internal/pattern"
)

// All functions in this file run on the worker loop.

func (b *Broker) get(clientID uuid.UUID, patternSrc string) ([]Object, error) {
	p, err := b.patterns.Compile(patternSrc)
	if err != nil {
		return nil, errInvalidPattern(err)
	}
	objs := b.collect(p)
	b.record(Record{Type: RecordGet, Client: clientID, Pattern: patternSrc})
	return objs, nil
}

func (b *Broker) lookup(clientID uuid.UUID, name string) (Object, bool) {
	obj, ok := b.objects[name]
	b.record(Record{Type: RecordGet, Client: clientID, Pattern: name})
	return obj, ok
}

// collect snapshots all objects matching p, sorted by name.
func (b *Broker) collect(p *pattern.Pattern) []Object {
	var objs []Object
	for name, obj := range b.objects {
		if p.Matches(name) {
			objs = append(objs, obj)
		}
	}
	sort.Slice(objs, func(i, j int) bool { return objs[i].Name < objs[j].Name })
	return objs
}

func (b *Broker) set(clientID uuid.UUID, name string, value json.RawMessage) error {
	if err := validateName(name); err != nil {
		return err
	}
	obj := Object{Name: name, Value: value, LastModified: time.Now().UTC()}
	if err := b.store.Upsert(obj); err != nil {
		return errStorage(err)
	}
	b.objects[name] = obj
	b.metrics.SetObjects(len(b.objects))
	b.fanoutWrite(obj)
	b.record(Record{Type: RecordSet, Client: clientID, Object: name, Value: value})
	return nil
}

func (b *Broker) patch(clientID uuid.UUID, name string, value json.RawMessage) error {
	if err := validateName(name); err != nil {
		return err
	}
	newValue := value
	if existing, ok := b.objects[name]; ok {
		if merged, ok := mergeValues(existing.Value, value); ok {
			newValue = merged
		}
	}
	obj := Object{Name: name, Value: newValue, LastModified: time.Now().UTC()}
	if err := b.store.Upsert(obj); err != nil {
		return errStorage(err)
	}
	b.objects[name] = obj
	b.metrics.SetObjects(len(b.objects))
	b.fanoutWrite(obj)
	b.record(Record{Type: RecordPatch, Client: clientID, Object: name, Value: value})
	return nil
}

// fanoutWrite notifies every matching subscription about a created or
// changed object. Whether a given subscription sees queryAdd or
// queryChange depends on its own matched set, not on global existence.
func (b *Broker) fanoutWrite(obj Object) {
	for _, s := range b.sessions {
		for _, q := range s.queries {
			if !q.pattern.Matches(obj.Name) {
				continue
			}
			if _, known := q.objects[obj.Name]; known {
				b.deliver(s, QueryChange{QueryID: q.id, Object: obj})
			} else {
				q.objects[obj.Name] = struct{}{}
				b.deliver(s, QueryAdd{QueryID: q.id, Object: obj})
			}
		}
	}
}

func (b *Broker) remove(clientID uuid.UUID, name string) (bool, error) {
	if err := validateName(name); err != nil {
		return false, err
	}
	obj, ok := b.objects[name]
	if !ok {
		return false, nil
	}
	if _, err := b.store.Delete(name); err != nil {
		return false, errStorage(err)
	}
	delete(b.objects, name)
	b.metrics.SetObjects(len(b.objects))
	for _, s := range b.sessions {
		for _, q := range s.queries {
			if _, known := q.objects[name]; known {
				delete(q.objects, name)
				b.deliver(s, QueryRemove{QueryID: q.id, Object: obj})
			}
		}
	}
	b.record(Record{Type: RecordRemove, Client: clientID, Object: name})
	return true, nil
}

func (b *Broker) emit(clientID uuid.UUID, object, event string, data json.RawMessage) error {
	if err := validateName(object); err != nil {
		return err
	}
	if err := b.internalEmit(object, event, data); err != nil {
		return err
	}
	b.record(Record{Type: RecordEmit, Client: clientID, Object: object, Event: event, Data: data})
	return nil
}

// internalEmit fans an event out to every subscription whose matched set
// contains the object. The object must exist.
func (b *Broker) internalEmit(object, event string, data json.RawMessage) error {
	if _, ok := b.objects[object]; !ok {
		return errUnknownObject(object)
	}
	for _, s := range b.sessions {
		for _, q := range s.queries {
			if _, known := q.objects[object]; known {
				b.deliver(s, QueryEvent{QueryID: q.id, Object: object, Event: event, Data: data})
			}
		}
	}
	return nil
}

package storage

import (
	"github.com/objtalk/objtalk/internal/broker"
)

// Memory is the no-persistence backend: objects live for the lifetime of
// the process.
type Memory struct {
	objects map[string]broker.Object
}

func NewMemory() *Memory {
	return &Memory{objects: make(map[string]broker.Object)}
}

func (m *Memory) LoadAll() ([]broker.Object, error) {
	objs := make([]broker.Object, 0, len(m.objects))
	for _, obj := range m.objects {
		objs = append(objs, obj)
	}
	return objs, nil
}

func (m *Memory) Upsert(obj broker.Object) error {
	m.objects[obj.Name] = obj
	return nil
}

func (m *Memory) Delete(name string) (bool, error) {
	_, ok := m.objects[name]
	delete(m.objects, name)
	return ok, nil
}

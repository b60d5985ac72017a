package broker

// Store persists objects. The broker calls it only from its worker loop,
// so implementations need no locking on its behalf. Reserved ($-prefixed)
// objects never reach a Store.
type Store interface {
	// LoadAll returns every persisted object; called once at construction
	// to seed the registry.
	LoadAll() ([]Object, error)

	// Upsert persists an object. It must be durable before returning: the
	// broker acknowledges the write to the client only after Upsert
	// succeeds, and discards the mutation when it fails.
	Upsert(Object) error

	// Delete removes a name, reporting whether it was present.
	Delete(name string) (bool, error)
}

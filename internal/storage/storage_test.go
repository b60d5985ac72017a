package storage

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/objtalk/objtalk/internal/broker"
)

func openTestDB(t *testing.T, path string) *SQLite {
	t.Helper()
	db, err := OpenDB(path)
	if err != nil {
		t.Fatalf("OpenDB: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	store, err := NewSQLite(db)
	if err != nil {
		t.Fatalf("NewSQLite: %v", err)
	}
	return store
}

func TestSQLite_UpsertLoadDelete(t *testing.T) {
	store := openTestDB(t, filepath.Join(t.TempDir(), "objtalk.db"))

	modified := time.Date(2024, 5, 17, 9, 30, 0, 123456789, time.UTC)
	obj := broker.Object{
		Name:         "kitchen/lamp",
		Value:        []byte(`{"on":true}`),
		LastModified: modified,
	}
	if err := store.Upsert(obj); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	objs, err := store.LoadAll()
	if err != nil {
		t.Fatalf("LoadAll: %v", err)
	}
	if len(objs) != 1 {
		t.Fatalf("objects len: got %d, want 1", len(objs))
	}
	if objs[0].Name != "kitchen/lamp" {
		t.Fatalf("name: got %q", objs[0].Name)
	}
	if string(objs[0].Value) != `{"on":true}` {
		t.Fatalf("value: got %s", objs[0].Value)
	}
	if !objs[0].LastModified.Equal(modified) {
		t.Fatalf("lastModified: got %v, want %v", objs[0].LastModified, modified)
	}

	// Upsert replaces in place.
	obj.Value = []byte(`{"on":false}`)
	if err := store.Upsert(obj); err != nil {
		t.Fatalf("Upsert replace: %v", err)
	}
	objs, err = store.LoadAll()
	if err != nil {
		t.Fatalf("LoadAll after replace: %v", err)
	}
	if len(objs) != 1 || string(objs[0].Value) != `{"on":false}` {
		t.Fatalf("after replace: got %+v", objs)
	}

	existed, err := store.Delete("kitchen/lamp")
	if err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if !existed {
		t.Fatal("existed: got false, want true")
	}
	existed, err = store.Delete("kitchen/lamp")
	if err != nil {
		t.Fatalf("Delete again: %v", err)
	}
	if existed {
		t.Fatal("existed: got true, want false")
	}
}

func TestSQLite_SurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "objtalk.db")

	db, err := OpenDB(path)
	if err != nil {
		t.Fatalf("OpenDB: %v", err)
	}
	store, err := NewSQLite(db)
	if err != nil {
		t.Fatalf("NewSQLite: %v", err)
	}
	if err := store.Upsert(broker.Object{
		Name:         "persistent",
		Value:        []byte(`1`),
		LastModified: time.Now().UTC(),
	}); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if err := db.Close(); err != nil {
		t.Fatalf("close db: %v", err)
	}

	// Reopening runs the migration again; it must be a no-op.
	store2 := openTestDB(t, path)
	objs, err := store2.LoadAll()
	if err != nil {
		t.Fatalf("LoadAll: %v", err)
	}
	if len(objs) != 1 || objs[0].Name != "persistent" {
		t.Fatalf("after reopen: got %+v", objs)
	}
}

func TestMemory_UpsertLoadDelete(t *testing.T) {
	store := NewMemory()

	if err := store.Upsert(broker.Object{Name: "a", Value: []byte(`1`)}); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	objs, err := store.LoadAll()
	if err != nil {
		t.Fatalf("LoadAll: %v", err)
	}
	if len(objs) != 1 || objs[0].Name != "a" {
		t.Fatalf("objects: got %+v", objs)
	}

	existed, err := store.Delete("a")
	if err != nil || !existed {
		t.Fatalf("Delete: existed=%v err=%v", existed, err)
	}
	existed, err = store.Delete("a")
	if err != nil || existed {
		t.Fatalf("Delete again: existed=%v err=%v", existed, err)
	}
}

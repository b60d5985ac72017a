package storage

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/objtalk/objtalk/internal/broker"
)

// timeLayout is the text form last_modified is stored in.
const timeLayout = time.RFC3339Nano

// SQLite persists objects in the objects table of the given database.
// The caller owns the database handle; pass one from OpenDB and close it
// after the broker has shut down.
type SQLite struct {
	db *sql.DB
}

// NewSQLite migrates the objects schema and returns the store.
func NewSQLite(db *sql.DB) (*SQLite, error) {
	if err := migrateObjectsDB(db); err != nil {
		return nil, err
	}
	return &SQLite{db: db}, nil
}

func (s *SQLite) LoadAll() ([]broker.Object, error) {
	rows, err := s.db.Query(`SELECT name, value, last_modified FROM objects`)
	if err != nil {
		return nil, fmt.Errorf("load objects: %w", err)
	}
	defer rows.Close()

	var objs []broker.Object
	for rows.Next() {
		var (
			obj      broker.Object
			value    string
			modified string
		)
		if err := rows.Scan(&obj.Name, &value, &modified); err != nil {
			return nil, fmt.Errorf("scan object: %w", err)
		}
		obj.Value = []byte(value)
		obj.LastModified, err = time.Parse(timeLayout, modified)
		if err != nil {
			return nil, fmt.Errorf("parse last_modified of %s: %w", obj.Name, err)
		}
		objs = append(objs, obj)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate objects: %w", err)
	}
	return objs, nil
}

func (s *SQLite) Upsert(obj broker.Object) error {
	_, err := s.db.Exec(`
		INSERT INTO objects (name, value, last_modified) VALUES (?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			value = excluded.value,
			last_modified = excluded.last_modified`,
		obj.Name, string(obj.Value), obj.LastModified.UTC().Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("upsert object %s: %w", obj.Name, err)
	}
	return nil
}

func (s *SQLite) Delete(name string) (bool, error) {
	res, err := s.db.Exec(`DELETE FROM objects WHERE name = ?`, name)
	if err != nil {
		return false, fmt.Errorf("delete object %s: %w", name, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete object %s: %w", name, err)
	}
	return affected > 0, nil
}

package activity

import (
	"bytes"
	"database/sql"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/objtalk/objtalk/internal/broker"
	"github.com/objtalk/objtalk/internal/storage"
)

func TestRenderRecord(t *testing.T) {
	client := uuid.MustParse("aaaaaaaa-bbbb-cccc-dddd-eeeeeeeeeeee")
	tests := []struct {
		name string
		rec  broker.Record
		want string
	}{
		{
			name: "connect",
			rec:  broker.Record{Type: broker.RecordClientConnect, Client: client},
			want: "connect",
		},
		{
			name: "disconnect",
			rec:  broker.Record{Type: broker.RecordClientDisconnect, Client: client},
			want: "disconnect",
		},
		{
			name: "get",
			rec:  broker.Record{Type: broker.RecordGet, Pattern: "kitchen/+"},
			want: "get kitchen/+",
		},
		{
			name: "query",
			rec: broker.Record{
				Type:       broker.RecordQuery,
				Pattern:    "sensor/*",
				QueryID:    "12345678-0000-0000-0000-000000000000",
				ProvideRPC: true,
			},
			want: "query sensor/* -> 1234567 (provide rpc: true)",
		},
		{
			name: "unsubscribe",
			rec:  broker.Record{Type: broker.RecordUnsubscribe, QueryID: "12345678-0000-0000-0000-000000000000"},
			want: "unsubscribe 1234567",
		},
		{
			name: "set",
			rec:  broker.Record{Type: broker.RecordSet, Object: "kitchen/lamp", Value: json.RawMessage(`{"on":true}`)},
			want: `set kitchen/lamp {"on":true}`,
		},
		{
			name: "patch",
			rec:  broker.Record{Type: broker.RecordPatch, Object: "kitchen/lamp", Value: json.RawMessage(`{"on":false}`)},
			want: `patch kitchen/lamp {"on":false}`,
		},
		{
			name: "remove",
			rec:  broker.Record{Type: broker.RecordRemove, Object: "kitchen/lamp"},
			want: "remove kitchen/lamp",
		},
		{
			name: "emit",
			rec:  broker.Record{Type: broker.RecordEmit, Object: "doorbell", Event: "ring", Data: json.RawMessage(`{}`)},
			want: "emit doorbell ring {}",
		},
		{
			name: "invoke",
			rec: broker.Record{
				Type:         broker.RecordInvoke,
				Object:       "robot",
				Method:       "dance",
				Args:         json.RawMessage(`{"speed":3}`),
				InvocationID: "deadbeef-0000-0000-0000-000000000000",
			},
			want: `invoke deadbee robot dance {"speed":3}`,
		},
		{
			name: "invokeResult",
			rec: broker.Record{
				Type:         broker.RecordInvokeResult,
				InvocationID: "deadbeef-0000-0000-0000-000000000000",
				Result:       json.RawMessage(`"ok"`),
			},
			want: `invoke-result deadbee "ok"`,
		},
		{
			name: "streamCreate",
			rec: broker.Record{
				Type:        broker.RecordStreamCreate,
				StreamID:    "cafecafe-0000-0000-0000-000000000000",
				StreamIndex: 3,
			},
			want: "stream-create cafecaf 3",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := renderRecord(tt.rec); got != tt.want {
				t.Fatalf("renderRecord: got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestConsoleLineShape(t *testing.T) {
	var buf bytes.Buffer
	sink := NewConsole(&buf)

	rec := broker.Record{
		Type:   broker.RecordSet,
		Client: uuid.MustParse("aaaaaaaa-bbbb-cccc-dddd-eeeeeeeeeeee"),
		Object: "kitchen/lamp",
		Value:  json.RawMessage(`{"on":true}`),
		Time:   time.Date(2024, 5, 17, 9, 30, 0, 123456000, time.UTC),
	}
	sink.Emit(rec)

	line := strings.TrimRight(buf.String(), "\n")
	wantTime := rec.Time.Local().Format("15:04:05.000000")
	want := wantTime + ` aaaaaaa set kitchen/lamp {"on":true}`
	if line != want {
		t.Fatalf("console line: got %q, want %q", line, want)
	}
}

func TestMultiFansOut(t *testing.T) {
	var got []string
	a := sinkFunc(func(rec broker.Record) { got = append(got, "a:"+rec.Type) })
	b := sinkFunc(func(rec broker.Record) { got = append(got, "b:"+rec.Type) })

	Multi{a, b}.Emit(broker.Record{Type: broker.RecordSet})

	if len(got) != 2 || got[0] != "a:set" || got[1] != "b:set" {
		t.Fatalf("fan-out order: got %v", got)
	}
}

type sinkFunc func(broker.Record)

func (f sinkFunc) Emit(rec broker.Record) { f(rec) }

func openJournalDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := storage.OpenDB(filepath.Join(t.TempDir(), "activity.db"))
	if err != nil {
		t.Fatalf("OpenDB: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func countRecords(t *testing.T, db *sql.DB) int {
	t.Helper()
	var n int
	if err := db.QueryRow(`SELECT COUNT(*) FROM activity`).Scan(&n); err != nil {
		t.Fatalf("count activity: %v", err)
	}
	return n
}

func TestJournal_FlushesByBatchSize(t *testing.T) {
	db := openJournalDB(t)
	j, err := NewJournal(JournalConfig{
		DB:            db,
		QueueSize:     8,
		FlushBatch:    2,
		FlushInterval: time.Hour,
	})
	if err != nil {
		t.Fatalf("NewJournal: %v", err)
	}
	j.Start()
	t.Cleanup(j.Stop)

	client := uuid.New()
	j.Emit(broker.Record{Type: broker.RecordSet, Client: client, Object: "a", Time: time.Now()})
	j.Emit(broker.Record{Type: broker.RecordSet, Client: client, Object: "b", Time: time.Now()})

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if countRecords(t, db) == 2 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("timed out waiting for journal flush")
}

func TestJournal_StopDrainsQueue(t *testing.T) {
	db := openJournalDB(t)
	j, err := NewJournal(JournalConfig{
		DB:            db,
		QueueSize:     8,
		FlushBatch:    1000,      // keep below batch threshold
		FlushInterval: time.Hour, // avoid timer-driven flush in test
	})
	if err != nil {
		t.Fatalf("NewJournal: %v", err)
	}
	j.Start()

	j.Emit(broker.Record{Type: broker.RecordEmit, Client: uuid.New(), Object: "x", Event: "e", Time: time.Now()})
	j.Stop()

	if got := countRecords(t, db); got != 1 {
		t.Fatalf("records after stop: got %d, want 1", got)
	}
}

func TestJournal_RecordDetail(t *testing.T) {
	db := openJournalDB(t)
	j, err := NewJournal(JournalConfig{DB: db, FlushBatch: 1})
	if err != nil {
		t.Fatalf("NewJournal: %v", err)
	}
	j.Start()

	client := uuid.New()
	j.Emit(broker.Record{
		Type:   broker.RecordSet,
		Client: client,
		Object: "kitchen/lamp",
		Value:  json.RawMessage(`{"on":true}`),
		Time:   time.Now(),
	})
	j.Stop()

	var (
		typ       string
		clientCol string
		detail    string
	)
	err = db.QueryRow(`SELECT type, client, detail FROM activity`).Scan(&typ, &clientCol, &detail)
	if err != nil {
		t.Fatalf("read record: %v", err)
	}
	if typ != broker.RecordSet {
		t.Fatalf("type: got %q", typ)
	}
	if clientCol != client.String() {
		t.Fatalf("client: got %q, want %q", clientCol, client)
	}
	var rec broker.Record
	if err := json.Unmarshal([]byte(detail), &rec); err != nil {
		t.Fatalf("decode detail: %v", err)
	}
	if rec.Object != "kitchen/lamp" || string(rec.Value) != `{"on":true}` {
		t.Fatalf("detail: got %+v", rec)
	}
}

func TestJournal_PruneDropsOldRecords(t *testing.T) {
	db := openJournalDB(t)
	j, err := NewJournal(JournalConfig{DB: db, Retention: 24 * time.Hour})
	if err != nil {
		t.Fatalf("NewJournal: %v", err)
	}

	old := time.Now().Add(-48 * time.Hour).UTC().Format(journalTimeLayout)
	fresh := time.Now().UTC().Format(journalTimeLayout)
	for _, ts := range []string{old, fresh} {
		_, err := db.Exec(
			`INSERT INTO activity (time, type, client, detail) VALUES (?, ?, ?, ?)`,
			ts, broker.RecordSet, uuid.New().String(), `{}`,
		)
		if err != nil {
			t.Fatalf("insert: %v", err)
		}
	}

	j.prune()

	if got := countRecords(t, db); got != 1 {
		t.Fatalf("records after prune: got %d, want 1", got)
	}
}

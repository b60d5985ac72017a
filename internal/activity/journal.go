package activity

import (
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/golang-migrate/migrate/v4"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/robfig/cron/v3"

	"github.com/objtalk/objtalk/internal/broker"
)

// journalTimeLayout is fixed-width so stored times compare correctly as
// text, which the retention prune relies on.
const journalTimeLayout = "2006-01-02T15:04:05.000000000Z07:00"

//go:embed migrations/*.sql
var migrationsFS embed.FS

// JournalConfig configures the activity journal.
type JournalConfig struct {
	DB            *sql.DB
	QueueSize     int
	FlushBatch    int
	FlushInterval time.Duration
	Retention     time.Duration
}

// Journal persists activity records to SQLite. Emit is a non-blocking
// channel send that drops on overflow; a background goroutine flushes
// batches, and a cron job prunes rows past the retention window.
type Journal struct {
	db        *sql.DB
	queue     chan broker.Record
	batchSize int
	interval  time.Duration
	retention time.Duration
	cron      *cron.Cron

	stopCh  chan struct{}
	wg      sync.WaitGroup
	dropped atomic.Uint64
}

// NewJournal migrates the activity schema and prepares the journal. The
// caller owns the database handle and closes it after Stop.
func NewJournal(cfg JournalConfig) (*Journal, error) {
	if cfg.DB == nil {
		return nil, errors.New("activity journal: nil db")
	}
	if err := migrateJournalDB(cfg.DB); err != nil {
		return nil, err
	}

	queueSize := cfg.QueueSize
	if queueSize <= 0 {
		queueSize = 4096
	}
	batchSize := cfg.FlushBatch
	if batchSize <= 0 {
		batchSize = 256
	}
	interval := cfg.FlushInterval
	if interval <= 0 {
		interval = 2 * time.Second
	}
	retention := cfg.Retention
	if retention <= 0 {
		retention = 7 * 24 * time.Hour
	}

	j := &Journal{
		db:        cfg.DB,
		queue:     make(chan broker.Record, queueSize),
		batchSize: batchSize,
		interval:  interval,
		retention: retention,
		cron:      cron.New(),
		stopCh:    make(chan struct{}),
	}
	if _, err := j.cron.AddFunc("@hourly", j.prune); err != nil {
		return nil, fmt.Errorf("activity journal: schedule prune: %w", err)
	}
	return j, nil
}

// Start launches the flush goroutine and the retention scheduler.
func (j *Journal) Start() {
	j.wg.Add(1)
	go j.flushLoop()
	j.cron.Start()
}

// Stop signals the flush loop to stop, drains remaining records and
// returns.
func (j *Journal) Stop() {
	close(j.stopCh)
	j.wg.Wait()
	j.cron.Stop()
}

// Emit enqueues a record. Non-blocking; drops on overflow.
func (j *Journal) Emit(rec broker.Record) {
	select {
	case j.queue <- rec:
	default:
		j.dropped.Add(1)
	}
}

// Dropped reports how many records overflowed the queue.
func (j *Journal) Dropped() uint64 {
	return j.dropped.Load()
}

func (j *Journal) flushLoop() {
	defer j.wg.Done()

	batch := make([]broker.Record, 0, j.batchSize)
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case rec := <-j.queue:
			batch = append(batch, rec)
			if len(batch) >= j.batchSize {
				j.flush(batch)
				batch = batch[:0]
			}

		case <-ticker.C:
			if len(batch) > 0 {
				j.flush(batch)
				batch = batch[:0]
			}

		case <-j.stopCh:
			j.drainAndFlush(batch)
			return
		}
	}
}

func (j *Journal) drainAndFlush(batch []broker.Record) {
	for {
		select {
		case rec := <-j.queue:
			batch = append(batch, rec)
			if len(batch) >= j.batchSize {
				j.flush(batch)
				batch = batch[:0]
			}
		default:
			if len(batch) > 0 {
				j.flush(batch)
			}
			return
		}
	}
}

func (j *Journal) flush(batch []broker.Record) {
	if err := j.insertBatch(batch); err != nil {
		log.Printf("[activity] flush %d records failed: %v", len(batch), err)
	}
}

func (j *Journal) insertBatch(batch []broker.Record) error {
	tx, err := j.db.Begin()
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	stmt, err := tx.Prepare(`INSERT INTO activity (time, type, client, detail) VALUES (?, ?, ?, ?)`)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("prepare: %w", err)
	}
	defer stmt.Close()

	for _, rec := range batch {
		detail, err := json.Marshal(rec)
		if err != nil {
			tx.Rollback()
			return fmt.Errorf("encode record: %w", err)
		}
		_, err = stmt.Exec(
			rec.Time.UTC().Format(journalTimeLayout),
			rec.Type,
			rec.Client.String(),
			string(detail),
		)
		if err != nil {
			tx.Rollback()
			return fmt.Errorf("insert record: %w", err)
		}
	}
	return tx.Commit()
}

func (j *Journal) prune() {
	cutoff := time.Now().Add(-j.retention).UTC().Format(journalTimeLayout)
	res, err := j.db.Exec(`DELETE FROM activity WHERE time < ?`, cutoff)
	if err != nil {
		log.Printf("[activity] prune failed: %v", err)
		return
	}
	if n, err := res.RowsAffected(); err == nil && n > 0 {
		log.Printf("[activity] pruned %d records", n)
	}
}

func migrateJournalDB(db *sql.DB) error {
	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("migrate activity: init source: %w", err)
	}

	// Kept separate from the object store's migrations table so both
	// schemas can live in one database file.
	dbDriver, err := migratesqlite.WithInstance(db, &migratesqlite.Config{
		MigrationsTable: "activity_schema_migrations",
	})
	if err != nil {
		return fmt.Errorf("migrate activity: init db driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite", dbDriver)
	if err != nil {
		return fmt.Errorf("migrate activity: init migrator: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migrate activity: up: %w", err)
	}
	return nil
}

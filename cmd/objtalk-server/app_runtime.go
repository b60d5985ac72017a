package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/objtalk/objtalk/internal/activity"
	"github.com/objtalk/objtalk/internal/broker"
	"github.com/objtalk/objtalk/internal/buildinfo"
	"github.com/objtalk/objtalk/internal/config"
	"github.com/objtalk/objtalk/internal/metrics"
	"github.com/objtalk/objtalk/internal/storage"
	"github.com/objtalk/objtalk/internal/transport"
)

type serverApp struct {
	cfg *config.Config

	objectsDB *sql.DB
	journalDB *sql.DB
	journal   *activity.Journal
	metrics   *metrics.Metrics
	broker    *broker.Broker

	httpServers []*transport.HTTPServer
	tcpServers  []*transport.TCPServer
}

func run(configPath string, explicit bool) error {
	cfg, err := config.Load(configPath, explicit)
	if err != nil {
		return err
	}

	app, err := newServerApp(cfg)
	if err != nil {
		return err
	}

	serverErrCh := app.startServers()
	runtimeErr := waitForShutdown(serverErrCh)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	app.shutdown(ctx)

	if runtimeErr != nil {
		return fmt.Errorf("runtime server error: %w", runtimeErr)
	}
	return nil
}

func newServerApp(cfg *config.Config) (*serverApp, error) {
	app := &serverApp{cfg: cfg}

	store, err := app.openStore()
	if err != nil {
		return nil, err
	}

	sink, err := app.buildActivitySink()
	if err != nil {
		app.closeDatabases()
		return nil, err
	}

	if anyMetricsListener(cfg.HTTP) {
		app.metrics = metrics.New()
	}

	b, err := broker.New(broker.Config{
		Store:            store,
		Activity:         sink,
		Metrics:          app.metrics,
		QueueSize:        cfg.Limits.ClientQueue,
		PatternCacheSize: cfg.Limits.PatternCache,
		Version:          buildinfo.Version,
	})
	if err != nil {
		app.stopActivity()
		app.closeDatabases()
		return nil, err
	}
	app.broker = b
	log.Println("Broker started")

	if err := app.buildListeners(); err != nil {
		app.broker.Close()
		app.stopActivity()
		app.closeDatabases()
		return nil, err
	}
	return app, nil
}

func (a *serverApp) openStore() (broker.Store, error) {
	switch a.cfg.Storage.Backend {
	case "", config.BackendNone:
		return storage.NewMemory(), nil
	case config.BackendSQLite:
		db, err := storage.OpenDB(a.cfg.Storage.SQLite.Filename)
		if err != nil {
			return nil, fmt.Errorf("open object store: %w", err)
		}
		store, err := storage.NewSQLite(db)
		if err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("open object store: %w", err)
		}
		a.objectsDB = db
		log.Printf("Object store: sqlite at %s", a.cfg.Storage.SQLite.Filename)
		return store, nil
	default:
		return nil, fmt.Errorf("unknown storage backend %q", a.cfg.Storage.Backend)
	}
}

func (a *serverApp) buildActivitySink() (broker.ActivitySink, error) {
	var sinks activity.Multi

	if a.cfg.Activity.Console {
		sinks = append(sinks, activity.NewConsole(os.Stdout))
	}

	if jc := a.cfg.Activity.Journal; jc != nil {
		db, err := storage.OpenDB(jc.Filename)
		if err != nil {
			return nil, fmt.Errorf("open activity journal: %w", err)
		}
		a.journalDB = db
		journal, err := activity.NewJournal(activity.JournalConfig{
			DB:        db,
			Retention: jc.Retention.Std(),
		})
		if err != nil {
			return nil, fmt.Errorf("open activity journal: %w", err)
		}
		journal.Start()
		a.journal = journal
		sinks = append(sinks, journal)
		log.Printf("Activity journal at %s (retention %s)", jc.Filename, jc.Retention.Std())
	}

	switch len(sinks) {
	case 0:
		return nil, nil
	case 1:
		return sinks[0], nil
	default:
		return sinks, nil
	}
}

func anyMetricsListener(listeners []config.HTTPListener) bool {
	for _, l := range listeners {
		if l.Metrics {
			return true
		}
	}
	return false
}

// buildListeners binds every configured address before any server starts
// serving, so address conflicts fail startup instead of surfacing later.
func (a *serverApp) buildListeners() error {
	for _, lc := range a.cfg.HTTP {
		var m *metrics.Metrics
		if lc.Metrics {
			m = a.metrics
		}
		srv := transport.NewHTTPServer(a.broker, transport.HTTPConfig{
			Addr:         lc.Addr,
			AllowOrigin:  lc.AllowOrigin,
			AdminUI:      lc.Admin.Enabled,
			Metrics:      m,
			MaxBodyBytes: a.cfg.Limits.RequestBodyBytes(),
		})
		if err := srv.Listen(); err != nil {
			a.closeListeners()
			return fmt.Errorf("http listen %s: %w", lc.Addr, err)
		}
		a.httpServers = append(a.httpServers, srv)
	}

	for _, lc := range a.cfg.TCP {
		srv := transport.NewTCPServer(a.broker, lc.MaxConns)
		if err := srv.Listen(lc.Addr); err != nil {
			a.closeListeners()
			return fmt.Errorf("tcp listen %s: %w", lc.Addr, err)
		}
		a.tcpServers = append(a.tcpServers, srv)
	}
	return nil
}

func (a *serverApp) startServers() <-chan error {
	serverErrCh := make(chan error, 1)
	reportServerErr := func(name string, err error) {
		if err == nil || errors.Is(err, http.ErrServerClosed) {
			return
		}
		wrapped := fmt.Errorf("%s: %w", name, err)
		select {
		case serverErrCh <- wrapped:
		default:
		}
	}

	for _, srv := range a.httpServers {
		go func() {
			log.Printf("HTTP listening on http://%s", srv.Addr())
			reportServerErr(fmt.Sprintf("http server %s", srv.Addr()), srv.Serve())
		}()
	}
	for _, srv := range a.tcpServers {
		go func() {
			log.Printf("TCP listening on %s", srv.Addr())
			reportServerErr(fmt.Sprintf("tcp server %s", srv.Addr()), srv.Serve())
		}()
	}
	return serverErrCh
}

func waitForShutdown(serverErrCh <-chan error) error {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	select {
	case sig := <-quit:
		log.Printf("Received signal %s, shutting down...", sig)
		return nil
	case err := <-serverErrCh:
		log.Printf("Received server runtime error (%v), shutting down...", err)
		return err
	}
}

// shutdown stops the transports first so no new work reaches the broker,
// then the broker, then the sinks it was feeding.
func (a *serverApp) shutdown(ctx context.Context) {
	if len(a.httpServers) > 0 {
		for _, srv := range a.httpServers {
			if err := srv.Shutdown(ctx); err != nil {
				log.Printf("HTTP server shutdown error: %v", err)
			}
		}
		log.Println("HTTP servers stopped")
	}

	if len(a.tcpServers) > 0 {
		for _, srv := range a.tcpServers {
			srv.Shutdown()
		}
		log.Println("TCP servers stopped")
	}

	a.broker.Close()
	log.Println("Broker stopped")

	a.stopActivity()
	a.closeDatabases()
	log.Println("Server stopped")
}

func (a *serverApp) closeListeners() {
	for _, srv := range a.httpServers {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		_ = srv.Shutdown(ctx)
		cancel()
	}
	a.httpServers = nil
	for _, srv := range a.tcpServers {
		srv.Shutdown()
	}
	a.tcpServers = nil
}

func (a *serverApp) stopActivity() {
	if a.journal != nil {
		a.journal.Stop()
		a.journal = nil
		log.Println("Activity journal stopped")
	}
}

func (a *serverApp) closeDatabases() {
	if a.journalDB != nil {
		if err := a.journalDB.Close(); err != nil {
			log.Printf("Activity journal close error: %v", err)
		}
		a.journalDB = nil
	}
	if a.objectsDB != nil {
		if err := a.objectsDB.Close(); err != nil {
			log.Printf("Object store close error: %v", err)
		}
		a.objectsDB = nil
	}
}

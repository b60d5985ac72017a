package transport

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
	"sync"

	"github.com/gobwas/ws"
	"github.com/puzpuzpuz/xsync/v4"

	"github.com/objtalk/objtalk/internal/broker"
	"github.com/objtalk/objtalk/internal/metrics"
)

// HTTPConfig configures one HTTP listener.
type HTTPConfig struct {
	Addr         string
	AllowOrigin  string           // Access-Control-Allow-Origin when non-empty
	AdminUI      bool             // embedded admin UI on /
	Metrics      *metrics.Metrics // /metrics exposition when non-nil
	MaxBodyBytes int64            // request body cap, 0 disables
}

// HTTPServer serves the REST/SSE interface, WebSocket upgrades and the
// embedded admin UI on one listener.
type HTTPServer struct {
	httpServer *http.Server
	mux        *http.ServeMux
	lis        net.Listener

	broker *broker.Broker

	// closing ends long-lived handlers (SSE, pending invokes) so
	// Shutdown can drain them; http.Server.Shutdown alone would wait
	// on them forever.
	closing   chan struct{}
	closeOnce sync.Once

	// Upgraded WebSocket connections are hijacked and invisible to
	// http.Server.Shutdown, so they are tracked here.
	wsConns *xsync.Map[net.Conn, struct{}]
	wsWG    sync.WaitGroup
}

// NewHTTPServer builds a server for b on the configured address.
func NewHTTPServer(b *broker.Broker, cfg HTTPConfig) *HTTPServer {
	s := &HTTPServer{
		mux:     http.NewServeMux(),
		broker:  b,
		closing: make(chan struct{}),
		wsConns: xsync.NewMap[net.Conn, struct{}](),
	}

	s.mux.Handle("GET /objects/{name...}", HandleObjectGet(b))
	s.mux.Handle("POST /objects/{name...}", HandleObjectSet(b))
	s.mux.Handle("PATCH /objects/{name...}", HandleObjectPatch(b))
	s.mux.Handle("DELETE /objects/{name...}", HandleObjectRemove(b))
	s.mux.Handle("GET /query", HandleQuery(b, s.closing))
	s.mux.Handle("POST /events/{object...}", HandleEmit(b))
	s.mux.Handle("POST /invoke/{object...}", HandleInvoke(b, s.closing))
	s.mux.Handle("GET /healthz", HandleHealthz())
	if cfg.Metrics != nil {
		s.mux.Handle("GET /metrics", cfg.Metrics.Handler())
	}
	s.mux.Handle("/", s.rootHandler(cfg.AdminUI))

	handler := RequestBodyLimitMiddleware(cfg.MaxBodyBytes, s.mux)
	handler = AllowOriginMiddleware(cfg.AllowOrigin, handler)

	s.httpServer = &http.Server{
		Addr:    cfg.Addr,
		Handler: handler,
	}
	return s
}

// Listen binds the configured address.
func (s *HTTPServer) Listen() error {
	lis, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return err
	}
	s.lis = lis
	return nil
}

// Addr returns the bound address. Only valid after Listen.
func (s *HTTPServer) Addr() net.Addr {
	return s.lis.Addr()
}

// Serve blocks until Shutdown. A nil return means a clean shutdown.
func (s *HTTPServer) Serve() error {
	err := s.httpServer.Serve(s.lis)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown ends long-lived handlers, drains regular requests and closes
// upgraded WebSocket sessions.
func (s *HTTPServer) Shutdown(ctx context.Context) error {
	s.closeOnce.Do(func() { close(s.closing) })
	err := s.httpServer.Shutdown(ctx)
	s.wsConns.Range(func(conn net.Conn, _ struct{}) bool {
		_ = conn.Close()
		return true
	})
	s.wsWG.Wait()
	return err
}

// Handler returns the underlying http.Handler for testing.
func (s *HTTPServer) Handler() http.Handler {
	return s.httpServer.Handler
}

// rootHandler upgrades WebSocket requests on / and otherwise serves the
// admin UI when enabled.
func (s *HTTPServer) rootHandler(adminUI bool) http.Handler {
	var ui http.Handler
	if adminUI {
		ui = adminUIHandler()
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/" && r.Method == http.MethodGet && isWebSocketUpgrade(r) {
			s.upgradeWebSocket(w, r)
			return
		}
		if ui != nil {
			ui.ServeHTTP(w, r)
			return
		}
		http.NotFound(w, r)
	})
}

func isWebSocketUpgrade(r *http.Request) bool {
	return strings.EqualFold(r.Header.Get("Upgrade"), "websocket") &&
		strings.Contains(strings.ToLower(r.Header.Get("Connection")), "upgrade")
}

func (s *HTTPServer) upgradeWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, _, _, err := ws.UpgradeHTTP(r, w)
	if err != nil {
		// UpgradeHTTP has already written the rejection.
		return
	}
	s.wsConns.Store(conn, struct{}{})
	s.wsWG.Add(1)
	go func() {
		defer s.wsWG.Done()
		defer s.wsConns.Delete(conn)
		serveWebSocket(s.broker, conn)
	}()
}

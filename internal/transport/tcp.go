package transport

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"net"
	"sync"

	"github.com/puzpuzpuz/xsync/v4"
	"golang.org/x/net/netutil"

	"github.com/objtalk/objtalk/internal/broker"
	"github.com/objtalk/objtalk/internal/wire"
)

// maxLineBytes bounds a single request line.
const maxLineBytes = 1 << 20

// TCPServer serves the line-delimited JSON protocol on one listener.
// Sessions have no binary path; stream data addressed to them is dropped.
type TCPServer struct {
	broker   *broker.Broker
	maxConns int

	lis   net.Listener
	conns *xsync.Map[net.Conn, struct{}]
	wg    sync.WaitGroup
}

// NewTCPServer builds a server for b. maxConns > 0 caps concurrently
// accepted connections.
func NewTCPServer(b *broker.Broker, maxConns int) *TCPServer {
	return &TCPServer{
		broker:   b,
		maxConns: maxConns,
		conns:    xsync.NewMap[net.Conn, struct{}](),
	}
}

// Listen binds addr.
func (s *TCPServer) Listen(addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	if s.maxConns > 0 {
		lis = netutil.LimitListener(lis, s.maxConns)
	}
	s.lis = lis
	return nil
}

// Addr returns the bound address. Only valid after Listen.
func (s *TCPServer) Addr() net.Addr {
	return s.lis.Addr()
}

// Serve accepts connections until Shutdown closes the listener. It
// blocks; a nil return means a clean shutdown.
func (s *TCPServer) Serve() error {
	for {
		conn, err := s.lis.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.serveConn(conn)
		}()
	}
}

// Shutdown stops accepting, closes live sessions and waits for their
// goroutines to finish.
func (s *TCPServer) Shutdown() {
	if s.lis != nil {
		_ = s.lis.Close()
	}
	s.conns.Range(func(conn net.Conn, _ struct{}) bool {
		_ = conn.Close()
		return true
	})
	s.wg.Wait()
}

func (s *TCPServer) serveConn(conn net.Conn) {
	client, err := s.broker.Connect()
	if err != nil {
		_ = conn.Close()
		return
	}

	s.conns.Store(conn, struct{}{})

	var writeMu sync.Mutex
	send := func(msg any) error {
		data, err := json.Marshal(msg)
		if err != nil {
			return err
		}
		data = append(data, '\n')
		writeMu.Lock()
		defer writeMu.Unlock()
		_, err = conn.Write(data)
		return err
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		pumpNotifications(client, conn, send, nil)
	}()

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 64*1024), maxLineBytes)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var req wire.Request
		if err := json.Unmarshal(line, &req); err != nil {
			if send(malformedResponse()) != nil {
				break
			}
			continue
		}
		if resp := handle(client, req); resp != nil {
			if send(*resp) != nil {
				break
			}
		}
	}

	client.Close()
	<-done
	_ = conn.Close()
	s.conns.Delete(conn)
}

// pumpNotifications forwards the session's outbound queue to the
// connection until the broker closes it. writeBinary is nil for
// transports without a binary path. A write failure or a kick closes
// conn so the read loop unblocks.
func pumpNotifications(client *broker.Client, conn net.Conn, writeText func(any) error, writeBinary func([]byte) error) {
	for {
		select {
		case n, ok := <-client.Notifications():
			if !ok {
				return
			}
			if data, isData := n.(broker.StreamData); isData {
				if writeBinary == nil {
					continue
				}
				if writeBinary(data.Payload) != nil {
					_ = conn.Close()
					return
				}
				continue
			}
			msg, ok := wire.Message(n)
			if !ok {
				continue
			}
			if writeText(msg) != nil {
				_ = conn.Close()
				return
			}
		case <-client.Kicked():
			_ = conn.Close()
			return
		}
	}
}

package transport

import (
	"encoding/binary"
	"encoding/json"
	"net"
	"sync"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"

	"github.com/objtalk/objtalk/internal/broker"
	"github.com/objtalk/objtalk/internal/wire"
)

// serveWebSocket runs the JSON protocol over an upgraded connection.
// Text frames carry requests and responses; binary frames carry stream
// data as [uint32 LE index][payload]. Blocks until the session ends.
func serveWebSocket(b *broker.Broker, conn net.Conn) {
	client, err := b.Connect()
	if err != nil {
		_ = conn.Close()
		return
	}

	var writeMu sync.Mutex
	writeText := func(msg any) error {
		data, err := json.Marshal(msg)
		if err != nil {
			return err
		}
		writeMu.Lock()
		defer writeMu.Unlock()
		return wsutil.WriteServerMessage(conn, ws.OpText, data)
	}
	writeBinary := func(payload []byte) error {
		writeMu.Lock()
		defer writeMu.Unlock()
		return wsutil.WriteServerMessage(conn, ws.OpBinary, payload)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		pumpNotifications(client, conn, writeText, writeBinary)
	}()

	for {
		data, op, err := wsutil.ReadClientData(conn)
		if err != nil {
			break
		}
		if handleFrame(client, op, data, writeText) != nil {
			break
		}
	}

	client.Close()
	<-done
	_ = conn.Close()
}

// handleFrame dispatches one data frame. The returned error is a write
// failure; protocol-level problems are answered on the connection.
func handleFrame(client *broker.Client, op ws.OpCode, data []byte, writeText func(any) error) error {
	switch op {
	case ws.OpText:
		var req wire.Request
		if err := json.Unmarshal(data, &req); err != nil {
			return writeText(malformedResponse())
		}
		if resp := handle(client, req); resp != nil {
			return writeText(*resp)
		}
	case ws.OpBinary:
		if len(data) < 4 {
			return writeText(malformedResponse())
		}
		index := binary.LittleEndian.Uint32(data)
		if err := client.StreamSend(index, data[4:]); err != nil {
			// Binary frames carry no request id, so the error envelope
			// has requestId null.
			return writeText(wire.Response{Error: broker.ErrorTag(err)})
		}
	}
	return nil
}

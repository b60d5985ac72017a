package wire

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/objtalk/objtalk/internal/broker"
)

func TestRequestDecode(t *testing.T) {
	tests := []struct {
		name  string
		line  string
		check func(t *testing.T, req Request)
	}{
		{
			name: "get",
			line: `{"id":1,"type":"get","pattern":"*"}`,
			check: func(t *testing.T, req Request) {
				if req.Type != TypeGet || req.Pattern != "*" {
					t.Fatalf("request: %+v", req)
				}
				if string(req.ID) != "1" {
					t.Fatalf("id: got %s", req.ID)
				}
			},
		},
		{
			name: "set",
			line: `{"id":"a","type":"set","name":"kitchen/lamp","value":{"on":true}}`,
			check: func(t *testing.T, req Request) {
				if req.Type != TypeSet || req.Name != "kitchen/lamp" {
					t.Fatalf("request: %+v", req)
				}
				if string(req.Value) != `{"on":true}` {
					t.Fatalf("value: got %s", req.Value)
				}
				if string(req.ID) != `"a"` {
					t.Fatalf("id: got %s", req.ID)
				}
			},
		},
		{
			name: "query defaults provideRpc to false",
			line: `{"id":2,"type":"query","pattern":"sensor/+"}`,
			check: func(t *testing.T, req Request) {
				if req.Type != TypeQuery || req.ProvideRPC {
					t.Fatalf("request: %+v", req)
				}
			},
		},
		{
			name: "invoke",
			line: `{"id":3,"type":"invoke","object":"robot","method":"dance","args":{"speed":3}}`,
			check: func(t *testing.T, req Request) {
				if req.Type != TypeInvoke || req.Object != "robot" || req.Method != "dance" {
					t.Fatalf("request: %+v", req)
				}
			},
		},
		{
			name: "setDisconnectCommands",
			line: `{"id":4,"type":"setDisconnectCommands","commands":[{"type":"set","name":"presence","value":false}]}`,
			check: func(t *testing.T, req Request) {
				if len(req.Commands) != 1 {
					t.Fatalf("commands: %+v", req.Commands)
				}
				cmd := req.Commands[0]
				if cmd.Type != broker.CommandSet || cmd.Name != "presence" || string(cmd.Value) != "false" {
					t.Fatalf("command: %+v", cmd)
				}
			},
		},
		{
			name: "openStream",
			line: `{"id":5,"type":"openStream","streamId":"f47ac10b-58cc-4372-a567-0e02b2c3d479"}`,
			check: func(t *testing.T, req Request) {
				if req.Type != TypeOpenStream || req.StreamID != "f47ac10b-58cc-4372-a567-0e02b2c3d479" {
					t.Fatalf("request: %+v", req)
				}
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var req Request
			if err := json.Unmarshal([]byte(tt.line), &req); err != nil {
				t.Fatalf("decode: %v", err)
			}
			tt.check(t, req)
		})
	}
}

func TestResponseEncode(t *testing.T) {
	tests := []struct {
		name string
		resp Response
		want string
	}{
		{
			name: "success",
			resp: Response{RequestID: json.RawMessage(`1`), Result: SuccessResult{Success: true}},
			want: `{"requestId":1,"result":{"success":true}}`,
		},
		{
			name: "error",
			resp: Response{RequestID: json.RawMessage(`"a"`), Error: broker.TagUnknownObject},
			want: `{"requestId":"a","error":"UNKNOWN_OBJECT"}`,
		},
		{
			name: "malformed line answered with null id",
			resp: Response{Error: broker.TagMalformedRequest},
			want: `{"requestId":null,"error":"MALFORMED_REQUEST"}`,
		},
		{
			name: "remove",
			resp: Response{RequestID: json.RawMessage(`7`), Result: RemoveResult{Existed: false}},
			want: `{"requestId":7,"result":{"existed":false}}`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := json.Marshal(tt.resp)
			if err != nil {
				t.Fatalf("encode: %v", err)
			}
			if string(got) != tt.want {
				t.Fatalf("encoded: got %s, want %s", got, tt.want)
			}
		})
	}
}

func TestMessageFromNotification(t *testing.T) {
	queryID := uuid.MustParse("11111111-2222-3333-4444-555555555555")
	obj := broker.Object{
		Name:         "kitchen/lamp",
		Value:        json.RawMessage(`{"on":true}`),
		LastModified: time.Date(2024, 5, 17, 9, 30, 0, 0, time.UTC),
	}

	msg, ok := Message(broker.QueryAdd{QueryID: queryID, Object: obj})
	if !ok {
		t.Fatal("expected a wire message")
	}
	data, err := json.Marshal(msg)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	want := `{"type":"queryAdd","queryId":"11111111-2222-3333-4444-555555555555",` +
		`"object":{"name":"kitchen/lamp","value":{"on":true},"lastModified":"2024-05-17T09:30:00Z"}}`
	if string(data) != want {
		t.Fatalf("queryAdd: got %s, want %s", data, want)
	}

	msg, ok = Message(broker.QueryEvent{QueryID: queryID, Object: "doorbell", Event: "ring", Data: json.RawMessage(`{}`)})
	if !ok {
		t.Fatal("expected a wire message")
	}
	data, err = json.Marshal(msg)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	want = `{"type":"queryEvent","queryId":"11111111-2222-3333-4444-555555555555",` +
		`"object":"doorbell","event":"ring","data":{}}`
	if string(data) != want {
		t.Fatalf("queryEvent: got %s, want %s", data, want)
	}

	// Invocation results are deferred responses, not typed events.
	msg, ok = Message(broker.InvocationResult{RequestID: json.RawMessage(`42`), Result: json.RawMessage(`"done"`)})
	if !ok {
		t.Fatal("expected a wire message")
	}
	data, err = json.Marshal(msg)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if string(data) != `{"requestId":42,"result":"done"}` {
		t.Fatalf("invocation result: got %s", data)
	}

	msg, ok = Message(broker.InvocationResult{
		RequestID: json.RawMessage(`42`),
		Err:       broker.Malformed("x"),
	})
	if !ok {
		t.Fatal("expected a wire message")
	}
	data, err = json.Marshal(msg)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if string(data) != `{"requestId":42,"error":"MALFORMED_REQUEST"}` {
		t.Fatalf("invocation error: got %s", data)
	}

	// Stream data is relayed as binary frames, never JSON.
	if _, ok := Message(broker.StreamData{Index: 1, Payload: []byte{1}}); ok {
		t.Fatal("StreamData must not map to a wire message")
	}
}

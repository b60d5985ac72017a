package transport

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/objtalk/objtalk/internal/broker"
)

func newHTTPTestServer(t *testing.T, b *broker.Broker, cfg HTTPConfig) *httptest.Server {
	t.Helper()
	ts := httptest.NewServer(NewHTTPServer(b, cfg).Handler())
	t.Cleanup(ts.Close)
	return ts
}

func doRequest(t *testing.T, method, url, body string) (*http.Response, []byte) {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	data, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return resp, data
}

func errorCode(t *testing.T, body []byte) string {
	t.Helper()
	var envelope ErrorResponse
	if err := json.Unmarshal(body, &envelope); err != nil {
		t.Fatalf("decode error envelope %s: %v", body, err)
	}
	return envelope.Error.Code
}

func TestHTTPServer_ObjectLifecycle(t *testing.T) {
	b := newTestBroker(t)
	ts := newHTTPTestServer(t, b, HTTPConfig{MaxBodyBytes: 1 << 20})

	resp, body := doRequest(t, http.MethodPost, ts.URL+"/objects/kitchen/lamp", `{"on":false}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("set status: %d body %s", resp.StatusCode, body)
	}

	resp, body = doRequest(t, http.MethodGet, ts.URL+"/objects/kitchen/lamp", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("get status: %d", resp.StatusCode)
	}
	etag := resp.Header.Get("ETag")
	if etag == "" {
		t.Fatal("missing ETag header")
	}
	var obj broker.Object
	if err := json.Unmarshal(body, &obj); err != nil {
		t.Fatalf("decode object: %v", err)
	}
	if obj.Name != "kitchen/lamp" || string(obj.Value) != `{"on":false}` {
		t.Errorf("object: %+v", obj)
	}
	if obj.LastModified.IsZero() {
		t.Error("lastModified not set")
	}

	req, _ := http.NewRequest(http.MethodGet, ts.URL+"/objects/kitchen/lamp", nil)
	req.Header.Set("If-None-Match", etag)
	condResp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	condResp.Body.Close()
	if condResp.StatusCode != http.StatusNotModified {
		t.Errorf("conditional get status: %d, want 304", condResp.StatusCode)
	}

	resp, _ = doRequest(t, http.MethodPatch, ts.URL+"/objects/kitchen/lamp", `{"bright":0.5}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("patch status: %d", resp.StatusCode)
	}
	_, body = doRequest(t, http.MethodGet, ts.URL+"/objects/kitchen/lamp", "")
	if err := json.Unmarshal(body, &obj); err != nil {
		t.Fatal(err)
	}
	if string(obj.Value) != `{"on":false,"bright":0.5}` {
		t.Errorf("patched value: %s", obj.Value)
	}

	resp, _ = doRequest(t, http.MethodDelete, ts.URL+"/objects/kitchen/lamp", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("delete status: %d", resp.StatusCode)
	}
	resp, body = doRequest(t, http.MethodDelete, ts.URL+"/objects/kitchen/lamp", "")
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("second delete status: %d, want 404", resp.StatusCode)
	}
	if code := errorCode(t, body); code != broker.TagUnknownObject {
		t.Errorf("second delete code: %q", code)
	}
	resp, _ = doRequest(t, http.MethodGet, ts.URL+"/objects/kitchen/lamp", "")
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("get after delete status: %d, want 404", resp.StatusCode)
	}
}

func TestHTTPServer_InvalidBody(t *testing.T) {
	b := newTestBroker(t)
	ts := newHTTPTestServer(t, b, HTTPConfig{MaxBodyBytes: 1 << 20})

	resp, body := doRequest(t, http.MethodPost, ts.URL+"/objects/x", `{"broken`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status: %d, want 400", resp.StatusCode)
	}
	if code := errorCode(t, body); code != broker.TagMalformedRequest {
		t.Errorf("code: %q", code)
	}
}

func TestHTTPServer_BodyLimit(t *testing.T) {
	b := newTestBroker(t)
	ts := newHTTPTestServer(t, b, HTTPConfig{MaxBodyBytes: 32})

	big := `{"padding":"` + strings.Repeat("x", 64) + `"}`
	resp, body := doRequest(t, http.MethodPost, ts.URL+"/objects/x", big)
	if resp.StatusCode != http.StatusRequestEntityTooLarge {
		t.Fatalf("status: %d, want 413", resp.StatusCode)
	}
	if !strings.Contains(string(body), "request body too large") {
		t.Errorf("body: %s", body)
	}
}

func TestHTTPServer_Query(t *testing.T) {
	b := newTestBroker(t)
	ts := newHTTPTestServer(t, b, HTTPConfig{MaxBodyBytes: 1 << 20})

	doRequest(t, http.MethodPost, ts.URL+"/objects/sensor/a", `{"v":1}`)
	doRequest(t, http.MethodPost, ts.URL+"/objects/sensor/b", `{"v":2}`)
	doRequest(t, http.MethodPost, ts.URL+"/objects/other", `{}`)

	resp, body := doRequest(t, http.MethodGet, ts.URL+"/query?pattern=sensor/%2B", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("query status: %d", resp.StatusCode)
	}
	var objects []broker.Object
	if err := json.Unmarshal(body, &objects); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(objects) != 2 || objects[0].Name != "sensor/a" || objects[1].Name != "sensor/b" {
		t.Errorf("objects: %+v", objects)
	}

	resp, body = doRequest(t, http.MethodGet, ts.URL+"/query?pattern=nothing/%2B", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("empty query status: %d", resp.StatusCode)
	}
	if strings.TrimSpace(string(body)) != "[]" {
		t.Errorf("empty query body: %s", body)
	}

	resp, body = doRequest(t, http.MethodGet, ts.URL+"/query", "")
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("missing pattern status: %d", resp.StatusCode)
	}
	if code := errorCode(t, body); code != broker.TagMalformedRequest {
		t.Errorf("missing pattern code: %q", code)
	}

	resp, body = doRequest(t, http.MethodGet, ts.URL+"/query?pattern=a//b", "")
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("bad pattern status: %d", resp.StatusCode)
	}
	if code := errorCode(t, body); code != broker.TagInvalidPattern {
		t.Errorf("bad pattern code: %q", code)
	}
}

// readSSEFrame reads one event/data frame off the stream.
func readSSEFrame(t *testing.T, r *bufio.Reader) (string, string) {
	t.Helper()
	var event, data string
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			t.Fatalf("read sse line: %v", err)
		}
		line = strings.TrimRight(line, "\n")
		switch {
		case line == "" && event != "":
			return event, data
		case strings.HasPrefix(line, "event:"):
			event = strings.TrimPrefix(line, "event:")
		case strings.HasPrefix(line, "data:"):
			data = strings.TrimPrefix(line, "data:")
		}
	}
}

func TestHTTPServer_QueryEventStream(t *testing.T) {
	b := newTestBroker(t)
	ts := newHTTPTestServer(t, b, HTTPConfig{MaxBodyBytes: 1 << 20})

	doRequest(t, http.MethodPost, ts.URL+"/objects/room/temp", `{"c":21}`)

	req, err := http.NewRequest(http.MethodGet, ts.URL+"/query?pattern=room/%2B", nil)
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("Accept", "text/event-stream")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("stream status: %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("content type: %q", ct)
	}
	stream := bufio.NewReader(resp.Body)

	event, data := readSSEFrame(t, stream)
	if event != "initial" {
		t.Fatalf("first event: %q", event)
	}
	var initial sseInitialPayload
	if err := json.Unmarshal([]byte(data), &initial); err != nil {
		t.Fatalf("decode initial: %v", err)
	}
	if len(initial.Objects) != 1 || initial.Objects[0].Name != "room/temp" {
		t.Errorf("initial objects: %+v", initial.Objects)
	}

	doRequest(t, http.MethodPost, ts.URL+"/objects/room/hum", `{"rh":40}`)
	event, data = readSSEFrame(t, stream)
	if event != "add" {
		t.Fatalf("second event: %q", event)
	}
	var added sseObjectPayload
	if err := json.Unmarshal([]byte(data), &added); err != nil {
		t.Fatal(err)
	}
	if added.Object.Name != "room/hum" {
		t.Errorf("added object: %+v", added.Object)
	}

	doRequest(t, http.MethodPost, ts.URL+"/objects/room/hum", `{"rh":45}`)
	if event, _ = readSSEFrame(t, stream); event != "change" {
		t.Fatalf("third event: %q", event)
	}

	doRequest(t, http.MethodPost, ts.URL+"/events/room/temp", `{"event":"spike","data":{"c":30}}`)
	event, data = readSSEFrame(t, stream)
	if event != "event" {
		t.Fatalf("fourth event: %q", event)
	}
	var emitted sseEventPayload
	if err := json.Unmarshal([]byte(data), &emitted); err != nil {
		t.Fatal(err)
	}
	if emitted.Object != "room/temp" || emitted.Event != "spike" {
		t.Errorf("emitted: %+v", emitted)
	}

	doRequest(t, http.MethodDelete, ts.URL+"/objects/room/hum", "")
	if event, _ = readSSEFrame(t, stream); event != "remove" {
		t.Fatalf("fifth event: %q", event)
	}
}

func TestHTTPServer_Emit(t *testing.T) {
	b := newTestBroker(t)
	ts := newHTTPTestServer(t, b, HTTPConfig{MaxBodyBytes: 1 << 20})

	resp, body := doRequest(t, http.MethodPost, ts.URL+"/events/doorbell", `{"event":"pressed","data":null}`)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("emit on missing object status: %d", resp.StatusCode)
	}
	if code := errorCode(t, body); code != broker.TagUnknownObject {
		t.Errorf("code: %q", code)
	}

	doRequest(t, http.MethodPost, ts.URL+"/objects/doorbell", `{}`)
	resp, _ = doRequest(t, http.MethodPost, ts.URL+"/events/doorbell", `{"event":"pressed","data":{"n":1}}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("emit status: %d", resp.StatusCode)
	}
}

// answerInvocations services provider-side RPC until the client closes.
func answerInvocations(t *testing.T, provider *broker.Client, result json.RawMessage) {
	go func() {
		for n := range provider.Notifications() {
			inv, ok := n.(broker.QueryInvocation)
			if !ok {
				continue
			}
			if err := provider.InvokeResult(inv.InvocationID, result); err != nil {
				t.Errorf("invokeResult: %v", err)
			}
		}
	}()
}

func TestHTTPServer_Invoke(t *testing.T) {
	b := newTestBroker(t)
	ts := newHTTPTestServer(t, b, HTTPConfig{MaxBodyBytes: 1 << 20})

	provider := connectClient(t, b)
	if err := provider.Set("robot", json.RawMessage(`{}`)); err != nil {
		t.Fatal(err)
	}
	if _, err := provider.Query("robot", true); err != nil {
		t.Fatal(err)
	}
	answerInvocations(t, provider, json.RawMessage(`{"arrived":true}`))

	resp, body := doRequest(t, http.MethodPost, ts.URL+"/invoke/robot", `{"method":"drive","args":{"distance":2}}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("invoke status: %d body %s", resp.StatusCode, body)
	}
	if strings.TrimSpace(string(body)) != `{"arrived":true}` {
		t.Errorf("invoke result: %s", body)
	}
}

func TestHTTPServer_InvokeNoProvider(t *testing.T) {
	b := newTestBroker(t)
	ts := newHTTPTestServer(t, b, HTTPConfig{MaxBodyBytes: 1 << 20})

	doRequest(t, http.MethodPost, ts.URL+"/objects/robot", `{}`)
	resp, body := doRequest(t, http.MethodPost, ts.URL+"/invoke/robot", `{"method":"drive"}`)
	if resp.StatusCode != http.StatusBadGateway {
		t.Fatalf("status: %d, want 502", resp.StatusCode)
	}
	if code := errorCode(t, body); code != broker.TagNoProvider {
		t.Errorf("code: %q", code)
	}
}

func TestHTTPServer_InvokeUnknownObject(t *testing.T) {
	b := newTestBroker(t)
	ts := newHTTPTestServer(t, b, HTTPConfig{MaxBodyBytes: 1 << 20})

	resp, body := doRequest(t, http.MethodPost, ts.URL+"/invoke/ghost", `{"method":"x"}`)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status: %d, want 404", resp.StatusCode)
	}
	if code := errorCode(t, body); code != broker.TagUnknownObject {
		t.Errorf("code: %q", code)
	}
}

func TestHTTPServer_Healthz(t *testing.T) {
	b := newTestBroker(t)
	ts := newHTTPTestServer(t, b, HTTPConfig{})

	resp, body := doRequest(t, http.MethodGet, ts.URL+"/healthz", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status: %d", resp.StatusCode)
	}
	var status map[string]string
	if err := json.Unmarshal(body, &status); err != nil {
		t.Fatal(err)
	}
	if status["status"] != "ok" {
		t.Errorf("body: %s", body)
	}
}

func TestHTTPServer_CORS(t *testing.T) {
	b := newTestBroker(t)
	ts := newHTTPTestServer(t, b, HTTPConfig{AllowOrigin: "*"})

	resp, _ := doRequest(t, http.MethodGet, ts.URL+"/healthz", "")
	if got := resp.Header.Get("Access-Control-Allow-Origin"); got != "*" {
		t.Errorf("allow-origin: %q", got)
	}

	req, _ := http.NewRequest(http.MethodOptions, ts.URL+"/objects/x", nil)
	preflight, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	preflight.Body.Close()
	if preflight.StatusCode != http.StatusNoContent {
		t.Errorf("preflight status: %d, want 204", preflight.StatusCode)
	}
	if methods := preflight.Header.Get("Access-Control-Allow-Methods"); !strings.Contains(methods, "PATCH") {
		t.Errorf("allow-methods: %q", methods)
	}
}

func TestHTTPServer_RootWithoutAdminUI(t *testing.T) {
	b := newTestBroker(t)
	ts := newHTTPTestServer(t, b, HTTPConfig{})

	resp, _ := doRequest(t, http.MethodGet, ts.URL+"/", "")
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("root status: %d, want 404", resp.StatusCode)
	}
}

func TestHTTPServer_AdminUIServesIndex(t *testing.T) {
	b := newTestBroker(t)
	ts := newHTTPTestServer(t, b, HTTPConfig{AdminUI: true})

	resp, body := doRequest(t, http.MethodGet, ts.URL+"/", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("root status: %d", resp.StatusCode)
	}
	if !strings.Contains(string(body), "objtalk") {
		t.Errorf("index body does not mention objtalk: %.80s", body)
	}

	// Unknown extensionless paths fall back to the SPA index.
	resp, _ = doRequest(t, http.MethodGet, ts.URL+"/settings", "")
	if resp.StatusCode != http.StatusOK {
		t.Errorf("spa fallback status: %d", resp.StatusCode)
	}

	// Missing assets with an extension are a plain 404.
	resp, _ = doRequest(t, http.MethodGet, ts.URL+"/missing.js", "")
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("missing asset status: %d", resp.StatusCode)
	}
}

func TestStatusForTag(t *testing.T) {
	tests := []struct {
		tag  string
		want int
	}{
		{broker.TagInvalidPattern, http.StatusBadRequest},
		{broker.TagInvalidObjectName, http.StatusBadRequest},
		{broker.TagMalformedRequest, http.StatusBadRequest},
		{broker.TagUnknownObject, http.StatusNotFound},
		{broker.TagUnknownQuery, http.StatusNotFound},
		{broker.TagUnknownInvocation, http.StatusNotFound},
		{broker.TagStreamNotFound, http.StatusNotFound},
		{broker.TagNoProvider, http.StatusBadGateway},
		{broker.TagProviderDisconnected, http.StatusBadGateway},
		{broker.TagStorageError, http.StatusInternalServerError},
		{broker.TagInternal, http.StatusInternalServerError},
		{"SOMETHING_NEW", http.StatusInternalServerError},
	}
	for _, tc := range tests {
		if got := statusForTag(tc.tag); got != tc.want {
			t.Errorf("statusForTag(%s): got %d, want %d", tc.tag, got, tc.want)
		}
	}
}

func TestWriteBrokerError(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteBrokerError(rec, broker.Malformed("boom"))

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status: %d", rec.Code)
	}
	var envelope ErrorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &envelope); err != nil {
		t.Fatal(err)
	}
	if envelope.Error.Code != broker.TagMalformedRequest || envelope.Error.Message != "boom" {
		t.Errorf("envelope: %+v", envelope)
	}
}

func TestHTTPServer_ShutdownUnblocksStreams(t *testing.T) {
	b := newTestBroker(t)
	s := NewHTTPServer(b, HTTPConfig{})
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)

	req, err := http.NewRequest(http.MethodGet, ts.URL+"/query?pattern=%2B", nil)
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("Accept", "text/event-stream")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	stream := bufio.NewReader(resp.Body)
	if event, _ := readSSEFrame(t, stream); event != "initial" {
		t.Fatalf("first event: %q", event)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		// The stream handler must exit on shutdown, not hold it open.
		_, err := stream.ReadString('\n')
		if err == nil {
			t.Error("expected stream to end after shutdown")
		}
	}()

	shutdownDone := make(chan struct{})
	go func() {
		defer close(shutdownDone)
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.Shutdown(ctx)
	}()

	select {
	case <-shutdownDone:
	case <-time.After(10 * time.Second):
		t.Fatal("shutdown did not finish")
	}
	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("stream reader did not finish")
	}
}

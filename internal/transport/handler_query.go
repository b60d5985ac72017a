package transport

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/objtalk/objtalk/internal/broker"
)

type sseInitialPayload struct {
	Objects []broker.Object `json:"objects"`
}

type sseObjectPayload struct {
	Object broker.Object `json:"object"`
}

type sseEventPayload struct {
	Object string          `json:"object"`
	Event  string          `json:"event"`
	Data   json.RawMessage `json:"data"`
}

// HandleQuery returns a handler for GET /query. A plain request returns
// the objects matching ?pattern= as a JSON array; with Accept:
// text/event-stream it becomes a live SSE subscription that ends when
// the client or the server goes away.
func HandleQuery(b *broker.Broker, closing <-chan struct{}) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		pattern := r.URL.Query().Get("pattern")
		if pattern == "" {
			WriteError(w, http.StatusBadRequest, broker.TagMalformedRequest, "pattern query parameter is required")
			return
		}

		if wantsEventStream(r) {
			serveQueryStream(w, r, b, pattern, closing)
			return
		}

		client, ok := connectOrFail(w, b)
		if !ok {
			return
		}
		defer client.Close()

		objects, err := client.Get(pattern)
		if err != nil {
			WriteBrokerError(w, err)
			return
		}
		if objects == nil {
			objects = []broker.Object{}
		}
		WriteJSON(w, http.StatusOK, objects)
	}
}

func wantsEventStream(r *http.Request) bool {
	return strings.Contains(r.Header.Get("Accept"), "text/event-stream")
}

func serveQueryStream(w http.ResponseWriter, r *http.Request, b *broker.Broker, pattern string, closing <-chan struct{}) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		WriteError(w, http.StatusInternalServerError, broker.TagInternal, "streaming unsupported")
		return
	}

	client, ok := connectOrFail(w, b)
	if !ok {
		return
	}
	defer client.Close()

	res, err := client.Query(pattern, false)
	if err != nil {
		WriteBrokerError(w, err)
		return
	}
	objects := res.Objects
	if objects == nil {
		objects = []broker.Object{}
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)

	write := func(event string, payload any) bool {
		data, err := json.Marshal(payload)
		if err != nil {
			return false
		}
		if _, err := fmt.Fprintf(w, "event:%s\ndata:%s\n\n", event, data); err != nil {
			return false
		}
		flusher.Flush()
		return true
	}

	if !write("initial", sseInitialPayload{Objects: objects}) {
		return
	}

	for {
		select {
		case n, open := <-client.Notifications():
			if !open {
				return
			}
			event, payload, ok := sseFrame(n)
			if !ok {
				continue
			}
			if !write(event, payload) {
				return
			}
		case <-client.Kicked():
			return
		case <-r.Context().Done():
			return
		case <-closing:
			return
		}
	}
}

// sseFrame maps a notification to its SSE event name and payload. The
// session holds exactly one subscription, so no query id filtering is
// needed.
func sseFrame(n broker.Notification) (string, any, bool) {
	switch n := n.(type) {
	case broker.QueryAdd:
		return "add", sseObjectPayload{Object: n.Object}, true
	case broker.QueryChange:
		return "change", sseObjectPayload{Object: n.Object}, true
	case broker.QueryRemove:
		return "remove", sseObjectPayload{Object: n.Object}, true
	case broker.QueryEvent:
		return "event", sseEventPayload{Object: n.Object, Event: n.Event, Data: n.Data}, true
	default:
		return "", nil, false
	}
}

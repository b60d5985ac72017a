package transport

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/zeebo/xxh3"

	"github.com/objtalk/objtalk/internal/broker"
)

// connectOrFail opens a one-shot broker client for the request, writing
// a 503 when the broker is shutting down.
func connectOrFail(w http.ResponseWriter, b *broker.Broker) (*broker.Client, bool) {
	client, err := b.Connect()
	if err != nil {
		WriteError(w, http.StatusServiceUnavailable, broker.TagInternal, "broker unavailable")
		return nil, false
	}
	return client, true
}

// readJSONBodyOrFail reads the request body as one raw JSON value. The
// text is passed through untouched so the member order a client sent is
// preserved.
func readJSONBodyOrFail(w http.ResponseWriter, r *http.Request) (json.RawMessage, bool) {
	data, err := io.ReadAll(r.Body)
	if err != nil {
		writeBodyReadError(w, err)
		return nil, false
	}
	if !json.Valid(data) {
		WriteError(w, http.StatusBadRequest, broker.TagMalformedRequest, "request body is not valid JSON")
		return nil, false
	}
	return json.RawMessage(data), true
}

// decodeBodyOrFail decodes the JSON request body into v. Unknown fields
// are ignored, matching the wire protocol's decoder.
func decodeBodyOrFail(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(v); err != nil {
		writeBodyReadError(w, err)
		return false
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		WriteError(w, http.StatusBadRequest, broker.TagMalformedRequest, "request body must contain a single JSON value")
		return false
	}
	return true
}

func writeBodyReadError(w http.ResponseWriter, err error) {
	var maxErr *http.MaxBytesError
	if errors.As(err, &maxErr) {
		WriteError(w, http.StatusRequestEntityTooLarge, broker.TagMalformedRequest,
			fmt.Sprintf("request body too large (max %d bytes)", maxErr.Limit))
		return
	}
	WriteError(w, http.StatusBadRequest, broker.TagMalformedRequest, "invalid request body")
}

// objectETag builds a strong ETag over the object's value and write time.
func objectETag(obj broker.Object) string {
	h := xxh3.New()
	_, _ = h.Write(obj.Value)
	_, _ = h.Write([]byte(obj.LastModified.UTC().Format(time.RFC3339Nano)))
	return fmt.Sprintf(`"%016x"`, h.Sum64())
}

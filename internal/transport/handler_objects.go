package transport

import (
	"fmt"
	"net/http"

	"github.com/objtalk/objtalk/internal/broker"
	"github.com/objtalk/objtalk/internal/wire"
)

// HandleObjectGet returns a handler for GET /objects/{name...}. The
// response carries an ETag over value and write time; a matching
// If-None-Match yields 304.
func HandleObjectGet(b *broker.Broker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name := r.PathValue("name")

		client, ok := connectOrFail(w, b)
		if !ok {
			return
		}
		defer client.Close()

		obj, found, err := client.Lookup(name)
		if err != nil {
			WriteBrokerError(w, err)
			return
		}
		if !found {
			WriteError(w, http.StatusNotFound, broker.TagUnknownObject, fmt.Sprintf("object %q not found", name))
			return
		}

		etag := objectETag(obj)
		w.Header().Set("ETag", etag)
		if r.Header.Get("If-None-Match") == etag {
			w.WriteHeader(http.StatusNotModified)
			return
		}
		WriteJSON(w, http.StatusOK, obj)
	}
}

// HandleObjectSet returns a handler for POST /objects/{name...}. The
// body is the new value.
func HandleObjectSet(b *broker.Broker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		value, ok := readJSONBodyOrFail(w, r)
		if !ok {
			return
		}

		client, ok := connectOrFail(w, b)
		if !ok {
			return
		}
		defer client.Close()

		if err := client.Set(r.PathValue("name"), value); err != nil {
			WriteBrokerError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, wire.SuccessResult{Success: true})
	}
}

// HandleObjectPatch returns a handler for PATCH /objects/{name...}. The
// body is shallow-merged into the current value.
func HandleObjectPatch(b *broker.Broker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		value, ok := readJSONBodyOrFail(w, r)
		if !ok {
			return
		}

		client, ok := connectOrFail(w, b)
		if !ok {
			return
		}
		defer client.Close()

		if err := client.Patch(r.PathValue("name"), value); err != nil {
			WriteBrokerError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, wire.SuccessResult{Success: true})
	}
}

// HandleObjectRemove returns a handler for DELETE /objects/{name...}.
// Removing an absent object is a 404.
func HandleObjectRemove(b *broker.Broker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name := r.PathValue("name")

		client, ok := connectOrFail(w, b)
		if !ok {
			return
		}
		defer client.Close()

		existed, err := client.Remove(name)
		if err != nil {
			WriteBrokerError(w, err)
			return
		}
		if !existed {
			WriteError(w, http.StatusNotFound, broker.TagUnknownObject, fmt.Sprintf("object %q not found", name))
			return
		}
		WriteJSON(w, http.StatusOK, wire.SuccessResult{Success: true})
	}
}

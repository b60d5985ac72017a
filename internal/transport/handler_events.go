package transport

import (
	"encoding/json"
	"net/http"

	"github.com/objtalk/objtalk/internal/broker"
	"github.com/objtalk/objtalk/internal/wire"
)

type emitBody struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// HandleEmit returns a handler for POST /events/{object...}.
func HandleEmit(b *broker.Broker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body emitBody
		if !decodeBodyOrFail(w, r, &body) {
			return
		}

		client, ok := connectOrFail(w, b)
		if !ok {
			return
		}
		defer client.Close()

		if err := client.Emit(r.PathValue("object"), body.Event, body.Data); err != nil {
			WriteBrokerError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, wire.SuccessResult{Success: true})
	}
}

package transport

import (
	"encoding/json"
	"net/http"

	"github.com/objtalk/objtalk/internal/broker"
)

type invokeBody struct {
	Method string          `json:"method"`
	Args   json.RawMessage `json:"args"`
}

// HandleInvoke returns a handler for POST /invoke/{object...}. The
// request is held open and answered with the provider's bare result
// when its invokeResult arrives.
func HandleInvoke(b *broker.Broker, closing <-chan struct{}) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body invokeBody
		if !decodeBodyOrFail(w, r, &body) {
			return
		}

		client, ok := connectOrFail(w, b)
		if !ok {
			return
		}
		defer client.Close()

		// The id only disambiguates concurrent invokes on one session;
		// this session carries exactly one.
		if err := client.Invoke(r.PathValue("object"), body.Method, body.Args, json.RawMessage(`1`)); err != nil {
			WriteBrokerError(w, err)
			return
		}

		for {
			select {
			case n, open := <-client.Notifications():
				if !open {
					WriteError(w, http.StatusBadGateway, broker.TagProviderDisconnected, "provider disconnected")
					return
				}
				res, isResult := n.(broker.InvocationResult)
				if !isResult {
					continue
				}
				if res.Err != nil {
					WriteBrokerError(w, res.Err)
					return
				}
				result := res.Result
				if result == nil {
					result = json.RawMessage(`null`)
				}
				WriteJSON(w, http.StatusOK, result)
				return
			case <-client.Kicked():
				WriteError(w, http.StatusInternalServerError, broker.TagInternal, "notification queue overflowed")
				return
			case <-r.Context().Done():
				return
			case <-closing:
				return
			}
		}
	}
}

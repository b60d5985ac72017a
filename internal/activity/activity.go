// Package activity renders and persists the broker's activity records: a
// zerolog console sink, a batching SQLite journal with retention, and a
// fan-out combinator.
package activity

import (
	"github.com/objtalk/objtalk/internal/broker"
)

// Multi fans records out to several sinks in order.
type Multi []broker.ActivitySink

func (m Multi) Emit(rec broker.Record) {
	for _, sink := range m {
		sink.Emit(rec)
	}
}

// shortID trims ids to the 7-character form used in console output.
func shortID(id string) string {
	if len(id) > 7 {
		return id[:7]
	}
	return id
}

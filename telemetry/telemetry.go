// Package telemetry is the daemon's cooperative side-channel: workers emit
// (key, value, unit) events onto a channel, and a single pump publishes them
// as 5-frame messages on the PUB socket.
package telemetry

import (
	"context"
	"fmt"
	"os"

	"github.com/WhereSoftwareGoesToDie/vaultaire/ingest/log"
)

// Event is one telemetry line: a metric key, its formatted value, and its
// unit (the empty string if the value is unitless, e.g. an error message).
type Event struct {
	Key   string
	Value string
	Unit  string
}

// Duration builds the timing event the reader worker emits once per
// successfully handled inbound message, however many Requests it carried.
func Duration(seconds float64) Event {
	return Event{Key: "duration", Value: fmt.Sprintf("%9.3f", seconds), Unit: "seconds"}
}

// Error builds the ingress-error event emitted when a request fails to
// parse.
func Error(msg string) Event {
	return Event{Key: "error", Value: msg, Unit: ""}
}

// Publisher is the minimal socket surface the telemetry pump needs; *zmq4
// sockets and fakes in tests both satisfy it.
type Publisher interface {
	SendMessage(parts ...interface{}) (int, error)
}

// Identifier is the `progname/pid` string sent as the 4th telemetry frame.
func Identifier(progname string) string {
	return fmt.Sprintf("%s/%d", progname, os.Getpid())
}

// Pump drains events from ch and publishes each as a 5-frame
// [key, value, unit, identifier, hostname] message until ctx is cancelled or
// ch is closed. When debug is true, every event is also printed to stdout.
func Pump(ctx context.Context, ch <-chan Event, pub Publisher, identifier, hostname string, debug bool, lg *log.Logger) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-ch:
			if !ok {
				return nil
			}
			if debug {
				fmt.Printf("telemetry: %s=%s%s\n", ev.Key, ev.Value, ev.Unit)
			}
			if _, err := pub.SendMessage(ev.Key, ev.Value, ev.Unit, identifier, hostname); err != nil {
				if lg != nil {
					lg.Warn("telemetry: publish failed", log.KVErr(err), log.KV("key", ev.Key))
				}
			}
		}
	}
}

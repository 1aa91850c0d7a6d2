// Package transport owns the three ZeroMQ-compatible sockets the daemon
// speaks on: the query router, the contents router, and the telemetry
// publisher. Each pump is a long-running linked task meant to run inside
// the supervisor's task group.
package transport

import (
	"context"
	"fmt"

	zmq "github.com/pebbe/zmq4"

	"github.com/WhereSoftwareGoesToDie/vaultaire/ingest/log"
)

// InboundMessage is a parsed 4-frame query request:
// [broker_env, client_env, origin, request_bytes].
type InboundMessage struct {
	BrokerEnv    []byte
	ClientEnv    []byte
	Origin       []byte
	RequestBytes []byte
}

// Reply is a 3-frame query response: [broker_env, client_env, payload].
type Reply struct {
	BrokerEnv []byte
	ClientEnv []byte
	Payload   []byte
}

// ContentsInbound is a parsed 4-frame contents request:
// [broker_env, client_env, _, origin]. The third frame is ignored.
type ContentsInbound struct {
	BrokerEnv []byte
	ClientEnv []byte
	Origin    []byte
}

// ContentsReply is a 4-frame contents response:
// [broker_env, client_env, "", payload].
type ContentsReply struct {
	BrokerEnv []byte
	ClientEnv []byte
	Payload   []byte
}

// Router wraps the query ROUTER socket bound to tcp://<broker>:5571.
type Router struct {
	sock *zmq.Socket
}

// NewRouter binds a ROUTER socket with an unbounded receive queue: the
// daemon is expected to absorb bursts, and the broker applies its own
// backpressure.
func NewRouter(broker string) (*Router, error) {
	sock, err := zmq.NewSocket(zmq.ROUTER)
	if err != nil {
		return nil, fmt.Errorf("transport: new router socket: %w", err)
	}
	if err := sock.SetRcvhwm(0); err != nil {
		sock.Close()
		return nil, fmt.Errorf("transport: set rcvhwm: %w", err)
	}
	addr := fmt.Sprintf("tcp://%s:5571", broker)
	if err := sock.Bind(addr); err != nil {
		sock.Close()
		return nil, fmt.Errorf("transport: bind %s: %w", addr, err)
	}
	return &Router{sock: sock}, nil
}

// Close releases the underlying socket.
func (r *Router) Close() error { return r.sock.Close() }

// PumpInbound receives multi-part messages and enqueues well-formed ones on
// out. A message whose frame count is not 4 is logged and dropped.
func (r *Router) PumpInbound(ctx context.Context, out chan<- InboundMessage, lg *log.Logger) error {
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		parts, err := r.sock.RecvMessageBytes(0)
		if err != nil {
			return fmt.Errorf("transport: recv: %w", err)
		}
		if len(parts) != 4 {
			if lg != nil {
				lg.Warn("transport: dropping inbound message with wrong frame count", log.KV("frames", len(parts)))
			}
			continue
		}
		msg := InboundMessage{
			BrokerEnv:    parts[0],
			ClientEnv:    parts[1],
			Origin:       parts[2],
			RequestBytes: parts[3],
		}
		select {
		case out <- msg:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// PumpOutbound dequeues replies and sends them as 3-frame messages.
func (r *Router) PumpOutbound(ctx context.Context, in <-chan Reply) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case rep, ok := <-in:
			if !ok {
				return nil
			}
			if _, err := r.sock.SendMessage(rep.BrokerEnv, rep.ClientEnv, rep.Payload); err != nil {
				return fmt.Errorf("transport: send reply: %w", err)
			}
		}
	}
}

// ContentsRouter wraps the contents ROUTER socket bound to
// tcp://<broker>:5573.
type ContentsRouter struct {
	sock *zmq.Socket
}

// NewContentsRouter binds the contents query socket.
func NewContentsRouter(broker string) (*ContentsRouter, error) {
	sock, err := zmq.NewSocket(zmq.ROUTER)
	if err != nil {
		return nil, fmt.Errorf("transport: new contents router socket: %w", err)
	}
	addr := fmt.Sprintf("tcp://%s:5573", broker)
	if err := sock.Bind(addr); err != nil {
		sock.Close()
		return nil, fmt.Errorf("transport: bind %s: %w", addr, err)
	}
	return &ContentsRouter{sock: sock}, nil
}

// Close releases the underlying socket.
func (r *ContentsRouter) Close() error { return r.sock.Close() }

// PumpInbound receives 4-frame contents requests, ignoring the third frame.
func (r *ContentsRouter) PumpInbound(ctx context.Context, out chan<- ContentsInbound, lg *log.Logger) error {
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		parts, err := r.sock.RecvMessageBytes(0)
		if err != nil {
			return fmt.Errorf("transport: recv: %w", err)
		}
		if len(parts) != 4 {
			if lg != nil {
				lg.Warn("transport: dropping contents message with wrong frame count", log.KV("frames", len(parts)))
			}
			continue
		}
		msg := ContentsInbound{
			BrokerEnv: parts[0],
			ClientEnv: parts[1],
			Origin:    parts[3],
		}
		select {
		case out <- msg:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// PumpOutbound dequeues contents replies and sends them as 4-frame messages
// with an empty delimiter frame between client-env and payload.
func (r *ContentsRouter) PumpOutbound(ctx context.Context, in <-chan ContentsReply) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case rep, ok := <-in:
			if !ok {
				return nil
			}
			if _, err := r.sock.SendMessage(rep.BrokerEnv, rep.ClientEnv, []byte{}, rep.Payload); err != nil {
				return fmt.Errorf("transport: send contents reply: %w", err)
			}
		}
	}
}

// TelemetryPub wraps the telemetry PUB socket bound to
// tcp://<broker>:5581.
type TelemetryPub struct {
	sock *zmq.Socket
}

// NewTelemetryPub binds the telemetry publisher socket.
func NewTelemetryPub(broker string) (*TelemetryPub, error) {
	sock, err := zmq.NewSocket(zmq.PUB)
	if err != nil {
		return nil, fmt.Errorf("transport: new telemetry socket: %w", err)
	}
	addr := fmt.Sprintf("tcp://%s:5581", broker)
	if err := sock.Bind(addr); err != nil {
		sock.Close()
		return nil, fmt.Errorf("transport: bind %s: %w", addr, err)
	}
	return &TelemetryPub{sock: sock}, nil
}

// Close releases the underlying socket.
func (t *TelemetryPub) Close() error { return t.sock.Close() }

// SendMessage implements telemetry.Publisher.
func (t *TelemetryPub) SendMessage(parts ...interface{}) (int, error) {
	return t.sock.SendMessage(parts...)
}

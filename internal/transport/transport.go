// Package transport defines the peer connection interface and provides
// implementations for production (QUIC) and testing (in-memory).
package transport

import (
	"context"
	"errors"
)

// MaxMessageSize caps a single message on the wire. Senders refuse larger
// payloads and receivers abandon channels that exceed it.
const MaxMessageSize = 1024

// alpn is the TLS next-protocol identifier spoken by every node.
const alpn = "meshcast/1"

// ErrClosed reports that a connection or endpoint is gone: closed locally,
// closed by the peer, or torn down by the network. Errors wrap it whenever
// no further traffic is possible; callers test with errors.Is.
var ErrClosed = errors.New("transport: connection closed")

// Transport abstracts how a node reaches its peers.
// The node uses this interface exclusively so that tests can inject an
// in-memory transport without real sockets.
type Transport interface {
	// Listen binds the local endpoint and starts accepting handshakes.
	Listen() error

	// Accept blocks until the next inbound connection completes, the
	// context is cancelled, or the endpoint closes.
	Accept(ctx context.Context) (Conn, error)

	// Dial opens an outbound connection to addr.
	Dial(ctx context.Context, addr string) (Conn, error)

	// Addr returns the bound listen address. Valid after Listen.
	Addr() string

	// Close shuts down the endpoint. Pending Accepts return ErrClosed.
	Close() error
}

// Conn is one established connection to one peer.
type Conn interface {
	// Send transmits msg as one discrete unit on a fresh data channel.
	// The receiver's Recv yields exactly the bytes of one Send.
	Send(ctx context.Context, msg []byte) error

	// Recv blocks for the next complete message from the peer.
	Recv(ctx context.Context) ([]byte, error)

	// RemoteAddr returns the peer's address as observed on this connection.
	RemoteAddr() string

	// Close tears down the connection, telling the peer "shutdown".
	Close() error
}

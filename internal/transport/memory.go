package transport

import (
	"context"
	"fmt"
	"sync"
)

// Network is an in-process fabric for tests. Transports created from the
// same Network can dial each other by address; nothing leaves the process.
type Network struct {
	mu        sync.Mutex
	listeners map[string]*MemoryTransport
	nextAddr  int
}

// NewNetwork creates an empty fabric.
func NewNetwork() *Network {
	return &Network{listeners: make(map[string]*MemoryTransport)}
}

// Transport returns a transport for addr on this fabric. An empty addr
// allocates a fresh "mem:N" address.
func (n *Network) Transport(addr string) *MemoryTransport {
	n.mu.Lock()
	defer n.mu.Unlock()
	if addr == "" {
		n.nextAddr++
		addr = fmt.Sprintf("mem:%d", n.nextAddr)
	}
	return &MemoryTransport{
		net:    n,
		addr:   addr,
		accept: make(chan *memoryConn, 16),
		closed: make(chan struct{}),
	}
}

// MemoryTransport is an in-process implementation of Transport. Like the
// QUIC transport, a dialed peer observes the dialer's own address, so
// peer-list relaying behaves the same in tests as on real sockets.
type MemoryTransport struct {
	net    *Network
	addr   string
	accept chan *memoryConn

	closeOnce sync.Once
	closed    chan struct{}

	mu        sync.Mutex
	listening bool
}

func (t *MemoryTransport) Listen() error {
	t.net.mu.Lock()
	defer t.net.mu.Unlock()
	if other, taken := t.net.listeners[t.addr]; taken && other != t {
		return fmt.Errorf("memory transport: address %q already in use", t.addr)
	}
	t.net.listeners[t.addr] = t
	t.mu.Lock()
	t.listening = true
	t.mu.Unlock()
	return nil
}

func (t *MemoryTransport) Accept(ctx context.Context) (Conn, error) {
	t.mu.Lock()
	listening := t.listening
	t.mu.Unlock()
	if !listening {
		return nil, fmt.Errorf("memory transport: not listening")
	}
	select {
	case conn := <-t.accept:
		return conn, nil
	case <-t.closed:
		return nil, fmt.Errorf("%w: listener closed", ErrClosed)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (t *MemoryTransport) Dial(ctx context.Context, addr string) (Conn, error) {
	t.net.mu.Lock()
	other, ok := t.net.listeners[addr]
	t.net.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("memory transport: no listener at %q", addr)
	}

	local := &memoryConn{remote: addr, recvQ: make(chan []byte, 64), done: make(chan struct{})}
	remote := &memoryConn{remote: t.addr, recvQ: make(chan []byte, 64), done: make(chan struct{})}
	local.peer = remote
	remote.peer = local

	select {
	case other.accept <- remote:
		return local, nil
	case <-other.closed:
		return nil, fmt.Errorf("memory transport: %q refused the connection", addr)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (t *MemoryTransport) Addr() string {
	return t.addr
}

func (t *MemoryTransport) Close() error {
	t.closeOnce.Do(func() {
		close(t.closed)
		t.net.mu.Lock()
		if t.net.listeners[t.addr] == t {
			delete(t.net.listeners, t.addr)
		}
		t.net.mu.Unlock()
	})
	return nil
}

// memoryConn is one side of an in-process connection pair.
type memoryConn struct {
	remote string
	peer   *memoryConn
	recvQ  chan []byte

	closeOnce sync.Once
	done      chan struct{}
	reason    string
}

func (c *memoryConn) Send(ctx context.Context, msg []byte) error {
	if len(msg) > MaxMessageSize {
		return fmt.Errorf("transport: message exceeds %d bytes", MaxMessageSize)
	}
	select {
	case <-c.done:
		return fmt.Errorf("%w: %s", ErrClosed, c.reason)
	default:
	}
	cp := append([]byte(nil), msg...)
	select {
	case c.peer.recvQ <- cp:
		return nil
	case <-c.done:
		return fmt.Errorf("%w: %s", ErrClosed, c.reason)
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *memoryConn) Recv(ctx context.Context) ([]byte, error) {
	select {
	case msg := <-c.recvQ:
		return msg, nil
	default:
	}
	select {
	case msg := <-c.recvQ:
		return msg, nil
	case <-c.done:
		// Deliver anything that arrived before the close.
		select {
		case msg := <-c.recvQ:
			return msg, nil
		default:
		}
		return nil, fmt.Errorf("%w: %s", ErrClosed, c.reason)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *memoryConn) RemoteAddr() string {
	return c.remote
}

// Close closes both sides of the pair. The closing side reads "closed",
// the peer reads "shutdown", matching what the QUIC transport reports.
func (c *memoryConn) Close() error {
	c.close("closed")
	c.peer.close("shutdown")
	return nil
}

func (c *memoryConn) close(reason string) {
	c.closeOnce.Do(func() {
		c.reason = reason
		close(c.done)
	})
}

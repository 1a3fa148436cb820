// Package node implements the meshcast engine.
//
// Design:
//   - One goroutine accepts inbound connections and hands each to its own
//     handler goroutine, so a stalled peer never blocks the listener.
//   - One goroutine per connection reads messages until the connection
//     dies, then removes exactly that connection from the registry.
//   - One goroutine runs the broadcast scheduler. Ticks are
//     period-relative: the next tick is armed from the tick it follows, so
//     an overrunning broadcast delays the schedule instead of bursting.
//   - The registry is the only state shared between these goroutines, and
//     every registry operation is a single atomic step.
package node

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/meshcast/meshcast/internal/metrics"
	"github.com/meshcast/meshcast/internal/peer"
	"github.com/meshcast/meshcast/internal/transport"
)

const dialTimeout = 10 * time.Second

// Config configures a Node.
type Config struct {
	Transport transport.Transport
	Period    time.Duration // interval between broadcasts; must be positive
	Bootstrap string        // peer address to connect on start ("" = none)
	Logger    *slog.Logger  // destination for all node output
}

// Node maintains connections to its peers, broadcasts a random message to
// all of them once per period, and prints every message it receives.
type Node struct {
	cfg Config
	tr  transport.Transport
	reg *peer.Registry
	log *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	stopOnce sync.Once
}

// New creates a Node.
func New(cfg Config) (*Node, error) {
	if cfg.Transport == nil {
		return nil, fmt.Errorf("node: transport is required")
	}
	if cfg.Period <= 0 {
		return nil, fmt.Errorf("node: period must be positive, got %v", cfg.Period)
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Node{
		cfg:    cfg,
		tr:     cfg.Transport,
		reg:    peer.NewRegistry(),
		log:    log,
		ctx:    ctx,
		cancel: cancel,
	}, nil
}

// Start binds the listener, connects to the bootstrap peer if one is
// configured, and launches the accept and broadcast goroutines. A listen
// failure is fatal; a bootstrap failure leaves the node running as a
// listener with no peers.
func (n *Node) Start() error {
	if err := n.tr.Listen(); err != nil {
		return fmt.Errorf("node: listen: %w", err)
	}
	n.log.Info(fmt.Sprintf("My address is %q", n.tr.Addr()))

	if n.cfg.Bootstrap != "" {
		n.bootstrap(n.cfg.Bootstrap)
	}

	n.wg.Add(2)
	go n.acceptLoop()
	go n.broadcastLoop()
	return nil
}

// Stop shuts down the node: every loop exits, every registered connection
// is closed with a graceful "shutdown" to its peer, and the transport is
// released. It blocks until all goroutines have finished.
func (n *Node) Stop() {
	n.stopOnce.Do(func() {
		n.cancel()
		for _, conn := range n.reg.Snapshot() {
			conn.Close() //nolint:errcheck
		}
		n.tr.Close() //nolint:errcheck
	})
	n.wg.Wait()
}

// Addr returns the bound listen address. Valid after Start.
func (n *Node) Addr() string {
	return n.tr.Addr()
}

// PeerCount returns the number of live registered connections.
func (n *Node) PeerCount() int {
	return n.reg.Len()
}

// Connect opens one outbound connection to addr and registers it. The
// accepter's reported peer list is read and discarded.
func (n *Node) Connect(addr string) error {
	_, err := n.connect(addr)
	return err
}

// bootstrap dials the configured peer and then every address that peer
// reports, one round deep. Failures are logged and the node carries on: a
// node that cannot reach its bootstrap peer still serves inbound ones.
func (n *Node) bootstrap(addr string) {
	reported, err := n.connect(addr)
	if err != nil {
		n.log.Info(fmt.Sprintf("Failed to connect to the peer at %s, error: %v", addr, err))
		return
	}
	connected := []string{addr}
	for _, a := range reported {
		if a == addr || a == n.tr.Addr() {
			continue
		}
		if _, err := n.connect(a); err != nil {
			n.log.Info(fmt.Sprintf("Failed to connect to the peer at %s, error: %v", a, err))
			continue
		}
		connected = append(connected, a)
	}
	n.log.Info("Connected to the peers at " + quoteList(connected))
}

// connect dials addr, reads the peer list the accepter sends first, and
// registers the connection. The returned addresses are the accepter's
// other known peers.
func (n *Node) connect(addr string) ([]string, error) {
	ctx, cancel := context.WithTimeout(n.ctx, dialTimeout)
	defer cancel()

	conn, err := n.tr.Dial(ctx, addr)
	if err != nil {
		return nil, err
	}
	first, err := conn.Recv(ctx)
	if err != nil {
		conn.Close() //nolint:errcheck
		return nil, fmt.Errorf("node: read peer list: %w", err)
	}
	reported, err := decodePeerList(first)
	if err != nil {
		conn.Close() //nolint:errcheck
		return nil, err
	}

	tok := n.reg.Register(conn)
	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		n.receiveLoop(conn, tok)
	}()
	return reported, nil
}

// acceptLoop admits inbound connections until the node stops. A failed
// accept never takes the listener down: it is logged and the loop keeps
// going.
func (n *Node) acceptLoop() {
	defer n.wg.Done()
	for {
		conn, err := n.tr.Accept(n.ctx)
		if err != nil {
			if n.ctx.Err() != nil || errors.Is(err, transport.ErrClosed) {
				return
			}
			n.log.Info(fmt.Sprintf("Failed to accept a connection, error: %v", err))
			continue
		}
		n.wg.Add(1)
		go n.handleInbound(conn)
	}
}

// handleInbound runs the accept-side handshake for one connection: it
// announces our current peer set to the dialer, registers the connection,
// and becomes its receive loop. Inbound entries carry no address identity
// beyond what the connection itself reports.
func (n *Node) handleInbound(conn transport.Conn) {
	defer n.wg.Done()
	addr := conn.RemoteAddr()
	n.log.Info(fmt.Sprintf("Accepted a connection from %s", addr))

	list, err := encodePeerList(n.peerAddrs())
	if err == nil {
		err = conn.Send(n.ctx, list)
	}
	if err != nil {
		if n.ctx.Err() == nil {
			n.log.Info(fmt.Sprintf("Failed to send the peer list to %s, error: %v", addr, err))
		}
		conn.Close() //nolint:errcheck
		return
	}

	tok := n.reg.Register(conn)
	n.receiveLoop(conn, tok)
}

// peerAddrs returns the remote address of every registered connection, in
// registration order.
func (n *Node) peerAddrs() []string {
	conns := n.reg.Snapshot()
	addrs := make([]string, len(conns))
	for i, c := range conns {
		addrs[i] = c.RemoteAddr()
	}
	return addrs
}

// receiveLoop reads messages from one connection until it dies. The loop
// owns the registry entry: whatever kills the connection, the entry is
// removed here, exactly once, and the loop never restarts.
func (n *Node) receiveLoop(conn transport.Conn, tok peer.Token) {
	addr := conn.RemoteAddr()
	for {
		msg, err := conn.Recv(n.ctx)
		if err != nil {
			if n.ctx.Err() != nil {
				return
			}
			n.log.Info(fmt.Sprintf("Closed connection to %s, reason: %v", addr, err))
			n.reg.Unregister(tok)
			conn.Close() //nolint:errcheck
			return
		}
		n.log.Info(fmt.Sprintf("Received message [%s] from %s", msg, addr))
		metrics.IncMessagesReceived()
	}
}

// broadcastLoop emits one message per period to every registered
// connection. The first tick fires one period after start.
func (n *Node) broadcastLoop() {
	defer n.wg.Done()
	timer := time.NewTimer(n.cfg.Period)
	defer timer.Stop()
	for {
		select {
		case <-n.ctx.Done():
			return
		case <-timer.C:
		}
		next := time.Now().Add(n.cfg.Period)
		n.broadcast()
		timer.Reset(time.Until(next))
	}
}

// broadcast sends one fresh random message to every connection registered
// at the moment the tick fires. Sends run concurrently; a failure on one
// connection is logged and never stops the others, and cleanup of dead
// connections stays with their receive loops. The addressed set is logged
// after all sends have been attempted.
func (n *Node) broadcast() {
	metrics.IncBroadcastTicks()
	conns := n.reg.Snapshot()
	if len(conns) == 0 {
		return
	}
	msg, err := newMessage()
	if err != nil {
		n.log.Info(fmt.Sprintf("Failed to generate a message, error: %v", err))
		return
	}
	payload := []byte(msg)

	addrs := make([]string, len(conns))
	var wg sync.WaitGroup
	for i, conn := range conns {
		addrs[i] = conn.RemoteAddr()
		wg.Add(1)
		go func(conn transport.Conn, addr string) {
			defer wg.Done()
			if err := conn.Send(n.ctx, payload); err != nil {
				if n.ctx.Err() == nil {
					n.log.Info(fmt.Sprintf("Failed to send to %s, error: %v", addr, err))
				}
				return
			}
			metrics.IncMessagesSent()
		}(conn, addrs[i])
	}
	wg.Wait()
	n.log.Info(fmt.Sprintf("Sending message [%s] to %s", msg, quoteList(addrs)))
}

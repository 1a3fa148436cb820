// Package peer tracks the live connection set of a node.
package peer

import (
	"sort"
	"sync"

	"github.com/meshcast/meshcast/internal/metrics"
	"github.com/meshcast/meshcast/internal/transport"
)

// Token identifies one registered connection. Tokens are never reused
// within a process.
type Token uint64

// Registry is a node's set of live peer connections. Entries are keyed by
// token, not address: two connections to the same peer (one inbound, one
// outbound) coexist as independent entries, and nothing deduplicates them.
type Registry struct {
	mu    sync.Mutex
	next  Token
	conns map[Token]transport.Conn
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{conns: make(map[Token]transport.Conn)}
}

// Register adds conn and returns its token. It never fails; capacity is
// bounded only by memory.
func (r *Registry) Register(conn transport.Conn) Token {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.next++
	tok := r.next
	r.conns[tok] = conn
	metrics.SetPeerCount(len(r.conns))
	return tok
}

// Unregister removes the entry for tok. Removing a token that is already
// gone is a no-op, so the send and receive paths may both report the same
// dead connection without corrupting the set.
func (r *Registry) Unregister(tok Token) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.conns[tok]; !ok {
		return
	}
	delete(r.conns, tok)
	metrics.SetPeerCount(len(r.conns))
}

// Snapshot returns the current connections in registration order. The
// slice is a point-in-time copy: registry changes after the call do not
// affect it.
func (r *Registry) Snapshot() []transport.Conn {
	r.mu.Lock()
	defer r.mu.Unlock()
	toks := make([]Token, 0, len(r.conns))
	for tok := range r.conns {
		toks = append(toks, tok)
	}
	sort.Slice(toks, func(i, j int) bool { return toks[i] < toks[j] })
	out := make([]transport.Conn, len(toks))
	for i, tok := range toks {
		out[i] = r.conns[tok]
	}
	return out
}

// Len returns the number of registered connections.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.conns)
}

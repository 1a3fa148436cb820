package metrics

import "expvar"

var (
	peerCount        = expvar.NewInt("peer_count")
	messagesSent     = expvar.NewInt("messages_sent_total")
	messagesReceived = expvar.NewInt("messages_received_total")
	broadcastTicks   = expvar.NewInt("broadcast_ticks_total")
)

// SetPeerCount sets the current registered connection count.
func SetPeerCount(count int) {
	peerCount.Set(int64(count))
}

// IncMessagesSent increments the outbound message counter.
func IncMessagesSent() {
	messagesSent.Add(1)
}

// IncMessagesReceived increments the inbound message counter.
func IncMessagesReceived() {
	messagesReceived.Add(1)
}

// IncBroadcastTicks increments the broadcast tick counter.
func IncBroadcastTicks() {
	broadcastTicks.Add(1)
}

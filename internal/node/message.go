package node

import (
	"crypto/rand"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/mr-tron/base58"
)

// messageBytes is the length of the random body behind every broadcast.
const messageBytes = 32

// newMessage returns a fresh random message: 32 bytes from crypto/rand,
// base58-encoded. A message has no identity beyond its content.
func newMessage() (string, error) {
	var b [messageBytes]byte
	if _, err := io.ReadFull(rand.Reader, b[:]); err != nil {
		return "", fmt.Errorf("node: generate message: %w", err)
	}
	return base58.Encode(b[:]), nil
}

// encodePeerList serialises the accepter's known peer addresses, sent as
// the first message of every inbound connection.
func encodePeerList(addrs []string) ([]byte, error) {
	if addrs == nil {
		addrs = []string{}
	}
	b, err := json.Marshal(addrs)
	if err != nil {
		return nil, fmt.Errorf("node: encode peer list: %w", err)
	}
	return b, nil
}

func decodePeerList(b []byte) ([]string, error) {
	var addrs []string
	if err := json.Unmarshal(b, &addrs); err != nil {
		return nil, fmt.Errorf("node: decode peer list: %w", err)
	}
	return addrs, nil
}

// quoteList renders addresses the way they appear in console lines:
// ["127.0.0.1:8081", "127.0.0.1:8082"].
func quoteList(items []string) string {
	quoted := make([]string, len(items))
	for i, s := range items {
		quoted[i] = fmt.Sprintf("%q", s)
	}
	return "[" + strings.Join(quoted, ", ") + "]"
}

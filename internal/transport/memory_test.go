package transport

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

// newMemoryPair wires two transports on one fabric and returns the dialer
// side and the accepter side of one established connection.
func newMemoryPair(t *testing.T) (dialer, accepted Conn, a, b *MemoryTransport) {
	t.Helper()
	fabric := NewNetwork()
	a = fabric.Transport("")
	b = fabric.Transport("")
	if err := a.Listen(); err != nil {
		t.Fatalf("listen a: %v", err)
	}
	if err := b.Listen(); err != nil {
		t.Fatalf("listen b: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	dialer, err := b.Dial(ctx, a.Addr())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	accepted, err = a.Accept(ctx)
	if err != nil {
		t.Fatalf("accept: %v", err)
	}
	return dialer, accepted, a, b
}

func TestMemoryDialAndAccept(t *testing.T) {
	dialer, accepted, a, b := newMemoryPair(t)

	if got := dialer.RemoteAddr(); got != a.Addr() {
		t.Fatalf("dialer sees remote %q, want %q", got, a.Addr())
	}
	if got := accepted.RemoteAddr(); got != b.Addr() {
		t.Fatalf("accepter sees remote %q, want %q", got, b.Addr())
	}
}

func TestMemorySendRecvPreservesOrder(t *testing.T) {
	dialer, accepted, _, _ := newMemoryPair(t)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	for _, msg := range []string{"one", "two", "three"} {
		if err := dialer.Send(ctx, []byte(msg)); err != nil {
			t.Fatalf("send %q: %v", msg, err)
		}
	}
	for _, want := range []string{"one", "two", "three"} {
		got, err := accepted.Recv(ctx)
		if err != nil {
			t.Fatalf("recv: %v", err)
		}
		if string(got) != want {
			t.Fatalf("got %q, want %q", got, want)
		}
	}
}

func TestMemoryCloseReportsShutdownToPeer(t *testing.T) {
	dialer, accepted, _, _ := newMemoryPair(t)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	dialer.Close()

	_, err := accepted.Recv(ctx)
	if !errors.Is(err, ErrClosed) {
		t.Fatalf("peer recv error = %v, want ErrClosed", err)
	}
	if !strings.Contains(err.Error(), "shutdown") {
		t.Fatalf("peer close reason %q does not mention shutdown", err)
	}

	if _, err := dialer.Recv(ctx); !errors.Is(err, ErrClosed) {
		t.Fatalf("local recv error = %v, want ErrClosed", err)
	}
	if err := dialer.Send(ctx, []byte("late")); !errors.Is(err, ErrClosed) {
		t.Fatalf("send after close = %v, want ErrClosed", err)
	}
}

func TestMemoryQueuedMessagesSurviveClose(t *testing.T) {
	dialer, accepted, _, _ := newMemoryPair(t)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	dialer.Send(ctx, []byte("first"))
	dialer.Send(ctx, []byte("second"))
	dialer.Close()

	for _, want := range []string{"first", "second"} {
		got, err := accepted.Recv(ctx)
		if err != nil {
			t.Fatalf("recv %q: %v", want, err)
		}
		if string(got) != want {
			t.Fatalf("got %q, want %q", got, want)
		}
	}
	if _, err := accepted.Recv(ctx); !errors.Is(err, ErrClosed) {
		t.Fatalf("recv after drain = %v, want ErrClosed", err)
	}
}

func TestMemoryDialNoListener(t *testing.T) {
	fabric := NewNetwork()
	a := fabric.Transport("")
	if err := a.Listen(); err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	if _, err := a.Dial(ctx, "mem:99"); err == nil {
		t.Fatal("expected an error dialing a missing listener")
	}
}

func TestMemoryRecvContextCancelled(t *testing.T) {
	_, accepted, _, _ := newMemoryPair(t)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(30 * time.Millisecond)
		cancel()
	}()

	_, err := accepted.Recv(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("recv error = %v, want context.Canceled", err)
	}
}

func TestMemoryAcceptAfterTransportClose(t *testing.T) {
	fabric := NewNetwork()
	a := fabric.Transport("")
	if err := a.Listen(); err != nil {
		t.Fatal(err)
	}
	a.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if _, err := a.Accept(ctx); !errors.Is(err, ErrClosed) {
		t.Fatalf("accept after close = %v, want ErrClosed", err)
	}
}

func TestMemoryOversizedSendRejected(t *testing.T) {
	dialer, _, _, _ := newMemoryPair(t)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	err := dialer.Send(ctx, make([]byte, MaxMessageSize+1))
	if err == nil {
		t.Fatal("expected an error for an oversized message")
	}
	if errors.Is(err, ErrClosed) {
		t.Fatal("oversize rejection must not report the connection closed")
	}
}

func TestMemoryAddressAllocation(t *testing.T) {
	fabric := NewNetwork()
	a := fabric.Transport("")
	b := fabric.Transport("")
	if a.Addr() == b.Addr() {
		t.Fatalf("allocated addresses collide: %q", a.Addr())
	}
	named := fabric.Transport("mem:custom")
	if named.Addr() != "mem:custom" {
		t.Fatalf("named transport got %q", named.Addr())
	}
}

func TestMemoryListenAddressInUse(t *testing.T) {
	fabric := NewNetwork()
	a := fabric.Transport("mem:shared")
	b := fabric.Transport("mem:shared")
	if err := a.Listen(); err != nil {
		t.Fatal(err)
	}
	if err := b.Listen(); err == nil {
		t.Fatal("expected an address-in-use error")
	}
}

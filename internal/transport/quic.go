package transport

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/quic-go/quic-go"

	"github.com/meshcast/meshcast/internal/identity"
)

const (
	// closeShutdown is the application close code sent to peers when a
	// connection is shut down deliberately.
	closeShutdown quic.ApplicationErrorCode = 2

	handshakeTimeout = 10 * time.Second
	idleTimeout      = 60 * time.Second
	keepAlivePeriod  = 15 * time.Second // broadcast periods may exceed idleTimeout
)

// QUICTransport implements Transport over QUIC. A single UDP socket backs
// both the listener and every outbound dial, so the source address a peer
// observes on our outbound connections is the address we accept on.
type QUICTransport struct {
	listenAddr string
	creds      *identity.Credentials
	skipVerify bool

	udpConn  *net.UDPConn
	qt       *quic.Transport
	listener *quic.Listener
}

// NewQUIC creates a QUICTransport that will bind listenAddr ("ip:port").
// With skipVerify set, outbound handshakes accept any peer certificate.
func NewQUIC(listenAddr string, creds *identity.Credentials, skipVerify bool) *QUICTransport {
	return &QUICTransport{
		listenAddr: listenAddr,
		creds:      creds,
		skipVerify: skipVerify,
	}
}

func (t *QUICTransport) Listen() error {
	addr, err := net.ResolveUDPAddr("udp", t.listenAddr)
	if err != nil {
		return fmt.Errorf("transport: resolve %s: %w", t.listenAddr, err)
	}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return fmt.Errorf("transport: bind %s: %w", t.listenAddr, err)
	}
	t.udpConn = conn
	t.qt = &quic.Transport{Conn: conn}
	ln, err := t.qt.Listen(t.serverTLS(), quicConfig())
	if err != nil {
		conn.Close() //nolint:errcheck
		return fmt.Errorf("transport: listen: %w", err)
	}
	t.listener = ln
	return nil
}

func (t *QUICTransport) Accept(ctx context.Context) (Conn, error) {
	if t.listener == nil {
		return nil, fmt.Errorf("transport: not listening")
	}
	qc, err := t.listener.Accept(ctx)
	if err != nil {
		return nil, mapErr(err)
	}
	return &quicConn{conn: qc}, nil
}

func (t *QUICTransport) Dial(ctx context.Context, addr string) (Conn, error) {
	if t.qt == nil {
		return nil, fmt.Errorf("transport: not listening")
	}
	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("transport: resolve %s: %w", addr, err)
	}
	qc, err := t.qt.Dial(ctx, udpAddr, t.clientTLS(addr), quicConfig())
	if err != nil {
		return nil, fmt.Errorf("transport: dial %s: %w", addr, err)
	}
	return &quicConn{conn: qc}, nil
}

func (t *QUICTransport) Addr() string {
	if t.listener == nil {
		return t.listenAddr
	}
	return t.listener.Addr().String()
}

func (t *QUICTransport) Close() error {
	if t.listener != nil {
		t.listener.Close() //nolint:errcheck
	}
	if t.qt != nil {
		t.qt.Close() //nolint:errcheck
	}
	if t.udpConn != nil {
		t.udpConn.Close() //nolint:errcheck
	}
	return nil
}

func (t *QUICTransport) serverTLS() *tls.Config {
	return &tls.Config{
		Certificates: []tls.Certificate{t.creds.Certificate},
		NextProtos:   []string{alpn},
	}
}

func (t *QUICTransport) clientTLS(addr string) *tls.Config {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		host = addr
	}
	return &tls.Config{
		Certificates:       []tls.Certificate{t.creds.Certificate},
		ServerName:         host,
		InsecureSkipVerify: t.skipVerify,
		NextProtos:         []string{alpn},
	}
}

func quicConfig() *quic.Config {
	return &quic.Config{
		HandshakeIdleTimeout: handshakeTimeout,
		MaxIdleTimeout:       idleTimeout,
		KeepAlivePeriod:      keepAlivePeriod,
	}
}

// quicConn adapts a quic.Connection to Conn. Each message travels on its
// own unidirectional stream: opened, written, closed by the sender; read
// to the end by the receiver.
type quicConn struct {
	conn quic.Connection
}

func (c *quicConn) Send(ctx context.Context, msg []byte) error {
	if len(msg) > MaxMessageSize {
		return fmt.Errorf("transport: message exceeds %d bytes", MaxMessageSize)
	}
	s, err := c.conn.OpenUniStreamSync(ctx)
	if err != nil {
		return mapErr(err)
	}
	if _, err := s.Write(msg); err != nil {
		return mapErr(err)
	}
	if err := s.Close(); err != nil {
		return mapErr(err)
	}
	return nil
}

func (c *quicConn) Recv(ctx context.Context) ([]byte, error) {
	s, err := c.conn.AcceptUniStream(ctx)
	if err != nil {
		return nil, mapErr(err)
	}
	return readMessage(s)
}

func (c *quicConn) RemoteAddr() string {
	return c.conn.RemoteAddr().String()
}

func (c *quicConn) Close() error {
	return c.conn.CloseWithError(closeShutdown, "shutdown")
}

// readMessage reads one stream to its end, enforcing MaxMessageSize.
func readMessage(s quic.ReceiveStream) ([]byte, error) {
	buf := make([]byte, MaxMessageSize+1)
	n := 0
	for n < len(buf) {
		m, err := s.Read(buf[n:])
		n += m
		if err == io.EOF {
			return buf[:n], nil
		}
		if err != nil {
			return nil, mapErr(err)
		}
	}
	s.CancelRead(quic.StreamErrorCode(0))
	return nil, fmt.Errorf("transport: message exceeds %d bytes", MaxMessageSize)
}

// mapErr converts quic-go errors into transport errors. Anything that
// means the connection or endpoint is gone wraps ErrClosed, keeping the
// close reason in the error text.
func mapErr(err error) error {
	if err == nil {
		return nil
	}
	var appErr *quic.ApplicationError
	if errors.As(err, &appErr) {
		if appErr.ErrorMessage != "" {
			return fmt.Errorf("%w: %s", ErrClosed, appErr.ErrorMessage)
		}
		return fmt.Errorf("%w: code %d", ErrClosed, uint64(appErr.ErrorCode))
	}
	var idleErr *quic.IdleTimeoutError
	if errors.As(err, &idleErr) {
		return fmt.Errorf("%w: idle timeout", ErrClosed)
	}
	var resetErr *quic.StatelessResetError
	if errors.As(err, &resetErr) {
		return fmt.Errorf("%w: stateless reset", ErrClosed)
	}
	var transportErr *quic.TransportError
	if errors.As(err, &transportErr) {
		return fmt.Errorf("%w: %v", ErrClosed, transportErr)
	}
	if errors.Is(err, quic.ErrServerClosed) || errors.Is(err, net.ErrClosed) {
		return fmt.Errorf("%w: %v", ErrClosed, err)
	}
	return err
}

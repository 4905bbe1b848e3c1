package transport

import (
	"context"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/tostmann/enocean-mqtt-bridge/internal/logging"
)

// DefaultConnectTimeout bounds the initial TCP dial.
const DefaultConnectTimeout = 5 * time.Second

// TCP keepalive tuning applied best-effort at connect time; platforms
// that don't support per-socket idle/interval/count tuning still get
// plain SO_KEEPALIVE via KeepAliveConfig.Enable below.
const (
	tcpKeepAliveIdle     = 60 * time.Second
	tcpKeepAliveInterval = 10 * time.Second
	tcpKeepAliveCount    = 3
)

// TCP implements Transport over a host:port endpoint.
type TCP struct {
	host string
	port int

	logger *zap.Logger

	mu   sync.RWMutex
	conn net.Conn
	open bool
}

// NewTCP creates a TCP transport for host:port.
func NewTCP(host string, port int) *TCP {
	return &TCP{
		host:   host,
		port:   port,
		logger: logging.With(zap.String("transport", "tcp"), zap.String("host", host), zap.Int("port", port)),
	}
}

// Open dials the endpoint with a 5s connect timeout and applies
// best-effort keepalive tuning.
func (t *TCP) Open(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.open {
		return nil
	}

	addr := fmt.Sprintf("%s:%d", t.host, t.port)
	dialer := net.Dialer{
		Timeout: DefaultConnectTimeout,
		KeepAliveConfig: net.KeepAliveConfig{
			Enable:   true,
			Idle:     tcpKeepAliveIdle,
			Interval: tcpKeepAliveInterval,
			Count:    tcpKeepAliveCount,
		},
	}

	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("transport: dial %s: %w", addr, err)
	}

	t.conn = conn
	t.open = true
	t.logger.Info("tcp connection opened")
	return nil
}

// Read reads up to len(p) bytes within the 500ms read deadline. A
// deadline exceeded error is translated to (0, nil) per the Transport
// contract; any other error closes the transport.
func (t *TCP) Read(p []byte) (int, error) {
	t.mu.RLock()
	conn, open := t.conn, t.open
	t.mu.RUnlock()

	if !open {
		return 0, ErrClosed
	}

	if err := conn.SetReadDeadline(time.Now().Add(DefaultReadTimeout)); err != nil {
		t.close()
		return 0, fmt.Errorf("transport: set read deadline: %w", err)
	}

	n, err := conn.Read(p)
	if err == nil {
		return n, nil
	}
	if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
		return n, nil
	}
	if err == io.EOF {
		t.close()
		return n, io.EOF
	}
	t.logger.Warn("tcp read error", zap.Error(err))
	t.close()
	return n, err
}

// Write sends buf in one call.
func (t *TCP) Write(buf []byte) error {
	t.mu.RLock()
	conn, open := t.conn, t.open
	t.mu.RUnlock()

	if !open {
		return ErrClosed
	}

	n, err := conn.Write(buf)
	if err != nil {
		t.close()
		return fmt.Errorf("transport: tcp write: %w", err)
	}
	if n != len(buf) {
		t.close()
		return fmt.Errorf("transport: tcp short write: wrote %d of %d bytes", n, len(buf))
	}
	return nil
}

// FlushInput drains any bytes currently available, by reading with a
// short (10ms) deadline until a read times out or fails.
func (t *TCP) FlushInput() error {
	t.mu.RLock()
	conn, open := t.conn, t.open
	t.mu.RUnlock()

	if !open {
		return ErrClosed
	}

	buf := make([]byte, 512)
	for {
		if err := conn.SetReadDeadline(time.Now().Add(10 * time.Millisecond)); err != nil {
			return fmt.Errorf("transport: set read deadline: %w", err)
		}
		_, err := conn.Read(buf)
		if err != nil {
			if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
				return nil
			}
			return nil
		}
	}
}

// IsOpen reports the liveness flag.
func (t *TCP) IsOpen() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.open
}

// Close closes the TCP connection. Safe to call more than once.
func (t *TCP) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closeLocked()
}

func (t *TCP) close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	_ = t.closeLocked()
}

func (t *TCP) closeLocked() error {
	if !t.open {
		return nil
	}
	t.open = false
	if t.conn != nil {
		err := t.conn.Close()
		t.conn = nil
		return err
	}
	return nil
}

// Name identifies this transport for logging.
func (t *TCP) Name() string {
	return fmt.Sprintf("tcp:%s:%d", t.host, t.port)
}

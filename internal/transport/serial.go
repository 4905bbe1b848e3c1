package transport

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"go.bug.st/serial"
	"go.uber.org/zap"

	"github.com/tostmann/enocean-mqtt-bridge/internal/logging"
)

// DefaultBaud is the default serial baud rate for EnOcean gateways (8N1).
const DefaultBaud = 57600

// DefaultReadTimeout is the per-Read timeout on an open serial port.
const DefaultReadTimeout = 500 * time.Millisecond

// Serial implements Transport over a local serial port.
type Serial struct {
	path   string
	baud   int
	logger *zap.Logger

	mu     sync.RWMutex
	port   serial.Port
	open   bool
}

// NewSerial creates a Serial transport for path at baud (0 selects
// DefaultBaud).
func NewSerial(path string, baud int) *Serial {
	if baud == 0 {
		baud = DefaultBaud
	}
	return &Serial{
		path:   path,
		baud:   baud,
		logger: logging.With(zap.String("transport", "serial"), zap.String("port", path)),
	}
}

// Open opens the serial port with 8N1 framing and the default read
// timeout.
func (s *Serial) Open(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.open {
		return nil
	}

	mode := &serial.Mode{
		BaudRate: s.baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}

	port, err := serial.Open(s.path, mode)
	if err != nil {
		return fmt.Errorf("transport: open serial port %s: %w", s.path, err)
	}
	if err := port.SetReadTimeout(DefaultReadTimeout); err != nil {
		_ = port.Close()
		return fmt.Errorf("transport: set read timeout: %w", err)
	}

	s.port = port
	s.open = true
	s.logger.Info("serial port opened", zap.Int("baud", s.baud))
	return nil
}

// Read reads up to len(p) bytes. go.bug.st/serial returns (0, nil) on its
// configured read timeout, matching the Transport contract directly.
func (s *Serial) Read(p []byte) (int, error) {
	s.mu.RLock()
	port, open := s.port, s.open
	s.mu.RUnlock()

	if !open {
		return 0, ErrClosed
	}

	n, err := port.Read(p)
	if err != nil && err != io.EOF {
		s.logger.Warn("serial read error", zap.Error(err))
	}
	if err != nil {
		s.close()
	}
	return n, err
}

// Write writes buf in one call; go.bug.st/serial does not do partial
// writes on success.
func (s *Serial) Write(buf []byte) error {
	s.mu.RLock()
	port, open := s.port, s.open
	s.mu.RUnlock()

	if !open {
		return ErrClosed
	}

	n, err := port.Write(buf)
	if err != nil {
		s.close()
		return fmt.Errorf("transport: serial write: %w", err)
	}
	if n != len(buf) {
		s.close()
		return fmt.Errorf("transport: serial short write: wrote %d of %d bytes", n, len(buf))
	}
	return nil
}

// FlushInput discards any buffered input.
func (s *Serial) FlushInput() error {
	s.mu.RLock()
	port, open := s.port, s.open
	s.mu.RUnlock()

	if !open {
		return ErrClosed
	}
	return port.ResetInputBuffer()
}

// IsOpen reports the liveness flag.
func (s *Serial) IsOpen() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.open
}

// Close closes the serial port. Safe to call more than once.
func (s *Serial) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closeLocked()
}

// close acquires the lock and closes; used by Read/Write on fatal errors.
func (s *Serial) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	_ = s.closeLocked()
}

func (s *Serial) closeLocked() error {
	if !s.open {
		return nil
	}
	s.open = false
	if s.port != nil {
		err := s.port.Close()
		s.port = nil
		return err
	}
	return nil
}

// Name identifies this transport for logging.
func (s *Serial) Name() string {
	return fmt.Sprintf("serial:%s", s.path)
}

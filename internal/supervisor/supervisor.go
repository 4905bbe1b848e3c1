// Package supervisor implements the transport supervisor: idle-based
// keepalive, reconnect-with-backoff, and command/response correlation
// around a single transport.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/tostmann/enocean-mqtt-bridge/internal/logging"
	"github.com/tostmann/enocean-mqtt-bridge/internal/transport"
	"github.com/tostmann/enocean-mqtt-bridge/pkg/esp3"
)

// Loop timing, kept as vars so tests can shrink them.
var (
	ReconnectDelay        = 5 * time.Second
	PingInterval          = 30 * time.Second
	PingTimeout           = 10 * time.Second
	DefaultCommandTimeout = 2 * time.Second
)

// errReadTick signals "no data arrived within this read's timeout", as
// opposed to a real I/O error. It never escapes the package.
var errReadTick = errors.New("supervisor: no data this read tick")

// tickReader adapts Transport's "timeout returns (0, nil)" convention
// into a genuine io.Reader error. Without this, io.ReadFull (used inside
// the esp3 framer's sync scan) would retry a (0, nil) read forever
// instead of giving control back to the loop so idle timers can run.
type tickReader struct{ t transport.Transport }

func (r tickReader) Read(p []byte) (int, error) {
	n, err := r.t.Read(p)
	if n == 0 && err == nil {
		return 0, errReadTick
	}
	return n, err
}

// writeAdapter adapts Transport.Write's error-only signature to io.Writer,
// which the esp3 framer's WritePacket expects.
type writeAdapter struct{ t transport.Transport }

func (w writeAdapter) Write(p []byte) (int, error) {
	if err := w.t.Write(p); err != nil {
		return 0, err
	}
	return len(p), nil
}

// gatewayIdentity is the gateway address/version info acquired once per
// transport session.
type gatewayIdentity struct {
	baseID  string
	version esp3.VersionInfo
}

// Supervisor drives one transport end-to-end: a single-threaded
// cooperative loop that owns all I/O on it, reconnects on failure,
// pings an idle link, and hands decoded RADIO_ERP1 packets to Dispatch.
// Methods other than Stop/Identity must only be called from the Run
// goroutine (or before Run starts); only one read or write is ever in
// flight on the transport.
type Supervisor struct {
	transport transport.Transport
	dispatch  func(*esp3.Packet)
	logger    *zap.Logger

	mu           sync.Mutex
	framer       *esp3.StreamFramer
	lastRx       time.Time
	lastPingAt   time.Time
	identity     gatewayIdentity
	haveIdentity bool

	running atomic.Bool
}

// New creates a Supervisor over t. dispatch is invoked synchronously,
// on the Run goroutine, for every RADIO_ERP1 packet received (including
// ones observed incidentally while SendCommand waits for a RESPONSE).
func New(t transport.Transport, dispatch func(*esp3.Packet)) *Supervisor {
	return &Supervisor{
		transport: t,
		dispatch:  dispatch,
		logger:    logging.With(zap.String("component", "supervisor"), zap.String("transport", t.Name())),
	}
}

// Identity returns the gateway's base id and version info, and whether
// they've been acquired yet this session.
func (s *Supervisor) Identity() (baseID string, version esp3.VersionInfo, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.identity.baseID, s.identity.version, s.haveIdentity
}

// Run drives the supervisor loop until ctx is cancelled or Stop is
// called. It never blocks indefinitely: while the link is up each
// iteration bounds its wait to about one read timeout, and while it is
// down to the reconnect delay, so Stop is observed within one of those.
func (s *Supervisor) Run(ctx context.Context) error {
	s.running.Store(true)
	defer func() {
		s.running.Store(false)
		s.transport.Close()
	}()

	for s.running.Load() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if !s.transport.IsOpen() {
			s.reconnect(ctx)
			continue
		}

		pkt, err := s.readOnePacket()
		switch {
		case err != nil && errors.Is(err, errReadTick):
			s.checkIdle()
		case err != nil:
			s.logFramingError(err)
			s.checkIdle()
		case pkt == nil:
			s.checkIdle()
		default:
			s.markReceived()
			s.handlePacket(pkt)
		}
	}
	return nil
}

// Stop requests the loop to exit; an in-flight read is allowed to
// complete or time out first.
func (s *Supervisor) Stop() {
	s.running.Store(false)
}

func (s *Supervisor) handlePacket(pkt *esp3.Packet) {
	switch pkt.Type {
	case esp3.PacketTypeRadioERP1:
		if s.dispatch != nil {
			s.dispatch(pkt)
		}
	case esp3.PacketTypeResponse:
		s.logger.Debug("received unsolicited response packet outside SendCommand")
	}
}

func (s *Supervisor) markReceived() {
	s.mu.Lock()
	s.lastRx = time.Now()
	s.mu.Unlock()
}

func (s *Supervisor) readOnePacket() (*esp3.Packet, error) {
	s.mu.Lock()
	framer := s.framer
	s.mu.Unlock()
	if framer == nil {
		return nil, errReadTick
	}
	return framer.ReadPacket()
}

// reconnect implements loop step 1: wait the reconnect delay, attempt
// re-open, drain input, and re-fetch identity if unknown.
func (s *Supervisor) reconnect(ctx context.Context) {
	select {
	case <-ctx.Done():
		return
	case <-time.After(ReconnectDelay):
	}
	if !s.running.Load() {
		return
	}

	if err := s.transport.Open(ctx); err != nil {
		s.logger.Warn("reconnect failed", zap.Error(err))
		return
	}
	if err := s.transport.FlushInput(); err != nil {
		s.logger.Warn("flush input after (re)connect failed", zap.Error(err))
	}

	s.mu.Lock()
	s.framer = esp3.NewStreamFramer(tickReader{s.transport}, writeAdapter{s.transport})
	s.lastRx = time.Now()
	s.lastPingAt = time.Time{}
	needIdentity := !s.haveIdentity
	s.mu.Unlock()

	s.logger.Info("transport (re)opened")

	if needIdentity {
		s.fetchIdentity()
	}
}

// checkIdle implements loop steps 3/4: ping an idle link, or declare it
// dead and close it once idle exceeds ping_interval+ping_timeout.
func (s *Supervisor) checkIdle() {
	s.mu.Lock()
	framer := s.framer
	idle := time.Since(s.lastRx)
	sincePing := time.Since(s.lastPingAt)
	s.mu.Unlock()

	if framer == nil {
		return
	}

	if idle > PingInterval+PingTimeout {
		s.logger.Warn("link presumed dead, closing for reconnect", zap.Duration("idle", idle))
		s.transport.Close()
		s.mu.Lock()
		s.framer = nil
		s.mu.Unlock()
		return
	}

	if idle > PingInterval && sincePing >= PingTimeout {
		s.mu.Lock()
		s.lastPingAt = time.Now()
		s.mu.Unlock()

		if err := framer.WritePacket(esp3.NewReadVersion()); err != nil {
			s.logger.Warn("keepalive ping failed", zap.Error(err))
		} else {
			s.logger.Debug("sent keepalive ping", zap.Duration("idle", idle))
		}
	}
}

// SendCommand writes cmd and waits up to timeout for the first RESPONSE
// packet, forwarding any RADIO_ERP1 packets observed meanwhile to
// Dispatch. Must be called from the Run goroutine (or
// before Run starts) since it reads directly from the shared framer.
func (s *Supervisor) SendCommand(cmd *esp3.Packet, timeout time.Duration) (*esp3.Packet, error) {
	s.mu.Lock()
	framer := s.framer
	s.mu.Unlock()
	if framer == nil {
		return nil, transport.ErrClosed
	}

	if err := framer.WritePacket(cmd); err != nil {
		return nil, fmt.Errorf("supervisor: write command: %w", err)
	}

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		pkt, err := framer.ReadPacket()
		if err != nil {
			if !errors.Is(err, errReadTick) {
				s.logFramingError(err)
			}
			continue
		}
		if pkt == nil {
			continue
		}

		s.markReceived()
		if pkt.Type == esp3.PacketTypeResponse {
			return pkt, nil
		}
		if pkt.Type == esp3.PacketTypeRadioERP1 && s.dispatch != nil {
			s.dispatch(pkt)
		}
	}
	return nil, fmt.Errorf("supervisor: command %s timed out after %s", cmd.Type, timeout)
}

// SendPacket writes pkt without waiting for a response: used for
// fire-and-forget telegrams such as a teach-in response.
func (s *Supervisor) SendPacket(pkt *esp3.Packet) error {
	s.mu.Lock()
	framer := s.framer
	s.mu.Unlock()
	if framer == nil {
		return transport.ErrClosed
	}
	return framer.WritePacket(pkt)
}

func (s *Supervisor) fetchIdentity() {
	baseResp, err := s.SendCommand(esp3.NewReadBaseID(), DefaultCommandTimeout)
	if err != nil {
		s.logger.Warn("failed to read gateway base id", zap.Error(err))
		return
	}
	baseID, ok := baseResp.BaseID()
	if !ok {
		s.logger.Warn("read base id response malformed")
		return
	}

	verResp, err := s.SendCommand(esp3.NewReadVersion(), DefaultCommandTimeout)
	if err != nil {
		s.logger.Warn("failed to read gateway version info", zap.Error(err))
		return
	}
	version, ok := verResp.VersionInfo()
	if !ok {
		s.logger.Warn("read version response malformed")
		return
	}

	s.mu.Lock()
	s.identity = gatewayIdentity{baseID: baseID, version: version}
	s.haveIdentity = true
	s.mu.Unlock()

	s.logger.Info("acquired gateway identity",
		zap.String("base_id", baseID),
		zap.String("app_version", version.AppVersion),
		zap.String("chip_id", version.ChipID))
}

func (s *Supervisor) logFramingError(err error) {
	switch {
	case errors.Is(err, esp3.ErrHeaderCRC), errors.Is(err, esp3.ErrBodyCRC), errors.Is(err, esp3.ErrBodyTooLarge):
		s.logger.Debug("framing error, resyncing", zap.Error(err))
	default:
		s.logger.Debug("transport read error", zap.Error(err))
	}
}

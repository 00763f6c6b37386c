package udp

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/netip"
	"sync"
	"sync/atomic"

	"golang.org/x/net/ipv4"
	"golang.org/x/time/rate"

	"github.com/postalsys/anchor/internal/logging"
	"github.com/postalsys/anchor/internal/metrics"
)

// Socket is a bound UDP endpoint owned by a single caller from Open until Close.
type Socket struct {
	sendMu sync.Mutex // held for a whole stream
	recvMu sync.Mutex

	conn    *net.UDPConn
	pconn   *ipv4.PacketConn
	local   netip.AddrPort
	cfg     Config
	limiter *rate.Limiter
	logger  *slog.Logger
	metrics *metrics.Metrics

	closed atomic.Bool
}

// Open binds a UDP socket to localAddr:localPort. localAddr must be an IPv4
// dotted quad; "0.0.0.0" binds every interface. On failure no descriptor is
// left open.
func Open(localAddr string, localPort uint16, cfg Config, logger *slog.Logger) (*Socket, error) {
	ip, err := ParseIPv4(localAddr)
	if err != nil {
		return nil, err
	}
	return OpenAddrPort(netip.AddrPortFrom(ip, localPort), cfg, logger)
}

// OpenAddrPort is Open with an already parsed endpoint.
func OpenAddrPort(local netip.AddrPort, cfg Config, logger *slog.Logger) (*Socket, error) {
	if !local.Addr().Is4() {
		return nil, fmt.Errorf("%w: %s is not IPv4", ErrInvalidAddress, local.Addr())
	}

	lc := net.ListenConfig{}
	if cfg.ReuseAddr {
		lc.Control = reuseAddrControl
	}

	// The net package closes the descriptor itself when bind fails.
	pc, err := lc.ListenPacket(context.Background(), "udp4", local.String())
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrBind, local, err)
	}
	conn := pc.(*net.UDPConn)

	pconn := ipv4.NewPacketConn(conn)
	if cfg.TTL > 0 {
		if err := pconn.SetTTL(cfg.TTL); err != nil {
			conn.Close()
			return nil, fmt.Errorf("set TTL %d: %w", cfg.TTL, err)
		}
	}
	if cfg.TOS > 0 {
		if err := pconn.SetTOS(cfg.TOS); err != nil {
			conn.Close()
			return nil, fmt.Errorf("set TOS %d: %w", cfg.TOS, err)
		}
	}

	s := &Socket{
		conn:   conn,
		pconn:  pconn,
		local:  unmap(conn.LocalAddr().(*net.UDPAddr).AddrPort()),
		cfg:    cfg,
		logger: logging.Component(logger, "udp"),
	}

	if cfg.BytesPerSecond > 0 {
		// A whole batch is released at once, so the burst must hold one.
		burst := cfg.chunkSize() * cfg.batchSize()
		s.limiter = rate.NewLimiter(rate.Limit(cfg.BytesPerSecond), burst)
	}

	s.logger.Debug("socket bound", logging.KeyLocalAddr, s.local.String())
	return s, nil
}

// SetMetrics attaches a metrics sink. Call before the socket is shared.
func (s *Socket) SetMetrics(m *metrics.Metrics) {
	s.metrics = m
	if m != nil {
		m.RecordSocketOpen()
	}
}

// LocalAddr returns the bound endpoint, with the kernel-chosen port when the
// socket was opened on port 0.
func (s *Socket) LocalAddr() netip.AddrPort {
	return s.local
}

// Close releases the socket. Calling Close more than once is a no-op.
func (s *Socket) Close() error {
	if s.closed.Swap(true) {
		return nil
	}

	err := s.conn.Close()
	if s.metrics != nil {
		s.metrics.RecordSocketClose()
	}
	s.logger.Debug("socket closed", logging.KeyLocalAddr, s.local.String())
	return err
}

// IsClosed reports whether Close has been called.
func (s *Socket) IsClosed() bool {
	return s.closed.Load()
}

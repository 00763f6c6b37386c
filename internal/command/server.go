package command

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/netip"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/postalsys/anchor/internal/logging"
	"github.com/postalsys/anchor/internal/metrics"
	"github.com/postalsys/anchor/internal/recovery"
)

// Info answers the daemon's query commands.
type Info interface {
	// BufferLength returns the number of samples per buffer.
	BufferLength() int

	// SampleRate returns the sample rate in samples per second.
	SampleRate() int
}

// Dispatcher receives streaming requests. Submit must not block.
type Dispatcher interface {
	Submit(req Request)
}

// ServerConfig contains command server configuration.
type ServerConfig struct {
	// Address to listen on (e.g., "0.0.0.0:2206")
	Address string

	// PortOffset is added to the peer's source port to form the data port.
	PortOffset int

	// ReadTimeout closes connections idle for longer than this. Zero disables it.
	ReadTimeout time.Duration

	// AllowPower enables the halt and boot commands.
	AllowPower bool
}

// DefaultServerConfig returns sensible defaults.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Address:    "0.0.0.0:2206",
		PortOffset: 1000,
	}
}

// Server is the TCP command listener.
type Server struct {
	cfg        ServerConfig
	info       Info
	dispatcher Dispatcher
	power      Power
	metrics    *metrics.Metrics
	logger     *slog.Logger

	listener net.Listener
	running  atomic.Bool

	mu    sync.Mutex
	conns map[net.Conn]struct{}
	wg    sync.WaitGroup
}

// NewServer creates a new command server.
func NewServer(cfg ServerConfig, info Info, dispatcher Dispatcher, logger *slog.Logger) *Server {
	return &Server{
		cfg:        cfg,
		info:       info,
		dispatcher: dispatcher,
		logger:     logging.Component(logger, "command"),
		conns:      make(map[net.Conn]struct{}),
	}
}

// SetPower sets the power controller used by halt and boot.
func (s *Server) SetPower(p Power) {
	s.power = p
}

// SetMetrics enables command counters.
func (s *Server) SetMetrics(m *metrics.Metrics) {
	s.metrics = m
}

// Start starts the command server. It listens on IPv4 only since data
// streams can only be sent to IPv4 peers.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp4", s.cfg.Address)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.cfg.Address, err)
	}
	s.listener = ln
	s.running.Store(true)

	s.logger.Info("command server listening", logging.KeyAddress, ln.Addr().String())

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer recovery.RecoverWithLog(s.logger, "command.accept")
		s.acceptLoop()
	}()

	return nil
}

// Stop closes the listener and all open connections, then waits for the
// connection handlers to return.
func (s *Server) Stop() error {
	if !s.running.Swap(false) {
		return nil
	}

	err := s.listener.Close()

	s.mu.Lock()
	for c := range s.conns {
		c.Close()
	}
	s.mu.Unlock()

	s.wg.Wait()
	return err
}

// Address returns the listener address.
func (s *Server) Address() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// IsRunning returns true if the server is accepting connections.
func (s *Server) IsRunning() bool {
	return s.running.Load()
}

func (s *Server) acceptLoop() {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if s.running.Load() {
				s.logger.Error("accept failed", logging.KeyError, err)
			}
			return
		}

		s.mu.Lock()
		s.conns[conn] = struct{}{}
		s.mu.Unlock()

		if !s.running.Load() {
			s.forget(conn)
			return
		}

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer recovery.RecoverWithLog(s.logger, "command.conn")
			defer s.forget(conn)
			s.serve(conn)
		}()
	}
}

func (s *Server) forget(conn net.Conn) {
	s.mu.Lock()
	delete(s.conns, conn)
	s.mu.Unlock()
	conn.Close()
}

func (s *Server) serve(conn net.Conn) {
	peer, err := netip.ParseAddrPort(conn.RemoteAddr().String())
	if err != nil {
		s.logger.Warn("unparseable peer", logging.KeyRemoteAddr, conn.RemoteAddr().String(), logging.KeyError, err)
		return
	}
	peer = netip.AddrPortFrom(peer.Addr().Unmap(), peer.Port())

	target, err := Target(peer, s.cfg.PortOffset)
	if err != nil {
		s.logger.Warn("rejecting connection", logging.KeyRemoteAddr, peer.String(), logging.KeyError, err)
		return
	}

	logger := s.logger.With(logging.KeyRemoteAddr, peer.String())
	logger.Debug("connection opened", logging.KeyTarget, target.String())

	buf := make([]byte, Size)
	for {
		if s.cfg.ReadTimeout > 0 {
			conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
		}
		if _, err := io.ReadFull(conn, buf); err != nil {
			if !errors.Is(err, io.EOF) && s.running.Load() {
				logger.Debug("connection closed", logging.KeyError, err)
			}
			return
		}

		cmd := string(buf)
		reply, ok := s.handle(cmd, target, logger)
		if !ok {
			logger.Warn("unknown command, closing connection", logging.KeyCommand, strconv.Quote(cmd))
			s.record("unknown")
			return
		}
		if reply == "" {
			continue
		}
		if _, err := io.WriteString(conn, reply); err != nil {
			logger.Debug("reply failed", logging.KeyCommand, cmd, logging.KeyError, err)
			return
		}
	}
}

// handle executes cmd and returns the reply to send, if any. ok is false for
// unknown commands.
func (s *Server) handle(cmd string, target netip.AddrPort, logger *slog.Logger) (reply string, ok bool) {
	switch cmd {
	case CmdPing:
		s.record(cmd)
		return CmdPing, true

	case CmdBufLen:
		s.record(cmd)
		return strconv.Itoa(s.info.BufferLength()), true

	case CmdRate:
		s.record(cmd)
		return strconv.Itoa(s.info.SampleRate()), true

	case CmdData:
		s.record(cmd)
		s.submit(Request{Target: target, Count: Forever}, logger)
		return "", true

	case CmdStop:
		s.record(cmd)
		s.submit(Request{Target: target, Count: 0}, logger)
		return "", true

	case CmdHalt, CmdBoot:
		s.record(cmd)
		return s.powerAction(cmd, logger), true
	}

	if n, isCount := ParseCount(cmd); isCount {
		s.record("count")
		s.submit(Request{Target: target, Count: n}, logger)
		return "", true
	}

	return "", false
}

func (s *Server) submit(req Request, logger *slog.Logger) {
	logger.Info("stream request", logging.KeyTarget, req.Target.String(), logging.KeyCount, req.Count)
	s.dispatcher.Submit(req)
}

func (s *Server) powerAction(cmd string, logger *slog.Logger) string {
	if !s.cfg.AllowPower || s.power == nil {
		logger.Warn("power command denied", logging.KeyCommand, cmd)
		return ReplyDeny
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	var err error
	if cmd == CmdHalt {
		err = s.power.Poweroff(ctx)
	} else {
		err = s.power.Reboot(ctx)
	}
	if err != nil {
		logger.Error("power command failed", logging.KeyCommand, cmd, logging.KeyError, err)
		return ReplyFail
	}

	logger.Warn("power command executed", logging.KeyCommand, cmd)
	return cmd
}

func (s *Server) record(cmd string) {
	if s.metrics != nil {
		s.metrics.RecordCommand(cmd)
	}
}

package anchor

import (
	"context"
	"errors"
	"log/slog"
	"net/netip"
	"sync"
	"sync/atomic"

	"github.com/postalsys/anchor/internal/command"
	"github.com/postalsys/anchor/internal/logging"
	"github.com/postalsys/anchor/internal/metrics"
	"github.com/postalsys/anchor/internal/source"
	"github.com/postalsys/anchor/internal/udp"
)

// Streamer sends source buffers to the host named by the latest request.
// Each buffer goes out as one complete stream.
type Streamer struct {
	sock    *udp.Socket
	src     source.Source
	logger  *slog.Logger
	metrics *metrics.Metrics

	mu      sync.Mutex
	pending *command.Request
	wake    chan struct{}

	running     atomic.Bool
	streaming   atomic.Bool
	buffersSent atomic.Uint64
	bytesSent   atomic.Uint64
	sendErrors  atomic.Uint64
	target      atomic.Pointer[netip.AddrPort]
}

// NewStreamer creates a streamer that sends buffers from src over sock.
func NewStreamer(sock *udp.Socket, src source.Source, logger *slog.Logger) *Streamer {
	return &Streamer{
		sock:   sock,
		src:    src,
		logger: logging.Component(logger, "streamer"),
		wake:   make(chan struct{}, 1),
	}
}

// SetMetrics enables refill and streaming metrics.
func (s *Streamer) SetMetrics(m *metrics.Metrics) {
	s.metrics = m
}

// Submit replaces any request not yet picked up by the run loop.
func (s *Streamer) Submit(req command.Request) {
	s.mu.Lock()
	s.pending = &req
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// BufferLength returns the source's samples per buffer.
func (s *Streamer) BufferLength() int {
	return s.src.BufferLength()
}

// SampleRate returns the source's sample rate.
func (s *Streamer) SampleRate() int {
	return s.src.SampleRate()
}

func (s *Streamer) takePending() (command.Request, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pending == nil {
		return command.Request{}, false
	}
	req := *s.pending
	s.pending = nil
	return req, true
}

// Run streams until ctx is done. It returns ctx.Err() on cancellation, or the
// error that stopped the loop.
func (s *Streamer) Run(ctx context.Context) error {
	if !s.running.CompareAndSwap(false, true) {
		return errors.New("streamer already running")
	}
	defer s.running.Store(false)
	defer s.setStreaming(false)

	var (
		target    netip.AddrPort
		remaining int
	)

	for {
		if remaining == 0 {
			s.setStreaming(false)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-s.wake:
			}
		} else if err := ctx.Err(); err != nil {
			return err
		}

		if err := s.src.Refill(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}
		if s.metrics != nil {
			s.metrics.RecordRefill()
		}

		if req, ok := s.takePending(); ok {
			target, remaining = req.Target, req.Count
			s.target.Store(&req.Target)
			s.logger.Debug("request applied", logging.KeyTarget, target.String(), logging.KeyCount, remaining)
		}
		if remaining == 0 {
			continue
		}

		s.setStreaming(true)
		n, err := s.sock.SendStreamTo(ctx, s.src.Buffer(), target)
		s.bytesSent.Add(uint64(n))
		switch {
		case err == nil:
			s.buffersSent.Add(1)
		case ctx.Err() != nil:
			return ctx.Err()
		case errors.Is(err, udp.ErrClosed):
			return err
		default:
			s.sendErrors.Add(1)
			s.logger.Warn("stream send failed",
				logging.KeyTarget, target.String(),
				logging.KeyBytes, n,
				logging.KeyError, err)
		}

		if remaining > 0 {
			remaining--
		}
	}
}

func (s *Streamer) setStreaming(active bool) {
	if s.streaming.Swap(active) == active {
		return
	}
	if s.metrics != nil {
		s.metrics.SetStreaming(active)
	}
}

// IsRunning returns true while Run is executing.
func (s *Streamer) IsRunning() bool {
	return s.running.Load()
}

// StreamerStats is a snapshot of streamer counters.
type StreamerStats struct {
	Streaming   bool
	Target      string
	BuffersSent uint64
	BytesSent   uint64
	SendErrors  uint64
}

// Stats returns a snapshot of the streamer's counters.
func (s *Streamer) Stats() StreamerStats {
	st := StreamerStats{
		Streaming:   s.streaming.Load(),
		BuffersSent: s.buffersSent.Load(),
		BytesSent:   s.bytesSent.Load(),
		SendErrors:  s.sendErrors.Load(),
	}
	if t := s.target.Load(); t != nil {
		st.Target = t.String()
	}
	return st
}

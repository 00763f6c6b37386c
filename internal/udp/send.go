package udp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/netip"
	"os"
	"time"

	"golang.org/x/net/ipv4"

	"github.com/postalsys/anchor/internal/logging"
)

// SendStream sends payload to remoteAddr:remotePort as a sequence of chunks of
// at most Config.MaxChunkSize bytes followed by one zero-length terminator.
// An empty payload sends only the terminator.
//
// It returns the number of payload bytes handed to the kernel. If ctx is
// already done nothing is sent and the context error is returned. Any later
// failure is a *SendError and the terminator has not been sent.
func (s *Socket) SendStream(ctx context.Context, payload []byte, remoteAddr string, remotePort uint16) (int, error) {
	ip, err := ParseIPv4(remoteAddr)
	if err != nil {
		return 0, err
	}
	return s.SendStreamTo(ctx, payload, netip.AddrPortFrom(ip, remotePort))
}

// SendStreamTo is SendStream with an already parsed destination.
func (s *Socket) SendStreamTo(ctx context.Context, payload []byte, dst netip.AddrPort) (int, error) {
	if !dst.Addr().Is4() {
		return 0, fmt.Errorf("%w: %s is not IPv4", ErrInvalidAddress, dst.Addr())
	}

	s.sendMu.Lock()
	defer s.sendMu.Unlock()

	if s.closed.Load() {
		return 0, ErrClosed
	}

	start := time.Now()
	chunks := Chunks(payload, s.cfg.chunkSize())

	var sent int
	err := ctx.Err()
	if err != nil {
		err = fmt.Errorf("stream not started: %w", err)
	} else if sent, err = s.writeChunks(ctx, chunks, dst); err == nil {
		// Empty datagram marks end of stream.
		if err = s.writeOne(nil, dst); err != nil {
			err = &SendError{Chunk: len(chunks), Chunks: len(chunks), Sent: sent, Err: err}
		}
	}

	if err != nil {
		if s.metrics != nil {
			s.metrics.RecordStreamError(errorReason(err))
		}
		s.logger.Warn("stream aborted",
			logging.KeyRemoteAddr, dst.String(),
			logging.KeyBytes, sent,
			logging.KeyError, err)
		return sent, err
	}

	elapsed := time.Since(start)
	if s.metrics != nil {
		s.metrics.RecordStreamSent(len(chunks), sent, elapsed.Seconds())
	}
	s.logger.Debug("stream sent",
		logging.KeyRemoteAddr, dst.String(),
		logging.KeyChunks, len(chunks),
		logging.KeyBytes, sent,
		logging.KeyDuration, elapsed)

	return sent, nil
}

// writeChunks sends the data datagrams in order, BatchSize at a time.
func (s *Socket) writeChunks(ctx context.Context, chunks [][]byte, dst netip.AddrPort) (int, error) {
	batch := s.cfg.batchSize()
	udpDst := net.UDPAddrFromAddrPort(dst)
	sent := 0

	for i := 0; i < len(chunks); i += batch {
		group := chunks[i:min(i+batch, len(chunks))]

		fail := func(n int, err error) (int, error) {
			return sent, &SendError{Chunk: i + n, Chunks: len(chunks), Sent: sent, Err: err}
		}

		if err := ctx.Err(); err != nil {
			return fail(0, err)
		}
		if s.limiter != nil {
			if err := s.pace(ctx, totalLen(group)); err != nil {
				return fail(0, err)
			}
		}

		var n int
		var err error
		if len(group) == 1 {
			if err = s.writeOne(group[0], dst); err == nil {
				n = 1
			}
		} else {
			n, err = s.writeBatch(group, udpDst)
		}

		sent += totalLen(group[:n])
		if err != nil {
			return fail(n, err)
		}
	}

	return sent, nil
}

// pace blocks until the limiter admits n bytes. Only ctx cuts the wait short,
// so a deadline is honored to the instant it expires.
func (s *Socket) pace(ctx context.Context, n int) error {
	r := s.limiter.ReserveN(time.Now(), n)
	if !r.OK() {
		return fmt.Errorf("%d bytes exceed the rate limiter burst", n)
	}

	delay := r.Delay()
	if delay == 0 {
		return nil
	}

	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		r.Cancel()
		return ctx.Err()
	}
}

func (s *Socket) writeOne(b []byte, dst netip.AddrPort) error {
	if s.cfg.WriteTimeout > 0 {
		s.conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
	}
	_, err := s.conn.WriteToUDPAddrPort(b, dst)
	return err
}

// writeBatch hands a group of datagrams to the kernel with as few syscalls as
// the platform allows and returns how many went out.
func (s *Socket) writeBatch(group [][]byte, dst *net.UDPAddr) (int, error) {
	msgs := make([]ipv4.Message, len(group))
	for i, b := range group {
		msgs[i] = ipv4.Message{Buffers: [][]byte{b}, Addr: dst}
	}

	written := 0
	for written < len(msgs) {
		if s.cfg.WriteTimeout > 0 {
			s.conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
		}
		n, err := s.pconn.WriteBatch(msgs[written:], 0)
		written += n
		if err != nil {
			return written, err
		}
		if n == 0 {
			return written, io.ErrShortWrite
		}
	}
	return written, nil
}

func totalLen(bufs [][]byte) int {
	n := 0
	for _, b := range bufs {
		n += len(b)
	}
	return n
}

// errorReason maps a send error to a metrics label.
func errorReason(err error) string {
	switch {
	case errors.Is(err, context.Canceled):
		return "canceled"
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, os.ErrDeadlineExceeded):
		return "timeout"
	case errors.Is(err, net.ErrClosed):
		return "closed"
	default:
		return "write"
	}
}

package udp

import (
	"context"
	"errors"
	"fmt"
	"net/netip"
	"os"
	"time"

	"github.com/postalsys/anchor/internal/logging"
)

// pollInterval bounds each blocking read so cancellation is noticed promptly.
const pollInterval = 250 * time.Millisecond

// Stream is one reassembled buffer.
type Stream struct {
	From    netip.AddrPort // sender of the first datagram
	Data    []byte
	Chunks  int // data datagrams, terminator excluded
	Dropped int // datagrams from other senders discarded meanwhile
}

// ReceiveStream reads datagrams and concatenates their payloads in arrival
// order until the first zero-length datagram. The sender of the first
// datagram owns the stream; datagrams from anyone else are discarded.
//
// maxSize > 0 limits the reassembled size. Config.IdleTimeout, when set,
// limits the silence between two datagrams once a stream has started.
func (s *Socket) ReceiveStream(ctx context.Context, maxSize int) (*Stream, error) {
	s.recvMu.Lock()
	defer s.recvMu.Unlock()

	if s.closed.Load() {
		return nil, ErrClosed
	}

	buf := make([]byte, 1<<16)
	var st *Stream
	var lastActivity time.Time

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		deadline := time.Now().Add(pollInterval)
		if st != nil && s.cfg.IdleTimeout > 0 {
			if idle := lastActivity.Add(s.cfg.IdleTimeout); idle.Before(deadline) {
				deadline = idle
			}
		}
		s.conn.SetReadDeadline(deadline)

		n, from, err := s.conn.ReadFromUDPAddrPort(buf)
		if err != nil {
			if errors.Is(err, os.ErrDeadlineExceeded) {
				if st != nil && s.cfg.IdleTimeout > 0 && time.Since(lastActivity) >= s.cfg.IdleTimeout {
					return nil, fmt.Errorf("%w after %d bytes from %s", ErrIdleTimeout, len(st.Data), st.From)
				}
				continue
			}
			if s.closed.Load() {
				return nil, ErrClosed
			}
			return nil, fmt.Errorf("read: %w", err)
		}

		from = unmap(from)
		if st == nil {
			st = &Stream{From: from}
		} else if from != st.From {
			st.Dropped++
			continue
		}
		lastActivity = time.Now()

		if n == 0 {
			if s.metrics != nil {
				s.metrics.RecordStreamReceived(len(st.Data), st.Dropped)
			}
			s.logger.Debug("stream received",
				logging.KeyRemoteAddr, st.From.String(),
				logging.KeyChunks, st.Chunks,
				logging.KeyBytes, len(st.Data))
			return st, nil
		}

		if maxSize > 0 && len(st.Data)+n > maxSize {
			return nil, fmt.Errorf("%w: more than %d bytes from %s", ErrStreamTooLarge, maxSize, st.From)
		}
		st.Data = append(st.Data, buf[:n]...)
		st.Chunks++
	}
}

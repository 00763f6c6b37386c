package udp

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidAddress is returned for anything that is not an IPv4 dotted quad.
	ErrInvalidAddress = errors.New("invalid IPv4 address")

	// ErrBind is returned when the socket cannot be bound to the local endpoint.
	ErrBind = errors.New("bind failed")

	// ErrClosed is returned by operations on a closed Socket.
	ErrClosed = errors.New("socket closed")

	// ErrStreamTooLarge is returned when a received stream exceeds the size limit.
	ErrStreamTooLarge = errors.New("stream exceeds size limit")

	// ErrIdleTimeout is returned when no datagram arrives within Config.IdleTimeout
	// in the middle of a stream.
	ErrIdleTimeout = errors.New("stream idle timeout")
)

// SendError describes a stream that was aborted part way through.
type SendError struct {
	// Chunk is the index of the datagram that failed. It equals Chunks when the
	// terminator itself could not be sent.
	Chunk int

	// Chunks is the number of data datagrams the stream needed.
	Chunks int

	// Sent is the number of payload bytes handed to the kernel before the failure.
	Sent int

	Err error
}

func (e *SendError) Error() string {
	if e.Terminator() {
		return fmt.Sprintf("send terminator after %d bytes: %v", e.Sent, e.Err)
	}
	return fmt.Sprintf("send chunk %d/%d after %d bytes: %v", e.Chunk+1, e.Chunks, e.Sent, e.Err)
}

func (e *SendError) Unwrap() error {
	return e.Err
}

// Terminator reports whether every data chunk went out and only the end
// marker failed.
func (e *SendError) Terminator() bool {
	return e.Chunk >= e.Chunks
}

package udp

import "time"

// MaxChunkSize is the largest UDP payload that fits an IPv4 datagram:
// 65535 minus the 8 byte UDP header and the 20 byte IPv4 header.
const MaxChunkSize = 65507

// Config holds per-socket tuning. None of the options change the sequence of
// datagrams on the wire.
type Config struct {
	// MaxChunkSize is the payload size of every data datagram except the last.
	// Values <= 0 or above MaxChunkSize are clamped to MaxChunkSize.
	MaxChunkSize int

	// ReuseAddr sets SO_REUSEADDR before bind so a restarted process can
	// rebind its port immediately.
	ReuseAddr bool

	// BytesPerSecond paces SendStream with a token bucket.
	// 0 means unlimited.
	BytesPerSecond int64

	// BatchSize is the number of datagrams handed to the kernel per syscall
	// (sendmmsg on Linux). 1 sends each datagram individually.
	BatchSize int

	// WriteTimeout bounds each send syscall. 0 means no deadline.
	WriteTimeout time.Duration

	// IdleTimeout bounds the gap between datagrams in ReceiveStream.
	// 0 means wait forever.
	IdleTimeout time.Duration

	// TTL and TOS set the IPv4 header fields of outgoing datagrams.
	// 0 keeps the system default.
	TTL int
	TOS int
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		MaxChunkSize: MaxChunkSize,
		ReuseAddr:    true,
		BatchSize:    1,
	}
}

// chunkSize returns the effective chunk size.
func (c *Config) chunkSize() int {
	if c.MaxChunkSize <= 0 || c.MaxChunkSize > MaxChunkSize {
		return MaxChunkSize
	}
	return c.MaxChunkSize
}

// batchSize returns the effective batch size.
func (c *Config) batchSize() int {
	if c.BatchSize < 1 {
		return 1
	}
	return c.BatchSize
}

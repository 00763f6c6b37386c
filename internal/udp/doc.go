// Package udp implements the anchor data plane: a bound UDP socket that sends
// arbitrary-length buffers as a stream of datagrams.
//
// # Wire format
//
// A stream is an ordered sequence of datagrams sent to a single destination.
// Every datagram but the last carries up to MaxChunkSize bytes of raw payload in
// original order. The last datagram is zero bytes long and marks the end of the
// stream. There is no header, sequence number or checksum beyond what UDP
// provides; receivers rebuild the buffer from arrival order, so the protocol
// assumes an ordered, low-loss local network.
//
// # Lifecycle
//
//  1. Open binds a socket to a local IPv4 address and port (SO_REUSEADDR on)
//  2. SendStream fragments a buffer and sends chunks followed by the terminator
//  3. Close releases the socket; further calls return ErrClosed
//
// # Send errors
//
// SendStream fails fast. The first chunk that cannot be handed to the kernel
// aborts the stream and the terminator is not sent, so a receiver never sees a
// truncated buffer reported as complete. The returned *SendError records how
// far the stream got.
//
// # Thread Safety
//
// All exported methods are safe for concurrent use. Concurrent SendStream calls
// on one Socket are serialized, so chunks of two streams never interleave.
package udp

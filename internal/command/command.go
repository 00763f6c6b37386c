// Package command implements the anchor command channel: a TCP listener that
// accepts fixed four-byte commands from a host and turns them into streaming
// requests for the data plane.
//
// # Commands
//
//	ping   reply "ping"
//	blen   reply with the buffer length in samples (decimal)
//	rate   reply with the sample rate (decimal)
//	data   stream buffers to the host until told to stop
//	stop   stop streaming
//	NNNN   four ASCII digits: stream exactly NNNN buffers
//	halt   power the device off (when allowed)
//	boot   reboot the device (when allowed)
//
// Anything else closes the connection. Streams go to the host's IP address on
// the command connection's source port plus a configured offset.
package command

import (
	"fmt"
	"net/netip"
	"strconv"
)

// Size is the length of every command on the wire.
const Size = 4

// Command words.
const (
	CmdPing   = "ping"
	CmdBufLen = "blen"
	CmdRate   = "rate"
	CmdData   = "data"
	CmdStop   = "stop"
	CmdHalt   = "halt"
	CmdBoot   = "boot"
)

// Replies sent for power commands.
const (
	ReplyDeny = "deny"
	ReplyFail = "fail"
)

// Forever is the Request count for open-ended streaming.
const Forever = -1

// Request asks the streamer to send Count buffers to Target. Count 0 stops
// streaming and Forever streams until the next request.
type Request struct {
	Target netip.AddrPort
	Count  int
}

// String returns a human-readable form of the request.
func (r Request) String() string {
	switch {
	case r.Count == 0:
		return fmt.Sprintf("stop %s", r.Target)
	case r.Count < 0:
		return fmt.Sprintf("stream to %s", r.Target)
	default:
		return fmt.Sprintf("send %d to %s", r.Count, r.Target)
	}
}

// ParseCount parses a four-digit batch count command.
func ParseCount(cmd string) (int, bool) {
	if len(cmd) != Size {
		return 0, false
	}
	for i := 0; i < len(cmd); i++ {
		if cmd[i] < '0' || cmd[i] > '9' {
			return 0, false
		}
	}
	n, err := strconv.Atoi(cmd)
	return n, err == nil
}

// FormatCount renders a batch count as a command.
func FormatCount(n int) (string, error) {
	if n < 0 || n > 9999 {
		return "", fmt.Errorf("count %d out of range 0-9999", n)
	}
	return fmt.Sprintf("%04d", n), nil
}

// ExpectsReply reports whether the daemon answers cmd.
func ExpectsReply(cmd string) bool {
	switch cmd {
	case CmdPing, CmdBufLen, CmdRate, CmdHalt, CmdBoot:
		return true
	default:
		return false
	}
}

// Target derives the data destination from the command peer.
func Target(peer netip.AddrPort, offset int) (netip.AddrPort, error) {
	addr := peer.Addr().Unmap()
	if !addr.Is4() {
		return netip.AddrPort{}, fmt.Errorf("peer %s is not IPv4", peer)
	}
	port := int(peer.Port()) + offset
	if port < 1 || port > 65535 {
		return netip.AddrPort{}, fmt.Errorf("data port %d out of range for peer %s", port, peer)
	}
	return netip.AddrPortFrom(addr, uint16(port)), nil
}

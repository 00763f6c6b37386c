package command

import (
	"context"
	"fmt"
	"net"
	"time"
)

// maxReply bounds a single reply read; replies are short decimal strings or words.
const maxReply = 64

// Client talks to a command server.
type Client struct {
	conn    net.Conn
	timeout time.Duration
}

// Dial connects to the command server at addr.
func Dial(ctx context.Context, addr string) (*Client, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	return &Client{conn: conn, timeout: 10 * time.Second}, nil
}

// SetTimeout sets the per-command I/O timeout. Zero disables it.
func (c *Client) SetTimeout(d time.Duration) {
	c.timeout = d
}

// LocalAddr returns the client's local address. The server streams data to
// this address's port plus its configured offset.
func (c *Client) LocalAddr() net.Addr {
	return c.conn.LocalAddr()
}

// Do sends cmd and returns the reply for commands that have one.
func (c *Client) Do(cmd string) (string, error) {
	if len(cmd) != Size {
		return "", fmt.Errorf("command %q must be %d bytes", cmd, Size)
	}

	if c.timeout > 0 {
		c.conn.SetDeadline(time.Now().Add(c.timeout))
		defer c.conn.SetDeadline(time.Time{})
	}

	if _, err := c.conn.Write([]byte(cmd)); err != nil {
		return "", fmt.Errorf("send %s: %w", cmd, err)
	}
	if !ExpectsReply(cmd) {
		return "", nil
	}

	buf := make([]byte, maxReply)
	n, err := c.conn.Read(buf)
	if err != nil {
		return "", fmt.Errorf("read reply to %s: %w", cmd, err)
	}
	return string(buf[:n]), nil
}

// Close closes the connection.
func (c *Client) Close() error {
	return c.conn.Close()
}
